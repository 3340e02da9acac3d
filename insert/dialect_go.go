package insert

import (
	"bytes"
	"fmt"
	"go/ast"
	"go/format"
	"go/parser"
	"go/token"
)

// EarlyReturnType is the early-return sentinel of the go dialect.
const EarlyReturnType = "github.com/PatchLens/go-insert-patch/early.Return"

const (
	syntheticNameReturn = "__ret"
	methodIsPresent     = "IsPresent"
	methodGet           = "Get"
)

// GoDialect renders fragments as a Go block statement to be spliced into a function body.
// Locals are exchanged through pointer cells (*T) or single element slices ([]T).
type GoDialect struct {
	// SentinelType overrides EarlyReturnType.
	SentinelType string
}

func (d GoDialect) Name() string {
	return "go"
}

func (d GoDialect) Sentinel() string {
	if d.SentinelType != "" {
		return d.SentinelType
	}
	return EarlyReturnType
}

func (d GoDialect) Render(target TargetMethod, f *Fragment, namer TypeNamer) (string, error) {
	block, err := d.buildBlock(target, f, namer)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := format.Node(&buf, token.NewFileSet(), block); err != nil {
		return "", fmt.Errorf("format fragment failure: %w", err)
	}
	return buf.String(), nil
}

func (d GoDialect) buildBlock(target TargetMethod, f *Fragment, namer TypeNamer) (*ast.BlockStmt, error) {
	block := &ast.BlockStmt{List: make([]ast.Stmt, 0, len(f.Stmts))}
	for _, st := range f.Stmts {
		switch s := st.(type) {
		case CellDecl:
			stmt, err := goCellDecl(s.Local)
			if err != nil {
				return nil, err
			}
			block.List = append(block.List, stmt)
		case PatchCall:
			call, err := goPatchCall(target, s)
			if err != nil {
				return nil, err
			}
			if s.Bind {
				block.List = append(block.List, &ast.AssignStmt{
					Lhs: []ast.Expr{ast.NewIdent(resultHolderName)},
					Tok: token.DEFINE,
					Rhs: []ast.Expr{call},
				})
			} else {
				block.List = append(block.List, &ast.ExprStmt{X: call})
			}
		case WriteBack:
			stmt, err := goWriteBack(s.Local, namer)
			if err != nil {
				return nil, err
			}
			block.List = append(block.List, stmt)
		case EarlyReturn:
			stmt, err := goEarlyReturn(s.Result)
			if err != nil {
				return nil, err
			}
			block.List = append(block.List, stmt)
		default:
			return nil, fmt.Errorf("unhandled fragment statement %T", st)
		}
	}
	return block, nil
}

func parseTypeExpr(typ string) (ast.Expr, error) {
	expr, err := parser.ParseExpr(typ)
	if err != nil {
		return nil, fmt.Errorf("invalid type expression %q: %w", typ, err)
	}
	return expr, nil
}

// goCellDecl builds either `__x := &x` or `__x := []T{x}`.
func goCellDecl(l CapturedLocal) (ast.Stmt, error) {
	var rhs ast.Expr
	if l.CellType.Kind == KindPointer {
		rhs = &ast.UnaryExpr{Op: token.AND, X: ast.NewIdent(l.Name)}
	} else {
		typ, err := parseTypeExpr(l.CellType.SourceExpr())
		if err != nil {
			return nil, err
		}
		rhs = &ast.CompositeLit{Type: typ, Elts: []ast.Expr{ast.NewIdent(l.Name)}}
	}
	return &ast.AssignStmt{
		Lhs: []ast.Expr{ast.NewIdent(CellName(l.Name))},
		Tok: token.DEFINE,
		Rhs: []ast.Expr{rhs},
	}, nil
}

func goPatchCall(target TargetMethod, s PatchCall) (*ast.CallExpr, error) {
	named, ok := target.(NamedTarget)
	if !ok {
		return nil, fmt.Errorf("%w: go dialect requires named receiver and parameters", ErrUnsupportedTarget)
	}
	call := &ast.CallExpr{Fun: ast.NewIdent(s.Name)}
	if s.Qualifier != "" {
		call.Fun = &ast.SelectorExpr{X: ast.NewIdent(s.Qualifier), Sel: ast.NewIdent(s.Name)}
	}
	if s.Receiver {
		recv := named.ReceiverName()
		if recv == "" || recv == "_" {
			return nil, fmt.Errorf("%w: unnamed receiver", ErrUnsupportedTarget)
		}
		call.Args = append(call.Args, ast.NewIdent(recv))
	}
	for i, name := range named.ParameterNames() {
		if name == "" || name == "_" {
			return nil, fmt.Errorf("%w: parameter %d is unnamed", ErrUnsupportedTarget, i)
		}
		call.Args = append(call.Args, ast.NewIdent(name))
	}
	if s.Spread && len(s.Args) == 0 {
		call.Ellipsis = 1 // any valid position prints the call as f(xs...)
	}
	for _, arg := range s.Args {
		if arg.Cell {
			call.Args = append(call.Args, ast.NewIdent(CellName(arg.Name)))
		} else {
			call.Args = append(call.Args, ast.NewIdent(arg.Name))
		}
	}
	return call, nil
}

// goWriteBack builds `x = *__x` or `x = __x[0]`, converted through the explicit type name when set.
func goWriteBack(l CapturedLocal, namer TypeNamer) (ast.Stmt, error) {
	var val ast.Expr
	if l.CellType.Kind == KindPointer {
		val = &ast.StarExpr{X: ast.NewIdent(CellName(l.Name))}
	} else {
		val = &ast.IndexExpr{
			X:     ast.NewIdent(CellName(l.Name)),
			Index: &ast.BasicLit{Kind: token.INT, Value: "0"},
		}
	}
	if l.TypeName != "" {
		typ, err := parseTypeExpr(namer.TypeName(l.TypeName))
		if err != nil {
			return nil, err
		}
		if _, isStar := typ.(*ast.StarExpr); isStar {
			typ = &ast.ParenExpr{X: typ}
		}
		val = &ast.CallExpr{Fun: typ, Args: []ast.Expr{val}}
	}
	return &ast.AssignStmt{
		Lhs: []ast.Expr{ast.NewIdent(l.Name)},
		Tok: token.ASSIGN,
		Rhs: []ast.Expr{val},
	}, nil
}

// goEarlyReturn builds the conditional return. Basic results are asserted directly, other results
// use the two value assertion so a nil held value returns the zero value.
func goEarlyReturn(result TypeRef) (ast.Stmt, error) {
	holder := func(method string) *ast.CallExpr {
		return &ast.CallExpr{Fun: &ast.SelectorExpr{X: ast.NewIdent(resultHolderName), Sel: ast.NewIdent(method)}}
	}
	body := &ast.BlockStmt{}
	switch {
	case result.IsVoid():
		body.List = []ast.Stmt{&ast.ReturnStmt{}}
	case result.Kind == KindTuple:
		return nil, fmt.Errorf("%w: early return into multi-value result %s", ErrUnsupportedTarget, result)
	default:
		typ, err := parseTypeExpr(result.SourceExpr())
		if err != nil {
			return nil, err
		}
		assert := &ast.TypeAssertExpr{X: holder(methodGet), Type: typ}
		if result.IsPrimitive() {
			body.List = []ast.Stmt{&ast.ReturnStmt{Results: []ast.Expr{assert}}}
		} else {
			body.List = []ast.Stmt{
				&ast.AssignStmt{
					Lhs: []ast.Expr{ast.NewIdent(syntheticNameReturn), ast.NewIdent("_")},
					Tok: token.DEFINE,
					Rhs: []ast.Expr{assert},
				},
				&ast.ReturnStmt{Results: []ast.Expr{ast.NewIdent(syntheticNameReturn)}},
			}
		}
	}
	return &ast.IfStmt{Cond: holder(methodIsPresent), Body: body}, nil
}
