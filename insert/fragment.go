package insert

import (
	"strings"
)

const (
	// resultHolderName is the identifier binding an early-return patch result.
	resultHolderName = "opt"
	// cellNamePrefix prefixes the identifier of the cell wrapping a captured local.
	cellNamePrefix = "__"
)

// CellName returns the identifier used for the cell wrapping the named local.
func CellName(local string) string {
	return cellNamePrefix + local
}

// Stmt is a single statement of a Fragment.
type Stmt interface {
	fragmentStmt()
}

// CellDecl declares a cell initialized from the current value of a by-ref local.
type CellDecl struct {
	Local CapturedLocal
}

// CallArg is a trailing argument of the patch invocation.
type CallArg struct {
	// Name is the local identifier.
	Name string
	// Cell passes the local's cell rather than its value.
	Cell bool
}

// PatchCall invokes the patch function.
type PatchCall struct {
	// Qualifier references the declaring type or package, empty for an unqualified call.
	Qualifier string
	// Name is the patch function name.
	Name string
	// Receiver passes the target receiver as the first argument.
	Receiver bool
	// Args are the captured locals passed after the forwarded parameters.
	Args []CallArg
	// Spread passes the last forwarded parameter as a variadic argument list (xs...).
	Spread bool
	// Bind assigns the result to the early-return holder.
	Bind bool
	// ResultType is the patch's declared result.
	ResultType TypeRef
}

// WriteBack assigns a by-ref local from its cell after the call.
type WriteBack struct {
	Local CapturedLocal
}

// EarlyReturn returns from the target when the patch result holder is present.
type EarlyReturn struct {
	// Result is the target's declared result type.
	Result TypeRef
}

func (CellDecl) fragmentStmt()    {}
func (PatchCall) fragmentStmt()   {}
func (WriteBack) fragmentStmt()   {}
func (EarlyReturn) fragmentStmt() {}

// Fragment is the generated code inserted at a single point. It is independent of the offset it is inserted at.
type Fragment struct {
	Stmts []Stmt
}

// Synthesize builds the fragment invoking patch from target.
func Synthesize(target TargetMethod, patch PatchMethod, rec Reconciled) *Fragment {
	locals := rec.ByRefLocals()
	f := &Fragment{Stmts: make([]Stmt, 0, 2*len(locals)+2)}
	for _, l := range locals {
		f.Stmts = append(f.Stmts, CellDecl{Local: l})
	}

	call := PatchCall{
		Qualifier:  patch.DeclaringType(),
		Name:       patch.Name(),
		Receiver:   !target.IsStatic(),
		Bind:       rec.EarlyReturn,
		ResultType: patch.ReturnType(),
	}
	for _, l := range rec.Locals {
		call.Args = append(call.Args, CallArg{Name: l.Name, Cell: l.ByRef})
	}
	call.Spread = len(rec.Locals) == 0 && spreadsVariadic(target, patch, rec.InsertStartIndex)
	f.Stmts = append(f.Stmts, call)

	for _, l := range locals {
		f.Stmts = append(f.Stmts, WriteBack{Local: l})
	}
	if rec.EarlyReturn {
		f.Stmts = append(f.Stmts, EarlyReturn{Result: target.ReturnType()})
	}
	return f
}

// spreadsVariadic reports if the target's final variadic parameter lands on the patch's own final
// variadic parameter, in which case it must be forwarded as xs... to keep its type.
func spreadsVariadic(target TargetMethod, patch PatchMethod, startIndex int) bool {
	targetParams, patchParams := target.ParameterTypes(), patch.Parameters()
	if len(targetParams) == 0 || len(patchParams) != startIndex {
		return false
	}
	return targetParams[len(targetParams)-1].Variadic && patchParams[len(patchParams)-1].Type.Variadic
}

// TypeNamer decides how an explicitly named type is written in generated source.
type TypeNamer interface {
	TypeName(name string) string
}

// ShortNamer writes type names as declared, relying on the target's imports to resolve them.
type ShortNamer struct{}

func (ShortNamer) TypeName(name string) string {
	return name
}

// PrefixNamer qualifies type names under a fixed package prefix.
type PrefixNamer struct {
	Prefix string
}

func (n PrefixNamer) TypeName(name string) string {
	return n.Prefix + name
}

// Dialect lowers a Fragment into source a specific host compiler accepts.
type Dialect interface {
	// Name identifies the dialect.
	Name() string
	// Sentinel returns the patch result type name that marks an early-return patch.
	Sentinel() string
	// Render lowers the fragment using namer for explicit type names.
	Render(target TargetMethod, f *Fragment, namer TypeNamer) (string, error)
}

// DefaultQualifier is implemented by dialects whose fallback source has a qualification when none is configured.
type DefaultQualifier interface {
	DefaultQualifyPrefix() string
}

// Lower renders both source variants of a fragment: primary with short type names, fallback qualified by prefix.
func Lower(d Dialect, target TargetMethod, f *Fragment, prefix string) (primary, fallback string, err error) {
	primary, err = d.Render(target, f, ShortNamer{})
	if err != nil {
		return "", "", err
	}
	fallback, err = d.Render(target, f, PrefixNamer{Prefix: prefix})
	if err != nil {
		return "", "", err
	}
	return primary, fallback, nil
}

// boxedTypeName returns the wrapper class name for a primitive type name.
func boxedTypeName(primitive string) string {
	switch primitive {
	case "int":
		return "Integer"
	case "char":
		return "Character"
	case "":
		return ""
	default:
		return strings.ToUpper(primitive[:1]) + primitive[1:]
	}
}
