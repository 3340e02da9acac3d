package insert

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/mod/modfile"
)

const (
	directivePrefix    = "//inspatch:"
	directiveByRef     = "byref"
	directiveLocalVars = "localvars"
	directiveLoc       = "loc"
	directiveRelLoc    = "rloc"
)

// PatchFunc is a Go function loaded to be invoked from a FuncTarget. Its parameters carry the by-ref
// annotations declared through directives in the function's doc comment:
//
//	//inspatch:byref total=Score
//	//inspatch:localvars total
//	//inspatch:rloc 3
type PatchFunc struct {
	// FilePath is the absolute path of the declaring file.
	FilePath string
	// PackageName is the declaring package.
	PackageName string
	// ImportPath of the declaring package, empty when unqualified.
	ImportPath string
	// FuncName is the patch function name.
	FuncName string
	// Qualifier references the patch from the target, empty when both share a package.
	Qualifier string
	// LocalVars are the declared target locals.
	LocalVars []string
	// Lines are declared absolute insertion lines.
	Lines []int
	// RelativeLines are declared insertion lines relative to the target start.
	RelativeLines []int
	// Imports are required by a target invoking this patch.
	Imports []ImportSpec

	params []PatchParameter
	result TypeRef
}

func (p *PatchFunc) Parameters() []PatchParameter {
	return p.params
}

func (p *PatchFunc) ReturnType() TypeRef {
	return p.result
}

func (p *PatchFunc) DeclaringType() string {
	return p.Qualifier
}

func (p *PatchFunc) Name() string {
	return p.FuncName
}

// LoadPatchFunc parses the named top level function from filePath. When qualified, the patch is
// referenced from a different package: package local types are qualified and the import path of the
// patch package is resolved from the enclosing go.mod.
func LoadPatchFunc(filePath, funcName string, qualified bool) (*PatchFunc, error) {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, absPath, nil, parser.ParseComments)
	if err != nil {
		return nil, fmt.Errorf("ast parse failure %s: %w", absPath, err)
	}
	var decl *ast.FuncDecl
	for _, d := range file.Decls {
		if fd, ok := d.(*ast.FuncDecl); ok && fd.Recv == nil && fd.Name.Name == funcName {
			decl = fd
			break
		}
	}
	if decl == nil {
		return nil, fmt.Errorf("patch function %s not found in %s", funcName, absPath)
	}

	p := &PatchFunc{
		FilePath:    absPath,
		PackageName: file.Name.Name,
		FuncName:    funcName,
	}
	pkgPath := p.PackageName
	var qualifier string
	if qualified {
		if p.ImportPath, err = packageImportPath(filepath.Dir(absPath)); err != nil {
			return nil, err
		}
		pkgPath = p.ImportPath
		qualifier = p.PackageName
		p.Qualifier = p.PackageName
	}

	res := newTypeResolver(file, pkgPath, qualifier)
	for _, field := range decl.Type.Params.List {
		typ := res.ref(field.Type)
		if len(field.Names) == 0 {
			p.params = append(p.params, PatchParameter{Type: typ})
		}
		for _, n := range field.Names {
			p.params = append(p.params, PatchParameter{Name: n.Name, Type: typ})
		}
	}
	p.result = res.results(decl.Type.Results)
	if err := p.applyDirectives(decl.Doc); err != nil {
		return nil, fmt.Errorf("patch function %s: %w", funcName, err)
	}
	p.Imports = res.usedImports()
	if qualified {
		p.Imports = append(p.Imports, ImportSpec{Name: p.PackageName, Path: p.ImportPath})
	}
	return p, nil
}

func (p *PatchFunc) applyDirectives(doc *ast.CommentGroup) error {
	if doc == nil {
		return nil
	}
	for _, c := range doc.List {
		directive, ok := strings.CutPrefix(c.Text, directivePrefix)
		if !ok {
			continue
		}
		name, args, _ := strings.Cut(strings.TrimSpace(directive), " ")
		args = strings.TrimSpace(args)
		switch name {
		case directiveByRef:
			for _, arg := range splitList(args) {
				paramName, typeName, _ := strings.Cut(arg, "=")
				found := false
				for i := range p.params {
					if p.params[i].Name == paramName {
						p.params[i].ByRef = true
						p.params[i].TypeName = typeName
						found = true
					}
				}
				if !found {
					return fmt.Errorf("byref parameter %q not declared", paramName)
				}
			}
		case directiveLocalVars:
			p.LocalVars = append(p.LocalVars, splitList(args)...)
		case directiveLoc, directiveRelLoc:
			for _, arg := range splitList(args) {
				line, err := strconv.Atoi(arg)
				if err != nil {
					return fmt.Errorf("invalid %s line %q: %w", name, arg, err)
				} else if name == directiveLoc {
					p.Lines = append(p.Lines, line)
				} else {
					p.RelativeLines = append(p.RelativeLines, line)
				}
			}
		default:
			return fmt.Errorf("unknown directive %s%s", directivePrefix, name)
		}
	}
	return nil
}

func splitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
}

// packageImportPath resolves the import path of dir from the nearest enclosing go.mod.
func packageImportPath(dir string) (string, error) {
	for modDir := dir; ; {
		modPath := filepath.Join(modDir, "go.mod")
		if data, err := os.ReadFile(modPath); err == nil {
			mod := modfile.ModulePath(data)
			if mod == "" {
				return "", fmt.Errorf("no module directive in %s", modPath)
			}
			rel, err := filepath.Rel(modDir, dir)
			if err != nil {
				return "", err
			} else if rel == "." {
				return mod, nil
			}
			return path.Join(mod, filepath.ToSlash(rel)), nil
		} else if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(modDir)
		if parent == modDir {
			return "", fmt.Errorf("no go.mod found for %s", dir)
		}
		modDir = parent
	}
}
