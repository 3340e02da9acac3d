package insert

import (
	"go/ast"
	"go/types"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/go-analyze/bulk"
)

// ImportSpec is an import a target file must carry for generated source to resolve.
type ImportSpec struct {
	// Name is the package name referenced from source.
	Name string
	// Path is the import path.
	Path string
}

// localName returns the name to declare the import with, empty when it matches the path.
func (s ImportSpec) localName() string {
	if s.Name == "" || s.Name == path.Base(s.Path) {
		return ""
	}
	return s.Name
}

// typeResolver converts type expressions of a parsed file into TypeRef values.
type typeResolver struct {
	// pkgPath names types declared in the file's own package, the import path when known.
	pkgPath string
	// qualifier is prepended to package local type names, empty to keep them unqualified.
	qualifier string
	// imports maps a file's import names to their path.
	imports map[string]string
	// used collects the imports referenced by resolved types.
	used map[string]ImportSpec
}

func newTypeResolver(file *ast.File, pkgPath, qualifier string) *typeResolver {
	r := &typeResolver{
		pkgPath:   pkgPath,
		qualifier: qualifier,
		imports:   make(map[string]string, len(file.Imports)),
		used:      make(map[string]ImportSpec),
	}
	for _, imp := range file.Imports {
		p, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			continue
		}
		name := path.Base(p)
		if imp.Name != nil {
			name = imp.Name.Name
		}
		r.imports[name] = p
	}
	return r
}

func isBasicTypeName(name string) bool {
	obj, ok := types.Universe.Lookup(name).(*types.TypeName)
	if !ok {
		return false
	}
	_, basic := obj.Type().(*types.Basic)
	return basic
}

// ref resolves a single type expression.
func (r *typeResolver) ref(expr ast.Expr) TypeRef {
	switch e := expr.(type) {
	case *ast.Ident:
		if isBasicTypeName(e.Name) {
			return TypeRef{Kind: KindBasic, Name: e.Name}
		} else if types.Universe.Lookup(e.Name) != nil {
			return TypeRef{Kind: KindNamed, Name: e.Name} // error, any, comparable
		}
		t := TypeRef{Kind: KindNamed, Name: r.pkgPath + "." + e.Name}
		if r.qualifier != "" {
			t.Expr = r.qualifier + "." + e.Name
		} else {
			t.Expr = e.Name
		}
		return t
	case *ast.SelectorExpr:
		t := TypeRef{Kind: KindNamed, Expr: types.ExprString(e), Name: types.ExprString(e)}
		if pkg, ok := e.X.(*ast.Ident); ok {
			if p, found := r.imports[pkg.Name]; found {
				t.Name = p + "." + e.Sel.Name
				r.used[p] = ImportSpec{Name: pkg.Name, Path: p}
			}
		}
		return t
	case *ast.StarExpr:
		elem := r.ref(e.X)
		return TypeRef{Kind: KindPointer, Name: "*" + elem.Name, Expr: "*" + elem.SourceExpr(), Elem: &elem}
	case *ast.Ellipsis:
		elem := r.ref(e.Elt)
		return TypeRef{Kind: KindArray, Name: "[]" + elem.Name, Expr: "[]" + elem.SourceExpr(), Elem: &elem, Variadic: true}
	case *ast.ArrayType:
		elem := r.ref(e.Elt)
		if e.Len == nil {
			return TypeRef{Kind: KindArray, Name: "[]" + elem.Name, Expr: "[]" + elem.SourceExpr(), Elem: &elem}
		}
		// fixed size arrays are copied by value, they can not serve as a cell
		prefix := "[" + types.ExprString(e.Len) + "]"
		return TypeRef{Kind: KindNamed, Name: prefix + elem.Name, Expr: prefix + elem.SourceExpr()}
	case *ast.ParenExpr:
		return r.ref(e.X)
	default:
		src := types.ExprString(expr)
		return TypeRef{Kind: KindNamed, Name: src}
	}
}

// results resolves a function result list.
func (r *typeResolver) results(fields *ast.FieldList) TypeRef {
	if fields == nil || fields.NumFields() == 0 {
		return Void
	} else if fields.NumFields() == 1 {
		return r.ref(fields.List[0].Type)
	}
	parts := make([]string, 0, fields.NumFields())
	for _, f := range fields.List {
		t := r.ref(f.Type)
		for range max(1, len(f.Names)) {
			parts = append(parts, t.SourceExpr())
		}
	}
	s := "(" + strings.Join(parts, ", ") + ")"
	return TypeRef{Kind: KindTuple, Name: s}
}

// usedImports returns the imports referenced by the types resolved so far.
func (r *typeResolver) usedImports() []ImportSpec {
	out := bulk.MapValuesSlice(r.used)
	slices.SortFunc(out, func(a, b ImportSpec) int {
		return strings.Compare(a.Path, b.Path)
	})
	return out
}
