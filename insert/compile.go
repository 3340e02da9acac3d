package insert

import (
	"fmt"
	"go/ast"
	"go/build"
	"go/importer"
	"go/parser"
	"go/token"
	"go/types"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/tools/go/packages"
)

// Compiler type checks the package containing a file after an insertion.
type Compiler interface {
	// Check returns the diagnostics of the package declaring filename. Overlay replaces file
	// contents by absolute path. An error is returned only when the check itself could not run.
	Check(filename string, overlay map[string][]byte) ([]string, error)
}

// PackagesCompiler checks through the go command, resolving imports the way a build would.
type PackagesCompiler struct {
	// Env is merged over the process environment (see GoEnv).
	Env []string
	// BuildFlags are passed to the underlying go list invocation.
	BuildFlags []string
}

func (c PackagesCompiler) Check(filename string, overlay map[string][]byte) ([]string, error) {
	cfg := &packages.Config{
		Mode:       packages.NeedName | packages.NeedFiles | packages.NeedSyntax | packages.NeedTypes | packages.NeedTypesInfo,
		Dir:        filepath.Dir(filename),
		Env:        mergeSafeEnv(c.Env),
		BuildFlags: c.BuildFlags,
		Overlay:    overlay,
	}
	pkgs, err := packages.Load(cfg, "file="+filename)
	if err != nil {
		return nil, fmt.Errorf("package load failure %s: %w", filename, err)
	} else if len(pkgs) == 0 {
		return nil, fmt.Errorf("no package found for %s", filename)
	}
	var msgs []string
	for _, pkg := range pkgs {
		for _, e := range pkg.Errors {
			msgs = append(msgs, e.Error())
		}
	}
	return msgs, nil
}

// TypesCompiler checks the files of the target's directory with go/types, type checking imports from source.
type TypesCompiler struct{}

func (TypesCompiler) Check(filename string, overlay map[string][]byte) ([]string, error) {
	dir := filepath.Dir(filename)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	filter := makeFileFilter(dir)
	var target *ast.File
	var files []*ast.File
	var msgs []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || !filter(info) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		var src any // nil reads from disk
		if b, ok := overlay[path]; ok {
			src = b
		}
		f, err := parser.ParseFile(fset, path, src, 0)
		if err != nil {
			msgs = append(msgs, scannerMessages(err)...)
			continue
		}
		if path == filename {
			target = f
		}
		files = append(files, f)
	}
	if len(msgs) > 0 {
		return msgs, nil
	} else if target == nil {
		return nil, fmt.Errorf("%s is not a buildable file of %s", filename, dir)
	}

	pkgFiles := files[:0]
	for _, f := range files {
		if f.Name.Name == target.Name.Name {
			pkgFiles = append(pkgFiles, f)
		}
	}
	cfg := &types.Config{
		Importer: importer.ForCompiler(fset, "source", nil), // resolves module local and third-party imports
		Error: func(err error) {
			msgs = append(msgs, err.Error())
		},
	}
	_, _ = cfg.Check(target.Name.Name, fset, pkgFiles, nil) // failures are collected through Error
	return msgs, nil
}

func makeFileFilter(dir string) func(fi fs.FileInfo) bool {
	return func(fi fs.FileInfo) bool {
		name := fi.Name()
		// ignore tests files, they may be in a different pkg
		if strings.HasSuffix(name, "_test.go") || !strings.HasSuffix(name, ".go") {
			return false
		}
		// drop any file that the default go/build would ignore
		match, err := build.Default.MatchFile(dir, name)
		return err == nil && match
	}
}
