package insert

import (
	"bytes"
	"cmp"
	"errors"
	"fmt"
	"go/ast"
	"go/format"
	"go/parser"
	"go/scanner"
	"go/token"
	"go/types"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/tools/go/ast/astutil"
)

const (
	syntheticNameReceiver  = "__recv"
	syntheticNamePrefixArg = "__arg"
)

// ErrNoFunctionBody indicates a function has no body (e.g., assembly-only or external).
var ErrNoFunctionBody = errors.New("function has no body (likely assembly or external implementation)")

var astFileLock = newDefaultStripedMutex()

// SourceEditor applies insertions to Go source files. Insertions are recorded against the original
// source so line offsets always refer to the file as it was first loaded. Files are only written on Commit.
type SourceEditor struct {
	// Compiler checks each insertion, nil accepts any insertion that results in parseable source.
	Compiler Compiler

	cleanupLock    sync.Mutex
	cleanupActions []func() error
	fileStateMap   sync.Map // abs path -> *fileState
	overlay        sync.Map // abs path -> []byte, last accepted rendering
	commitLock     sync.Mutex
	commitActions  map[string]func(*bytes.Buffer) error
}

// textEdit replaces src[start:end] with text.
type textEdit struct {
	start, end int
	text       string
}

type fileState struct {
	path    string
	src     []byte
	fset    *token.FileSet
	file    *ast.File
	edits   []textEdit
	imports []ImportSpec
	named   map[token.Pos]bool // functions whose synthetic names were applied
}

// Restore restores committed files to their original state.
func (m *SourceEditor) Restore() (result []error) {
	m.cleanupLock.Lock()
	defer m.cleanupLock.Unlock()
	for _, f := range m.cleanupActions {
		if err := f(); err != nil {
			result = append(result, err)
		}
	}
	m.cleanupActions = m.cleanupActions[:0] // clear completed actions
	return
}

func (m *SourceEditor) addCleanupAction(f func() error) {
	m.cleanupLock.Lock()
	defer m.cleanupLock.Unlock()
	m.cleanupActions = append(m.cleanupActions, f)
}

// loadFileState provides the parsed original file.
// fileLock must be held before invoking, and until state changes are done.
func (m *SourceEditor) loadFileState(path string) (*fileState, error) {
	if fs, ok := m.fileStateMap.Load(path); ok {
		return fs.(*fileState), nil
	}

	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read failure %s: %w", path, err)
	}
	fset := token.NewFileSet()
	fileNode, err := parser.ParseFile(fset, path, src, parser.ParseComments)
	if err != nil {
		return nil, fmt.Errorf("ast parse failure %s: %w", path, err)
	}
	fs := &fileState{path: path, src: src, fset: fset, file: fileNode}
	m.fileStateMap.Store(path, fs)

	m.commitLock.Lock()
	defer m.commitLock.Unlock()
	if m.commitActions == nil {
		m.commitActions = make(map[string]func(*bytes.Buffer) error)
	}
	m.commitActions[path] = func(buf *bytes.Buffer) error {
		rendered, ok := m.overlay.Load(path)
		if !ok {
			return nil // nothing inserted
		}
		buf.Reset()
		buf.Write(rendered.([]byte))
		if err := m.backupOrigFile(path); err != nil {
			return err
		} else if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("ast write failure %s: %w", path, err)
		}
		return nil
	}
	return fs, nil
}

// CommitFile writes pending edits for a single file.
func (m *SourceEditor) CommitFile(path string) error {
	path, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	lock := astFileLock.Lock(path)
	defer lock.Unlock()

	m.commitLock.Lock()
	defer m.commitLock.Unlock()
	if action, ok := m.commitActions[path]; ok {
		delete(m.commitActions, path)
		defer m.forget(path)
		var buf bytes.Buffer
		return action(&buf)
	}
	return nil
}

func (m *SourceEditor) forget(path string) {
	m.fileStateMap.Delete(path)
	m.overlay.Delete(path)
}

// Commit flushes all pending insertions to disk.
func (m *SourceEditor) Commit() error {
	writeCount := runtime.NumCPU()
	bufChan := make(chan *bytes.Buffer, writeCount)
	for i := 0; i < writeCount; i++ {
		bufChan <- bytes.NewBuffer(nil)
	}
	errGroup := ErrGroupLimitCPU()
	m.commitLock.Lock()
	defer m.commitLock.Unlock()
	for _, action := range m.commitActions {
		buf := <-bufChan
		errGroup.Go(func() error {
			defer func() {
				bufChan <- buf
			}()
			return action(buf)
		})
	}
	if err := errGroup.Wait(); err != nil {
		return err
	}
	m.commitActions = nil // set to nil to allow GC
	m.fileStateMap.Clear()
	m.overlay.Clear()
	return nil
}

// backupOrigFile will copy the file to a .bkp file if one does not already exist.
func (m *SourceEditor) backupOrigFile(path string) error {
	bkpFile := path + ".bkp"
	if !FileExists(bkpFile) {
		if err := CopyFile(path, bkpFile); err != nil {
			return fmt.Errorf("ast backup failure: %w", err)
		}
		m.addCleanupAction(func() error {
			return replaceFile(bkpFile, path)
		})
	}
	return nil
}

// FileSource returns the current source of a file, including accepted insertions not yet committed.
func (m *SourceEditor) FileSource(path string) ([]byte, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if rendered, ok := m.overlay.Load(path); ok {
		return rendered.([]byte), nil
	}
	return os.ReadFile(path)
}

// Target resolves a function for insertion. funcIdent is either the full ident ("pkg:Recv.Func")
// or the ident without the package prefix ("Recv.Func", "Func").
func (m *SourceEditor) Target(filePath, funcIdent string) (*FuncTarget, error) {
	path, err := filepath.Abs(filePath)
	if err != nil {
		return nil, err
	}
	lock := astFileLock.Lock(path)
	defer lock.Unlock()

	fs, err := m.loadFileState(path)
	if err != nil {
		return nil, err
	}
	pkg := fs.file.Name.Name
	if !strings.Contains(funcIdent, ":") {
		funcIdent = pkg + ":" + funcIdent
	}
	decl := findFuncDecl(fs.file, pkg, funcIdent)
	if decl == nil {
		return nil, fmt.Errorf("function %s not found in %s", funcIdent, path)
	} else if decl.Body == nil {
		return nil, fmt.Errorf("%w: %s in %s", ErrNoFunctionBody, funcIdent, path)
	}
	return newFuncTarget(m, fs, decl, funcIdent), nil
}

// MakeFunctionIdent returns the "pkg:Recv.Func" identifier of a function declaration.
func MakeFunctionIdent(pkgName string, funcDecl *ast.FuncDecl) string {
	if funcDecl.Recv != nil && len(funcDecl.Recv.List) > 0 {
		// types.ExprString will render "*MyType", "pkg.Type", "[][]T", etc
		return pkgName + ":" + types.ExprString(funcDecl.Recv.List[0].Type) + "." + funcDecl.Name.Name
	}
	return pkgName + ":" + funcDecl.Name.Name
}

func findFuncDecl(f *ast.File, pkg, ident string) *ast.FuncDecl {
	for _, d := range f.Decls {
		if fd, ok := d.(*ast.FuncDecl); ok && MakeFunctionIdent(pkg, fd) == ident {
			return fd
		}
	}
	return nil
}

// FuncTarget is a Go function accepting insertions through a SourceEditor.
type FuncTarget struct {
	// FilePath is the absolute path of the declaring file.
	FilePath string
	// PackageName is the declaring package.
	PackageName string
	// FunctionIdent is the "pkg:Recv.Func" identifier.
	FunctionIdent string
	// Imports are added to the file when an inserted fragment references them.
	Imports []ImportSpec

	editor     *SourceEditor
	fs         *fileState
	decl       *ast.FuncDecl
	params     []TypeRef
	paramNames []string
	recvName   string
	result     TypeRef
	// nameEdits give unnamed receiver and parameters their synthetic names, applied with the first insertion
	nameEdits []textEdit
}

func newFuncTarget(m *SourceEditor, fs *fileState, decl *ast.FuncDecl, ident string) *FuncTarget {
	t := &FuncTarget{
		FilePath:      fs.path,
		PackageName:   fs.file.Name.Name,
		FunctionIdent: ident,
		editor:        m,
		fs:            fs,
		decl:          decl,
	}
	res := newTypeResolver(fs.file, t.PackageName, "")
	tokFile := fs.fset.File(decl.Pos())
	nameField := func(field *ast.Field, synthetic func(int) string, idx int) []string {
		if len(field.Names) == 0 {
			name := synthetic(idx)
			t.nameEdits = append(t.nameEdits, textEdit{
				start: tokFile.Offset(field.Type.Pos()),
				end:   tokFile.Offset(field.Type.Pos()),
				text:  name + " ",
			})
			return []string{name}
		}
		names := make([]string, len(field.Names))
		for i, n := range field.Names {
			names[i] = n.Name
			if n.Name == "_" {
				names[i] = synthetic(idx + i)
				t.nameEdits = append(t.nameEdits, textEdit{
					start: tokFile.Offset(n.Pos()),
					end:   tokFile.Offset(n.End()),
					text:  names[i],
				})
			}
		}
		return names
	}

	if decl.Recv != nil && len(decl.Recv.List) > 0 {
		t.recvName = nameField(decl.Recv.List[0], func(int) string { return syntheticNameReceiver }, 0)[0]
	}
	for _, field := range decl.Type.Params.List {
		typ := res.ref(field.Type)
		names := nameField(field, func(i int) string { return syntheticNamePrefixArg + strconv.Itoa(i) }, len(t.params))
		for _, name := range names {
			t.params = append(t.params, typ)
			t.paramNames = append(t.paramNames, name)
		}
	}
	t.result = res.results(decl.Type.Results)
	return t
}

func (t *FuncTarget) ParameterTypes() []TypeRef {
	return t.params
}

func (t *FuncTarget) ParameterNames() []string {
	return t.paramNames
}

func (t *FuncTarget) ReceiverName() string {
	return t.recvName
}

func (t *FuncTarget) ReturnType() TypeRef {
	return t.result
}

func (t *FuncTarget) IsStatic() bool {
	return t.decl.Recv == nil
}

func (t *FuncTarget) DeclaringType() string {
	if t.decl.Recv != nil && len(t.decl.Recv.List) > 0 {
		return t.PackageName + "." + strings.TrimPrefix(types.ExprString(t.decl.Recv.List[0].Type), "*")
	}
	return t.PackageName
}

// StartLine returns the line of the func keyword, the base of relative insertion points.
func (t *FuncTarget) StartLine() int {
	return t.fs.fset.Position(t.decl.Pos()).Line
}

// BodyLines returns the first and last line of the function body.
func (t *FuncTarget) BodyLines() (int, int) {
	return t.fs.fset.Position(t.decl.Body.Lbrace).Line, t.fs.fset.Position(t.decl.Body.Rbrace).Line
}

// Source returns the current source of the function, including accepted insertions.
func (t *FuncTarget) Source() (string, error) {
	src, err := t.editor.FileSource(t.FilePath)
	if err != nil {
		return "", err
	}
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, t.FilePath, src, parser.ParseComments)
	if err != nil {
		return "", fmt.Errorf("ast parse failure %s: %w", t.FilePath, err)
	}
	decl := findFuncDecl(f, f.Name.Name, t.FunctionIdent)
	if decl == nil {
		return "", fmt.Errorf("function %s not found in %s", t.FunctionIdent, t.FilePath)
	}
	return string(src[fset.Position(decl.Pos()).Offset:fset.Position(decl.End()).Offset]), nil
}

// InsertAt inserts the fragment before the first statement starting at or after line, or at the end of the
// body when no statement follows. The file is checked with the editor's Compiler, a rejected fragment
// leaves the file unchanged.
func (t *FuncTarget) InsertAt(line int, fragment string) error {
	lock := astFileLock.Lock(t.FilePath)
	defer lock.Unlock()
	fs := t.fs

	if msgs := parseFragmentErrors(fragment); len(msgs) > 0 {
		return &CompileError{Line: line, Messages: msgs}
	}
	offset, text, err := t.insertOffset(line, fragment)
	if err != nil {
		return &CompileError{Line: line, Err: err}
	}

	edits := []textEdit{{start: offset, end: offset, text: text}}
	named := fs.named[t.decl.Pos()]
	if !named {
		edits = append(edits, t.nameEdits...)
	}
	rendered, err := fs.render(edits, t.Imports)
	if err != nil {
		return &CompileError{Line: line, Messages: scannerMessages(err), Err: err}
	}
	if t.editor.Compiler != nil {
		overlay := t.editor.overlayWith(fs.path, rendered)
		msgs, err := t.editor.Compiler.Check(fs.path, overlay)
		if err != nil {
			return &CompileError{Line: line, Err: err}
		} else if len(msgs) > 0 {
			return &CompileError{Line: line, Messages: msgs}
		}
	}

	fs.edits = append(fs.edits, edits...)
	if !named && len(t.nameEdits) > 0 {
		if fs.named == nil {
			fs.named = make(map[token.Pos]bool)
		}
		fs.named[t.decl.Pos()] = true
	}
	for _, imp := range t.Imports {
		if !slices.Contains(fs.imports, imp) {
			fs.imports = append(fs.imports, imp)
		}
	}
	t.editor.overlay.Store(fs.path, rendered)
	return nil
}

// insertOffset finds the byte offset and text to insert the fragment at.
func (t *FuncTarget) insertOffset(line int, fragment string) (int, string, error) {
	fset, body := t.fs.fset, t.decl.Body
	tokFile := fset.File(body.Pos())
	bodyStart, bodyEnd := t.BodyLines()
	if line < bodyStart || line > bodyEnd {
		return 0, "", fmt.Errorf("line %d is outside the body of %s (%d-%d)", line, t.FunctionIdent, bodyStart, bodyEnd)
	}
	if st, err := locateStmt(fset, body.List, line); err != nil {
		return 0, "", err
	} else if st != nil {
		return tokFile.Offset(st.Pos()), fragment + "\n", nil
	}
	return tokFile.Offset(body.Rbrace), "\n" + fragment + "\n", nil
}

// locateStmt finds the first statement starting at or after line, descending into compound
// statements and function literals that span the line. A line past the last statement of a
// function literal is an error, the next statement would run outside the literal.
func locateStmt(fset *token.FileSet, list []ast.Stmt, line int) (ast.Stmt, error) {
	for _, st := range list {
		if fset.Position(st.Pos()).Line >= line {
			return st, nil
		} else if fset.Position(st.End()).Line < line {
			continue
		}
		nestedLists := nestedStmtLists(st)
		for _, nested := range nestedLists {
			if found, err := locateStmt(fset, nested, line); found != nil || err != nil {
				return found, err
			}
		}
		if len(nestedLists) > 0 {
			continue
		}
		for _, body := range funcLitBodies(fset, st, line) {
			if found, err := locateStmt(fset, body.List, line); found != nil || err != nil {
				return found, err
			}
			return nil, fmt.Errorf("line %d is past the last statement of the function literal at line %d",
				line, fset.Position(body.Lbrace).Line)
		}
	}
	return nil, nil
}

// funcLitBodies returns the bodies of the outermost function literals in st spanning line.
func funcLitBodies(fset *token.FileSet, st ast.Stmt, line int) []*ast.BlockStmt {
	var bodies []*ast.BlockStmt
	ast.Inspect(st, func(n ast.Node) bool {
		lit, ok := n.(*ast.FuncLit)
		if !ok {
			return true
		}
		if fset.Position(lit.Body.Lbrace).Line <= line && fset.Position(lit.Body.Rbrace).Line >= line {
			bodies = append(bodies, lit.Body)
		}
		return false
	})
	return bodies
}

func nestedStmtLists(st ast.Stmt) [][]ast.Stmt {
	switch s := st.(type) {
	case *ast.BlockStmt:
		return [][]ast.Stmt{s.List}
	case *ast.IfStmt:
		lists := [][]ast.Stmt{s.Body.List}
		if s.Else != nil {
			lists = append(lists, nestedStmtLists(s.Else)...)
		}
		return lists
	case *ast.ForStmt:
		return [][]ast.Stmt{s.Body.List}
	case *ast.RangeStmt:
		return [][]ast.Stmt{s.Body.List}
	case *ast.SwitchStmt:
		return clauseStmtLists(s.Body)
	case *ast.TypeSwitchStmt:
		return clauseStmtLists(s.Body)
	case *ast.SelectStmt:
		return clauseStmtLists(s.Body)
	case *ast.LabeledStmt:
		return nestedStmtLists(s.Stmt)
	}
	return nil
}

func clauseStmtLists(body *ast.BlockStmt) [][]ast.Stmt {
	lists := make([][]ast.Stmt, 0, len(body.List))
	for _, c := range body.List {
		switch cc := c.(type) {
		case *ast.CaseClause:
			lists = append(lists, cc.Body)
		case *ast.CommClause:
			lists = append(lists, cc.Body)
		}
	}
	return lists
}

// parseFragmentErrors returns the syntax errors of a fragment, parsed as a function body.
func parseFragmentErrors(fragment string) []string {
	src := "package fragment\nfunc _() {\n" + fragment + "\n}\n"
	if _, err := parser.ParseFile(token.NewFileSet(), "fragment", src, 0); err != nil {
		return scannerMessages(err)
	}
	return nil
}

func scannerMessages(err error) []string {
	var list scanner.ErrorList
	if errors.As(err, &list) {
		msgs := make([]string, len(list))
		for i, e := range list {
			msgs[i] = e.Error()
		}
		return msgs
	}
	return []string{err.Error()}
}

// overlayWith returns the accepted renderings of every edited file, with path replaced by src.
func (m *SourceEditor) overlayWith(path string, src []byte) map[string][]byte {
	overlay := map[string][]byte{path: src}
	m.overlay.Range(func(k, v any) bool {
		if k.(string) != path {
			overlay[k.(string)] = v.([]byte)
		}
		return true
	})
	return overlay
}

// render applies the accepted edits plus extra to the original source, adds the required
// imports that end up referenced, and formats the result.
func (fs *fileState) render(extra []textEdit, imports []ImportSpec) ([]byte, error) {
	edits := append(slices.Clone(fs.edits), extra...)
	slices.SortStableFunc(edits, func(a, b textEdit) int {
		return cmp.Compare(a.start, b.start)
	})
	var buf bytes.Buffer
	var last int
	for _, e := range edits {
		if e.start < last {
			continue // overlapping edit, already applied
		}
		buf.Write(fs.src[last:e.start])
		buf.WriteString(e.text)
		last = e.end
	}
	buf.Write(fs.src[last:])

	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, fs.path, buf.Bytes(), parser.ParseComments)
	if err != nil {
		return nil, err
	}
	for _, imp := range slices.Concat(fs.imports, imports) {
		if astutil.AddNamedImport(fset, f, imp.localName(), imp.Path) && !astutil.UsesImport(f, imp.Path) {
			astutil.DeleteNamedImport(fset, f, imp.localName(), imp.Path)
		}
	}
	buf.Reset()
	if err := format.Node(&buf, fset, f); err != nil {
		return nil, fmt.Errorf("ast format failure %s: %w", fs.path, err)
	}
	return buf.Bytes(), nil
}
