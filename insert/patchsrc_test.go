package insert

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPatchFunc(t *testing.T) {
	t.Parallel()

	t.Run("directives", func(t *testing.T) {
		_, patchFile := calcFixture(t)

		p, err := LoadPatchFunc(patchFile, "AddPatch", false)
		require.NoError(t, err)

		assert.Equal(t, "game", p.PackageName)
		assert.Equal(t, "AddPatch", p.Name())
		assert.Empty(t, p.DeclaringType())
		assert.Empty(t, p.ImportPath)
		assert.Equal(t, []string{"total"}, p.LocalVars)
		assert.Equal(t, Void, p.ReturnType())
		params := p.Parameters()
		require.Len(t, params, 3)
		assert.Equal(t, "c", params[0].Name)
		assert.Equal(t, "*game.Calc", params[0].Type.Name)
		assert.False(t, params[1].ByRef)
		assert.True(t, params[2].ByRef)
		assert.Equal(t, KindPointer, params[2].Type.Kind)
		assert.Equal(t, "*int", params[2].Type.Name)
		assert.Empty(t, params[2].TypeName)
		assert.Empty(t, p.Imports)
	})

	t.Run("byref_type_name", func(t *testing.T) {
		_, patchFile := calcFixture(t)

		p, err := LoadPatchFunc(patchFile, "AddScorePatch", false)
		require.NoError(t, err)

		assert.Equal(t, "Score", p.Parameters()[2].TypeName)
		assert.Empty(t, p.LocalVars)
	})

	t.Run("lines", func(t *testing.T) {
		dir := t.TempDir()
		writeFiles(t, dir, map[string]string{"p.go": `package game

// Patch runs before the damage is applied.
//
//inspatch:localvars a, b
//inspatch:loc 12 14
//inspatch:rloc 2,3
//inspatch:byref a b=Score
func Patch(a, b []int, c string) {}
`})

		p, err := LoadPatchFunc(filepath.Join(dir, "p.go"), "Patch", false)
		require.NoError(t, err)

		assert.Equal(t, []string{"a", "b"}, p.LocalVars)
		assert.Equal(t, []int{12, 14}, p.Lines)
		assert.Equal(t, []int{2, 3}, p.RelativeLines)
		params := p.Parameters()
		require.Len(t, params, 3)
		assert.True(t, params[0].ByRef)
		assert.True(t, params[1].ByRef)
		assert.Equal(t, "Score", params[1].TypeName)
		assert.False(t, params[2].ByRef)
	})

	t.Run("qualified", func(t *testing.T) {
		dir := t.TempDir()
		writeFiles(t, dir, map[string]string{
			"go.mod": "module example.com/mod\n\ngo 1.21\n",
			"patches/p.go": `package patches

import (
	"math/big"

	"github.com/PatchLens/go-insert-patch/early"
)

type Score int

//inspatch:byref s
func Patch(n *big.Int, s *Score) early.Return { return early.Continue() }
`,
		})

		p, err := LoadPatchFunc(filepath.Join(dir, "patches", "p.go"), "Patch", true)
		require.NoError(t, err)

		assert.Equal(t, "example.com/mod/patches", p.ImportPath)
		assert.Equal(t, "patches", p.Qualifier)
		assert.Equal(t, "patches", p.DeclaringType())
		assert.Equal(t, EarlyReturnType, p.ReturnType().Name)
		s := p.Parameters()[1]
		assert.Equal(t, "*example.com/mod/patches.Score", s.Type.Name)
		assert.Equal(t, "*patches.Score", s.Type.SourceExpr())
		assert.Equal(t, []ImportSpec{
			{Name: "early", Path: "github.com/PatchLens/go-insert-patch/early"},
			{Name: "big", Path: "math/big"},
			{Name: "patches", Path: "example.com/mod/patches"},
		}, p.Imports)
	})

	t.Run("qualified_without_module", func(t *testing.T) {
		dir := t.TempDir()
		writeFiles(t, dir, map[string]string{"p.go": "package p\n\nfunc Patch() {}\n"})

		_, err := LoadPatchFunc(filepath.Join(dir, "p.go"), "Patch", true)
		if err == nil {
			t.Skip("temp dir is inside a module")
		}
		assert.ErrorContains(t, err, "go.mod")
	})

	t.Run("not_found", func(t *testing.T) {
		_, patchFile := calcFixture(t)

		_, err := LoadPatchFunc(patchFile, "Missing", false)
		assert.ErrorContains(t, err, "patch function Missing not found")
	})

	t.Run("unknown_byref", func(t *testing.T) {
		dir := t.TempDir()
		writeFiles(t, dir, map[string]string{"p.go": "package p\n\n//inspatch:byref x\nfunc Patch(a []int) {}\n"})

		_, err := LoadPatchFunc(filepath.Join(dir, "p.go"), "Patch", false)
		assert.ErrorContains(t, err, `byref parameter "x" not declared`)
	})

	t.Run("unknown_directive", func(t *testing.T) {
		dir := t.TempDir()
		writeFiles(t, dir, map[string]string{"p.go": "package p\n\n//inspatch:wrap\nfunc Patch() {}\n"})

		_, err := LoadPatchFunc(filepath.Join(dir, "p.go"), "Patch", false)
		assert.ErrorContains(t, err, "unknown directive //inspatch:wrap")
	})

	t.Run("invalid_line", func(t *testing.T) {
		dir := t.TempDir()
		writeFiles(t, dir, map[string]string{"p.go": "package p\n\n//inspatch:rloc two\nfunc Patch() {}\n"})

		_, err := LoadPatchFunc(filepath.Join(dir, "p.go"), "Patch", false)
		assert.ErrorContains(t, err, `invalid rloc line "two"`)
	})

	t.Run("methods_ignored", func(t *testing.T) {
		dir := t.TempDir()
		writeFiles(t, dir, map[string]string{"p.go": "package p\n\ntype T struct{}\n\nfunc (T) Patch() {}\n"})

		_, err := LoadPatchFunc(filepath.Join(dir, "p.go"), "Patch", false)
		assert.Error(t, err)
	})
}

func TestPackageImportPath(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"go.mod":        "module example.com/mod\n",
		"a/b/c.go":      "package b\n",
		"bad/go.mod":    "// no module\n",
		"bad/pkg/p.go":  "package pkg\n",
		"nested/go.mod": "module example.com/nested\n",
		"nested/x/x.go": "package x\n",
	})

	p, err := packageImportPath(dir)
	require.NoError(t, err)
	assert.Equal(t, "example.com/mod", p)

	p, err = packageImportPath(filepath.Join(dir, "a", "b"))
	require.NoError(t, err)
	assert.Equal(t, "example.com/mod/a/b", p)

	p, err = packageImportPath(filepath.Join(dir, "nested", "x"))
	require.NoError(t, err)
	assert.Equal(t, "example.com/nested/x", p)

	_, err = packageImportPath(filepath.Join(dir, "bad", "pkg"))
	assert.ErrorContains(t, err, "no module directive")
}
