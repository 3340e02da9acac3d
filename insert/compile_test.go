package insert

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypesCompilerCheck(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		calcFile, _ := calcFixture(t)

		msgs, err := TypesCompiler{}.Check(calcFile, nil)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})

	t.Run("overlay_type_error", func(t *testing.T) {
		calcFile, _ := calcFixture(t)
		overlay := map[string][]byte{calcFile: []byte(calcSource + "\nfunc Bad() int {\n\treturn undefinedValue\n}\n")}

		msgs, err := TypesCompiler{}.Check(calcFile, overlay)
		require.NoError(t, err)
		require.NotEmpty(t, msgs)
		assert.Contains(t, msgs[0], "undefinedValue")
	})

	t.Run("overlay_sibling", func(t *testing.T) {
		calcFile, patchFile := calcFixture(t)
		// the sibling overlay drops a function the target file depends on
		overlay := map[string][]byte{patchFile: []byte("package game\n")}
		overlay[calcFile] = []byte(calcSource[:len(calcSource)-1] + "\nfunc Use() { AddPatch(nil, 0, nil) }\n")

		msgs, err := TypesCompiler{}.Check(calcFile, overlay)
		require.NoError(t, err)
		assert.NotEmpty(t, msgs)
	})

	t.Run("syntax_error", func(t *testing.T) {
		calcFile, _ := calcFixture(t)
		overlay := map[string][]byte{calcFile: []byte("package game\n\nfunc (")}

		msgs, err := TypesCompiler{}.Check(calcFile, overlay)
		require.NoError(t, err)
		assert.NotEmpty(t, msgs)
	})

	t.Run("ignores_test_files", func(t *testing.T) {
		calcFile, _ := calcFixture(t)
		writeFiles(t, filepath.Dir(calcFile), map[string]string{
			"calc_test.go": "package game_test\n\nvar broken = undefinedValue\n",
		})

		msgs, err := TypesCompiler{}.Check(calcFile, nil)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})

	t.Run("not_buildable", func(t *testing.T) {
		dir := t.TempDir()
		writeFiles(t, dir, map[string]string{"other.go": "package game\n"})

		_, err := TypesCompiler{}.Check(filepath.Join(dir, "calc.go"), nil)
		assert.Error(t, err)
	})

	t.Run("missing_dir", func(t *testing.T) {
		_, err := TypesCompiler{}.Check(filepath.Join(t.TempDir(), "missing", "calc.go"), nil)
		assert.Error(t, err)
	})
}

func TestTypesCompilerModuleImports(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping go command test in short mode")
	} else if _, err := exec.LookPath("go"); err != nil {
		t.Skip("go command not available")
	}
	t.Parallel()

	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"go.mod": "module example.com/m\n\ngo 1.21\n",
		"util/util.go": `package util

func Double(x int) int { return x * 2 }
`,
		"game/calc.go": `package game

import (
	"strings"

	"example.com/m/util"
)

func Calc(x int) int {
	return util.Double(x) + len(strings.TrimSpace(" "))
}
`,
	})
	calcFile := filepath.Join(dir, "game", "calc.go")

	t.Run("unmodified", func(t *testing.T) {
		msgs, err := TypesCompiler{}.Check(calcFile, nil)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})

	t.Run("overlay_type_error", func(t *testing.T) {
		src, err := os.ReadFile(calcFile)
		require.NoError(t, err)
		overlay := map[string][]byte{calcFile: append(src, "\nfunc Bad() string { return util.Double(1) }\n"...)}

		msgs, err := TypesCompiler{}.Check(calcFile, overlay)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Contains(t, msgs[0], "util.Double(1)")
	})
}

func TestPackagesCompilerCheck(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping go command test in short mode")
	} else if _, err := exec.LookPath("go"); err != nil {
		t.Skip("go command not available")
	}
	t.Parallel()

	calcFile, _ := calcFixture(t)
	dir := filepath.Dir(calcFile)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module example.com/game\n\ngo 1.21\n"), 0644))
	compiler := PackagesCompiler{}

	t.Run("valid", func(t *testing.T) {
		msgs, err := compiler.Check(calcFile, nil)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})

	t.Run("overlay_type_error", func(t *testing.T) {
		overlay := map[string][]byte{calcFile: []byte(calcSource + "\nfunc Bad() int {\n\treturn undefinedValue\n}\n")}

		msgs, err := compiler.Check(calcFile, overlay)
		require.NoError(t, err)
		require.NotEmpty(t, msgs)
		assert.Contains(t, msgs[0], "undefinedValue")
	})
}

func TestMakeFileFilter(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"calc.go":      "package game\n",
		"calc_test.go": "package game\n",
		"calc.go.bkp":  "package game\n",
		"ignored.go":   "//go:build ignore\n\npackage game\n",
		"notes.txt":    "",
	})
	filter := makeFileFilter(dir)

	var matched []string
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		info, err := e.Info()
		require.NoError(t, err)
		if filter(info) {
			matched = append(matched, e.Name())
		}
	}

	assert.Contains(t, matched, "calc.go")
	assert.NotContains(t, matched, "calc_test.go")
	assert.NotContains(t, matched, "calc.go.bkp")
	assert.NotContains(t, matched, "ignored.go")
	assert.NotContains(t, matched, "notes.txt")
}
