package insert

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const engineManifest = `[[patch]]
kind = "prefix"
target-file = "calc.go"
target = "Loop"
patch-file = "patch.go"
patch-func = "LoopPatch"

[[patch]]
target-file = "calc.go"
target = "*Calc.Add"
patch-file = "patch.go"
patch-func = "AddPatch"
loc = [9]

[[patch]]
name = "helper"
target-file = "calc.go"
target = "Helper"
patch-file = "patch.go"
patch-func = "HelperPatch"
rloc = [1]
`

const engineBrokenEntry = `
[[patch]]
name = "broken"
target-file = "calc.go"
target = "*Calc.Add"
patch-file = "patch.go"
patch-func = "Broken"
localvars = ["missing"]
loc = [10]
`

// engineFixture writes the calc fixture with a manifest and returns the manifest path.
func engineFixture(t *testing.T, manifest string) (string, string) {
	t.Helper()

	calcFile, _ := calcFixture(t)
	manifestFile := filepath.Join(filepath.Dir(calcFile), "patches.toml")
	require.NoError(t, os.WriteFile(manifestFile, []byte(manifest), 0644))
	return manifestFile, calcFile
}

func loadReport(t *testing.T, path string) ReportMetrics {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var report ReportMetrics
	require.NoError(t, json.Unmarshal(data, &report))
	return report
}

func TestConfigPrepare(t *testing.T) {
	t.Parallel()

	manifestFile, _ := engineFixture(t, engineManifest)

	t.Run("defaults", func(t *testing.T) {
		c := &Config{ManifestFile: manifestFile}

		require.NoError(t, c.Prepare())

		assert.Equal(t, CompilerPackages, c.Compiler)
		assert.Equal(t, 64, c.CacheMB)
		assert.Empty(t, c.AbsProjDir)
		assert.IsType(t, PackagesCompiler{}, c.compiler())
	})

	t.Run("project_dir", func(t *testing.T) {
		c := &Config{ManifestFile: manifestFile, ProjectDir: filepath.Dir(manifestFile), Compiler: CompilerTypes, CacheMB: 8}

		require.NoError(t, c.Prepare())

		assert.Equal(t, filepath.Dir(manifestFile), c.AbsProjDir)
		assert.Equal(t, 8, c.CacheMB)
		assert.Equal(t, TypesCompiler{}, c.compiler())
	})

	t.Run("compiler_none", func(t *testing.T) {
		c := &Config{ManifestFile: manifestFile, Compiler: CompilerNone}

		require.NoError(t, c.Prepare())

		assert.Nil(t, c.compiler())
	})

	tests := []struct {
		name   string
		config *Config
		errMsg string
	}{
		{"missing_manifest_flag", &Config{}, "manifest file is required"},
		{"manifest_not_found", &Config{ManifestFile: manifestFile + ".missing"}, "manifest file not found"},
		{"unknown_compiler", &Config{ManifestFile: manifestFile, Compiler: "gcc"}, `unknown compiler "gcc"`},
		{"chart_type", &Config{ManifestFile: manifestFile, ReportChartsFile: "out.gif"}, "unhandled chart file type"},
		{"qualify_import", &Config{ManifestFile: manifestFile, QualifyImport: "example.com/game"}, "-qualifyimport requires -qualify"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorContains(t, tc.config.Prepare(), tc.errMsg)
		})
	}

	t.Run("prepared_twice", func(t *testing.T) {
		c := &Config{ManifestFile: manifestFile}
		require.NoError(t, c.Prepare())

		assert.ErrorContains(t, c.Prepare(), "already been prepared")
	})
}

func TestEngineRun(t *testing.T) {
	t.Parallel()

	t.Run("applied", func(t *testing.T) {
		manifestFile, calcFile := engineFixture(t, engineManifest)
		dir := filepath.Dir(calcFile)
		var debug bytes.Buffer
		config := &Config{
			ManifestFile:     manifestFile,
			Compiler:         CompilerTypes,
			ReportJsonFile:   filepath.Join(dir, "report.json"),
			ReportChartsFile: filepath.Join(dir, "report.svg"),
			DebugWriter:      &debug,
		}

		require.NoError(t, NewEngine(config).Run())

		content, err := os.ReadFile(calcFile)
		require.NoError(t, err)
		assert.Contains(t, squash(string(content)),
			"{ __total := &total AddPatch(c, x, __total) total = *__total }")
		assert.Contains(t, squash(string(content)),
			"func Helper(__arg0 int, s string) string { { HelperPatch(__arg0, s) } return s }")
		assert.NotContains(t, string(content), "LoopPatch")
		assert.True(t, FileExists(calcFile+".bkp"))
		assert.Contains(t, debug.String(), "AddPatch(c, x, __total)")
		assert.Contains(t, debug.String(), "HelperPatch(__arg0, s)")
		assert.True(t, FileExists(config.ReportChartsFile))

		report := loadReport(t, config.ReportJsonFile)
		assert.True(t, report.Committed)
		assert.Equal(t, 3, report.PatchCount)
		assert.Equal(t, 2, report.AppliedCount)
		assert.Equal(t, 1, report.SkippedCount)
		assert.Zero(t, report.FailedCount)
		assert.Equal(t, PointMetrics{Total: 2, Primary: 2}, report.Points)
		assert.Equal(t, []string{calcFile}, report.ModifiedFiles)

		// insert patches are applied first, the prefix entry is ordered last
		require.Len(t, report.PatchDetails, 3)
		add := report.PatchDetails[0]
		assert.Equal(t, "AddPatch", add.Name)
		assert.Equal(t, "game:*Calc.Add", add.Target)
		assert.Equal(t, statusApplied, add.Status)
		assert.Equal(t, -2, add.Ordering)
		assert.Contains(t, add.Diff, "+\t\tAddPatch(c, x, __total)")
		require.Len(t, add.Points, 1)
		assert.Equal(t, 9, add.Points[0].Line)
		assert.NotEmpty(t, add.Points[0].Digest)
		helper := report.PatchDetails[1]
		assert.Equal(t, "helper", helper.Name)
		require.Len(t, helper.Points, 1)
		assert.Equal(t, "relative", helper.Points[0].Type)
		assert.Equal(t, 14, helper.Points[0].Line)
		assert.Equal(t, 1, helper.Points[0].RelativeLine)
		assert.Equal(t, statusSkipped, report.PatchDetails[2].Status)
		assert.Equal(t, "prefix", report.PatchDetails[2].Kind)
	})

	t.Run("failed_patch_others_applied", func(t *testing.T) {
		manifestFile, calcFile := engineFixture(t, engineManifest+engineBrokenEntry)
		config := &Config{
			ManifestFile:   manifestFile,
			Compiler:       CompilerTypes,
			ReportJsonFile: filepath.Join(filepath.Dir(calcFile), "report.json"),
		}

		err := NewEngine(config).Run()
		assert.ErrorIs(t, err, ErrPatchesFailed)

		content, err := os.ReadFile(calcFile)
		require.NoError(t, err)
		assert.Contains(t, string(content), "AddPatch(c, x, __total)")
		assert.NotContains(t, string(content), "Broken(")

		report := loadReport(t, config.ReportJsonFile)
		assert.True(t, report.Committed)
		assert.Equal(t, 2, report.AppliedCount)
		assert.Equal(t, 1, report.FailedCount)
		assert.Equal(t, 1, report.Points.Failed)
		var broken PatchReport
		for _, pr := range report.PatchDetails {
			if pr.Name == "broken" {
				broken = pr
			}
		}
		assert.Equal(t, statusFailed, broken.Status)
		assert.Contains(t, broken.Error, "insert @ 10 failed")
		assert.Empty(t, broken.Diff)
	})

	t.Run("dry_run", func(t *testing.T) {
		manifestFile, calcFile := engineFixture(t, engineManifest)
		config := &Config{
			ManifestFile:   manifestFile,
			Compiler:       CompilerTypes,
			DryRun:         true,
			ReportJsonFile: filepath.Join(filepath.Dir(calcFile), "report.json"),
		}

		require.NoError(t, NewEngine(config).Run())

		content, err := os.ReadFile(calcFile)
		require.NoError(t, err)
		assert.Equal(t, calcSource, string(content))
		assert.False(t, FileExists(calcFile+".bkp"))
		report := loadReport(t, config.ReportJsonFile)
		assert.False(t, report.Committed)
		assert.Equal(t, 2, report.AppliedCount)
	})

	t.Run("outside_project", func(t *testing.T) {
		manifestFile, calcFile := engineFixture(t, engineManifest)
		config := &Config{
			ManifestFile:   manifestFile,
			ProjectDir:     t.TempDir(),
			Compiler:       CompilerTypes,
			ReportJsonFile: filepath.Join(filepath.Dir(calcFile), "report.json"),
		}

		assert.ErrorIs(t, NewEngine(config).Run(), ErrPatchesFailed)

		content, err := os.ReadFile(calcFile)
		require.NoError(t, err)
		assert.Equal(t, calcSource, string(content))
		report := loadReport(t, config.ReportJsonFile)
		assert.Equal(t, 2, report.FailedCount)
		assert.Contains(t, report.PatchDetails[0].Error, "outside project")
	})

	t.Run("debug_file", func(t *testing.T) {
		manifestFile, calcFile := engineFixture(t, engineManifest)
		config := &Config{
			ManifestFile: manifestFile,
			Compiler:     CompilerNone,
			DryRun:       true,
			DebugFile:    filepath.Join(filepath.Dir(calcFile), "debug.txt"),
		}

		require.NoError(t, NewEngine(config).Run())

		debug, err := os.ReadFile(config.DebugFile)
		require.NoError(t, err)
		assert.Contains(t, string(debug), "HelperPatch(__arg0, s)")
	})

	t.Run("partial_patch_file_modified", func(t *testing.T) {
		manifestFile, calcFile := engineFixture(t, `[[patch]]
name = "partial"
target-file = "calc.go"
target = "Helper"
patch-file = "patch.go"
patch-func = "HelperPatch"
loc = [14, 30]
`)
		config := &Config{
			ManifestFile:   manifestFile,
			Compiler:       CompilerTypes,
			ReportJsonFile: filepath.Join(filepath.Dir(calcFile), "report.json"),
		}

		assert.ErrorIs(t, NewEngine(config).Run(), ErrPatchesFailed)

		content, err := os.ReadFile(calcFile)
		require.NoError(t, err)
		assert.Contains(t, string(content), "HelperPatch(__arg0, s)")
		report := loadReport(t, config.ReportJsonFile)
		assert.True(t, report.Committed)
		assert.Equal(t, 1, report.FailedCount)
		assert.Equal(t, []string{calcFile}, report.ModifiedFiles)
		assert.Equal(t, PointMetrics{Total: 2, Primary: 1, Failed: 1}, report.Points)
		assert.Contains(t, report.PatchDetails[0].Diff, "HelperPatch(__arg0, s)")
	})

	t.Run("unreadable_source_no_diff", func(t *testing.T) {
		manifestFile, calcFile := engineFixture(t, `[[patch]]
target-file = "calc.go"
target = "Helper"
patch-file = "patch.go"
patch-func = "HelperPatch"
loc = [14]
`)
		editor := &SourceEditor{}
		_, err := editor.Target(calcFile, "Helper")
		require.NoError(t, err)
		require.NoError(t, os.Remove(calcFile))
		config := &Config{
			ManifestFile:   manifestFile,
			Compiler:       CompilerNone,
			DryRun:         true,
			ReportJsonFile: filepath.Join(filepath.Dir(calcFile), "report.json"),
		}
		engine := NewEngine(config)
		engine.Editor = editor

		require.NoError(t, engine.Run())

		report := loadReport(t, config.ReportJsonFile)
		require.Len(t, report.PatchDetails, 1)
		assert.Equal(t, statusApplied, report.PatchDetails[0].Status)
		assert.Empty(t, report.PatchDetails[0].Diff)
	})

	t.Run("invalid_manifest", func(t *testing.T) {
		manifestFile, _ := engineFixture(t, "[[patch]]\nkind = \"wrap\"\n")

		err := NewEngine(&Config{ManifestFile: manifestFile}).Run()
		assert.ErrorContains(t, err, "unknown patch kind")
	})
}

func TestEngineRunJournal(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping badger journal test in short mode")
	}
	t.Parallel()

	readJournal := func(t *testing.T, dir string) []JournalEntry {
		t.Helper()

		store, err := NewBadgerStorage(dir, 16)
		require.NoError(t, err)
		defer store.Close()
		journal, err := NewJournal(store)
		require.NoError(t, err)
		entries, err := journal.Entries()
		require.NoError(t, err)
		return entries
	}

	t.Run("dry_run", func(t *testing.T) {
		manifestFile, calcFile := engineFixture(t, engineManifest)
		journalDir := t.TempDir()
		config := &Config{
			ManifestFile: manifestFile,
			Compiler:     CompilerTypes,
			JournalDir:   journalDir,
			CacheMB:      16,
			DryRun:       true,
		}

		require.NoError(t, NewEngine(config).Run())

		entries := readJournal(t, journalDir)
		require.Len(t, entries, 2)
		assert.Equal(t, "AddPatch", entries[0].Patch)
		assert.Equal(t, "game:*Calc.Add", entries[0].Target)
		assert.Equal(t, calcFile, entries[0].File)
		assert.Equal(t, 9, entries[0].Line)
		assert.Equal(t, VariantPrimary, entries[0].Variant)
		assert.Equal(t, FragmentDigest(entries[0].Source), entries[0].Digest)
		assert.Equal(t, "helper", entries[1].Patch)
		assert.Equal(t, "relative", entries[1].PointType)
		assert.Equal(t, 1, entries[1].RelLine)
		for _, e := range entries {
			assert.False(t, e.Committed)
		}
	})

	t.Run("committed_with_metrics", func(t *testing.T) {
		manifestFile, calcFile := engineFixture(t, engineManifest)
		journalDir := t.TempDir()
		config := &Config{
			ManifestFile:   manifestFile,
			Compiler:       CompilerTypes,
			JournalDir:     journalDir,
			CacheMB:        16,
			StorageMetrics: true,
			ReportJsonFile: filepath.Join(filepath.Dir(calcFile), "report.json"),
		}

		require.NoError(t, NewEngine(config).Run())

		entries := readJournal(t, journalDir)
		require.Len(t, entries, 2)
		for _, e := range entries {
			assert.True(t, e.Committed)
		}
		report := loadReport(t, config.ReportJsonFile)
		require.NotNil(t, report.JournalCache)
		assert.NotEmpty(t, report.JournalCache.Summary)
	})

	t.Run("metrics_disabled", func(t *testing.T) {
		manifestFile, calcFile := engineFixture(t, engineManifest)
		config := &Config{
			ManifestFile:   manifestFile,
			Compiler:       CompilerTypes,
			JournalDir:     t.TempDir(),
			CacheMB:        16,
			DryRun:         true,
			ReportJsonFile: filepath.Join(filepath.Dir(calcFile), "report.json"),
		}

		require.NoError(t, NewEngine(config).Run())

		assert.Nil(t, loadReport(t, config.ReportJsonFile).JournalCache)
	})
}
