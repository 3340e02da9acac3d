package insert

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

const (
	CompilerPackages = "packages"
	CompilerTypes    = "types"
	CompilerNone     = "none"
)

// ErrPatchesFailed is returned by Run when at least one patch could not be applied.
var ErrPatchesFailed = errors.New("patches failed to apply")

// Config holds settings and state for an Engine.
type Config struct {
	// ManifestFile declares the patches to apply.
	ManifestFile string
	// ProjectDir restricts target and patch files to a directory tree, empty for no restriction.
	ProjectDir string
	// Qualify and QualifyImport override the manifest's fallback qualification.
	Qualify, QualifyImport string
	// Compiler selects the check run after each insertion: packages, types or none.
	Compiler string
	// JournalDir persists the insertion journal, empty keeps it in memory.
	JournalDir string
	CacheMB    int
	// StorageMetrics collects journal cache metrics into the report.
	StorageMetrics bool
	// ReportJsonFile and ReportChartsFile are written after the run when set.
	ReportJsonFile, ReportChartsFile string
	// DebugFile receives the source of every insertion in addition to DebugWriter.
	DebugFile string
	// DebugWriter receives the source of every insertion, may be nil.
	DebugWriter io.Writer
	// DryRun applies patches in memory without writing any file.
	DryRun bool
	// Computed fields
	Gopath, Gomodcache, AbsProjDir string
	// Internal state tracking
	prepared bool
}

// Prepare validates the configuration and resolves computed fields.
func (c *Config) Prepare() error {
	if c.prepared {
		return errors.New("config has already been prepared")
	}

	if c.ManifestFile == "" {
		return errors.New("manifest file is required")
	} else if !FileExists(c.ManifestFile) {
		return fmt.Errorf("manifest file not found: %s", c.ManifestFile)
	}
	switch c.Compiler {
	case "":
		c.Compiler = CompilerPackages
	case CompilerPackages, CompilerTypes, CompilerNone:
	default:
		return fmt.Errorf("unknown compiler %q, values can be: %s, %s, %s",
			c.Compiler, CompilerPackages, CompilerTypes, CompilerNone)
	}
	if c.ReportChartsFile != "" {
		ext := strings.ToLower(filepath.Ext(c.ReportChartsFile))
		if !slices.Contains([]string{".png", ".jpg", ".jpeg", ".svg"}, ext) {
			return fmt.Errorf("unhandled chart file type: %s", c.ReportChartsFile)
		}
	}
	if c.QualifyImport != "" && c.Qualify == "" {
		return errors.New("-qualifyimport requires -qualify")
	}
	if c.ProjectDir != "" {
		absProjDir, err := filepath.Abs(c.ProjectDir)
		if err != nil {
			return fmt.Errorf("error resolving project directory: %w", err)
		}
		c.AbsProjDir = absProjDir
	}
	if c.CacheMB <= 0 {
		c.CacheMB = 64
	}

	c.prepared = true
	return nil
}

func (c *Config) compiler() Compiler {
	switch c.Compiler {
	case CompilerTypes:
		return TypesCompiler{}
	case CompilerNone:
		return nil
	default:
		return PackagesCompiler{Env: GoEnv(c.Gopath, c.Gomodcache)}
	}
}

// Engine applies the patches of a manifest to Go source.
type Engine struct {
	Config *Config
	Editor *SourceEditor
	// Dialect lowers every insertion, defaults to GoDialect.
	Dialect Dialect
}

// NewEngine creates an Engine using the configured compiler.
func NewEngine(config *Config) *Engine {
	return &Engine{Config: config}
}

// Run loads the manifest, applies each patch in priority order, commits the edited files and writes the reports.
// A failed patch does not prevent the others from being applied, Run then returns ErrPatchesFailed.
func (e *Engine) Run() error {
	startTime := time.Now()

	if err := e.Config.Prepare(); err != nil {
		return err
	}
	manifest, err := LoadManifest(e.Config.ManifestFile)
	if err != nil {
		return err
	}
	if e.Config.Qualify != "" {
		manifest.Qualify, manifest.QualifyImport = e.Config.Qualify, e.Config.QualifyImport
	}
	if e.Editor == nil {
		e.Editor = &SourceEditor{Compiler: e.Config.compiler()}
	}
	if e.Dialect == nil {
		e.Dialect = GoDialect{}
	}

	var store Storage
	if e.Config.JournalDir == "" {
		store = NewMemStorage()
	} else if e.Config.StorageMetrics {
		if store, err = NewBadgerMetricsStorage(e.Config.JournalDir, e.Config.CacheMB); err != nil {
			return err
		}
	} else if store, err = NewBadgerStorage(e.Config.JournalDir, e.Config.CacheMB); err != nil {
		return err
	}
	defer store.Close()
	journal, err := NewJournal(store)
	if err != nil {
		return err
	}

	var debug io.Writer = TeeWriter(e.Config.DebugWriter)
	if e.Config.DebugFile != "" {
		f, err := os.Create(e.Config.DebugFile)
		if err != nil {
			return fmt.Errorf("create debug file failed: %w", err)
		}
		defer func() { _ = f.Close() }()
		debug = TeeWriter(e.Config.DebugWriter, f) // only the file is closed, DebugWriter belongs to the caller
	}

	entries := slices.Clone(manifest.Patches)
	SortByPriority(entries)
	log.Printf("Applying %d patches from %s", len(entries), e.Config.ManifestFile)

	report := ReportMetrics{GeneratedAt: startTime}
	var inserted []JournalEntry
	for i, entry := range entries {
		pr, journalEntries := e.applyEntry(manifest, entry, debug)
		inserted = append(inserted, journalEntries...)
		if pr.Status == statusFailed {
			log.Printf("%sPatch %s failed (%d/%d): %s", ErrorLogPrefix, pr.Name, i+1, len(entries), pr.Error)
		} else {
			log.Printf("Patch %s %s (%d/%d)", pr.Name, pr.Status, i+1, len(entries))
		}
		report.PatchDetails = append(report.PatchDetails, pr)
	}
	report.Tally()
	// a failed patch keeps the points inserted before its failure, so files are collected per point
	modified := make(map[string]bool)
	for _, je := range inserted {
		modified[je.File] = true
	}
	for f := range modified {
		report.ModifiedFiles = append(report.ModifiedFiles, f)
	}
	slices.Sort(report.ModifiedFiles)

	var commitErr error
	if e.Config.DryRun {
		log.Printf("Dry run, %d files left unchanged", len(report.ModifiedFiles))
	} else if commitErr = e.Editor.Commit(); commitErr == nil {
		report.Committed = true
		for _, f := range report.ModifiedFiles {
			log.Printf("Patched: %s", f)
		}
	}
	for _, je := range inserted {
		je.Committed = report.Committed
		if _, err := journal.Record(je); err != nil {
			log.Printf("%s%v", ErrorLogPrefix, err)
		}
	}
	if commitErr != nil {
		return fmt.Errorf("commit failure: %w", commitErr)
	}
	if ms, ok := store.(MetricsStorage); ok {
		report.JournalCache = newCacheReport(ms.CacheMetrics())
		if report.JournalCache != nil {
			log.Printf("Journal index cache: %d hits, %d misses", report.JournalCache.Hits, report.JournalCache.Misses)
		}
	}
	report.RunDuration = time.Since(startTime).Milliseconds()

	if err := e.writeReports(report); err != nil {
		return err
	}
	if report.FailedCount > 0 {
		return fmt.Errorf("%w: %d of %d", ErrPatchesFailed, report.FailedCount, report.PatchCount)
	}
	return nil
}

func (e *Engine) writeReports(report ReportMetrics) error {
	if e.Config.ReportJsonFile != "" {
		reportMap, err := BuildReportMap(report)
		if err != nil {
			return err
		} else if err := reportMap.WriteToFile(e.Config.ReportJsonFile); err != nil {
			return err
		}
		log.Println("Report file wrote: " + e.Config.ReportJsonFile)
	}
	if e.Config.ReportChartsFile != "" {
		if err := WriteReportCharts(e.Config.ReportChartsFile, report); err != nil {
			return err
		}
		log.Println("Report file wrote: " + e.Config.ReportChartsFile)
	}
	return nil
}

// applyEntry applies a single manifest entry, every failure is captured in the returned report.
// The journal entries of the inserted points are returned to be recorded once the run is committed.
func (e *Engine) applyEntry(manifest *Manifest, entry PatchEntry, debug io.Writer) (PatchReport, []JournalEntry) {
	pr := PatchReport{
		Name:     entry.Name,
		Kind:     entry.Kind().String(),
		Ordering: entry.Kind().Priority(),
		Target:   entry.Target,
		File:     entry.TargetFile,
		Status:   statusFailed,
	}
	if entry.Kind() != PatchInsert {
		pr.Status = statusSkipped
		pr.Error = "only insert patches are applied"
		return pr, nil
	}
	fail := func(err error) (PatchReport, []JournalEntry) {
		pr.Error = err.Error()
		return pr, nil
	}

	if e.Config.AbsProjDir != "" {
		for _, f := range []string{entry.TargetFile, entry.PatchFile} {
			if within, err := fileWithinDir(f, e.Config.AbsProjDir); err != nil {
				return fail(err)
			} else if !within {
				return fail(fmt.Errorf("%s is outside project %s", f, e.Config.AbsProjDir))
			}
		}
	}

	target, err := e.Editor.Target(entry.TargetFile, entry.Target)
	if err != nil {
		return fail(err)
	}
	pr.Target = target.FunctionIdent
	pr.File = target.FilePath
	patchPath, err := filepath.Abs(entry.PatchFile)
	if err != nil {
		return fail(err)
	}
	patch, err := LoadPatchFunc(patchPath, entry.PatchFunc, filepath.Dir(patchPath) != filepath.Dir(target.FilePath))
	if err != nil {
		return fail(err)
	}
	target.Imports = slices.Clone(patch.Imports)
	if spec := manifest.QualifyImportSpec(); spec != nil {
		target.Imports = append(target.Imports, *spec)
	}

	ip := &InsertPatch{
		Target:        target,
		Patch:         patch,
		LocalVars:     slices.Concat(patch.LocalVars, entry.LocalVars),
		Points:        ResolvePoints(target.StartLine(), slices.Concat(patch.Lines, entry.Lines), slices.Concat(patch.RelativeLines, entry.RelativeLines)),
		Dialect:       e.Dialect,
		QualifyPrefix: manifest.Qualify,
		Debug:         debug,
	}
	before, beforeErr := target.Source()
	if beforeErr != nil {
		log.Printf("%sUnable to read %s before patching: %v", ErrorLogPrefix, target.FunctionIdent, beforeErr)
	}
	log.Print(ip.DebugMessage())
	applyErr := ip.Apply()
	var journalEntries []JournalEntry
	for _, o := range ip.Outcomes() {
		pr.Points = append(pr.Points, newPointReport(o))
		if o.State != PointInserted {
			continue
		}
		journalEntries = append(journalEntries, JournalEntry{
			Patch:     entry.Name,
			Target:    target.FunctionIdent,
			File:      target.FilePath,
			PointType: o.Point.Type.String(),
			Line:      o.Point.Line,
			RelLine:   o.Point.RelativeLine,
			Variant:   o.Variant,
			Source:    o.Source,
		})
	}
	if applyErr != nil {
		var pe *PatchingError
		if errors.As(applyErr, &pe) && pe.Source != "" {
			log.Printf("%sRejected source:\n%s", ErrorLogPrefix, limitStringLines(pe.Source, 20, true))
		}
		pr.Error = applyErr.Error()
	} else {
		pr.Status = statusApplied
	}
	if len(journalEntries) > 0 && beforeErr == nil {
		if after, err := target.Source(); err != nil {
			log.Printf("%sUnable to read %s after patching: %v", ErrorLogPrefix, target.FunctionIdent, err)
		} else {
			pr.Diff = FunctionDiff(target.FunctionIdent, before, after)
		}
	}
	return pr, journalEntries
}
