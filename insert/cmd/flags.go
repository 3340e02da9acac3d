package cmd

import (
	"errors"
	"flag"
	"go/build"
	"os"
	"path/filepath"
	"strconv"

	"github.com/PatchLens/go-insert-patch/insert"
)

// CustomFlag defines a custom CLI option.
type CustomFlag struct {
	Name         string
	DefaultValue any
	Usage        string
	Type         string // "string", "int", "bool"
}

// CustomValues holds the parsed custom flags, converted to strings.
type CustomValues map[string]string

// ParseFlags builds Config from standard and custom flags.
func ParseFlags(customFlags []CustomFlag) (*insert.Config, CustomValues, error) {
	config := &insert.Config{}
	custom := make(CustomValues)

	// Define all standard flags
	manifestFile := flag.String("manifest", "", "Path to the patch manifest (.toml, .yaml)")
	projectDir := flag.String("project", "", "Restrict target and patch files to this directory")
	qualify := flag.String("qualify", "", "Prefix used to qualify type names when short names fail to compile (e.g. game.)")
	qualifyImport := flag.String("qualifyimport", "", "Import path the -qualify prefix refers to")
	compiler := flag.String("compiler", insert.CompilerPackages, "Insertion check, values can be: packages (default), types, none")
	journalDir := flag.String("journal", "", "Directory to persist the insertion journal, in memory if empty")
	cacheMB := flag.Int("cachemb", 64, "Journal cache memory budget in MB")
	storageMetrics := flag.Bool("storagemetrics", false, "Include journal cache metrics in the report")
	reportJsonFile := flag.String("json", "inspatch.json", "File to output patch details")
	reportChartsFile := flag.String("charts", "", "File to output patch overview chart image")
	debugFile := flag.String("debug", "", "File to output the source of every insertion")
	verbose := flag.Bool("v", false, "Print the source of every insertion")
	dryRun := flag.Bool("dryrun", false, "Apply patches without writing any file")

	// Define custom flags
	customPtrs := make(map[string]interface{})
	for _, cf := range customFlags {
		switch cf.Type {
		case "string":
			customPtrs[cf.Name] = flag.String(cf.Name, cf.DefaultValue.(string), cf.Usage)
		case "int":
			customPtrs[cf.Name] = flag.Int(cf.Name, cf.DefaultValue.(int), cf.Usage)
		case "bool":
			customPtrs[cf.Name] = flag.Bool(cf.Name, cf.DefaultValue.(bool), cf.Usage)
		}
	}

	flag.Parse()

	// Validate standard flags
	if *manifestFile == "" {
		return nil, nil, errors.New("usage: -manifest patches.toml [-qualify game. -qualifyimport example.com/game]")
	} else if *qualifyImport != "" && *qualify == "" {
		return nil, nil, errors.New("-qualifyimport requires -qualify")
	}

	// Populate config
	config.ManifestFile = *manifestFile
	config.ProjectDir = *projectDir
	config.Qualify = *qualify
	config.QualifyImport = *qualifyImport
	config.Compiler = *compiler
	config.JournalDir = *journalDir
	config.CacheMB = *cacheMB
	config.StorageMetrics = *storageMetrics
	config.ReportJsonFile = *reportJsonFile
	config.ReportChartsFile = *reportChartsFile
	config.DebugFile = *debugFile
	config.DryRun = *dryRun
	if *verbose {
		config.DebugWriter = os.Stdout
	}

	// Populate custom flags - convert all to strings for ease of use
	for name, ptr := range customPtrs {
		switch v := ptr.(type) {
		case *string:
			custom[name] = *v
		case *int:
			custom[name] = strconv.Itoa(*v)
		case *bool:
			custom[name] = strconv.FormatBool(*v)
		}
	}

	// Path resolution and environment setup
	if err := setupEnvironment(config); err != nil {
		return nil, nil, err
	}

	return config, custom, nil
}

func setupEnvironment(c *insert.Config) error {
	// Setup GOPATH and GOMODCACHE, used by the packages compiler
	c.Gopath = build.Default.GOPATH
	c.Gomodcache = os.Getenv("GOMODCACHE")
	if c.Gomodcache == "" {
		if c.Gopath == "" {
			return errors.New("neither GOMODCACHE nor GOPATH is set")
		}
		c.Gomodcache = filepath.Join(c.Gopath, "pkg", "mod")
	}

	return nil
}
