package insert

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Manifest declares a set of patches to apply to a Go project. It is read from TOML or YAML.
type Manifest struct {
	// Qualify is the fallback prefix for explicit type names, e.g. "game.".
	Qualify string `toml:"qualify" yaml:"qualify"`
	// QualifyImport is the import path the Qualify prefix refers to.
	QualifyImport string `toml:"qualify-import" yaml:"qualify-import"`
	// Patches in declaration order.
	Patches []PatchEntry `toml:"patch" yaml:"patch"`

	// Dir is the directory containing the manifest file (set at load time).
	Dir string `toml:"-" yaml:"-"`
}

// PatchEntry is a single declared patch.
type PatchEntry struct {
	// Name identifies the patch in logs and reports, defaults to the patch function name.
	Name string `toml:"name" yaml:"name"`
	// KindName is the patch kind, defaults to "insert".
	KindName string `toml:"kind" yaml:"kind"`
	// TargetFile is the file declaring the target function, relative to the manifest.
	TargetFile string `toml:"target-file" yaml:"target-file"`
	// Target is the function ident ("Recv.Func", "Func" or "pkg:Func").
	Target string `toml:"target" yaml:"target"`
	// PatchFile is the file declaring the patch function, relative to the manifest.
	PatchFile string `toml:"patch-file" yaml:"patch-file"`
	// PatchFunc is the patch function name.
	PatchFunc string `toml:"patch-func" yaml:"patch-func"`
	// LocalVars are appended to the locals declared by the patch directives.
	LocalVars []string `toml:"localvars" yaml:"localvars"`
	// Lines are absolute insertion lines.
	Lines []int `toml:"loc" yaml:"loc"`
	// RelativeLines are insertion lines relative to the target start.
	RelativeLines []int `toml:"rloc" yaml:"rloc"`

	kind PatchKind
}

// Kind returns the parsed patch kind.
func (e PatchEntry) Kind() PatchKind {
	return e.kind
}

// LoadManifest parses a manifest, the format is selected by the file extension.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		err = toml.Unmarshal(data, &m)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &m)
	default:
		return nil, fmt.Errorf("unsupported manifest format %q: %s", ext, path)
	}
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	if err := m.prepare(); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
	}
	return &m, nil
}

// prepare applies defaults and validates every entry.
func (m *Manifest) prepare() error {
	var errs []error
	for i := range m.Patches {
		e := &m.Patches[i]
		if e.KindName == "" {
			e.KindName = PatchInsert.String()
		}
		kind, err := ParsePatchKind(e.KindName)
		if err != nil {
			errs = append(errs, fmt.Errorf("patch %d: %w", i, err))
			continue
		}
		e.kind = kind
		if e.Name == "" {
			e.Name = e.PatchFunc
		}
		if e.TargetFile == "" || e.Target == "" {
			errs = append(errs, fmt.Errorf("patch %d (%s): target-file and target are required", i, e.Name))
		}
		if e.PatchFile == "" || e.PatchFunc == "" {
			errs = append(errs, fmt.Errorf("patch %d (%s): patch-file and patch-func are required", i, e.Name))
		}
		e.TargetFile = m.resolve(e.TargetFile)
		e.PatchFile = m.resolve(e.PatchFile)
	}
	if m.QualifyImport != "" && m.Qualify == "" {
		errs = append(errs, errors.New("qualify-import requires qualify"))
	}
	return errors.Join(errs...)
}

func (m *Manifest) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(m.Dir, path)
}

// QualifyImportSpec returns the import backing the qualify prefix, nil if none is declared.
func (m *Manifest) QualifyImportSpec() *ImportSpec {
	if m.QualifyImport == "" {
		return nil
	}
	return &ImportSpec{Name: strings.TrimSuffix(m.Qualify, "."), Path: m.QualifyImport}
}
