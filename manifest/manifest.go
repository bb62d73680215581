// Package manifest handles weft.toml traitpack configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/weft/weave"
)

// Manifest represents a weft.toml traitpack configuration.
type Manifest struct {
	Pack      Pack         `toml:"pack"`
	Classpath []string     `toml:"classpath"`
	Traits    []TraitEntry `toml:"trait"`
	Export    ExportConfig `toml:"export"`

	// Dir is the directory containing the weft.toml file (set at load time).
	Dir string `toml:"-"`
}

// Pack contains traitpack metadata.
type Pack struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// TraitEntry declares one trait class and how it applies.
type TraitEntry struct {
	Class      string            `toml:"class"` // internal name, e.g. com/example/FooTrait
	Path       string            `toml:"path"`  // .class file, relative to the manifest dir
	Priority   int               `toml:"priority"`
	Targets    []string          `toml:"targets"`
	Shadows    []string          `toml:"shadow"`
	Overwrites []string          `toml:"overwrite"`
	Aliases    map[string]string `toml:"alias"`
	Injects    []InjectEntry     `toml:"inject"`
	Slices     []SliceEntry      `toml:"slice"`
}

// InjectEntry declares one injector method of a trait.
type InjectEntry struct {
	Method   string `toml:"method"`
	Target   string `toml:"target"`
	Kind     string `toml:"kind"`
	At       string `toml:"at"`
	Selector string `toml:"selector"`
	Ordinal  *int   `toml:"ordinal"` // nil means all occurrences
	Slice    string `toml:"slice"`
	Require  int    `toml:"require"`
	Expect   int    `toml:"expect"`
	Optional bool   `toml:"optional"`

	Cancellable   bool `toml:"cancellable"`
	CaptureLocals bool `toml:"capture-locals"`
	ArgIndex      int  `toml:"arg-index"`
}

// SliceEntry declares a line range injectors can restrict their search to.
type SliceEntry struct {
	ID        string `toml:"id"`
	From      int    `toml:"from"`
	To        int    `toml:"to"`
	Exclusive bool   `toml:"exclusive"`
}

// ExportConfig configures the transform record store.
type ExportConfig struct {
	Database string `toml:"database"` // sqlite path, empty disables history
	Dir      string `toml:"dir"`      // woven .class output directory
}

// Load parses a weft.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "weft.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Defaults
	if len(m.Classpath) == 0 {
		m.Classpath = []string{"classes"}
	}
	if m.Export.Dir == "" {
		m.Export.Dir = "woven"
	}

	if err := m.check(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find a weft.toml file, then loads and
// returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, "weft.toml")
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

func (m *Manifest) check() error {
	seen := make(map[string]bool)
	for i := range m.Traits {
		t := &m.Traits[i]
		if t.Class == "" {
			return fmt.Errorf("trait %d: missing class", i)
		}
		if seen[t.Class] {
			return fmt.Errorf("trait %s declared twice", t.Class)
		}
		seen[t.Class] = true
		if t.Path == "" {
			return fmt.Errorf("trait %s: missing path", t.Class)
		}
		if len(t.Targets) == 0 {
			return fmt.Errorf("trait %s: no targets", t.Class)
		}
		for _, inj := range t.Injects {
			if _, err := weave.ParseInjectorKind(inj.Kind); err != nil {
				return fmt.Errorf("trait %s: inject %s: %w", t.Class, inj.Method, err)
			}
			if _, err := weave.ParsePointKind(inj.At); err != nil {
				return fmt.Errorf("trait %s: inject %s: %w", t.Class, inj.Method, err)
			}
		}
	}
	return nil
}

// ClasspathDirs returns absolute paths for the configured classpath roots.
func (m *Manifest) ClasspathDirs() []string {
	var paths []string
	for _, d := range m.Classpath {
		paths = append(paths, filepath.Join(m.Dir, d))
	}
	return paths
}

// ExportDir returns the absolute woven-class output directory.
func (m *Manifest) ExportDir() string {
	return filepath.Join(m.Dir, m.Export.Dir)
}

// DatabasePath returns the absolute history database path, or "" if history
// is disabled.
func (m *Manifest) DatabasePath() string {
	if m.Export.Database == "" {
		return ""
	}
	return filepath.Join(m.Dir, m.Export.Database)
}

// Def converts one trait entry to the weave layer's definition form.
func (t *TraitEntry) Def() weave.TraitDef {
	def := weave.TraitDef{
		Targets:    append([]string(nil), t.Targets...),
		Priority:   t.Priority,
		Shadows:    append([]string(nil), t.Shadows...),
		Overwrites: append([]string(nil), t.Overwrites...),
		Aliases:    t.Aliases,
	}
	for _, inj := range t.Injects {
		kind, _ := weave.ParseInjectorKind(inj.Kind)
		at, _ := weave.ParsePointKind(inj.At)
		ordinal := -1
		if inj.Ordinal != nil {
			ordinal = *inj.Ordinal
		}
		def.Injectors = append(def.Injectors, weave.InjectorDef{
			Method:        inj.Method,
			Target:        inj.Target,
			Kind:          kind,
			At:            at,
			Selector:      inj.Selector,
			Ordinal:       ordinal,
			Slice:         inj.Slice,
			Require:       inj.Require,
			Expect:        inj.Expect,
			Optional:      inj.Optional,
			Cancellable:   inj.Cancellable,
			CaptureLocals: inj.CaptureLocals,
			ArgIndex:      inj.ArgIndex,
		})
	}
	for _, sl := range t.Slices {
		def.Slices = append(def.Slices, weave.SliceDef{
			ID:        sl.ID,
			From:      sl.From,
			To:        sl.To,
			Exclusive: sl.Exclusive,
		})
	}
	return def
}
