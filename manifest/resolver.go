package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/weft/weave"
)

// ResolvedTrait pairs one manifest entry with its parsed trait.
type ResolvedTrait struct {
	Entry *TraitEntry
	Trait *weave.Trait
}

// Resolver loads the traits a manifest declares and serves class bytes off
// its classpath.
type Resolver struct {
	manifest *Manifest
}

// NewResolver creates a resolver for the manifest.
func NewResolver(m *Manifest) *Resolver {
	return &Resolver{manifest: m}
}

// Resolve loads and parses every declared trait, in declaration order.
func (r *Resolver) Resolve() ([]ResolvedTrait, error) {
	var out []ResolvedTrait
	for i := range r.manifest.Traits {
		entry := &r.manifest.Traits[i]
		path := filepath.Join(r.manifest.Dir, entry.Path)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("trait %s: %w", entry.Class, err)
		}
		t, err := weave.ParseTrait(data, entry.Def())
		if err != nil {
			return nil, fmt.Errorf("trait %s: %w", entry.Class, err)
		}
		if t.Name != entry.Class {
			return nil, fmt.Errorf("trait %s: class file declares %s", entry.Class, t.Name)
		}
		out = append(out, ResolvedTrait{Entry: entry, Trait: t})
	}
	return out, nil
}

// Registry loads every trait into a fresh registry.
func (r *Resolver) Registry() (*weave.Registry, error) {
	resolved, err := r.Resolve()
	if err != nil {
		return nil, err
	}
	reg := weave.NewRegistry()
	for _, rt := range resolved {
		reg.Register(rt.Trait)
	}
	return reg, nil
}

// ClassBytes locates a class on the manifest classpath by internal name.
// It satisfies weave.ByteResolver.
func (r *Resolver) ClassBytes(name string) ([]byte, error) {
	if strings.Contains(name, "..") {
		return nil, fmt.Errorf("invalid class name %q", name)
	}
	rel := filepath.FromSlash(name) + ".class"
	for _, dir := range r.manifest.ClasspathDirs() {
		path := filepath.Join(dir, rel)
		data, err := os.ReadFile(path)
		if err == nil {
			return data, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
	}
	return nil, fmt.Errorf("class %s not found on classpath", name)
}

// Targets returns the distinct target class names across all traits, in
// first-mention order.
func (r *Resolver) Targets() []string {
	seen := make(map[string]bool)
	var out []string
	for i := range r.manifest.Traits {
		for _, target := range r.manifest.Traits[i].Targets {
			if !seen[target] {
				seen[target] = true
				out = append(out, target)
			}
		}
	}
	return out
}
