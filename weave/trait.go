package weave

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/chazu/weft/pkg/classfile"
)

// InjectorKind names the rewrite an injector performs.
type InjectorKind string

const (
	KindCallback  InjectorKind = "callback"
	KindRedirect  InjectorKind = "redirect"
	KindModifyArg InjectorKind = "modify-arg"
)

// ParseInjectorKind validates an injector kind name.
func ParseInjectorKind(s string) (InjectorKind, error) {
	switch k := InjectorKind(strings.ToLower(s)); k {
	case KindCallback, KindRedirect, KindModifyArg:
		return k, nil
	default:
		return "", fmt.Errorf("unknown injector kind %q", s)
	}
}

// InjectorDef is the declarative description of one injector method, as
// carried by the traitpack metadata.
type InjectorDef struct {
	Method        string // handler: "name(desc)" within the trait class
	Target        string // target method: "name(desc)" within the target class
	Kind          InjectorKind
	At            PointKind
	Selector      string // member selector for INVOKE/FIELD/NEW points
	Ordinal       int    // -1 = all occurrences
	Slice         string // optional slice id
	Require       int    // minimum matches; 0 with Optional unset means "at least 1"
	Expect        int    // maximum matches; 0 = unlimited
	Optional      bool
	Cancellable   bool
	CaptureLocals bool
	ArgIndex      int // modify-arg: which argument to rewrite
}

// SliceDef names a line range usable by injector selectors.
type SliceDef struct {
	ID        string
	From, To  int
	Exclusive bool
}

// TraitDef is the structured metadata accompanying a trait's class bytes.
type TraitDef struct {
	Targets    []string
	Priority   int
	Shadows    []string          // member names bound without copying
	Overwrites []string          // "name(desc)" members replacing target bodies
	Aliases    map[string]string // shadow alias -> real target member name
	Injectors  []InjectorDef
	Slices     []SliceDef
}

// Trait is a parsed trait ready for application.
type Trait struct {
	Name      string
	Class     *classfile.ClassFile
	Def       TraitDef
	DeclOrder int // registration order, breaks priority ties

	shadows    map[string]bool
	overwrites map[string]bool
	slices     map[string]SliceDef
	injectors  map[string]bool // handler "name(desc)" keys
}

// ParseTrait parses trait class bytes and binds them to their metadata.
func ParseTrait(data []byte, def TraitDef) (*Trait, error) {
	cf, err := classfile.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing trait class: %w", err)
	}
	return NewTrait(cf, def)
}

// NewTrait binds an already-parsed trait class to its metadata and validates
// that every referenced member exists.
func NewTrait(cf *classfile.ClassFile, def TraitDef) (*Trait, error) {
	t := &Trait{
		Name:       cf.ThisClass,
		Class:      cf,
		Def:        def,
		shadows:    make(map[string]bool),
		overwrites: make(map[string]bool),
		slices:     make(map[string]SliceDef),
		injectors:  make(map[string]bool),
	}
	for _, s := range def.Shadows {
		t.shadows[s] = true
	}
	for _, o := range def.Overwrites {
		name, desc, err := splitMemberKey(o)
		if err != nil {
			return nil, fmt.Errorf("trait %s: overwrite %q: %w", t.Name, o, err)
		}
		if cf.Method(name, desc) == nil {
			return nil, fmt.Errorf("trait %s: overwrite member %s not declared", t.Name, o)
		}
		t.overwrites[o] = true
	}
	for _, s := range def.Slices {
		if _, dup := t.slices[s.ID]; dup {
			return nil, fmt.Errorf("trait %s: duplicate slice id %q", t.Name, s.ID)
		}
		t.slices[s.ID] = s
	}
	for i := range def.Injectors {
		inj := &def.Injectors[i]
		name, desc, err := splitMemberKey(inj.Method)
		if err != nil {
			return nil, fmt.Errorf("trait %s: injector method %q: %w", t.Name, inj.Method, err)
		}
		if cf.Method(name, desc) == nil {
			return nil, fmt.Errorf("trait %s: injector method %s not declared", t.Name, inj.Method)
		}
		if inj.Slice != "" {
			if _, ok := t.slices[inj.Slice]; !ok {
				return nil, fmt.Errorf("trait %s: injector %s references unknown slice %q", t.Name, inj.Method, inj.Slice)
			}
		}
		if _, err := ParsePointKind(string(inj.At)); err != nil {
			return nil, fmt.Errorf("trait %s: injector %s: %w", t.Name, inj.Method, err)
		}
		t.injectors[inj.Method] = true
	}
	return t, nil
}

// IsShadow reports whether the named member binds without copying.
func (t *Trait) IsShadow(name string) bool { return t.shadows[name] }

// IsOverwrite reports whether the member replaces the target's body.
func (t *Trait) IsOverwrite(name, desc string) bool { return t.overwrites[name+desc] }

// IsInjector reports whether the method is an injector handler.
func (t *Trait) IsInjector(name, desc string) bool { return t.injectors[name+desc] }

// SliceByID returns a declared slice definition.
func (t *Trait) SliceByID(id string) (SliceDef, bool) {
	s, ok := t.slices[id]
	return s, ok
}

// TargetsClass reports whether the trait applies to the named class.
func (t *Trait) TargetsClass(name string) bool {
	for _, target := range t.Def.Targets {
		if target == name {
			return true
		}
	}
	return false
}

// tag returns the short uniquifier used when renaming this trait's private
// and handler members into the target.
func (t *Trait) tag() string {
	name := t.Name
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	return name
}

func splitMemberKey(s string) (name, desc string, err error) {
	paren := strings.IndexByte(s, '(')
	if paren <= 0 {
		return "", "", fmt.Errorf("want \"name(desc)\" form")
	}
	return s[:paren], s[paren:], nil
}

// ---------------------------------------------------------------------------
// Precedence
// ---------------------------------------------------------------------------

// Less orders two traits for application: higher priority first, then
// earlier declaration. Kept as a pure comparator so the ordering rule is
// independently testable.
func Less(a, b *Trait) bool {
	if a.Def.Priority != b.Def.Priority {
		return a.Def.Priority > b.Def.Priority
	}
	return a.DeclOrder < b.DeclOrder
}

// SortTraits orders a trait list by precedence, stably.
func SortTraits(traits []*Trait) {
	sort.SliceStable(traits, func(i, j int) bool { return Less(traits[i], traits[j]) })
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

// Registry is the shared trait store. Reads are concurrent; registration is
// expected during setup but remains safe at any time.
type Registry struct {
	mu     sync.RWMutex
	order  int
	traits []*Trait
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a trait, stamping its declaration order.
func (r *Registry) Register(t *Trait) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t.DeclOrder = r.order
	r.order++
	r.traits = append(r.traits, t)
}

// ForTarget returns the traits applying to the named class, in application
// order.
func (r *Registry) ForTarget(name string) []*Trait {
	r.mu.RLock()
	var out []*Trait
	for _, t := range r.traits {
		if t.TargetsClass(name) {
			out = append(out, t)
		}
	}
	r.mu.RUnlock()
	SortTraits(out)
	return out
}

// Len returns the number of registered traits.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.traits)
}
