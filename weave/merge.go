package weave

import (
	"fmt"

	"github.com/chazu/weft/pkg/classfile"
)

// Observer is notified after a transform completes. Observer failures never
// affect the transform result; implementations handle their own errors.
type Observer interface {
	ClassTransformed(target string, traits []string, before, after []byte)
}

// Session drives trait application. One session serves many transforms; the
// metadata model and diagnostic sink are shared across them.
type Session struct {
	meta      *Metadata
	diag      Sink
	observers []Observer
}

// NewSession returns a session over the given metadata model. A nil sink
// falls back to process logging.
func NewSession(meta *Metadata, diag Sink) *Session {
	if diag == nil {
		diag = NewLogSink()
	}
	return &Session{meta: meta, diag: diag}
}

// AddObserver registers a post-transform observer.
func (s *Session) AddObserver(o Observer) {
	s.observers = append(s.observers, o)
}

// Apply weaves the traits into the target class bytes and returns the
// rewritten class. Traits are applied in precedence order. Any fatal error
// aborts the whole transform; partially woven output is never produced.
func (s *Session) Apply(targetBytes []byte, traits []*Trait) ([]byte, error) {
	cf, err := classfile.Parse(targetBytes)
	if err != nil {
		return nil, fmt.Errorf("parsing target class: %w", err)
	}

	ordered := append([]*Trait(nil), traits...)
	SortTraits(ordered)

	owners := &memberOwners{
		overwritten: make(map[string]string),
		plain:       make(map[string]string),
	}
	var bound []*boundInjector
	var applied []string

	for _, t := range ordered {
		pt, err := s.prepare(t, cf)
		if err != nil {
			return nil, s.fatal(t.Name, cf.ThisClass, err)
		}
		bi, err := s.mergeTrait(cf, pt, owners)
		if err != nil {
			return nil, s.fatal(t.Name, cf.ThisClass, err)
		}
		bound = append(bound, bi...)
		applied = append(applied, t.Name)
	}

	if err := s.inject(cf, bound); err != nil {
		return nil, err
	}

	out, err := cf.Serialize()
	if err != nil {
		return nil, fmt.Errorf("serializing %s: %w", cf.ThisClass, err)
	}
	for _, o := range s.observers {
		o.ClassTransformed(cf.ThisClass, applied, targetBytes, out)
	}
	return out, nil
}

func (s *Session) fatal(trait, target string, err error) error {
	s.diag.Report(Diagnostic{
		Severity: SeverityError,
		Trait:    trait,
		Target:   target,
		Message:  err.Error(),
	})
	return err
}

// ---------------------------------------------------------------------------
// Preparation
// ---------------------------------------------------------------------------

// preparedTrait is one trait specialized for a single target: member bodies
// cloned, self references retargeted, privates and handlers uniquified.
// Preparing fresh copies per target keeps a trait reusable across targets.
type preparedTrait struct {
	trait    *Trait
	renames  map[string]string
	fields   []*classfile.FieldInfo
	methods  []*classfile.MethodInfo
	handlers map[string]*classfile.MethodInfo // original "name(desc)" -> merged copy
}

func (s *Session) prepare(t *Trait, target *classfile.ClassFile) (*preparedTrait, error) {
	pt := &preparedTrait{
		trait:    t,
		renames:  make(map[string]string),
		handlers: make(map[string]*classfile.MethodInfo),
	}
	tag := t.tag()

	// Shadow aliases resolve to the real target member name; everything else
	// private or handler-shaped gets a name no target member can collide with.
	for alias, real := range t.Def.Aliases {
		pt.renames[alias] = real
	}
	for _, m := range t.Class.Methods {
		switch {
		case m.IsConstructor() || m.Name == "<clinit>":
		case t.IsShadow(m.Name) || t.IsOverwrite(m.Name, m.Descriptor):
		case t.IsInjector(m.Name, m.Descriptor) || m.IsPrivate():
			pt.renames[m.Name] = m.Name + "$weft$" + tag
		}
	}
	for _, f := range t.Class.Fields {
		if !t.IsShadow(f.Name) && f.IsPrivate() {
			if _, aliased := t.Def.Aliases[f.Name]; !aliased {
				pt.renames[f.Name] = f.Name + "$weft$" + tag
			}
		}
	}

	for _, f := range t.Class.Fields {
		if t.IsShadow(f.Name) {
			continue
		}
		if _, aliased := t.Def.Aliases[f.Name]; aliased {
			continue
		}
		fc := *f
		if nn, ok := pt.renames[f.Name]; ok {
			fc.Name = nn
		}
		// Raw attribute bodies carry indices into the trait's constant pool
		// and would be misread against the target's, so they are dropped.
		// ConstantValue survives because the parser decodes it symbolically.
		s.dropForeignAttributes(t.Name, target.ThisClass, f.Name, fc.Attributes)
		fc.Attributes = nil
		pt.fields = append(pt.fields, &fc)
	}

	for _, m := range t.Class.Methods {
		if m.IsConstructor() || m.Name == "<clinit>" {
			continue
		}
		if t.IsShadow(m.Name) {
			continue
		}
		if _, aliased := t.Def.Aliases[m.Name]; aliased {
			continue
		}
		mc := m.Clone()
		if nn, ok := pt.renames[m.Name]; ok {
			mc.Name = nn
		}
		if t.IsInjector(m.Name, m.Descriptor) {
			mc.AccessFlags = mc.AccessFlags&^(classfile.AccPublic|classfile.AccProtected) |
				classfile.AccPrivate | classfile.AccSynthetic
			pt.handlers[m.Name+m.Descriptor] = mc
		}
		if mc.Code != nil {
			if err := rewriteOwners(mc.Code, t.Name, target.ThisClass, pt.renames); err != nil {
				return nil, fmt.Errorf("preparing %s.%s%s: %w", t.Name, m.Name, m.Descriptor, err)
			}
		}
		s.dropForeignAttributes(t.Name, target.ThisClass, mc.Name+mc.Descriptor, mc.Attributes)
		mc.Attributes = nil
		pt.methods = append(pt.methods, mc)
	}
	return pt, nil
}

// dropForeignAttributes reports one warning per attribute a merged member
// loses on its way into the target class.
func (s *Session) dropForeignAttributes(trait, target, site string, attrs []classfile.AttributeInfo) {
	for _, a := range attrs {
		s.diag.Report(Diagnostic{
			Severity: SeverityWarning,
			Trait:    trait,
			Target:   target,
			Site:     site,
			Message:  fmt.Sprintf("attribute %s dropped: its constant references cannot cross into the target class", a.Name),
		})
	}
}

// rewriteOwners retargets self references in a cloned trait body: the trait's
// own name becomes the target name, and renamed members follow their merged
// names. Bodies copied across constant pools cannot carry invokedynamic
// sites, whose bootstrap methods live outside the pool entries the engine
// models symbolically.
func rewriteOwners(code *classfile.Code, traitName, targetName string, renames map[string]string) error {
	for _, in := range code.Insns {
		switch in.Kind {
		case classfile.KindInvokeDynamic:
			return fmt.Errorf("invokedynamic cannot be copied between classes")
		case classfile.KindInvoke, classfile.KindField:
			if in.Owner == traitName {
				in.Owner = targetName
				if nn, ok := renames[in.Name]; ok {
					in.Name = nn
				}
			}
		case classfile.KindType:
			if in.ClassName == traitName {
				in.ClassName = targetName
			}
		}
	}
	for i := range code.Handlers {
		if code.Handlers[i].CatchType == traitName {
			code.Handlers[i].CatchType = targetName
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Member merging
// ---------------------------------------------------------------------------

// memberOwners tracks which trait contributed each merged member, so that a
// later (lower-precedence) trait colliding on the same member is skipped with
// a warning instead of failing the transform. Collisions with the target's
// own members stay fatal.
type memberOwners struct {
	overwritten map[string]string // member key -> trait owning the body
	plain       map[string]string // member key -> trait that copied it
}

func (s *Session) mergeTrait(cf *classfile.ClassFile, pt *preparedTrait, owners *memberOwners) ([]*boundInjector, error) {
	t := pt.trait

	// A trait extending something off the target's hierarchy still merges,
	// but retargeted self references may then resolve to missing members.
	if ts := t.Class.SuperClass; ts != "" && ts != "java/lang/Object" && ts != cf.SuperClass {
		onChain := false
		if cf.SuperClass != "" {
			if anc, err := s.meta.HasSuperclass(cf.SuperClass, ts); err == nil && anc {
				onChain = true
			}
		}
		if !onChain {
			s.diag.Report(Diagnostic{
				Severity: SeverityWarning,
				Trait:    t.Name,
				Target:   cf.ThisClass,
				Message:  fmt.Sprintf("trait superclass %s is not on the target's hierarchy", ts),
			})
		}
	}

	for _, iface := range t.Class.Interfaces {
		if !containsString(cf.Interfaces, iface) {
			cf.Interfaces = append(cf.Interfaces, iface)
		}
	}

	for _, name := range t.Def.Shadows {
		if err := s.verifyShadow(cf, t, name); err != nil {
			return nil, err
		}
	}
	for alias, real := range t.Def.Aliases {
		if err := s.verifyShadow(cf, t, real); err != nil {
			return nil, fmt.Errorf("alias %s: %w", alias, err)
		}
	}

	for _, f := range pt.fields {
		if existing := cf.Field(f.Name); existing != nil {
			if existing.Descriptor == f.Descriptor &&
				existing.AccessFlags&classfile.AccStatic == f.AccessFlags&classfile.AccStatic {
				continue
			}
			return nil, fmt.Errorf("field %s collides with an existing target member", f.Name)
		}
		cf.Fields = append(cf.Fields, f)
	}

	for _, m := range pt.methods {
		key := m.Name + m.Descriptor
		if t.IsOverwrite(m.Name, m.Descriptor) {
			existing := cf.Method(m.Name, m.Descriptor)
			if existing == nil {
				return nil, &ResolutionError{
					Class: cf.ThisClass, Member: key,
					Trait: t.Name, Target: cf.ThisClass,
					Cause: fmt.Errorf("overwrite target missing"),
				}
			}
			if existing.IsFinal() {
				return nil, fmt.Errorf("cannot overwrite final method %s", key)
			}
			if owner, taken := owners.overwritten[key]; taken {
				s.diag.Report(Diagnostic{
					Severity: SeverityWarning,
					Trait:    t.Name,
					Target:   cf.ThisClass,
					Site:     key,
					Message:  fmt.Sprintf("overwrite skipped: body already owned by higher-priority trait %s", owner),
				})
				continue
			}
			existing.Code = m.Code
			owners.overwritten[key] = t.Name
			continue
		}
		if cf.Method(m.Name, m.Descriptor) != nil {
			if owner, merged := owners.plain[key]; merged {
				s.diag.Report(Diagnostic{
					Severity: SeverityWarning,
					Trait:    t.Name,
					Target:   cf.ThisClass,
					Site:     key,
					Message:  fmt.Sprintf("method already merged from higher-priority trait %s, skipped", owner),
				})
				continue
			}
			return nil, fmt.Errorf("method %s collides with an existing target member", key)
		}
		cf.Methods = append(cf.Methods, m)
		owners.plain[key] = t.Name
	}

	var bound []*boundInjector
	for i := range t.Def.Injectors {
		def := &t.Def.Injectors[i]
		handler := pt.handlers[def.Method]
		if handler == nil {
			return nil, fmt.Errorf("injector handler %s was not merged", def.Method)
		}
		bound = append(bound, bindInjector(t, def, handler))
	}
	return bound, nil
}

// verifyShadow checks that a shadowed member really exists on the target or
// somewhere it inherits from.
func (s *Session) verifyShadow(cf *classfile.ClassFile, t *Trait, name string) error {
	if cf.Field(name) != nil {
		return nil
	}
	for _, m := range cf.Methods {
		if m.Name == name {
			return nil
		}
	}
	if cf.SuperClass != "" {
		if _, _, err := s.meta.FindMember(cf.SuperClass, name, ""); err == nil {
			return nil
		}
	}
	for _, iface := range cf.Interfaces {
		if _, _, err := s.meta.FindMember(iface, name, ""); err == nil {
			return nil
		}
	}
	return &ResolutionError{
		Class: cf.ThisClass, Member: name,
		Trait: t.Name, Target: cf.ThisClass,
		Cause: fmt.Errorf("shadowed member not found"),
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Injection
// ---------------------------------------------------------------------------

type methodState struct {
	tc       *TargetContext
	an       *analysis
	original []*classfile.Insn // body before any injection; selectors run here
}

// inject runs every bound injector against its target method, in the order
// the traits were merged. Per-method scratch state is shared so local slots
// and stack growth compose across injectors.
func (s *Session) inject(cf *classfile.ClassFile, bound []*boundInjector) error {
	states := make(map[string]*methodState)

	for _, b := range bound {
		name, desc, err := splitMemberKey(b.def.Target)
		if err != nil {
			return s.fatal(b.trait.Name, cf.ThisClass, fmt.Errorf("injector %s: target %q: %w", b.describe(), b.def.Target, err))
		}
		m := cf.Method(name, desc)
		if m == nil || m.Code == nil {
			return s.fatal(b.trait.Name, cf.ThisClass, &ResolutionError{
				Class: cf.ThisClass, Member: b.def.Target,
				Trait: b.trait.Name, Target: cf.ThisClass,
				Cause: fmt.Errorf("injection target missing or abstract"),
			})
		}

		st := states[b.def.Target]
		if st == nil {
			tc, err := newTargetContext(cf.ThisClass, m, cf.SuperClass)
			if err != nil {
				return s.fatal(b.trait.Name, cf.ThisClass, err)
			}
			an, err := analyzeMethod(cf.ThisClass, m)
			if err != nil {
				return s.fatal(b.trait.Name, cf.ThisClass, &StructuralValidationError{
					Class: cf.ThisClass, Method: b.def.Target, Reason: err.Error(),
				})
			}
			st = &methodState{
				tc:       tc,
				an:       an,
				original: append([]*classfile.Insn(nil), m.Code.Insns...),
			}
			states[b.def.Target] = st
		}

		points, err := b.resolvePoints(st.original)
		if err != nil {
			s.diag.Report(Diagnostic{
				Severity: SeverityError,
				Trait:    b.trait.Name,
				Target:   cf.ThisClass,
				Site:     b.def.Target,
				Message:  err.Error(),
			})
			return err
		}
		if len(points) == 0 {
			s.diag.Report(Diagnostic{
				Severity: SeverityWarning,
				Trait:    b.trait.Name,
				Target:   cf.ThisClass,
				Site:     b.def.Target,
				Message:  fmt.Sprintf("optional injector %s matched nothing and was skipped", b.describe()),
			})
			continue
		}
		for _, in := range points {
			if err := b.apply(st.tc, st.an, in); err != nil {
				s.diag.Report(Diagnostic{
					Severity: SeverityError,
					Trait:    b.trait.Name,
					Target:   cf.ThisClass,
					Site:     b.def.Target,
					Message:  err.Error(),
				})
				return err
			}
		}
	}

	// Commit frame-size deltas, then re-analyze every touched method so a
	// structurally broken body is caught here instead of at class load.
	for key, st := range states {
		st.tc.Commit()
		an, err := analyzeMethod(cf.ThisClass, st.tc.Method)
		if err != nil {
			return &StructuralValidationError{Class: cf.ThisClass, Method: key, Reason: err.Error()}
		}
		if n := an.maxStackSlots(); n > st.tc.Method.Code.MaxStack {
			st.tc.Method.Code.MaxStack = n
		}
	}
	return nil
}
