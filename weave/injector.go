package weave

import (
	"fmt"
	"strings"

	"github.com/chazu/weft/pkg/classfile"
)

// boundInjector is one injector definition after its handler method has been
// merged into the target class under its uniquified name. All rewriting runs
// against the merged copy so injected call sites resolve within the target.
type boundInjector struct {
	trait   *Trait
	def     *InjectorDef
	handler *classfile.MethodInfo
}

func bindInjector(t *Trait, def *InjectorDef, handler *classfile.MethodInfo) *boundInjector {
	return &boundInjector{trait: t, def: def, handler: handler}
}

// key identifies this injector in a node's decoration list. The kind prefix
// lets later injectors detect incompatible prior rewrites of the same node.
func (b *boundInjector) key() string {
	return string(b.def.Kind) + ":" + b.trait.Name + "#" + b.def.Method
}

func (b *boundInjector) describe() string {
	return b.trait.Name + "." + b.def.Method
}

// resolvePoints runs the injector's selector over the (possibly
// slice-filtered) instruction stream and enforces the match-count contract.
// The stream passed in is the method body as it looked before any injection,
// so every injector anchors on original instructions and injectors sharing a
// node compose instead of nesting. An optional injector with zero matches
// returns an empty list and no error.
func (b *boundInjector) resolvePoints(insns []*classfile.Insn) ([]*classfile.Insn, error) {
	sel := Selector{Ordinal: b.def.Ordinal}
	if b.def.Selector != "" {
		parsed, err := ParseSelector(b.def.Selector)
		if err != nil {
			return nil, err
		}
		parsed.Ordinal = b.def.Ordinal
		sel = parsed
	}

	if b.def.Slice != "" {
		sd, ok := b.trait.SliceByID(b.def.Slice)
		if !ok {
			return nil, &SliceError{Slice: b.def.Slice, Reason: "slice not declared by trait"}
		}
		filtered, err := ApplySlice(insns, Range{Start: sd.From, End: sd.To, Marker: sd.ID}, !sd.Exclusive)
		if err != nil {
			return nil, err
		}
		insns = filtered
	}

	res := Find(b.def.At, sel, insns)
	found := len(res.Matches)

	min := b.def.Require
	if min == 0 && !b.def.Optional {
		min = 1
	}
	if found < min {
		return nil, &SelectorError{
			Selector: b.selectorLabel(sel),
			Found:    found,
			Require:  min,
			Searched: res.describeSearch(),
		}
	}
	if b.def.Expect > 0 && found > b.def.Expect {
		return nil, &SelectorError{
			Selector: b.selectorLabel(sel),
			Found:    found,
			Expect:   b.def.Expect,
			Searched: res.describeSearch(),
		}
	}
	return res.Matches, nil
}

func (b *boundInjector) selectorLabel(sel Selector) string {
	if b.def.Selector != "" {
		return sel.String()
	}
	return string(b.def.At)
}

// checkSite enforces the staticness rules at one matched instruction. A
// static target method can only call static handlers, and so can any site in
// a constructor before the superclass initializer runs, because the receiver
// is not yet usable there.
func (b *boundInjector) checkSite(tc *TargetContext, in *classfile.Insn) error {
	if b.handler.IsStatic() {
		return nil
	}
	site := siteOf(tc, in)
	if tc.Static {
		return &StaticnessError{
			Handler: b.describe(),
			Site:    site,
			Reason:  "target method is static, handler must be static",
		}
	}
	if tc.BeforeSuperInit(in) {
		return &StaticnessError{
			Handler: b.describe(),
			Site:    site,
			Reason:  "site precedes the superclass initializer call, handler must be static",
		}
	}
	return nil
}

// apply rewrites one matched instruction, then records the injector on the
// node so later injectors sharing it can see what already happened.
func (b *boundInjector) apply(tc *TargetContext, an *analysis, in *classfile.Insn) error {
	if err := b.checkSite(tc, in); err != nil {
		return err
	}
	node := tc.Node(in)

	var err error
	switch b.def.Kind {
	case KindCallback:
		err = b.applyCallback(tc, an, in)
	case KindRedirect:
		if node.hasKind(KindRedirect) {
			err = fmt.Errorf("instruction at %s already redirected by %s", siteOf(tc, in), strings.Join(node.Decorations(), ", "))
		} else {
			err = b.applyRedirect(tc, in)
		}
	case KindModifyArg:
		err = b.applyModifyArg(tc, in)
	default:
		err = fmt.Errorf("unknown injector kind %q", b.def.Kind)
	}
	if err != nil {
		return err
	}
	node.Decorate(b.key())
	return nil
}

// hasKind reports whether any decoration on the node came from an injector of
// the given kind.
func (n *InjectionNode) hasKind(k InjectorKind) bool {
	prefix := string(k) + ":"
	for _, d := range n.decorations {
		if strings.HasPrefix(d, prefix) {
			return true
		}
	}
	return false
}

// siteOf renders a human-readable position for diagnostics.
func siteOf(tc *TargetContext, in *classfile.Insn) string {
	where := fmt.Sprintf("%s.%s%s", tc.ClassName, tc.Method.Name, tc.Method.Descriptor)
	switch in.Kind {
	case classfile.KindInvoke, classfile.KindField:
		return fmt.Sprintf("%s [%s %s.%s]", where, in.Opcode.Mnemonic(), in.Owner, in.Name)
	case classfile.KindType:
		return fmt.Sprintf("%s [%s %s]", where, in.Opcode.Mnemonic(), in.ClassName)
	default:
		return fmt.Sprintf("%s [%s]", where, in.Opcode.Mnemonic())
	}
}

// loadHandlerReceiver emits the aload_0 prefix for instance handlers.
func (b *boundInjector) loadHandlerReceiver(frag []*classfile.Insn) []*classfile.Insn {
	if b.handler.IsStatic() {
		return frag
	}
	return append(frag, classfile.Var(classfile.OpAload, 0))
}

// invokeHandler emits the call to the merged handler.
func (b *boundInjector) invokeHandler(tc *TargetContext, frag []*classfile.Insn) []*classfile.Insn {
	op := classfile.OpInvokespecial
	if b.handler.IsStatic() {
		op = classfile.OpInvokestatic
	}
	return append(frag, classfile.Invoke(op, tc.ClassName, b.handler.Name, b.handler.Descriptor))
}
