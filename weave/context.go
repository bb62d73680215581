package weave

import (
	"fmt"

	"github.com/chazu/weft/pkg/classfile"
)

// InjectionNode wraps one instruction reference plus the record of which
// injectors have already transformed it. The decoration list preserves
// application order; a later injector sharing the node must declare itself
// compatible with the decorations already present.
type InjectionNode struct {
	Insn        *classfile.Insn
	decorations []string
	cb          *callbackState
}

// callbackState records the info object the first callback at a node built,
// so later callbacks sharing the node reuse it and observe earlier handlers'
// cancellation.
type callbackState struct {
	infoClass string
	infoSlot  int
	pendSlot  int
}

// Decorate records that the named injector has transformed this node.
func (n *InjectionNode) Decorate(key string) {
	n.decorations = append(n.decorations, key)
}

// Decorations returns the injector keys in application order.
func (n *InjectionNode) Decorations() []string {
	return append([]string(nil), n.decorations...)
}

// HasDecoration reports whether the named injector already touched the node.
func (n *InjectionNode) HasDecoration(key string) bool {
	for _, d := range n.decorations {
		if d == key {
			return true
		}
	}
	return false
}

// TargetContext is the mutable per (target class, target method) scratch
// state shared by every injector touching one method. The free-local counter
// only grows; extra stack demand is the max across injectors, never the sum,
// because injected fragments do not execute concurrently within one
// invocation.
type TargetContext struct {
	ClassName string
	Method    *classfile.MethodInfo
	Args      []classfile.Type
	Ret       classfile.Type
	Static    bool

	nextLocal  int
	nextLabel  classfile.LabelID
	extraStack int
	nodes      map[*classfile.Insn]*InjectionNode
	superInit  int // index of the constructor's super-init call, -1 otherwise
}

func newTargetContext(className string, m *classfile.MethodInfo, superName string) (*TargetContext, error) {
	args, ret, err := classfile.ParseMethodDescriptor(m.Descriptor)
	if err != nil {
		return nil, err
	}
	tc := &TargetContext{
		ClassName: className,
		Method:    m,
		Args:      args,
		Ret:       ret,
		Static:    m.IsStatic(),
		nextLocal: m.Code.MaxLocals,
		nodes:     make(map[*classfile.Insn]*InjectionNode),
		superInit: -1,
	}
	if m.IsConstructor() {
		tc.superInit = findSuperInit(m.Code.Insns, className, superName)
	}
	// Every label referenced anywhere in the body has a pseudo-instruction
	// node, so scanning those is enough to find the next free id.
	for _, in := range m.Code.Insns {
		if in.Kind == classfile.KindLabel && in.Label >= tc.nextLabel {
			tc.nextLabel = in.Label + 1
		}
	}
	return tc, nil
}

// findSuperInit locates the constructor's delegation call: the first
// invokespecial of an <init> on this class or its direct superclass.
func findSuperInit(insns []*classfile.Insn, className, superName string) int {
	for i, in := range insns {
		if in.Kind == classfile.KindInvoke && in.Opcode == classfile.OpInvokespecial &&
			in.Name == "<init>" && (in.Owner == superName || in.Owner == className) {
			return i
		}
	}
	return -1
}

// ArgSlots returns the slot count of the declared parameters including the
// receiver.
func (tc *TargetContext) ArgSlots() int {
	return classfile.ArgSlots(tc.Args, tc.Static)
}

// AllocLocal claims fresh local slots for a value of type t and returns the
// base slot. Slots are never reused within one method's injection pass.
func (tc *TargetContext) AllocLocal(t classfile.Type) int {
	slot := tc.nextLocal
	tc.nextLocal += t.Slots()
	return slot
}

// AllocLabel returns a fresh label id unused anywhere in the method body.
func (tc *TargetContext) AllocLabel() classfile.LabelID {
	id := tc.nextLabel
	tc.nextLabel++
	return id
}

// ReportStack records an injector's maximum transient operand stack growth.
func (tc *TargetContext) ReportStack(slots int) {
	if slots > tc.extraStack {
		tc.extraStack = slots
	}
}

// Node claims (or re-fetches) the injection node for an instruction.
func (tc *TargetContext) Node(in *classfile.Insn) *InjectionNode {
	if n, ok := tc.nodes[in]; ok {
		return n
	}
	n := &InjectionNode{Insn: in}
	tc.nodes[in] = n
	return n
}

// Claimed reports whether any injector has already claimed the instruction.
func (tc *TargetContext) Claimed(in *classfile.Insn) bool {
	n, ok := tc.nodes[in]
	return ok && len(n.decorations) > 0
}

// BeforeSuperInit reports whether the instruction sits before the
// constructor's super-initializer call. Always false outside constructors.
func (tc *TargetContext) BeforeSuperInit(in *classfile.Insn) bool {
	if tc.superInit < 0 {
		return false
	}
	idx := tc.IndexOf(in)
	return idx >= 0 && idx < tc.superInit
}

// IndexOf returns the current position of the instruction in the method
// body, or -1. Positions shift as fragments are inserted, so indices are
// always looked up fresh.
func (tc *TargetContext) IndexOf(in *classfile.Insn) int {
	for i, cur := range tc.Method.Code.Insns {
		if cur == in {
			return i
		}
	}
	return -1
}

// InsertBefore splices a fragment immediately before the instruction.
func (tc *TargetContext) InsertBefore(in *classfile.Insn, frag []*classfile.Insn) error {
	idx := tc.IndexOf(in)
	if idx < 0 {
		return fmt.Errorf("instruction no longer present in method body")
	}
	insns := tc.Method.Code.Insns
	out := make([]*classfile.Insn, 0, len(insns)+len(frag))
	out = append(out, insns[:idx]...)
	out = append(out, frag...)
	out = append(out, insns[idx:]...)
	tc.Method.Code.Insns = out
	if tc.superInit >= 0 && idx <= tc.superInit {
		tc.superInit += len(frag)
	}
	return nil
}

// Replace substitutes the instruction with a fragment.
func (tc *TargetContext) Replace(in *classfile.Insn, frag []*classfile.Insn) error {
	idx := tc.IndexOf(in)
	if idx < 0 {
		return fmt.Errorf("instruction no longer present in method body")
	}
	insns := tc.Method.Code.Insns
	out := make([]*classfile.Insn, 0, len(insns)+len(frag)-1)
	out = append(out, insns[:idx]...)
	out = append(out, frag...)
	out = append(out, insns[idx+1:]...)
	tc.Method.Code.Insns = out
	if tc.superInit >= 0 && idx < tc.superInit {
		tc.superInit += len(frag) - 1
	}
	return nil
}

// Commit folds the accumulated stack and locals bookkeeping back into the
// method header.
func (tc *TargetContext) Commit() {
	if tc.nextLocal > tc.Method.Code.MaxLocals {
		tc.Method.Code.MaxLocals = tc.nextLocal
	}
	tc.Method.Code.MaxStack += tc.extraStack
}
