package weave

import (
	"fmt"

	"github.com/chazu/weft/pkg/classfile"
)

// Pseudo-types used only inside the analysis lattice. The null type merges
// into any reference; conflict absorbs everything and marks a slot whose
// inferred type cannot be resolved.
var (
	undefType    = classfile.Type{}
	conflictType = classfile.Type{Desc: "!"}
	nullType     = classfile.Type{Desc: "Lweft/internal/Null;"}
	intType      = classfile.Type{Desc: "I"}
	longType     = classfile.Type{Desc: "J"}
	floatType    = classfile.Type{Desc: "F"}
	doubleType   = classfile.Type{Desc: "D"}
	throwable    = classfile.Type{Desc: "Ljava/lang/Throwable;"}
)

// LocalVar is one live local variable slot with its recovered type.
type LocalVar struct {
	Slot int
	Type classfile.Type
}

// frame is the machine state immediately before one instruction: local slot
// types and the operand stack. Wide values occupy a single stack entry but
// two local slots (the second is left undefined).
type frame struct {
	locals []classfile.Type
	stack  []classfile.Type
}

func (f *frame) clone() *frame {
	return &frame{
		locals: append([]classfile.Type(nil), f.locals...),
		stack:  append([]classfile.Type(nil), f.stack...),
	}
}

func (f *frame) push(t classfile.Type) { f.stack = append(f.stack, t) }

func (f *frame) pop() (classfile.Type, error) {
	if len(f.stack) == 0 {
		return undefType, fmt.Errorf("operand stack underflow")
	}
	t := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return t, nil
}

func (f *frame) setLocal(slot int, t classfile.Type) {
	for len(f.locals) <= slot+1 {
		f.locals = append(f.locals, undefType)
	}
	f.locals[slot] = t
	if t.IsWide() {
		f.locals[slot+1] = undefType
	}
}

func (f *frame) local(slot int) classfile.Type {
	if slot >= len(f.locals) {
		return undefType
	}
	return f.locals[slot]
}

// StackSize returns the current operand slot count (wide values count two).
func (f *frame) stackSlots() int {
	n := 0
	for _, t := range f.stack {
		n += t.Slots()
	}
	return n
}

func mergeType(a, b classfile.Type) classfile.Type {
	switch {
	case a == b:
		return a
	case a == undefType || b == undefType:
		return undefType
	case a == conflictType || b == conflictType:
		return conflictType
	case a == nullType && b.IsReference():
		return b
	case b == nullType && a.IsReference():
		return a
	case a.IsReference() && b.IsReference():
		// Supertype-only inference; reported as unresolvable so capture is
		// never based on a guess.
		return conflictType
	default:
		return conflictType
	}
}

// mergeFrame merges src into dst, reporting whether dst changed. A stack
// depth mismatch is a structural inconsistency.
func mergeFrame(dst, src *frame) (bool, error) {
	if len(dst.stack) != len(src.stack) {
		return false, fmt.Errorf("stack depth mismatch at merge point (%d vs %d)", len(dst.stack), len(src.stack))
	}
	changed := false
	for i := range dst.stack {
		if m := mergeType(dst.stack[i], src.stack[i]); m != dst.stack[i] {
			dst.stack[i] = m
			changed = true
		}
	}
	if len(src.locals) > len(dst.locals) {
		dst.locals = append(dst.locals, make([]classfile.Type, len(src.locals)-len(dst.locals))...)
	}
	for i := range dst.locals {
		var other classfile.Type
		if i < len(src.locals) {
			other = src.locals[i]
		}
		if m := mergeType(dst.locals[i], other); m != dst.locals[i] {
			dst.locals[i] = m
			changed = true
		}
	}
	return changed, nil
}

// analysis holds the per-instruction entry frames of one method body.
type analysis struct {
	insns  []*classfile.Insn
	frames []*frame // frame before insns[i]; nil where unreachable
	index  map[*classfile.Insn]int
	labels map[classfile.LabelID]int
}

// analyzeMethod runs forward data-flow over the method body, computing the
// frame at every reachable instruction. owner is the declaring class's
// internal name, used to type the receiver slot.
func analyzeMethod(owner string, m *classfile.MethodInfo) (*analysis, error) {
	if m.Code == nil {
		return nil, fmt.Errorf("method %s%s has no body", m.Name, m.Descriptor)
	}
	args, _, err := classfile.ParseMethodDescriptor(m.Descriptor)
	if err != nil {
		return nil, err
	}

	a := &analysis{
		insns:  m.Code.Insns,
		frames: make([]*frame, len(m.Code.Insns)),
		index:  make(map[*classfile.Insn]int, len(m.Code.Insns)),
		labels: make(map[classfile.LabelID]int),
	}
	for i, in := range a.insns {
		a.index[in] = i
		if in.Kind == classfile.KindLabel {
			a.labels[in.Label] = i
		}
	}

	entry := &frame{}
	slot := 0
	if !m.IsStatic() {
		entry.setLocal(0, classfile.ObjectOf(owner))
		slot = 1
	}
	for _, arg := range args {
		entry.setLocal(slot, arg)
		slot += arg.Slots()
	}

	// Exception handler ranges as index intervals.
	type handlerRange struct {
		from, to, target int
		catch            classfile.Type
	}
	var handlers []handlerRange
	for _, h := range m.Code.Handlers {
		from, ok1 := a.labels[h.Start]
		to, ok2 := a.labels[h.End]
		target, ok3 := a.labels[h.Handler]
		if !ok1 || !ok2 || !ok3 {
			return nil, fmt.Errorf("exception handler references missing label")
		}
		catch := throwable
		if h.CatchType != "" {
			catch = classfile.ObjectOf(h.CatchType)
		}
		handlers = append(handlers, handlerRange{from, to, target, catch})
	}

	if len(a.insns) == 0 {
		return a, nil
	}
	a.frames[0] = entry
	work := []int{0}

	flowTo := func(idx int, fr *frame) error {
		if idx >= len(a.insns) {
			return nil
		}
		if a.frames[idx] == nil {
			a.frames[idx] = fr.clone()
			work = append(work, idx)
			return nil
		}
		changed, err := mergeFrame(a.frames[idx], fr)
		if err != nil {
			return err
		}
		if changed {
			work = append(work, idx)
		}
		return nil
	}

	for len(work) > 0 {
		idx := work[len(work)-1]
		work = work[:len(work)-1]
		in := a.insns[idx]
		fr := a.frames[idx].clone()

		// Any instruction inside a protected region can transfer to its
		// handler with the locals as-is and just the exception on the stack.
		for _, h := range handlers {
			if idx >= h.from && idx < h.to {
				hf := &frame{locals: append([]classfile.Type(nil), fr.locals...), stack: []classfile.Type{h.catch}}
				if err := flowTo(h.target, hf); err != nil {
					return nil, err
				}
			}
		}

		next, branches, falls, err := step(in, fr)
		if err != nil {
			return nil, fmt.Errorf("at %s (index %d): %w", in.Opcode.Mnemonic(), idx, err)
		}
		if falls {
			if err := flowTo(idx+1, next); err != nil {
				return nil, err
			}
		}
		for _, lbl := range branches {
			tIdx, ok := a.labels[lbl]
			if !ok {
				return nil, fmt.Errorf("branch to undefined label %d", lbl)
			}
			if err := flowTo(tIdx, next); err != nil {
				return nil, err
			}
		}
	}
	return a, nil
}

// frameAt returns the entry frame of the given instruction node.
func (a *analysis) frameAt(in *classfile.Insn) (*frame, bool) {
	idx, ok := a.index[in]
	if !ok || a.frames[idx] == nil {
		return nil, false
	}
	return a.frames[idx], true
}

// maxStackSlots returns the deepest operand stack observed anywhere.
func (a *analysis) maxStackSlots() int {
	max := 0
	for i, fr := range a.frames {
		if fr == nil {
			continue
		}
		n := fr.stackSlots()
		// The instruction's own pushes peak after the entry frame; the exit
		// frame of insns[i] is the entry frame of a successor, so scanning
		// all entry frames covers every committed depth.
		_ = i
		if n > max {
			max = n
		}
	}
	return max
}

// LocalsAt recovers the live locals beyond the method's formal parameters at
// the given instruction. Slots with ambiguous or merely inferred-Object types
// are returned in the second list so the caller can disable capture with a
// diagnostic instead of guessing.
func (a *analysis) LocalsAt(in *classfile.Insn, argSlots int, declared []classfile.LocalVarEntry) (live []LocalVar, ambiguous []int, err error) {
	fr, ok := a.frameAt(in)
	if !ok {
		return nil, nil, fmt.Errorf("instruction is unreachable")
	}
	idx := a.index[in]

	for slot := argSlots; slot < len(fr.locals); slot++ {
		t := fr.locals[slot]
		if t == undefType {
			continue
		}
		if decl := a.declaredType(declared, slot, idx); decl != undefType {
			t = decl
		}
		if t == conflictType || t == nullType {
			ambiguous = append(ambiguous, slot)
			continue
		}
		live = append(live, LocalVar{Slot: slot, Type: t})
	}
	return live, ambiguous, nil
}

// declaredType looks up the LocalVariableTable entry covering the slot at
// the instruction index, if any.
func (a *analysis) declaredType(declared []classfile.LocalVarEntry, slot, idx int) classfile.Type {
	for _, lv := range declared {
		if lv.Slot != slot {
			continue
		}
		from, ok1 := a.labels[lv.Start]
		to, ok2 := a.labels[lv.End]
		if !ok1 || !ok2 {
			continue
		}
		if idx >= from && idx < to {
			return classfile.Type{Desc: lv.Desc}
		}
	}
	return undefType
}
