package weave

import (
	"fmt"
	"strings"

	"github.com/chazu/weft/pkg/classfile"
)

// applyRedirect replaces a matched invoke or field access with a call to the
// handler. The handler sees the original operands: the receiver (when the
// original had one) followed by the original arguments, and must produce the
// same result type.
func (b *boundInjector) applyRedirect(tc *TargetContext, in *classfile.Insn) error {
	switch in.Kind {
	case classfile.KindInvoke:
		return b.redirectInvoke(tc, in)
	case classfile.KindField:
		return b.redirectField(tc, in)
	default:
		return fmt.Errorf("redirect cannot rewrite %s at %s", in.Opcode.Mnemonic(), siteOf(tc, in))
	}
}

func (b *boundInjector) redirectInvoke(tc *TargetContext, in *classfile.Insn) error {
	args, ret, err := classfile.ParseMethodDescriptor(in.Desc)
	if err != nil {
		return err
	}
	var params []classfile.Type
	if in.Opcode != classfile.OpInvokestatic {
		params = append(params, classfile.ObjectOf(in.Owner))
	}
	params = append(params, args...)
	return b.redirectTo(tc, in, params, ret)
}

func (b *boundInjector) redirectField(tc *TargetContext, in *classfile.Insn) error {
	ft := classfile.Type{Desc: in.Desc}
	owner := classfile.ObjectOf(in.Owner)
	var params []classfile.Type
	ret := classfile.VoidType
	switch in.Opcode {
	case classfile.OpGetfield:
		params = []classfile.Type{owner}
		ret = ft
	case classfile.OpGetstatic:
		ret = ft
	case classfile.OpPutfield:
		params = []classfile.Type{owner, ft}
	case classfile.OpPutstatic:
		params = []classfile.Type{ft}
	}
	return b.redirectTo(tc, in, params, ret)
}

// redirectTo verifies the handler signature against the original operand
// shape and swaps the instruction. The handler may append the enclosing
// method's arguments after the original operands to observe the surrounding
// call. A static handler replaces the original in place; an instance handler
// needs its receiver under operands already on the stack, so the operands
// take a round trip through fresh locals.
func (b *boundInjector) redirectTo(tc *TargetContext, in *classfile.Insn, params []classfile.Type, ret classfile.Type) error {
	expected := methodDesc(params, ret)
	extended := false
	if b.handler.Descriptor != expected {
		ext := methodDesc(append(append([]classfile.Type(nil), params...), tc.Args...), ret)
		if b.handler.Descriptor != ext {
			return &SignatureError{Handler: b.describe(), Expected: expected, Found: b.handler.Descriptor}
		}
		extended = true
	}

	var extra []*classfile.Insn
	if extended {
		slot := 0
		if !tc.Static {
			slot = 1
		}
		for _, a := range tc.Args {
			extra = append(extra, classfile.Var(classfile.LoadOpcode(a), slot))
			slot += a.Slots()
		}
	}

	if b.handler.IsStatic() {
		frag := append(extra, classfile.Invoke(classfile.OpInvokestatic, tc.ClassName, b.handler.Name, b.handler.Descriptor))
		tc.ReportStack(classfile.ArgSlots(tc.Args, true))
		return tc.Replace(in, frag)
	}

	frag := marshalThroughLocals(tc, params)
	frag = append(frag, extra...)
	frag = b.invokeHandler(tc, frag)
	tc.ReportStack(1 + classfile.ArgSlots(tc.Args, true))
	return tc.Replace(in, frag)
}

// marshalThroughLocals spills the pending operands into fresh locals in
// reverse order, loads the enclosing instance, and reloads the operands on
// top of it.
func marshalThroughLocals(tc *TargetContext, params []classfile.Type) []*classfile.Insn {
	slots := make([]int, len(params))
	var frag []*classfile.Insn
	for i := len(params) - 1; i >= 0; i-- {
		slots[i] = tc.AllocLocal(params[i])
		frag = append(frag, classfile.Var(classfile.StoreOpcode(params[i]), slots[i]))
	}
	frag = append(frag, classfile.Var(classfile.OpAload, 0))
	for i, p := range params {
		frag = append(frag, classfile.Var(classfile.LoadOpcode(p), slots[i]))
	}
	return frag
}

func methodDesc(params []classfile.Type, ret classfile.Type) string {
	var sb strings.Builder
	sb.WriteByte('(')
	for _, p := range params {
		sb.WriteString(p.Desc)
	}
	sb.WriteByte(')')
	sb.WriteString(ret.Desc)
	return sb.String()
}
