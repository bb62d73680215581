package weave

import (
	"fmt"
	"strings"

	"github.com/chazu/weft/pkg/classfile"
)

// Runtime support classes injected call sites depend on. Targets of a void
// method get the plain info object; non-void targets get the returnable
// variant carrying the substitute return value.
const (
	callbackInfoClass       = "weft/runtime/CallbackInfo"
	callbackReturnableClass = "weft/runtime/CallbackInfoReturnable"
)

// applyCallback inserts a handler invocation before the matched instruction.
// The handler receives the target's arguments, an info object, and any
// captured locals; a cancellable callback may abort the target through the
// info object, substituting the return value for non-void targets.
func (b *boundInjector) applyCallback(tc *TargetContext, an *analysis, in *classfile.Insn) error {
	atReturn := b.def.At == AtReturn || b.def.At == AtTail
	pending := atReturn && !tc.Ret.IsVoid()

	infoClass := callbackInfoClass
	if !tc.Ret.IsVoid() {
		infoClass = callbackReturnableClass
	}

	var captured []LocalVar
	if b.def.CaptureLocals {
		live, ambiguous, err := an.LocalsAt(in, tc.ArgSlots(), tc.Method.Code.LocalVars)
		if err != nil {
			return fmt.Errorf("capturing locals at %s: %w", siteOf(tc, in), err)
		}
		if len(ambiguous) > 0 {
			return fmt.Errorf("cannot capture locals at %s: slots %v have unresolvable types", siteOf(tc, in), ambiguous)
		}
		captured = live
	}

	if err := b.checkCallbackSignature(tc, infoClass, captured); err != nil {
		return err
	}

	var frag []*classfile.Insn

	// A later callback on an already-claimed node reuses the first one's info
	// object, so it observes any cancellation an earlier handler requested.
	node := tc.Node(in)
	reuse := node.cb != nil && node.cb.infoClass == infoClass

	// At a return site for a non-void target the pending return value is on
	// the stack; park it so the info object can carry it and the original
	// return still finds it afterwards.
	pendSlot := -1
	if pending {
		if reuse && node.cb.pendSlot >= 0 {
			pendSlot = node.cb.pendSlot
		} else {
			pendSlot = tc.AllocLocal(tc.Ret)
		}
		frag = append(frag, classfile.Var(classfile.StoreOpcode(tc.Ret), pendSlot))
	}

	var infoSlot int
	if reuse {
		infoSlot = node.cb.infoSlot
	} else {
		infoSlot = tc.AllocLocal(classfile.ObjectOf(infoClass))
		frag = append(frag,
			classfile.TypeInsn(classfile.OpNew, infoClass),
			classfile.Simple(classfile.OpDup),
			stringConst(tc.Method.Name),
			pushBool(b.def.Cancellable),
			classfile.Invoke(classfile.OpInvokespecial, infoClass, "<init>", "(Ljava/lang/String;Z)V"),
		)
		if pending {
			frag = append(frag,
				classfile.Simple(classfile.OpDup),
				classfile.Var(classfile.LoadOpcode(tc.Ret), pendSlot),
			)
			frag = appendBox(frag, tc.Ret)
			frag = append(frag, classfile.Invoke(classfile.OpInvokevirtual, infoClass, "setReturnValue", "(Ljava/lang/Object;)V"))
		}
		frag = append(frag, classfile.Var(classfile.OpAstore, infoSlot))
		node.cb = &callbackState{infoClass: infoClass, infoSlot: infoSlot, pendSlot: pendSlot}
	}

	frag = b.loadHandlerReceiver(frag)
	slot := 0
	if !tc.Static {
		slot = 1
	}
	for _, arg := range tc.Args {
		frag = append(frag, classfile.Var(classfile.LoadOpcode(arg), slot))
		slot += arg.Slots()
	}
	frag = append(frag, classfile.Var(classfile.OpAload, infoSlot))
	for _, lv := range captured {
		frag = append(frag, classfile.Var(classfile.LoadOpcode(lv.Type), lv.Slot))
	}
	frag = b.invokeHandler(tc, frag)

	if b.def.Cancellable {
		cont := tc.AllocLabel()
		frag = append(frag,
			classfile.Var(classfile.OpAload, infoSlot),
			classfile.Invoke(classfile.OpInvokevirtual, infoClass, "isCancelled", "()Z"),
			classfile.Jump(classfile.OpIfeq, cont),
		)
		if tc.Ret.IsVoid() {
			frag = append(frag, classfile.Simple(classfile.OpReturn))
		} else {
			frag = append(frag,
				classfile.Var(classfile.OpAload, infoSlot),
				classfile.Invoke(classfile.OpInvokevirtual, infoClass, "getReturnValue", "()Ljava/lang/Object;"),
			)
			frag = appendUnbox(frag, tc.Ret)
			frag = append(frag, classfile.Simple(classfile.ReturnOpcode(tc.Ret)))
		}
		frag = append(frag, classfile.Label(cont))
	}

	if pending {
		frag = append(frag, classfile.Var(classfile.LoadOpcode(tc.Ret), pendSlot))
	}

	handlerArgs, _, err := classfile.ParseMethodDescriptor(b.handler.Descriptor)
	if err != nil {
		return err
	}
	demand := classfile.ArgSlots(handlerArgs, b.handler.IsStatic())
	if base := 3 + tc.Ret.Slots(); base > demand {
		demand = base
	}
	tc.ReportStack(demand)

	return tc.InsertBefore(in, frag)
}

// checkCallbackSignature verifies the handler declares exactly the target's
// arguments, then the info object, then the captured locals, returning void.
func (b *boundInjector) checkCallbackSignature(tc *TargetContext, infoClass string, captured []LocalVar) error {
	var sb strings.Builder
	sb.WriteByte('(')
	for _, a := range tc.Args {
		sb.WriteString(a.Desc)
	}
	sb.WriteString("L" + infoClass + ";")
	for _, lv := range captured {
		sb.WriteString(lv.Type.Desc)
	}
	sb.WriteString(")V")
	if expected := sb.String(); b.handler.Descriptor != expected {
		return &SignatureError{Handler: b.describe(), Expected: expected, Found: b.handler.Descriptor}
	}
	return nil
}

func stringConst(s string) *classfile.Insn {
	return &classfile.Insn{
		Opcode: classfile.OpLdc,
		Kind:   classfile.KindConst,
		Const:  classfile.ConstValue{Kind: classfile.ConstString, S: s},
	}
}

func pushBool(v bool) *classfile.Insn {
	if v {
		return classfile.PushInt(1)
	}
	return classfile.PushInt(0)
}

// appendBox wraps a primitive stack value in its box type. References pass
// through untouched.
func appendBox(frag []*classfile.Insn, t classfile.Type) []*classfile.Insn {
	class, _, _, ok := classfile.Boxed(t)
	if !ok {
		return frag
	}
	desc := "(" + t.Desc + ")L" + class + ";"
	return append(frag, classfile.Invoke(classfile.OpInvokestatic, class, "valueOf", desc))
}

// appendUnbox casts an Object stack value down to t, unboxing primitives
// through their accessor.
func appendUnbox(frag []*classfile.Insn, t classfile.Type) []*classfile.Insn {
	if class, accessor, accessorDesc, ok := classfile.Boxed(t); ok {
		frag = append(frag, classfile.TypeInsn(classfile.OpCheckcast, class))
		return append(frag, classfile.Invoke(classfile.OpInvokevirtual, class, accessor, accessorDesc))
	}
	return append(frag, classfile.TypeInsn(classfile.OpCheckcast, castTarget(t)))
}

// castTarget renders the checkcast operand: internal name for classes, full
// descriptor for arrays.
func castTarget(t classfile.Type) string {
	if len(t.Desc) > 0 && t.Desc[0] == '[' {
		return t.Desc
	}
	return t.ClassName()
}
