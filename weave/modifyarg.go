package weave

import (
	"fmt"

	"github.com/chazu/weft/pkg/classfile"
)

// applyModifyArg routes one argument of a matched invocation through the
// handler just before the call executes. The handler's signature is (T)T for
// the declared type of the chosen argument; every other operand reaches the
// call untouched.
func (b *boundInjector) applyModifyArg(tc *TargetContext, in *classfile.Insn) error {
	if in.Kind != classfile.KindInvoke {
		return fmt.Errorf("modify-arg requires an invocation site, got %s at %s", in.Opcode.Mnemonic(), siteOf(tc, in))
	}
	args, _, err := classfile.ParseMethodDescriptor(in.Desc)
	if err != nil {
		return err
	}
	idx := b.def.ArgIndex
	if idx < 0 || idx >= len(args) {
		return fmt.Errorf("argument index %d out of range for %s%s at %s", idx, in.Name, in.Desc, siteOf(tc, in))
	}
	argType := args[idx]

	expected := methodDesc([]classfile.Type{argType}, argType)
	if b.handler.Descriptor != expected {
		return &SignatureError{Handler: b.describe(), Expected: expected, Found: b.handler.Descriptor}
	}

	// Arguments after the chosen one sit above it on the stack; park them so
	// the handler can run on the exposed value, then restore them.
	tail := args[idx+1:]
	slots := make([]int, len(tail))
	var frag []*classfile.Insn
	for i := len(tail) - 1; i >= 0; i-- {
		slots[i] = tc.AllocLocal(tail[i])
		frag = append(frag, classfile.Var(classfile.StoreOpcode(tail[i]), slots[i]))
	}

	if b.handler.IsStatic() {
		frag = b.invokeHandler(tc, frag)
	} else {
		argSlot := tc.AllocLocal(argType)
		frag = append(frag,
			classfile.Var(classfile.StoreOpcode(argType), argSlot),
			classfile.Var(classfile.OpAload, 0),
			classfile.Var(classfile.LoadOpcode(argType), argSlot),
		)
		frag = b.invokeHandler(tc, frag)
		tc.ReportStack(1)
	}

	for i, p := range tail {
		frag = append(frag, classfile.Var(classfile.LoadOpcode(p), slots[i]))
	}

	return tc.InsertBefore(in, frag)
}
