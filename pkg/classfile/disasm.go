package classfile

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable listing of the method body. The
// output is for debugging and export only; it is not a stable format.
func (c *Code) Disassemble(name string) string {
	var sb strings.Builder

	if name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", name))
	}
	sb.WriteString(fmt.Sprintf("; stack=%d locals=%d\n", c.MaxStack, c.MaxLocals))

	for _, in := range c.Insns {
		switch in.Kind {
		case KindLabel:
			sb.WriteString(fmt.Sprintf("L%d:\n", in.Label))
		case KindLine:
			sb.WriteString(fmt.Sprintf("  ; line %d\n", in.Line))
		case KindVar:
			sb.WriteString(fmt.Sprintf("  %s %d\n", in.Opcode.Mnemonic(), in.Slot))
		case KindIinc:
			sb.WriteString(fmt.Sprintf("  iinc %d %+d\n", in.Slot, in.Operand))
		case KindInt:
			sb.WriteString(fmt.Sprintf("  %s %d\n", in.Opcode.Mnemonic(), in.Operand))
		case KindConst:
			sb.WriteString(fmt.Sprintf("  %s %s\n", in.Opcode.Mnemonic(), in.Const))
		case KindField, KindInvoke:
			sb.WriteString(fmt.Sprintf("  %s %s.%s %s\n", in.Opcode.Mnemonic(), in.Owner, in.Name, in.Desc))
		case KindInvokeDynamic:
			sb.WriteString(fmt.Sprintf("  invokedynamic %s%s\n", in.Name, in.Desc))
		case KindType:
			sb.WriteString(fmt.Sprintf("  %s %s\n", in.Opcode.Mnemonic(), in.ClassName))
		case KindJump:
			sb.WriteString(fmt.Sprintf("  %s L%d\n", in.Opcode.Mnemonic(), in.Target))
		case KindSwitch:
			sb.WriteString(fmt.Sprintf("  %s default=L%d cases=%d\n", in.Opcode.Mnemonic(), in.Default, len(in.Targets)))
		default:
			sb.WriteString(fmt.Sprintf("  %s\n", in.Opcode.Mnemonic()))
		}
	}

	for _, h := range c.Handlers {
		catch := h.CatchType
		if catch == "" {
			catch = "<any>"
		}
		sb.WriteString(fmt.Sprintf("; try L%d..L%d catch %s -> L%d\n", h.Start, h.End, catch, h.Handler))
	}
	return sb.String()
}

// String formats the constant operand for disassembly.
func (v ConstValue) String() string {
	switch v.Kind {
	case ConstInt:
		return fmt.Sprintf("%d", v.I)
	case ConstLong:
		return fmt.Sprintf("%dL", v.I)
	case ConstFloat:
		return fmt.Sprintf("%gf", v.F)
	case ConstDouble:
		return fmt.Sprintf("%g", v.F)
	case ConstString:
		return fmt.Sprintf("%q", v.S)
	case ConstClass:
		return v.S + ".class"
	default:
		return "?"
	}
}
