package weave

import (
	"fmt"

	"github.com/chazu/weft/pkg/classfile"
)

// step applies one instruction to a frame, returning the resulting frame,
// the labels control may branch to, and whether execution falls through to
// the next instruction. The frame passed in is consumed.
func step(in *classfile.Insn, fr *frame) (next *frame, branches []classfile.LabelID, falls bool, err error) {
	op := in.Opcode

	popN := func(n int) error {
		for i := 0; i < n; i++ {
			if _, err := fr.pop(); err != nil {
				return err
			}
		}
		return nil
	}

	switch in.Kind {
	case classfile.KindLabel, classfile.KindLine:
		return fr, nil, true, nil

	case classfile.KindVar:
		if op.IsLoad() {
			t := fr.local(in.Slot)
			if t == undefType {
				return nil, nil, false, fmt.Errorf("load from undefined slot %d", in.Slot)
			}
			fr.push(t)
			return fr, nil, true, nil
		}
		v, err := fr.pop()
		if err != nil {
			return nil, nil, false, err
		}
		fr.setLocal(in.Slot, v)
		return fr, nil, true, nil

	case classfile.KindIinc:
		return fr, nil, true, nil

	case classfile.KindInt:
		if op == classfile.OpNewarray {
			if err := popN(1); err != nil {
				return nil, nil, false, err
			}
			fr.push(classfile.Type{Desc: "[" + newarrayElem(in.Operand)})
			return fr, nil, true, nil
		}
		fr.push(intType)
		return fr, nil, true, nil

	case classfile.KindConst:
		switch in.Const.Kind {
		case classfile.ConstInt:
			fr.push(intType)
		case classfile.ConstLong:
			fr.push(longType)
		case classfile.ConstFloat:
			fr.push(floatType)
		case classfile.ConstDouble:
			fr.push(doubleType)
		case classfile.ConstString:
			fr.push(classfile.Type{Desc: "Ljava/lang/String;"})
		case classfile.ConstClass:
			fr.push(classfile.Type{Desc: "Ljava/lang/Class;"})
		}
		return fr, nil, true, nil

	case classfile.KindField:
		ft := classfile.Type{Desc: in.Desc}
		switch op {
		case classfile.OpGetstatic:
			fr.push(ft)
		case classfile.OpGetfield:
			if err := popN(1); err != nil {
				return nil, nil, false, err
			}
			fr.push(ft)
		case classfile.OpPutstatic:
			if err := popN(1); err != nil {
				return nil, nil, false, err
			}
		case classfile.OpPutfield:
			if err := popN(2); err != nil {
				return nil, nil, false, err
			}
		}
		return fr, nil, true, nil

	case classfile.KindInvoke, classfile.KindInvokeDynamic:
		args, ret, err := classfile.ParseMethodDescriptor(in.Desc)
		if err != nil {
			return nil, nil, false, err
		}
		if err := popN(len(args)); err != nil {
			return nil, nil, false, err
		}
		if in.Kind == classfile.KindInvoke && op != classfile.OpInvokestatic {
			if err := popN(1); err != nil {
				return nil, nil, false, err
			}
		}
		if !ret.IsVoid() {
			fr.push(ret)
		}
		return fr, nil, true, nil

	case classfile.KindType:
		switch op {
		case classfile.OpNew:
			fr.push(classfile.ObjectOf(in.ClassName))
		case classfile.OpAnewarray:
			if err := popN(1); err != nil {
				return nil, nil, false, err
			}
			fr.push(classfile.Type{Desc: "[" + classfile.ObjectOf(in.ClassName).Desc})
		case classfile.OpCheckcast:
			if err := popN(1); err != nil {
				return nil, nil, false, err
			}
			fr.push(classfile.ObjectOf(in.ClassName))
		case classfile.OpInstanceof:
			if err := popN(1); err != nil {
				return nil, nil, false, err
			}
			fr.push(intType)
		case classfile.OpMultianewarray:
			if err := popN(int(in.Operand)); err != nil {
				return nil, nil, false, err
			}
			fr.push(classfile.ObjectOf(in.ClassName)) // dimensions folded away
		}
		return fr, nil, true, nil

	case classfile.KindJump:
		pops := 1
		switch {
		case op == classfile.OpGoto:
			pops = 0
		case op >= classfile.OpIfIcmpeq && op <= classfile.OpIfAcmpne:
			pops = 2
		}
		if err := popN(pops); err != nil {
			return nil, nil, false, err
		}
		return fr, []classfile.LabelID{in.Target}, op != classfile.OpGoto, nil

	case classfile.KindSwitch:
		if err := popN(1); err != nil {
			return nil, nil, false, err
		}
		branches = append([]classfile.LabelID{in.Default}, in.Targets...)
		return fr, branches, false, nil
	}

	// KindSimple from here on.
	switch {
	case op == classfile.OpNop:
		return fr, nil, true, nil

	case op == classfile.OpAconstNull:
		fr.push(nullType)

	case op >= classfile.OpIconstM1 && op <= classfile.OpIconst5:
		fr.push(intType)

	case op == classfile.OpLconst0 || op == classfile.OpLconst1:
		fr.push(longType)

	case op >= classfile.OpFconst0 && op <= classfile.OpFconst2:
		fr.push(floatType)

	case op == classfile.OpDconst0 || op == classfile.OpDconst1:
		fr.push(doubleType)

	case op >= classfile.OpIaload && op <= classfile.OpSaload: // array loads
		idxT, _ := fr.pop()
		arr, err := fr.pop()
		if err != nil {
			return nil, nil, false, err
		}
		_ = idxT
		fr.push(arrayElemType(op, arr))

	case op >= classfile.OpIastore && op <= 0x56: // array stores
		if err := popN(3); err != nil {
			return nil, nil, false, err
		}

	case op == classfile.OpPop:
		if err := popN(1); err != nil {
			return nil, nil, false, err
		}

	case op == classfile.OpPop2:
		t, err := fr.pop()
		if err != nil {
			return nil, nil, false, err
		}
		if !t.IsWide() {
			if err := popN(1); err != nil {
				return nil, nil, false, err
			}
		}

	case op == classfile.OpDup:
		t, err := fr.pop()
		if err != nil {
			return nil, nil, false, err
		}
		fr.push(t)
		fr.push(t)

	case op == classfile.OpDupX1:
		a, err1 := fr.pop()
		b, err2 := fr.pop()
		if err1 != nil || err2 != nil {
			return nil, nil, false, fmt.Errorf("stack underflow in dup_x1")
		}
		fr.push(a)
		fr.push(b)
		fr.push(a)

	case op == classfile.OpDupX2:
		a, _ := fr.pop()
		b, err := fr.pop()
		if err != nil {
			return nil, nil, false, err
		}
		if b.IsWide() {
			fr.push(a)
			fr.push(b)
			fr.push(a)
		} else {
			c, err := fr.pop()
			if err != nil {
				return nil, nil, false, err
			}
			fr.push(a)
			fr.push(c)
			fr.push(b)
			fr.push(a)
		}

	case op == classfile.OpDup2:
		a, err := fr.pop()
		if err != nil {
			return nil, nil, false, err
		}
		if a.IsWide() {
			fr.push(a)
			fr.push(a)
		} else {
			b, err := fr.pop()
			if err != nil {
				return nil, nil, false, err
			}
			fr.push(b)
			fr.push(a)
			fr.push(b)
			fr.push(a)
		}

	case op == classfile.OpDup2X1:
		a, err := fr.pop()
		if err != nil {
			return nil, nil, false, err
		}
		if a.IsWide() {
			b, err := fr.pop()
			if err != nil {
				return nil, nil, false, err
			}
			fr.push(a)
			fr.push(b)
			fr.push(a)
		} else {
			b, err1 := fr.pop()
			c, err2 := fr.pop()
			if err1 != nil || err2 != nil {
				return nil, nil, false, fmt.Errorf("stack underflow in dup2_x1")
			}
			fr.push(b)
			fr.push(a)
			fr.push(c)
			fr.push(b)
			fr.push(a)
		}

	case op == classfile.OpDup2X2:
		// The duplicated pair and the skipped pair are each one wide value or
		// two narrow ones.
		top, err := popPair(fr)
		if err != nil {
			return nil, nil, false, fmt.Errorf("stack underflow in dup2_x2")
		}
		under, err := popPair(fr)
		if err != nil {
			return nil, nil, false, fmt.Errorf("stack underflow in dup2_x2")
		}
		pushPair(fr, top)
		pushPair(fr, under)
		pushPair(fr, top)

	case op == classfile.OpSwap:
		a, err1 := fr.pop()
		b, err2 := fr.pop()
		if err1 != nil || err2 != nil {
			return nil, nil, false, fmt.Errorf("stack underflow in swap")
		}
		fr.push(a)
		fr.push(b)

	case op >= classfile.OpIadd && op <= 0x73: // add..rem, binary by type group
		t := arithType(op, classfile.OpIadd)
		if err := popN(2); err != nil {
			return nil, nil, false, err
		}
		fr.push(t)

	case op >= classfile.OpIneg && op <= 0x77: // neg
		t, err := fr.pop()
		if err != nil {
			return nil, nil, false, err
		}
		fr.push(t)

	case op >= classfile.OpIshl && op <= 0x7D: // shifts: value, shift-count
		if err := popN(1); err != nil { // shift count (int)
			return nil, nil, false, err
		}
		t, err := fr.pop()
		if err != nil {
			return nil, nil, false, err
		}
		fr.push(t)

	case op >= 0x7E && op <= 0x83: // and/or/xor
		if err := popN(2); err != nil {
			return nil, nil, false, err
		}
		if (op-0x7E)%2 == 0 {
			fr.push(intType)
		} else {
			fr.push(longType)
		}

	case op >= classfile.OpI2l && op <= classfile.OpI2s: // conversions
		if err := popN(1); err != nil {
			return nil, nil, false, err
		}
		fr.push(convTarget(op))

	case op == classfile.OpLcmp || (op >= 0x95 && op <= 0x98): // lcmp, fcmp*, dcmp*
		if err := popN(2); err != nil {
			return nil, nil, false, err
		}
		fr.push(intType)

	case op.IsReturn():
		return fr, nil, false, nil

	case op == classfile.OpArraylength:
		if err := popN(1); err != nil {
			return nil, nil, false, err
		}
		fr.push(intType)

	case op == classfile.OpAthrow:
		return fr, nil, false, nil

	case op == classfile.OpMonitorenter || op == classfile.OpMonitorexit:
		if err := popN(1); err != nil {
			return nil, nil, false, err
		}

	default:
		return nil, nil, false, fmt.Errorf("unmodelled opcode %s", op.Mnemonic())
	}

	return fr, nil, true, nil
}

// popPair removes a category-2 group from the stack: one wide value or two
// narrow ones, top first.
func popPair(fr *frame) ([]classfile.Type, error) {
	a, err := fr.pop()
	if err != nil {
		return nil, err
	}
	if a.IsWide() {
		return []classfile.Type{a}, nil
	}
	b, err := fr.pop()
	if err != nil {
		return nil, err
	}
	return []classfile.Type{a, b}, nil
}

func pushPair(fr *frame, pair []classfile.Type) {
	for i := len(pair) - 1; i >= 0; i-- {
		fr.push(pair[i])
	}
}

func arithType(op, base classfile.Opcode) classfile.Type {
	switch (op - base) % 4 {
	case 0:
		return intType
	case 1:
		return longType
	case 2:
		return floatType
	default:
		return doubleType
	}
}

func convTarget(op classfile.Opcode) classfile.Type {
	targets := map[classfile.Opcode]classfile.Type{
		0x85: longType, 0x86: floatType, 0x87: doubleType, // i2l, i2f, i2d
		0x88: intType, 0x89: floatType, 0x8A: doubleType, // l2i, l2f, l2d
		0x8B: intType, 0x8C: longType, 0x8D: doubleType, // f2i, f2l, f2d
		0x8E: intType, 0x8F: longType, 0x90: floatType, // d2i, d2l, d2f
		0x91: intType, 0x92: intType, 0x93: intType, // i2b, i2c, i2s
	}
	return targets[op]
}

func arrayElemType(op classfile.Opcode, arr classfile.Type) classfile.Type {
	switch op {
	case classfile.OpLaload:
		return longType
	case classfile.OpFaload:
		return floatType
	case classfile.OpDaload:
		return doubleType
	case classfile.OpAaload:
		if len(arr.Desc) > 1 && arr.Desc[0] == '[' {
			return classfile.Type{Desc: arr.Desc[1:]}
		}
		return conflictType
	default:
		return intType
	}
}

func newarrayElem(atype int32) string {
	switch atype {
	case 4:
		return "Z"
	case 5:
		return "C"
	case 6:
		return "F"
	case 7:
		return "D"
	case 8:
		return "B"
	case 9:
		return "S"
	case 10:
		return "I"
	case 11:
		return "J"
	default:
		return "I"
	}
}
