package classfile

import (
	"encoding/binary"
	"fmt"
)

// LabelID identifies a position in an instruction list. Labels are pseudo
// instructions; bytecode offsets exist only during encode and decode.
type LabelID int

// InsnKind classifies an instruction node by its operand shape.
type InsnKind uint8

const (
	KindSimple        InsnKind = iota // no operands
	KindVar                           // local variable load/store
	KindIinc                          // iinc slot/delta
	KindInt                           // bipush, sipush, newarray
	KindConst                         // ldc family, operand in Const
	KindField                         // getfield/putfield/getstatic/putstatic
	KindInvoke                        // invokevirtual/special/static/interface
	KindInvokeDynamic                 // invokedynamic, pool index preserved
	KindType                          // new, anewarray, checkcast, instanceof
	KindJump                          // single-target branches
	KindSwitch                        // tableswitch, lookupswitch
	KindLabel                         // pseudo: branch/handler target
	KindLine                          // pseudo: source line marker
)

// ConstKind tags the payload of a KindConst instruction.
type ConstKind uint8

const (
	ConstInt ConstKind = iota
	ConstLong
	ConstFloat
	ConstDouble
	ConstString
	ConstClass
)

// ConstValue is the operand of an ldc-family instruction.
type ConstValue struct {
	Kind ConstKind
	I    int64
	F    float64
	S    string // ConstString text or ConstClass internal name
}

// Insn is one instruction node. Which fields are meaningful depends on Kind.
type Insn struct {
	Opcode Opcode
	Kind   InsnKind

	Slot    int        // KindVar, KindIinc
	Operand int32      // KindInt value, KindIinc delta
	Const   ConstValue // KindConst

	Owner string // KindField, KindInvoke
	Name  string // KindField, KindInvoke, KindInvokeDynamic
	Desc  string // KindField, KindInvoke, KindInvokeDynamic

	ClassName string // KindType
	PoolIndex uint16 // KindInvokeDynamic: original constant pool index

	Target  LabelID   // KindJump
	Default LabelID   // KindSwitch
	Low     int32     // tableswitch low bound
	Keys    []int32   // lookupswitch keys (nil for tableswitch)
	Targets []LabelID // KindSwitch case targets

	Label LabelID // KindLabel
	Line  int     // KindLine
}

// IsReal reports whether the node is an executable instruction rather than a
// label or line marker.
func (in *Insn) IsReal() bool { return in.Kind != KindLabel && in.Kind != KindLine }

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

// Simple returns an operand-less instruction.
func Simple(op Opcode) *Insn { return &Insn{Opcode: op, Kind: KindSimple} }

// Var returns a local variable load or store.
func Var(op Opcode, slot int) *Insn { return &Insn{Opcode: op, Kind: KindVar, Slot: slot} }

// Field returns a field access instruction.
func Field(op Opcode, owner, name, desc string) *Insn {
	return &Insn{Opcode: op, Kind: KindField, Owner: owner, Name: name, Desc: desc}
}

// Invoke returns a method invocation instruction.
func Invoke(op Opcode, owner, name, desc string) *Insn {
	return &Insn{Opcode: op, Kind: KindInvoke, Owner: owner, Name: name, Desc: desc}
}

// TypeInsn returns a type-operand instruction (new, checkcast, ...).
func TypeInsn(op Opcode, className string) *Insn {
	return &Insn{Opcode: op, Kind: KindType, ClassName: className}
}

// Jump returns a branch to the given label.
func Jump(op Opcode, target LabelID) *Insn {
	return &Insn{Opcode: op, Kind: KindJump, Target: target}
}

// Label returns a label pseudo instruction.
func Label(id LabelID) *Insn { return &Insn{Kind: KindLabel, Label: id} }

// LineMarker returns a source line pseudo instruction.
func LineMarker(line int) *Insn { return &Insn{Kind: KindLine, Line: line} }

// PushInt returns the shortest instruction sequence element pushing v.
func PushInt(v int32) *Insn {
	switch {
	case v >= -1 && v <= 5:
		return Simple(Opcode(int32(OpIconst0) + v))
	case v >= -128 && v <= 127:
		return &Insn{Opcode: OpBipush, Kind: KindInt, Operand: v}
	case v >= -32768 && v <= 32767:
		return &Insn{Opcode: OpSipush, Kind: KindInt, Operand: v}
	default:
		return &Insn{Opcode: OpLdc, Kind: KindConst, Const: ConstValue{Kind: ConstInt, I: int64(v)}}
	}
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

type codeDecoder struct {
	code   []byte
	pool   *ConstantPool
	labels map[int]LabelID // bytecode offset -> label
	next   LabelID
}

func (d *codeDecoder) labelAt(offset int) LabelID {
	if id, ok := d.labels[offset]; ok {
		return id
	}
	id := d.next
	d.next++
	d.labels[offset] = id
	return id
}

// insnSize returns the encoded size of the instruction at pc, or an error for
// opcodes the decoder does not understand.
func insnSize(code []byte, pc int) (int, error) {
	op := Opcode(code[pc])
	switch {
	case op == OpTableswitch:
		base := pc + 1 + padTo4(pc+1)
		if base+12 > len(code) {
			return 0, fmt.Errorf("truncated tableswitch at pc %d", pc)
		}
		low := int32(binary.BigEndian.Uint32(code[base+4:]))
		high := int32(binary.BigEndian.Uint32(code[base+8:]))
		n := int(high - low + 1)
		return base - pc + 12 + 4*n, nil
	case op == OpLookupswitch:
		base := pc + 1 + padTo4(pc+1)
		if base+8 > len(code) {
			return 0, fmt.Errorf("truncated lookupswitch at pc %d", pc)
		}
		n := int(int32(binary.BigEndian.Uint32(code[base+4:])))
		return base - pc + 8 + 8*n, nil
	case op == OpWide:
		if Opcode(code[pc+1]) == OpIinc {
			return 6, nil
		}
		return 4, nil
	case op == 0xA8 || op == 0xA9 || op == 0xC9: // jsr, ret, jsr_w
		return 0, fmt.Errorf("unsupported legacy opcode %s at pc %d", op.Mnemonic(), pc)
	case op == 0xC5: // multianewarray
		return 4, nil
	case op == OpInvokeinterface || op == OpInvokedynamic || op == OpGotoW:
		return 5, nil
	case op == OpBipush, op == OpLdc, op == OpNewarray,
		op.IsLoad() && op <= OpAload, op.IsStore() && op <= OpAstore:
		return 2, nil
	case op == OpSipush, op == OpLdcW, op == OpIinc, op.IsJump(),
		op.IsFieldAccess(), op == OpInvokevirtual, op == OpInvokespecial,
		op == OpInvokestatic, op == OpLdc2W, op == OpNew, op == OpAnewarray,
		op == OpCheckcast, op == OpInstanceof:
		return 3, nil
	default:
		return 1, nil
	}
}

func padTo4(offset int) int {
	return (4 - offset%4) % 4
}

// DecodeCode turns raw Code attribute bytes into an instruction list.
// lineTable maps bytecode offsets to source lines (from LineNumberTable) and
// may be nil. extraOffsets names bytecode offsets that need labels even when
// no branch targets them (exception table and local variable scopes).
func DecodeCode(code []byte, pool *ConstantPool, lineTable map[int]int, extraOffsets []int) ([]*Insn, map[int]LabelID, error) {
	d := &codeDecoder{code: code, pool: pool, labels: make(map[int]LabelID)}
	for _, off := range extraOffsets {
		d.labelAt(off)
	}

	// First pass: find instruction boundaries and allocate labels for every
	// branch target so the second pass can interleave label nodes.
	starts := make(map[int]bool)
	for pc := 0; pc < len(code); {
		starts[pc] = true
		size, err := insnSize(code, pc)
		if err != nil {
			return nil, nil, err
		}
		if err := d.collectTargets(pc); err != nil {
			return nil, nil, err
		}
		pc += size
	}

	var insns []*Insn
	for pc := 0; pc < len(code); {
		if id, ok := d.labels[pc]; ok {
			insns = append(insns, Label(id))
		}
		if line, ok := lineTable[pc]; ok {
			insns = append(insns, LineMarker(line))
		}
		in, size, err := d.decodeOne(pc)
		if err != nil {
			return nil, nil, err
		}
		insns = append(insns, in)
		pc += size
	}
	// A label may sit exactly at the end of the code (e.g. an exception
	// handler range end).
	if id, ok := d.labels[len(code)]; ok {
		insns = append(insns, Label(id))
	}

	if !allStarts(d.labels, starts, len(code)) {
		return nil, nil, fmt.Errorf("branch target into the middle of an instruction")
	}
	return insns, d.labels, nil
}

func allStarts(labels map[int]LabelID, starts map[int]bool, end int) bool {
	for off := range labels {
		if off != end && !starts[off] {
			return false
		}
	}
	return true
}

func (d *codeDecoder) collectTargets(pc int) error {
	op := Opcode(d.code[pc])
	switch {
	case op.IsJump():
		delta := int16(binary.BigEndian.Uint16(d.code[pc+1:]))
		d.labelAt(pc + int(delta))
	case op == OpGotoW:
		delta := int32(binary.BigEndian.Uint32(d.code[pc+1:]))
		d.labelAt(pc + int(delta))
	case op == OpTableswitch:
		base := pc + 1 + padTo4(pc+1)
		d.labelAt(pc + int(int32(binary.BigEndian.Uint32(d.code[base:]))))
		low := int32(binary.BigEndian.Uint32(d.code[base+4:]))
		high := int32(binary.BigEndian.Uint32(d.code[base+8:]))
		for i := 0; i < int(high-low+1); i++ {
			d.labelAt(pc + int(int32(binary.BigEndian.Uint32(d.code[base+12+4*i:]))))
		}
	case op == OpLookupswitch:
		base := pc + 1 + padTo4(pc+1)
		d.labelAt(pc + int(int32(binary.BigEndian.Uint32(d.code[base:]))))
		n := int(int32(binary.BigEndian.Uint32(d.code[base+4:])))
		for i := 0; i < n; i++ {
			d.labelAt(pc + int(int32(binary.BigEndian.Uint32(d.code[base+8+8*i+4:]))))
		}
	}
	return nil
}

func (d *codeDecoder) decodeOne(pc int) (*Insn, int, error) {
	op := Opcode(d.code[pc])
	size, err := insnSize(d.code, pc)
	if err != nil {
		return nil, 0, err
	}

	switch {
	case op >= OpIload0 && op < OpIaload: // load shorthand
		base := []Opcode{OpIload, OpLload, OpFload, OpDload, OpAload}[(op-OpIload0)/4]
		return Var(base, int((op-OpIload0)%4)), size, nil

	case op >= OpIstore0 && op < OpIastore: // store shorthand
		base := []Opcode{OpIstore, OpLstore, OpFstore, OpDstore, OpAstore}[(op-OpIstore0)/4]
		return Var(base, int((op-OpIstore0)%4)), size, nil

	case op >= OpIload && op <= OpAload:
		return Var(op, int(d.code[pc+1])), size, nil

	case op >= OpIstore && op <= OpAstore:
		return Var(op, int(d.code[pc+1])), size, nil

	case op == OpWide:
		inner := Opcode(d.code[pc+1])
		slot := int(binary.BigEndian.Uint16(d.code[pc+2:]))
		if inner == OpIinc {
			delta := int32(int16(binary.BigEndian.Uint16(d.code[pc+4:])))
			return &Insn{Opcode: OpIinc, Kind: KindIinc, Slot: slot, Operand: delta}, size, nil
		}
		return Var(inner, slot), size, nil

	case op == OpIinc:
		return &Insn{Opcode: OpIinc, Kind: KindIinc, Slot: int(d.code[pc+1]), Operand: int32(int8(d.code[pc+2]))}, size, nil

	case op == OpBipush:
		return &Insn{Opcode: op, Kind: KindInt, Operand: int32(int8(d.code[pc+1]))}, size, nil

	case op == OpSipush:
		return &Insn{Opcode: op, Kind: KindInt, Operand: int32(int16(binary.BigEndian.Uint16(d.code[pc+1:])))}, size, nil

	case op == OpNewarray:
		return &Insn{Opcode: op, Kind: KindInt, Operand: int32(d.code[pc+1])}, size, nil

	case op == OpLdc:
		c, err := d.constAt(uint16(d.code[pc+1]))
		if err != nil {
			return nil, 0, err
		}
		return &Insn{Opcode: OpLdc, Kind: KindConst, Const: c}, size, nil

	case op == OpLdcW || op == OpLdc2W:
		c, err := d.constAt(binary.BigEndian.Uint16(d.code[pc+1:]))
		if err != nil {
			return nil, 0, err
		}
		return &Insn{Opcode: op, Kind: KindConst, Const: c}, size, nil

	case op.IsFieldAccess():
		owner, name, desc, err := d.pool.RefAt(binary.BigEndian.Uint16(d.code[pc+1:]))
		if err != nil {
			return nil, 0, err
		}
		return Field(op, owner, name, desc), size, nil

	case op >= OpInvokevirtual && op <= OpInvokeinterface:
		owner, name, desc, err := d.pool.RefAt(binary.BigEndian.Uint16(d.code[pc+1:]))
		if err != nil {
			return nil, 0, err
		}
		return Invoke(op, owner, name, desc), size, nil

	case op == OpInvokedynamic:
		idx := binary.BigEndian.Uint16(d.code[pc+1:])
		e := d.pool.Entry(idx)
		if e == nil || e.Tag != TagInvokeDynamic {
			return nil, 0, fmt.Errorf("invokedynamic at pc %d: bad pool index %d", pc, idx)
		}
		name, desc, err := d.pool.NameAndTypeAt(e.Ref2)
		if err != nil {
			return nil, 0, err
		}
		return &Insn{Opcode: op, Kind: KindInvokeDynamic, Name: name, Desc: desc, PoolIndex: idx}, size, nil

	case op == OpNew || op == OpAnewarray || op == OpCheckcast || op == OpInstanceof:
		name, err := d.pool.ClassNameAt(binary.BigEndian.Uint16(d.code[pc+1:]))
		if err != nil {
			return nil, 0, err
		}
		return TypeInsn(op, name), size, nil

	case op == OpMultianewarray:
		name, err := d.pool.ClassNameAt(binary.BigEndian.Uint16(d.code[pc+1:]))
		if err != nil {
			return nil, 0, err
		}
		in := TypeInsn(op, name)
		in.Operand = int32(d.code[pc+3])
		return in, size, nil

	case op.IsJump():
		delta := int16(binary.BigEndian.Uint16(d.code[pc+1:]))
		return Jump(op, d.labelAt(pc+int(delta))), size, nil

	case op == OpGotoW:
		delta := int32(binary.BigEndian.Uint32(d.code[pc+1:]))
		return Jump(OpGoto, d.labelAt(pc+int(delta))), size, nil

	case op == OpTableswitch:
		base := pc + 1 + padTo4(pc+1)
		in := &Insn{Opcode: op, Kind: KindSwitch}
		in.Default = d.labelAt(pc + int(int32(binary.BigEndian.Uint32(d.code[base:]))))
		in.Low = int32(binary.BigEndian.Uint32(d.code[base+4:]))
		high := int32(binary.BigEndian.Uint32(d.code[base+8:]))
		for i := 0; i < int(high-in.Low+1); i++ {
			in.Targets = append(in.Targets, d.labelAt(pc+int(int32(binary.BigEndian.Uint32(d.code[base+12+4*i:])))))
		}
		return in, size, nil

	case op == OpLookupswitch:
		base := pc + 1 + padTo4(pc+1)
		in := &Insn{Opcode: op, Kind: KindSwitch}
		in.Default = d.labelAt(pc + int(int32(binary.BigEndian.Uint32(d.code[base:]))))
		n := int(int32(binary.BigEndian.Uint32(d.code[base+4:])))
		for i := 0; i < n; i++ {
			in.Keys = append(in.Keys, int32(binary.BigEndian.Uint32(d.code[base+8+8*i:])))
			in.Targets = append(in.Targets, d.labelAt(pc+int(int32(binary.BigEndian.Uint32(d.code[base+8+8*i+4:])))))
		}
		return in, size, nil

	default:
		return Simple(op), size, nil
	}
}

func (d *codeDecoder) constAt(index uint16) (ConstValue, error) {
	e := d.pool.Entry(index)
	if e == nil {
		return ConstValue{}, fmt.Errorf("ldc references empty pool slot %d", index)
	}
	switch e.Tag {
	case TagInteger:
		return ConstValue{Kind: ConstInt, I: int64(e.Int)}, nil
	case TagLong:
		return ConstValue{Kind: ConstLong, I: e.Long}, nil
	case TagFloat:
		return ConstValue{Kind: ConstFloat, F: float64(e.Float)}, nil
	case TagDouble:
		return ConstValue{Kind: ConstDouble, F: e.Double}, nil
	case TagString:
		s, err := d.pool.Utf8At(e.Ref1)
		return ConstValue{Kind: ConstString, S: s}, err
	case TagClass:
		s, err := d.pool.Utf8At(e.Ref1)
		return ConstValue{Kind: ConstClass, S: s}, err
	default:
		return ConstValue{}, fmt.Errorf("ldc references unsupported constant tag %d", e.Tag)
	}
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

// EncodeCode serializes an instruction list back to raw code bytes, interning
// symbolic references into pool. It returns the bytes, the bytecode offset of
// every label, and the line number table as offset->line pairs.
func EncodeCode(insns []*Insn, pool *ConstantPool) (code []byte, labelOffsets map[LabelID]int, lineTable [][2]int, err error) {
	// Sizing pass, repeated until switch padding stabilizes.
	offsets := make([]int, len(insns))
	for iter := 0; ; iter++ {
		changed := false
		pc := 0
		for i, in := range insns {
			if offsets[i] != pc {
				offsets[i] = pc
				changed = true
			}
			pc += encodedSize(in, pc)
		}
		if !changed {
			break
		}
		if iter > 8 {
			return nil, nil, nil, fmt.Errorf("instruction sizing did not converge")
		}
	}

	labelOffsets = make(map[LabelID]int)
	for i, in := range insns {
		if in.Kind == KindLabel {
			labelOffsets[in.Label] = offsets[i]
		}
	}

	var buf []byte
	for i, in := range insns {
		switch in.Kind {
		case KindLabel:
			// no bytes
		case KindLine:
			lineTable = append(lineTable, [2]int{offsets[i], in.Line})
		default:
			buf, err = encodeOne(buf, in, offsets[i], labelOffsets, pool)
			if err != nil {
				return nil, nil, nil, err
			}
		}
	}
	return buf, labelOffsets, lineTable, nil
}

func encodedSize(in *Insn, pc int) int {
	switch in.Kind {
	case KindLabel, KindLine:
		return 0
	case KindVar:
		if in.Slot <= 3 {
			return 1
		}
		if in.Slot <= 255 {
			return 2
		}
		return 4 // wide
	case KindIinc:
		if in.Slot <= 255 && in.Operand >= -128 && in.Operand <= 127 {
			return 3
		}
		return 6 // wide
	case KindInt:
		if in.Opcode == OpBipush || in.Opcode == OpNewarray {
			return 2
		}
		return 3
	case KindConst:
		if in.Opcode == OpLdc2W || in.Const.Kind == ConstLong || in.Const.Kind == ConstDouble {
			return 3
		}
		// Conservatively assume a wide index; re-encoding as ldc_w is always
		// valid even when the index would fit one byte.
		return 3
	case KindField, KindJump:
		return 3
	case KindType:
		if in.Opcode == OpMultianewarray {
			return 4
		}
		return 3
	case KindInvoke:
		if in.Opcode == OpInvokeinterface {
			return 5
		}
		return 3
	case KindInvokeDynamic:
		return 5
	case KindSwitch:
		pad := padTo4(pc + 1)
		if in.Opcode == OpTableswitch {
			return 1 + pad + 12 + 4*len(in.Targets)
		}
		return 1 + pad + 8 + 8*len(in.Targets)
	default:
		return 1
	}
}

func encodeOne(buf []byte, in *Insn, pc int, labels map[LabelID]int, pool *ConstantPool) ([]byte, error) {
	switch in.Kind {
	case KindSimple:
		return append(buf, byte(in.Opcode)), nil

	case KindVar:
		if in.Slot <= 3 {
			var base Opcode
			switch in.Opcode {
			case OpIload, OpLload, OpFload, OpDload, OpAload:
				base = OpIload0 + Opcode(4*(in.Opcode-OpIload))
			case OpIstore, OpLstore, OpFstore, OpDstore, OpAstore:
				base = OpIstore0 + Opcode(4*(in.Opcode-OpIstore))
			default:
				return nil, fmt.Errorf("bad var instruction opcode %s", in.Opcode.Mnemonic())
			}
			return append(buf, byte(base+Opcode(in.Slot))), nil
		}
		if in.Slot <= 255 {
			return append(buf, byte(in.Opcode), byte(in.Slot)), nil
		}
		buf = append(buf, byte(OpWide), byte(in.Opcode))
		return binary.BigEndian.AppendUint16(buf, uint16(in.Slot)), nil

	case KindIinc:
		if in.Slot <= 255 && in.Operand >= -128 && in.Operand <= 127 {
			return append(buf, byte(OpIinc), byte(in.Slot), byte(int8(in.Operand))), nil
		}
		buf = append(buf, byte(OpWide), byte(OpIinc))
		buf = binary.BigEndian.AppendUint16(buf, uint16(in.Slot))
		return binary.BigEndian.AppendUint16(buf, uint16(int16(in.Operand))), nil

	case KindInt:
		if in.Opcode == OpBipush || in.Opcode == OpNewarray {
			return append(buf, byte(in.Opcode), byte(int8(in.Operand))), nil
		}
		buf = append(buf, byte(in.Opcode))
		return binary.BigEndian.AppendUint16(buf, uint16(int16(in.Operand))), nil

	case KindConst:
		var idx uint16
		wide := false
		switch in.Const.Kind {
		case ConstInt:
			idx = pool.AddInt(int32(in.Const.I))
		case ConstFloat:
			idx = pool.AddFloat(float32(in.Const.F))
		case ConstLong:
			idx, wide = pool.AddLong(in.Const.I), true
		case ConstDouble:
			idx, wide = pool.AddDouble(in.Const.F), true
		case ConstString:
			idx = pool.AddString(in.Const.S)
		case ConstClass:
			idx = pool.AddClass(in.Const.S)
		}
		if wide {
			buf = append(buf, byte(OpLdc2W))
		} else {
			buf = append(buf, byte(OpLdcW))
		}
		return binary.BigEndian.AppendUint16(buf, idx), nil

	case KindField:
		idx := pool.AddRef(TagFieldref, in.Owner, in.Name, in.Desc)
		buf = append(buf, byte(in.Opcode))
		return binary.BigEndian.AppendUint16(buf, idx), nil

	case KindInvoke:
		tag := uint8(TagMethodref)
		if in.Opcode == OpInvokeinterface {
			tag = TagInterfaceMethodref
		}
		idx := pool.AddRef(tag, in.Owner, in.Name, in.Desc)
		buf = append(buf, byte(in.Opcode))
		buf = binary.BigEndian.AppendUint16(buf, idx)
		if in.Opcode == OpInvokeinterface {
			args, _, err := ParseMethodDescriptor(in.Desc)
			if err != nil {
				return nil, err
			}
			buf = append(buf, byte(ArgSlots(args, false)), 0)
		}
		return buf, nil

	case KindInvokeDynamic:
		// The pool index is only valid within the pool the instruction was
		// decoded from; cross-pool copies are rejected upstream.
		buf = append(buf, byte(OpInvokedynamic))
		buf = binary.BigEndian.AppendUint16(buf, in.PoolIndex)
		return append(buf, 0, 0), nil

	case KindType:
		idx := pool.AddClass(in.ClassName)
		buf = append(buf, byte(in.Opcode))
		buf = binary.BigEndian.AppendUint16(buf, idx)
		if in.Opcode == OpMultianewarray {
			buf = append(buf, byte(in.Operand))
		}
		return buf, nil

	case KindJump:
		target, ok := labels[in.Target]
		if !ok {
			return nil, fmt.Errorf("jump to undefined label %d", in.Target)
		}
		delta := target - pc
		if delta < -32768 || delta > 32767 {
			return nil, fmt.Errorf("branch offset %d out of 16-bit range", delta)
		}
		buf = append(buf, byte(in.Opcode))
		return binary.BigEndian.AppendUint16(buf, uint16(int16(delta))), nil

	case KindSwitch:
		buf = append(buf, byte(in.Opcode))
		for i := 0; i < padTo4(pc+1); i++ {
			buf = append(buf, 0)
		}
		def, ok := labels[in.Default]
		if !ok {
			return nil, fmt.Errorf("switch default jumps to undefined label %d", in.Default)
		}
		buf = binary.BigEndian.AppendUint32(buf, uint32(int32(def-pc)))
		if in.Opcode == OpTableswitch {
			buf = binary.BigEndian.AppendUint32(buf, uint32(in.Low))
			buf = binary.BigEndian.AppendUint32(buf, uint32(in.Low+int32(len(in.Targets))-1))
			for _, t := range in.Targets {
				buf = binary.BigEndian.AppendUint32(buf, uint32(int32(labels[t]-pc)))
			}
		} else {
			buf = binary.BigEndian.AppendUint32(buf, uint32(len(in.Targets)))
			for i, t := range in.Targets {
				buf = binary.BigEndian.AppendUint32(buf, uint32(in.Keys[i]))
				buf = binary.BigEndian.AppendUint32(buf, uint32(int32(labels[t]-pc)))
			}
		}
		return buf, nil

	default:
		return nil, fmt.Errorf("cannot encode instruction kind %d", in.Kind)
	}
}
