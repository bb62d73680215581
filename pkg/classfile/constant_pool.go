package classfile

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Constant pool tags.
const (
	TagUtf8               = 1
	TagInteger            = 3
	TagFloat              = 4
	TagLong               = 5
	TagDouble             = 6
	TagClass              = 7
	TagString             = 8
	TagFieldref           = 9
	TagMethodref          = 10
	TagInterfaceMethodref = 11
	TagNameAndType        = 12
	TagMethodHandle       = 15
	TagMethodType         = 16
	TagDynamic            = 17
	TagInvokeDynamic      = 18
)

// PoolEntry is one constant pool record. Exactly one group of fields is
// meaningful, selected by Tag. Long and Double occupy two pool slots; the
// second slot holds a nil entry.
type PoolEntry struct {
	Tag uint8

	Utf8   string  // TagUtf8
	Int    int32   // TagInteger
	Float  float32 // TagFloat
	Long   int64   // TagLong
	Double float64 // TagDouble

	// Index operands, interpretation depends on Tag.
	Ref1 uint16 // name / string / class / bootstrap-method index
	Ref2 uint16 // name-and-type / descriptor index

	RefKind uint8 // TagMethodHandle reference kind
}

// ConstantPool is a 1-indexed pool; slot 0 is always nil. Entries may be
// appended but never mutated, so indices handed out stay valid.
type ConstantPool struct {
	entries []*PoolEntry
}

// NewConstantPool returns an empty pool with the reserved zero slot.
func NewConstantPool() *ConstantPool {
	return &ConstantPool{entries: make([]*PoolEntry, 1, 32)}
}

// Len returns the pool slot count, including the reserved zero slot and the
// phantom slots after Long/Double entries.
func (cp *ConstantPool) Len() int { return len(cp.entries) }

// Entry returns the entry at the given index, or nil for out-of-range or
// phantom slots.
func (cp *ConstantPool) Entry(index uint16) *PoolEntry {
	if int(index) >= len(cp.entries) {
		return nil
	}
	return cp.entries[index]
}

func (cp *ConstantPool) append(e *PoolEntry) uint16 {
	idx := uint16(len(cp.entries))
	cp.entries = append(cp.entries, e)
	if e.Tag == TagLong || e.Tag == TagDouble {
		cp.entries = append(cp.entries, nil)
	}
	return idx
}

// Utf8At resolves a Utf8 entry.
func (cp *ConstantPool) Utf8At(index uint16) (string, error) {
	e := cp.Entry(index)
	if e == nil || e.Tag != TagUtf8 {
		return "", fmt.Errorf("constant pool index %d is not a Utf8 entry", index)
	}
	return e.Utf8, nil
}

// ClassNameAt resolves a Class entry to its internal name.
func (cp *ConstantPool) ClassNameAt(index uint16) (string, error) {
	e := cp.Entry(index)
	if e == nil || e.Tag != TagClass {
		return "", fmt.Errorf("constant pool index %d is not a Class entry", index)
	}
	return cp.Utf8At(e.Ref1)
}

// RefAt resolves a Fieldref/Methodref/InterfaceMethodref entry to its
// symbolic (owner, name, descriptor) triple.
func (cp *ConstantPool) RefAt(index uint16) (owner, name, desc string, err error) {
	e := cp.Entry(index)
	if e == nil || (e.Tag != TagFieldref && e.Tag != TagMethodref && e.Tag != TagInterfaceMethodref) {
		return "", "", "", fmt.Errorf("constant pool index %d is not a member reference", index)
	}
	if owner, err = cp.ClassNameAt(e.Ref1); err != nil {
		return "", "", "", err
	}
	nat := cp.Entry(e.Ref2)
	if nat == nil || nat.Tag != TagNameAndType {
		return "", "", "", fmt.Errorf("constant pool index %d: bad NameAndType link", index)
	}
	if name, err = cp.Utf8At(nat.Ref1); err != nil {
		return "", "", "", err
	}
	if desc, err = cp.Utf8At(nat.Ref2); err != nil {
		return "", "", "", err
	}
	return owner, name, desc, nil
}

// NameAndTypeAt resolves a NameAndType entry.
func (cp *ConstantPool) NameAndTypeAt(index uint16) (name, desc string, err error) {
	e := cp.Entry(index)
	if e == nil || e.Tag != TagNameAndType {
		return "", "", fmt.Errorf("constant pool index %d is not a NameAndType entry", index)
	}
	if name, err = cp.Utf8At(e.Ref1); err != nil {
		return "", "", err
	}
	desc, err = cp.Utf8At(e.Ref2)
	return name, desc, err
}

// ---------------------------------------------------------------------------
// Interning
// ---------------------------------------------------------------------------

// Existing entries are reused by linear scan; pools in class files are small
// enough that an index map is not worth carrying.

func (cp *ConstantPool) find(match func(*PoolEntry) bool) (uint16, bool) {
	for i := 1; i < len(cp.entries); i++ {
		if e := cp.entries[i]; e != nil && match(e) {
			return uint16(i), true
		}
	}
	return 0, false
}

// AddUtf8 interns a Utf8 entry and returns its index.
func (cp *ConstantPool) AddUtf8(s string) uint16 {
	if i, ok := cp.find(func(e *PoolEntry) bool { return e.Tag == TagUtf8 && e.Utf8 == s }); ok {
		return i
	}
	return cp.append(&PoolEntry{Tag: TagUtf8, Utf8: s})
}

// AddClass interns a Class entry for the given internal name.
func (cp *ConstantPool) AddClass(name string) uint16 {
	utf8 := cp.AddUtf8(name)
	if i, ok := cp.find(func(e *PoolEntry) bool { return e.Tag == TagClass && e.Ref1 == utf8 }); ok {
		return i
	}
	return cp.append(&PoolEntry{Tag: TagClass, Ref1: utf8})
}

// AddString interns a String constant.
func (cp *ConstantPool) AddString(s string) uint16 {
	utf8 := cp.AddUtf8(s)
	if i, ok := cp.find(func(e *PoolEntry) bool { return e.Tag == TagString && e.Ref1 == utf8 }); ok {
		return i
	}
	return cp.append(&PoolEntry{Tag: TagString, Ref1: utf8})
}

// AddNameAndType interns a NameAndType entry.
func (cp *ConstantPool) AddNameAndType(name, desc string) uint16 {
	n, d := cp.AddUtf8(name), cp.AddUtf8(desc)
	if i, ok := cp.find(func(e *PoolEntry) bool { return e.Tag == TagNameAndType && e.Ref1 == n && e.Ref2 == d }); ok {
		return i
	}
	return cp.append(&PoolEntry{Tag: TagNameAndType, Ref1: n, Ref2: d})
}

// AddRef interns a member reference with the given tag (TagFieldref,
// TagMethodref or TagInterfaceMethodref).
func (cp *ConstantPool) AddRef(tag uint8, owner, name, desc string) uint16 {
	cls := cp.AddClass(owner)
	nat := cp.AddNameAndType(name, desc)
	if i, ok := cp.find(func(e *PoolEntry) bool { return e.Tag == tag && e.Ref1 == cls && e.Ref2 == nat }); ok {
		return i
	}
	return cp.append(&PoolEntry{Tag: tag, Ref1: cls, Ref2: nat})
}

// AddInt interns an Integer constant.
func (cp *ConstantPool) AddInt(v int32) uint16 {
	if i, ok := cp.find(func(e *PoolEntry) bool { return e.Tag == TagInteger && e.Int == v }); ok {
		return i
	}
	return cp.append(&PoolEntry{Tag: TagInteger, Int: v})
}

// AddFloat interns a Float constant.
func (cp *ConstantPool) AddFloat(v float32) uint16 {
	if i, ok := cp.find(func(e *PoolEntry) bool { return e.Tag == TagFloat && e.Float == v }); ok {
		return i
	}
	return cp.append(&PoolEntry{Tag: TagFloat, Float: v})
}

// AddLong interns a Long constant.
func (cp *ConstantPool) AddLong(v int64) uint16 {
	if i, ok := cp.find(func(e *PoolEntry) bool { return e.Tag == TagLong && e.Long == v }); ok {
		return i
	}
	return cp.append(&PoolEntry{Tag: TagLong, Long: v})
}

// AddDouble interns a Double constant.
func (cp *ConstantPool) AddDouble(v float64) uint16 {
	if i, ok := cp.find(func(e *PoolEntry) bool { return e.Tag == TagDouble && e.Double == v }); ok {
		return i
	}
	return cp.append(&PoolEntry{Tag: TagDouble, Double: v})
}

// ---------------------------------------------------------------------------
// Wire format
// ---------------------------------------------------------------------------

func parseConstantPool(r io.Reader, count uint16) (*ConstantPool, error) {
	cp := &ConstantPool{entries: make([]*PoolEntry, count)}

	for i := uint16(1); i < count; i++ {
		var tag uint8
		if err := binary.Read(r, binary.BigEndian, &tag); err != nil {
			return nil, fmt.Errorf("reading constant pool tag at index %d: %w", i, err)
		}
		e := &PoolEntry{Tag: tag}

		switch tag {
		case TagUtf8:
			var length uint16
			if err := binary.Read(r, binary.BigEndian, &length); err != nil {
				return nil, fmt.Errorf("reading Utf8 length at index %d: %w", i, err)
			}
			raw := make([]byte, length)
			if _, err := io.ReadFull(r, raw); err != nil {
				return nil, fmt.Errorf("reading Utf8 bytes at index %d: %w", i, err)
			}
			e.Utf8 = string(raw)

		case TagInteger:
			if err := binary.Read(r, binary.BigEndian, &e.Int); err != nil {
				return nil, fmt.Errorf("reading Integer at index %d: %w", i, err)
			}

		case TagFloat:
			var bits uint32
			if err := binary.Read(r, binary.BigEndian, &bits); err != nil {
				return nil, fmt.Errorf("reading Float at index %d: %w", i, err)
			}
			e.Float = math.Float32frombits(bits)

		case TagLong:
			if err := binary.Read(r, binary.BigEndian, &e.Long); err != nil {
				return nil, fmt.Errorf("reading Long at index %d: %w", i, err)
			}

		case TagDouble:
			var bits uint64
			if err := binary.Read(r, binary.BigEndian, &bits); err != nil {
				return nil, fmt.Errorf("reading Double at index %d: %w", i, err)
			}
			e.Double = math.Float64frombits(bits)

		case TagClass, TagString, TagMethodType:
			if err := binary.Read(r, binary.BigEndian, &e.Ref1); err != nil {
				return nil, fmt.Errorf("reading single-index constant at index %d: %w", i, err)
			}

		case TagFieldref, TagMethodref, TagInterfaceMethodref, TagNameAndType, TagDynamic, TagInvokeDynamic:
			if err := binary.Read(r, binary.BigEndian, &e.Ref1); err != nil {
				return nil, fmt.Errorf("reading double-index constant at index %d: %w", i, err)
			}
			if err := binary.Read(r, binary.BigEndian, &e.Ref2); err != nil {
				return nil, fmt.Errorf("reading double-index constant at index %d: %w", i, err)
			}

		case TagMethodHandle:
			if err := binary.Read(r, binary.BigEndian, &e.RefKind); err != nil {
				return nil, fmt.Errorf("reading MethodHandle kind at index %d: %w", i, err)
			}
			if err := binary.Read(r, binary.BigEndian, &e.Ref1); err != nil {
				return nil, fmt.Errorf("reading MethodHandle index at index %d: %w", i, err)
			}

		default:
			return nil, fmt.Errorf("unknown constant pool tag %d at index %d", tag, i)
		}

		cp.entries[i] = e
		if tag == TagLong || tag == TagDouble {
			i++ // occupies two slots
		}
	}

	return cp, nil
}

func (cp *ConstantPool) write(buf []byte) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(cp.entries)))
	for i := 1; i < len(cp.entries); i++ {
		e := cp.entries[i]
		if e == nil {
			continue // phantom slot after Long/Double
		}
		buf = append(buf, e.Tag)
		switch e.Tag {
		case TagUtf8:
			buf = binary.BigEndian.AppendUint16(buf, uint16(len(e.Utf8)))
			buf = append(buf, e.Utf8...)
		case TagInteger:
			buf = binary.BigEndian.AppendUint32(buf, uint32(e.Int))
		case TagFloat:
			buf = binary.BigEndian.AppendUint32(buf, math.Float32bits(e.Float))
		case TagLong:
			buf = binary.BigEndian.AppendUint64(buf, uint64(e.Long))
		case TagDouble:
			buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(e.Double))
		case TagClass, TagString, TagMethodType:
			buf = binary.BigEndian.AppendUint16(buf, e.Ref1)
		case TagMethodHandle:
			buf = append(buf, e.RefKind)
			buf = binary.BigEndian.AppendUint16(buf, e.Ref1)
		default:
			buf = binary.BigEndian.AppendUint16(buf, e.Ref1)
			buf = binary.BigEndian.AppendUint16(buf, e.Ref2)
		}
	}
	return buf
}
