package classfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

const classMagic = 0xCAFEBABE

// Parse reads a class file from raw bytes.
func Parse(data []byte) (*ClassFile, error) {
	return parse(bytes.NewReader(data))
}

func parse(r io.Reader) (*ClassFile, error) {
	cf := &ClassFile{}

	var magic uint32
	if err := binary.Read(r, binary.BigEndian, &magic); err != nil {
		return nil, fmt.Errorf("reading magic number: %w", err)
	}
	if magic != classMagic {
		return nil, fmt.Errorf("invalid magic number: 0x%X (expected 0xCAFEBABE)", magic)
	}

	if err := binary.Read(r, binary.BigEndian, &cf.MinorVersion); err != nil {
		return nil, fmt.Errorf("reading minor version: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &cf.MajorVersion); err != nil {
		return nil, fmt.Errorf("reading major version: %w", err)
	}

	var cpCount uint16
	if err := binary.Read(r, binary.BigEndian, &cpCount); err != nil {
		return nil, fmt.Errorf("reading constant pool count: %w", err)
	}
	pool, err := parseConstantPool(r, cpCount)
	if err != nil {
		return nil, fmt.Errorf("parsing constant pool: %w", err)
	}
	cf.Pool = pool

	var thisIdx, superIdx uint16
	if err := binary.Read(r, binary.BigEndian, &cf.AccessFlags); err != nil {
		return nil, fmt.Errorf("reading access flags: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &thisIdx); err != nil {
		return nil, fmt.Errorf("reading this_class: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &superIdx); err != nil {
		return nil, fmt.Errorf("reading super_class: %w", err)
	}
	if cf.ThisClass, err = pool.ClassNameAt(thisIdx); err != nil {
		return nil, fmt.Errorf("resolving this_class: %w", err)
	}
	if superIdx != 0 {
		if cf.SuperClass, err = pool.ClassNameAt(superIdx); err != nil {
			return nil, fmt.Errorf("resolving super_class: %w", err)
		}
	}

	var ifaceCount uint16
	if err := binary.Read(r, binary.BigEndian, &ifaceCount); err != nil {
		return nil, fmt.Errorf("reading interfaces count: %w", err)
	}
	for i := uint16(0); i < ifaceCount; i++ {
		var idx uint16
		if err := binary.Read(r, binary.BigEndian, &idx); err != nil {
			return nil, fmt.Errorf("reading interface %d: %w", i, err)
		}
		name, err := pool.ClassNameAt(idx)
		if err != nil {
			return nil, fmt.Errorf("resolving interface %d: %w", i, err)
		}
		cf.Interfaces = append(cf.Interfaces, name)
	}

	var fieldCount uint16
	if err := binary.Read(r, binary.BigEndian, &fieldCount); err != nil {
		return nil, fmt.Errorf("reading fields count: %w", err)
	}
	for i := uint16(0); i < fieldCount; i++ {
		f := &FieldInfo{}
		var nameIdx, descIdx uint16
		if err := readU16s(r, &f.AccessFlags, &nameIdx, &descIdx); err != nil {
			return nil, fmt.Errorf("reading field %d: %w", i, err)
		}
		if f.Name, err = pool.Utf8At(nameIdx); err != nil {
			return nil, fmt.Errorf("resolving field %d name: %w", i, err)
		}
		if f.Descriptor, err = pool.Utf8At(descIdx); err != nil {
			return nil, fmt.Errorf("resolving field %d descriptor: %w", i, err)
		}
		attrs, err := parseAttributes(r, pool)
		if err != nil {
			return nil, fmt.Errorf("parsing field %s attributes: %w", f.Name, err)
		}
		for _, a := range attrs {
			if a.Name == "ConstantValue" && len(a.Data) == 2 {
				if f.ConstantValue, err = constValueAt(pool, binary.BigEndian.Uint16(a.Data)); err != nil {
					return nil, fmt.Errorf("decoding field %s ConstantValue: %w", f.Name, err)
				}
				continue
			}
			f.Attributes = append(f.Attributes, a)
		}
		cf.Fields = append(cf.Fields, f)
	}

	var methodCount uint16
	if err := binary.Read(r, binary.BigEndian, &methodCount); err != nil {
		return nil, fmt.Errorf("reading methods count: %w", err)
	}
	for i := uint16(0); i < methodCount; i++ {
		m := &MethodInfo{}
		var nameIdx, descIdx uint16
		if err := readU16s(r, &m.AccessFlags, &nameIdx, &descIdx); err != nil {
			return nil, fmt.Errorf("reading method %d: %w", i, err)
		}
		if m.Name, err = pool.Utf8At(nameIdx); err != nil {
			return nil, fmt.Errorf("resolving method %d name: %w", i, err)
		}
		if m.Descriptor, err = pool.Utf8At(descIdx); err != nil {
			return nil, fmt.Errorf("resolving method %d descriptor: %w", i, err)
		}
		attrs, err := parseAttributes(r, pool)
		if err != nil {
			return nil, fmt.Errorf("parsing method %s attributes: %w", m.Name, err)
		}
		for _, a := range attrs {
			switch a.Name {
			case "Code":
				if m.Code, err = parseCode(a.Data, pool); err != nil {
					return nil, fmt.Errorf("decoding %s.%s%s: %w", cf.ThisClass, m.Name, m.Descriptor, err)
				}
			case "Exceptions":
				if m.Exceptions, err = parseExceptions(a.Data, pool); err != nil {
					return nil, fmt.Errorf("decoding %s.%s throws clause: %w", cf.ThisClass, m.Name, err)
				}
			default:
				m.Attributes = append(m.Attributes, a)
			}
		}
		cf.Methods = append(cf.Methods, m)
	}

	attrs, err := parseAttributes(r, pool)
	if err != nil {
		return nil, fmt.Errorf("parsing class attributes: %w", err)
	}
	for _, a := range attrs {
		if a.Name == "SourceFile" && len(a.Data) == 2 {
			if s, err := pool.Utf8At(binary.BigEndian.Uint16(a.Data)); err == nil {
				cf.SourceFile = s
				continue
			}
		}
		cf.Attributes = append(cf.Attributes, a)
	}

	return cf, nil
}

func readU16s(r io.Reader, dst ...*uint16) error {
	for _, d := range dst {
		if err := binary.Read(r, binary.BigEndian, d); err != nil {
			return err
		}
	}
	return nil
}

func parseAttributes(r io.Reader, pool *ConstantPool) ([]AttributeInfo, error) {
	var count uint16
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("reading attribute count: %w", err)
	}
	attrs := make([]AttributeInfo, 0, count)
	for i := uint16(0); i < count; i++ {
		var nameIdx uint16
		var length uint32
		if err := binary.Read(r, binary.BigEndian, &nameIdx); err != nil {
			return nil, fmt.Errorf("reading attribute %d name index: %w", i, err)
		}
		if err := binary.Read(r, binary.BigEndian, &length); err != nil {
			return nil, fmt.Errorf("reading attribute %d length: %w", i, err)
		}
		name, err := pool.Utf8At(nameIdx)
		if err != nil {
			return nil, fmt.Errorf("resolving attribute %d name: %w", i, err)
		}
		data := make([]byte, length)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, fmt.Errorf("reading attribute %s body: %w", name, err)
		}
		attrs = append(attrs, AttributeInfo{Name: name, Data: data})
	}
	return attrs, nil
}

// constValueAt resolves a ConstantValue operand into its symbolic form so the
// field initializer survives re-interning against a different pool.
func constValueAt(pool *ConstantPool, idx uint16) (*ConstValue, error) {
	e := pool.Entry(idx)
	if e == nil {
		return nil, fmt.Errorf("constant pool index %d out of range", idx)
	}
	switch e.Tag {
	case TagInteger:
		return &ConstValue{Kind: ConstInt, I: int64(e.Int)}, nil
	case TagLong:
		return &ConstValue{Kind: ConstLong, I: e.Long}, nil
	case TagFloat:
		return &ConstValue{Kind: ConstFloat, F: float64(e.Float)}, nil
	case TagDouble:
		return &ConstValue{Kind: ConstDouble, F: e.Double}, nil
	case TagString:
		s, err := pool.Utf8At(e.Ref1)
		if err != nil {
			return nil, err
		}
		return &ConstValue{Kind: ConstString, S: s}, nil
	default:
		return nil, fmt.Errorf("constant pool index %d (tag %d) is not a field initializer", idx, e.Tag)
	}
}

// parseExceptions resolves an Exceptions attribute body into class names.
func parseExceptions(data []byte, pool *ConstantPool) ([]string, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("truncated Exceptions attribute")
	}
	count := int(binary.BigEndian.Uint16(data))
	if len(data) != 2+2*count {
		return nil, fmt.Errorf("Exceptions attribute length mismatch")
	}
	names := make([]string, 0, count)
	for i := 0; i < count; i++ {
		idx := binary.BigEndian.Uint16(data[2+2*i:])
		name, err := pool.ClassNameAt(idx)
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, nil
}

// parseCode decodes a raw Code attribute body into a Code value. StackMapTable
// and other offset-dependent sub-attributes are dropped; they are invalid
// after rewriting and the output targets class file version 49.
func parseCode(data []byte, pool *ConstantPool) (*Code, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("Code attribute too short (%d bytes)", len(data))
	}
	c := &Code{
		MaxStack:  int(binary.BigEndian.Uint16(data[0:])),
		MaxLocals: int(binary.BigEndian.Uint16(data[2:])),
	}
	codeLen := int(binary.BigEndian.Uint32(data[4:]))
	pos := 8
	if pos+codeLen > len(data) {
		return nil, fmt.Errorf("Code attribute truncated: code length %d", codeLen)
	}
	raw := data[pos : pos+codeLen]
	pos += codeLen

	if pos+2 > len(data) {
		return nil, fmt.Errorf("Code attribute truncated at exception table")
	}
	excCount := int(binary.BigEndian.Uint16(data[pos:]))
	pos += 2

	type rawHandler struct {
		start, end, handler int
		catchType           string
	}
	rawHandlers := make([]rawHandler, excCount)
	var extraOffsets []int
	for i := range rawHandlers {
		if pos+8 > len(data) {
			return nil, fmt.Errorf("Code attribute truncated in exception entry %d", i)
		}
		h := rawHandler{
			start:   int(binary.BigEndian.Uint16(data[pos:])),
			end:     int(binary.BigEndian.Uint16(data[pos+2:])),
			handler: int(binary.BigEndian.Uint16(data[pos+4:])),
		}
		if ct := binary.BigEndian.Uint16(data[pos+6:]); ct != 0 {
			name, err := pool.ClassNameAt(ct)
			if err != nil {
				return nil, fmt.Errorf("exception entry %d catch type: %w", i, err)
			}
			h.catchType = name
		}
		rawHandlers[i] = h
		extraOffsets = append(extraOffsets, h.start, h.end, h.handler)
		pos += 8
	}

	attrs, err := parseAttributes(bytes.NewReader(data[pos:]), pool)
	if err != nil {
		return nil, err
	}

	lineTable := make(map[int]int)
	type rawLocal struct {
		start, length, slot int
		name, desc          string
	}
	var rawLocals []rawLocal
	for _, a := range attrs {
		switch a.Name {
		case "LineNumberTable":
			n := int(binary.BigEndian.Uint16(a.Data))
			for i := 0; i < n; i++ {
				off := int(binary.BigEndian.Uint16(a.Data[2+4*i:]))
				line := int(binary.BigEndian.Uint16(a.Data[4+4*i:]))
				if _, seen := lineTable[off]; !seen {
					lineTable[off] = line
				}
			}
		case "LocalVariableTable":
			n := int(binary.BigEndian.Uint16(a.Data))
			for i := 0; i < n; i++ {
				rec := a.Data[2+10*i:]
				name, err := pool.Utf8At(binary.BigEndian.Uint16(rec[4:]))
				if err != nil {
					return nil, fmt.Errorf("local variable %d name: %w", i, err)
				}
				desc, err := pool.Utf8At(binary.BigEndian.Uint16(rec[6:]))
				if err != nil {
					return nil, fmt.Errorf("local variable %d descriptor: %w", i, err)
				}
				lv := rawLocal{
					start:  int(binary.BigEndian.Uint16(rec)),
					length: int(binary.BigEndian.Uint16(rec[2:])),
					slot:   int(binary.BigEndian.Uint16(rec[8:])),
					name:   name,
					desc:   desc,
				}
				rawLocals = append(rawLocals, lv)
				extraOffsets = append(extraOffsets, lv.start, lv.start+lv.length)
			}
		}
	}

	insns, labels, err := DecodeCode(raw, pool, lineTable, extraOffsets)
	if err != nil {
		return nil, err
	}
	c.Insns = insns

	for _, h := range rawHandlers {
		c.Handlers = append(c.Handlers, ExceptionHandler{
			Start:     labels[h.start],
			End:       labels[h.end],
			Handler:   labels[h.handler],
			CatchType: h.catchType,
		})
	}
	for _, lv := range rawLocals {
		c.LocalVars = append(c.LocalVars, LocalVarEntry{
			Start: labels[lv.start],
			End:   labels[lv.start+lv.length],
			Name:  lv.name,
			Desc:  lv.desc,
			Slot:  lv.slot,
		})
	}
	return c, nil
}
