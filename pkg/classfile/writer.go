package classfile

import (
	"encoding/binary"
	"fmt"
)

// maxEmittedMajor is the newest class file version Serialize will claim.
const maxEmittedMajor = 49

// Serialize encodes the class back to class file bytes. The constant pool is
// extended in place as instruction references are interned, so Serialize is
// not safe for concurrent use with other mutations of the same ClassFile.
func (cf *ClassFile) Serialize() ([]byte, error) {
	pool := cf.Pool
	if pool == nil {
		pool = NewConstantPool()
		cf.Pool = pool
	}

	// Everything after the constant pool is assembled first so that all
	// interning happens before the pool itself is written.
	var body []byte
	body = binary.BigEndian.AppendUint16(body, cf.AccessFlags)
	body = binary.BigEndian.AppendUint16(body, pool.AddClass(cf.ThisClass))
	if cf.SuperClass == "" {
		body = binary.BigEndian.AppendUint16(body, 0)
	} else {
		body = binary.BigEndian.AppendUint16(body, pool.AddClass(cf.SuperClass))
	}

	body = binary.BigEndian.AppendUint16(body, uint16(len(cf.Interfaces)))
	for _, name := range cf.Interfaces {
		body = binary.BigEndian.AppendUint16(body, pool.AddClass(name))
	}

	body = binary.BigEndian.AppendUint16(body, uint16(len(cf.Fields)))
	for _, f := range cf.Fields {
		body = binary.BigEndian.AppendUint16(body, f.AccessFlags)
		body = binary.BigEndian.AppendUint16(body, pool.AddUtf8(f.Name))
		body = binary.BigEndian.AppendUint16(body, pool.AddUtf8(f.Descriptor))
		attrs := f.Attributes
		if f.ConstantValue != nil {
			var cv [2]byte
			binary.BigEndian.PutUint16(cv[:], internConstValue(pool, *f.ConstantValue))
			attrs = append([]AttributeInfo{{Name: "ConstantValue", Data: cv[:]}}, attrs...)
		}
		body = writeAttributes(body, pool, attrs)
	}

	body = binary.BigEndian.AppendUint16(body, uint16(len(cf.Methods)))
	for _, m := range cf.Methods {
		body = binary.BigEndian.AppendUint16(body, m.AccessFlags)
		body = binary.BigEndian.AppendUint16(body, pool.AddUtf8(m.Name))
		body = binary.BigEndian.AppendUint16(body, pool.AddUtf8(m.Descriptor))

		attrs := m.Attributes
		if len(m.Exceptions) > 0 {
			var ex []byte
			ex = binary.BigEndian.AppendUint16(ex, uint16(len(m.Exceptions)))
			for _, name := range m.Exceptions {
				ex = binary.BigEndian.AppendUint16(ex, pool.AddClass(name))
			}
			attrs = append([]AttributeInfo{{Name: "Exceptions", Data: ex}}, attrs...)
		}
		if m.Code != nil {
			codeData, err := encodeCodeAttr(m.Code, pool)
			if err != nil {
				return nil, fmt.Errorf("encoding %s.%s%s: %w", cf.ThisClass, m.Name, m.Descriptor, err)
			}
			attrs = append([]AttributeInfo{{Name: "Code", Data: codeData}}, attrs...)
		}
		body = writeAttributes(body, pool, attrs)
	}

	classAttrs := cf.Attributes
	if cf.SourceFile != "" {
		var sf [2]byte
		binary.BigEndian.PutUint16(sf[:], pool.AddUtf8(cf.SourceFile))
		classAttrs = append([]AttributeInfo{{Name: "SourceFile", Data: sf[:]}}, classAttrs...)
	}
	body = writeAttributes(body, pool, classAttrs)

	// Rewritten code carries no StackMapTable, which class file version 50+
	// requires for verification, so the output never claims a newer version
	// than the classic verifier covers.
	major, minor := cf.MajorVersion, cf.MinorVersion
	if major > maxEmittedMajor {
		major, minor = maxEmittedMajor, 0
	}

	out := make([]byte, 0, 10+len(body))
	out = binary.BigEndian.AppendUint32(out, classMagic)
	out = binary.BigEndian.AppendUint16(out, minor)
	out = binary.BigEndian.AppendUint16(out, major)
	out = pool.write(out)
	return append(out, body...), nil
}

// internConstValue adds a field initializer constant to the pool and returns
// its index.
func internConstValue(pool *ConstantPool, v ConstValue) uint16 {
	switch v.Kind {
	case ConstLong:
		return pool.AddLong(v.I)
	case ConstFloat:
		return pool.AddFloat(float32(v.F))
	case ConstDouble:
		return pool.AddDouble(v.F)
	case ConstString:
		return pool.AddString(v.S)
	default:
		return pool.AddInt(int32(v.I))
	}
}

func writeAttributes(buf []byte, pool *ConstantPool, attrs []AttributeInfo) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(attrs)))
	for _, a := range attrs {
		buf = binary.BigEndian.AppendUint16(buf, pool.AddUtf8(a.Name))
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(a.Data)))
		buf = append(buf, a.Data...)
	}
	return buf
}

func encodeCodeAttr(c *Code, pool *ConstantPool) ([]byte, error) {
	code, labels, lineTable, err := EncodeCode(c.Insns, pool)
	if err != nil {
		return nil, err
	}

	var buf []byte
	buf = binary.BigEndian.AppendUint16(buf, uint16(c.MaxStack))
	buf = binary.BigEndian.AppendUint16(buf, uint16(c.MaxLocals))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(code)))
	buf = append(buf, code...)

	buf = binary.BigEndian.AppendUint16(buf, uint16(len(c.Handlers)))
	for _, h := range c.Handlers {
		start, ok1 := labels[h.Start]
		end, ok2 := labels[h.End]
		handler, ok3 := labels[h.Handler]
		if !ok1 || !ok2 || !ok3 {
			return nil, fmt.Errorf("exception handler references undefined label")
		}
		buf = binary.BigEndian.AppendUint16(buf, uint16(start))
		buf = binary.BigEndian.AppendUint16(buf, uint16(end))
		buf = binary.BigEndian.AppendUint16(buf, uint16(handler))
		if h.CatchType == "" {
			buf = binary.BigEndian.AppendUint16(buf, 0)
		} else {
			buf = binary.BigEndian.AppendUint16(buf, pool.AddClass(h.CatchType))
		}
	}

	var attrs []AttributeInfo
	if len(lineTable) > 0 {
		var lt []byte
		lt = binary.BigEndian.AppendUint16(lt, uint16(len(lineTable)))
		for _, pair := range lineTable {
			lt = binary.BigEndian.AppendUint16(lt, uint16(pair[0]))
			lt = binary.BigEndian.AppendUint16(lt, uint16(pair[1]))
		}
		attrs = append(attrs, AttributeInfo{Name: "LineNumberTable", Data: lt})
	}
	if len(c.LocalVars) > 0 {
		var lvt []byte
		lvt = binary.BigEndian.AppendUint16(lvt, uint16(len(c.LocalVars)))
		for _, lv := range c.LocalVars {
			start, ok1 := labels[lv.Start]
			end, ok2 := labels[lv.End]
			if !ok1 || !ok2 {
				return nil, fmt.Errorf("local variable %s references undefined label", lv.Name)
			}
			lvt = binary.BigEndian.AppendUint16(lvt, uint16(start))
			lvt = binary.BigEndian.AppendUint16(lvt, uint16(end-start))
			lvt = binary.BigEndian.AppendUint16(lvt, pool.AddUtf8(lv.Name))
			lvt = binary.BigEndian.AppendUint16(lvt, pool.AddUtf8(lv.Desc))
			lvt = binary.BigEndian.AppendUint16(lvt, uint16(lv.Slot))
		}
		attrs = append(attrs, AttributeInfo{Name: "LocalVariableTable", Data: lvt})
	}

	return writeAttributes(buf, pool, attrs), nil
}
