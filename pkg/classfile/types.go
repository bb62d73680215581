// Package classfile reads and writes the JVM class file format at the level
// of detail the weaving engine needs: constant pool, members, and fully
// decoded Code attributes.
package classfile

// Access flags for classes, fields and methods.
const (
	AccPublic     = 0x0001
	AccPrivate    = 0x0002
	AccProtected  = 0x0004
	AccStatic     = 0x0008
	AccFinal      = 0x0010
	AccSuper      = 0x0020
	AccBridge     = 0x0040
	AccVarargs    = 0x0080
	AccNative     = 0x0100
	AccInterface  = 0x0200
	AccAbstract   = 0x0400
	AccSynthetic  = 0x1000
	AccAnnotation = 0x2000
	AccEnum       = 0x4000
)

// ClassFile is a parsed .class file. Names and descriptors are resolved out
// of the constant pool at parse time so callers never touch raw indices.
type ClassFile struct {
	MinorVersion uint16
	MajorVersion uint16
	Pool         *ConstantPool
	AccessFlags  uint16
	ThisClass    string
	SuperClass   string // "" for java/lang/Object
	Interfaces   []string
	Fields       []*FieldInfo
	Methods      []*MethodInfo
	Attributes   []AttributeInfo
	SourceFile   string
}

// IsInterface reports whether the class is an interface.
func (cf *ClassFile) IsInterface() bool { return cf.AccessFlags&AccInterface != 0 }

// Method returns the method with the given name and descriptor, or nil.
func (cf *ClassFile) Method(name, desc string) *MethodInfo {
	for _, m := range cf.Methods {
		if m.Name == name && m.Descriptor == desc {
			return m
		}
	}
	return nil
}

// Field returns the field with the given name, or nil.
func (cf *ClassFile) Field(name string) *FieldInfo {
	for _, f := range cf.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// MethodInfo is a method member. If the method has a Code attribute it is
// decoded into an instruction list; abstract and native methods have nil Code.
type MethodInfo struct {
	AccessFlags uint16
	Name        string
	Descriptor  string
	Code        *Code
	Exceptions  []string // declared throws, internal class names
	Attributes  []AttributeInfo
}

// IsStatic reports whether the method is static.
func (m *MethodInfo) IsStatic() bool { return m.AccessFlags&AccStatic != 0 }

// IsPrivate reports whether the method is private.
func (m *MethodInfo) IsPrivate() bool { return m.AccessFlags&AccPrivate != 0 }

// IsFinal reports whether the method is final.
func (m *MethodInfo) IsFinal() bool { return m.AccessFlags&AccFinal != 0 }

// IsConstructor reports whether the method is an instance initializer.
func (m *MethodInfo) IsConstructor() bool { return m.Name == "<init>" }

// FieldInfo is a field member.
type FieldInfo struct {
	AccessFlags   uint16
	Name          string
	Descriptor    string
	ConstantValue *ConstValue // static final initializer, nil when absent
	Attributes    []AttributeInfo
}

// IsStatic reports whether the field is static.
func (f *FieldInfo) IsStatic() bool { return f.AccessFlags&AccStatic != 0 }

// IsPrivate reports whether the field is private.
func (f *FieldInfo) IsPrivate() bool { return f.AccessFlags&AccPrivate != 0 }

// IsFinal reports whether the field is final.
func (f *FieldInfo) IsFinal() bool { return f.AccessFlags&AccFinal != 0 }

// AttributeInfo is an attribute the parser does not interpret, kept verbatim
// so unknown metadata survives a read/rewrite round trip.
type AttributeInfo struct {
	Name string
	Data []byte
}

// ExceptionHandler is one entry of a Code attribute's exception table,
// expressed in label space rather than bytecode offsets.
type ExceptionHandler struct {
	Start     LabelID
	End       LabelID
	Handler   LabelID
	CatchType string // "" for catch-all
}

// LocalVarEntry is one LocalVariableTable record, scoped by labels.
type LocalVarEntry struct {
	Start LabelID
	End   LabelID
	Name  string
	Desc  string
	Slot  int
}

// Code is a fully decoded Code attribute. Instructions carry symbolic
// owner/name/descriptor references; offsets only exist transiently during
// encode and decode.
type Code struct {
	MaxStack  int
	MaxLocals int
	Insns     []*Insn
	Handlers  []ExceptionHandler
	LocalVars []LocalVarEntry
}
