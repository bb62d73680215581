package classfile

// New returns an empty public class with the given names, targeting class
// file version 49.0 (the newest version that does not require StackMapTable
// frames, which the rewriter does not emit).
func New(name, super string) *ClassFile {
	return &ClassFile{
		MajorVersion: 49,
		Pool:         NewConstantPool(),
		AccessFlags:  AccPublic | AccSuper,
		ThisClass:    name,
		SuperClass:   super,
	}
}

// AddMethod appends a method with a decoded body and returns it.
func (cf *ClassFile) AddMethod(flags uint16, name, desc string, code *Code) *MethodInfo {
	m := &MethodInfo{AccessFlags: flags, Name: name, Descriptor: desc, Code: code}
	cf.Methods = append(cf.Methods, m)
	return m
}

// AddField appends a field and returns it.
func (cf *ClassFile) AddField(flags uint16, name, desc string) *FieldInfo {
	f := &FieldInfo{AccessFlags: flags, Name: name, Descriptor: desc}
	cf.Fields = append(cf.Fields, f)
	return f
}
