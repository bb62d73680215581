package classfile

// Clone returns a deep copy of the instruction node.
func (in *Insn) Clone() *Insn {
	out := *in
	if in.Keys != nil {
		out.Keys = append([]int32(nil), in.Keys...)
	}
	if in.Targets != nil {
		out.Targets = append([]LabelID(nil), in.Targets...)
	}
	return &out
}

// Clone returns a deep copy of the code attribute. Label ids are preserved;
// they are only meaningful within one method body.
func (c *Code) Clone() *Code {
	out := &Code{
		MaxStack:  c.MaxStack,
		MaxLocals: c.MaxLocals,
		Insns:     make([]*Insn, len(c.Insns)),
		Handlers:  append([]ExceptionHandler(nil), c.Handlers...),
		LocalVars: append([]LocalVarEntry(nil), c.LocalVars...),
	}
	for i, in := range c.Insns {
		out.Insns[i] = in.Clone()
	}
	return out
}

// Clone returns a deep copy of the method, including its code.
func (m *MethodInfo) Clone() *MethodInfo {
	out := &MethodInfo{
		AccessFlags: m.AccessFlags,
		Name:        m.Name,
		Descriptor:  m.Descriptor,
		Exceptions:  append([]string(nil), m.Exceptions...),
		Attributes:  append([]AttributeInfo(nil), m.Attributes...),
	}
	if m.Code != nil {
		out.Code = m.Code.Clone()
	}
	return out
}
