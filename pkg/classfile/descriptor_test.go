package classfile

import "testing"

func TestParseMethodDescriptor(t *testing.T) {
	tests := []struct {
		desc string
		args []string
		ret  string
	}{
		{"()V", nil, "V"},
		{"(I)I", []string{"I"}, "I"},
		{"(IJLjava/lang/String;)V", []string{"I", "J", "Ljava/lang/String;"}, "V"},
		{"([I[[Ljava/lang/Object;)[B", []string{"[I", "[[Ljava/lang/Object;"}, "[B"},
		{"(DD)D", []string{"D", "D"}, "D"},
	}

	for _, tt := range tests {
		args, ret, err := ParseMethodDescriptor(tt.desc)
		if err != nil {
			t.Errorf("%s: %v", tt.desc, err)
			continue
		}
		if ret.Desc != tt.ret {
			t.Errorf("%s: return = %s, want %s", tt.desc, ret.Desc, tt.ret)
		}
		if len(args) != len(tt.args) {
			t.Errorf("%s: %d args, want %d", tt.desc, len(args), len(tt.args))
			continue
		}
		for i, a := range args {
			if a.Desc != tt.args[i] {
				t.Errorf("%s: arg %d = %s, want %s", tt.desc, i, a.Desc, tt.args[i])
			}
		}
	}
}

func TestParseMethodDescriptorErrors(t *testing.T) {
	for _, desc := range []string{"", "I", "(I", "(X)V", "()", "()Lunterminated"} {
		if _, _, err := ParseMethodDescriptor(desc); err == nil {
			t.Errorf("%q: expected error", desc)
		}
	}
}

func TestArgSlots(t *testing.T) {
	args, _, err := ParseMethodDescriptor("(IJD)V")
	if err != nil {
		t.Fatal(err)
	}
	if n := ArgSlots(args, true); n != 5 {
		t.Errorf("static slots = %d, want 5", n)
	}
	if n := ArgSlots(args, false); n != 6 {
		t.Errorf("instance slots = %d, want 6", n)
	}
}

func TestTypeProperties(t *testing.T) {
	if !VoidType.IsVoid() {
		t.Error("VoidType must be void")
	}
	long := Type{Desc: "J"}
	if !long.IsWide() || long.Slots() != 2 {
		t.Error("long must be wide with 2 slots")
	}
	str := Type{Desc: "Ljava/lang/String;"}
	if !str.IsReference() || str.ClassName() != "java/lang/String" {
		t.Errorf("string type broken: %v, %q", str.IsReference(), str.ClassName())
	}
	if ObjectOf("com/example/Foo").Desc != "Lcom/example/Foo;" {
		t.Error("ObjectOf mangles names")
	}
}

func TestOpcodeSelection(t *testing.T) {
	if LoadOpcode(Type{Desc: "Z"}) != OpIload {
		t.Error("boolean loads via iload")
	}
	if LoadOpcode(Type{Desc: "[I"}) != OpAload {
		t.Error("arrays load via aload")
	}
	if StoreOpcode(Type{Desc: "D"}) != OpDstore {
		t.Error("double stores via dstore")
	}
	if ReturnOpcode(VoidType) != OpReturn {
		t.Error("void returns via return")
	}
	if ReturnOpcode(Type{Desc: "Ljava/lang/String;"}) != OpAreturn {
		t.Error("references return via areturn")
	}
}

func TestBoxed(t *testing.T) {
	class, acc, desc, ok := Boxed(Type{Desc: "I"})
	if !ok || class != "java/lang/Integer" || acc != "intValue" || desc != "()I" {
		t.Errorf("int boxing = %s %s %s", class, acc, desc)
	}
	if _, _, _, ok := Boxed(Type{Desc: "Ljava/lang/String;"}); ok {
		t.Error("reference types have no box")
	}
}

func TestPushInt(t *testing.T) {
	if in := PushInt(3); in.Opcode != OpIconst3 {
		t.Errorf("PushInt(3) = %s", in.Opcode.Mnemonic())
	}
	if in := PushInt(100); in.Opcode != OpBipush || in.Operand != 100 {
		t.Errorf("PushInt(100) = %s %d", in.Opcode.Mnemonic(), in.Operand)
	}
	if in := PushInt(1000); in.Opcode != OpSipush {
		t.Errorf("PushInt(1000) = %s", in.Opcode.Mnemonic())
	}
	if in := PushInt(100000); in.Kind != KindConst {
		t.Errorf("PushInt(100000) kind = %d", in.Kind)
	}
}
