package classfile

import "fmt"

// Type is a JVM field type in descriptor form, e.g. "I", "[J" or
// "Ljava/lang/String;". The zero value is not a valid type; VoidType marks
// the absence of a return value.
type Type struct {
	Desc string
}

// VoidType is the return "type" of a void method.
var VoidType = Type{Desc: "V"}

// ObjectType is java/lang/Object.
var ObjectType = Type{Desc: "Ljava/lang/Object;"}

// IsVoid reports whether t is the void pseudo-type.
func (t Type) IsVoid() bool { return t.Desc == "V" }

// IsReference reports whether t is a class or array type.
func (t Type) IsReference() bool {
	return len(t.Desc) > 0 && (t.Desc[0] == 'L' || t.Desc[0] == '[')
}

// IsPrimitive reports whether t is a primitive type.
func (t Type) IsPrimitive() bool { return !t.IsVoid() && !t.IsReference() }

// IsWide reports whether t occupies two local variable slots.
func (t Type) IsWide() bool { return t.Desc == "J" || t.Desc == "D" }

// Slots returns the number of local variable slots t occupies.
func (t Type) Slots() int {
	if t.IsWide() {
		return 2
	}
	return 1
}

// ClassName returns the internal class name for an object type, or "" for
// primitives and arrays.
func (t Type) ClassName() string {
	if len(t.Desc) > 1 && t.Desc[0] == 'L' {
		return t.Desc[1 : len(t.Desc)-1]
	}
	return ""
}

// String returns the raw descriptor.
func (t Type) String() string { return t.Desc }

// ObjectOf returns the object type for an internal class name.
func ObjectOf(internalName string) Type {
	return Type{Desc: "L" + internalName + ";"}
}

// ParseMethodDescriptor splits a method descriptor into argument types and a
// return type.
func ParseMethodDescriptor(desc string) (args []Type, ret Type, err error) {
	if len(desc) < 3 || desc[0] != '(' {
		return nil, VoidType, fmt.Errorf("malformed method descriptor %q", desc)
	}
	i := 1
	for i < len(desc) && desc[i] != ')' {
		t, n, err := parseFieldType(desc[i:])
		if err != nil {
			return nil, VoidType, fmt.Errorf("malformed method descriptor %q: %w", desc, err)
		}
		args = append(args, t)
		i += n
	}
	if i >= len(desc) || desc[i] != ')' {
		return nil, VoidType, fmt.Errorf("malformed method descriptor %q: missing ')'", desc)
	}
	rest := desc[i+1:]
	if rest == "V" {
		return args, VoidType, nil
	}
	t, n, err := parseFieldType(rest)
	if err != nil || n != len(rest) {
		return nil, VoidType, fmt.Errorf("malformed return type in descriptor %q", desc)
	}
	return args, t, nil
}

func parseFieldType(s string) (Type, int, error) {
	if len(s) == 0 {
		return Type{}, 0, fmt.Errorf("empty field type")
	}
	switch s[0] {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z':
		return Type{Desc: s[:1]}, 1, nil
	case 'L':
		for i := 1; i < len(s); i++ {
			if s[i] == ';' {
				return Type{Desc: s[:i+1]}, i + 1, nil
			}
		}
		return Type{}, 0, fmt.Errorf("unterminated object type %q", s)
	case '[':
		elem, n, err := parseFieldType(s[1:])
		if err != nil {
			return Type{}, 0, err
		}
		return Type{Desc: "[" + elem.Desc}, n + 1, nil
	default:
		return Type{}, 0, fmt.Errorf("unknown field type tag %q", s[0])
	}
}

// ArgSlots returns the number of local slots the arguments occupy, including
// the receiver slot for instance methods.
func ArgSlots(args []Type, static bool) int {
	n := 0
	if !static {
		n = 1
	}
	for _, a := range args {
		n += a.Slots()
	}
	return n
}

// LoadOpcode returns the load instruction for a value of type t.
func LoadOpcode(t Type) Opcode {
	switch t.Desc {
	case "J":
		return OpLload
	case "F":
		return OpFload
	case "D":
		return OpDload
	default:
		if t.IsReference() {
			return OpAload
		}
		return OpIload // B, C, I, S, Z all use the int form
	}
}

// StoreOpcode returns the store instruction for a value of type t.
func StoreOpcode(t Type) Opcode {
	switch t.Desc {
	case "J":
		return OpLstore
	case "F":
		return OpFstore
	case "D":
		return OpDstore
	default:
		if t.IsReference() {
			return OpAstore
		}
		return OpIstore
	}
}

// ReturnOpcode returns the return instruction for a method returning t.
func ReturnOpcode(t Type) Opcode {
	switch t.Desc {
	case "V":
		return OpReturn
	case "J":
		return OpLreturn
	case "F":
		return OpFreturn
	case "D":
		return OpDreturn
	default:
		if t.IsReference() {
			return OpAreturn
		}
		return OpIreturn
	}
}

// Boxed returns the wrapper class and unbox accessor for a primitive type.
// The second result is the accessor's descriptor.
func Boxed(t Type) (class, accessor, accessorDesc string, ok bool) {
	switch t.Desc {
	case "Z":
		return "java/lang/Boolean", "booleanValue", "()Z", true
	case "B":
		return "java/lang/Byte", "byteValue", "()B", true
	case "C":
		return "java/lang/Character", "charValue", "()C", true
	case "S":
		return "java/lang/Short", "shortValue", "()S", true
	case "I":
		return "java/lang/Integer", "intValue", "()I", true
	case "J":
		return "java/lang/Long", "longValue", "()J", true
	case "F":
		return "java/lang/Float", "floatValue", "()F", true
	case "D":
		return "java/lang/Double", "doubleValue", "()D", true
	default:
		return "", "", "", false
	}
}
