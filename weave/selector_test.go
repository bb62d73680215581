package weave

import (
	"testing"

	"github.com/chazu/weft/pkg/classfile"
)

func TestParseSelectorForms(t *testing.T) {
	cases := []struct {
		in    string
		owner string
		name  string
		desc  string
	}{
		{"foo", "", "foo", ""},
		{"foo(I)V", "", "foo", "(I)V"},
		{"count:I", "", "count", "I"},
		{"Lcom/example/Foo;bar(I)V", "com/example/Foo", "bar", "(I)V"},
		{"Lcom/example/Foo;count:I", "com/example/Foo", "count", "I"},
		{"com/example/Foo.bar(I)V", "com/example/Foo", "bar", "(I)V"},
	}
	for _, c := range cases {
		sel, err := ParseSelector(c.in)
		if err != nil {
			t.Fatalf("ParseSelector(%q): %v", c.in, err)
		}
		if sel.Owner != c.owner || sel.Name != c.name || sel.Desc != c.desc {
			t.Errorf("ParseSelector(%q) = {%s %s %s}, want {%s %s %s}",
				c.in, sel.Owner, sel.Name, sel.Desc, c.owner, c.name, c.desc)
		}
		if sel.Ordinal != -1 {
			t.Errorf("ParseSelector(%q) ordinal = %d, want -1", c.in, sel.Ordinal)
		}
	}
}

func TestParseSelectorErrors(t *testing.T) {
	for _, in := range []string{"", "Lcom/example/Foo", "(I)V"} {
		if _, err := ParseSelector(in); err == nil {
			t.Errorf("ParseSelector(%q) succeeded, want error", in)
		}
	}
}

func invokeStream() []*classfile.Insn {
	return []*classfile.Insn{
		classfile.Var(classfile.OpAload, 0),
		classfile.Invoke(classfile.OpInvokevirtual, "com/example/A", "foo", "()I"),
		classfile.Var(classfile.OpAload, 0),
		classfile.Invoke(classfile.OpInvokevirtual, "com/example/A", "bar", "()I"),
		classfile.Var(classfile.OpAload, 0),
		classfile.Invoke(classfile.OpInvokevirtual, "com/example/A", "foo", "()I"),
		classfile.Var(classfile.OpAload, 0),
		classfile.Invoke(classfile.OpInvokevirtual, "com/example/A", "foo", "()I"),
		classfile.Simple(classfile.OpReturn),
	}
}

func TestFindAllOccurrences(t *testing.T) {
	sel := Selector{Name: "foo", Ordinal: -1}
	res := Find(AtInvoke, sel, invokeStream())
	if len(res.Matches) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(res.Matches))
	}
	for _, in := range res.Matches {
		if in.Name != "foo" {
			t.Errorf("matched %s, want foo", in.Name)
		}
	}
}

func TestFindExplicitOrdinal(t *testing.T) {
	insns := invokeStream()

	sel := Selector{Name: "foo", Ordinal: 1}
	res := Find(AtInvoke, sel, insns)
	if len(res.Matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(res.Matches))
	}
	if res.Matches[0] != insns[5] {
		t.Error("ordinal 1 did not select the second occurrence")
	}

	// Ordinal past the end matches nothing.
	sel.Ordinal = 7
	if res := Find(AtInvoke, sel, insns); len(res.Matches) != 0 {
		t.Errorf("ordinal 7 matched %d instructions, want 0", len(res.Matches))
	}
}

func TestFindOrdinalCountedPerTriple(t *testing.T) {
	// bar's single occurrence must not advance foo's ordinal counter.
	sel := Selector{Name: "bar", Ordinal: 0}
	insns := invokeStream()
	res := Find(AtInvoke, sel, insns)
	if len(res.Matches) != 1 || res.Matches[0] != insns[3] {
		t.Fatal("ordinal 0 for bar did not select its first occurrence")
	}
}

func TestFindLooseMatchReportedNotAccepted(t *testing.T) {
	sel := Selector{Name: "Foo", Ordinal: -1}
	res := Find(AtInvoke, sel, invokeStream())
	if len(res.Matches) != 0 {
		t.Fatalf("case-insensitive candidate accepted as a match")
	}
	if len(res.Loose) == 0 {
		t.Fatal("case-insensitive candidate not reported for diagnostics")
	}
	found := false
	for _, s := range res.describeSearch() {
		if s == "com/example/A.foo()I (case-insensitive match, not accepted)" {
			found = true
		}
	}
	if !found {
		t.Errorf("describeSearch missing loose suggestion: %v", res.describeSearch())
	}
}

func TestFindHeadReturnTail(t *testing.T) {
	insns := []*classfile.Insn{
		classfile.Label(0),
		classfile.LineMarker(1),
		classfile.Var(classfile.OpIload, 1),
		classfile.Jump(classfile.OpIfeq, 1),
		classfile.PushInt(1),
		classfile.Simple(classfile.OpIreturn),
		classfile.Label(1),
		classfile.PushInt(0),
		classfile.Simple(classfile.OpIreturn),
	}

	head := Find(AtHead, Selector{Ordinal: -1}, insns)
	if len(head.Matches) != 1 || head.Matches[0] != insns[2] {
		t.Error("HEAD did not anchor on the first real instruction")
	}

	rets := Find(AtReturn, Selector{Ordinal: -1}, insns)
	if len(rets.Matches) != 2 {
		t.Errorf("RETURN matched %d, want 2", len(rets.Matches))
	}

	tail := Find(AtTail, Selector{Ordinal: -1}, insns)
	if len(tail.Matches) != 1 || tail.Matches[0] != insns[8] {
		t.Error("TAIL did not anchor on the final return")
	}
}

func TestFindNewByOwner(t *testing.T) {
	insns := []*classfile.Insn{
		classfile.TypeInsn(classfile.OpNew, "com/example/A"),
		classfile.TypeInsn(classfile.OpNew, "com/example/B"),
		classfile.TypeInsn(classfile.OpNew, "com/example/A"),
		classfile.Simple(classfile.OpReturn),
	}
	res := Find(AtNew, Selector{Owner: "com/example/A", Ordinal: 1}, insns)
	if len(res.Matches) != 1 || res.Matches[0] != insns[2] {
		t.Error("NEW ordinal 1 did not select the second allocation of A")
	}
}
