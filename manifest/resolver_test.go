package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/chazu/weft/pkg/classfile"
)

func traitClassBytes(t *testing.T, name string) []byte {
	t.Helper()
	cf := classfile.New(name, "java/lang/Object")
	cf.AddMethod(classfile.AccPrivate, "onRun", "(Lweft/runtime/CallbackInfo;)V", &classfile.Code{
		MaxLocals: 2,
		Insns:     []*classfile.Insn{classfile.Simple(classfile.OpReturn)},
	})
	data, err := cf.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func resolverFixture(t *testing.T) *Resolver {
	t.Helper()
	dir := t.TempDir()

	for _, sub := range []string{"traits", filepath.Join("classes", "com", "example")} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "traits", "LogTrait.class"),
		traitClassBytes(t, "com/example/LogTrait"), 0o644); err != nil {
		t.Fatal(err)
	}
	target := classfile.New("com/example/Holder", "java/lang/Object")
	target.AddMethod(classfile.AccPublic, "run", "()V", &classfile.Code{
		MaxLocals: 1,
		Insns:     []*classfile.Insn{classfile.Simple(classfile.OpReturn)},
	})
	data, err := target.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "classes", "com", "example", "Holder.class"), data, 0o644); err != nil {
		t.Fatal(err)
	}

	manifest := `
[[trait]]
class = "com/example/LogTrait"
path = "traits/LogTrait.class"
targets = ["com/example/Holder"]

  [[trait.inject]]
  method = "onRun(Lweft/runtime/CallbackInfo;)V"
  target = "run()V"
  kind = "callback"
  at = "HEAD"
`
	if err := os.WriteFile(filepath.Join(dir, "weft.toml"), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	return NewResolver(m)
}

func TestResolverResolve(t *testing.T) {
	res := resolverFixture(t)

	traits, err := res.Resolve()
	if err != nil {
		t.Fatal(err)
	}
	if len(traits) != 1 {
		t.Fatalf("resolved %d traits, want 1", len(traits))
	}
	tr := traits[0].Trait
	if tr.Name != "com/example/LogTrait" {
		t.Errorf("trait name = %q", tr.Name)
	}
	if !tr.TargetsClass("com/example/Holder") {
		t.Error("target binding lost")
	}

	reg, err := res.Registry()
	if err != nil {
		t.Fatal(err)
	}
	if reg.Len() != 1 {
		t.Errorf("registry length = %d", reg.Len())
	}
}

func TestResolverRejectsNameMismatch(t *testing.T) {
	res := resolverFixture(t)
	res.manifest.Traits[0].Class = "com/example/Wrong"
	if _, err := res.Resolve(); err == nil {
		t.Fatal("class name mismatch accepted")
	}
}

func TestResolverClassBytes(t *testing.T) {
	res := resolverFixture(t)

	data, err := res.ClassBytes("com/example/Holder")
	if err != nil {
		t.Fatal(err)
	}
	cf, err := classfile.Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	if cf.ThisClass != "com/example/Holder" {
		t.Errorf("resolved %q", cf.ThisClass)
	}

	if _, err := res.ClassBytes("com/example/Nope"); err == nil {
		t.Error("missing class resolved")
	}
	if _, err := res.ClassBytes("../../etc/passwd"); err == nil {
		t.Error("path traversal accepted")
	}
}

func TestResolverTargets(t *testing.T) {
	res := resolverFixture(t)
	res.manifest.Traits = append(res.manifest.Traits, TraitEntry{
		Class:   "com/example/Other",
		Path:    "traits/Other.class",
		Targets: []string{"com/example/Holder", "com/example/Second"},
	})

	got := res.Targets()
	want := []string{"com/example/Holder", "com/example/Second"}
	if len(got) != len(want) {
		t.Fatalf("targets = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("targets[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
