package manifest

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleManifest = `
[pack]
name = "demo"
version = "0.1.0"

classpath = ["classes"]

[export]
database = "history.db"
dir = "out"

[[trait]]
class = "com/example/CountTrait"
path = "traits/CountTrait.class"
priority = 5
targets = ["com/example/Holder"]
shadow = ["value"]

  [[trait.inject]]
  method = "proxy(Lcom/example/Holder;)I"
  target = "get(I)I"
  kind = "redirect"
  at = "INVOKE"
  selector = "foo()I"
  ordinal = 1

  [[trait.slice]]
  id = "body"
  from = 10
  to = 20
`

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "weft.toml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestLoad(t *testing.T) {
	dir := writeManifest(t, sampleManifest)
	m, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}

	if m.Pack.Name != "demo" || m.Pack.Version != "0.1.0" {
		t.Errorf("pack = %+v", m.Pack)
	}
	if len(m.Traits) != 1 {
		t.Fatalf("expected 1 trait, got %d", len(m.Traits))
	}

	tr := m.Traits[0]
	if tr.Class != "com/example/CountTrait" || tr.Priority != 5 {
		t.Errorf("trait = %+v", tr)
	}
	if len(tr.Injects) != 1 {
		t.Fatalf("expected 1 inject entry, got %d", len(tr.Injects))
	}
	inj := tr.Injects[0]
	if inj.Kind != "redirect" || inj.At != "INVOKE" || inj.Selector != "foo()I" {
		t.Errorf("inject = %+v", inj)
	}
	if inj.Ordinal == nil || *inj.Ordinal != 1 {
		t.Error("explicit ordinal not parsed")
	}
	if len(tr.Slices) != 1 || tr.Slices[0].ID != "body" {
		t.Errorf("slices = %+v", tr.Slices)
	}
	if m.Export.Database != "history.db" {
		t.Errorf("export = %+v", m.Export)
	}
}

func TestLoadDefaults(t *testing.T) {
	dir := writeManifest(t, "[pack]\nname = \"d\"\n")
	m, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Classpath) != 1 || m.Classpath[0] != "classes" {
		t.Errorf("classpath default = %v", m.Classpath)
	}
	if m.Export.Dir != "woven" {
		t.Errorf("export dir default = %q", m.Export.Dir)
	}
	if m.DatabasePath() != "" {
		t.Error("history should be disabled by default")
	}
	if m.ExportDir() != filepath.Join(m.Dir, "woven") {
		t.Errorf("export dir = %q", m.ExportDir())
	}
}

func TestLoadRejectsBadEntries(t *testing.T) {
	cases := map[string]string{
		"missing path": `
[[trait]]
class = "com/example/T"
targets = ["com/example/H"]
`,
		"missing targets": `
[[trait]]
class = "com/example/T"
path = "T.class"
`,
		"duplicate class": `
[[trait]]
class = "com/example/T"
path = "T.class"
targets = ["com/example/H"]
[[trait]]
class = "com/example/T"
path = "T.class"
targets = ["com/example/H"]
`,
		"bad inject kind": `
[[trait]]
class = "com/example/T"
path = "T.class"
targets = ["com/example/H"]
  [[trait.inject]]
  method = "m()V"
  target = "r()V"
  kind = "rewrite"
  at = "HEAD"
`,
		"bad point kind": `
[[trait]]
class = "com/example/T"
path = "T.class"
targets = ["com/example/H"]
  [[trait.inject]]
  method = "m()V"
  target = "r()V"
  kind = "callback"
  at = "MIDDLE"
`,
	}
	for name, content := range cases {
		dir := writeManifest(t, content)
		if _, err := Load(dir); err == nil {
			t.Errorf("%s: accepted", name)
		}
	}
}

func TestFindAndLoadWalksUp(t *testing.T) {
	root := writeManifest(t, "[pack]\nname = \"up\"\n")
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	m, err := FindAndLoad(nested)
	if err != nil {
		t.Fatal(err)
	}
	if m == nil || m.Pack.Name != "up" {
		t.Fatal("manifest not found from nested directory")
	}
}

func TestTraitEntryDef(t *testing.T) {
	ord := 2
	entry := TraitEntry{
		Class:    "com/example/T",
		Priority: 3,
		Targets:  []string{"com/example/H"},
		Injects: []InjectEntry{
			{Method: "a()V", Target: "r()V", Kind: "callback", At: "HEAD"},
			{Method: "b()V", Target: "r()V", Kind: "callback", At: "INVOKE", Selector: "x()V", Ordinal: &ord},
		},
	}
	def := entry.Def()
	if def.Priority != 3 || len(def.Injectors) != 2 {
		t.Fatalf("def = %+v", def)
	}
	if def.Injectors[0].Ordinal != -1 {
		t.Error("absent ordinal must mean all occurrences")
	}
	if def.Injectors[1].Ordinal != 2 {
		t.Error("explicit ordinal lost in conversion")
	}
}
