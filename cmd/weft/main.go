// Weft CLI - weaves trait classes into compiled JVM class files
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/weft/export"
	"github.com/chazu/weft/manifest"
	"github.com/chazu/weft/pkg/classfile"
	"github.com/chazu/weft/pkg/runtime"
	"github.com/chazu/weft/weave"

	_ "github.com/tliron/commonlog/simple"
)

func main() {
	verbose := flag.Bool("v", false, "Verbose output")
	dir := flag.String("C", ".", "Directory to search for weft.toml")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: weft [options] [command] [args...]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  weave              Weave all traits declared in weft.toml (default)\n")
		fmt.Fprintf(os.Stderr, "  disasm <file>      Print the instruction listing of a .class file\n")
		fmt.Fprintf(os.Stderr, "  history <class>    List recorded transforms of a target class\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  weft                           # Weave the nearest traitpack\n")
		fmt.Fprintf(os.Stderr, "  weft -C ./pack weave           # Weave a specific traitpack\n")
		fmt.Fprintf(os.Stderr, "  weft disasm classes/Foo.class  # Inspect compiled bytecode\n")
		fmt.Fprintf(os.Stderr, "  weft history com/example/Foo   # Show transform history\n")
	}
	flag.Parse()

	verbosity := 0
	if *verbose {
		verbosity = 1
	}
	commonlog.Configure(verbosity, nil)

	args := flag.Args()
	cmd := "weave"
	if len(args) > 0 {
		cmd = args[0]
		args = args[1:]
	}

	var err error
	switch cmd {
	case "weave":
		err = runWeave(*dir, *verbose)
	case "disasm":
		err = runDisasm(args)
	case "history":
		err = runHistory(*dir, args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runWeave(dir string, verbose bool) error {
	m, err := manifest.FindAndLoad(dir)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("no weft.toml found from %s", dir)
	}

	res := manifest.NewResolver(m)
	reg, err := res.Registry()
	if err != nil {
		return err
	}

	meta := weave.NewMetadata(res.ClassBytes)
	session := weave.NewSession(meta, weave.NewLogSink())

	var store *export.Store
	if path := m.DatabasePath(); path != "" {
		if store, err = export.OpenStore(path); err != nil {
			return err
		}
	}
	exporter := export.NewExporter(m.ExportDir(), store)
	defer exporter.Close()
	session.AddObserver(exporter)

	// Woven call sites link against the support classes; ship them alongside.
	if err := runtime.WriteSupportClasses(m.ExportDir()); err != nil {
		return err
	}

	for _, target := range res.Targets() {
		traits := reg.ForTarget(target)
		data, err := res.ClassBytes(target)
		if err != nil {
			return err
		}
		if _, err := session.Apply(data, traits); err != nil {
			return fmt.Errorf("weaving %s: %w", target, err)
		}
		if verbose {
			fmt.Printf("wove %s (%d traits)\n", target, len(traits))
		}
	}
	return nil
}

func runDisasm(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: weft disasm <file.class>")
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	cf, err := classfile.Parse(data)
	if err != nil {
		return err
	}

	fmt.Printf("class %s", cf.ThisClass)
	if cf.SuperClass != "" {
		fmt.Printf(" extends %s", cf.SuperClass)
	}
	fmt.Println()
	for _, m := range cf.Methods {
		if m.Code == nil {
			fmt.Printf("\n%s%s (no code)\n", m.Name, m.Descriptor)
			continue
		}
		fmt.Println()
		fmt.Print(m.Code.Disassemble(m.Name + m.Descriptor))
	}
	return nil
}

func runHistory(dir string, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: weft history <internal/class/Name>")
	}
	m, err := manifest.FindAndLoad(dir)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("no weft.toml found from %s", dir)
	}
	path := m.DatabasePath()
	if path == "" {
		return fmt.Errorf("traitpack has no history database configured")
	}

	store, err := export.OpenStore(path)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.ByTarget(args[0])
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("no recorded transforms")
		return nil
	}
	for _, r := range records {
		when := time.Unix(r.CreatedAt, 0).Format(time.RFC3339)
		fmt.Printf("%s  %s  %d -> %d bytes  traits=%v\n", when, r.ID, r.SizeBefore, r.SizeAfter, r.Traits)
	}
	return nil
}
