package weave

import (
	"errors"
	"strings"
	"testing"

	"github.com/chazu/weft/pkg/classfile"
)

const holderName = "com/example/Holder"

type recordingSink struct {
	diags []Diagnostic
}

func (s *recordingSink) Report(d Diagnostic) { s.diags = append(s.diags, d) }

func (s *recordingSink) warnings() []Diagnostic {
	var out []Diagnostic
	for _, d := range s.diags {
		if d.Severity == SeverityWarning {
			out = append(out, d)
		}
	}
	return out
}

func buildHolder() *classfile.ClassFile {
	cf := classfile.New(holderName, "java/lang/Object")
	cf.AddField(classfile.AccPrivate, "value", "I")

	cf.AddMethod(classfile.AccPublic, "foo", "()I", &classfile.Code{
		MaxStack:  1,
		MaxLocals: 1,
		Insns: []*classfile.Insn{
			classfile.PushInt(3),
			classfile.Simple(classfile.OpIreturn),
		},
	})
	cf.AddMethod(classfile.AccPublic, "get", "(I)I", &classfile.Code{
		MaxStack:  2,
		MaxLocals: 2,
		Insns: []*classfile.Insn{
			classfile.LineMarker(10),
			classfile.Var(classfile.OpAload, 0),
			classfile.Invoke(classfile.OpInvokevirtual, holderName, "foo", "()I"),
			classfile.Var(classfile.OpAload, 0),
			classfile.Invoke(classfile.OpInvokevirtual, holderName, "foo", "()I"),
			classfile.Simple(classfile.OpIadd),
			classfile.Simple(classfile.OpIreturn),
		},
	})
	cf.AddMethod(classfile.AccPublic, "run", "()V", &classfile.Code{
		MaxStack:  0,
		MaxLocals: 1,
		Insns: []*classfile.Insn{
			classfile.LineMarker(20),
			classfile.Simple(classfile.OpNop),
			classfile.Simple(classfile.OpReturn),
		},
	})
	cf.AddMethod(classfile.AccPublic, "calc", "()I", &classfile.Code{
		MaxStack:  1,
		MaxLocals: 1,
		Insns: []*classfile.Insn{
			classfile.PushInt(3),
			classfile.Simple(classfile.OpIreturn),
		},
	})
	cf.AddMethod(classfile.AccPublic|classfile.AccStatic, "util", "(I)I", &classfile.Code{
		MaxStack:  1,
		MaxLocals: 1,
		Insns: []*classfile.Insn{
			classfile.Var(classfile.OpIload, 0),
			classfile.Simple(classfile.OpIreturn),
		},
	})
	cf.AddMethod(classfile.AccPublic|classfile.AccFinal, "sealed", "()I", &classfile.Code{
		MaxStack:  1,
		MaxLocals: 1,
		Insns: []*classfile.Insn{
			classfile.PushInt(7),
			classfile.Simple(classfile.OpIreturn),
		},
	})
	cf.AddMethod(classfile.AccPublic, "bystander", "()I", &classfile.Code{
		MaxStack:  1,
		MaxLocals: 1,
		Insns: []*classfile.Insn{
			classfile.PushInt(5),
			classfile.Simple(classfile.OpIreturn),
		},
	})
	return cf
}

func holderBytes(t *testing.T) []byte {
	t.Helper()
	data, err := buildHolder().Serialize()
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func newTestSession(sink Sink) *Session {
	return NewSession(NewMetadata(nil), sink)
}

func applyTraits(t *testing.T, sink Sink, traits ...*Trait) *classfile.ClassFile {
	t.Helper()
	out, err := newTestSession(sink).Apply(holderBytes(t), traits)
	if err != nil {
		t.Fatal(err)
	}
	cf, err := classfile.Parse(out)
	if err != nil {
		t.Fatalf("reparsing woven class: %v", err)
	}
	return cf
}

func findInvokes(code *classfile.Code) []*classfile.Insn {
	var out []*classfile.Insn
	for _, in := range code.Insns {
		if in.Kind == classfile.KindInvoke {
			out = append(out, in)
		}
	}
	return out
}

// Redirecting the second foo() call in get(int) through a handler that also
// observes get's argument. The first call must stay untouched.
func TestRedirectSecondInvokeOnly(t *testing.T) {
	tcf := classfile.New("com/example/CountTrait", "java/lang/Object")
	tcf.AddMethod(classfile.AccPrivate|classfile.AccStatic, "proxy", "(Lcom/example/Holder;I)I", &classfile.Code{
		MaxStack:  2,
		MaxLocals: 2,
		Insns: []*classfile.Insn{
			classfile.Var(classfile.OpAload, 0),
			classfile.Invoke(classfile.OpInvokevirtual, holderName, "foo", "()I"),
			classfile.Var(classfile.OpIload, 1),
			classfile.Simple(classfile.OpIadd),
			classfile.Simple(classfile.OpIreturn),
		},
	})
	tr, err := NewTrait(tcf, TraitDef{
		Targets: []string{holderName},
		Injectors: []InjectorDef{{
			Method:   "proxy(Lcom/example/Holder;I)I",
			Target:   "get(I)I",
			Kind:     KindRedirect,
			At:       AtInvoke,
			Selector: "foo()I",
			Ordinal:  1,
		}},
	})
	if err != nil {
		t.Fatal(err)
	}

	out := applyTraits(t, &recordingSink{}, tr)

	get := out.Method("get", "(I)I")
	if get == nil {
		t.Fatal("get(I)I missing from woven class")
	}
	invokes := findInvokes(get.Code)
	if len(invokes) != 2 {
		t.Fatalf("expected 2 invokes in get, got %d", len(invokes))
	}
	if invokes[0].Opcode != classfile.OpInvokevirtual || invokes[0].Name != "foo" {
		t.Error("first foo() call was modified")
	}
	if invokes[1].Opcode != classfile.OpInvokestatic || invokes[1].Owner != holderName ||
		invokes[1].Name != "proxy$weft$CountTrait" {
		t.Errorf("second call not redirected, got %s %s.%s", invokes[1].Opcode.Mnemonic(), invokes[1].Owner, invokes[1].Name)
	}

	handler := out.Method("proxy$weft$CountTrait", "(Lcom/example/Holder;I)I")
	if handler == nil {
		t.Fatal("merged handler missing")
	}
	if handler.AccessFlags&classfile.AccPrivate == 0 || handler.AccessFlags&classfile.AccSynthetic == 0 {
		t.Error("merged handler should be private synthetic")
	}

	// Unrelated methods survive unchanged.
	by := out.Method("bystander", "()I")
	if by == nil || len(by.Code.Insns) != 2 || by.Code.Insns[0].Opcode != classfile.OpIconst5 {
		t.Error("bystander method was disturbed")
	}
}

func callbackTrait(t *testing.T, name, handler, handlerDesc, target string, at PointKind, cancellable bool) *Trait {
	t.Helper()
	tcf := classfile.New(name, "java/lang/Object")
	tcf.AddMethod(classfile.AccPrivate, handler, handlerDesc, &classfile.Code{
		MaxStack:  0,
		MaxLocals: 2,
		Insns:     []*classfile.Insn{classfile.Simple(classfile.OpReturn)},
	})
	tr, err := NewTrait(tcf, TraitDef{
		Targets: []string{holderName},
		Injectors: []InjectorDef{{
			Method:      handler + handlerDesc,
			Target:      target,
			Kind:        KindCallback,
			At:          at,
			Ordinal:     -1,
			Cancellable: cancellable,
		}},
	})
	if err != nil {
		t.Fatal(err)
	}
	return tr
}

// A callback into a void method constructs the plain info object and never
// reads a return value back out of it.
func TestCallbackVoidTarget(t *testing.T) {
	tr := callbackTrait(t, "com/example/LogTrait", "onRun", "(Lweft/runtime/CallbackInfo;)V", "run()V", AtHead, false)
	out := applyTraits(t, &recordingSink{}, tr)

	run := out.Method("run", "()V")
	if run == nil {
		t.Fatal("run()V missing")
	}

	sawNew, sawHandler := false, false
	for _, in := range run.Code.Insns {
		if in.Kind == classfile.KindType && in.Opcode == classfile.OpNew && in.ClassName == callbackInfoClass {
			sawNew = true
		}
		if in.Kind == classfile.KindInvoke && in.Name == "onRun$weft$LogTrait" {
			sawHandler = true
		}
		if in.Kind == classfile.KindInvoke && in.Name == "getReturnValue" {
			t.Error("void callback emitted a return-value read")
		}
	}
	if !sawNew || !sawHandler {
		t.Errorf("callback fragment incomplete: new=%v handler=%v", sawNew, sawHandler)
	}
}

// A cancellable callback at RETURN of an int method must park and restore
// the pending value, and read the substitute back through the returnable
// info object when cancelled.
func TestCallbackNonVoidReturn(t *testing.T) {
	tr := callbackTrait(t, "com/example/CalcTrait", "onCalc", "(Lweft/runtime/CallbackInfoReturnable;)V", "calc()I", AtReturn, true)
	out := applyTraits(t, &recordingSink{}, tr)

	calc := out.Method("calc", "()I")
	if calc == nil {
		t.Fatal("calc()I missing")
	}

	var sawBox, sawUnbox, sawRead, sawCancelCheck bool
	for _, in := range calc.Code.Insns {
		if in.Kind != classfile.KindInvoke {
			continue
		}
		switch in.Name {
		case "valueOf":
			if in.Owner == "java/lang/Integer" {
				sawBox = true
			}
		case "intValue":
			sawUnbox = true
		case "getReturnValue":
			sawRead = true
		case "isCancelled":
			sawCancelCheck = true
		}
	}
	if !sawBox || !sawUnbox || !sawRead || !sawCancelCheck {
		t.Errorf("fragment incomplete: box=%v unbox=%v read=%v check=%v", sawBox, sawUnbox, sawRead, sawCancelCheck)
	}

	// The woven method must still end with the original return path intact:
	// two ireturns, the injected early return and the original.
	returns := 0
	for _, in := range calc.Code.Insns {
		if in.Opcode == classfile.OpIreturn && in.IsReal() {
			returns++
		}
	}
	if returns != 2 {
		t.Errorf("expected 2 ireturns after weaving, got %d", returns)
	}
}

// Two callbacks on the same node: the higher-priority handler runs first and
// the second reuses the first's info object, so it can observe cancellation.
func TestCallbacksShareNode(t *testing.T) {
	first := callbackTrait(t, "com/example/FirstTrait", "onFirst", "(Lweft/runtime/CallbackInfo;)V", "run()V", AtHead, false)
	second := callbackTrait(t, "com/example/SecondTrait", "onSecond", "(Lweft/runtime/CallbackInfo;)V", "run()V", AtHead, false)
	first.Def.Priority = 10
	second.Def.Priority = 0

	out := applyTraits(t, &recordingSink{}, second, first)

	run := out.Method("run", "()V")
	news, firstAt, secondAt := 0, -1, -1
	for i, in := range run.Code.Insns {
		if in.Kind == classfile.KindType && in.Opcode == classfile.OpNew && in.ClassName == callbackInfoClass {
			news++
		}
		if in.Kind == classfile.KindInvoke && strings.HasPrefix(in.Name, "onFirst") {
			firstAt = i
		}
		if in.Kind == classfile.KindInvoke && strings.HasPrefix(in.Name, "onSecond") {
			secondAt = i
		}
	}
	if news != 1 {
		t.Errorf("info object constructed %d times, want 1 (shared)", news)
	}
	if firstAt < 0 || secondAt < 0 {
		t.Fatal("one of the handlers was not invoked")
	}
	if firstAt > secondAt {
		t.Error("higher-priority handler must run before the lower-priority one")
	}
}

func TestCallbackStaticTargetNeedsStaticHandler(t *testing.T) {
	tr := callbackTrait(t, "com/example/UtilTrait", "onUtil", "(ILweft/runtime/CallbackInfoReturnable;)V", "util(I)I", AtHead, false)
	_, err := newTestSession(&recordingSink{}).Apply(holderBytes(t), []*Trait{tr})
	var staticErr *StaticnessError
	if !errors.As(err, &staticErr) {
		t.Fatalf("got %v, want StaticnessError", err)
	}
}

func constructorClass(t *testing.T) []byte {
	t.Helper()
	cf := classfile.New("com/example/Child", "com/example/Base")
	cf.AddMethod(classfile.AccPublic, "<init>", "(I)V", &classfile.Code{
		MaxStack:  1,
		MaxLocals: 2,
		Insns: []*classfile.Insn{
			classfile.Var(classfile.OpIload, 1),
			classfile.Simple(classfile.OpPop),
			classfile.Var(classfile.OpAload, 0),
			classfile.Invoke(classfile.OpInvokespecial, "com/example/Base", "<init>", "()V"),
			classfile.Simple(classfile.OpReturn),
		},
	})
	data, err := cf.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	return data
}

// Sites before the superclass initializer call cannot use instance handlers;
// a static handler at the same site is fine.
func TestCallbackBeforeSuperInit(t *testing.T) {
	build := func(flags uint16) *Trait {
		tcf := classfile.New("com/example/InitTrait", "java/lang/Object")
		tcf.AddMethod(flags, "onInit", "(ILweft/runtime/CallbackInfo;)V", &classfile.Code{
			MaxStack:  0,
			MaxLocals: 3,
			Insns:     []*classfile.Insn{classfile.Simple(classfile.OpReturn)},
		})
		tr, err := NewTrait(tcf, TraitDef{
			Targets: []string{"com/example/Child"},
			Injectors: []InjectorDef{{
				Method:  "onInit(ILweft/runtime/CallbackInfo;)V",
				Target:  "<init>(I)V",
				Kind:    KindCallback,
				At:      AtHead,
				Ordinal: -1,
			}},
		})
		if err != nil {
			t.Fatal(err)
		}
		return tr
	}

	session := newTestSession(&recordingSink{})
	_, err := session.Apply(constructorClass(t), []*Trait{build(classfile.AccPrivate)})
	var staticErr *StaticnessError
	if !errors.As(err, &staticErr) {
		t.Fatalf("instance handler before super init: got %v, want StaticnessError", err)
	}

	if _, err := session.Apply(constructorClass(t), []*Trait{build(classfile.AccPrivate | classfile.AccStatic)}); err != nil {
		t.Fatalf("static handler before super init: %v", err)
	}
}

func overwriteTrait(t *testing.T, name string, priority int, value int32) *Trait {
	t.Helper()
	tcf := classfile.New(name, "java/lang/Object")
	tcf.AddMethod(classfile.AccPublic, "foo", "()I", &classfile.Code{
		MaxStack:  1,
		MaxLocals: 1,
		Insns: []*classfile.Insn{
			classfile.PushInt(value),
			classfile.Simple(classfile.OpIreturn),
		},
	})
	tr, err := NewTrait(tcf, TraitDef{
		Targets:    []string{holderName},
		Priority:   priority,
		Overwrites: []string{"foo()I"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return tr
}

func TestOverwritePriorityConflict(t *testing.T) {
	sink := &recordingSink{}
	high := overwriteTrait(t, "com/example/HighTrait", 5, 4)
	low := overwriteTrait(t, "com/example/LowTrait", 1, 2)

	out := applyTraits(t, sink, low, high)

	foo := out.Method("foo", "()I")
	if foo.Code.Insns[0].Opcode != classfile.OpIconst4 {
		t.Error("higher-priority overwrite did not own the body")
	}

	warned := false
	for _, d := range sink.warnings() {
		if strings.Contains(d.Message, "overwrite skipped") {
			warned = true
		}
	}
	if !warned {
		t.Error("lower-priority overwrite conflict not reported")
	}
}

func TestOverwriteFinalMethodFails(t *testing.T) {
	tcf := classfile.New("com/example/SealTrait", "java/lang/Object")
	tcf.AddMethod(classfile.AccPublic, "sealed", "()I", &classfile.Code{
		MaxStack:  1,
		MaxLocals: 1,
		Insns: []*classfile.Insn{
			classfile.PushInt(1),
			classfile.Simple(classfile.OpIreturn),
		},
	})
	tr, err := NewTrait(tcf, TraitDef{
		Targets:    []string{holderName},
		Overwrites: []string{"sealed()I"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := newTestSession(&recordingSink{}).Apply(holderBytes(t), []*Trait{tr}); err == nil {
		t.Fatal("overwriting a final method succeeded")
	}
}

func TestOptionalAndRequiredSelectors(t *testing.T) {
	build := func(optional bool) *Trait {
		tcf := classfile.New("com/example/OptTrait", "java/lang/Object")
		tcf.AddMethod(classfile.AccPrivate, "onMiss", "(Lweft/runtime/CallbackInfo;)V", &classfile.Code{
			MaxStack:  0,
			MaxLocals: 2,
			Insns:     []*classfile.Insn{classfile.Simple(classfile.OpReturn)},
		})
		tr, err := NewTrait(tcf, TraitDef{
			Targets: []string{holderName},
			Injectors: []InjectorDef{{
				Method:   "onMiss(Lweft/runtime/CallbackInfo;)V",
				Target:   "run()V",
				Kind:     KindCallback,
				At:       AtInvoke,
				Selector: "nosuch()V",
				Ordinal:  -1,
				Optional: optional,
			}},
		})
		if err != nil {
			t.Fatal(err)
		}
		return tr
	}

	sink := &recordingSink{}
	if _, err := newTestSession(sink).Apply(holderBytes(t), []*Trait{build(true)}); err != nil {
		t.Fatalf("optional injector with no match failed: %v", err)
	}
	if len(sink.warnings()) == 0 {
		t.Error("skipped optional injector not reported")
	}

	var selErr *SelectorError
	_, err := newTestSession(&recordingSink{}).Apply(holderBytes(t), []*Trait{build(false)})
	if !errors.As(err, &selErr) {
		t.Fatalf("got %v, want SelectorError", err)
	}
}

// Plain members copy over, private helpers get uniquified names, and self
// references follow both the rename and the retargeted owner.
func TestPlainMergeRenamesPrivates(t *testing.T) {
	tcf := classfile.New("com/example/PlainTrait", "java/lang/Object")
	tcf.Interfaces = []string{"com/example/Marker"}
	tcf.AddMethod(classfile.AccPrivate, "secret", "()I", &classfile.Code{
		MaxStack:  1,
		MaxLocals: 1,
		Insns: []*classfile.Insn{
			classfile.PushInt(9),
			classfile.Simple(classfile.OpIreturn),
		},
	})
	tcf.AddMethod(classfile.AccPublic, "extra", "()I", &classfile.Code{
		MaxStack:  1,
		MaxLocals: 1,
		Insns: []*classfile.Insn{
			classfile.Var(classfile.OpAload, 0),
			classfile.Invoke(classfile.OpInvokespecial, "com/example/PlainTrait", "secret", "()I"),
			classfile.Simple(classfile.OpIreturn),
		},
	})
	tr, err := NewTrait(tcf, TraitDef{Targets: []string{holderName}, Shadows: []string{"value"}})
	if err != nil {
		t.Fatal(err)
	}

	out := applyTraits(t, &recordingSink{}, tr)

	if out.Method("extra", "()I") == nil {
		t.Fatal("plain method not copied")
	}
	if out.Method("secret$weft$PlainTrait", "()I") == nil {
		t.Fatal("private helper not uniquified")
	}
	call := findInvokes(out.Method("extra", "()I").Code)[0]
	if call.Owner != holderName || call.Name != "secret$weft$PlainTrait" {
		t.Errorf("self reference not rewritten: %s.%s", call.Owner, call.Name)
	}
	if !containsString(out.Interfaces, "com/example/Marker") {
		t.Error("trait interface not added to target")
	}
}

// A trait constant declared as `public static final int limit = 777` must
// keep its value after weaving, even though the trait's own constant pool
// numbers its entries differently from the target's.
func TestTraitConstantSurvivesMerge(t *testing.T) {
	tcf := classfile.New("com/example/ConstTrait", "java/lang/Object")
	tcf.AddField(classfile.AccPublic|classfile.AccStatic|classfile.AccFinal, "limit", "I").ConstantValue =
		&classfile.ConstValue{Kind: classfile.ConstInt, I: 777}
	tcf.AddMethod(classfile.AccPublic, "extra", "()I", &classfile.Code{
		MaxStack:  1,
		MaxLocals: 1,
		Insns: []*classfile.Insn{
			classfile.PushInt(9),
			classfile.Simple(classfile.OpIreturn),
		},
	})

	// Round-trip the trait through class file bytes so its members arrive
	// with a constant pool of their own, as a compiled trait would.
	data, err := tcf.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	tparsed, err := classfile.Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	tr, err := NewTrait(tparsed, TraitDef{Targets: []string{holderName}})
	if err != nil {
		t.Fatal(err)
	}

	out := applyTraits(t, &recordingSink{}, tr)

	f := out.Field("limit")
	if f == nil {
		t.Fatal("constant field not merged")
	}
	if f.ConstantValue == nil || f.ConstantValue.Kind != classfile.ConstInt || f.ConstantValue.I != 777 {
		t.Fatalf("constant initializer = %+v, want int 777", f.ConstantValue)
	}
}

// Raw member attributes embed indices into the trait's constant pool and
// cannot be carried into the target; they are dropped with a warning.
func TestTraitMemberAttributesDropped(t *testing.T) {
	tcf := classfile.New("com/example/SigTrait", "java/lang/Object")
	field := tcf.AddField(classfile.AccPublic, "items", "Ljava/util/List;")
	field.Attributes = []classfile.AttributeInfo{{Name: "Signature", Data: []byte{0x00, 0x07}}}
	tcf.AddMethod(classfile.AccPublic, "extra", "()I", &classfile.Code{
		MaxStack:  1,
		MaxLocals: 1,
		Insns: []*classfile.Insn{
			classfile.PushInt(9),
			classfile.Simple(classfile.OpIreturn),
		},
	})
	tr, err := NewTrait(tcf, TraitDef{Targets: []string{holderName}})
	if err != nil {
		t.Fatal(err)
	}

	sink := &recordingSink{}
	out := applyTraits(t, sink, tr)

	f := out.Field("items")
	if f == nil {
		t.Fatal("field not merged")
	}
	if len(f.Attributes) != 0 {
		t.Errorf("foreign attributes kept on merged field: %v", f.Attributes)
	}
	found := false
	for _, d := range sink.warnings() {
		if strings.Contains(d.Message, "Signature") {
			found = true
		}
	}
	if !found {
		t.Error("no warning reported for the dropped attribute")
	}
}

func plainTrait(t *testing.T, name string, priority int, value int32) *Trait {
	t.Helper()
	tcf := classfile.New(name, "java/lang/Object")
	tcf.AddMethod(classfile.AccPublic, "extra", "()I", &classfile.Code{
		MaxStack:  1,
		MaxLocals: 1,
		Insns: []*classfile.Insn{
			classfile.PushInt(value),
			classfile.Simple(classfile.OpIreturn),
		},
	})
	tr, err := NewTrait(tcf, TraitDef{Targets: []string{holderName}, Priority: priority})
	if err != nil {
		t.Fatal(err)
	}
	return tr
}

// When two traits contribute the same plain member, the higher-priority copy
// wins and the other is skipped with a warning; colliding with a member the
// target already had stays fatal.
func TestPlainMemberPriority(t *testing.T) {
	sink := &recordingSink{}
	out := applyTraits(t, sink,
		plainTrait(t, "com/example/WinTrait", 9, 1),
		plainTrait(t, "com/example/LoseTrait", 2, 6))

	extra := out.Method("extra", "()I")
	if extra == nil || extra.Code.Insns[0].Opcode != classfile.OpIconst1 {
		t.Error("higher-priority trait did not own the plain member")
	}
	if len(sink.warnings()) == 0 {
		t.Error("skipped lower-priority copy not reported")
	}

	tcf := classfile.New("com/example/ClashTrait", "java/lang/Object")
	tcf.AddMethod(classfile.AccPublic, "foo", "()I", &classfile.Code{
		MaxStack:  1,
		MaxLocals: 1,
		Insns: []*classfile.Insn{
			classfile.PushInt(0),
			classfile.Simple(classfile.OpIreturn),
		},
	})
	clash, err := NewTrait(tcf, TraitDef{Targets: []string{holderName}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := newTestSession(&recordingSink{}).Apply(holderBytes(t), []*Trait{clash}); err == nil {
		t.Error("collision with an original target member accepted")
	}
}

func TestShadowMustExist(t *testing.T) {
	tcf := classfile.New("com/example/GhostTrait", "java/lang/Object")
	tr, err := NewTrait(tcf, TraitDef{Targets: []string{holderName}, Shadows: []string{"phantom"}})
	if err != nil {
		t.Fatal(err)
	}
	var resErr *ResolutionError
	_, err = newTestSession(&recordingSink{}).Apply(holderBytes(t), []*Trait{tr})
	if !errors.As(err, &resErr) {
		t.Fatalf("got %v, want ResolutionError", err)
	}
}

// Argument 1 of the matched call goes through the handler; other operands
// are untouched and the call itself survives.
func TestModifyArg(t *testing.T) {
	cf := classfile.New(holderName, "java/lang/Object")
	cf.AddMethod(classfile.AccPublic, "send", "(II)V", &classfile.Code{
		MaxStack:  0,
		MaxLocals: 3,
		Insns:     []*classfile.Insn{classfile.Simple(classfile.OpReturn)},
	})
	cf.AddMethod(classfile.AccPublic, "drive", "()V", &classfile.Code{
		MaxStack:  3,
		MaxLocals: 1,
		Insns: []*classfile.Insn{
			classfile.Var(classfile.OpAload, 0),
			classfile.PushInt(1),
			classfile.PushInt(2),
			classfile.Invoke(classfile.OpInvokevirtual, holderName, "send", "(II)V"),
			classfile.Simple(classfile.OpReturn),
		},
	})
	data, err := cf.Serialize()
	if err != nil {
		t.Fatal(err)
	}

	tcf := classfile.New("com/example/ArgTrait", "java/lang/Object")
	tcf.AddMethod(classfile.AccPrivate|classfile.AccStatic, "clamp", "(I)I", &classfile.Code{
		MaxStack:  1,
		MaxLocals: 1,
		Insns: []*classfile.Insn{
			classfile.Var(classfile.OpIload, 0),
			classfile.Simple(classfile.OpIreturn),
		},
	})
	tr, err := NewTrait(tcf, TraitDef{
		Targets: []string{holderName},
		Injectors: []InjectorDef{{
			Method:   "clamp(I)I",
			Target:   "drive()V",
			Kind:     KindModifyArg,
			At:       AtInvoke,
			Selector: "send(II)V",
			Ordinal:  -1,
			ArgIndex: 0,
		}},
	})
	if err != nil {
		t.Fatal(err)
	}

	out, err := newTestSession(&recordingSink{}).Apply(data, []*Trait{tr})
	if err != nil {
		t.Fatal(err)
	}
	woven, err := classfile.Parse(out)
	if err != nil {
		t.Fatal(err)
	}

	drive := woven.Method("drive", "()V")
	invokes := findInvokes(drive.Code)
	if len(invokes) != 2 {
		t.Fatalf("expected handler call plus original call, got %d invokes", len(invokes))
	}
	if invokes[0].Name != "clamp$weft$ArgTrait" {
		t.Errorf("first invoke is %s, want the clamp handler", invokes[0].Name)
	}
	if invokes[1].Name != "send" || invokes[1].Opcode != classfile.OpInvokevirtual {
		t.Error("original call did not survive")
	}
}
