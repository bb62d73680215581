// Package runtime synthesizes the JVM support classes woven call sites link
// against. The classes are generated rather than shipped as .class resources
// so the emitted bytecode always matches what the injectors expect.
package runtime

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/chazu/weft/pkg/classfile"
)

// Internal names of the support classes.
const (
	CallbackInfoName           = "weft/runtime/CallbackInfo"
	CallbackInfoReturnableName = "weft/runtime/CallbackInfoReturnable"
)

const (
	objectName    = "java/lang/Object"
	stringDesc    = "Ljava/lang/String;"
	illegalState  = "java/lang/IllegalStateException"
	notCancelMsg  = "callback is not cancellable"
	returnValDesc = "Ljava/lang/Object;"
)

// CallbackInfoBytes builds the weft/runtime/CallbackInfo class.
func CallbackInfoBytes() ([]byte, error) {
	cf := classfile.New(CallbackInfoName, objectName)

	cf.AddField(classfile.AccPrivate|classfile.AccFinal, "name", stringDesc)
	cf.AddField(classfile.AccPrivate|classfile.AccFinal, "cancellable", "Z")
	cf.AddField(classfile.AccPrivate, "cancelled", "Z")

	cf.AddMethod(classfile.AccPublic, "<init>", "(Ljava/lang/String;Z)V", &classfile.Code{
		MaxStack:  2,
		MaxLocals: 3,
		Insns: []*classfile.Insn{
			classfile.Var(classfile.OpAload, 0),
			classfile.Invoke(classfile.OpInvokespecial, objectName, "<init>", "()V"),
			classfile.Var(classfile.OpAload, 0),
			classfile.Var(classfile.OpAload, 1),
			classfile.Field(classfile.OpPutfield, CallbackInfoName, "name", stringDesc),
			classfile.Var(classfile.OpAload, 0),
			classfile.Var(classfile.OpIload, 2),
			classfile.Field(classfile.OpPutfield, CallbackInfoName, "cancellable", "Z"),
			classfile.Simple(classfile.OpReturn),
		},
	})

	addGetter(cf, CallbackInfoName, "getName", "name", stringDesc, classfile.OpAreturn)
	addGetter(cf, CallbackInfoName, "isCancellable", "cancellable", "Z", classfile.OpIreturn)
	addGetter(cf, CallbackInfoName, "isCancelled", "cancelled", "Z", classfile.OpIreturn)

	// cancel() refuses on non-cancellable callbacks rather than silently
	// ignoring the request.
	ok := classfile.LabelID(0)
	cf.AddMethod(classfile.AccPublic, "cancel", "()V", &classfile.Code{
		MaxStack:  3,
		MaxLocals: 1,
		Insns: []*classfile.Insn{
			classfile.Var(classfile.OpAload, 0),
			classfile.Field(classfile.OpGetfield, CallbackInfoName, "cancellable", "Z"),
			classfile.Jump(classfile.OpIfne, ok),
			classfile.TypeInsn(classfile.OpNew, illegalState),
			classfile.Simple(classfile.OpDup),
			stringLdc(notCancelMsg),
			classfile.Invoke(classfile.OpInvokespecial, illegalState, "<init>", "(Ljava/lang/String;)V"),
			classfile.Simple(classfile.OpAthrow),
			classfile.Label(ok),
			classfile.Var(classfile.OpAload, 0),
			classfile.PushInt(1),
			classfile.Field(classfile.OpPutfield, CallbackInfoName, "cancelled", "Z"),
			classfile.Simple(classfile.OpReturn),
		},
	})

	return cf.Serialize()
}

// CallbackInfoReturnableBytes builds the returnable variant carrying the
// substitute return value for non-void targets.
func CallbackInfoReturnableBytes() ([]byte, error) {
	cf := classfile.New(CallbackInfoReturnableName, CallbackInfoName)

	cf.AddField(classfile.AccPrivate, "returnValue", returnValDesc)

	cf.AddMethod(classfile.AccPublic, "<init>", "(Ljava/lang/String;Z)V", &classfile.Code{
		MaxStack:  3,
		MaxLocals: 3,
		Insns: []*classfile.Insn{
			classfile.Var(classfile.OpAload, 0),
			classfile.Var(classfile.OpAload, 1),
			classfile.Var(classfile.OpIload, 2),
			classfile.Invoke(classfile.OpInvokespecial, CallbackInfoName, "<init>", "(Ljava/lang/String;Z)V"),
			classfile.Simple(classfile.OpReturn),
		},
	})

	cf.AddMethod(classfile.AccPublic, "setReturnValue", "(Ljava/lang/Object;)V", &classfile.Code{
		MaxStack:  2,
		MaxLocals: 2,
		Insns: []*classfile.Insn{
			classfile.Var(classfile.OpAload, 0),
			classfile.Var(classfile.OpAload, 1),
			classfile.Field(classfile.OpPutfield, CallbackInfoReturnableName, "returnValue", returnValDesc),
			classfile.Simple(classfile.OpReturn),
		},
	})

	addGetter(cf, CallbackInfoReturnableName, "getReturnValue", "returnValue", returnValDesc, classfile.OpAreturn)

	return cf.Serialize()
}

func addGetter(cf *classfile.ClassFile, owner, method, field, desc string, ret classfile.Opcode) {
	cf.AddMethod(classfile.AccPublic, method, "()"+desc, &classfile.Code{
		MaxStack:  1,
		MaxLocals: 1,
		Insns: []*classfile.Insn{
			classfile.Var(classfile.OpAload, 0),
			classfile.Field(classfile.OpGetfield, owner, field, desc),
			classfile.Simple(ret),
		},
	})
}

func stringLdc(s string) *classfile.Insn {
	return &classfile.Insn{
		Opcode: classfile.OpLdc,
		Kind:   classfile.KindConst,
		Const:  classfile.ConstValue{Kind: classfile.ConstString, S: s},
	}
}

// WriteSupportClasses emits both support classes under dir, laid out by
// internal name.
func WriteSupportClasses(dir string) error {
	classes := []struct {
		name  string
		build func() ([]byte, error)
	}{
		{CallbackInfoName, CallbackInfoBytes},
		{CallbackInfoReturnableName, CallbackInfoReturnableBytes},
	}
	for _, c := range classes {
		data, err := c.build()
		if err != nil {
			return fmt.Errorf("building %s: %w", c.name, err)
		}
		path := filepath.Join(dir, filepath.FromSlash(c.name)+".class")
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return err
		}
	}
	return nil
}
