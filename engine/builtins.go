package engine

import (
	"github.com/colorfulnotion/cvm/cvm"
	"github.com/colorfulnotion/cvm/il"
)

// Names of the exception classes the engine raises itself.
const (
	ClassException          = "System.Exception"
	ClassSystemException    = "System.SystemException"
	ClassNullReference      = "System.NullReferenceException"
	ClassAccessViolation    = "System.AccessViolationException"
	ClassIndexOutOfRange    = "System.IndexOutOfRangeException"
	ClassArithmetic         = "System.ArithmeticException"
	ClassOverflow           = "System.OverflowException"
	ClassDivideByZero       = "System.DivideByZeroException"
	ClassInvalidCast        = "System.InvalidCastException"
	ClassStackOverflow      = "System.StackOverflowException"
	ClassArrayTypeMismatch  = "System.ArrayTypeMismatchException"
	ClassTypeInitialization = "System.TypeInitializationException"
	ClassOutOfMemory        = "System.OutOfMemoryException"
	ClassInvalidProgram     = "System.InvalidProgramException"
	ClassMissingMethod      = "System.MissingMethodException"
)

// exceptionTree lists the engine's exception classes with their parents,
// parents first.
var exceptionTree = [][2]string{
	{ClassSystemException, ClassException},
	{ClassNullReference, ClassSystemException},
	{ClassAccessViolation, ClassSystemException},
	{ClassIndexOutOfRange, ClassSystemException},
	{ClassArithmetic, ClassSystemException},
	{ClassOverflow, ClassArithmetic},
	{ClassDivideByZero, ClassArithmetic},
	{ClassInvalidCast, ClassSystemException},
	{ClassStackOverflow, ClassSystemException},
	{ClassArrayTypeMismatch, ClassSystemException},
	{ClassTypeInitialization, ClassSystemException},
	{ClassOutOfMemory, ClassSystemException},
	{ClassInvalidProgram, ClassSystemException},
	{ClassMissingMethod, ClassSystemException},
}

// builtins are the classes every registry starts with.
type builtins struct {
	Object     *Class
	ValueType  *Class
	String     *Class
	Array      *Class
	Exception  *Class
	TypeHandle *Class
	TypedRef   *Class
	ArgList    *Class

	Boolean, Char                *Class
	SByte, Byte, Int16, UInt16   *Class
	Int32, UInt32, Int64, UInt64 *Class
	Single, Double               *Class
	IntPtr, UIntPtr              *Class

	// ExceptionCtor is Exception::.ctor(string).
	ExceptionCtor *Method
	// ExceptionMessage is the message field of every exception.
	ExceptionMessage *Field
}

func (r *Registry) bootstrap() error {
	ref := func(name string, parent *Class) (*Class, error) {
		return r.addClassLocked(&Class{Name: name, Parent: parent})
	}
	prim := func(name string, k il.Kind) (*Class, error) {
		size := il.Type{Kind: k}.StorageSize(8)
		return r.addClassLocked(&Class{Name: name, Parent: r.ValueType, ValueType: true, InstanceSize: size, Kind: k})
	}
	r.mu.Lock()
	var err error
	steps := []func() error{
		func() (err error) { r.Object, err = ref("System.Object", nil); return },
		func() (err error) { r.ValueType, err = ref("System.ValueType", r.Object); return },
		func() (err error) { r.String, err = ref("System.String", r.Object); return },
		func() (err error) { r.Array, err = ref("System.Array", r.Object); return },
		func() (err error) { r.Exception, err = ref(ClassException, r.Object); return },
		func() (err error) { r.Boolean, err = prim("System.Boolean", il.KindBool); return },
		func() (err error) { r.Char, err = prim("System.Char", il.KindChar); return },
		func() (err error) { r.SByte, err = prim("System.SByte", il.KindI1); return },
		func() (err error) { r.Byte, err = prim("System.Byte", il.KindU1); return },
		func() (err error) { r.Int16, err = prim("System.Int16", il.KindI2); return },
		func() (err error) { r.UInt16, err = prim("System.UInt16", il.KindU2); return },
		func() (err error) { r.Int32, err = prim("System.Int32", il.KindI4); return },
		func() (err error) { r.UInt32, err = prim("System.UInt32", il.KindU4); return },
		func() (err error) { r.Int64, err = prim("System.Int64", il.KindI8); return },
		func() (err error) { r.UInt64, err = prim("System.UInt64", il.KindU8); return },
		func() (err error) { r.Single, err = prim("System.Single", il.KindR4); return },
		func() (err error) { r.Double, err = prim("System.Double", il.KindR8); return },
		func() (err error) { r.IntPtr, err = prim("System.IntPtr", il.KindI); return },
		func() (err error) { r.UIntPtr, err = prim("System.UIntPtr", il.KindU); return },
		func() (err error) { r.TypeHandle, err = prim("System.RuntimeTypeHandle", il.KindI); return },
		func() (err error) { r.TypedRef, err = prim("System.TypedReference", il.KindTypedRef); return },
		func() (err error) { r.ArgList, err = ref("System.ArgIterator", r.Object); return },
	}
	for _, step := range steps {
		if err = step(); err != nil {
			break
		}
	}
	if err == nil {
		for _, e := range exceptionTree {
			if _, err = ref(e[0], r.byName[e[1]]); err != nil {
				break
			}
		}
	}
	r.mu.Unlock()
	if err != nil {
		return err
	}

	// Exception carries its message string in its only field.
	if r.ExceptionMessage, err = r.AddField(r.Exception, "message", il.ObjectOf(r.String.Handle), false); err != nil {
		return err
	}
	msg := r.ExceptionMessage
	r.ExceptionCtor = r.AddNative(r.Exception, ".ctor", il.Signature{
		HasThis: true,
		Params:  []il.Type{il.ObjectOf(r.String.Handle)},
	}, func(t *Thread, args []cvm.Word) ([]cvm.Word, error) {
		t.mem.PutUint64(uint64(args[0])+uint64(msg.Offset), uint64(args[1]))
		return nil, nil
	})
	return nil
}

// ExceptionClass returns the class named name, which must be one of the
// engine's exception classes or a user class registered before the throw.
func (r *Registry) ExceptionClass(name string) *Class {
	if c, ok := r.ClassByName(name); ok {
		return c
	}
	return r.Exception
}
