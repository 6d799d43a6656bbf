// Package samples holds small managed programs written against the coder.
// The CLI runs them and the engine tests use them to compare interpreter
// modes with unrolled execution.
package samples

import (
	"fmt"
	"sort"

	"github.com/colorfulnotion/cvm/coder"
	"github.com/colorfulnotion/cvm/cvm"
	"github.com/colorfulnotion/cvm/engine"
	"github.com/colorfulnotion/cvm/il"
)

// Sample is one program. Build registers its classes and methods on a fresh
// engine and returns the entry point.
type Sample struct {
	Name        string
	Description string
	Args        []cvm.Word
	// Want is the result of a normal return.
	Want []cvm.Word
	// Exception is the class of the exception the entry point throws, when
	// it does not return normally.
	Exception string
	Build     func(e *engine.Engine) (*engine.Method, error)
}

var all = map[string]Sample{}

func register(s Sample) {
	if _, dup := all[s.Name]; dup {
		panic("duplicate sample " + s.Name)
	}
	all[s.Name] = s
}

// Lookup returns the sample called name.
func Lookup(name string) (Sample, bool) {
	s, ok := all[name]
	return s, ok
}

// All lists the samples by name.
func All() []Sample {
	out := make([]Sample, 0, len(all))
	for _, s := range all {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// I4 is the stack word of a 32-bit integer.
func I4(v int32) cvm.Word { return cvm.Word(uint64(int64(v))) }

func static(name string, ret il.Type, params []il.Type, locals ...il.Type) *il.MethodInfo {
	return &il.MethodInfo{
		Name:      name,
		Signature: il.Signature{Params: params, Return: ret},
		Locals:    locals,
	}
}

func instance(name string, ret il.Type, params []il.Type, locals ...il.Type) *il.MethodInfo {
	m := static(name, ret, params, locals...)
	m.Signature.HasThis = true
	return m
}

const (
	i4t = il.EngineI4
	ot  = il.EngineO
)

func init() {
	register(Sample{
		Name:        "sum",
		Description: "sum of 1..n in a counted loop",
		Args:        []cvm.Word{I4(1000)},
		Want:        []cvm.Word{I4(500500)},
		Build:       buildSum,
	})
	register(Sample{
		Name:        "fib",
		Description: "recursive fibonacci",
		Args:        []cvm.Word{I4(20)},
		Want:        []cvm.Word{I4(6765)},
		Build:       buildFib,
	})
	register(Sample{
		Name:        "sieve",
		Description: "count of primes below n with a bool[] sieve",
		Args:        []cvm.Word{I4(10000)},
		Want:        []cvm.Word{I4(1229)},
		Build:       buildSieve,
	})
	register(Sample{
		Name:        "bounds",
		Description: "array store past the end caught as IndexOutOfRangeException",
		Args:        []cvm.Word{I4(4)},
		Want:        []cvm.Word{I4(-1)},
		Build:       buildBounds,
	})
	register(Sample{
		Name:        "bounds2d",
		Description: "rank 2 array read outside a 3x3 grid caught as IndexOutOfRangeException",
		Args:        []cvm.Word{I4(3), I4(0)},
		Want:        []cvm.Word{I4(-1)},
		Build:       buildBounds2D,
	})
	register(Sample{
		Name:        "divide",
		Description: "division by zero caught as DivideByZeroException",
		Args:        []cvm.Word{I4(7), I4(0)},
		Want:        []cvm.Word{I4(-1)},
		Build:       buildDivide,
	})
	register(Sample{
		Name:        "finally",
		Description: "leave through a finally handler",
		Want:        []cvm.Word{I4(10)},
		Build:       buildFinally,
	})
	register(Sample{
		Name:        "shapes",
		Description: "virtual and interface dispatch over two classes",
		Want:        []cvm.Word{I4(19)},
		Build:       buildShapes,
	})
	register(Sample{
		Name:        "point",
		Description: "value type constructed in place and read through its address",
		Want:        []cvm.Word{I4(25)},
		Build:       buildPoint,
	})
	register(Sample{
		Name:        "alias",
		Description: "value type local overwritten through a ref after a copy",
		Want:        []cvm.Word{I4(9)},
		Build:       buildAlias,
	})
	register(Sample{
		Name:        "matrix",
		Description: "nested loops over a rank 2 array",
		Args:        []cvm.Word{I4(10)},
		Want:        []cvm.Word{I4(2025)},
		Build:       buildMatrix,
	})
	register(Sample{
		Name:        "boxing",
		Description: "box, isinst and unbox.any of an int",
		Want:        []cvm.Word{I4(43)},
		Build:       buildBoxing,
	})
	register(Sample{
		Name:        "cctor",
		Description: "static field initialised by a class constructor",
		Want:        []cvm.Word{I4(42)},
		Build:       buildCctor,
	})
	register(Sample{
		Name:        "strings",
		Description: "string literal passed to a Go native method",
		Want:        []cvm.Word{I4(12)},
		Build:       buildStrings,
	})
	register(Sample{
		Name:        "nullfield",
		Description: "field read through null caught as NullReferenceException",
		Want:        []cvm.Word{I4(-1)},
		Build:       buildNullField,
	})
	register(Sample{
		Name:        "uncaught",
		Description: "exception thrown out of the entry point",
		Exception:   engine.ClassException,
		Build:       buildUncaught,
	})
}

// counted emits for (local i = from; i < limit; i++) body, with limit
// pushed by bound. Labels base..base+3 are used.
func counted(cd *coder.Coder, i uint32, from int32, bound func(), body func(), base uint32) {
	cd.LoadInt32(from)
	cd.StoreLocal(i)
	cd.Branch(il.BR, base+2, il.EngineInvalid)
	cd.Label(base)
	body()
	cd.LoadLocal(i)
	cd.LoadInt32(1)
	cd.Binary(il.ADD, i4t, i4t)
	cd.StoreLocal(i)
	cd.Label(base + 2)
	cd.LoadLocal(i)
	bound()
	cd.BranchCompare(il.BLT, base, i4t, i4t)
}

func buildSum(e *engine.Engine) (*engine.Method, error) {
	return e.Define(nil, static("Sum", il.Int32, []il.Type{il.Int32}, il.Int32, il.Int32), func(cd *coder.Coder) error {
		cd.LoadInt32(0)
		cd.StoreLocal(1)
		counted(cd, 0, 1, func() {
			cd.LoadArg(0)
			cd.LoadInt32(1)
			cd.Binary(il.ADD, i4t, i4t)
		}, func() {
			cd.LoadLocal(1)
			cd.LoadLocal(0)
			cd.Binary(il.ADD, i4t, i4t)
			cd.StoreLocal(1)
		}, 10)
		cd.LoadLocal(1)
		cd.Return(il.Int32)
		return nil
	})
}

func buildFib(e *engine.Engine) (*engine.Method, error) {
	var fib *engine.Method
	fib = e.Registry().AddMethod(nil, static("Fib", il.Int32, []il.Type{il.Int32}), func(cd *coder.Coder) error {
		cd.LoadArg(0)
		cd.LoadInt32(2)
		cd.BranchCompare(il.BGE, 10, i4t, i4t)
		cd.LoadArg(0)
		cd.Return(il.Int32)
		cd.Label(10)
		for _, k := range []int32{1, 2} {
			cd.LoadArg(0)
			cd.LoadInt32(k)
			cd.Binary(il.SUB, i4t, i4t)
			cd.CallMethod(fib.Ref())
		}
		cd.Binary(il.ADD, i4t, i4t)
		cd.Return(il.Int32)
		return nil
	})
	return fib, nil
}

func buildSieve(e *engine.Engine) (*engine.Method, error) {
	r := e.Registry()
	flags := il.ObjectOf(r.ArrayOf(r.Boolean).Handle)
	// locals: flags, i, j, count
	info := static("Sieve", il.Int32, []il.Type{il.Int32}, flags, il.Int32, il.Int32, il.Int32)
	return e.Define(nil, info, func(cd *coder.Coder) error {
		cd.LoadArg(0)
		cd.NewArray(r.Boolean.Handle, i4t)
		cd.StoreLocal(0)
		counted(cd, 1, 2, func() { cd.LoadArg(0) }, func() {
			cd.LoadLocal(0)
			cd.LoadLocal(1)
			cd.LoadElem(il.Bool, i4t)
			cd.Branch(il.BRTRUE, 30, i4t)
			cd.LoadLocal(3)
			cd.LoadInt32(1)
			cd.Binary(il.ADD, i4t, i4t)
			cd.StoreLocal(3)
			// strike out the multiples
			cd.LoadLocal(1)
			cd.LoadLocal(1)
			cd.Binary(il.ADD, i4t, i4t)
			cd.StoreLocal(2)
			cd.Branch(il.BR, 22, il.EngineInvalid)
			cd.Label(20)
			cd.LoadLocal(0)
			cd.LoadLocal(2)
			cd.LoadInt32(1)
			cd.StoreElem(il.Bool, i4t)
			cd.LoadLocal(2)
			cd.LoadLocal(1)
			cd.Binary(il.ADD, i4t, i4t)
			cd.StoreLocal(2)
			cd.Label(22)
			cd.LoadLocal(2)
			cd.LoadArg(0)
			cd.BranchCompare(il.BLT, 20, i4t, i4t)
			cd.Label(30)
		}, 10)
		cd.LoadLocal(3)
		cd.Return(il.Int32)
		return nil
	})
}

// catching builds try { body } catch (class) { result = -1 } return result,
// where body leaves the result in local 0.
func catching(e *engine.Engine, name, class string, params []il.Type, locals []il.Type, body func(cd *coder.Coder)) (*engine.Method, error) {
	c, ok := e.Registry().ClassByName(class)
	if !ok {
		return nil, fmt.Errorf("no class %s", class)
	}
	info := static(name, il.Int32, params, append([]il.Type{il.Int32}, locals...)...)
	info.Clauses = []il.ExceptionClause{{
		Flags: il.ClauseCatch, TryOffset: 0, TryLength: 100,
		HandlerOffset: 100, HandlerLength: 100, Class: c.Handle,
	}}
	return e.Define(nil, info, func(cd *coder.Coder) error {
		cd.Label(0)
		body(cd)
		cd.Leave(200)
		cd.Label(100)
		cd.Pop(il.Object)
		cd.LoadInt32(-1)
		cd.StoreLocal(0)
		cd.Leave(200)
		cd.Label(200)
		cd.LoadLocal(0)
		cd.Return(il.Int32)
		return nil
	})
}

func buildBounds(e *engine.Engine) (*engine.Method, error) {
	r := e.Registry()
	ints := il.ObjectOf(r.ArrayOf(r.Int32).Handle)
	return catching(e, "Bounds", engine.ClassIndexOutOfRange, []il.Type{il.Int32}, []il.Type{ints}, func(cd *coder.Coder) {
		cd.LoadInt32(4)
		cd.NewArray(r.Int32.Handle, i4t)
		cd.StoreLocal(1)
		cd.LoadLocal(1)
		cd.LoadArg(0)
		cd.LoadInt32(7)
		cd.StoreElem(il.Int32, i4t)
		cd.LoadLocal(1)
		cd.LoadArg(0)
		cd.LoadElem(il.Int32, i4t)
		cd.StoreLocal(0)
	})
}

func buildBounds2D(e *engine.Engine) (*engine.Method, error) {
	r := e.Registry()
	grid := il.ObjectOf(r.Array2DOf(r.Int32).Handle)
	return catching(e, "Bounds2D", engine.ClassIndexOutOfRange, []il.Type{il.Int32, il.Int32}, []il.Type{grid}, func(cd *coder.Coder) {
		cd.LoadInt32(3)
		cd.LoadInt32(3)
		cd.NewArray2D(r.Int32.Handle)
		cd.StoreLocal(1)
		cd.LoadLocal(1)
		cd.LoadInt32(1)
		cd.LoadInt32(1)
		cd.LoadInt32(5)
		cd.ArraySet2D(il.Int32)
		cd.LoadLocal(1)
		cd.LoadArg(0)
		cd.LoadArg(1)
		cd.ArrayGet2D(il.Int32)
		cd.StoreLocal(0)
	})
}

func buildDivide(e *engine.Engine) (*engine.Method, error) {
	return catching(e, "Divide", engine.ClassDivideByZero, []il.Type{il.Int32, il.Int32}, nil, func(cd *coder.Coder) {
		cd.LoadArg(0)
		cd.LoadArg(1)
		cd.Binary(il.DIV, i4t, i4t)
		cd.StoreLocal(0)
	})
}

func buildNullField(e *engine.Engine) (*engine.Method, error) {
	r := e.Registry()
	box, err := r.NewClass("Holder", nil)
	if err != nil {
		return nil, err
	}
	f, err := r.AddField(box, "value", il.Int32, false)
	if err != nil {
		return nil, err
	}
	return catching(e, "NullField", engine.ClassNullReference, nil, nil, func(cd *coder.Coder) {
		cd.LoadNull()
		cd.LoadField(f.Ref(), false)
		cd.StoreLocal(0)
	})
}

func buildFinally(e *engine.Engine) (*engine.Method, error) {
	info := static("Finally", il.Int32, nil, il.Int32)
	info.Clauses = []il.ExceptionClause{{
		Flags: il.ClauseFinally, TryOffset: 0, TryLength: 10, HandlerOffset: 10, HandlerLength: 10,
	}}
	return e.Define(nil, info, func(cd *coder.Coder) error {
		cd.Label(0)
		cd.LoadInt32(1)
		cd.StoreLocal(0)
		cd.Leave(20, 10)
		cd.Label(10)
		cd.LoadLocal(0)
		cd.LoadInt32(10)
		cd.Binary(il.MUL, i4t, i4t)
		cd.StoreLocal(0)
		cd.EndFinally()
		cd.Label(20)
		cd.LoadLocal(0)
		cd.Return(il.Int32)
		return nil
	})
}

func buildShapes(e *engine.Engine) (*engine.Method, error) {
	r := e.Registry()
	shape, err := r.NewClass("Shape", nil)
	if err != nil {
		return nil, err
	}
	iface, err := r.NewInterface("IArea")
	if err != nil {
		return nil, err
	}
	base, err := e.Define(shape, instance("Area", il.Int32, nil), func(cd *coder.Coder) error {
		cd.LoadInt32(0)
		cd.Return(il.Int32)
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.SetVirtual(base)

	square, err := r.NewClass("Square", shape)
	if err != nil {
		return nil, err
	}
	side, err := r.AddField(square, "side", il.Int32, false)
	if err != nil {
		return nil, err
	}
	rect, err := r.NewClass("Rect", shape)
	if err != nil {
		return nil, err
	}
	w, err := r.AddField(rect, "w", il.Int32, false)
	if err != nil {
		return nil, err
	}
	h, err := r.AddField(rect, "h", il.Int32, false)
	if err != nil {
		return nil, err
	}

	ctor := func(c *engine.Class, fields ...*engine.Field) (*engine.Method, error) {
		params := make([]il.Type, len(fields))
		for i := range params {
			params[i] = il.Int32
		}
		info := instance(".ctor", il.Void, params)
		info.IsCtor = true
		return e.Define(c, info, func(cd *coder.Coder) error {
			for i, f := range fields {
				cd.LoadArg(0)
				cd.LoadArg(uint32(i + 1))
				cd.StoreField(f.Ref(), true)
			}
			cd.Return(il.Void)
			return nil
		})
	}
	area := func(c *engine.Class, a, b *engine.Field) (*engine.Method, error) {
		m, err := e.Define(c, instance("Area", il.Int32, nil), func(cd *coder.Coder) error {
			cd.LoadThisField(a.Ref())
			cd.LoadThisField(b.Ref())
			cd.Binary(il.MUL, i4t, i4t)
			cd.Return(il.Int32)
			return nil
		})
		if err != nil {
			return nil, err
		}
		r.SetVirtual(m)
		r.Implement(c, iface, m)
		return m, nil
	}
	squareCtor, err := ctor(square, side)
	if err != nil {
		return nil, err
	}
	rectCtor, err := ctor(rect, w, h)
	if err != nil {
		return nil, err
	}
	if _, err := area(square, side, side); err != nil {
		return nil, err
	}
	rectArea, err := area(rect, w, h)
	if err != nil {
		return nil, err
	}

	return e.Define(nil, static("Shapes", il.Int32, nil), func(cd *coder.Coder) error {
		cd.LoadInt32(3)
		cd.NewObject(squareCtor.Ref())
		cd.CallVirtual(base.Ref())
		cd.LoadInt32(2)
		cd.LoadInt32(5)
		cd.NewObject(rectCtor.Ref())
		cd.CallInterface(rectArea.InterfaceRef(iface, 0))
		cd.Binary(il.ADD, i4t, i4t)
		cd.Return(il.Int32)
		return nil
	})
}

func buildPoint(e *engine.Engine) (*engine.Method, error) {
	r := e.Registry()
	point, err := r.NewValueType("Point", 8)
	if err != nil {
		return nil, err
	}
	x, err := r.AddField(point, "X", il.Int32, false)
	if err != nil {
		return nil, err
	}
	y, err := r.AddField(point, "Y", il.Int32, false)
	if err != nil {
		return nil, err
	}
	info := instance(".ctor", il.Void, []il.Type{il.Int32, il.Int32})
	info.IsCtor = true
	ctor, err := e.Define(point, info, func(cd *coder.Coder) error {
		for i, f := range []*engine.Field{x, y} {
			cd.LoadArg(0)
			cd.LoadArg(uint32(i + 1))
			cd.StoreField(f.Ref(), true)
		}
		cd.Return(il.Void)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e.Define(nil, static("Point", il.Int32, nil, point.StorageType()), func(cd *coder.Coder) error {
		cd.LoadInt32(3)
		cd.LoadInt32(4)
		cd.NewObject(ctor.Ref())
		cd.StoreLocal(0)
		for _, f := range []*engine.Field{x, y} {
			cd.AddressOfLocal(0)
			cd.LoadField(f.Ref(), true)
			cd.Dup(il.Int32)
			cd.Binary(il.MUL, i4t, i4t)
		}
		cd.Binary(il.ADD, i4t, i4t)
		cd.Return(il.Int32)
		return nil
	})
}

// buildAlias copies one cell into another and then writes the copy
// through a ref taken before the copy, so the write must be seen by the
// next read of the local.
func buildAlias(e *engine.Engine) (*engine.Method, error) {
	r := e.Registry()
	cell, err := r.NewValueType("Cell", 8)
	if err != nil {
		return nil, err
	}
	x, err := r.AddField(cell, "X", il.Int32, false)
	if err != nil {
		return nil, err
	}
	t := cell.StorageType()
	// locals: s, s2, t, p
	info := static("Alias", il.Int32, nil, t, t, t, il.ByRef)
	return e.Define(nil, info, func(cd *coder.Coder) error {
		cd.AddressOfLocal(1)
		cd.LoadInt32(5)
		cd.StoreField(x.Ref(), true)
		cd.AddressOfLocal(0)
		cd.StoreLocal(3)
		cd.LoadLocal(1)
		cd.StoreLocal(0)
		cd.LoadLocal(3)
		cd.LoadInt32(9)
		cd.StoreField(x.Ref(), true)
		cd.LoadLocal(0)
		cd.StoreLocal(2)
		cd.AddressOfLocal(2)
		cd.LoadField(x.Ref(), true)
		cd.Return(il.Int32)
		return nil
	})
}

func buildMatrix(e *engine.Engine) (*engine.Method, error) {
	r := e.Registry()
	grid := il.ObjectOf(r.Array2DOf(r.Int32).Handle)
	// locals: grid, i, j, sum
	info := static("Matrix", il.Int32, []il.Type{il.Int32}, grid, il.Int32, il.Int32, il.Int32)
	return e.Define(nil, info, func(cd *coder.Coder) error {
		cd.LoadArg(0)
		cd.LoadArg(0)
		cd.NewArray2D(r.Int32.Handle)
		cd.StoreLocal(0)
		n := func() { cd.LoadArg(0) }
		counted(cd, 1, 0, n, func() {
			counted(cd, 2, 0, n, func() {
				cd.LoadLocal(0)
				cd.LoadLocal(1)
				cd.LoadLocal(2)
				cd.LoadLocal(1)
				cd.LoadLocal(2)
				cd.Binary(il.MUL, i4t, i4t)
				cd.ArraySet2D(il.Int32)
				cd.LoadLocal(3)
				cd.LoadLocal(0)
				cd.LoadLocal(1)
				cd.LoadLocal(2)
				cd.ArrayGet2D(il.Int32)
				cd.Binary(il.ADD, i4t, i4t)
				cd.StoreLocal(3)
			}, 20)
		}, 10)
		cd.LoadLocal(3)
		cd.Return(il.Int32)
		return nil
	})
}

func buildBoxing(e *engine.Engine) (*engine.Method, error) {
	r := e.Registry()
	return e.Define(nil, static("Boxing", il.Int32, nil, il.Object), func(cd *coder.Coder) error {
		cd.LoadInt32(42)
		cd.Box(r.Int32.Handle, il.Int32)
		cd.StoreLocal(0)
		cd.LoadLocal(0)
		cd.IsInst(r.Int32.Handle)
		cd.Branch(il.BRTRUE, 10, ot)
		cd.LoadInt32(0)
		cd.Return(il.Int32)
		cd.Label(10)
		cd.LoadLocal(0)
		cd.UnboxAny(r.Int32.Handle, il.Int32)
		cd.LoadInt32(1)
		cd.Binary(il.ADD, i4t, i4t)
		cd.Return(il.Int32)
		return nil
	})
}

func buildCctor(e *engine.Engine) (*engine.Method, error) {
	r := e.Registry()
	settings, err := r.NewClass("Settings", nil)
	if err != nil {
		return nil, err
	}
	value, err := r.AddField(settings, "Value", il.Int32, true)
	if err != nil {
		return nil, err
	}
	cctor := r.AddMethod(settings, static(".cctor", il.Void, nil), func(cd *coder.Coder) error {
		cd.LoadInt32(41)
		cd.StoreStaticField(value.Ref())
		cd.Return(il.Void)
		return nil
	})
	r.SetCctor(cctor)
	return e.Define(nil, static("Cctor", il.Int32, nil), func(cd *coder.Coder) error {
		cd.LoadStaticField(value.Ref())
		cd.LoadInt32(1)
		cd.Binary(il.ADD, i4t, i4t)
		cd.Return(il.Int32)
		return nil
	})
}

func buildStrings(e *engine.Engine) (*engine.Method, error) {
	r := e.Registry()
	length := r.AddNative(r.String, "get_Length", il.Signature{HasThis: true, Return: il.Int32},
		func(t *engine.Thread, args []cvm.Word) ([]cvm.Word, error) {
			if args[0] == 0 {
				return nil, engine.NewManagedException(engine.ClassNullReference, "get_Length on null")
			}
			return []cvm.Word{I4(int32(len([]rune(t.Heap().StringValue(uint64(args[0]))))))}, nil
		})
	token := r.Intern("hello, world")
	return e.Define(nil, static("Strings", il.Int32, nil), func(cd *coder.Coder) error {
		cd.StringConstant(token)
		cd.CallExtern(length.Ref())
		cd.Return(il.Int32)
		return nil
	})
}

func buildUncaught(e *engine.Engine) (*engine.Method, error) {
	r := e.Registry()
	token := r.Intern("boom")
	return e.Define(nil, static("Uncaught", il.Void, nil), func(cd *coder.Coder) error {
		cd.StringConstant(token)
		cd.NewObject(r.ExceptionCtor.Ref())
		cd.Throw()
		return nil
	})
}
