package coder

import (
	"fmt"

	"github.com/colorfulnotion/cvm/cvm"
	"github.com/colorfulnotion/cvm/cvmerrors"
	"github.com/colorfulnotion/cvm/il"
)

// BoxFloat32 is or'ed into the BOX_SMALLER size operand when the value on
// the stack is a native float that must be stored as float32.
const BoxFloat32 = 0x80

// NewObject allocates an instance and runs ctor on it: [args] -> [object].
// Value type constructors leave the initialised value on the stack.
func (c *Coder) NewObject(ctor *il.MethodRef) {
	args := c.paramWords(ctor.Signature.Params)
	result := 1
	if ctor.ValueClass {
		result = int(c.layout.WordsFor(ctor.ValueSize))
	}
	c.adjust(2)
	c.opPtr(cvm.COP_CALL_CTOR, ctor.Handle, result-args-2)
}

// CastClass is castclass: the object stays on the stack or
// InvalidCastException is raised.
func (c *Coder) CastClass(class il.Handle) {
	c.opPtr(cvm.COP_PREFIX_CASTCLASS, class, 0)
}

// IsInst is isinst: the object is replaced with null if it is not an
// instance of class.
func (c *Coder) IsInst(class il.Handle) {
	c.opPtr(cvm.COP_PREFIX_ISINST, class, 0)
}

// Box copies the value of type t on top of the stack into a new object of
// class.
func (c *Coder) Box(class il.Handle, t il.Type) {
	switch t.Kind {
	case il.KindRef:
		return
	case il.KindBool, il.KindI1, il.KindU1, il.KindI2, il.KindU2, il.KindChar, il.KindI4, il.KindU4, il.KindR4:
		c.BoxSmaller(class, t)
		return
	}
	w := c.words(t)
	c.opPtrWord(cvm.COP_PREFIX_BOX, class, t.StorageSize(c.layout.PtrSize), 1-w)
}

// BoxSmaller boxes an I4 or F stack word whose storage is narrower.
func (c *Coder) BoxSmaller(class il.Handle, t il.Type) {
	size := byte(t.StorageSize(c.layout.PtrSize))
	if size == 0 || size > 4 {
		c.fail(fmt.Errorf("box_smaller %s: %w", t, cvmerrors.ErrUnsupportedType))
		return
	}
	if t.Kind == il.KindR4 {
		size |= BoxFloat32
	}
	c.opPtrByte(cvm.COP_PREFIX_BOX_SMALLER, class, size, 1-c.words(t))
}

// Unbox replaces a boxed object with the address of its value.
func (c *Coder) Unbox(class il.Handle) {
	c.opPtr(cvm.COP_PREFIX_UNBOX, class, 0)
}

// UnboxAny is unbox.any: a value type is copied out of the box, a reference
// type is cast.
func (c *Coder) UnboxAny(class il.Handle, t il.Type) {
	if t.Kind == il.KindRef {
		c.CastClass(class)
		return
	}
	c.Unbox(class)
	c.readTyped(t)
}

// MakeTypedRef is mkrefany: [address] -> [typedref].
func (c *Coder) MakeTypedRef(class il.Handle) {
	c.opPtr(cvm.COP_PREFIX_MK_TYPEDREF, class, 1)
}

// RefAnyVal is refanyval: [typedref] -> [address], checking the type.
func (c *Coder) RefAnyVal(class il.Handle) {
	c.opPtr(cvm.COP_PREFIX_REFANYVAL, class, -1)
}

// RefAnyType is refanytype: [typedref] -> [type handle].
func (c *Coder) RefAnyType() {
	c.op(cvm.COP_PREFIX_REFANYTYPE, -1)
}

// ArgList pushes the packed variable arguments of a vararg method.
func (c *Coder) ArgList() {
	if c.method == nil || !c.method.Signature.VarArg {
		c.fail(fmt.Errorf("arglist outside a vararg method: %w", cvmerrors.ErrBadOperand))
		return
	}
	c.opWord(cvm.COP_PREFIX_ARGLIST, c.varArgSlot, 1)
}
