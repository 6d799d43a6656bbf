package coder

import (
	"fmt"

	"github.com/colorfulnotion/cvm/cvm"
	"github.com/colorfulnotion/cvm/cvmerrors"
	"github.com/colorfulnotion/cvm/il"
)

// Array indices are consumed as 32 bits: a native int index is narrowed
// when it is on top of the stack and read through its low word otherwise.

func (c *Coder) elemReadOp(t il.Type) cvm.Opcode {
	switch t.Kind {
	case il.KindI1:
		return cvm.COP_BREAD_ELEM
	case il.KindBool, il.KindU1:
		return cvm.COP_UBREAD_ELEM
	case il.KindI2:
		return cvm.COP_SREAD_ELEM
	case il.KindU2, il.KindChar:
		return cvm.COP_USREAD_ELEM
	case il.KindI4, il.KindU4:
		return cvm.COP_IREAD_ELEM
	case il.KindI, il.KindU, il.KindRef, il.KindPtr, il.KindByRef:
		return cvm.COP_PREAD_ELEM
	case il.KindI8, il.KindU8:
		return cvm.COP_PREFIX_LREAD_ELEM
	case il.KindR4:
		return cvm.COP_PREFIX_FREAD_ELEM
	case il.KindR8:
		return cvm.COP_PREFIX_DREAD_ELEM
	case il.KindValue, il.KindTypedRef:
		return cvm.COP_PREFIX_MREAD_ELEM
	}
	return cvm.COP_NOP
}

func (c *Coder) elemWriteOp(t il.Type) cvm.Opcode {
	switch t.Kind {
	case il.KindBool, il.KindI1, il.KindU1:
		return cvm.COP_BWRITE_ELEM
	case il.KindI2, il.KindU2, il.KindChar:
		return cvm.COP_SWRITE_ELEM
	case il.KindI4, il.KindU4:
		return cvm.COP_IWRITE_ELEM
	case il.KindI, il.KindU, il.KindRef, il.KindPtr, il.KindByRef:
		return cvm.COP_PWRITE_ELEM
	case il.KindI8, il.KindU8:
		return cvm.COP_PREFIX_LWRITE_ELEM
	case il.KindR4:
		return cvm.COP_PREFIX_FWRITE_ELEM
	case il.KindR8:
		return cvm.COP_PREFIX_DWRITE_ELEM
	case il.KindValue, il.KindTypedRef:
		return cvm.COP_PREFIX_MWRITE_ELEM
	}
	return cvm.COP_NOP
}

func (c *Coder) narrowIndex(index il.EngineType) {
	if index == il.EngineI && c.layout.Is64() {
		c.op(cvm.COP_L2I, 0)
	}
}

// ArrayLength replaces the array on top of the stack with its length.
func (c *Coder) ArrayLength() {
	c.op(cvm.COP_ARRAY_LEN, 0)
}

// LoadElem is ldelem: [array, index] -> [value].
func (c *Coder) LoadElem(elem il.Type, index il.EngineType) {
	op := c.elemReadOp(elem)
	if op == cvm.COP_NOP {
		c.fail(fmt.Errorf("ldelem %s: %w", elem, cvmerrors.ErrUnsupportedType))
		return
	}
	c.narrowIndex(index)
	delta := c.words(elem) - 2
	if op == cvm.COP_PREFIX_MREAD_ELEM {
		c.opWord(op, elem.StorageSize(c.layout.PtrSize), delta)
		return
	}
	c.op(op, delta)
}

// StoreElem is stelem: [array, index, value] -> []. Stores of object
// references are checked against the array's element class.
func (c *Coder) StoreElem(elem il.Type, index il.EngineType) {
	op := c.elemWriteOp(elem)
	if op == cvm.COP_NOP {
		c.fail(fmt.Errorf("stelem %s: %w", elem, cvmerrors.ErrUnsupportedType))
		return
	}
	if elem.Kind == il.KindRef {
		c.op(cvm.COP_PREFIX_CKARRAY_STORE, 0)
	}
	delta := -2 - c.words(elem)
	if op == cvm.COP_PREFIX_MWRITE_ELEM {
		c.opWord(op, elem.StorageSize(c.layout.PtrSize), delta)
		return
	}
	c.op(op, delta)
}

// LoadElemAddr is ldelema: [array, index] -> [address].
func (c *Coder) LoadElemAddr(elem il.Type, index il.EngineType) {
	c.narrowIndex(index)
	c.opWord(cvm.COP_PREFIX_LDELEMA, elem.StorageSize(c.layout.PtrSize), -1)
}

// NewArray is newarr: [length] -> [array].
func (c *Coder) NewArray(elemClass il.Handle, length il.EngineType) {
	c.narrowIndex(length)
	c.opPtr(cvm.COP_PREFIX_NEW_ARRAY, elemClass, 0)
}

// NewArray2D allocates a rectangular array: [len0, len1] -> [array].
func (c *Coder) NewArray2D(elemClass il.Handle) {
	c.opPtr(cvm.COP_PREFIX_NEW_ARRAY2D, elemClass, -1)
}

// ArrayAddress2D is the Address accessor: [array, i, j] -> [address].
func (c *Coder) ArrayAddress2D() {
	c.op(cvm.COP_PREFIX_GET2D, -2)
}

// ArrayGet2D is the Get accessor: [array, i, j] -> [value].
func (c *Coder) ArrayGet2D(elem il.Type) {
	c.ArrayAddress2D()
	c.readTyped(elem)
}

// ArraySet2D is the Set accessor: [array, i, j, value] -> [].
func (c *Coder) ArraySet2D(elem il.Type) {
	w := c.words(elem)
	c.opByte(cvm.COP_PREFIX_SET2D, uint32(w), -2)
	c.writeTyped(elem)
}
