package coder

import (
	"fmt"

	"github.com/colorfulnotion/cvm/cvm"
	"github.com/colorfulnotion/cvm/cvmerrors"
	"github.com/colorfulnotion/cvm/il"
)

// readOp is the indirect load for a storage type. size is the MREAD operand
// for value types.
func (c *Coder) readOp(t il.Type) (cvm.Opcode, uint32) {
	switch t.Kind {
	case il.KindI1:
		return cvm.COP_BREAD, 0
	case il.KindBool, il.KindU1:
		return cvm.COP_UBREAD, 0
	case il.KindI2:
		return cvm.COP_SREAD, 0
	case il.KindU2, il.KindChar:
		return cvm.COP_USREAD, 0
	case il.KindI4, il.KindU4:
		return cvm.COP_IREAD, 0
	case il.KindI8, il.KindU8:
		return cvm.COP_LREAD, 0
	case il.KindR4:
		return cvm.COP_FREAD, 0
	case il.KindR8:
		return cvm.COP_DREAD, 0
	case il.KindI, il.KindU, il.KindRef, il.KindPtr, il.KindByRef:
		return cvm.COP_PREAD, 0
	case il.KindValue, il.KindTypedRef:
		return cvm.COP_MREAD, t.StorageSize(c.layout.PtrSize)
	}
	return cvm.COP_NOP, 0
}

func (c *Coder) writeOp(t il.Type) (cvm.Opcode, uint32) {
	switch t.Kind {
	case il.KindBool, il.KindI1, il.KindU1:
		return cvm.COP_BWRITE, 0
	case il.KindI2, il.KindU2, il.KindChar:
		return cvm.COP_SWRITE, 0
	case il.KindI4, il.KindU4:
		return cvm.COP_IWRITE, 0
	case il.KindI8, il.KindU8:
		return cvm.COP_LWRITE, 0
	case il.KindR4:
		return cvm.COP_FWRITE, 0
	case il.KindR8:
		return cvm.COP_DWRITE, 0
	case il.KindI, il.KindU, il.KindRef, il.KindPtr, il.KindByRef:
		return cvm.COP_PWRITE, 0
	case il.KindValue, il.KindTypedRef:
		return cvm.COP_MWRITE, t.StorageSize(c.layout.PtrSize)
	}
	return cvm.COP_NOP, 0
}

// readTyped replaces the pointer on top of the stack with the value it
// points at.
func (c *Coder) readTyped(t il.Type) {
	op, size := c.readOp(t)
	delta := c.words(t) - 1
	switch op {
	case cvm.COP_NOP:
		c.fail(fmt.Errorf("read %s: %w", t, cvmerrors.ErrUnsupportedType))
	case cvm.COP_MREAD:
		c.opByte(op, size, delta)
	default:
		c.op(op, delta)
	}
}

// writeTyped stores the value on top of the stack through the pointer
// beneath it.
func (c *Coder) writeTyped(t il.Type) {
	op, size := c.writeOp(t)
	delta := -1 - c.words(t)
	switch op {
	case cvm.COP_NOP:
		c.fail(fmt.Errorf("write %s: %w", t, cvmerrors.ErrUnsupportedType))
	case cvm.COP_MWRITE:
		c.opByte(op, size, delta)
	default:
		c.op(op, delta)
	}
}

// addOffset adds a constant byte offset to the pointer on top of the stack.
func (c *Coder) addOffset(off uint32) {
	switch {
	case off == 0:
	case off <= 0xFF:
		c.opByte(cvm.COP_PADD_OFFSET, off, 0)
	default:
		c.opWord(cvm.COP_LDC_I4, off, 1)
		c.op(cvm.COP_PADD_I4, -1)
	}
}

// LoadIndirect is ldind/ldobj: replace the address on top with the value.
func (c *Coder) LoadIndirect(t il.Type) { c.readTyped(t) }

// StoreIndirect is stind/stobj: [addr, value] -> [].
func (c *Coder) StoreIndirect(t il.Type) { c.writeTyped(t) }

// LoadObj copies a value type out of memory onto the stack.
func (c *Coder) LoadObj(t il.Type) { c.readTyped(t) }

// StoreObj copies a value type from the stack into memory.
func (c *Coder) StoreObj(t il.Type) { c.writeTyped(t) }

// CopyObj is cpobj: [dst, src] -> [].
func (c *Coder) CopyObj(t il.Type) {
	c.opWord(cvm.COP_PREFIX_MEMCPY, t.StorageSize(c.layout.PtrSize), -2)
}

// InitObj is initobj: [addr] -> [].
func (c *Coder) InitObj(t il.Type) {
	c.opWord(cvm.COP_PREFIX_MEMZERO, t.StorageSize(c.layout.PtrSize), -1)
}

// CompareObj compares two value types in memory: [a, b] -> [I4 equal].
func (c *Coder) CompareObj(t il.Type) {
	c.opWord(cvm.COP_PREFIX_MEMCMP, t.StorageSize(c.layout.PtrSize), -1)
}

// CopyBlock is cpblk: [dst, src, size] -> [].
func (c *Coder) CopyBlock() { c.op(cvm.COP_PREFIX_CPBLK, -3) }

// InitBlock is initblk: [addr, value, size] -> [].
func (c *Coder) InitBlock() { c.op(cvm.COP_PREFIX_INITBLK, -3) }

// LocalAlloc is localloc: [size] -> [ptr].
func (c *Coder) LocalAlloc(size il.EngineType) {
	c.ToPointer(size, 0)
	c.op(cvm.COP_PREFIX_LOCALLOC, 0)
}

// SizeOf pushes the storage size of t.
func (c *Coder) SizeOf(t il.Type) {
	c.loadInt32(int32(t.StorageSize(c.layout.PtrSize)))
}
