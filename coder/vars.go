package coder

import (
	"fmt"

	"github.com/colorfulnotion/cvm/cvm"
	"github.com/colorfulnotion/cvm/cvmerrors"
	"github.com/colorfulnotion/cvm/il"
)

// Arguments and locals share the frame: arguments first, then locals, then
// the coder's own rethrow locals. Offsets are in words from the frame base.

func (c *Coder) arg(n uint32) (uint32, il.Type, bool) {
	if int(n) >= len(c.argTypes) {
		c.fail(fmt.Errorf("argument %d of %d: %w", n, len(c.argTypes), cvmerrors.ErrBadOperand))
		return 0, il.Void, false
	}
	return c.argOffsets[n], c.argTypes[n], true
}

func (c *Coder) local(n uint32) (uint32, il.Type, bool) {
	if int(n) >= len(c.localTypes) {
		c.fail(fmt.Errorf("local %d of %d: %w", n, len(c.localTypes), cvmerrors.ErrBadOperand))
		return 0, il.Void, false
	}
	return c.localOffsets[n], c.localTypes[n], true
}

func (c *Coder) LoadArg(n uint32) {
	if off, t, ok := c.arg(n); ok {
		c.loadFrame(off, t)
	}
}

func (c *Coder) StoreArg(n uint32) {
	if off, t, ok := c.arg(n); ok {
		c.storeFrame(off, t)
	}
}

func (c *Coder) AddressOfArg(n uint32) {
	if off, t, ok := c.arg(n); ok {
		c.addressOf(off, t)
	}
}

func (c *Coder) LoadLocal(n uint32) {
	if off, t, ok := c.local(n); ok {
		c.loadFrame(off, t)
	}
}

func (c *Coder) StoreLocal(n uint32) {
	if off, t, ok := c.local(n); ok {
		c.storeFrame(off, t)
	}
}

func (c *Coder) AddressOfLocal(n uint32) {
	if off, t, ok := c.local(n); ok {
		c.addressOf(off, t)
	}
}

// inMemoryForm reports whether t's storage representation differs from its
// stack representation.
func inMemoryForm(t il.Type) bool {
	switch t.Kind {
	case il.KindBool, il.KindI1, il.KindU1, il.KindI2, il.KindU2, il.KindChar, il.KindR4:
		return true
	}
	return false
}

func (c *Coder) viaMemory(off uint32, t il.Type) bool {
	return c.memSlots[off] && inMemoryForm(t)
}

func (c *Coder) loadFrame(off uint32, t il.Type) {
	if c.viaMemory(off, t) {
		c.opLocal(cvm.COP_WADDR, off, 1)
		c.readTyped(t)
		return
	}
	w := c.words(t)
	switch {
	case w == 1 && t.EngineType() == il.EngineI4:
		c.opLocal(cvm.COP_ILOAD, off, 1)
	case w == 1:
		c.opLocal(cvm.COP_PLOAD, off, 1)
	default:
		c.opByte2(cvm.COP_MLOAD, off, uint32(w), w)
	}
}

func (c *Coder) storeFrame(off uint32, t il.Type) {
	w := c.words(t)
	if c.viaMemory(off, t) {
		c.opLocal(cvm.COP_WADDR, off, 1)
		c.opWord(cvm.COP_PUSHDOWN, uint32(w), 0)
		c.writeTyped(t)
		return
	}
	switch {
	case w == 1 && t.EngineType() == il.EngineI4:
		c.opLocal(cvm.COP_ISTORE, off, -1)
	case w == 1:
		c.opLocal(cvm.COP_PSTORE, off, -1)
	default:
		c.opByte2(cvm.COP_MSTORE, off, uint32(w), -w)
	}
}

func (c *Coder) addressOf(off uint32, t il.Type) {
	if inMemoryForm(t) && !c.memSlots[off] {
		c.fail(fmt.Errorf("address of undeclared %s slot %d: %w", t, off, cvmerrors.ErrUnsupportedType))
		return
	}
	if c.words(t) > 1 || t.Kind == il.KindValue {
		c.opLocal(cvm.COP_MADDR, off, 1)
		return
	}
	c.opLocal(cvm.COP_WADDR, off, 1)
}

// fixupArg converts an incoming argument whose address is taken from its
// stack representation to its storage representation.
func (c *Coder) fixupArg(off uint32, t il.Type) {
	switch t.Kind {
	case il.KindBool, il.KindI1, il.KindU1:
		c.opLocal(cvm.COP_BFIXUP, off, 0)
	case il.KindI2, il.KindU2, il.KindChar:
		c.opLocal(cvm.COP_SFIXUP, off, 0)
	case il.KindR4:
		c.opLocal(cvm.COP_FFIXUP, off, 0)
	}
}

// Dup duplicates the value of type t on top of the stack.
func (c *Coder) Dup(t il.Type) {
	switch w := c.words(t); w {
	case 1:
		c.op(cvm.COP_DUP, 1)
	case 2:
		c.op(cvm.COP_DUP2, 2)
	default:
		c.opByte(cvm.COP_DUP_N, uint32(w), w)
	}
}

// Pop discards the value of type t on top of the stack.
func (c *Coder) Pop(t il.Type) {
	c.popWords(c.words(t))
}

func (c *Coder) popWords(w int) {
	switch w {
	case 0:
	case 1:
		c.op(cvm.COP_POP, -1)
	case 2:
		c.op(cvm.COP_POP2, -2)
	default:
		c.opByte(cvm.COP_POP_N, uint32(w), -w)
	}
}
