package coder

import (
	"github.com/colorfulnotion/cvm/cvm"
	"github.com/colorfulnotion/cvm/il"
)

// fieldReadOp returns the one byte offset form for loading t, if any.
func (c *Coder) fieldReadOp(t il.Type) (cvm.Opcode, bool) {
	switch t.Kind {
	case il.KindI1:
		return cvm.COP_BREAD_FIELD, true
	case il.KindBool, il.KindU1:
		return cvm.COP_UBREAD_FIELD, true
	case il.KindI2:
		return cvm.COP_SREAD_FIELD, true
	case il.KindU2, il.KindChar:
		return cvm.COP_USREAD_FIELD, true
	case il.KindI4, il.KindU4:
		return cvm.COP_IREAD_FIELD, true
	case il.KindI, il.KindU, il.KindRef, il.KindPtr, il.KindByRef:
		return cvm.COP_PREAD_FIELD, true
	case il.KindI8, il.KindU8:
		return cvm.COP_PREAD_FIELD, c.layout.Is64()
	}
	return cvm.COP_NOP, false
}

func (c *Coder) fieldWriteOp(t il.Type) (cvm.Opcode, bool) {
	switch t.Kind {
	case il.KindBool, il.KindI1, il.KindU1:
		return cvm.COP_BWRITE_FIELD, true
	case il.KindI2, il.KindU2, il.KindChar:
		return cvm.COP_SWRITE_FIELD, true
	case il.KindI4, il.KindU4:
		return cvm.COP_IWRITE_FIELD, true
	case il.KindI, il.KindU, il.KindRef, il.KindPtr, il.KindByRef:
		return cvm.COP_PWRITE_FIELD, true
	case il.KindI8, il.KindU8:
		return cvm.COP_PWRITE_FIELD, c.layout.Is64()
	}
	return cvm.COP_NOP, false
}

// LoadField replaces the object or pointer on top of the stack with the
// value of f. nonNull asserts the reference was already checked.
func (c *Coder) LoadField(f *il.FieldRef, nonNull bool) {
	if f.Static {
		c.op(cvm.COP_POP, -1)
		c.LoadStaticField(f)
		return
	}
	if op, ok := c.fieldReadOp(f.Type); ok && f.Offset <= 0xFF {
		c.opByte(op, f.Offset, c.words(f.Type)-1)
		return
	}
	if !nonNull {
		c.op(cvm.COP_CKNULL, 0)
	}
	c.addOffset(f.Offset)
	c.readTyped(f.Type)
}

// StoreField stores the value on top of the stack into f of the object
// beneath it.
func (c *Coder) StoreField(f *il.FieldRef, nonNull bool) {
	w := c.words(f.Type)
	if f.Static {
		c.StoreStaticField(f)
		c.op(cvm.COP_POP, -1)
		return
	}
	if op, ok := c.fieldWriteOp(f.Type); ok && f.Offset <= 0xFF {
		c.opByte(op, f.Offset, -1-w)
		return
	}
	if !nonNull {
		c.opByte(cvm.COP_CKNULL_N, uint32(w), 0)
	}
	switch {
	case f.Offset == 0:
	case f.Offset <= 0xFF:
		c.opByte2(cvm.COP_PADD_OFFSET_N, uint32(w), f.Offset, 0)
	default:
		// bring the object up, offset it and put it back
		c.opByte(cvm.COP_DUP_WORD_N, uint32(w), 1)
		c.addOffset(f.Offset)
		c.opWord(cvm.COP_PUSHDOWN, uint32(w+1), 0)
		c.opByte2(cvm.COP_SQUASH, uint32(w), 1, -1)
	}
	c.writeTyped(f.Type)
}

// LoadFieldAddr replaces the object on top of the stack with the address of f.
func (c *Coder) LoadFieldAddr(f *il.FieldRef, nonNull bool) {
	if f.Static {
		c.op(cvm.COP_POP, -1)
		c.LoadStaticFieldAddr(f)
		return
	}
	if !nonNull {
		c.op(cvm.COP_CKNULL, 0)
	}
	c.addOffset(f.Offset)
}

// LoadThisField loads a field of the method's "this" argument.
func (c *Coder) LoadThisField(f *il.FieldRef) {
	if f.Offset <= 0xFF {
		switch op, _ := c.fieldReadOp(f.Type); op {
		case cvm.COP_IREAD_FIELD:
			c.opByte(cvm.COP_IREAD_THIS, f.Offset, 1)
			return
		case cvm.COP_PREAD_FIELD:
			c.opByte(cvm.COP_PREAD_THIS, f.Offset, 1)
			return
		}
	}
	c.LoadArg(0)
	c.LoadField(f, false)
}

// staticAddr pushes the address of a static field, running the class
// constructor first when the class has one.
func (c *Coder) staticAddr(f *il.FieldRef) {
	if f.ClassHasCctor {
		c.opPtr(cvm.COP_PREFIX_RUN_CCTOR, f.Class, 0)
	}
	if f.RVA {
		c.opPtr(cvm.COP_PREFIX_LDRVA, f.Handle, 1)
		return
	}
	c.opPtr(cvm.COP_PREFIX_GET_STATIC, f.Class, 1)
	c.addOffset(f.Offset)
}

func (c *Coder) LoadStaticField(f *il.FieldRef) {
	c.staticAddr(f)
	c.readTyped(f.Type)
}

// StoreStaticField pops a value into a static field.
func (c *Coder) StoreStaticField(f *il.FieldRef) {
	c.staticAddr(f)
	c.opWord(cvm.COP_PUSHDOWN, uint32(c.words(f.Type)), 0)
	c.writeTyped(f.Type)
}

func (c *Coder) LoadStaticFieldAddr(f *il.FieldRef) {
	c.staticAddr(f)
}
