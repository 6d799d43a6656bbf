package coder

import (
	"fmt"
	"math"

	"github.com/colorfulnotion/cvm/cvm"
	"github.com/colorfulnotion/cvm/cvmerrors"
	"github.com/colorfulnotion/cvm/il"
)

// Constant emits a CIL constant load. value must be an integer for the
// ldc.i4/ldc.i8 family and a float for ldc.r4/ldc.r8.
func (c *Coder) Constant(op il.Opcode, value any) {
	switch op {
	case il.LDNULL:
		c.LoadNull()
	case il.LDC_I4_M1:
		c.loadInt32(-1)
	case il.LDC_I4_0, il.LDC_I4_1, il.LDC_I4_2, il.LDC_I4_3, il.LDC_I4_4,
		il.LDC_I4_5, il.LDC_I4_6, il.LDC_I4_7, il.LDC_I4_8:
		c.loadInt32(int32(op - il.LDC_I4_0))
	case il.LDC_I4, il.LDC_I4_S:
		v, ok := toInt64(value)
		if !ok {
			c.fail(fmt.Errorf("%s %T: %w", op, value, cvmerrors.ErrUnsupportedType))
			return
		}
		c.loadInt32(int32(v))
	case il.LDC_I8:
		v, ok := toInt64(value)
		if !ok {
			c.fail(fmt.Errorf("%s %T: %w", op, value, cvmerrors.ErrUnsupportedType))
			return
		}
		c.LoadInt64(v)
	case il.LDC_R4:
		v, ok := toFloat64(value)
		if !ok {
			c.fail(fmt.Errorf("%s %T: %w", op, value, cvmerrors.ErrUnsupportedType))
			return
		}
		c.emit(cvm.AppendFloat(c.buf[:0], cvm.COP_LDC_R4, float32(v)), c.engineWords(il.EngineF))
	case il.LDC_R8:
		v, ok := toFloat64(value)
		if !ok {
			c.fail(fmt.Errorf("%s %T: %w", op, value, cvmerrors.ErrUnsupportedType))
			return
		}
		c.LoadFloat64(v)
	default:
		c.fail(fmt.Errorf("constant %s: %w", op, cvmerrors.ErrUnsupportedType))
	}
}

func toInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		return int64(x), true
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float32:
		return float64(x), true
	case float64:
		return x, true
	}
	if i, ok := toInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}

func (c *Coder) loadInt32(v int32) {
	switch {
	case v >= -1 && v <= 8:
		c.op(cvm.COP_LDC_I4_M1+cvm.Opcode(v+1), 1)
	case v >= math.MinInt8 && v <= math.MaxInt8:
		c.emit(cvm.AppendSByte(c.buf[:0], cvm.COP_LDC_I4_S, int8(v)), 1)
	default:
		c.opWord(cvm.COP_LDC_I4, uint32(v), 1)
	}
}

func (c *Coder) LoadInt32(v int32) { c.loadInt32(v) }

func (c *Coder) LoadInt64(v int64) {
	c.emit(cvm.AppendLong(c.buf[:0], cvm.COP_LDC_I8, v), c.engineWords(il.EngineI8))
}

func (c *Coder) LoadFloat64(v float64) {
	c.emit(cvm.AppendDouble(c.buf[:0], cvm.COP_LDC_R8, v), c.engineWords(il.EngineF))
}

func (c *Coder) LoadNull() { c.op(cvm.COP_LDNULL, 1) }

// StringConstant pushes the string with the given index in the runtime's
// string table.
func (c *Coder) StringConstant(token uint32) {
	c.opWord(cvm.COP_PREFIX_LDSTR, token, 1)
}

// LoadToken pushes a runtime handle for a class, method or field.
func (c *Coder) LoadToken(h il.Handle) {
	c.opPtr(cvm.COP_PREFIX_LDTOKEN, h, 1)
}

func (c *Coder) LoadFuncAddr(m *il.MethodRef) {
	c.opPtr(cvm.COP_PREFIX_LDFTN, m.Handle, 1)
}

// LoadVirtualFuncAddr replaces the object on top of the stack with the
// implementation of m's vtable slot.
func (c *Coder) LoadVirtualFuncAddr(m *il.MethodRef) {
	c.opWord(cvm.COP_PREFIX_LDVIRTFTN, m.Slot, 0)
}
