package coder

import (
	"fmt"

	"github.com/colorfulnotion/cvm/cvm"
	"github.com/colorfulnotion/cvm/cvmerrors"
	"github.com/colorfulnotion/cvm/il"
)

// arithOps selects the CVM opcode for an operator by operand width. A zero
// entry (COP_NOP) means the combination is not valid CIL.
type arithOps struct {
	i, l, f cvm.Opcode
}

var binaryOps = map[il.Opcode]arithOps{
	il.ADD:        {cvm.COP_IADD, cvm.COP_LADD, cvm.COP_FADD},
	il.SUB:        {cvm.COP_ISUB, cvm.COP_LSUB, cvm.COP_FSUB},
	il.MUL:        {cvm.COP_IMUL, cvm.COP_LMUL, cvm.COP_FMUL},
	il.DIV:        {cvm.COP_IDIV, cvm.COP_LDIV, cvm.COP_FDIV},
	il.DIV_UN:     {cvm.COP_IDIV_UN, cvm.COP_LDIV_UN, cvm.COP_NOP},
	il.REM:        {cvm.COP_IREM, cvm.COP_LREM, cvm.COP_FREM},
	il.REM_UN:     {cvm.COP_IREM_UN, cvm.COP_LREM_UN, cvm.COP_NOP},
	il.AND:        {cvm.COP_IAND, cvm.COP_LAND, cvm.COP_NOP},
	il.OR:         {cvm.COP_IOR, cvm.COP_LOR, cvm.COP_NOP},
	il.XOR:        {cvm.COP_IXOR, cvm.COP_LXOR, cvm.COP_NOP},
	il.ADD_OVF:    {cvm.COP_IADD_OVF, cvm.COP_LADD_OVF, cvm.COP_NOP},
	il.ADD_OVF_UN: {cvm.COP_IADD_OVF_UN, cvm.COP_LADD_OVF_UN, cvm.COP_NOP},
	il.SUB_OVF:    {cvm.COP_ISUB_OVF, cvm.COP_LSUB_OVF, cvm.COP_NOP},
	il.SUB_OVF_UN: {cvm.COP_ISUB_OVF_UN, cvm.COP_LSUB_OVF_UN, cvm.COP_NOP},
	il.MUL_OVF:    {cvm.COP_IMUL_OVF, cvm.COP_LMUL_OVF, cvm.COP_NOP},
	il.MUL_OVF_UN: {cvm.COP_IMUL_OVF_UN, cvm.COP_LMUL_OVF_UN, cvm.COP_NOP},
}

var shiftOps = map[il.Opcode]arithOps{
	il.SHL:    {i: cvm.COP_ISHL, l: cvm.COP_LSHL},
	il.SHR:    {i: cvm.COP_ISHR, l: cvm.COP_LSHR},
	il.SHR_UN: {i: cvm.COP_ISHR_UN, l: cvm.COP_LSHR_UN},
}

var unaryOps = map[il.Opcode]arithOps{
	il.NEG: {cvm.COP_INEG, cvm.COP_LNEG, cvm.COP_FNEG},
	il.NOT: {cvm.COP_INOT, cvm.COP_LNOT, cvm.COP_NOP},
}

func (c *Coder) unsupported(what string, op il.Opcode, types ...il.EngineType) {
	c.fail(fmt.Errorf("%s %s %v: %w", what, op, types, cvmerrors.ErrUnsupportedType))
}

// nativeOp picks the width used for native int arithmetic.
func (c *Coder) nativeOp(ops arithOps) cvm.Opcode {
	if c.layout.Is64() {
		return ops.l
	}
	return ops.i
}

// normalizeNative widens an I4 operand of a mixed I4/I pair to native int.
// t1 is the deeper operand.
func (c *Coder) normalizeNative(t1, t2 il.EngineType) {
	if t1 == il.EngineI4 && t2 != il.EngineI4 {
		c.opByte(cvm.COP_PREFIX_I2P_LOWER, 1, 0)
	}
	if t2 == il.EngineI4 && t1 != il.EngineI4 {
		c.opByte(cvm.COP_PREFIX_I2P_LOWER, 0, 0)
	}
}

func isNativeLike(t il.EngineType) bool {
	return t == il.EngineI || t == il.EngineI4
}

// Binary emits a two operand arithmetic or logical operator. t1 is the type
// of the deeper operand.
func (c *Coder) Binary(op il.Opcode, t1, t2 il.EngineType) {
	if t1.IsPointer() || t2.IsPointer() {
		c.BinaryPtr(op, t1, t2)
		return
	}
	ops, ok := binaryOps[op]
	if !ok {
		c.unsupported("binary", op, t1, t2)
		return
	}
	var cop cvm.Opcode
	switch {
	case t1 == il.EngineI4 && t2 == il.EngineI4:
		cop = ops.i
	case t1 == il.EngineI8 && t2 == il.EngineI8:
		cop = ops.l
	case t1 == il.EngineF && t2 == il.EngineF:
		cop = ops.f
	case isNativeLike(t1) && isNativeLike(t2):
		c.normalizeNative(t1, t2)
		cop, t1 = c.nativeOp(ops), il.EngineI
	}
	if cop == cvm.COP_NOP {
		c.unsupported("binary", op, t1, t2)
		return
	}
	c.op(cop, -c.engineWords(t1))
}

// BinaryPtr emits pointer arithmetic. Pointers combine with I4 or native int
// offsets; the difference of two pointers is a native int. Other operators on
// pointers treat them as native ints.
func (c *Coder) BinaryPtr(op il.Opcode, t1, t2 il.EngineType) {
	p1, p2 := t1.IsPointer(), t2.IsPointer()
	wide := c.layout.Is64()
	pick := func(i4, native cvm.Opcode, t il.EngineType) cvm.Opcode {
		if t == il.EngineI4 || !wide {
			return i4
		}
		return native
	}
	switch {
	case op == il.ADD && p1 && isNativeLike(t2):
		c.op(pick(cvm.COP_PADD_I4, cvm.COP_PADD_I8, t2), -1)
	case op == il.ADD && p2 && isNativeLike(t1):
		c.op(pick(cvm.COP_PADD_I4_R, cvm.COP_PADD_I8_R, t1), -1)
	case op == il.SUB && p1 && p2:
		c.op(cvm.COP_PSUB, -1)
	case op == il.SUB && p1 && isNativeLike(t2):
		c.op(pick(cvm.COP_PSUB_I4, cvm.COP_PSUB_I8, t2), -1)
	default:
		ops, ok := binaryOps[op]
		if !ok {
			c.unsupported("pointer binary", op, t1, t2)
			return
		}
		if p1 {
			t1 = il.EngineI
		}
		if p2 {
			t2 = il.EngineI
		}
		if !isNativeLike(t1) || !isNativeLike(t2) {
			c.unsupported("pointer binary", op, t1, t2)
			return
		}
		c.normalizeNative(t1, t2)
		if cop := c.nativeOp(ops); cop != cvm.COP_NOP {
			c.op(cop, -1)
			return
		}
		c.unsupported("pointer binary", op, t1, t2)
	}
}

// Shift emits shl/shr/shr.un. The shift count is narrowed to I4 first.
func (c *Coder) Shift(op il.Opcode, value, count il.EngineType) {
	ops, ok := shiftOps[op]
	if !ok {
		c.unsupported("shift", op, value, count)
		return
	}
	switch count {
	case il.EngineI4:
	case il.EngineI:
		if c.layout.Is64() {
			c.op(cvm.COP_L2I, 0)
		}
	default:
		c.unsupported("shift count", op, value, count)
		return
	}
	switch value {
	case il.EngineI4:
		c.op(ops.i, -1)
	case il.EngineI8:
		c.op(ops.l, -1)
	case il.EngineI:
		c.op(c.nativeOp(ops), -1)
	default:
		c.unsupported("shift", op, value, count)
	}
}

// Unary emits neg and not.
func (c *Coder) Unary(op il.Opcode, t il.EngineType) {
	ops, ok := unaryOps[op]
	if !ok {
		c.unsupported("unary", op, t)
		return
	}
	var cop cvm.Opcode
	switch t {
	case il.EngineI4:
		cop = ops.i
	case il.EngineI8:
		cop = ops.l
	case il.EngineF:
		cop = ops.f
	case il.EngineI:
		cop = c.nativeOp(ops)
	}
	if cop == cvm.COP_NOP {
		c.unsupported("unary", op, t)
		return
	}
	c.op(cop, 0)
}

// compareKind describes how a CIL comparison is lowered onto a three way
// compare. nanLess selects FCMPL, which yields -1 for unordered operands.
type compareKind struct {
	set      cvm.Opcode // SETxx applied to the three way result
	branch   cvm.Opcode // I4 branch used for I4 operands directly
	rel      cvm.Opcode // I4 branch applied to the three way result against 0
	unsigned bool
	nanLess  bool
}

var compareKinds = map[il.Opcode]compareKind{
	il.CEQ:    {set: cvm.COP_SETEQ, nanLess: true},
	il.CGT:    {set: cvm.COP_SETGT, nanLess: true},
	il.CGT_UN: {set: cvm.COP_SETGT, unsigned: true},
	il.CLT:    {set: cvm.COP_SETLT},
	il.CLT_UN: {set: cvm.COP_SETLT, unsigned: true, nanLess: true},

	il.BEQ:    {branch: cvm.COP_BEQ, rel: cvm.COP_BEQ, nanLess: true},
	il.BNE_UN: {branch: cvm.COP_BNE, rel: cvm.COP_BNE, unsigned: true, nanLess: true},
	il.BLT:    {branch: cvm.COP_BLT, rel: cvm.COP_BLT},
	il.BLT_UN: {branch: cvm.COP_BLT_UN, rel: cvm.COP_BLT, unsigned: true, nanLess: true},
	il.BLE:    {branch: cvm.COP_BLE, rel: cvm.COP_BLE},
	il.BLE_UN: {branch: cvm.COP_BLE_UN, rel: cvm.COP_BLE, unsigned: true, nanLess: true},
	il.BGT:    {branch: cvm.COP_BGT, rel: cvm.COP_BGT, nanLess: true},
	il.BGT_UN: {branch: cvm.COP_BGT_UN, rel: cvm.COP_BGT, unsigned: true},
	il.BGE:    {branch: cvm.COP_BGE, rel: cvm.COP_BGE, nanLess: true},
	il.BGE_UN: {branch: cvm.COP_BGE_UN, rel: cvm.COP_BGE, unsigned: true},
}

// threeWay emits the compare that reduces two operands to an I4 of -1, 0
// or 1. Pointer and native int operands compare in the managed pointer
// category when either side is a pointer.
func (c *Coder) threeWay(op il.Opcode, k compareKind, t1, t2 il.EngineType) bool {
	var cop cvm.Opcode
	switch {
	case t1 == il.EngineI4 && t2 == il.EngineI4:
		cop = cvm.COP_ICMP
		if k.unsigned {
			cop = cvm.COP_ICMP_UN
		}
	case t1 == il.EngineI8 && t2 == il.EngineI8:
		cop = cvm.COP_LCMP
		if k.unsigned {
			cop = cvm.COP_LCMP_UN
		}
	case t1 == il.EngineF && t2 == il.EngineF:
		cop = cvm.COP_FCMPG
		if k.nanLess {
			cop = cvm.COP_FCMPL
		}
	case (t1.IsPointer() || isNativeLike(t1)) && (t2.IsPointer() || isNativeLike(t2)):
		c.normalizeNative(t1, t2)
		switch {
		case t1.IsPointer() || t2.IsPointer():
			cop = cvm.COP_PCMP
		case c.layout.Is64() && k.unsigned:
			cop = cvm.COP_LCMP_UN
		case c.layout.Is64():
			cop = cvm.COP_LCMP
		case k.unsigned:
			cop = cvm.COP_ICMP_UN
		default:
			cop = cvm.COP_ICMP
		}
		t1, t2 = il.EngineI, il.EngineI
	default:
		c.unsupported("compare", op, t1, t2)
		return false
	}
	c.op(cop, 1-c.engineWords(t1)-c.engineWords(t2))
	return true
}

// Compare emits ceq/cgt/cgt.un/clt/clt.un, leaving an I4 0 or 1.
func (c *Coder) Compare(op il.Opcode, t1, t2 il.EngineType) {
	k, ok := compareKinds[op]
	if !ok || k.set == cvm.COP_NOP {
		c.unsupported("compare", op, t1, t2)
		return
	}
	if c.threeWay(op, k, t1, t2) {
		c.op(k.set, 0)
	}
}

// convTable lists, per target, the conversion sequence from an I4, an I8
// and an F source.
var convTable = map[il.Opcode][3][]cvm.Opcode{
	il.CONV_I1:   {{cvm.COP_I2B}, {cvm.COP_L2I, cvm.COP_I2B}, {cvm.COP_F2I, cvm.COP_I2B}},
	il.CONV_U1:   {{cvm.COP_I2UB}, {cvm.COP_L2I, cvm.COP_I2UB}, {cvm.COP_F2I, cvm.COP_I2UB}},
	il.CONV_I2:   {{cvm.COP_I2S}, {cvm.COP_L2I, cvm.COP_I2S}, {cvm.COP_F2I, cvm.COP_I2S}},
	il.CONV_U2:   {{cvm.COP_I2US}, {cvm.COP_L2I, cvm.COP_I2US}, {cvm.COP_F2I, cvm.COP_I2US}},
	il.CONV_I4:   {{}, {cvm.COP_L2I}, {cvm.COP_F2I}},
	il.CONV_U4:   {{}, {cvm.COP_L2I}, {cvm.COP_F2IU}},
	il.CONV_I8:   {{cvm.COP_I2L}, {}, {cvm.COP_F2L}},
	il.CONV_U8:   {{cvm.COP_IU2L}, {}, {cvm.COP_F2LU}},
	il.CONV_R4:   {{cvm.COP_I2F, cvm.COP_F2F}, {cvm.COP_L2F, cvm.COP_F2F}, {cvm.COP_F2F}},
	il.CONV_R8:   {{cvm.COP_I2F}, {cvm.COP_L2F}, {}},
	il.CONV_R_UN: {{cvm.COP_IU2F}, {cvm.COP_LU2F}, {}},

	il.CONV_OVF_I1: {{cvm.COP_PREFIX_I2B_OVF}, {cvm.COP_PREFIX_L2I_OVF, cvm.COP_PREFIX_I2B_OVF}, {cvm.COP_PREFIX_F2I_OVF, cvm.COP_PREFIX_I2B_OVF}},
	il.CONV_OVF_U1: {{cvm.COP_PREFIX_I2UB_OVF}, {cvm.COP_PREFIX_L2I_OVF, cvm.COP_PREFIX_I2UB_OVF}, {cvm.COP_PREFIX_F2I_OVF, cvm.COP_PREFIX_I2UB_OVF}},
	il.CONV_OVF_I2: {{cvm.COP_PREFIX_I2S_OVF}, {cvm.COP_PREFIX_L2I_OVF, cvm.COP_PREFIX_I2S_OVF}, {cvm.COP_PREFIX_F2I_OVF, cvm.COP_PREFIX_I2S_OVF}},
	il.CONV_OVF_U2: {{cvm.COP_PREFIX_I2US_OVF}, {cvm.COP_PREFIX_L2I_OVF, cvm.COP_PREFIX_I2US_OVF}, {cvm.COP_PREFIX_F2I_OVF, cvm.COP_PREFIX_I2US_OVF}},
	il.CONV_OVF_I4: {{}, {cvm.COP_PREFIX_L2I_OVF}, {cvm.COP_PREFIX_F2I_OVF}},
	il.CONV_OVF_U4: {{cvm.COP_PREFIX_I2IU_OVF}, {cvm.COP_PREFIX_L2UI_OVF}, {cvm.COP_PREFIX_F2IU_OVF}},
	il.CONV_OVF_I8: {{cvm.COP_I2L}, {}, {cvm.COP_PREFIX_F2L_OVF}},
	il.CONV_OVF_U8: {{cvm.COP_PREFIX_I2UL_OVF}, {cvm.COP_PREFIX_L2UL_OVF}, {cvm.COP_PREFIX_F2LU_OVF}},

	il.CONV_OVF_I1_UN: {{cvm.COP_PREFIX_IU2B_OVF}, {cvm.COP_PREFIX_LU2IU_OVF, cvm.COP_PREFIX_IU2B_OVF}, {cvm.COP_PREFIX_F2I_OVF, cvm.COP_PREFIX_I2B_OVF}},
	il.CONV_OVF_U1_UN: {{cvm.COP_PREFIX_IU2UB_OVF}, {cvm.COP_PREFIX_LU2IU_OVF, cvm.COP_PREFIX_IU2UB_OVF}, {cvm.COP_PREFIX_F2I_OVF, cvm.COP_PREFIX_I2UB_OVF}},
	il.CONV_OVF_I2_UN: {{cvm.COP_PREFIX_IU2S_OVF}, {cvm.COP_PREFIX_LU2IU_OVF, cvm.COP_PREFIX_IU2S_OVF}, {cvm.COP_PREFIX_F2I_OVF, cvm.COP_PREFIX_I2S_OVF}},
	il.CONV_OVF_U2_UN: {{cvm.COP_PREFIX_IU2US_OVF}, {cvm.COP_PREFIX_LU2IU_OVF, cvm.COP_PREFIX_IU2US_OVF}, {cvm.COP_PREFIX_F2I_OVF, cvm.COP_PREFIX_I2US_OVF}},
	il.CONV_OVF_I4_UN: {{cvm.COP_PREFIX_IU2I_OVF}, {cvm.COP_PREFIX_LU2I_OVF}, {cvm.COP_PREFIX_F2I_OVF}},
	il.CONV_OVF_U4_UN: {{}, {cvm.COP_PREFIX_LU2IU_OVF}, {cvm.COP_PREFIX_F2IU_OVF}},
	il.CONV_OVF_I8_UN: {{cvm.COP_IU2L}, {cvm.COP_PREFIX_LU2L_OVF}, {cvm.COP_PREFIX_F2L_OVF}},
	il.CONV_OVF_U8_UN: {{cvm.COP_IU2L}, {}, {cvm.COP_PREFIX_F2LU_OVF}},
}

// nativeConv maps the native int conversions onto their fixed width
// equivalent for the layout.
func (c *Coder) nativeConv(op il.Opcode) il.Opcode {
	wide := c.layout.Is64()
	pick := func(narrow, w il.Opcode) il.Opcode {
		if wide {
			return w
		}
		return narrow
	}
	switch op {
	case il.CONV_I:
		return pick(il.CONV_I4, il.CONV_I8)
	case il.CONV_U:
		return pick(il.CONV_U4, il.CONV_U8)
	case il.CONV_OVF_I:
		return pick(il.CONV_OVF_I4, il.CONV_OVF_I8)
	case il.CONV_OVF_U:
		return pick(il.CONV_OVF_U4, il.CONV_OVF_U8)
	case il.CONV_OVF_I_UN:
		return pick(il.CONV_OVF_I4_UN, il.CONV_OVF_I8_UN)
	case il.CONV_OVF_U_UN:
		return pick(il.CONV_OVF_U4_UN, il.CONV_OVF_U8_UN)
	}
	return op
}

// convResult is the engine type a conversion leaves on the stack.
func convResult(op il.Opcode) il.EngineType {
	switch op {
	case il.CONV_I8, il.CONV_U8, il.CONV_OVF_I8, il.CONV_OVF_U8, il.CONV_OVF_I8_UN, il.CONV_OVF_U8_UN:
		return il.EngineI8
	case il.CONV_R4, il.CONV_R8, il.CONV_R_UN:
		return il.EngineF
	case il.CONV_I, il.CONV_U, il.CONV_OVF_I, il.CONV_OVF_U, il.CONV_OVF_I_UN, il.CONV_OVF_U_UN:
		return il.EngineI
	}
	return il.EngineI4
}

// Conv emits a conv or conv.ovf instruction applied to a value of type from.
func (c *Coder) Conv(op il.Opcode, from il.EngineType) {
	seqs, ok := convTable[c.nativeConv(op)]
	if !ok {
		c.unsupported("conv", op, from)
		return
	}
	src := from
	if from == il.EngineI || from.IsPointer() {
		src = il.EngineI4
		if c.layout.Is64() {
			src = il.EngineI8
		}
	}
	var seq []cvm.Opcode
	switch src {
	case il.EngineI4:
		seq = seqs[0]
	case il.EngineI8:
		seq = seqs[1]
	case il.EngineF:
		seq = seqs[2]
	default:
		c.unsupported("conv", op, from)
		return
	}
	for _, cop := range seq {
		c.op(cop, 0)
	}
	c.adjust(c.engineWords(convResult(op)) - c.engineWords(src))
}

// ToPointer widens an I4 at depth words below the top to native int, for
// I4 values used where a pointer sized operand is expected.
func (c *Coder) ToPointer(t il.EngineType, depth uint32) {
	if t == il.EngineI4 {
		c.opByte(cvm.COP_PREFIX_I2P_LOWER, depth, 0)
	}
}

// CheckFinite is ckfinite.
func (c *Coder) CheckFinite() {
	c.op(cvm.COP_PREFIX_CKFINITE, 0)
}
