package engine

import (
	"math"

	"github.com/colorfulnotion/cvm/cvm"
)

const (
	two31 = 2147483648.0
	two32 = 4294967296.0
	two63 = 9223372036854775808.0
	two64 = 18446744073709551616.0
)

// TruncInt64 converts f the way the hardware's truncating conversion does:
// NaN and out of range values produce math.MinInt64. Unrolled code and the
// interpreter share these rules.
func TruncInt64(f float64) int64 {
	if f != f || f >= two63 || f < -two63 {
		return math.MinInt64
	}
	return int64(f)
}

// TruncInt32 is TruncInt64 for 32-bit results.
func TruncInt32(f float64) int32 {
	if f != f || f >= two31 || f <= -two31-1 {
		return math.MinInt32
	}
	return int32(f)
}

// TruncUint64 converts values at or above 2^63 through the biased range.
func TruncUint64(f float64) uint64 {
	if f >= two63 && f < two64 {
		return uint64(TruncInt64(f-two63)) ^ (1 << 63)
	}
	return uint64(TruncInt64(f))
}

func i4conv(f func(v int32) int32) execFunc {
	return func(t *Thread, pc int) int {
		t.poke(0, uint64(int64(f(int32(t.peek(0))))))
		return pc + 1
	}
}

func wordConv(f func(w uint64) uint64) execFunc {
	return func(t *Thread, pc int) int {
		t.poke(0, f(t.peek(0)))
		return pc + 1
	}
}

// checked wraps a prefixed conversion that raises OverflowException when
// ok rejects the operand.
func checked(ok func(w uint64) bool, f func(w uint64) uint64) execFunc {
	return func(t *Thread, pc int) int {
		w := t.peek(0)
		if !ok(w) {
			overflow()
		}
		t.poke(0, f(w))
		return pc + cvm.CVMP_LEN_NONE
	}
}

func asI4(w uint64) uint64     { return uint64(int64(int32(w))) }
func identity(w uint64) uint64 { return w }
func fbits(w uint64) float64   { return math.Float64frombits(w) }

func i4In(lo, hi int64) func(uint64) bool {
	return func(w uint64) bool { v := int64(int32(w)); return v >= lo && v <= hi }
}

func u4Below(hi uint32) func(uint64) bool {
	return func(w uint64) bool { return uint32(w) <= hi }
}

func convOps() map[cvm.Opcode]execFunc {
	ops := map[cvm.Opcode]execFunc{
		cvm.COP_I2B:  i4conv(func(v int32) int32 { return int32(int8(v)) }),
		cvm.COP_I2UB: i4conv(func(v int32) int32 { return int32(uint8(v)) }),
		cvm.COP_I2S:  i4conv(func(v int32) int32 { return int32(int16(v)) }),
		cvm.COP_I2US: i4conv(func(v int32) int32 { return int32(uint16(v)) }),
		cvm.COP_I2L:  wordConv(asI4),
		cvm.COP_IU2L: wordConv(func(w uint64) uint64 { return uint64(uint32(w)) }),
		cvm.COP_L2I:  wordConv(asI4),
		cvm.COP_I2F:  wordConv(func(w uint64) uint64 { return math.Float64bits(float64(int32(w))) }),
		cvm.COP_IU2F: wordConv(func(w uint64) uint64 { return math.Float64bits(float64(uint32(w))) }),
		cvm.COP_L2F:  wordConv(func(w uint64) uint64 { return math.Float64bits(float64(int64(w))) }),
		cvm.COP_LU2F: wordConv(func(w uint64) uint64 { return math.Float64bits(float64(w)) }),
		cvm.COP_F2I:  wordConv(func(w uint64) uint64 { return uint64(int64(TruncInt32(fbits(w)))) }),
		cvm.COP_F2IU: wordConv(func(w uint64) uint64 { return asI4(uint64(TruncInt64(fbits(w)))) }),
		cvm.COP_F2L:  wordConv(func(w uint64) uint64 { return uint64(TruncInt64(fbits(w))) }),
		cvm.COP_F2LU: wordConv(func(w uint64) uint64 { return TruncUint64(fbits(w)) }),
		cvm.COP_F2F: wordConv(func(w uint64) uint64 {
			return math.Float64bits(float64(float32(fbits(w))))
		}),
		cvm.COP_F2D: wordConv(identity),

		cvm.COP_PREFIX_I2B_OVF:   checked(i4In(math.MinInt8, math.MaxInt8), asI4),
		cvm.COP_PREFIX_I2UB_OVF:  checked(i4In(0, math.MaxUint8), asI4),
		cvm.COP_PREFIX_I2S_OVF:   checked(i4In(math.MinInt16, math.MaxInt16), asI4),
		cvm.COP_PREFIX_I2US_OVF:  checked(i4In(0, math.MaxUint16), asI4),
		cvm.COP_PREFIX_I2IU_OVF:  checked(i4In(0, math.MaxInt32), asI4),
		cvm.COP_PREFIX_I2UL_OVF:  checked(i4In(0, math.MaxInt32), asI4),
		cvm.COP_PREFIX_IU2B_OVF:  checked(u4Below(math.MaxInt8), asI4),
		cvm.COP_PREFIX_IU2UB_OVF: checked(u4Below(math.MaxUint8), asI4),
		cvm.COP_PREFIX_IU2S_OVF:  checked(u4Below(math.MaxInt16), asI4),
		cvm.COP_PREFIX_IU2US_OVF: checked(u4Below(math.MaxUint16), asI4),
		cvm.COP_PREFIX_IU2I_OVF:  checked(u4Below(math.MaxInt32), asI4),
		cvm.COP_PREFIX_L2I_OVF: checked(func(w uint64) bool {
			return int64(w) >= math.MinInt32 && int64(w) <= math.MaxInt32
		}, asI4),
		cvm.COP_PREFIX_L2UI_OVF: checked(func(w uint64) bool {
			return int64(w) >= 0 && int64(w) <= math.MaxUint32
		}, asI4),
		cvm.COP_PREFIX_L2UL_OVF:  checked(func(w uint64) bool { return int64(w) >= 0 }, identity),
		cvm.COP_PREFIX_LU2I_OVF:  checked(func(w uint64) bool { return w <= math.MaxInt32 }, asI4),
		cvm.COP_PREFIX_LU2IU_OVF: checked(func(w uint64) bool { return w <= math.MaxUint32 }, asI4),
		cvm.COP_PREFIX_LU2L_OVF:  checked(func(w uint64) bool { return w <= math.MaxInt64 }, identity),
		cvm.COP_PREFIX_F2I_OVF: checked(func(w uint64) bool {
			f := fbits(w)
			return f > -two31-1 && f < two31
		}, func(w uint64) uint64 { return uint64(int64(int32(fbits(w)))) }),
		cvm.COP_PREFIX_F2IU_OVF: checked(func(w uint64) bool {
			f := fbits(w)
			return f > -1 && f < two32
		}, func(w uint64) uint64 { return asI4(uint64(uint32(fbits(w)))) }),
		cvm.COP_PREFIX_F2L_OVF: checked(func(w uint64) bool {
			f := fbits(w)
			return f >= -two63 && f < two63
		}, func(w uint64) uint64 { return uint64(int64(fbits(w))) }),
		cvm.COP_PREFIX_F2LU_OVF: checked(func(w uint64) bool {
			f := fbits(w)
			return f > -1 && f < two64
		}, func(w uint64) uint64 { return TruncUint64(fbits(w)) }),
		cvm.COP_PREFIX_CKFINITE: func(t *Thread, pc int) int {
			if f := fbits(t.peek(0)); math.IsNaN(f) || math.IsInf(f, 0) {
				throwFault(ClassArithmetic, "number is not finite")
			}
			return pc + cvm.CVMP_LEN_NONE
		},
		cvm.COP_PREFIX_I2P_LOWER: func(t *Thread, pc int) int {
			depth := int(cvm.ArgByte(t.code, pc+1))
			t.poke(depth, asI4(t.peek(depth)))
			return pc + cvm.CVMP_LEN_BYTE
		},

		cvm.COP_LDNULL: func(t *Thread, pc int) int {
			t.push(0)
			return pc + 1
		},
		cvm.COP_LDC_I4_S: func(t *Thread, pc int) int {
			t.pushI4(cvm.ArgSByte(t.code, pc))
			return pc + cvm.CVM_LEN_BYTE
		},
		cvm.COP_LDC_I4: func(t *Thread, pc int) int {
			t.pushI4(cvm.ArgInt(t.code, pc))
			return pc + cvm.CVM_LEN_WORD
		},
		cvm.COP_LDC_I8: func(t *Thread, pc int) int {
			t.push(uint64(cvm.ArgLong(t.code, pc)))
			return pc + cvm.CVM_LEN_LONG
		},
		cvm.COP_LDC_R4: func(t *Thread, pc int) int {
			t.push(math.Float64bits(float64(cvm.ArgFloat(t.code, pc))))
			return pc + cvm.CVM_LEN_FLOAT
		},
		cvm.COP_LDC_R8: func(t *Thread, pc int) int {
			t.push(math.Float64bits(cvm.ArgDouble(t.code, pc)))
			return pc + cvm.CVM_LEN_DOUBLE
		},
	}
	for op := cvm.COP_LDC_I4_M1; op <= cvm.COP_LDC_I4_8; op++ {
		v := int32(op-cvm.COP_LDC_I4_M1) - 1
		ops[op] = func(t *Thread, pc int) int {
			t.pushI4(v)
			return pc + 1
		}
	}
	return ops
}
