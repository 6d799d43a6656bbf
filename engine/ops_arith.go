package engine

import (
	"math"
	"math/bits"

	"github.com/colorfulnotion/cvm/cvm"
	"golang.org/x/exp/constraints"
)

func i4op(f func(a, b int32) int32) execFunc {
	return func(t *Thread, pc int) int {
		b := t.popI4()
		t.poke(0, uint64(int64(f(int32(t.peek(0)), b))))
		return pc + 1
	}
}

func i8op(f func(a, b uint64) uint64) execFunc {
	return func(t *Thread, pc int) int {
		b := t.pop()
		t.poke(0, f(t.peek(0), b))
		return pc + 1
	}
}

func fop(f func(a, b float64) float64) execFunc {
	return func(t *Thread, pc int) int {
		b := math.Float64frombits(t.pop())
		t.poke(0, math.Float64bits(f(math.Float64frombits(t.peek(0)), b)))
		return pc + 1
	}
}

func overflow() {
	throwFault(ClassOverflow, "arithmetic operation resulted in an overflow")
}

func divisor32(b int32, a int32) {
	if b == 0 {
		throwFault(ClassDivideByZero, "attempted to divide by zero")
	}
	if b == -1 && a == math.MinInt32 {
		throwFault(ClassArithmetic, "arithmetic operation resulted in an overflow")
	}
}

func divisor64(b int64, a int64) {
	if b == 0 {
		throwFault(ClassDivideByZero, "attempted to divide by zero")
	}
	if b == -1 && a == math.MinInt64 {
		throwFault(ClassArithmetic, "arithmetic operation resulted in an overflow")
	}
}

func arithOps() map[cvm.Opcode]execFunc {
	return map[cvm.Opcode]execFunc{
		cvm.COP_IADD: i4op(func(a, b int32) int32 { return a + b }),
		cvm.COP_IADD_OVF: i4op(func(a, b int32) int32 {
			r := int64(a) + int64(b)
			if r != int64(int32(r)) {
				overflow()
			}
			return int32(r)
		}),
		cvm.COP_IADD_OVF_UN: i4op(func(a, b int32) int32 {
			r, carry := bits.Add32(uint32(a), uint32(b), 0)
			if carry != 0 {
				overflow()
			}
			return int32(r)
		}),
		cvm.COP_ISUB: i4op(func(a, b int32) int32 { return a - b }),
		cvm.COP_ISUB_OVF: i4op(func(a, b int32) int32 {
			r := int64(a) - int64(b)
			if r != int64(int32(r)) {
				overflow()
			}
			return int32(r)
		}),
		cvm.COP_ISUB_OVF_UN: i4op(func(a, b int32) int32 {
			if uint32(a) < uint32(b) {
				overflow()
			}
			return int32(uint32(a) - uint32(b))
		}),
		cvm.COP_IMUL: i4op(func(a, b int32) int32 { return a * b }),
		cvm.COP_IMUL_OVF: i4op(func(a, b int32) int32 {
			r := int64(a) * int64(b)
			if r != int64(int32(r)) {
				overflow()
			}
			return int32(r)
		}),
		cvm.COP_IMUL_OVF_UN: i4op(func(a, b int32) int32 {
			r := uint64(uint32(a)) * uint64(uint32(b))
			if r > math.MaxUint32 {
				overflow()
			}
			return int32(r)
		}),
		cvm.COP_IDIV: i4op(func(a, b int32) int32 {
			divisor32(b, a)
			return a / b
		}),
		cvm.COP_IDIV_UN: i4op(func(a, b int32) int32 {
			divisor32(b, 0)
			return int32(uint32(a) / uint32(b))
		}),
		cvm.COP_IREM: i4op(func(a, b int32) int32 {
			divisor32(b, a)
			return a % b
		}),
		cvm.COP_IREM_UN: i4op(func(a, b int32) int32 {
			divisor32(b, 0)
			return int32(uint32(a) % uint32(b))
		}),
		cvm.COP_INEG: func(t *Thread, pc int) int {
			t.poke(0, uint64(int64(-int32(t.peek(0)))))
			return pc + 1
		},

		cvm.COP_LADD: i8op(func(a, b uint64) uint64 { return a + b }),
		cvm.COP_LADD_OVF: i8op(func(a, b uint64) uint64 {
			r := int64(a) + int64(b)
			if (int64(a) >= 0) == (int64(b) >= 0) && (r >= 0) != (int64(a) >= 0) {
				overflow()
			}
			return uint64(r)
		}),
		cvm.COP_LADD_OVF_UN: i8op(func(a, b uint64) uint64 {
			r, carry := bits.Add64(a, b, 0)
			if carry != 0 {
				overflow()
			}
			return r
		}),
		cvm.COP_LSUB: i8op(func(a, b uint64) uint64 { return a - b }),
		cvm.COP_LSUB_OVF: i8op(func(a, b uint64) uint64 {
			r := int64(a) - int64(b)
			if (int64(a) >= 0) != (int64(b) >= 0) && (r >= 0) != (int64(a) >= 0) {
				overflow()
			}
			return uint64(r)
		}),
		cvm.COP_LSUB_OVF_UN: i8op(func(a, b uint64) uint64 {
			r, borrow := bits.Sub64(a, b, 0)
			if borrow != 0 {
				overflow()
			}
			return r
		}),
		cvm.COP_LMUL: i8op(func(a, b uint64) uint64 { return a * b }),
		cvm.COP_LMUL_OVF: i8op(func(a, b uint64) uint64 {
			x, y := int64(a), int64(b)
			r := x * y
			if x != 0 && (r/x != y || (x == -1 && y == math.MinInt64)) {
				overflow()
			}
			return uint64(r)
		}),
		cvm.COP_LMUL_OVF_UN: i8op(func(a, b uint64) uint64 {
			hi, lo := bits.Mul64(a, b)
			if hi != 0 {
				overflow()
			}
			return lo
		}),
		cvm.COP_LDIV: i8op(func(a, b uint64) uint64 {
			divisor64(int64(b), int64(a))
			return uint64(int64(a) / int64(b))
		}),
		cvm.COP_LDIV_UN: i8op(func(a, b uint64) uint64 {
			divisor64(int64(b), 0)
			return a / b
		}),
		cvm.COP_LREM: i8op(func(a, b uint64) uint64 {
			divisor64(int64(b), int64(a))
			return uint64(int64(a) % int64(b))
		}),
		cvm.COP_LREM_UN: i8op(func(a, b uint64) uint64 {
			divisor64(int64(b), 0)
			return a % b
		}),
		cvm.COP_LNEG: func(t *Thread, pc int) int {
			t.poke(0, -t.peek(0))
			return pc + 1
		},

		cvm.COP_FADD: fop(func(a, b float64) float64 { return a + b }),
		cvm.COP_FSUB: fop(func(a, b float64) float64 { return a - b }),
		cvm.COP_FMUL: fop(func(a, b float64) float64 { return a * b }),
		cvm.COP_FDIV: fop(func(a, b float64) float64 { return a / b }),
		cvm.COP_FREM: fop(math.Mod),
		cvm.COP_FNEG: func(t *Thread, pc int) int {
			t.poke(0, t.peek(0)^(1<<63))
			return pc + 1
		},

		cvm.COP_IAND: i4op(func(a, b int32) int32 { return a & b }),
		cvm.COP_IOR:  i4op(func(a, b int32) int32 { return a | b }),
		cvm.COP_IXOR: i4op(func(a, b int32) int32 { return a ^ b }),
		cvm.COP_INOT: func(t *Thread, pc int) int {
			t.poke(0, uint64(int64(^int32(t.peek(0)))))
			return pc + 1
		},
		// shift counts are masked to the operand width
		cvm.COP_ISHL:    i4op(func(a, b int32) int32 { return a << (uint32(b) & 31) }),
		cvm.COP_ISHR:    i4op(func(a, b int32) int32 { return a >> (uint32(b) & 31) }),
		cvm.COP_ISHR_UN: i4op(func(a, b int32) int32 { return int32(uint32(a) >> (uint32(b) & 31)) }),
		cvm.COP_LAND:    i8op(func(a, b uint64) uint64 { return a & b }),
		cvm.COP_LOR:     i8op(func(a, b uint64) uint64 { return a | b }),
		cvm.COP_LXOR:    i8op(func(a, b uint64) uint64 { return a ^ b }),
		cvm.COP_LNOT: func(t *Thread, pc int) int {
			t.poke(0, ^t.peek(0))
			return pc + 1
		},
		cvm.COP_LSHL:    i8op(func(a, b uint64) uint64 { return a << (uint32(b) & 63) }),
		cvm.COP_LSHR:    i8op(func(a, b uint64) uint64 { return uint64(int64(a) >> (uint32(b) & 63)) }),
		cvm.COP_LSHR_UN: i8op(func(a, b uint64) uint64 { return a >> (uint32(b) & 63) }),

		cvm.COP_PADD_OFFSET: func(t *Thread, pc int) int {
			t.poke(0, t.peek(0)+uint64(cvm.ArgLocal(t.code, pc)))
			return pc + cvm.InstructionLength(t.code, pc, cvm.Layout64)
		},
		cvm.COP_PADD_OFFSET_N: func(t *Thread, pc int) int {
			depth, off := cvm.ArgLocal2(t.code, pc)
			t.poke(int(depth), t.peek(int(depth))+uint64(off))
			return pc + cvm.InstructionLength(t.code, pc, cvm.Layout64)
		},
		cvm.COP_PADD_I4:   i8op(func(p, i uint64) uint64 { return p + uint64(int64(int32(i))) }),
		cvm.COP_PADD_I4_R: i8op(func(i, p uint64) uint64 { return p + uint64(int64(int32(i))) }),
		cvm.COP_PADD_I8:   i8op(func(p, i uint64) uint64 { return p + i }),
		cvm.COP_PADD_I8_R: i8op(func(i, p uint64) uint64 { return p + i }),
		cvm.COP_PSUB:      i8op(func(a, b uint64) uint64 { return a - b }),
		cvm.COP_PSUB_I4:   i8op(func(p, i uint64) uint64 { return p - uint64(int64(int32(i))) }),
		cvm.COP_PSUB_I8:   i8op(func(p, i uint64) uint64 { return p - i }),

		cvm.COP_ICMP:    cmpOp(func(a, b uint64) int { return cmp3(int32(a), int32(b)) }),
		cvm.COP_ICMP_UN: cmpOp(func(a, b uint64) int { return cmp3(uint32(a), uint32(b)) }),
		cvm.COP_LCMP:    cmpOp(func(a, b uint64) int { return cmp3(int64(a), int64(b)) }),
		cvm.COP_LCMP_UN: cmpOp(func(a, b uint64) int { return cmp3(a, b) }),
		cvm.COP_PCMP:    cmpOp(func(a, b uint64) int { return cmp3(a, b) }),
		cvm.COP_FCMPL:   cmpOp(func(a, b uint64) int { return fcmp(a, b, -1) }),
		cvm.COP_FCMPG:   cmpOp(func(a, b uint64) int { return fcmp(a, b, 1) }),
		cvm.COP_SETEQ:   setOp(func(v int32) bool { return v == 0 }),
		cvm.COP_SETNE:   setOp(func(v int32) bool { return v != 0 }),
		cvm.COP_SETLT:   setOp(func(v int32) bool { return v < 0 }),
		cvm.COP_SETLE:   setOp(func(v int32) bool { return v <= 0 }),
		cvm.COP_SETGT:   setOp(func(v int32) bool { return v > 0 }),
		cvm.COP_SETGE:   setOp(func(v int32) bool { return v >= 0 }),
	}
}

func cmp3[T constraints.Integer](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// fcmp compares two native floats; unordered yields nan.
func fcmp(a, b uint64, nan int) int {
	x, y := math.Float64frombits(a), math.Float64frombits(b)
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	case x == y:
		return 0
	}
	return nan
}

func cmpOp(f func(a, b uint64) int) execFunc {
	return func(t *Thread, pc int) int {
		b := t.pop()
		t.poke(0, uint64(int64(f(t.peek(0), b))))
		return pc + 1
	}
}

func setOp(f func(v int32) bool) execFunc {
	return func(t *Thread, pc int) int {
		var r uint64
		if f(int32(t.peek(0))) {
			r = 1
		}
		t.poke(0, r)
		return pc + 1
	}
}
