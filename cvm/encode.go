package cvm

import (
	"encoding/binary"
	"math"
)

// AppendOp appends a bare opcode, with COP_PREFIX for prefixed opcodes.
func AppendOp(dst []byte, op Opcode) []byte {
	if op.IsPrefixed() {
		return append(dst, byte(COP_PREFIX), op.Sub())
	}
	return append(dst, byte(op))
}

// AppendLocal appends a local-variable style instruction, choosing the
// implicit _0.._3 form, the compact n8 form or the COP_WIDE n32 form from
// the value of n.
func AppendLocal(dst []byte, op Opcode, n uint32) []byte {
	if short, ok := ShortLocal(op, n); ok {
		return append(dst, byte(short))
	}
	return AppendByteArg(dst, op, n)
}

// AppendByteArg appends a ShapeByte instruction, widening when n > 255.
func AppendByteArg(dst []byte, op Opcode, n uint32) []byte {
	if op.IsPrefixed() {
		return append(AppendOp(dst, op), byte(n))
	}
	if n <= 0xFF {
		return append(dst, byte(op), byte(n))
	}
	dst = append(dst, byte(COP_WIDE), byte(op))
	return binary.LittleEndian.AppendUint32(dst, n)
}

// AppendByte2 appends a ShapeByte2 instruction, widening when either operand
// does not fit in a byte.
func AppendByte2(dst []byte, op Opcode, a, b uint32) []byte {
	if a <= 0xFF && b <= 0xFF {
		return append(dst, byte(op), byte(a), byte(b))
	}
	dst = append(dst, byte(COP_WIDE), byte(op))
	dst = binary.LittleEndian.AppendUint32(dst, a)
	return binary.LittleEndian.AppendUint32(dst, b)
}

func AppendSByte(dst []byte, op Opcode, v int8) []byte {
	return append(AppendOp(dst, op), byte(v))
}

func AppendWord(dst []byte, op Opcode, w uint32) []byte {
	return binary.LittleEndian.AppendUint32(AppendOp(dst, op), w)
}

func AppendWord2(dst []byte, op Opcode, w1, w2 uint32) []byte {
	dst = binary.LittleEndian.AppendUint32(AppendOp(dst, op), w1)
	return binary.LittleEndian.AppendUint32(dst, w2)
}

func AppendLong(dst []byte, op Opcode, v int64) []byte {
	return binary.LittleEndian.AppendUint64(AppendOp(dst, op), uint64(v))
}

func AppendFloat(dst []byte, op Opcode, v float32) []byte {
	return binary.LittleEndian.AppendUint32(AppendOp(dst, op), math.Float32bits(v))
}

func AppendDouble(dst []byte, op Opcode, v float64) []byte {
	return binary.LittleEndian.AppendUint64(AppendOp(dst, op), math.Float64bits(v))
}

func appendPtrValue(dst []byte, p uint64, l Layout) []byte {
	if l.PtrSize == 8 {
		return binary.LittleEndian.AppendUint64(dst, p)
	}
	return binary.LittleEndian.AppendUint32(dst, uint32(p))
}

func AppendPtr(dst []byte, op Opcode, p uint64, l Layout) []byte {
	return appendPtrValue(AppendOp(dst, op), p, l)
}

func AppendPtrWord(dst []byte, op Opcode, p uint64, w uint32, l Layout) []byte {
	dst = appendPtrValue(AppendOp(dst, op), p, l)
	return binary.LittleEndian.AppendUint32(dst, w)
}

func AppendPtrByte(dst []byte, op Opcode, p uint64, b byte, l Layout) []byte {
	return append(appendPtrValue(AppendOp(dst, op), p, l), b)
}

func AppendWord2Ptr(dst []byte, op Opcode, w1, w2 uint32, p uint64, l Layout) []byte {
	return appendPtrValue(AppendWord2(dst, op, w1, w2), p, l)
}

// FitsShortBranch reports whether rel can use the rel8 branch form.
func FitsShortBranch(rel int) bool {
	return rel >= math.MinInt8 && rel <= math.MaxInt8
}

// AppendBranch appends a CVM_LEN_BRANCH sized branch with displacement rel,
// measured from the first byte of the instruction.
func AppendBranch(dst []byte, op Opcode, rel int) []byte {
	if FitsShortBranch(rel) {
		return append(dst, byte(op), byte(int8(rel)), 0, 0, 0, 0)
	}
	dst = append(dst, byte(COP_BR_LONG), byte(op))
	return binary.LittleEndian.AppendUint32(dst, uint32(int32(rel)))
}

// AppendLongBranch appends a branch in long form. Used for forward branches
// whose target is not yet known.
func AppendLongBranch(dst []byte, op Opcode, rel int) []byte {
	dst = append(dst, byte(COP_BR_LONG), byte(op))
	return binary.LittleEndian.AppendUint32(dst, uint32(int32(rel)))
}

// PatchBranch rewrites the branch at code[0:CVM_LEN_BRANCH] in place with a
// new displacement, relaxing to the short form when it fits.
func PatchBranch(code []byte, rel int) {
	op := code[0]
	if Opcode(op) == COP_BR_LONG {
		op = code[1]
	}
	if FitsShortBranch(rel) {
		code[0] = op
		code[1] = byte(int8(rel))
		code[2], code[3], code[4], code[5] = 0, 0, 0, 0
		return
	}
	code[0] = byte(COP_BR_LONG)
	code[1] = op
	binary.LittleEndian.PutUint32(code[2:], uint32(int32(rel)))
}

// PutWord overwrites a 32-bit operand in place.
func PutWord(code []byte, w uint32) {
	binary.LittleEndian.PutUint32(code, w)
}
