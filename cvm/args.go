package cvm

import (
	"encoding/binary"
	"math"
)

// Operand decoders. pc is the position of the opcode byte; for prefixed
// instructions pass the position of the sub-opcode byte (pc+1). The caller
// knows the shape from the opcode: nothing here checks it.

func ArgByte(code []byte, pc int) uint32 { return uint32(code[pc+1]) }

func ArgSByte(code []byte, pc int) int32 { return int32(int8(code[pc+1])) }

func ArgByte2(code []byte, pc int) (uint32, uint32) {
	return uint32(code[pc+1]), uint32(code[pc+2])
}

func ArgWord(code []byte, pc int) uint32 { return binary.LittleEndian.Uint32(code[pc+1:]) }

func ArgInt(code []byte, pc int) int32 { return int32(binary.LittleEndian.Uint32(code[pc+1:])) }

func ArgWord2(code []byte, pc int) (uint32, uint32) {
	return binary.LittleEndian.Uint32(code[pc+1:]), binary.LittleEndian.Uint32(code[pc+5:])
}

func ArgLong(code []byte, pc int) int64 { return int64(binary.LittleEndian.Uint64(code[pc+1:])) }

func ArgFloat(code []byte, pc int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(code[pc+1:]))
}

func ArgDouble(code []byte, pc int) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(code[pc+1:]))
}

// ArgWideSmall decodes the operand of COP_WIDE op n32; pc is the COP_WIDE byte.
func ArgWideSmall(code []byte, pc int) uint32 { return binary.LittleEndian.Uint32(code[pc+2:]) }

// ArgWideLarge decodes the operands of COP_WIDE op a32 b32.
func ArgWideLarge(code []byte, pc int) (uint32, uint32) {
	return binary.LittleEndian.Uint32(code[pc+2:]), binary.LittleEndian.Uint32(code[pc+6:])
}

func readPtr(code []byte, at int, l Layout) uint64 {
	if l.PtrSize == 8 {
		return binary.LittleEndian.Uint64(code[at:])
	}
	return uint64(binary.LittleEndian.Uint32(code[at:]))
}

func ArgPtr(code []byte, pc int, l Layout) uint64 { return readPtr(code, pc+1, l) }

func ArgPtrWord(code []byte, pc int, l Layout) (uint64, uint32) {
	return readPtr(code, pc+1, l), binary.LittleEndian.Uint32(code[pc+1+l.PtrSize:])
}

func ArgPtrByte(code []byte, pc int, l Layout) (uint64, uint32) {
	return readPtr(code, pc+1, l), uint32(code[pc+1+l.PtrSize])
}

func ArgWord2Ptr(code []byte, pc int, l Layout) (uint32, uint32, uint64) {
	w1, w2 := ArgWord2(code, pc)
	return w1, w2, readPtr(code, pc+9, l)
}

// ArgBranch returns the absolute target of the branch at pc, in either form.
func ArgBranch(code []byte, pc int) int {
	if Opcode(code[pc]) == COP_BR_LONG {
		return pc + int(int32(binary.LittleEndian.Uint32(code[pc+2:])))
	}
	return pc + int(int8(code[pc+1]))
}

// ArgPBranch returns the absolute target of a prefixed instruction whose
// final operand is a rel32 measured from the COP_PREFIX byte at pc.
func ArgPBranch(code []byte, pc int, operandAt int) int {
	return pc + int(int32(binary.LittleEndian.Uint32(code[pc+operandAt:])))
}

// ArgSwitch returns the number of switch entries and the absolute target of entry i.
func ArgSwitchCount(code []byte, pc int) uint32 { return ArgWord(code, pc) }

func ArgSwitchTarget(code []byte, pc int, i uint32) int {
	return pc + int(int32(binary.LittleEndian.Uint32(code[pc+5+4*int(i):])))
}

// ArgLocal returns the local or byte operand of a wideable instruction,
// handling both the compact and COP_WIDE forms and the implicit _0.._3 forms.
func ArgLocal(code []byte, pc int) uint32 {
	op := Opcode(code[pc])
	if op == COP_WIDE {
		return ArgWideSmall(code, pc)
	}
	if n, ok := LocalIndex(op); ok {
		return n
	}
	return ArgByte(code, pc)
}

// ArgLocal2 returns both operands of a wideable two-operand instruction.
func ArgLocal2(code []byte, pc int) (uint32, uint32) {
	if Opcode(code[pc]) == COP_WIDE {
		return ArgWideLarge(code, pc)
	}
	return ArgByte2(code, pc)
}
