package cvm

import "encoding/binary"

// Shape describes the operand fields that follow an opcode.
type Shape byte

const (
	ShapeNone     Shape = iota
	ShapeByte           // n8, wide form n32
	ShapeSByte          // signed 8-bit immediate
	ShapeByte2          // a8 b8, wide form a32 b32
	ShapeWord           // w32
	ShapeWord2          // w32 w32
	ShapeWord2Ptr       // w32 w32 ptr
	ShapeLong           // 8 byte integer
	ShapeFloat          // float32
	ShapeDouble         // float64
	ShapePtr            // pointer-sized handle or address
	ShapePtrWord        // ptr w32
	ShapePtrByte        // ptr b8
	ShapeBranch         // rel8 pad4, or long form via COP_BR_LONG
	ShapeSwitch         // count32 rel32*count
)

// Encoded lengths of main opcodes.
const (
	CVM_LEN_NONE       = 1
	CVM_LEN_BYTE       = 2
	CVM_LEN_BYTE2      = 3
	CVM_LEN_WORD       = 5
	CVM_LEN_WORD2      = 9
	CVM_LEN_LONG       = 9
	CVM_LEN_FLOAT      = 5
	CVM_LEN_DOUBLE     = 9
	CVM_LEN_BRANCH     = 6
	CVM_LEN_WIDE_SMALL = 6
	CVM_LEN_WIDE_LARGE = 10
)

// Encoded lengths of prefixed opcodes.
const (
	CVMP_LEN_NONE   = 2
	CVMP_LEN_BYTE   = 3
	CVMP_LEN_WORD   = 6
	CVMP_LEN_WORD2  = 10
	CVMP_LEN_BRANCH = 6
)

// LenPtr is the length of a main opcode with one pointer operand.
func (l Layout) LenPtr() int { return 1 + l.PtrSize }

// LenWord2Ptr is the length of a main opcode with two words and a pointer.
func (l Layout) LenWord2Ptr() int { return 9 + l.PtrSize }

// PLenPtr is the length of a prefixed opcode with one pointer operand.
func (l Layout) PLenPtr() int { return 2 + l.PtrSize }

// PLenPtrWord is the length of a prefixed opcode with a pointer and a word.
func (l Layout) PLenPtrWord() int { return 6 + l.PtrSize }

// PLenPtrByte is the length of a prefixed opcode with a pointer and a byte.
func (l Layout) PLenPtrByte() int { return 3 + l.PtrSize }

// operandBytes is the size of the operand fields of the compact form.
func (s Shape) operandBytes(l Layout) int {
	switch s {
	case ShapeByte, ShapeSByte:
		return 1
	case ShapeByte2:
		return 2
	case ShapeWord, ShapeFloat:
		return 4
	case ShapeWord2, ShapeLong, ShapeDouble:
		return 8
	case ShapeWord2Ptr:
		return 8 + l.PtrSize
	case ShapePtr:
		return l.PtrSize
	case ShapePtrWord:
		return l.PtrSize + 4
	case ShapePtrByte:
		return l.PtrSize + 1
	case ShapeBranch:
		return 5
	}
	return 0
}

// Wideable reports whether the shape has a COP_WIDE form.
func (s Shape) Wideable() bool {
	return s == ShapeByte || s == ShapeByte2
}

// OpShape returns the operand shape of op.
func OpShape(op Opcode) Shape {
	return infoFor(op).shape
}

// Length returns the encoded length of op in its compact form. COP_SWITCH
// returns the length of its fixed part only.
func Length(op Opcode, l Layout) int {
	n := 1 + infoFor(op).shape.operandBytes(l)
	if op.IsPrefixed() {
		n++
	}
	return n
}

// InstructionLength returns the encoded length of the instruction at pc.
func InstructionLength(code []byte, pc int, l Layout) int {
	switch Opcode(code[pc]) {
	case COP_WIDE:
		if OpShape(Opcode(code[pc+1])) == ShapeByte2 {
			return CVM_LEN_WIDE_LARGE
		}
		return CVM_LEN_WIDE_SMALL
	case COP_BR_LONG:
		return CVM_LEN_BRANCH
	case COP_SWITCH:
		return CVM_LEN_WORD + 4*int(binary.LittleEndian.Uint32(code[pc+1:]))
	case COP_PREFIX:
		return Length(Prefixed(code[pc+1]), l)
	}
	return Length(Opcode(code[pc]), l)
}

// OpcodeAt decodes the logical opcode at pc, looking through COP_WIDE,
// COP_BR_LONG and COP_PREFIX.
func OpcodeAt(code []byte, pc int) Opcode {
	switch Opcode(code[pc]) {
	case COP_WIDE, COP_BR_LONG:
		return Opcode(code[pc+1])
	case COP_PREFIX:
		return Prefixed(code[pc+1])
	}
	return Opcode(code[pc])
}
