package x86

import "github.com/colorfulnotion/cvm/unroll"

// Hardware register numbers.
const (
	RAX unroll.Reg = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

var regNames = [16]string{
	"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
}

// REX prefix bits
const (
	X86_REX   = 0x40
	X86_REX_W = 0x08
	X86_REX_R = 0x04
	X86_REX_X = 0x02
	X86_REX_B = 0x01
)

// ModRM modes
const (
	X86_MOD_INDIRECT        = 0x00
	X86_MOD_INDIRECT_DISP8  = 0x01
	X86_MOD_INDIRECT_DISP32 = 0x02
	X86_MOD_REGISTER        = 0x03
)

const (
	X86_OP_ADD_RM_R        = 0x01
	X86_OP_OR_RM_R         = 0x09
	X86_OP_AND_RM_R        = 0x21
	X86_OP_SUB_RM_R        = 0x29
	X86_OP_XOR_RM_R        = 0x31
	X86_OP_CMP_RM_R        = 0x39
	X86_OP_MOVSXD          = 0x63
	X86_OP_GROUP1_RM_IMM32 = 0x81
	X86_OP_GROUP1_RM_IMM8  = 0x83
	X86_OP_MOV_RM8_R8      = 0x88
	X86_OP_MOV_RM_R        = 0x89
	X86_OP_MOV_R_RM        = 0x8B
	X86_OP_LEA             = 0x8D
	X86_OP_CQO             = 0x99
	X86_OP_MOV_R_IMM       = 0xB8
	X86_OP_RET             = 0xC3
	X86_OP_MOV_RM_IMM      = 0xC7
	X86_OP_GROUP2_RM_CL    = 0xD3
	X86_OP_GROUP3_RM       = 0xF7
	X86_OP_SIZE_16         = 0x66
	X86_OP_ESCAPE          = 0x0F
)

const (
	X86_OP2_MOVZX_R_RM8  = 0xB6
	X86_OP2_MOVZX_R_RM16 = 0xB7
	X86_OP2_MOVSX_R_RM8  = 0xBE
	X86_OP2_MOVSX_R_RM16 = 0xBF
	X86_OP2_IMUL_R_RM    = 0xAF
	X86_OP2_JCC          = 0x80
)

// Condition codes, added to X86_OP2_JCC.
const (
	X86_CC_B  = 0x2
	X86_CC_AE = 0x3
	X86_CC_E  = 0x4
	X86_CC_NE = 0x5
	X86_CC_BE = 0x6
	X86_CC_A  = 0x7
	X86_CC_L  = 0xC
	X86_CC_GE = 0xD
	X86_CC_LE = 0xE
	X86_CC_G  = 0xF
)

// Group opcode extensions in the ModRM reg field.
const (
	X86_EXT_ADD  = 0
	X86_EXT_CMP  = 7
	X86_EXT_SHL  = 4
	X86_EXT_SHR  = 5
	X86_EXT_SAR  = 7
	X86_EXT_NOT  = 2
	X86_EXT_NEG  = 3
	X86_EXT_IDIV = 7
)

func low(r unroll.Reg) byte { return byte(r) & 7 }
func ext(r unroll.Reg) bool { return r >= 8 }

// rex returns the REX prefix for reg, index and rm, or 0 when none is
// needed. byteReg forces a prefix so that registers 4-7 in a byte
// operand name spl..dil rather than ah..bh.
func rex(w bool, reg, index, rm unroll.Reg, byteReg bool) byte {
	p := byte(X86_REX)
	if w {
		p |= X86_REX_W
	}
	if ext(reg) {
		p |= X86_REX_R
	}
	if ext(index) {
		p |= X86_REX_X
	}
	if ext(rm) {
		p |= X86_REX_B
	}
	if p == X86_REX && !(byteReg && (isHighByte(reg) || isHighByte(rm))) {
		return 0
	}
	return p
}

func isHighByte(r unroll.Reg) bool { return r >= RSP && r <= RDI }

func modrm(mod byte, reg, rm byte) byte { return mod<<6 | (reg&7)<<3 | rm&7 }

func fits8(v int32) bool { return v >= -128 && v <= 127 }

// emitPrefix writes the optional REX prefix followed by the opcode bytes.
func emitPrefix(b *unroll.Buffer, rx byte, opcode ...byte) {
	if rx != 0 {
		b.Emit(rx)
	}
	b.Emit(opcode...)
}

// emitRR encodes op reg, rm with register operands.
func emitRR(b *unroll.Buffer, w bool, reg, rm unroll.Reg, opcode ...byte) {
	emitPrefix(b, rex(w, reg, 0, rm, false), opcode...)
	b.Emit(modrm(X86_MOD_REGISTER, low(reg), low(rm)))
}

// emitExt encodes a group instruction whose reg field is an opcode
// extension.
func emitExt(b *unroll.Buffer, w bool, ext byte, rm unroll.Reg, opcode ...byte) {
	emitPrefix(b, rex(w, 0, 0, rm, false), opcode...)
	b.Emit(modrm(X86_MOD_REGISTER, ext, low(rm)))
}

// emitMem encodes op reg, [base+disp]. rsp and r12 need a SIB byte; rbp
// and r13 have no displacement-free form.
func emitMem(b *unroll.Buffer, w bool, byteReg bool, reg, base unroll.Reg, disp int32, opcode ...byte) {
	emitPrefix(b, rex(w, reg, 0, base, byteReg), opcode...)
	mod := byte(X86_MOD_INDIRECT_DISP32)
	switch {
	case disp == 0 && low(base) != 5:
		mod = X86_MOD_INDIRECT
	case fits8(disp):
		mod = X86_MOD_INDIRECT_DISP8
	}
	if low(base) == 4 {
		b.Emit(modrm(mod, low(reg), 4), 0x24)
	} else {
		b.Emit(modrm(mod, low(reg), low(base)))
	}
	emitDisp(b, mod, disp)
}

// emitIndexed encodes op reg, [base+index*scale+disp].
func emitIndexed(b *unroll.Buffer, w bool, byteReg bool, reg, base, index unroll.Reg, scale int, disp int32, opcode ...byte) {
	emitPrefix(b, rex(w, reg, index, base, byteReg), opcode...)
	mod := byte(X86_MOD_INDIRECT_DISP32)
	switch {
	case disp == 0 && low(base) != 5:
		mod = X86_MOD_INDIRECT
	case fits8(disp):
		mod = X86_MOD_INDIRECT_DISP8
	}
	ss := map[int]byte{1: 0, 2: 1, 4: 2, 8: 3}[scale]
	b.Emit(modrm(mod, low(reg), 4), ss<<6|low(index)<<3|low(base))
	emitDisp(b, mod, disp)
}

func emitDisp(b *unroll.Buffer, mod byte, disp int32) {
	switch mod {
	case X86_MOD_INDIRECT_DISP8:
		b.Emit(byte(int8(disp)))
	case X86_MOD_INDIRECT_DISP32:
		b.Emit32(uint32(disp))
	}
}

// emitMovImm loads v with the shortest of the three mov forms.
func emitMovImm(b *unroll.Buffer, dst unroll.Reg, v int64) {
	switch {
	case v >= 0 && v <= 0xFFFFFFFF:
		emitPrefix(b, rex(false, 0, 0, dst, false), X86_OP_MOV_R_IMM+low(dst))
		b.Emit32(uint32(v))
	case v >= -1<<31 && v < 1<<31:
		emitExt(b, true, 0, dst, X86_OP_MOV_RM_IMM)
		b.Emit32(uint32(int32(v)))
	default:
		emitPrefix(b, rex(true, 0, 0, dst, false), X86_OP_MOV_R_IMM+low(dst))
		b.Emit64(uint64(v))
	}
}

// emitGroup1Imm encodes add/cmp r/m, imm with the short form when the
// immediate fits a byte.
func emitGroup1Imm(b *unroll.Buffer, w bool, ext byte, rm unroll.Reg, v int32) {
	if fits8(v) {
		emitExt(b, w, ext, rm, X86_OP_GROUP1_RM_IMM8)
		b.Emit(byte(int8(v)))
		return
	}
	emitExt(b, w, ext, rm, X86_OP_GROUP1_RM_IMM32)
	b.Emit32(uint32(v))
}

// emitSext32 sign-extends the low half of r in place.
func emitSext32(b *unroll.Buffer, r unroll.Reg) {
	emitRR(b, true, r, r, X86_OP_MOVSXD)
}

func putRel32(b *unroll.Buffer, at int, target int) {
	b.PutUint32At(at, uint32(int32(target-(at+4))))
}
