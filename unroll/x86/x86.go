// Package x86 generates x86-64 code for unrolled blocks.
//
// A fragment is called with the context in rdi. rsi holds the stack top
// and rbx the frame for the life of the fragment; rax, rcx and rdx are
// scratch for division and shifts. rbp, rsp, r14 and r15 are never
// touched.
package x86

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"

	"github.com/colorfulnotion/cvm/cvmerrors"
	"github.com/colorfulnotion/cvm/unroll"
)

const (
	regCtx   = RDI
	regTop   = RSI
	regFrame = RBX
)

var allocatable = []unroll.Reg{R8, R9, R10, R11, R12, R13}

var condCodes = map[unroll.Cond]byte{
	unroll.CondEQ:  X86_CC_E,
	unroll.CondNE:  X86_CC_NE,
	unroll.CondLT:  X86_CC_L,
	unroll.CondLE:  X86_CC_LE,
	unroll.CondGT:  X86_CC_G,
	unroll.CondGE:  X86_CC_GE,
	unroll.CondLTU: X86_CC_B,
	unroll.CondLEU: X86_CC_BE,
	unroll.CondGTU: X86_CC_A,
	unroll.CondGEU: X86_CC_AE,
}

var aluOpcodes = map[unroll.ALUOp]byte{
	unroll.OpAdd: X86_OP_ADD_RM_R,
	unroll.OpSub: X86_OP_SUB_RM_R,
	unroll.OpAnd: X86_OP_AND_RM_R,
	unroll.OpOr:  X86_OP_OR_RM_R,
	unroll.OpXor: X86_OP_XOR_RM_R,
}

var shiftExt = map[unroll.ShiftOp]byte{
	unroll.ShiftLeft:    X86_EXT_SHL,
	unroll.ShiftRight:   X86_EXT_SAR,
	unroll.ShiftRightUn: X86_EXT_SHR,
}

type Generator struct{}

func New() unroll.NativeCodeGenerator { return &Generator{} }

func init() {
	unroll.Register(New, "amd64")
}

func (g *Generator) Arch() string                { return "amd64" }
func (g *Generator) Registers() []unroll.Reg     { return allocatable }
func (g *Generator) RegName(r unroll.Reg) string { return regNames[r&15] }
func (g *Generator) MaxInsn() int                { return 32 }

func (g *Generator) Prologue(b *unroll.Buffer) {
	emitMem(b, true, false, regTop, regCtx, unroll.CtxStackTop, X86_OP_MOV_R_RM)
	emitMem(b, true, false, regFrame, regCtx, unroll.CtxFrame, X86_OP_MOV_R_RM)
}

func (g *Generator) Exit(b *unroll.Buffer, words int, nextPC int, reason unroll.Reason) {
	if words != 0 {
		emitMem(b, true, false, regTop, regTop, int32(words*8), X86_OP_LEA)
	}
	emitMem(b, true, false, regTop, regCtx, unroll.CtxStackTop, X86_OP_MOV_RM_R)
	emitMem(b, true, false, 0, regCtx, unroll.CtxNextPC, X86_OP_MOV_RM_IMM)
	b.Emit32(uint32(nextPC))
	emitMem(b, true, false, 0, regCtx, unroll.CtxReason, X86_OP_MOV_RM_IMM)
	b.Emit32(uint32(reason))
	b.Emit(X86_OP_RET)
}

func (g *Generator) LoadStack(b *unroll.Buffer, dst unroll.Reg, word int) {
	emitMem(b, true, false, dst, regTop, int32(word*8), X86_OP_MOV_R_RM)
}

func (g *Generator) StoreStack(b *unroll.Buffer, src unroll.Reg, word int) {
	emitMem(b, true, false, src, regTop, int32(word*8), X86_OP_MOV_RM_R)
}

func (g *Generator) LoadLocal(b *unroll.Buffer, dst unroll.Reg, n uint32) {
	emitMem(b, true, false, dst, regFrame, int32(n*8), X86_OP_MOV_R_RM)
}

func (g *Generator) StoreLocal(b *unroll.Buffer, src unroll.Reg, n uint32) {
	emitMem(b, true, false, src, regFrame, int32(n*8), X86_OP_MOV_RM_R)
}

func (g *Generator) LoadImm(b *unroll.Buffer, dst unroll.Reg, v int64) {
	emitMovImm(b, dst, v)
}

func (g *Generator) Move(b *unroll.Buffer, dst, src unroll.Reg) {
	if dst != src {
		emitRR(b, true, dst, src, X86_OP_MOV_R_RM)
	}
}

func (g *Generator) ALU(b *unroll.Buffer, op unroll.ALUOp, wide bool, dst, src unroll.Reg) {
	if op == unroll.OpMul {
		emitRR(b, wide, dst, src, X86_OP_ESCAPE, X86_OP2_IMUL_R_RM)
	} else {
		emitRR(b, wide, src, dst, aluOpcodes[op])
	}
	if !wide {
		emitSext32(b, dst)
	}
}

func (g *Generator) AddImm(b *unroll.Buffer, dst unroll.Reg, v int32) {
	emitGroup1Imm(b, true, X86_EXT_ADD, dst, v)
}

func (g *Generator) Neg(b *unroll.Buffer, wide bool, dst unroll.Reg) {
	emitExt(b, wide, X86_EXT_NEG, dst, X86_OP_GROUP3_RM)
	if !wide {
		emitSext32(b, dst)
	}
}

func (g *Generator) Not(b *unroll.Buffer, wide bool, dst unroll.Reg) {
	emitExt(b, wide, X86_EXT_NOT, dst, X86_OP_GROUP3_RM)
	if !wide {
		emitSext32(b, dst)
	}
}

func (g *Generator) Shift(b *unroll.Buffer, op unroll.ShiftOp, wide bool, dst, count unroll.Reg) {
	emitRR(b, true, RCX, count, X86_OP_MOV_R_RM)
	emitExt(b, wide, shiftExt[op], dst, X86_OP_GROUP2_RM_CL)
	if !wide {
		emitSext32(b, dst)
	}
}

func (g *Generator) Div(b *unroll.Buffer, rem bool, wide bool, dst, src unroll.Reg) {
	emitRR(b, true, RAX, dst, X86_OP_MOV_R_RM)
	if wide {
		b.Emit(X86_REX|X86_REX_W, X86_OP_CQO)
	} else {
		b.Emit(X86_OP_CQO)
	}
	emitExt(b, wide, X86_EXT_IDIV, src, X86_OP_GROUP3_RM)
	result := RAX
	if rem {
		result = RDX
	}
	if wide {
		emitRR(b, true, dst, result, X86_OP_MOV_R_RM)
	} else {
		emitRR(b, true, dst, result, X86_OP_MOVSXD)
	}
}

func (g *Generator) Extend(b *unroll.Buffer, dst, src unroll.Reg, w unroll.Width) {
	switch w {
	case unroll.W8s:
		emitRR(b, true, dst, src, X86_OP_ESCAPE, X86_OP2_MOVSX_R_RM8)
	case unroll.W8u:
		emitPrefix(b, rex(false, dst, 0, src, true), X86_OP_ESCAPE, X86_OP2_MOVZX_R_RM8)
		b.Emit(modrm(X86_MOD_REGISTER, low(dst), low(src)))
	case unroll.W16s:
		emitRR(b, true, dst, src, X86_OP_ESCAPE, X86_OP2_MOVSX_R_RM16)
	case unroll.W16u:
		emitRR(b, false, dst, src, X86_OP_ESCAPE, X86_OP2_MOVZX_R_RM16)
	case unroll.W32s:
		emitRR(b, true, dst, src, X86_OP_MOVSXD)
	case unroll.W32u:
		emitRR(b, false, dst, src, X86_OP_MOV_R_RM)
	default:
		g.Move(b, dst, src)
	}
}

// loadOpcode returns the opcode bytes and REX.W of a load of width w.
func loadOpcode(w unroll.Width) (bool, []byte) {
	switch w {
	case unroll.W8s:
		return true, []byte{X86_OP_ESCAPE, X86_OP2_MOVSX_R_RM8}
	case unroll.W8u:
		return false, []byte{X86_OP_ESCAPE, X86_OP2_MOVZX_R_RM8}
	case unroll.W16s:
		return true, []byte{X86_OP_ESCAPE, X86_OP2_MOVSX_R_RM16}
	case unroll.W16u:
		return false, []byte{X86_OP_ESCAPE, X86_OP2_MOVZX_R_RM16}
	case unroll.W32s:
		return true, []byte{X86_OP_MOVSXD}
	case unroll.W32u:
		return false, []byte{X86_OP_MOV_R_RM}
	}
	return true, []byte{X86_OP_MOV_R_RM}
}

// storeOpcode returns the prefix and opcode of a store of width w.
func storeOpcode(w unroll.Width) (bool, bool, []byte) {
	switch w {
	case unroll.W8s, unroll.W8u:
		return false, true, []byte{X86_OP_MOV_RM8_R8}
	case unroll.W16s, unroll.W16u:
		return false, false, []byte{X86_OP_MOV_RM_R}
	case unroll.W32s, unroll.W32u:
		return false, false, []byte{X86_OP_MOV_RM_R}
	}
	return true, false, []byte{X86_OP_MOV_RM_R}
}

func is16(w unroll.Width) bool { return w == unroll.W16s || w == unroll.W16u }

func (g *Generator) Load(b *unroll.Buffer, dst, base unroll.Reg, disp int32, w unroll.Width) {
	wide, op := loadOpcode(w)
	emitMem(b, wide, false, dst, base, disp, op...)
}

func (g *Generator) Store(b *unroll.Buffer, src, base unroll.Reg, disp int32, w unroll.Width) {
	wide, byteReg, op := storeOpcode(w)
	if is16(w) {
		b.Emit(X86_OP_SIZE_16)
	}
	emitMem(b, wide, byteReg, src, base, disp, op...)
}

func (g *Generator) LoadIndexed(b *unroll.Buffer, dst, base, index unroll.Reg, disp int32, w unroll.Width) {
	wide, op := loadOpcode(w)
	emitIndexed(b, wide, false, dst, base, index, w.Bytes(), disp, op...)
}

func (g *Generator) StoreIndexed(b *unroll.Buffer, src, base, index unroll.Reg, disp int32, w unroll.Width) {
	wide, byteReg, op := storeOpcode(w)
	if is16(w) {
		b.Emit(X86_OP_SIZE_16)
	}
	emitIndexed(b, wide, byteReg, src, base, index, w.Bytes(), disp, op...)
}

func (g *Generator) Compare(b *unroll.Buffer, wide bool, x, y unroll.Reg) {
	emitRR(b, wide, y, x, X86_OP_CMP_RM_R)
}

func (g *Generator) CompareImm(b *unroll.Buffer, wide bool, x unroll.Reg, v int32) {
	emitGroup1Imm(b, wide, X86_EXT_CMP, x, v)
}

func (g *Generator) JumpIf(b *unroll.Buffer, c unroll.Cond) unroll.Fixup {
	b.Emit(X86_OP_ESCAPE, X86_OP2_JCC+condCodes[c])
	f := unroll.Fixup{At: b.Len()}
	b.Emit32(0)
	return f
}

func (g *Generator) Bind(b *unroll.Buffer, f unroll.Fixup) error {
	if f.At < 2 || f.At+4 > b.Len() || b.Byte(f.At-2) != X86_OP_ESCAPE || b.Byte(f.At-1)&0xF0 != X86_OP2_JCC {
		return fmt.Errorf("bind at %d: no jump to patch: %w", f.At, cvmerrors.ErrBadOperand)
	}
	putRel32(b, f.At, b.Len())
	return nil
}

func (g *Generator) Disassemble(code []byte, pc uint64) []string {
	var out []string
	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil || inst.Len == 0 {
			out = append(out, fmt.Sprintf("%#x: .byte %#02x", pc+uint64(off), code[off]))
			off++
			continue
		}
		out = append(out, fmt.Sprintf("%#x: %s", pc+uint64(off), x86asm.IntelSyntax(inst, pc+uint64(off), nil)))
		off += inst.Len
	}
	return out
}
