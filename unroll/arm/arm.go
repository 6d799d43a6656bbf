// Package arm generates AArch64 code for unrolled blocks.
//
// A fragment is called with the context in x0. x1 holds the stack top and
// x2 the frame; x16 and x17 are scratch. Allocation stays within x3-x15 so
// the platform register, the frame pointer and the link register are
// never written.
package arm

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/arch/arm64/arm64asm"

	"github.com/colorfulnotion/cvm/cvmerrors"
	"github.com/colorfulnotion/cvm/unroll"
)

const (
	regCtx   = X0
	regTop   = X1
	regFrame = X2
)

var allocatable = func() []unroll.Reg {
	out := make([]unroll.Reg, 0, 13)
	for r := unroll.Reg(3); r <= 15; r++ {
		out = append(out, r)
	}
	return out
}()

var condCodes = map[unroll.Cond]uint32{
	unroll.CondEQ:  ARM_EQ,
	unroll.CondNE:  ARM_NE,
	unroll.CondLT:  ARM_LT,
	unroll.CondLE:  ARM_LE,
	unroll.CondGT:  ARM_GT,
	unroll.CondGE:  ARM_GE,
	unroll.CondLTU: ARM_LO,
	unroll.CondLEU: ARM_LS,
	unroll.CondGTU: ARM_HI,
	unroll.CondGEU: ARM_HS,
}

var aluOpcodes = map[unroll.ALUOp]uint32{
	unroll.OpAdd: ARM_ADD_REG,
	unroll.OpSub: ARM_SUB_REG,
	unroll.OpAnd: ARM_AND_REG,
	unroll.OpOr:  ARM_ORR_REG,
	unroll.OpXor: ARM_EOR_REG,
}

var shiftOpcodes = map[unroll.ShiftOp]uint32{
	unroll.ShiftLeft:    ARM_LSLV,
	unroll.ShiftRight:   ARM_ASRV,
	unroll.ShiftRightUn: ARM_LSRV,
}

type Generator struct{}

func New() unroll.NativeCodeGenerator { return &Generator{} }

func init() {
	unroll.Register(New, "arm64")
}

func (g *Generator) Arch() string            { return "arm64" }
func (g *Generator) Registers() []unroll.Reg { return allocatable }
func (g *Generator) MaxInsn() int            { return 64 }

func (g *Generator) RegName(r unroll.Reg) string {
	if r == XZR {
		return "xzr"
	}
	return fmt.Sprintf("x%d", r)
}

func (g *Generator) Prologue(b *unroll.Buffer) {
	emitMem(b, loads[unroll.W64], regTop, regCtx, unroll.CtxStackTop)
	emitMem(b, loads[unroll.W64], regFrame, regCtx, unroll.CtxFrame)
}

func (g *Generator) Exit(b *unroll.Buffer, words int, nextPC int, reason unroll.Reason) {
	if words != 0 {
		g.addImm64(b, regTop, int64(words)*8)
	}
	emitMem(b, stores[unroll.W64], regTop, regCtx, unroll.CtxStackTop)
	emitMovImm(b, X16, int64(nextPC))
	emitMem(b, stores[unroll.W64], X16, regCtx, unroll.CtxNextPC)
	emitMovImm(b, X16, int64(reason))
	emitMem(b, stores[unroll.W64], X16, regCtx, unroll.CtxReason)
	b.Emit32(ARM_RET)
}

func (g *Generator) addImm64(b *unroll.Buffer, r unroll.Reg, v int64) {
	switch {
	case v >= 0 && v < 4096:
		emitAddImm(b, ARM_ADD_IMM, true, r, r, uint32(v))
	case v < 0 && v > -4096:
		emitAddImm(b, ARM_SUB_IMM, true, r, r, uint32(-v))
	default:
		emitMovImm(b, X16, v)
		emitReg3(b, ARM_ADD_REG, true, r, r, X16)
	}
}

func (g *Generator) LoadStack(b *unroll.Buffer, dst unroll.Reg, word int) {
	emitMem(b, loads[unroll.W64], dst, regTop, int32(word*8))
}

func (g *Generator) StoreStack(b *unroll.Buffer, src unroll.Reg, word int) {
	emitMem(b, stores[unroll.W64], src, regTop, int32(word*8))
}

func (g *Generator) LoadLocal(b *unroll.Buffer, dst unroll.Reg, n uint32) {
	emitMem(b, loads[unroll.W64], dst, regFrame, int32(n*8))
}

func (g *Generator) StoreLocal(b *unroll.Buffer, src unroll.Reg, n uint32) {
	emitMem(b, stores[unroll.W64], src, regFrame, int32(n*8))
}

func (g *Generator) LoadImm(b *unroll.Buffer, dst unroll.Reg, v int64) {
	emitMovImm(b, dst, v)
}

func (g *Generator) Move(b *unroll.Buffer, dst, src unroll.Reg) {
	if dst != src {
		emitMove(b, true, dst, src)
	}
}

func (g *Generator) ALU(b *unroll.Buffer, op unroll.ALUOp, wide bool, dst, src unroll.Reg) {
	if op == unroll.OpMul {
		b.Emit32(ARM_MADD | sf(wide) | rm(src) | ra(XZR) | rn(dst) | rd(dst))
	} else {
		emitReg3(b, aluOpcodes[op], wide, dst, dst, src)
	}
	if !wide {
		emitSxtw(b, dst)
	}
}

func (g *Generator) AddImm(b *unroll.Buffer, dst unroll.Reg, v int32) {
	g.addImm64(b, dst, int64(v))
}

func (g *Generator) Neg(b *unroll.Buffer, wide bool, dst unroll.Reg) {
	emitReg3(b, ARM_SUB_REG, wide, dst, XZR, dst)
	if !wide {
		emitSxtw(b, dst)
	}
}

func (g *Generator) Not(b *unroll.Buffer, wide bool, dst unroll.Reg) {
	emitReg3(b, ARM_ORN_REG, wide, dst, XZR, dst)
	if !wide {
		emitSxtw(b, dst)
	}
}

func (g *Generator) Shift(b *unroll.Buffer, op unroll.ShiftOp, wide bool, dst, count unroll.Reg) {
	emitReg3(b, shiftOpcodes[op], wide, dst, dst, count)
	if !wide {
		emitSxtw(b, dst)
	}
}

func (g *Generator) Div(b *unroll.Buffer, rem bool, wide bool, dst, src unroll.Reg) {
	if !rem {
		emitReg3(b, ARM_SDIV, wide, dst, dst, src)
	} else {
		emitReg3(b, ARM_SDIV, wide, X16, dst, src)
		b.Emit32(ARM_MSUB | sf(wide) | rm(src) | ra(dst) | rn(X16) | rd(dst))
	}
	if !wide {
		emitSxtw(b, dst)
	}
}

func (g *Generator) Extend(b *unroll.Buffer, dst, src unroll.Reg, w unroll.Width) {
	switch w {
	case unroll.W8s:
		emitSbfm(b, dst, src, 7)
	case unroll.W8u:
		emitUbfm(b, dst, src, 7)
	case unroll.W16s:
		emitSbfm(b, dst, src, 15)
	case unroll.W16u:
		emitUbfm(b, dst, src, 15)
	case unroll.W32s:
		emitSbfm(b, dst, src, 31)
	case unroll.W32u:
		emitMove(b, false, dst, src)
	default:
		g.Move(b, dst, src)
	}
}

func (g *Generator) Load(b *unroll.Buffer, dst, base unroll.Reg, disp int32, w unroll.Width) {
	emitMem(b, loads[w], dst, base, disp)
}

func (g *Generator) Store(b *unroll.Buffer, src, base unroll.Reg, disp int32, w unroll.Width) {
	emitMem(b, stores[w], src, base, disp)
}

func (g *Generator) LoadIndexed(b *unroll.Buffer, dst, base, index unroll.Reg, disp int32, w unroll.Width) {
	emitIndexed(b, loads[w], dst, base, index, disp)
}

func (g *Generator) StoreIndexed(b *unroll.Buffer, src, base, index unroll.Reg, disp int32, w unroll.Width) {
	emitIndexed(b, stores[w], src, base, index, disp)
}

func (g *Generator) Compare(b *unroll.Buffer, wide bool, x, y unroll.Reg) {
	emitReg3(b, ARM_SUBS_REG, wide, XZR, x, y)
}

func (g *Generator) CompareImm(b *unroll.Buffer, wide bool, x unroll.Reg, v int32) {
	switch {
	case v >= 0 && v < 4096:
		emitAddImm(b, ARM_SUBS_IMM, wide, XZR, x, uint32(v))
	case v < 0 && v > -4096:
		emitAddImm(b, ARM_ADDS_IMM, wide, XZR, x, uint32(-v))
	default:
		emitMovImm(b, X16, int64(v))
		emitReg3(b, ARM_SUBS_REG, wide, XZR, x, X16)
	}
}

func (g *Generator) JumpIf(b *unroll.Buffer, c unroll.Cond) unroll.Fixup {
	f := unroll.Fixup{At: b.Len()}
	b.Emit32(ARM_BCOND | condCodes[c])
	return f
}

func (g *Generator) Bind(b *unroll.Buffer, f unroll.Fixup) error {
	if f.At < 0 || f.At+4 > b.Len() || b.Uint32At(f.At)&0xFF000010 != ARM_BCOND {
		return fmt.Errorf("bind at %d: no b.cond to patch: %w", f.At, cvmerrors.ErrBadOperand)
	}
	off := (b.Len() - f.At) / 4
	if off >= 1<<18 {
		return fmt.Errorf("bind at %d: branch of %d words out of range: %w", f.At, off, cvmerrors.ErrUnrollNoSpace)
	}
	insn := b.Uint32At(f.At) &^ (0x7FFFF << 5)
	b.PutUint32At(f.At, insn|uint32(off)<<5)
	return nil
}

func (g *Generator) Disassemble(code []byte, pc uint64) []string {
	var out []string
	for off := 0; off+4 <= len(code); off += 4 {
		addr := pc + uint64(off)
		inst, err := arm64asm.Decode(code[off:])
		if err != nil {
			out = append(out, fmt.Sprintf("%#x: .word %#08x", addr, binary.LittleEndian.Uint32(code[off:])))
			continue
		}
		out = append(out, fmt.Sprintf("%#x: %s", addr, arm64asm.GNUSyntax(inst)))
	}
	return out
}
