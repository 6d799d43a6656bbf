package x86

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/arch/x86/x86asm"

	"github.com/colorfulnotion/cvm/unroll"
)

func decodeAll(t *testing.T, code []byte) []x86asm.Inst {
	t.Helper()
	var out []x86asm.Inst
	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], 64)
		require.NoError(t, err, "decode at %d: % x", off, code[off:])
		out = append(out, inst)
		off += inst.Len
	}
	return out
}

func ops(insts []x86asm.Inst) []x86asm.Op {
	out := make([]x86asm.Op, len(insts))
	for i, in := range insts {
		out[i] = in.Op
	}
	return out
}

func TestPrologueAndExit(t *testing.T) {
	g := New()
	b := unroll.NewBuffer(256)
	g.Prologue(b)
	g.Exit(b, 2, 0x40, unroll.ReExecute)
	insts := decodeAll(t, b.Bytes())
	require.Equal(t, []x86asm.Op{x86asm.MOV, x86asm.MOV, x86asm.LEA, x86asm.MOV, x86asm.MOV, x86asm.MOV, x86asm.RET}, ops(insts))

	assert.Equal(t, x86asm.RSI, insts[0].Args[0])
	assert.Equal(t, x86asm.Mem{Base: x86asm.RDI}, insts[0].Args[1])
	assert.Equal(t, x86asm.RBX, insts[1].Args[0])
	assert.Equal(t, x86asm.Mem{Base: x86asm.RDI, Disp: unroll.CtxFrame}, insts[1].Args[1])
	assert.Equal(t, x86asm.Mem{Base: x86asm.RSI, Disp: 16}, insts[2].Args[1])
	assert.Equal(t, x86asm.Mem{Base: x86asm.RDI, Disp: unroll.CtxNextPC}, insts[4].Args[0])
	assert.Equal(t, x86asm.Imm(0x40), insts[4].Args[1])
	assert.Equal(t, x86asm.Imm(unroll.ReExecute), insts[5].Args[1])
}

func TestExitWithoutAdvance(t *testing.T) {
	b := unroll.NewBuffer(64)
	New().Exit(b, 0, 8, unroll.Continue)
	assert.Equal(t, []x86asm.Op{x86asm.MOV, x86asm.MOV, x86asm.MOV, x86asm.RET}, ops(decodeAll(t, b.Bytes())))
}

func TestBaseRegisterQuirks(t *testing.T) {
	g := New()
	b := unroll.NewBuffer(64)
	g.Load(b, R8, R12, 0, unroll.W64)
	g.Load(b, R8, R13, 0, unroll.W64)
	g.Load(b, R9, R12, 0x200, unroll.W64)
	insts := decodeAll(t, b.Bytes())
	require.Len(t, insts, 3)

	assert.Equal(t, x86asm.Mem{Base: x86asm.R12, Scale: 1}, insts[0].Args[1])
	assert.Equal(t, 4, insts[0].Len)
	assert.Equal(t, x86asm.Mem{Base: x86asm.R13}, insts[1].Args[1])
	assert.Equal(t, 4, insts[1].Len, "r13 needs a zero disp8")
	assert.Equal(t, x86asm.Mem{Base: x86asm.R12, Scale: 1, Disp: 0x200}, insts[2].Args[1])
	assert.Equal(t, 8, insts[2].Len)
}

func TestNegativeStackDisplacement(t *testing.T) {
	b := unroll.NewBuffer(64)
	New().LoadStack(b, R10, -3)
	insts := decodeAll(t, b.Bytes())
	require.Len(t, insts, 1)
	assert.Equal(t, x86asm.R10, insts[0].Args[0])
	assert.Equal(t, x86asm.Mem{Base: x86asm.RSI, Disp: -24}, insts[0].Args[1])
}

func TestLoadWidths(t *testing.T) {
	cases := []struct {
		w   unroll.Width
		op  x86asm.Op
		dst x86asm.Reg
	}{
		{unroll.W8s, x86asm.MOVSX, x86asm.R8},
		{unroll.W8u, x86asm.MOVZX, x86asm.R8L},
		{unroll.W16s, x86asm.MOVSX, x86asm.R8},
		{unroll.W16u, x86asm.MOVZX, x86asm.R8L},
		{unroll.W32s, x86asm.MOVSXD, x86asm.R8},
		{unroll.W32u, x86asm.MOV, x86asm.R8L},
		{unroll.W64, x86asm.MOV, x86asm.R8},
	}
	for _, c := range cases {
		b := unroll.NewBuffer(32)
		New().Load(b, R8, R9, 4, c.w)
		insts := decodeAll(t, b.Bytes())
		require.Len(t, insts, 1)
		assert.Equal(t, c.op, insts[0].Op, "width %d", c.w)
		assert.Equal(t, c.dst, insts[0].Args[0], "width %d", c.w)
		assert.Equal(t, x86asm.Mem{Base: x86asm.R9, Disp: 4}, insts[0].Args[1])
		assert.Equal(t, c.w.Bytes(), insts[0].MemBytes, "width %d", c.w)
	}
}

func TestStoreWidths(t *testing.T) {
	cases := []struct {
		w   unroll.Width
		src x86asm.Reg
	}{
		{unroll.W8u, x86asm.R9B},
		{unroll.W16u, x86asm.R9W},
		{unroll.W32u, x86asm.R9L},
		{unroll.W64, x86asm.R9},
	}
	for _, c := range cases {
		b := unroll.NewBuffer(32)
		New().Store(b, R9, R8, 8, c.w)
		insts := decodeAll(t, b.Bytes())
		require.Len(t, insts, 1)
		assert.Equal(t, x86asm.MOV, insts[0].Op)
		assert.Equal(t, x86asm.Mem{Base: x86asm.R8, Disp: 8}, insts[0].Args[0])
		assert.Equal(t, c.src, insts[0].Args[1], "width %d", c.w)
	}
}

func TestIndexed(t *testing.T) {
	g := New()
	b := unroll.NewBuffer(64)
	g.LoadIndexed(b, R8, R13, R9, 8, unroll.W32s)
	g.StoreIndexed(b, R10, R12, R11, 8, unroll.W16u)
	insts := decodeAll(t, b.Bytes())
	require.Len(t, insts, 2)
	assert.Equal(t, x86asm.MOVSXD, insts[0].Op)
	assert.Equal(t, x86asm.Mem{Base: x86asm.R13, Index: x86asm.R9, Scale: 4, Disp: 8}, insts[0].Args[1])
	assert.Equal(t, x86asm.MOV, insts[1].Op)
	assert.Equal(t, x86asm.Mem{Base: x86asm.R12, Index: x86asm.R11, Scale: 2, Disp: 8}, insts[1].Args[0])
	assert.Equal(t, x86asm.R10W, insts[1].Args[1])
}

func TestLoadImmForms(t *testing.T) {
	cases := []struct {
		v   int64
		len int
	}{
		{0x10, 6},
		{0xFFFFFFFF, 6},
		{-1, 7},
		{1 << 40, 10},
	}
	for _, c := range cases {
		b := unroll.NewBuffer(32)
		New().LoadImm(b, R8, c.v)
		insts := decodeAll(t, b.Bytes())
		require.Len(t, insts, 1)
		assert.Equal(t, x86asm.MOV, insts[0].Op)
		assert.Equal(t, c.len, b.Len(), "imm %#x", c.v)
	}
}

func TestNarrowArithmeticSignExtends(t *testing.T) {
	g := New()
	b := unroll.NewBuffer(64)
	g.ALU(b, unroll.OpAdd, false, R8, R9)
	g.ALU(b, unroll.OpMul, true, R8, R9)
	g.Neg(b, false, R10)
	assert.Equal(t, []x86asm.Op{x86asm.ADD, x86asm.MOVSXD, x86asm.IMUL, x86asm.NEG, x86asm.MOVSXD}, ops(decodeAll(t, b.Bytes())))
}

func TestShiftUsesCL(t *testing.T) {
	b := unroll.NewBuffer(64)
	New().Shift(b, unroll.ShiftRightUn, true, R8, R9)
	insts := decodeAll(t, b.Bytes())
	require.Equal(t, []x86asm.Op{x86asm.MOV, x86asm.SHR}, ops(insts))
	assert.Equal(t, x86asm.RCX, insts[0].Args[0])
	assert.Equal(t, x86asm.R9, insts[0].Args[1])
	assert.Equal(t, x86asm.CL, insts[1].Args[1])
}

func TestDivide(t *testing.T) {
	g := New()
	b := unroll.NewBuffer(64)
	g.Div(b, false, true, R8, R9)
	assert.Equal(t, []x86asm.Op{x86asm.MOV, x86asm.CQO, x86asm.IDIV, x86asm.MOV}, ops(decodeAll(t, b.Bytes())))

	b.Reset()
	g.Div(b, true, false, R8, R9)
	insts := decodeAll(t, b.Bytes())
	require.Equal(t, []x86asm.Op{x86asm.MOV, x86asm.CDQ, x86asm.IDIV, x86asm.MOVSXD}, ops(insts))
	assert.Equal(t, x86asm.R9L, insts[2].Args[0])
	assert.Equal(t, x86asm.EDX, insts[3].Args[1])
}

func TestJumpBinding(t *testing.T) {
	g := New()
	b := unroll.NewBuffer(64)
	g.Compare(b, false, R8, R9)
	f := g.JumpIf(b, unroll.CondGEU)
	b.Emit(X86_OP_RET)
	require.NoError(t, g.Bind(b, f))
	insts := decodeAll(t, b.Bytes())
	require.Equal(t, []x86asm.Op{x86asm.CMP, x86asm.JAE, x86asm.RET}, ops(insts))
	assert.Equal(t, x86asm.R8L, insts[0].Args[0])
	assert.Equal(t, x86asm.R9L, insts[0].Args[1])
	assert.Equal(t, x86asm.Rel(1), insts[1].Args[0])

	assert.Error(t, g.Bind(b, unroll.Fixup{At: 0}))
}

func TestConditionCodes(t *testing.T) {
	want := map[unroll.Cond]x86asm.Op{
		unroll.CondEQ: x86asm.JE, unroll.CondNE: x86asm.JNE,
		unroll.CondLT: x86asm.JL, unroll.CondLE: x86asm.JLE,
		unroll.CondGT: x86asm.JG, unroll.CondGE: x86asm.JGE,
		unroll.CondLTU: x86asm.JB, unroll.CondLEU: x86asm.JBE,
		unroll.CondGTU: x86asm.JA, unroll.CondGEU: x86asm.JAE,
	}
	for c, op := range want {
		b := unroll.NewBuffer(16)
		New().JumpIf(b, c)
		insts := decodeAll(t, b.Bytes())
		require.Len(t, insts, 1)
		assert.Equal(t, op, insts[0].Op, "cond %d", c)
	}
}

func TestRegistered(t *testing.T) {
	g, err := unroll.NewGenerator("amd64")
	require.NoError(t, err)
	assert.Equal(t, "amd64", g.Arch())
	assert.Contains(t, unroll.Arches(), "amd64")
	lines := g.Disassemble([]byte{X86_OP_RET}, 0x1000)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "0x1000")
}
