package arm

import (
	"encoding/binary"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/arch/arm64/arm64asm"

	"github.com/colorfulnotion/cvm/unroll"
)

func disasm(t *testing.T, code []byte) []string {
	t.Helper()
	require.Zero(t, len(code)%4)
	var out []string
	for off := 0; off < len(code); off += 4 {
		inst, err := arm64asm.Decode(code[off:])
		require.NoError(t, err, "decode %#08x at %d", binary.LittleEndian.Uint32(code[off:]), off)
		out = append(out, arm64asm.GNUSyntax(inst))
	}
	return out
}

// evalMov interprets a movz/movn/movk sequence.
func evalMov(t *testing.T, code []byte) uint64 {
	t.Helper()
	var v uint64
	for off := 0; off < len(code); off += 4 {
		w := binary.LittleEndian.Uint32(code[off:])
		hw := (w >> 21) & 3
		imm := uint64((w>>5)&0xFFFF) << (16 * hw)
		switch w >> 23 {
		case 0x1A5:
			v = imm
		case 0x125:
			v = ^imm
		case 0x1E5:
			v = v&^(0xFFFF<<(16*hw)) | imm
		default:
			t.Fatalf("not a wide move: %#08x", w)
		}
	}
	return v
}

func TestPrologueAndExit(t *testing.T) {
	g := New()
	b := unroll.NewBuffer(256)
	g.Prologue(b)
	lines := disasm(t, b.Bytes())
	assert.Equal(t, []string{"ldr x1, [x0]", "ldr x2, [x0,#8]"}, lines)

	b.Reset()
	g.Exit(b, -2, 0x40, unroll.ReExecute)
	lines = disasm(t, b.Bytes())
	require.NotEmpty(t, lines)
	assert.True(t, strings.HasPrefix(lines[0], "sub x1, x1"), lines[0])
	assert.Equal(t, "str x1, [x0]", lines[1])
	assert.Contains(t, lines, "str x16, [x0,#16]")
	assert.Contains(t, lines, "str x16, [x0,#24]")
	assert.Equal(t, "ret", lines[len(lines)-1])
}

func TestMovImm(t *testing.T) {
	for _, v := range []int64{0, 1, 0x1234, 0xFFFF0000, -1, -0x10000, 1<<40 | 5, math.MinInt64, math.MaxInt64, -12345678901} {
		b := unroll.NewBuffer(32)
		New().LoadImm(b, 5, v)
		disasm(t, b.Bytes())
		assert.Equal(t, uint64(v), evalMov(t, b.Bytes()), "imm %#x", v)
		assert.LessOrEqual(t, b.Len(), 16)
	}
}

func TestAddressingForms(t *testing.T) {
	g := New()
	b := unroll.NewBuffer(128)
	g.LoadStack(b, 3, -3)
	g.Load(b, 4, 5, 0x10, unroll.W32s)
	g.Load(b, 4, 5, 0x10001, unroll.W8u)
	g.Store(b, 6, 7, 2, unroll.W16u)
	lines := disasm(t, b.Bytes())
	assert.Equal(t, "ldur x3, [x1,#-24]", lines[0])
	assert.Equal(t, "ldrsw x4, [x5,#16]", lines[1])
	assert.Contains(t, lines[len(lines)-2], "x17")
	assert.Equal(t, "strh w6, [x7,#2]", lines[len(lines)-1])
}

func TestIndexed(t *testing.T) {
	g := New()
	b := unroll.NewBuffer(64)
	g.LoadIndexed(b, 3, 4, 5, 8, unroll.W32s)
	g.StoreIndexed(b, 6, 4, 5, 0, unroll.W8u)
	lines := disasm(t, b.Bytes())
	require.Len(t, lines, 3)
	assert.Equal(t, "add x17, x4, #0x8", lines[0])
	assert.Contains(t, lines[1], "ldrsw x3, [x17,x5")
	assert.Contains(t, lines[1], "#2")
	assert.Contains(t, lines[2], "strb w6, [x4,x5")
}

func TestNarrowResultsSignExtend(t *testing.T) {
	g := New()
	b := unroll.NewBuffer(128)
	g.ALU(b, unroll.OpSub, false, 3, 4)
	g.Div(b, true, false, 3, 4)
	g.Shift(b, unroll.ShiftRight, true, 5, 6)
	lines := disasm(t, b.Bytes())
	require.Len(t, lines, 6)
	assert.Equal(t, "sub w3, w3, w4", lines[0])
	assert.Equal(t, "sxtw x3, w3", lines[1])
	assert.Equal(t, "sdiv w16, w3, w4", lines[2])
	assert.Equal(t, "msub w3, w16, w4, w3", lines[3])
	assert.Equal(t, "sxtw x3, w3", lines[4])
	assert.Equal(t, "asr x5, x5, x6", lines[5])
}

func TestCompareImmediates(t *testing.T) {
	g := New()
	b := unroll.NewBuffer(64)
	g.CompareImm(b, true, 3, 0)
	g.CompareImm(b, false, 3, -1)
	g.Compare(b, false, 3, 4)
	assert.Equal(t, []string{"cmp x3, #0x0", "cmn w3, #0x1", "cmp w3, w4"}, disasm(t, b.Bytes()))
}

func TestJumpBinding(t *testing.T) {
	g := New()
	b := unroll.NewBuffer(64)
	f := g.JumpIf(b, unroll.CondGEU)
	b.Emit32(ARM_RET)
	require.NoError(t, g.Bind(b, f))
	w := binary.LittleEndian.Uint32(b.Bytes())
	assert.Equal(t, uint32(2), (w>>5)&0x7FFFF)
	assert.Equal(t, uint32(ARM_HS), w&0xF)
	assert.True(t, strings.HasPrefix(disasm(t, b.Bytes())[0], "b.cs"))

	assert.Error(t, g.Bind(b, unroll.Fixup{At: 4}))
}

func TestRegistered(t *testing.T) {
	g, err := unroll.NewGenerator("arm64")
	require.NoError(t, err)
	assert.Equal(t, "arm64", g.Arch())
	assert.Len(t, g.Registers(), 13)
	for _, r := range g.Registers() {
		assert.NotContains(t, []unroll.Reg{X0, X1, X2, X16, X17}, r)
	}
	b := unroll.NewBuffer(16)
	b.Emit32(ARM_RET)
	assert.Equal(t, []string{"0x100: ret"}, g.Disassemble(b.Bytes(), 0x100))
}
