package cvm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func zeroOperands(op Opcode, l Layout) []byte {
	code := AppendOp(nil, op)
	return append(code, make([]byte, OpShape(op).operandBytes(l))...)
}

func TestLengthsMatchEncoding(t *testing.T) {
	for _, l := range []Layout{Layout32, Layout64} {
		for _, op := range Opcodes() {
			code := zeroOperands(op, l)
			if op == COP_SWITCH {
				code = AppendWord(nil, COP_SWITCH, 0)
			}
			assert.Equal(t, len(code), InstructionLength(code, 0, l), "%s ptr=%d", op, l.PtrSize)
			ins, err := Decode(code, 0, l)
			require.NoError(t, err, "%s", op)
			assert.Equal(t, op, ins.Op)
		}
	}
}

func TestFixedLengths(t *testing.T) {
	assert.Equal(t, CVM_LEN_NONE, Length(COP_IADD, Layout64))
	assert.Equal(t, CVM_LEN_BYTE, Length(COP_ILOAD, Layout64))
	assert.Equal(t, CVM_LEN_BYTE2, Length(COP_MLOAD, Layout64))
	assert.Equal(t, CVM_LEN_WORD, Length(COP_LDC_I4, Layout64))
	assert.Equal(t, CVM_LEN_LONG, Length(COP_LDC_I8, Layout32))
	assert.Equal(t, CVM_LEN_FLOAT, Length(COP_LDC_R4, Layout32))
	assert.Equal(t, CVM_LEN_DOUBLE, Length(COP_LDC_R8, Layout32))
	assert.Equal(t, CVM_LEN_BRANCH, Length(COP_BEQ, Layout32))
	assert.Equal(t, CVM_LEN_WORD2, Length(COP_CALL_VIRTUAL, Layout64))
	assert.Equal(t, CVMP_LEN_NONE, Length(COP_PREFIX_THROW, Layout64))
	assert.Equal(t, CVMP_LEN_BYTE, Length(COP_PREFIX_I2P_LOWER, Layout64))
	assert.Equal(t, CVMP_LEN_WORD, Length(COP_PREFIX_LDSTR, Layout64))

	assert.Equal(t, 5, Length(COP_CALL, Layout32))
	assert.Equal(t, 9, Length(COP_CALL, Layout64))
	assert.Equal(t, Layout64.LenPtr(), Length(COP_CALL, Layout64))
	assert.Equal(t, Layout64.LenWord2Ptr(), Length(COP_CALL_INTERFACE, Layout64))
	assert.Equal(t, Layout32.PLenPtr(), Length(COP_PREFIX_NEW, Layout32))
	assert.Equal(t, Layout64.PLenPtrWord(), Length(COP_PREFIX_BOX, Layout64))
	assert.Equal(t, Layout32.PLenPtrByte(), Length(COP_PREFIX_BOX_SMALLER, Layout32))
}

func TestLocalWidening(t *testing.T) {
	code := AppendLocal(nil, COP_ILOAD, 2)
	assert.Equal(t, []byte{byte(COP_ILOAD_2)}, code)
	assert.Equal(t, uint32(2), ArgLocal(code, 0))

	code = AppendLocal(nil, COP_ILOAD, 255)
	require.Len(t, code, CVM_LEN_BYTE)
	assert.Equal(t, uint32(255), ArgLocal(code, 0))
	assert.Equal(t, CVM_LEN_BYTE, InstructionLength(code, 0, Layout64))

	code = AppendLocal(nil, COP_ILOAD, 256)
	require.Len(t, code, CVM_LEN_WIDE_SMALL)
	assert.Equal(t, byte(COP_WIDE), code[0])
	assert.Equal(t, byte(COP_ILOAD), code[1])
	assert.Equal(t, uint32(256), ArgLocal(code, 0))
	assert.Equal(t, CVM_LEN_WIDE_SMALL, InstructionLength(code, 0, Layout64))
	assert.Equal(t, COP_ILOAD, OpcodeAt(code, 0))

	code = AppendByte2(nil, COP_MLOAD, 255, 255)
	require.Len(t, code, CVM_LEN_BYTE2)
	a, b := ArgLocal2(code, 0)
	assert.Equal(t, []uint32{255, 255}, []uint32{a, b})

	code = AppendByte2(nil, COP_MLOAD, 256, 4)
	require.Len(t, code, CVM_LEN_WIDE_LARGE)
	assert.Equal(t, CVM_LEN_WIDE_LARGE, InstructionLength(code, 0, Layout64))
	a, b = ArgLocal2(code, 0)
	assert.Equal(t, []uint32{256, 4}, []uint32{a, b})

	ins, err := Decode(code, 0, Layout64)
	require.NoError(t, err)
	assert.True(t, ins.Wide)
	assert.Equal(t, "wide.mload 256, 4", ins.String())
}

func TestBranchForms(t *testing.T) {
	code := AppendBranch(nil, COP_BR, -128)
	require.Len(t, code, CVM_LEN_BRANCH)
	assert.Equal(t, byte(COP_BR), code[0])
	assert.Equal(t, -128, ArgBranch(code, 0))

	code = AppendBranch(nil, COP_BLT, 128)
	require.Len(t, code, CVM_LEN_BRANCH)
	assert.Equal(t, byte(COP_BR_LONG), code[0])
	assert.Equal(t, 128, ArgBranch(code, 0))
	assert.Equal(t, COP_BLT, OpcodeAt(code, 0))

	PatchBranch(code, 12)
	assert.Equal(t, byte(COP_BLT), code[0])
	assert.Equal(t, 12, ArgBranch(code, 0))

	PatchBranch(code, 100000)
	assert.Equal(t, byte(COP_BR_LONG), code[0])
	assert.Equal(t, 100000, ArgBranch(code, 0))

	ins, err := Decode(code, 0, Layout64)
	require.NoError(t, err)
	assert.True(t, ins.Long)
	assert.Equal(t, COP_BLT, ins.Op)
	assert.Equal(t, 100000, ins.Target)
}

func TestSwitchDecode(t *testing.T) {
	code := AppendWord(nil, COP_SWITCH, 3)
	for _, rel := range []uint32{20, 30, 40} {
		code = append(code, byte(rel), 0, 0, 0)
	}
	require.Equal(t, 17, InstructionLength(code, 0, Layout64))
	ins, err := Decode(code, 0, Layout64)
	require.NoError(t, err)
	assert.Equal(t, []int{20, 30, 40}, ins.Targets)
}

func TestOperandDecoders(t *testing.T) {
	l := Layout64
	code := AppendPtrWord(nil, COP_PREFIX_BOX, 0xdeadbeef, 12, l)
	p, w := ArgPtrWord(code, 1, l)
	assert.Equal(t, uint64(0xdeadbeef), p)
	assert.Equal(t, uint32(12), w)

	code = AppendWord2Ptr(nil, COP_CALL_INTERFACE, 3, 7, 0x1000, Layout32)
	a, b, ptr := ArgWord2Ptr(code, 0, Layout32)
	assert.Equal(t, []uint64{3, 7, 0x1000}, []uint64{uint64(a), uint64(b), ptr})

	code = AppendLong(nil, COP_LDC_I8, -5)
	assert.Equal(t, int64(-5), ArgLong(code, 0))
	code = AppendDouble(nil, COP_LDC_R8, 2.5)
	assert.Equal(t, 2.5, ArgDouble(code, 0))
	code = AppendFloat(nil, COP_LDC_R4, 1.5)
	assert.Equal(t, float32(1.5), ArgFloat(code, 0))
	code = AppendSByte(nil, COP_LDC_I4_S, -3)
	assert.Equal(t, int32(-3), ArgSByte(code, 0))
}

func TestDisassemble(t *testing.T) {
	var code []byte
	code = AppendLocal(code, COP_ILOAD, 0)
	code = AppendWord(code, COP_LDC_I4, 7)
	code = AppendOp(code, COP_IADD)
	code = AppendBranch(code, COP_BR, -len(code))
	code = AppendOp(code, COP_PREFIX_THROW)
	code = append(code, 0xEE)

	out := Disassemble(code, Layout64)
	assert.Contains(t, out, "iload_0")
	assert.Contains(t, out, "ldc_i4 7")
	assert.Contains(t, out, "iadd")
	assert.Contains(t, out, "br 0x0000")
	assert.Contains(t, out, "throw")
	assert.Contains(t, out, "db 0xee")
}

func TestNamesUnique(t *testing.T) {
	seen := make(map[string]Opcode)
	for _, op := range Opcodes() {
		name := OpcodeName(op)
		require.True(t, IsDefined(op), "%04x", uint16(op))
		if prev, dup := seen[name]; dup {
			t.Fatalf("%s used by %04x and %04x", name, uint16(prev), uint16(op))
		}
		seen[name] = op
	}
}

func TestTable(t *testing.T) {
	table, err := NewTable(func(op Opcode) any { return new(int) })
	require.NoError(t, err)
	assert.Equal(t, len(Opcodes()), table.Len())
	for _, op := range Opcodes() {
		got, ok := table.Opcode(table.Handler(op))
		require.True(t, ok)
		assert.Equal(t, op, got)
	}

	shared := new(int)
	_, err = NewTable(func(op Opcode) any { return shared })
	assert.Error(t, err)
}
