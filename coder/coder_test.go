package coder

import (
	"errors"
	"testing"

	"github.com/colorfulnotion/cvm/cache"
	"github.com/colorfulnotion/cvm/config"
	"github.com/colorfulnotion/cvm/cvm"
	"github.com/colorfulnotion/cvm/cvmerrors"
	"github.com/colorfulnotion/cvm/il"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCoder(t *testing.T, layout cvm.Layout, pageSize, maxBytes int) (*Coder, *cache.Cache) {
	t.Helper()
	c, err := cache.New(config.CacheConfig{PageSize: pageSize, MaxBytes: maxBytes, MaxMethods: 64})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	cd, err := New(c, layout)
	require.NoError(t, err)
	return cd, c
}

func staticMethod(name string, ret il.Type, params []il.Type, locals ...il.Type) *il.MethodInfo {
	return &il.MethodInfo{
		Name:      name,
		Signature: il.Signature{Params: params, Return: ret},
		Locals:    locals,
	}
}

// listing decodes code[start:end].
func listing(t *testing.T, code []byte, start, end int, l cvm.Layout) []cvm.Instruction {
	t.Helper()
	var out []cvm.Instruction
	require.NoError(t, cvm.Walk(code, start, end, l, func(ins cvm.Instruction) bool {
		out = append(out, ins)
		return true
	}))
	return out
}

func opsOf(ins []cvm.Instruction) []cvm.Opcode {
	ops := make([]cvm.Opcode, len(ins))
	for i, in := range ins {
		ops[i] = in.Op
	}
	return ops
}

func TestSimpleMethod(t *testing.T) {
	cd, _ := newCoder(t, cvm.Layout64, 4096, 1<<16)
	m := staticMethod("Add", il.Int32, []il.Type{il.Int32, il.Int32}, il.Int32)
	require.NoError(t, cd.Setup("Add", m))
	cd.LoadArg(0)
	cd.LoadArg(1)
	assert.Equal(t, 2, cd.Height())
	cd.Binary(il.ADD, il.EngineI4, il.EngineI4)
	cd.StoreLocal(0)
	cd.LoadLocal(0)
	cd.Return(il.Int32)
	assert.Equal(t, 0, cd.Height())

	body, ok, err := cd.Finish()
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, body.Code, 12)

	ins := listing(t, body.Code, 0, len(body.Code), cvm.Layout64)
	assert.Equal(t, []cvm.Opcode{
		cvm.COP_CKHEIGHT_N, cvm.COP_MK_LOCAL_1, cvm.COP_ILOAD_0, cvm.COP_ILOAD_1,
		cvm.COP_IADD, cvm.COP_ISTORE_2, cvm.COP_ILOAD_2, cvm.COP_RETURN_1,
	}, opsOf(ins))
	assert.Equal(t, int64(1+2), ins[0].Args[0], "locals plus max height")
	assert.Equal(t, -1, body.TableOffset)
}

func TestStackRefreshBounds(t *testing.T) {
	cd, _ := newCoder(t, cvm.Layout64, 4096, 1<<16)
	m := staticMethod("Drop", il.Void, nil)
	require.NoError(t, cd.Setup("Drop", m))
	assert.Equal(t, 0, cd.MinHeight())

	cd.StackRefresh(3)
	assert.Equal(t, 3, cd.MinHeight())
	cd.Pop(il.Int32)
	cd.Pop(il.Int32)
	cd.LoadInt32(7)
	cd.Pop(il.Int32)
	cd.Pop(il.Int32)
	assert.Equal(t, 0, cd.Height())
	assert.Equal(t, 0, cd.MinHeight())
	assert.Equal(t, 3, cd.MaxHeight())

	cd.StackRefresh(2)
	cd.LoadInt32(1)
	cd.Pop(il.Int32)
	cd.Pop(il.Int32)
	assert.Equal(t, 1, cd.MinHeight(), "two words declared, one consumed")
	cd.Pop(il.Int32)
	cd.Return(il.Void)
	_, ok, err := cd.Finish()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStackUnderflow(t *testing.T) {
	cd, c := newCoder(t, cvm.Layout64, 4096, 1<<16)
	require.NoError(t, cd.Setup("bad", staticMethod("bad", il.Void, nil)))
	cd.Pop(il.Int32)
	cd.Return(il.Void)
	_, ok, err := cd.Finish()
	assert.False(t, ok)
	assert.True(t, errors.Is(err, cvmerrors.ErrStackUnderflow))
	_, found := c.Lookup("bad")
	assert.False(t, found)

	// the coder is usable again
	require.NoError(t, cd.Setup("good", staticMethod("good", il.Void, nil)))
	cd.Return(il.Void)
	_, ok, err = cd.Finish()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNativeIntMixing32(t *testing.T) {
	cd, _ := newCoder(t, cvm.Layout32, 4096, 1<<16)
	m := staticMethod("mix", il.NativeI, []il.Type{il.Int32, il.NativeI})
	require.NoError(t, cd.Setup("mix", m))
	cd.LoadArg(0)
	cd.LoadArg(1)
	start := cd.Position()
	cd.Binary(il.ADD, il.EngineI4, il.EngineI)
	end := cd.Position()
	assert.Equal(t, 1, cd.Height(), "net delta -1")
	cd.Return(il.NativeI)

	body, ok, err := cd.Finish()
	require.NoError(t, err)
	require.True(t, ok)
	ins := listing(t, body.Code, start, end, cvm.Layout32)
	require.Len(t, ins, 2)
	assert.Equal(t, cvm.COP_PREFIX_I2P_LOWER, ins[0].Op)
	assert.Equal(t, int64(1), ins[0].Args[0], "the deeper operand is the I4")
	assert.Equal(t, cvm.COP_IADD, ins[1].Op)
}

func TestNativeIntMixing64(t *testing.T) {
	cd, _ := newCoder(t, cvm.Layout64, 4096, 1<<16)
	m := staticMethod("mix", il.NativeI, []il.Type{il.NativeI, il.Int32})
	require.NoError(t, cd.Setup("mix", m))
	cd.LoadArg(0)
	cd.LoadArg(1)
	start := cd.Position()
	cd.Binary(il.SUB, il.EngineI, il.EngineI4)
	end := cd.Position()
	cd.Return(il.NativeI)
	body, _, err := cd.Finish()
	require.NoError(t, err)
	ins := listing(t, body.Code, start, end, cvm.Layout64)
	assert.Equal(t, []cvm.Opcode{cvm.COP_PREFIX_I2P_LOWER, cvm.COP_LSUB}, opsOf(ins))
	assert.Equal(t, int64(0), ins[0].Args[0])
}

func TestLocalWidening(t *testing.T) {
	cd, _ := newCoder(t, cvm.Layout64, 4096, 1<<16)
	locals := make([]il.Type, 300)
	for i := range locals {
		locals[i] = il.Int32
	}
	require.NoError(t, cd.Setup("wide", staticMethod("wide", il.Void, nil, locals...)))
	start := cd.Position()
	cd.LoadLocal(255)
	cd.StoreLocal(256)
	cd.Return(il.Void)
	body, _, err := cd.Finish()
	require.NoError(t, err)

	ins := listing(t, body.Code, start, len(body.Code), cvm.Layout64)
	require.Len(t, ins, 3)
	assert.Equal(t, cvm.COP_ILOAD, ins[0].Op)
	assert.False(t, ins[0].Wide)
	assert.Equal(t, cvm.CVM_LEN_BYTE, ins[0].Length)
	assert.Equal(t, cvm.COP_ISTORE, ins[1].Op)
	assert.True(t, ins[1].Wide)
	assert.Equal(t, int64(256), ins[1].Args[0])
	assert.Equal(t, cvm.CVM_LEN_WIDE_SMALL, ins[1].Length)

	head := listing(t, body.Code, 0, start, cvm.Layout64)
	assert.Equal(t, cvm.COP_MK_LOCAL_N, head[1].Op)
	assert.True(t, head[1].Wide)
	assert.Equal(t, int64(300), head[1].Args[0])
}

func TestBranchRelaxation(t *testing.T) {
	cd, _ := newCoder(t, cvm.Layout64, 4096, 1<<16)
	m := staticMethod("br", il.Void, []il.Type{il.Int32})
	require.NoError(t, cd.Setup("br", m))

	cd.LoadArg(0)
	near := cd.Position()
	cd.Branch(il.BRTRUE_S, 10, il.EngineI4)
	cd.LoadArg(0)
	far := cd.Position()
	cd.Branch(il.BRFALSE, 20, il.EngineI4)
	cd.Label(10)
	for i := 0; i < 40; i++ {
		cd.LoadInt32(1000)
		cd.Pop(il.Int32)
	}
	cd.Label(20)
	back := cd.Position()
	cd.Branch(il.BR, 10, il.EngineInvalid)
	cd.Label(30)
	cd.Return(il.Void)

	body, ok, err := cd.Finish()
	require.NoError(t, err)
	require.True(t, ok)

	n, err := cvm.Decode(body.Code, near, cvm.Layout64)
	require.NoError(t, err)
	assert.False(t, n.Long, "forward branch relaxed to rel8")
	assert.Equal(t, cvm.COP_BRTRUE, n.Op)
	assert.Equal(t, far+cvm.CVM_LEN_BRANCH, n.Target)

	f, err := cvm.Decode(body.Code, far, cvm.Layout64)
	require.NoError(t, err)
	assert.True(t, f.Long)
	assert.Equal(t, back, f.Target)

	b, err := cvm.Decode(body.Code, back, cvm.Layout64)
	require.NoError(t, err)
	assert.True(t, b.Long)
	assert.Equal(t, far+cvm.CVM_LEN_BRANCH, b.Target)
}

func TestUnresolvedLabel(t *testing.T) {
	cd, _ := newCoder(t, cvm.Layout64, 4096, 1<<16)
	require.NoError(t, cd.Setup("u", staticMethod("u", il.Void, nil)))
	cd.Branch(il.BR, 99, il.EngineInvalid)
	cd.Label(5)
	cd.Return(il.Void)
	_, ok, err := cd.Finish()
	assert.False(t, ok)
	assert.True(t, errors.Is(err, cvmerrors.ErrUnresolvedLabel))
}

func TestHeightMismatch(t *testing.T) {
	cd, _ := newCoder(t, cvm.Layout64, 4096, 1<<16)
	require.NoError(t, cd.Setup("h", staticMethod("h", il.Void, []il.Type{il.Int32})))
	cd.LoadArg(0)
	cd.Branch(il.BRTRUE, 8, il.EngineI4)
	cd.LoadInt32(3)
	cd.Label(8)
	cd.Return(il.Void)
	_, _, err := cd.Finish()
	assert.True(t, errors.Is(err, cvmerrors.ErrHeightMismatch))
}

func TestSwitch(t *testing.T) {
	cd, _ := newCoder(t, cvm.Layout64, 4096, 1<<16)
	require.NoError(t, cd.Setup("sw", staticMethod("sw", il.Int32, []il.Type{il.Int32})))
	cd.LoadArg(0)
	at := cd.Position()
	cd.Switch([]uint32{10, 20})
	cd.LoadInt32(0)
	cd.Return(il.Int32)
	cd.Label(10)
	l10 := cd.Position()
	cd.LoadInt32(1)
	cd.Return(il.Int32)
	cd.Label(20)
	l20 := cd.Position()
	cd.LoadInt32(2)
	cd.Return(il.Int32)
	body, _, err := cd.Finish()
	require.NoError(t, err)

	ins, err := cvm.Decode(body.Code, at, cvm.Layout64)
	require.NoError(t, err)
	assert.Equal(t, cvm.COP_SWITCH, ins.Op)
	assert.Equal(t, []int{l10, l20}, ins.Targets)
	assert.Equal(t, cvm.CVM_LEN_WORD+8, ins.Length)
}

func TestFinishResults(t *testing.T) {
	filler := func(cd *Coder, n int) {
		for i := 0; i < n; i++ {
			cd.LoadInt32(100000)
			cd.Pop(il.Int32)
		}
		cd.Return(il.Void)
	}

	cd, _ := newCoder(t, cvm.Layout64, 128, 128)
	require.NoError(t, cd.Setup("m1", staticMethod("m1", il.Void, nil)))
	filler(cd, 10)
	_, ok, err := cd.Finish()
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, cd.Setup("m2", staticMethod("m2", il.Void, nil)))
	filler(cd, 10)
	_, ok, err = cd.Finish()
	assert.False(t, ok)
	assert.True(t, errors.Is(err, cvmerrors.ErrCacheFull))

	big, _ := newCoder(t, cvm.Layout64, 64, 1024)
	require.NoError(t, big.Setup("huge", staticMethod("huge", il.Void, nil)))
	filler(big, 20)
	_, ok, err = big.Finish()
	assert.False(t, ok)
	assert.True(t, errors.Is(err, cvmerrors.ErrMethodTooLarge))
}

func TestConversions(t *testing.T) {
	tests := []struct {
		name   string
		layout cvm.Layout
		op     il.Opcode
		from   il.EngineType
		want   []cvm.Opcode
		height int
	}{
		{"i4 to i1", cvm.Layout64, il.CONV_I1, il.EngineI4, []cvm.Opcode{cvm.COP_I2B}, 1},
		{"i8 to u2", cvm.Layout64, il.CONV_U2, il.EngineI8, []cvm.Opcode{cvm.COP_L2I, cvm.COP_I2US}, 1},
		{"f to r4", cvm.Layout64, il.CONV_R4, il.EngineF, []cvm.Opcode{cvm.COP_F2F}, 1},
		{"i4 to i on 64", cvm.Layout64, il.CONV_I, il.EngineI4, []cvm.Opcode{cvm.COP_I2L}, 1},
		{"i4 to u on 32", cvm.Layout32, il.CONV_U, il.EngineI4, nil, 1},
		{"i8 to i4 on 32", cvm.Layout32, il.CONV_I4, il.EngineI8, []cvm.Opcode{cvm.COP_L2I}, 1},
		{"i4 to i8 on 32", cvm.Layout32, il.CONV_I8, il.EngineI4, []cvm.Opcode{cvm.COP_I2L}, 2},
		{"ovf i8 to u1", cvm.Layout64, il.CONV_OVF_U1, il.EngineI8, []cvm.Opcode{cvm.COP_PREFIX_L2I_OVF, cvm.COP_PREFIX_I2UB_OVF}, 1},
		{"ovf un i4 to i4", cvm.Layout64, il.CONV_OVF_I4_UN, il.EngineI4, []cvm.Opcode{cvm.COP_PREFIX_IU2I_OVF}, 1},
		{"ovf f to u8", cvm.Layout64, il.CONV_OVF_U8, il.EngineF, []cvm.Opcode{cvm.COP_PREFIX_F2LU_OVF}, 1},
		{"ovf un i to u on 64", cvm.Layout64, il.CONV_OVF_U_UN, il.EngineI, nil, 1},
		{"r un from i8", cvm.Layout64, il.CONV_R_UN, il.EngineI8, []cvm.Opcode{cvm.COP_LU2F}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cd, _ := newCoder(t, tt.layout, 4096, 1<<16)
			src := map[il.EngineType]il.Type{il.EngineI4: il.Int32, il.EngineI8: il.Int64, il.EngineF: il.Float64, il.EngineI: il.NativeI}[tt.from]
			require.NoError(t, cd.Setup("conv", staticMethod("conv", il.Void, []il.Type{src})))
			cd.LoadArg(0)
			start := cd.Position()
			cd.Conv(tt.op, tt.from)
			end := cd.Position()
			assert.Equal(t, tt.height, cd.Height())
			if tt.height == 2 {
				cd.Pop(il.Int64)
			} else {
				cd.Pop(il.Int32)
			}
			cd.Return(il.Void)
			body, _, err := cd.Finish()
			require.NoError(t, err)
			var got []cvm.Opcode
			if end > start {
				got = opsOf(listing(t, body.Code, start, end, tt.layout))
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFloatCompares(t *testing.T) {
	cases := map[il.Opcode]cvm.Opcode{
		il.CEQ:    cvm.COP_FCMPL,
		il.CGT:    cvm.COP_FCMPL,
		il.CGT_UN: cvm.COP_FCMPG,
		il.CLT:    cvm.COP_FCMPG,
		il.CLT_UN: cvm.COP_FCMPL,
	}
	for op, want := range cases {
		cd, _ := newCoder(t, cvm.Layout64, 4096, 1<<16)
		require.NoError(t, cd.Setup("cmp", staticMethod("cmp", il.Int32, []il.Type{il.Float64, il.Float64})))
		cd.LoadArg(0)
		cd.LoadArg(1)
		start := cd.Position()
		cd.Compare(op, il.EngineF, il.EngineF)
		end := cd.Position()
		assert.Equal(t, 1, cd.Height())
		cd.Return(il.Int32)
		body, _, err := cd.Finish()
		require.NoError(t, err)
		ins := listing(t, body.Code, start, end, cvm.Layout64)
		require.Len(t, ins, 2)
		assert.Equal(t, want, ins[0].Op, op.String())
	}
}

func TestCatchTable(t *testing.T) {
	cd, _ := newCoder(t, cvm.Layout64, 4096, 1<<16)
	m := staticMethod("tc", il.Void, nil)
	m.Clauses = []il.ExceptionClause{{
		Flags: il.ClauseCatch, TryOffset: 0, TryLength: 10,
		HandlerOffset: 10, HandlerLength: 10, Class: 7,
	}}
	require.NoError(t, cd.Setup("tc", m))
	cd.Label(0)
	tryStart := cd.Position()
	cd.LoadInt32(1)
	cd.Pop(il.Int32)
	cd.Leave(20)
	cd.Label(10)
	handler := cd.Position()
	assert.Equal(t, 1, cd.Height(), "handler entered with the exception")
	cd.Pop(il.Object)
	cd.Leave(20)
	cd.Label(20)
	cd.Return(il.Void)

	body, ok, err := cd.Finish()
	require.NoError(t, err)
	require.True(t, ok)
	entries, err := body.TryEntries()
	require.NoError(t, err)
	require.Len(t, entries, 2)

	e := entries[0]
	assert.Equal(t, uint32(tryStart), e.Start)
	assert.Equal(t, uint32(handler), e.End)
	assert.True(t, entries[1].LastChance())
	assert.Equal(t, entries[1].Offset, e.Next())

	ins := listing(t, body.Code, e.CodeOffset(), entries[1].Offset, cvm.Layout64)
	assert.Equal(t, []cvm.Opcode{
		cvm.COP_PREFIX_CATCH_MATCH, cvm.COP_PREFIX_PUSH_EXCEPTION, cvm.COP_BR, cvm.COP_PREFIX_CONTINUE_SCAN,
	}, opsOf(ins))
	assert.Equal(t, int64(7), ins[0].Args[0])
	assert.Equal(t, ins[3].PC, ins[0].Target, "a failed match falls through to the next clause")
	assert.Equal(t, handler, ins[2].Target)
	codeLen := ins[3].PC + ins[3].Length - e.CodeOffset()
	assert.Equal(t, uint32(codeLen+8), e.Length)

	last := listing(t, body.Code, entries[1].CodeOffset(), len(body.Code), cvm.Layout64)
	assert.Equal(t, []cvm.Opcode{cvm.COP_PREFIX_THROW_CALLER}, opsOf(last))
}

func TestRethrowLocal(t *testing.T) {
	cd, _ := newCoder(t, cvm.Layout64, 4096, 1<<16)
	m := staticMethod("rt", il.Void, nil)
	m.HasRethrow = true
	m.Clauses = []il.ExceptionClause{{Flags: il.ClauseCatch, TryLength: 4, HandlerOffset: 4, HandlerLength: 4, Class: 3}}
	require.NoError(t, cd.Setup("rt", m))
	cd.Label(0)
	cd.Leave(8)
	cd.Label(4)
	cd.Pop(il.Object)
	cd.Rethrow(0)
	cd.Label(8)
	cd.Return(il.Void)
	body, _, err := cd.Finish()
	require.NoError(t, err)

	head := listing(t, body.Code, 0, 5+1, cvm.Layout64)
	assert.Equal(t, cvm.COP_MK_LOCAL_1, head[1].Op, "one word for the caught exception")
	entries, err := body.TryEntries()
	require.NoError(t, err)
	ins := listing(t, body.Code, entries[0].CodeOffset(), entries[1].Offset, cvm.Layout64)
	assert.Equal(t, []cvm.Opcode{
		cvm.COP_PREFIX_CATCH_MATCH, cvm.COP_PREFIX_PUSH_EXCEPTION, cvm.COP_DUP, cvm.COP_PSTORE_0,
		cvm.COP_BR, cvm.COP_PREFIX_CONTINUE_SCAN,
	}, opsOf(ins))
}

func TestUnbalancedTry(t *testing.T) {
	cd, _ := newCoder(t, cvm.Layout64, 4096, 1<<16)
	require.NoError(t, cd.Setup("ub", staticMethod("ub", il.Void, nil)))
	cd.Label(0)
	cd.Label(4)
	cd.Return(il.Void)
	cd.TryHandlerStart(0, 4)
	_, ok, err := cd.Finish()
	assert.False(t, ok)
	assert.True(t, errors.Is(err, cvmerrors.ErrUnbalancedTry))
}

func TestFieldForms(t *testing.T) {
	small := &il.FieldRef{Name: "x", Type: il.Int32, Offset: 16}
	large := &il.FieldRef{Name: "y", Type: il.Int32, Offset: 1000}
	this := il.MethodInfo{Name: "f", Signature: il.Signature{HasThis: true, Return: il.Int32}, Class: 9}

	t.Run("short offset", func(t *testing.T) {
		cd, _ := newCoder(t, cvm.Layout64, 4096, 1<<16)
		m := this
		require.NoError(t, cd.Setup("f", &m))
		cd.LoadArg(0)
		start := cd.Position()
		cd.LoadField(small, false)
		end := cd.Position()
		cd.Return(il.Int32)
		body, _, err := cd.Finish()
		require.NoError(t, err)
		ins := listing(t, body.Code, start, end, cvm.Layout64)
		require.Len(t, ins, 1)
		assert.Equal(t, cvm.COP_IREAD_FIELD, ins[0].Op)
		assert.Equal(t, int64(16), ins[0].Args[0])
	})

	t.Run("long offset", func(t *testing.T) {
		cd, _ := newCoder(t, cvm.Layout64, 4096, 1<<16)
		m := this
		require.NoError(t, cd.Setup("f", &m))
		cd.LoadArg(0)
		start := cd.Position()
		cd.LoadField(large, false)
		end := cd.Position()
		assert.Equal(t, 1, cd.Height())
		assert.Equal(t, 2, cd.MaxHeight())
		cd.Return(il.Int32)
		body, _, err := cd.Finish()
		require.NoError(t, err)
		ins := listing(t, body.Code, start, end, cvm.Layout64)
		assert.Equal(t, []cvm.Opcode{cvm.COP_CKNULL, cvm.COP_LDC_I4, cvm.COP_PADD_I4, cvm.COP_IREAD}, opsOf(ins))
		assert.Equal(t, int64(1000), ins[1].Args[0])
	})

	t.Run("this field", func(t *testing.T) {
		cd, _ := newCoder(t, cvm.Layout64, 4096, 1<<16)
		m := this
		require.NoError(t, cd.Setup("f", &m))
		start := cd.Position()
		cd.LoadThisField(small)
		end := cd.Position()
		cd.Return(il.Int32)
		body, _, err := cd.Finish()
		require.NoError(t, err)
		ins := listing(t, body.Code, start, end, cvm.Layout64)
		assert.Equal(t, []cvm.Opcode{cvm.COP_IREAD_THIS}, opsOf(ins))
	})

	t.Run("store long offset", func(t *testing.T) {
		cd, _ := newCoder(t, cvm.Layout64, 4096, 1<<16)
		m := this
		m.Signature.Return = il.Void
		require.NoError(t, cd.Setup("f", &m))
		cd.LoadArg(0)
		cd.LoadInt32(5)
		start := cd.Position()
		cd.StoreField(large, true)
		end := cd.Position()
		assert.Equal(t, 0, cd.Height())
		cd.Return(il.Void)
		body, _, err := cd.Finish()
		require.NoError(t, err)
		ins := listing(t, body.Code, start, end, cvm.Layout64)
		assert.Equal(t, []cvm.Opcode{
			cvm.COP_DUP_WORD_N, cvm.COP_LDC_I4, cvm.COP_PADD_I4, cvm.COP_PUSHDOWN, cvm.COP_SQUASH, cvm.COP_IWRITE,
		}, opsOf(ins))
	})
}

func TestAddressTakenSmallLocal(t *testing.T) {
	cd, _ := newCoder(t, cvm.Layout64, 4096, 1<<16)
	m := staticMethod("at", il.Void, []il.Type{il.Int16}, il.UInt8)
	m.AddressTakenArgs = []uint32{0}
	m.AddressTakenLocals = []uint32{0}
	require.NoError(t, cd.Setup("at", m))
	body := cd.Position()
	cd.LoadArg(0)
	cd.StoreLocal(0)
	cd.AddressOfLocal(0)
	cd.Pop(il.ByRef)
	cd.Return(il.Void)
	meth, _, err := cd.Finish()
	require.NoError(t, err)

	head := listing(t, meth.Code, 0, body, cvm.Layout64)
	assert.Equal(t, cvm.COP_SFIXUP, head[len(head)-1].Op)
	ins := listing(t, meth.Code, body, len(meth.Code), cvm.Layout64)
	assert.Equal(t, []cvm.Opcode{
		cvm.COP_WADDR, cvm.COP_SREAD,
		cvm.COP_WADDR, cvm.COP_PUSHDOWN, cvm.COP_BWRITE,
		cvm.COP_WADDR, cvm.COP_POP, cvm.COP_RETURN,
	}, opsOf(ins))
}
