package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colorfulnotion/cvm/coder"
	"github.com/colorfulnotion/cvm/config"
	"github.com/colorfulnotion/cvm/cvm"
	"github.com/colorfulnotion/cvm/il"
	"github.com/colorfulnotion/cvm/unroll"
)

func TestOpcodeTableIsShared(t *testing.T) {
	a, err := OpcodeTable()
	require.NoError(t, err)
	b, err := OpcodeTable()
	require.NoError(t, err)
	assert.Same(t, a, b)

	for i, h := range handlerSet.main {
		if h == nil {
			continue
		}
		op, ok := a.Opcode(h)
		require.True(t, ok, "handler 0x%02x", i)
		assert.Equal(t, h.Op, op)
	}
	_, ok := a.Opcode(&Handler{Op: cvm.COP_NOP})
	assert.False(t, ok, "only table handlers map back")
}

func defineAdd(t *testing.T, mode string) (*Engine, *Method) {
	t.Helper()
	cfg := config.Default()
	cfg.Engine.Mode = mode
	e, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	info := &il.MethodInfo{Name: "Add", Signature: il.Signature{Params: []il.Type{il.Int32, il.Int32}, Return: il.Int32}}
	m, err := e.Define(nil, info, func(cd *coder.Coder) error {
		cd.LoadArg(0)
		cd.LoadArg(1)
		cd.Binary(il.ADD, il.EngineI4, il.EngineI4)
		cd.Return(il.Int32)
		return nil
	})
	require.NoError(t, err)
	return e, m
}

func TestDirectStreamMatchesCode(t *testing.T) {
	e, m := defineAdd(t, config.ModeDirect)
	comp := m.compiled.Load()
	require.NotNil(t, comp)
	end := len(comp.code)
	if comp.body.TableOffset >= 0 {
		end = comp.body.TableOffset
	}
	n := 0
	err := cvm.Walk(comp.code, 0, end, cvm.Layout64, func(ins cvm.Instruction) bool {
		h, ok := comp.Handler(ins.PC).(*Handler)
		require.True(t, ok, "pc %d", ins.PC)
		op, ok := e.Table().Opcode(h)
		require.True(t, ok)
		assert.Equal(t, ins.Op, op)
		n++
		return true
	})
	require.NoError(t, err)
	assert.Positive(t, n)
	assert.Nil(t, comp.Handler(-1))
	assert.Nil(t, comp.Handler(len(comp.code)))
}

func TestPatchSwapsOneSlot(t *testing.T) {
	_, m := defineAdd(t, config.ModeDirect)
	comp := m.compiled.Load()
	orig := comp.slots[0].Load()
	require.NotNil(t, orig)
	require.False(t, orig.Native())

	f := &unroll.Fragment{Start: 0, End: 2, Entry: 0x1000}
	comp.Patch(f)
	h := comp.slots[0].Load()
	require.True(t, h.Native())
	assert.Same(t, orig, h.orig)
	assert.Equal(t, orig.Op, h.Op)
	assert.Equal(t, 1, comp.native())

	g := &unroll.Fragment{Start: 0, End: 2, Entry: 0x2000}
	comp.Patch(g)
	assert.Same(t, orig, comp.slots[0].Load().orig, "patches never chain")
	assert.Equal(t, 1, comp.native())

	comp.Patch(&unroll.Fragment{Start: 1, Entry: 0x3000})
	assert.Equal(t, 1, comp.native(), "operand bytes have no slot")
}

func TestTokenModeIgnoresPatch(t *testing.T) {
	e, m := defineAdd(t, config.ModeToken)
	comp := m.compiled.Load()
	assert.Nil(t, comp.slots)
	comp.Patch(&unroll.Fragment{Start: 0, Entry: 0x1000})
	assert.Zero(t, comp.native())

	res, err := e.Invoke(context.Background(), m, cvm.Word(40), cvm.Word(2))
	require.NoError(t, err)
	assert.Equal(t, []cvm.Word{42}, res)
}

func TestStaleFragmentFallsBack(t *testing.T) {
	e, m := defineAdd(t, config.ModeDirect)
	comp := m.compiled.Load()
	native := e.cache.Native()
	// never entered: the region is reset before the call
	comp.Patch(&unroll.Fragment{Start: 0, End: 2, Entry: 0x1000, Epoch: native.Epoch()})
	require.Equal(t, 1, comp.native())
	native.Reset()

	res, err := e.Invoke(context.Background(), m, cvm.Word(40), cvm.Word(2))
	require.NoError(t, err)
	assert.Equal(t, []cvm.Word{42}, res)
	assert.Zero(t, e.fragmentRuns.Load())
}

func TestEvictionDropsCompiledBody(t *testing.T) {
	e, m := defineAdd(t, config.ModeDirect)
	require.NotNil(t, m.compiled.Load())
	require.True(t, e.cache.Evict(m))
	assert.Nil(t, m.compiled.Load())
	assert.EqualValues(t, 1, e.evictions.Load())

	res, err := e.Invoke(context.Background(), m, cvm.Word(1), cvm.Word(2))
	require.NoError(t, err)
	assert.Equal(t, []cvm.Word{3}, res)
	assert.EqualValues(t, 2, e.compiles.Load())
}
