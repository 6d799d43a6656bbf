package unroll_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/arch/x86/x86asm"

	"github.com/colorfulnotion/cvm/cache"
	"github.com/colorfulnotion/cvm/config"
	"github.com/colorfulnotion/cvm/cvm"
	"github.com/colorfulnotion/cvm/cvmerrors"
	"github.com/colorfulnotion/cvm/unroll"
	"github.com/colorfulnotion/cvm/unroll/x86"
)

type opHandler struct{ op cvm.Opcode }

// stream is a slot stream whose handlers are the table's own values.
type stream struct {
	code    []byte
	table   *cvm.Table
	patched map[int]*unroll.Fragment
}

func (s *stream) Code() []byte { return s.code }

func (s *stream) Handler(pc int) any {
	if _, ok := s.patched[pc]; ok {
		return nil
	}
	return s.table.Handler(cvm.OpcodeAt(s.code, pc))
}

func (s *stream) Patch(f *unroll.Fragment) { s.patched[f.Start] = f }

func testTable(t *testing.T) *cvm.Table {
	t.Helper()
	table, err := cvm.NewTable(func(op cvm.Opcode) any { return &opHandler{op} })
	require.NoError(t, err)
	return table
}

func setup(t *testing.T, cfg config.UnrollConfig, nativeBytes int, code []byte) (*unroll.Unroller, *cache.Method, *stream) {
	t.Helper()
	c, err := cache.New(config.CacheConfig{PageSize: 4096, MaxBytes: 16384, NativeBytes: nativeBytes, MaxMethods: 16})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	p, err := c.StartMethod("m")
	require.NoError(t, err)
	p.Bytes(code)
	m, res := c.EndMethod(p)
	require.Equal(t, cache.EndOK, res)

	table := testTable(t)
	if cfg.MinBlockSpace == 0 {
		cfg.MinBlockSpace = 512
	}
	u, err := unroll.New(table, c, x86.New(), cfg, true)
	require.NoError(t, err)
	return u, m, &stream{code: m.Code, table: table, patched: map[int]*unroll.Fragment{}}
}

func asm(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func op(o cvm.Opcode) []byte { return cvm.AppendOp(nil, o) }

func decode(t *testing.T, code []byte) []x86asm.Inst {
	t.Helper()
	var out []x86asm.Inst
	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], 64)
		require.NoError(t, err)
		out = append(out, inst)
		off += inst.Len
	}
	return out
}

func reasonsStored(insts []x86asm.Inst) []int64 {
	var out []int64
	for _, in := range insts {
		if in.Op != x86asm.MOV {
			continue
		}
		if m, ok := in.Args[0].(x86asm.Mem); ok && m.Base == x86asm.RDI && m.Disp == unroll.CtxReason {
			out = append(out, int64(in.Args[1].(x86asm.Imm)))
		}
	}
	return out
}

func TestArrayStoreIsGuarded(t *testing.T) {
	code := asm(
		op(cvm.COP_PLOAD_0),
		op(cvm.COP_ILOAD_1),
		op(cvm.COP_ILOAD_2),
		op(cvm.COP_IWRITE_ELEM),
		op(cvm.COP_RETURN),
	)
	u, m, s := setup(t, config.UnrollConfig{}, 64<<10, code)
	frags, err := u.Unroll(m, s)
	require.NoError(t, err)
	require.Len(t, frags, 1)

	f := frags[0]
	assert.Equal(t, 0, f.Start)
	assert.Equal(t, 4, f.End)
	assert.Equal(t, 4, f.Ops)
	assert.Equal(t, 2, f.Guards, "null and bounds checks")
	assert.Same(t, f, s.patched[0])

	insts := decode(t, f.Code)
	var jumps []x86asm.Op
	for _, in := range insts {
		switch in.Op {
		case x86asm.JE, x86asm.JNE, x86asm.JB, x86asm.JAE:
			jumps = append(jumps, in.Op)
		}
	}
	// each guard skips its slow path when the check passes
	assert.Equal(t, []x86asm.Op{x86asm.JNE, x86asm.JB}, jumps)
	assert.Equal(t, []int64{int64(unroll.ReExecute), int64(unroll.ReExecute), int64(unroll.Continue)}, reasonsStored(insts))

	st := u.Stats()
	assert.EqualValues(t, 1, st.Blocks)
	assert.EqualValues(t, 4, st.Instructions)
	assert.EqualValues(t, 2, st.Guards)
}

func TestStoreLoadUsesCachedRegister(t *testing.T) {
	code := asm(
		op(cvm.COP_LDC_I4_1),
		op(cvm.COP_LDC_I4_2),
		cvm.AppendLocal(nil, cvm.COP_ISTORE, 5),
		cvm.AppendLocal(nil, cvm.COP_ISTORE, 5),
		cvm.AppendLocal(nil, cvm.COP_ILOAD, 5),
		op(cvm.COP_RETURN_1),
	)
	u, m, s := setup(t, config.UnrollConfig{}, 64<<10, code)
	frags, err := u.Unroll(m, s)
	require.NoError(t, err)
	require.Len(t, frags, 1)
	assert.Equal(t, 5, frags[0].Ops)
	assert.EqualValues(t, 1, u.Stats().CachedHits)

	loads := 0
	for _, in := range decode(t, frags[0].Code) {
		if mem, ok := in.Args[1].(x86asm.Mem); ok && in.Op == x86asm.MOV && mem.Base == x86asm.RBX {
			loads++
		}
	}
	assert.Zero(t, loads, "the load of local 5 reuses the stored register")
}

func TestBranchTargetsSplitBlocks(t *testing.T) {
	// 0: ldc_i4_0  1: brtrue -> 9  7: ldc_i4_1  8: pop  9: ldc_i4_2  10: return_1
	code := asm(
		op(cvm.COP_LDC_I4_0),
		cvm.AppendBranch(nil, cvm.COP_BRTRUE, 8),
		op(cvm.COP_LDC_I4_1),
		op(cvm.COP_POP),
		op(cvm.COP_LDC_I4_2),
		op(cvm.COP_RETURN_1),
	)
	u, m, s := setup(t, config.UnrollConfig{}, 64<<10, code)
	labels, err := unroll.Labels(m)
	require.NoError(t, err)
	assert.True(t, labels[0])
	assert.True(t, labels[9])

	frags, err := u.Unroll(m, s)
	require.NoError(t, err)
	require.Len(t, frags, 3)
	assert.Equal(t, []int{0, 7, 9}, []int{frags[0].Start, frags[1].Start, frags[2].Start})
	assert.Equal(t, 7, frags[0].End)
	assert.Equal(t, 9, frags[1].End)
	assert.Equal(t, 10, frags[2].End)
}

func TestAllowList(t *testing.T) {
	code := asm(op(cvm.COP_LDC_I4_1), op(cvm.COP_LDC_I4_2), op(cvm.COP_IADD), op(cvm.COP_RETURN_1))
	u, m, s := setup(t, config.UnrollConfig{Allow: []string{"iadd"}}, 64<<10, code)
	assert.True(t, u.Allowed(cvm.COP_IADD))
	assert.False(t, u.Allowed(cvm.COP_LDC_I4_1))
	frags, err := u.Unroll(m, s)
	require.NoError(t, err)
	require.Len(t, frags, 1)
	assert.Equal(t, 2, frags[0].Start)
	assert.Equal(t, 1, frags[0].Ops)

	_, err = unroll.New(testTable(t), nil, x86.New(), config.UnrollConfig{Allow: []string{"call"}}, false)
	assert.True(t, errors.Is(err, cvmerrors.ErrBadConfig))
}

func TestDeepStackSpills(t *testing.T) {
	var parts [][]byte
	for i := 0; i < 20; i++ {
		parts = append(parts, op(cvm.COP_LDC_I4_1))
	}
	for i := 0; i < 19; i++ {
		parts = append(parts, op(cvm.COP_IADD))
	}
	parts = append(parts, op(cvm.COP_RETURN_1))
	u, m, s := setup(t, config.UnrollConfig{}, 256<<10, asm(parts...))
	frags, err := u.Unroll(m, s)
	require.NoError(t, err)
	require.Len(t, frags, 1)
	assert.Equal(t, 39, frags[0].Ops)
	assert.Equal(t, []int64{int64(unroll.Continue)}, reasonsStored(decode(t, frags[0].Code)))
}

func TestNoNativeSpace(t *testing.T) {
	code := asm(op(cvm.COP_LDC_I4_1), op(cvm.COP_RETURN_1))
	u, m, s := setup(t, config.UnrollConfig{MinBlockSpace: 8192}, 4096, code)
	frags, err := u.Unroll(m, s)
	assert.True(t, errors.Is(err, cvmerrors.ErrUnrollNoSpace))
	assert.Empty(t, frags)
	assert.Empty(t, s.patched)
	assert.EqualValues(t, 1, u.Stats().Abandoned)
}

func frameLoads(t *testing.T, code []byte) int {
	t.Helper()
	n := 0
	for _, in := range decode(t, code) {
		if mem, ok := in.Args[1].(x86asm.Mem); ok && in.Op == x86asm.MOV && mem.Base == x86asm.RBX {
			n++
		}
	}
	return n
}

func TestPointerStoreDropsCachedLocal(t *testing.T) {
	tests := []struct {
		name  string
		write []byte
	}{
		{"field", asm(
			op(cvm.COP_PLOAD_1),
			op(cvm.COP_LDC_I4_2),
			cvm.AppendByteArg(nil, cvm.COP_IWRITE_FIELD, 0),
		)},
		{"element", asm(
			op(cvm.COP_PLOAD_1),
			op(cvm.COP_LDC_I4_0),
			op(cvm.COP_LDC_I4_2),
			op(cvm.COP_IWRITE_ELEM),
		)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code := asm(
				op(cvm.COP_LDC_I4_1),
				cvm.AppendLocal(nil, cvm.COP_ISTORE, 5),
				tt.write,
				cvm.AppendLocal(nil, cvm.COP_ILOAD, 5),
				op(cvm.COP_RETURN_1),
			)
			u, m, s := setup(t, config.UnrollConfig{}, 64<<10, code)
			frags, err := u.Unroll(m, s)
			require.NoError(t, err)
			require.Len(t, frags, 1)
			assert.Zero(t, u.Stats().CachedHits)
			// local 1 for the pointer and local 5 again after the write
			assert.Equal(t, 2, frameLoads(t, frags[0].Code))
		})
	}
}

func TestThisCheckIsCached(t *testing.T) {
	readThis := func(off uint32) []byte { return cvm.AppendByteArg(nil, cvm.COP_IREAD_THIS, off) }
	tests := []struct {
		name     string
		between  []byte
		guards   int
		thisHits uint64
	}{
		{"plain", nil, 1, 1},
		{"store to local 0", asm(op(cvm.COP_PLOAD_1), op(cvm.COP_PSTORE_0)), 2, 0},
		// the pointer may address local 0
		{"store through pointer", asm(
			op(cvm.COP_PLOAD_1),
			op(cvm.COP_LDNULL),
			cvm.AppendByteArg(nil, cvm.COP_PWRITE_FIELD, 0),
		), 3, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code := asm(readThis(0), tt.between, readThis(8), op(cvm.COP_IADD), op(cvm.COP_RETURN_1))
			u, m, s := setup(t, config.UnrollConfig{}, 64<<10, code)
			frags, err := u.Unroll(m, s)
			require.NoError(t, err)
			require.Len(t, frags, 1)
			assert.Equal(t, tt.guards, frags[0].Guards)
			assert.Equal(t, tt.thisHits, u.Stats().ThisHits)
		})
	}
}
