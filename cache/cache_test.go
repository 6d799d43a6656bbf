package cache

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/colorfulnotion/cvm/config"
	"github.com/colorfulnotion/cvm/cvmerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCache(t *testing.T, pageSize, maxBytes, maxMethods int) *Cache {
	t.Helper()
	c, err := New(config.CacheConfig{PageSize: pageSize, MaxBytes: maxBytes, NativeBytes: 4096, MaxMethods: maxMethods})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func fill(p *Posn, n int) {
	for i := 0; i < n; i++ {
		p.Byte(byte(i))
	}
}

func store(t *testing.T, c *Cache, owner string, n int) (*Method, EndResult) {
	t.Helper()
	p, err := c.StartMethod(owner)
	require.NoError(t, err)
	fill(p, n)
	return c.EndMethod(p)
}

func TestStoreAndLookup(t *testing.T) {
	c := testCache(t, 256, 1024, 16)
	m, res := store(t, c, "a", 40)
	require.Equal(t, EndOK, res)
	require.Len(t, m.Code, 40)

	got, err := c.PCToMethod(m.Start)
	require.NoError(t, err)
	assert.Same(t, m, got)
	got, err = c.PCToMethod(m.End() - 1)
	require.NoError(t, err)
	assert.Same(t, m, got)

	_, err = c.PCToMethod(m.End() + 100)
	assert.True(t, errors.Is(err, cvmerrors.ErrUnknownPC))
	_, err = c.PCToMethod(0)
	assert.Error(t, err)

	pc, ok := c.MethodToPC("a")
	require.True(t, ok)
	assert.Equal(t, m.Start, pc)

	m2, res := store(t, c, "b", 10)
	require.Equal(t, EndOK, res)
	assert.Equal(t, m.Start+40, m2.Start, "methods are 8-byte aligned")
	assert.NotZero(t, m2.Fingerprint)
}

func TestOffsetMaps(t *testing.T) {
	c := testCache(t, 256, 1024, 16)
	p, err := c.StartMethod("m")
	require.NoError(t, err)
	p.MarkBytecode(0)
	fill(p, 5)
	p.MarkBytecode(3)
	fill(p, 3)
	p.MarkBytecode(7)
	fill(p, 2)
	m, res := c.EndMethod(p)
	require.Equal(t, EndOK, res)

	il, ok := m.GetILOffset(5, true)
	require.True(t, ok)
	assert.Equal(t, uint32(3), il)
	_, ok = m.GetILOffset(6, true)
	assert.False(t, ok)
	il, ok = m.GetILOffset(6, false)
	require.True(t, ok)
	assert.Equal(t, uint32(3), il)

	off, ok := m.GetNativeOffset(7, true)
	require.True(t, ok)
	assert.Equal(t, uint32(8), off)
	off, ok = m.GetNativeOffset(4, false)
	require.True(t, ok)
	assert.Equal(t, uint32(5), off)
	_, ok = m.GetNativeOffset(4, true)
	assert.False(t, ok)
}

func TestRestartTooBigFull(t *testing.T) {
	c := testCache(t, 256, 512, 16)
	_, res := store(t, c, "m1", 200)
	require.Equal(t, EndOK, res)

	_, res = store(t, c, "m2", 100)
	require.Equal(t, EndRestart, res)
	m2, res := store(t, c, "m2", 100)
	require.Equal(t, EndOK, res)
	assert.Equal(t, uint64(pcBase+256), m2.Start, "restart begins a fresh page")

	_, res = store(t, c, "m3", 200)
	assert.Equal(t, EndFull, res)

	c2 := testCache(t, 256, 1024, 16)
	_, res = store(t, c2, "huge", 300)
	assert.Equal(t, EndTooBig, res)
	assert.Equal(t, 1, c.Stats().Restarts)
}

func TestStartMethodFull(t *testing.T) {
	c := testCache(t, 256, 256, 16)
	_, res := store(t, c, "m1", 250)
	require.Equal(t, EndOK, res)
	_, res = store(t, c, "m2", 100)
	require.Equal(t, EndFull, res)
	c.Flush()
	_, res = store(t, c, "m2", 100)
	assert.Equal(t, EndOK, res)
}

func TestEviction(t *testing.T) {
	c := testCache(t, 256, 1024, 2)
	var evicted []any
	c.OnEvict(func(owner any) { evicted = append(evicted, owner) })

	m1, _ := store(t, c, "m1", 16)
	store(t, c, "m2", 16)
	store(t, c, "m3", 16)

	assert.Equal(t, []any{"m1"}, evicted)
	assert.True(t, m1.Evicted())
	_, err := c.PCToMethod(m1.Start)
	assert.True(t, errors.Is(err, cvmerrors.ErrUnknownPC))
	_, ok := c.MethodToPC("m1")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Stats().Evictions)

	// recompiling replaces without reporting an eviction
	store(t, c, "m3", 24)
	assert.Equal(t, []any{"m1"}, evicted)

	assert.True(t, c.Evict("m2"))
	assert.Equal(t, []any{"m1", "m2"}, evicted)
	assert.False(t, c.Evict("m2"))
}

func entry(p *Posn, start, end uint32, code []byte) {
	p.Word32(start)
	p.Word32(end)
	p.Word32(uint32(len(code) + 8))
	p.Bytes(code)
}

func TestHandlerTable(t *testing.T) {
	c := testCache(t, 256, 1024, 16)
	p, err := c.StartMethod("try")
	require.NoError(t, err)
	fill(p, 16)
	p.SetHandlerTable(p.Position())
	entry(p, 0, 8, []byte{1, 2})
	entry(p, 0, 16, []byte{3})
	entry(p, 0, 0xFFFFFFFF, []byte{4, 5})
	m, res := c.EndMethod(p)
	require.Equal(t, EndOK, res)

	entries, err := m.TryEntries()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, 16+12+2, entries[1].Offset)
	assert.Equal(t, entries[1].Offset, entries[0].Next())
	assert.True(t, entries[2].LastChance())
	assert.Equal(t, uint32(8+2), binary.LittleEndian.Uint32(m.Code[16+8:]))

	pc, err := c.PCToHandler(m.Start + 3)
	require.NoError(t, err)
	assert.Equal(t, m.Start+16, pc)

	tree := m.Tree().String()
	assert.Contains(t, tree, "try [0x0000, 0x0010)")
	assert.Contains(t, tree, "try [0x0000, 0x0008)")
	assert.Contains(t, tree, "last chance")
}

func TestNativeRegions(t *testing.T) {
	c := testCache(t, 256, 1024, 16)
	m, _ := store(t, c, "n", 8)
	addr, buf, err := c.AllocNative(64)
	require.NoError(t, err)
	require.Len(t, buf, 64)
	c.CommitNative(m, addr, 10)
	assert.Equal(t, 10, c.Native().Used()-int(addr-c.Native().BaseAddress()))

	got, err := c.PCToMethod(uint64(addr) + 5)
	require.NoError(t, err)
	assert.Same(t, m, got)
	_, err = c.PCToMethod(uint64(addr) + 10)
	assert.Error(t, err)

	_, _, err = c.AllocNative(1 << 20)
	assert.True(t, errors.Is(err, cvmerrors.ErrNativeFull))
}

func TestFlushResetsNative(t *testing.T) {
	c := testCache(t, 256, 1024, 16)
	m, _ := store(t, c, "n", 8)
	addr, _, err := c.AllocNative(4000)
	require.NoError(t, err)
	c.CommitNative(m, addr, 4000)
	_, _, err = c.AllocNative(200)
	require.True(t, errors.Is(err, cvmerrors.ErrNativeFull))
	epoch := c.Native().Epoch()

	c.Flush()
	assert.Zero(t, c.Native().Used())
	assert.Zero(t, c.Stats().NativeUsed)
	assert.Equal(t, epoch+1, c.Native().Epoch())
	_, err = c.PCToMethod(uint64(addr))
	assert.Error(t, err, "regions go with the flush")

	again, _, err := c.AllocNative(200)
	require.NoError(t, err)
	assert.Equal(t, c.Native().BaseAddress(), again)
}

func TestAbortMethod(t *testing.T) {
	c := testCache(t, 256, 1024, 16)
	p, err := c.StartMethod("gone")
	require.NoError(t, err)
	fill(p, 20)
	c.AbortMethod(p)
	_, ok := c.Lookup("gone")
	assert.False(t, ok)

	m, res := store(t, c, "kept", 8)
	require.Equal(t, EndOK, res)
	assert.Equal(t, uint64(pcBase), m.Start, "aborted bytes are reused")
}
