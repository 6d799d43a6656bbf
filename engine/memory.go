package engine

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"unsafe"

	"github.com/colorfulnotion/cvm/cvmerrors"
)

// NullPage is the size of the inaccessible region at the start of the
// arena. Any address below base+NullPage is a null reference.
const NullPage = 4096

// Memory is the managed arena. Addresses handed to bytecode and to native
// fragments are real process addresses inside the arena; 0 is null.
// Allocation is a bump pointer and nothing is ever freed.
type Memory struct {
	mu     sync.Mutex
	data   []byte
	base   uint64
	brk    int
	mapped bool
}

// NewMemory reserves size bytes, from an anonymous mapping when mapped is
// set and the platform supports it, otherwise from the Go heap.
func NewMemory(size uint64, mapped bool) (*Memory, error) {
	if size < 2*NullPage {
		return nil, fmt.Errorf("arena of %d bytes: %w", size, cvmerrors.ErrBadConfig)
	}
	var (
		data []byte
		err  error
	)
	if mapped {
		data, err = mapArena(int(size))
		if err != nil {
			return nil, err
		}
	} else {
		data = make([]byte, size)
	}
	return &Memory{
		data:   data,
		base:   uint64(uintptr(unsafe.Pointer(&data[0]))),
		brk:    NullPage,
		mapped: mapped && data != nil,
	}, nil
}

func (m *Memory) Base() uint64 { return m.base }
func (m *Memory) Size() int    { return len(m.data) }

// Used is the number of bytes allocated so far, including the null page.
func (m *Memory) Used() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.brk
}

func (m *Memory) Close() error {
	if m.mapped {
		m.mapped = false
		return unmapArena(m.data)
	}
	return nil
}

// Alloc returns the address of size zeroed bytes aligned to align.
func (m *Memory) Alloc(size, align int) (uint64, error) {
	if align < 8 {
		align = 8
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	start := (m.brk + align - 1) &^ (align - 1)
	if start+size > len(m.data) {
		return 0, fmt.Errorf("alloc %d bytes with %d free: %w", size, len(m.data)-m.brk, cvmerrors.ErrArenaExhausted)
	}
	m.brk = start + size
	return m.base + uint64(start), nil
}

// fault is raised with panic by the accessors and turned into a managed
// exception by the interpreter loop.
type fault struct {
	class string
	msg   string
}

func (f *fault) Error() string { return f.class + ": " + f.msg }

func throwFault(class, format string, args ...any) {
	panic(&fault{class: class, msg: fmt.Sprintf(format, args...)})
}

// off validates an access of n bytes at addr.
func (m *Memory) off(addr uint64, n int) int {
	if addr < m.base+NullPage {
		throwFault(ClassNullReference, "access at 0x%x", addr)
	}
	o := addr - m.base
	if o+uint64(n) > uint64(len(m.data)) {
		throwFault(ClassAccessViolation, "access of %d bytes at 0x%x", n, addr)
	}
	return int(o)
}

// Valid reports whether n bytes at addr lie inside the arena.
func (m *Memory) Valid(addr uint64, n int) bool {
	return addr >= m.base+NullPage && addr-m.base+uint64(n) <= uint64(len(m.data))
}

func (m *Memory) Int8(addr uint64) int8   { return int8(m.data[m.off(addr, 1)]) }
func (m *Memory) Uint8(addr uint64) uint8 { return m.data[m.off(addr, 1)] }
func (m *Memory) Int16(addr uint64) int16 { return int16(m.Uint16(addr)) }
func (m *Memory) Int32(addr uint64) int32 { return int32(m.Uint32(addr)) }
func (m *Memory) Int64(addr uint64) int64 { return int64(m.Uint64(addr)) }
func (m *Memory) Float32(addr uint64) float32 {
	return math.Float32frombits(m.Uint32(addr))
}
func (m *Memory) Float64(addr uint64) float64 {
	return math.Float64frombits(m.Uint64(addr))
}

func (m *Memory) Uint16(addr uint64) uint16 {
	o := m.off(addr, 2)
	return binary.LittleEndian.Uint16(m.data[o:])
}

func (m *Memory) Uint32(addr uint64) uint32 {
	o := m.off(addr, 4)
	return binary.LittleEndian.Uint32(m.data[o:])
}

func (m *Memory) Uint64(addr uint64) uint64 {
	o := m.off(addr, 8)
	return binary.LittleEndian.Uint64(m.data[o:])
}

func (m *Memory) PutUint8(addr uint64, v uint8) { m.data[m.off(addr, 1)] = v }

func (m *Memory) PutUint16(addr uint64, v uint16) {
	o := m.off(addr, 2)
	binary.LittleEndian.PutUint16(m.data[o:], v)
}

func (m *Memory) PutUint32(addr uint64, v uint32) {
	o := m.off(addr, 4)
	binary.LittleEndian.PutUint32(m.data[o:], v)
}

func (m *Memory) PutUint64(addr uint64, v uint64) {
	o := m.off(addr, 8)
	binary.LittleEndian.PutUint64(m.data[o:], v)
}

func (m *Memory) PutFloat32(addr uint64, v float32) { m.PutUint32(addr, math.Float32bits(v)) }
func (m *Memory) PutFloat64(addr uint64, v float64) { m.PutUint64(addr, math.Float64bits(v)) }

// Bytes returns the n bytes at addr. The slice aliases the arena.
func (m *Memory) Bytes(addr uint64, n int) []byte {
	if n == 0 {
		return nil
	}
	o := m.off(addr, n)
	return m.data[o : o+n : o+n]
}

// Copy moves n bytes from src to dst; the ranges may overlap.
func (m *Memory) Copy(dst, src uint64, n int) {
	if n == 0 {
		return
	}
	copy(m.Bytes(dst, n), m.Bytes(src, n))
}

func (m *Memory) Zero(addr uint64, n int) {
	clear(m.Bytes(addr, n))
}

// Words returns a word view of n words at the 8-aligned address addr.
func (m *Memory) Words(addr uint64, n int) []uint64 {
	b := m.Bytes(addr, n*8)
	return unsafe.Slice((*uint64)(unsafe.Pointer(&b[0])), n)
}
