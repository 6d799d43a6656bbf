// Package cvm defines the CVM instruction set: opcode values, encoded lengths,
// operand decoders and the stack word model shared by the coder, the
// interpreter and the unroller.
package cvm

import (
	"fmt"
	"math"
	"unsafe"

	"github.com/colorfulnotion/cvm/cvmerrors"
	"github.com/colorfulnotion/cvm/il"
)

// Word is one operand stack slot. 32-bit integers live in the low half and are
// sign-extended by consumers; native floats are IEEE float64 bits.
type Word uint64

func (w Word) Int32() int32     { return int32(w) }
func (w Word) Uint32() uint32   { return uint32(w) }
func (w Word) Int64() int64     { return int64(w) }
func (w Word) Uint64() uint64   { return uint64(w) }
func (w Word) Float64() float64 { return math.Float64frombits(uint64(w)) }

func FromInt32(v int32) Word     { return Word(uint64(int64(v))) }
func FromUint32(v uint32) Word   { return Word(v) }
func FromInt64(v int64) Word     { return Word(v) }
func FromFloat64(v float64) Word { return Word(math.Float64bits(v)) }

// Layout carries the target's pointer width. Everything the coder emits that
// depends on the platform goes through it.
type Layout struct {
	PtrSize int
}

var (
	Layout32 = Layout{PtrSize: 4}
	Layout64 = Layout{PtrSize: 8}
)

// HostLayout returns the layout of the running process.
func HostLayout() Layout {
	return Layout{PtrSize: int(unsafe.Sizeof(uintptr(0)))}
}

func (l Layout) Validate() error {
	if l.PtrSize != 4 && l.PtrSize != 8 {
		return fmt.Errorf("layout ptr size %d: %w", l.PtrSize, cvmerrors.ErrUnsupportedWidth)
	}
	return nil
}

func (l Layout) Is64() bool { return l.PtrSize == 8 }

// WordSize is the size in bytes of one stack word.
func (l Layout) WordSize() int { return l.PtrSize }

// WordsPerLong is the number of stack words an I8 occupies.
func (l Layout) WordsPerLong() uint32 { return uint32(8 / l.PtrSize) }

// WordsPerFloat is the number of stack words a native float (F) occupies.
func (l Layout) WordsPerFloat() uint32 { return uint32(8 / l.PtrSize) }

// WordsFor rounds a byte size up to whole stack words.
func (l Layout) WordsFor(size uint32) uint32 {
	ws := uint32(l.PtrSize)
	return (size + ws - 1) / ws
}

// WordsOfEngine returns the stack footprint of an engine type. size is only
// consulted for value types.
func (l Layout) WordsOfEngine(t il.EngineType, size uint32) uint32 {
	switch t {
	case il.EngineI8:
		return l.WordsPerLong()
	case il.EngineF:
		return l.WordsPerFloat()
	case il.EngineMV:
		return l.WordsFor(size)
	case il.EngineTypedRef:
		return 2
	case il.EngineInvalid:
		return 0
	}
	return 1
}

// WordsOf returns the stack footprint of a storage type once loaded.
func (l Layout) WordsOf(t il.Type) uint32 {
	if t.Kind == il.KindVoid {
		return 0
	}
	return l.WordsOfEngine(t.EngineType(), t.Size)
}

// Object and array layout shared by the coder, the runtime and the unroller.
const (
	ObjectHeaderSize   = 8 // class handle stored immediately before the object pointer
	ArrayLengthOffset  = 0 // uint32 element count
	ArrayDataOffset    = 8 // first element
	StringLengthOffset = 0 // uint32 char count
	StringDataOffset   = 8 // utf16 chars

	// 2-D array header: rank, element size, data pointer, then one bound per
	// dimension {lower, size, multiplier}.
	Array2DRankOffset     = 0
	Array2DElemSizeOffset = 4
	Array2DDataOffset     = 8
	Array2DBoundsOffset   = 16
	Array2DBoundSize      = 12
	Array2DLowerOffset    = 0
	Array2DSizeOffset     = 4
	Array2DMultOffset     = 8
	Array2DHeaderSize     = Array2DBoundsOffset + 2*Array2DBoundSize
)

// StackSlop is the number of words CKHEIGHT guarantees without an operand.
const StackSlop = 16
