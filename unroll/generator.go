package unroll

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/colorfulnotion/cvm/cvmerrors"
)

// Reg is a machine register number in the generator's own numbering.
type Reg uint8

// Cond is a comparison outcome tested after Compare.
type Cond uint8

const (
	CondEQ Cond = iota
	CondNE
	CondLT
	CondLE
	CondGT
	CondGE
	CondLTU
	CondLEU
	CondGTU
	CondGEU
)

// Not returns the negated condition.
func (c Cond) Not() Cond {
	switch c {
	case CondEQ:
		return CondNE
	case CondNE:
		return CondEQ
	case CondLT:
		return CondGE
	case CondGE:
		return CondLT
	case CondLE:
		return CondGT
	case CondGT:
		return CondLE
	case CondLTU:
		return CondGEU
	case CondGEU:
		return CondLTU
	case CondLEU:
		return CondGTU
	case CondGTU:
		return CondLEU
	}
	return c
}

type ALUOp uint8

const (
	OpAdd ALUOp = iota
	OpSub
	OpMul
	OpAnd
	OpOr
	OpXor
)

type ShiftOp uint8

const (
	ShiftLeft ShiftOp = iota
	ShiftRight
	ShiftRightUn
)

// Width is the size and extension of a memory access.
type Width uint8

const (
	W8s Width = iota
	W8u
	W16s
	W16u
	W32s
	W32u
	W64
)

// Bytes is the access size.
func (w Width) Bytes() int {
	switch w {
	case W8s, W8u:
		return 1
	case W16s, W16u:
		return 2
	case W32s, W32u:
		return 4
	}
	return 8
}

// Fixup is a forward jump waiting for its target.
type Fixup struct {
	At   int
	Kind uint8
}

// NativeCodeGenerator emits the machine code of one architecture. The
// generic unroller owns register allocation and the guard protocol; a
// generator only encodes instructions. Registers passed in are always from
// Registers() and distinct unless stated otherwise.
//
// 32-bit arithmetic leaves its result sign-extended to 64 bits, the way the
// interpreter stores I4 words.
type NativeCodeGenerator interface {
	Arch() string
	// Registers lists the allocatable registers in priority order.
	Registers() []Reg
	RegName(r Reg) string
	// MaxInsn bounds the bytes any single method call emits.
	MaxInsn() int

	// Prologue loads the stack top and frame pointers from the context.
	Prologue(b *Buffer)
	// Exit advances the stack top by words, stores it with nextPC and
	// reason in the context and returns to the interpreter.
	Exit(b *Buffer, words int, nextPC int, reason Reason)

	LoadStack(b *Buffer, dst Reg, word int)
	StoreStack(b *Buffer, src Reg, word int)
	LoadLocal(b *Buffer, dst Reg, n uint32)
	StoreLocal(b *Buffer, src Reg, n uint32)

	LoadImm(b *Buffer, dst Reg, v int64)
	Move(b *Buffer, dst, src Reg)
	// ALU computes dst = dst op src.
	ALU(b *Buffer, op ALUOp, wide bool, dst, src Reg)
	AddImm(b *Buffer, dst Reg, v int32)
	Neg(b *Buffer, wide bool, dst Reg)
	Not(b *Buffer, wide bool, dst Reg)
	// Shift computes dst = dst op (count & (width-1)).
	Shift(b *Buffer, op ShiftOp, wide bool, dst, count Reg)
	// Div computes dst = dst / src or dst % src, signed. The caller has
	// excluded a zero divisor and -1.
	Div(b *Buffer, rem bool, wide bool, dst, src Reg)
	// Extend sets dst to src extended from w. dst and src may be equal.
	Extend(b *Buffer, dst, src Reg, w Width)

	Load(b *Buffer, dst, base Reg, disp int32, w Width)
	Store(b *Buffer, src, base Reg, disp int32, w Width)
	// LoadIndexed loads from base + index*w.Bytes() + disp. dst may equal
	// index.
	LoadIndexed(b *Buffer, dst, base, index Reg, disp int32, w Width)
	StoreIndexed(b *Buffer, src, base, index Reg, disp int32, w Width)

	Compare(b *Buffer, wide bool, x, y Reg)
	CompareImm(b *Buffer, wide bool, x Reg, v int32)
	// JumpIf emits a forward jump taken when c holds after the last
	// compare. Stores and exits emitted before Bind leave the flags alone.
	JumpIf(b *Buffer, c Cond) Fixup
	Bind(b *Buffer, f Fixup) error

	// Disassemble renders generated code, one instruction per line.
	Disassemble(code []byte, pc uint64) []string
}

// Buffer is the code of the block being generated.
type Buffer struct {
	code  []byte
	limit int
}

func NewBuffer(limit int) *Buffer {
	return &Buffer{code: make([]byte, 0, limit), limit: limit}
}

func (b *Buffer) Emit(p ...byte)         { b.code = append(b.code, p...) }
func (b *Buffer) Len() int               { return len(b.code) }
func (b *Buffer) Bytes() []byte          { return b.code }
func (b *Buffer) Remaining() int         { return b.limit - len(b.code) }
func (b *Buffer) Reset()                 { b.code = b.code[:0] }
func (b *Buffer) Byte(at int) byte       { return b.code[at] }
func (b *Buffer) SetByte(at int, v byte) { b.code[at] = v }

func (b *Buffer) Emit32(v uint32) {
	b.code = binary.LittleEndian.AppendUint32(b.code, v)
}

func (b *Buffer) Emit64(v uint64) {
	b.code = binary.LittleEndian.AppendUint64(b.code, v)
}

func (b *Buffer) Uint32At(at int) uint32 { return binary.LittleEndian.Uint32(b.code[at:]) }

func (b *Buffer) PutUint32At(at int, v uint32) {
	binary.LittleEndian.PutUint32(b.code[at:], v)
}

var (
	genMu      sync.RWMutex
	generators = map[string]func() NativeCodeGenerator{}
)

// Register makes a generator available to NewGenerator under the GOARCH
// names it serves.
func Register(factory func() NativeCodeGenerator, arches ...string) {
	genMu.Lock()
	defer genMu.Unlock()
	for _, a := range arches {
		generators[a] = factory
	}
}

// NewGenerator returns the generator for arch, or for runtime.GOARCH when
// arch is empty.
func NewGenerator(arch string) (NativeCodeGenerator, error) {
	if arch == "" {
		arch = runtime.GOARCH
	}
	genMu.RLock()
	factory, ok := generators[arch]
	genMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no code generator for %q: %w", arch, cvmerrors.ErrUnknownArch)
	}
	return factory(), nil
}

// Arches lists the registered architectures.
func Arches() []string {
	genMu.RLock()
	defer genMu.RUnlock()
	out := make([]string, 0, len(generators))
	for a := range generators {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}
