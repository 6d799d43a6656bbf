package engine

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/colorfulnotion/cvm/cvm"
)

type reader func(m *Memory, addr uint64) uint64

type writer func(m *Memory, addr uint64, w uint64)

var (
	readI1 reader = func(m *Memory, a uint64) uint64 { return uint64(int64(m.Int8(a))) }
	readU1 reader = func(m *Memory, a uint64) uint64 { return uint64(m.Uint8(a)) }
	readI2 reader = func(m *Memory, a uint64) uint64 { return uint64(int64(m.Int16(a))) }
	readU2 reader = func(m *Memory, a uint64) uint64 { return uint64(m.Uint16(a)) }
	readI4 reader = func(m *Memory, a uint64) uint64 { return uint64(int64(m.Int32(a))) }
	readI8 reader = func(m *Memory, a uint64) uint64 { return m.Uint64(a) }
	readR4 reader = func(m *Memory, a uint64) uint64 { return math.Float64bits(float64(m.Float32(a))) }

	writeI1 writer = func(m *Memory, a uint64, w uint64) { m.PutUint8(a, uint8(w)) }
	writeI2 writer = func(m *Memory, a uint64, w uint64) { m.PutUint16(a, uint16(w)) }
	writeI4 writer = func(m *Memory, a uint64, w uint64) { m.PutUint32(a, uint32(w)) }
	writeI8 writer = func(m *Memory, a uint64, w uint64) { m.PutUint64(a, w) }
	writeR4 writer = func(m *Memory, a uint64, w uint64) { m.PutFloat32(a, float32(math.Float64frombits(w))) }
)

// pushValue pushes size bytes at addr as whole words, zero padded.
func (t *Thread) pushValue(addr uint64, size uint32) {
	src := t.mem.Bytes(addr, int(size))
	for len(src) >= 8 {
		t.push(binary.LittleEndian.Uint64(src))
		src = src[8:]
	}
	if len(src) > 0 {
		var buf [8]byte
		copy(buf[:], src)
		t.push(binary.LittleEndian.Uint64(buf[:]))
	}
}

// popValue pops the words of a size byte value and stores them at addr.
func (t *Thread) popValue(addr uint64, size uint32) {
	n := int(cvm.Layout64.WordsFor(size))
	t.sp -= n
	t.storeWords(addr, t.stack[t.sp:t.sp+n], size)
}

func (t *Thread) storeWords(addr uint64, words []uint64, size uint32) {
	dst := t.mem.Bytes(addr, int(size))
	for _, w := range words {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], w)
		dst = dst[copy(dst, buf[:]):]
	}
}

func indirectRead(r reader) execFunc {
	return func(t *Thread, pc int) int {
		t.poke(0, r(t.mem, t.peek(0)))
		return pc + 1
	}
}

func indirectWrite(w writer) execFunc {
	return func(t *Thread, pc int) int {
		v := t.pop()
		w(t.mem, t.pop(), v)
		return pc + 1
	}
}

func fieldRead(r reader) execFunc {
	return func(t *Thread, pc int) int {
		t.poke(0, r(t.mem, t.peek(0)+uint64(cvm.ArgLocal(t.code, pc))))
		return pc + cvm.InstructionLength(t.code, pc, cvm.Layout64)
	}
}

func fieldWrite(w writer) execFunc {
	return func(t *Thread, pc int) int {
		v := t.pop()
		w(t.mem, t.pop()+uint64(cvm.ArgLocal(t.code, pc)), v)
		return pc + cvm.InstructionLength(t.code, pc, cvm.Layout64)
	}
}

func thisRead(r reader) execFunc {
	return func(t *Thread, pc int) int {
		t.push(r(t.mem, t.stack[t.fp]+uint64(cvm.ArgLocal(t.code, pc))))
		return pc + cvm.InstructionLength(t.code, pc, cvm.Layout64)
	}
}

func memoryOps() map[cvm.Opcode]execFunc {
	return map[cvm.Opcode]execFunc{
		cvm.COP_BREAD:  indirectRead(readI1),
		cvm.COP_UBREAD: indirectRead(readU1),
		cvm.COP_SREAD:  indirectRead(readI2),
		cvm.COP_USREAD: indirectRead(readU2),
		cvm.COP_IREAD:  indirectRead(readI4),
		cvm.COP_PREAD:  indirectRead(readI8),
		cvm.COP_LREAD:  indirectRead(readI8),
		cvm.COP_FREAD:  indirectRead(readR4),
		cvm.COP_DREAD:  indirectRead(readI8),
		cvm.COP_MREAD: func(t *Thread, pc int) int {
			t.pushValue(t.pop(), cvm.ArgLocal(t.code, pc))
			return pc + cvm.InstructionLength(t.code, pc, cvm.Layout64)
		},
		cvm.COP_BWRITE: indirectWrite(writeI1),
		cvm.COP_SWRITE: indirectWrite(writeI2),
		cvm.COP_IWRITE: indirectWrite(writeI4),
		cvm.COP_PWRITE: indirectWrite(writeI8),
		cvm.COP_LWRITE: indirectWrite(writeI8),
		cvm.COP_FWRITE: indirectWrite(writeR4),
		cvm.COP_DWRITE: indirectWrite(writeI8),
		cvm.COP_MWRITE: func(t *Thread, pc int) int {
			size := cvm.ArgLocal(t.code, pc)
			n := int(cvm.Layout64.WordsFor(size))
			addr := t.peek(n)
			t.popValue(addr, size)
			t.sp--
			return pc + cvm.InstructionLength(t.code, pc, cvm.Layout64)
		},

		cvm.COP_BREAD_FIELD:  fieldRead(readI1),
		cvm.COP_UBREAD_FIELD: fieldRead(readU1),
		cvm.COP_SREAD_FIELD:  fieldRead(readI2),
		cvm.COP_USREAD_FIELD: fieldRead(readU2),
		cvm.COP_IREAD_FIELD:  fieldRead(readI4),
		cvm.COP_PREAD_FIELD:  fieldRead(readI8),
		cvm.COP_BWRITE_FIELD: fieldWrite(writeI1),
		cvm.COP_SWRITE_FIELD: fieldWrite(writeI2),
		cvm.COP_IWRITE_FIELD: fieldWrite(writeI4),
		cvm.COP_PWRITE_FIELD: fieldWrite(writeI8),
		cvm.COP_IREAD_THIS:   thisRead(readI4),
		cvm.COP_PREAD_THIS:   thisRead(readI8),
		cvm.COP_CKNULL: func(t *Thread, pc int) int {
			t.checkNull(t.peek(0))
			return pc + 1
		},
		cvm.COP_CKNULL_N: func(t *Thread, pc int) int {
			t.checkNull(t.peek(int(cvm.ArgLocal(t.code, pc))))
			return pc + cvm.InstructionLength(t.code, pc, cvm.Layout64)
		},

		cvm.COP_PREFIX_MEMCPY: func(t *Thread, pc int) int {
			src := t.pop()
			t.mem.Copy(t.pop(), src, int(cvm.ArgWord(t.code, pc+1)))
			return pc + cvm.CVMP_LEN_WORD
		},
		cvm.COP_PREFIX_MEMZERO: func(t *Thread, pc int) int {
			t.mem.Zero(t.pop(), int(cvm.ArgWord(t.code, pc+1)))
			return pc + cvm.CVMP_LEN_WORD
		},
		cvm.COP_PREFIX_MEMCMP: func(t *Thread, pc int) int {
			n := int(cvm.ArgWord(t.code, pc+1))
			b := t.pop()
			var eq uint64
			if bytes.Equal(t.mem.Bytes(t.peek(0), n), t.mem.Bytes(b, n)) {
				eq = 1
			}
			t.poke(0, eq)
			return pc + cvm.CVMP_LEN_WORD
		},
		cvm.COP_PREFIX_CPBLK: func(t *Thread, pc int) int {
			n := uint32(t.pop())
			src := t.pop()
			t.mem.Copy(t.pop(), src, int(n))
			return pc + cvm.CVMP_LEN_NONE
		},
		cvm.COP_PREFIX_INITBLK: func(t *Thread, pc int) int {
			n := uint32(t.pop())
			v := byte(t.pop())
			dst := t.mem.Bytes(t.pop(), int(n))
			for i := range dst {
				dst[i] = v
			}
			return pc + cvm.CVMP_LEN_NONE
		},
		cvm.COP_PREFIX_LOCALLOC: func(t *Thread, pc int) int {
			n := t.peek(0)
			if n > uint64(t.mem.Size()) {
				throwFault(ClassStackOverflow, "localloc of %d bytes", n)
			}
			a, err := t.mem.Alloc(int(max(n, 1)), 16)
			if err != nil {
				throwFault(ClassStackOverflow, "localloc of %d bytes: %v", n, err)
			}
			t.poke(0, a)
			return pc + cvm.CVMP_LEN_NONE
		},
		cvm.COP_PREFIX_GET_STATIC: func(t *Thread, pc int) int {
			c := t.class(cvm.ArgPtr(t.code, pc+1, cvm.Layout64))
			t.push(t.must(t.e.reg.staticsOf(c)))
			return pc + cvm.Layout64.PLenPtr()
		},
		cvm.COP_PREFIX_LDRVA: func(t *Thread, pc int) int {
			f, err := t.e.reg.Field(handleOf(cvm.ArgPtr(t.code, pc+1, cvm.Layout64)))
			if err != nil {
				t.fail(err)
			}
			t.push(f.Addr)
			return pc + cvm.Layout64.PLenPtr()
		},
	}
}
