package engine

import "github.com/colorfulnotion/cvm/cvm"

// elemAddr bounds checks index against the SZ array and returns the address
// of the element. Only the low 32 bits of the index word are significant.
func (t *Thread) elemAddr(array, index uint64, size uint32) uint64 {
	t.checkNull(array)
	i := uint32(index)
	if n := t.mem.Uint32(array + cvm.ArrayLengthOffset); i >= n {
		throwFault(ClassIndexOutOfRange, "index %d with length %d", i, n)
	}
	return array + cvm.ArrayDataOffset + uint64(i)*uint64(size)
}

func elemRead(r reader, size uint32) execFunc {
	return func(t *Thread, pc int) int {
		index := t.pop()
		t.poke(0, r(t.mem, t.elemAddr(t.peek(0), index, size)))
		return pc + cvm.InstructionLength(t.code, pc, cvm.Layout64)
	}
}

func elemWrite(w writer, size uint32) execFunc {
	return func(t *Thread, pc int) int {
		v := t.pop()
		index := t.pop()
		w(t.mem, t.elemAddr(t.pop(), index, size), v)
		return pc + cvm.InstructionLength(t.code, pc, cvm.Layout64)
	}
}

// addr2D bounds checks (i, j) against a rectangular array.
func (t *Thread) addr2D(array uint64, i, j int32) uint64 {
	t.checkNull(array)
	addr := t.mem.Uint64(array + cvm.Array2DDataOffset)
	for dim, idx := range []int32{i, j} {
		b := array + cvm.Array2DBoundsOffset + uint64(dim)*cvm.Array2DBoundSize
		rel := uint32(idx - t.mem.Int32(b+cvm.Array2DLowerOffset))
		if n := t.mem.Uint32(b + cvm.Array2DSizeOffset); rel >= n {
			throwFault(ClassIndexOutOfRange, "index %d of dimension %d with length %d", idx, dim, n)
		}
		addr += uint64(rel) * uint64(t.mem.Uint32(b+cvm.Array2DMultOffset))
	}
	return addr
}

func (t *Thread) arrayLength(n uint64) uint32 {
	if int32(n) < 0 {
		throwFault(ClassOverflow, "negative array length %d", int32(n))
	}
	return uint32(n)
}

func elementOps() map[cvm.Opcode]execFunc {
	return map[cvm.Opcode]execFunc{
		cvm.COP_BREAD_ELEM:         elemRead(readI1, 1),
		cvm.COP_UBREAD_ELEM:        elemRead(readU1, 1),
		cvm.COP_SREAD_ELEM:         elemRead(readI2, 2),
		cvm.COP_USREAD_ELEM:        elemRead(readU2, 2),
		cvm.COP_IREAD_ELEM:         elemRead(readI4, 4),
		cvm.COP_PREAD_ELEM:         elemRead(readI8, 8),
		cvm.COP_PREFIX_LREAD_ELEM:  elemRead(readI8, 8),
		cvm.COP_PREFIX_FREAD_ELEM:  elemRead(readR4, 4),
		cvm.COP_PREFIX_DREAD_ELEM:  elemRead(readI8, 8),
		cvm.COP_BWRITE_ELEM:        elemWrite(writeI1, 1),
		cvm.COP_SWRITE_ELEM:        elemWrite(writeI2, 2),
		cvm.COP_IWRITE_ELEM:        elemWrite(writeI4, 4),
		cvm.COP_PWRITE_ELEM:        elemWrite(writeI8, 8),
		cvm.COP_PREFIX_LWRITE_ELEM: elemWrite(writeI8, 8),
		cvm.COP_PREFIX_FWRITE_ELEM: elemWrite(writeR4, 4),
		cvm.COP_PREFIX_DWRITE_ELEM: elemWrite(writeI8, 8),
		cvm.COP_PREFIX_MREAD_ELEM: func(t *Thread, pc int) int {
			size := cvm.ArgWord(t.code, pc+1)
			index := t.pop()
			t.pushValue(t.elemAddr(t.pop(), index, size), size)
			return pc + cvm.CVMP_LEN_WORD
		},
		cvm.COP_PREFIX_MWRITE_ELEM: func(t *Thread, pc int) int {
			size := cvm.ArgWord(t.code, pc+1)
			n := int(cvm.Layout64.WordsFor(size))
			addr := t.elemAddr(t.peek(n+1), t.peek(n), size)
			t.popValue(addr, size)
			t.sp -= 2
			return pc + cvm.CVMP_LEN_WORD
		},
		cvm.COP_PREFIX_LDELEMA: func(t *Thread, pc int) int {
			index := t.pop()
			t.poke(0, t.elemAddr(t.peek(0), index, cvm.ArgWord(t.code, pc+1)))
			return pc + cvm.CVMP_LEN_WORD
		},
		cvm.COP_ARRAY_LEN: func(t *Thread, pc int) int {
			t.checkNull(t.peek(0))
			t.poke(0, uint64(t.heap.ArrayLength(t.peek(0))))
			return pc + 1
		},
		cvm.COP_PREFIX_CKARRAY_STORE: func(t *Thread, pc int) int {
			value, array := t.peek(0), t.peek(2)
			t.checkNull(array)
			if value == 0 {
				return pc + cvm.CVMP_LEN_NONE
			}
			ac, err := t.heap.ClassOf(array)
			if err != nil {
				t.fail(err)
			}
			vc, err := t.heap.ClassOf(value)
			if err != nil {
				t.fail(err)
			}
			if ac.Elem == nil || !vc.AssignableTo(ac.Elem) {
				throwFault(ClassArrayTypeMismatch, "cannot store %s in %s", vc, ac)
			}
			return pc + cvm.CVMP_LEN_NONE
		},
		cvm.COP_PREFIX_NEW_ARRAY: func(t *Thread, pc int) int {
			elem := t.class(cvm.ArgPtr(t.code, pc+1, cvm.Layout64))
			n := t.arrayLength(t.peek(0))
			t.poke(0, t.must(t.heap.NewArray(elem, n)))
			return pc + cvm.Layout64.PLenPtr()
		},
		cvm.COP_PREFIX_NEW_ARRAY2D: func(t *Thread, pc int) int {
			elem := t.class(cvm.ArgPtr(t.code, pc+1, cvm.Layout64))
			n1 := t.arrayLength(t.pop())
			n0 := t.arrayLength(t.peek(0))
			t.poke(0, t.must(t.heap.NewArray2D(elem, n0, n1)))
			return pc + cvm.Layout64.PLenPtr()
		},
		cvm.COP_PREFIX_GET2D: func(t *Thread, pc int) int {
			j := int32(t.pop())
			i := int32(t.pop())
			t.poke(0, t.addr2D(t.peek(0), i, j))
			return pc + cvm.CVMP_LEN_NONE
		},
		cvm.COP_PREFIX_SET2D: func(t *Thread, pc int) int {
			w := int(cvm.ArgByte(t.code, pc+1))
			base := t.sp - w - 3
			addr := t.addr2D(t.stack[base], int32(t.stack[base+1]), int32(t.stack[base+2]))
			t.stack[base] = addr
			copy(t.stack[base+1:], t.stack[base+3:t.sp])
			t.sp -= 2
			return pc + cvm.CVMP_LEN_BYTE
		},
	}
}
