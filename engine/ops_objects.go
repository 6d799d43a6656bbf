package engine

import (
	"encoding/binary"
	"math"

	"github.com/colorfulnotion/cvm/coder"
	"github.com/colorfulnotion/cvm/cvm"
)

func objectOps() map[cvm.Opcode]execFunc {
	plenPtr := cvm.Layout64.PLenPtr()
	return map[cvm.Opcode]execFunc{
		cvm.COP_PREFIX_NEW: func(t *Thread, pc int) int {
			c := t.class(cvm.ArgPtr(t.code, pc+1, cvm.Layout64))
			t.push(t.must(t.heap.New(c)))
			return pc + plenPtr
		},
		cvm.COP_PREFIX_ISINST: func(t *Thread, pc int) int {
			c := t.class(cvm.ArgPtr(t.code, pc+1, cvm.Layout64))
			if !t.heap.IsInstance(t.peek(0), c) {
				t.poke(0, 0)
			}
			return pc + plenPtr
		},
		cvm.COP_PREFIX_CASTCLASS: func(t *Thread, pc int) int {
			c := t.class(cvm.ArgPtr(t.code, pc+1, cvm.Layout64))
			if obj := t.peek(0); obj != 0 && !t.heap.IsInstance(obj, c) {
				throwFault(ClassInvalidCast, "cannot cast %s to %s", t.describe(obj), c)
			}
			return pc + plenPtr
		},
		cvm.COP_PREFIX_BOX: func(t *Thread, pc int) int {
			p, size := cvm.ArgPtrWord(t.code, pc+1, cvm.Layout64)
			c := t.class(p)
			n := int(cvm.Layout64.WordsFor(size))
			buf := make([]byte, n*8)
			for i, w := range t.stack[t.sp-n : t.sp] {
				binary.LittleEndian.PutUint64(buf[i*8:], w)
			}
			t.sp -= n
			t.push(t.must(t.heap.Box(c, buf[:size])))
			return pc + cvm.Layout64.PLenPtrWord()
		},
		cvm.COP_PREFIX_BOX_SMALLER: func(t *Thread, pc int) int {
			p, flags := cvm.ArgPtrByte(t.code, pc+1, cvm.Layout64)
			c := t.class(p)
			w := t.peek(0)
			if flags&coder.BoxFloat32 != 0 {
				w = uint64(math.Float32bits(float32(math.Float64frombits(w))))
			}
			var buf [8]byte
			binary.LittleEndian.PutUint64(buf[:], w)
			t.poke(0, t.must(t.heap.Box(c, buf[:flags&^coder.BoxFloat32])))
			return pc + cvm.Layout64.PLenPtrByte()
		},
		cvm.COP_PREFIX_UNBOX: func(t *Thread, pc int) int {
			c := t.class(cvm.ArgPtr(t.code, pc+1, cvm.Layout64))
			if oc := t.classOf(t.peek(0)); oc != c {
				throwFault(ClassInvalidCast, "cannot unbox %s as %s", oc, c)
			}
			return pc + plenPtr
		},
		cvm.COP_PREFIX_MK_TYPEDREF: func(t *Thread, pc int) int {
			t.push(cvm.ArgPtr(t.code, pc+1, cvm.Layout64))
			return pc + plenPtr
		},
		cvm.COP_PREFIX_REFANYVAL: func(t *Thread, pc int) int {
			want := cvm.ArgPtr(t.code, pc+1, cvm.Layout64)
			if got := t.pop(); got != want {
				throwFault(ClassInvalidCast, "typed reference to %s, want %s", t.class(got), t.class(want))
			}
			return pc + plenPtr
		},
		cvm.COP_PREFIX_REFANYTYPE: func(t *Thread, pc int) int {
			class := t.pop()
			t.poke(0, class)
			return pc + cvm.CVMP_LEN_NONE
		},
	}
}
