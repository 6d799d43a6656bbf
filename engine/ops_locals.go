package engine

import (
	"math"

	"github.com/colorfulnotion/cvm/cvm"
)

func localOps() map[cvm.Opcode]execFunc {
	ops := map[cvm.Opcode]execFunc{
		cvm.COP_NOP: func(t *Thread, pc int) int { return pc + 1 },
		cvm.COP_MLOAD: func(t *Thread, pc int) int {
			off, n := cvm.ArgLocal2(t.code, pc)
			base := t.fp + int(off)
			t.sp += copy(t.stack[t.sp:t.sp+int(n)], t.stack[base:base+int(n)])
			return pc + cvm.InstructionLength(t.code, pc, cvm.Layout64)
		},
		cvm.COP_MSTORE: func(t *Thread, pc int) int {
			off, n := cvm.ArgLocal2(t.code, pc)
			t.sp -= int(n)
			base := t.fp + int(off)
			copy(t.stack[base:base+int(n)], t.stack[t.sp:t.sp+int(n)])
			return pc + cvm.InstructionLength(t.code, pc, cvm.Layout64)
		},
		cvm.COP_BLOAD: func(t *Thread, pc int) int {
			t.push(uint64(uint8(t.stack[t.fp+int(cvm.ArgLocal(t.code, pc))])))
			return pc + cvm.InstructionLength(t.code, pc, cvm.Layout64)
		},
		cvm.COP_BSTORE: func(t *Thread, pc int) int {
			t.stack[t.fp+int(cvm.ArgLocal(t.code, pc))] = uint64(uint8(t.pop()))
			return pc + cvm.InstructionLength(t.code, pc, cvm.Layout64)
		},
		cvm.COP_WADDR: func(t *Thread, pc int) int {
			t.push(t.wordAddr(t.fp + int(cvm.ArgLocal(t.code, pc))))
			return pc + cvm.InstructionLength(t.code, pc, cvm.Layout64)
		},
		cvm.COP_BFIXUP: func(t *Thread, pc int) int {
			n := t.fp + int(cvm.ArgLocal(t.code, pc))
			t.stack[n] = uint64(uint8(t.stack[n]))
			return pc + cvm.InstructionLength(t.code, pc, cvm.Layout64)
		},
		cvm.COP_SFIXUP: func(t *Thread, pc int) int {
			n := t.fp + int(cvm.ArgLocal(t.code, pc))
			t.stack[n] = uint64(uint16(t.stack[n]))
			return pc + cvm.InstructionLength(t.code, pc, cvm.Layout64)
		},
		cvm.COP_FFIXUP: func(t *Thread, pc int) int {
			n := t.fp + int(cvm.ArgLocal(t.code, pc))
			t.stack[n] = uint64(math.Float32bits(float32(math.Float64frombits(t.stack[n]))))
			return pc + cvm.InstructionLength(t.code, pc, cvm.Layout64)
		},
		cvm.COP_MK_LOCAL_1: mkLocal(1),
		cvm.COP_MK_LOCAL_2: mkLocal(2),
		cvm.COP_MK_LOCAL_3: mkLocal(3),
		cvm.COP_MK_LOCAL_N: func(t *Thread, pc int) int {
			n := int(cvm.ArgLocal(t.code, pc))
			clear(t.stack[t.sp : t.sp+n])
			t.sp += n
			return pc + cvm.InstructionLength(t.code, pc, cvm.Layout64)
		},
	}
	ops[cvm.COP_MADDR] = ops[cvm.COP_WADDR]
	// the ILOAD and PLOAD families differ only in how consumers read the word
	for _, group := range [][2]cvm.Opcode{
		{cvm.COP_ILOAD_0, cvm.COP_ILOAD}, {cvm.COP_PLOAD_0, cvm.COP_PLOAD},
	} {
		for op := group[0]; op < group[1]; op++ {
			n := int(op - group[0])
			ops[op] = func(t *Thread, pc int) int {
				t.push(t.stack[t.fp+n])
				return pc + 1
			}
		}
		ops[group[1]] = func(t *Thread, pc int) int {
			t.push(t.stack[t.fp+int(cvm.ArgLocal(t.code, pc))])
			return pc + cvm.InstructionLength(t.code, pc, cvm.Layout64)
		}
	}
	for _, group := range [][2]cvm.Opcode{
		{cvm.COP_ISTORE_0, cvm.COP_ISTORE}, {cvm.COP_PSTORE_0, cvm.COP_PSTORE},
	} {
		for op := group[0]; op < group[1]; op++ {
			n := int(op - group[0])
			ops[op] = func(t *Thread, pc int) int {
				t.stack[t.fp+n] = t.pop()
				return pc + 1
			}
		}
		ops[group[1]] = func(t *Thread, pc int) int {
			t.stack[t.fp+int(cvm.ArgLocal(t.code, pc))] = t.pop()
			return pc + cvm.InstructionLength(t.code, pc, cvm.Layout64)
		}
	}
	return ops
}

func mkLocal(n int) execFunc {
	return func(t *Thread, pc int) int {
		clear(t.stack[t.sp : t.sp+n])
		t.sp += n
		return pc + 1
	}
}

func stackOps() map[cvm.Opcode]execFunc {
	return map[cvm.Opcode]execFunc{
		cvm.COP_DUP: func(t *Thread, pc int) int {
			t.push(t.peek(0))
			return pc + 1
		},
		cvm.COP_DUP2: func(t *Thread, pc int) int {
			a, b := t.peek(1), t.peek(0)
			t.push(a)
			t.push(b)
			return pc + 1
		},
		cvm.COP_DUP_N: func(t *Thread, pc int) int {
			n := int(cvm.ArgLocal(t.code, pc))
			t.sp += copy(t.stack[t.sp:t.sp+n], t.stack[t.sp-n:t.sp])
			return pc + cvm.InstructionLength(t.code, pc, cvm.Layout64)
		},
		cvm.COP_DUP_WORD_N: func(t *Thread, pc int) int {
			t.push(t.peek(int(cvm.ArgLocal(t.code, pc))))
			return pc + cvm.InstructionLength(t.code, pc, cvm.Layout64)
		},
		cvm.COP_POP: func(t *Thread, pc int) int {
			t.sp--
			return pc + 1
		},
		cvm.COP_POP2: func(t *Thread, pc int) int {
			t.sp -= 2
			return pc + 1
		},
		cvm.COP_POP_N: func(t *Thread, pc int) int {
			t.sp -= int(cvm.ArgLocal(t.code, pc))
			return pc + cvm.InstructionLength(t.code, pc, cvm.Layout64)
		},
		cvm.COP_SQUASH: func(t *Thread, pc int) int {
			keep, drop := cvm.ArgLocal2(t.code, pc)
			from := t.sp - int(keep)
			copy(t.stack[from-int(drop):], t.stack[from:t.sp])
			t.sp -= int(drop)
			return pc + cvm.InstructionLength(t.code, pc, cvm.Layout64)
		},
		cvm.COP_PUSHDOWN: func(t *Thread, pc int) int {
			n := int(cvm.ArgWord(t.code, pc))
			v := t.peek(0)
			copy(t.stack[t.sp-n:t.sp], t.stack[t.sp-n-1:t.sp-1])
			t.stack[t.sp-1-n] = v
			return pc + cvm.CVM_LEN_WORD
		},
		cvm.COP_CKHEIGHT: func(t *Thread, pc int) int {
			t.checkHeight(0)
			return pc + 1
		},
		cvm.COP_CKHEIGHT_N: func(t *Thread, pc int) int {
			t.checkHeight(int(cvm.ArgWord(t.code, pc)))
			return pc + cvm.CVM_LEN_WORD
		},
	}
}

func (t *Thread) checkHeight(n int) {
	if t.sp+n+cvm.StackSlop > len(t.stack) {
		throwFault(ClassStackOverflow, "%d words needed, %d free", n+cvm.StackSlop, len(t.stack)-t.sp)
	}
}
