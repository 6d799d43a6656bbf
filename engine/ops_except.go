package engine

import "github.com/colorfulnotion/cvm/cvm"

// throwCaller passes the current frame's exception on to its caller.
func (t *Thread) throwCaller() int {
	callPC, ok := t.unwind(t.top().exc)
	if !ok {
		return 0
	}
	return t.throw(t.top().exc, callPC)
}

func exceptionOps() map[cvm.Opcode]execFunc {
	return map[cvm.Opcode]execFunc{
		cvm.COP_PREFIX_ENTER_TRY: func(t *Thread, pc int) int {
			t.top().base = t.sp
			return pc + cvm.CVMP_LEN_NONE
		},
		cvm.COP_PREFIX_THROW: func(t *Thread, pc int) int {
			exc := t.pop()
			t.checkNull(exc)
			return t.throw(exc, pc)
		},
		cvm.COP_PREFIX_RETHROW: func(t *Thread, pc int) int {
			return t.throw(t.pop(), pc)
		},
		cvm.COP_PREFIX_THROW_CALLER: func(t *Thread, pc int) int {
			return t.throwCaller()
		},
		cvm.COP_PREFIX_CATCH_MATCH: func(t *Thread, pc int) int {
			class, skip := cvm.ArgPtrWord(t.code, pc+1, cvm.Layout64)
			if t.heap.IsInstance(t.top().exc, t.class(class)) {
				return pc + cvm.Layout64.PLenPtrWord()
			}
			return pc + int(skip)
		},
		cvm.COP_PREFIX_PUSH_EXCEPTION: func(t *Thread, pc int) int {
			t.push(t.top().exc)
			return pc + cvm.CVMP_LEN_NONE
		},
		cvm.COP_PREFIX_CONTINUE_SCAN: func(t *Thread, pc int) int {
			f := t.top()
			if next, ok := t.scan(f, f.scanPC, f.scanIdx+1); ok {
				return next
			}
			return t.throwCaller()
		},
		cvm.COP_PREFIX_CALL_FILTER: func(t *Thread, pc int) int {
			t.push(uint64(pc + cvm.CVMP_LEN_WORD))
			t.push(t.top().exc)
			return pc + int(int32(cvm.ArgWord(t.code, pc+1)))
		},
		cvm.COP_PREFIX_RET_FROM_FILTER: func(t *Thread, pc int) int {
			result := t.pop()
			ret := t.pop()
			t.push(result)
			return int(ret)
		},
	}
}
