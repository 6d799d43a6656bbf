package engine

import (
	"errors"
	"fmt"

	"github.com/colorfulnotion/cvm/cvm"
	"github.com/colorfulnotion/cvm/il"
)

func handleOf(p uint64) il.Handle { return il.Handle(p) }

func (t *Thread) class(p uint64) *Class {
	c, err := t.e.reg.Class(handleOf(p))
	if err != nil {
		t.fail(err)
	}
	return c
}

func (t *Thread) method(p uint64) *Method {
	m, err := t.e.reg.Method(handleOf(p))
	if err != nil {
		t.fail(err)
	}
	return m
}

func (t *Thread) classOf(obj uint64) *Class {
	t.checkNull(obj)
	c, err := t.heap.ClassOf(obj)
	if err != nil {
		t.fail(err)
	}
	return c
}

// invoke calls m with its arguments on top of the stack. retPC is where the
// caller continues and callPC is the call instruction, where exceptions
// leaving m are rethrown.
func (t *Thread) invoke(m *Method, retPC, callPC int) int {
	m.calls.Add(1)
	if m.Native != nil {
		return t.callGo(m, retPC, callPC)
	}
	comp, err := t.e.prepare(m)
	if err != nil {
		t.fail(err)
	}
	if len(t.frames) >= int(t.e.cfg.Engine.MaxFrames) {
		throwFault(ClassStackOverflow, "%d frames calling %s", len(t.frames), m)
	}
	fp := t.sp - int(m.argWords)
	t.frames = append(t.frames, frame{method: m, comp: comp, fp: fp, base: fp, retPC: retPC, callPC: callPC})
	t.enter(t.top())
	return 0
}

// callGo runs a native method on the words of its arguments.
func (t *Thread) callGo(m *Method, retPC, callPC int) int {
	n := int(m.argWords)
	args := make([]cvm.Word, n)
	for i, w := range t.stack[t.sp-n : t.sp] {
		args[i] = cvm.Word(w)
	}
	t.sp -= n
	res, err := m.Native(t, args)
	if err != nil {
		var me *ManagedException
		if !errors.As(err, &me) {
			t.fail(fmt.Errorf("%s: %w", m, err))
		}
		exc := me.Object
		if exc == 0 {
			exc = t.must(t.heap.NewException(t.e.reg.ExceptionClass(me.Class), me.Message))
		}
		return t.throw(exc, callPC)
	}
	if len(res) != int(m.retWords) {
		t.fail(fmt.Errorf("%s returned %d words, want %d", m, len(res), m.retWords))
	}
	t.checkHeight(len(res))
	for _, w := range res {
		t.push(uint64(w))
	}
	return retPC
}

// ret leaves the current frame with the top w words as its result.
func (t *Thread) ret(w int) int {
	f := *t.top()
	copy(t.stack[f.fp:f.fp+w], t.stack[t.sp-w:t.sp])
	t.sp = f.fp + w
	t.frames = t.frames[:len(t.frames)-1]
	if f.cctor != nil {
		f.cctor.cctorState.Store(cctorDone)
	}
	if len(t.frames) == 0 {
		res := make([]cvm.Word, w)
		for i := range res {
			res[i] = cvm.Word(t.stack[f.fp+i])
		}
		t.finish(res, nil)
		return 0
	}
	t.enter(t.top())
	return f.retPC
}

// runCctor makes sure the class constructor of c ran. It returns pc again
// when a constructor frame was pushed, so the instruction re-executes once
// the constructor returns.
func (t *Thread) runCctor(c *Class, pc, next int) int {
	switch c.cctorState.Load() {
	case cctorDone, cctorRunning:
		return next
	case cctorFailed:
		throwFault(ClassTypeInitialization, "class constructor of %s failed", c)
	}
	if c.Cctor == nil {
		c.cctorState.Store(cctorDone)
		return next
	}
	if !c.cctorState.CompareAndSwap(cctorNotRun, cctorRunning) {
		return next
	}
	if c.Cctor.Native != nil {
		if _, err := c.Cctor.Native(t, nil); err != nil {
			c.cctorState.Store(cctorFailed)
			throwFault(ClassTypeInitialization, "class constructor of %s: %v", c, err)
		}
		c.cctorState.Store(cctorDone)
		return next
	}
	target := t.invoke(c.Cctor, pc, pc)
	t.top().cctor = c
	return target
}

// vararg words are packed into a UInt64[] that the callee reads through
// ARGLIST.
func (t *Thread) packVarArgs(w int) uint64 {
	arr := t.must(t.heap.NewArray(t.e.reg.UInt64, uint32(w)))
	for i, v := range t.stack[t.sp-w : t.sp] {
		t.mem.PutUint64(arr+cvm.ArrayDataOffset+uint64(i)*8, v)
	}
	t.sp -= w
	return arr
}

func callOps() map[cvm.Opcode]execFunc {
	lenPtr := cvm.Layout64.LenPtr()
	plenPtr := cvm.Layout64.PLenPtr()
	return map[cvm.Opcode]execFunc{
		cvm.COP_CALL: func(t *Thread, pc int) int {
			return t.invoke(t.method(cvm.ArgPtr(t.code, pc, cvm.Layout64)), pc+lenPtr, pc)
		},
		cvm.COP_CALL_EXTERN: func(t *Thread, pc int) int {
			m := t.method(cvm.ArgPtr(t.code, pc, cvm.Layout64))
			if m.Native == nil {
				throwFault(ClassMissingMethod, "%s has no native implementation", m)
			}
			return t.invoke(m, pc+lenPtr, pc)
		},
		cvm.COP_CALL_CTOR: func(t *Thread, pc int) int {
			m := t.method(cvm.ArgPtr(t.code, pc, cvm.Layout64))
			args := int(m.argWords) - 1
			base := t.sp - args
			if m.Class.ValueType {
				// the value is built in place below the arguments
				w := int(cvm.Layout64.WordsFor(m.Class.InstanceSize))
				t.checkHeight(w + 1)
				copy(t.stack[base+w+1:], t.stack[base:t.sp])
				clear(t.stack[base : base+w])
				t.stack[base+w] = t.wordAddr(base)
				t.sp += w + 1
			} else {
				obj := t.must(t.heap.New(m.Class))
				t.checkHeight(2)
				copy(t.stack[base+2:], t.stack[base:t.sp])
				t.stack[base], t.stack[base+1] = obj, obj
				t.sp += 2
			}
			return t.invoke(m, pc+lenPtr, pc)
		},
		cvm.COP_CALL_VIRTUAL: func(t *Thread, pc int) int {
			args, slot := cvm.ArgWord2(t.code, pc)
			c := t.classOf(t.peek(int(args) - 1))
			if int(slot) >= len(c.VTable) {
				throwFault(ClassMissingMethod, "%s has no virtual slot %d", c, slot)
			}
			return t.invoke(c.VTable[slot], pc+cvm.CVM_LEN_WORD2, pc)
		},
		cvm.COP_CALL_INTERFACE: func(t *Thread, pc int) int {
			args, slot, iface := cvm.ArgWord2Ptr(t.code, pc, cvm.Layout64)
			c := t.classOf(t.peek(int(args) - 1))
			m, ok := c.InterfaceMethod(handleOf(iface), slot)
			if !ok {
				throwFault(ClassMissingMethod, "%s does not implement slot %d of interface 0x%x", c, slot, iface)
			}
			return t.invoke(m, pc+cvm.Layout64.LenWord2Ptr(), pc)
		},
		cvm.COP_PREFIX_CALLI: func(t *Thread, pc int) int {
			return t.invoke(t.method(t.pop()), pc+cvm.CVMP_LEN_NONE, pc)
		},
		cvm.COP_PREFIX_TAIL_CALL: func(t *Thread, pc int) int {
			m := t.method(cvm.ArgPtr(t.code, pc+1, cvm.Layout64))
			if m.Native != nil {
				m.calls.Add(1)
				if next := t.callGo(m, -1, pc); next != -1 || t.done {
					return next
				}
				return t.ret(int(m.retWords))
			}
			comp, err := t.e.prepare(m)
			if err != nil {
				t.fail(err)
			}
			m.calls.Add(1)
			f := t.top()
			n := int(m.argWords)
			copy(t.stack[f.fp:f.fp+n], t.stack[t.sp-n:t.sp])
			t.sp = f.fp + n
			f.method, f.comp, f.base = m, comp, f.fp
			t.enter(f)
			return 0
		},
		cvm.COP_RETURN:   func(t *Thread, pc int) int { return t.ret(0) },
		cvm.COP_RETURN_1: func(t *Thread, pc int) int { return t.ret(1) },
		cvm.COP_RETURN_2: func(t *Thread, pc int) int { return t.ret(2) },
		cvm.COP_RETURN_N: func(t *Thread, pc int) int { return t.ret(int(cvm.ArgWord(t.code, pc))) },

		cvm.COP_PREFIX_LDFTN: func(t *Thread, pc int) int {
			t.push(uint64(t.method(cvm.ArgPtr(t.code, pc+1, cvm.Layout64)).Handle))
			return pc + plenPtr
		},
		cvm.COP_PREFIX_LDVIRTFTN: func(t *Thread, pc int) int {
			slot := cvm.ArgWord(t.code, pc+1)
			c := t.classOf(t.peek(0))
			if int(slot) >= len(c.VTable) {
				throwFault(ClassMissingMethod, "%s has no virtual slot %d", c, slot)
			}
			t.poke(0, uint64(c.VTable[slot].Handle))
			return pc + cvm.CVMP_LEN_WORD
		},
		cvm.COP_PREFIX_RUN_CCTOR: func(t *Thread, pc int) int {
			return t.runCctor(t.class(cvm.ArgPtr(t.code, pc+1, cvm.Layout64)), pc, pc+plenPtr)
		},
		cvm.COP_PREFIX_LDSTR: func(t *Thread, pc int) int {
			t.push(t.stringLiteral(cvm.ArgWord(t.code, pc+1)))
			return pc + cvm.CVMP_LEN_WORD
		},
		cvm.COP_PREFIX_LDTOKEN: func(t *Thread, pc int) int {
			t.push(cvm.ArgPtr(t.code, pc+1, cvm.Layout64))
			return pc + plenPtr
		},
		cvm.COP_PREFIX_PACK_VARARGS: func(t *Thread, pc int) int {
			t.push(t.packVarArgs(int(cvm.ArgWord(t.code, pc+1))))
			return pc + cvm.CVMP_LEN_WORD
		},
		cvm.COP_PREFIX_ARGLIST: func(t *Thread, pc int) int {
			t.push(t.stack[t.fp+int(cvm.ArgWord(t.code, pc+1))])
			return pc + cvm.CVMP_LEN_WORD
		},
	}
}

// stringLiteral returns the string object for token, allocating it the
// first time it is loaded.
func (t *Thread) stringLiteral(token uint32) uint64 {
	r := t.e.reg
	r.mu.RLock()
	obj, ok := r.interned[token]
	r.mu.RUnlock()
	if ok {
		return obj
	}
	s, ok := r.literal(token)
	if !ok {
		throwFault(ClassInvalidProgram, "no string literal %d", token)
	}
	obj = t.must(t.heap.NewString(s))
	r.mu.Lock()
	if prev, ok := r.interned[token]; ok {
		obj = prev
	} else {
		r.interned[token] = obj
	}
	r.mu.Unlock()
	return obj
}
