package engine

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/colorfulnotion/cvm/cvm"
	"github.com/colorfulnotion/cvm/cvmerrors"
	"github.com/colorfulnotion/cvm/log"
)

// frame is one activation record. retPC and callPC are offsets in the
// caller's code.
type frame struct {
	method *Method
	comp   *compiled
	fp     int
	base   int
	retPC  int
	callPC int

	// cctor is set on class constructor frames.
	cctor *Class

	exc     uint64
	scanPC  int
	scanIdx int
}

// abort ends the thread with a Go error instead of a managed exception.
type abort struct{ err error }

// Thread executes managed code on its own operand stack. A Thread is used by
// one goroutine at a time.
type Thread struct {
	e    *Engine
	mem  *Memory
	heap *Heap

	stack     []uint64
	stackAddr uint64
	sp, fp    int

	pc     int
	code   []byte
	comp   *compiled
	frames []frame

	ctxAddr uint64
	native  []uint64
	direct  bool

	done   bool
	result []cvm.Word
	err    error
}

func (e *Engine) newThread() (*Thread, error) {
	words := int(e.cfg.Engine.StackWords)
	addr, err := e.mem.Alloc(words*8+nativeContextSize, 16)
	if err != nil {
		return nil, fmt.Errorf("thread stack: %w", err)
	}
	t := &Thread{
		e:         e,
		mem:       e.mem,
		heap:      e.heap,
		stack:     e.mem.Words(addr, words),
		stackAddr: addr,
		ctxAddr:   addr + uint64(words)*8,
		native:    e.mem.Words(addr+uint64(words)*8, nativeContextSize/8),
		direct:    e.direct,
		frames:    make([]frame, 0, 32),
	}
	return t, nil
}

// Engine returns the engine the thread runs on, for native methods.
func (t *Thread) Engine() *Engine { return t.e }

// Heap returns the heap, for native methods.
func (t *Thread) Heap() *Heap { return t.heap }

// Memory returns the arena, for native methods.
func (t *Thread) Memory() *Memory { return t.mem }

func (t *Thread) reset() {
	t.sp, t.fp, t.pc = 0, 0, 0
	t.code, t.comp = nil, nil
	t.frames = t.frames[:0]
	t.done, t.result, t.err = false, nil, nil
}

func (t *Thread) top() *frame { return &t.frames[len(t.frames)-1] }

func (t *Thread) push(w uint64) {
	t.stack[t.sp] = w
	t.sp++
}

func (t *Thread) pop() uint64 {
	t.sp--
	return t.stack[t.sp]
}

func (t *Thread) pushI4(v int32) { t.push(uint64(int64(v))) }

func (t *Thread) popI4() int32 { return int32(t.pop()) }

// peek returns the word depth words below the top; peek(0) is the top.
func (t *Thread) peek(depth int) uint64 { return t.stack[t.sp-1-depth] }

func (t *Thread) poke(depth int, w uint64) { t.stack[t.sp-1-depth] = w }

func (t *Thread) wordAddr(i int) uint64 { return t.stackAddr + uint64(i)*8 }

func (t *Thread) fail(err error) {
	panic(&abort{err: err})
}

func (t *Thread) checkNull(obj uint64) {
	if obj == 0 {
		throwFault(ClassNullReference, "null reference")
	}
}

// must converts an allocation error into a managed exception.
func (t *Thread) must(addr uint64, err error) uint64 {
	if err != nil {
		if errors.Is(err, cvmerrors.ErrArenaExhausted) {
			throwFault(ClassOutOfMemory, "%v", err)
		}
		t.fail(err)
	}
	return addr
}

// enter switches execution to the frame on top of the frame stack.
func (t *Thread) enter(f *frame) {
	t.comp = f.comp
	t.code = f.comp.code
	t.fp = f.fp
}

// run executes until the bottom frame returns or the thread aborts.
func (t *Thread) run() error {
	for !t.done {
		t.segment()
	}
	return t.err
}

// segment runs the dispatch loop until it finishes or a fault unwinds it.
// Faults become managed exceptions raised at the faulting instruction.
func (t *Thread) segment() {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		switch x := r.(type) {
		case *fault:
			t.raise(x.class, x.msg)
		case *abort:
			t.finish(nil, x.err)
		case runtime.Error:
			t.finish(nil, fmt.Errorf("%v at pc 0x%04x in %v: %w", x, t.pc, t.currentMethod(), cvmerrors.ErrBadOperand))
		default:
			panic(r)
		}
	}()
	if t.direct {
		for !t.done {
			h := t.comp.slots[t.pc].Load()
			if h == nil {
				t.fail(fmt.Errorf("no instruction at pc 0x%04x in %v: %w", t.pc, t.currentMethod(), cvmerrors.ErrBadOperand))
			}
			t.pc = h.exec(t, t.pc)
		}
		return
	}
	for !t.done {
		h := handlerAt(t.code, t.pc)
		if h == nil {
			t.fail(fmt.Errorf("undefined opcode 0x%02x at pc 0x%04x: %w", t.code[t.pc], t.pc, cvmerrors.ErrBadOperand))
		}
		t.pc = h.exec(t, t.pc)
	}
}

func (t *Thread) currentMethod() *Method {
	if len(t.frames) == 0 {
		return nil
	}
	return t.top().method
}

func (t *Thread) finish(result []cvm.Word, err error) {
	t.done = true
	t.result, t.err = result, err
	if err != nil {
		log.Debug(log.EngineMonitoring, "thread finished", "err", err)
	}
}

// raise throws a new exception of the named class at t.pc.
func (t *Thread) raise(class, msg string) {
	obj, err := t.heap.NewException(t.e.reg.ExceptionClass(class), msg)
	if err != nil {
		t.finish(nil, fmt.Errorf("raising %s: %w", class, err))
		return
	}
	t.pc = t.throw(obj, t.pc)
}

// throw starts dispatching exc as if thrown by the instruction at pc of
// the current frame and returns the pc to continue at.
func (t *Thread) throw(exc uint64, pc int) int {
	for {
		f := t.top()
		f.exc = exc
		if next, ok := t.scan(f, pc, 0); ok {
			return next
		}
		// no handler table: leave the frame
		callPC, ok := t.unwind(exc)
		if !ok {
			return 0
		}
		pc = callPC
		exc = t.top().exc
	}
}

// scan finds the first handler table entry at or after from covering pc and
// returns the offset of its matching code.
func (t *Thread) scan(f *frame, pc int, from int) (int, bool) {
	for i := from; i < len(f.comp.entries); i++ {
		e := f.comp.entries[i]
		if e.LastChance() || (uint32(pc) >= e.Start && uint32(pc) < e.End) {
			f.scanPC, f.scanIdx = pc, i
			t.sp = f.base
			return e.CodeOffset(), true
		}
	}
	return 0, false
}

// unwind pops the current frame while exc propagates out of it. It returns
// the caller's call site, or false when the exception left the thread.
func (t *Thread) unwind(exc uint64) (int, bool) {
	f := t.frames[len(t.frames)-1]
	t.frames = t.frames[:len(t.frames)-1]
	t.sp = f.fp
	if f.cctor != nil {
		f.cctor.cctorState.Store(cctorFailed)
		wrapped, err := t.heap.NewException(t.e.reg.ExceptionClass(ClassTypeInitialization),
			fmt.Sprintf("class constructor of %s threw %s", f.cctor.Name, t.describe(exc)))
		if err == nil {
			exc = wrapped
		}
	}
	if len(t.frames) == 0 {
		t.finish(nil, t.managed(exc))
		return 0, false
	}
	caller := t.top()
	caller.exc = exc
	t.enter(caller)
	return f.callPC, true
}

func (t *Thread) describe(exc uint64) string {
	c, err := t.heap.ClassOf(exc)
	if err != nil {
		return fmt.Sprintf("object 0x%x", exc)
	}
	return c.Name
}

// managed converts an exception object into the Go error that surfaces
// from Invoke.
func (t *Thread) managed(exc uint64) *ManagedException {
	me := &ManagedException{Object: exc, Class: t.describe(exc)}
	if t.heap.IsInstance(exc, t.e.reg.Exception) {
		me.Message = t.heap.ExceptionMessage(exc)
	}
	return me
}

// ManagedException is an exception that left managed code.
type ManagedException struct {
	Class   string
	Message string
	// Object is the exception object, zero when the exception was created
	// by Go code that has not been thrown yet.
	Object uint64
}

func (e *ManagedException) Error() string {
	if e.Message == "" {
		return e.Class
	}
	return e.Class + ": " + e.Message
}

// NewManagedException builds an exception for a native method to return.
func NewManagedException(class, format string, args ...any) *ManagedException {
	return &ManagedException{Class: class, Message: fmt.Sprintf(format, args...)}
}
