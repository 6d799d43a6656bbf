package engine

import (
	"bytes"
	"fmt"
	"sync/atomic"

	"github.com/colorfulnotion/cvm/cache"
	"github.com/colorfulnotion/cvm/cvm"
	"github.com/colorfulnotion/cvm/cvmerrors"
	"github.com/colorfulnotion/cvm/unroll"
)

// compiled is the executable form of a method body. code is a private copy
// of the cached bytes, so a frame keeps running after its body is evicted
// and the page reused.
type compiled struct {
	method  *Method
	body    *cache.Method
	code    []byte
	entries []cache.TryEntry
	// slots holds the direct-threaded stream, indexed by pc. Only
	// instruction starts are set. nil in token mode.
	slots []atomic.Pointer[Handler]

	// unrolled is set once the unroller has run; guarded by method.tierMu.
	unrolled  atomic.Bool
	fragments []*unroll.Fragment
}

func newCompiled(m *Method, body *cache.Method, direct bool) (*compiled, error) {
	c := &compiled{method: m, body: body, code: bytes.Clone(body.Code)}
	entries, err := body.TryEntries()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", m, err)
	}
	c.entries = entries
	if direct {
		if err := c.thread(); err != nil {
			return nil, fmt.Errorf("%s: %w", m, err)
		}
	}
	return c, nil
}

// thread fills the slot stream from the body and the matching code of
// every handler table entry.
func (c *compiled) thread() error {
	c.slots = make([]atomic.Pointer[Handler], len(c.code))
	var bad error
	visit := func(ins cvm.Instruction) bool {
		h := handlerAt(c.code, ins.PC)
		if h == nil {
			bad = fmt.Errorf("no handler for %s at 0x%04x: %w", ins.Op, ins.PC, cvmerrors.ErrBadOperand)
			return false
		}
		c.slots[ins.PC].Store(h)
		return true
	}
	end := len(c.code)
	if c.body.TableOffset >= 0 {
		end = c.body.TableOffset
	}
	if err := cvm.Walk(c.code, 0, end, cvm.Layout64, visit); err != nil {
		return err
	}
	for _, e := range c.entries {
		if bad != nil {
			break
		}
		if err := cvm.Walk(c.code, e.CodeOffset(), e.Next(), cvm.Layout64, visit); err != nil {
			return err
		}
	}
	return bad
}

func (c *compiled) Code() []byte { return c.code }

// Handler returns the handler the stream runs at pc. Token mode streams
// report the interpreter handler decoded from the code.
func (c *compiled) Handler(pc int) any {
	if pc < 0 || pc >= len(c.code) {
		return nil
	}
	if c.slots == nil {
		if h := handlerAt(c.code, pc); h != nil {
			return h
		}
		return nil
	}
	if h := c.slots[pc].Load(); h != nil {
		return h
	}
	return nil
}

// Patch installs f at its first instruction. The fragment is complete when
// it arrives here, so one atomic store publishes it to running threads.
func (c *compiled) Patch(f *unroll.Fragment) {
	if c.slots == nil || f.Start < 0 || f.Start >= len(c.slots) {
		return
	}
	slot := &c.slots[f.Start]
	orig := slot.Load()
	if orig == nil {
		return
	}
	if orig.orig != nil {
		orig = orig.orig
	}
	h := &Handler{Op: orig.Op, frag: f, orig: orig}
	h.exec = func(t *Thread, pc int) int { return t.runFragment(h, pc) }
	slot.Store(h)
}

// native reports how many slots run fragments.
func (c *compiled) native() int {
	n := 0
	for i := range c.slots {
		if h := c.slots[i].Load(); h != nil && h.Native() {
			n++
		}
	}
	return n
}
