package coder

import (
	"github.com/colorfulnotion/cvm/cvm"
	"github.com/colorfulnotion/cvm/il"
)

func (c *Coder) paramWords(params []il.Type) int {
	n := 0
	for _, t := range params {
		n += c.words(t)
	}
	return n
}

// argWordsOf counts the words a call to sig pops, including "this" and the
// packed vararg slot.
func (c *Coder) argWordsOf(sig *il.Signature) int {
	n := c.paramWords(sig.Params)
	if sig.HasThis {
		n++
	}
	if sig.VarArg {
		n++
	}
	return n
}

func (c *Coder) callDelta(sig *il.Signature) int {
	return c.words(sig.Return) - c.argWordsOf(sig)
}

// CallMethod is a direct call.
func (c *Coder) CallMethod(m *il.MethodRef) {
	c.opPtr(cvm.COP_CALL, m.Handle, c.callDelta(&m.Signature))
}

// CallCtor calls a constructor on an existing object, as a base class
// constructor call does.
func (c *Coder) CallCtor(m *il.MethodRef) {
	c.CallMethod(m)
}

// CallVirtual dispatches through the vtable of the receiver.
func (c *Coder) CallVirtual(m *il.MethodRef) {
	c.opWord2(cvm.COP_CALL_VIRTUAL, uint32(c.argWordsOf(&m.Signature)), m.Slot, c.callDelta(&m.Signature))
}

// CallInterface dispatches through the receiver's map for m.Interface.
func (c *Coder) CallInterface(m *il.MethodRef) {
	c.emit(cvm.AppendWord2Ptr(c.buf[:0], cvm.COP_CALL_INTERFACE,
		uint32(c.argWordsOf(&m.Signature)), m.Slot, uint64(m.Interface), c.layout),
		c.callDelta(&m.Signature))
}

// CallExtern calls a method implemented by the runtime.
func (c *Coder) CallExtern(m *il.MethodRef) {
	c.opPtr(cvm.COP_CALL_EXTERN, m.Handle, c.callDelta(&m.Signature))
}

// CallIndirect is calli: [args, fnptr] -> [result].
func (c *Coder) CallIndirect(sig *il.Signature) {
	c.op(cvm.COP_PREFIX_CALLI, c.callDelta(sig)-1)
}

// TailCall replaces the current frame with a call to m.
func (c *Coder) TailCall(m *il.MethodRef) {
	c.opPtr(cvm.COP_PREFIX_TAIL_CALL, m.Handle, -c.argWordsOf(&m.Signature))
	c.unreachable = true
}

// PackVarArgs packs the variable arguments of a vararg call into a single
// argument list object: [extra] -> [arglist].
func (c *Coder) PackVarArgs(extra []il.Type) {
	w := c.paramWords(extra)
	c.opWord(cvm.COP_PREFIX_PACK_VARARGS, uint32(w), 1-w)
}
