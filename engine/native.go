package engine

import (
	"github.com/colorfulnotion/cvm/unroll"
)

const nativeContextSize = unroll.ContextSize

// runFragment runs the block behind h. The operand stack lives in the arena,
// so the fragment reads and writes it in place; only the stack top, the pc
// and the exit reason travel through the context. A fragment from before
// the last flush falls back to the handler it replaced.
func (t *Thread) runFragment(h *Handler, pc int) int {
	t.e.nativeMu.RLock()
	if h.frag.Epoch != t.e.cache.Native().Epoch() {
		t.e.nativeMu.RUnlock()
		return h.orig.exec(t, pc)
	}
	ctx := t.native
	ctx[unroll.CtxStackTop/8] = t.wordAddr(t.sp)
	ctx[unroll.CtxFrame/8] = t.wordAddr(t.fp)
	callNative(h.frag.Entry, uintptr(t.ctxAddr))
	t.e.nativeMu.RUnlock()
	t.sp = int((ctx[unroll.CtxStackTop/8] - t.stackAddr) / 8)
	next := int(ctx[unroll.CtxNextPC/8])
	t.e.fragmentRuns.Add(1)
	if unroll.Reason(ctx[unroll.CtxReason/8]) == unroll.ReExecute {
		t.e.reexecutes.Add(1)
		t.pc = next
		return handlerAt(t.code, next).exec(t, next)
	}
	return next
}
