package coder

import (
	"fmt"

	"github.com/colorfulnotion/cvm/cvm"
	"github.com/colorfulnotion/cvm/cvmerrors"
	"github.com/colorfulnotion/cvm/il"
)

func (c *Coder) label(ilOffset uint32) *label {
	l, ok := c.labels[ilOffset]
	if !ok {
		l = &label{pos: -1}
		c.labels[ilOffset] = l
	}
	return l
}

// presetLabel records the height a label is entered with before any branch
// reaches it, for handler entry points.
func (c *Coder) presetLabel(ilOffset uint32, height int) {
	l := c.label(ilOffset)
	l.height, l.known = height, true
}

// recordHeight checks or records the height control arrives at l with.
func (c *Coder) recordHeight(ilOffset uint32, l *label) {
	if !l.known {
		l.height, l.known = c.height, true
		return
	}
	if l.height != c.height {
		c.fail(fmt.Errorf("label IL_%04x entered at height %d and %d: %w", ilOffset, l.height, c.height, cvmerrors.ErrHeightMismatch))
	}
}

// Label places the IL offset ilOffset at the current position and resolves
// pending forward references to it.
func (c *Coder) Label(ilOffset uint32) {
	if c.posn == nil {
		c.fail(cvmerrors.ErrNoMethod)
		return
	}
	l := c.label(ilOffset)
	if !c.unreachable {
		c.recordHeight(ilOffset, l)
	}
	if l.known {
		c.height = l.height
		if c.height > c.maxHeight {
			c.maxHeight = c.height
		}
	} else {
		// only a backward branch can reach it, with an empty stack
		c.height = 0
		l.known = true
	}
	c.unreachable = false
	l.pos = c.posn.Position()
	for _, f := range l.fixups {
		c.resolve(f, l.pos)
	}
	l.fixups = nil
}

func (c *Coder) resolve(f fixup, target int) {
	if c.posn.Overflow() {
		return
	}
	switch f.kind {
	case fixBranch:
		code := c.posn.Code()
		cvm.PatchBranch(code[f.at:f.at+cvm.CVM_LEN_BRANCH], target-f.at)
	case fixRel32:
		c.posn.PatchWord32(f.at, uint32(int32(target-f.base)))
	}
}

// branchTo emits a branch opcode to an IL label. delta is applied before
// the height is recorded at the target.
func (c *Coder) branchTo(op cvm.Opcode, target uint32, delta int) {
	if c.posn == nil {
		c.fail(cvmerrors.ErrNoMethod)
		return
	}
	c.adjust(delta)
	l := c.label(target)
	c.recordHeight(target, l)
	at := c.posn.Position()
	if l.pos >= 0 {
		c.emit(cvm.AppendBranch(c.buf[:0], op, l.pos-at), 0)
		return
	}
	c.emit(cvm.AppendLongBranch(c.buf[:0], op, 0), 0)
	l.fixups = append(l.fixups, fixup{kind: fixBranch, at: at})
}

// rel32To records a rel32 operand at method offset at, measured from base,
// that refers to an IL label.
func (c *Coder) rel32To(at, base int, target uint32) {
	l := c.label(target)
	c.recordHeight(target, l)
	if l.pos >= 0 {
		c.posn.PatchWord32(at, uint32(int32(l.pos-base)))
		return
	}
	l.fixups = append(l.fixups, fixup{kind: fixRel32, at: at, base: base})
}

// Branch emits br, brtrue or brfalse (either form). t is the type tested by
// the conditional forms.
func (c *Coder) Branch(op il.Opcode, target uint32, t il.EngineType) {
	switch il.ShortBranch(op) {
	case il.BR:
		c.branchTo(cvm.COP_BR, target, 0)
		c.unreachable = true
	case il.BRTRUE:
		c.testBranch(true, target, t)
	case il.BRFALSE:
		c.testBranch(false, target, t)
	default:
		c.BranchCompare(op, target, t, t)
	}
}

func (c *Coder) testBranch(nonZero bool, target uint32, t il.EngineType) {
	switch {
	case t == il.EngineI4:
		op := cvm.COP_BRFALSE
		if nonZero {
			op = cvm.COP_BRTRUE
		}
		c.branchTo(op, target, -1)
	case t.IsPointer() || t == il.EngineI || (t == il.EngineI8 && c.layout.Is64()):
		op := cvm.COP_BRNULL
		if nonZero {
			op = cvm.COP_BRNONNULL
		}
		c.branchTo(op, target, -1)
	case t == il.EngineI8:
		c.LoadInt64(0)
		c.op(cvm.COP_LCMP, 1-2*c.engineWords(il.EngineI8))
		op := cvm.COP_BRFALSE
		if nonZero {
			op = cvm.COP_BRTRUE
		}
		c.branchTo(op, target, -1)
	default:
		c.unsupported("branch", il.BRTRUE, t)
	}
}

// BranchCompare emits the two operand conditional branches.
func (c *Coder) BranchCompare(op il.Opcode, target uint32, t1, t2 il.EngineType) {
	op = il.ShortBranch(op)
	k, ok := compareKinds[op]
	if !ok || k.branch == cvm.COP_NOP {
		c.unsupported("branch", op, t1, t2)
		return
	}
	if t1 == il.EngineI4 && t2 == il.EngineI4 {
		c.branchTo(k.branch, target, -2)
		return
	}
	pointerish := func(t il.EngineType) bool { return t.IsPointer() || t == il.EngineI }
	if (op == il.BEQ || op == il.BNE_UN) && (t1.IsPointer() || t2.IsPointer() || (pointerish(t1) && pointerish(t2))) {
		c.normalizeNative(t1, t2)
		br := cvm.COP_BR_PEQ
		if op == il.BNE_UN {
			br = cvm.COP_BR_PNE
		}
		c.branchTo(br, target, -2)
		return
	}
	if !c.threeWay(op, k, t1, t2) {
		return
	}
	c.loadInt32(0)
	c.branchTo(k.rel, target, -2)
}

// SwitchStart begins a switch with n entries; each entry follows with
// SwitchEntry in order.
func (c *Coder) SwitchStart(n uint32) {
	if c.posn == nil {
		c.fail(cvmerrors.ErrNoMethod)
		return
	}
	c.adjust(-1)
	c.switchAt = c.posn.Position()
	c.switchCount, c.switchNext = n, 0
	c.opWord(cvm.COP_SWITCH, n, 0)
	for i := uint32(0); i < n; i++ {
		c.posn.Word32(0)
	}
}

func (c *Coder) SwitchEntry(target uint32) {
	if c.switchAt < 0 || c.switchNext >= c.switchCount {
		c.fail(fmt.Errorf("switch entry IL_%04x: %w", target, cvmerrors.ErrBadOperand))
		return
	}
	at := c.switchAt + cvm.CVM_LEN_WORD + 4*int(c.switchNext)
	c.switchNext++
	c.rel32To(at, c.switchAt, target)
}

// Switch emits a complete switch.
func (c *Coder) Switch(targets []uint32) {
	c.SwitchStart(uint32(len(targets)))
	for _, t := range targets {
		c.SwitchEntry(t)
	}
}

// CallFinally runs the finally or fault handler at handler as a subroutine.
func (c *Coder) CallFinally(handler uint32) {
	c.adjust(1)
	c.branchTo(cvm.COP_JSR, handler, 0)
	c.adjust(-1)
}

// Leave empties the stack, runs the finally handlers in order and branches
// to target.
func (c *Coder) Leave(target uint32, finallies ...uint32) {
	c.popWords(c.height)
	for _, f := range finallies {
		c.CallFinally(f)
	}
	c.branchTo(cvm.COP_BR, target, 0)
	c.unreachable = true
}

// EndFinally returns from a finally or fault handler.
func (c *Coder) EndFinally() {
	c.op(cvm.COP_RET_JSR, -1)
	c.unreachable = true
}

// RetFromFinally is EndFinally for handlers left with a non-empty stack.
func (c *Coder) RetFromFinally() {
	if c.height > 1 {
		c.popWords(c.height - 1)
	}
	c.EndFinally()
}

// Return emits a return of a value of type t, which may be void.
func (c *Coder) Return(t il.Type) {
	switch w := c.words(t); w {
	case 0:
		c.op(cvm.COP_RETURN, 0)
	case 1:
		c.op(cvm.COP_RETURN_1, -1)
	case 2:
		c.op(cvm.COP_RETURN_2, -2)
	default:
		c.opWord(cvm.COP_RETURN_N, uint32(w), -w)
	}
	c.unreachable = true
}
