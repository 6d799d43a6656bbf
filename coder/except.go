package coder

import (
	"fmt"

	"github.com/colorfulnotion/cvm/cvm"
	"github.com/colorfulnotion/cvm/cvmerrors"
	"github.com/colorfulnotion/cvm/il"
)

// Exception handling is table driven. After the method body the coder
// writes one entry per protected range, innermost first:
//
//	[start u32][end u32][length u32][matching code ... CONTINUE_SCAN]
//
// followed by a last chance entry covering everything whose code is
// THROW_CALLER. length is backpatched once the matching code is complete.

const tryHeaderSize = 12

// setupExceptions records the clauses, presets the heights handlers are
// entered with and allocates rethrow locals starting at frame word *next.
func (c *Coder) setupExceptions(clauses []il.ExceptionClause, hasRethrow bool, next *uint32) {
	c.clauses = clauses
	c.rethrowLocals = make([]int, len(clauses))
	for i, cl := range clauses {
		c.rethrowLocals[i] = -1
		c.presetLabel(cl.TryOffset, 0)
		switch cl.Flags {
		case il.ClauseCatch:
			c.presetLabel(cl.HandlerOffset, 1)
			if hasRethrow {
				c.rethrowLocals[i] = int(*next)
				*next++
			}
		case il.ClauseFilter:
			c.presetLabel(cl.FilterOffset, 2)
			c.presetLabel(cl.HandlerOffset, 1)
		case il.ClauseFinally, il.ClauseFault:
			c.presetLabel(cl.HandlerOffset, 1)
		}
	}
}

func (c *Coder) clause(i int) (il.ExceptionClause, bool) {
	if i < 0 || i >= len(c.clauses) {
		c.fail(fmt.Errorf("clause %d of %d: %w", i, len(c.clauses), cvmerrors.ErrBadOperand))
		return il.ExceptionClause{}, false
	}
	return c.clauses[i], true
}

func (c *Coder) placed(ilOffset uint32) (int, bool) {
	l, ok := c.labels[ilOffset]
	if !ok || l.pos < 0 {
		c.fail(fmt.Errorf("handler table needs IL_%04x: %w", ilOffset, cvmerrors.ErrUnresolvedLabel))
		return 0, false
	}
	return l.pos, true
}

// TryHandlerStart opens the table entry for the IL range [start, end).
func (c *Coder) TryHandlerStart(start, end uint32) {
	if c.posn == nil {
		c.fail(cvmerrors.ErrNoMethod)
		return
	}
	if c.tryEntry >= 0 {
		c.fail(fmt.Errorf("try entry at 0x%x still open: %w", c.tryEntry, cvmerrors.ErrUnbalancedTry))
		return
	}
	from, ok1 := c.placed(start)
	to, ok2 := c.placed(end)
	if !ok1 || !ok2 {
		return
	}
	if c.tableStart < 0 {
		c.tableStart = c.posn.Position()
		c.posn.SetHandlerTable(c.tableStart)
	}
	c.tryEntry = c.posn.Position()
	c.posn.Word32(uint32(from))
	c.posn.Word32(uint32(to))
	c.posn.Word32(0)
	c.StackRefresh(0)
}

// TryHandlerEnd closes the open entry and backpatches its length.
func (c *Coder) TryHandlerEnd() {
	if c.tryEntry < 0 {
		c.fail(fmt.Errorf("try handler end without start: %w", cvmerrors.ErrUnbalancedTry))
		return
	}
	c.op(cvm.COP_PREFIX_CONTINUE_SCAN, 0)
	codeStart := c.tryEntry + tryHeaderSize
	c.posn.PatchWord32(c.tryEntry+8, uint32(c.posn.Position()-codeStart+8))
	c.tryEntry = -1
	c.unreachable = true
}

// Catch emits the matching code for catch clause i: if the exception is an
// instance of the clause's class, push it and enter the handler.
func (c *Coder) Catch(i int) {
	cl, ok := c.clause(i)
	if !ok {
		return
	}
	at := c.Position()
	c.opPtrWord(cvm.COP_PREFIX_CATCH_MATCH, cl.Class, 0, 0)
	c.op(cvm.COP_PREFIX_PUSH_EXCEPTION, 1)
	if n := c.rethrowLocals[i]; n >= 0 {
		c.op(cvm.COP_DUP, 1)
		c.opLocal(cvm.COP_PSTORE, uint32(n), -1)
	}
	c.branchTo(cvm.COP_BR, cl.HandlerOffset, 0)
	c.posn.PatchWord32(at+2+c.layout.PtrSize, uint32(c.Position()-at))
	c.StackRefresh(0)
}

// Finally emits the matching code for finally clause i.
func (c *Coder) Finally(i int) {
	if cl, ok := c.clause(i); ok {
		c.CallFinally(cl.HandlerOffset)
	}
}

// Fault emits the matching code for fault clause i. The table is only
// scanned for exceptions, so a fault runs exactly like a finally.
func (c *Coder) Fault(i int) {
	c.Finally(i)
}

// Filter emits the matching code for filter clause i: run the filter as a
// subroutine and enter the handler when it returns non-zero.
func (c *Coder) Filter(i int) {
	cl, ok := c.clause(i)
	if !ok {
		return
	}
	at := c.Position()
	c.adjust(2)
	c.opWord(cvm.COP_PREFIX_CALL_FILTER, 0, 0)
	c.rel32To(at+2, at, cl.FilterOffset)
	c.adjust(-1)

	skip := c.Position()
	c.adjust(-1)
	c.emit(cvm.AppendLongBranch(c.buf[:0], cvm.COP_BRFALSE, 0), 0)

	c.op(cvm.COP_PREFIX_PUSH_EXCEPTION, 1)
	c.branchTo(cvm.COP_BR, cl.HandlerOffset, 0)
	if !c.posn.Overflow() {
		cvm.PatchBranch(c.posn.Code()[skip:skip+cvm.CVM_LEN_BRANCH], c.Position()-skip)
	}
	c.StackRefresh(0)
}

// EndFilter returns the I4 on top of the stack to the scanner.
func (c *Coder) EndFilter() {
	c.op(cvm.COP_PREFIX_RET_FROM_FILTER, -1)
	c.unreachable = true
}

// LastChance writes the final entry, which passes the exception to the caller.
func (c *Coder) LastChance() {
	if c.posn == nil {
		c.fail(cvmerrors.ErrNoMethod)
		return
	}
	if c.tableStart < 0 {
		c.tableStart = c.posn.Position()
		c.posn.SetHandlerTable(c.tableStart)
	}
	c.posn.Word32(0)
	c.posn.Word32(0xFFFFFFFF)
	c.posn.Word32(uint32(cvm.CVMP_LEN_NONE + 8))
	c.StackRefresh(0)
	c.op(cvm.COP_PREFIX_THROW_CALLER, 0)
	c.unreachable = true
}

// HandlerTable writes the complete table for the method's clauses.
// Consecutive clauses protecting the same range share one entry.
func (c *Coder) HandlerTable() {
	for i := 0; i < len(c.clauses); {
		cl := c.clauses[i]
		c.TryHandlerStart(cl.TryOffset, cl.TryEnd())
		if c.tryEntry < 0 {
			return
		}
		j := i
		for ; j < len(c.clauses) && c.clauses[j].TryOffset == cl.TryOffset && c.clauses[j].TryLength == cl.TryLength; j++ {
			switch c.clauses[j].Flags {
			case il.ClauseCatch:
				c.Catch(j)
			case il.ClauseFilter:
				c.Filter(j)
			case il.ClauseFinally:
				c.Finally(j)
			case il.ClauseFault:
				c.Fault(j)
			}
		}
		c.TryHandlerEnd()
		i = j
	}
	c.LastChance()
}

// Throw is throw: the object on top of the stack is raised.
func (c *Coder) Throw() {
	c.op(cvm.COP_PREFIX_THROW, -1)
	c.unreachable = true
}

// Rethrow raises again the exception caught by catch clause i.
func (c *Coder) Rethrow(i int) {
	if _, ok := c.clause(i); !ok {
		return
	}
	n := c.rethrowLocals[i]
	if n < 0 {
		c.fail(fmt.Errorf("rethrow in clause %d without a rethrow local: %w", i, cvmerrors.ErrBadOperand))
		return
	}
	c.opLocal(cvm.COP_PLOAD, uint32(n), 1)
	c.op(cvm.COP_PREFIX_RETHROW, -1)
	c.unreachable = true
}
