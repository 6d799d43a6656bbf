// Package coder translates verified CIL-level operations into CVM bytecode
// written directly into the method cache. Every emission declares its effect
// on the operand stack height; the maximum height reached becomes the
// CKHEIGHT_N operand of the method's entry sequence.
package coder

import (
	"fmt"

	"github.com/colorfulnotion/cvm/cache"
	"github.com/colorfulnotion/cvm/cvm"
	"github.com/colorfulnotion/cvm/cvmerrors"
	"github.com/colorfulnotion/cvm/il"
	"github.com/colorfulnotion/cvm/log"
)

type fixupKind byte

const (
	fixBranch fixupKind = iota // 6 byte branch at at, relaxed in place
	fixRel32                   // rel32 operand at at, measured from base
)

type fixup struct {
	kind fixupKind
	at   int
	base int
}

type label struct {
	pos    int // method offset, -1 until placed
	height int
	known  bool // height has been recorded by a branch or a placement
	fixups []fixup
}

// Coder emits one method at a time. It is not safe for concurrent use.
type Coder struct {
	cache  *cache.Cache
	layout cvm.Layout

	posn   *cache.Posn
	owner  any
	method *il.MethodInfo
	buf    []byte
	err    error

	height      int
	minHeight   int // lowest height since the last refresh
	maxHeight   int
	unreachable bool

	argTypes     []il.Type
	argOffsets   []uint32
	localTypes   []il.Type
	localOffsets []uint32
	argWords     uint32
	localWords   uint32
	varArgSlot   uint32
	memSlots     map[uint32]bool // frame words accessed through memory

	labels      map[uint32]*label
	heightCheck int

	clauses       []il.ExceptionClause
	rethrowLocals []int // frame word per clause, -1 when none
	tableStart    int
	tryEntry      int

	switchAt    int
	switchCount uint32
	switchNext  uint32
}

func New(c *cache.Cache, layout cvm.Layout) (*Coder, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	return &Coder{cache: c, layout: layout, buf: make([]byte, 0, 32)}, nil
}

func (c *Coder) Layout() cvm.Layout { return c.layout }

// Setup starts generating m's body for owner and writes the entry sequence:
// the stack height check, local initialisation, the try marker and the
// class constructor check.
func (c *Coder) Setup(owner any, m *il.MethodInfo) error {
	if c.posn != nil {
		return fmt.Errorf("setup %s while %v is in progress: %w", m.Name, c.owner, cvmerrors.ErrNoMethod)
	}
	posn, err := c.cache.StartMethod(owner)
	if err != nil {
		return err
	}
	c.reset(owner, m, posn)

	off := uint32(0)
	c.argTypes = m.ArgTypes()
	for _, t := range c.argTypes {
		c.argOffsets = append(c.argOffsets, off)
		off += c.layout.WordsOf(t)
	}
	if m.Signature.VarArg {
		c.varArgSlot = off
		off++
	}
	c.argWords = off
	c.localTypes = m.Locals
	for _, t := range m.Locals {
		c.localOffsets = append(c.localOffsets, off)
		off += c.layout.WordsOf(t)
	}
	c.setupExceptions(m.Clauses, m.HasRethrow, &off)
	c.localWords = off - c.argWords

	for _, n := range m.AddressTakenArgs {
		if int(n) < len(c.argTypes) {
			c.memSlots[c.argOffsets[n]] = true
		}
	}
	for _, n := range m.AddressTakenLocals {
		if int(n) < len(c.localTypes) {
			c.memSlots[c.localOffsets[n]] = true
		}
	}

	c.heightCheck = c.posn.Position() + 1
	c.opWord(cvm.COP_CKHEIGHT_N, 0, 0)
	c.makeLocals(c.localWords)
	// arguments arrive in stack representation
	for _, n := range m.AddressTakenArgs {
		if int(n) < len(c.argTypes) {
			c.fixupArg(c.argOffsets[n], c.argTypes[n])
		}
	}
	if len(c.clauses) > 0 {
		c.op(cvm.COP_PREFIX_ENTER_TRY, 0)
	}
	if m.RunsCctor {
		c.opPtr(cvm.COP_PREFIX_RUN_CCTOR, m.Class, 0)
	}
	log.Trace(log.CoderMonitoring, "setup", "method", m.Name, "args", c.argWords, "locals", c.localWords, "clauses", len(c.clauses))
	return nil
}

func (c *Coder) reset(owner any, m *il.MethodInfo, posn *cache.Posn) {
	c.posn, c.owner, c.method = posn, owner, m
	c.err = nil
	c.height, c.minHeight, c.maxHeight, c.unreachable = 0, 0, 0, false
	c.argTypes, c.argOffsets = nil, nil
	c.localTypes, c.localOffsets = nil, nil
	c.argWords, c.localWords, c.varArgSlot = 0, 0, 0
	c.memSlots = make(map[uint32]bool)
	c.labels = make(map[uint32]*label)
	c.clauses, c.rethrowLocals = nil, nil
	c.tableStart, c.tryEntry = -1, -1
	c.switchAt = -1
}

func (c *Coder) makeLocals(n uint32) {
	switch n {
	case 0:
	case 1:
		c.op(cvm.COP_MK_LOCAL_1, 0)
	case 2:
		c.op(cvm.COP_MK_LOCAL_2, 0)
	case 3:
		c.op(cvm.COP_MK_LOCAL_3, 0)
	default:
		c.opByte(cvm.COP_MK_LOCAL_N, n, 0)
	}
}

// Finish closes the method. The bool is false when nothing was stored; the
// error then says why (cvmerrors.ErrCacheFull and cvmerrors.ErrRestart are
// recoverable by the caller).
func (c *Coder) Finish() (*cache.Method, bool, error) {
	if c.posn == nil {
		return nil, false, cvmerrors.ErrNoMethod
	}
	if len(c.clauses) > 0 && c.tableStart < 0 {
		c.HandlerTable()
	}
	if c.tryEntry >= 0 {
		c.fail(fmt.Errorf("try entry at 0x%x never closed: %w", c.tryEntry, cvmerrors.ErrUnbalancedTry))
	}
	if c.switchAt >= 0 && c.switchNext < c.switchCount {
		c.fail(fmt.Errorf("switch at 0x%x has %d of %d entries: %w", c.switchAt, c.switchNext, c.switchCount, cvmerrors.ErrUnresolvedLabel))
	}
	for off, l := range c.labels {
		if l.pos < 0 && len(l.fixups) > 0 {
			c.fail(fmt.Errorf("label IL_%04x: %w", off, cvmerrors.ErrUnresolvedLabel))
			break
		}
	}
	if c.err != nil {
		err := c.err
		c.Abort()
		return nil, false, err
	}
	c.posn.PatchWord32(c.heightCheck, c.localWords+uint32(c.maxHeight))

	posn, name := c.posn, c.method.Name
	c.posn = nil
	m, res := c.cache.EndMethod(posn)
	switch res {
	case cache.EndOK:
		log.Debug(log.CoderMonitoring, "method coded", "method", name, "bytes", len(m.Code), "maxHeight", c.maxHeight)
		return m, true, nil
	case cache.EndRestart:
		return nil, false, cvmerrors.ErrRestart
	case cache.EndTooBig:
		return nil, false, fmt.Errorf("%s: %w", name, cvmerrors.ErrMethodTooLarge)
	}
	return nil, false, cvmerrors.ErrCacheFull
}

// Abort discards the method in progress.
func (c *Coder) Abort() {
	if c.posn == nil {
		return
	}
	c.cache.AbortMethod(c.posn)
	c.posn = nil
}

// Err returns the first error recorded while emitting.
func (c *Coder) Err() error { return c.err }

func (c *Coder) Height() int    { return c.height }
func (c *Coder) MaxHeight() int { return c.maxHeight }

// MinHeight is the lowest height reached since the last StackRefresh, so a
// driver can tell how many of the words it declared were consumed.
func (c *Coder) MinHeight() int { return c.minHeight }

// Position is the method offset of the next instruction.
func (c *Coder) Position() int {
	if c.posn == nil {
		return 0
	}
	return c.posn.Position()
}

// StackRefresh resets the simulated height, for drivers that know the stack
// state at a join the coder cannot see.
func (c *Coder) StackRefresh(height int) {
	c.height = height
	c.minHeight = height
	c.unreachable = false
	if height > c.maxHeight {
		c.maxHeight = height
	}
}

// MarkBytecode records that the next instruction comes from ilOffset.
func (c *Coder) MarkBytecode(ilOffset uint32) {
	if c.posn != nil {
		c.posn.MarkBytecode(ilOffset)
	}
}

func (c *Coder) fail(err error) {
	if c.err == nil {
		c.err = err
		log.Warn(log.CoderMonitoring, "coder error", "owner", c.owner, "err", err)
	}
}

func (c *Coder) emit(code []byte, delta int) {
	c.buf = code[:0]
	if c.posn == nil {
		c.fail(cvmerrors.ErrNoMethod)
		return
	}
	c.posn.Bytes(code)
	c.adjust(delta)
}

func (c *Coder) adjust(delta int) {
	c.height += delta
	if c.height < 0 {
		c.fail(fmt.Errorf("height %d at 0x%x: %w", c.height, c.Position(), cvmerrors.ErrStackUnderflow))
		c.height = 0
	}
	if c.height < c.minHeight {
		c.minHeight = c.height
	}
	if c.height > c.maxHeight {
		c.maxHeight = c.height
	}
}

func (c *Coder) op(op cvm.Opcode, delta int) {
	c.emit(cvm.AppendOp(c.buf[:0], op), delta)
}

func (c *Coder) opLocal(op cvm.Opcode, n uint32, delta int) {
	c.emit(cvm.AppendLocal(c.buf[:0], op, n), delta)
}

func (c *Coder) opByte(op cvm.Opcode, n uint32, delta int) {
	c.emit(cvm.AppendByteArg(c.buf[:0], op, n), delta)
}

func (c *Coder) opByte2(op cvm.Opcode, a, b uint32, delta int) {
	c.emit(cvm.AppendByte2(c.buf[:0], op, a, b), delta)
}

func (c *Coder) opWord(op cvm.Opcode, w uint32, delta int) {
	c.emit(cvm.AppendWord(c.buf[:0], op, w), delta)
}

func (c *Coder) opWord2(op cvm.Opcode, a, b uint32, delta int) {
	c.emit(cvm.AppendWord2(c.buf[:0], op, a, b), delta)
}

func (c *Coder) opPtr(op cvm.Opcode, h il.Handle, delta int) {
	c.emit(cvm.AppendPtr(c.buf[:0], op, uint64(h), c.layout), delta)
}

func (c *Coder) opPtrWord(op cvm.Opcode, h il.Handle, w uint32, delta int) {
	c.emit(cvm.AppendPtrWord(c.buf[:0], op, uint64(h), w, c.layout), delta)
}

func (c *Coder) opPtrByte(op cvm.Opcode, h il.Handle, b byte, delta int) {
	c.emit(cvm.AppendPtrByte(c.buf[:0], op, uint64(h), b, c.layout), delta)
}

func (c *Coder) words(t il.Type) int { return int(c.layout.WordsOf(t)) }

func (c *Coder) engineWords(t il.EngineType) int { return int(c.layout.WordsOfEngine(t, 0)) }
