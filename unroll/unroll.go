// Package unroll translates straight-line runs of CVM instructions into
// native code. A fragment replaces the interpreter handler at the first
// instruction of its block; the rest of the method keeps running in the
// interpreter.
package unroll

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/colorfulnotion/cvm/cache"
	"github.com/colorfulnotion/cvm/config"
	"github.com/colorfulnotion/cvm/cvm"
	"github.com/colorfulnotion/cvm/cvmerrors"
	"github.com/colorfulnotion/cvm/log"
)

// Stream is the direct-threaded instruction stream of one method.
type Stream interface {
	Code() []byte
	// Handler returns the handler installed at pc.
	Handler(pc int) any
	// Patch replaces the handler at f.Start with one that runs f.
	Patch(f *Fragment)
}

// Fragment is the native code of one block [Start, End).
type Fragment struct {
	Method *cache.Method
	Start  int
	End    int
	Entry  uintptr
	Code   []byte
	Ops    int
	Guards int
	// Epoch is the native region epoch the code was written in.
	Epoch uint64
}

func (f *Fragment) String() string {
	return fmt.Sprintf("block [0x%04x, 0x%04x) %d ops %d bytes @0x%x", f.Start, f.End, f.Ops, len(f.Code), f.Entry)
}

type Stats struct {
	Methods      uint64
	Blocks       uint64
	Instructions uint64
	Bytes        uint64
	Guards       uint64
	CachedHits   uint64
	ThisHits     uint64
	EarlyCloses  uint64
	Abandoned    uint64
}

// Unroller owns a code generator and writes fragments into the native
// region of a method cache. It is safe for concurrent use.
type Unroller struct {
	gen      NativeCodeGenerator
	table    *cvm.Table
	cache    *cache.Cache
	allow    map[cvm.Opcode]bool
	minSpace int
	canExec  bool

	methods, blocks, instructions, bytes atomic.Uint64
	guards, hits, thisHits               atomic.Uint64
	earlyCloses, abandoned               atomic.Uint64
}

// New returns an unroller for the instructions allowed by cfg. An empty
// allow list enables every translatable instruction.
func New(table *cvm.Table, c *cache.Cache, gen NativeCodeGenerator, cfg config.UnrollConfig, canExec bool) (*Unroller, error) {
	u := &Unroller{
		gen:      gen,
		table:    table,
		cache:    c,
		allow:    make(map[cvm.Opcode]bool),
		minSpace: cfg.MinBlockSpace,
		canExec:  canExec,
	}
	if len(cfg.Allow) == 0 {
		for _, op := range Translatable() {
			u.allow[op] = true
		}
		return u, nil
	}
	byName := make(map[string]cvm.Opcode)
	for _, op := range Translatable() {
		byName[cvm.OpcodeName(op)] = op
	}
	for _, name := range cfg.Allow {
		op, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unroll.allow %q is not a translatable instruction: %w", name, cvmerrors.ErrBadConfig)
		}
		u.allow[op] = true
	}
	return u, nil
}

func (u *Unroller) Generator() NativeCodeGenerator { return u.gen }

// CanExecute reports whether patched fragments will run.
func (u *Unroller) CanExecute() bool { return u.canExec }

// Allowed reports whether op may be translated.
func (u *Unroller) Allowed(op cvm.Opcode) bool { return u.allow[op] }

func (u *Unroller) Stats() Stats {
	return Stats{
		Methods:      u.methods.Load(),
		Blocks:       u.blocks.Load(),
		Instructions: u.instructions.Load(),
		Bytes:        u.bytes.Load(),
		Guards:       u.guards.Load(),
		CachedHits:   u.hits.Load(),
		ThisHits:     u.thisHits.Load(),
		EarlyCloses:  u.earlyCloses.Load(),
		Abandoned:    u.abandoned.Load(),
	}
}

// Labels returns the offsets at which control can arrive other than by
// falling through: offset 0, branch and switch targets, and the return
// points of subroutine and filter calls.
func Labels(m *cache.Method) (map[int]bool, error) {
	labels := map[int]bool{0: true}
	code := m.Code
	end := len(code)
	if m.TableOffset >= 0 {
		end = m.TableOffset
	}
	visit := func(ins cvm.Instruction) bool {
		switch {
		case ins.Op == cvm.COP_SWITCH:
			for _, t := range ins.Targets {
				labels[t] = true
			}
			labels[ins.PC+ins.Length] = true
		case ins.Op.IsBranch():
			labels[ins.Target] = true
			if ins.Op == cvm.COP_JSR {
				labels[ins.PC+ins.Length] = true
			}
		case ins.Op == cvm.COP_PREFIX_CALL_FILTER:
			labels[cvm.ArgPBranch(code, ins.PC, 2)] = true
			labels[ins.PC+ins.Length] = true
		}
		return true
	}
	if err := cvm.Walk(code, 0, end, cvm.Layout64, visit); err != nil {
		return nil, err
	}
	entries, err := m.TryEntries()
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if err := cvm.Walk(code, e.CodeOffset(), e.Next(), cvm.Layout64, visit); err != nil {
			return nil, err
		}
	}
	return labels, nil
}

// blockBudget is the native space one more instruction may need, counting
// the write back and exit of every guard it can emit.
func (u *Unroller) blockBudget() int {
	return u.gen.MaxInsn() * (3*(MaxPseudo+4) + 24)
}

// Unroll translates every block of m's body and patches s. It stops early
// with ErrUnrollNoSpace when the native region runs low; fragments already
// installed stay in place.
func (u *Unroller) Unroll(m *cache.Method, s Stream) ([]*Fragment, error) {
	labels, err := Labels(m)
	if err != nil {
		return nil, fmt.Errorf("unroll %v: %w", m, err)
	}
	u.methods.Add(1)
	code := s.Code()
	end := len(code)
	if m.TableOffset >= 0 {
		end = m.TableOffset
	}
	var out []*Fragment
	for pc := 0; pc < end; {
		if u.cache.Native().Available() < u.minSpace {
			u.abandoned.Add(1)
			log.Debug(log.UnrollMonitoring, "unroll abandoned", "method", m, "pc", pc, "available", u.cache.Native().Available())
			return out, fmt.Errorf("%v at 0x%04x: %w", m, pc, cvmerrors.ErrUnrollNoSpace)
		}
		f, next, err := u.block(m, s, code, pc, end, labels)
		if err != nil {
			return out, err
		}
		if f != nil {
			out = append(out, f)
		}
		pc = next
	}
	log.Debug(log.UnrollMonitoring, "unrolled", "method", m, "fragments", len(out), "labels", len(labels))
	return out, nil
}

func (u *Unroller) opAt(s Stream, code []byte, pc int) (cvm.Opcode, bool) {
	op, ok := u.table.Opcode(s.Handler(pc))
	if !ok || !u.allow[op] || !operandsFit(code, pc, op) {
		return op, false
	}
	return op, true
}

// block translates the block starting at pc. It returns the fragment, or
// nil when the first instruction cannot be translated, and the offset
// translation resumes at.
func (u *Unroller) block(m *cache.Method, s Stream, code []byte, pc, end int, labels map[int]bool) (*Fragment, int, error) {
	if _, ok := u.opAt(s, code, pc); !ok {
		return nil, pc + cvm.InstructionLength(code, pc, cvm.Layout64), nil
	}
	limit := u.cache.Native().Available()
	k := newBlock(u.gen, pc, limit)
	budget := u.blockBudget()
	at := pc
	for {
		op, ok := u.opAt(s, code, at)
		if !ok || (at != pc && labels[at]) {
			k.close(at)
			break
		}
		if k.b.Remaining() < budget {
			if at == pc {
				u.abandoned.Add(1)
				return nil, 0, fmt.Errorf("%v at 0x%04x: %w", m, pc, cvmerrors.ErrUnrollNoSpace)
			}
			u.earlyCloses.Add(1)
			k.close(at)
			break
		}
		next := at + cvm.InstructionLength(code, at, cvm.Layout64)
		if k.translate(code, at, op) {
			break
		}
		if k.err != nil {
			break
		}
		if next >= end {
			k.close(next)
			break
		}
		at = next
	}
	if k.err != nil {
		if errors.Is(k.err, cvmerrors.ErrPseudoStackFull) || errors.Is(k.err, cvmerrors.ErrPseudoStackEmpty) {
			// leave this block to the interpreter
			log.Debug(log.UnrollMonitoring, "block skipped", "method", m, "pc", pc, "err", k.err)
			return nil, pc + cvm.InstructionLength(code, pc, cvm.Layout64), nil
		}
		return nil, 0, fmt.Errorf("unroll %v at 0x%04x: %w", m, at, k.err)
	}
	f, err := u.install(m, k)
	if err != nil {
		return nil, 0, err
	}
	if u.canExec {
		s.Patch(f)
	}
	return f, k.end, nil
}

// install copies the block's code into the native region.
func (u *Unroller) install(m *cache.Method, k *block) (*Fragment, error) {
	code := k.b.Bytes()
	epoch := u.cache.Native().Epoch()
	addr, buf, err := u.cache.AllocNative(len(code))
	if err != nil {
		if errors.Is(err, cvmerrors.ErrNativeFull) {
			u.abandoned.Add(1)
			return nil, fmt.Errorf("%v: %w", err, cvmerrors.ErrUnrollNoSpace)
		}
		return nil, err
	}
	copy(buf, code)
	u.cache.CommitNative(m, addr, len(code))
	f := &Fragment{
		Method: m,
		Start:  k.start,
		End:    k.end,
		Entry:  addr,
		Code:   buf[:len(code):len(code)],
		Ops:    k.ops,
		Guards: k.guards,
		Epoch:  epoch,
	}
	u.blocks.Add(1)
	u.instructions.Add(uint64(k.ops))
	u.bytes.Add(uint64(len(code)))
	u.guards.Add(uint64(k.guards))
	u.hits.Add(uint64(k.hits))
	u.thisHits.Add(uint64(k.thisHits))
	log.Trace(log.NativeMonitoring, "fragment", "method", m, "start", f.Start, "end", f.End, "bytes", len(code), "entry", fmt.Sprintf("0x%x", addr))
	return f, nil
}

// Disassemble renders a fragment's native code.
func (u *Unroller) Disassemble(f *Fragment) []string {
	return u.gen.Disassemble(f.Code, uint64(f.Entry))
}
