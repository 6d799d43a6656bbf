package engine

import (
	"fmt"
	"sync"

	"github.com/colorfulnotion/cvm/cvm"
	"github.com/colorfulnotion/cvm/unroll"
)

type execFunc func(t *Thread, pc int) int

// Handler executes one CVM instruction and returns the pc to continue at.
// Every opcode has exactly one Handler; the pointers are the direct-threaded
// instruction stream and the keys of the opcode table's reverse lookup.
// Fragment handlers wrap an unrolled block and are not in the table.
type Handler struct {
	Op   cvm.Opcode
	exec execFunc
	frag *unroll.Fragment
	orig *Handler
}

func (h *Handler) String() string {
	if h.frag != nil {
		return fmt.Sprintf("native(%s)@0x%x", h.Op, h.frag.Entry)
	}
	return h.Op.String()
}

// Native reports whether h runs an unrolled fragment.
func (h *Handler) Native() bool { return h.frag != nil }

var handlerSet struct {
	once   sync.Once
	table  *cvm.Table
	err    error
	main   [256]*Handler
	prefix [256]*Handler
}

// OpcodeTable returns the immutable table of interpreter handlers, building
// it on first use.
func OpcodeTable() (*cvm.Table, error) {
	handlerSet.once.Do(func() {
		funcs := make(map[cvm.Opcode]execFunc)
		for _, group := range []map[cvm.Opcode]execFunc{
			localOps(), stackOps(), arithOps(), convOps(), branchOps(),
			memoryOps(), elementOps(), callOps(), exceptionOps(), objectOps(),
		} {
			for op, fn := range group {
				funcs[op] = fn
			}
		}
		handlerSet.table, handlerSet.err = cvm.NewTable(func(op cvm.Opcode) any {
			fn, ok := funcs[op]
			if !ok {
				return nil
			}
			h := &Handler{Op: op, exec: fn}
			if op.IsPrefixed() {
				handlerSet.prefix[op.Sub()] = h
			} else {
				handlerSet.main[op&0xFF] = h
			}
			return h
		})
	})
	return handlerSet.table, handlerSet.err
}

// handlerAt decodes the instruction at pc to its interpreter handler.
func handlerAt(code []byte, pc int) *Handler {
	op := cvm.OpcodeAt(code, pc)
	if op.IsPrefixed() {
		return handlerSet.prefix[op.Sub()]
	}
	return handlerSet.main[op&0xFF]
}
