package unroll

import (
	"fmt"

	"github.com/colorfulnotion/cvm/cvmerrors"
)

// MaxPseudo is the deepest run of stack words kept in registers.
const MaxPseudo = 16

// pseudoStack mirrors the top words of the CVM stack that live in
// registers, bottom first.
type pseudoStack struct {
	regs [MaxPseudo]Reg
	n    int
}

func (p *pseudoStack) len() int { return p.n }

func (p *pseudoStack) push(r Reg) error {
	if p.n == MaxPseudo {
		return fmt.Errorf("push %d: %w", r, cvmerrors.ErrPseudoStackFull)
	}
	p.regs[p.n] = r
	p.n++
	return nil
}

// insertBottom places r below every register word, for a word reloaded
// from memory.
func (p *pseudoStack) insertBottom(r Reg) error {
	if p.n == MaxPseudo {
		return fmt.Errorf("reload %d: %w", r, cvmerrors.ErrPseudoStackFull)
	}
	copy(p.regs[1:p.n+1], p.regs[:p.n])
	p.regs[0] = r
	p.n++
	return nil
}

func (p *pseudoStack) pop() (Reg, error) {
	if p.n == 0 {
		return 0, cvmerrors.ErrPseudoStackEmpty
	}
	p.n--
	return p.regs[p.n], nil
}

// peekTop returns the register depth words below the top.
func (p *pseudoStack) peekTop(depth int) (Reg, error) {
	if depth < 0 || depth >= p.n {
		return 0, fmt.Errorf("peek %d of %d: %w", depth, p.n, cvmerrors.ErrPseudoStackEmpty)
	}
	return p.regs[p.n-1-depth], nil
}

// removeBottom drops the oldest register word.
func (p *pseudoStack) removeBottom() (Reg, error) {
	if p.n == 0 {
		return 0, cvmerrors.ErrPseudoStackEmpty
	}
	r := p.regs[0]
	copy(p.regs[:p.n-1], p.regs[1:p.n])
	p.n--
	return r, nil
}

func (p *pseudoStack) holds(r Reg) bool {
	for _, x := range p.regs[:p.n] {
		if x == r {
			return true
		}
	}
	return false
}

// spillAll empties the stack, returning its registers bottom first.
func (p *pseudoStack) spillAll() []Reg {
	out := append([]Reg(nil), p.regs[:p.n]...)
	p.n = 0
	return out
}

func (p *pseudoStack) words() []Reg { return p.regs[:p.n] }
