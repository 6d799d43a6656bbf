package unroll

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colorfulnotion/cvm/cvmerrors"
)

func TestPseudoStackBounds(t *testing.T) {
	var p pseudoStack
	_, err := p.pop()
	assert.True(t, errors.Is(err, cvmerrors.ErrPseudoStackEmpty))
	_, err = p.peekTop(0)
	assert.True(t, errors.Is(err, cvmerrors.ErrPseudoStackEmpty))

	for i := 0; i < MaxPseudo; i++ {
		require.NoError(t, p.push(Reg(i)))
	}
	assert.True(t, errors.Is(p.push(99), cvmerrors.ErrPseudoStackFull))
	assert.True(t, errors.Is(p.insertBottom(99), cvmerrors.ErrPseudoStackFull))
	assert.Equal(t, MaxPseudo, p.len())

	top, err := p.peekTop(0)
	require.NoError(t, err)
	assert.Equal(t, Reg(MaxPseudo-1), top)
	_, err = p.peekTop(MaxPseudo)
	assert.Error(t, err)
}

func TestPseudoStackOrder(t *testing.T) {
	var p pseudoStack
	require.NoError(t, p.push(3))
	require.NoError(t, p.push(4))
	require.NoError(t, p.insertBottom(9))
	assert.Equal(t, []Reg{9, 3, 4}, p.words())
	assert.True(t, p.holds(9))

	r, err := p.removeBottom()
	require.NoError(t, err)
	assert.Equal(t, Reg(9), r)
	assert.False(t, p.holds(9))

	r, err = p.pop()
	require.NoError(t, err)
	assert.Equal(t, Reg(4), r)

	assert.Equal(t, []Reg{3}, p.spillAll())
	assert.Zero(t, p.len())
}

func TestCondNot(t *testing.T) {
	for _, c := range []Cond{CondEQ, CondNE, CondLT, CondLE, CondGT, CondGE, CondLTU, CondLEU, CondGTU, CondGEU} {
		assert.Equal(t, c, c.Not().Not())
		assert.NotEqual(t, c, c.Not())
	}
	assert.Equal(t, CondLTU, CondGEU.Not())
}

func TestTranslatable(t *testing.T) {
	ops := Translatable()
	assert.NotEmpty(t, ops)
	seen := make(map[string]bool)
	for _, op := range ops {
		seen[op.String()] = true
	}
	for _, name := range []string{"iadd", "iload", "istore_0", "iwrite_elem", "beq", "cknull"} {
		assert.True(t, seen[name], name)
	}
	assert.False(t, seen["call"])
	assert.False(t, seen["return"])
}
