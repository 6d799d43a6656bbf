package cvm

import "fmt"

// Table maps every opcode to the interpreter handler that executes it and
// back. It is built once by the engine and shared read-only with the
// unroller, which uses the reverse lookup to recognise instructions in a
// direct-threaded slot stream.
//
// Handlers must be comparable (pointers in practice).
type Table struct {
	main    [256]any
	prefix  [256]any
	reverse map[any]Opcode
}

// NewTable builds a table by asking build for the handler of every defined
// opcode. build may return nil for opcodes it does not implement.
func NewTable(build func(op Opcode) any) (*Table, error) {
	t := &Table{reverse: make(map[any]Opcode)}
	add := func(op Opcode) error {
		if !IsDefined(op) {
			return nil
		}
		h := build(op)
		if h == nil {
			return nil
		}
		if prev, dup := t.reverse[h]; dup {
			return fmt.Errorf("handler for %s already bound to %s", op, prev)
		}
		t.reverse[h] = op
		if op.IsPrefixed() {
			t.prefix[op.Sub()] = h
		} else {
			t.main[op] = h
		}
		return nil
	}
	for i := 0; i < int(numMainOpcodes); i++ {
		if err := add(Opcode(i)); err != nil {
			return nil, err
		}
	}
	for i := 0; i < numPrefixOpcodes; i++ {
		if err := add(Prefixed(byte(i))); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Handler returns the handler bound to op, or nil.
func (t *Table) Handler(op Opcode) any {
	if op.IsPrefixed() {
		return t.prefix[op.Sub()]
	}
	return t.main[op&0xFF]
}

// Opcode returns the opcode a handler was bound to.
func (t *Table) Opcode(h any) (Opcode, bool) {
	op, ok := t.reverse[h]
	return op, ok
}

// Len is the number of bound opcodes.
func (t *Table) Len() int { return len(t.reverse) }

// Opcodes lists every defined opcode, main opcodes first.
func Opcodes() []Opcode {
	ops := make([]Opcode, 0, int(numMainOpcodes)+numPrefixOpcodes)
	for i := 0; i < int(numMainOpcodes); i++ {
		ops = append(ops, Opcode(i))
	}
	for i := 0; i < numPrefixOpcodes; i++ {
		ops = append(ops, Prefixed(byte(i)))
	}
	return ops
}
