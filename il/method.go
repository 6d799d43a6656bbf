package il

import "fmt"

// ClauseFlags are the ECMA-335 exception clause kinds.
type ClauseFlags uint32

const (
	ClauseCatch   ClauseFlags = 0x0000
	ClauseFilter  ClauseFlags = 0x0001
	ClauseFinally ClauseFlags = 0x0002
	ClauseFault   ClauseFlags = 0x0004
)

func (f ClauseFlags) String() string {
	switch f {
	case ClauseCatch:
		return "catch"
	case ClauseFilter:
		return "filter"
	case ClauseFinally:
		return "finally"
	case ClauseFault:
		return "fault"
	}
	return fmt.Sprintf("clause(%d)", uint32(f))
}

// ExceptionClause is one row of a method's exception table. Offsets are IL offsets.
type ExceptionClause struct {
	Flags         ClauseFlags
	TryOffset     uint32
	TryLength     uint32
	HandlerOffset uint32
	HandlerLength uint32
	Class         Handle // catch clauses
	FilterOffset  uint32 // filter clauses
}

// TryEnd is the first IL offset after the protected range.
func (c ExceptionClause) TryEnd() uint32 { return c.TryOffset + c.TryLength }

// HandlerEnd is the first IL offset after the handler.
func (c ExceptionClause) HandlerEnd() uint32 { return c.HandlerOffset + c.HandlerLength }

// Encloses reports whether c's protected range contains other's.
func (c ExceptionClause) Encloses(other ExceptionClause) bool {
	return c.TryOffset <= other.TryOffset && other.TryEnd() <= c.TryEnd() &&
		!(c.TryOffset == other.TryOffset && c.TryLength == other.TryLength)
}

// Signature describes a method's calling shape.
type Signature struct {
	HasThis bool
	VarArg  bool
	Params  []Type
	Return  Type
}

// MethodInfo is everything the coder needs to know about a method body.
type MethodInfo struct {
	Name      string
	Handle    Handle
	Class     Handle
	Signature Signature
	Locals    []Type
	Clauses   []ExceptionClause
	// HasRethrow is set when the body contains a rethrow instruction.
	HasRethrow bool
	// IsCtor marks instance constructors.
	IsCtor bool
	// RunsCctor asks for a class constructor check at method entry.
	RunsCctor bool
	// AddressTakenArgs and AddressTakenLocals list the slots whose address
	// escapes through ldarga/ldloca. Sub-word and float32 slots in these
	// lists are kept in their storage representation and accessed through
	// memory.
	AddressTakenArgs   []uint32
	AddressTakenLocals []uint32
}

// ArgTypes returns the argument types including the implicit "this".
func (m *MethodInfo) ArgTypes() []Type {
	if !m.Signature.HasThis {
		return m.Signature.Params
	}
	this := ObjectOf(m.Class)
	return append([]Type{this}, m.Signature.Params...)
}
