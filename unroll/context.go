package unroll

// A fragment is entered with the address of a native context in the first
// argument register. The interpreter fills in the stack top and frame
// before the call and reads the rest back afterwards.
const (
	CtxStackTop = 0
	CtxFrame    = 8
	CtxNextPC   = 16
	CtxReason   = 24
	ContextSize = 32
)

// Reason tells the interpreter how a fragment ended.
type Reason uint32

const (
	// Continue resumes interpretation at the next pc.
	Continue Reason = iota
	// ReExecute runs the instruction at the next pc through its
	// interpreter handler, which raises whatever fault the guard saw.
	ReExecute
)

func (r Reason) String() string {
	switch r {
	case Continue:
		return "continue"
	case ReExecute:
		return "reexecute"
	}
	return "unknown"
}
