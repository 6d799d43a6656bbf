package engine

// callNative enters a fragment with the context address in RDI. Fragments
// preserve RSP, RBP, R14 and R15.
//
//go:noescape
func callNative(entry, ctx uintptr)

const nativeExecution = true
