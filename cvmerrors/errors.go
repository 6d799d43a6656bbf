package cvmerrors

import (
	"errors"
	"strings"
)

// Cache (C) Errors
var (
	ErrCacheFull       = errors.New("C1|CacheFull: The method cache ran out of space; recompile with a larger cache.")
	ErrMethodTooLarge  = errors.New("C2|MethodTooLarge: The method does not fit in a single cache page.")
	ErrNativeFull      = errors.New("C3|NativeFull: The native code region is exhausted.")
	ErrUnknownPC       = errors.New("C4|UnknownPC: The program counter does not belong to any cached method.")
	ErrMethodEvicted   = errors.New("C5|MethodEvicted: The method was evicted from the cache.")
	ErrExecUnavailable = errors.New("C6|ExecUnavailable: Executable memory is not available on this platform.")
	ErrRestart         = errors.New("C7|Restart: The method overflowed a shared page and must be recoded in a fresh page.")
)

// Coder (K) Errors
var (
	ErrStackUnderflow   = errors.New("K1|StackUnderflow: The coder's simulated stack height went negative.")
	ErrUnresolvedLabel  = errors.New("K2|UnresolvedLabel: A branch target label was never placed.")
	ErrHeightMismatch   = errors.New("K3|HeightMismatch: Two paths reach a label with different stack heights.")
	ErrUnbalancedTry    = errors.New("K4|UnbalancedTry: A try handler was closed twice or never opened.")
	ErrUnsupportedType  = errors.New("K5|UnsupportedType: The engine type combination has no CVM encoding.")
	ErrNoMethod         = errors.New("K6|NoMethod: The coder has no method in progress.")
	ErrUnsupportedWidth = errors.New("K7|UnsupportedWidth: Pointer size must be 4 or 8 bytes.")
	ErrBadOperand       = errors.New("K8|BadOperand: An argument, local or clause index is out of range.")
)

// Unroller (U) Errors
var (
	ErrUnrollNoSpace    = errors.New("U1|UnrollNoSpace: Not enough native code space to start unrolling.")
	ErrUnknownArch      = errors.New("U2|UnknownArch: No native code generator for this architecture.")
	ErrPseudoStackFull  = errors.New("U3|PseudoStackFull: The pseudo stack has no free slots.")
	ErrPseudoStackEmpty = errors.New("U4|PseudoStackEmpty: Pop from an empty pseudo stack.")
	ErrAlreadyUnrolled  = errors.New("U5|AlreadyUnrolled: The method has already been unrolled.")
	ErrUntranslatable   = errors.New("U6|Untranslatable: The instruction has no native translation.")
)

// Engine (E) Errors
var (
	ErrBadConfig        = errors.New("E1|BadConfig: The engine configuration is invalid.")
	ErrUnknownHandle    = errors.New("E2|UnknownHandle: The handle does not name a registered class, method or field.")
	ErrNotCompiled      = errors.New("E3|NotCompiled: The method has no compiled body.")
	ErrArenaExhausted   = errors.New("E4|ArenaExhausted: The managed memory arena is exhausted.")
	ErrBadArguments     = errors.New("E5|BadArguments: The invocation arguments do not match the method signature.")
	ErrThreadTerminated = errors.New("E6|ThreadTerminated: The thread has already finished executing.")
)

// GetErrorName extracts the error name from the error message.
func GetErrorName(err error) string {
	if err == nil {
		return "No Error"
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "|") || !strings.Contains(errStr, ":") {
		return errStr
	}
	parts := strings.SplitN(errStr, "|", 2)
	if len(parts) < 2 {
		return errStr
	}
	nameParts := strings.SplitN(parts[1], ":", 2)
	return strings.TrimSpace(nameParts[0])
}

// GetErrorCode extracts the error code from the error message.
func GetErrorCode(err error) string {
	if err == nil {
		return ""
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "|") {
		return ""
	}
	parts := strings.SplitN(errStr, "|", 2)
	code := strings.TrimSpace(parts[0])
	// wrapped errors carry a "context: " prefix before the code
	if i := strings.LastIndex(code, " "); i >= 0 {
		code = code[i+1:]
	}
	return code
}

// GetErrorDesc extracts the error description from the error message.
func GetErrorDesc(err error) string {
	if err == nil {
		return ""
	}
	errStr := err.Error()
	if i := strings.Index(errStr, "|"); i >= 0 {
		errStr = errStr[i+1:]
	}
	parts := strings.SplitN(errStr, ":", 2)
	if len(parts) < 2 {
		return "DESC NOT SET"
	}
	return strings.TrimSpace(parts[1])
}
