//go:build !(linux && amd64)

package engine

func callNative(entry, ctx uintptr) {
	panic("native fragments are not executed on this platform")
}

const nativeExecution = false
