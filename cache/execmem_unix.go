//go:build unix

package cache

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// mapNative maps an anonymous RWX region for unrolled fragments. Only
// linux/amd64 ever runs them; other unix targets still map writable memory so
// the generators can be exercised.
func mapNative(size int) ([]byte, bool, error) {
	if runtime.GOOS == "linux" && runtime.GOARCH == "amd64" {
		buf, err := unix.Mmap(-1, 0, size,
			unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC,
			unix.MAP_PRIVATE|unix.MAP_ANON)
		if err == nil {
			return buf, true, nil
		}
		// hardened kernels may refuse W+X; fall through to plain memory
	}
	buf, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, false, fmt.Errorf("mmap native region: %w", err)
	}
	return buf, false, nil
}

func unmapNative(buf []byte) error {
	return unix.Munmap(buf)
}
