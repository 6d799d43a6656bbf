//go:build unix

package engine

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func mapArena(size int) ([]byte, error) {
	buf, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("mmap arena: %w", err)
	}
	return buf, nil
}

func unmapArena(buf []byte) error {
	return unix.Munmap(buf)
}
