//go:build !unix

package engine

func mapArena(size int) ([]byte, error) { return make([]byte, size), nil }

func unmapArena(buf []byte) error { return nil }
