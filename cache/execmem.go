package cache

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/colorfulnotion/cvm/cvmerrors"
)

// ExecMemory is the bump-allocated region that holds unrolled fragments.
// Fragments are never freed individually; Reset reclaims all of them and
// starts a new epoch.
type ExecMemory struct {
	mu         sync.Mutex
	buffer     []byte
	used       int
	epoch      uint64
	executable bool
}

func NewExecMemory(size int) (*ExecMemory, error) {
	if size <= 0 {
		return &ExecMemory{}, nil
	}
	buf, exec, err := mapNative(size)
	if err != nil {
		return nil, err
	}
	return &ExecMemory{buffer: buf, executable: exec}, nil
}

// Executable reports whether code written here may be run.
func (em *ExecMemory) Executable() bool { return em.executable }

// Allocate reserves size bytes, 16-byte aligned.
func (em *ExecMemory) Allocate(size int) (uintptr, []byte, error) {
	em.mu.Lock()
	defer em.mu.Unlock()
	start := (em.used + 15) &^ 15
	if start+size > len(em.buffer) {
		return 0, nil, fmt.Errorf("need %d bytes, have %d: %w", size, len(em.buffer)-start, cvmerrors.ErrNativeFull)
	}
	em.used = start + size
	return em.BaseAddress() + uintptr(start), em.buffer[start : start+size : start+size], nil
}

// Shrink returns the unused tail of the most recent allocation.
func (em *ExecMemory) Shrink(addr uintptr, used int) {
	em.mu.Lock()
	defer em.mu.Unlock()
	if off := int(addr - em.BaseAddress()); off >= 0 && off+used <= em.used {
		em.used = off + used
	}
}

// Reset empties the region. Code allocated before the reset must not run
// again; callers compare the epoch it was allocated in against Epoch.
func (em *ExecMemory) Reset() {
	em.mu.Lock()
	defer em.mu.Unlock()
	em.used = 0
	em.epoch++
}

// Epoch counts the resets so far.
func (em *ExecMemory) Epoch() uint64 {
	em.mu.Lock()
	defer em.mu.Unlock()
	return em.epoch
}

func (em *ExecMemory) BaseAddress() uintptr {
	if len(em.buffer) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&em.buffer[0]))
}

func (em *ExecMemory) Used() int {
	em.mu.Lock()
	defer em.mu.Unlock()
	return em.used
}

func (em *ExecMemory) Available() int {
	em.mu.Lock()
	defer em.mu.Unlock()
	return len(em.buffer) - em.used
}

func (em *ExecMemory) Capacity() int { return len(em.buffer) }

// Bytes returns the code at addr, for disassembly.
func (em *ExecMemory) Bytes(addr uintptr, size int) []byte {
	off := int(addr - em.BaseAddress())
	if off < 0 || off+size > len(em.buffer) {
		return nil
	}
	return em.buffer[off : off+size]
}

func (em *ExecMemory) Free() error {
	em.mu.Lock()
	defer em.mu.Unlock()
	if em.buffer == nil {
		return nil
	}
	err := unmapNative(em.buffer)
	em.buffer = nil
	em.used = 0
	return err
}
