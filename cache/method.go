package cache

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/xlab/treeprint"
)

// OffsetPair maps an IL offset to the CVM offset of the code generated for it.
type OffsetPair struct {
	IL  uint32
	CVM uint32
}

// Region is a contiguous range of program counters owned by a method.
type Region struct {
	Start  uint64
	End    uint64 // exclusive
	Method *Method
	Native bool
}

func (r Region) Contains(pc uint64) bool { return pc >= r.Start && pc < r.End }

// Method is a finished method body in the cache.
type Method struct {
	Owner any
	// Start is the program counter of the first byte of Code.
	Start uint64
	Code  []byte
	// TableOffset is the offset within Code of the exception handler
	// table, or -1.
	TableOffset int
	Fingerprint uint64

	ilMap   []OffsetPair // sorted by CVM offset
	byIL    []OffsetPair // sorted by IL offset
	native  []Region
	page    *page
	evicted atomic.Bool
}

func (m *Method) String() string {
	return fmt.Sprintf("%v@0x%x", m.Owner, m.Start)
}

func (m *Method) Evicted() bool { return m.evicted.Load() }

// End is the program counter one past the method body.
func (m *Method) End() uint64 { return m.Start + uint64(len(m.Code)) }

// Offset converts a program counter inside the method to a code offset.
func (m *Method) Offset(pc uint64) int { return int(pc - m.Start) }

// PCOf converts a code offset to a program counter.
func (m *Method) PCOf(off int) uint64 { return m.Start + uint64(off) }

// OffsetMap returns the recorded IL/CVM offset pairs in CVM order.
func (m *Method) OffsetMap() []OffsetPair { return m.ilMap }

// GetILOffset maps a CVM offset back to the IL offset that generated it.
// With exact false the closest mark at or before cvmOffset is used.
func (m *Method) GetILOffset(cvmOffset uint32, exact bool) (uint32, bool) {
	i := sort.Search(len(m.ilMap), func(i int) bool { return m.ilMap[i].CVM > cvmOffset })
	if i == 0 {
		return 0, false
	}
	pair := m.ilMap[i-1]
	if exact && pair.CVM != cvmOffset {
		return 0, false
	}
	return pair.IL, true
}

// GetNativeOffset maps an IL offset to the CVM offset of its code. With exact
// false the closest IL mark at or before ilOffset is used.
func (m *Method) GetNativeOffset(ilOffset uint32, exact bool) (uint32, bool) {
	i := sort.Search(len(m.byIL), func(i int) bool { return m.byIL[i].IL > ilOffset })
	if i == 0 {
		return 0, false
	}
	pair := m.byIL[i-1]
	if exact && pair.IL != ilOffset {
		return 0, false
	}
	return pair.CVM, true
}

// TryEntry is one entry of the in-code exception handler table.
type TryEntry struct {
	Offset int    // offset of the entry header within Code
	Start  uint32 // protected range, CVM offsets
	End    uint32
	Length uint32
}

// CodeOffset returns the offset of the entry's matching code.
func (e TryEntry) CodeOffset() int { return e.Offset + 12 }

// Next is the offset of the following entry.
func (e TryEntry) Next() int { return e.Offset + 4 + int(e.Length) }

func (e TryEntry) LastChance() bool { return e.Start == 0 && e.End == 0xFFFFFFFF }

// TryEntries decodes the handler table, ending with the last-chance entry.
func (m *Method) TryEntries() ([]TryEntry, error) {
	if m.TableOffset < 0 {
		return nil, nil
	}
	var entries []TryEntry
	for off := m.TableOffset; ; {
		if off+12 > len(m.Code) {
			return entries, fmt.Errorf("handler table entry at 0x%04x runs past the method", off)
		}
		e := TryEntry{
			Offset: off,
			Start:  binary.LittleEndian.Uint32(m.Code[off:]),
			End:    binary.LittleEndian.Uint32(m.Code[off+4:]),
			Length: binary.LittleEndian.Uint32(m.Code[off+8:]),
		}
		entries = append(entries, e)
		if e.LastChance() {
			return entries, nil
		}
		if e.Length < 8 {
			return entries, fmt.Errorf("handler table entry at 0x%04x has length %d", off, e.Length)
		}
		off = e.Next()
	}
}

// Tree renders the nesting of the method's protected regions.
func (m *Method) Tree() treeprint.Tree {
	root := treeprint.NewWithRoot(fmt.Sprintf("%v [0x%x, 0x%x) %d bytes xxh3=%016x",
		m.Owner, m.Start, m.End(), len(m.Code), m.Fingerprint))
	entries, err := m.TryEntries()
	if err != nil {
		root.AddNode("error: " + err.Error())
	}
	var tries []TryEntry
	for _, e := range entries {
		if !e.LastChance() {
			tries = append(tries, e)
		}
	}
	parent := make([]int, len(tries))
	for i, e := range tries {
		parent[i] = -1
		for j, o := range tries {
			if j == i || o.Start > e.Start || o.End < e.End {
				continue
			}
			// identical ranges: the later entry is the outer one
			if o.Start == e.Start && o.End == e.End && j < i {
				continue
			}
			if parent[i] < 0 || tries[parent[i]].End-tries[parent[i]].Start > o.End-o.Start {
				parent[i] = j
			}
		}
	}
	var add func(node treeprint.Tree, p int)
	add = func(node treeprint.Tree, p int) {
		for i, e := range tries {
			if parent[i] != p {
				continue
			}
			label := fmt.Sprintf("try [0x%04x, 0x%04x) handlers @0x%04x", e.Start, e.End, e.CodeOffset())
			add(node.AddBranch(label), i)
		}
	}
	add(root, -1)
	for _, e := range entries {
		if e.LastChance() {
			root.AddNode(fmt.Sprintf("last chance @0x%04x", e.CodeOffset()))
		}
	}
	for _, r := range m.native {
		root.AddNode(fmt.Sprintf("native [0x%x, 0x%x)", r.Start, r.End))
	}
	return root
}
