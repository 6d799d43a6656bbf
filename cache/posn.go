package cache

import "encoding/binary"

// Posn is the write cursor of a method being generated. Writes past the end
// of the page set the overflow flag and are dropped; the caller notices at
// EndMethod.
type Posn struct {
	c        *Cache
	owner    any
	page     *page
	start    int // page offset of the method's first byte
	ptr      int // page offset of the next byte
	limit    int
	overflow bool
	ilMap    []OffsetPair
	table    int
}

// Position returns the offset of the next byte relative to the method start.
func (p *Posn) Position() int { return p.ptr - p.start }

// PC returns the global program counter of the next byte.
func (p *Posn) PC() uint64 { return p.page.base + uint64(p.ptr) }

// StartPC returns the global program counter of the method's first byte.
func (p *Posn) StartPC() uint64 { return p.page.base + uint64(p.start) }

func (p *Posn) Overflow() bool { return p.overflow }

// Remaining is the number of bytes that can still be written.
func (p *Posn) Remaining() int {
	if p.overflow {
		return 0
	}
	return p.limit - p.ptr
}

func (p *Posn) Byte(b byte) {
	if p.ptr < p.limit {
		p.page.data[p.ptr] = b
		p.ptr++
		return
	}
	p.overflow = true
}

// Bytes appends b atomically: either all of b is written or none.
func (p *Posn) Bytes(b []byte) {
	if p.overflow || p.ptr+len(b) > p.limit {
		p.overflow = true
		return
	}
	p.ptr += copy(p.page.data[p.ptr:], b)
}

func (p *Posn) Word32(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	p.Bytes(buf[:])
}

func (p *Posn) Word64(v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	p.Bytes(buf[:])
}

// Ptr writes a pointer-sized value of ptrSize bytes.
func (p *Posn) Ptr(v uint64, ptrSize int) {
	if ptrSize == 8 {
		p.Word64(v)
		return
	}
	p.Word32(uint32(v))
}

// Code returns the bytes written so far. The slice aliases the page, so
// in-place edits are visible to the final method body.
func (p *Posn) Code() []byte { return p.page.data[p.start:p.ptr] }

// Truncate discards everything written after method offset pos.
func (p *Posn) Truncate(pos int) {
	if p.start+pos < p.ptr {
		p.ptr = p.start + pos
	}
}

// PatchByte overwrites the byte at method offset pos.
func (p *Posn) PatchByte(pos int, b byte) {
	if p.start+pos < p.ptr {
		p.page.data[p.start+pos] = b
	}
}

// PatchWord32 overwrites the word at method offset pos.
func (p *Posn) PatchWord32(pos int, v uint32) {
	if p.start+pos+4 <= p.ptr {
		binary.LittleEndian.PutUint32(p.page.data[p.start+pos:], v)
	}
}

// MarkBytecode records that the CVM code at the current position was
// generated from the IL instruction at ilOffset.
func (p *Posn) MarkBytecode(ilOffset uint32) {
	pos := uint32(p.Position())
	if n := len(p.ilMap); n > 0 && p.ilMap[n-1].CVM == pos {
		p.ilMap[n-1].IL = ilOffset
		return
	}
	p.ilMap = append(p.ilMap, OffsetPair{IL: ilOffset, CVM: pos})
}

// SetHandlerTable records the method offset of the exception handler table.
func (p *Posn) SetHandlerTable(pos int) { p.table = pos }
