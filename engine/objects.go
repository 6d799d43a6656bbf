package engine

import (
	"fmt"
	"unicode/utf16"

	"github.com/colorfulnotion/cvm/cvm"
	"github.com/colorfulnotion/cvm/cvmerrors"
	"github.com/colorfulnotion/cvm/il"
)

// Heap allocates managed objects in the arena. Every object is preceded by
// its class handle; nothing is ever freed.
type Heap struct {
	mem *Memory
	reg *Registry
}

func (h *Heap) alloc(class *Class, size uint64) (uint64, error) {
	if size > uint64(h.mem.Size()) {
		return 0, fmt.Errorf("%s of %d bytes: %w", class, size, cvmerrors.ErrArenaExhausted)
	}
	a, err := h.mem.Alloc(int(size)+cvm.ObjectHeaderSize, 8)
	if err != nil {
		return 0, err
	}
	h.mem.PutUint64(a, uint64(class.Handle))
	return a + cvm.ObjectHeaderSize, nil
}

// New allocates a zeroed instance of class.
func (h *Heap) New(class *Class) (uint64, error) {
	return h.alloc(class, uint64(max(class.InstanceSize, 1)))
}

// NewArray allocates an SZ array of n elements of elem.
func (h *Heap) NewArray(elem *Class, n uint32) (uint64, error) {
	a, err := h.alloc(h.reg.ArrayOf(elem), cvm.ArrayDataOffset+uint64(n)*uint64(elem.ElemSize()))
	if err != nil {
		return 0, err
	}
	h.mem.PutUint32(a+cvm.ArrayLengthOffset, n)
	return a, nil
}

// NewArray2D allocates a rectangular array with zero lower bounds.
func (h *Heap) NewArray2D(elem *Class, n0, n1 uint32) (uint64, error) {
	size := uint64(elem.ElemSize())
	a, err := h.alloc(h.reg.Array2DOf(elem), cvm.Array2DHeaderSize+uint64(n0)*uint64(n1)*size)
	if err != nil {
		return 0, err
	}
	h.mem.PutUint32(a+cvm.Array2DRankOffset, 2)
	h.mem.PutUint32(a+cvm.Array2DElemSizeOffset, uint32(size))
	h.mem.PutUint64(a+cvm.Array2DDataOffset, a+cvm.Array2DHeaderSize)
	for dim, n := range []uint32{n0, n1} {
		b := a + cvm.Array2DBoundsOffset + uint64(dim)*cvm.Array2DBoundSize
		h.mem.PutUint32(b+cvm.Array2DLowerOffset, 0)
		h.mem.PutUint32(b+cvm.Array2DSizeOffset, n)
		mult := uint32(size)
		if dim == 0 {
			mult *= n1
		}
		h.mem.PutUint32(b+cvm.Array2DMultOffset, mult)
	}
	return a, nil
}

// ArrayLength returns the element count of an SZ array.
func (h *Heap) ArrayLength(a uint64) uint32 { return h.mem.Uint32(a + cvm.ArrayLengthOffset) }

// NewString allocates a string object holding s as UTF-16.
func (h *Heap) NewString(s string) (uint64, error) {
	chars := utf16.Encode([]rune(s))
	a, err := h.alloc(h.reg.String, cvm.StringDataOffset+2*uint64(len(chars)))
	if err != nil {
		return 0, err
	}
	h.mem.PutUint32(a+cvm.StringLengthOffset, uint32(len(chars)))
	for i, c := range chars {
		h.mem.PutUint16(a+cvm.StringDataOffset+2*uint64(i), c)
	}
	return a, nil
}

// StringValue decodes a string object. A null reference yields "".
func (h *Heap) StringValue(a uint64) string {
	if a == 0 {
		return ""
	}
	n := h.mem.Uint32(a + cvm.StringLengthOffset)
	chars := make([]uint16, n)
	for i := range chars {
		chars[i] = h.mem.Uint16(a + cvm.StringDataOffset + 2*uint64(i))
	}
	return string(utf16.Decode(chars))
}

// ClassOf returns the class of a non-null object.
func (h *Heap) ClassOf(obj uint64) (*Class, error) {
	if !h.mem.Valid(obj-cvm.ObjectHeaderSize, 8) {
		return nil, fmt.Errorf("object 0x%x: %w", obj, cvmerrors.ErrUnknownHandle)
	}
	return h.reg.Class(il.Handle(h.mem.Uint64(obj - cvm.ObjectHeaderSize)))
}

// IsInstance reports whether obj is a non-null instance of class.
func (h *Heap) IsInstance(obj uint64, class *Class) bool {
	if obj == 0 {
		return false
	}
	c, err := h.ClassOf(obj)
	return err == nil && c.AssignableTo(class)
}

// Box copies value, the storage representation of a value of class, into a
// new object.
func (h *Heap) Box(class *Class, value []byte) (uint64, error) {
	a, err := h.alloc(class, uint64(max(class.InstanceSize, uint32(len(value)), 1)))
	if err != nil {
		return 0, err
	}
	copy(h.mem.Bytes(a, len(value)), value)
	return a, nil
}

// NewException allocates an exception of class with message msg.
func (h *Heap) NewException(class *Class, msg string) (uint64, error) {
	obj, err := h.New(class)
	if err != nil {
		return 0, err
	}
	s, err := h.NewString(msg)
	if err != nil {
		return 0, err
	}
	h.mem.PutUint64(obj+uint64(h.reg.ExceptionMessage.Offset), s)
	return obj, nil
}

// ExceptionMessage reads the message of an exception object.
func (h *Heap) ExceptionMessage(obj uint64) string {
	return h.StringValue(h.mem.Uint64(obj + uint64(h.reg.ExceptionMessage.Offset)))
}
