package il

// FieldRef is a field resolved against its declaring class.
type FieldRef struct {
	Name   string
	Handle Handle
	Class  Handle
	Type   Type
	// Offset is measured from the object pointer for instance fields and
	// from the class's static area for static ones.
	Offset uint32
	Static bool
	// RVA fields live in the image data named by Handle.
	RVA bool
	// ClassHasCctor asks for a class constructor check before static access.
	ClassHasCctor bool
}

// MethodRef is the callee of a call instruction.
type MethodRef struct {
	Name      string
	Handle    Handle
	Class     Handle
	Signature Signature
	// Slot is the vtable slot for virtual calls or the method index within
	// Interface for interface calls.
	Slot      uint32
	Interface Handle
	// ValueClass is set on constructors of value types; ValueSize is the
	// instance size.
	ValueClass bool
	ValueSize  uint32
}

// ArgTypes returns the callee's argument types including "this".
func (m *MethodRef) ArgTypes() []Type {
	if !m.Signature.HasThis {
		return m.Signature.Params
	}
	this := ObjectOf(m.Class)
	if m.ValueClass {
		this = ByRef
	}
	return append([]Type{this}, m.Signature.Params...)
}
