package il

import "fmt"

// EngineType is the verifier's abstract stack slot category.
type EngineType byte

const (
	EngineInvalid  EngineType = iota
	EngineI4                  // 32-bit integer
	EngineI8                  // 64-bit integer
	EngineI                   // native integer
	EngineF                   // native float
	EngineM                   // managed pointer
	EngineO                   // object reference
	EngineT                   // transient (unmanaged) pointer
	EngineMV                  // value type
	EngineTypedRef            // typed reference
)

var engineTypeNames = [...]string{
	EngineInvalid:  "invalid",
	EngineI4:       "I4",
	EngineI8:       "I8",
	EngineI:        "I",
	EngineF:        "F",
	EngineM:        "M",
	EngineO:        "O",
	EngineT:        "T",
	EngineMV:       "MV",
	EngineTypedRef: "TypedRef",
}

func (t EngineType) String() string {
	if int(t) < len(engineTypeNames) {
		return engineTypeNames[t]
	}
	return fmt.Sprintf("EngineType(%d)", byte(t))
}

// IsPointer reports whether values of this type hold an address.
func (t EngineType) IsPointer() bool {
	return t == EngineM || t == EngineO || t == EngineT
}

// Handle identifies a class, method, field or string in the runtime registry. It
// is emitted as a pointer-sized operand.
type Handle uint64

// Kind is the storage kind of a field, array element, local or argument.
type Kind byte

const (
	KindVoid Kind = iota
	KindBool
	KindChar
	KindI1
	KindU1
	KindI2
	KindU2
	KindI4
	KindU4
	KindI8
	KindU8
	KindR4
	KindR8
	KindI
	KindU
	KindRef      // object reference
	KindPtr      // unmanaged pointer
	KindByRef    // managed pointer
	KindValue    // value type, Size bytes
	KindTypedRef // value pointer + class handle
)

var kindNames = [...]string{
	KindVoid: "void", KindBool: "bool", KindChar: "char", KindI1: "int8", KindU1: "uint8",
	KindI2: "int16", KindU2: "uint16", KindI4: "int32", KindU4: "uint32", KindI8: "int64",
	KindU8: "uint64", KindR4: "float32", KindR8: "float64", KindI: "native int",
	KindU: "native uint", KindRef: "object", KindPtr: "ptr", KindByRef: "byref",
	KindValue: "valuetype", KindTypedRef: "typedref",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", byte(k))
}

// Type describes a storage location.
type Type struct {
	Kind  Kind
	Size  uint32 // bytes, KindValue only
	Class Handle // element or value class, when known
}

var (
	Void     = Type{Kind: KindVoid}
	Bool     = Type{Kind: KindBool}
	Char     = Type{Kind: KindChar}
	Int8     = Type{Kind: KindI1}
	UInt8    = Type{Kind: KindU1}
	Int16    = Type{Kind: KindI2}
	UInt16   = Type{Kind: KindU2}
	Int32    = Type{Kind: KindI4}
	UInt32   = Type{Kind: KindU4}
	Int64    = Type{Kind: KindI8}
	UInt64   = Type{Kind: KindU8}
	Float32  = Type{Kind: KindR4}
	Float64  = Type{Kind: KindR8}
	NativeI  = Type{Kind: KindI}
	NativeU  = Type{Kind: KindU}
	Object   = Type{Kind: KindRef}
	Ptr      = Type{Kind: KindPtr}
	ByRef    = Type{Kind: KindByRef}
	TypedRef = Type{Kind: KindTypedRef}
)

// ObjectOf returns a reference type for class.
func ObjectOf(class Handle) Type {
	return Type{Kind: KindRef, Class: class}
}

// ValueOf returns a value type of size bytes.
func ValueOf(class Handle, size uint32) Type {
	return Type{Kind: KindValue, Size: size, Class: class}
}

func (t Type) String() string {
	if t.Kind == KindValue {
		return fmt.Sprintf("valuetype[%d]", t.Size)
	}
	return t.Kind.String()
}

// EngineType maps a storage type to the stack category it occupies once loaded.
func (t Type) EngineType() EngineType {
	switch t.Kind {
	case KindBool, KindChar, KindI1, KindU1, KindI2, KindU2, KindI4, KindU4:
		return EngineI4
	case KindI8, KindU8:
		return EngineI8
	case KindR4, KindR8:
		return EngineF
	case KindI, KindU:
		return EngineI
	case KindPtr:
		return EngineT
	case KindByRef:
		return EngineM
	case KindRef:
		return EngineO
	case KindValue:
		return EngineMV
	case KindTypedRef:
		return EngineTypedRef
	}
	return EngineInvalid
}

// IsUnsigned reports whether loads of this kind zero-extend.
func (k Kind) IsUnsigned() bool {
	switch k {
	case KindBool, KindChar, KindU1, KindU2, KindU4, KindU8, KindU:
		return true
	}
	return false
}

// StorageSize returns the number of bytes occupied in a field or array
// element for the given pointer size.
func (t Type) StorageSize(ptrSize int) uint32 {
	switch t.Kind {
	case KindBool, KindI1, KindU1:
		return 1
	case KindChar, KindI2, KindU2:
		return 2
	case KindI4, KindU4, KindR4:
		return 4
	case KindI8, KindU8, KindR8:
		return 8
	case KindI, KindU, KindRef, KindPtr, KindByRef:
		return uint32(ptrSize)
	case KindTypedRef:
		return uint32(2 * ptrSize)
	case KindValue:
		return t.Size
	}
	return 0
}
