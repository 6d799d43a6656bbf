package engine

import (
	"cmp"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/colorfulnotion/cvm/coder"
	"github.com/colorfulnotion/cvm/cvm"
	"github.com/colorfulnotion/cvm/cvmerrors"
	"github.com/colorfulnotion/cvm/il"
	"golang.org/x/exp/slices"
)

// NativeFunc implements a method in Go. args holds the argument words,
// "this" first. Returning a *ManagedException throws it in the caller.
type NativeFunc func(t *Thread, args []cvm.Word) ([]cvm.Word, error)

// Class is a runtime type.
type Class struct {
	Name       string
	Handle     il.Handle
	Parent     *Class
	Interfaces []*Class
	Interface  bool
	ValueType  bool
	// InstanceSize is the byte size of the instance fields. For value types
	// it is also the boxed payload and the array element size.
	InstanceSize uint32
	StaticSize   uint32
	// Kind is the storage kind of a value of this class in a field or an
	// array element.
	Kind il.Kind
	// Elem and Rank describe array classes.
	Elem   *Class
	Rank   int
	Cctor  *Method
	VTable []*Method

	imaps      map[il.Handle][]*Method
	statics    atomic.Uint64
	cctorState atomic.Int32
}

const (
	cctorNotRun int32 = iota
	cctorRunning
	cctorDone
	cctorFailed
)

func (c *Class) String() string { return c.Name }

// ElemSize is the storage size of a value of this class held in an array or
// a field.
func (c *Class) ElemSize() uint32 {
	if c.ValueType {
		return c.InstanceSize
	}
	return 8
}

// StorageType is the il.Type of a location holding a value of this class.
func (c *Class) StorageType() il.Type {
	switch {
	case !c.ValueType:
		return il.ObjectOf(c.Handle)
	case c.Kind == il.KindValue:
		return il.ValueOf(c.Handle, c.InstanceSize)
	}
	return il.Type{Kind: c.Kind, Class: c.Handle}
}

// IsArray reports whether c is an SZ or 2-D array class.
func (c *Class) IsArray() bool { return c.Elem != nil }

// Implements reports whether c or an ancestor implements iface.
func (c *Class) Implements(iface *Class) bool {
	for k := c; k != nil; k = k.Parent {
		for _, i := range k.Interfaces {
			if i == iface || i.Implements(iface) {
				return true
			}
		}
	}
	return false
}

// AssignableTo reports whether a reference to an instance of c may be stored
// in a location of class to.
func (c *Class) AssignableTo(to *Class) bool {
	if to.Interface && c.Implements(to) {
		return true
	}
	for k := c; k != nil; k = k.Parent {
		if k == to {
			return true
		}
	}
	if c.IsArray() && to.IsArray() && c.Rank == to.Rank && !c.Elem.ValueType && !to.Elem.ValueType {
		return c.Elem.AssignableTo(to.Elem)
	}
	return false
}

// InterfaceMethod resolves method slot of iface for instances of c.
func (c *Class) InterfaceMethod(iface il.Handle, slot uint32) (*Method, bool) {
	for k := c; k != nil; k = k.Parent {
		if ms, ok := k.imaps[iface]; ok && int(slot) < len(ms) {
			return ms[slot], true
		}
	}
	return nil, false
}

// Field is an instance, static or RVA field.
type Field struct {
	Name   string
	Handle il.Handle
	Class  *Class
	Type   il.Type
	Offset uint32
	Static bool
	// Addr is the data address of an RVA field.
	Addr uint64
}

// Ref describes the field to the coder.
func (f *Field) Ref() *il.FieldRef {
	return &il.FieldRef{
		Name:          f.Name,
		Handle:        f.Handle,
		Class:         f.Class.Handle,
		Type:          f.Type,
		Offset:        f.Offset,
		Static:        f.Static,
		RVA:           f.Addr != 0,
		ClassHasCctor: f.Class.Cctor != nil,
	}
}

// BuildFunc emits a method body through the coder, after Setup and before
// Finish.
type BuildFunc func(c *coder.Coder) error

// Method is a managed method with a bytecode body or a Go implementation.
type Method struct {
	Name   string
	Handle il.Handle
	Class  *Class
	Info   *il.MethodInfo
	Build  BuildFunc
	Native NativeFunc
	// Slot is the vtable slot of a virtual method, -1 otherwise.
	Slot int

	argWords uint32
	retWords uint32

	compiled atomic.Pointer[compiled]
	calls    atomic.Int64
	tierMu   sync.Mutex
}

func (m *Method) String() string {
	if m.Class != nil {
		return m.Class.Name + "::" + m.Name
	}
	return m.Name
}

// Ref describes the method to the coder as a callee.
func (m *Method) Ref() *il.MethodRef {
	ref := &il.MethodRef{
		Name:      m.Name,
		Handle:    m.Handle,
		Signature: m.Info.Signature,
	}
	if m.Slot >= 0 {
		ref.Slot = uint32(m.Slot)
	}
	if m.Class != nil {
		ref.Class = m.Class.Handle
		ref.ValueClass = m.Class.ValueType
		ref.ValueSize = m.Class.InstanceSize
	}
	return ref
}

// InterfaceRef describes the method as slot of iface.
func (m *Method) InterfaceRef(iface *Class, slot uint32) *il.MethodRef {
	ref := m.Ref()
	ref.Interface = iface.Handle
	ref.Slot = slot
	return ref
}

// Calls is the number of times the method was invoked.
func (m *Method) Calls() int64 { return m.calls.Load() }

// Registry holds every class, method, field and string the engine knows.
// Handles are unique across kinds.
type Registry struct {
	mu      sync.RWMutex
	mem     *Memory
	next    il.Handle
	classes map[il.Handle]*Class
	methods map[il.Handle]*Method
	fields  map[il.Handle]*Field
	byName  map[string]*Class
	arrays  map[*Class]*Class
	arrays2 map[*Class]*Class

	strings  []string
	interned map[uint32]uint64

	builtins
}

func NewRegistry(mem *Memory) (*Registry, error) {
	r := &Registry{
		mem:      mem,
		next:     0x100,
		classes:  make(map[il.Handle]*Class),
		methods:  make(map[il.Handle]*Method),
		fields:   make(map[il.Handle]*Field),
		byName:   make(map[string]*Class),
		arrays:   make(map[*Class]*Class),
		arrays2:  make(map[*Class]*Class),
		interned: make(map[uint32]uint64),
	}
	if err := r.bootstrap(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) handleLocked() il.Handle {
	h := r.next
	r.next++
	return h
}

func (r *Registry) addClassLocked(c *Class) (*Class, error) {
	if _, dup := r.byName[c.Name]; dup {
		return nil, fmt.Errorf("class %s already defined", c.Name)
	}
	c.Handle = r.handleLocked()
	if c.Kind == il.KindVoid {
		c.Kind = il.KindRef
	}
	if c.Parent != nil {
		c.VTable = append([]*Method(nil), c.Parent.VTable...)
		if !c.ValueType {
			c.InstanceSize = c.Parent.InstanceSize
		}
	}
	c.imaps = make(map[il.Handle][]*Method)
	r.classes[c.Handle] = c
	r.byName[c.Name] = c
	return c, nil
}

// NewClass defines a reference class deriving from parent (Object when nil).
func (r *Registry) NewClass(name string, parent *Class) (*Class, error) {
	if parent == nil {
		parent = r.Object
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addClassLocked(&Class{Name: name, Parent: parent})
}

// NewValueType defines a value type of size bytes. Fields added later must
// fit inside size.
func (r *Registry) NewValueType(name string, size uint32) (*Class, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addClassLocked(&Class{Name: name, Parent: r.ValueType, ValueType: true, InstanceSize: size, Kind: il.KindValue})
}

func (r *Registry) NewInterface(name string) (*Class, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addClassLocked(&Class{Name: name, Interface: true})
}

func storageAlign(t il.Type) uint32 {
	size := t.StorageSize(8)
	switch {
	case size >= 8:
		return 8
	case size == 0:
		return 1
	}
	return size
}

func alignUp(v, a uint32) uint32 { return (v + a - 1) / a * a }

// AddField lays out a new field of c.
func (r *Registry) AddField(c *Class, name string, t il.Type, static bool) (*Field, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	size, align := t.StorageSize(8), storageAlign(t)
	f := &Field{Name: name, Class: c, Type: t, Static: static, Handle: r.handleLocked()}
	switch {
	case static:
		if c.statics.Load() != 0 {
			return nil, fmt.Errorf("static %s.%s added after the static area was allocated", c.Name, name)
		}
		f.Offset = alignUp(c.StaticSize, align)
		c.StaticSize = f.Offset + size
	case c.ValueType:
		var used uint32
		for _, g := range r.fields {
			if g.Class == c && !g.Static {
				used = max(used, g.Offset+g.Type.StorageSize(8))
			}
		}
		f.Offset = alignUp(used, align)
		if f.Offset+size > c.InstanceSize {
			return nil, fmt.Errorf("field %s does not fit in value type %s of %d bytes", name, c.Name, c.InstanceSize)
		}
	default:
		f.Offset = alignUp(c.InstanceSize, align)
		c.InstanceSize = f.Offset + size
	}
	r.fields[f.Handle] = f
	return f, nil
}

// AddRVA defines a static field initialised from data.
func (r *Registry) AddRVA(c *Class, name string, data []byte) (*Field, error) {
	addr, err := r.mem.Alloc(len(data), 8)
	if err != nil {
		return nil, err
	}
	copy(r.mem.Bytes(addr, len(data)), data)
	r.mu.Lock()
	defer r.mu.Unlock()
	f := &Field{Name: name, Class: c, Type: il.ValueOf(0, uint32(len(data))), Static: true, Addr: addr, Handle: r.handleLocked()}
	r.fields[f.Handle] = f
	return f, nil
}

func (r *Registry) newMethodLocked(c *Class, info *il.MethodInfo) *Method {
	m := &Method{Name: info.Name, Class: c, Info: info, Slot: -1, Handle: r.handleLocked()}
	if c != nil {
		info.Class = c.Handle
	}
	info.Handle = m.Handle
	l := cvm.Layout64
	for _, t := range info.ArgTypes() {
		m.argWords += l.WordsOf(t)
	}
	if info.Signature.VarArg {
		m.argWords++
	}
	m.retWords = l.WordsOf(info.Signature.Return)
	r.methods[m.Handle] = m
	return m
}

// AddMethod defines a method whose body is emitted by build.
func (r *Registry) AddMethod(c *Class, info *il.MethodInfo, build BuildFunc) *Method {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.newMethodLocked(c, info)
	m.Build = build
	return m
}

// AddNative defines a method implemented by fn.
func (r *Registry) AddNative(c *Class, name string, sig il.Signature, fn NativeFunc) *Method {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.newMethodLocked(c, &il.MethodInfo{Name: name, Signature: sig})
	m.Native = fn
	return m
}

// SetVirtual places m in its class's vtable, overriding the inherited method
// of the same name or taking a new slot.
func (r *Registry) SetVirtual(m *Method) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := m.Class
	for i, v := range c.VTable {
		if v.Name == m.Name {
			c.VTable[i] = m
			m.Slot = i
			return
		}
	}
	m.Slot = len(c.VTable)
	c.VTable = append(c.VTable, m)
}

// Implement records that c implements iface with methods, in slot order.
func (r *Registry) Implement(c, iface *Class, methods ...*Method) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.Interfaces = append(c.Interfaces, iface)
	c.imaps[iface.Handle] = methods
}

// SetCctor makes m the class constructor of its class.
func (r *Registry) SetCctor(m *Method) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m.Class.Cctor = m
	m.Info.RunsCctor = false
}

func (r *Registry) Class(h il.Handle) (*Class, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.classes[h]
	if !ok {
		return nil, fmt.Errorf("class 0x%x: %w", uint64(h), cvmerrors.ErrUnknownHandle)
	}
	return c, nil
}

func (r *Registry) Method(h il.Handle) (*Method, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.methods[h]
	if !ok {
		return nil, fmt.Errorf("method 0x%x: %w", uint64(h), cvmerrors.ErrUnknownHandle)
	}
	return m, nil
}

func (r *Registry) Field(h il.Handle) (*Field, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.fields[h]
	if !ok {
		return nil, fmt.Errorf("field 0x%x: %w", uint64(h), cvmerrors.ErrUnknownHandle)
	}
	return f, nil
}

func (r *Registry) ClassByName(name string) (*Class, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byName[name]
	return c, ok
}

// Methods lists every registered method.
func (r *Registry) Methods() []*Method {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Method, 0, len(r.methods))
	for _, m := range r.methods {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b *Method) int { return cmp.Compare(a.Handle, b.Handle) })
	return out
}

// ArrayOf returns the SZ array class with element class elem.
func (r *Registry) ArrayOf(elem *Class) *Class {
	return r.arrayClass(elem, 1)
}

// Array2DOf returns the rank 2 array class with element class elem.
func (r *Registry) Array2DOf(elem *Class) *Class {
	return r.arrayClass(elem, 2)
}

func (r *Registry) arrayClass(elem *Class, rank int) *Class {
	cache := r.arrays
	suffix := "[]"
	if rank == 2 {
		cache, suffix = r.arrays2, "[,]"
	}
	r.mu.RLock()
	a, ok := cache[elem]
	r.mu.RUnlock()
	if ok {
		return a
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := cache[elem]; ok {
		return a
	}
	a = &Class{Name: elem.Name + suffix, Parent: r.Array, Elem: elem, Rank: rank, Handle: r.handleLocked()}
	a.Kind = il.KindRef
	a.VTable = append([]*Method(nil), r.Array.VTable...)
	a.imaps = make(map[il.Handle][]*Method)
	r.classes[a.Handle] = a
	cache[elem] = a
	return a
}

// Intern records a string literal and returns its token.
func (r *Registry) Intern(s string) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, v := range r.strings {
		if v == s {
			return uint32(i)
		}
	}
	r.strings = append(r.strings, s)
	return uint32(len(r.strings) - 1)
}

func (r *Registry) literal(token uint32) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(token) >= len(r.strings) {
		return "", false
	}
	return r.strings[token], true
}

// staticsOf returns the address of c's static area, allocating it on first use.
func (r *Registry) staticsOf(c *Class) (uint64, error) {
	if a := c.statics.Load(); a != 0 {
		return a, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if a := c.statics.Load(); a != 0 {
		return a, nil
	}
	a, err := r.mem.Alloc(int(max(c.StaticSize, 8)), 8)
	if err != nil {
		return 0, err
	}
	c.statics.Store(a)
	return a, nil
}
