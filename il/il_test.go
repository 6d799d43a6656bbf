package il

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEngineTypes(t *testing.T) {
	tests := []struct {
		typ  Type
		want EngineType
	}{
		{Bool, EngineI4},
		{Char, EngineI4},
		{Int8, EngineI4},
		{UInt32, EngineI4},
		{Int64, EngineI8},
		{Float32, EngineF},
		{Float64, EngineF},
		{NativeI, EngineI},
		{Object, EngineO},
		{ObjectOf(7), EngineO},
		{Ptr, EngineT},
		{ByRef, EngineM},
		{ValueOf(9, 12), EngineMV},
		{TypedRef, EngineTypedRef},
		{Void, EngineInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.typ.EngineType())
		})
	}
	assert.True(t, EngineO.IsPointer())
	assert.False(t, EngineI.IsPointer())
	assert.Equal(t, "EngineType(200)", EngineType(200).String())
}

func TestShortBranch(t *testing.T) {
	assert.Equal(t, BR, ShortBranch(BR_S))
	assert.Equal(t, BEQ, ShortBranch(BEQ_S))
	assert.Equal(t, BLT_UN, ShortBranch(BLT_UN_S))
	assert.Equal(t, LEAVE, ShortBranch(LEAVE_S))
	assert.Equal(t, ADD, ShortBranch(ADD))
}

func TestOpcodeNames(t *testing.T) {
	assert.Equal(t, "br", BR.String())
	assert.Equal(t, "leave", LEAVE.String())
	assert.Equal(t, "fe.ff", Opcode(0xFEFF).String())
}

func TestClauses(t *testing.T) {
	outer := ExceptionClause{Flags: ClauseCatch, TryOffset: 0, TryLength: 40, HandlerOffset: 40, HandlerLength: 10}
	inner := ExceptionClause{Flags: ClauseFinally, TryOffset: 4, TryLength: 10, HandlerOffset: 14, HandlerLength: 6}
	assert.True(t, outer.Encloses(inner))
	assert.False(t, inner.Encloses(outer))
	assert.False(t, outer.Encloses(outer), "a range does not enclose itself")
	assert.Equal(t, uint32(50), outer.HandlerEnd())
	assert.Equal(t, "finally", inner.Flags.String())
}

func TestArgTypes(t *testing.T) {
	static := &MethodInfo{Signature: Signature{Params: []Type{Int32}}}
	assert.Equal(t, []Type{Int32}, static.ArgTypes())

	inst := &MethodInfo{Class: 3, Signature: Signature{HasThis: true, Params: []Type{Int64}}}
	assert.Equal(t, []Type{ObjectOf(3), Int64}, inst.ArgTypes())

	ctor := &MethodRef{Class: 5, ValueClass: true, Signature: Signature{HasThis: true}}
	assert.Equal(t, []Type{ByRef}, ctor.ArgTypes())
}
