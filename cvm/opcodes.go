package cvm

// Opcode is a CVM opcode. Main opcodes are a single byte; prefixed opcodes are
// stored as 0xFF00|sub and encoded as COP_PREFIX followed by the sub-opcode.
type Opcode uint16

// Local variable access.
const (
	COP_NOP Opcode = iota
	COP_ILOAD_0
	COP_ILOAD_1
	COP_ILOAD_2
	COP_ILOAD_3
	COP_ILOAD
	COP_PLOAD_0
	COP_PLOAD_1
	COP_PLOAD_2
	COP_PLOAD_3
	COP_PLOAD
	COP_MLOAD
	COP_BLOAD
	COP_ISTORE_0
	COP_ISTORE_1
	COP_ISTORE_2
	COP_ISTORE_3
	COP_ISTORE
	COP_PSTORE_0
	COP_PSTORE_1
	COP_PSTORE_2
	COP_PSTORE_3
	COP_PSTORE
	COP_MSTORE
	COP_BSTORE
	COP_WADDR
	COP_MADDR
	COP_BFIXUP
	COP_SFIXUP
	COP_FFIXUP
	COP_MK_LOCAL_1
	COP_MK_LOCAL_2
	COP_MK_LOCAL_3
	COP_MK_LOCAL_N

	// Stack manipulation.
	COP_DUP
	COP_DUP2
	COP_DUP_N
	COP_DUP_WORD_N
	COP_POP
	COP_POP2
	COP_POP_N
	COP_SQUASH
	COP_CKHEIGHT
	COP_CKHEIGHT_N

	// 32-bit integer arithmetic.
	COP_IADD
	COP_IADD_OVF
	COP_IADD_OVF_UN
	COP_ISUB
	COP_ISUB_OVF
	COP_ISUB_OVF_UN
	COP_IMUL
	COP_IMUL_OVF
	COP_IMUL_OVF_UN
	COP_IDIV
	COP_IDIV_UN
	COP_IREM
	COP_IREM_UN
	COP_INEG

	// 64-bit integer arithmetic.
	COP_LADD
	COP_LADD_OVF
	COP_LADD_OVF_UN
	COP_LSUB
	COP_LSUB_OVF
	COP_LSUB_OVF_UN
	COP_LMUL
	COP_LMUL_OVF
	COP_LMUL_OVF_UN
	COP_LDIV
	COP_LDIV_UN
	COP_LREM
	COP_LREM_UN
	COP_LNEG

	// Native float arithmetic.
	COP_FADD
	COP_FSUB
	COP_FMUL
	COP_FDIV
	COP_FREM
	COP_FNEG

	// Bitwise.
	COP_IAND
	COP_IOR
	COP_IXOR
	COP_INOT
	COP_ISHL
	COP_ISHR
	COP_ISHR_UN
	COP_LAND
	COP_LOR
	COP_LXOR
	COP_LNOT
	COP_LSHL
	COP_LSHR
	COP_LSHR_UN

	// Conversions.
	COP_I2B
	COP_I2UB
	COP_I2S
	COP_I2US
	COP_I2L
	COP_IU2L
	COP_L2I
	COP_I2F
	COP_IU2F
	COP_L2F
	COP_LU2F
	COP_F2I
	COP_F2IU
	COP_F2L
	COP_F2LU
	COP_F2F
	COP_F2D

	// Pointer arithmetic.
	COP_PADD_OFFSET
	COP_PADD_OFFSET_N
	COP_PADD_I4
	COP_PADD_I4_R
	COP_PADD_I8
	COP_PADD_I8_R
	COP_PSUB
	COP_PSUB_I4
	COP_PSUB_I8

	// Comparisons.
	COP_ICMP
	COP_ICMP_UN
	COP_LCMP
	COP_LCMP_UN
	COP_FCMPL
	COP_FCMPG
	COP_PCMP
	COP_SETEQ
	COP_SETNE
	COP_SETLT
	COP_SETLE
	COP_SETGT
	COP_SETGE

	// Branches.
	COP_BR
	COP_BEQ
	COP_BNE
	COP_BLT
	COP_BLT_UN
	COP_BLE
	COP_BLE_UN
	COP_BGT
	COP_BGT_UN
	COP_BGE
	COP_BGE_UN
	COP_BRTRUE
	COP_BRFALSE
	COP_BRNULL
	COP_BRNONNULL
	COP_BR_PEQ
	COP_BR_PNE
	COP_JSR
	COP_RET_JSR
	COP_SWITCH

	// Constants.
	COP_LDNULL
	COP_LDC_I4_M1
	COP_LDC_I4_0
	COP_LDC_I4_1
	COP_LDC_I4_2
	COP_LDC_I4_3
	COP_LDC_I4_4
	COP_LDC_I4_5
	COP_LDC_I4_6
	COP_LDC_I4_7
	COP_LDC_I4_8
	COP_LDC_I4_S
	COP_LDC_I4
	COP_LDC_I8
	COP_LDC_R4
	COP_LDC_R8

	// Indirect memory access through the pointer on the stack.
	COP_BREAD
	COP_UBREAD
	COP_SREAD
	COP_USREAD
	COP_IREAD
	COP_PREAD
	COP_LREAD
	COP_FREAD
	COP_DREAD
	COP_MREAD
	COP_BWRITE
	COP_SWRITE
	COP_IWRITE
	COP_PWRITE
	COP_LWRITE
	COP_FWRITE
	COP_DWRITE
	COP_MWRITE

	// Field access with a one byte offset.
	COP_BREAD_FIELD
	COP_UBREAD_FIELD
	COP_SREAD_FIELD
	COP_USREAD_FIELD
	COP_IREAD_FIELD
	COP_PREAD_FIELD
	COP_BWRITE_FIELD
	COP_SWRITE_FIELD
	COP_IWRITE_FIELD
	COP_PWRITE_FIELD
	COP_IREAD_THIS
	COP_PREAD_THIS
	COP_CKNULL
	COP_CKNULL_N

	// SZ array access.
	COP_BREAD_ELEM
	COP_UBREAD_ELEM
	COP_SREAD_ELEM
	COP_USREAD_ELEM
	COP_IREAD_ELEM
	COP_PREAD_ELEM
	COP_BWRITE_ELEM
	COP_SWRITE_ELEM
	COP_IWRITE_ELEM
	COP_PWRITE_ELEM
	COP_ARRAY_LEN

	// Calls and returns.
	COP_CALL
	COP_CALL_EXTERN
	COP_CALL_CTOR
	COP_CALL_VIRTUAL
	COP_CALL_INTERFACE
	COP_RETURN
	COP_RETURN_1
	COP_RETURN_2
	COP_RETURN_N
	COP_PUSHDOWN

	numMainOpcodes
)

// Escape opcodes.
const (
	COP_BR_LONG Opcode = 0xFD // long branch: COP_BR_LONG op rel32
	COP_WIDE    Opcode = 0xFE // wide operand form of the following opcode
	COP_PREFIX  Opcode = 0xFF // prefixed opcode follows
)

const prefixBase Opcode = 0xFF00

// Prefixed opcodes.
const (
	COP_PREFIX_ENTER_TRY Opcode = prefixBase + iota
	COP_PREFIX_THROW
	COP_PREFIX_RETHROW
	COP_PREFIX_THROW_CALLER
	COP_PREFIX_CATCH_MATCH
	COP_PREFIX_PUSH_EXCEPTION
	COP_PREFIX_CONTINUE_SCAN
	COP_PREFIX_CALL_FILTER
	COP_PREFIX_RET_FROM_FILTER

	// Checked conversions.
	COP_PREFIX_I2B_OVF
	COP_PREFIX_I2UB_OVF
	COP_PREFIX_I2S_OVF
	COP_PREFIX_I2US_OVF
	COP_PREFIX_I2IU_OVF
	COP_PREFIX_I2UL_OVF
	COP_PREFIX_IU2B_OVF
	COP_PREFIX_IU2UB_OVF
	COP_PREFIX_IU2S_OVF
	COP_PREFIX_IU2US_OVF
	COP_PREFIX_IU2I_OVF
	COP_PREFIX_L2I_OVF
	COP_PREFIX_L2UI_OVF
	COP_PREFIX_L2UL_OVF
	COP_PREFIX_LU2I_OVF
	COP_PREFIX_LU2IU_OVF
	COP_PREFIX_LU2L_OVF
	COP_PREFIX_F2I_OVF
	COP_PREFIX_F2IU_OVF
	COP_PREFIX_F2L_OVF
	COP_PREFIX_F2LU_OVF
	COP_PREFIX_CKFINITE
	COP_PREFIX_I2P_LOWER

	// Statics, tokens and function pointers.
	COP_PREFIX_RUN_CCTOR
	COP_PREFIX_GET_STATIC
	COP_PREFIX_LDRVA
	COP_PREFIX_LDSTR
	COP_PREFIX_LDTOKEN
	COP_PREFIX_LDFTN
	COP_PREFIX_LDVIRTFTN
	COP_PREFIX_CALLI
	COP_PREFIX_TAIL_CALL

	// Objects, casts, boxing and typed references.
	COP_PREFIX_NEW
	COP_PREFIX_NEW_ARRAY
	COP_PREFIX_NEW_ARRAY2D
	COP_PREFIX_ISINST
	COP_PREFIX_CASTCLASS
	COP_PREFIX_BOX
	COP_PREFIX_BOX_SMALLER
	COP_PREFIX_UNBOX
	COP_PREFIX_MK_TYPEDREF
	COP_PREFIX_REFANYVAL
	COP_PREFIX_REFANYTYPE
	COP_PREFIX_ARGLIST
	COP_PREFIX_PACK_VARARGS

	// Value type memory blocks.
	COP_PREFIX_MEMCPY
	COP_PREFIX_MEMZERO
	COP_PREFIX_MEMCMP
	COP_PREFIX_CPBLK
	COP_PREFIX_INITBLK
	COP_PREFIX_LOCALLOC

	// Wide element access.
	COP_PREFIX_LREAD_ELEM
	COP_PREFIX_LWRITE_ELEM
	COP_PREFIX_FREAD_ELEM
	COP_PREFIX_FWRITE_ELEM
	COP_PREFIX_DREAD_ELEM
	COP_PREFIX_DWRITE_ELEM
	COP_PREFIX_MREAD_ELEM
	COP_PREFIX_MWRITE_ELEM
	COP_PREFIX_LDELEMA
	COP_PREFIX_CKARRAY_STORE
	COP_PREFIX_GET2D
	COP_PREFIX_SET2D

	numPrefixOpcodes = iota
)

// IsPrefixed reports whether op is encoded behind COP_PREFIX.
func (op Opcode) IsPrefixed() bool { return op >= prefixBase }

// Sub returns the byte that follows COP_PREFIX.
func (op Opcode) Sub() byte { return byte(op) }

// Prefixed builds a prefixed opcode from its sub-opcode byte.
func Prefixed(sub byte) Opcode { return prefixBase | Opcode(sub) }

func (op Opcode) String() string {
	return OpcodeName(op)
}

// ShortLocal returns the _0.._3 form of a local access opcode, if it has one.
func ShortLocal(op Opcode, n uint32) (Opcode, bool) {
	if n > 3 {
		return 0, false
	}
	switch op {
	case COP_ILOAD:
		return COP_ILOAD_0 + Opcode(n), true
	case COP_PLOAD:
		return COP_PLOAD_0 + Opcode(n), true
	case COP_ISTORE:
		return COP_ISTORE_0 + Opcode(n), true
	case COP_PSTORE:
		return COP_PSTORE_0 + Opcode(n), true
	}
	return 0, false
}

// LocalIndex decodes the implicit index of a _0.._3 opcode.
func LocalIndex(op Opcode) (uint32, bool) {
	switch {
	case op >= COP_ILOAD_0 && op <= COP_ILOAD_3:
		return uint32(op - COP_ILOAD_0), true
	case op >= COP_PLOAD_0 && op <= COP_PLOAD_3:
		return uint32(op - COP_PLOAD_0), true
	case op >= COP_ISTORE_0 && op <= COP_ISTORE_3:
		return uint32(op - COP_ISTORE_0), true
	case op >= COP_PSTORE_0 && op <= COP_PSTORE_3:
		return uint32(op - COP_PSTORE_0), true
	}
	return 0, false
}

// IsBranch reports whether op carries a relative branch operand.
func (op Opcode) IsBranch() bool {
	return op >= COP_BR && op <= COP_JSR
}

// IsConditionalBranch reports whether execution may fall through op.
func (op Opcode) IsConditionalBranch() bool {
	return op > COP_BR && op < COP_JSR
}

// IsTerminator reports whether control never falls through to the next instruction.
func (op Opcode) IsTerminator() bool {
	switch op {
	case COP_BR, COP_RET_JSR, COP_RETURN, COP_RETURN_1, COP_RETURN_2, COP_RETURN_N,
		COP_PREFIX_THROW, COP_PREFIX_RETHROW, COP_PREFIX_THROW_CALLER,
		COP_PREFIX_CONTINUE_SCAN, COP_PREFIX_TAIL_CALL, COP_PREFIX_RET_FROM_FILTER:
		return true
	}
	return false
}
