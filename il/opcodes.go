// Package il holds the CIL-level vocabulary consumed by the coder: opcode values,
// engine types, element kinds, exception clauses and method signatures.
package il

// Opcode is a CIL opcode. Two-byte opcodes (0xFE prefix) are stored as 0xFE00|op.
type Opcode uint16

// ECMA-335 Partition III single byte opcodes.
const (
	NOP       Opcode = 0x00
	BREAK     Opcode = 0x01
	LDARG_0   Opcode = 0x02
	LDARG_1   Opcode = 0x03
	LDARG_2   Opcode = 0x04
	LDARG_3   Opcode = 0x05
	LDLOC_0   Opcode = 0x06
	LDLOC_1   Opcode = 0x07
	LDLOC_2   Opcode = 0x08
	LDLOC_3   Opcode = 0x09
	STLOC_0   Opcode = 0x0A
	STLOC_1   Opcode = 0x0B
	STLOC_2   Opcode = 0x0C
	STLOC_3   Opcode = 0x0D
	LDARG_S   Opcode = 0x0E
	LDARGA_S  Opcode = 0x0F
	STARG_S   Opcode = 0x10
	LDLOC_S   Opcode = 0x11
	LDLOCA_S  Opcode = 0x12
	STLOC_S   Opcode = 0x13
	LDNULL    Opcode = 0x14
	LDC_I4_M1 Opcode = 0x15
	LDC_I4_0  Opcode = 0x16
	LDC_I4_1  Opcode = 0x17
	LDC_I4_2  Opcode = 0x18
	LDC_I4_3  Opcode = 0x19
	LDC_I4_4  Opcode = 0x1A
	LDC_I4_5  Opcode = 0x1B
	LDC_I4_6  Opcode = 0x1C
	LDC_I4_7  Opcode = 0x1D
	LDC_I4_8  Opcode = 0x1E
	LDC_I4_S  Opcode = 0x1F
	LDC_I4    Opcode = 0x20
	LDC_I8    Opcode = 0x21
	LDC_R4    Opcode = 0x22
	LDC_R8    Opcode = 0x23
	DUP       Opcode = 0x25
	POP       Opcode = 0x26
	JMP       Opcode = 0x27
	CALL      Opcode = 0x28
	CALLI     Opcode = 0x29
	RET       Opcode = 0x2A
	BR_S      Opcode = 0x2B
	BRFALSE_S Opcode = 0x2C
	BRTRUE_S  Opcode = 0x2D
	BEQ_S     Opcode = 0x2E
	BGE_S     Opcode = 0x2F
	BGT_S     Opcode = 0x30
	BLE_S     Opcode = 0x31
	BLT_S     Opcode = 0x32
	BNE_UN_S  Opcode = 0x33
	BGE_UN_S  Opcode = 0x34
	BGT_UN_S  Opcode = 0x35
	BLE_UN_S  Opcode = 0x36
	BLT_UN_S  Opcode = 0x37
	BR        Opcode = 0x38
	BRFALSE   Opcode = 0x39
	BRTRUE    Opcode = 0x3A
	BEQ       Opcode = 0x3B
	BGE       Opcode = 0x3C
	BGT       Opcode = 0x3D
	BLE       Opcode = 0x3E
	BLT       Opcode = 0x3F
	BNE_UN    Opcode = 0x40
	BGE_UN    Opcode = 0x41
	BGT_UN    Opcode = 0x42
	BLE_UN    Opcode = 0x43
	BLT_UN    Opcode = 0x44
	SWITCH    Opcode = 0x45
	LDIND_I1  Opcode = 0x46
	LDIND_U1  Opcode = 0x47
	LDIND_I2  Opcode = 0x48
	LDIND_U2  Opcode = 0x49
	LDIND_I4  Opcode = 0x4A
	LDIND_U4  Opcode = 0x4B
	LDIND_I8  Opcode = 0x4C
	LDIND_I   Opcode = 0x4D
	LDIND_R4  Opcode = 0x4E
	LDIND_R8  Opcode = 0x4F
	LDIND_REF Opcode = 0x50
	STIND_REF Opcode = 0x51
	STIND_I1  Opcode = 0x52
	STIND_I2  Opcode = 0x53
	STIND_I4  Opcode = 0x54
	STIND_I8  Opcode = 0x55
	STIND_R4  Opcode = 0x56
	STIND_R8  Opcode = 0x57
	ADD       Opcode = 0x58
	SUB       Opcode = 0x59
	MUL       Opcode = 0x5A
	DIV       Opcode = 0x5B
	DIV_UN    Opcode = 0x5C
	REM       Opcode = 0x5D
	REM_UN    Opcode = 0x5E
	AND       Opcode = 0x5F
	OR        Opcode = 0x60
	XOR       Opcode = 0x61
	SHL       Opcode = 0x62
	SHR       Opcode = 0x63
	SHR_UN    Opcode = 0x64
	NEG       Opcode = 0x65
	NOT       Opcode = 0x66
	CONV_I1   Opcode = 0x67
	CONV_I2   Opcode = 0x68
	CONV_I4   Opcode = 0x69
	CONV_I8   Opcode = 0x6A
	CONV_R4   Opcode = 0x6B
	CONV_R8   Opcode = 0x6C
	CONV_U4   Opcode = 0x6D
	CONV_U8   Opcode = 0x6E
	CALLVIRT  Opcode = 0x6F
	CPOBJ     Opcode = 0x70
	LDOBJ     Opcode = 0x71
	LDSTR     Opcode = 0x72
	NEWOBJ    Opcode = 0x73
	CASTCLASS Opcode = 0x74
	ISINST    Opcode = 0x75
	CONV_R_UN Opcode = 0x76
	UNBOX     Opcode = 0x79
	THROW     Opcode = 0x7A
	LDFLD     Opcode = 0x7B
	LDFLDA    Opcode = 0x7C
	STFLD     Opcode = 0x7D
	LDSFLD    Opcode = 0x7E
	LDSFLDA   Opcode = 0x7F
	STSFLD    Opcode = 0x80
	STOBJ     Opcode = 0x81

	CONV_OVF_I1_UN Opcode = 0x82
	CONV_OVF_I2_UN Opcode = 0x83
	CONV_OVF_I4_UN Opcode = 0x84
	CONV_OVF_I8_UN Opcode = 0x85
	CONV_OVF_U1_UN Opcode = 0x86
	CONV_OVF_U2_UN Opcode = 0x87
	CONV_OVF_U4_UN Opcode = 0x88
	CONV_OVF_U8_UN Opcode = 0x89
	CONV_OVF_I_UN  Opcode = 0x8A
	CONV_OVF_U_UN  Opcode = 0x8B

	BOX        Opcode = 0x8C
	NEWARR     Opcode = 0x8D
	LDLEN      Opcode = 0x8E
	LDELEMA    Opcode = 0x8F
	LDELEM_I1  Opcode = 0x90
	LDELEM_U1  Opcode = 0x91
	LDELEM_I2  Opcode = 0x92
	LDELEM_U2  Opcode = 0x93
	LDELEM_I4  Opcode = 0x94
	LDELEM_U4  Opcode = 0x95
	LDELEM_I8  Opcode = 0x96
	LDELEM_I   Opcode = 0x97
	LDELEM_R4  Opcode = 0x98
	LDELEM_R8  Opcode = 0x99
	LDELEM_REF Opcode = 0x9A
	STELEM_I   Opcode = 0x9B
	STELEM_I1  Opcode = 0x9C
	STELEM_I2  Opcode = 0x9D
	STELEM_I4  Opcode = 0x9E
	STELEM_I8  Opcode = 0x9F
	STELEM_R4  Opcode = 0xA0
	STELEM_R8  Opcode = 0xA1
	STELEM_REF Opcode = 0xA2
	LDELEM     Opcode = 0xA3
	STELEM     Opcode = 0xA4
	UNBOX_ANY  Opcode = 0xA5

	CONV_OVF_I1 Opcode = 0xB3
	CONV_OVF_U1 Opcode = 0xB4
	CONV_OVF_I2 Opcode = 0xB5
	CONV_OVF_U2 Opcode = 0xB6
	CONV_OVF_I4 Opcode = 0xB7
	CONV_OVF_U4 Opcode = 0xB8
	CONV_OVF_I8 Opcode = 0xB9
	CONV_OVF_U8 Opcode = 0xBA

	REFANYVAL  Opcode = 0xC2
	CKFINITE   Opcode = 0xC3
	MKREFANY   Opcode = 0xC6
	LDTOKEN    Opcode = 0xD0
	CONV_U2    Opcode = 0xD1
	CONV_U1    Opcode = 0xD2
	CONV_I     Opcode = 0xD3
	CONV_OVF_I Opcode = 0xD4
	CONV_OVF_U Opcode = 0xD5
	ADD_OVF    Opcode = 0xD6
	ADD_OVF_UN Opcode = 0xD7
	MUL_OVF    Opcode = 0xD8
	MUL_OVF_UN Opcode = 0xD9
	SUB_OVF    Opcode = 0xDA
	SUB_OVF_UN Opcode = 0xDB
	ENDFINALLY Opcode = 0xDC
	LEAVE      Opcode = 0xDD
	LEAVE_S    Opcode = 0xDE
	STIND_I    Opcode = 0xDF
	CONV_U     Opcode = 0xE0
)

// Two byte opcodes.
const (
	ARGLIST    Opcode = 0xFE00
	CEQ        Opcode = 0xFE01
	CGT        Opcode = 0xFE02
	CGT_UN     Opcode = 0xFE03
	CLT        Opcode = 0xFE04
	CLT_UN     Opcode = 0xFE05
	LDFTN      Opcode = 0xFE06
	LDVIRTFTN  Opcode = 0xFE07
	LDARG      Opcode = 0xFE09
	LDARGA     Opcode = 0xFE0A
	STARG      Opcode = 0xFE0B
	LDLOC      Opcode = 0xFE0C
	LDLOCA     Opcode = 0xFE0D
	STLOC      Opcode = 0xFE0E
	LOCALLOC   Opcode = 0xFE0F
	ENDFILTER  Opcode = 0xFE11
	UNALIGNED  Opcode = 0xFE12
	VOLATILE   Opcode = 0xFE13
	TAIL       Opcode = 0xFE14
	INITOBJ    Opcode = 0xFE15
	CPBLK      Opcode = 0xFE17
	INITBLK    Opcode = 0xFE18
	RETHROW    Opcode = 0xFE1A
	SIZEOF     Opcode = 0xFE1C
	REFANYTYPE Opcode = 0xFE1D
)

var opcodeNames = map[Opcode]string{
	ADD: "add", SUB: "sub", MUL: "mul", DIV: "div", DIV_UN: "div.un",
	REM: "rem", REM_UN: "rem.un", AND: "and", OR: "or", XOR: "xor",
	SHL: "shl", SHR: "shr", SHR_UN: "shr.un", NEG: "neg", NOT: "not",
	ADD_OVF: "add.ovf", ADD_OVF_UN: "add.ovf.un", SUB_OVF: "sub.ovf",
	SUB_OVF_UN: "sub.ovf.un", MUL_OVF: "mul.ovf", MUL_OVF_UN: "mul.ovf.un",
	CEQ: "ceq", CGT: "cgt", CGT_UN: "cgt.un", CLT: "clt", CLT_UN: "clt.un",
	BR: "br", BRFALSE: "brfalse", BRTRUE: "brtrue", BEQ: "beq", BGE: "bge",
	BGT: "bgt", BLE: "ble", BLT: "blt", BNE_UN: "bne.un", BGE_UN: "bge.un",
	BGT_UN: "bgt.un", BLE_UN: "ble.un", BLT_UN: "blt.un", LEAVE: "leave",
	CONV_I1: "conv.i1", CONV_I2: "conv.i2", CONV_I4: "conv.i4", CONV_I8: "conv.i8",
	CONV_R4: "conv.r4", CONV_R8: "conv.r8", CONV_U4: "conv.u4", CONV_U8: "conv.u8",
	CONV_U2: "conv.u2", CONV_U1: "conv.u1", CONV_I: "conv.i", CONV_U: "conv.u",
	CONV_R_UN: "conv.r.un", CKFINITE: "ckfinite",
}

func (op Opcode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	if op >= 0xFE00 {
		return "fe." + hex2(byte(op))
	}
	return "il." + hex2(byte(op))
}

func hex2(b byte) string {
	const digits = "0123456789abcdef"
	return string([]byte{digits[b>>4], digits[b&0x0F]})
}

// ShortBranch maps a short-form branch to its long form.
func ShortBranch(op Opcode) Opcode {
	if op >= BR_S && op <= BLT_UN_S {
		return op - BR_S + BR
	}
	if op == LEAVE_S {
		return LEAVE
	}
	return op
}
