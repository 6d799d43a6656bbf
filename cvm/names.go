package cvm

import "fmt"

type opInfo struct {
	name  string
	shape Shape
}

var mainInfo = [256]opInfo{
	COP_NOP:        {"nop", ShapeNone},
	COP_ILOAD_0:    {"iload_0", ShapeNone},
	COP_ILOAD_1:    {"iload_1", ShapeNone},
	COP_ILOAD_2:    {"iload_2", ShapeNone},
	COP_ILOAD_3:    {"iload_3", ShapeNone},
	COP_ILOAD:      {"iload", ShapeByte},
	COP_PLOAD_0:    {"pload_0", ShapeNone},
	COP_PLOAD_1:    {"pload_1", ShapeNone},
	COP_PLOAD_2:    {"pload_2", ShapeNone},
	COP_PLOAD_3:    {"pload_3", ShapeNone},
	COP_PLOAD:      {"pload", ShapeByte},
	COP_MLOAD:      {"mload", ShapeByte2},
	COP_BLOAD:      {"bload", ShapeByte},
	COP_ISTORE_0:   {"istore_0", ShapeNone},
	COP_ISTORE_1:   {"istore_1", ShapeNone},
	COP_ISTORE_2:   {"istore_2", ShapeNone},
	COP_ISTORE_3:   {"istore_3", ShapeNone},
	COP_ISTORE:     {"istore", ShapeByte},
	COP_PSTORE_0:   {"pstore_0", ShapeNone},
	COP_PSTORE_1:   {"pstore_1", ShapeNone},
	COP_PSTORE_2:   {"pstore_2", ShapeNone},
	COP_PSTORE_3:   {"pstore_3", ShapeNone},
	COP_PSTORE:     {"pstore", ShapeByte},
	COP_MSTORE:     {"mstore", ShapeByte2},
	COP_BSTORE:     {"bstore", ShapeByte},
	COP_WADDR:      {"waddr", ShapeByte},
	COP_MADDR:      {"maddr", ShapeByte},
	COP_BFIXUP:     {"bfixup", ShapeByte},
	COP_SFIXUP:     {"sfixup", ShapeByte},
	COP_FFIXUP:     {"ffixup", ShapeByte},
	COP_MK_LOCAL_1: {"mk_local_1", ShapeNone},
	COP_MK_LOCAL_2: {"mk_local_2", ShapeNone},
	COP_MK_LOCAL_3: {"mk_local_3", ShapeNone},
	COP_MK_LOCAL_N: {"mk_local_n", ShapeByte},

	COP_DUP:        {"dup", ShapeNone},
	COP_DUP2:       {"dup2", ShapeNone},
	COP_DUP_N:      {"dup_n", ShapeByte},
	COP_DUP_WORD_N: {"dup_word_n", ShapeByte},
	COP_POP:        {"pop", ShapeNone},
	COP_POP2:       {"pop2", ShapeNone},
	COP_POP_N:      {"pop_n", ShapeByte},
	COP_SQUASH:     {"squash", ShapeByte2},
	COP_CKHEIGHT:   {"ckheight", ShapeNone},
	COP_CKHEIGHT_N: {"ckheight_n", ShapeWord},

	COP_IADD:        {"iadd", ShapeNone},
	COP_IADD_OVF:    {"iadd_ovf", ShapeNone},
	COP_IADD_OVF_UN: {"iadd_ovf_un", ShapeNone},
	COP_ISUB:        {"isub", ShapeNone},
	COP_ISUB_OVF:    {"isub_ovf", ShapeNone},
	COP_ISUB_OVF_UN: {"isub_ovf_un", ShapeNone},
	COP_IMUL:        {"imul", ShapeNone},
	COP_IMUL_OVF:    {"imul_ovf", ShapeNone},
	COP_IMUL_OVF_UN: {"imul_ovf_un", ShapeNone},
	COP_IDIV:        {"idiv", ShapeNone},
	COP_IDIV_UN:     {"idiv_un", ShapeNone},
	COP_IREM:        {"irem", ShapeNone},
	COP_IREM_UN:     {"irem_un", ShapeNone},
	COP_INEG:        {"ineg", ShapeNone},

	COP_LADD:        {"ladd", ShapeNone},
	COP_LADD_OVF:    {"ladd_ovf", ShapeNone},
	COP_LADD_OVF_UN: {"ladd_ovf_un", ShapeNone},
	COP_LSUB:        {"lsub", ShapeNone},
	COP_LSUB_OVF:    {"lsub_ovf", ShapeNone},
	COP_LSUB_OVF_UN: {"lsub_ovf_un", ShapeNone},
	COP_LMUL:        {"lmul", ShapeNone},
	COP_LMUL_OVF:    {"lmul_ovf", ShapeNone},
	COP_LMUL_OVF_UN: {"lmul_ovf_un", ShapeNone},
	COP_LDIV:        {"ldiv", ShapeNone},
	COP_LDIV_UN:     {"ldiv_un", ShapeNone},
	COP_LREM:        {"lrem", ShapeNone},
	COP_LREM_UN:     {"lrem_un", ShapeNone},
	COP_LNEG:        {"lneg", ShapeNone},

	COP_FADD: {"fadd", ShapeNone},
	COP_FSUB: {"fsub", ShapeNone},
	COP_FMUL: {"fmul", ShapeNone},
	COP_FDIV: {"fdiv", ShapeNone},
	COP_FREM: {"frem", ShapeNone},
	COP_FNEG: {"fneg", ShapeNone},

	COP_IAND:    {"iand", ShapeNone},
	COP_IOR:     {"ior", ShapeNone},
	COP_IXOR:    {"ixor", ShapeNone},
	COP_INOT:    {"inot", ShapeNone},
	COP_ISHL:    {"ishl", ShapeNone},
	COP_ISHR:    {"ishr", ShapeNone},
	COP_ISHR_UN: {"ishr_un", ShapeNone},
	COP_LAND:    {"land", ShapeNone},
	COP_LOR:     {"lor", ShapeNone},
	COP_LXOR:    {"lxor", ShapeNone},
	COP_LNOT:    {"lnot", ShapeNone},
	COP_LSHL:    {"lshl", ShapeNone},
	COP_LSHR:    {"lshr", ShapeNone},
	COP_LSHR_UN: {"lshr_un", ShapeNone},

	COP_I2B:  {"i2b", ShapeNone},
	COP_I2UB: {"i2ub", ShapeNone},
	COP_I2S:  {"i2s", ShapeNone},
	COP_I2US: {"i2us", ShapeNone},
	COP_I2L:  {"i2l", ShapeNone},
	COP_IU2L: {"iu2l", ShapeNone},
	COP_L2I:  {"l2i", ShapeNone},
	COP_I2F:  {"i2f", ShapeNone},
	COP_IU2F: {"iu2f", ShapeNone},
	COP_L2F:  {"l2f", ShapeNone},
	COP_LU2F: {"lu2f", ShapeNone},
	COP_F2I:  {"f2i", ShapeNone},
	COP_F2IU: {"f2iu", ShapeNone},
	COP_F2L:  {"f2l", ShapeNone},
	COP_F2LU: {"f2lu", ShapeNone},
	COP_F2F:  {"f2f", ShapeNone},
	COP_F2D:  {"f2d", ShapeNone},

	COP_PADD_OFFSET:   {"padd_offset", ShapeByte},
	COP_PADD_OFFSET_N: {"padd_offset_n", ShapeByte2},
	COP_PADD_I4:       {"padd_i4", ShapeNone},
	COP_PADD_I4_R:     {"padd_i4_r", ShapeNone},
	COP_PADD_I8:       {"padd_i8", ShapeNone},
	COP_PADD_I8_R:     {"padd_i8_r", ShapeNone},
	COP_PSUB:          {"psub", ShapeNone},
	COP_PSUB_I4:       {"psub_i4", ShapeNone},
	COP_PSUB_I8:       {"psub_i8", ShapeNone},

	COP_ICMP:    {"icmp", ShapeNone},
	COP_ICMP_UN: {"icmp_un", ShapeNone},
	COP_LCMP:    {"lcmp", ShapeNone},
	COP_LCMP_UN: {"lcmp_un", ShapeNone},
	COP_FCMPL:   {"fcmpl", ShapeNone},
	COP_FCMPG:   {"fcmpg", ShapeNone},
	COP_PCMP:    {"pcmp", ShapeNone},
	COP_SETEQ:   {"seteq", ShapeNone},
	COP_SETNE:   {"setne", ShapeNone},
	COP_SETLT:   {"setlt", ShapeNone},
	COP_SETLE:   {"setle", ShapeNone},
	COP_SETGT:   {"setgt", ShapeNone},
	COP_SETGE:   {"setge", ShapeNone},

	COP_BR:        {"br", ShapeBranch},
	COP_BEQ:       {"beq", ShapeBranch},
	COP_BNE:       {"bne", ShapeBranch},
	COP_BLT:       {"blt", ShapeBranch},
	COP_BLT_UN:    {"blt_un", ShapeBranch},
	COP_BLE:       {"ble", ShapeBranch},
	COP_BLE_UN:    {"ble_un", ShapeBranch},
	COP_BGT:       {"bgt", ShapeBranch},
	COP_BGT_UN:    {"bgt_un", ShapeBranch},
	COP_BGE:       {"bge", ShapeBranch},
	COP_BGE_UN:    {"bge_un", ShapeBranch},
	COP_BRTRUE:    {"brtrue", ShapeBranch},
	COP_BRFALSE:   {"brfalse", ShapeBranch},
	COP_BRNULL:    {"brnull", ShapeBranch},
	COP_BRNONNULL: {"brnonnull", ShapeBranch},
	COP_BR_PEQ:    {"br_peq", ShapeBranch},
	COP_BR_PNE:    {"br_pne", ShapeBranch},
	COP_JSR:       {"jsr", ShapeBranch},
	COP_RET_JSR:   {"ret_jsr", ShapeNone},
	COP_SWITCH:    {"switch", ShapeSwitch},

	COP_LDNULL:    {"ldnull", ShapeNone},
	COP_LDC_I4_M1: {"ldc_i4_m1", ShapeNone},
	COP_LDC_I4_0:  {"ldc_i4_0", ShapeNone},
	COP_LDC_I4_1:  {"ldc_i4_1", ShapeNone},
	COP_LDC_I4_2:  {"ldc_i4_2", ShapeNone},
	COP_LDC_I4_3:  {"ldc_i4_3", ShapeNone},
	COP_LDC_I4_4:  {"ldc_i4_4", ShapeNone},
	COP_LDC_I4_5:  {"ldc_i4_5", ShapeNone},
	COP_LDC_I4_6:  {"ldc_i4_6", ShapeNone},
	COP_LDC_I4_7:  {"ldc_i4_7", ShapeNone},
	COP_LDC_I4_8:  {"ldc_i4_8", ShapeNone},
	COP_LDC_I4_S:  {"ldc_i4_s", ShapeSByte},
	COP_LDC_I4:    {"ldc_i4", ShapeWord},
	COP_LDC_I8:    {"ldc_i8", ShapeLong},
	COP_LDC_R4:    {"ldc_r4", ShapeFloat},
	COP_LDC_R8:    {"ldc_r8", ShapeDouble},

	COP_BREAD:  {"bread", ShapeNone},
	COP_UBREAD: {"ubread", ShapeNone},
	COP_SREAD:  {"sread", ShapeNone},
	COP_USREAD: {"usread", ShapeNone},
	COP_IREAD:  {"iread", ShapeNone},
	COP_PREAD:  {"pread", ShapeNone},
	COP_LREAD:  {"lread", ShapeNone},
	COP_FREAD:  {"fread", ShapeNone},
	COP_DREAD:  {"dread", ShapeNone},
	COP_MREAD:  {"mread", ShapeByte},
	COP_BWRITE: {"bwrite", ShapeNone},
	COP_SWRITE: {"swrite", ShapeNone},
	COP_IWRITE: {"iwrite", ShapeNone},
	COP_PWRITE: {"pwrite", ShapeNone},
	COP_LWRITE: {"lwrite", ShapeNone},
	COP_FWRITE: {"fwrite", ShapeNone},
	COP_DWRITE: {"dwrite", ShapeNone},
	COP_MWRITE: {"mwrite", ShapeByte},

	COP_BREAD_FIELD:  {"bread_field", ShapeByte},
	COP_UBREAD_FIELD: {"ubread_field", ShapeByte},
	COP_SREAD_FIELD:  {"sread_field", ShapeByte},
	COP_USREAD_FIELD: {"usread_field", ShapeByte},
	COP_IREAD_FIELD:  {"iread_field", ShapeByte},
	COP_PREAD_FIELD:  {"pread_field", ShapeByte},
	COP_BWRITE_FIELD: {"bwrite_field", ShapeByte},
	COP_SWRITE_FIELD: {"swrite_field", ShapeByte},
	COP_IWRITE_FIELD: {"iwrite_field", ShapeByte},
	COP_PWRITE_FIELD: {"pwrite_field", ShapeByte},
	COP_IREAD_THIS:   {"iread_this", ShapeByte},
	COP_PREAD_THIS:   {"pread_this", ShapeByte},
	COP_CKNULL:       {"cknull", ShapeNone},
	COP_CKNULL_N:     {"cknull_n", ShapeByte},

	COP_BREAD_ELEM:  {"bread_elem", ShapeNone},
	COP_UBREAD_ELEM: {"ubread_elem", ShapeNone},
	COP_SREAD_ELEM:  {"sread_elem", ShapeNone},
	COP_USREAD_ELEM: {"usread_elem", ShapeNone},
	COP_IREAD_ELEM:  {"iread_elem", ShapeNone},
	COP_PREAD_ELEM:  {"pread_elem", ShapeNone},
	COP_BWRITE_ELEM: {"bwrite_elem", ShapeNone},
	COP_SWRITE_ELEM: {"swrite_elem", ShapeNone},
	COP_IWRITE_ELEM: {"iwrite_elem", ShapeNone},
	COP_PWRITE_ELEM: {"pwrite_elem", ShapeNone},
	COP_ARRAY_LEN:   {"array_len", ShapeNone},

	COP_CALL:           {"call", ShapePtr},
	COP_CALL_EXTERN:    {"call_extern", ShapePtr},
	COP_CALL_CTOR:      {"call_ctor", ShapePtr},
	COP_CALL_VIRTUAL:   {"call_virtual", ShapeWord2},
	COP_CALL_INTERFACE: {"call_interface", ShapeWord2Ptr},
	COP_RETURN:         {"return", ShapeNone},
	COP_RETURN_1:       {"return_1", ShapeNone},
	COP_RETURN_2:       {"return_2", ShapeNone},
	COP_RETURN_N:       {"return_n", ShapeWord},
	COP_PUSHDOWN:       {"pushdown", ShapeWord},

	COP_BR_LONG: {"br_long", ShapeBranch},
	COP_WIDE:    {"wide", ShapeNone},
	COP_PREFIX:  {"prefix", ShapeNone},
}

var prefixInfo = [256]opInfo{
	COP_PREFIX_ENTER_TRY & 0xFF:       {"enter_try", ShapeNone},
	COP_PREFIX_THROW & 0xFF:           {"throw", ShapeNone},
	COP_PREFIX_RETHROW & 0xFF:         {"rethrow", ShapeNone},
	COP_PREFIX_THROW_CALLER & 0xFF:    {"throw_caller", ShapeNone},
	COP_PREFIX_CATCH_MATCH & 0xFF:     {"catch_match", ShapePtrWord},
	COP_PREFIX_PUSH_EXCEPTION & 0xFF:  {"push_exception", ShapeNone},
	COP_PREFIX_CONTINUE_SCAN & 0xFF:   {"continue_scan", ShapeNone},
	COP_PREFIX_CALL_FILTER & 0xFF:     {"call_filter", ShapeWord},
	COP_PREFIX_RET_FROM_FILTER & 0xFF: {"ret_from_filter", ShapeNone},

	COP_PREFIX_I2B_OVF & 0xFF:   {"i2b_ovf", ShapeNone},
	COP_PREFIX_I2UB_OVF & 0xFF:  {"i2ub_ovf", ShapeNone},
	COP_PREFIX_I2S_OVF & 0xFF:   {"i2s_ovf", ShapeNone},
	COP_PREFIX_I2US_OVF & 0xFF:  {"i2us_ovf", ShapeNone},
	COP_PREFIX_I2IU_OVF & 0xFF:  {"i2iu_ovf", ShapeNone},
	COP_PREFIX_I2UL_OVF & 0xFF:  {"i2ul_ovf", ShapeNone},
	COP_PREFIX_IU2B_OVF & 0xFF:  {"iu2b_ovf", ShapeNone},
	COP_PREFIX_IU2UB_OVF & 0xFF: {"iu2ub_ovf", ShapeNone},
	COP_PREFIX_IU2S_OVF & 0xFF:  {"iu2s_ovf", ShapeNone},
	COP_PREFIX_IU2US_OVF & 0xFF: {"iu2us_ovf", ShapeNone},
	COP_PREFIX_IU2I_OVF & 0xFF:  {"iu2i_ovf", ShapeNone},
	COP_PREFIX_L2I_OVF & 0xFF:   {"l2i_ovf", ShapeNone},
	COP_PREFIX_L2UI_OVF & 0xFF:  {"l2ui_ovf", ShapeNone},
	COP_PREFIX_L2UL_OVF & 0xFF:  {"l2ul_ovf", ShapeNone},
	COP_PREFIX_LU2I_OVF & 0xFF:  {"lu2i_ovf", ShapeNone},
	COP_PREFIX_LU2IU_OVF & 0xFF: {"lu2iu_ovf", ShapeNone},
	COP_PREFIX_LU2L_OVF & 0xFF:  {"lu2l_ovf", ShapeNone},
	COP_PREFIX_F2I_OVF & 0xFF:   {"f2i_ovf", ShapeNone},
	COP_PREFIX_F2IU_OVF & 0xFF:  {"f2iu_ovf", ShapeNone},
	COP_PREFIX_F2L_OVF & 0xFF:   {"f2l_ovf", ShapeNone},
	COP_PREFIX_F2LU_OVF & 0xFF:  {"f2lu_ovf", ShapeNone},
	COP_PREFIX_CKFINITE & 0xFF:  {"ckfinite", ShapeNone},
	COP_PREFIX_I2P_LOWER & 0xFF: {"i2p_lower", ShapeByte},

	COP_PREFIX_RUN_CCTOR & 0xFF:  {"run_cctor", ShapePtr},
	COP_PREFIX_GET_STATIC & 0xFF: {"get_static", ShapePtr},
	COP_PREFIX_LDRVA & 0xFF:      {"ldrva", ShapePtr},
	COP_PREFIX_LDSTR & 0xFF:      {"ldstr", ShapeWord},
	COP_PREFIX_LDTOKEN & 0xFF:    {"ldtoken", ShapePtr},
	COP_PREFIX_LDFTN & 0xFF:      {"ldftn", ShapePtr},
	COP_PREFIX_LDVIRTFTN & 0xFF:  {"ldvirtftn", ShapeWord},
	COP_PREFIX_CALLI & 0xFF:      {"calli", ShapeNone},
	COP_PREFIX_TAIL_CALL & 0xFF:  {"tail_call", ShapePtr},

	COP_PREFIX_NEW & 0xFF:          {"new", ShapePtr},
	COP_PREFIX_NEW_ARRAY & 0xFF:    {"new_array", ShapePtr},
	COP_PREFIX_NEW_ARRAY2D & 0xFF:  {"new_array2d", ShapePtr},
	COP_PREFIX_ISINST & 0xFF:       {"isinst", ShapePtr},
	COP_PREFIX_CASTCLASS & 0xFF:    {"castclass", ShapePtr},
	COP_PREFIX_BOX & 0xFF:          {"box", ShapePtrWord},
	COP_PREFIX_BOX_SMALLER & 0xFF:  {"box_smaller", ShapePtrByte},
	COP_PREFIX_UNBOX & 0xFF:        {"unbox", ShapePtr},
	COP_PREFIX_MK_TYPEDREF & 0xFF:  {"mk_typedref", ShapePtr},
	COP_PREFIX_REFANYVAL & 0xFF:    {"refanyval", ShapePtr},
	COP_PREFIX_REFANYTYPE & 0xFF:   {"refanytype", ShapeNone},
	COP_PREFIX_ARGLIST & 0xFF:      {"arglist", ShapeWord},
	COP_PREFIX_PACK_VARARGS & 0xFF: {"pack_varargs", ShapeWord},

	COP_PREFIX_MEMCPY & 0xFF:   {"memcpy", ShapeWord},
	COP_PREFIX_MEMZERO & 0xFF:  {"memzero", ShapeWord},
	COP_PREFIX_MEMCMP & 0xFF:   {"memcmp", ShapeWord},
	COP_PREFIX_CPBLK & 0xFF:    {"cpblk", ShapeNone},
	COP_PREFIX_INITBLK & 0xFF:  {"initblk", ShapeNone},
	COP_PREFIX_LOCALLOC & 0xFF: {"localloc", ShapeNone},

	COP_PREFIX_LREAD_ELEM & 0xFF:    {"lread_elem", ShapeNone},
	COP_PREFIX_LWRITE_ELEM & 0xFF:   {"lwrite_elem", ShapeNone},
	COP_PREFIX_FREAD_ELEM & 0xFF:    {"fread_elem", ShapeNone},
	COP_PREFIX_FWRITE_ELEM & 0xFF:   {"fwrite_elem", ShapeNone},
	COP_PREFIX_DREAD_ELEM & 0xFF:    {"dread_elem", ShapeNone},
	COP_PREFIX_DWRITE_ELEM & 0xFF:   {"dwrite_elem", ShapeNone},
	COP_PREFIX_MREAD_ELEM & 0xFF:    {"mread_elem", ShapeWord},
	COP_PREFIX_MWRITE_ELEM & 0xFF:   {"mwrite_elem", ShapeWord},
	COP_PREFIX_LDELEMA & 0xFF:       {"ldelema", ShapeWord},
	COP_PREFIX_CKARRAY_STORE & 0xFF: {"ckarray_store", ShapeNone},
	COP_PREFIX_GET2D & 0xFF:         {"get2d", ShapeNone},
	COP_PREFIX_SET2D & 0xFF:         {"set2d", ShapeByte},
}

func infoFor(op Opcode) opInfo {
	if op.IsPrefixed() {
		return prefixInfo[op&0xFF]
	}
	return mainInfo[op&0xFF]
}

// OpcodeName returns the disassembly mnemonic for op.
func OpcodeName(op Opcode) string {
	if name := infoFor(op).name; name != "" {
		return name
	}
	if op.IsPrefixed() {
		return fmt.Sprintf("prefix_0x%02x", byte(op))
	}
	return fmt.Sprintf("op_0x%02x", byte(op))
}

// IsDefined reports whether op names an instruction of the set.
func IsDefined(op Opcode) bool {
	return infoFor(op).name != ""
}
