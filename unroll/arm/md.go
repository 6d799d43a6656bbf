package arm

import "github.com/colorfulnotion/cvm/unroll"

// Register numbers. 31 is xzr or sp depending on the instruction.
const (
	X0  unroll.Reg = 0
	X1  unroll.Reg = 1
	X2  unroll.Reg = 2
	X16 unroll.Reg = 16
	X17 unroll.Reg = 17
	XZR unroll.Reg = 31
)

const (
	ARM_SF = 1 << 31 // 64-bit operation

	ARM_MOVZ = 0x52800000
	ARM_MOVN = 0x12800000
	ARM_MOVK = 0x72800000

	ARM_ADD_REG  = 0x0B000000
	ARM_SUB_REG  = 0x4B000000
	ARM_AND_REG  = 0x0A000000
	ARM_ORR_REG  = 0x2A000000
	ARM_ORN_REG  = 0x2A200000
	ARM_EOR_REG  = 0x4A000000
	ARM_SUBS_REG = 0x6B000000
	ARM_ADD_IMM  = 0x11000000
	ARM_SUB_IMM  = 0x51000000
	ARM_ADDS_IMM = 0x31000000
	ARM_SUBS_IMM = 0x71000000
	ARM_MADD     = 0x1B000000
	ARM_MSUB     = 0x1B008000
	ARM_SDIV     = 0x1AC00C00
	ARM_LSLV     = 0x1AC02000
	ARM_LSRV     = 0x1AC02400
	ARM_ASRV     = 0x1AC02800
	ARM_SBFM_X   = 0x93400000
	ARM_UBFM_W   = 0x53000000

	ARM_BCOND = 0x54000000
	ARM_RET   = 0xD65F03C0
)

// Condition codes of b.cond.
const (
	ARM_EQ = 0x0
	ARM_NE = 0x1
	ARM_HS = 0x2
	ARM_LO = 0x3
	ARM_HI = 0x8
	ARM_LS = 0x9
	ARM_GE = 0xA
	ARM_LT = 0xB
	ARM_GT = 0xC
	ARM_LE = 0xD
)

// memOp holds the three addressing forms of one load or store: unsigned
// scaled immediate, signed unscaled immediate and register offset.
type memOp struct {
	scaled, unscaled, register uint32
	size                       int
}

var loads = map[unroll.Width]memOp{
	unroll.W8s:  {0x39800000, 0x38800000, 0x38A00800, 1},
	unroll.W8u:  {0x39400000, 0x38400000, 0x38600800, 1},
	unroll.W16s: {0x79800000, 0x78800000, 0x78A00800, 2},
	unroll.W16u: {0x79400000, 0x78400000, 0x78600800, 2},
	unroll.W32s: {0xB9800000, 0xB8800000, 0xB8A00800, 4},
	unroll.W32u: {0xB9400000, 0xB8400000, 0xB8600800, 4},
	unroll.W64:  {0xF9400000, 0xF8400000, 0xF8600800, 8},
}

var stores = map[unroll.Width]memOp{
	unroll.W8s:  {0x39000000, 0x38000000, 0x38200800, 1},
	unroll.W8u:  {0x39000000, 0x38000000, 0x38200800, 1},
	unroll.W16s: {0x79000000, 0x78000000, 0x78200800, 2},
	unroll.W16u: {0x79000000, 0x78000000, 0x78200800, 2},
	unroll.W32s: {0xB9000000, 0xB8000000, 0xB8200800, 4},
	unroll.W32u: {0xB9000000, 0xB8000000, 0xB8200800, 4},
	unroll.W64:  {0xF9000000, 0xF8000000, 0xF8200800, 8},
}

func sf(wide bool) uint32 {
	if wide {
		return ARM_SF
	}
	return 0
}

func rd(r unroll.Reg) uint32 { return uint32(r) & 31 }
func rn(r unroll.Reg) uint32 { return (uint32(r) & 31) << 5 }
func rm(r unroll.Reg) uint32 { return (uint32(r) & 31) << 16 }
func ra(r unroll.Reg) uint32 { return (uint32(r) & 31) << 10 }

// emitReg3 encodes a three register data processing instruction.
func emitReg3(b *unroll.Buffer, op uint32, wide bool, d, n, m unroll.Reg) {
	b.Emit32(op | sf(wide) | rm(m) | rn(n) | rd(d))
}

// emitAddImm encodes add or sub with a 12-bit unsigned immediate.
func emitAddImm(b *unroll.Buffer, op uint32, wide bool, d, n unroll.Reg, imm uint32) {
	b.Emit32(op | sf(wide) | (imm&0xFFF)<<10 | rn(n) | rd(d))
}

// emitMovImm loads v with movz or movn followed by movk for every
// remaining halfword.
func emitMovImm(b *unroll.Buffer, d unroll.Reg, v int64) {
	u := uint64(v)
	fill := uint64(0)
	if v < 0 {
		fill = 0xFFFF
		b.Emit32(ARM_MOVN | ARM_SF | uint32(^u&0xFFFF)<<5 | rd(d))
	} else {
		b.Emit32(ARM_MOVZ | ARM_SF | uint32(u&0xFFFF)<<5 | rd(d))
	}
	for hw := uint32(1); hw < 4; hw++ {
		chunk := (u >> (16 * hw)) & 0xFFFF
		if chunk != fill {
			b.Emit32(ARM_MOVK | ARM_SF | hw<<21 | uint32(chunk)<<5 | rd(d))
		}
	}
}

// emitMove is mov xd, xm, an alias of orr xd, xzr, xm.
func emitMove(b *unroll.Buffer, wide bool, d, m unroll.Reg) {
	emitReg3(b, ARM_ORR_REG, wide, d, XZR, m)
}

// emitSbfm encodes sbfm xd, xn, #0, #imms, the sxtb/sxth/sxtw family.
func emitSbfm(b *unroll.Buffer, d, n unroll.Reg, imms uint32) {
	b.Emit32(ARM_SBFM_X | imms<<10 | rn(n) | rd(d))
}

// emitUbfm encodes ubfm wd, wn, #0, #imms, the uxtb/uxth family.
func emitUbfm(b *unroll.Buffer, d, n unroll.Reg, imms uint32) {
	b.Emit32(ARM_UBFM_W | imms<<10 | rn(n) | rd(d))
}

func emitSxtw(b *unroll.Buffer, r unroll.Reg) { emitSbfm(b, r, r, 31) }

// emitMem encodes a load or store of t at [base+disp], falling back to a
// register offset in x17 when disp fits neither immediate form.
func emitMem(b *unroll.Buffer, op memOp, t, base unroll.Reg, disp int32) {
	switch {
	case disp >= 0 && int(disp)%op.size == 0 && int(disp)/op.size < 4096:
		b.Emit32(op.scaled | uint32(int(disp)/op.size)<<10 | rn(base) | rd(t))
	case disp >= -256 && disp < 256:
		b.Emit32(op.unscaled | (uint32(disp)&0x1FF)<<12 | rn(base) | rd(t))
	default:
		emitMovImm(b, X17, int64(disp))
		b.Emit32(op.register | 3<<13 | rm(X17) | rn(base) | rd(t))
	}
}

// emitIndexed encodes a load or store of t at [base+index<<scale+disp].
func emitIndexed(b *unroll.Buffer, op memOp, t, base, index unroll.Reg, disp int32) {
	if disp != 0 {
		if disp > 0 && disp < 4096 {
			emitAddImm(b, ARM_ADD_IMM, true, X17, base, uint32(disp))
		} else {
			emitMovImm(b, X17, int64(disp))
			emitReg3(b, ARM_ADD_REG, true, X17, base, X17)
		}
		base = X17
	}
	s := uint32(0)
	if op.size > 1 {
		s = 1
	}
	b.Emit32(op.register | 3<<13 | s<<12 | rm(index) | rn(base) | rd(t))
}
