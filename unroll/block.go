package unroll

import (
	"fmt"
	"math"

	"github.com/colorfulnotion/cvm/cvm"
	"github.com/colorfulnotion/cvm/cvmerrors"
)

// block is the translation state of one fragment. Stack words live either
// in memory, addressed relative to the stack top register plus delta, or in
// the registers of the pseudo stack above them.
type block struct {
	g     NativeCodeGenerator
	b     *Buffer
	start int
	end   int

	stack pseudoStack
	delta int
	// busy marks registers holding an operand or temporary of the
	// instruction being translated.
	busy uint64

	// cached is the last local stored and the register that held it.
	cached struct {
		local uint32
		reg   Reg
		ok    bool
	}
	thisChecked bool

	ops, guards, hits, thisHits int
	err                         error
}

func newBlock(g NativeCodeGenerator, start, limit int) *block {
	k := &block{g: g, b: NewBuffer(limit), start: start}
	g.Prologue(k.b)
	return k
}

func (k *block) fail(err error) {
	if k.err == nil {
		k.err = err
	}
}

func (k *block) isBusy(r Reg) bool { return k.busy&(1<<r) != 0 }

// wordRegister returns a register holding no live value, spilling the
// oldest stack word when every register is taken.
func (k *block) wordRegister() Reg {
	for _, r := range k.g.Registers() {
		if !k.isBusy(r) && !k.stack.holds(r) && !(k.cached.ok && k.cached.reg == r) {
			k.busy |= 1 << r
			return r
		}
	}
	if c := k.cached.reg; k.cached.ok && !k.isBusy(c) && !k.stack.holds(c) {
		k.cached.ok = false
		k.busy |= 1 << c
		return c
	}
	if k.stack.len() == 0 {
		k.fail(fmt.Errorf("no register for a temporary: %w", cvmerrors.ErrPseudoStackFull))
		return k.g.Registers()[0]
	}
	if r := k.stack.words()[0]; k.isBusy(r) {
		k.fail(fmt.Errorf("every register holds an operand: %w", cvmerrors.ErrPseudoStackFull))
		return r
	}
	r, _ := k.stack.removeBottom()
	k.g.StoreStack(k.b, r, k.delta)
	k.delta++
	k.busy |= 1 << r
	return r
}

// ensure brings the top n stack words into registers.
func (k *block) ensure(n int) {
	for k.err == nil && k.stack.len() < n {
		r := k.wordRegister()
		k.g.LoadStack(k.b, r, k.delta-1)
		k.delta--
		if err := k.stack.insertBottom(r); err != nil {
			k.fail(err)
		}
	}
}

func (k *block) top(depth int) Reg {
	k.ensure(depth + 1)
	r, err := k.stack.peekTop(depth)
	if err != nil {
		k.fail(err)
	}
	k.busy |= 1 << r
	return r
}

func (k *block) topWordRegister() Reg { return k.top(0) }

// topTwoWordRegisters returns the two top words, deeper first.
func (k *block) topTwoWordRegisters() (Reg, Reg) {
	k.ensure(2)
	return k.top(1), k.top(0)
}

func (k *block) topThreeWordRegisters() (Reg, Reg, Reg) {
	k.ensure(3)
	return k.top(2), k.top(1), k.top(0)
}

func (k *block) push(r Reg) {
	if k.stack.len() == MaxPseudo {
		old, _ := k.stack.removeBottom()
		k.g.StoreStack(k.b, old, k.delta)
		k.delta++
	}
	if err := k.stack.push(r); err != nil {
		k.fail(err)
	}
}

func (k *block) pop(n int) {
	for i := 0; i < n; i++ {
		if _, err := k.stack.pop(); err != nil {
			k.fail(err)
		}
	}
}

// freeTopRegister stores the top word in local n and remembers the
// register for one following load of the same local.
func (k *block) freeTopRegister(n uint32) {
	r := k.topWordRegister()
	k.g.StoreLocal(k.b, r, n)
	k.pop(1)
	k.cached.local, k.cached.reg, k.cached.ok = n, r, true
	if n == 0 {
		k.thisChecked = false
	}
}

// wroteMemory forgets what the block knows about locals after a store
// through a pointer, which may address the frame itself.
func (k *block) wroteMemory() {
	k.cached.ok = false
	k.thisChecked = false
}

// cachedWordRegister returns the register still holding local n.
func (k *block) cachedWordRegister(n uint32) (Reg, bool) {
	c := k.cached
	if !c.ok || c.local != n || k.isBusy(c.reg) || k.stack.holds(c.reg) {
		return 0, false
	}
	k.cached.ok = false
	k.busy |= 1 << c.reg
	return c.reg, true
}

// storeAll writes every register word to memory without changing the
// translation state and returns the words the stack top must advance by.
func (k *block) storeAll() int {
	for i, r := range k.stack.words() {
		k.g.StoreStack(k.b, r, k.delta+i)
	}
	return k.delta + k.stack.len()
}

// guard emits a check that leaves for the interpreter when fail holds. The
// stack is written back as it was before the instruction at pc, which the
// interpreter then executes again.
func (k *block) guard(pc int, fail Cond) {
	f := k.g.JumpIf(k.b, fail.Not())
	k.g.Exit(k.b, k.storeAll(), pc, ReExecute)
	if err := k.g.Bind(k.b, f); err != nil {
		k.fail(err)
	}
	k.guards++
}

func (k *block) guardNonNull(pc int, r Reg) {
	k.g.CompareImm(k.b, true, r, 0)
	k.guard(pc, CondEQ)
}

// guardIndex checks index against the length of the SZ array in a and
// leaves the zero-extended index in t.
func (k *block) guardIndex(pc int, a, index, t Reg) {
	k.g.Load(k.b, t, a, int32(cvm.ArrayLengthOffset), W32u)
	k.g.Compare(k.b, false, index, t)
	k.guard(pc, CondGEU)
	k.g.Extend(k.b, t, index, W32u)
}

// close flushes the stack and exits to nextPC.
func (k *block) close(nextPC int) {
	words := k.storeAll()
	k.stack.spillAll()
	k.delta = words
	k.g.Exit(k.b, words, nextPC, Continue)
	k.end = nextPC
}

// closeBranch ends the block on a conditional branch whose compare was
// just emitted.
func (k *block) closeBranch(c Cond, target, next int) {
	words := k.storeAll()
	k.stack.spillAll()
	k.delta = words
	f := k.g.JumpIf(k.b, c)
	k.g.Exit(k.b, words, next, Continue)
	if err := k.g.Bind(k.b, f); err != nil {
		k.fail(err)
	}
	k.g.Exit(k.b, words, target, Continue)
	k.end = next
}

var branchConds = map[cvm.Opcode]Cond{
	cvm.COP_BEQ: CondEQ, cvm.COP_BNE: CondNE,
	cvm.COP_BLT: CondLT, cvm.COP_BLT_UN: CondLTU,
	cvm.COP_BLE: CondLE, cvm.COP_BLE_UN: CondLEU,
	cvm.COP_BGT: CondGT, cvm.COP_BGT_UN: CondGTU,
	cvm.COP_BGE: CondGE, cvm.COP_BGE_UN: CondGEU,
}

var aluOps = map[cvm.Opcode]struct {
	op   ALUOp
	wide bool
}{
	cvm.COP_IADD: {OpAdd, false}, cvm.COP_ISUB: {OpSub, false}, cvm.COP_IMUL: {OpMul, false},
	cvm.COP_IAND: {OpAnd, false}, cvm.COP_IOR: {OpOr, false}, cvm.COP_IXOR: {OpXor, false},
	cvm.COP_LADD: {OpAdd, true}, cvm.COP_LSUB: {OpSub, true}, cvm.COP_LMUL: {OpMul, true},
	cvm.COP_LAND: {OpAnd, true}, cvm.COP_LOR: {OpOr, true}, cvm.COP_LXOR: {OpXor, true},
	cvm.COP_PADD_I8: {OpAdd, true}, cvm.COP_PSUB: {OpSub, true}, cvm.COP_PSUB_I8: {OpSub, true},
}

var shiftOps = map[cvm.Opcode]struct {
	op   ShiftOp
	wide bool
}{
	cvm.COP_ISHL: {ShiftLeft, false}, cvm.COP_ISHR: {ShiftRight, false}, cvm.COP_ISHR_UN: {ShiftRightUn, false},
	cvm.COP_LSHL: {ShiftLeft, true}, cvm.COP_LSHR: {ShiftRight, true}, cvm.COP_LSHR_UN: {ShiftRightUn, true},
}

var extendOps = map[cvm.Opcode]Width{
	cvm.COP_I2L: W32s, cvm.COP_L2I: W32s, cvm.COP_IU2L: W32u,
	cvm.COP_I2B: W8s, cvm.COP_I2UB: W8u, cvm.COP_I2S: W16s, cvm.COP_I2US: W16u,
}

var fieldReads = map[cvm.Opcode]Width{
	cvm.COP_BREAD_FIELD: W8s, cvm.COP_UBREAD_FIELD: W8u,
	cvm.COP_SREAD_FIELD: W16s, cvm.COP_USREAD_FIELD: W16u,
	cvm.COP_IREAD_FIELD: W32s, cvm.COP_PREAD_FIELD: W64,
}

var fieldWrites = map[cvm.Opcode]Width{
	cvm.COP_BWRITE_FIELD: W8u, cvm.COP_SWRITE_FIELD: W16u,
	cvm.COP_IWRITE_FIELD: W32u, cvm.COP_PWRITE_FIELD: W64,
}

var elemReads = map[cvm.Opcode]Width{
	cvm.COP_BREAD_ELEM: W8s, cvm.COP_UBREAD_ELEM: W8u,
	cvm.COP_SREAD_ELEM: W16s, cvm.COP_USREAD_ELEM: W16u,
	cvm.COP_IREAD_ELEM: W32s, cvm.COP_PREAD_ELEM: W64,
	cvm.COP_PREFIX_LREAD_ELEM: W64, cvm.COP_PREFIX_DREAD_ELEM: W64,
}

var elemWrites = map[cvm.Opcode]Width{
	cvm.COP_BWRITE_ELEM: W8u, cvm.COP_SWRITE_ELEM: W16u,
	cvm.COP_IWRITE_ELEM: W32u, cvm.COP_PWRITE_ELEM: W64,
	cvm.COP_PREFIX_LWRITE_ELEM: W64, cvm.COP_PREFIX_DWRITE_ELEM: W64,
}

// Translatable lists every opcode the unroller can translate.
func Translatable() []cvm.Opcode {
	var out []cvm.Opcode
	for _, op := range cvm.Opcodes() {
		if translatable(op) {
			out = append(out, op)
		}
	}
	return out
}

func translatable(op cvm.Opcode) bool {
	if _, ok := cvm.LocalIndex(op); ok {
		return true
	}
	if _, ok := branchConds[op]; ok {
		return true
	}
	if _, ok := aluOps[op]; ok {
		return true
	}
	if _, ok := shiftOps[op]; ok {
		return true
	}
	if _, ok := extendOps[op]; ok {
		return true
	}
	if _, ok := fieldReads[op]; ok {
		return true
	}
	if _, ok := fieldWrites[op]; ok {
		return true
	}
	if _, ok := elemReads[op]; ok {
		return true
	}
	if _, ok := elemWrites[op]; ok {
		return true
	}
	switch op {
	case cvm.COP_ILOAD, cvm.COP_PLOAD, cvm.COP_ISTORE, cvm.COP_PSTORE,
		cvm.COP_LDNULL, cvm.COP_LDC_I4_M1, cvm.COP_LDC_I4_0, cvm.COP_LDC_I4_1, cvm.COP_LDC_I4_2,
		cvm.COP_LDC_I4_3, cvm.COP_LDC_I4_4, cvm.COP_LDC_I4_5, cvm.COP_LDC_I4_6, cvm.COP_LDC_I4_7,
		cvm.COP_LDC_I4_8, cvm.COP_LDC_I4_S, cvm.COP_LDC_I4, cvm.COP_LDC_I8,
		cvm.COP_DUP, cvm.COP_POP,
		cvm.COP_INEG, cvm.COP_INOT, cvm.COP_LNEG, cvm.COP_LNOT,
		cvm.COP_IDIV, cvm.COP_IREM, cvm.COP_LDIV, cvm.COP_LREM,
		cvm.COP_PADD_I4, cvm.COP_PSUB_I4, cvm.COP_PADD_OFFSET,
		cvm.COP_IREAD_THIS, cvm.COP_PREAD_THIS, cvm.COP_CKNULL, cvm.COP_CKNULL_N,
		cvm.COP_ARRAY_LEN, cvm.COP_PREFIX_GET2D,
		cvm.COP_BR, cvm.COP_BRTRUE, cvm.COP_BRFALSE, cvm.COP_BRNULL, cvm.COP_BRNONNULL,
		cvm.COP_BR_PEQ, cvm.COP_BR_PNE:
		return true
	}
	return false
}

func ldcValue(code []byte, pc int, op cvm.Opcode) int64 {
	switch op {
	case cvm.COP_LDNULL:
		return 0
	case cvm.COP_LDC_I4_S:
		return int64(cvm.ArgSByte(code, pc))
	case cvm.COP_LDC_I4:
		return int64(cvm.ArgInt(code, pc))
	case cvm.COP_LDC_I8:
		return cvm.ArgLong(code, pc)
	}
	return int64(op) - int64(cvm.COP_LDC_I4_0)
}

// translate emits the instruction at pc. It reports whether the
// instruction ended the block.
func (k *block) translate(code []byte, pc int, op cvm.Opcode) bool {
	k.busy = 0
	k.ops++
	next := pc + cvm.InstructionLength(code, pc, cvm.Layout64)
	g, b := k.g, k.b

	switch {
	case isLoad(op):
		n := cvm.ArgLocal(code, pc)
		if r, ok := k.cachedWordRegister(n); ok {
			k.hits++
			k.push(r)
			break
		}
		r := k.wordRegister()
		g.LoadLocal(b, r, n)
		k.push(r)
	case isStore(op):
		k.freeTopRegister(cvm.ArgLocal(code, pc))
	default:
		return k.translateOther(code, pc, next, op)
	}
	return false
}

func isLoad(op cvm.Opcode) bool {
	return op == cvm.COP_ILOAD || op == cvm.COP_PLOAD ||
		(op >= cvm.COP_ILOAD_0 && op <= cvm.COP_ILOAD_3) ||
		(op >= cvm.COP_PLOAD_0 && op <= cvm.COP_PLOAD_3)
}

func isStore(op cvm.Opcode) bool {
	return op == cvm.COP_ISTORE || op == cvm.COP_PSTORE ||
		(op >= cvm.COP_ISTORE_0 && op <= cvm.COP_ISTORE_3) ||
		(op >= cvm.COP_PSTORE_0 && op <= cvm.COP_PSTORE_3)
}

// operandsFit reports whether the operands of a translatable instruction
// can be encoded as displacements.
func operandsFit(code []byte, pc int, op cvm.Opcode) bool {
	const maxDisp = math.MaxInt32 / 8
	switch {
	case isLoad(op), isStore(op):
		return cvm.ArgLocal(code, pc) < maxDisp
	case op == cvm.COP_CKNULL_N:
		return cvm.ArgLocal(code, pc) < MaxPseudo/2
	}
	_, r := fieldReads[op]
	_, w := fieldWrites[op]
	if r || w || op == cvm.COP_IREAD_THIS || op == cvm.COP_PREAD_THIS || op == cvm.COP_PADD_OFFSET {
		return cvm.ArgLocal(code, pc) <= math.MaxInt32
	}
	return true
}

func (k *block) translateOther(code []byte, pc, next int, op cvm.Opcode) bool {
	g, b := k.g, k.b
	if c, ok := branchConds[op]; ok {
		x, y := k.topTwoWordRegisters()
		g.Compare(b, false, x, y)
		k.pop(2)
		k.closeBranch(c, cvm.ArgBranch(code, pc), next)
		return true
	}
	if a, ok := aluOps[op]; ok {
		x, y := k.topTwoWordRegisters()
		g.ALU(b, a.op, a.wide, x, y)
		k.pop(1)
		return false
	}
	if s, ok := shiftOps[op]; ok {
		x, y := k.topTwoWordRegisters()
		g.Shift(b, s.op, s.wide, x, y)
		k.pop(1)
		return false
	}
	if w, ok := extendOps[op]; ok {
		r := k.topWordRegister()
		g.Extend(b, r, r, w)
		return false
	}
	if w, ok := fieldReads[op]; ok {
		obj := k.topWordRegister()
		k.guardNonNull(pc, obj)
		t := k.wordRegister()
		g.Load(b, t, obj, int32(cvm.ArgLocal(code, pc)), w)
		k.pop(1)
		k.push(t)
		return false
	}
	if w, ok := fieldWrites[op]; ok {
		obj, v := k.topTwoWordRegisters()
		k.guardNonNull(pc, obj)
		g.Store(b, v, obj, int32(cvm.ArgLocal(code, pc)), w)
		k.pop(2)
		k.wroteMemory()
		return false
	}
	if w, ok := elemReads[op]; ok {
		a, i := k.topTwoWordRegisters()
		k.guardNonNull(pc, a)
		t := k.wordRegister()
		k.guardIndex(pc, a, i, t)
		g.LoadIndexed(b, t, a, t, cvm.ArrayDataOffset, w)
		k.pop(2)
		k.push(t)
		return false
	}
	if w, ok := elemWrites[op]; ok {
		a, i, v := k.topThreeWordRegisters()
		k.guardNonNull(pc, a)
		t := k.wordRegister()
		k.guardIndex(pc, a, i, t)
		g.StoreIndexed(b, v, a, t, cvm.ArrayDataOffset, w)
		k.pop(3)
		k.wroteMemory()
		return false
	}

	switch op {
	case cvm.COP_LDNULL, cvm.COP_LDC_I4_M1, cvm.COP_LDC_I4_0, cvm.COP_LDC_I4_1, cvm.COP_LDC_I4_2,
		cvm.COP_LDC_I4_3, cvm.COP_LDC_I4_4, cvm.COP_LDC_I4_5, cvm.COP_LDC_I4_6, cvm.COP_LDC_I4_7,
		cvm.COP_LDC_I4_8, cvm.COP_LDC_I4_S, cvm.COP_LDC_I4, cvm.COP_LDC_I8:
		t := k.wordRegister()
		g.LoadImm(b, t, ldcValue(code, pc, op))
		k.push(t)
	case cvm.COP_DUP:
		r := k.topWordRegister()
		t := k.wordRegister()
		g.Move(b, t, r)
		k.push(t)
	case cvm.COP_POP:
		if k.stack.len() > 0 {
			k.pop(1)
		} else {
			k.delta--
		}
	case cvm.COP_INEG, cvm.COP_LNEG:
		g.Neg(b, op == cvm.COP_LNEG, k.topWordRegister())
	case cvm.COP_INOT, cvm.COP_LNOT:
		g.Not(b, op == cvm.COP_LNOT, k.topWordRegister())
	case cvm.COP_IDIV, cvm.COP_IREM, cvm.COP_LDIV, cvm.COP_LREM:
		wide := op == cvm.COP_LDIV || op == cvm.COP_LREM
		x, y := k.topTwoWordRegisters()
		g.CompareImm(b, wide, y, 0)
		k.guard(pc, CondEQ)
		g.CompareImm(b, wide, y, -1)
		k.guard(pc, CondEQ)
		g.Div(b, op == cvm.COP_IREM || op == cvm.COP_LREM, wide, x, y)
		k.pop(1)
	case cvm.COP_PADD_I4, cvm.COP_PSUB_I4:
		p, i := k.topTwoWordRegisters()
		g.Extend(b, i, i, W32s)
		g.ALU(b, map[bool]ALUOp{true: OpAdd, false: OpSub}[op == cvm.COP_PADD_I4], true, p, i)
		k.pop(1)
	case cvm.COP_PADD_OFFSET:
		r := k.topWordRegister()
		if off := cvm.ArgLocal(code, pc); off != 0 {
			g.AddImm(b, r, int32(off))
		}
	case cvm.COP_IREAD_THIS, cvm.COP_PREAD_THIS:
		this := k.wordRegister()
		g.LoadLocal(b, this, 0)
		if k.thisChecked {
			k.thisHits++
		} else {
			k.guardNonNull(pc, this)
			k.thisChecked = true
		}
		t := k.wordRegister()
		w := W32s
		if op == cvm.COP_PREAD_THIS {
			w = W64
		}
		g.Load(b, t, this, int32(cvm.ArgLocal(code, pc)), w)
		k.push(t)
	case cvm.COP_CKNULL:
		k.guardNonNull(pc, k.topWordRegister())
	case cvm.COP_CKNULL_N:
		k.guardNonNull(pc, k.top(int(cvm.ArgLocal(code, pc))))
	case cvm.COP_ARRAY_LEN:
		a := k.topWordRegister()
		k.guardNonNull(pc, a)
		t := k.wordRegister()
		g.Load(b, t, a, cvm.ArrayLengthOffset, W32u)
		k.pop(1)
		k.push(t)
	case cvm.COP_PREFIX_GET2D:
		k.translateGet2D(pc)
	case cvm.COP_BR:
		k.close(cvm.ArgBranch(code, pc))
		return true
	case cvm.COP_BRTRUE, cvm.COP_BRFALSE, cvm.COP_BRNULL, cvm.COP_BRNONNULL:
		r := k.topWordRegister()
		wide := op == cvm.COP_BRNULL || op == cvm.COP_BRNONNULL
		g.CompareImm(b, wide, r, 0)
		k.pop(1)
		c := CondEQ
		if op == cvm.COP_BRTRUE || op == cvm.COP_BRNONNULL {
			c = CondNE
		}
		k.closeBranch(c, cvm.ArgBranch(code, pc), next)
		return true
	case cvm.COP_BR_PEQ, cvm.COP_BR_PNE:
		x, y := k.topTwoWordRegisters()
		g.Compare(b, true, x, y)
		k.pop(2)
		c := CondEQ
		if op == cvm.COP_BR_PNE {
			c = CondNE
		}
		k.closeBranch(c, cvm.ArgBranch(code, pc), next)
		return true
	default:
		k.fail(fmt.Errorf("translate %s at 0x%x: %w", cvm.OpcodeName(op), pc, cvmerrors.ErrUntranslatable))
	}
	return false
}

// translateGet2D bounds checks both indices of a rectangular array and
// leaves the element address.
func (k *block) translateGet2D(pc int) {
	g, b := k.g, k.b
	a, i, j := k.topThreeWordRegisters()
	k.guardNonNull(pc, a)
	addr := k.wordRegister()
	rel := k.wordRegister()
	t := k.wordRegister()
	g.LoadImm(b, addr, 0)
	for dim, idx := range []Reg{i, j} {
		bound := int32(cvm.Array2DBoundsOffset + dim*cvm.Array2DBoundSize)
		g.Load(b, t, a, bound+cvm.Array2DLowerOffset, W32s)
		g.Move(b, rel, idx)
		g.ALU(b, OpSub, false, rel, t)
		g.Load(b, t, a, bound+cvm.Array2DSizeOffset, W32u)
		g.Compare(b, false, rel, t)
		k.guard(pc, CondGEU)
		g.Extend(b, rel, rel, W32u)
		g.Load(b, t, a, bound+cvm.Array2DMultOffset, W32u)
		g.ALU(b, OpMul, true, rel, t)
		g.ALU(b, OpAdd, true, addr, rel)
	}
	g.Load(b, t, a, cvm.Array2DDataOffset, W64)
	g.ALU(b, OpAdd, true, addr, t)
	k.pop(3)
	k.push(addr)
}
