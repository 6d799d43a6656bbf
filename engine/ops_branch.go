package engine

import "github.com/colorfulnotion/cvm/cvm"

func branch1(taken func(v uint64) bool) execFunc {
	return func(t *Thread, pc int) int {
		if taken(t.pop()) {
			return cvm.ArgBranch(t.code, pc)
		}
		return pc + cvm.CVM_LEN_BRANCH
	}
}

func branch2(taken func(a, b uint64) bool) execFunc {
	return func(t *Thread, pc int) int {
		b := t.pop()
		if taken(t.pop(), b) {
			return cvm.ArgBranch(t.code, pc)
		}
		return pc + cvm.CVM_LEN_BRANCH
	}
}

func branchOps() map[cvm.Opcode]execFunc {
	return map[cvm.Opcode]execFunc{
		cvm.COP_BR: func(t *Thread, pc int) int {
			return cvm.ArgBranch(t.code, pc)
		},
		cvm.COP_BEQ:       branch2(func(a, b uint64) bool { return int32(a) == int32(b) }),
		cvm.COP_BNE:       branch2(func(a, b uint64) bool { return int32(a) != int32(b) }),
		cvm.COP_BLT:       branch2(func(a, b uint64) bool { return int32(a) < int32(b) }),
		cvm.COP_BLT_UN:    branch2(func(a, b uint64) bool { return uint32(a) < uint32(b) }),
		cvm.COP_BLE:       branch2(func(a, b uint64) bool { return int32(a) <= int32(b) }),
		cvm.COP_BLE_UN:    branch2(func(a, b uint64) bool { return uint32(a) <= uint32(b) }),
		cvm.COP_BGT:       branch2(func(a, b uint64) bool { return int32(a) > int32(b) }),
		cvm.COP_BGT_UN:    branch2(func(a, b uint64) bool { return uint32(a) > uint32(b) }),
		cvm.COP_BGE:       branch2(func(a, b uint64) bool { return int32(a) >= int32(b) }),
		cvm.COP_BGE_UN:    branch2(func(a, b uint64) bool { return uint32(a) >= uint32(b) }),
		cvm.COP_BR_PEQ:    branch2(func(a, b uint64) bool { return a == b }),
		cvm.COP_BR_PNE:    branch2(func(a, b uint64) bool { return a != b }),
		cvm.COP_BRTRUE:    branch1(func(v uint64) bool { return uint32(v) != 0 }),
		cvm.COP_BRFALSE:   branch1(func(v uint64) bool { return uint32(v) == 0 }),
		cvm.COP_BRNULL:    branch1(func(v uint64) bool { return v == 0 }),
		cvm.COP_BRNONNULL: branch1(func(v uint64) bool { return v != 0 }),
		cvm.COP_JSR: func(t *Thread, pc int) int {
			t.push(uint64(pc + cvm.CVM_LEN_BRANCH))
			return cvm.ArgBranch(t.code, pc)
		},
		cvm.COP_RET_JSR: func(t *Thread, pc int) int {
			return int(t.pop())
		},
		cvm.COP_SWITCH: func(t *Thread, pc int) int {
			n := cvm.ArgSwitchCount(t.code, pc)
			if i := uint32(t.pop()); i < n {
				return cvm.ArgSwitchTarget(t.code, pc, i)
			}
			return pc + cvm.CVM_LEN_WORD + 4*int(n)
		},
	}
}
