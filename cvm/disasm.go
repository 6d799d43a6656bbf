package cvm

import (
	"fmt"
	"strings"
)

// Instruction is one decoded CVM instruction.
type Instruction struct {
	PC     int
	Op     Opcode
	Length int
	Wide   bool // COP_WIDE form
	Long   bool // COP_BR_LONG form
	Args   [3]int64
	NArgs  int
	// Target is the absolute branch target for branch shaped instructions.
	Target  int
	Targets []int // COP_SWITCH
}

// Decode decodes the instruction at pc. It returns an error if the encoding
// runs past the end of code or names an undefined opcode.
func Decode(code []byte, pc int, l Layout) (Instruction, error) {
	if pc < 0 || pc >= len(code) {
		return Instruction{}, fmt.Errorf("decode at 0x%04x: pc out of range", pc)
	}
	op := OpcodeAt(code, pc)
	if pc+1 >= len(code) && (Opcode(code[pc]) == COP_PREFIX || Opcode(code[pc]) == COP_WIDE || Opcode(code[pc]) == COP_BR_LONG) {
		return Instruction{}, fmt.Errorf("decode at 0x%04x: truncated escape", pc)
	}
	if !IsDefined(op) {
		return Instruction{}, fmt.Errorf("decode at 0x%04x: undefined opcode %s", pc, op)
	}
	if op == COP_SWITCH && pc+CVM_LEN_WORD > len(code) {
		return Instruction{}, fmt.Errorf("decode at 0x%04x: truncated switch", pc)
	}
	ins := Instruction{PC: pc, Op: op, Length: InstructionLength(code, pc, l)}
	if pc+ins.Length > len(code) {
		return Instruction{}, fmt.Errorf("decode at 0x%04x: %s needs %d bytes", pc, op, ins.Length)
	}

	switch Opcode(code[pc]) {
	case COP_WIDE:
		ins.Wide = true
		if OpShape(op) == ShapeByte2 {
			a, b := ArgWideLarge(code, pc)
			ins.set(int64(a), int64(b))
		} else {
			ins.set(int64(ArgWideSmall(code, pc)))
		}
		return ins, nil
	case COP_BR_LONG:
		ins.Long = true
		ins.Target = ArgBranch(code, pc)
		ins.set(int64(ins.Target - pc))
		return ins, nil
	}

	at := pc
	if op.IsPrefixed() {
		at = pc + 1
	}
	switch OpShape(op) {
	case ShapeNone:
		if n, ok := LocalIndex(op); ok {
			ins.set(int64(n))
		}
	case ShapeByte:
		ins.set(int64(ArgByte(code, at)))
	case ShapeSByte:
		ins.set(int64(ArgSByte(code, at)))
	case ShapeByte2:
		a, b := ArgByte2(code, at)
		ins.set(int64(a), int64(b))
	case ShapeWord, ShapeFloat:
		ins.set(int64(ArgInt(code, at)))
		if op == COP_PREFIX_CALL_FILTER {
			ins.Target = ArgPBranch(code, pc, 2)
		}
	case ShapeWord2:
		a, b := ArgWord2(code, at)
		ins.set(int64(a), int64(b))
	case ShapeWord2Ptr:
		a, b, p := ArgWord2Ptr(code, at, l)
		ins.set(int64(a), int64(b), int64(p))
	case ShapeLong, ShapeDouble:
		ins.set(ArgLong(code, at))
	case ShapePtr:
		ins.set(int64(ArgPtr(code, at, l)))
	case ShapePtrWord:
		p, w := ArgPtrWord(code, at, l)
		ins.set(int64(p), int64(int32(w)))
		if op == COP_PREFIX_CATCH_MATCH {
			ins.Target = ArgPBranch(code, pc, 2+l.PtrSize)
		}
	case ShapePtrByte:
		p, b := ArgPtrByte(code, at, l)
		ins.set(int64(p), int64(b))
	case ShapeBranch:
		ins.Target = ArgBranch(code, pc)
		ins.set(int64(ins.Target - pc))
	case ShapeSwitch:
		n := ArgSwitchCount(code, pc)
		ins.set(int64(n))
		ins.Targets = make([]int, n)
		for i := uint32(0); i < n; i++ {
			ins.Targets[i] = ArgSwitchTarget(code, pc, i)
		}
	}
	return ins, nil
}

func (ins *Instruction) set(args ...int64) {
	ins.NArgs = copy(ins.Args[:], args)
}

// Operands formats the operand fields for disassembly.
func (ins Instruction) Operands() string {
	switch {
	case ins.Op == COP_SWITCH:
		parts := make([]string, len(ins.Targets))
		for i, t := range ins.Targets {
			parts[i] = fmt.Sprintf("0x%04x", t)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case OpShape(ins.Op) == ShapeBranch:
		return fmt.Sprintf("0x%04x", ins.Target)
	case ins.Op == COP_PREFIX_CALL_FILTER:
		return fmt.Sprintf("0x%04x", ins.Target)
	case ins.Op == COP_PREFIX_CATCH_MATCH:
		return fmt.Sprintf("0x%x, 0x%04x", ins.Args[0], ins.Target)
	case OpShape(ins.Op) == ShapeNone:
		return ""
	}
	if _, ok := LocalIndex(ins.Op); ok {
		return ""
	}
	parts := make([]string, ins.NArgs)
	for i := 0; i < ins.NArgs; i++ {
		switch OpShape(ins.Op) {
		case ShapePtr, ShapeWord2Ptr, ShapePtrWord, ShapePtrByte:
			if i == 0 || OpShape(ins.Op) == ShapeWord2Ptr && i == 2 {
				parts[i] = fmt.Sprintf("0x%x", ins.Args[i])
				continue
			}
		}
		parts[i] = fmt.Sprintf("%d", ins.Args[i])
	}
	return strings.Join(parts, ", ")
}

func (ins Instruction) String() string {
	name := ins.Op.String()
	if ins.Wide {
		name = "wide." + name
	}
	if ops := ins.Operands(); ops != "" {
		return name + " " + ops
	}
	return name
}

// Disassemble renders code one instruction per line. Undecodable bytes are
// emitted as db and skipped.
func Disassemble(code []byte, l Layout) string {
	var sb strings.Builder
	for pc := 0; pc < len(code); {
		ins, err := Decode(code, pc, l)
		if err != nil {
			sb.WriteString(fmt.Sprintf("0x%04x: db 0x%02x\n", pc, code[pc]))
			pc++
			continue
		}
		var hexBytes []string
		for i := 0; i < ins.Length && i < 6; i++ {
			hexBytes = append(hexBytes, fmt.Sprintf("%02x", code[pc+i]))
		}
		sb.WriteString(fmt.Sprintf("0x%04x: %-18s %s\n", pc, strings.Join(hexBytes, " "), ins.String()))
		pc += ins.Length
	}
	return sb.String()
}

// Walk calls fn for every instruction in code[start:end], stopping at the
// first decode error or when fn returns false.
func Walk(code []byte, start, end int, l Layout, fn func(Instruction) bool) error {
	for pc := start; pc < end; {
		ins, err := Decode(code, pc, l)
		if err != nil {
			return err
		}
		if !fn(ins) {
			return nil
		}
		pc += ins.Length
	}
	return nil
}
