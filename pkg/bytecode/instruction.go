package bytecode

import "fmt"

// Instruction is a single decoded instruction. It is a value type and is
// never mutated after decoding.
type Instruction struct {
	Op         Opcode
	Operand    int32 // Sign-extended literal or slot index; zero when absent
	HasOperand bool
	Offset     int // Byte offset of the opcode in the code section
}

// Len returns the encoded length of the instruction in bytes.
func (in Instruction) Len() int {
	return in.Op.InstructionLen()
}

// Slot returns the local slot addressed by a load or store.
// The second result is false for any other opcode.
func (in Instruction) Slot() (int, bool) {
	switch in.Op {
	case OpIload, OpIstore:
		return int(in.Operand), true
	case OpIload0, OpIload1, OpIload2, OpIload3:
		return int(in.Op - OpIload0), true
	case OpIstore0, OpIstore1, OpIstore2, OpIstore3:
		return int(in.Op - OpIstore0), true
	}
	return 0, false
}

// Literal returns the value pushed by a constant-push instruction.
// The second result is false for any other opcode.
func (in Instruction) Literal() (int32, bool) {
	switch {
	case in.Op >= OpIconstM1 && in.Op <= OpIconst5:
		return int32(in.Op) - int32(OpIconst0), true
	case in.Op == OpBipush, in.Op == OpSipush:
		return in.Operand, true
	}
	return 0, false
}

// String returns the javap-style form, e.g. "bipush 100".
func (in Instruction) String() string {
	if in.HasOperand {
		return fmt.Sprintf("%s %d", in.Op, in.Operand)
	}
	return in.Op.String()
}

// Encode appends the encoded instruction to buf.
func (in Instruction) Encode(buf []byte) []byte {
	buf = append(buf, byte(in.Op))
	switch GetOpcodeInfo(in.Op).Operand {
	case OperandByte, OperandSlot:
		buf = append(buf, byte(in.Operand))
	case OperandShort:
		buf = append(buf, byte(in.Operand>>8), byte(in.Operand))
	}
	return buf
}
