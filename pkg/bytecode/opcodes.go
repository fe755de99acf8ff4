package bytecode

import (
	"fmt"
	"sort"
	"strings"
)

// Opcode represents a bytecode instruction.
// Values follow the JVM encoding so class-file code arrays can be fed in
// directly as long as they stay within the supported integer subset.
type Opcode byte

const (
	// ========================================================================
	// Constants (0x00-0x11)
	// ========================================================================

	OpNop      Opcode = 0x00 // No operation
	OpIconstM1 Opcode = 0x02 // Push -1
	OpIconst0  Opcode = 0x03 // Push 0
	OpIconst1  Opcode = 0x04 // Push 1
	OpIconst2  Opcode = 0x05 // Push 2
	OpIconst3  Opcode = 0x06 // Push 3
	OpIconst4  Opcode = 0x07 // Push 4
	OpIconst5  Opcode = 0x08 // Push 5
	OpBipush   Opcode = 0x10 // Push byte: OpBipush <value:s8>
	OpSipush   Opcode = 0x11 // Push short: OpSipush <value:s16>

	// ========================================================================
	// Loads (0x15-0x1D)
	// ========================================================================

	OpIload  Opcode = 0x15 // Push local: OpIload <slot:u8>
	OpIload0 Opcode = 0x1A // Push local 0
	OpIload1 Opcode = 0x1B // Push local 1
	OpIload2 Opcode = 0x1C // Push local 2
	OpIload3 Opcode = 0x1D // Push local 3

	// ========================================================================
	// Stores (0x36-0x3E)
	// ========================================================================

	OpIstore  Opcode = 0x36 // Pop into local: OpIstore <slot:u8>
	OpIstore0 Opcode = 0x3B // Pop into local 0
	OpIstore1 Opcode = 0x3C // Pop into local 1
	OpIstore2 Opcode = 0x3D // Pop into local 2
	OpIstore3 Opcode = 0x3E // Pop into local 3

	// ========================================================================
	// Stack manipulation (0x57-0x59)
	// ========================================================================

	OpPop Opcode = 0x57 // Discard top of stack
	OpDup Opcode = 0x59 // Duplicate top of stack

	// ========================================================================
	// Arithmetic (0x60-0x80)
	// ========================================================================

	OpIadd Opcode = 0x60 // Pop two, push a + b
	OpIsub Opcode = 0x64 // Pop two, push a - b (b is TOS)
	OpImul Opcode = 0x68 // Pop two, push a * b
	OpIdiv Opcode = 0x6C // Pop two, push a / b truncated toward zero
	OpIor  Opcode = 0x80 // Pop two, push a | b

	// ========================================================================
	// Return (0xAC-0xB1)
	// ========================================================================

	OpIreturn Opcode = 0xAC // Pop and return an int, halting execution
	OpReturn  Opcode = 0xB1 // Halt execution
)

// OperandKind describes how the immediate operand of an opcode is encoded.
type OperandKind uint8

const (
	OperandNone  OperandKind = iota // No immediate operand
	OperandByte                     // Signed 8-bit literal
	OperandShort                    // Signed 16-bit big-endian literal
	OperandSlot                     // Unsigned 8-bit local slot index
)

// OpcodeInfo provides metadata about each opcode for debugging and validation.
type OpcodeInfo struct {
	Name       string      // javap mnemonic
	StackPop   int         // How many values popped from stack
	StackPush  int         // How many values pushed to stack
	OperandLen int         // Number of operand bytes following the opcode
	Operand    OperandKind // How the operand bytes are interpreted
}

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	// Constants
	OpNop:      {"nop", 0, 0, 0, OperandNone},
	OpIconstM1: {"iconst_m1", 0, 1, 0, OperandNone},
	OpIconst0:  {"iconst_0", 0, 1, 0, OperandNone},
	OpIconst1:  {"iconst_1", 0, 1, 0, OperandNone},
	OpIconst2:  {"iconst_2", 0, 1, 0, OperandNone},
	OpIconst3:  {"iconst_3", 0, 1, 0, OperandNone},
	OpIconst4:  {"iconst_4", 0, 1, 0, OperandNone},
	OpIconst5:  {"iconst_5", 0, 1, 0, OperandNone},
	OpBipush:   {"bipush", 0, 1, 1, OperandByte},
	OpSipush:   {"sipush", 0, 1, 2, OperandShort},

	// Loads
	OpIload:  {"iload", 0, 1, 1, OperandSlot},
	OpIload0: {"iload_0", 0, 1, 0, OperandNone},
	OpIload1: {"iload_1", 0, 1, 0, OperandNone},
	OpIload2: {"iload_2", 0, 1, 0, OperandNone},
	OpIload3: {"iload_3", 0, 1, 0, OperandNone},

	// Stores
	OpIstore:  {"istore", 1, 0, 1, OperandSlot},
	OpIstore0: {"istore_0", 1, 0, 0, OperandNone},
	OpIstore1: {"istore_1", 1, 0, 0, OperandNone},
	OpIstore2: {"istore_2", 1, 0, 0, OperandNone},
	OpIstore3: {"istore_3", 1, 0, 0, OperandNone},

	// Stack manipulation
	OpPop: {"pop", 1, 0, 0, OperandNone},
	OpDup: {"dup", 1, 2, 0, OperandNone},

	// Arithmetic
	OpIadd: {"iadd", 2, 1, 0, OperandNone},
	OpIsub: {"isub", 2, 1, 0, OperandNone},
	OpImul: {"imul", 2, 1, 0, OperandNone},
	OpIdiv: {"idiv", 2, 1, 0, OperandNone},
	OpIor:  {"ior", 2, 1, 0, OperandNone},

	// Return
	OpIreturn: {"ireturn", 1, 0, 0, OperandNone},
	OpReturn:  {"return", 0, 0, 0, OperandNone},
}

// mnemonicTable is the reverse of opcodeInfoTable, used by the assembler.
var mnemonicTable = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeInfoTable))
	for op, info := range opcodeInfoTable {
		m[info.Name] = op
	}
	return m
}()

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// LookupMnemonic returns the opcode for a javap mnemonic, ignoring case.
func LookupMnemonic(name string) (Opcode, bool) {
	op, ok := mnemonicTable[strings.ToLower(name)]
	return op, ok
}

// IsValid reports whether the opcode belongs to the supported subset.
func (op Opcode) IsValid() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// String returns the mnemonic of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// OperandLen returns the number of operand bytes for this opcode.
func (op Opcode) OperandLen() int {
	return GetOpcodeInfo(op).OperandLen
}

// InstructionLen returns the total length of an instruction (1 + operand bytes).
func (op Opcode) InstructionLen() int {
	return 1 + op.OperandLen()
}

// IsConstPush returns true for opcodes that push a literal.
func (op Opcode) IsConstPush() bool {
	return (op >= OpIconstM1 && op <= OpIconst5) || op == OpBipush || op == OpSipush
}

// IsLoad returns true for the iload family.
func (op Opcode) IsLoad() bool {
	return op == OpIload || (op >= OpIload0 && op <= OpIload3)
}

// IsStore returns true for the istore family.
func (op Opcode) IsStore() bool {
	return op == OpIstore || (op >= OpIstore0 && op <= OpIstore3)
}

// IsArithmetic returns true for binary integer operations.
func (op Opcode) IsArithmetic() bool {
	switch op {
	case OpIadd, OpIsub, OpImul, OpIdiv, OpIor:
		return true
	}
	return false
}

// IsReturn returns true if this opcode terminates execution.
func (op Opcode) IsReturn() bool {
	return op == OpIreturn || op == OpReturn
}

// AllOpcodes returns all defined opcodes in ascending byte order.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	sort.Slice(opcodes, func(i, j int) bool { return opcodes[i] < opcodes[j] })
	return opcodes
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return len(opcodeInfoTable)
}
