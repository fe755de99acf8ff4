package bytecode

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// BytecodeVersion is the current container format version.
// Increment when making incompatible changes to the format.
const BytecodeVersion uint16 = 1

// Magic bytes for container files: "IJBC" (Integer JVM ByteCode)
var BytecodeMagic = []byte{'I', 'J', 'B', 'C'}

// ProgramFlags contains container flags.
type ProgramFlags uint16

const (
	// ProgramFlagReturns indicates the code contains ireturn or return.
	ProgramFlagReturns ProgramFlags = 1 << 0
)

// Program is a decoded, immutable unit of bytecode ready for execution.
// The code is decoded once at load time; a malformed buffer is rejected
// before anything runs.
type Program struct {
	// Header
	Version uint16
	Flags   ProgramFlags
	Name    string

	// Code section
	Code         []byte
	Instructions []Instruction

	// MaxLocals is the highest slot referenced by a load or store, plus one.
	MaxLocals int
}

// Load decodes code into a Program. The code slice is copied.
func Load(code []byte) (*Program, error) {
	return LoadNamed("", code)
}

// LoadNamed is Load with a program name for listings and storage.
func LoadNamed(name string, code []byte) (*Program, error) {
	buf := make([]byte, len(code))
	copy(buf, code)

	instrs, err := Decode(buf)
	if err != nil {
		return nil, err
	}

	p := &Program{
		Version:      BytecodeVersion,
		Name:         name,
		Code:         buf,
		Instructions: instrs,
	}
	for _, in := range instrs {
		if slot, ok := in.Slot(); ok && slot+1 > p.MaxLocals {
			p.MaxLocals = slot + 1
		}
		if in.Op.IsReturn() {
			p.Flags |= ProgramFlagReturns
		}
	}
	return p, nil
}

// Len returns the number of instructions.
func (p *Program) Len() int {
	return len(p.Instructions)
}

// Hash returns the hex SHA-256 of the code section.
// Two programs with identical code share a hash regardless of name.
func (p *Program) Hash() string {
	sum := sha256.Sum256(p.Code)
	return hex.EncodeToString(sum[:])
}

// Builder assembles code programmatically.
type Builder struct {
	code []byte
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{code: make([]byte, 0, 64)}
}

// Emit appends a single-byte opcode and returns its offset.
func (b *Builder) Emit(op Opcode) int {
	offset := len(b.code)
	b.code = append(b.code, byte(op))
	return offset
}

// EmitWithOperand appends an opcode with raw operand bytes.
func (b *Builder) EmitWithOperand(op Opcode, operands ...byte) int {
	offset := len(b.code)
	b.code = append(b.code, byte(op))
	b.code = append(b.code, operands...)
	return offset
}

// EmitConst emits the shortest instruction that pushes v.
func (b *Builder) EmitConst(v int32) int {
	switch {
	case v >= -1 && v <= 5:
		return b.Emit(Opcode(int32(OpIconst0) + v))
	case v >= -128 && v <= 127:
		return b.EmitWithOperand(OpBipush, byte(int8(v)))
	case v >= -32768 && v <= 32767:
		return b.EmitWithOperand(OpSipush, byte(v>>8), byte(v))
	}
	panic(fmt.Sprintf("bytecode: constant %d does not fit in sipush", v))
}

// EmitLoad emits iload_n for slots 0-3 and iload otherwise.
func (b *Builder) EmitLoad(slot uint8) int {
	if slot <= 3 {
		return b.Emit(OpIload0 + Opcode(slot))
	}
	return b.EmitWithOperand(OpIload, slot)
}

// EmitStore emits istore_n for slots 0-3 and istore otherwise.
func (b *Builder) EmitStore(slot uint8) int {
	if slot <= 3 {
		return b.Emit(OpIstore0 + Opcode(slot))
	}
	return b.EmitWithOperand(OpIstore, slot)
}

// Bytes returns the code emitted so far.
func (b *Builder) Bytes() []byte {
	return b.code
}

// Program loads the emitted code.
func (b *Builder) Program(name string) (*Program, error) {
	return LoadNamed(name, b.code)
}

// Serialize encodes the program to the container format.
// Format:
//
//	[magic:4] [version:2] [flags:2]
//	[max_locals:2]
//	[name_len:2] [name:...]
//	[code_len:4] [code:...]
func (p *Program) Serialize() ([]byte, error) {
	if len(p.Name) > 0xFFFF {
		return nil, fmt.Errorf("program name too long: %d bytes", len(p.Name))
	}
	buf := make([]byte, 0, 16+len(p.Name)+len(p.Code))

	buf = append(buf, BytecodeMagic...)
	buf = binary.BigEndian.AppendUint16(buf, p.Version)
	buf = binary.BigEndian.AppendUint16(buf, uint16(p.Flags))
	buf = binary.BigEndian.AppendUint16(buf, uint16(p.MaxLocals))

	buf = binary.BigEndian.AppendUint16(buf, uint16(len(p.Name)))
	buf = append(buf, p.Name...)

	buf = binary.BigEndian.AppendUint32(buf, uint32(len(p.Code)))
	buf = append(buf, p.Code...)

	return buf, nil
}

// Deserialize decodes a container and loads its code.
func Deserialize(data []byte) (*Program, error) {
	if len(data) < 10 {
		return nil, fmt.Errorf("bytecode too short: need at least 10 bytes, got %d", len(data))
	}
	if string(data[0:4]) != string(BytecodeMagic) {
		return nil, fmt.Errorf("invalid bytecode magic: expected %q, got %q", BytecodeMagic, data[0:4])
	}

	version := binary.BigEndian.Uint16(data[4:6])
	if version > BytecodeVersion {
		return nil, fmt.Errorf("bytecode version %d is newer than supported version %d", version, BytecodeVersion)
	}
	flags := ProgramFlags(binary.BigEndian.Uint16(data[6:8]))
	maxLocals := int(binary.BigEndian.Uint16(data[8:10]))
	pos := 10

	if pos+2 > len(data) {
		return nil, fmt.Errorf("unexpected end of bytecode reading name length")
	}
	nameLen := int(binary.BigEndian.Uint16(data[pos:]))
	pos += 2
	if pos+nameLen > len(data) {
		return nil, fmt.Errorf("unexpected end of bytecode reading name")
	}
	name := string(data[pos : pos+nameLen])
	pos += nameLen

	if pos+4 > len(data) {
		return nil, fmt.Errorf("unexpected end of bytecode reading code length at pos %d", pos)
	}
	codeLen := int(binary.BigEndian.Uint32(data[pos:]))
	pos += 4
	if codeLen < 0 || pos+codeLen > len(data) {
		return nil, fmt.Errorf("unexpected end of bytecode reading code section: need %d bytes at pos %d", codeLen, pos)
	}

	p, err := LoadNamed(name, data[pos:pos+codeLen])
	if err != nil {
		return nil, err
	}
	if p.MaxLocals != maxLocals {
		return nil, fmt.Errorf("container declares %d locals, code references %d", maxLocals, p.MaxLocals)
	}
	if p.Flags != flags {
		return nil, fmt.Errorf("container declares flags %#04x, code implies %#04x", uint16(flags), uint16(p.Flags))
	}
	p.Version = version
	return p, nil
}
