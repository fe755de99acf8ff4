package bytecode

import (
	"fmt"
	"strings"
)

// Disassemble returns a javap-style listing of raw code. Decoding stops at
// the first malformed instruction, which is reported on the final line.
func Disassemble(code []byte) string {
	var sb strings.Builder
	for _, line := range DisassembleToLines(code) {
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// DisassembleToLines returns the listing as a slice of lines.
func DisassembleToLines(code []byte) []string {
	var lines []string
	d := NewDecoder(code)
	for {
		offset := d.Offset()
		in, err := d.Next()
		if err != nil {
			if de, ok := err.(*DecodeError); ok {
				lines = append(lines, fmt.Sprintf("%04X  <%s>", offset, de.Reason))
			}
			return lines
		}
		lines = append(lines, fmt.Sprintf("%04X  %s", in.Offset, formatInstruction(in)))
	}
}

// formatInstruction pads the mnemonic so operands line up.
func formatInstruction(in Instruction) string {
	if in.HasOperand {
		return fmt.Sprintf("%-10s %d", in.Op, in.Operand)
	}
	return in.Op.String()
}

// Disassemble returns a listing of the program with a header.
func (p *Program) Disassemble() string {
	return p.DisassembleWithName(p.Name)
}

// DisassembleWithName returns a listing with a name header.
func (p *Program) DisassembleWithName(name string) string {
	var sb strings.Builder

	if name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", name))
	}
	sb.WriteString(fmt.Sprintf("; ijvm bytecode v%d\n", p.Version))
	sb.WriteString(fmt.Sprintf("; Flags: 0x%04X", p.Flags))
	if p.Flags&ProgramFlagReturns != 0 {
		sb.WriteString(" [RETURNS]")
	}
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("; Locals: %d slots\n", p.MaxLocals))
	sb.WriteString(fmt.Sprintf("; Code: %d bytes, %d instructions\n\n", len(p.Code), len(p.Instructions)))

	for _, in := range p.Instructions {
		sb.WriteString(fmt.Sprintf("%04X  %s\n", in.Offset, formatInstruction(in)))
	}
	return sb.String()
}
