package bytecode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"iter"
)

// ErrMalformedBytecode is the sentinel behind every decode failure.
var ErrMalformedBytecode = errors.New("malformed bytecode")

// DecodeError describes where and why decoding stopped.
type DecodeError struct {
	Offset int    // Byte offset of the offending opcode
	Opcode Opcode // Opcode being decoded
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed bytecode at offset %04X (opcode 0x%02X): %s", e.Offset, byte(e.Opcode), e.Reason)
}

// Is lets errors.Is match ErrMalformedBytecode.
func (e *DecodeError) Is(target error) bool {
	return target == ErrMalformedBytecode
}

// Decoder reads instructions from a code buffer one at a time.
// A Decoder cannot be rewound; once it returns an error every later
// call returns the same error.
type Decoder struct {
	code []byte
	pos  int
	err  error
}

// NewDecoder creates a decoder over code. The slice is not copied.
func NewDecoder(code []byte) *Decoder {
	return &Decoder{code: code}
}

// Offset returns the byte offset of the next instruction.
func (d *Decoder) Offset() int {
	return d.pos
}

// Next decodes the next instruction. It returns io.EOF once the buffer is
// exhausted and a *DecodeError if the buffer is malformed.
func (d *Decoder) Next() (Instruction, error) {
	if d.err != nil {
		return Instruction{}, d.err
	}
	if d.pos >= len(d.code) {
		d.err = io.EOF
		return Instruction{}, d.err
	}

	start := d.pos
	op := Opcode(d.code[start])
	info, ok := opcodeInfoTable[op]
	if !ok {
		d.err = &DecodeError{Offset: start, Opcode: op, Reason: "unrecognized opcode"}
		return Instruction{}, d.err
	}
	if start+1+info.OperandLen > len(d.code) {
		d.err = &DecodeError{
			Offset: start,
			Opcode: op,
			Reason: fmt.Sprintf("%s needs %d operand byte(s), %d left", info.Name, info.OperandLen, len(d.code)-start-1),
		}
		return Instruction{}, d.err
	}

	in := Instruction{Op: op, Offset: start}
	operand := d.code[start+1 : start+1+info.OperandLen]
	switch info.Operand {
	case OperandByte:
		in.Operand = int32(int8(operand[0]))
		in.HasOperand = true
	case OperandShort:
		in.Operand = int32(int16(binary.BigEndian.Uint16(operand)))
		in.HasOperand = true
	case OperandSlot:
		in.Operand = int32(operand[0])
		in.HasOperand = true
	}

	d.pos = start + 1 + info.OperandLen
	return in, nil
}

// Instructions returns a single-use iterator over the instructions in code.
// Iteration stops after the first error, which is yielded with a zero
// Instruction. A clean end of buffer yields no error.
func Instructions(code []byte) iter.Seq2[Instruction, error] {
	d := NewDecoder(code)
	return func(yield func(Instruction, error) bool) {
		for {
			in, err := d.Next()
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(Instruction{}, err)
				return
			}
			if !yield(in, nil) {
				return
			}
		}
	}
}

// Decode decodes the whole buffer.
func Decode(code []byte) ([]Instruction, error) {
	var out []Instruction
	for in, err := range Instructions(code) {
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, nil
}
