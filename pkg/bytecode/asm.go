package bytecode

import (
	"fmt"
	"strconv"
	"strings"
)

// AsmError is a single assembler diagnostic. Line and Column are 1-based;
// EndColumn is exclusive.
type AsmError struct {
	Line      int
	Column    int
	EndColumn int
	Msg       string
}

func (e *AsmError) Error() string {
	return fmt.Sprintf("line %d:%d: %s", e.Line, e.Column, e.Msg)
}

// AsmErrors collects every diagnostic from one Assemble call.
type AsmErrors []*AsmError

func (l AsmErrors) Error() string {
	switch len(l) {
	case 0:
		return "no errors"
	case 1:
		return l[0].Error()
	}
	return fmt.Sprintf("%s (and %d more errors)", l[0].Error(), len(l)-1)
}

// Assemble translates assembly text into code. Each non-blank line holds one
// instruction: a javap mnemonic optionally followed by a decimal or 0x-hex
// operand. Text after ';', '//' or '#' is a comment. All lines are checked
// so the returned AsmErrors lists every problem, not just the first.
func Assemble(src string) ([]byte, error) {
	var (
		code []byte
		errs AsmErrors
	)

	for i, raw := range strings.Split(src, "\n") {
		lineNo := i + 1
		line := stripComment(strings.TrimRight(raw, "\r"))
		fields, cols := splitFields(line)
		if len(fields) == 0 {
			continue
		}

		mnemonic := fields[0]
		op, ok := LookupMnemonic(mnemonic)
		if !ok {
			errs = append(errs, &AsmError{lineNo, cols[0] + 1, cols[0] + 1 + len(mnemonic), fmt.Sprintf("unknown mnemonic %q", mnemonic)})
			continue
		}

		info := GetOpcodeInfo(op)
		wantOperand := info.Operand != OperandNone
		switch {
		case wantOperand && len(fields) < 2:
			errs = append(errs, &AsmError{lineNo, cols[0] + 1, cols[0] + 1 + len(mnemonic), fmt.Sprintf("%s requires an operand", info.Name)})
			continue
		case !wantOperand && len(fields) > 1:
			errs = append(errs, &AsmError{lineNo, cols[1] + 1, cols[1] + 1 + len(fields[1]), fmt.Sprintf("%s takes no operand", info.Name)})
			continue
		case len(fields) > 2:
			errs = append(errs, &AsmError{lineNo, cols[2] + 1, cols[2] + 1 + len(fields[2]), "unexpected trailing text"})
			continue
		}

		in := Instruction{Op: op}
		if wantOperand {
			v, err := parseOperand(fields[1], info.Operand)
			if err != nil {
				errs = append(errs, &AsmError{lineNo, cols[1] + 1, cols[1] + 1 + len(fields[1]), err.Error()})
				continue
			}
			in.Operand = v
			in.HasOperand = true
		}
		code = in.Encode(code)
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return code, nil
}

// AssembleProgram assembles src and loads the result.
func AssembleProgram(name, src string) (*Program, error) {
	code, err := Assemble(src)
	if err != nil {
		return nil, err
	}
	return LoadNamed(name, code)
}

func stripComment(line string) string {
	for _, marker := range []string{";", "//", "#"} {
		if idx := strings.Index(line, marker); idx >= 0 {
			line = line[:idx]
		}
	}
	return line
}

// splitFields splits on whitespace and commas, also returning the 0-based
// byte column of each field.
func splitFields(line string) ([]string, []int) {
	var (
		fields []string
		cols   []int
		start  = -1
	)
	isSep := func(c byte) bool { return c == ' ' || c == '\t' || c == ',' }
	for i := 0; i <= len(line); i++ {
		if i == len(line) || isSep(line[i]) {
			if start >= 0 {
				fields = append(fields, line[start:i])
				cols = append(cols, start)
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	return fields, cols
}

func parseOperand(text string, kind OperandKind) (int32, error) {
	v, err := strconv.ParseInt(text, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid operand %q", text)
	}

	var lo, hi int64
	switch kind {
	case OperandByte:
		lo, hi = -128, 127
	case OperandShort:
		lo, hi = -32768, 32767
	case OperandSlot:
		lo, hi = 0, 255
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("operand %d out of range [%d, %d]", v, lo, hi)
	}
	return int32(v), nil
}
