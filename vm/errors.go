package vm

import (
	"errors"
	"fmt"

	"github.com/chazu/ijvm/pkg/bytecode"
)

// Execution-time failures. Each aborts the run; ExecError wraps them with
// the location and machine state at the point of failure.
var (
	ErrStackUnderflow = errors.New("stack underflow")
	ErrStackOverflow  = errors.New("stack overflow")
	ErrInvalidSlot    = errors.New("invalid local slot")
	ErrDivisionByZero = errors.New("division by zero")
)

// ExecError reports a failed instruction.
type ExecError struct {
	Err    error           // One of the sentinel errors above, or a context error
	IP     int             // Index of the failing instruction
	Offset int             // Byte offset of the failing instruction
	Opcode bytecode.Opcode // Opcode of the failing instruction
	Instr  bytecode.Instruction

	// Machine state at the point of failure.
	Stack  []int32
	Locals []int32
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%v at ip=%d (offset %04X, %s): stack=%v locals=%v",
		e.Err, e.IP, e.Offset, e.Instr, e.Stack, e.Locals)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// IsExecError checks if an error is an ExecError.
func IsExecError(err error) (*ExecError, bool) {
	var ee *ExecError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}
