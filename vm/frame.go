package vm

import (
	"fmt"

	"github.com/chazu/ijvm/pkg/bytecode"
)

// State is the lifecycle state of a Frame.
type State int

const (
	StateRunning State = iota
	StateHalted
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateHalted:
		return "halted"
	case StateFaulted:
		return "faulted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Frame is the execution context of one run: the instruction pointer,
// operand stack and local slots. A Frame is owned by a single goroutine;
// independent runs use independent frames.
type Frame struct {
	program *bytecode.Program

	IP     int // Index into program.Instructions
	Stack  *OperandStack
	Locals *LocalSlots

	state     State
	err       error
	steps     int
	maxDepth  int
	returned  int32
	hasReturn bool
}

// NewFrame creates a running frame for p with a stack of the given capacity.
func NewFrame(p *bytecode.Program, maxStack int) *Frame {
	f := &Frame{
		program: p,
		Stack:   NewOperandStack(maxStack),
		Locals:  NewLocalSlots(p.MaxLocals),
	}
	if len(p.Instructions) == 0 {
		f.state = StateHalted
	}
	return f
}

// Program returns the program being executed.
func (f *Frame) Program() *bytecode.Program {
	return f.program
}

// State returns the current lifecycle state.
func (f *Frame) State() State {
	return f.state
}

// Err returns the error that faulted the frame, if any.
func (f *Frame) Err() error {
	return f.err
}

// Steps returns the number of instructions executed so far.
func (f *Frame) Steps() int {
	return f.steps
}

// Current returns the instruction at IP. The second result is false once
// the pointer has passed the last instruction.
func (f *Frame) Current() (bytecode.Instruction, bool) {
	if f.IP < 0 || f.IP >= len(f.program.Instructions) {
		return bytecode.Instruction{}, false
	}
	return f.program.Instructions[f.IP], true
}

// Result captures the observable outcome of the frame.
func (f *Frame) Result() *Result {
	return &Result{
		Locals:    f.Locals.Map(),
		Slots:     f.Locals.Snapshot(),
		Returned:  f.returned,
		HasReturn: f.hasReturn,
		Steps:     f.steps,
		MaxDepth:  f.maxDepth,
		State:     f.state,
	}
}

// Result is the outcome of a run.
type Result struct {
	Locals    map[int]int32 // Final slot values keyed by slot index
	Slots     []int32       // Final slot values in index order
	Returned  int32         // Value popped by ireturn
	HasReturn bool          // True if the run ended with ireturn
	Steps     int           // Instructions executed
	MaxDepth  int           // Deepest operand stack seen
	State     State
}
