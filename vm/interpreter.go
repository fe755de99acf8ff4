package vm

import (
	"context"

	"github.com/tliron/commonlog"

	"github.com/chazu/ijvm/pkg/bytecode"
)

// Interpreter executes programs. It holds only configuration and shared
// instrumentation, so one Interpreter can drive many frames concurrently.
type Interpreter struct {
	maxStack int
	tracer   Tracer
	profiler *Profiler
	log      commonlog.Logger
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithMaxStack sets the operand stack capacity of every frame.
func WithMaxStack(n int) Option {
	return func(it *Interpreter) { it.maxStack = n }
}

// WithTracer installs a tracer called after every successful step.
func WithTracer(t Tracer) Option {
	return func(it *Interpreter) { it.tracer = t }
}

// WithProfiler installs a profiler shared by every run.
func WithProfiler(p *Profiler) Option {
	return func(it *Interpreter) { it.profiler = p }
}

// WithLogger replaces the default "ijvm.vm" logger.
func WithLogger(l commonlog.Logger) Option {
	return func(it *Interpreter) { it.log = l }
}

// NewInterpreter creates an interpreter.
func NewInterpreter(opts ...Option) *Interpreter {
	it := &Interpreter{
		maxStack: DefaultMaxStack,
		log:      commonlog.GetLogger("ijvm.vm"),
	}
	for _, opt := range opts {
		opt(it)
	}
	if it.maxStack <= 0 {
		it.maxStack = DefaultMaxStack
	}
	return it
}

// MaxStack returns the configured stack capacity.
func (it *Interpreter) MaxStack() int {
	return it.maxStack
}

// Profiler returns the installed profiler, or nil.
func (it *Interpreter) Profiler() *Profiler {
	return it.profiler
}

// NewFrame creates a fresh execution context for p.
func (it *Interpreter) NewFrame(p *bytecode.Program) *Frame {
	return NewFrame(p, it.maxStack)
}

// Run executes p to completion. On failure the returned Result still
// describes the machine at the fault and the error is an *ExecError.
func (it *Interpreter) Run(p *bytecode.Program) (*Result, error) {
	return it.RunContext(context.Background(), p)
}

// RunContext is Run with cancellation checked between instructions.
func (it *Interpreter) RunContext(ctx context.Context, p *bytecode.Program) (*Result, error) {
	f := it.NewFrame(p)
	it.log.Debugf("run %q: %d instructions, %d locals", p.Name, len(p.Instructions), p.MaxLocals)

	for f.state == StateRunning {
		if err := ctx.Err(); err != nil {
			it.fault(f, err)
			break
		}
		it.Step(f)
	}

	if it.profiler != nil {
		it.profiler.RecordRun(f.err)
	}
	if f.err != nil {
		it.log.Debugf("run %q faulted: %s", p.Name, f.err)
		return f.Result(), f.err
	}
	it.log.Debugf("run %q halted after %d steps", p.Name, f.steps)
	return f.Result(), nil
}

// Step executes the instruction at f.IP and advances the pointer. It is a
// no-op on a frame that is no longer running, returning the fault if any.
func (it *Interpreter) Step(f *Frame) error {
	if f.state != StateRunning {
		return f.err
	}

	in, ok := f.Current()
	if !ok {
		f.state = StateHalted
		return nil
	}

	if err := it.execute(f, in); err != nil {
		return it.fault(f, err)
	}

	f.steps++
	if d := f.Stack.Depth(); d > f.maxDepth {
		f.maxDepth = d
	}
	if it.profiler != nil {
		it.profiler.Record(in.Op)
	}
	if it.tracer != nil {
		it.tracer.Step(StepEvent{
			IP:         f.IP,
			Offset:     in.Offset,
			Opcode:     in.Op,
			Mnemonic:   in.Op.String(),
			Operand:    in.Operand,
			HasOperand: in.HasOperand,
			Stack:      f.Stack.Snapshot(),
		})
	}

	f.IP++
	if in.Op.IsReturn() || f.IP >= len(f.program.Instructions) {
		f.state = StateHalted
	}
	return nil
}

func (it *Interpreter) fault(f *Frame, err error) error {
	in, _ := f.Current()
	ee := &ExecError{
		Err:    err,
		IP:     f.IP,
		Offset: in.Offset,
		Opcode: in.Op,
		Instr:  in,
		Stack:  f.Stack.Snapshot(),
		Locals: f.Locals.Snapshot(),
	}
	f.state = StateFaulted
	f.err = ee
	return ee
}

// execute dispatches a single instruction against the frame. Every fault
// is detected before the instruction mutates the frame, so a failed step
// leaves stack and locals as they were when it started.
func (it *Interpreter) execute(f *Frame, in bytecode.Instruction) error {
	if f.Stack.Depth() < bytecode.GetOpcodeInfo(in.Op).StackPop {
		return ErrStackUnderflow
	}

	switch in.Op {
	// ============ Constants ============
	case bytecode.OpNop:

	case bytecode.OpIconstM1, bytecode.OpIconst0, bytecode.OpIconst1, bytecode.OpIconst2,
		bytecode.OpIconst3, bytecode.OpIconst4, bytecode.OpIconst5,
		bytecode.OpBipush, bytecode.OpSipush:
		v, _ := in.Literal()
		return f.Stack.Push(v)

	// ============ Local Variables ============
	case bytecode.OpIload, bytecode.OpIload0, bytecode.OpIload1, bytecode.OpIload2, bytecode.OpIload3:
		slot, _ := in.Slot()
		v, err := f.Locals.Load(slot)
		if err != nil {
			return err
		}
		return f.Stack.Push(v)

	case bytecode.OpIstore, bytecode.OpIstore0, bytecode.OpIstore1, bytecode.OpIstore2, bytecode.OpIstore3:
		slot, _ := in.Slot()
		if slot < 0 || slot >= f.Locals.Len() {
			return ErrInvalidSlot
		}
		v, err := f.Stack.Pop()
		if err != nil {
			return err
		}
		return f.Locals.Store(slot, v)

	// ============ Stack Operations ============
	case bytecode.OpPop:
		_, err := f.Stack.Pop()
		return err

	case bytecode.OpDup:
		return f.Stack.Duplicate()

	// ============ Arithmetic ============
	case bytecode.OpIadd, bytecode.OpIsub, bytecode.OpImul, bytecode.OpIdiv, bytecode.OpIor:
		if in.Op == bytecode.OpIdiv {
			if divisor, _ := f.Stack.Peek(); divisor == 0 {
				return ErrDivisionByZero
			}
		}
		b, err := f.Stack.Pop()
		if err != nil {
			return err
		}
		a, err := f.Stack.Pop()
		if err != nil {
			return err
		}
		r, err := arith(in.Op, a, b)
		if err != nil {
			return err
		}
		return f.Stack.Push(r)

	// ============ Return ============
	case bytecode.OpIreturn:
		v, err := f.Stack.Pop()
		if err != nil {
			return err
		}
		f.returned = v
		f.hasReturn = true

	case bytecode.OpReturn:

	default:
		// Programs are decoded before they run, so this only fires for a
		// hand-built Program.
		return &bytecode.DecodeError{Offset: in.Offset, Opcode: in.Op, Reason: "unrecognized opcode"}
	}
	return nil
}

// arith applies a binary integer opcode with 32-bit wrap-around.
func arith(op bytecode.Opcode, a, b int32) (int32, error) {
	switch op {
	case bytecode.OpIadd:
		return a + b, nil
	case bytecode.OpIsub:
		return a - b, nil
	case bytecode.OpImul:
		return a * b, nil
	case bytecode.OpIdiv:
		if b == 0 {
			return 0, ErrDivisionByZero
		}
		// Go truncates toward zero and MinInt32 / -1 wraps to MinInt32,
		// both matching the JVM.
		return a / b, nil
	case bytecode.OpIor:
		return a | b, nil
	}
	return 0, &bytecode.DecodeError{Opcode: op, Reason: "not an arithmetic opcode"}
}
