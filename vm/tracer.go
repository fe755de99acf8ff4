package vm

import (
	"fmt"
	"io"
	"sync"

	"github.com/tliron/commonlog"

	"github.com/chazu/ijvm/pkg/bytecode"
)

// StepEvent describes one executed instruction and the stack it left behind.
type StepEvent struct {
	IP         int             `json:"ip"`
	Offset     int             `json:"offset"`
	Opcode     bytecode.Opcode `json:"opcode"`
	Mnemonic   string          `json:"mnemonic"`
	Operand    int32           `json:"operand,omitempty"`
	HasOperand bool            `json:"has_operand,omitempty"`
	Stack      []int32         `json:"stack"`
}

func (e StepEvent) String() string {
	text := e.Mnemonic
	if e.HasOperand {
		text = fmt.Sprintf("%s %d", e.Mnemonic, e.Operand)
	}
	return fmt.Sprintf("[%04x] %-16s sp=%d %v", e.Offset, text, len(e.Stack), e.Stack)
}

// Tracer observes execution one instruction at a time. Step runs on the
// executing goroutine.
type Tracer interface {
	Step(ev StepEvent)
}

// TracerFunc adapts a function to Tracer.
type TracerFunc func(ev StepEvent)

func (f TracerFunc) Step(ev StepEvent) { f(ev) }

// LogTracer writes each step to a commonlog logger at debug level.
type LogTracer struct {
	Log commonlog.Logger
}

// NewLogTracer returns a tracer logging to "ijvm.vm.trace".
func NewLogTracer() *LogTracer {
	return &LogTracer{Log: commonlog.GetLogger("ijvm.vm.trace")}
}

func (t *LogTracer) Step(ev StepEvent) {
	t.Log.Debugf("%s", ev)
}

// WriterTracer prints each step as a line on W.
type WriterTracer struct {
	W io.Writer
}

func (t *WriterTracer) Step(ev StepEvent) {
	fmt.Fprintln(t.W, ev)
}

// RecordingTracer keeps every event in memory.
type RecordingTracer struct {
	mu     sync.Mutex
	events []StepEvent
}

func (t *RecordingTracer) Step(ev StepEvent) {
	t.mu.Lock()
	t.events = append(t.events, ev)
	t.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (t *RecordingTracer) Events() []StepEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]StepEvent, len(t.events))
	copy(out, t.events)
	return out
}
