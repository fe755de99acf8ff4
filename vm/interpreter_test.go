package vm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/tliron/commonlog"

	"github.com/chazu/ijvm/pkg/bytecode"
)

func assemble(t *testing.T, src string) *bytecode.Program {
	t.Helper()
	p, err := bytecode.AssembleProgram("test", src)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	return p
}

// runTop executes src followed by "istore_0; return" and yields slot 0.
func runTop(t *testing.T, src string) int32 {
	t.Helper()
	p := assemble(t, src+"\nistore_0\nreturn\n")
	res, err := NewInterpreter().Run(p)
	if err != nil {
		t.Fatalf("run %q: %v", src, err)
	}
	return res.Locals[0]
}

func TestRunFixture(t *testing.T) {
	src, err := os.ReadFile("../testdata/Test.jasm")
	if err != nil {
		t.Fatal(err)
	}
	p := assemble(t, string(src))

	res, err := NewInterpreter().Run(p)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != StateHalted {
		t.Errorf("State = %s, want halted", res.State)
	}
	if res.HasReturn {
		t.Error("plain return must not set HasReturn")
	}

	want := map[int]int32{
		0: 0, 1: 5, 2: 3, 3: 1, 4: 0, 5: 2, 6: 4, 7: 100, 8: 1000,
		9: 0, 10: 5, 11: 8, 12: 2, 13: 15, 14: 1, 15: 7,
	}
	for slot, v := range want {
		if res.Locals[slot] != v {
			t.Errorf("slot %d = %d, want %d", slot, res.Locals[slot], v)
		}
	}
	if res.Steps != len(p.Instructions) {
		t.Errorf("Steps = %d, want %d", res.Steps, len(p.Instructions))
	}
	if res.MaxDepth != 2 {
		t.Errorf("MaxDepth = %d, want 2", res.MaxDepth)
	}
}

func TestArithmetic(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want int32
	}{
		{"add", "iconst_5\niconst_3\niadd", 8},
		{"sub order", "iconst_3\niconst_5\nisub", -2},
		{"mul", "bipush -4\niconst_3\nimul", -12},
		{"div", "bipush 7\niconst_2\nidiv", 3},
		{"div truncates negative", "bipush -7\niconst_2\nidiv", -3},
		{"div negative divisor", "bipush 7\nbipush -2\nidiv", -3},
		{"or", "iconst_5\niconst_3\nior", 7},
		{"or negative", "iconst_m1\niconst_2\nior", -1},
		{"sipush", "sipush -32768", math.MinInt16},
		{"bipush", "bipush -128", -128},
		{"mul wraps", "sipush 32767\nsipush 32767\nimul\ndup\niadd\ndup\niadd", -262140},
		{"add wraps to min", "sipush -32768\nsipush -32768\nimul\ndup\niadd", math.MinInt32},
		{"min div -1", "sipush -32768\nsipush -32768\nimul\ndup\niadd\niconst_m1\nidiv", math.MinInt32},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := runTop(t, tt.src); got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestExecErrors(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		maxStack int
		want     error
		ip       int
		op       bytecode.Opcode
		stack    []int32
	}{
		{"underflow on add", "iadd", 0, ErrStackUnderflow, 0, bytecode.OpIadd, []int32{}},
		{"underflow on second operand", "iconst_1\nisub", 0, ErrStackUnderflow, 1, bytecode.OpIsub, []int32{1}},
		{"underflow on store", "istore_1", 0, ErrStackUnderflow, 0, bytecode.OpIstore1, []int32{}},
		{"underflow on pop", "pop", 0, ErrStackUnderflow, 0, bytecode.OpPop, []int32{}},
		{"underflow on dup", "nop\ndup", 0, ErrStackUnderflow, 1, bytecode.OpDup, []int32{}},
		{"underflow on ireturn", "ireturn", 0, ErrStackUnderflow, 0, bytecode.OpIreturn, []int32{}},
		{"overflow", "iconst_1\niconst_1\niconst_1", 2, ErrStackOverflow, 2, bytecode.OpIconst1, []int32{1, 1}},
		{"overflow on dup", "iconst_1\ndup", 1, ErrStackOverflow, 1, bytecode.OpDup, []int32{1}},
		{"divide by zero", "bipush 9\niconst_0\nidiv", 0, ErrDivisionByZero, 2, bytecode.OpIdiv, []int32{9, 0}},
		{"divide by zero keeps lower values", "iconst_3\niconst_1\niconst_0\nidiv", 0, ErrDivisionByZero, 3, bytecode.OpIdiv, []int32{3, 1, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it := NewInterpreter(WithMaxStack(tt.maxStack))
			res, err := it.Run(assemble(t, tt.src))
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			ee, ok := IsExecError(err)
			if !ok {
				t.Fatalf("err is %T, want *ExecError", err)
			}
			if ee.IP != tt.ip {
				t.Errorf("IP = %d, want %d", ee.IP, tt.ip)
			}
			if ee.Opcode != tt.op {
				t.Errorf("Opcode = %s, want %s", ee.Opcode, tt.op)
			}
			if !slices.Equal(ee.Stack, tt.stack) {
				t.Errorf("Stack = %v, want %v", ee.Stack, tt.stack)
			}
			if res == nil || res.State != StateFaulted {
				t.Errorf("result state = %v, want faulted", res)
			}
		})
	}
}

func TestExecErrorMessage(t *testing.T) {
	_, err := NewInterpreter().Run(assemble(t, "bipush 9\nistore_1\nbipush 4\niconst_0\nidiv"))
	ee, ok := IsExecError(err)
	if !ok {
		t.Fatalf("want ExecError, got %v", err)
	}
	if ee.Offset != 6 {
		t.Errorf("Offset = %d, want 6", ee.Offset)
	}
	if len(ee.Locals) != 2 || ee.Locals[1] != 9 {
		t.Errorf("Locals = %v, want [0 9]", ee.Locals)
	}
	if !slices.Equal(ee.Stack, []int32{4, 0}) {
		t.Errorf("Stack = %v, want [4 0]", ee.Stack)
	}
	msg := err.Error()
	for _, part := range []string{"division by zero", "ip=4", "offset 0006", "idiv", "stack=[4 0]"} {
		if !strings.Contains(msg, part) {
			t.Errorf("message %q missing %q", msg, part)
		}
	}
}

func TestInvalidSlot(t *testing.T) {
	// Load sizes locals from the code, so only a hand-built program can
	// address a slot outside its frame.
	p := &bytecode.Program{
		Name: "bad-slot",
		Instructions: []bytecode.Instruction{
			{Op: bytecode.OpIload, Operand: 5, HasOperand: true},
		},
		MaxLocals: 2,
	}
	_, err := NewInterpreter().Run(p)
	if !errors.Is(err, ErrInvalidSlot) {
		t.Fatalf("err = %v, want ErrInvalidSlot", err)
	}
}

func TestInvalidStoreKeepsOperand(t *testing.T) {
	p := &bytecode.Program{
		Name: "bad-store",
		Instructions: []bytecode.Instruction{
			{Op: bytecode.OpBipush, Operand: 7, HasOperand: true},
			{Op: bytecode.OpIstore, Operand: 3, HasOperand: true, Offset: 2},
		},
		MaxLocals: 1,
	}
	_, err := NewInterpreter().Run(p)
	ee, ok := IsExecError(err)
	if !ok || !errors.Is(err, ErrInvalidSlot) {
		t.Fatalf("err = %v, want ErrInvalidSlot", err)
	}
	if !slices.Equal(ee.Stack, []int32{7}) {
		t.Errorf("Stack = %v, want [7]", ee.Stack)
	}
}

func TestIreturnHalts(t *testing.T) {
	p := assemble(t, "bipush 42\nireturn\niconst_1\nistore_0")
	res, err := NewInterpreter().Run(p)
	if err != nil {
		t.Fatal(err)
	}
	if !res.HasReturn || res.Returned != 42 {
		t.Errorf("Returned = %d (%v), want 42", res.Returned, res.HasReturn)
	}
	if res.Steps != 2 {
		t.Errorf("Steps = %d, want 2", res.Steps)
	}
	if res.Locals[0] != 0 {
		t.Error("instructions after ireturn were executed")
	}
}

func TestRunWithoutTerminator(t *testing.T) {
	res, err := NewInterpreter().Run(assemble(t, "iconst_2\nistore_0"))
	if err != nil {
		t.Fatal(err)
	}
	if res.State != StateHalted || res.Locals[0] != 2 {
		t.Errorf("got state %s slot0 %d", res.State, res.Locals[0])
	}
}

func TestRunEmptyProgram(t *testing.T) {
	p, err := bytecode.Load(nil)
	if err != nil {
		t.Fatal(err)
	}
	res, err := NewInterpreter().Run(p)
	if err != nil {
		t.Fatal(err)
	}
	if res.Steps != 0 || len(res.Locals) != 0 {
		t.Errorf("empty program: %+v", res)
	}
}

func TestStepByStep(t *testing.T) {
	it := NewInterpreter()
	f := it.NewFrame(assemble(t, "iconst_1\niconst_2\niadd\nistore_0"))

	for i := 0; f.State() == StateRunning; i++ {
		if i > 10 {
			t.Fatal("frame never halted")
		}
		if err := it.Step(f); err != nil {
			t.Fatal(err)
		}
		if i == 1 && f.Stack.Depth() != 2 {
			t.Errorf("depth after two pushes = %d", f.Stack.Depth())
		}
	}
	if v, _ := f.Locals.Load(0); v != 3 {
		t.Errorf("slot 0 = %d, want 3", v)
	}
	if err := it.Step(f); err != nil {
		t.Errorf("Step on halted frame: %v", err)
	}
	if f.Steps() != 4 {
		t.Errorf("Steps() = %d, want 4", f.Steps())
	}
}

func TestTracer(t *testing.T) {
	rec := &RecordingTracer{}
	it := NewInterpreter(WithTracer(rec))
	if _, err := it.Run(assemble(t, "bipush 10\ndup\nimul\nistore_0")); err != nil {
		t.Fatal(err)
	}
	events := rec.Events()
	if len(events) != 4 {
		t.Fatalf("got %d events, want 4", len(events))
	}
	if ev := events[0]; ev.Mnemonic != "bipush" || !ev.HasOperand || ev.Operand != 10 {
		t.Errorf("first event = %+v", ev)
	}
	if got := events[1].Stack; len(got) != 2 || got[0] != 10 || got[1] != 10 {
		t.Errorf("stack after dup = %v", got)
	}
	if got := events[2].Stack; len(got) != 1 || got[0] != 100 {
		t.Errorf("stack after imul = %v", got)
	}
	if events[3].Offset != 4 {
		t.Errorf("istore_0 offset = %d, want 4", events[3].Offset)
	}
	if s := events[0].String(); !strings.Contains(s, "bipush 10") {
		t.Errorf("String() = %q", s)
	}
}

type debugRecorder struct {
	commonlog.MockLogger
	lines []string
}

func (r *debugRecorder) Debugf(format string, args ...any) {
	r.lines = append(r.lines, fmt.Sprintf(format, args...))
}

func TestLogTracer(t *testing.T) {
	log := &debugRecorder{}
	it := NewInterpreter(WithTracer(&LogTracer{Log: log}))
	if _, err := it.Run(assemble(t, "iconst_2\niconst_3\niadd\nistore_0")); err != nil {
		t.Fatal(err)
	}
	if len(log.lines) != 4 {
		t.Fatalf("logged %d lines, want 4: %q", len(log.lines), log.lines)
	}
	if !strings.Contains(log.lines[2], "iadd") || !strings.Contains(log.lines[2], "[5]") {
		t.Errorf("iadd line = %q", log.lines[2])
	}
	if NewLogTracer().Log == nil {
		t.Error("NewLogTracer has no logger")
	}
}

func TestProfiler(t *testing.T) {
	prof := NewProfiler()
	it := NewInterpreter(WithProfiler(prof))
	p := assemble(t, "iconst_1\niconst_1\niadd\nistore_0")
	for i := 0; i < 3; i++ {
		if _, err := it.Run(p); err != nil {
			t.Fatal(err)
		}
	}
	it.Run(assemble(t, "iadd"))

	if got := prof.OpcodeCount(bytecode.OpIconst1); got != 6 {
		t.Errorf("iconst_1 count = %d, want 6", got)
	}
	snap := prof.Snapshot()
	if snap.Runs != 4 || snap.Faults != 1 {
		t.Errorf("runs=%d faults=%d, want 4 and 1", snap.Runs, snap.Faults)
	}
	if snap.Instructions != 12 {
		t.Errorf("Instructions = %d, want 12", snap.Instructions)
	}
	top := prof.TopOpcodes(1)
	if len(top) != 1 || top[0].Op != bytecode.OpIconst1 {
		t.Errorf("TopOpcodes(1) = %v", top)
	}
}

func TestProfilerHotPrograms(t *testing.T) {
	prof := NewProfiler()
	prof.HotThreshold = 3

	var hot []string
	prof.OnHot = func(hash string, _ *ProgramProfile) { hot = append(hot, hash) }

	for i := 0; i < 5; i++ {
		became := prof.RecordProgram("abc")
		if became != (i == 2) {
			t.Errorf("run %d: became hot = %v", i+1, became)
		}
	}
	if len(hot) != 1 || hot[0] != "abc" {
		t.Errorf("OnHot calls = %v", hot)
	}
	if prof.Snapshot().HotPrograms != 1 {
		t.Error("HotPrograms not counted")
	}
	prof.Reset()
	if prof.Snapshot().HotPrograms != 0 || prof.RecordProgram("abc") {
		t.Error("Reset did not clear program profiles")
	}
}

func TestRunContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := NewInterpreter().RunContext(ctx, assemble(t, "nop\nnop"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if res.Steps != 0 {
		t.Errorf("Steps = %d, want 0", res.Steps)
	}
}

func TestConcurrentRuns(t *testing.T) {
	src, err := os.ReadFile("../testdata/Test.jasm")
	if err != nil {
		t.Fatal(err)
	}
	p := assemble(t, string(src))
	it := NewInterpreter(WithProfiler(NewProfiler()))

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := it.Run(p)
			if err != nil {
				errs <- err
				return
			}
			if res.Locals[11] != 8 || res.Locals[15] != 7 {
				errs <- errors.New("wrong locals from concurrent run")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	if got := it.Profiler().Snapshot().Runs; got != 16 {
		t.Errorf("Runs = %d, want 16", got)
	}
}
