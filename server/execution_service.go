package server

import (
	"context"
	"fmt"

	"connectrpc.com/connect"

	"github.com/chazu/ijvm/pkg/bytecode"
	"github.com/chazu/ijvm/pkg/wire"
	"github.com/chazu/ijvm/store"
	"github.com/chazu/ijvm/vm"
)

// maxStackLimit bounds per-request stack overrides.
const maxStackLimit = 65535

// ExecutionService implements the ijvm.v1.ExecutionService Connect handler.
type ExecutionService struct {
	worker *VMWorker
	interp *vm.Interpreter
	store  *store.Store // May be nil
}

// NewExecutionService creates an ExecutionService. st may be nil, in which
// case recording and hash lookups fail with FailedPrecondition.
func NewExecutionService(worker *VMWorker, interp *vm.Interpreter, st *store.Store) *ExecutionService {
	return &ExecutionService{
		worker: worker,
		interp: interp,
		store:  st,
	}
}

type runOutcome struct {
	result *vm.Result
	err    error
}

// Execute loads a program, runs it on the worker pool and optionally
// records the run.
func (s *ExecutionService) Execute(
	ctx context.Context,
	req *connect.Request[ExecuteRequest],
) (*connect.Response[ExecuteResponse], error) {
	msg := req.Msg
	if msg.MaxStack < 0 || msg.MaxStack > maxStackLimit {
		return nil, connect.NewError(connect.CodeInvalidArgument,
			fmt.Errorf("max_stack %d out of range [0, %d]", msg.MaxStack, maxStackLimit))
	}
	if msg.Record && s.store == nil {
		return nil, toConnectError(errNoStore)
	}

	prog, err := s.resolve(ctx, msg.Name, msg.Source, msg.Code, msg.Hash)
	if err != nil {
		return nil, toConnectError(err)
	}

	interp := s.interpreterFor(msg.MaxStack, nil)
	out, err := submit(ctx, s.worker, func(ctx context.Context) (runOutcome, error) {
		res, runErr := interp.RunContext(ctx, prog)
		return runOutcome{res, runErr}, nil
	})
	if err != nil {
		return nil, toConnectError(err)
	}

	hash := prog.Hash()
	if p := s.interp.Profiler(); p != nil {
		p.RecordProgram(hash)
	}

	var runID string
	if msg.Record {
		if _, err := s.store.PutProgram(ctx, prog); err != nil {
			return nil, toConnectError(err)
		}
		rec, err := s.store.RecordRun(ctx, hash, out.result, out.err)
		if err != nil {
			return nil, toConnectError(err)
		}
		runID = rec.ID
	}

	if out.err != nil {
		log.Infof("run of %s faulted: %s", hash, out.err)
		ce := toConnectError(out.err)
		if runID != "" {
			ce.Meta().Set(RunIDHeader, runID)
		}
		return nil, ce
	}

	resp := &ExecuteResponse{
		ProgramHash: hash,
		Locals:      out.result.Slots,
		Steps:       out.result.Steps,
		MaxDepth:    out.result.MaxDepth,
		RunID:       runID,
	}
	if out.result.HasReturn {
		v := out.result.Returned
		resp.Returned = &v
	}
	return connect.NewResponse(resp), nil
}

// Assemble translates source into code. Assembly errors are reported as
// diagnostics in a successful response, like a syntax check.
func (s *ExecutionService) Assemble(
	ctx context.Context,
	req *connect.Request[AssembleRequest],
) (*connect.Response[AssembleResponse], error) {
	if req.Msg.Source == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source is required"))
	}

	prog, err := bytecode.AssembleProgram(req.Msg.Name, req.Msg.Source)
	if err != nil {
		if diags := diagnostics(err); diags != nil {
			return connect.NewResponse(&AssembleResponse{Diagnostics: diags}), nil
		}
		return nil, toConnectError(err)
	}

	resp := &AssembleResponse{
		Code:      prog.Code,
		Hash:      prog.Hash(),
		MaxLocals: prog.MaxLocals,
		Listing:   prog.Disassemble(),
	}
	if req.Msg.Store {
		if s.store == nil {
			return nil, toConnectError(errNoStore)
		}
		if _, err := s.store.PutProgram(ctx, prog); err != nil {
			return nil, toConnectError(err)
		}
		resp.Stored = true
	}
	return connect.NewResponse(resp), nil
}

// Disassemble lists raw code or a stored program.
func (s *ExecutionService) Disassemble(
	ctx context.Context,
	req *connect.Request[DisassembleRequest],
) (*connect.Response[DisassembleResponse], error) {
	if req.Msg.Hash != "" {
		prog, err := s.resolve(ctx, "", "", nil, req.Msg.Hash)
		if err != nil {
			return nil, toConnectError(err)
		}
		return connect.NewResponse(&DisassembleResponse{Listing: prog.Disassemble()}), nil
	}
	if len(req.Msg.Code) == 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("code or hash is required"))
	}
	// Malformed tails are shown inline rather than rejected.
	return connect.NewResponse(&DisassembleResponse{Listing: bytecode.Disassemble(req.Msg.Code)}), nil
}

// GetRun returns a recorded run.
func (s *ExecutionService) GetRun(
	ctx context.Context,
	req *connect.Request[GetRunRequest],
) (*connect.Response[GetRunResponse], error) {
	if s.store == nil {
		return nil, toConnectError(errNoStore)
	}
	if req.Msg.ID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("id is required"))
	}
	rec, err := s.store.GetRun(ctx, req.Msg.ID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&GetRunResponse{Run: rec}), nil
}

// ListRuns returns recorded runs, optionally for one program or status.
func (s *ExecutionService) ListRuns(
	ctx context.Context,
	req *connect.Request[ListRunsRequest],
) (*connect.Response[ListRunsResponse], error) {
	if s.store == nil {
		return nil, toConnectError(errNoStore)
	}
	filter := store.RunFilter{ProgramHash: req.Msg.ProgramHash}
	if req.Msg.Status != "" {
		if filter.Status = wire.ParseRunStatus(req.Msg.Status); filter.Status == 0 {
			return nil, connect.NewError(connect.CodeInvalidArgument,
				fmt.Errorf("unknown run status %q", req.Msg.Status))
		}
	}
	runs, err := s.store.ListRuns(ctx, filter)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ListRunsResponse{Runs: runs}), nil
}

// ListPrograms returns every stored program.
func (s *ExecutionService) ListPrograms(
	ctx context.Context,
	req *connect.Request[ListProgramsRequest],
) (*connect.Response[ListProgramsResponse], error) {
	if s.store == nil {
		return nil, toConnectError(errNoStore)
	}
	programs, err := s.store.ListPrograms(ctx)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ListProgramsResponse{Programs: programs}), nil
}

// Stats reports profiler counters and, with a store, per-program run
// aggregates. Counts recorded between the snapshot and a requested reset
// are dropped.
func (s *ExecutionService) Stats(
	ctx context.Context,
	req *connect.Request[StatsRequest],
) (*connect.Response[StatsResponse], error) {
	resp := &StatsResponse{Workers: s.worker.Size()}
	if p := s.interp.Profiler(); p != nil {
		resp.Profile = p.Snapshot()
		if req.Msg.Reset {
			p.Reset()
			log.Info("profiler counters reset")
		}
	}
	if s.store != nil {
		stats, err := s.store.RunStats(ctx)
		if err != nil {
			return nil, toConnectError(err)
		}
		resp.Programs = stats
	}
	return connect.NewResponse(resp), nil
}

// resolve loads the program named by exactly one of source, code or hash.
func (s *ExecutionService) resolve(ctx context.Context, name, source string, code []byte, hash string) (*bytecode.Program, error) {
	set := 0
	for _, ok := range []bool{source != "", len(code) > 0, hash != ""} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return nil, connect.NewError(connect.CodeInvalidArgument,
			fmt.Errorf("exactly one of source, code or hash is required"))
	}

	switch {
	case source != "":
		return bytecode.AssembleProgram(name, source)
	case len(code) > 0:
		return bytecode.LoadNamed(name, code)
	}
	if s.store == nil {
		return nil, errNoStore
	}
	return s.store.GetProgram(ctx, hash)
}

// interpreterFor returns the shared interpreter, or a sibling with its
// own stack size or tracer. Siblings share the profiler.
func (s *ExecutionService) interpreterFor(maxStack int, tracer vm.Tracer) *vm.Interpreter {
	if (maxStack == 0 || maxStack == s.interp.MaxStack()) && tracer == nil {
		return s.interp
	}
	if maxStack == 0 {
		maxStack = s.interp.MaxStack()
	}
	opts := []vm.Option{vm.WithMaxStack(maxStack)}
	if p := s.interp.Profiler(); p != nil {
		opts = append(opts, vm.WithProfiler(p))
	}
	if tracer != nil {
		opts = append(opts, vm.WithTracer(tracer))
	}
	return vm.NewInterpreter(opts...)
}
