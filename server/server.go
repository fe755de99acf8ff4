// Package server exposes the interpreter over Connect RPC, a websocket
// trace stream and the Language Server Protocol.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"

	"github.com/chazu/ijvm/store"
	"github.com/chazu/ijvm/vm"
)

var log = commonlog.GetLogger("ijvm.server")

// ServiceName is the fully-qualified name of the execution service.
const ServiceName = "ijvm.v1.ExecutionService"

// Procedure paths of ExecutionService.
const (
	ExecuteProcedure      = "/" + ServiceName + "/Execute"
	AssembleProcedure     = "/" + ServiceName + "/Assemble"
	DisassembleProcedure  = "/" + ServiceName + "/Disassemble"
	GetRunProcedure       = "/" + ServiceName + "/GetRun"
	ListRunsProcedure     = "/" + ServiceName + "/ListRuns"
	ListProgramsProcedure = "/" + ServiceName + "/ListPrograms"
	StatsProcedure        = "/" + ServiceName + "/Stats"
)

// TracePath is the websocket endpoint streaming execution steps.
const TracePath = "/v1/trace"

// IjvmServer serves the Connect, gRPC and gRPC-Web protocols for
// ExecutionService plus the trace websocket on one port.
type IjvmServer struct {
	worker *VMWorker
	exec   *ExecutionService
	mux    *http.ServeMux

	mu   sync.Mutex
	http *http.Server
}

// ServerOption configures an IjvmServer.
type ServerOption func(*serverConfig)

type serverConfig struct {
	store   *store.Store
	interp  *vm.Interpreter
	workers int
}

// WithStore enables run recording and stored-program lookups.
func WithStore(st *store.Store) ServerOption {
	return func(c *serverConfig) { c.store = st }
}

// WithInterpreter sets the interpreter used for runs.
func WithInterpreter(it *vm.Interpreter) ServerOption {
	return func(c *serverConfig) { c.interp = it }
}

// WithWorkers sets the number of concurrent runs.
func WithWorkers(n int) ServerOption {
	return func(c *serverConfig) { c.workers = n }
}

// New creates an IjvmServer.
func New(opts ...ServerOption) *IjvmServer {
	cfg := &serverConfig{workers: 4}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.interp == nil {
		cfg.interp = vm.NewInterpreter(vm.WithProfiler(vm.NewProfiler()))
	}
	if p := cfg.interp.Profiler(); p != nil && p.OnHot == nil {
		p.OnHot = func(hash string, _ *vm.ProgramProfile) {
			log.Infof("program %s is hot; consider compiling it ahead of time", hash)
		}
	}

	worker := NewVMWorker(cfg.workers)
	s := &IjvmServer{
		worker: worker,
		exec:   NewExecutionService(worker, cfg.interp, cfg.store),
		mux:    http.NewServeMux(),
	}

	handlerOpts := []connect.HandlerOption{WithJSONCodec()}
	s.mux.Handle(ExecuteProcedure, connect.NewUnaryHandler(ExecuteProcedure, s.exec.Execute, handlerOpts...))
	s.mux.Handle(AssembleProcedure, connect.NewUnaryHandler(AssembleProcedure, s.exec.Assemble, handlerOpts...))
	s.mux.Handle(DisassembleProcedure, connect.NewUnaryHandler(DisassembleProcedure, s.exec.Disassemble, handlerOpts...))
	s.mux.Handle(GetRunProcedure, connect.NewUnaryHandler(GetRunProcedure, s.exec.GetRun, handlerOpts...))
	s.mux.Handle(ListRunsProcedure, connect.NewUnaryHandler(ListRunsProcedure, s.exec.ListRuns, handlerOpts...))
	s.mux.Handle(ListProgramsProcedure, connect.NewUnaryHandler(ListProgramsProcedure, s.exec.ListPrograms, handlerOpts...))
	s.mux.Handle(StatsProcedure, connect.NewUnaryHandler(StatsProcedure, s.exec.Stats, handlerOpts...))
	s.mux.HandleFunc(TracePath, s.handleTrace)

	return s
}

// Handler returns the HTTP handler serving every endpoint.
func (s *IjvmServer) Handler() http.Handler {
	return s.mux
}

// ListenAndServe starts the HTTP server on the given address.
// The address should be in the form "host:port" or ":port". Cleartext
// HTTP/2 is enabled so gRPC clients can connect without TLS.
func (s *IjvmServer) ListenAndServe(addr string) error {
	var protocols http.Protocols
	protocols.SetHTTP1(true)
	protocols.SetUnencryptedHTTP2(true)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		Protocols:         &protocols,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()

	log.Noticef("ijvm server listening on %s", addr)
	log.Noticef("  Connect (HTTP/JSON): http://%s%s", addr, ExecuteProcedure)
	log.Noticef("  Trace (websocket):   ws://%s%s", addr, TracePath)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *IjvmServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	s.Stop()
	return err
}

// Stop shuts down the worker pool.
func (s *IjvmServer) Stop() {
	s.worker.Stop()
}
