package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chazu/ijvm/vm"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// TraceRequest is the first and only client message on the trace socket.
type TraceRequest struct {
	Name     string `json:"name,omitempty"`
	Source   string `json:"source,omitempty"`
	Code     []byte `json:"code,omitempty"`
	Hash     string `json:"hash,omitempty"`
	MaxStack int    `json:"max_stack,omitempty"`
}

// TraceDone is the final message of a trace. Every earlier message is a
// vm.StepEvent.
type TraceDone struct {
	Done     bool    `json:"done"`
	Locals   []int32 `json:"locals,omitempty"`
	Returned *int32  `json:"returned,omitempty"`
	Steps    int     `json:"steps"`
	Error    string  `json:"error,omitempty"`
}

const traceWriteTimeout = 10 * time.Second

// handleTrace runs one program and streams a StepEvent per instruction.
func (s *IjvmServer) handleTrace(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warningf("trace upgrade: %s", err)
		return
	}
	defer conn.Close()

	var req TraceRequest
	if err := conn.ReadJSON(&req); err != nil {
		log.Debugf("trace request: %s", err)
		return
	}

	done := s.trace(r.Context(), conn, &req)
	if done == nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(traceWriteTimeout))
	if err := conn.WriteJSON(done); err != nil {
		return
	}
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (s *IjvmServer) trace(ctx context.Context, conn *websocket.Conn, req *TraceRequest) *TraceDone {
	done := &TraceDone{Done: true}
	if req.MaxStack < 0 || req.MaxStack > maxStackLimit {
		done.Error = "max_stack out of range"
		return done
	}

	prog, err := s.exec.resolve(ctx, req.Name, req.Source, req.Code, req.Hash)
	if err != nil {
		done.Error = err.Error()
		return done
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The tracer runs on the worker goroutine, which is the only writer
	// until the run finishes.
	var writeErr error
	tracer := vm.TracerFunc(func(ev vm.StepEvent) {
		if writeErr != nil {
			return
		}
		conn.SetWriteDeadline(time.Now().Add(traceWriteTimeout))
		if writeErr = conn.WriteJSON(ev); writeErr != nil {
			cancel()
		}
	})

	interp := s.exec.interpreterFor(req.MaxStack, tracer)
	out, err := submit(ctx, s.worker, func(ctx context.Context) (runOutcome, error) {
		res, runErr := interp.RunContext(ctx, prog)
		return runOutcome{res, runErr}, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			// The run may still be writing; the client is gone anyway.
			return nil
		}
		done.Error = err.Error()
		return done
	}

	if out.result != nil {
		done.Locals = out.result.Slots
		done.Steps = out.result.Steps
		if out.result.HasReturn {
			v := out.result.Returned
			done.Returned = &v
		}
	}
	if out.err != nil {
		done.Error = out.err.Error()
	}
	return done
}
