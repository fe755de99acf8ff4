package server

import (
	"context"
	"errors"

	"connectrpc.com/connect"

	"github.com/chazu/ijvm/pkg/bytecode"
	"github.com/chazu/ijvm/pkg/wire"
	"github.com/chazu/ijvm/store"
	"github.com/chazu/ijvm/vm"
)

// RunIDHeader carries the ID of a recorded run on a failed Execute.
const RunIDHeader = "Ijvm-Run-Id"

var errNoStore = errors.New("no store configured")

// errorCode maps domain errors to connect codes.
func errorCode(err error) connect.Code {
	var asmErrs bytecode.AsmErrors
	switch {
	case errors.Is(err, context.Canceled):
		return connect.CodeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return connect.CodeDeadlineExceeded
	case errors.As(err, &asmErrs), errors.Is(err, bytecode.ErrMalformedBytecode):
		return connect.CodeInvalidArgument
	case errors.Is(err, store.ErrNotFound):
		return connect.CodeNotFound
	case errors.Is(err, errNoStore):
		return connect.CodeFailedPrecondition
	case errors.Is(err, ErrWorkerStopped):
		return connect.CodeUnavailable
	case errors.Is(err, wire.ErrHashMismatch):
		return connect.CodeDataLoss
	}
	if _, ok := vm.IsExecError(err); ok {
		return connect.CodeFailedPrecondition
	}
	return connect.CodeInternal
}

func toConnectError(err error) *connect.Error {
	var ce *connect.Error
	if errors.As(err, &ce) {
		return ce
	}
	return connect.NewError(errorCode(err), err)
}

// diagnostics converts assembler errors to response diagnostics.
func diagnostics(err error) []Diagnostic {
	var asmErrs bytecode.AsmErrors
	if !errors.As(err, &asmErrs) {
		return nil
	}
	out := make([]Diagnostic, len(asmErrs))
	for i, e := range asmErrs {
		out[i] = Diagnostic{Line: e.Line, Column: e.Column, EndColumn: e.EndColumn, Message: e.Msg}
	}
	return out
}
