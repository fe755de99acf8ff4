package server

import (
	"github.com/chazu/ijvm/pkg/wire"
	"github.com/chazu/ijvm/store"
	"github.com/chazu/ijvm/vm"
)

// Messages exchanged by ExecutionService. Byte fields travel as base64 in
// JSON.

// ExecuteRequest names the program to run. Exactly one of Source, Code and
// Hash must be set; Hash refers to a stored program.
type ExecuteRequest struct {
	Name     string `json:"name,omitempty"`
	Source   string `json:"source,omitempty"`
	Code     []byte `json:"code,omitempty"`
	Hash     string `json:"hash,omitempty"`
	Record   bool   `json:"record,omitempty"`
	MaxStack int    `json:"max_stack,omitempty"`
}

type ExecuteResponse struct {
	ProgramHash string  `json:"program_hash"`
	Locals      []int32 `json:"locals"`
	Returned    *int32  `json:"returned,omitempty"`
	Steps       int     `json:"steps"`
	MaxDepth    int     `json:"max_depth"`
	RunID       string  `json:"run_id,omitempty"`
}

type AssembleRequest struct {
	Name   string `json:"name,omitempty"`
	Source string `json:"source"`
	Store  bool   `json:"store,omitempty"`
}

// Diagnostic is one assembler error, 1-based.
type Diagnostic struct {
	Line      int    `json:"line"`
	Column    int    `json:"column"`
	EndColumn int    `json:"end_column"`
	Message   string `json:"message"`
}

type AssembleResponse struct {
	Code        []byte       `json:"code,omitempty"`
	Hash        string       `json:"hash,omitempty"`
	MaxLocals   int          `json:"max_locals"`
	Listing     string       `json:"listing,omitempty"`
	Stored      bool         `json:"stored,omitempty"`
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
}

// DisassembleRequest carries raw code or the hash of a stored program.
type DisassembleRequest struct {
	Code []byte `json:"code,omitempty"`
	Hash string `json:"hash,omitempty"`
}

type DisassembleResponse struct {
	Listing string `json:"listing"`
}

type GetRunRequest struct {
	ID string `json:"id"`
}

type GetRunResponse struct {
	Run *wire.RunRecord `json:"run"`
}

// ListRunsRequest filters by program hash and status ("halted" or
// "faulted"); empty fields match every run.
type ListRunsRequest struct {
	ProgramHash string `json:"program_hash,omitempty"`
	Status      string `json:"status,omitempty"`
}

type ListRunsResponse struct {
	Runs []*wire.RunRecord `json:"runs"`
}

type ListProgramsRequest struct{}

type ListProgramsResponse struct {
	Programs []store.ProgramInfo `json:"programs"`
}

// StatsRequest asks for the current counters. With Reset the profiler is
// zeroed after the snapshot is taken.
type StatsRequest struct {
	Reset bool `json:"reset,omitempty"`
}

type StatsResponse struct {
	Profile  vm.ProfileSnapshot   `json:"profile"`
	Programs []store.ProgramStats `json:"programs,omitempty"`
	Workers  int                  `json:"workers"`
}
