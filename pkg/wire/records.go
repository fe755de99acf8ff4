// Package wire defines the persisted and transferred forms of programs and
// runs. Records are encoded as canonical CBOR so equal records always
// produce equal bytes.
package wire

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/chazu/ijvm/pkg/bytecode"
	"github.com/chazu/ijvm/vm"
)

// ProgramRecord is a content-addressed program. Hash is the SHA-256 of Code.
type ProgramRecord struct {
	Hash      [32]byte `cbor:"1,keyasint" json:"-"`
	Name      string   `cbor:"2,keyasint,omitempty" json:"name,omitempty"`
	Code      []byte   `cbor:"3,keyasint" json:"code"`
	MaxLocals int      `cbor:"4,keyasint" json:"max_locals"`
	Version   uint16   `cbor:"5,keyasint" json:"version"`
}

// ErrHashMismatch is returned when a record's code does not hash to its
// declared hash.
var ErrHashMismatch = errors.New("wire: content hash mismatch")

// NewProgramRecord captures p.
func NewProgramRecord(p *bytecode.Program) *ProgramRecord {
	return &ProgramRecord{
		Hash:      sha256.Sum256(p.Code),
		Name:      p.Name,
		Code:      p.Code,
		MaxLocals: p.MaxLocals,
		Version:   p.Version,
	}
}

// HashString returns the hex form of Hash, as used for store keys.
func (r *ProgramRecord) HashString() string {
	return hex.EncodeToString(r.Hash[:])
}

// Program verifies the content hash and decodes the code.
func (r *ProgramRecord) Program() (*bytecode.Program, error) {
	if sha256.Sum256(r.Code) != r.Hash {
		return nil, ErrHashMismatch
	}
	return bytecode.LoadNamed(r.Name, r.Code)
}

// RunStatus is the outcome of a recorded run.
type RunStatus uint8

const (
	RunHalted  RunStatus = 1
	RunFaulted RunStatus = 2
)

func (s RunStatus) String() string {
	switch s {
	case RunHalted:
		return "halted"
	case RunFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// ParseRunStatus is the inverse of RunStatus.String.
func ParseRunStatus(s string) RunStatus {
	switch s {
	case "halted":
		return RunHalted
	case "faulted":
		return RunFaulted
	}
	return 0
}

// Fault locates the instruction that aborted a run.
type Fault struct {
	IP     int     `cbor:"1,keyasint" json:"ip"`
	Offset int     `cbor:"2,keyasint" json:"offset"`
	Opcode uint8   `cbor:"3,keyasint" json:"opcode"`
	Stack  []int32 `cbor:"4,keyasint,omitempty" json:"stack,omitempty"`
}

// RunRecord is the stored outcome of one execution.
type RunRecord struct {
	ID          string    `cbor:"1,keyasint" json:"id"`
	ProgramHash string    `cbor:"2,keyasint" json:"program_hash"`
	Status      RunStatus `cbor:"3,keyasint" json:"status"`
	Error       string    `cbor:"4,keyasint,omitempty" json:"error,omitempty"`
	Steps       int       `cbor:"5,keyasint" json:"steps"`
	MaxDepth    int       `cbor:"6,keyasint" json:"max_depth"`
	Locals      []int32   `cbor:"7,keyasint" json:"locals"`
	Returned    *int32    `cbor:"8,keyasint,omitempty" json:"returned,omitempty"`
	Fault       *Fault    `cbor:"9,keyasint,omitempty" json:"fault,omitempty"`
	CreatedAt   int64     `cbor:"10,keyasint" json:"created_at"` // Unix milliseconds
}

// NewRunRecord builds a record from a finished run. res may be nil when
// the run never started.
func NewRunRecord(id, programHash string, res *vm.Result, runErr error) *RunRecord {
	rec := &RunRecord{
		ID:          id,
		ProgramHash: programHash,
		Status:      RunHalted,
		CreatedAt:   time.Now().UnixMilli(),
	}
	if res != nil {
		rec.Steps = res.Steps
		rec.MaxDepth = res.MaxDepth
		rec.Locals = res.Slots
		if res.HasReturn {
			v := res.Returned
			rec.Returned = &v
		}
	}
	if runErr != nil {
		rec.Status = RunFaulted
		rec.Error = runErr.Error()
		if ee, ok := vm.IsExecError(runErr); ok {
			rec.Fault = &Fault{
				IP:     ee.IP,
				Offset: ee.Offset,
				Opcode: uint8(ee.Opcode),
				Stack:  ee.Stack,
			}
		}
	}
	return rec
}

// Created returns CreatedAt as a time.
func (r *RunRecord) Created() time.Time {
	return time.UnixMilli(r.CreatedAt)
}
