package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// cborEncMode uses canonical mode for deterministic encoding.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalProgram serializes a ProgramRecord to CBOR bytes.
func MarshalProgram(r *ProgramRecord) ([]byte, error) {
	return cborEncMode.Marshal(r)
}

// UnmarshalProgram deserializes a ProgramRecord from CBOR bytes.
func UnmarshalProgram(data []byte) (*ProgramRecord, error) {
	var r ProgramRecord
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("wire: unmarshal program: %w", err)
	}
	return &r, nil
}

// MarshalRun serializes a RunRecord to CBOR bytes.
func MarshalRun(r *RunRecord) ([]byte, error) {
	return cborEncMode.Marshal(r)
}

// UnmarshalRun deserializes a RunRecord from CBOR bytes.
func UnmarshalRun(data []byte) (*RunRecord, error) {
	var r RunRecord
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("wire: unmarshal run: %w", err)
	}
	return &r, nil
}
