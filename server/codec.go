package server

import (
	"encoding/json"
	"fmt"

	"connectrpc.com/connect"
)

// jsonCodec is a connect codec for plain Go message structs. It replaces
// connect's built-in "json" codec, which only handles protobuf messages.
type jsonCodec struct{}

var _ connect.Codec = jsonCodec{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

func (jsonCodec) Unmarshal(data []byte, msg any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("decoding %T: %w", msg, err)
	}
	return nil
}

// WithJSONCodec configures a connect client or handler to exchange the
// messages in this package.
func WithJSONCodec() connect.Option {
	return connect.WithCodec(jsonCodec{})
}
