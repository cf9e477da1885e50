package rpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// codecName is registered with grpc's global codec registry and selected
// via the "grpc+json" content-subtype on both client and server, since
// there is no protoc-generated binary codec available to this build.
const codecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec implements encoding.Codec by marshaling the hand-authored
// request/response structs in messages.go as JSON. It stands in for the
// protobuf wire codec a generated client/server pair would normally use;
// see stubs.pb.go in the pack for the precedent of shipping plain structs
// without a real protoc run.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json codec marshal: %w", err)
	}
	return b, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("json codec unmarshal: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string { return codecName }
