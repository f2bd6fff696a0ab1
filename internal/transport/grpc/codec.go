package grpcx

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// CodecName задаёт content-subtype application/grpc+json.
const CodecName = "json"

// jsonCodec: сообщения API это обычные Go-структуры с json-тегами, без protoc.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
