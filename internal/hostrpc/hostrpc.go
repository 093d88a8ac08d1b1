// Package hostrpc carries the untrusted-host storage protocol over
// gRPC. The wire contract is a raw fixed-size bucket blob addressed by
// position, so the service uses a passthrough byte codec instead of a
// protobuf schema:
//
//	ReadBucket:  request  = uint32 position (big-endian)
//	             response = bucket blob
//	WriteBucket: request  = uint32 position (big-endian) || bucket blob
//	             response = empty
package hostrpc

import (
	"encoding/binary"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "veiltree.BucketHost"

const (
	methodReadBucket  = "/" + ServiceName + "/ReadBucket"
	methodWriteBucket = "/" + ServiceName + "/WriteBucket"
)

// codecName identifies the passthrough codec in content-subtype
// negotiation.
const codecName = "veiltree-raw"

// rawCodec moves byte slices through gRPC untouched.
type rawCodec struct{}

func (rawCodec) Marshal(v any) ([]byte, error) {
	b, ok := v.(*[]byte)
	if !ok {
		return nil, fmt.Errorf("raw codec: cannot marshal %T", v)
	}
	return *b, nil
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	b, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("raw codec: cannot unmarshal into %T", v)
	}
	out := make([]byte, len(data))
	copy(out, data)
	*b = out
	return nil
}

func (rawCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(rawCodec{})
}

// encodeReadRequest frames a ReadBucket request.
func encodeReadRequest(position int) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(position))
	return buf
}

// decodeReadRequest parses a ReadBucket request.
func decodeReadRequest(req []byte) (int, error) {
	if len(req) != 4 {
		return 0, fmt.Errorf("read_bucket request has %d bytes, want 4", len(req))
	}
	return int(binary.BigEndian.Uint32(req)), nil
}

// encodeWriteRequest frames a WriteBucket request.
func encodeWriteRequest(position int, blob []byte) []byte {
	buf := make([]byte, 4+len(blob))
	binary.BigEndian.PutUint32(buf, uint32(position))
	copy(buf[4:], blob)
	return buf
}

// decodeWriteRequest parses a WriteBucket request.
func decodeWriteRequest(req []byte) (int, []byte, error) {
	if len(req) < 4 {
		return 0, nil, fmt.Errorf("write_bucket request has %d bytes, want at least 4", len(req))
	}
	return int(binary.BigEndian.Uint32(req[:4])), req[4:], nil
}
