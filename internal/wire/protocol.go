// Package wire implements the kernel's client-facing surfaces: a small
// length-prefixed TCP protocol for kernelctl and other embedded clients,
// and a gRPC admin/introspection service for operational tooling.
//
// What: protocol.go defines the TCP wire frame (a one-byte message type,
// a four-byte big-endian payload length, and a JSON payload) and the
// message type constants; server.go runs the TCP accept loop, dispatching
// each connection's frames to its own engine.Session; admin.go is a
// hand-rolled (no protobuf) gRPC service exposing Exec and Status for
// operator tooling.
// How: grounded on the teacher's cmd/server/main.go, which frames every
// RPC as a JSON request/response pair (execRequest/execResponse,
// queryRequest/queryResponse) over both HTTP and a hand-rolled
// grpc.ServiceDesc with a JSON grpc.Codec -- this package reuses that
// same JSON-payload convention for the TCP frames, and reuses the
// hand-rolled ServiceDesc/jsonCodec pattern verbatim for the gRPC side.
// Why: spec §6 calls for a TCP wire protocol distinct from the embedded
// API, plus a gRPC admin plane; JSON payloads keep both surfaces
// introspectable with a text client (the teacher's own design choice)
// rather than requiring a generated protobuf client.
package wire

import (
	"encoding/binary"
	"io"

	"github.com/kernaldb/kernel/internal/errs"
)

// MessageType identifies a wire frame's payload shape.
type MessageType byte

const (
	MsgConnect    MessageType = 0x01
	MsgDisconnect MessageType = 0x02
	MsgQuery      MessageType = 0x03
	MsgResult     MessageType = 0x04
	MsgError      MessageType = 0x05
	MsgBegin      MessageType = 0x06
	MsgCommit     MessageType = 0x07
	MsgRollback   MessageType = 0x08
	MsgPrepare    MessageType = 0x09
	MsgExecute    MessageType = 0x0A
	MsgPing       MessageType = 0x0B
	MsgPong       MessageType = 0x0C
)

// maxFrameLen bounds a single frame's payload so a corrupt or hostile
// length prefix cannot make ReadFrame allocate unbounded memory.
const maxFrameLen = 64 << 20

// Frame is one wire message: a type tag plus its raw payload bytes.
type Frame struct {
	Type    MessageType
	Payload []byte
}

// WriteFrame writes f to w as [1-byte type][4-byte BE length][payload].
func WriteFrame(w io.Writer, f Frame) error {
	var header [5]byte
	header[0] = byte(f.Type)
	binary.BigEndian.PutUint32(header[1:], uint32(len(f.Payload)))
	if _, err := w.Write(header[:]); err != nil {
		return errs.Wrap(errs.IO, err, "write frame header")
	}
	if len(f.Payload) == 0 {
		return nil
	}
	if _, err := w.Write(f.Payload); err != nil {
		return errs.Wrap(errs.IO, err, "write frame payload")
	}
	return nil
}

// ReadFrame reads one frame from r, blocking until the full header and
// payload arrive or r errors (including io.EOF on a clean disconnect).
func ReadFrame(r io.Reader) (Frame, error) {
	var header [5]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Frame{}, err
	}
	n := binary.BigEndian.Uint32(header[1:])
	if n > maxFrameLen {
		return Frame{}, errs.New(errs.IO, "frame payload %d bytes exceeds limit %d", n, maxFrameLen)
	}
	payload := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, errs.Wrap(errs.IO, err, "read frame payload")
		}
	}
	return Frame{Type: MessageType(header[0]), Payload: payload}, nil
}
