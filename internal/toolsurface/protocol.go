// Package toolsurface maps external tool names onto the core remember,
// recall, and consolidate operations over a length-framed JSON-RPC stdio
// protocol. Argument coercion is explicit per parameter kind — integers that
// arrive as numeric strings, arrays that arrive as JSON strings — never
// reflection-driven.
package toolsurface

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Tool names exposed over the surface.
const (
	OpRemember       = "memory.remember"
	OpRecall         = "memory.recall"
	OpAbout          = "memory.about"
	OpRelate         = "memory.relate"
	OpPredictions    = "memory.predictions"
	OpConsolidate    = "memory.consolidate"
	OpEntity         = "memory.entity"
	OpSearchEntities = "memory.search_entities"
	OpUpcoming       = "memory.upcoming"
	OpTrace          = "memory.trace"
	OpEndSession     = "memory.end_session"
	OpBufferTurn     = "memory.buffer_turn"
)

// Request is one tool invocation from the client.
type Request struct {
	ID     any             `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// TextContent wraps a stringified JSON payload the way tool-calling clients
// expect result content blocks.
type TextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Result is the success payload: the operation's JSON result stringified
// into a single text content block.
type Result struct {
	Content []TextContent `json:"content"`
}

// Response is one framed reply. Errors are returned in-band with IsError set
// rather than crashing the stdio loop.
type Response struct {
	ID      any     `json:"id,omitempty"`
	Result  *Result `json:"result,omitempty"`
	Error   string  `json:"error,omitempty"`
	IsError bool    `json:"isError,omitempty"`
}

// maxFrameSize bounds a single frame so a corrupt length prefix cannot make
// the reader allocate unbounded memory.
const maxFrameSize = 16 << 20

// ReadFrame reads one length-prefixed JSON frame: a 4-byte big-endian length
// followed by that many bytes of payload.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if n == 0 {
		return nil, fmt.Errorf("zero-length frame")
	}
	if n > maxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}
	return buf, nil
}

// WriteFrame writes one length-prefixed frame.
func WriteFrame(w io.Writer, payload []byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// marshalResult stringifies v and wraps it in a text content object.
func marshalResult(id any, v any) Response {
	b, err := json.Marshal(v)
	if err != nil {
		return errorResponse(id, fmt.Errorf("marshal result: %w", err))
	}
	return Response{
		ID:     id,
		Result: &Result{Content: []TextContent{{Type: "text", Text: string(b)}}},
	}
}

func errorResponse(id any, err error) Response {
	return Response{ID: id, Error: err.Error(), IsError: true}
}
