// Package jswire implements the newline-delimited JSON frame protocol
// spoken between the host process and a sandboxed child. The child writes
// call, log, and done frames to its stdout; the host answers call frames
// with result or error frames on the child's stdin. Traffic is strictly
// sequential: the child blocks on each bridged call until its answer
// arrives.
package jswire

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Frame types.
const (
	// TypeCall is a child-to-host tool invocation request.
	TypeCall = "call"

	// TypeResult answers a call frame with a value.
	TypeResult = "result"

	// TypeError answers a call frame with a failure message.
	TypeError = "error"

	// TypeLog carries one console line from the child.
	TypeLog = "log"

	// TypeDone is the final frame of an execution, carrying the script's
	// value or script-scoped error.
	TypeDone = "done"
)

// Frame is one protocol message. Fields are populated per type: call
// frames carry Tool and Params, result frames Value, error frames Error,
// log frames Line, done frames Value or Error plus Truncated.
type Frame struct {
	Type      string         `json:"type"`
	ID        int64          `json:"id,omitempty"`
	Tool      string         `json:"tool,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
	Value     any            `json:"value,omitempty"`
	Error     string         `json:"error,omitempty"`
	Line      string         `json:"line,omitempty"`
	Truncated bool           `json:"truncated,omitempty"`
}

// Encoder writes frames as newline-delimited JSON. It is safe for
// concurrent use.
type Encoder struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: json.NewEncoder(w)}
}

// Encode writes one frame.
func (e *Encoder) Encode(f *Frame) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enc.Encode(f); err != nil {
		return fmt.Errorf("jswire: encode %s frame: %w", f.Type, err)
	}
	return nil
}

// Decoder reads frames from a newline-delimited JSON stream.
type Decoder struct {
	dec *json.Decoder
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{dec: json.NewDecoder(r)}
}

// Decode reads the next frame. It returns io.EOF unchanged when the
// stream ends cleanly between frames.
func (d *Decoder) Decode() (*Frame, error) {
	var f Frame
	if err := d.dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("jswire: decode frame: %w", err)
	}
	if f.Type == "" {
		return nil, errors.New("jswire: frame missing type")
	}
	return &f, nil
}
