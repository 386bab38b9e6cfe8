// Package ipc implements the cross-process message channel the Outcome
// Protocol and Task Queue travel over once a worker is spawned as a real OS
// process. Frames are gob-encoded and length-prefixed so a reader never has
// to guess where one message ends and the next begins on a shared pipe.
package ipc

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
)

// maxFrameBytes bounds a single frame so a corrupted length prefix cannot
// make a reader allocate an unbounded buffer.
const maxFrameBytes = 64 << 20

// Encoder writes length-prefixed gob frames to an underlying writer. It is
// safe for use by a single goroutine at a time, matching the single-writer
// discipline of the worker's consumption loop and the Dispatcher's
// per-worker task forwarder.
type Encoder struct {
	w io.Writer
}

// NewEncoder wraps w. Callers typically pass a subprocess's stdin pipe.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// MarshalError reports that a value could not be gob-encoded. Because
// Encode builds the frame in a local buffer before writing anything, a
// MarshalError means the underlying transport was never touched and is
// still healthy — unlike a write error, it does not indicate a dead pipe.
type MarshalError struct {
	err error
}

func (e *MarshalError) Error() string { return e.err.Error() }
func (e *MarshalError) Unwrap() error { return e.err }

// Encode gob-encodes v and writes it as one length-prefixed frame. A
// failure during encoding (v contains an unregistered or unserializable
// type) is returned as *MarshalError so callers can tell it apart from a
// failure writing to the transport.
func (e *Encoder) Encode(v any) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return &MarshalError{err: fmt.Errorf("ipc: encode frame: %w", err)}
	}

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(buf.Len()))

	if _, err := e.w.Write(header); err != nil {
		return fmt.Errorf("ipc: write frame header: %w", err)
	}
	if _, err := e.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("ipc: write frame body: %w", err)
	}
	return nil
}

// Decoder reads length-prefixed gob frames from an underlying reader.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder wraps r. Callers typically pass a subprocess's stdout pipe.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Decode blocks until a full frame is available and gob-decodes it into v.
// It returns io.EOF when the peer has closed its writer cleanly between
// frames (used to detect worker-subprocess exit).
func (d *Decoder) Decode(v any) error {
	header := make([]byte, 4)
	if _, err := io.ReadFull(d.r, header); err != nil {
		return err
	}
	size := binary.BigEndian.Uint32(header)
	if size > maxFrameBytes {
		return fmt.Errorf("ipc: frame of %d bytes exceeds limit", size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		return fmt.Errorf("ipc: read frame body: %w", err)
	}

	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(v); err != nil {
		return fmt.Errorf("ipc: decode frame: %w", err)
	}
	return nil
}

func registerGob(value any) {
	gob.Register(value)
}
