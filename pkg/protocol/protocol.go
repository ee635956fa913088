// Package protocol defines the relay's wire messages and their framing.
//
// Every message is a JSON object tagged by a "type" field, carried in a frame
// of [4-byte big-endian length][JSON payload]. A single transport read may
// hold part of a frame or several frames, so stream consumers either read
// whole frames with ReadMessage or feed raw chunks through a Decoder.
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	// HeaderSize is the byte size of the frame length prefix.
	HeaderSize = 4

	// MaxPayloadSize is the maximum JSON payload size of a single frame.
	MaxPayloadSize = 1024
)

var (
	ErrFrameTooLarge = fmt.Errorf("protocol: payload exceeds %d bytes", MaxPayloadSize)
	ErrMalformed     = errors.New("protocol: malformed message")
)

// Encode serializes msg into a complete frame.
func Encode(msg *Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal: %w", err)
	}
	if len(data) > MaxPayloadSize {
		return nil, ErrFrameTooLarge
	}
	frame := make([]byte, HeaderSize+len(data))
	binary.BigEndian.PutUint32(frame[:HeaderSize], uint32(len(data))) //nolint:gosec // length already bounds-checked above
	copy(frame[HeaderSize:], data)
	return frame, nil
}

// WriteMessage writes msg as one frame. The frame goes out in a single Write
// so a TLS record never carries a dangling length prefix.
func WriteMessage(w io.Writer, msg *Message) error {
	frame, err := Encode(msg)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("protocol: write: %w", err)
	}
	return nil
}

// ReadMessage blocks until one whole frame has been read from r.
func ReadMessage(r io.Reader) (*Message, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > MaxPayloadSize {
		return nil, ErrFrameTooLarge
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("protocol: read payload: %w", err)
	}
	return decodePayload(data)
}

func decodePayload(data []byte) (*Message, error) {
	msg := &Message{}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return msg, nil
}

// Decoder reassembles frames from arbitrarily split or coalesced chunks.
// The zero value is ready to use. A Decoder is not safe for concurrent use.
type Decoder struct {
	buf []byte
}

// Feed appends chunk to the pending bytes and returns every message completed
// by it, in stream order. After an error the stream is unusable; callers drop
// the connection.
func (d *Decoder) Feed(chunk []byte) ([]*Message, error) {
	d.buf = append(d.buf, chunk...)

	var msgs []*Message
	off := 0
	for len(d.buf)-off >= HeaderSize {
		length := binary.BigEndian.Uint32(d.buf[off : off+HeaderSize])
		if length > MaxPayloadSize {
			return msgs, ErrFrameTooLarge
		}
		end := off + HeaderSize + int(length)
		if len(d.buf) < end {
			break
		}
		msg, err := decodePayload(d.buf[off+HeaderSize : end])
		if err != nil {
			return msgs, err
		}
		msgs = append(msgs, msg)
		off = end
	}

	// Keep only the incomplete tail.
	rest := copy(d.buf, d.buf[off:])
	d.buf = d.buf[:rest]
	return msgs, nil
}

// Buffered returns the number of bytes held for an incomplete frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}
