package cluster

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
)

// MaxFrameLength bounds a single frame payload.
const MaxFrameLength = 8 << 20

const headerLen = 4

// taskEnvelope bounds the bytes a Task message adds around its escaped
// markup: tags, field names, the widest action set and the largest id.
const taskEnvelope = 512

var (
	// ErrClosed reports that the peer closed the stream, possibly mid-frame.
	// Callers treat it as a normal end of the connection.
	ErrClosed = errors.New("connection closed")

	// ErrMalformed reports a complete frame whose payload is not a valid
	// Message. It is fatal to the connection.
	ErrMalformed = errors.New("malformed message")

	// ErrFrameTooLarge reports a length prefix above MaxFrameLength.
	ErrFrameTooLarge = errors.New("frame exceeds maximum length")
)

// IsProtocolError reports whether err must terminate the connection as a
// protocol violation rather than a transport shutdown.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrMalformed) || errors.Is(err, ErrFrameTooLarge)
}

// Encode serializes a message payload without framing.
func Encode(m Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return payload, nil
}

// TaskFits reports whether a task carrying markup encodes within
// MaxFrameLength whatever its id and requested actions.
func TaskFits(markup string) bool {
	// JSON escaping grows a byte to at most six ("\u003c").
	if 6*len(markup)+taskEnvelope <= MaxFrameLength {
		return true
	}
	if len(markup) > MaxFrameLength {
		return false
	}
	payload, err := Encode(NewTask(math.MaxUint32, markup, NewActionSet(AllActions()...)))
	return err == nil && len(payload) <= MaxFrameLength
}

// Decode parses one frame payload.
func Decode(payload []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// WriteFrame writes a 4-byte big-endian length prefix followed by payload
// in a single Write call.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameLength {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	buf := make([]byte, headerLen+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[headerLen:], payload)
	if _, err := w.Write(buf); err != nil {
		return transportErr(err)
	}
	return nil
}

// ReadFrame reads exactly one frame payload. A stream that ends before or
// inside a frame yields ErrClosed.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [headerLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, transportErr(err)
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > MaxFrameLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, transportErr(err)
	}
	return payload, nil
}

// WriteMessage encodes and frames m.
func WriteMessage(w io.Writer, m Message) error {
	payload, err := Encode(m)
	if err != nil {
		return err
	}
	return WriteFrame(w, payload)
}

// ReadMessage reads and decodes the next framed message.
func ReadMessage(r io.Reader) (Message, error) {
	payload, err := ReadFrame(r)
	if err != nil {
		return Message{}, err
	}
	return Decode(payload)
}

func transportErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return err
}
