package protocol

import (
	"encoding/hex"
	"errors"
	"fmt"
)

// Frame layout constants
const (
	// SessionIDSize is the length of the session tag that prefixes every frame
	SessionIDSize = 4
	// HeaderSize is the number of bytes preceding the PCM payload
	HeaderSize = SessionIDSize
)

// ErrFrameTooShort is returned when a frame cannot hold a session id
var ErrFrameTooShort = errors.New("frame too short")

// SessionID is an opaque grouping token. Clients compare it for equality to
// tell playback sessions apart; it carries no ordering.
type SessionID [SessionIDSize]byte

func (id SessionID) String() string {
	return hex.EncodeToString(id[:])
}

// Frame is one server-to-client binary message
// Layout: [SessionID:4][PCM:N]
type Frame struct {
	Session SessionID
	Payload []byte // canonical PCM, may be empty
}

// EncodeFrame builds the wire form of a frame into a new slice, so the result
// never aliases payload.
func EncodeFrame(id SessionID, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	copy(buf, id[:])
	copy(buf[HeaderSize:], payload)
	return buf
}

// ParseFrame splits a received message into session id and payload. The
// payload aliases data.
func ParseFrame(data []byte) (*Frame, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: expected at least %d bytes, got %d", ErrFrameTooShort, HeaderSize, len(data))
	}

	frame := &Frame{Payload: data[HeaderSize:]}
	copy(frame.Session[:], data[:HeaderSize])

	return frame, nil
}

// ParseSessionID decodes the hex form produced by SessionID.String
func ParseSessionID(s string) (SessionID, error) {
	var id SessionID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("invalid session id %q: %w", s, err)
	}
	if len(b) != SessionIDSize {
		return id, fmt.Errorf("invalid session id %q: expected %d bytes, got %d", s, SessionIDSize, len(b))
	}
	copy(id[:], b)
	return id, nil
}
