package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrInvalidPayload = errors.New("invalid payload")
)

const (
	markerHandshake byte = 0x00
	markerEvent     byte = 0x01
	markerMessage   byte = 0x02

	lengthSeparator = ':'

	maxEventNameDigits = 6
)

// MaxEventNameLength is the longest event name a frame can carry.
const MaxEventNameLength = 999999

// Kind identifies the type of a decoded frame.
type Kind int

const (
	KindHandshake Kind = iota
	KindEvent
	KindMessage
)

func (k Kind) String() string {
	switch k {
	case KindHandshake:
		return "handshake"
	case KindEvent:
		return "event"
	case KindMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Message is a decoded envelope. Data holds the serialized value exactly as
// it appeared on the wire.
type Message struct {
	Kind  Kind
	Event string
	Data  []byte
}

// Serializer converts application values to and from bytes.
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type jsonSerializer struct{}

func (jsonSerializer) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonSerializer) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// JSON is the default serializer.
var JSON Serializer = jsonSerializer{}

// Codec pairs the wire format with a Serializer.
type Codec struct {
	serializer Serializer
}

// Default is a Codec using JSON.
var Default = New(JSON)

// New creates a codec. A nil serializer falls back to JSON.
func New(s Serializer) *Codec {
	if s == nil {
		s = JSON
	}
	return &Codec{serializer: s}
}

// Handshake returns the control frame that marks a completed open handshake.
func Handshake() []byte {
	return []byte{markerHandshake}
}

// EncodeEvent builds an event frame for the given event name and value.
// Names longer than MaxEventNameLength yield an error wrapping
// ErrInvalidPayload.
func (c *Codec) EncodeEvent(event string, data any) ([]byte, error) {
	if len(event) > MaxEventNameLength {
		return nil, fmt.Errorf("%w: event name is %d bytes, limit is %d",
			ErrInvalidPayload, len(event), MaxEventNameLength)
	}
	body, err := c.serializer.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event %q: %w", event, err)
	}
	return EventFrame(event, body), nil
}

// EncodeMessage builds a plain frame for the given value.
func (c *Codec) EncodeMessage(data any) ([]byte, error) {
	body, err := c.serializer.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return MessageFrame(body), nil
}

// Unmarshal decodes the data carried by msg into v.
func (c *Codec) Unmarshal(msg *Message, v any) error {
	if msg == nil || len(msg.Data) == 0 {
		return fmt.Errorf("%w: empty data", ErrInvalidPayload)
	}
	if err := c.serializer.Unmarshal(msg.Data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// EventFrame builds an event frame around already serialized data. The
// event name is not checked against MaxEventNameLength.
func EventFrame(event string, data []byte) []byte {
	prefix := strconv.Itoa(len(event))

	frame := make([]byte, 0, 2+len(prefix)+len(event)+len(data))
	frame = append(frame, markerEvent)
	frame = append(frame, prefix...)
	frame = append(frame, lengthSeparator)
	frame = append(frame, event...)
	frame = append(frame, data...)
	return frame
}

// MessageFrame builds a plain frame around already serialized data.
func MessageFrame(data []byte) []byte {
	frame := make([]byte, 0, 1+len(data))
	frame = append(frame, markerMessage)
	return append(frame, data...)
}

// Decode parses a text frame. Malformed frames yield an error wrapping
// ErrInvalidPayload.
func Decode(frame []byte) (*Message, error) {
	if len(frame) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrInvalidPayload)
	}

	switch frame[0] {
	case markerHandshake:
		if len(frame) != 1 {
			return nil, fmt.Errorf("%w: trailing bytes after handshake", ErrInvalidPayload)
		}
		return &Message{Kind: KindHandshake}, nil

	case markerMessage:
		return &Message{Kind: KindMessage, Data: frame[1:]}, nil

	case markerEvent:
		return decodeEvent(frame[1:])

	default:
		return nil, fmt.Errorf("%w: unknown marker 0x%02x", ErrInvalidPayload, frame[0])
	}
}

func decodeEvent(rest []byte) (*Message, error) {
	sep := bytes.IndexByte(rest, lengthSeparator)
	if sep <= 0 || sep > maxEventNameDigits {
		return nil, fmt.Errorf("%w: missing event length", ErrInvalidPayload)
	}

	digits := rest[:sep]
	for _, d := range digits {
		if d < '0' || d > '9' {
			return nil, fmt.Errorf("%w: bad event length %q", ErrInvalidPayload, digits)
		}
	}
	n, err := strconv.Atoi(string(digits))
	if err != nil {
		return nil, fmt.Errorf("%w: bad event length %q", ErrInvalidPayload, digits)
	}

	rest = rest[sep+1:]
	if n > len(rest) {
		return nil, fmt.Errorf("%w: truncated event name", ErrInvalidPayload)
	}

	return &Message{
		Kind:  KindEvent,
		Event: string(rest[:n]),
		Data:  rest[n:],
	}, nil
}
