// Package eventstream decodes the binary AWS EventStream framing used by the
// Kiro assistant-response API: length-prefixed, CRC-validated frames carrying
// typed headers and a JSON payload.
package eventstream

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"time"
)

const (
	// PreludeSize is the fixed size of the frame prelude:
	// total length (4) + header length (4) + prelude CRC (4).
	PreludeSize = 12

	// MinFrameSize is the smallest legal frame: prelude + message CRC.
	MinFrameSize = PreludeSize + 4

	// MaxFrameSize is the largest frame the decoder accepts (16 MiB).
	MaxFrameSize = 16 * 1024 * 1024
)

// Frame decoding errors. CRC mismatches are wrapped with the expected and
// actual checksums; match with errors.Is.
var (
	ErrFrameTooSmall      = errors.New("eventstream: frame length below minimum")
	ErrFrameTooLarge      = errors.New("eventstream: frame length exceeds maximum")
	ErrPreludeCRCMismatch = errors.New("eventstream: prelude CRC mismatch")
	ErrMessageCRCMismatch = errors.New("eventstream: message CRC mismatch")
	ErrHeaderParse        = errors.New("eventstream: header parse failed")
	ErrInvalidMessageType = errors.New("eventstream: invalid message type")
)

// HeaderType identifies the wire type of a header value.
type HeaderType uint8

// Header value type tags, per the AWS EventStream encoding.
const (
	HeaderBoolTrue  HeaderType = 0
	HeaderBoolFalse HeaderType = 1
	HeaderInt8      HeaderType = 2
	HeaderInt16     HeaderType = 3
	HeaderInt32     HeaderType = 4
	HeaderInt64     HeaderType = 5
	HeaderByteArray HeaderType = 6
	HeaderString    HeaderType = 7
	HeaderTimestamp HeaderType = 8
	HeaderUUID      HeaderType = 9
)

// HeaderValue is a decoded header value. Exactly one of the value fields is
// meaningful, selected by Type.
type HeaderValue struct {
	Type  HeaderType
	Bool  bool
	Int   int64
	Bytes []byte
	Str   string
	Time  time.Time
}

// String renders the value for the string-typed headers the gateway reads
// (:message-type, :event-type and friends). Non-string values render their
// natural textual form.
func (v HeaderValue) String() string {
	switch v.Type {
	case HeaderBoolTrue, HeaderBoolFalse:
		return fmt.Sprintf("%t", v.Bool)
	case HeaderInt8, HeaderInt16, HeaderInt32, HeaderInt64:
		return fmt.Sprintf("%d", v.Int)
	case HeaderByteArray, HeaderUUID:
		return fmt.Sprintf("%x", v.Bytes)
	case HeaderString:
		return v.Str
	case HeaderTimestamp:
		return v.Time.UTC().Format(time.RFC3339Nano)
	}
	return ""
}

// Headers is an insertion-ordered header map. Names are case-sensitive;
// setting an existing name overwrites in place.
type Headers struct {
	names  []string
	values map[string]HeaderValue
}

// Set inserts or overwrites a header.
func (h *Headers) Set(name string, value HeaderValue) {
	if h.values == nil {
		h.values = make(map[string]HeaderValue)
	}
	if _, ok := h.values[name]; !ok {
		h.names = append(h.names, name)
	}
	h.values[name] = value
}

// Get returns the value for name.
func (h *Headers) Get(name string) (HeaderValue, bool) {
	v, ok := h.values[name]
	return v, ok
}

// GetString returns the string form of the named header, or "" if absent.
func (h *Headers) GetString(name string) string {
	v, ok := h.values[name]
	if !ok {
		return ""
	}
	return v.String()
}

// Names returns header names in insertion order.
func (h *Headers) Names() []string {
	return h.names
}

// Len returns the number of headers.
func (h *Headers) Len() int {
	return len(h.names)
}

// Well-known header accessors.

// MessageType returns the ":message-type" header ("event", "error", "exception").
func (h *Headers) MessageType() string { return h.GetString(":message-type") }

// EventType returns the ":event-type" header.
func (h *Headers) EventType() string { return h.GetString(":event-type") }

// ErrorCode returns the ":error-code" header.
func (h *Headers) ErrorCode() string { return h.GetString(":error-code") }

// ExceptionType returns the ":exception-type" header.
func (h *Headers) ExceptionType() string { return h.GetString(":exception-type") }

// Frame is one decoded EventStream message: typed headers plus an opaque
// payload (usually JSON).
type Frame struct {
	Headers Headers
	Payload []byte
}

// ParseFrame extracts one complete frame from the head of buf.
//
// It is a pure function: buf ownership stays with the caller, and no state is
// carried between calls. The second return value is the number of bytes the
// frame occupied. A (nil, 0, nil) return means buf does not yet hold a
// complete frame and more bytes are needed.
func ParseFrame(buf []byte) (*Frame, int, error) {
	if len(buf) < PreludeSize {
		return nil, 0, nil
	}

	totalLength := binary.BigEndian.Uint32(buf[0:4])
	headerLength := binary.BigEndian.Uint32(buf[4:8])
	preludeCRC := binary.BigEndian.Uint32(buf[8:12])

	if totalLength < MinFrameSize {
		return nil, 0, fmt.Errorf("%w: length %d, minimum %d", ErrFrameTooSmall, totalLength, MinFrameSize)
	}
	if totalLength > MaxFrameSize {
		return nil, 0, fmt.Errorf("%w: length %d, maximum %d", ErrFrameTooLarge, totalLength, MaxFrameSize)
	}

	if uint32(len(buf)) < totalLength {
		return nil, 0, nil
	}

	// The prelude CRC covers the first 8 bytes (total length + header length).
	if actual := crc32.ChecksumIEEE(buf[0:8]); actual != preludeCRC {
		return nil, 0, fmt.Errorf("%w: expected %08x, actual %08x", ErrPreludeCRCMismatch, preludeCRC, actual)
	}

	// The message CRC covers everything except its own trailing 4 bytes.
	messageCRC := binary.BigEndian.Uint32(buf[totalLength-4 : totalLength])
	if actual := crc32.ChecksumIEEE(buf[:totalLength-4]); actual != messageCRC {
		return nil, 0, fmt.Errorf("%w: expected %08x, actual %08x", ErrMessageCRCMismatch, messageCRC, actual)
	}

	if headerLength > totalLength-MinFrameSize {
		return nil, 0, fmt.Errorf("%w: header length %d exceeds frame bounds", ErrHeaderParse, headerLength)
	}

	headers, err := parseHeaders(buf[PreludeSize : PreludeSize+headerLength])
	if err != nil {
		return nil, 0, err
	}

	// Payload sits between the header region and the message CRC; it may be
	// empty.
	payload := make([]byte, totalLength-4-PreludeSize-headerLength)
	copy(payload, buf[PreludeSize+headerLength:totalLength-4])

	return &Frame{Headers: headers, Payload: payload}, int(totalLength), nil
}

// parseHeaders decodes the header region. Each entry is
// name_len(1) | name | type_tag(1) | value. Exactly len(data) bytes must be
// consumed.
func parseHeaders(data []byte) (Headers, error) {
	var headers Headers
	pos := 0

	for pos < len(data) {
		nameLen := int(data[pos])
		pos++
		if pos+nameLen > len(data) {
			return headers, fmt.Errorf("%w: truncated header name", ErrHeaderParse)
		}
		name := string(data[pos : pos+nameLen])
		pos += nameLen

		if pos >= len(data) {
			return headers, fmt.Errorf("%w: missing type tag for %q", ErrHeaderParse, name)
		}
		tag := HeaderType(data[pos])
		pos++

		value, n, err := parseHeaderValue(tag, data[pos:])
		if err != nil {
			return headers, fmt.Errorf("%w: header %q: %v", ErrHeaderParse, name, err)
		}
		pos += n

		headers.Set(name, value)
	}

	return headers, nil
}

// parseHeaderValue decodes one value of the given type from the front of data,
// returning the value and the number of bytes consumed.
func parseHeaderValue(tag HeaderType, data []byte) (HeaderValue, int, error) {
	switch tag {
	case HeaderBoolTrue:
		return HeaderValue{Type: tag, Bool: true}, 0, nil
	case HeaderBoolFalse:
		return HeaderValue{Type: tag, Bool: false}, 0, nil
	case HeaderInt8:
		if len(data) < 1 {
			return HeaderValue{}, 0, errors.New("truncated int8")
		}
		return HeaderValue{Type: tag, Int: int64(int8(data[0]))}, 1, nil
	case HeaderInt16:
		if len(data) < 2 {
			return HeaderValue{}, 0, errors.New("truncated int16")
		}
		return HeaderValue{Type: tag, Int: int64(int16(binary.BigEndian.Uint16(data)))}, 2, nil
	case HeaderInt32:
		if len(data) < 4 {
			return HeaderValue{}, 0, errors.New("truncated int32")
		}
		return HeaderValue{Type: tag, Int: int64(int32(binary.BigEndian.Uint32(data)))}, 4, nil
	case HeaderInt64:
		if len(data) < 8 {
			return HeaderValue{}, 0, errors.New("truncated int64")
		}
		return HeaderValue{Type: tag, Int: int64(binary.BigEndian.Uint64(data))}, 8, nil
	case HeaderByteArray:
		if len(data) < 2 {
			return HeaderValue{}, 0, errors.New("truncated byte-array length")
		}
		n := int(binary.BigEndian.Uint16(data))
		if len(data) < 2+n {
			return HeaderValue{}, 0, errors.New("truncated byte-array value")
		}
		b := make([]byte, n)
		copy(b, data[2:2+n])
		return HeaderValue{Type: tag, Bytes: b}, 2 + n, nil
	case HeaderString:
		if len(data) < 2 {
			return HeaderValue{}, 0, errors.New("truncated string length")
		}
		n := int(binary.BigEndian.Uint16(data))
		if len(data) < 2+n {
			return HeaderValue{}, 0, errors.New("truncated string value")
		}
		return HeaderValue{Type: tag, Str: string(data[2 : 2+n])}, 2 + n, nil
	case HeaderTimestamp:
		if len(data) < 8 {
			return HeaderValue{}, 0, errors.New("truncated timestamp")
		}
		ms := int64(binary.BigEndian.Uint64(data))
		return HeaderValue{Type: tag, Time: time.UnixMilli(ms)}, 8, nil
	case HeaderUUID:
		if len(data) < 16 {
			return HeaderValue{}, 0, errors.New("truncated uuid")
		}
		b := make([]byte, 16)
		copy(b, data)
		return HeaderValue{Type: tag, Bytes: b}, 16, nil
	}
	return HeaderValue{}, 0, fmt.Errorf("unknown type tag %d", tag)
}
