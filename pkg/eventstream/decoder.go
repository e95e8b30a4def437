package eventstream

import (
	"io"
)

// Decoder accumulates bytes from an EventStream body and yields successive
// frames. Partial frames survive any number of Feed calls; the decoder carries
// no timers, so cancellation belongs to the caller.
//
// A Decoder is not safe for concurrent use. One decoder serves one upstream
// response.
type Decoder struct {
	buf    []byte
	failed error
}

// NewDecoder returns an empty decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends bytes to the internal buffer.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Next returns the next complete frame, (nil, nil) when the buffer does not
// yet hold one, or an error. Decode errors are sticky: the stream is corrupt
// past the failure point and every later call returns the same error.
func (d *Decoder) Next() (*Frame, error) {
	if d.failed != nil {
		return nil, d.failed
	}

	frame, consumed, err := ParseFrame(d.buf)
	if err != nil {
		d.failed = err
		d.buf = nil
		return nil, err
	}
	if frame == nil {
		return nil, nil
	}

	d.buf = d.buf[consumed:]
	return frame, nil
}

// Buffered returns the number of unconsumed bytes.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// DecodeAll drains every complete frame currently buffered.
func (d *Decoder) DecodeAll() ([]*Frame, error) {
	var frames []*Frame
	for {
		frame, err := d.Next()
		if err != nil {
			return frames, err
		}
		if frame == nil {
			return frames, nil
		}
		frames = append(frames, frame)
	}
}

// EventReader pulls frames out of an io.Reader and converts them to events.
// Reads happen lazily, one chunk at a time, so a slow consumer naturally
// throttles the upstream body.
type EventReader struct {
	r       io.Reader
	decoder *Decoder
	chunk   []byte
}

// NewEventReader wraps an upstream response body.
func NewEventReader(r io.Reader) *EventReader {
	return &EventReader{
		r:       r,
		decoder: NewDecoder(),
		chunk:   make([]byte, 32*1024),
	}
}

// Next returns the next event, io.EOF at clean end of stream, or an error.
// A stream that ends mid-frame reports io.ErrUnexpectedEOF.
func (er *EventReader) Next() (Event, error) {
	for {
		frame, err := er.decoder.Next()
		if err != nil {
			return nil, err
		}
		if frame != nil {
			return EventFromFrame(frame)
		}

		n, err := er.r.Read(er.chunk)
		if n > 0 {
			er.decoder.Feed(er.chunk[:n])
			continue
		}
		if err == io.EOF {
			if er.decoder.Buffered() > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, io.EOF
		}
		if err != nil {
			return nil, err
		}
	}
}
