package wire

import (
	"encoding/binary"
	"errors"
	"io"
)

// Decoder reassembles frames from a byte stream that may split or coalesce them.
type Decoder struct {
	buf []byte
	max int
}

// NewDecoder returns a decoder; maxFrame bounds the declared payload length, 0 means no bound
func NewDecoder(maxFrame int) *Decoder {
	return &Decoder{max: maxFrame}
}

// Write buffers p. It never fails.
func (d *Decoder) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)
	return len(p), nil
}

// Next extracts one complete payload, or returns nil when more bytes are needed
func (d *Decoder) Next() ([]byte, error) {
	if len(d.buf) < PrefixLen {
		return nil, nil
	}
	n := binary.BigEndian.Uint32(d.buf)
	if d.max > 0 && uint64(n) > uint64(d.max) {
		return nil, ErrFrameTooLarge
	}
	end := PrefixLen + int(n)
	if len(d.buf) < end {
		return nil, nil
	}
	frame := make([]byte, n)
	copy(frame, d.buf[PrefixLen:end])
	d.buf = d.buf[end:]
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return frame, nil
}

// Buffered reports bytes held for an incomplete frame
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// ReadFrames reads r in chunks of bufSize and calls fn for every complete frame in
// arrival order. It returns when r fails, a frame is oversize or fn returns an error.
func ReadFrames(r io.Reader, d *Decoder, bufSize int, fn func(frame []byte) error) error {
	if bufSize <= 0 {
		bufSize = 32 * 1024
	}
	chunk := make([]byte, bufSize)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			_, _ = d.Write(chunk[:n])
			for {
				frame, ferr := d.Next()
				if ferr != nil {
					return ferr
				}
				if frame == nil {
					break
				}
				if cerr := fn(frame); cerr != nil {
					return cerr
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) && d.Buffered() > 0 {
				return io.ErrUnexpectedEOF
			}
			return err
		}
	}
}
