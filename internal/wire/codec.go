// Package wire implements the length-prefixed framing and typed field codec shared by the
// store link and the client handshake.
//
// A frame on a stream is a 4-byte big-endian length followed by that many payload bytes.
// Inside a payload, strings are an unsigned varint byte length followed by UTF-8 bytes,
// and a trailing byte field runs to the end of the payload.
package wire

import (
	"encoding/binary"
	"errors"
	"unicode/utf8"
)

// PrefixLen is the size of the frame length prefix
const PrefixLen = 4

var (
	ErrShortBuffer   = errors.New("wire: short buffer")
	ErrInvalidString = errors.New("wire: invalid string")
	ErrFrameTooLarge = errors.New("wire: frame too large")
)

// Writer builds a payload field by field. A framed writer reserves the length prefix and
// fills it in Bytes.
type Writer struct {
	order  binary.ByteOrder
	buf    []byte
	framed bool
}

// NewWriter returns a writer for an unframed payload
func NewWriter(order binary.ByteOrder) *Writer {
	return &Writer{order: order}
}

// NewFrameWriter returns a writer whose output carries the length prefix
func NewFrameWriter(order binary.ByteOrder, sizeHint int) *Writer {
	buf := make([]byte, PrefixLen, PrefixLen+sizeHint)
	return &Writer{order: order, buf: buf, framed: true}
}

func (w *Writer) Uint8(v uint8) *Writer {
	w.buf = append(w.buf, v)
	return w
}

func (w *Writer) Uint32(v uint32) *Writer {
	var b [4]byte
	w.order.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
	return w
}

func (w *Writer) Uint64(v uint64) *Writer {
	var b [8]byte
	w.order.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
	return w
}

// String appends a varint length-prefixed string
func (w *Writer) String(s string) *Writer {
	w.buf = binary.AppendUvarint(w.buf, uint64(len(s)))
	w.buf = append(w.buf, s...)
	return w
}

// Raw appends bytes with no length; it must be the last field of a payload
func (w *Writer) Raw(b []byte) *Writer {
	w.buf = append(w.buf, b...)
	return w
}

// Bytes returns the encoded payload, with its length prefix for framed writers
func (w *Writer) Bytes() []byte {
	if w.framed {
		binary.BigEndian.PutUint32(w.buf[:PrefixLen], uint32(len(w.buf)-PrefixLen))
	}
	return w.buf
}

// Reader decodes fields from a single payload
type Reader struct {
	order binary.ByteOrder
	buf   []byte
	off   int
}

func NewReader(b []byte, order binary.ByteOrder) *Reader {
	return &Reader{order: order, buf: b}
}

func (r *Reader) Uint8() (uint8, error) {
	if r.Len() < 1 {
		return 0, ErrShortBuffer
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

func (r *Reader) Uint64() (uint64, error) {
	if r.Len() < 8 {
		return 0, ErrShortBuffer
	}
	v := r.order.Uint64(r.buf[r.off:])
	r.off += 8
	return v, nil
}

// String reads a varint length-prefixed UTF-8 string
func (r *Reader) String() (string, error) {
	n, size := binary.Uvarint(r.buf[r.off:])
	if size == 0 {
		return "", ErrShortBuffer
	}
	if size < 0 {
		return "", ErrInvalidString
	}
	if uint64(r.Len()-size) < n {
		return "", ErrShortBuffer
	}
	start := r.off + size
	s := r.buf[start : start+int(n)]
	if !utf8.Valid(s) {
		return "", ErrInvalidString
	}
	r.off = start + int(n)
	return string(s), nil
}

// Rest returns every unread byte and consumes them
func (r *Reader) Rest() []byte {
	rest := r.buf[r.off:]
	r.off = len(r.buf)
	return rest
}

// Len reports the number of unread bytes
func (r *Reader) Len() int {
	return len(r.buf) - r.off
}
