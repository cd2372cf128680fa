// Package netio provides the byte-oriented reader and writer used for record
// packets. All integers are little-endian and strings carry a 7-bit varint
// length prefix, matching the layout produced by a .NET BinaryWriter.
package netio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

// MaxStringLen bounds a single string in bytes. Readers reject longer
// strings, so callers must not hand one to a Writer.
const MaxStringLen = 1 << 16

var (
	// ErrShortBuffer is returned when a read needs more bytes than remain.
	ErrShortBuffer = errors.New("netio: short buffer")
	// ErrBadString is returned for an oversized or non UTF-8 string.
	ErrBadString = errors.New("netio: invalid string")
)

// Writer appends primitives to a growing byte slice.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with the given initial capacity.
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

// WriteByte appends a single byte. It never fails.
func (w *Writer) WriteByte(b byte) error {
	w.buf = append(w.buf, b)
	return nil
}

// WriteInt32 appends v as 4 little-endian bytes.
func (w *Writer) WriteInt32(v int32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(v))
}

// WriteInt64 appends v as 8 little-endian bytes.
func (w *Writer) WriteInt64(v int64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, uint64(v))
}

// CheckString reports whether s can be read back by a Reader.
func CheckString(s string) error {
	if len(s) > MaxStringLen {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrBadString, len(s), MaxStringLen)
	}
	if !utf8.ValidString(s) {
		return fmt.Errorf("%w: not UTF-8", ErrBadString)
	}
	return nil
}

// WriteString appends a 7-bit length-prefixed string. s should pass
// CheckString; the writer does not verify it.
func (w *Writer) WriteString(s string) {
	w.buf = binary.AppendUvarint(w.buf, uint64(len(s)))
	w.buf = append(w.buf, s...)
}

// WriteBytes appends raw bytes without a prefix.
func (w *Writer) WriteBytes(p []byte) {
	w.buf = append(w.buf, p...)
}

// Bytes returns the written bytes. The slice aliases the writer's buffer.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Reader consumes primitives from a byte slice.
type Reader struct {
	buf []byte
	off int
}

// NewReader returns a Reader over p. The reader does not copy p.
func NewReader(p []byte) *Reader {
	return &Reader{buf: p}
}

func (r *Reader) need(n int) error {
	if n < 0 || len(r.buf)-r.off < n {
		return fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortBuffer, n, r.off, len(r.buf)-r.off)
	}
	return nil
}

// ReadByte reads a single byte.
func (r *Reader) ReadByte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.buf[r.off]
	r.off++
	return b, nil
}

// ReadInt32 reads 4 little-endian bytes.
func (r *Reader) ReadInt32() (int32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return int32(v), nil
}

// ReadInt64 reads 8 little-endian bytes.
func (r *Reader) ReadInt64() (int64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return int64(v), nil
}

// ReadString reads a 7-bit length-prefixed UTF-8 string.
func (r *Reader) ReadString() (string, error) {
	n, size := binary.Uvarint(r.buf[r.off:])
	if size == 0 {
		return "", fmt.Errorf("%w: string length at offset %d", ErrShortBuffer, r.off)
	}
	if size < 0 || n > MaxStringLen {
		return "", fmt.Errorf("%w: length prefix at offset %d", ErrBadString, r.off)
	}
	if err := r.need(size + int(n)); err != nil {
		return "", err
	}
	start := r.off + size
	s := string(r.buf[start : start+int(n)])
	if !utf8.ValidString(s) {
		return "", fmt.Errorf("%w: not UTF-8 at offset %d", ErrBadString, start)
	}
	r.off = start + int(n)
	return s, nil
}

// ReadRest returns every unread byte and advances to the end.
func (r *Reader) ReadRest() []byte {
	rest := r.buf[r.off:]
	r.off = len(r.buf)
	return rest
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}
