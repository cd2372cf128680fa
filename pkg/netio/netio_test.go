package netio

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_LittleEndianLayout(t *testing.T) {
	w := NewWriter(16)
	w.WriteInt32(1)
	w.WriteInt32(-1)

	assert.Equal(t, []byte{1, 0, 0, 0, 0xff, 0xff, 0xff, 0xff}, w.Bytes())
	assert.Equal(t, 8, w.Len())
}

func TestWriter_StringPrefix(t *testing.T) {
	w := NewWriter(0)
	w.WriteString("Alice")
	assert.Equal(t, []byte{5, 'A', 'l', 'i', 'c', 'e'}, w.Bytes())

	long := strings.Repeat("x", 200)
	w = NewWriter(0)
	w.WriteString(long)
	// 200 = 0xC8 -> 0xC8 0x01 as a 7-bit varint
	assert.Equal(t, []byte{0xc8, 0x01}, w.Bytes()[:2])
	assert.Equal(t, 202, w.Len())
}

func TestReader_Primitives(t *testing.T) {
	w := NewWriter(0)
	_ = w.WriteByte(7)
	w.WriteInt32(-120)
	w.WriteInt64(1 << 40)
	w.WriteString("héllo")
	w.WriteBytes([]byte{9, 9})

	r := NewReader(w.Bytes())

	b, err := r.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte(7), b)

	i32, err := r.ReadInt32()
	require.NoError(t, err)
	assert.Equal(t, int32(-120), i32)

	i64, err := r.ReadInt64()
	require.NoError(t, err)
	assert.Equal(t, int64(1<<40), i64)

	s, err := r.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "héllo", s)

	assert.Equal(t, 2, r.Remaining())
	assert.Equal(t, []byte{9, 9}, r.ReadRest())
	assert.Equal(t, 0, r.Remaining())
}

func TestReader_ShortBuffer(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		read func(r *Reader) error
	}{
		{"byte", nil, func(r *Reader) error { _, err := r.ReadByte(); return err }},
		{"int32", []byte{1, 2, 3}, func(r *Reader) error { _, err := r.ReadInt32(); return err }},
		{"int64", []byte{1, 2, 3, 4}, func(r *Reader) error { _, err := r.ReadInt64(); return err }},
		{"string prefix", nil, func(r *Reader) error { _, err := r.ReadString(); return err }},
		{"string body", []byte{4, 'a'}, func(r *Reader) error { _, err := r.ReadString(); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.read(NewReader(tt.data))
			assert.ErrorIs(t, err, ErrShortBuffer)
		})
	}
}

func TestReader_BadString(t *testing.T) {
	err := func() error {
		_, err := NewReader([]byte{2, 0xff, 0xfe}).ReadString()
		return err
	}()
	assert.ErrorIs(t, err, ErrBadString)

	// length prefix larger than the cap
	w := NewWriter(0)
	w.WriteBytes([]byte{0x80, 0x80, 0x80, 0x01})
	_, err = NewReader(w.Bytes()).ReadString()
	assert.ErrorIs(t, err, ErrBadString)
}

func TestString_LengthLimit(t *testing.T) {
	atLimit := strings.Repeat("n", MaxStringLen)
	require.NoError(t, CheckString(atLimit))

	w := NewWriter(0)
	w.WriteString(atLimit)
	got, err := NewReader(w.Bytes()).ReadString()
	require.NoError(t, err)
	assert.Len(t, got, MaxStringLen)

	over := atLimit + "n"
	assert.ErrorIs(t, CheckString(over), ErrBadString)

	w = NewWriter(0)
	w.WriteString(over)
	_, err = NewReader(w.Bytes()).ReadString()
	assert.ErrorIs(t, err, ErrBadString, "readers refuse what CheckString refuses")

	// multi-byte runes count in bytes
	assert.ErrorIs(t, CheckString(strings.Repeat("é", MaxStringLen/2+1)), ErrBadString)
	assert.ErrorIs(t, CheckString("bad\xff"), ErrBadString)
	assert.NoError(t, CheckString(""))
}

func TestReader_FailedReadDoesNotAdvance(t *testing.T) {
	r := NewReader([]byte{1, 2})
	_, err := r.ReadInt32()
	require.Error(t, err)
	assert.Equal(t, 2, r.Remaining())
}
