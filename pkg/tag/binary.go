package tag

import (
	"errors"
	"fmt"

	"github.com/Rijam/BossChecklist/pkg/netio"
)

// Type IDs follow the NBT numbering so dumps stay recognizable.
const (
	typeEnd      byte = 0
	typeInt32    byte = 3
	typeInt64    byte = 4
	typeString   byte = 8
	typeList     byte = 9
	typeCompound byte = 10
)

// maxDepth bounds compound nesting on decode.
const maxDepth = 32

// ErrMalformed is returned when binary tag data cannot be decoded.
var ErrMalformed = errors.New("tag: malformed data")

// Marshal encodes c in the binary tag format.
func Marshal(c *Compound) []byte {
	w := netio.NewWriter(64)
	Write(w, c)
	return w.Bytes()
}

// Unmarshal decodes a compound and rejects trailing bytes.
func Unmarshal(p []byte) (*Compound, error) {
	r := netio.NewReader(p)
	c, err := Read(r)
	if err != nil {
		return nil, err
	}
	if r.Remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, r.Remaining())
	}
	return c, nil
}

// Write appends c to w. Keys are written in sorted order so output is deterministic.
func Write(w *netio.Writer, c *Compound) {
	for _, key := range c.Keys() {
		switch v := c.entries[key].(type) {
		case int32:
			_ = w.WriteByte(typeInt32)
			w.WriteString(key)
			w.WriteInt32(v)
		case int64:
			_ = w.WriteByte(typeInt64)
			w.WriteString(key)
			w.WriteInt64(v)
		case string:
			_ = w.WriteByte(typeString)
			w.WriteString(key)
			w.WriteString(v)
		case *Compound:
			_ = w.WriteByte(typeCompound)
			w.WriteString(key)
			Write(w, v)
		case []string:
			_ = w.WriteByte(typeList)
			w.WriteString(key)
			_ = w.WriteByte(typeString)
			w.WriteInt32(int32(len(v)))
			for _, s := range v {
				w.WriteString(s)
			}
		case []*Compound:
			_ = w.WriteByte(typeList)
			w.WriteString(key)
			_ = w.WriteByte(typeCompound)
			w.WriteInt32(int32(len(v)))
			for _, item := range v {
				Write(w, item)
			}
		}
	}
	_ = w.WriteByte(typeEnd)
}

// Read decodes one compound from r.
func Read(r *netio.Reader) (*Compound, error) {
	return read(r, 0)
}

func read(r *netio.Reader, depth int) (*Compound, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: nesting deeper than %d", ErrMalformed, maxDepth)
	}

	c := New()
	for {
		typ, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if typ == typeEnd {
			return c, nil
		}

		key, err := r.ReadString()
		if err != nil {
			return nil, fmt.Errorf("%w: key: %v", ErrMalformed, err)
		}

		if err := readValue(r, c, typ, key, depth); err != nil {
			return nil, err
		}
	}
}

func readValue(r *netio.Reader, c *Compound, typ byte, key string, depth int) error {
	switch typ {
	case typeInt32:
		v, err := r.ReadInt32()
		if err != nil {
			return fmt.Errorf("%w: %q: %v", ErrMalformed, key, err)
		}
		c.SetInt32(key, v)
	case typeInt64:
		v, err := r.ReadInt64()
		if err != nil {
			return fmt.Errorf("%w: %q: %v", ErrMalformed, key, err)
		}
		c.SetInt64(key, v)
	case typeString:
		v, err := r.ReadString()
		if err != nil {
			return fmt.Errorf("%w: %q: %v", ErrMalformed, key, err)
		}
		c.SetString(key, v)
	case typeCompound:
		v, err := read(r, depth+1)
		if err != nil {
			return err
		}
		c.SetCompound(key, v)
	case typeList:
		return readList(r, c, key, depth)
	default:
		return fmt.Errorf("%w: %q has unknown type %d", ErrMalformed, key, typ)
	}
	return nil
}

func readList(r *netio.Reader, c *Compound, key string, depth int) error {
	elem, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrMalformed, key, err)
	}
	n, err := r.ReadInt32()
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrMalformed, key, err)
	}
	if n < 0 || int(n) > r.Remaining() {
		return fmt.Errorf("%w: %q has bad list length %d", ErrMalformed, key, n)
	}

	switch elem {
	case typeString:
		list := make([]string, 0, n)
		for i := int32(0); i < n; i++ {
			s, err := r.ReadString()
			if err != nil {
				return fmt.Errorf("%w: %q[%d]: %v", ErrMalformed, key, i, err)
			}
			list = append(list, s)
		}
		c.entries[key] = list
	case typeCompound:
		list := make([]*Compound, 0, n)
		for i := int32(0); i < n; i++ {
			item, err := read(r, depth+1)
			if err != nil {
				return err
			}
			list = append(list, item)
		}
		c.entries[key] = list
	default:
		return fmt.Errorf("%w: %q has unsupported list element type %d", ErrMalformed, key, elem)
	}
	return nil
}
