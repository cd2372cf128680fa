// Package streaming defines the record packets exchanged between the
// authority and observers. Every packet is a message type byte, the boss key
// as a length-prefixed string, and a type specific body.
package streaming

import (
	"errors"
	"fmt"

	"github.com/Rijam/BossChecklist/pkg/netio"
	"github.com/Rijam/BossChecklist/pkg/records"
	"github.com/Rijam/BossChecklist/pkg/tag"
)

// MessageType identifies a packet. Values 0-3 belong to checklist packets
// that this module does not handle.
type MessageType byte

// Message type constants matching the checklist protocol.
const (
	TypeSendRecordsToServer  MessageType = 4
	TypeRecordUpdate         MessageType = 5
	TypeWorldRecordUpdate    MessageType = 6
	TypeResetTrackers        MessageType = 7
	TypePlayTimeRecordUpdate MessageType = 8
)

func (t MessageType) String() string {
	switch t {
	case TypeSendRecordsToServer:
		return "send_records_to_server"
	case TypeRecordUpdate:
		return "record_update"
	case TypeWorldRecordUpdate:
		return "world_record_update"
	case TypeResetTrackers:
		return "reset_trackers"
	case TypePlayTimeRecordUpdate:
		return "play_time_record_update"
	default:
		return fmt.Sprintf("unknown(%d)", byte(t))
	}
}

var (
	// ErrUnknownType is returned for a message type this module does not handle.
	ErrUnknownType = errors.New("streaming: unknown message type")
	// ErrMalformed is returned when a packet or its body cannot be decoded.
	ErrMalformed = errors.New("streaming: malformed packet")
)

// Packet is one framed message.
type Packet struct {
	Type    MessageType
	BossKey string
	Body    []byte
}

// Encode frames p for the transport.
func (p Packet) Encode() []byte {
	w := netio.NewWriter(1 + 1 + len(p.BossKey) + len(p.Body))
	_ = w.WriteByte(byte(p.Type))
	w.WriteString(p.BossKey)
	w.WriteBytes(p.Body)
	return w.Bytes()
}

// DecodePacket splits a transport payload into a Packet. The body is not
// interpreted until one of the Packet accessors is called.
func DecodePacket(data []byte) (Packet, error) {
	r := netio.NewReader(data)

	b, err := r.ReadByte()
	if err != nil {
		return Packet{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	typ := MessageType(b)
	if typ < TypeSendRecordsToServer || typ > TypePlayTimeRecordUpdate {
		return Packet{}, fmt.Errorf("%w: %d", ErrUnknownType, b)
	}

	key, err := r.ReadString()
	if err != nil {
		return Packet{}, fmt.Errorf("%w: boss key: %v", ErrMalformed, err)
	}

	return Packet{Type: typ, BossKey: key, Body: r.ReadRest()}, nil
}

// NewRecordUpdate carries the personal fields selected by flags.
func NewRecordUpdate(bossKey string, stats *records.PersonalStats, flags records.RecordFlags) Packet {
	w := netio.NewWriter(32)
	stats.EncodeNetwork(w, flags)
	return Packet{Type: TypeRecordUpdate, BossKey: bossKey, Body: w.Bytes()}
}

// NewWorldRecordUpdate carries the world records selected by flags.
func NewWorldRecordUpdate(bossKey string, stats *records.WorldStats, flags records.RecordFlags) Packet {
	w := netio.NewWriter(32)
	stats.EncodeNetwork(w, flags)
	return Packet{Type: TypeWorldRecordUpdate, BossKey: bossKey, Body: w.Bytes()}
}

// NewResetTrackers asks an observer to wipe every personal record it holds.
func NewResetTrackers() Packet {
	return Packet{Type: TypeResetTrackers}
}

// NewPlayTimeUpdate carries the play time at a player's first kill of bossKey.
func NewPlayTimeUpdate(bossKey string, playTime int64) Packet {
	w := netio.NewWriter(8)
	w.WriteInt64(playTime)
	return Packet{Type: TypePlayTimeRecordUpdate, BossKey: bossKey, Body: w.Bytes()}
}

// NewRecordsUpload carries a player's full record set to the authority.
func NewRecordsUpload(recs []*records.BossRecord) Packet {
	list := make([]*tag.Compound, 0, len(recs))
	for _, rec := range recs {
		list = append(list, rec.MarshalTag())
	}
	c := tag.New()
	c.SetCompoundList("records", list)
	return Packet{Type: TypeSendRecordsToServer, Body: tag.Marshal(c)}
}

func (p Packet) expect(t MessageType) error {
	if p.Type != t {
		return fmt.Errorf("%w: have %s, want %s", ErrMalformed, p.Type, t)
	}
	return nil
}

// ApplyRecordUpdate decodes the body into stats. The whole body must be
// consumed; stats is untouched when the body is malformed.
func (p Packet) ApplyRecordUpdate(stats *records.PersonalStats) error {
	if err := p.expect(TypeRecordUpdate); err != nil {
		return err
	}
	r := netio.NewReader(p.Body)
	u, err := records.DecodePersonalUpdate(r)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if r.Remaining() != 0 {
		return fmt.Errorf("%w: %w: %d trailing bytes", ErrMalformed, records.ErrMalformedPayload, r.Remaining())
	}
	return stats.Apply(u)
}

// ApplyWorldRecordUpdate decodes the body into stats under the same rules
// as ApplyRecordUpdate.
func (p Packet) ApplyWorldRecordUpdate(stats *records.WorldStats) error {
	if err := p.expect(TypeWorldRecordUpdate); err != nil {
		return err
	}
	r := netio.NewReader(p.Body)
	u, err := records.DecodeWorldUpdate(r)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if r.Remaining() != 0 {
		return fmt.Errorf("%w: %w: %d trailing bytes", ErrMalformed, records.ErrMalformedPayload, r.Remaining())
	}
	return stats.Apply(u)
}

// PlayTime returns the play time carried by a play time update.
func (p Packet) PlayTime() (int64, error) {
	if err := p.expect(TypePlayTimeRecordUpdate); err != nil {
		return 0, err
	}
	r := netio.NewReader(p.Body)
	v, err := r.ReadInt64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if r.Remaining() != 0 {
		return 0, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, r.Remaining())
	}
	return v, nil
}

// Records returns the record set carried by an upload.
func (p Packet) Records() ([]*records.BossRecord, error) {
	if err := p.expect(TypeSendRecordsToServer); err != nil {
		return nil, err
	}
	c, err := tag.Unmarshal(p.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	list, err := c.GetCompoundList("records")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	out := make([]*records.BossRecord, 0, len(list))
	for i, item := range list {
		rec := &records.BossRecord{}
		if err := rec.UnmarshalTag(item); err != nil {
			return nil, fmt.Errorf("%w: record %d: %w", ErrMalformed, i, err)
		}
		out = append(out, rec)
	}
	return out, nil
}
