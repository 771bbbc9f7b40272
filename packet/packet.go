package packet

import (
	"encoding"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/juju/errors"
)

type Tag byte

const (
	TagInvalid Tag = iota
	TagAuthRequest
	TagAuthAnswer
	TagTask
	TagSettings
	TagAnswer
	TagData
	TagMap
	TagSettingsRequest
	TagControl
)

func (t Tag) String() string {
	switch t {
	case TagAuthRequest:
		return "auth-request"
	case TagAuthAnswer:
		return "auth-answer"
	case TagTask:
		return "task"
	case TagSettings:
		return "settings"
	case TagAnswer:
		return "answer"
	case TagData:
		return "data"
	case TagMap:
		return "map"
	case TagSettingsRequest:
		return "settings-request"
	case TagControl:
		return "control"
	}
	return fmt.Sprintf("tag%d", byte(t))
}

// MaxSize is largest encoded packet, tag included.
const MaxSize = 255

// MaxMapCells is largest Width*Height that fits MaxSize.
const MaxMapCells = (MaxSize - 9) / 4

var (
	ErrUnknownTag = fmt.Errorf("unknown packet tag")
	ErrShort      = fmt.Errorf("packet is too short")
	ErrInvalid    = fmt.Errorf("packet is invalid")
	ErrTooLarge   = fmt.Errorf("packet is too large")
)

// IsBroken reports decode failures that should be counted and skipped
// without tearing down the connection.
func IsBroken(err error) bool {
	switch errors.Cause(err) {
	case ErrUnknownTag, ErrShort, ErrInvalid:
		return true
	}
	return false
}

type Packet interface {
	encoding.BinaryMarshaler
	Tag() Tag
	// Size is exact encoded length including tag.
	Size() int
	String() string
}

// Encode validates size and returns complete packet bytes, tag first.
func Encode(p Packet) ([]byte, error) {
	if p == nil {
		return nil, errors.Annotate(ErrInvalid, "nil packet")
	}
	if size := p.Size(); size > MaxSize {
		return nil, errors.Annotatef(ErrTooLarge, "%s size=%d", p.Tag(), size)
	}
	b, err := p.MarshalBinary()
	if err != nil {
		return nil, errors.Annotatef(err, "encode %s", p.Tag())
	}
	return b, nil
}

// Decode branches on first byte. Bytes after the packet are ignored.
func Decode(b []byte) (Packet, error) {
	if len(b) == 0 {
		return nil, errors.Annotate(ErrShort, "empty")
	}
	var pkt Packet
	var err error
	switch tag := Tag(b[0]); tag {
	case TagAuthRequest:
		var p AuthRequest
		err = p.UnmarshalBinary(b)
		pkt = p
	case TagAuthAnswer:
		var p AuthAnswer
		err = p.UnmarshalBinary(b)
		pkt = p
	case TagTask:
		var p Task
		err = p.UnmarshalBinary(b)
		pkt = p
	case TagSettings:
		var p Settings
		err = p.UnmarshalBinary(b)
		pkt = p
	case TagAnswer:
		var p Answer
		err = p.UnmarshalBinary(b)
		pkt = p
	case TagData:
		var p Data
		err = p.UnmarshalBinary(b)
		pkt = p
	case TagMap:
		var p Map
		err = p.UnmarshalBinary(b)
		pkt = p
	case TagSettingsRequest:
		var p SettingsRequest
		err = p.UnmarshalBinary(b)
		pkt = p
	case TagControl:
		var p Control
		err = p.UnmarshalBinary(b)
		pkt = p
	default:
		return nil, errors.Annotatef(ErrUnknownTag, "tag=%d", byte(tag))
	}
	if err != nil {
		return nil, err
	}
	return pkt, nil
}

// DayMillis is device clock: milliseconds since start of local day.
func DayMillis(t time.Time) int32 {
	y, m, d := t.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	return int32(t.Sub(start) / time.Millisecond)
}

// reader consumes little-endian fields, first short read sticks.
type reader struct {
	b   []byte
	err error
}

func newReader(b []byte, tag Tag, min int) *reader {
	r := &reader{b: b}
	switch {
	case len(b) < 1:
		r.err = errors.Annotatef(ErrShort, "%s length=0", tag)
	case Tag(b[0]) != tag:
		r.err = errors.Annotatef(ErrInvalid, "expected tag=%s actual=%d", tag, b[0])
	case len(b) < min:
		r.err = errors.Annotatef(ErrShort, "%s length=%d min=%d", tag, len(b), min)
	default:
		r.b = b[1:]
	}
	return r
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if len(r.b) < n {
		r.err = errors.Annotatef(ErrShort, "need=%d left=%d", n, len(r.b))
		return false
	}
	return true
}

func (r *reader) int8() int8 {
	if !r.need(1) {
		return 0
	}
	x := int8(r.b[0])
	r.b = r.b[1:]
	return x
}

func (r *reader) int32() int32 {
	if !r.need(4) {
		return 0
	}
	x := int32(binary.LittleEndian.Uint32(r.b))
	r.b = r.b[4:]
	return x
}

func (r *reader) count() int {
	n := r.int8()
	if r.err == nil && n < 0 {
		r.err = errors.Annotatef(ErrInvalid, "count=%d", n)
	}
	return int(n)
}

func appendInt32(b []byte, x int32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(x))
	return append(b, tmp[:]...)
}
