package packet

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/juju/errors"
)

// AuthToken is the only accepted handshake payload.
const AuthToken = "konnichiwa"

type AuthRequest struct{}

func (AuthRequest) Tag() Tag       { return TagAuthRequest }
func (AuthRequest) Size() int      { return 1 + len(AuthToken) }
func (AuthRequest) String() string { return "auth-request" }

func (p AuthRequest) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, p.Size())
	b = append(b, byte(TagAuthRequest))
	return append(b, AuthToken...), nil
}

func (p *AuthRequest) UnmarshalBinary(b []byte) error {
	r := newReader(b, TagAuthRequest, p.Size())
	if r.err != nil {
		return r.err
	}
	if !bytes.Equal(r.b[:len(AuthToken)], []byte(AuthToken)) {
		return errors.Annotatef(ErrInvalid, "auth token=%q", r.b[:len(AuthToken)])
	}
	return nil
}

type State int8

const (
	StateFault State = iota
	StateRun
	StateStop
	StateWait
)

// String returns UNKNOWN for values outside protocol range, codec carries them as is.
func (s State) String() string {
	switch s {
	case StateFault:
		return "FAULT"
	case StateRun:
		return "RUN"
	case StateStop:
		return "STOP"
	case StateWait:
		return "WAIT"
	}
	return "UNKNOWN"
}

type AuthAnswer struct {
	DeviceType int8
	DeviceID   int8
	State      State
}

func (AuthAnswer) Tag() Tag  { return TagAuthAnswer }
func (AuthAnswer) Size() int { return 4 }
func (p AuthAnswer) String() string {
	return fmt.Sprintf("auth-answer(type=%d id=%d state=%s)", p.DeviceType, p.DeviceID, p.State)
}

func (p AuthAnswer) MarshalBinary() ([]byte, error) {
	return []byte{byte(TagAuthAnswer), byte(p.DeviceType), byte(p.DeviceID), byte(p.State)}, nil
}

func (p *AuthAnswer) UnmarshalBinary(b []byte) error {
	r := newReader(b, TagAuthAnswer, p.Size())
	p.DeviceType = r.int8()
	p.DeviceID = r.int8()
	p.State = State(r.int8())
	return r.err
}

type TaskType int8

const (
	TaskForward TaskType = 1 // param: distance
	TaskWheels  TaskType = 2 // param: degrees
	TaskFlick   TaskType = 3
)

func (t TaskType) String() string {
	switch t {
	case TaskForward:
		return "forward"
	case TaskWheels:
		return "wheels"
	case TaskFlick:
		return "flick"
	}
	return fmt.Sprintf("task%d", int8(t))
}

// Task is a command for device, answered later with Answer carrying same Coi.
type Task struct {
	Coi    int8
	Type   TaskType
	Params []int32
}

func (Task) Tag() Tag    { return TagTask }
func (p Task) Size() int { return 4 + 4*len(p.Params) }
func (p Task) String() string {
	return fmt.Sprintf("task(coi=%d type=%s params=%v)", p.Coi, p.Type, p.Params)
}

func (p Task) MarshalBinary() ([]byte, error) {
	if len(p.Params) > 127 {
		return nil, errors.Annotatef(ErrTooLarge, "task params=%d", len(p.Params))
	}
	b := make([]byte, 0, p.Size())
	b = append(b, byte(TagTask), byte(p.Coi), byte(p.Type), byte(len(p.Params)))
	for _, x := range p.Params {
		b = appendInt32(b, x)
	}
	return b, nil
}

func (p *Task) UnmarshalBinary(b []byte) error {
	r := newReader(b, TagTask, 4)
	p.Coi = r.int8()
	p.Type = TaskType(r.int8())
	n := r.count()
	p.Params = nil
	if r.need(4*n) && n > 0 {
		p.Params = make([]int32, n)
		for i := range p.Params {
			p.Params[i] = r.int32()
		}
	}
	return r.err
}

type SteeringGains struct{ P, I, D, Zero int32 }
type DriveGains struct{ P, I, D, Integral int32 }

// Settings carries regulator tuning, answered with Answer of same Coi.
type Settings struct {
	Coi      int8
	Steering SteeringGains
	Forward  DriveGains
	Backward DriveGains
}

func (Settings) Tag() Tag  { return TagSettings }
func (Settings) Size() int { return 2 + 12*4 }
func (p Settings) String() string {
	return fmt.Sprintf("settings(coi=%d steering=%+v forward=%+v backward=%+v)", p.Coi, p.Steering, p.Forward, p.Backward)
}

func (p Settings) values() [12]int32 {
	return [12]int32{
		p.Steering.P, p.Steering.I, p.Steering.D, p.Steering.Zero,
		p.Forward.P, p.Forward.I, p.Forward.D, p.Forward.Integral,
		p.Backward.P, p.Backward.I, p.Backward.D, p.Backward.Integral,
	}
}

func (p Settings) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, p.Size())
	b = append(b, byte(TagSettings), byte(p.Coi))
	for _, x := range p.values() {
		b = appendInt32(b, x)
	}
	return b, nil
}

func (p *Settings) UnmarshalBinary(b []byte) error {
	r := newReader(b, TagSettings, p.Size())
	p.Coi = r.int8()
	p.Steering = SteeringGains{r.int32(), r.int32(), r.int32(), r.int32()}
	p.Forward = DriveGains{r.int32(), r.int32(), r.int32(), r.int32()}
	p.Backward = DriveGains{r.int32(), r.int32(), r.int32(), r.int32()}
	return r.err
}

type AnswerType int8

const (
	AnswerError   AnswerType = 0
	AnswerSuccess AnswerType = 1
)

func (t AnswerType) String() string {
	switch t {
	case AnswerError:
		return "error"
	case AnswerSuccess:
		return "success"
	}
	return fmt.Sprintf("answer%d", int8(t))
}

type Answer struct {
	Coi  int8
	Type AnswerType
}

func (Answer) Tag() Tag  { return TagAnswer }
func (Answer) Size() int { return 3 }
func (p Answer) String() string {
	return fmt.Sprintf("answer(coi=%d type=%s)", p.Coi, p.Type)
}

func (p Answer) MarshalBinary() ([]byte, error) {
	return []byte{byte(TagAnswer), byte(p.Coi), byte(p.Type)}, nil
}

func (p *Answer) UnmarshalBinary(b []byte) error {
	r := newReader(b, TagAnswer, p.Size())
	p.Coi = r.int8()
	p.Type = AnswerType(r.int8())
	return r.err
}

const (
	EntryEncoder       int8 = 1
	EntryPotentiometer int8 = 2
)

type Entry struct {
	Tag   int8
	Value int32
}

// Data is device telemetry. Timestamp is device DayMillis.
type Data struct {
	State     State
	Timestamp int32
	Entries   []Entry
}

func (Data) Tag() Tag    { return TagData }
func (p Data) Size() int { return 7 + 5*len(p.Entries) }
func (p Data) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "data(state=%s ts=%d", p.State, p.Timestamp)
	for _, e := range p.Entries {
		fmt.Fprintf(&sb, " %d=%d", e.Tag, e.Value)
	}
	sb.WriteString(")")
	return sb.String()
}

// Get returns value of first entry with tag.
func (p Data) Get(tag int8) (int32, bool) {
	for _, e := range p.Entries {
		if e.Tag == tag {
			return e.Value, true
		}
	}
	return 0, false
}

func (p Data) MarshalBinary() ([]byte, error) {
	if len(p.Entries) > 127 {
		return nil, errors.Annotatef(ErrTooLarge, "data entries=%d", len(p.Entries))
	}
	b := make([]byte, 0, p.Size())
	b = append(b, byte(TagData), byte(p.State))
	b = appendInt32(b, p.Timestamp)
	b = append(b, byte(len(p.Entries)))
	for _, e := range p.Entries {
		b = append(b, byte(e.Tag))
		b = appendInt32(b, e.Value)
	}
	return b, nil
}

func (p *Data) UnmarshalBinary(b []byte) error {
	r := newReader(b, TagData, 7)
	p.State = State(r.int8())
	p.Timestamp = r.int32()
	n := r.count()
	p.Entries = nil
	if r.need(5*n) && n > 0 {
		p.Entries = make([]Entry, n)
		for i := range p.Entries {
			p.Entries[i] = Entry{Tag: r.int8(), Value: r.int32()}
		}
	}
	return r.err
}

// Map is row-major Width*Height grid. Dimensions are its element count.
type Map struct {
	Width  int32
	Height int32
	Cells  []int32
}

func (Map) Tag() Tag    { return TagMap }
func (p Map) Size() int { return 9 + 4*len(p.Cells) }
func (p Map) String() string {
	return fmt.Sprintf("map(%dx%d)", p.Width, p.Height)
}

// At returns cell value at column x, row y.
func (p Map) At(x, y int32) int32 { return p.Cells[y*p.Width+x] }

func (p Map) MarshalBinary() ([]byte, error) {
	if p.Width < 0 || p.Height < 0 || int64(len(p.Cells)) != int64(p.Width)*int64(p.Height) {
		return nil, errors.Annotatef(ErrInvalid, "map %dx%d cells=%d", p.Width, p.Height, len(p.Cells))
	}
	b := make([]byte, 0, p.Size())
	b = append(b, byte(TagMap))
	b = appendInt32(b, p.Width)
	b = appendInt32(b, p.Height)
	for _, x := range p.Cells {
		b = appendInt32(b, x)
	}
	return b, nil
}

func (p *Map) UnmarshalBinary(b []byte) error {
	r := newReader(b, TagMap, 9)
	p.Width = r.int32()
	p.Height = r.int32()
	p.Cells = nil
	if r.err != nil {
		return r.err
	}
	if p.Width < 0 || p.Height < 0 {
		return errors.Annotatef(ErrInvalid, "map %dx%d", p.Width, p.Height)
	}
	n := int64(p.Width) * int64(p.Height)
	if n > int64(len(r.b)/4) {
		return errors.Annotatef(ErrShort, "map %dx%d left=%d", p.Width, p.Height, len(r.b))
	}
	if n > 0 {
		p.Cells = make([]int32, n)
		for i := range p.Cells {
			p.Cells[i] = r.int32()
		}
	}
	return r.err
}

// SettingsRequest asks device to reply with its current Settings.
type SettingsRequest struct{}

func (SettingsRequest) Tag() Tag       { return TagSettingsRequest }
func (SettingsRequest) Size() int      { return 1 }
func (SettingsRequest) String() string { return "settings-request" }

func (SettingsRequest) MarshalBinary() ([]byte, error) {
	return []byte{byte(TagSettingsRequest)}, nil
}

func (p *SettingsRequest) UnmarshalBinary(b []byte) error {
	return newReader(b, TagSettingsRequest, p.Size()).err
}

// Control is manual steering (X) and speed (Y).
type Control struct {
	X int32
	Y int32
}

func (Control) Tag() Tag  { return TagControl }
func (Control) Size() int { return 9 }
func (p Control) String() string {
	return fmt.Sprintf("control(x=%d y=%d)", p.X, p.Y)
}

func (p Control) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, p.Size())
	b = append(b, byte(TagControl))
	b = appendInt32(b, p.X)
	return appendInt32(b, p.Y), nil
}

func (p *Control) UnmarshalBinary(b []byte) error {
	r := newReader(b, TagControl, p.Size())
	p.X = r.int32()
	p.Y = r.int32()
	return r.err
}
