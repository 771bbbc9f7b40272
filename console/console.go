// Package console is control station side of the link: commands, settings
// and telemetry bookkeeping on top of link.Session.
package console

import (
	"context"
	"sync"

	"github.com/juju/errors"
	"github.com/temoto/svlink/link"
	"github.com/temoto/svlink/log2"
	"github.com/temoto/svlink/packet"
	"github.com/temoto/svlink/tele"
)

// Sample is one telemetry point ready for display.
type Sample struct {
	Seconds       float64
	State         packet.State
	Encoder       int32
	Potentiometer int32
	Speed         float64
}

type Options struct {
	Log     *log2.Log
	Session link.SessionOptions // timeouts, handlers and callbacks are set by console
	Tele    tele.Teler

	OnSample func(Sample)
	OnMap    func(packet.Map)
	OnAnswer func(packet.Answer)
}

type Console struct {
	mu       sync.Mutex
	coi      int8
	identity packet.AuthAnswer
	settings packet.Settings
	haveSet  bool
	world    packet.Map
	speed    Speed

	log      *log2.Log
	opt      Options
	session  *link.Session
	tele     tele.Teler
	timeline Timeline
}

func New(opt Options) *Console {
	c := &Console{
		coi:  1,
		log:  opt.Log,
		opt:  opt,
		tele: opt.Tele,
	}
	if c.tele == nil {
		c.tele = tele.NewStub()
	}
	sopt := opt.Session
	sopt.Log = opt.Log
	sopt.Handlers = link.Handlers{
		packet.TagAnswer:   c.onAnswer,
		packet.TagData:     c.onData,
		packet.TagMap:      c.onMap,
		packet.TagSettings: c.onSettings,
	}
	sopt.OnConnected = c.onConnected
	sopt.OnDisconnected = c.onDisconnected
	sopt.OnError = c.onError
	c.session = link.NewSession(sopt)
	return c
}

func (c *Console) Session() *link.Session { return c.session }

func (c *Console) Connect(ctx context.Context, url string) error {
	return c.session.Connect(ctx, url)
}

func (c *Console) Disconnect() error { return c.session.Disconnect() }

func (c *Console) Close() error { return c.session.Close() }

// Identity returns device handshake answer of current or last connection.
func (c *Console) Identity() packet.AuthAnswer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// LastSettings returns settings last received from device.
func (c *Console) LastSettings() (packet.Settings, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings, c.haveSet
}

func (c *Console) Map() packet.Map {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.world
}

func (c *Console) Forward(ctx context.Context, distance int32) (int8, error) {
	return c.task(ctx, packet.TaskForward, distance)
}

func (c *Console) Wheels(ctx context.Context, degrees int32) (int8, error) {
	return c.task(ctx, packet.TaskWheels, degrees)
}

func (c *Console) Flick(ctx context.Context) (int8, error) {
	return c.task(ctx, packet.TaskFlick)
}

func (c *Console) LoadSettings(ctx context.Context, t Tuning) (int8, error) {
	coi := c.nextCoi()
	err := c.session.Send(ctx, t.Settings(coi))
	return coi, errors.Annotate(err, "load settings")
}

func (c *Console) RequestSettings(ctx context.Context) error {
	return errors.Annotate(c.session.Send(ctx, packet.SettingsRequest{}), "request settings")
}

func (c *Console) Control(ctx context.Context, x, y int32) error {
	return errors.Annotate(c.session.Send(ctx, packet.Control{X: x, Y: y}), "control")
}

func (c *Console) task(ctx context.Context, tt packet.TaskType, params ...int32) (int8, error) {
	coi := c.nextCoi()
	err := c.session.Send(ctx, packet.Task{Coi: coi, Type: tt, Params: params})
	return coi, errors.Annotatef(err, "task type=%d", tt)
}

// nextCoi returns positive correlation id, wraps to 1.
func (c *Console) nextCoi() int8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	coi := c.coi
	c.coi++
	if c.coi <= 0 {
		c.coi = 1
	}
	return coi
}

func (c *Console) onConnected(a packet.AuthAnswer) {
	c.mu.Lock()
	c.identity = a
	c.speed.Reset()
	c.mu.Unlock()
	c.timeline.Reset()
	c.log.Infof("Connected. device type=%d id=%d state=%s", a.DeviceType, a.DeviceID, a.State)
	c.tele.State(true)
}

func (c *Console) onDisconnected(err error) {
	if err != nil {
		c.log.Infof("Disconnected. err=%v", err)
	} else {
		c.log.Infof("Disconnected.")
	}
	c.tele.State(false)
}

func (c *Console) onError(err error) {
	c.log.Errorf("Connection error: %v", err)
	c.tele.Error(err)
}

func (c *Console) onAnswer(_ link.Conn, p packet.Packet) error {
	a := p.(packet.Answer)
	switch a.Type {
	case packet.AnswerSuccess:
		c.log.Infof("Setting complete. coi=%d", a.Coi)
	default:
		c.log.Infof("Error. Can't apply current settings. coi=%d type=%d", a.Coi, a.Type)
	}
	c.tele.Packet(a)
	if c.opt.OnAnswer != nil {
		c.opt.OnAnswer(a)
	}
	return nil
}

func (c *Console) onData(_ link.Conn, p packet.Packet) error {
	d := p.(packet.Data)
	s := Sample{
		Seconds: c.timeline.Seconds(d.Timestamp),
		State:   d.State,
	}
	s.Encoder, _ = d.Get(packet.EntryEncoder)
	s.Potentiometer, _ = d.Get(packet.EntryPotentiometer)
	c.mu.Lock()
	s.Speed = c.speed.Update(s.Seconds, s.Encoder)
	c.mu.Unlock()
	c.log.Debugf("data t=%.3f state=%s encoder=%d potentiometer=%d speed=%.2f",
		s.Seconds, s.State, s.Encoder, s.Potentiometer, s.Speed)
	c.tele.Packet(d)
	if c.opt.OnSample != nil {
		c.opt.OnSample(s)
	}
	return nil
}

func (c *Console) onMap(_ link.Conn, p packet.Packet) error {
	m := p.(packet.Map)
	c.mu.Lock()
	c.world = m
	c.mu.Unlock()
	c.log.Infof("map width=%d height=%d", m.Width, m.Height)
	c.tele.Packet(m)
	if c.opt.OnMap != nil {
		c.opt.OnMap(m)
	}
	return nil
}

func (c *Console) onSettings(_ link.Conn, p packet.Packet) error {
	s := p.(packet.Settings)
	c.mu.Lock()
	c.settings, c.haveSet = s, true
	c.mu.Unlock()
	c.log.Infof("Settings uploaded. %s", s)
	c.tele.Packet(s)
	return nil
}

// StateString is device state as shown to operator.
func StateString(s int8) string { return packet.State(s).String() }
