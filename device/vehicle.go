// Package device simulates vehicle side: answers handshake, executes tasks,
// keeps settings and streams telemetry to connected consoles.
package device

import (
	"context"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/svlink/helpers"
	"github.com/temoto/svlink/link"
	"github.com/temoto/svlink/log2"
	"github.com/temoto/svlink/packet"
	"github.com/temoto/svlink/state/persist"
)

const taskQueueSize = 64

type Options struct {
	Log         *log2.Log
	Config      Config
	PersistRoot string
}

type Vehicle struct {
	sync.Mutex
	alive   *alive.Alive
	config  Config
	log     *log2.Log
	persist persist.Persist
	server  *link.Server
	tasks   chan packet.Task

	settings packet.Settings
	state    packet.State
	encoder  int32
	steering int32
	speed    int32
}

func New(opt Options) (*Vehicle, error) {
	opt.Config.setDefaults()
	v := &Vehicle{
		alive:  alive.NewAlive(),
		config: opt.Config,
		log:    opt.Log,
		state:  packet.State(opt.Config.State),
		tasks:  make(chan packet.Task, taskQueueSize),
	}
	v.server = link.NewServer(link.ServerOptions{
		Log:      opt.Log,
		Identity: v.Identity,
		Handlers: link.Handlers{
			packet.TagTask:            v.onTask,
			packet.TagSettings:        v.onSettings,
			packet.TagSettingsRequest: v.onSettingsRequest,
			packet.TagControl:         v.onControl,
		},
		OnAuth: v.onAuth,
	})
	if err := v.persist.Init("settings", &v.settings, opt.PersistRoot, opt.Config.Persist, opt.Log); err != nil {
		return nil, errors.Annotate(err, "device")
	}
	if found, err := v.persist.Load(); err != nil {
		return nil, errors.Annotate(err, "device")
	} else if found {
		v.log.Infof("device settings loaded %s", v.settings.String())
	}
	return v, nil
}

func (v *Vehicle) Server() *link.Server { return v.server }

// Start runs task worker and telemetry ticker until Stop.
func (v *Vehicle) Start() {
	if !v.alive.Add(2) {
		return
	}
	go v.taskWorker()
	go v.telemetryWorker(helpers.IntMillisecondDefault(v.config.TelemetryIntervalMs, 0))
}

// Stop stops workers and server.
func (v *Vehicle) Stop() error {
	v.alive.Stop()
	err := v.server.Stop()
	v.alive.Wait()
	return err
}

func (v *Vehicle) Identity() packet.AuthAnswer {
	v.Lock()
	defer v.Unlock()
	return packet.AuthAnswer{
		DeviceType: int8(v.config.Type),
		DeviceID:   int8(v.config.ID),
		State:      v.state,
	}
}

func (v *Vehicle) Settings() packet.Settings {
	v.Lock()
	defer v.Unlock()
	return v.settings
}

func (v *Vehicle) State() packet.State {
	v.Lock()
	defer v.Unlock()
	return v.state
}

func (v *Vehicle) SetState(s packet.State) {
	v.Lock()
	v.state = s
	v.Unlock()
}

// Telemetry snapshot with current device clock.
func (v *Vehicle) Telemetry(now time.Time) packet.Data {
	v.Lock()
	defer v.Unlock()
	return packet.Data{
		State:     v.state,
		Timestamp: packet.DayMillis(now),
		Entries: []packet.Entry{
			{Tag: packet.EntryEncoder, Value: v.encoder},
			{Tag: packet.EntryPotentiometer, Value: v.steering},
		},
	}
}

// TaskDone answers oldest pending task. Used by operator in manual mode.
func (v *Vehicle) TaskDone(ctx context.Context, t packet.AnswerType) error {
	return v.server.Answer(ctx, t)
}

// TestData broadcasts telemetry with given values, bypassing simulation.
func (v *Vehicle) TestData(ctx context.Context, encoder, potentiometer int32) error {
	return v.server.SendAll(ctx, packet.Data{
		State:     packet.StateRun,
		Timestamp: packet.DayMillis(time.Now()),
		Entries: []packet.Entry{
			{Tag: packet.EntryEncoder, Value: encoder},
			{Tag: packet.EntryPotentiometer, Value: potentiometer},
		},
	})
}

func (v *Vehicle) Map() packet.Map {
	w, h := int32(v.config.MapWidth), int32(v.config.MapHeight)
	if w <= 0 || h <= 0 {
		return packet.Map{}
	}
	return packet.Map{Width: w, Height: h, Cells: make([]int32, w*h)}
}

func (v *Vehicle) onAuth(conn link.Conn) {
	m := v.Map()
	if m.Width == 0 {
		return
	}
	if err := conn.Send(context.Background(), m); err != nil {
		v.log.Errorf("device send map conn=%s err=%v", conn, err)
	}
}

func (v *Vehicle) onTask(_ link.Conn, p packet.Packet) error {
	task := p.(packet.Task)
	v.log.Infof("device task %s", task.String())
	if v.config.Manual {
		return nil
	}
	select {
	case v.tasks <- task:
	case <-v.alive.StopChan():
		return link.ErrClosing
	}
	return nil
}

func (v *Vehicle) onSettings(conn link.Conn, p packet.Packet) error {
	s := p.(packet.Settings)
	err := helpers.WithLockError(v, func() error {
		v.settings = s
		return v.persist.Store()
	})
	answer := packet.Answer{Coi: s.Coi, Type: packet.AnswerSuccess}
	if err != nil {
		v.log.Errorf("device settings store err=%v", err)
		answer.Type = packet.AnswerError
	}
	v.log.Infof("device settings applied %s", s.String())
	return conn.Send(context.Background(), answer)
}

func (v *Vehicle) onSettingsRequest(conn link.Conn, _ packet.Packet) error {
	return conn.Send(context.Background(), v.Settings())
}

func (v *Vehicle) onControl(_ link.Conn, p packet.Packet) error {
	c := p.(packet.Control)
	v.Lock()
	v.steering, v.speed = c.X, c.Y
	v.Unlock()
	v.log.Debugf("device control x=%d y=%d", c.X, c.Y)
	return nil
}

func (v *Vehicle) taskWorker() {
	defer v.alive.Done()
	stopch := v.alive.StopChan()
	for {
		select {
		case task := <-v.tasks:
			result := v.execute(task, stopch)
			if err := v.server.Answer(context.Background(), result); err != nil {
				v.log.Errorf("device task=%s answer err=%v", task.String(), err)
			}
		case <-stopch:
			return
		}
	}
}

// execute simulates task, returns answer type.
func (v *Vehicle) execute(task packet.Task, stopch <-chan struct{}) packet.AnswerType {
	nparams := map[packet.TaskType]int{
		packet.TaskForward: 1,
		packet.TaskWheels:  1,
		packet.TaskFlick:   0,
	}
	if n, ok := nparams[task.Type]; !ok || n != len(task.Params) {
		v.log.Errorf("device invalid task=%s", task.String())
		return packet.AnswerError
	}

	v.SetState(packet.StateRun)
	defer v.SetState(packet.StateWait)
	if delay := helpers.IntMillisecondDefault(v.config.TaskDelayMs, 0); delay > 0 {
		select {
		case <-time.After(delay):
		case <-stopch:
			return packet.AnswerError
		}
	}

	v.Lock()
	defer v.Unlock()
	switch task.Type {
	case packet.TaskForward:
		v.encoder += task.Params[0]
	case packet.TaskWheels:
		v.steering = task.Params[0]
	case packet.TaskFlick:
		v.steering = -v.steering
	}
	return packet.AnswerSuccess
}

func (v *Vehicle) telemetryWorker(interval time.Duration) {
	defer v.alive.Done()
	if interval <= 0 {
		<-v.alive.StopChan()
		return
	}
	tmr := time.NewTicker(interval)
	defer tmr.Stop()
	for {
		select {
		case now := <-tmr.C:
			v.Lock()
			v.encoder += v.speed
			v.Unlock()
			if len(v.server.Conns()) == 0 {
				continue
			}
			if err := v.server.SendAll(context.Background(), v.Telemetry(now)); err != nil {
				v.log.Debugf("device telemetry err=%v", err)
			}
		case <-v.alive.StopChan():
			return
		}
	}
}
