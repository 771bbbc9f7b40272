package tele

import (
	"context"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/spq"
	"github.com/temoto/svlink/log2"
	"github.com/temoto/svlink/packet"
	tele_config "github.com/temoto/svlink/tele/config"
)

const (
	DefaultNetworkTimeout = 30 * time.Second
	DefaultTopicPrefix    = "svlink"

	stateRetryInterval = 17 * time.Second
	sendRetryDelay     = 1 * time.Second
	stateBuffer        = 4
)

// retained state payload
const (
	StateOffline      byte = 0 // MQTT will, bridge itself is gone
	StateDisconnected byte = 1
	StateConnected    byte = 2
)

// denote value type in persistent queue bytes form
const (
	qPacket byte = 1
	qError  byte = 2
)

const topicError = "error"

// Tele contract:
//   - Init() fails only with invalid config, network issues ignored
//   - Packet/Error block at most for disk write,
//     messages are delivered in background
//   - packets and errors delivered at least once, state may be lost
type Tele struct {
	alive     *alive.Alive
	enabled   bool
	log       *log2.Log
	transport Transporter
	q         *spq.Queue
	stateCh   chan byte
}

func New() *Tele { return &Tele{} }

func NewWithTransporter(trans Transporter) *Tele { return &Tele{transport: trans} }

var _ Teler = &Tele{} // compile-time interface test

func (self *Tele) Init(ctx context.Context, log *log2.Log, teleConfig tele_config.Config) error {
	self.log = log.Clone(log2.LInfo)
	if teleConfig.LogDebug {
		self.log.SetLevel(log2.LDebug)
	}
	if !teleConfig.Enabled {
		self.log.Debugf("tele disabled")
		return nil
	}
	if teleConfig.PersistPath == "" {
		return errors.NotValidf("tele persist_path=empty")
	}

	var err error
	self.q, err = spq.Open(teleConfig.PersistPath)
	if err != nil {
		return errors.Annotate(err, "tele queue")
	}

	// test code sets .transport
	if self.transport == nil { // production path
		self.transport = &transportMqtt{}
	}
	if err := self.transport.Init(ctx, self.log, teleConfig, []byte{StateOffline}); err != nil {
		_ = self.q.Close()
		return errors.Annotate(err, "tele transport")
	}

	self.alive = alive.NewAlive()
	self.stateCh = make(chan byte, stateBuffer)
	self.alive.Add(2)
	go self.qworker()
	go self.stateWorker()
	self.enabled = true
	return nil
}

// Close stops workers. Undelivered messages stay in persistent queue.
func (self *Tele) Close() {
	if !self.enabled {
		return
	}
	self.alive.Stop()
	if err := self.q.Close(); err != nil {
		self.log.Errorf("tele queue close err=%v", err)
	}
	self.alive.Wait()
	self.transport.Close()
}

func (self *Tele) Packet(p packet.Packet) {
	if !self.enabled {
		return
	}
	b, err := packet.Encode(p)
	if err != nil {
		self.log.Errorf("tele packet=%s err=%v", p, err)
		return
	}
	if err := self.qpush(qPacket, b); err != nil {
		self.log.Errorf("CRITICAL tele qpush packet=%s err=%v", p, err)
	}
}

func (self *Tele) State(connected bool) {
	if !self.enabled {
		return
	}
	s := StateDisconnected
	if connected {
		s = StateConnected
	}
	self.log.Debugf("tele.State connected=%t", connected)
	select {
	case self.stateCh <- s:
	default:
		self.log.Errorf("tele state queue full, dropped connected=%t", connected)
	}
}

func (self *Tele) Error(e error) {
	if !self.enabled || e == nil {
		return
	}
	self.log.Debugf("tele.Error e=%v", e)
	if err := self.qpush(qError, []byte(e.Error())); err != nil {
		self.log.Errorf("CRITICAL tele qpush error=%v err=%v", e, err)
	}
}

func (self *Tele) qpush(kind byte, payload []byte) error {
	b := make([]byte, 0, 1+len(payload))
	b = append(b, kind)
	b = append(b, payload...)
	return self.q.Push(b)
}

func (self *Tele) stateWorker() {
	defer self.alive.Done()
	var b [1]byte
	var sent bool
	tmrRetry := time.NewTicker(stateRetryInterval)
	defer tmrRetry.Stop()
	stopch := self.alive.StopChan()
	for {
		select {
		case next := <-self.stateCh:
			if next != b[0] || !sent {
				b[0] = next
				sent = self.transport.SendState(b[:])
			}

		case <-tmrRetry.C:
			if !sent && b[0] != StateOffline {
				sent = self.transport.SendState(b[:])
			}

		case <-stopch:
			return
		}
	}
}

func (self *Tele) qworker() {
	defer self.alive.Done()
	stopch := self.alive.StopChan()
	for {
		box, err := self.q.Peek()
		switch err {
		case nil:
			// success path
			b := box.Bytes()
			del, err := self.qhandle(b)
			if err != nil {
				self.log.Errorf("tele qhandle b=%x err=%v", b, err)
			}
			if del {
				if err = self.q.Delete(box); err != nil {
					self.log.Errorf("tele qhandle Delete b=%x err=%v", b, err)
				}
			} else {
				if err = self.q.DeletePush(box); err != nil {
					self.log.Errorf("tele qhandle DeletePush b=%x err=%v", b, err)
				}
				select {
				case <-time.After(sendRetryDelay):
				case <-stopch:
				}
			}

		case spq.ErrClosed:
			select {
			case <-stopch: // success path
			default:
				self.log.Errorf("CRITICAL tele spq closed unexpectedly")
			}
			return

		default:
			self.log.Errorf("CRITICAL tele spq err=%v", err)
			select {
			case <-time.After(sendRetryDelay):
			case <-stopch:
				return
			}
		}
	}
}

// qhandle returns true when item should be removed from queue.
func (self *Tele) qhandle(b []byte) (bool, error) {
	if len(b) == 0 {
		return true, errors.Errorf("tele spq peek=empty")
	}

	switch b[0] {
	case qPacket:
		if len(b) < 2 {
			return true, errors.Errorf("packet without tag")
		}
		return self.transport.Send(packet.Tag(b[1]).String(), b[1:]), nil

	case qError:
		return self.transport.Send(topicError, b[1:]), nil

	default:
		return true, errors.Errorf("unknown kind=%d", b[0])
	}
}
