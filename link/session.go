package link

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/svlink/log2"
	"github.com/temoto/svlink/packet"
)

const DefaultAuthTimeout = 3 * time.Second

var (
	ErrHandshakeTimeout = fmt.Errorf("handshake timeout")
	ErrNotAuthenticated = fmt.Errorf("not authenticated")
	ErrAlreadyConnected = fmt.Errorf("already connected")
)

type SessionState int32

const (
	Disconnected SessionState = iota
	Connecting
	AwaitingAuth
	Authenticated
)

func (s SessionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case AwaitingAuth:
		return "awaiting-auth"
	case Authenticated:
		return "authenticated"
	}
	return fmt.Sprintf("state%d", int32(s))
}

// Session is client side of the link, console connecting to device.
// Connect may be called again after disconnect.
type Session struct {
	sync.Mutex // protects fields below
	alive      *alive.Alive
	cancelDial context.CancelFunc
	conn       Conn
	gen        uint64
	state      SessionState
	timer      *time.Timer

	dialer net.Dialer
	done   SessionStat // finished connections
	log    *log2.Log
	opt    SessionOptions
}

type SessionOptions struct {
	Log            *log2.Log
	Handlers       Handlers
	ConnectTimeout time.Duration
	AuthTimeout    time.Duration
	NetworkTimeout time.Duration

	// OnConnected is called once handshake succeeds.
	OnConnected func(packet.AuthAnswer)
	// OnDisconnected is called exactly once for each connection that was dialed.
	OnDisconnected func(error)
	// OnError reports dial failures and broken packets.
	OnError func(error)
}

func NewSession(opt SessionOptions) *Session {
	if opt.ConnectTimeout == 0 {
		opt.ConnectTimeout = DefaultConnectTimeout
	}
	if opt.AuthTimeout == 0 {
		opt.AuthTimeout = DefaultAuthTimeout
	}
	if opt.NetworkTimeout == 0 {
		opt.NetworkTimeout = DefaultNetworkTimeout
	}
	if opt.Handlers == nil {
		opt.Handlers = Handlers{}
	}
	return &Session{
		alive:  alive.NewAlive(),
		dialer: net.Dialer{Timeout: opt.ConnectTimeout},
		log:    opt.Log,
		opt:    opt,
	}
}

func (s *Session) State() SessionState {
	s.Lock()
	defer s.Unlock()
	return s.state
}

// Connect dials url, sends AuthRequest and returns without waiting for AuthAnswer.
// Handshake result is reported via OnConnected or OnDisconnected(ErrHandshakeTimeout).
func (s *Session) Connect(ctx context.Context, url string) error {
	s.Lock()
	if !s.alive.IsRunning() {
		s.Unlock()
		return ErrClosing
	}
	if s.state != Disconnected {
		s.Unlock()
		return errors.Annotatef(ErrAlreadyConnected, "state=%s", s.state)
	}
	s.gen++
	gen := s.gen
	s.state = Connecting
	ctx, cancel := context.WithTimeout(ctx, s.opt.ConnectTimeout)
	defer cancel()
	s.cancelDial = cancel
	s.Unlock()

	s.log.Debugf("connect url=%s", url)
	conn, err := DialContext(ctx, s.dialer, url, ID(gen), ConnOptions{
		Log:            s.log,
		NetworkTimeout: s.opt.NetworkTimeout,
	})

	s.Lock()
	if s.gen != gen {
		// Disconnect() during dial
		s.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return ErrClosing
	}
	s.cancelDial = nil
	if err != nil {
		s.state = Disconnected
		s.Unlock()
		err = errors.Annotate(err, "connect")
		s.log.Error(err)
		if s.opt.OnError != nil {
			s.opt.OnError(err)
		}
		return err
	}
	if !s.alive.Add(2) {
		s.state = Disconnected
		s.Unlock()
		_ = conn.Close()
		return ErrClosing
	}
	s.conn = conn
	s.state = AwaitingAuth
	s.timer = time.AfterFunc(s.opt.AuthTimeout, func() { s.authExpired(gen, conn) })
	s.Unlock()

	go s.watch(conn)
	go s.readLoop(gen, conn)

	if err = conn.Send(ctx, packet.AuthRequest{}); err != nil {
		// conn died, watch() reports disconnect
		return errors.Annotate(err, "send auth request")
	}
	return nil
}

// Disconnect closes current connection or cancels dial in progress.
// State is Disconnected on return, OnDisconnected is called from connection watcher.
func (s *Session) Disconnect() error {
	s.Lock()
	conn := s.conn
	if s.cancelDial != nil {
		s.cancelDial()
		s.cancelDial = nil
	}
	s.resetLocked()
	s.gen++
	s.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Close disconnects and waits for connection goroutines.
func (s *Session) Close() error {
	s.alive.Stop()
	err := s.Disconnect()
	s.alive.Wait()
	return err
}

// Send requires completed handshake.
func (s *Session) Send(ctx context.Context, p packet.Packet) error {
	s.Lock()
	conn, state := s.conn, s.state
	s.Unlock()
	if state != Authenticated {
		return errors.Annotatef(ErrNotAuthenticated, "send %s state=%s", p.Tag(), state)
	}
	return conn.Send(ctx, p)
}

// Stat returns totals of all connections, current included.
func (s *Session) Stat() SessionStat {
	s.Lock()
	defer s.Unlock()
	r := s.done.Value()
	if s.conn != nil {
		r.Add(s.conn.Stat())
	}
	return r
}

func (s *Session) current(gen uint64) bool { return s.gen == gen && s.conn != nil }

// resetLocked stops auth timer synchronously, caller holds lock.
func (s *Session) resetLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.conn != nil {
		s.done.Add(s.conn.Stat())
		s.conn = nil
	}
	s.state = Disconnected
}

func (s *Session) authExpired(gen uint64, conn Conn) {
	s.Lock()
	if !s.current(gen) || s.state != AwaitingAuth {
		s.Unlock()
		return
	}
	// late AuthAnswer must see this generation gone
	s.resetLocked()
	s.Unlock()
	s.log.Errorf("handshake timeout remote=%s timeout=%v", addrString(conn.RemoteAddr()), s.opt.AuthTimeout)
	_ = conn.die(ErrHandshakeTimeout)
}

func (s *Session) authenticated(gen uint64, answer packet.AuthAnswer) {
	s.Lock()
	if !s.current(gen) || s.state != AwaitingAuth {
		s.Unlock()
		return
	}
	s.timer.Stop()
	s.timer = nil
	s.state = Authenticated
	s.Unlock()
	s.log.Infof("connected device type=%d id=%d state=%s", answer.DeviceType, answer.DeviceID, answer.State)
	if s.opt.OnConnected != nil {
		s.opt.OnConnected(answer)
	}
}

func (s *Session) watch(conn Conn) {
	defer s.alive.Done()
	select {
	case <-conn.Done():
	case <-s.alive.StopChan():
		_ = conn.Close()
		<-conn.Done()
	}
	err := conn.Err()
	s.Lock()
	if s.conn == conn {
		s.resetLocked()
	}
	s.Unlock()
	s.log.Infof("disconnected remote=%s err=%v", addrString(conn.RemoteAddr()), err)
	if s.opt.OnDisconnected != nil {
		s.opt.OnDisconnected(err)
	}
}

func (s *Session) readLoop(gen uint64, conn Conn) {
	defer s.alive.Done()
	for {
		frame, err := conn.Receive(context.Background())
		if err != nil {
			return
		}
		s.processFrame(gen, conn, frame)
	}
}

func (s *Session) processFrame(gen uint64, conn Conn, frame []byte) {
	s.Lock()
	state, ok := s.state, s.current(gen)
	s.Unlock()
	if !ok {
		return
	}

	var err error
	switch state {
	case AwaitingAuth:
		var p packet.Packet
		if p, err = packet.Decode(frame); err == nil {
			if answer, isAnswer := p.(packet.AuthAnswer); isAnswer {
				s.authenticated(gen, answer)
				return
			}
			err = errors.Annotatef(ErrUnexpected, "before handshake %s", p)
		}

	case Authenticated:
		err = s.opt.Handlers.Dispatch(conn, frame)
	}
	if err == nil {
		return
	}
	if IsBroken(err) {
		conn.Stat().Broken.Add(1)
		err = errors.Annotatef(err, "broken packet frame=%x", frame)
		s.log.Error(err)
		if s.opt.OnError != nil {
			s.opt.OnError(err)
		}
		return
	}
	s.log.Errorf("handler err=%v", err)
	_ = conn.die(err)
}
