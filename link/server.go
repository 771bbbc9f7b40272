package link

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/svlink/helpers"
	"github.com/temoto/svlink/log2"
	"github.com/temoto/svlink/packet"
)

// Server is device side of the link, accepts consoles.
type Server struct {
	mu    sync.Mutex // protects alive, ll
	alive *alive.Alive
	ll    net.Listener

	conns struct {
		sync.RWMutex
		m map[ID]Conn
	}
	coi      CoiQueue
	handlers Handlers
	lastID   uint64
	log      *log2.Log
	opt      ServerOptions
	done     SessionStat // closed connections
}

type ServerOptions struct {
	Log *log2.Log
	// Identity is reply to AuthRequest.
	Identity func() packet.AuthAnswer
	// Handlers for trusted peers. Task coi is queued before handler is called.
	Handlers Handlers
	// OnAuth is called after AuthAnswer is sent.
	OnAuth  func(Conn)
	OnClose CloseFunc
}

type ListenOptions struct {
	StreamURL      string
	NetworkTimeout time.Duration
}

type CloseFunc = func(id ID, e error)

func NewServer(opt ServerOptions) *Server {
	s := &Server{
		log: opt.Log,
		opt: opt,
	}
	s.conns.m = make(map[ID]Conn)
	s.handlers = opt.Handlers.Clone()
	onTask := s.handlers[packet.TagTask]
	s.handlers[packet.TagTask] = func(conn Conn, p packet.Packet) error {
		s.coi.Enqueue(p.(packet.Task).Coi)
		if onTask != nil {
			return onTask(conn, p)
		}
		return nil
	}
	if s.opt.Identity == nil {
		s.opt.Identity = func() packet.AuthAnswer { return packet.AuthAnswer{} }
	}
	return s
}

func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ll == nil {
		return nil
	}
	return s.ll.Addr()
}

func (s *Server) Coi() *CoiQueue { return &s.coi }

func (s *Server) Listening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ll != nil
}

// Start is no-op when already listening. Bind error leaves server stopped.
func (s *Server) Start(opt ListenOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ll != nil {
		return nil
	}
	if opt.NetworkTimeout == 0 {
		opt.NetworkTimeout = DefaultNetworkTimeout
	}

	scheme, hostport, err := parseURI(opt.StreamURL)
	if err != nil {
		return errors.Annotatef(err, "parse url=%s", opt.StreamURL)
	}
	ll, err := net.Listen(scheme, hostport)
	if err != nil {
		return errors.Annotatef(err, "net.Listen network=%s address=%s", scheme, hostport)
	}
	s.log.Infof("listen url=%s addr=%s", opt.StreamURL, addrString(ll.Addr()))
	s.ll = ll
	s.alive = alive.NewAlive()
	s.alive.Add(1) // one alive subtask for listener
	go s.acceptLoop(s.alive, ll, opt)
	return nil
}

// Stop closes listener and every connection, waits for readers. No-op when stopped.
func (s *Server) Stop() error {
	s.mu.Lock()
	ll, a := s.ll, s.alive
	s.ll = nil
	s.mu.Unlock()
	if ll == nil {
		return nil
	}

	a.Stop()
	err := ll.Close()
	helpers.WithLock(&s.conns, func() {
		for id, conn := range s.conns.m {
			_ = conn.Close()
			delete(s.conns.m, id)
		}
	})
	a.Wait()
	s.log.Infof("stopped")
	return errors.Annotate(err, "listener close")
}

func (s *Server) Conns() []Conn {
	s.conns.RLock()
	defer s.conns.RUnlock()
	r := make([]Conn, 0, len(s.conns.m))
	for _, c := range s.conns.m {
		r = append(r, c)
	}
	return r
}

// Stat returns totals of all connections, live included.
func (s *Server) Stat() SessionStat {
	s.conns.RLock()
	defer s.conns.RUnlock()
	r := s.done.Value()
	for _, c := range s.conns.m {
		r.Add(c.Stat())
	}
	return r
}

// SendAll encodes packet once and broadcasts to every registered connection.
func (s *Server) SendAll(ctx context.Context, p packet.Packet) error {
	b, err := packet.Encode(p)
	if err != nil {
		return errors.Annotate(err, "SendAll")
	}
	return s.SendAllRaw(ctx, b)
}

// SendAllRaw writes same frame to every connection.
// Failed connection does not stop delivery to others, errors are folded.
func (s *Server) SendAllRaw(ctx context.Context, payload []byte) error {
	frame, err := FrameMarshal(payload)
	if err != nil {
		return errors.Annotate(err, "SendAllRaw")
	}
	conns := s.Conns()
	errs := make([]error, 0)
	for _, conn := range conns {
		if err := conn.write(ctx, frame); err != nil {
			errs = append(errs, errors.Annotatef(err, "conn=%s", conn))
		}
	}
	err = helpers.FoldErrors(errs)
	if err != nil {
		s.log.Debugf("SendAll conns=%d err=%v", len(conns), err)
	}
	return err
}

func (s *Server) SendTo(ctx context.Context, id ID, p packet.Packet) error {
	s.conns.RLock()
	conn, ok := s.conns.m[id]
	s.conns.RUnlock()
	if !ok {
		return errors.NotFoundf("conn id=%d", id)
	}
	return conn.Send(ctx, p)
}

// Answer completes oldest task. Queue underflow is a logic error, Answer is not sent.
func (s *Server) Answer(ctx context.Context, t packet.AnswerType) error {
	coi, err := s.coi.Dequeue()
	if err != nil {
		s.log.Errorf("CRITICAL answer=%s err=%v", t, err)
		return err
	}
	return s.SendAll(ctx, packet.Answer{Coi: coi, Type: t})
}

func (s *Server) acceptLoop(a *alive.Alive, ll net.Listener, opt ListenOptions) {
	defer a.Done()
	for {
		netConn, err := ll.Accept()
		if !a.IsRunning() {
			if netConn != nil {
				_ = netConn.Close()
			}
			return
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Temporary() { //nolint:staticcheck
				s.log.Errorf("accept listen=%s err=%v", addrString(ll.Addr()), err)
				time.Sleep(10 * time.Millisecond)
				continue
			}
			s.log.Error(errors.Annotatef(err, "accept listen=%s", addrString(ll.Addr())))
			return
		}

		if !a.Add(1) { // and one alive subtask for each connection
			_ = netConn.Close()
			return
		}
		conn := s.register(netConn, opt)
		if !a.IsRunning() { // Stop may have swept conns before register
			_ = conn.Close()
		}
		go s.processConn(a, conn)
	}
}

func (s *Server) register(netConn net.Conn, opt ListenOptions) Conn {
	id := ID(atomic.AddUint64(&s.lastID, 1))
	conn := NewStreamConn(netConn, id, ConnOptions{
		Log:            s.log,
		NetworkTimeout: opt.NetworkTimeout,
	})
	helpers.WithLock(&s.conns, func() { s.conns.m[id] = conn })
	s.log.Debugf("accept id=%d remote=%s", id, addrString(netConn.RemoteAddr()))
	return conn
}

func (s *Server) processConn(a *alive.Alive, conn Conn) {
	defer a.Done()
	for {
		frame, err := conn.Receive(context.Background())
		if err != nil {
			break
		}
		s.processFrame(conn, frame)
	}

	// mandatory cleanup on connection closed
	closeErr := conn.Err()
	helpers.WithLock(&s.conns, func() {
		if ex := s.conns.m[conn.ID()]; ex == conn {
			delete(s.conns.m, conn.ID())
		}
		s.done.Add(conn.Stat())
	})
	s.log.Debugf("close id=%d err=%v", conn.ID(), closeErr)
	if s.opt.OnClose != nil {
		s.opt.OnClose(conn.ID(), closeErr)
	}
}

func (s *Server) processFrame(conn Conn, frame []byte) {
	var err error
	if conn.Trusted() && (len(frame) == 0 || packet.Tag(frame[0]) != packet.TagAuthRequest) {
		err = s.handlers.Dispatch(conn, frame)
	} else {
		// repeated AuthRequest from trusted peer gets answer too
		err = s.handshake(conn, frame)
	}
	if err == nil {
		return
	}
	if IsBroken(err) {
		conn.Stat().Broken.Add(1)
		s.log.Errorf("broken packet conn=%s frame=%x err=%v", conn, frame, err)
		return
	}
	s.log.Errorf("process conn=%s err=%v", conn, err)
	_ = conn.die(err)
}

// handshake trusts peer only after exact size AuthRequest with valid token.
func (s *Server) handshake(conn Conn, frame []byte) error {
	p, err := packet.Decode(frame)
	if err != nil {
		return errors.Annotate(err, "untrusted")
	}
	if _, ok := p.(packet.AuthRequest); !ok || len(frame) != p.Size() {
		return errors.Annotatef(ErrUnexpected, "untrusted %s length=%d", p, len(frame))
	}
	answer := s.opt.Identity()
	if err = conn.Send(context.Background(), answer); err != nil {
		return errors.Annotate(err, "handshake")
	}
	conn.setTrusted()
	s.log.Infof("auth conn=%s answer=%s", conn, answer)
	if s.opt.OnAuth != nil {
		s.opt.OnAuth(conn)
	}
	return nil
}
