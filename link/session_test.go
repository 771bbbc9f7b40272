package link

import (
	"bufio"
	"context"
	"io"
	"io/ioutil"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/svlink/log2"
	"github.com/temoto/svlink/packet"
)

// fakeDevice accepts connections and runs handle on each, stop waits for handlers.
func fakeDevice(t testing.TB, handle func(n int, conn net.Conn)) (url string, stop func()) {
	ll, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for n := 1; ; n++ {
			conn, err := ll.Accept()
			if err != nil {
				return
			}
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				defer conn.Close()
				handle(n, conn)
			}(n)
		}
	}()
	return "tcp://" + ll.Addr().String(), func() {
		_ = ll.Close()
		wg.Wait()
	}
}

func writePacket(t testing.TB, w io.Writer, p packet.Packet) {
	b, err := packet.Encode(p)
	require.NoError(t, err)
	f, err := FrameMarshal(b)
	require.NoError(t, err)
	_, err = w.Write(f)
	assert.NoError(t, err)
}

func expectAuthRequest(t testing.TB, d *Decoder) bool {
	frame, err := d.Read()
	if !assert.NoError(t, err) {
		return false
	}
	return assert.Equal(t, append([]byte{byte(packet.TagAuthRequest)}, packet.AuthToken...), frame)
}

type sessionEvents struct {
	connected    chan packet.AuthAnswer
	disconnected chan error
	errs         chan error
	data         chan packet.Data
}

func newSessionEvents() *sessionEvents {
	return &sessionEvents{
		connected:    make(chan packet.AuthAnswer, 4),
		disconnected: make(chan error, 4),
		errs:         make(chan error, 4),
		data:         make(chan packet.Data, 4),
	}
}

func (sp *sessionEvents) options(log *log2.Log, authTimeout time.Duration) SessionOptions {
	return SessionOptions{
		Log:         log,
		AuthTimeout: authTimeout,
		Handlers: Handlers{
			packet.TagData: func(_ Conn, p packet.Packet) error {
				sp.data <- p.(packet.Data)
				return nil
			},
		},
		OnConnected:    func(a packet.AuthAnswer) { sp.connected <- a },
		OnDisconnected: func(e error) { sp.disconnected <- e },
		OnError:        func(e error) { sp.errs <- e },
	}
}

func recvTimeout(t testing.TB, ch interface{}, what string) interface{} {
	t.Helper()
	switch ch := ch.(type) {
	case chan packet.AuthAnswer:
		select {
		case x := <-ch:
			return x
		case <-time.After(5 * time.Second):
		}
	case chan packet.Data:
		select {
		case x := <-ch:
			return x
		case <-time.After(5 * time.Second):
		}
	case chan error:
		select {
		case x := <-ch:
			return x
		case <-time.After(5 * time.Second):
		}
	}
	t.Fatalf("timeout waiting for %s", what)
	return nil
}

func TestSessionNominal(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	identity := packet.AuthAnswer{DeviceType: 1, DeviceID: 2, State: packet.StateWait}
	data1 := packet.Data{State: packet.StateRun, Timestamp: 1000, Entries: []packet.Entry{{Tag: packet.EntryEncoder, Value: 7}}}
	data2 := packet.Data{State: packet.StateRun, Timestamp: 1100}
	url, stop := fakeDevice(t, func(_ int, conn net.Conn) {
		var d Decoder
		d.Attach(bufio.NewReader(conn))
		if !expectAuthRequest(t, &d) {
			return
		}
		writePacket(t, conn, identity)
		writePacket(t, conn, data1)
		_, _ = conn.Write([]byte{2, 0xee, 0x01}) // unknown tag
		writePacket(t, conn, data2)
		_, _ = io.Copy(ioutil.Discard, conn)
	})
	defer stop()

	ev := newSessionEvents()
	s := NewSession(ev.options(log, time.Second))
	defer s.Close()
	assert.Equal(t, Disconnected, s.State())
	require.NoError(t, s.Connect(context.Background(), url))

	assert.Equal(t, identity, recvTimeout(t, ev.connected, "connected"))
	assert.Equal(t, data1, recvTimeout(t, ev.data, "data1"))
	assert.True(t, IsBroken(recvTimeout(t, ev.errs, "broken").(error)))
	assert.Equal(t, data2, recvTimeout(t, ev.data, "data2"))
	st := s.Stat()
	assert.Equal(t, int64(1), st.Broken.Value())
	assert.Equal(t, Authenticated, s.State())

	assert.Equal(t, ErrAlreadyConnected, errors.Cause(s.Connect(context.Background(), url)))
	require.NoError(t, s.Disconnect())
	assert.Equal(t, Disconnected, s.State())
	assert.Equal(t, ErrClosing, errors.Cause(recvTimeout(t, ev.disconnected, "disconnected").(error)))
	select {
	case e := <-ev.disconnected:
		t.Fatalf("second disconnect notification e=%v", e)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, ErrNotAuthenticated, errors.Cause(s.Send(context.Background(), packet.SettingsRequest{})))
}

func TestSessionHandshakeTimeout(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	url, stop := fakeDevice(t, func(_ int, conn net.Conn) {
		var d Decoder
		d.Attach(bufio.NewReader(conn))
		if expectAuthRequest(t, &d) {
			// accept and never reply
			_, _ = io.Copy(ioutil.Discard, conn)
		}
	})
	defer stop()

	const timeout = 200 * time.Millisecond
	ev := newSessionEvents()
	s := NewSession(ev.options(log, timeout))
	defer s.Close()
	started := time.Now()
	require.NoError(t, s.Connect(context.Background(), url))
	assert.Equal(t, AwaitingAuth, s.State())
	assert.Equal(t, ErrNotAuthenticated, errors.Cause(s.Send(context.Background(), packet.SettingsRequest{})))

	err := recvTimeout(t, ev.disconnected, "disconnected").(error)
	elapsed := time.Since(started)
	assert.Equal(t, ErrHandshakeTimeout, errors.Cause(err))
	assert.True(t, elapsed >= timeout, "elapsed=%v", elapsed)
	assert.True(t, elapsed < timeout+2*time.Second, "elapsed=%v", elapsed)
	assert.Equal(t, Disconnected, s.State())
	assert.Len(t, ev.connected, 0)
}

func TestSessionAuthAnswerAfterTimeout(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	ev := newSessionEvents()
	s := NewSession(ev.options(log, time.Second))
	defer s.Close()
	local, remote := net.Pipe()
	defer remote.Close()
	conn := NewStreamConn(local, 1, ConnOptions{Log: log, NetworkTimeout: time.Second})
	s.Lock()
	s.gen = 1
	s.conn = conn
	s.state = AwaitingAuth
	s.Unlock()

	s.authExpired(1, conn)
	assert.Equal(t, Disconnected, s.State())
	assert.Equal(t, ErrHandshakeTimeout, errors.Cause(conn.Err()))

	// answer processed after timer fired is ignored
	s.authenticated(1, packet.AuthAnswer{State: packet.StateRun})
	assert.Equal(t, Disconnected, s.State())
	assert.Len(t, ev.connected, 0)
	st := s.Stat()
	assert.Equal(t, int64(1), st.Accepted.Value())
}

func TestSessionReconnectStaleTimer(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	url, stop := fakeDevice(t, func(n int, conn net.Conn) {
		var d Decoder
		d.Attach(bufio.NewReader(conn))
		if !expectAuthRequest(t, &d) {
			return
		}
		if n > 1 {
			writePacket(t, conn, packet.AuthAnswer{State: packet.StateRun})
		}
		_, _ = io.Copy(ioutil.Discard, conn)
	})
	defer stop()

	const timeout = 200 * time.Millisecond
	ev := newSessionEvents()
	s := NewSession(ev.options(log, timeout))
	defer s.Close()
	require.NoError(t, s.Connect(context.Background(), url))
	require.NoError(t, s.Disconnect())
	recvTimeout(t, ev.disconnected, "first disconnected")

	require.NoError(t, s.Connect(context.Background(), url))
	recvTimeout(t, ev.connected, "connected")
	time.Sleep(2 * timeout)
	assert.Equal(t, Authenticated, s.State())
	assert.Len(t, ev.disconnected, 0)
}

func TestSessionDialError(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	ll, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	url := "tcp://" + ll.Addr().String()
	require.NoError(t, ll.Close())

	ev := newSessionEvents()
	s := NewSession(ev.options(log, time.Second))
	defer s.Close()
	assert.Error(t, s.Connect(context.Background(), url))
	assert.Error(t, recvTimeout(t, ev.errs, "dial error").(error))
	assert.Equal(t, Disconnected, s.State())
	assert.Len(t, ev.disconnected, 0)
}

func TestSessionPeerClose(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	var accepted int32
	url, stop := fakeDevice(t, func(_ int, conn net.Conn) {
		atomic.AddInt32(&accepted, 1)
		var d Decoder
		d.Attach(bufio.NewReader(conn))
		if expectAuthRequest(t, &d) {
			writePacket(t, conn, packet.AuthAnswer{})
		}
	})
	defer stop()

	ev := newSessionEvents()
	s := NewSession(ev.options(log, time.Second))
	defer s.Close()
	require.NoError(t, s.Connect(context.Background(), url))
	recvTimeout(t, ev.connected, "connected")
	err := recvTimeout(t, ev.disconnected, "disconnected").(error)
	assert.Error(t, err)
	assert.Equal(t, Disconnected, s.State())
	assert.Equal(t, int32(1), atomic.LoadInt32(&accepted))
}
