package link

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/svlink/log2"
	"github.com/temoto/svlink/packet"
)

const (
	DefaultConnectTimeout = 3 * time.Second
	DefaultNetworkTimeout = 30 * time.Second
)

var ErrClosing = fmt.Errorf("closing")

// ID is connection descriptor, unique within one Server or Session.
type ID uint64

type Conn interface {
	Close() error
	Closed() bool
	// Done is closed when connection dies, Err() is the reason.
	Done() <-chan struct{}
	Err() error
	ID() ID
	// Receive returns next frame payload.
	Receive(context.Context) ([]byte, error)
	RemoteAddr() net.Addr
	Send(context.Context, packet.Packet) error
	SendRaw(ctx context.Context, payload []byte) error
	SinceLastRecv() time.Duration
	Stat() *SessionStat
	String() string
	Trusted() bool

	die(error) error
	setTrusted()
	write(ctx context.Context, frame []byte) error
}

type ConnOptions struct {
	Log            *log2.Log
	NetworkTimeout time.Duration
}

func DialContext(ctx context.Context, dialer net.Dialer, url string, id ID, opt ConnOptions) (Conn, error) {
	if dialer.Timeout == 0 {
		dialer.Timeout = DefaultConnectTimeout
	}
	if deadline, ok := ctx.Deadline(); ok {
		if timeout := time.Until(deadline); timeout > 0 && timeout < dialer.Timeout {
			dialer.Timeout = timeout
		} else if timeout <= 0 {
			return nil, context.DeadlineExceeded
		}
	}

	scheme, hostport, err := parseURI(url)
	if err != nil {
		return nil, errors.Annotate(err, "parse url")
	}

	var conn net.Conn
	switch scheme {
	case "tcp", "tcp4", "tcp6", "unix":
		conn, err = dialer.DialContext(ctx, scheme, hostport)
	default:
		err = fmt.Errorf("unknown protocol=%s", scheme)
	}
	if err != nil {
		return nil, errors.Annotatef(err, "dial %s", url)
	}
	return NewStreamConn(conn, id, opt), nil
}
