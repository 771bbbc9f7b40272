package link

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/svlink/helpers"
	"github.com/temoto/svlink/helpers/atomic_clock"
	"github.com/temoto/svlink/packet"
)

type streamConn struct {
	sync.Mutex // write
	err        helpers.AtomicError
	done       chan struct{}
	last       atomic_clock.Clock
	dec        Decoder
	id         ID
	net        net.Conn
	opt        ConnOptions
	stat       SessionStat
	trusted    uint32
	w          *bufio.Writer
}

var _ Conn = &streamConn{}

func NewStreamConn(netConn net.Conn, id ID, opt ConnOptions) *streamConn {
	c := &streamConn{
		done: make(chan struct{}),
		id:   id,
		net:  netConn,
		opt:  opt,
	}
	if tcp, ok := c.net.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetLinger(0)
	}
	const tcpOverhead = 40
	statread := helpers.NewStatReader(c.net, &c.stat.Recv.Total.Size, tcpOverhead)
	c.w = bufio.NewWriterSize(helpers.NewStatWriter(c.net, &c.stat.Send.Total.Size, tcpOverhead), 1+MaxFrameLen)
	c.dec.Attach(bufio.NewReader(statread))
	c.stat.Accepted.Set(1)
	c.last.SetNow()
	return c
}

// Close returns nil or earlier reason of connection death.
func (c *streamConn) Close() error {
	if err := c.die(ErrClosing); err != ErrClosing {
		return err
	}
	return nil
}

func (c *streamConn) Closed() bool {
	_, ok := c.err.Load()
	return ok
}

func (c *streamConn) Done() <-chan struct{} { return c.done }

func (c *streamConn) Err() error {
	err, _ := c.err.Load()
	return err
}

func (c *streamConn) Receive(ctx context.Context) ([]byte, error) {
	deadline, _ := ctx.Deadline()
	if err := c.net.SetReadDeadline(deadline); err != nil {
		err = errors.Annotate(err, "SetReadDeadline")
		_ = c.die(err)
		return nil, err
	}
	b, err := c.dec.Read()
	if err != nil {
		if c.Closed() {
			return nil, c.Err()
		}
		err = errors.Annotate(err, "receive")
		_ = c.die(err)
		return nil, err
	}
	c.last.SetNow()
	c.stat.Recv.Register(b)
	return b, nil
}

func (c *streamConn) Send(ctx context.Context, p packet.Packet) error {
	b, err := packet.Encode(p)
	if err != nil {
		return errors.Annotatef(err, "send %s", p)
	}
	c.opt.Log.Debugf("send id=%d p=%s", c.id, p)
	return c.SendRaw(ctx, b)
}

func (c *streamConn) SendRaw(ctx context.Context, payload []byte) error {
	frame, err := FrameMarshal(payload)
	if err != nil {
		return err
	}
	return c.write(ctx, frame)
}

// write sends complete frame in one flush under write lock.
func (c *streamConn) write(ctx context.Context, frame []byte) error {
	if c.Closed() {
		return ErrClosing
	}
	deadline, _ := ctx.Deadline()
	if deadline.IsZero() && c.opt.NetworkTimeout > 0 {
		deadline = time.Now().Add(c.opt.NetworkTimeout)
	}
	c.Lock()
	defer c.Unlock()
	if err := c.net.SetWriteDeadline(deadline); err != nil {
		err = errors.Annotate(err, "SetWriteDeadline")
		_ = c.die(err)
		return err
	}
	err := helpers.WriteAll(c.w, frame)
	if err == nil {
		err = c.w.Flush()
	}
	if err != nil {
		err = errors.Annotate(err, "send")
		_ = c.die(err)
		return err
	}
	c.stat.Send.Register(frame[1:])
	return nil
}

func (c *streamConn) ID() ID                       { return c.id }
func (c *streamConn) RemoteAddr() net.Addr         { return c.net.RemoteAddr() }
func (c *streamConn) SinceLastRecv() time.Duration { return atomic_clock.Since(&c.last) }
func (c *streamConn) Stat() *SessionStat           { return &c.stat }
func (c *streamConn) Trusted() bool                { return atomic.LoadUint32(&c.trusted) == 1 }
func (c *streamConn) setTrusted()                  { atomic.StoreUint32(&c.trusted, 1) }

func (c *streamConn) String() string {
	return fmt.Sprintf("(id=%d remote=%s trusted=%t)", c.id, addrString(c.RemoteAddr()), c.Trusted())
}

func (c *streamConn) die(e error) error {
	if err, found := c.err.StoreOnce(e); found {
		return err
	}
	_ = c.net.Close()
	close(c.done)

	// reformat some well known errors for easier log reading
	estr := e.Error()
	if neterr, ok := errors.Cause(e).(net.Error); ok && neterr.Timeout() {
		estr = "timeout"
	} else if strings.HasSuffix(estr, "i/o timeout") {
		estr = "timeout"
	} else if strings.HasSuffix(estr, "connection reset by peer") {
		estr = "closed by remote"
	}
	c.opt.Log.Debugf("die id=%d local=%s remote=%s e=%s", c.id, addrString(c.net.LocalAddr()), addrString(c.RemoteAddr()), estr)
	return e
}
