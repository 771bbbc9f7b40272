package link

import (
	"fmt"

	"github.com/juju/errors"
	"github.com/temoto/svlink/packet"
)

// ErrUnexpected is a well formed packet that receiving side does not handle.
var ErrUnexpected = fmt.Errorf("unexpected packet")

// PacketFunc is called on connection reader goroutine, in arrival order.
// Error closes the connection.
type PacketFunc = func(Conn, packet.Packet) error

// Handlers is dispatch table, packet tag -> handler.
type Handlers map[packet.Tag]PacketFunc

// IsBroken reports per-frame errors that are counted and skipped.
func IsBroken(err error) bool {
	return packet.IsBroken(err) || errors.Cause(err) == ErrUnexpected
}

// Dispatch decodes frame and calls handler for its tag.
// Decode errors and tags without handler are returned unannotated by handler,
// use IsBroken to tell them apart from handler errors.
func (h Handlers) Dispatch(c Conn, frame []byte) error {
	p, err := packet.Decode(frame)
	if err != nil {
		return err
	}
	f := h[p.Tag()]
	if f == nil {
		return errors.Annotatef(ErrUnexpected, "%s", p)
	}
	return f(c, p)
}

// Clone returns copy safe to extend without touching original table.
func (h Handlers) Clone() Handlers {
	r := make(Handlers, len(h))
	for k, v := range h {
		r[k] = v
	}
	return r
}
