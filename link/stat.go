package link

// Complex values are read and modified atomically, but not consistently,
// i.e. it is possible to read .Count=1 .Size=0 because Size has not updated yet.

import (
	"expvar"
	"fmt"

	"github.com/temoto/svlink/packet"
)

type SessionStat struct {
	// Accepted counts connections ever opened, it never goes down.
	Accepted expvar.Int
	Broken   expvar.Int
	Recv     Counters
	Send     Counters
}

func (ss *SessionStat) Add(other *SessionStat) {
	ss.Accepted.Add(other.Accepted.Value())
	ss.Broken.Add(other.Broken.Value())
	ss.Recv.Add(&other.Recv)
	ss.Send.Add(&other.Send)
}

func (ss *SessionStat) Value() (r SessionStat) {
	r.Accepted.Set(ss.Accepted.Value())
	r.Broken.Set(ss.Broken.Value())
	r.Recv.Set(ss.Recv.Value())
	r.Send.Set(ss.Send.Value())
	return
}

func (ss *SessionStat) String() string {
	return fmt.Sprintf(`{"accepted":%d,"broken":%d,"recv":%s,"send":%s}`,
		ss.Accepted.Value(), ss.Broken.Value(), ss.Recv.String(), ss.Send.String())
}

// Counters splits frames into commands (task, settings, answer, control)
// and telemetry (data, map). Total.Size counts socket bytes with TCP overhead estimate.
type Counters struct {
	Cmd   CountSizePair
	Tele  CountSizePair
	Total CountSizePair
}

func (c *Counters) Add(c2 *Counters) {
	c.Cmd.Add(&c2.Cmd)
	c.Tele.Add(&c2.Tele)
	c.Total.Add(&c2.Total)
}

// Register accounts one frame. Total.Size is maintained by socket stat reader/writer.
func (c *Counters) Register(frame []byte) {
	c.Total.Count.Add(1)
	if len(frame) == 0 {
		return
	}
	size := int64(1 + len(frame))
	var category *CountSizePair
	switch packet.Tag(frame[0]) {
	case packet.TagTask, packet.TagSettings, packet.TagSettingsRequest, packet.TagAnswer, packet.TagControl:
		category = &c.Cmd
	case packet.TagData, packet.TagMap:
		category = &c.Tele
	}
	if category != nil {
		category.Count.Add(1)
		category.Size.Add(size)
	}
}

func (c *Counters) Set(new Counters) {
	c.Cmd.Set(new.Cmd.Value())
	c.Tele.Set(new.Tele.Value())
	c.Total.Set(new.Total.Value())
}

func (c *Counters) Value() (r Counters) {
	r.Cmd = c.Cmd.Value()
	r.Tele = c.Tele.Value()
	r.Total = c.Total.Value()
	return
}

func (c *Counters) String() string {
	return fmt.Sprintf(`{"cmd.count":%d,"cmd.size":%d,"tele.count":%d,"tele.size":%d,"total.count":%d,"total.size":%d}`,
		c.Cmd.Count.Value(), c.Cmd.Size.Value(),
		c.Tele.Count.Value(), c.Tele.Size.Value(),
		c.Total.Count.Value(), c.Total.Size.Value())
}

type CountSizePair struct {
	Count expvar.Int
	Size  expvar.Int
}

func (csp *CountSizePair) Add(other *CountSizePair) {
	csp.Count.Add(other.Count.Value())
	csp.Size.Add(other.Size.Value())
}

func (csp *CountSizePair) Value() (r CountSizePair) {
	r.Count.Set(csp.Count.Value())
	r.Size.Set(csp.Size.Value())
	return
}

func (csp *CountSizePair) Set(new CountSizePair) {
	csp.Count.Set(new.Count.Value())
	csp.Size.Set(new.Size.Value())
}
