package link

import (
	"bufio"
	"fmt"
	"io"

	"github.com/juju/errors"
)

const MaxFrameLen = 255

var ErrFrameTooLarge = fmt.Errorf("frame is too large")

// FrameMarshal prepends length byte.
func FrameMarshal(payload []byte) ([]byte, error) {
	if len(payload) > MaxFrameLen {
		return nil, errors.Annotatef(ErrFrameTooLarge, "length=%d", len(payload))
	}
	b := make([]byte, 1+len(payload))
	b[0] = byte(len(payload))
	copy(b[1:], payload)
	return b, nil
}

// Decoder reads frames from buffered stream, partial reads block until frame is complete.
type Decoder struct {
	r *bufio.Reader
}

func (d *Decoder) Attach(r *bufio.Reader) { d.r = r }

// Read returns next frame payload, fresh slice owned by caller.
// Clean EOF between frames is io.EOF, inside frame io.ErrUnexpectedEOF.
func (d *Decoder) Read() ([]byte, error) {
	length, err := d.r.ReadByte()
	if err != nil {
		if err == io.EOF {
			return nil, err
		}
		return nil, errors.Annotate(err, "header")
	}
	buf := make([]byte, length)
	_, err = io.ReadFull(d.r, buf)
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	if err != nil {
		return nil, errors.Annotatef(err, "readfull length=%d", length)
	}
	return buf, nil
}
