package helpers

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriteAll(t *testing.T) {
	t.Parallel()
	buf := bytes.NewBuffer(nil)
	content := []byte("\x05\x09\x01\x00\x00\x00\x02\x00\x00\x00")
	tw := &throttleWriter{buf, 3}
	n, err := tw.Write(content)
	assert.NoError(t, err)
	assert.Equal(t, 3, n)
	buf.Reset()
	assert.NoError(t, WriteAll(tw, content))
	assert.Equal(t, content, buf.Bytes())

	assert.Equal(t, io.ErrShortWrite, WriteAll(&throttleWriter{buf, 0}, content))
}

type throttleWriter struct {
	w io.Writer
	n int
}

func (tw *throttleWriter) Write(p []byte) (n int, err error) {
	limit := len(p)
	if limit > tw.n {
		limit = tw.n
	}
	return tw.w.Write(p[:limit])
}
