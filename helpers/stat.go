package helpers

import (
	"io"
)

// Counter is satisfied by *expvar.Int and friends.
type Counter interface {
	Add(int64)
}

// StatReader adds every successful read size plus fixed overhead F to V.
type StatReader struct {
	R io.Reader
	V Counter
	F int64
}

var _ io.Reader = &StatReader{}

func NewStatReader(r io.Reader, c Counter, fix int64) io.Reader {
	return &StatReader{R: r, F: fix, V: c}
}

func (sr *StatReader) Read(p []byte) (n int, err error) {
	n, err = sr.R.Read(p)
	if n > 0 {
		sr.V.Add(int64(n) + sr.F)
	}
	return
}

type StatWriter struct {
	W io.Writer
	V Counter
	F int64
}

var _ io.Writer = &StatWriter{}

func NewStatWriter(w io.Writer, c Counter, fix int64) io.Writer {
	return &StatWriter{W: w, F: fix, V: c}
}

func (sw *StatWriter) Write(p []byte) (n int, err error) {
	n, err = sw.W.Write(p)
	if n > 0 {
		sw.V.Add(int64(n) + sw.F)
	}
	return
}
