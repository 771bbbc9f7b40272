package console

import "sync"

// Timeline converts device clock into seconds since first telemetry of current connection.
type Timeline struct {
	mu    sync.Mutex
	first int32
	seen  bool
}

func (t *Timeline) Reset() {
	t.mu.Lock()
	t.seen = false
	t.first = 0
	t.mu.Unlock()
}

func (t *Timeline) Seconds(ts int32) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.seen {
		t.first, t.seen = ts, true
	}
	return float64(ts-t.first) / 1000
}

// Speed is encoder units per second between consecutive samples.
type Speed struct {
	last    float64
	lastEnc int32
	seen    bool
}

func (s *Speed) Reset() { *s = Speed{} }

func (s *Speed) Update(seconds float64, encoder int32) float64 {
	if !s.seen || seconds == s.last {
		s.last, s.lastEnc, s.seen = seconds, encoder, true
		return 0
	}
	v := float64(encoder-s.lastEnc) / (seconds - s.last)
	s.last, s.lastEnc = seconds, encoder
	return v
}
