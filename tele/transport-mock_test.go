package tele

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/temoto/svlink/log2"
	tele_config "github.com/temoto/svlink/tele/config"
)

type mockMsg struct {
	topic   string
	payload []byte
}

type transportMock struct {
	t              testing.TB
	networkTimeout time.Duration
	outBuffer      int
	fail           int32 // atomic, fail next N sends
	will           []byte
	outState       chan []byte
	out            chan mockMsg
}

func (self *transportMock) Init(ctx context.Context, log *log2.Log, teleConfig tele_config.Config, willPayload []byte) error {
	if self.networkTimeout == 0 {
		self.networkTimeout = DefaultNetworkTimeout
	}
	self.will = willPayload
	self.outState = make(chan []byte, self.outBuffer)
	self.out = make(chan mockMsg, self.outBuffer)
	return nil
}

func (self *transportMock) Close() {}

func (self *transportMock) SendState(payload []byte) bool {
	select {
	case self.outState <- copyBytes(payload):
		self.t.Logf("mock delivered state=%x", payload)
	case <-time.After(self.networkTimeout):
		self.t.Logf("mock network timeout")
		return false
	}
	return true
}

func (self *transportMock) Send(topicSuffix string, payload []byte) bool {
	if atomic.AddInt32(&self.fail, -1) >= 0 {
		self.t.Logf("mock simulated failure topic=%s", topicSuffix)
		return false
	}
	select {
	case self.out <- mockMsg{topic: topicSuffix, payload: copyBytes(payload)}:
		self.t.Logf("mock delivered topic=%s payload=%x", topicSuffix, payload)
	case <-time.After(self.networkTimeout):
		self.t.Logf("mock network timeout")
		return false
	}
	return true
}

// split send/receive buffer identity for safe concurrent access
func copyBytes(b []byte) []byte {
	new := make([]byte, len(b))
	copy(new, b)
	return new
}
