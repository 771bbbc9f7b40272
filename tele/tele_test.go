package tele

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/spq"
	"github.com/temoto/svlink/log2"
	"github.com/temoto/svlink/packet"
	tele_config "github.com/temoto/svlink/tele/config"
)

func newTestTele(t testing.TB, mock *transportMock) *Tele {
	mock.t = t
	tele := NewWithTransporter(mock)
	conf := tele_config.Config{
		Enabled:     true,
		PersistPath: spq.OnlyForTesting,
	}
	require.NoError(t, tele.Init(context.Background(), log2.NewTest(t, log2.LDebug), conf))
	return tele
}

func receive(t testing.TB, ch <-chan mockMsg) mockMsg {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("timeout")
		return mockMsg{}
	}
}

func TestPacket(t *testing.T) {
	t.Parallel()
	mock := &transportMock{networkTimeout: time.Second}
	tele := newTestTele(t, mock)
	defer tele.Close()
	assert.Equal(t, []byte{StateOffline}, mock.will)

	d := packet.Data{State: packet.StateRun, Timestamp: 1000, Entries: []packet.Entry{{Tag: packet.EntryEncoder, Value: 5}}}
	tele.Packet(d)
	tele.Packet(packet.Answer{Coi: 3, Type: packet.AnswerSuccess})
	tele.Error(fmt.Errorf("link broken"))

	m := receive(t, mock.out)
	assert.Equal(t, "data", m.topic)
	expect, err := packet.Encode(d)
	require.NoError(t, err)
	assert.Equal(t, expect, m.payload)
	m = receive(t, mock.out)
	assert.Equal(t, "answer", m.topic)
	assert.Equal(t, []byte{byte(packet.TagAnswer), 3, 1}, m.payload)
	m = receive(t, mock.out)
	assert.Equal(t, topicError, m.topic)
	assert.Equal(t, "link broken", string(m.payload))
}

func TestRetry(t *testing.T) {
	t.Parallel()
	mock := &transportMock{networkTimeout: time.Second, fail: 1}
	tele := newTestTele(t, mock)
	defer tele.Close()

	tele.Packet(packet.Control{X: 1, Y: 2})
	m := receive(t, mock.out)
	assert.Equal(t, "control", m.topic)
	assert.Equal(t, int32(-1), atomic.LoadInt32(&mock.fail))
}

func TestState(t *testing.T) {
	t.Parallel()
	mock := &transportMock{networkTimeout: time.Second, outBuffer: 4}
	tele := newTestTele(t, mock)
	defer tele.Close()

	tele.State(true)
	tele.State(true) // duplicate is not sent again
	tele.State(false)
	select {
	case b := <-mock.outState:
		assert.Equal(t, []byte{StateConnected}, b)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout")
	}
	select {
	case b := <-mock.outState:
		assert.Equal(t, []byte{StateDisconnected}, b)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout")
	}
}

func TestDisabled(t *testing.T) {
	t.Parallel()
	mock := &transportMock{t: t}
	tele := NewWithTransporter(mock)
	require.NoError(t, tele.Init(context.Background(), log2.NewTest(t, log2.LDebug), tele_config.Config{}))
	tele.Packet(packet.SettingsRequest{})
	tele.State(true)
	tele.Error(fmt.Errorf("ignored"))
	tele.Close()
	assert.Nil(t, mock.out, "transport must not be initialized")
}

func TestInitInvalid(t *testing.T) {
	t.Parallel()
	tele := New()
	err := tele.Init(context.Background(), log2.NewTest(t, log2.LDebug), tele_config.Config{Enabled: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persist_path")

	tele = New()
	err = tele.Init(context.Background(), log2.NewTest(t, log2.LDebug), tele_config.Config{Enabled: true, PersistPath: spq.OnlyForTesting})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mqtt_broker")
}

func TestMqttLogger(t *testing.T) {
	t.Parallel()
	lines := make([]string, 0, 2)
	log := log2.NewFunc(func(format string, args ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, args...))
	}, log2.LDebug)
	l := mqttLogger{log, log2.LInfo, "p "}
	l.Println("a", 1)
	l.Printf("b=%d", 2)
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "p a 1")
	assert.Contains(t, lines[1], "p b=2")
}
