package bridge

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"GAINS-Bridge/internal/core/network"
)

type countingReporter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *countingReporter) inc(kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[kind]++
}

func (c *countingReporter) count(kind string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[kind]
}

func (c *countingReporter) StateChanged(State, State, error)    { c.inc("state") }
func (c *countingReporter) ConnectFailed(int, error)            { c.inc("connect") }
func (c *countingReporter) Forwarded(string, network.Message)   { c.inc("forwarded") }
func (c *countingReporter) ReceiveFailed(error)                 { c.inc("receive") }
func (c *countingReporter) DecodeFailed(network.Message, error) { c.inc("decode") }
func (c *countingReporter) BroadcastFailed(string, error)       { c.inc("broadcast") }

func TestLogReporterLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	rep := NewLogReporter(zap.New(core))
	msg := network.Message{Topic: "bus", Payload: []byte("not-json")}

	rep.StateChanged(StateDisconnected, StateConnecting, nil)
	rep.StateChanged(StateConnecting, StateDisconnected, errors.New("refused"))
	rep.ConnectFailed(1, errors.New("refused"))
	rep.ReceiveFailed(errors.New("reset"))
	rep.DecodeFailed(msg, errors.New("bad json"))
	rep.BroadcastFailed(EventName, errors.New("lagging"))
	rep.Forwarded(EventName, msg)

	entries := logs.AllUntimed()
	require.Len(t, entries, 7)
	levels := make([]zapcore.Level, len(entries))
	for i, e := range entries {
		levels[i] = e.Level
	}
	assert.Equal(t, []zapcore.Level{
		zapcore.InfoLevel,
		zapcore.ErrorLevel,
		zapcore.WarnLevel,
		zapcore.WarnLevel,
		zapcore.DebugLevel,
		zapcore.WarnLevel,
		zapcore.DebugLevel,
	}, levels)

	dropped := logs.FilterMessage("bus message dropped").All()
	require.Len(t, dropped, 1)
	assert.Equal(t, "bus", dropped[0].ContextMap()["topic"])
	assert.Equal(t, int64(8), dropped[0].ContextMap()["bytes"])
}

func TestMultiReporterFansOut(t *testing.T) {
	a, b := &countingReporter{}, &countingReporter{}
	m := MultiReporter{a, b}
	m.DecodeFailed(network.Message{}, errors.New("x"))
	m.ReceiveFailed(errors.New("x"))
	m.ConnectFailed(2, errors.New("x"))
	for _, r := range []*countingReporter{a, b} {
		assert.Equal(t, 1, r.count("decode"))
		assert.Equal(t, 1, r.count("receive"))
		assert.Equal(t, 1, r.count("connect"))
	}
}

func TestRelayReportsDecodeFailuresToLog(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	sink := &recordingSink{}
	r := startScripted(t, []step{{payload: "not-json"}, {payload: `{"type":"tick","value":42}`}}, sink,
		WithReporter(NewLogReporter(zap.New(core))))

	waitForStats(t, r, func(s Stats) bool { return s.Received == 2 })
	assert.Equal(t, 1, logs.FilterMessage("bus message dropped").Len())
	assert.Equal(t, 1, logs.FilterMessage("bus message forwarded").Len())
}
