package hostshell

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestHubDeliversToMatchingListeners(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	h := NewHub(WithHubClock(func() time.Time { return at }))
	bus, cancelBus := h.Listen("bus-message")
	defer cancelBus()
	all, cancelAll := h.Listen("")
	defer cancelAll()
	other, cancelOther := h.Listen("other")
	defer cancelOther()

	require.NoError(t, h.Emit("bus-message", map[string]any{"type": "tick", "value": 42}))

	evt := <-bus
	assert.Equal(t, "bus-message", evt.Name)
	assert.JSONEq(t, `{"type":"tick","value":42}`, string(evt.Payload))
	assert.Equal(t, uint64(1), evt.Seq)
	assert.Equal(t, at, evt.At)

	evt = <-all
	assert.Equal(t, uint64(1), evt.Seq)
	assert.Empty(t, other)
}

func TestHubNoListenersIsNoop(t *testing.T) {
	h := NewHub()
	assert.NoError(t, h.Emit("bus-message", []int{1}))
	assert.Zero(t, h.Listeners())
}

func TestHubEncodeFailure(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Listen("")
	defer cancel()
	assert.ErrorIs(t, h.Emit("bus-message", math.Inf(1)), ErrEncode)
	assert.Empty(t, ch)
}

func TestHubLaggingListenerDoesNotBlock(t *testing.T) {
	h := NewHub(WithListenerBuffer(1))
	slow, cancelSlow := h.Listen("")
	defer cancelSlow()

	require.NoError(t, h.Emit("e", 1))
	err := h.Emit("e", 2)
	assert.ErrorIs(t, err, ErrListenerLagging)

	fast, cancelFast := h.Listen("")
	defer cancelFast()
	assert.ErrorIs(t, h.Emit("e", 3), ErrListenerLagging)
	evt := <-fast
	assert.Equal(t, "3", string(evt.Payload))
	evt = <-slow
	assert.Equal(t, "1", string(evt.Payload))
}

func TestHubCancelClosesChannel(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Listen("")
	assert.Equal(t, 1, h.Listeners())
	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)
	assert.Zero(t, h.Listeners())
	assert.NoError(t, h.Emit("e", nil))
}

func TestCommands(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	c := NewCommands(zap.New(core))

	require.NoError(t, c.Invoke(CommandCommitText))
	assert.Equal(t, 1, logs.FilterMessage("commit_text invoked").Len())
	assert.ErrorIs(t, c.Invoke("launch_rockets"), ErrUnknownCommand)
	assert.Equal(t, []string{"commit_text"}, c.Names())
}
