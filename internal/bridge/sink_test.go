package bridge

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GAINS-Bridge/internal/core/jsonvalue"
)

type emitFunc func(event string, payload any) error

func (f emitFunc) Emit(event string, payload any) error { return f(event, payload) }

func TestEmitterSinkPassesPayloadThrough(t *testing.T) {
	var gotEvent string
	var gotJSON []byte
	sink := NewEmitterSink(emitFunc(func(event string, payload any) error {
		gotEvent = event
		b, err := json.Marshal(payload)
		gotJSON = b
		return err
	}))

	v, err := jsonvalue.Decode([]byte(`{"event":"asr.final","text":"ok","n":[1,2]}`))
	require.NoError(t, err)
	require.NoError(t, sink.Forward(EventName, v))
	assert.Equal(t, "bus-message", gotEvent)
	assert.JSONEq(t, `{"event":"asr.final","text":"ok","n":[1,2]}`, string(gotJSON))
}

func TestEmitterSinkReturnsEmitError(t *testing.T) {
	boom := errors.New("window closed")
	sink := NewEmitterSink(emitFunc(func(string, any) error { return boom }))
	assert.ErrorIs(t, sink.Forward(EventName, jsonvalue.Null()), boom)
}

func TestEmitterSinkRecoversPanic(t *testing.T) {
	sink := NewEmitterSink(emitFunc(func(string, any) error { panic("nil window") }))
	err := sink.Forward(EventName, jsonvalue.Array())
	assert.ErrorIs(t, err, ErrSinkPanic)
	assert.Contains(t, err.Error(), "nil window")
}
