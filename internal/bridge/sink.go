package bridge

import (
	"errors"
	"fmt"

	"GAINS-Bridge/internal/core/jsonvalue"
)

// ErrSinkPanic wraps a panic raised by the host while emitting.
var ErrSinkPanic = errors.New("bridge: sink panicked")

// Sink receives every successfully decoded event. It must treat the payload as opaque.
type Sink interface {
	Forward(event string, payload jsonvalue.Value) error
}

// SinkFunc adapts a plain function to Sink.
type SinkFunc func(event string, payload jsonvalue.Value) error

func (f SinkFunc) Forward(event string, payload jsonvalue.Value) error { return f(event, payload) }

// Emitter is the host's native broadcast call.
type Emitter interface {
	Emit(event string, payload any) error
}

type emitterSink struct {
	emitter Emitter
}

// NewEmitterSink adapts a host Emitter to Sink. It performs no buffering or retry.
func NewEmitterSink(e Emitter) Sink {
	return emitterSink{emitter: e}
}

func (s emitterSink) Forward(event string, payload jsonvalue.Value) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrSinkPanic, r)
		}
	}()
	return s.emitter.Emit(event, payload)
}
