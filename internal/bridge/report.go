package bridge

import (
	"GAINS-Bridge/internal/core/network"
	"go.uber.org/zap"
)

// Reporter observes everything the relay does, including every dropped message.
type Reporter interface {
	StateChanged(from, to State, err error)
	ConnectFailed(attempt int, err error)
	Forwarded(event string, msg network.Message)
	ReceiveFailed(err error)
	DecodeFailed(msg network.Message, err error)
	BroadcastFailed(event string, err error)
}

type NopReporter struct{}

func (NopReporter) StateChanged(State, State, error)    {}
func (NopReporter) ConnectFailed(int, error)            {}
func (NopReporter) Forwarded(string, network.Message)   {}
func (NopReporter) ReceiveFailed(error)                 {}
func (NopReporter) DecodeFailed(network.Message, error) {}
func (NopReporter) BroadcastFailed(string, error)       {}

// MultiReporter fans each report out in order.
type MultiReporter []Reporter

func (m MultiReporter) StateChanged(from, to State, err error) {
	for _, r := range m {
		r.StateChanged(from, to, err)
	}
}

func (m MultiReporter) ConnectFailed(attempt int, err error) {
	for _, r := range m {
		r.ConnectFailed(attempt, err)
	}
}

func (m MultiReporter) Forwarded(event string, msg network.Message) {
	for _, r := range m {
		r.Forwarded(event, msg)
	}
}

func (m MultiReporter) ReceiveFailed(err error) {
	for _, r := range m {
		r.ReceiveFailed(err)
	}
}

func (m MultiReporter) DecodeFailed(msg network.Message, err error) {
	for _, r := range m {
		r.DecodeFailed(msg, err)
	}
}

func (m MultiReporter) BroadcastFailed(event string, err error) {
	for _, r := range m {
		r.BroadcastFailed(event, err)
	}
}

// LogReporter writes reports to zap. Decode failures are debug level.
type LogReporter struct {
	Log *zap.Logger
}

func NewLogReporter(l *zap.Logger) *LogReporter {
	if l == nil {
		l = zap.NewNop()
	}
	return &LogReporter{Log: l}
}

func (r *LogReporter) StateChanged(from, to State, err error) {
	fields := []zap.Field{zap.Stringer("from", from), zap.Stringer("to", to)}
	if err != nil {
		r.Log.Error("relay state changed", append(fields, zap.Error(err))...)
		return
	}
	r.Log.Info("relay state changed", fields...)
}

func (r *LogReporter) ConnectFailed(attempt int, err error) {
	r.Log.Warn("relay connect attempt failed", zap.Int("attempt", attempt), zap.Error(err))
}

func (r *LogReporter) Forwarded(event string, msg network.Message) {
	r.Log.Debug("bus message forwarded",
		zap.String("event", event),
		zap.String("topic", msg.Topic),
		zap.Int("bytes", len(msg.Payload)),
	)
}

func (r *LogReporter) ReceiveFailed(err error) {
	r.Log.Warn("bus receive failed", zap.Error(err))
}

func (r *LogReporter) DecodeFailed(msg network.Message, err error) {
	r.Log.Debug("bus message dropped",
		zap.String("topic", msg.Topic),
		zap.Int("bytes", len(msg.Payload)),
		zap.Error(err),
	)
}

func (r *LogReporter) BroadcastFailed(event string, err error) {
	r.Log.Warn("bus message broadcast failed", zap.String("event", event), zap.Error(err))
}
