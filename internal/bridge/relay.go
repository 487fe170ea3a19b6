// Package bridge relays messages from a pub/sub endpoint into the host's event
// stream. One Relay owns one subscription and one goroutine; every decoded
// message is forwarded to the Sink under EventName, in receive order.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"GAINS-Bridge/internal/core/jsonvalue"
	"GAINS-Bridge/internal/core/network"
)

// EventName is the only event the relay emits.
const EventName = "bus-message"

var (
	ErrConnect        = errors.New("bridge: relay connect failed")
	ErrAlreadyStarted = errors.New("bridge: relay already started")
)

// Config holds the relay's connection and loop settings.
type Config struct {
	Transport string
	Endpoint  string
	// Topic is the subscription filter; empty receives everything.
	Topic string
	// ReceiveTimeout bounds each wait for a message so the loop can observe
	// cancellation and liveness. Zero waits indefinitely.
	ReceiveTimeout time.Duration
	// ConnectAttempts is how many times Start tries to subscribe. Values below 1 mean 1.
	ConnectAttempts int
	Backoff         BackoffConfig
	// ReceiveErrorDelay pauses the loop after a receive error. Zero continues immediately.
	ReceiveErrorDelay time.Duration
}

// Option customises a Relay.
type Option func(*Relay)

func WithReporter(rep Reporter) Option {
	return func(r *Relay) {
		if rep != nil {
			r.rep = rep
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Relay) {
		if now != nil {
			r.now = now
		}
	}
}

func WithRand(rng *rand.Rand) Option {
	return func(r *Relay) { r.rng = rng }
}

// Relay pumps messages from a subscription into a Sink.
type Relay struct {
	cfg  Config
	sub  network.Subscriber
	sink Sink
	rep  Reporter
	now  func() time.Time
	rng  *rand.Rand

	mu      sync.RWMutex
	health  Health
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

func New(cfg Config, sub network.Subscriber, sink Sink, opts ...Option) *Relay {
	if cfg.ConnectAttempts < 1 {
		cfg.ConnectAttempts = 1
	}
	r := &Relay{
		cfg:  cfg,
		sub:  sub,
		sink: sink,
		rep:  NopReporter{},
		now:  time.Now,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
		done: make(chan struct{}),
		health: Health{
			State:     StateDisconnected,
			Transport: cfg.Transport,
			Endpoint:  cfg.Endpoint,
			Topic:     cfg.Topic,
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start subscribes and launches the receive loop on its own goroutine. It
// returns once the subscription is established or every attempt has failed;
// a failure is wrapped in ErrConnect and leaves the relay Disconnected. The
// loop runs until ctx is cancelled or Stop is called.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return ErrAlreadyStarted
	}
	r.started = true
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()

	r.setState(StateConnecting, nil)
	sub, err := r.connect(loopCtx)
	if err != nil {
		cancel()
		r.setState(StateDisconnected, err)
		r.closeDone()
		return fmt.Errorf("%w: %s %s: %w", ErrConnect, r.cfg.Transport, r.cfg.Endpoint, err)
	}

	r.mu.Lock()
	r.health.ConnectedAt = r.now()
	r.mu.Unlock()
	r.setState(StateConnected, nil)

	go r.run(loopCtx, sub)
	return nil
}

// Stop cancels the receive loop. It does not wait; use Wait or Done.
func (r *Relay) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	started := r.started
	r.started = true
	r.mu.Unlock()
	if cancel != nil {
		cancel()
		return
	}
	if !started {
		r.setState(StateStopped, nil)
		r.closeDone()
	}
}

// Done is closed when the relay will not forward any more messages.
func (r *Relay) Done() <-chan struct{} { return r.done }

// Wait blocks until the loop has exited or ctx is done.
func (r *Relay) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Health returns a snapshot safe to read from any goroutine.
func (r *Relay) Health() Health {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.health
}

func (r *Relay) connect(ctx context.Context) (network.Subscription, error) {
	var lastErr error
	for attempt := 1; attempt <= r.cfg.ConnectAttempts; attempt++ {
		sub, err := r.sub.Subscribe(ctx, r.cfg.Topic)
		if err == nil {
			return sub, nil
		}
		lastErr = err
		r.rep.ConnectFailed(attempt, err)
		if attempt == r.cfg.ConnectAttempts {
			break
		}
		if err := sleep(ctx, NextBackoffDelay(r.cfg.Backoff, attempt, r.rng)); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func (r *Relay) run(ctx context.Context, sub network.Subscription) {
	defer r.closeDone()
	defer func() { _ = sub.Close() }()

	for {
		if ctx.Err() != nil {
			r.setState(StateStopped, nil)
			return
		}
		msg, err := r.recv(ctx, sub)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				r.setState(StateStopped, nil)
				return
			case errors.Is(err, context.DeadlineExceeded):
				// Receive timeout: nothing arrived, go round again.
				continue
			case errors.Is(err, network.ErrClosed):
				r.setState(StateDisconnected, err)
				return
			}
			r.receiveFailed(err)
			if r.cfg.ReceiveErrorDelay > 0 {
				_ = sleep(ctx, r.cfg.ReceiveErrorDelay)
			}
			continue
		}
		r.handle(msg)
	}
}

func (r *Relay) recv(ctx context.Context, sub network.Subscription) (network.Message, error) {
	if r.cfg.ReceiveTimeout <= 0 {
		return sub.Recv(ctx)
	}
	rctx, cancel := context.WithTimeout(ctx, r.cfg.ReceiveTimeout)
	defer cancel()
	return sub.Recv(rctx)
}

func (r *Relay) handle(msg network.Message) {
	r.mu.Lock()
	r.health.Stats.Received++
	r.health.LastMessageAt = r.now()
	r.mu.Unlock()

	payload, err := jsonvalue.Decode(msg.Payload)
	if err != nil {
		r.mu.Lock()
		r.health.Stats.DecodeFailures++
		r.mu.Unlock()
		r.rep.DecodeFailed(msg, err)
		return
	}
	if err := r.forward(payload); err != nil {
		r.mu.Lock()
		r.health.Stats.BroadcastFailures++
		r.recordErrorLocked(err)
		r.mu.Unlock()
		r.rep.BroadcastFailed(EventName, err)
		return
	}
	r.mu.Lock()
	r.health.Stats.Forwarded++
	r.mu.Unlock()
	r.rep.Forwarded(EventName, msg)
}

func (r *Relay) forward(payload jsonvalue.Value) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrSinkPanic, p)
		}
	}()
	return r.sink.Forward(EventName, payload)
}

func (r *Relay) receiveFailed(err error) {
	r.mu.Lock()
	r.health.Stats.ReceiveErrors++
	r.recordErrorLocked(err)
	r.mu.Unlock()
	r.rep.ReceiveFailed(err)
}

func (r *Relay) recordErrorLocked(err error) {
	r.health.LastError = err.Error()
	r.health.LastErrorAt = r.now()
}

func (r *Relay) setState(to State, err error) {
	r.mu.Lock()
	from := r.health.State
	r.health.State = to
	if err != nil {
		r.recordErrorLocked(err)
	}
	r.mu.Unlock()
	if from != to {
		r.rep.StateChanged(from, to, err)
	}
}

func (r *Relay) closeDone() {
	r.once.Do(func() { close(r.done) })
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
