package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/go-zeromq/zmq4"
)

const defaultZMQDialRetry = 250 * time.Millisecond

// ZMQOptions configures the ZeroMQ SUB transport.
type ZMQOptions struct {
	// DialRetry is the wait between two failed dial attempts.
	DialRetry time.Duration
	// DialMaxRetries bounds one dial round. An initial round that runs out is
	// reported as a receive error and followed by another; a reconnect round
	// that runs out leaves the socket idle. 0 retries until the subscription
	// is closed.
	DialMaxRetries int
	// Buffer is the number of received frames held between the socket reader and Recv.
	Buffer int
}

// ZMQSubscriber connects SUB sockets to a single endpoint such as tcp://localhost:5555.
type ZMQSubscriber struct {
	endpoint string
	opts     ZMQOptions
}

func NewZMQSubscriber(endpoint string, opts ZMQOptions) *ZMQSubscriber {
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	if opts.DialRetry <= 0 {
		opts.DialRetry = defaultZMQDialRetry
	}
	return &ZMQSubscriber{endpoint: endpoint, opts: opts}
}

func (z *ZMQSubscriber) Endpoint() string { return z.endpoint }

// ValidateZMQEndpoint checks the transport://address shape and the transport name.
func ValidateZMQEndpoint(endpoint string) error {
	if endpoint == "" {
		return errors.New("zmq: endpoint required")
	}
	scheme, addr, ok := strings.Cut(endpoint, "://")
	if !ok || addr == "" {
		return fmt.Errorf("zmq: invalid endpoint %q", endpoint)
	}
	switch scheme {
	case "tcp", "ipc", "inproc", "udp":
		return nil
	}
	return fmt.Errorf("zmq: unknown transport %q in %q", scheme, endpoint)
}

// Subscribe creates one socket, installs the topic filter and connects in the
// background, so it succeeds whether or not a publisher is up yet. Lost
// connections are re-dialed and the filter is re-sent on every new connection.
// The empty filter receives everything; a non-empty filter matches by prefix.
func (z *ZMQSubscriber) Subscribe(parent context.Context, topic string) (Subscription, error) {
	if err := ValidateZMQEndpoint(z.endpoint); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))

	maxRetries := z.opts.DialMaxRetries
	if maxRetries <= 0 {
		maxRetries = -1
	}
	sock := zmq4.NewSub(ctx,
		zmq4.WithDialerRetry(z.opts.DialRetry),
		zmq4.WithDialerMaxRetries(maxRetries),
		zmq4.WithAutomaticReconnect(true),
	)
	if err := sock.SetOption(zmq4.OptionSubscribe, topic); err != nil {
		_ = sock.Close()
		cancel()
		return nil, fmt.Errorf("zmq: set subscribe filter: %w", err)
	}

	out := make(chan recvResult, z.opts.Buffer)
	sub := newChanSubscription(out, func() error {
		cancel()
		return sock.Close()
	})
	go func() {
		defer close(out)
		for {
			err := sock.Dial(z.endpoint)
			if ctx.Err() != nil {
				return
			}
			if err == nil {
				break
			}
			if !send(ctx, out, recvResult{err: fmt.Errorf("zmq: dial %s: %w", z.endpoint, err)}) {
				return
			}
			if !wait(ctx, z.opts.DialRetry) {
				return
			}
		}
		for {
			msg, err := sock.Recv()
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				// A dropped peer surfaces once per connection; the socket re-dials on its own.
				if isConnLoss(err) {
					continue
				}
				if !send(ctx, out, recvResult{err: fmt.Errorf("zmq: recv: %w", err)}) {
					return
				}
				continue
			}
			// Each frame is its own message, in frame order.
			for _, frame := range msg.Frames {
				res := recvResult{msg: Message{Topic: topic, Payload: append([]byte(nil), frame...)}}
				if !send(ctx, out, res) {
					return
				}
			}
		}
	}()
	return sub, nil
}

func send(ctx context.Context, out chan<- recvResult, res recvResult) bool {
	select {
	case out <- res:
		return true
	case <-ctx.Done():
		return false
	}
}

func isConnLoss(err error) bool {
	var opErr *net.OpError
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.As(err, &opErr)
}

func wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
