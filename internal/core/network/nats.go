package network

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSOptions configures the NATS transport.
type NATSOptions struct {
	Name          string
	ReconnectWait time.Duration
	MaxReconnects int
	Logger        *zap.Logger
}

// NATSSubscriber subscribes to subjects on one NATS server URL.
type NATSSubscriber struct {
	url  string
	opts NATSOptions
}

func NewNATSSubscriber(url string, opts NATSOptions) *NATSSubscriber {
	if opts.Name == "" {
		opts.Name = "gains-bridge"
	}
	if opts.ReconnectWait <= 0 {
		opts.ReconnectWait = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &NATSSubscriber{url: url, opts: opts}
}

// NATSSubject maps a topic filter onto a subject; the empty filter becomes the full wildcard.
func NATSSubject(topic string) string {
	if topic == "" {
		return ">"
	}
	return topic
}

func (n *NATSSubscriber) Subscribe(_ context.Context, topic string) (Subscription, error) {
	log := n.opts.Logger
	nc, err := nats.Connect(n.url,
		nats.Name(n.opts.Name),
		nats.ReconnectWait(n.opts.ReconnectWait),
		nats.MaxReconnects(n.opts.MaxReconnects),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Error("nats error", zap.Error(err))
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats: connect %s: %w", n.url, err)
	}
	subject := NATSSubject(topic)
	sub, err := nc.SubscribeSync(subject)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("nats: subscribe %s: %w", subject, err)
	}
	return &natsSubscription{nc: nc, sub: sub}, nil
}

type natsSubscription struct {
	nc  *nats.Conn
	sub *nats.Subscription
}

func (s *natsSubscription) Recv(ctx context.Context) (Message, error) {
	msg, err := s.sub.NextMsgWithContext(ctx)
	if err != nil {
		switch {
		case errors.Is(err, nats.ErrConnectionClosed), errors.Is(err, nats.ErrBadSubscription):
			return Message{}, ErrClosed
		case ctx.Err() != nil:
			return Message{}, ctx.Err()
		}
		return Message{}, fmt.Errorf("nats: recv: %w", err)
	}
	return Message{Topic: msg.Subject, Payload: msg.Data}, nil
}

func (s *natsSubscription) Close() error {
	err := s.sub.Unsubscribe()
	s.nc.Close()
	if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
		return nil
	}
	return err
}
