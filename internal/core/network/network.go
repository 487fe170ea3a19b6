package network

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Recv once the subscription has been closed.
var ErrClosed = errors.New("subscription closed")

// Message is the transport envelope used by the runtime.
type Message struct {
	Topic   string
	Payload []byte
}

// Subscription is a single attachment to a message endpoint with a topic filter.
// Recv blocks until a message arrives, the transport reports an error, or ctx is done.
type Subscription interface {
	Recv(ctx context.Context) (Message, error)
	Close() error
}

// Subscriber opens subscriptions. An error from Subscribe is a setup failure:
// the context, socket, connection or filter could not be established.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (Subscription, error)
}

// PubSub is a minimal interface for broadcast-style communication.
type PubSub interface {
	Subscriber
	Publish(topic string, payload []byte) error
}

var (
	_ PubSub     = (*MemoryPubSub)(nil)
	_ PubSub     = (*Libp2pPubSub)(nil)
	_ Subscriber = (*ZMQSubscriber)(nil)
	_ Subscriber = (*NATSSubscriber)(nil)
)

// recvResult carries one receive outcome from a reader goroutine.
type recvResult struct {
	msg Message
	err error
}

// chanSubscription adapts a reader goroutine's result channel to Subscription.
type chanSubscription struct {
	results <-chan recvResult
	done    chan struct{}
	closeFn func() error
	once    sync.Once
	err     error
}

func newChanSubscription(results <-chan recvResult, closeFn func() error) *chanSubscription {
	return &chanSubscription{
		results: results,
		done:    make(chan struct{}),
		closeFn: closeFn,
	}
}

func (s *chanSubscription) Recv(ctx context.Context) (Message, error) {
	select {
	case <-s.done:
		return Message{}, ErrClosed
	default:
	}
	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-s.done:
		return Message{}, ErrClosed
	case res, ok := <-s.results:
		if !ok {
			return Message{}, ErrClosed
		}
		return res.msg, res.err
	}
}

func (s *chanSubscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		if s.closeFn != nil {
			s.err = s.closeFn()
		}
	})
	return s.err
}
