package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freeTCPEndpoint(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return "tcp://" + addr
}

func TestZMQSubscriberReceivesPublishedText(t *testing.T) {
	endpoint := freeTCPEndpoint(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pub := zmq4.NewPub(ctx)
	defer pub.Close()
	require.NoError(t, pub.Listen(endpoint))

	sub, err := NewZMQSubscriber(endpoint, ZMQOptions{}).Subscribe(ctx, "")
	require.NoError(t, err)
	defer sub.Close()

	// SUB sockets miss messages sent before the subscription propagates; keep publishing.
	go func() {
		for i := 0; ctx.Err() == nil; i++ {
			_ = pub.Send(zmq4.NewMsgString(fmt.Sprintf(`{"event":"heartbeat","n":%d}`, i)))
			time.Sleep(20 * time.Millisecond)
		}
	}()

	msg, err := sub.Recv(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(msg.Payload), `"event":"heartbeat"`)
}

func TestZMQSubscribeRequiresEndpoint(t *testing.T) {
	_, err := NewZMQSubscriber("", ZMQOptions{}).Subscribe(context.Background(), "")
	assert.Error(t, err)
}

func TestValidateZMQEndpoint(t *testing.T) {
	assert.NoError(t, ValidateZMQEndpoint("tcp://localhost:5555"))
	assert.NoError(t, ValidateZMQEndpoint("ipc:///tmp/gains.sock"))
	assert.Error(t, ValidateZMQEndpoint("localhost:5555"))
	assert.Error(t, ValidateZMQEndpoint("tcp://"))
	assert.Error(t, ValidateZMQEndpoint("pgm://eth0;239.0.0.1:5555"))
}

// publishUntilDone sends tagged messages on pub every 20ms until ctx ends.
func publishUntilDone(ctx context.Context, pub zmq4.Socket, tag string) {
	for i := 0; ctx.Err() == nil; i++ {
		_ = pub.Send(zmq4.NewMsgString(fmt.Sprintf(`{"pub":%q,"n":%d}`, tag, i)))
		time.Sleep(20 * time.Millisecond)
	}
}

// recvTagged reads until a payload from the given publisher arrives, failing on any error.
func recvTagged(ctx context.Context, t *testing.T, sub Subscription, tag string) {
	t.Helper()
	want := fmt.Sprintf(`"pub":%q`, tag)
	for {
		msg, err := sub.Recv(ctx)
		require.NoError(t, err)
		if strings.Contains(string(msg.Payload), want) {
			return
		}
	}
}

func TestZMQConnLossErrors(t *testing.T) {
	assert.True(t, isConnLoss(io.EOF))
	assert.True(t, isConnLoss(fmt.Errorf("read: %w", io.ErrUnexpectedEOF)))
	assert.True(t, isConnLoss(&net.OpError{Op: "read", Err: syscall.ECONNRESET}))
	assert.False(t, isConnLoss(errors.New("zmq4: overflow")))
}

func TestZMQSubscribeBeforePublisherStarts(t *testing.T) {
	endpoint := freeTCPEndpoint(t)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	start := time.Now()
	sub, err := NewZMQSubscriber(endpoint, ZMQOptions{DialRetry: 20 * time.Millisecond}).Subscribe(ctx, "")
	require.NoError(t, err)
	defer sub.Close()
	assert.Less(t, time.Since(start), time.Second)

	// Nothing is listening yet; receives time out instead of failing.
	short, shortCancel := context.WithTimeout(ctx, 100*time.Millisecond)
	_, err = sub.Recv(short)
	shortCancel()
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	pub := zmq4.NewPub(ctx)
	defer pub.Close()
	require.NoError(t, pub.Listen(endpoint))
	go publishUntilDone(ctx, pub, "late")

	recvTagged(ctx, t, sub, "late")
}

func TestZMQBoundedDialReportsErrors(t *testing.T) {
	endpoint := freeTCPEndpoint(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sub, err := NewZMQSubscriber(endpoint, ZMQOptions{DialRetry: 10 * time.Millisecond, DialMaxRetries: 1}).Subscribe(ctx, "")
	require.NoError(t, err)
	defer sub.Close()

	_, err = sub.Recv(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zmq: dial")
}

func TestZMQSubscriberSurvivesPublisherRestart(t *testing.T) {
	endpoint := freeTCPEndpoint(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	firstCtx, firstStop := context.WithCancel(ctx)
	first := zmq4.NewPub(firstCtx)
	require.NoError(t, first.Listen(endpoint))
	go publishUntilDone(firstCtx, first, "first")

	sub, err := NewZMQSubscriber(endpoint, ZMQOptions{DialRetry: 20 * time.Millisecond}).Subscribe(ctx, "")
	require.NoError(t, err)
	defer sub.Close()
	recvTagged(ctx, t, sub, "first")

	firstStop()
	require.NoError(t, first.Close())

	var second zmq4.Socket
	require.Eventually(t, func() bool {
		second = zmq4.NewPub(ctx)
		if err := second.Listen(endpoint); err != nil {
			_ = second.Close()
			return false
		}
		return true
	}, 5*time.Second, 50*time.Millisecond)
	defer second.Close()
	go publishUntilDone(ctx, second, "second")

	// The dropped connection must not surface as a receive error.
	recvTagged(ctx, t, sub, "second")
}

func TestZMQCloseUnblocksRecv(t *testing.T) {
	endpoint := freeTCPEndpoint(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pub := zmq4.NewPub(ctx)
	defer pub.Close()
	require.NoError(t, pub.Listen(endpoint))

	sub, err := NewZMQSubscriber(endpoint, ZMQOptions{}).Subscribe(ctx, "")
	require.NoError(t, err)

	errs := make(chan error, 1)
	go func() {
		_, err := sub.Recv(ctx)
		errs <- err
	}()
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, sub.Close())

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("recv did not return after close")
	}
}
