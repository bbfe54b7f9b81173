package queue

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiridroid/kiridroid-go/internal/config"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type fakePublisher struct {
	bodies [][]byte
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, body []byte) error {
	if p.err != nil {
		return p.err
	}
	p.bodies = append(p.bodies, body)
	return nil
}

// fakeAck 记录确认结果
type fakeAck struct {
	mu      sync.Mutex
	acked   []uint64
	nacked  []uint64
	requeue bool
}

func (a *fakeAck) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, tag)
	return nil
}

func (a *fakeAck) Nack(tag uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacked = append(a.nacked, tag)
	a.requeue = a.requeue || requeue
	return nil
}

func (a *fakeAck) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

type fakeSource struct {
	msgs      chan amqp.Delivery
	reconnect chan struct{}
}

func (s *fakeSource) Consume() (<-chan amqp.Delivery, error) { return s.msgs, nil }
func (s *fakeSource) ReconnectSignal() <-chan struct{}      { return s.reconnect }
func (s *fakeSource) Reconnect(context.Context) error        { return nil }

func TestProducer_Dispatch(t *testing.T) {
	pub := &fakePublisher{}
	p := NewProducer(pub, quietLogger())

	require.NoError(t, p.Dispatch(context.Background(), "b1"))
	require.Len(t, pub.bodies, 1)
	assert.JSONEq(t, `{"build_id":"b1"}`, string(pub.bodies[0]))

	pub.err = ErrNotConnected
	assert.ErrorIs(t, p.Dispatch(context.Background(), "b2"), ErrNotConnected)
}

func TestConsumer_AcksAndNacks(t *testing.T) {
	ack := &fakeAck{}
	src := &fakeSource{msgs: make(chan amqp.Delivery, 3), reconnect: make(chan struct{})}

	var mu sync.Mutex
	var handled []string
	done := make(chan struct{}, 3)
	handler := func(_ context.Context, id string) error {
		mu.Lock()
		handled = append(handled, id)
		mu.Unlock()
		defer func() { done <- struct{}{} }()
		if id == "bad" {
			return errors.New("build failed")
		}
		return nil
	}

	c := NewConsumer(src, handler, quietLogger())
	require.NoError(t, c.Start(context.Background()))
	assert.True(t, c.IsRunning())

	src.msgs <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: []byte(`{"build_id":"good"}`)}
	src.msgs <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 2, Body: []byte(`{"build_id":"bad"}`)}
	src.msgs <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 3, Body: []byte(`not json`)}

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("handler was not called")
		}
	}
	require.Eventually(t, func() bool {
		ack.mu.Lock()
		defer ack.mu.Unlock()
		return len(ack.acked)+len(ack.nacked) == 3
	}, 2*time.Second, 10*time.Millisecond)
	c.Stop()

	assert.Equal(t, []string{"good", "bad"}, handled)
	assert.Equal(t, []uint64{1}, ack.acked)
	assert.Equal(t, []uint64{2, 3}, ack.nacked)
	assert.False(t, ack.requeue)
	assert.False(t, c.IsRunning())
}

func TestAMQPURL(t *testing.T) {
	u := amqpURL(&config.RabbitMQConfig{Host: "mq", Port: 5672, User: "guest", Password: "p@ss", VHost: "/"})
	assert.Equal(t, "amqp://guest:p%40ss@mq:5672//", u)
}
