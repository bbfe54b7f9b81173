package queue

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/kiridroid/kiridroid-go/internal/config"
)

// ErrNotConnected 当前没有可用的 channel
var ErrNotConnected = errors.New("rabbitmq channel is not open")

const (
	defaultHeartbeat = 10 * time.Second
	maxReconnects    = 10
)

// RabbitMQ 构建队列的连接；构建串行执行，prefetch 固定为 1
type RabbitMQ struct {
	cfg       *config.RabbitMQConfig
	queueName string
	logger    *logrus.Logger

	mu            sync.RWMutex
	conn          *amqp.Connection
	channel       *amqp.Channel
	closed        bool
	connNotify    chan *amqp.Error
	channelNotify chan *amqp.Error

	reconnect chan struct{}
}

// NewRabbitMQ 连接并声明持久化队列
func NewRabbitMQ(cfg *config.RabbitMQConfig, logger *logrus.Logger) (*RabbitMQ, error) {
	queueName := cfg.Queue
	if queueName == "" {
		queueName = "kiridroid_builds"
	}

	mq := &RabbitMQ{
		cfg:       cfg,
		queueName: queueName,
		logger:    logger,
		reconnect: make(chan struct{}, 1),
	}
	if err := mq.connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return mq, nil
}

// amqpURL 默认 vhost "/" 对应路径 "//"
func amqpURL(cfg *config.RabbitMQConfig) string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:   "/" + cfg.VHost,
	}
	return u.String()
}

func (mq *RabbitMQ) connect() error {
	mq.mu.Lock()
	defer mq.mu.Unlock()

	conn, err := amqp.DialConfig(amqpURL(mq.cfg), amqp.Config{
		Heartbeat: defaultHeartbeat,
		Locale:    "en_US",
	})
	if err != nil {
		return fmt.Errorf("failed to dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	if _, err := ch.QueueDeclare(mq.queueName, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	mq.conn = conn
	mq.channel = ch
	mq.connNotify = conn.NotifyClose(make(chan *amqp.Error, 1))
	mq.channelNotify = ch.NotifyClose(make(chan *amqp.Error, 1))

	mq.logger.WithFields(logrus.Fields{
		"host":  mq.cfg.Host,
		"port":  mq.cfg.Port,
		"queue": mq.queueName,
	}).Info("Connected to RabbitMQ")
	return nil
}

// watch 连接或 channel 意外关闭时发出重连信号
func (mq *RabbitMQ) watch() {
	for {
		mq.mu.RLock()
		if mq.closed {
			mq.mu.RUnlock()
			return
		}
		connNotify, channelNotify := mq.connNotify, mq.channelNotify
		mq.mu.RUnlock()

		var amqpErr *amqp.Error
		select {
		case amqpErr = <-connNotify:
		case amqpErr = <-channelNotify:
		}

		mq.mu.RLock()
		closed := mq.closed
		mq.mu.RUnlock()
		if closed {
			return
		}

		if amqpErr != nil {
			mq.logger.WithError(amqpErr).Error("RabbitMQ connection closed unexpectedly")
		} else {
			mq.logger.Warn("RabbitMQ connection closed")
		}

		select {
		case mq.reconnect <- struct{}{}:
		default:
		}
		// 等待重连完成后再监听新的通知
		return
	}
}

// Reconnect 关闭旧连接并按线性退避重试
func (mq *RabbitMQ) Reconnect(ctx context.Context) error {
	mq.dropConnections()

	for attempt := 1; attempt <= maxReconnects; attempt++ {
		mq.logger.WithField("attempt", attempt).Info("Reconnecting to RabbitMQ")
		err := mq.connect()
		if err == nil {
			return nil
		}
		mq.logger.WithError(err).Warn("Reconnect attempt failed")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * time.Second):
		}
	}
	return fmt.Errorf("failed to reconnect after %d attempts", maxReconnects)
}

func (mq *RabbitMQ) dropConnections() {
	mq.mu.Lock()
	defer mq.mu.Unlock()

	if mq.channel != nil {
		mq.channel.Close()
		mq.channel = nil
	}
	if mq.conn != nil {
		mq.conn.Close()
		mq.conn = nil
	}
}

// Publish 发布持久化消息
func (mq *RabbitMQ) Publish(ctx context.Context, body []byte) error {
	mq.mu.RLock()
	ch := mq.channel
	mq.mu.RUnlock()
	if ch == nil {
		return ErrNotConnected
	}

	return ch.PublishWithContext(ctx, "", mq.queueName, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Body:         body,
		Timestamp:    time.Now(),
	})
}

// Consume 手动确认模式
func (mq *RabbitMQ) Consume() (<-chan amqp.Delivery, error) {
	mq.mu.RLock()
	ch := mq.channel
	mq.mu.RUnlock()
	if ch == nil {
		return nil, ErrNotConnected
	}

	msgs, err := ch.Consume(mq.queueName, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to consume: %w", err)
	}
	go mq.watch()
	return msgs, nil
}

// QueueDepth 队列中等待的消息数
func (mq *RabbitMQ) QueueDepth() (int, error) {
	mq.mu.RLock()
	ch := mq.channel
	mq.mu.RUnlock()
	if ch == nil {
		return 0, ErrNotConnected
	}

	q, err := ch.QueueInspect(mq.queueName)
	if err != nil {
		return 0, err
	}
	return q.Messages, nil
}

// ReconnectSignal 连接断开时收到信号
func (mq *RabbitMQ) ReconnectSignal() <-chan struct{} {
	return mq.reconnect
}

// IsConnected 检查连接状态
func (mq *RabbitMQ) IsConnected() bool {
	mq.mu.RLock()
	defer mq.mu.RUnlock()
	return mq.conn != nil && !mq.conn.IsClosed()
}

// Close 主动关闭，不会触发重连
func (mq *RabbitMQ) Close() error {
	mq.mu.Lock()
	mq.closed = true
	mq.mu.Unlock()

	mq.dropConnections()
	mq.logger.Info("RabbitMQ connection closed")
	return nil
}
