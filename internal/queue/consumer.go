package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// BuildHandler 执行一个构建并等待结束
type BuildHandler func(ctx context.Context, buildID string) error

// Source 消息来源，*RabbitMQ 实现了它
type Source interface {
	Consume() (<-chan amqp.Delivery, error)
	ReconnectSignal() <-chan struct{}
	Reconnect(ctx context.Context) error
}

// Consumer 逐条消费构建消息；失败的消息不重新入队，失败状态已经写入数据库
type Consumer struct {
	src     Source
	handler BuildHandler
	logger  *logrus.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

// NewConsumer 创建消费者
func NewConsumer(src Source, handler BuildHandler, logger *logrus.Logger) *Consumer {
	return &Consumer{
		src:     src,
		handler: handler,
		logger:  logger,
	}
}

// Start 开始消费，连接断开后自动重连
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		c.logger.Warn("Consumer already running, skipping start")
		return nil
	}

	msgs, err := c.src.Consume()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true

	c.wg.Add(1)
	go c.loop(ctx, msgs)

	c.logger.Info("Consumer started")
	return nil
}

func (c *Consumer) loop(ctx context.Context, msgs <-chan amqp.Delivery) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case <-c.src.ReconnectSignal():
			c.logger.Warn("Connection lost, attempting to reconnect")
			next, err := c.resubscribe(ctx)
			if err != nil {
				c.logger.WithError(err).Error("Consumer gave up reconnecting")
				c.mu.Lock()
				c.running = false
				c.mu.Unlock()
				return
			}
			msgs = next

		case msg, ok := <-msgs:
			if !ok {
				// 通道关闭后等待重连信号
				msgs = nil
				continue
			}
			c.process(ctx, msg)
		}
	}
}

func (c *Consumer) resubscribe(ctx context.Context) (<-chan amqp.Delivery, error) {
	if err := c.src.Reconnect(ctx); err != nil {
		return nil, err
	}
	return c.src.Consume()
}

// process 处理单条消息
func (c *Consumer) process(ctx context.Context, delivery amqp.Delivery) {
	start := time.Now()

	var msg BuildMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil || msg.BuildID == "" {
		c.logger.WithError(err).Error("Discarding malformed build message")
		delivery.Nack(false, false)
		return
	}

	log := c.logger.WithField("build_id", msg.BuildID)
	log.Info("Processing build message")

	if err := c.handler(ctx, msg.BuildID); err != nil {
		log.WithError(err).Warn("Build message processing failed")
		delivery.Nack(false, false)
		return
	}

	if err := delivery.Ack(false); err != nil {
		log.WithError(err).Error("Failed to acknowledge message")
	}
	log.WithField("duration", time.Since(start).Seconds()).Info("Build message completed")
}

// Stop 停止消费并等待当前消息处理完成
func (c *Consumer) Stop() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.running = false
	c.mu.Unlock()

	c.wg.Wait()
	c.logger.Info("Consumer stopped")
}

// IsRunning 检查消费者是否正在运行
func (c *Consumer) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
