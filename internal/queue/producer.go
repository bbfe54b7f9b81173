package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
)

// BuildMessage 队列消息只携带构建 ID，请求本身在数据库里
type BuildMessage struct {
	BuildID string `json:"build_id"`
}

// Publisher 发布消息，*RabbitMQ 实现了它
type Publisher interface {
	Publish(ctx context.Context, body []byte) error
}

// Producer 把构建投递到 RabbitMQ，实现 service.Dispatcher
type Producer struct {
	pub    Publisher
	logger *logrus.Logger
}

// NewProducer 创建生产者
func NewProducer(pub Publisher, logger *logrus.Logger) *Producer {
	return &Producer{
		pub:    pub,
		logger: logger,
	}
}

// Dispatch 发布构建消息
func (p *Producer) Dispatch(ctx context.Context, buildID string) error {
	body, err := json.Marshal(&BuildMessage{BuildID: buildID})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := p.pub.Publish(ctx, body); err != nil {
		p.logger.WithError(err).WithField("build_id", buildID).Error("Failed to publish build")
		return fmt.Errorf("failed to publish: %w", err)
	}

	p.logger.WithField("build_id", buildID).Info("Build published to queue")
	return nil
}
