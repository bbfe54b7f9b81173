package pipeline

import (
	"sync"

	"github.com/kiridroid/kiridroid-go/internal/domain"
)

// Event 工作线程发给展示层的事件
type Event interface {
	Build() string
}

// StatusChanged 阶段开始
type StatusChanged struct {
	BuildID string `json:"build_id"`
	Phase   Phase  `json:"phase"`
	Message string `json:"message"`
}

// ProgressAdvanced 进度增加 Delta，Total 为累计值
type ProgressAdvanced struct {
	BuildID string `json:"build_id"`
	Phase   Phase  `json:"phase"`
	Delta   int    `json:"delta"`
	Total   int    `json:"total"`
}

// Failed 构建终止
type Failed struct {
	BuildID string             `json:"build_id"`
	Phase   Phase              `json:"phase"`
	Kind    domain.FailureKind `json:"kind"`
	Message string             `json:"message"` // 本地化的简短提示
	Detail  string             `json:"detail"`  // 完整诊断信息
}

// Succeeded 构建完成
type Succeeded struct {
	BuildID      string `json:"build_id"`
	ArtifactPath string `json:"artifact_path"`
	ArtifactSize int64  `json:"artifact_size"`
	Message      string `json:"message"`
}

func (e StatusChanged) Build() string    { return e.BuildID }
func (e ProgressAdvanced) Build() string { return e.BuildID }
func (e Failed) Build() string           { return e.BuildID }
func (e Succeeded) Build() string        { return e.BuildID }

// EventType 序列化时使用的类型名
func EventType(e Event) string {
	switch e.(type) {
	case StatusChanged:
		return "status"
	case ProgressAdvanced:
		return "progress"
	case Failed:
		return "failed"
	case Succeeded:
		return "succeeded"
	default:
		return "unknown"
	}
}

// Sink 接收事件，流水线只通过它与展示层通信
type Sink interface {
	Emit(e Event)
}

// SinkFunc 适配普通函数
type SinkFunc func(e Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Discard 丢弃所有事件
var Discard Sink = SinkFunc(func(Event) {})

// Fanout 依次发给多个 Sink
type Fanout []Sink

func (f Fanout) Emit(e Event) {
	for _, s := range f {
		if s != nil {
			s.Emit(e)
		}
	}
}

// ChannelSink 把事件送入 channel，由展示循环消费
type ChannelSink struct {
	ch   chan Event
	once sync.Once
}

func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{ch: make(chan Event, buffer)}
}

// Events 只读 channel，Close 后关闭
func (s *ChannelSink) Events() <-chan Event {
	return s.ch
}

// Emit 缓冲区满时阻塞，保证事件顺序
func (s *ChannelSink) Emit(e Event) {
	s.ch <- e
}

// Close 由调用 Run 的 goroutine 在 Run 返回后调用
func (s *ChannelSink) Close() {
	s.once.Do(func() { close(s.ch) })
}
