package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kiridroid/kiridroid-go/internal/domain"
	"github.com/kiridroid/kiridroid-go/internal/middleware"
	"github.com/kiridroid/kiridroid-go/internal/pipeline"
	"github.com/kiridroid/kiridroid-go/internal/repository"
	"github.com/kiridroid/kiridroid-go/internal/toolchain"
)

// BuildRunner 执行流水线，*pipeline.Pipeline 实现了它
type BuildRunner interface {
	Run(ctx context.Context, req domain.BuildRequest, sink pipeline.Sink) (string, error)
}

// eventBuffer 流水线与消费者之间的缓冲
const eventBuffer = 64

// Executor 从数据库取出构建、执行流水线，并把事件写回数据库、指标和 websocket
type Executor struct {
	repo    repository.BuildRepository
	runner  BuildRunner
	sink    pipeline.Sink // 额外的展示层，如 ProgressHub
	metrics *middleware.PrometheusMetrics
	logger  *logrus.Logger
}

// NewExecutor sink 和 metrics 可以为 nil
func NewExecutor(repo repository.BuildRepository, runner BuildRunner, sink pipeline.Sink, metrics *middleware.PrometheusMetrics, logger *logrus.Logger) *Executor {
	if sink == nil {
		sink = pipeline.Discard
	}
	return &Executor{
		repo:    repo,
		runner:  runner,
		sink:    sink,
		metrics: metrics,
		logger:  logger,
	}
}

// Execute 实现 Handler；返回构建的失败原因
func (e *Executor) Execute(ctx context.Context, buildID string) error {
	build, err := e.repo.FindByID(ctx, buildID)
	if err != nil {
		return fmt.Errorf("failed to load build %s: %w", buildID, err)
	}
	if build.Status != domain.BuildStatusQueued {
		e.logger.WithFields(logrus.Fields{
			"build_id": buildID,
			"status":   build.Status,
		}).Warn("Skipping build that is not queued")
		return nil
	}

	if err := e.repo.MarkRunning(ctx, buildID); err != nil {
		return fmt.Errorf("failed to mark build running: %w", err)
	}
	if e.metrics != nil {
		e.metrics.RecordBuildStarted()
	}

	start := time.Now()
	events := pipeline.NewChannelSink(eventBuffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.consume(buildID, start, events.Events())
	}()

	_, runErr := e.runner.Run(toolchain.WithBuildID(ctx, buildID), build.Request(), events)
	events.Close()
	<-done

	// 流水线没有发出 Failed 事件的错误（如同时有构建在执行）
	var be *pipeline.BuildError
	if runErr != nil && !errors.As(runErr, &be) {
		e.fail(buildID, start, "", domain.FailureKindInternal, runErr.Error())
	}
	return runErr
}

// consume 在独立 goroutine 中处理事件
func (e *Executor) consume(buildID string, start time.Time, events <-chan pipeline.Event) {
	ctx := context.Background()
	log := e.logger.WithField("build_id", buildID)
	progress := 0

	for ev := range events {
		e.sink.Emit(ev)

		switch ev := ev.(type) {
		case pipeline.StatusChanged:
			if err := e.repo.UpdatePhase(ctx, buildID, string(ev.Phase), ev.Message); err != nil {
				log.WithError(err).Warn("Failed to update build phase")
			}
			if e.metrics != nil {
				e.metrics.RecordPhase(string(ev.Phase), progress)
			}

		case pipeline.ProgressAdvanced:
			progress = ev.Total
			if err := e.repo.UpdateProgress(ctx, buildID, ev.Total); err != nil {
				log.WithError(err).Warn("Failed to update build progress")
			}

		case pipeline.Failed:
			e.fail(buildID, start, string(ev.Phase), ev.Kind, ev.Detail)

		case pipeline.Succeeded:
			if err := e.repo.MarkSucceeded(ctx, buildID, ev.ArtifactPath, ev.ArtifactSize); err != nil {
				log.WithError(err).Error("Failed to record build success")
			}
			if e.metrics != nil {
				e.metrics.RecordBuildSucceeded(time.Since(start), ev.ArtifactSize)
			}
		}
	}
}

func (e *Executor) fail(buildID string, start time.Time, phase string, kind domain.FailureKind, message string) {
	if err := e.repo.MarkFailed(context.Background(), buildID, phase, kind, message); err != nil {
		e.logger.WithError(err).WithField("build_id", buildID).Error("Failed to record build failure")
	}
	if e.metrics != nil {
		e.metrics.RecordBuildFailed(time.Since(start), phase, string(kind))
	}
}

// InvocationMetrics 在 Recorder 之外记录外部工具指标
func InvocationMetrics(next toolchain.Recorder, metrics *middleware.PrometheusMetrics) toolchain.Recorder {
	return toolchain.RecorderFunc(func(ctx context.Context, inv toolchain.Invocation) {
		if next != nil {
			next.Record(ctx, inv)
		}
		if metrics == nil {
			return
		}

		switch {
		case inv.Err != nil:
			metrics.RecordToolInvocation(inv.Command.Tool, "launch_error", 0)
		case inv.Result.ExitCode != 0:
			metrics.RecordToolInvocation(inv.Command.Tool, "nonzero", inv.Result.Duration)
		default:
			metrics.RecordToolInvocation(inv.Command.Tool, "ok", inv.Result.Duration)
		}
	})
}
