package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kiridroid/kiridroid-go/internal/domain"
	"github.com/kiridroid/kiridroid-go/internal/repository"
)

// ErrNotRerunnable 只有失败的构建可以重新执行
var ErrNotRerunnable = errors.New("only failed builds can be rerun")

// Dispatcher 把构建 ID 交给执行方（本地 worker 池或 RabbitMQ）
type Dispatcher interface {
	Dispatch(ctx context.Context, buildID string) error
}

// DispatcherFunc 适配普通函数
type DispatcherFunc func(ctx context.Context, buildID string) error

func (f DispatcherFunc) Dispatch(ctx context.Context, buildID string) error {
	return f(ctx, buildID)
}

// BuildService 构建服务接口
type BuildService interface {
	// 校验请求、创建记录并派发
	Submit(ctx context.Context, req domain.BuildRequest) (*domain.Build, error)

	Get(ctx context.Context, id string) (*domain.Build, error)

	List(ctx context.Context, filter repository.ListFilter) ([]*domain.Build, int64, error)

	// 外部工具调用记录
	Invocations(ctx context.Context, id string) ([]*domain.ToolInvocation, error)

	// 重置失败的构建并重新派发
	Rerun(ctx context.Context, id string) (*domain.Build, error)

	GetStatusCounts(ctx context.Context) (map[string]int64, int64, error)

	// 服务启动时：中断的构建标记失败，排队的构建重新派发
	Recover(ctx context.Context) (int, error)
}

type buildService struct {
	repo       repository.BuildRepository
	dispatcher Dispatcher
	logger     *logrus.Logger
}

// NewBuildService 创建构建服务实例
func NewBuildService(repo repository.BuildRepository, dispatcher Dispatcher, logger *logrus.Logger) BuildService {
	return &buildService{
		repo:       repo,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

func (s *buildService) Submit(ctx context.Context, req domain.BuildRequest) (*domain.Build, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	build := &domain.Build{
		ID:         uuid.New().String(),
		PackageID:  req.PackageID,
		AppName:    req.AppName,
		ContentDir: req.ContentDir,
		IconFile:   req.IconFile,
		Locale:     req.Locale,
		Status:     domain.BuildStatusQueued,
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, build); err != nil {
		s.logger.WithError(err).Error("Failed to create build")
		return nil, fmt.Errorf("failed to create build: %w", err)
	}

	if err := s.dispatch(ctx, build); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"build_id":   build.ID,
		"package_id": build.PackageID,
		"app_name":   build.AppName,
	}).Info("Build submitted")
	return build, nil
}

// dispatch 派发失败时把记录标记为失败，避免一直停在 queued
func (s *buildService) dispatch(ctx context.Context, build *domain.Build) error {
	err := s.dispatcher.Dispatch(ctx, build.ID)
	if err == nil {
		return nil
	}

	s.logger.WithError(err).WithField("build_id", build.ID).Error("Failed to dispatch build")
	msg := fmt.Sprintf("failed to dispatch: %v", err)
	if markErr := s.repo.MarkFailed(ctx, build.ID, "", domain.FailureKindInternal, msg); markErr != nil {
		s.logger.WithError(markErr).WithField("build_id", build.ID).Error("Failed to record dispatch failure")
	}
	return fmt.Errorf("failed to dispatch build: %w", err)
}

func (s *buildService) Get(ctx context.Context, id string) (*domain.Build, error) {
	build, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.WithError(err).WithField("build_id", id).Error("Failed to get build")
		}
		return nil, fmt.Errorf("failed to get build: %w", err)
	}
	return build, nil
}

func (s *buildService) List(ctx context.Context, filter repository.ListFilter) ([]*domain.Build, int64, error) {
	builds, total, err := s.repo.List(ctx, filter)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list builds")
		return nil, 0, fmt.Errorf("failed to list builds: %w", err)
	}
	return builds, total, nil
}

func (s *buildService) Invocations(ctx context.Context, id string) ([]*domain.ToolInvocation, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	invs, err := s.repo.ListInvocations(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list invocations: %w", err)
	}
	return invs, nil
}

func (s *buildService) Rerun(ctx context.Context, id string) (*domain.Build, error) {
	build, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if build.Status != domain.BuildStatusFailed {
		return nil, ErrNotRerunnable
	}

	if err := s.repo.ResetForRerun(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to reset build: %w", err)
	}
	if err := s.dispatch(ctx, build); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"build_id":      id,
		"previous_kind": build.FailureKind,
		"run_count":     build.RunCount,
	}).Info("Build requeued by user")
	return s.Get(ctx, id)
}

func (s *buildService) GetStatusCounts(ctx context.Context) (map[string]int64, int64, error) {
	return s.repo.GetStatusCounts(ctx)
}

func (s *buildService) Recover(ctx context.Context) (int, error) {
	interrupted, err := s.repo.FailInterrupted(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to mark interrupted builds: %w", err)
	}
	if interrupted > 0 {
		s.logger.WithField("count", interrupted).Warn("Interrupted builds marked as failed")
	}

	queued, err := s.repo.ListQueued(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list queued builds: %w", err)
	}

	n := 0
	for _, b := range queued {
		if err := s.dispatch(ctx, b); err != nil {
			continue
		}
		n++
	}
	if n > 0 {
		s.logger.WithField("count", n).Info("Queued builds redispatched")
	}
	return n, nil
}
