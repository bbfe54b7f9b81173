package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/kiridroid/kiridroid-go/internal/domain"
)

// ErrNotFound 构建不存在
var ErrNotFound = errors.New("build not found")

// ListFilter 列表查询条件
type ListFilter struct {
	Page     int
	PageSize int
	Status   string
	Search   string // 匹配 package_id 或 app_name
}

type BuildRepository interface {
	Create(ctx context.Context, build *domain.Build) error
	FindByID(ctx context.Context, id string) (*domain.Build, error)
	List(ctx context.Context, filter ListFilter) ([]*domain.Build, int64, error)
	// 阶段开始时更新状态文字
	UpdatePhase(ctx context.Context, id, phase, statusText string) error
	UpdateProgress(ctx context.Context, id string, percent int) error
	MarkRunning(ctx context.Context, id string) error
	MarkSucceeded(ctx context.Context, id, artifactPath string, artifactSize int64) error
	MarkFailed(ctx context.Context, id, phase string, kind domain.FailureKind, message string) error
	// 用户发起的重新执行
	ResetForRerun(ctx context.Context, id string) error
	// 进程重启后仍为 running 的构建视为中断
	FailInterrupted(ctx context.Context) (int64, error)
	GetStatusCounts(ctx context.Context) (map[string]int64, int64, error)
	ListQueued(ctx context.Context) ([]*domain.Build, error)

	AddInvocation(ctx context.Context, inv *domain.ToolInvocation) error
	ListInvocations(ctx context.Context, buildID string) ([]*domain.ToolInvocation, error)
}

type buildRepo struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewBuildRepository(db *gorm.DB, logger *logrus.Logger) BuildRepository {
	return &buildRepo{
		db:     db,
		logger: logger,
	}
}

func (r *buildRepo) Create(ctx context.Context, build *domain.Build) error {
	if build.CreatedAt.IsZero() {
		build.CreatedAt = time.Now().UTC()
	}
	if build.Status == "" {
		build.Status = domain.BuildStatusQueued
	}
	return r.db.WithContext(ctx).Create(build).Error
}

func (r *buildRepo) FindByID(ctx context.Context, id string) (*domain.Build, error) {
	var build domain.Build
	err := r.db.WithContext(ctx).First(&build, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &build, nil
}

func (r *buildRepo) List(ctx context.Context, filter ListFilter) ([]*domain.Build, int64, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 || filter.PageSize > 100 {
		filter.PageSize = 20
	}

	query := r.db.WithContext(ctx).Model(&domain.Build{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Search != "" {
		like := "%" + filter.Search + "%"
		query = query.Where("package_id LIKE ? OR app_name LIKE ?", like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var builds []*domain.Build
	err := query.
		Order("created_at DESC").
		Offset((filter.Page - 1) * filter.PageSize).
		Limit(filter.PageSize).
		Find(&builds).Error

	return builds, total, err
}

func (r *buildRepo) UpdatePhase(ctx context.Context, id, phase, statusText string) error {
	return r.db.WithContext(ctx).
		Model(&domain.Build{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"phase":       phase,
			"status_text": statusText,
		}).Error
}

func (r *buildRepo) UpdateProgress(ctx context.Context, id string, percent int) error {
	return r.db.WithContext(ctx).
		Model(&domain.Build{}).
		Where("id = ?", id).
		Update("progress", percent).Error
}

func (r *buildRepo) MarkRunning(ctx context.Context, id string) error {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).
		Model(&domain.Build{}).
		Where("id = ? AND status = ?", id, domain.BuildStatusQueued).
		Updates(map[string]interface{}{
			"status":     domain.BuildStatusRunning,
			"started_at": &now,
			"progress":   0,
			"run_count":  gorm.Expr("run_count + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *buildRepo) MarkSucceeded(ctx context.Context, id, artifactPath string, artifactSize int64) error {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).
		Model(&domain.Build{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        domain.BuildStatusSucceeded,
			"progress":      100,
			"artifact_path": artifactPath,
			"artifact_size": artifactSize,
			"completed_at":  &now,
		})
	if result.Error != nil {
		r.logger.WithError(result.Error).WithField("build_id", id).Error("Failed to mark build succeeded")
		return result.Error
	}

	r.logger.WithFields(logrus.Fields{
		"build_id": id,
		"artifact": artifactPath,
	}).Info("Build marked as succeeded")
	return nil
}

func (r *buildRepo) MarkFailed(ctx context.Context, id, phase string, kind domain.FailureKind, message string) error {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).
		Model(&domain.Build{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        domain.BuildStatusFailed,
			"phase":         phase,
			"failure_kind":  kind,
			"error_message": message,
			"artifact_path": "",
			"artifact_size": 0,
			"completed_at":  &now,
		})

	if result.Error != nil {
		r.logger.WithError(result.Error).WithFields(logrus.Fields{
			"build_id":     id,
			"failure_kind": kind,
		}).Error("Failed to update build failure")
		return result.Error
	}

	r.logger.WithFields(logrus.Fields{
		"build_id":     id,
		"phase":        phase,
		"failure_kind": kind,
		"display_name": kind.GetDisplayName(),
	}).Warn("Build marked as failed")
	return nil
}

func (r *buildRepo) ResetForRerun(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&domain.Build{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        domain.BuildStatusQueued,
			"phase":         "",
			"status_text":   "",
			"progress":      0,
			"failure_kind":  domain.FailureKindNone,
			"error_message": "",
			"artifact_path": "",
			"artifact_size": 0,
			"started_at":    nil,
			"completed_at":  nil,
		})

	if result.Error != nil {
		r.logger.WithError(result.Error).WithField("build_id", id).Error("Failed to reset build for rerun")
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}

	r.logger.WithField("build_id", id).Info("Build reset for rerun")
	return nil
}

func (r *buildRepo) FailInterrupted(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).
		Model(&domain.Build{}).
		Where("status = ?", domain.BuildStatusRunning).
		Updates(map[string]interface{}{
			"status":        domain.BuildStatusFailed,
			"failure_kind":  domain.FailureKindInternal,
			"error_message": "build interrupted by service restart",
			"completed_at":  &now,
		})
	return result.RowsAffected, result.Error
}

func (r *buildRepo) GetStatusCounts(ctx context.Context) (map[string]int64, int64, error) {
	type StatusCount struct {
		Status string
		Count  int64
	}

	var results []StatusCount
	err := r.db.WithContext(ctx).
		Model(&domain.Build{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&results).Error
	if err != nil {
		r.logger.WithError(err).Error("Failed to get status counts")
		return nil, 0, err
	}

	counts := map[string]int64{
		string(domain.BuildStatusQueued):    0,
		string(domain.BuildStatusRunning):   0,
		string(domain.BuildStatusSucceeded): 0,
		string(domain.BuildStatusFailed):    0,
	}

	var total int64
	for _, sc := range results {
		counts[sc.Status] = sc.Count
		total += sc.Count
	}
	return counts, total, nil
}

func (r *buildRepo) ListQueued(ctx context.Context) ([]*domain.Build, error) {
	var builds []*domain.Build
	err := r.db.WithContext(ctx).
		Where("status = ?", domain.BuildStatusQueued).
		Order("created_at ASC").
		Find(&builds).Error
	return builds, err
}

func (r *buildRepo) AddInvocation(ctx context.Context, inv *domain.ToolInvocation) error {
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(inv).Error
}

func (r *buildRepo) ListInvocations(ctx context.Context, buildID string) ([]*domain.ToolInvocation, error) {
	var invs []*domain.ToolInvocation
	err := r.db.WithContext(ctx).
		Where("build_id = ?", buildID).
		Order("id ASC").
		Find(&invs).Error
	return invs, err
}
