package domain

import (
	"time"
)

type BuildStatus string

const (
	BuildStatusQueued    BuildStatus = "queued"
	BuildStatusRunning   BuildStatus = "running"
	BuildStatusSucceeded BuildStatus = "succeeded"
	BuildStatusFailed    BuildStatus = "failed"
)

// IsTerminal 是否已结束
func (s BuildStatus) IsTerminal() bool {
	return s == BuildStatusSucceeded || s == BuildStatusFailed
}

// FailureKind 失败类型
type FailureKind string

const (
	FailureKindNone                FailureKind = ""
	FailureKindInvalidRequest      FailureKind = "invalid_request"      // 输入不完整或格式错误
	FailureKindMissingPrerequisite FailureKind = "missing_prerequisite" // 工具、库缓存或签名工具缺失
	FailureKindToolFailure         FailureKind = "tool_failure"         // 外部工具返回非零
	FailureKindIntegrity           FailureKind = "integrity"            // 产物缺失、过小或校验失败
	FailureKindIO                  FailureKind = "io"                   // 文件操作失败
	FailureKindInternal            FailureKind = "internal"             // 未预期的错误
)

// GetDisplayName 获取失败类型的显示名称
func (k FailureKind) GetDisplayName() string {
	switch k {
	case FailureKindNone:
		return ""
	case FailureKindInvalidRequest:
		return "Invalid request"
	case FailureKindMissingPrerequisite:
		return "Missing prerequisite"
	case FailureKindToolFailure:
		return "Tool failure"
	case FailureKindIntegrity:
		return "Integrity failure"
	case FailureKindIO:
		return "I/O failure"
	default:
		return "Internal error"
	}
}

// Build 构建记录
type Build struct {
	ID           string      `gorm:"primaryKey;type:varchar(36)" json:"id"`
	PackageID    string      `gorm:"type:varchar(255);not null;index" json:"package_id"`
	AppName      string      `gorm:"type:varchar(255);not null" json:"app_name"`
	ContentDir   string      `gorm:"type:varchar(1024)" json:"content_dir"`
	IconFile     string      `gorm:"type:varchar(1024)" json:"icon_file"`
	Locale       string      `gorm:"type:varchar(16)" json:"locale,omitempty"`
	Status       BuildStatus `gorm:"type:varchar(20);not null;default:'queued';index" json:"status"`
	Phase        string      `gorm:"type:varchar(32)" json:"phase,omitempty"`
	StatusText   string      `gorm:"type:varchar(255)" json:"status_text,omitempty"`
	Progress     int         `gorm:"default:0" json:"progress"`
	FailureKind  FailureKind `gorm:"type:varchar(32);default:''" json:"failure_kind,omitempty"`
	ErrorMessage string      `gorm:"type:text" json:"error_message,omitempty"`
	ArtifactPath string      `gorm:"type:varchar(1024)" json:"artifact_path,omitempty"`
	ArtifactSize int64       `json:"artifact_size,omitempty"`
	RunCount     int         `gorm:"default:0" json:"run_count"`
	CreatedAt    time.Time   `gorm:"not null" json:"created_at"`
	StartedAt    *time.Time  `json:"started_at,omitempty"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
}

func (Build) TableName() string {
	return "builds"
}

// Request 还原构建请求
func (b *Build) Request() BuildRequest {
	return BuildRequest{
		ContentDir: b.ContentDir,
		IconFile:   b.IconFile,
		PackageID:  b.PackageID,
		AppName:    b.AppName,
		Locale:     b.Locale,
	}
}
