package pipeline

import (
	"errors"
	"fmt"

	"github.com/kiridroid/kiridroid-go/internal/archive"
	"github.com/kiridroid/kiridroid-go/internal/domain"
	"github.com/kiridroid/kiridroid-go/internal/icon"
	"github.com/kiridroid/kiridroid-go/internal/keystore"
	"github.com/kiridroid/kiridroid-go/internal/manifest"
	"github.com/kiridroid/kiridroid-go/internal/nativelib"
	"github.com/kiridroid/kiridroid-go/internal/toolchain"
	"github.com/kiridroid/kiridroid-go/internal/verify"
)

// ErrBuildInProgress 已有构建在执行
var ErrBuildInProgress = errors.New("a build is already in progress")

// BuildError 构建失败；所有失败都是终止性的，不会自动重试
type BuildError struct {
	Phase Phase
	Kind  domain.FailureKind
	Err   error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Phase, e.Kind, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// IsRetryable 实现 retry.RetryableError
func (e *BuildError) IsRetryable() bool {
	return false
}

// IntegrityError 产物缺失、过小或校验失败
type IntegrityError struct {
	Path   string
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

// PanicError 未预期的 panic
type PanicError struct {
	Value interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("unexpected panic: %v", e.Value)
}

// Classify 把底层错误映射为失败类型
func Classify(err error) domain.FailureKind {
	var (
		missingTool  *toolchain.MissingError
		launchErr    *toolchain.LaunchError
		missingLib   *nativelib.MissingError
		toolErr      *toolchain.ToolError
		timeoutErr   *toolchain.TimeoutError
		integrityErr *IntegrityError
		libIntegrity *nativelib.IntegrityError
		mismatchErr  *verify.MismatchError
		panicErr     *PanicError
	)

	switch {
	case err == nil:
		return domain.FailureKindNone
	case errors.As(err, &panicErr):
		return domain.FailureKindInternal
	case errors.Is(err, domain.ErrInvalidRequest):
		return domain.FailureKindInvalidRequest
	case errors.As(err, &missingTool), errors.As(err, &launchErr), errors.As(err, &missingLib),
		errors.Is(err, keystore.ErrNoSecret):
		return domain.FailureKindMissingPrerequisite
	case errors.As(err, &toolErr), errors.As(err, &timeoutErr):
		return domain.FailureKindToolFailure
	case errors.As(err, &integrityErr), errors.As(err, &libIntegrity), errors.As(err, &mismatchErr),
		errors.Is(err, archive.ErrCorrupt), errors.Is(err, manifest.ErrPatternMissing),
		errors.Is(err, icon.ErrNoBuckets):
		return domain.FailureKindIntegrity
	default:
		// 文件读写、解压、复制等
		return domain.FailureKindIO
	}
}
