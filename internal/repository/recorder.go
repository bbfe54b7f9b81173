package repository

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/kiridroid/kiridroid-go/internal/domain"
	"github.com/kiridroid/kiridroid-go/internal/toolchain"
)

// maxOutputBytes 单个输出字段保存的上限
const maxOutputBytes = 64 * 1024

// InvocationRecorder 把外部工具调用写入 tool_invocations
type InvocationRecorder struct {
	repo   BuildRepository
	logger *logrus.Logger
}

func NewInvocationRecorder(repo BuildRepository, logger *logrus.Logger) *InvocationRecorder {
	return &InvocationRecorder{repo: repo, logger: logger}
}

// Record 实现 toolchain.Recorder；没有构建 ID 的调用（如版本查询）不保存
func (r *InvocationRecorder) Record(ctx context.Context, inv toolchain.Invocation) {
	buildID := toolchain.BuildIDFromContext(ctx)
	if buildID == "" {
		return
	}

	row := &domain.ToolInvocation{
		BuildID:     buildID,
		Tool:        inv.Command.Tool,
		CommandLine: inv.Command.Redacted(),
	}
	if inv.Result != nil {
		row.ExitCode = inv.Result.ExitCode
		row.Stdout = truncate(inv.Result.StdoutText())
		row.Stderr = truncate(inv.Result.StderrText())
		row.DurationMS = inv.Result.Duration.Milliseconds()
	}
	if inv.Err != nil {
		row.ExitCode = -1
		row.LaunchError = inv.Err.Error()
	}

	// 调用记录写入失败不影响构建
	if err := r.repo.AddInvocation(context.WithoutCancel(ctx), row); err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"build_id": buildID,
			"tool":     row.Tool,
		}).Warn("Failed to persist tool invocation")
	}
}

func truncate(s string) string {
	if len(s) <= maxOutputBytes {
		return s
	}
	return s[len(s)-maxOutputBytes:]
}
