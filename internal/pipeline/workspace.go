package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kiridroid/kiridroid-go/internal/retry"
)

// Workspace 单次构建的临时目录
type Workspace struct {
	root   string
	logger *logrus.Logger
}

// NewWorkspace parent 为空时使用系统临时目录
func NewWorkspace(parent string, logger *logrus.Logger) (*Workspace, error) {
	if parent != "" {
		if err := os.MkdirAll(parent, 0755); err != nil {
			return nil, fmt.Errorf("failed to create work dir: %w", err)
		}
	}
	root, err := os.MkdirTemp(parent, "kiridroid-")
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	return &Workspace{root: root, logger: logger}, nil
}

func (w *Workspace) Root() string {
	return w.root
}

// Path 工作区内的路径
func (w *Workspace) Path(elem ...string) string {
	return filepath.Join(append([]string{w.root}, elem...)...)
}

// Release 删除工作区；文件被短暂占用时重试，失败只记录日志
func (w *Workspace) Release() {
	cfg := &retry.Config{
		Operation:       "release workspace",
		MaxAttempts:     3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     time.Second,
		Strategy:        retry.StrategyLinear,
		Timeout:         10 * time.Second,
		Logger:          w.logger,
	}

	err := retry.Do(context.Background(), cfg, func(context.Context) error {
		return os.RemoveAll(w.root)
	})
	if err != nil {
		w.logger.WithError(err).WithField("workspace", w.root).Warn("Failed to release workspace")
		return
	}
	w.logger.WithField("workspace", w.root).Debug("Workspace released")
}
