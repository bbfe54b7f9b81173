package dex

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/sirupsen/logrus"

	"github.com/kiridroid/kiridroid-go/internal/archive"
)

// ErrNoDex 基础 APK 中没有 classes*.dex
var ErrNoDex = errors.New("no classes*.dex in base archive")

// 只匹配根目录下的 classes.dex、classes2.dex ...
var dexEntry = regexp.MustCompile(`^classes\d*\.dex$`)

// IsDexEntry 是否为根目录的 dex 条目
func IsDexEntry(name string) bool {
	return dexEntry.MatchString(name)
}

// Injector 把基础 APK 的 dex 写回重新打包的 APK
type Injector struct {
	editor  archive.Editor
	workDir string
	logger  *logrus.Logger
}

func NewInjector(editor archive.Editor, workDir string, logger *logrus.Logger) *Injector {
	return &Injector{editor: editor, workDir: workDir, logger: logger}
}

// Inject 返回写入的 dex 数量
func (i *Injector) Inject(ctx context.Context, baseAPK, rebuiltAPK string) (int, error) {
	tmp, err := os.MkdirTemp(i.workDir, "kiridroid-dex-")
	if err != nil {
		return 0, fmt.Errorf("failed to create dex dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(tmp); err != nil {
			i.logger.WithError(err).WithField("dir", tmp).Warn("Failed to remove dex dir")
		}
	}()

	names, err := archive.ExtractMatching(baseAPK, tmp, IsDexEntry)
	if err != nil {
		return 0, err
	}
	if len(names) == 0 {
		return 0, ErrNoDex
	}

	entries := make([]archive.Entry, 0, len(names))
	for _, name := range names {
		entries = append(entries, archive.Entry{Name: name, Source: filepath.Join(tmp, name)})
	}

	if err := i.editor.Apply(ctx, rebuiltAPK, entries); err != nil {
		return 0, fmt.Errorf("failed to write dex into %s: %w", rebuiltAPK, err)
	}

	i.logger.WithFields(logrus.Fields{
		"count": len(names),
		"files": names,
	}).Info("DEX files injected")
	return len(names), nil
}
