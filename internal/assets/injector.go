package assets

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/kiridroid/kiridroid-go/internal/archive"
)

// 兼容拷贝：只有 data.xp3 时复制一份 gameexe.dat
const (
	DataFile      = "data.xp3"
	CompanionFile = "gameexe.dat"
)

// Result 注入结果
type Result struct {
	CompatCopied bool
}

// Injector 用游戏内容目录整体替换 assets
type Injector struct {
	logger *logrus.Logger
}

func NewInjector(logger *logrus.Logger) *Injector {
	return &Injector{logger: logger}
}

// Inject 删除 assetsDir 后复制 contentDir，然后执行兼容拷贝
func (i *Injector) Inject(contentDir, assetsDir string) (Result, error) {
	info, err := os.Stat(contentDir)
	if err != nil {
		return Result{}, fmt.Errorf("content dir: %w", err)
	}
	if !info.IsDir() {
		return Result{}, fmt.Errorf("content dir %s is not a directory", contentDir)
	}

	if err := archive.ReplaceDir(contentDir, assetsDir); err != nil {
		return Result{}, err
	}

	var res Result
	data := filepath.Join(assetsDir, DataFile)
	companion := filepath.Join(assetsDir, CompanionFile)
	if fileExists(data) && !fileExists(companion) {
		if err := archive.CopyFile(data, companion); err != nil {
			return res, err
		}
		res.CompatCopied = true
	}

	i.logger.WithFields(logrus.Fields{
		"content_dir":   contentDir,
		"compat_copied": res.CompatCopied,
	}).Info("Game assets injected")
	return res, nil
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}
