package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Entry 要写入归档的条目：Name 为归档内路径，Source 为磁盘文件
type Entry struct {
	Name   string
	Source string
}

// Editor 向已有归档添加或替换条目，完成后原子替换原文件
type Editor interface {
	Apply(ctx context.Context, archivePath string, entries []Entry) error
}

// Packer 把目录内容打包成 zip（外部 7z 或进程内实现）
type Packer interface {
	Pack(ctx context.Context, dir, dest string) error
}

// PackerFunc 适配普通函数
type PackerFunc func(ctx context.Context, dir, dest string) error

func (f PackerFunc) Pack(ctx context.Context, dir, dest string) error {
	return f(ctx, dir, dest)
}

// InProcessPacker 不依赖外部工具的打包
var InProcessPacker = PackerFunc(func(_ context.Context, dir, dest string) error {
	return Pack(dir, dest)
})

// DirectEditor 在归档内直接增改条目：未改动的条目按原始压缩数据复制
type DirectEditor struct {
	logger *logrus.Logger
}

func NewDirectEditor(logger *logrus.Logger) *DirectEditor {
	return &DirectEditor{logger: logger}
}

func (e *DirectEditor) Apply(ctx context.Context, archivePath string, entries []Entry) error {
	replace := make(map[string]Entry, len(entries))
	for _, en := range entries {
		replace[path.Clean(en.Name)] = en
	}

	tmp := archivePath + ".tmp"
	if err := e.rewrite(ctx, archivePath, tmp, entries, replace); err != nil {
		os.Remove(tmp)
		return err
	}

	if err := os.Rename(tmp, archivePath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", archivePath, err)
	}

	e.logger.WithFields(logrus.Fields{
		"archive": archivePath,
		"entries": len(entries),
	}).Debug("Archive entries written in place")
	return nil
}

func (e *DirectEditor) rewrite(ctx context.Context, src, dst string, entries []Entry, replace map[string]Entry) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer r.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)

	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, ok := replace[path.Clean(f.Name)]; ok {
			continue
		}
		if err := zw.Copy(f); err != nil {
			return fmt.Errorf("failed to copy entry %s: %w", f.Name, err)
		}
	}

	for _, en := range entries {
		if err := addFile(zw, en.Source, en.Name); err != nil {
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish %s: %w", dst, err)
	}
	return out.Sync()
}

func addFile(zw *zip.Writer, src, name string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = path.Clean(filepath.ToSlash(name))
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("failed to add entry %s: %w", name, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to write entry %s: %w", name, err)
	}
	return nil
}

// StagingEditor 解压到暂存目录、合并条目、整体重新打包后原子替换
type StagingEditor struct {
	packer  Packer
	workDir string
	logger  *logrus.Logger
}

// NewStagingEditor packer 为空时使用进程内打包
func NewStagingEditor(packer Packer, workDir string, logger *logrus.Logger) *StagingEditor {
	if packer == nil {
		packer = InProcessPacker
	}
	return &StagingEditor{packer: packer, workDir: workDir, logger: logger}
}

func (e *StagingEditor) Apply(ctx context.Context, archivePath string, entries []Entry) error {
	staging, err := os.MkdirTemp(e.workDir, "kiridroid-staging-")
	if err != nil {
		return fmt.Errorf("failed to create staging dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(staging); err != nil {
			e.logger.WithError(err).WithField("dir", staging).Warn("Failed to remove staging dir")
		}
	}()

	if err := Extract(archivePath, staging); err != nil {
		return err
	}

	for _, en := range entries {
		dst, err := safeJoin(staging, en.Name)
		if err != nil {
			return err
		}
		if err := CopyFile(en.Source, dst); err != nil {
			return err
		}
	}

	// 打包到同目录下的临时文件，再覆盖原归档
	tmp := archivePath + ".tmp"
	os.Remove(tmp)
	absTmp, err := filepath.Abs(tmp)
	if err != nil {
		return err
	}
	if err := e.packer.Pack(ctx, staging, absTmp); err != nil {
		os.Remove(tmp)
		return err
	}
	if _, err := os.Stat(tmp); err != nil {
		return fmt.Errorf("archiver produced no output: %w", err)
	}

	if err := os.Rename(tmp, archivePath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", archivePath, err)
	}

	e.logger.WithFields(logrus.Fields{
		"archive": archivePath,
		"entries": len(entries),
	}).Debug("Archive rebuilt from staging dir")
	return nil
}
