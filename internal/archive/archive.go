package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	kzip "github.com/klauspost/compress/zip"
	"github.com/mholt/archiver/v3"
	"github.com/otiai10/copy"
)

// ErrCorrupt 归档自检失败
var ErrCorrupt = errors.New("archive integrity check failed")

func newZip() *archiver.Zip {
	z := archiver.NewZip()
	z.OverwriteExisting = true
	z.MkdirAll = true
	z.ImplicitTopLevelFolder = false
	z.ContinueOnError = false
	return z
}

// Extract 解压 zip 格式归档到目录
func Extract(src, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create extract dir: %w", err)
	}
	if err := newZip().Unarchive(src, dir); err != nil {
		return fmt.Errorf("failed to extract %s: %w", src, err)
	}
	return nil
}

// ExtractMatching 只解压名称匹配的条目，返回解压出的条目名
func ExtractMatching(src, dir string, match func(name string) bool) ([]string, error) {
	var names []string

	err := newZip().Walk(src, func(f archiver.File) error {
		if f.IsDir() {
			return nil
		}
		// archiver 使用 klauspost/compress 的 zip 实现
		hdr, ok := f.Header.(kzip.FileHeader)
		if !ok || !match(hdr.Name) {
			return nil
		}

		dst, err := safeJoin(dir, hdr.Name)
		if err != nil {
			return err
		}
		if err := writeFile(dst, f); err != nil {
			return err
		}
		names = append(names, hdr.Name)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to extract from %s: %w", src, err)
	}

	return names, nil
}

// Pack 把目录内容（不含目录本身）打包成 zip，等价于在 dir 中执行 `7z a -tzip dest .`
func Pack(dir, dest string) error {
	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	defer out.Close()

	z := newZip()
	if err := z.Create(out); err != nil {
		return err
	}

	err = filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil || rel == "." {
			return err
		}

		f := archiver.File{
			FileInfo: archiver.FileInfo{
				FileInfo:   info,
				CustomName: filepath.ToSlash(rel),
			},
		}
		if info.IsDir() {
			return z.Write(f)
		}

		rc, err := os.Open(p)
		if err != nil {
			return err
		}
		defer rc.Close()
		f.ReadCloser = rc
		return z.Write(f)
	})
	if err != nil {
		z.Close()
		return fmt.Errorf("failed to archive %s: %w", dir, err)
	}

	if err := z.Close(); err != nil {
		return fmt.Errorf("failed to finish %s: %w", dest, err)
	}
	return out.Sync()
}

// CopyFile 复制文件，自动创建父目录
func CopyFile(src, dst string) error {
	if err := copy.Copy(src, dst); err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}
	return nil
}

// ReplaceDir 删除 dst 后把 src 整体复制过去
func ReplaceDir(src, dst string) error {
	if err := os.RemoveAll(dst); err != nil {
		return fmt.Errorf("failed to remove %s: %w", dst, err)
	}
	if err := copy.Copy(src, dst); err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}
	return nil
}

// Entries 列出归档内全部条目名
func Entries(src string) ([]string, error) {
	r, err := zip.OpenReader(src)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	names := make([]string, 0, len(r.File))
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	return names, nil
}

// CheckIntegrity 读取每个条目，校验 CRC-32
func CheckIntegrity(src string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer r.Close()

	if len(r.File) == 0 {
		return fmt.Errorf("%w: archive is empty", ErrCorrupt)
	}

	for _, f := range r.File {
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrCorrupt, f.Name, err)
		}
		// zip.Reader 在读到 EOF 时校验 CRC
		_, err = io.Copy(io.Discard, rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrCorrupt, f.Name, err)
		}
	}
	return nil
}

func writeFile(dst string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// safeJoin 拒绝跳出目标目录的条目名
func safeJoin(dir, name string) (string, error) {
	p := filepath.Join(dir, filepath.FromSlash(name))
	if p != filepath.Clean(dir) && !strings.HasPrefix(p, filepath.Clean(dir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("illegal entry name %q", name)
	}
	return p, nil
}
