package icon

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"
)

// PlaceholderName 每个密度目录中的占位图标
const PlaceholderName = "ic_launcher.png"

// Buckets 会被替换的密度目录，mipmap 不处理
var Buckets = []string{
	"drawable-hdpi-v4",
	"drawable-mdpi-v4",
	"drawable-xhdpi-v4",
	"drawable-xxhdpi-v4",
}

// ErrNoBuckets 没有任何占位图标被替换
var ErrNoBuckets = errors.New("no icon placeholder found")

// InjectError 图标注入失败
type InjectError struct {
	Bucket string
	Err    error
}

func (e *InjectError) Error() string {
	if e.Bucket == "" {
		return fmt.Sprintf("icon injection failed: %v", e.Err)
	}
	return fmt.Sprintf("icon injection failed in %s: %v", e.Bucket, e.Err)
}

func (e *InjectError) Unwrap() error {
	return e.Err
}

// Injector 按占位图的尺寸缩放用户图标并覆盖
type Injector struct {
	logger *logrus.Logger
}

func NewInjector(logger *logrus.Logger) *Injector {
	return &Injector{logger: logger}
}

// Replace 返回替换的目录数；为 0 时返回 InjectError
func (i *Injector) Replace(ctx context.Context, resDir, iconPath string) (int, error) {
	src, err := decodeFile(iconPath)
	if err != nil {
		return 0, &InjectError{Err: fmt.Errorf("failed to decode %s: %w", iconPath, err)}
	}

	var replaced atomic.Int32
	g, gctx := errgroup.WithContext(ctx)

	for _, bucket := range Buckets {
		bucket := bucket
		placeholder := filepath.Join(resDir, bucket, PlaceholderName)
		if _, err := os.Stat(placeholder); err != nil {
			i.logger.WithField("bucket", bucket).Debug("Icon placeholder not present")
			continue
		}

		g.Go(func() error {
			// 其他目录失败或调用方取消后不再写入
			if err := gctx.Err(); err != nil {
				return err
			}
			size, err := resizeInto(src, placeholder)
			if err != nil {
				return &InjectError{Bucket: bucket, Err: err}
			}
			replaced.Add(1)
			i.logger.WithFields(logrus.Fields{
				"bucket": bucket,
				"size":   fmt.Sprintf("%dx%d", size.X, size.Y),
			}).Debug("Icon replaced")
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return int(replaced.Load()), err
	}

	n := int(replaced.Load())
	if n == 0 {
		return 0, &InjectError{Err: ErrNoBuckets}
	}
	return n, nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	return img, err
}

// resizeInto 只读取占位图的头部获得尺寸，按原格式写回
func resizeInto(src image.Image, placeholder string) (image.Point, error) {
	f, err := os.Open(placeholder)
	if err != nil {
		return image.Point{}, err
	}
	cfg, format, err := image.DecodeConfig(f)
	f.Close()
	if err != nil {
		return image.Point{}, fmt.Errorf("failed to read placeholder: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return image.Point{}, fmt.Errorf("placeholder has invalid size %dx%d", cfg.Width, cfg.Height)
	}

	dst := image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	var buf bytes.Buffer
	switch format {
	case "jpeg":
		err = jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 95})
	default:
		err = png.Encode(&buf, dst)
	}
	if err != nil {
		return image.Point{}, err
	}

	if err := os.WriteFile(placeholder, buf.Bytes(), 0644); err != nil {
		return image.Point{}, err
	}
	return image.Pt(cfg.Width, cfg.Height), nil
}
