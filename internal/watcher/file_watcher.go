package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/kiridroid/kiridroid-go/internal/domain"
)

const (
	// AcceptedSuffix 已提交的请求文件改名后缀
	AcceptedSuffix = ".accepted"
	// RejectedSuffix 无法提交的请求文件改名后缀
	RejectedSuffix = ".rejected"
)

// SubmitFunc 提交构建请求，返回构建 ID
type SubmitFunc func(ctx context.Context, req domain.BuildRequest) (string, error)

// InboxWatcher 监控收件箱目录，每个 *.json 文件是一条构建请求
type InboxWatcher struct {
	watcher  *fsnotify.Watcher
	dir      string
	submit   SubmitFunc
	logger   *logrus.Logger
	debounce time.Duration // 防抖时间
	settle   time.Duration // 判断写入完成的间隔

	mu         sync.Mutex
	timers     map[string]*time.Timer
	processing map[string]bool
	stopOnce   sync.Once
	stopChan   chan struct{}
}

// NewInboxWatcher 创建目录（如不存在）并开始监听
func NewInboxWatcher(dir string, submit SubmitFunc, logger *logrus.Logger) (*InboxWatcher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create inbox directory: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch inbox directory: %w", err)
	}

	logger.WithField("inbox", dir).Info("Inbox watcher created")

	return &InboxWatcher{
		watcher:    w,
		dir:        dir,
		submit:     submit,
		logger:     logger,
		debounce:   2 * time.Second,
		settle:     500 * time.Millisecond,
		timers:     make(map[string]*time.Timer),
		processing: make(map[string]bool),
		stopChan:   make(chan struct{}),
	}, nil
}

// Start 先处理目录中已有的请求，再进入事件循环
func (iw *InboxWatcher) Start(ctx context.Context) error {
	entries, err := os.ReadDir(iw.dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if !entry.IsDir() && isRequestFile(entry.Name()) {
			go iw.handleFile(ctx, filepath.Join(iw.dir, entry.Name()))
		}
	}

	go iw.eventLoop(ctx)
	iw.logger.Info("Inbox watcher started")
	return nil
}

func isRequestFile(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".json")
}

func (iw *InboxWatcher) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-iw.stopChan:
			return

		case event, ok := <-iw.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !isRequestFile(event.Name) {
				continue
			}

			// 同一文件短时间内多次触发只处理一次
			path := event.Name
			iw.mu.Lock()
			if timer, exists := iw.timers[path]; exists {
				timer.Stop()
			}
			iw.timers[path] = time.AfterFunc(iw.debounce, func() {
				iw.mu.Lock()
				delete(iw.timers, path)
				iw.mu.Unlock()
				iw.handleFile(ctx, path)
			})
			iw.mu.Unlock()

		case err, ok := <-iw.watcher.Errors:
			if !ok {
				return
			}
			iw.logger.WithError(err).Error("Watcher error")
		}
	}
}

// handleFile 读取请求并提交，结果体现在文件后缀上
func (iw *InboxWatcher) handleFile(ctx context.Context, path string) {
	iw.mu.Lock()
	if iw.processing[path] {
		iw.mu.Unlock()
		return
	}
	iw.processing[path] = true
	iw.mu.Unlock()
	defer func() {
		iw.mu.Lock()
		delete(iw.processing, path)
		iw.mu.Unlock()
	}()

	log := iw.logger.WithField("file", filepath.Base(path))

	if err := iw.waitForFileReady(path); err != nil {
		log.WithError(err).Warn("Request file not ready")
		return
	}

	req, err := iw.readRequest(path)
	if err != nil {
		log.WithError(err).Warn("Rejecting malformed build request")
		iw.mark(path, RejectedSuffix)
		return
	}

	buildID, err := iw.submit(ctx, req)
	if err != nil {
		log.WithError(err).Warn("Build request rejected")
		iw.mark(path, RejectedSuffix)
		return
	}

	log.WithField("build_id", buildID).Info("Build request accepted")
	iw.mark(path, AcceptedSuffix)
}

// readRequest 相对路径以收件箱目录为基准
func (iw *InboxWatcher) readRequest(path string) (domain.BuildRequest, error) {
	var req domain.BuildRequest
	data, err := os.ReadFile(path)
	if err != nil {
		return req, err
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}

	if req.ContentDir != "" && !filepath.IsAbs(req.ContentDir) {
		req.ContentDir = filepath.Join(iw.dir, req.ContentDir)
	}
	if req.IconFile != "" && !filepath.IsAbs(req.IconFile) {
		req.IconFile = filepath.Join(iw.dir, req.IconFile)
	}
	return req, nil
}

func (iw *InboxWatcher) mark(path, suffix string) {
	if err := os.Rename(path, path+suffix); err != nil {
		iw.logger.WithError(err).WithField("file", path).Error("Failed to rename request file")
	}
}

// waitForFileReady 文件大小稳定即认为写入完成
func (iw *InboxWatcher) waitForFileReady(path string) error {
	const maxAttempts = 10
	for i := 0; i < maxAttempts; i++ {
		info1, err := os.Stat(path)
		if err != nil {
			return err
		}
		time.Sleep(iw.settle)
		info2, err := os.Stat(path)
		if err != nil {
			return err
		}
		if info1.Size() == info2.Size() && info1.Size() > 0 {
			return nil
		}
	}
	return fmt.Errorf("file not ready after %d attempts", maxAttempts)
}

// Stop 停止监控
func (iw *InboxWatcher) Stop() error {
	var err error
	iw.stopOnce.Do(func() {
		iw.logger.Info("Stopping inbox watcher")
		close(iw.stopChan)

		iw.mu.Lock()
		for _, timer := range iw.timers {
			timer.Stop()
		}
		iw.mu.Unlock()

		err = iw.watcher.Close()
	})
	return err
}

// Dir 收件箱目录
func (iw *InboxWatcher) Dir() string {
	return iw.dir
}
