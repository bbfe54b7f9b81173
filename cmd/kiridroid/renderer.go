package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/kiridroid/kiridroid-go/internal/pipeline"
)

// renderer 在终端输出构建进度，实现 pipeline.Sink
type renderer struct {
	mu       sync.Mutex
	out      io.Writer
	progress int
	verbose  bool

	failed    *pipeline.Failed
	succeeded *pipeline.Succeeded
}

func newRenderer(out io.Writer, verbose bool) *renderer {
	return &renderer{out: out, verbose: verbose}
}

func (r *renderer) Emit(e pipeline.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch e := e.(type) {
	case pipeline.StatusChanged:
		if e.Phase == pipeline.PhaseDone {
			return
		}
		fmt.Fprintf(r.out, "%s %s\n", color.CyanString("[%3d%%]", r.progress), e.Message)

	case pipeline.ProgressAdvanced:
		r.progress = e.Total

	case pipeline.Failed:
		r.failed = &e
		fmt.Fprintln(r.out, color.RedString("✗ %s", e.Message))
		if detail := r.detail(e); detail != "" {
			fmt.Fprintln(r.out, color.New(color.Faint).Sprint(detail))
		}

	case pipeline.Succeeded:
		r.succeeded = &e
		fmt.Fprintf(r.out, "%s %s\n", color.GreenString("[100%]"), color.GreenString("✓ %s", e.Message))
		fmt.Fprintf(r.out, "       %s (%s)\n", e.ArtifactPath, humanSize(e.ArtifactSize))
	}
}

// detail 默认只显示诊断信息的第一行
func (r *renderer) detail(e pipeline.Failed) string {
	if e.Detail == "" || e.Detail == e.Message {
		return ""
	}
	if r.verbose {
		return e.Detail
	}
	first, _, _ := strings.Cut(e.Detail, "\n")
	return first
}

// result 构建结束后的状态
func (r *renderer) result() (*pipeline.Succeeded, *pipeline.Failed) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.succeeded, r.failed
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
