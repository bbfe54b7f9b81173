package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Command 一次外部工具调用
type Command struct {
	Tool    string   // apktool, apksigner, keytool, 7z
	Path    string   // 可执行文件
	Args    []string
	Dir     string
	Env     []string // 追加到当前环境之后，只作用于本次调用
	Timeout time.Duration
}

// String 可读的命令行（日志用）
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, quote(c.Path))
	for _, a := range c.Args {
		parts = append(parts, quote(a))
	}
	return strings.Join(parts, " ")
}

// Redacted 隐藏 pass: 和 -storepass/-keypass 后面的密码
func (c Command) Redacted() string {
	cp := c
	cp.Args = make([]string, len(c.Args))
	hideNext := false
	for i, a := range c.Args {
		switch {
		case hideNext:
			cp.Args[i] = "******"
			hideNext = false
		case strings.HasPrefix(a, "pass:"):
			cp.Args[i] = "pass:******"
		case a == "-storepass" || a == "-keypass":
			cp.Args[i] = a
			hideNext = true
		default:
			cp.Args[i] = a
		}
	}
	return cp.String()
}

func quote(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\"") {
		return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
	}
	return s
}

// Result 外部工具的执行结果；非零退出码不是 error
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
}

// StdoutText 按 UTF-8 解码，非法字节替换
func (r *Result) StdoutText() string {
	return decode(r.Stdout)
}

func (r *Result) StderrText() string {
	return decode(r.Stderr)
}

func decode(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}

// Runner 执行外部命令
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// LaunchError 进程无法启动（可执行文件不存在或不可执行）
type LaunchError struct {
	Tool string
	Path string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch %s (%s): %v", e.Tool, e.Path, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// TimeoutError 超过命令的 Timeout
type TimeoutError struct {
	Tool    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Tool, e.Timeout)
}

// ToolError 工具启动成功但返回非零退出码
type ToolError struct {
	Tool     string
	ExitCode int
	Stderr   string
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Tool, e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// ExecRunner 基于 os/exec 的实现
type ExecRunner struct{}

func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

func (r *ExecRunner) Run(ctx context.Context, c Command) (*Result, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(cmd.Environ(), c.Env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Tool: c.Tool, Path: c.Path, Err: err}
	}
	err := cmd.Wait()
	duration := time.Since(start)

	if c.Timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, &TimeoutError{Tool: c.Tool, Timeout: c.Timeout}
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, &LaunchError{Tool: c.Tool, Path: c.Path, Err: err}
		}
		exitCode = exitErr.ExitCode()
	}

	return &Result{
		ExitCode: exitCode,
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: duration,
	}, nil
}

// Invocation 一次调用的完整记录
type Invocation struct {
	Command Command
	Result  *Result
	Err     error
}

// Recorder 持久化调用记录（如写入数据库）
type Recorder interface {
	Record(ctx context.Context, inv Invocation)
}

// RecorderFunc 适配普通函数
type RecorderFunc func(ctx context.Context, inv Invocation)

func (f RecorderFunc) Record(ctx context.Context, inv Invocation) {
	f(ctx, inv)
}

// loggingRunner 每次调用写一条日志并交给 Recorder
type loggingRunner struct {
	next     Runner
	logger   *logrus.Logger
	recorder Recorder
}

// WithLogging 包装 Runner，记录命令行、退出码和输出
func WithLogging(next Runner, logger *logrus.Logger, recorder Recorder) Runner {
	return &loggingRunner{next: next, logger: logger, recorder: recorder}
}

func (r *loggingRunner) Run(ctx context.Context, c Command) (*Result, error) {
	res, err := r.next.Run(ctx, c)

	fields := logrus.Fields{
		"tool":    c.Tool,
		"command": c.Redacted(),
	}
	if id := BuildIDFromContext(ctx); id != "" {
		fields["build_id"] = id
	}

	switch {
	case err != nil:
		r.logger.WithFields(fields).WithError(err).Error("External tool invocation failed")
	default:
		fields["exit_code"] = res.ExitCode
		fields["duration"] = res.Duration
		fields["stdout"] = res.StdoutText()
		fields["stderr"] = res.StderrText()
		entry := r.logger.WithFields(fields)
		if res.ExitCode != 0 {
			entry.Warn("External tool invocation")
		} else {
			entry.Info("External tool invocation")
		}
	}

	if r.recorder != nil {
		r.recorder.Record(ctx, Invocation{Command: c, Result: res, Err: err})
	}
	return res, err
}

type buildIDKey struct{}

// WithBuildID 把构建 ID 放进 context，供日志和 Recorder 使用
func WithBuildID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, buildIDKey{}, id)
}

func BuildIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(buildIDKey{}).(string)
	return id
}
