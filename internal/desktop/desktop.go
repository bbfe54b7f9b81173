package desktop

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/sirupsen/logrus"
)

// Cue 提示音
type Cue string

const (
	CueFinish Cue = "finish"
	CueError  Cue = "error"
)

// Host 宿主系统集成，全部为尽力而为
type Host interface {
	OpenFolder(dir string) error
	Cue(c Cue)
}

// Noop 服务端等无桌面环境使用
type Noop struct{}

func (Noop) OpenFolder(string) error { return nil }
func (Noop) Cue(Cue)                 {}

// System 调用系统文件管理器和播放器
type System struct {
	soundDir string
	logger   *logrus.Logger
	goos     string
	start    func(name string, args ...string) error
}

// NewSystem soundDir 中放 finish.wav、error.wav
func NewSystem(soundDir string, logger *logrus.Logger) *System {
	return &System{
		soundDir: soundDir,
		logger:   logger,
		goos:     runtime.GOOS,
		start:    startDetached,
	}
}

func startDetached(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go cmd.Wait()
	return nil
}

// OpenFolder 在文件管理器中打开目录
func (s *System) OpenFolder(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}

	var name string
	switch s.goos {
	case "darwin":
		name = "open"
	case "windows":
		name = "explorer"
	default:
		name = "xdg-open"
	}

	if err := s.start(name, abs); err != nil {
		s.logger.WithError(err).WithField("dir", abs).Warn("Failed to open output folder")
		return err
	}
	return nil
}

// Cue 播放提示音，没有声音文件或播放器时响铃
func (s *System) Cue(c Cue) {
	wav := filepath.Join(s.soundDir, string(c)+".wav")
	if _, err := os.Stat(wav); err != nil {
		fmt.Fprint(os.Stderr, "\a")
		return
	}

	var err error
	switch s.goos {
	case "darwin":
		err = s.start("afplay", wav)
	case "windows":
		err = s.start("powershell", "-NoProfile", "-Command",
			fmt.Sprintf("(New-Object Media.SoundPlayer '%s').PlaySync()", wav))
	default:
		err = s.start("paplay", wav)
		if err != nil {
			err = s.start("aplay", "-q", wav)
		}
	}
	if err != nil {
		s.logger.WithError(err).WithField("cue", c).Debug("Failed to play cue")
		fmt.Fprint(os.Stderr, "\a")
	}
}
