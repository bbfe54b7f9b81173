package toolchain

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/kiridroid/kiridroid-go/internal/config"
)

// VersionProbeTimeout apktool --version 的超时
const VersionProbeTimeout = 10 * time.Second

// signerVersions 按顺序查找的 build-tools 子目录，"" 为根目录
var signerVersions = []string{"35.0.1", "36.0.0", ""}

// MissingError 必需的工具或文件不存在
type MissingError struct {
	What string
	Path string
}

func (e *MissingError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s not found", e.What)
	}
	return fmt.Sprintf("%s not found: %s", e.What, e.Path)
}

// Toolchain 外部工具的命令模板。路径和 JAVA_HOME 来自配置，只写入单次命令的环境
type Toolchain struct {
	cfg    config.ToolchainConfig
	runner Runner
	goos   string
}

func New(cfg config.ToolchainConfig, runner Runner) *Toolchain {
	if cfg.MaxHeap == "" {
		cfg.MaxHeap = "4g"
	}
	return &Toolchain{cfg: cfg, runner: runner, goos: runtime.GOOS}
}

func (t *Toolchain) exe(name string) string {
	if t.goos == "windows" {
		return name + ".exe"
	}
	return name
}

// Java java 可执行文件路径
func (t *Toolchain) Java() string {
	if t.cfg.JavaBin != "" {
		return t.cfg.JavaBin
	}
	if t.cfg.JavaHome != "" {
		return filepath.Join(t.cfg.JavaHome, "bin", t.exe("java"))
	}
	return "java"
}

// Keytool keytool 路径：显式配置优先，其次 java_home/bin
func (t *Toolchain) Keytool() string {
	bin := t.cfg.KeytoolBin
	if bin != "" && bin != "keytool" {
		return bin
	}
	if t.cfg.JavaHome != "" {
		p := filepath.Join(t.cfg.JavaHome, "bin", t.exe("keytool"))
		if fileExists(p) {
			return p
		}
	}
	return "keytool"
}

// javaEnv 包装脚本需要的 JAVA_HOME 和 PATH
func (t *Toolchain) javaEnv() []string {
	if t.cfg.JavaHome == "" {
		return nil
	}
	bin := filepath.Join(t.cfg.JavaHome, "bin")
	return []string{
		"JAVA_HOME=" + t.cfg.JavaHome,
		"PATH=" + bin + string(os.PathListSeparator) + os.Getenv("PATH"),
	}
}

func (t *Toolchain) jarArgs(jar string, args ...string) []string {
	return append([]string{"-Xmx" + t.cfg.MaxHeap, "-jar", jar}, args...)
}

// Preflight 调用前检查 java 和 apktool 是否存在
func (t *Toolchain) Preflight() error {
	if !fileExists(t.cfg.ApktoolJar) {
		return &MissingError{What: "apktool jar", Path: t.cfg.ApktoolJar}
	}
	if err := lookBinary(t.Java()); err != nil {
		return &MissingError{What: "java", Path: t.Java()}
	}
	return nil
}

// run 执行命令，非零退出码转换为 *ToolError
func (t *Toolchain) run(ctx context.Context, cmd Command) (*Result, error) {
	res, err := t.runner.Run(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return res, &ToolError{Tool: cmd.Tool, ExitCode: res.ExitCode, Stderr: res.StderrText()}
	}
	return res, nil
}

// Decode apktool d -f，总是覆盖旧的输出
func (t *Toolchain) Decode(ctx context.Context, apk, outDir string) (*Result, error) {
	return t.run(ctx, Command{
		Tool: "apktool",
		Path: t.Java(),
		Args: t.jarArgs(t.cfg.ApktoolJar, "d", "-f", apk, "-o", outDir),
	})
}

// Build apktool b
func (t *Toolchain) Build(ctx context.Context, dir, outAPK string) (*Result, error) {
	return t.run(ctx, Command{
		Tool: "apktool",
		Path: t.Java(),
		Args: t.jarArgs(t.cfg.ApktoolJar, "b", dir, "-o", outAPK),
	})
}

// Version 查询 apktool 版本，失败时返回 "unknown"
func (t *Toolchain) Version(ctx context.Context) (string, error) {
	res, err := t.run(ctx, Command{
		Tool:    "apktool",
		Path:    t.Java(),
		Args:    []string{"-jar", t.cfg.ApktoolJar, "--version"},
		Timeout: VersionProbeTimeout,
	})
	if err != nil {
		return "unknown", err
	}
	v := strings.TrimSpace(res.StdoutText())
	if v == "" {
		return "unknown", errors.New("apktool printed no version")
	}
	return v, nil
}

// HasArchiver 是否配置了外部 7z
func (t *Toolchain) HasArchiver() bool {
	return t.cfg.ArchiverBin != ""
}

// Pack 在 dir 中执行 `7z a -tzip dest .`
func (t *Toolchain) Pack(ctx context.Context, dir, dest string) error {
	if !t.HasArchiver() {
		return &MissingError{What: "archiver"}
	}
	_, err := t.run(ctx, Command{
		Tool: "7z",
		Path: t.cfg.ArchiverBin,
		Args: []string{"a", "-tzip", dest, "."},
		Dir:  dir,
	})
	return err
}

// SignerForm apksigner 的调用方式
type SignerForm string

const (
	SignerWrapper SignerForm = "wrapper" // apksigner / apksigner.bat
	SignerJar     SignerForm = "jar"     // java -jar apksigner.jar
)

// Signer 定位到的 apksigner
type Signer struct {
	Form SignerForm
	Path string
}

// LocateSigner 按 35.0.1、36.0.0、根目录的顺序查找，包装脚本优先于 jar
func (t *Toolchain) LocateSigner() (Signer, error) {
	wrapper := "apksigner"
	if t.goos == "windows" {
		wrapper = "apksigner.bat"
	}

	for _, v := range signerVersions {
		dir := filepath.Join(t.cfg.BuildToolsDir, v)

		if p := filepath.Join(dir, wrapper); fileExists(p) {
			return Signer{Form: SignerWrapper, Path: p}, nil
		}

		jar := filepath.Join(dir, "lib", "apksigner.jar")
		if v == "" {
			jar = filepath.Join(dir, "apksigner.jar")
		}
		if fileExists(jar) {
			return Signer{Form: SignerJar, Path: jar}, nil
		}
	}

	return Signer{}, &MissingError{What: "apksigner", Path: t.cfg.BuildToolsDir}
}

// SignOptions 签名参数
type SignOptions struct {
	Keystore string
	Alias    string
	Password string
	Out      string
	In       string
}

// Sign apksigner sign
func (t *Toolchain) Sign(ctx context.Context, signer Signer, opts SignOptions) (*Result, error) {
	args := []string{
		"sign",
		"--ks", opts.Keystore,
		"--ks-key-alias", opts.Alias,
		"--ks-pass", "pass:" + opts.Password,
		"--key-pass", "pass:" + opts.Password,
		"--out", opts.Out,
		opts.In,
	}

	cmd := Command{Tool: "apksigner"}
	switch signer.Form {
	case SignerJar:
		cmd.Path = t.Java()
		cmd.Args = t.jarArgs(signer.Path, args...)
	default:
		cmd.Env = t.javaEnv()
		if t.goos == "windows" {
			cmd.Path = "cmd"
			cmd.Args = append([]string{"/c", signer.Path}, args...)
		} else {
			cmd.Path = signer.Path
			cmd.Args = args
		}
	}

	return t.run(ctx, cmd)
}

// KeyOptions keytool -genkeypair 参数
type KeyOptions struct {
	Keystore string
	Alias    string
	Password string
	DName    string
}

// GenerateKey RSA 2048，有效期 10000 天
func (t *Toolchain) GenerateKey(ctx context.Context, opts KeyOptions) (*Result, error) {
	return t.run(ctx, Command{
		Tool: "keytool",
		Path: t.Keytool(),
		Args: []string{
			"-genkeypair", "-v",
			"-keystore", opts.Keystore,
			"-alias", opts.Alias,
			"-keyalg", "RSA",
			"-keysize", "2048",
			"-validity", "10000",
			"-storepass", opts.Password,
			"-keypass", opts.Password,
			"-dname", opts.DName,
		},
		Env: t.javaEnv(),
	})
}

func fileExists(p string) bool {
	if p == "" {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}

// lookBinary 带路径分隔符时检查文件，否则在 PATH 中查找
func lookBinary(bin string) error {
	if strings.ContainsRune(bin, os.PathSeparator) || strings.Contains(bin, "/") {
		if !fileExists(bin) {
			return os.ErrNotExist
		}
		return nil
	}
	_, err := exec.LookPath(bin)
	return err
}
