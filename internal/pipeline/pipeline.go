package pipeline

import (
	"context"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/kiridroid/kiridroid-go/internal/archive"
	"github.com/kiridroid/kiridroid-go/internal/assets"
	"github.com/kiridroid/kiridroid-go/internal/config"
	"github.com/kiridroid/kiridroid-go/internal/desktop"
	"github.com/kiridroid/kiridroid-go/internal/dex"
	"github.com/kiridroid/kiridroid-go/internal/domain"
	"github.com/kiridroid/kiridroid-go/internal/i18n"
	"github.com/kiridroid/kiridroid-go/internal/icon"
	"github.com/kiridroid/kiridroid-go/internal/keystore"
	"github.com/kiridroid/kiridroid-go/internal/manifest"
	"github.com/kiridroid/kiridroid-go/internal/nativelib"
	"github.com/kiridroid/kiridroid-go/internal/toolchain"
	"github.com/kiridroid/kiridroid-go/internal/verify"
)

// 归档改写方式
const (
	ArchiveModeDirect  = "direct"
	ArchiveModeStaging = "staging"
)

// Option 可选依赖
type Option func(*Pipeline)

// WithRecorder 持久化每次外部调用
func WithRecorder(r toolchain.Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

// WithHost 打开输出目录和提示音
func WithHost(h desktop.Host) Option {
	return func(p *Pipeline) { p.host = h }
}

func WithCatalog(c *i18n.Catalog) Option {
	return func(p *Pipeline) { p.catalog = c }
}

// Pipeline 把基础 APK 重新打包为带游戏内容的签名 APK。同一时间只执行一个构建
type Pipeline struct {
	cfg      *config.Config
	logger   *logrus.Logger
	recorder toolchain.Recorder
	host     desktop.Host
	catalog  *i18n.Catalog

	tools     *toolchain.Toolchain
	keystore  *keystore.Manager
	assets    *assets.Injector
	icon      *icon.Injector
	manifest  *manifest.Patcher
	dex       *dex.Injector
	nativelib *nativelib.Injector
	verifier  *verify.Verifier

	running atomic.Bool
}

func New(cfg *config.Config, runner toolchain.Runner, logger *logrus.Logger, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		cfg:     cfg,
		logger:  logger,
		host:    desktop.Noop{},
		catalog: nil,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.catalog == nil {
		p.catalog = i18n.New()
	}

	p.tools = toolchain.New(cfg.Toolchain, toolchain.WithLogging(runner, logger, p.recorder))

	provider, err := keystore.NewProvider(cfg.Keystore)
	if err != nil {
		return nil, err
	}
	p.keystore = keystore.NewManager(cfg.Keystore.Path, cfg.Keystore.DName, provider, p.tools, logger)

	editor := p.newEditor()
	p.assets = assets.NewInjector(logger)
	p.icon = icon.NewInjector(logger)
	p.manifest = manifest.NewPatcher(cfg.Pipeline.EntryActivity, manifest.Strictness(cfg.Pipeline.ManifestStrictness), logger)
	p.dex = dex.NewInjector(editor, cfg.Paths.WorkDir, logger)
	p.nativelib = nativelib.NewInjector(cfg.NativeLibs, editor, logger)
	p.verifier = verify.NewVerifier(logger)

	return p, nil
}

// newEditor staging 模式下配置了 7z 就用 7z，否则进程内打包
func (p *Pipeline) newEditor() archive.Editor {
	if p.cfg.Pipeline.ArchiveMode != ArchiveModeStaging {
		return archive.NewDirectEditor(p.logger)
	}
	var packer archive.Packer
	if p.tools.HasArchiver() {
		packer = p.tools
	}
	return archive.NewStagingEditor(packer, p.cfg.Paths.WorkDir, p.logger)
}

// Tools 外部工具（版本查询等）
func (p *Pipeline) Tools() *toolchain.Toolchain {
	return p.tools
}

// Keystore 签名 keystore
func (p *Pipeline) Keystore() *keystore.Manager {
	return p.keystore
}

// Running 是否有构建在执行
func (p *Pipeline) Running() bool {
	return p.running.Load()
}

// Run 按顺序执行全部阶段，返回签名后的 APK 路径；失败时 err 为 *BuildError
func (p *Pipeline) Run(ctx context.Context, req domain.BuildRequest, sink Sink) (string, error) {
	if !p.running.CompareAndSwap(false, true) {
		return "", ErrBuildInProgress
	}
	defer p.running.Store(false)

	if sink == nil {
		sink = Discard
	}

	r := &run{
		p:       p,
		req:     req,
		sink:    sink,
		buildID: toolchain.BuildIDFromContext(ctx),
		printer: p.catalog.Printer(localeOf(req, p.cfg)),
		phase:   PhasePreflight,
	}
	return r.execute(ctx)
}

func localeOf(req domain.BuildRequest, cfg *config.Config) string {
	if req.Locale != "" {
		return req.Locale
	}
	return cfg.Locale
}
