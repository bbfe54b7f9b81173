package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kiridroid/kiridroid-go/internal/archive"
	"github.com/kiridroid/kiridroid-go/internal/desktop"
	"github.com/kiridroid/kiridroid-go/internal/domain"
	"github.com/kiridroid/kiridroid-go/internal/i18n"
	"github.com/kiridroid/kiridroid-go/internal/toolchain"
)

// run 一次构建的状态
type run struct {
	p       *Pipeline
	req     domain.BuildRequest
	sink    Sink
	buildID string
	printer *i18n.Printer

	phase    Phase
	progress int
	ws       *Workspace
	signed   string
	started  time.Time
}

func (r *run) log() *logrus.Entry {
	entry := r.p.logger.WithField("phase", r.phase)
	if r.buildID != "" {
		entry = entry.WithField("build_id", r.buildID)
	}
	return entry
}

// begin 阶段开始前发出状态和进度
func (r *run) begin(phase Phase) {
	r.phase = phase
	msg := r.printer.Status(string(phase))
	r.sink.Emit(StatusChanged{BuildID: r.buildID, Phase: phase, Message: msg})

	if delta := Weight(phase); delta > 0 {
		r.progress += delta
		if r.progress > TotalProgress {
			r.progress = TotalProgress
		}
		r.sink.Emit(ProgressAdvanced{BuildID: r.buildID, Phase: phase, Delta: delta, Total: r.progress})
	}
	r.log().Info(msg)
}

func (r *run) execute(ctx context.Context) (artifact string, err error) {
	r.started = time.Now()

	defer func() {
		if v := recover(); v != nil {
			r.log().WithField("stack", string(debug.Stack())).Error("Recovered from panic")
			artifact, err = "", r.fail(&PanicError{Value: v})
		}
		if r.ws != nil {
			r.ws.Release()
		}
	}()

	if err := r.preflight(); err != nil {
		return "", r.fail(err)
	}

	ws, err := NewWorkspace(r.p.cfg.Paths.WorkDir, r.p.logger)
	if err != nil {
		return "", r.fail(err)
	}
	r.ws = ws

	steps := []struct {
		phase Phase
		fn    func(context.Context) error
	}{
		{PhaseKeystore, r.ensureKeystore},
		{PhaseDecompile, r.decompile},
		{PhaseAssets, r.injectAssets},
		{PhaseIcon, r.replaceIcon},
		{PhaseManifest, r.patchManifest},
		{PhaseRebuild, r.rebuild},
		{PhaseDex, r.injectDex},
		{PhaseNativeLibs, r.injectNativeLibs},
		{PhaseValidate, r.validate},
		{PhaseSign, r.sign},
		{PhaseVerify, r.verify},
	}

	for _, s := range steps {
		r.begin(s.phase)
		if err := s.fn(ctx); err != nil {
			return "", r.fail(err)
		}
	}

	return r.succeed()
}

func (r *run) decompiledDir() string { return r.ws.Path("decompiled") }
func (r *run) rebuiltAPK() string    { return r.ws.Path("rebuilt.apk") }

// preflight 校验请求和必需文件，不调用任何外部工具
func (r *run) preflight() error {
	if err := r.req.Validate(); err != nil {
		return err
	}

	if info, err := os.Stat(r.req.ContentDir); err != nil || !info.IsDir() {
		return &toolchain.MissingError{What: "content directory", Path: r.req.ContentDir}
	}
	if info, err := os.Stat(r.req.IconFile); err != nil || info.IsDir() {
		return &toolchain.MissingError{What: "icon file", Path: r.req.IconFile}
	}
	if info, err := os.Stat(r.p.cfg.Paths.BaseAPK); err != nil || info.IsDir() {
		return &toolchain.MissingError{What: "base APK", Path: r.p.cfg.Paths.BaseAPK}
	}
	return r.p.tools.Preflight()
}

func (r *run) ensureKeystore(ctx context.Context) error {
	return r.p.keystore.Ensure(ctx)
}

func (r *run) decompile(ctx context.Context) error {
	out := r.decompiledDir()
	if _, err := r.p.tools.Decode(ctx, r.p.cfg.Paths.BaseAPK, out); err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(out, "AndroidManifest.xml")); err != nil {
		return &IntegrityError{Path: out, Reason: "decompiled tree has no AndroidManifest.xml"}
	}
	return nil
}

func (r *run) injectAssets(context.Context) error {
	_, err := r.p.assets.Inject(r.req.ContentDir, filepath.Join(r.decompiledDir(), "assets"))
	return err
}

func (r *run) replaceIcon(ctx context.Context) error {
	n, err := r.p.icon.Replace(ctx, filepath.Join(r.decompiledDir(), "res"), r.req.IconFile)
	if err != nil {
		return err
	}
	r.log().WithField("replaced", n).Info("Launcher icons replaced")
	return nil
}

func (r *run) patchManifest(context.Context) error {
	report, err := r.p.manifest.Patch(filepath.Join(r.decompiledDir(), "AndroidManifest.xml"), r.req.PackageID, r.req.AppName)
	if err != nil {
		return err
	}
	r.log().WithFields(logrus.Fields{
		"package_lines": report.PackageLines,
		"label_lines":   report.LabelLines,
		"activity":      report.ActivityReplaced,
	}).Debug("Manifest patched")
	return nil
}

func (r *run) rebuild(ctx context.Context) error {
	if _, err := r.p.tools.Build(ctx, r.decompiledDir(), r.rebuiltAPK()); err != nil {
		return err
	}
	if _, err := os.Stat(r.rebuiltAPK()); err != nil {
		return &IntegrityError{Path: r.rebuiltAPK(), Reason: "rebuilt APK was not produced"}
	}
	return nil
}

func (r *run) injectDex(ctx context.Context) error {
	_, err := r.p.dex.Inject(ctx, r.p.cfg.Paths.BaseAPK, r.rebuiltAPK())
	return err
}

func (r *run) injectNativeLibs(ctx context.Context) error {
	return r.p.nativelib.Inject(ctx, r.rebuiltAPK())
}

// validate 大小低于阈值视为截断或损坏
func (r *run) validate(context.Context) error {
	info, err := os.Stat(r.rebuiltAPK())
	if err != nil {
		return &IntegrityError{Path: r.rebuiltAPK(), Reason: "rebuilt APK not found"}
	}
	if minSize := r.p.cfg.Pipeline.MinRebuiltSize; info.Size() < minSize {
		return &IntegrityError{
			Path:   r.rebuiltAPK(),
			Reason: fmt.Sprintf("rebuilt APK may be damaged, size %d bytes is below %d", info.Size(), minSize),
		}
	}
	return nil
}

func (r *run) sign(ctx context.Context) error {
	signer, err := r.p.tools.LocateSigner()
	if err != nil {
		return err
	}
	creds, err := r.p.keystore.Credentials()
	if err != nil {
		return err
	}

	outDir := r.p.cfg.Paths.OutputDir
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	r.signed = filepath.Join(outDir, r.req.SignedFileName())
	// 旧产物不能被当作本次的结果
	if err := os.Remove(r.signed); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove previous artifact: %w", err)
	}

	_, err = r.p.tools.Sign(ctx, signer, toolchain.SignOptions{
		Keystore: r.p.keystore.Path(),
		Alias:    creds.Alias,
		Password: creds.Password,
		Out:      r.signed,
		In:       r.rebuiltAPK(),
	})
	return err
}

func (r *run) verify(context.Context) error {
	if _, err := os.Stat(r.signed); err != nil {
		return &IntegrityError{Path: r.signed, Reason: "signed APK was not created"}
	}
	if err := archive.CheckIntegrity(r.signed); err != nil {
		return err
	}
	if r.p.cfg.Pipeline.VerifyIdentity {
		if _, err := r.p.verifier.Verify(r.signed, r.req.PackageID, r.req.AppName); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) succeed() (string, error) {
	r.phase = PhaseDone
	r.sink.Emit(StatusChanged{BuildID: r.buildID, Phase: PhaseDone, Message: r.printer.Status(string(PhaseDone))})
	if r.progress < TotalProgress {
		delta := TotalProgress - r.progress
		r.progress = TotalProgress
		r.sink.Emit(ProgressAdvanced{BuildID: r.buildID, Phase: PhaseDone, Delta: delta, Total: r.progress})
	}

	var size int64
	if info, err := os.Stat(r.signed); err == nil {
		size = info.Size()
	}

	r.log().WithFields(logrus.Fields{
		"artifact": r.signed,
		"size":     size,
		"duration": time.Since(r.started),
	}).Info("Build succeeded")

	r.sink.Emit(Succeeded{
		BuildID:      r.buildID,
		ArtifactPath: r.signed,
		ArtifactSize: size,
		Message:      r.printer.Succeeded(r.signed),
	})

	if r.p.cfg.Pipeline.Cue {
		r.p.host.Cue(desktop.CueFinish)
	}
	r.purgeOutput()
	if r.p.cfg.Pipeline.OpenOutput {
		r.p.host.OpenFolder(r.p.cfg.Paths.OutputDir)
	}

	return r.signed, nil
}

// purgeOutput 删除输出目录中的非 .apk 文件
func (r *run) purgeOutput() {
	dir := r.p.cfg.Paths.OutputDir
	entries, err := os.ReadDir(dir)
	if err != nil {
		r.log().WithError(err).Warn("Failed to list output dir")
		return
	}
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".apk") {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if err := os.RemoveAll(p); err != nil {
			r.log().WithError(err).WithField("path", p).Warn("Failed to remove temporary file")
		}
	}
}

// fail 记录完整诊断、发出 Failed 事件、删除不完整的产物
func (r *run) fail(cause error) error {
	kind := Classify(cause)
	be := &BuildError{Phase: r.phase, Kind: kind, Err: cause}

	r.log().WithFields(logrus.Fields{
		"kind":     kind,
		"duration": time.Since(r.started),
	}).WithError(cause).Error("Build failed")

	if r.signed != "" {
		if err := os.Remove(r.signed); err != nil && !os.IsNotExist(err) {
			r.log().WithError(err).WithField("artifact", r.signed).Warn("Failed to remove partial artifact")
		}
	}

	msg := r.printer.Failed(string(r.phase), string(kind))
	if kind == domain.FailureKindInternal {
		msg = r.printer.Unexpected(cause.Error())
	}
	r.sink.Emit(Failed{
		BuildID: r.buildID,
		Phase:   r.phase,
		Kind:    kind,
		Message: msg,
		Detail:  cause.Error(),
	})

	if r.p.cfg.Pipeline.Cue {
		r.p.host.Cue(desktop.CueError)
	}
	return be
}
