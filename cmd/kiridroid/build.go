package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/kiridroid/kiridroid-go/internal/domain"
	"github.com/kiridroid/kiridroid-go/internal/pipeline"
	"github.com/kiridroid/kiridroid-go/internal/repository"
	"github.com/kiridroid/kiridroid-go/internal/service"
	"github.com/kiridroid/kiridroid-go/internal/worker"
)

type buildFlags struct {
	content     string
	icon        string
	packageID   string
	name        string
	archiveMode string
	strict      bool
	noInput     bool
	noHistory   bool
	noOpen      bool
	verbose     bool
}

func newBuildCmd(g *globalFlags) *cobra.Command {
	f := &buildFlags{}

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build a signed APK from a game folder",
		Long: `Build a signed APK from a game folder.

Missing inputs are asked for interactively unless --no-input is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd.Context(), g, f)
		},
	}

	cmd.Flags().StringVarP(&f.content, "content", "c", "", "game content folder")
	cmd.Flags().StringVarP(&f.icon, "icon", "i", "", "icon image (png, jpg, bmp, webp)")
	cmd.Flags().StringVarP(&f.packageID, "package", "p", "", "package id, e.g. com.example.mygame")
	cmd.Flags().StringVarP(&f.name, "name", "n", "", "app display name")
	cmd.Flags().StringVar(&f.archiveMode, "archive-mode", "", "archive rewrite: direct or staging")
	cmd.Flags().BoolVar(&f.strict, "strict-manifest", false, "fail when the launcher pattern is missing")
	cmd.Flags().BoolVar(&f.noInput, "no-input", false, "never prompt for missing inputs")
	cmd.Flags().BoolVar(&f.noHistory, "no-history", false, "do not record the build in the history database")
	cmd.Flags().BoolVar(&f.noOpen, "no-open", false, "do not open the output folder or play sounds")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "print full failure diagnostics")

	return cmd
}

func runBuild(ctx context.Context, g *globalFlags, f *buildFlags) error {
	a, err := loadApp(g)
	if err != nil {
		return err
	}
	if f.archiveMode != "" {
		a.cfg.Pipeline.ArchiveMode = f.archiveMode
	}
	if f.strict {
		a.cfg.Pipeline.ManifestStrictness = "fail"
	}
	if f.noOpen {
		a.cfg.Pipeline.OpenOutput = false
		a.cfg.Pipeline.Cue = false
	}

	req := domain.BuildRequest{
		ContentDir: f.content,
		IconFile:   f.icon,
		PackageID:  f.packageID,
		AppName:    f.name,
		Locale:     a.cfg.Locale,
	}
	if !f.noInput {
		if err := promptMissing(&req); err != nil {
			return err
		}
	}
	if err := req.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := newRenderer(os.Stdout, f.verbose)
	if f.noHistory {
		err = runDirect(ctx, a, req, out)
	} else {
		err = runRecorded(ctx, a, req, out)
	}
	if err == nil {
		return nil
	}

	if _, failed := out.result(); failed != nil {
		return errBuildFailed
	}
	return err
}

// runDirect 不记录历史，直接消费事件通道
func runDirect(ctx context.Context, a *app, req domain.BuildRequest, out *renderer) error {
	pipe, err := a.newPipeline(nil)
	if err != nil {
		return err
	}

	events := pipeline.NewChannelSink(64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range events.Events() {
			out.Emit(e)
		}
	}()

	_, err = pipe.Run(ctx, req, events)
	events.Close()
	<-done
	return err
}

// runRecorded 与服务端相同的路径：写入构建记录和工具调用记录
func runRecorded(ctx context.Context, a *app, req domain.BuildRequest, out *renderer) error {
	db, repo, err := a.openHistory()
	if err != nil {
		return err
	}
	defer closeDB(db)

	pipe, err := a.newPipeline(repository.NewInvocationRecorder(repo, a.logger))
	if err != nil {
		return err
	}

	// 在当前进程中同步执行，派发只负责登记
	svc := service.NewBuildService(repo, service.DispatcherFunc(func(context.Context, string) error { return nil }), a.logger)
	build, err := svc.Submit(ctx, req)
	if err != nil {
		return err
	}

	exec := worker.NewExecutor(repo, pipe, out, nil, a.logger)
	return exec.Execute(ctx, build.ID)
}

// promptMissing 逐项询问缺少的输入
func promptMissing(req *domain.BuildRequest) error {
	fields := []struct {
		label    string
		value    *string
		validate promptui.ValidateFunc
	}{
		{"Game folder", &req.ContentDir, validateDir},
		{"Icon file", &req.IconFile, validateFile},
		{"Package id (com.example.game)", &req.PackageID, validatePackageID},
		{"App name", &req.AppName, validateAppName},
	}

	for _, field := range fields {
		if strings.TrimSpace(*field.value) != "" {
			continue
		}
		prompt := promptui.Prompt{
			Label:    field.label,
			Validate: field.validate,
		}
		v, err := prompt.Run()
		if err != nil {
			if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
				return fmt.Errorf("input cancelled")
			}
			return err
		}
		*field.value = strings.TrimSpace(v)
	}
	return nil
}

func validateDir(s string) error {
	info, err := os.Stat(strings.TrimSpace(s))
	if err != nil || !info.IsDir() {
		return errors.New("not a folder")
	}
	return nil
}

func validateFile(s string) error {
	info, err := os.Stat(strings.TrimSpace(s))
	if err != nil || info.IsDir() {
		return errors.New("not a file")
	}
	return nil
}

// 单个字段复用请求的整体校验
func validatePackageID(s string) error {
	return domain.BuildRequest{ContentDir: "-", IconFile: "-", AppName: "a", PackageID: strings.TrimSpace(s)}.Validate()
}

func validateAppName(s string) error {
	return domain.BuildRequest{ContentDir: "-", IconFile: "-", PackageID: "a.b", AppName: strings.TrimSpace(s)}.Validate()
}
