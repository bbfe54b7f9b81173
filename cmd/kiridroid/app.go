package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/kiridroid/kiridroid-go/internal/config"
	"github.com/kiridroid/kiridroid-go/internal/desktop"
	"github.com/kiridroid/kiridroid-go/internal/pipeline"
	"github.com/kiridroid/kiridroid-go/internal/repository"
	"github.com/kiridroid/kiridroid-go/internal/toolchain"
)

const defaultConfigPath = "./configs/config.yaml"

// app 命令共享的依赖
type app struct {
	cfg    *config.Config
	logger *logrus.Logger
}

// loadApp 加载配置并初始化日志；控制台留给进度显示，日志只写事件日志
func loadApp(flags *globalFlags) (*app, error) {
	path := flags.configPath
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			path = defaultConfigPath
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if flags.locale != "" {
		cfg.Locale = flags.locale
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}

	logger := config.InitLogger(&cfg.Log)
	if cfg.Log.File != "" {
		if w, err := config.OpenEventLog(cfg.Log.File); err == nil {
			logger.SetOutput(w)
		} else {
			logger.SetOutput(os.Stderr)
			logger.SetLevel(logrus.WarnLevel)
		}
	} else {
		logger.SetOutput(os.Stderr)
		logger.SetLevel(logrus.WarnLevel)
	}

	return &app{cfg: cfg, logger: logger}, nil
}

// newPipeline 桌面环境：打开输出目录、播放提示音
func (a *app) newPipeline(recorder toolchain.Recorder) (*pipeline.Pipeline, error) {
	opts := []pipeline.Option{
		pipeline.WithHost(desktop.NewSystem(a.cfg.Pipeline.SoundDir, a.logger)),
	}
	if recorder != nil {
		opts = append(opts, pipeline.WithRecorder(recorder))
	}
	return pipeline.New(a.cfg, toolchain.NewExecRunner(), a.logger, opts...)
}

// openHistory 构建历史数据库
func (a *app) openHistory() (*gorm.DB, repository.BuildRepository, error) {
	db, err := repository.InitDB(&a.cfg.Database, a.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open build history: %w", err)
	}
	return db, repository.NewBuildRepository(db, a.logger), nil
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}
