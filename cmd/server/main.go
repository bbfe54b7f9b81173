package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/kiridroid/kiridroid-go/internal/api"
	"github.com/kiridroid/kiridroid-go/internal/api/handlers"
	"github.com/kiridroid/kiridroid-go/internal/config"
	"github.com/kiridroid/kiridroid-go/internal/domain"
	"github.com/kiridroid/kiridroid-go/internal/middleware"
	"github.com/kiridroid/kiridroid-go/internal/pipeline"
	"github.com/kiridroid/kiridroid-go/internal/queue"
	"github.com/kiridroid/kiridroid-go/internal/repository"
	"github.com/kiridroid/kiridroid-go/internal/retry"
	"github.com/kiridroid/kiridroid-go/internal/service"
	"github.com/kiridroid/kiridroid-go/internal/toolchain"
	"github.com/kiridroid/kiridroid-go/internal/watcher"
	"github.com/kiridroid/kiridroid-go/internal/worker"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const statsInterval = 15 * time.Second

func main() {
	fmt.Printf("Kiridroid Build Server\n")
	fmt.Printf("Version: %s\n", Version)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Git Commit: %s\n\n", GitCommit)

	// 1. 加载配置
	configPath := "./configs/config.yaml"
	if len(os.Args) > 2 && os.Args[1] == "--config" {
		configPath = os.Args[2]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. 初始化日志
	logger := config.InitLogger(&cfg.Log)
	logger.Infof("Starting Kiridroid build server %s", Version)
	logger.Infof("Config loaded from: %s", configPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. 初始化数据库
	db, err := repository.InitDB(&cfg.Database, logger)
	if err != nil {
		logger.Fatalf("Failed to init database: %v", err)
	}
	logger.WithField("type", cfg.Database.Type).Info("Database connected successfully")
	buildRepo := repository.NewBuildRepository(db, logger)

	// 4. 指标
	metrics := middleware.NewPrometheusMetrics(logger, "kiridroid")
	memMonitor := middleware.NewMemoryMonitor(logger, metrics, 30*time.Second)
	memMonitor.Start()
	defer memMonitor.Stop()

	// 5. 流水线：每次外部调用写入数据库并计入指标
	recorder := worker.InvocationMetrics(repository.NewInvocationRecorder(buildRepo, logger), metrics)
	pipe, err := pipeline.New(cfg, toolchain.NewExecRunner(), logger, pipeline.WithRecorder(recorder))
	if err != nil {
		logger.Fatalf("Failed to init pipeline: %v", err)
	}
	if err := pipe.Tools().Preflight(); err != nil {
		// 不阻止启动，构建时会以 missing_prerequisite 失败
		logger.WithError(err).Warn("Toolchain preflight failed")
	}

	// 6. 单 worker 池
	hub := handlers.NewProgressHub(logger)
	executor := worker.NewExecutor(buildRepo, pipe, hub, metrics, logger)
	pool := worker.NewPool(cfg.Worker.QueueSize, executor, logger)
	// 不随信号取消，关闭时等待当前构建完成
	pool.Start(context.Background())

	// 7. 派发方式：RabbitMQ 或本地队列
	var dispatcher service.Dispatcher = pool
	var mq *queue.RabbitMQ
	var consumer *queue.Consumer
	if cfg.RabbitMQ.Enabled {
		mq, err = connectRabbitMQ(ctx, &cfg.RabbitMQ, logger)
		if err != nil {
			logger.Fatalf("Failed to init RabbitMQ: %v", err)
		}
		dispatcher = queue.NewProducer(mq, logger)

		consumer = queue.NewConsumer(mq, func(ctx context.Context, buildID string) error {
			return pool.SubmitAndWait(ctx, &worker.Task{BuildID: buildID})
		}, logger)
		if err := consumer.Start(ctx); err != nil {
			logger.Fatalf("Failed to start consumer: %v", err)
		}
	}

	buildService := service.NewBuildService(buildRepo, countingDispatcher(dispatcher, metrics), logger)

	// 8. 恢复中断和排队中的构建
	if n, err := buildService.Recover(ctx); err != nil {
		logger.WithError(err).Warn("Failed to recover builds")
	} else if n > 0 {
		logger.WithField("count", n).Info("Queued builds redispatched")
	}

	// 9. 收件箱监控
	var inbox *watcher.InboxWatcher
	if cfg.Watcher.Enabled {
		inbox, err = watcher.NewInboxWatcher(cfg.Watcher.Dir, func(ctx context.Context, req domain.BuildRequest) (string, error) {
			build, err := buildService.Submit(ctx, req)
			if err != nil {
				return "", err
			}
			return build.ID, nil
		}, logger)
		if err != nil {
			logger.Fatalf("Failed to init inbox watcher: %v", err)
		}
		if err := inbox.Start(ctx); err != nil {
			logger.Fatalf("Failed to start inbox watcher: %v", err)
		}
	}

	go reportStats(ctx, pool, mq, db, metrics, logger)

	// 10. HTTP 服务
	router := api.SetupRouter(cfg, logger, api.Dependencies{
		Builds:     buildService,
		Hub:        hub,
		Tools:      pipe.Tools(),
		Metrics:    metrics,
		Memory:     memMonitor,
		AppVersion: Version,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.WithField("port", cfg.Server.Port).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server error: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("HTTP server shutdown failed")
	}

	if inbox != nil {
		inbox.Stop()
	}
	if consumer != nil {
		consumer.Stop()
	}
	// 等待当前构建结束
	pool.Stop()
	if mq != nil {
		mq.Close()
	}

	logger.Info("Server exited")
}

// connectRabbitMQ 启动时 broker 可能还没就绪
func connectRabbitMQ(ctx context.Context, cfg *config.RabbitMQConfig, logger *logrus.Logger) (*queue.RabbitMQ, error) {
	return retry.DoWithResult(ctx, &retry.Config{
		Operation:       "connect rabbitmq",
		MaxAttempts:     5,
		InitialInterval: 2 * time.Second,
		MaxInterval:     30 * time.Second,
		Strategy:        retry.StrategyExponential,
		Logger:          logger,
	}, func(context.Context) (*queue.RabbitMQ, error) {
		return queue.NewRabbitMQ(cfg, logger)
	})
}

// countingDispatcher 派发成功后计入排队指标
func countingDispatcher(next service.Dispatcher, metrics *middleware.PrometheusMetrics) service.Dispatcher {
	return service.DispatcherFunc(func(ctx context.Context, buildID string) error {
		if err := next.Dispatch(ctx, buildID); err != nil {
			return err
		}
		metrics.RecordBuildQueued()
		return nil
	})
}

// reportStats 定期同步 worker 池和连接池指标
func reportStats(ctx context.Context, pool *worker.Pool, mq *queue.RabbitMQ, db *gorm.DB, metrics *middleware.PrometheusMetrics, logger *logrus.Logger) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			size, active, queued := pool.Stats()
			if mq != nil {
				if depth, err := mq.QueueDepth(); err == nil {
					queued += depth
				} else {
					logger.WithError(err).Debug("Failed to inspect build queue")
				}
			}
			metrics.UpdateWorkerPoolStats(size, active, queued)

			if sqlDB, err := db.DB(); err == nil {
				s := sqlDB.Stats()
				metrics.UpdateDBStats(s.OpenConnections, s.Idle, s.InUse)
			}
		}
	}
}
