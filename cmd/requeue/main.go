package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/kiridroid/kiridroid-go/internal/config"
	"github.com/kiridroid/kiridroid-go/internal/domain"
	"github.com/kiridroid/kiridroid-go/internal/queue"
	"github.com/kiridroid/kiridroid-go/internal/repository"
	"github.com/kiridroid/kiridroid-go/internal/service"
)

// requeue 把失败的构建重新投递到 RabbitMQ，由运行中的服务端执行
func main() {
	configPath := flag.String("config", "./configs/config.yaml", "config file")
	kind := flag.String("kind", "", "only rerun builds with this failure kind, e.g. tool_failure")
	dryRun := flag.Bool("dry-run", false, "list the builds without requeueing them")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	logger := config.InitLogger(&cfg.Log)

	db, err := repository.InitDB(&cfg.Database, logger)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	repo := repository.NewBuildRepository(db, logger)
	ctx := context.Background()

	// 先收集再重置，避免分页随状态变化
	var failed []*domain.Build
	for page := 1; ; page++ {
		builds, total, err := repo.List(ctx, repository.ListFilter{Page: page, PageSize: 100, Status: string(domain.BuildStatusFailed)})
		if err != nil {
			log.Fatalf("Failed to query failed builds: %v", err)
		}
		for _, b := range builds {
			if *kind == "" || string(b.FailureKind) == *kind {
				failed = append(failed, b)
			}
		}
		if len(builds) == 0 || int64(page*100) >= total {
			break
		}
	}

	fmt.Printf("找到 %d 个失败构建\n", len(failed))
	if *dryRun {
		for _, b := range failed {
			fmt.Printf("  %s  %-30s  %s: %s\n", b.ID, b.PackageID, b.FailureKind, b.ErrorMessage)
		}
		return
	}

	mq, err := queue.NewRabbitMQ(&cfg.RabbitMQ, logger)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer mq.Close()

	svc := service.NewBuildService(repo, queue.NewProducer(mq, logger), logger)

	successCount := 0
	for _, b := range failed {
		if _, err := svc.Rerun(ctx, b.ID); err != nil {
			log.Printf("❌ Failed to requeue build %s: %v", b.ID, err)
			continue
		}
		successCount++
	}

	fmt.Printf("\n✅ 成功重新入队 %d/%d 个构建\n", successCount, len(failed))
}
