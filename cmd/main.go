package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fyerfyer/doc-ingest/api"
	"github.com/fyerfyer/doc-ingest/api/handler"
	"github.com/fyerfyer/doc-ingest/api/middleware"
	appconfig "github.com/fyerfyer/doc-ingest/config"
	"github.com/fyerfyer/doc-ingest/internal/cache"
	"github.com/fyerfyer/doc-ingest/internal/database"
	"github.com/fyerfyer/doc-ingest/internal/repository"
	"github.com/fyerfyer/doc-ingest/internal/services"
	"github.com/fyerfyer/doc-ingest/pkg/storage"
	"github.com/fyerfyer/doc-ingest/pkg/taskqueue"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// 命令行选项，非零值覆盖配置文件
type flags struct {
	ConfigFile string // 配置文件路径
	Port       int    // 服务端口
	Mode       string // 运行模式
	NoWorker   bool   // 不在进程内启动工作者
}

func main() {
	opts := parseFlags()

	cfg, err := appconfig.Load(opts.ConfigFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyFlags(cfg, opts)

	gin.SetMode(cfg.Server.Mode)

	// 初始化日志
	logger := middleware.ConfigureLogger(middleware.LogConfig(cfg.Log))
	logger.Info("Starting document ingestion service...")

	// 初始化数据库
	if err := database.Setup(&cfg.Database, logger); err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	// 创建文件存储服务
	fileStorage, err := storage.New(cfg.Storage)
	if err != nil {
		logger.Fatalf("Failed to initialize storage: %v", err)
	}

	serviceOpts := []services.IngestOption{
		services.WithLogger(logger),
		services.WithDefaultSplitter(cfg.Splitter.SplitterConfig),
		services.WithWorkers(cfg.Splitter.Workers),
		services.WithTimeout(cfg.Splitter.Timeout),
	}

	// 区间缓存
	if cfg.Cache.Enable {
		spanCache, err := cache.NewCache(cfg.Cache.Config)
		if err != nil {
			logger.Fatalf("Failed to initialize cache: %v", err)
		}
		if spanCache != nil {
			serviceOpts = append(serviceOpts, services.WithSpanCache(spanCache, cfg.Cache.DefaultTTL))
			logger.WithField("type", cfg.Cache.Type).Info("Span cache enabled")
		}
	}

	// 任务队列
	var queue taskqueue.Queue
	repo := repository.NewJobRepository()
	if cfg.Queue.Enable {
		queue, err = setupTaskQueue(cfg, logger)
		if err != nil {
			logger.Fatalf("Failed to initialize task queue: %v", err)
		}
		defer queue.Close()
		repo = repository.NewJobRepositoryWithQueue(database.MustDB(), queue)
		serviceOpts = append(serviceOpts, services.WithTaskQueue(queue))
		logger.Info("Async batch splitting enabled")
	}

	ingestService := services.NewIngestService(fileStorage, repo, serviceOpts...)

	// 进程内工作者
	if queue != nil && cfg.Queue.Worker && !opts.NoWorker {
		redisQueue, ok := queue.(*taskqueue.RedisQueue)
		if !ok {
			logger.Fatal("In-process worker requires the redis queue")
		}
		worker := taskqueue.NewRedisWorker(redisQueue, &cfg.Queue.Config)
		worker.RegisterHandler(taskqueue.TaskSplitBatch, ingestService)
		if err := worker.Start(); err != nil {
			logger.Fatalf("Failed to start worker: %v", err)
		}
		defer worker.Stop()
		logger.WithField("concurrency", cfg.Queue.Concurrency).Info("Task worker started")
	}

	// 初始化API处理器并设置路由
	r := api.SetupRouter(
		handler.NewSplitHandler(ingestService),
		handler.NewIngestHandler(ingestService, fileStorage),
		handler.NewTaskHandler(ingestService),
	)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 优雅关闭
	go func() {
		logger.Infof("Server is running on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 等待终止信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited")
}

// parseFlags 解析命令行参数
func parseFlags() flags {
	var f flags
	flag.StringVar(&f.ConfigFile, "config", "config.yaml", "Path to config file")
	flag.IntVar(&f.Port, "port", 0, "Server port (overrides config)")
	flag.StringVar(&f.Mode, "mode", "", "Run mode debug/release (overrides config)")
	flag.BoolVar(&f.NoWorker, "no-worker", false, "Do not run the task worker in this process")
	flag.Parse()
	return f
}

// applyFlags 用命令行参数覆盖配置
func applyFlags(cfg *appconfig.Config, f flags) {
	if f.Port > 0 {
		cfg.Server.Port = f.Port
	}
	if f.Mode != "" {
		cfg.Server.Mode = f.Mode
	}
}

// setupTaskQueue 设置任务队列
func setupTaskQueue(cfg *appconfig.Config, logger *logrus.Logger) (taskqueue.Queue, error) {
	logger.WithFields(logrus.Fields{
		"redis_addr":  cfg.Queue.RedisAddr,
		"concurrency": cfg.Queue.Concurrency,
		"retry_limit": cfg.Queue.RetryLimit,
	}).Info("Setting up task queue")

	queue, err := taskqueue.NewQueue("redis", &cfg.Queue.Config)
	if err != nil {
		return nil, err
	}
	if rq, ok := queue.(*taskqueue.RedisQueue); ok {
		rq.SetLogger(logger)
	}
	return queue, nil
}
