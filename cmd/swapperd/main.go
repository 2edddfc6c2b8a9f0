package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"Swapper-Chain/internal/api"
	"Swapper-Chain/internal/auth"
	"Swapper-Chain/internal/config"
	"Swapper-Chain/internal/job"
	"Swapper-Chain/internal/observability/alerting"
	"Swapper-Chain/internal/observability/metrics"
	"Swapper-Chain/internal/storage/mysql"
	"Swapper-Chain/internal/web3/provider"
	"Swapper-Chain/pkg/logger"
)

// main 是 swapper 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("swapperd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	// .env 只用于本地开发，缺失时忽略。
	_ = godotenv.Load()

	configPath := os.Getenv("SWAPPER_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "swapper.yaml")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}
	audit := cfg.Logging.Audit
	if audit.Enabled && audit.Path == "" {
		audit.Path = filepath.Join(cfg.Runtime.DataDir, "audit.log")
	}
	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    audit.Enabled,
			Path:       audit.Path,
			MaxSizeMB:  audit.MaxSizeMB,
			MaxBackups: audit.MaxBackups,
			MaxAgeDays: audit.MaxAgeDays,
			Compress:   audit.Compress,
		},
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	store, err := newJobStore(ctx, cfg.Storage.JobStore)
	if err != nil {
		return err
	}
	queue, err := newQueue(cfg.Queue)
	if err != nil {
		_ = store.Close()
		return err
	}

	chains, err := provider.NewRegistry(ctx, cfg.Web3)
	if err != nil {
		_ = queue.Close()
		_ = store.Close()
		return err
	}
	defer chains.Close()

	authSvc, err := newAuthService(cfg.Auth)
	if err != nil {
		_ = queue.Close()
		_ = store.Close()
		return err
	}
	if !authSvc.Enabled() {
		logger.L().Warn("未配置 API Key，接口不做鉴权")
	}

	// Service.Close 负责关闭 store 与 queue。
	jobs := job.NewService(store, queue, chains, cfg.Jobs.MaxRetries)
	defer func() {
		if err := jobs.Close(); err != nil {
			logger.L().Error("关闭任务服务失败", slog.Any("error", err))
		}
	}()

	processor := job.NewProcessor(chains, store, queue, queue,
		job.WithWorkerCount(cfg.Jobs.Workers),
		job.WithProcessorLogger(logger.Named("processor")),
		job.WithAlertDispatcher(newAlerting(cfg.Alerting)),
	)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()
	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("任务处理器异常退出", slog.Any("error", err))
		}
	}()

	opts := api.Options{
		Address:    cfg.Server.Address,
		RateLimit:  cfg.Server.RateLimit,
		RateWindow: cfg.Server.RateWindow(),
	}
	if cfg.Metrics.Enabled {
		if cfg.Metrics.Address == "" {
			opts.MetricsPath = cfg.Metrics.Path
		} else {
			go func() {
				if err := metrics.StartServer(ctx, cfg.Metrics.Address, cfg.Metrics.Path); err != nil && !errors.Is(err, context.Canceled) {
					logger.L().Error("指标服务异常退出", slog.Any("error", err))
				}
			}()
		}
	}

	logger.L().Info("swapperd 启动",
		slog.Any("chains", chains.Chains()),
		slog.String("default_chain", chains.DefaultChain()),
		slog.String("store", cfg.Storage.JobStore.Driver),
		slog.String("queue", cfg.Queue.Driver),
		slog.Int("workers", cfg.Jobs.Workers),
	)
	server := api.NewServer(opts, jobs, chains, authSvc)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newJobStore(ctx context.Context, cfg config.JobStoreConfig) (job.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return job.NewMemoryStore(), nil
	case "mysql":
		store, err := mysql.NewJobStore(ctx, mysql.Config{
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetimeSeconds) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("未知的存储驱动: %s", cfg.Driver)
	}
}

func newQueue(cfg config.QueueConfig) (job.Queue, error) {
	switch cfg.Driver {
	case "", "memory":
		return job.NewMemoryQueue(cfg.Capacity), nil
	case "redis":
		queue, err := job.NewRedisQueue(job.RedisQueueConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Queue:     cfg.Redis.Queue,
			BlockWait: time.Duration(cfg.Redis.BlockWait) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		return queue, nil
	case "rabbitmq":
		queue, err := job.NewRabbitMQQueue(job.RabbitMQConfig{
			URL:        cfg.RabbitMQ.URL,
			Queue:      cfg.RabbitMQ.Queue,
			Prefetch:   cfg.RabbitMQ.Prefetch,
			Durable:    cfg.RabbitMQ.Durable,
			AutoDelete: cfg.RabbitMQ.AutoDelete,
		})
		if err != nil {
			return nil, err
		}
		return queue, nil
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Driver)
	}
}

func newAuthService(cfg config.AuthConfig) (*auth.Service, error) {
	keys := make([]auth.APIKey, 0, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		keys = append(keys, auth.APIKey{Name: k.Name, Key: k.Key, Permissions: k.Permissions})
	}
	return auth.NewService(keys)
}

func newAlerting(cfg config.AlertingConfig) alerting.Dispatcher {
	notifiers := []alerting.Notifier{alerting.LogNotifier{}}
	if cfg.Enabled {
		notifiers = append(notifiers, &alerting.SlackNotifier{Sender: alerting.NewWebhookSender(cfg.SlackWebhook)})
	}
	return alerting.NewFanout(notifiers...)
}
