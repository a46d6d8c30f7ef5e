// Command p2pwatch watches a Bybit P2P market for listings inside a price
// band, places orders against them and notifies the operator.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awssns "github.com/aws/aws-sdk-go-v2/service/sns"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"

	httpadapter "github.com/archon-research/p2pwatch/internal/adapters/inbound/http"
	sqscommands "github.com/archon-research/p2pwatch/internal/adapters/inbound/sqs"
	telegrambot "github.com/archon-research/p2pwatch/internal/adapters/inbound/telegram"
	"github.com/archon-research/p2pwatch/internal/adapters/outbound/bybit"
	"github.com/archon-research/p2pwatch/internal/adapters/outbound/filestore"
	"github.com/archon-research/p2pwatch/internal/adapters/outbound/postgres"
	redisstore "github.com/archon-research/p2pwatch/internal/adapters/outbound/redis"
	s3store "github.com/archon-research/p2pwatch/internal/adapters/outbound/s3"
	snsnotifier "github.com/archon-research/p2pwatch/internal/adapters/outbound/sns"
	sqsadapter "github.com/archon-research/p2pwatch/internal/adapters/outbound/sqs"
	"github.com/archon-research/p2pwatch/internal/adapters/outbound/telegram"
	"github.com/archon-research/p2pwatch/internal/adapters/outbound/telemetry"
	"github.com/archon-research/p2pwatch/internal/domain/entity"
	"github.com/archon-research/p2pwatch/internal/pkg/env"
	"github.com/archon-research/p2pwatch/internal/ports/outbound"
	"github.com/archon-research/p2pwatch/internal/services/market_watcher"
)

const (
	serviceName     = "p2pwatch"
	serviceVersion  = "0.1.0"
	shutdownTimeout = 25 * time.Second
)

const (
	backendFile  = "file"
	backendRedis = "redis"
	backendS3    = "s3"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}

	if err := run(ctx, os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

type cliConfig struct {
	configFile string
	file       fileConfig

	adminID int64

	stateBackend  string
	stateFile     string
	redisAddr     string
	redisPassword string
	s3Bucket      string
	s3Key         string

	databaseURL string

	telegramToken string

	bybitAPIKey    string
	bybitAPISecret string
	bybitTestnet   bool
	bybitBaseURL   string

	snsTopicARN string
	sqsQueueURL string
	awsRegion   string

	httpAddr string

	otlpEndpoint   string
	jaegerEndpoint string
	environment    string
}

func parseConfig(args []string) (cliConfig, error) {
	fs := flag.NewFlagSet("p2pwatch", flag.ContinueOnError)
	configFile := fs.String("config", "", "YAML config file")
	stateBackend := fs.String("state-backend", "", "State backend: file, redis or s3")
	stateFile := fs.String("state-file", "", "State file path (file backend)")
	httpAddr := fs.String("http-addr", "", "HTTP listen address")
	testnet := fs.Bool("testnet", env.GetBool("BYBIT_TESTNET", true), "Use the Bybit testnet")
	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}

	cfg := cliConfig{
		configFile:     firstNonEmpty(*configFile, env.Get("P2PWATCH_CONFIG", "")),
		stateBackend:   firstNonEmpty(*stateBackend, env.Get("STATE_BACKEND", backendFile)),
		stateFile:      firstNonEmpty(*stateFile, env.Get("STATE_FILE", "bot_state.json")),
		redisAddr:      env.Get("REDIS_ADDR", "localhost:6379"),
		redisPassword:  env.Get("REDIS_PASSWORD", ""),
		s3Bucket:       env.Get("STATE_S3_BUCKET", ""),
		s3Key:          env.Get("STATE_S3_KEY", ""),
		databaseURL:    env.Get("DATABASE_URL", ""),
		telegramToken:  env.Get("TELEGRAM_TOKEN", ""),
		bybitAPIKey:    env.Get("BYBIT_API_KEY", ""),
		bybitAPISecret: env.Get("BYBIT_API_SECRET", ""),
		bybitTestnet:   *testnet,
		bybitBaseURL:   env.Get("BYBIT_BASE_URL", ""),
		snsTopicARN:    env.Get("NOTIFY_SNS_TOPIC_ARN", ""),
		sqsQueueURL:    env.Get("CONTROL_SQS_QUEUE_URL", ""),
		awsRegion:      env.Get("AWS_REGION", "eu-west-1"),
		httpAddr:       firstNonEmpty(*httpAddr, env.Get("HTTP_ADDR", ":8080")),
		otlpEndpoint:   env.Get("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		jaegerEndpoint: env.Get("JAEGER_ENDPOINT", ""),
		environment:    env.Get("ENVIRONMENT", "development"),
	}

	adminID, err := env.GetInt64("ADMIN_TELEGRAM_ID", entity.DefaultAdminID)
	if err != nil {
		return cliConfig{}, err
	}
	cfg.adminID = adminID

	if !slices.Contains([]string{backendFile, backendRedis, backendS3}, cfg.stateBackend) {
		return cliConfig{}, fmt.Errorf("unknown state backend %q (use file, redis or s3)", cfg.stateBackend)
	}
	if cfg.stateBackend == backendS3 && cfg.s3Bucket == "" {
		return cliConfig{}, fmt.Errorf("STATE_S3_BUCKET is required for the s3 state backend")
	}
	if (cfg.bybitAPIKey == "") != (cfg.bybitAPISecret == "") {
		return cliConfig{}, fmt.Errorf("BYBIT_API_KEY and BYBIT_API_SECRET must be set together")
	}

	cfg.file, err = loadFileConfig(cfg.configFile)
	if err != nil {
		return cliConfig{}, err
	}

	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func (c cliConfig) needsAWS() bool {
	return c.stateBackend == backendS3 || c.snsTopicARN != "" || c.sqsQueueURL != ""
}

// closer collects shutdown steps, run in reverse order.
type closer struct {
	fns    []func() error
	logger *slog.Logger
}

func (c *closer) add(name string, fn func() error) {
	c.fns = append(c.fns, func() error {
		if err := fn(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	})
}

func (c *closer) close() error {
	var errs []error
	for i := len(c.fns) - 1; i >= 0; i-- {
		if err := c.fns[i](); err != nil {
			c.logger.Error("shutdown step failed", "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func run(ctx context.Context, args []string) error {
	cfg, err := parseConfig(args)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: env.ParseLogLevel(slog.LevelInfo),
	}))
	slog.SetDefault(logger)

	logger.Info("starting p2pwatch",
		"stateBackend", cfg.stateBackend,
		"testnet", cfg.bybitTestnet,
		"httpAddr", cfg.httpAddr)

	cleanup := &closer{logger: logger}
	started := false
	defer func() {
		if !started {
			_ = cleanup.close()
		}
	}()

	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricConfig{
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		Environment:    cfg.environment,
		OTLPEndpoint:   cfg.otlpEndpoint,
	})
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}
	cleanup.add("metrics", func() error { return shutdownMetrics(context.Background()) })

	tracerCfg := telemetry.TracerConfigDefaults()
	tracerCfg.ServiceVersion = serviceVersion
	tracerCfg.Environment = cfg.environment
	tracerCfg.JaegerEndpoint = cfg.jaegerEndpoint
	shutdownTracer, err := telemetry.InitTracer(ctx, tracerCfg)
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	cleanup.add("tracer", func() error { return shutdownTracer(context.Background()) })

	var awsCfg aws.Config
	if cfg.needsAWS() {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.awsRegion))
		if err != nil {
			return fmt.Errorf("loading AWS config: %w", err)
		}
	}

	defaults := cfg.file.defaultState(cfg.adminID)

	store, err := newStateStore(ctx, cfg, awsCfg, defaults, logger, cleanup)
	if err != nil {
		return err
	}

	var gateway outbound.MarketGateway
	if cfg.bybitAPIKey != "" {
		bybitCfg := bybit.ConfigDefaults()
		bybitCfg.APIKey = cfg.bybitAPIKey
		bybitCfg.APISecret = cfg.bybitAPISecret
		bybitCfg.Testnet = cfg.bybitTestnet
		bybitCfg.BaseURL = cfg.bybitBaseURL
		client, err := bybit.NewClient(bybitCfg, logger)
		if err != nil {
			return fmt.Errorf("creating bybit client: %w", err)
		}
		gateway = client
	}

	var notifiers []outbound.Notifier
	var botAPI *telegram.API
	if cfg.telegramToken != "" {
		tgCfg := telegram.ConfigDefaults()
		tgCfg.Token = cfg.telegramToken
		botAPI, err = telegram.NewAPI(tgCfg, logger)
		if err != nil {
			return fmt.Errorf("creating telegram api: %w", err)
		}
		tgNotifier, err := telegram.NewNotifier(botAPI, logger)
		if err != nil {
			return fmt.Errorf("creating telegram notifier: %w", err)
		}
		notifiers = append(notifiers, tgNotifier)
	} else {
		logger.Warn("TELEGRAM_TOKEN not set; chat notifications and commands are disabled")
	}

	if cfg.snsTopicARN != "" {
		snsCfg := snsnotifier.ConfigDefaults()
		snsCfg.TopicARN = cfg.snsTopicARN
		snsCfg.Logger = logger
		n, err := snsnotifier.NewNotifier(awssns.NewFromConfig(awsCfg), snsCfg)
		if err != nil {
			return fmt.Errorf("creating sns notifier: %w", err)
		}
		notifiers = append(notifiers, n)
	}

	var archive outbound.AttemptArchive
	if cfg.databaseURL != "" {
		pool, err := postgres.OpenPool(ctx, postgres.DefaultDBConfig(cfg.databaseURL))
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		cleanup.add("postgres", func() error { pool.Close(); return nil })
		repo, err := postgres.NewAttemptRepository(pool, logger)
		if err != nil {
			return fmt.Errorf("creating attempt repository: %w", err)
		}
		archive = repo
		logger.Info("PostgreSQL connected, attempt archive enabled")
	}

	metrics, err := telemetry.NewMetrics("github.com/archon-research/p2pwatch")
	if err != nil {
		return fmt.Errorf("creating metrics: %w", err)
	}

	watcherCfg := cfg.file.watcherConfig()
	watcherCfg.AdminID = cfg.adminID
	watcherCfg.Defaults = &defaults
	watcherCfg.Archive = archive
	watcherCfg.Metrics = metrics
	watcherCfg.Logger = logger

	service, err := market_watcher.NewService(watcherCfg, store, gateway, notifiers...)
	if err != nil {
		return fmt.Errorf("creating market watcher: %w", err)
	}
	if err := service.Start(ctx); err != nil {
		return fmt.Errorf("starting market watcher: %w", err)
	}
	cleanup.add("market watcher", service.Stop)

	var shuttingDown atomic.Bool
	server, err := httpadapter.NewServer(httpadapter.ServerConfig{
		Addr:    cfg.httpAddr,
		Logger:  logger,
		Archive: archive,
	}, service, service, &shuttingDown)
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}
	server.Start()
	cleanup.add("http server", func() error { return server.Shutdown(5 * time.Second) })

	if botAPI != nil {
		bot, err := telegrambot.NewBot(telegrambot.Config{AdminID: cfg.adminID, Logger: logger}, botAPI, service)
		if err != nil {
			return fmt.Errorf("creating telegram bot: %w", err)
		}
		botCtx, stopBot := context.WithCancel(ctx)
		botDone := make(chan struct{})
		go func() {
			defer close(botDone)
			if err := bot.Run(botCtx); err != nil {
				logger.Error("telegram bot stopped", "error", err)
			}
		}()
		cleanup.add("telegram bot", func() error { stopBot(); <-botDone; return nil })
	}

	if cfg.sqsQueueURL != "" {
		sqsCfg := sqsadapter.ConfigDefaults()
		sqsCfg.QueueURL = cfg.sqsQueueURL
		var sqsOptFns []func(*awssqs.Options)
		if endpoint := env.Get("AWS_SQS_ENDPOINT", ""); endpoint != "" {
			sqsOptFns = append(sqsOptFns, func(o *awssqs.Options) {
				o.BaseEndpoint = aws.String(endpoint)
			})
		}
		consumer, err := sqsadapter.NewConsumer(awsCfg, sqsCfg, logger, sqsOptFns...)
		if err != nil {
			return fmt.Errorf("creating SQS consumer: %w", err)
		}
		cleanup.add("sqs consumer", consumer.Close)

		listener, err := sqscommands.NewListener(sqscommands.Config{Logger: logger}, consumer, service)
		if err != nil {
			return fmt.Errorf("creating SQS command listener: %w", err)
		}
		if err := listener.Start(ctx); err != nil {
			return fmt.Errorf("starting SQS command listener: %w", err)
		}
		cleanup.add("sqs listener", listener.Stop)
	}

	started = true
	logger.Info("p2pwatch started")

	<-ctx.Done()
	logger.Info("shutting down...")
	shuttingDown.Store(true)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownDone := make(chan error, 1)
	go func() {
		shutdownDone <- cleanup.close()
	}()

	select {
	case err := <-shutdownDone:
		if err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		logger.Info("shutdown complete")
	case <-shutdownCtx.Done():
		return fmt.Errorf("shutdown timed out")
	}

	return nil
}

func newStateStore(ctx context.Context, cfg cliConfig, awsCfg aws.Config, defaults entity.State, logger *slog.Logger, cleanup *closer) (outbound.StateRepository, error) {
	switch cfg.stateBackend {
	case backendRedis:
		redisCfg := redisstore.ConfigDefaults()
		redisCfg.Addr = cfg.redisAddr
		redisCfg.Password = cfg.redisPassword
		store, err := redisstore.NewStateStore(redisCfg, defaults, logger)
		if err != nil {
			return nil, fmt.Errorf("creating redis state store: %w", err)
		}
		if err := store.Ping(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		cleanup.add("redis", store.Close)
		return store, nil
	case backendS3:
		store, err := s3store.NewStateStore(awsCfg, s3store.Config{
			Bucket: cfg.s3Bucket,
			Key:    cfg.s3Key,
			Gzip:   true,
		}, defaults, logger)
		if err != nil {
			return nil, fmt.Errorf("creating s3 state store: %w", err)
		}
		return store, nil
	default:
		store, err := filestore.NewStateStore(cfg.stateFile, defaults, logger)
		if err != nil {
			return nil, fmt.Errorf("creating file state store: %w", err)
		}
		return store, nil
	}
}
