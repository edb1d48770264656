package main

import (
	"context"
	stdlog "log"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"commentflow/internal/config"
	"commentflow/internal/credentials"
	"commentflow/internal/gateway"
	"commentflow/internal/logger"
	"commentflow/internal/models"
	"commentflow/internal/queue"
	"commentflow/internal/repository"
	"commentflow/internal/service"
	"commentflow/internal/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		stdlog.Fatalf("Failed to load config: %v", err)
	}

	log, err := logger.New(cfg.Log.Dir, cfg.Log.Tee)
	if err != nil {
		stdlog.Fatalf("Failed to create logger: %v", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing.ServiceName+"-worker", cfg.Tracing.Endpoint)
	if err != nil {
		log.Fatalw("failed to init tracing", "error", err)
	}
	defer shutdownTracing(context.Background())

	db, err := sqlx.Connect("postgres", cfg.GetDatabaseDSN())
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer db.Close()
	log.Infow("connected to database")

	conn, err := queue.NewConnection(cfg.GetRabbitMQURL())
	if err != nil {
		log.Fatalw("failed to connect to rabbitmq", "error", err)
	}
	defer conn.Close()

	deadLetter, err := newDeadLetter(cfg, conn)
	if err != nil {
		log.Fatalw("failed to create dead letter publisher", "error", err)
	}
	defer deadLetter.Close()

	var store models.CredentialStore
	if cfg.Vault.Enabled {
		vaultStore, err := credentials.NewVaultStore(cfg.Vault.Mount, cfg.Vault.PathPrefix, cfg.Vault.CacheTTL)
		if err != nil {
			log.Fatalw("failed to create credential store", "error", err)
		}
		store = vaultStore
	} else {
		log.Warnw("credential store disabled, outbound platform calls will fail")
	}

	graph := gateway.NewClient(cfg.GetGraphBaseURL(), cfg.Instagram.Timeout)

	workspaceRepo := repository.NewWorkspaceRepository(db)
	usageRepo := repository.NewUsageRepository(db)
	connectionRepo := repository.NewConnectionRepository(db)
	campaignRepo := repository.NewCampaignRepository(db)
	dispatchLogRepo := repository.NewDispatchLogRepository(db)
	spamRepo := repository.NewSpamRepository(db)

	quotaSvc := service.NewQuotaService(workspaceRepo, usageRepo, service.DefaultPlanLimits(), log)
	spamSvc := service.NewSpamFilterService(spamRepo, connectionRepo, graph, store, log)
	dispatchSvc := service.NewDispatchService(
		campaignRepo,
		dispatchLogRepo,
		connectionRepo,
		graph,
		store,
		quotaSvc,
		cfg.Dispatch.EnforceDMQuota,
		log,
	)
	router := service.NewEventRouter(campaignRepo, spamSvc, dispatchSvc, log)
	retrying := service.NewRetryingEventHandler(router, deadLetter, service.RetryPolicy{
		MaxAttempts: cfg.Worker.MaxAttempts,
		BaseBackoff: cfg.Worker.BaseBackoff,
		Backend:     cfg.Worker.DLQBackend,
	}, log)

	consumer, err := queue.NewConsumer(conn, cfg.RabbitMQ.EventQueue, cfg.Worker.Concurrency, retrying.Handle, log)
	if err != nil {
		log.Fatalw("failed to create consumer", "error", err)
	}

	log.Infow("worker started",
		"queue", cfg.RabbitMQ.EventQueue,
		"concurrency", cfg.Worker.Concurrency,
		"dlq_backend", cfg.Worker.DLQBackend,
		"enforce_dm_quota", cfg.Dispatch.EnforceDMQuota,
	)

	if err := consumer.Run(ctx); err != nil {
		log.Errorw("consumer stopped with error", "error", err)
	}
	log.Infow("worker stopped")
}

func newDeadLetter(cfg *config.Config, conn *queue.Connection) (queue.DeadLetterPublisher, error) {
	switch cfg.Worker.DLQBackend {
	case "kafka":
		return queue.NewKafkaDeadLetter(cfg.Kafka.Brokers, cfg.Kafka.DeadLetterTopic), nil
	case "none":
		return queue.DiscardDeadLetter{}, nil
	default:
		return queue.NewAMQPDeadLetter(conn, cfg.RabbitMQ.DeadLetter)
	}
}
