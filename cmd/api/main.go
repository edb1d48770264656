package main

import (
	"context"
	"errors"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"commentflow/internal/config"
	"commentflow/internal/handler"
	"commentflow/internal/logger"
	"commentflow/internal/middleware"
	"commentflow/internal/queue"
	"commentflow/internal/repository"
	"commentflow/internal/service"
	"commentflow/internal/tracing"
)

const version = "1.0.0"

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

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing.ServiceName+"-api", cfg.Tracing.Endpoint)
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

	publisher, err := queue.NewPublisher(conn, cfg.RabbitMQ.EventQueue)
	if err != nil {
		log.Fatalw("failed to create publisher", "error", err)
	}

	var responses middleware.ResponseCache
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		responses = middleware.NewRedisResponseCache(rdb)
	} else {
		log.Warnw("redis not configured, idempotency keys are ignored")
	}

	workspaceRepo := repository.NewWorkspaceRepository(db)
	usageRepo := repository.NewUsageRepository(db)
	connectionRepo := repository.NewConnectionRepository(db)
	campaignRepo := repository.NewCampaignRepository(db)
	dispatchLogRepo := repository.NewDispatchLogRepository(db)
	spamRepo := repository.NewSpamRepository(db)

	accessSvc := service.NewAccessService(workspaceRepo, connectionRepo)
	quotaSvc := service.NewQuotaService(workspaceRepo, usageRepo, service.DefaultPlanLimits(), log)
	campaignSvc := service.NewCampaignService(campaignRepo, dispatchLogRepo, accessSvc, log)
	// the API never hides comments itself; moderation runs in the worker
	spamSvc := service.NewSpamFilterService(spamRepo, connectionRepo, nil, nil, log)
	healthSvc := service.NewHealthService(db, conn, version)

	webhookHandler := handler.NewWebhookHandler(publisher, cfg.Instagram.VerifyToken, cfg.Instagram.AppSecret, log)
	billingHandler := handler.NewBillingHandler(quotaSvc, accessSvc)
	campaignHandler := handler.NewCampaignHandler(campaignSvc)
	spamHandler := handler.NewSpamFilterHandler(spamSvc, accessSvc)
	healthHandler := handler.NewHealthHandler(healthSvc)

	router := mux.NewRouter()
	router.Use(middleware.Recovery)

	router.HandleFunc("/health", healthHandler.HandleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()

	webhook := api.PathPrefix("/integrations/instagram/webhook").Subrouter()
	if cfg.Server.WebhookRateLimit > 0 {
		limiter := middleware.NewRateLimiter(rate.Limit(cfg.Server.WebhookRateLimit), cfg.Server.WebhookBurst)
		webhook.Use(limiter.Middleware)
	}
	webhook.HandleFunc("", webhookHandler.Verify).Methods(http.MethodGet)
	webhook.HandleFunc("", webhookHandler.Receive).Methods(http.MethodPost)

	billing := api.PathPrefix("/billing/workspaces/{workspace_id}").Subrouter()
	billing.Use(middleware.TenantContext)
	billing.HandleFunc("/plan", billingHandler.GetPlan).Methods(http.MethodGet)
	billing.HandleFunc("/usage", billingHandler.GetUsage).Methods(http.MethodGet)
	billing.Handle("/test-increment",
		middleware.Idempotency(responses, cfg.Redis.IdempotencyTTL)(http.HandlerFunc(billingHandler.TestIncrement)),
	).Methods(http.MethodPost)

	campaigns := api.PathPrefix("/integrations/auto-dm-campaigns").Subrouter()
	campaigns.Use(middleware.TenantContext)
	campaigns.HandleFunc("", campaignHandler.Create).Methods(http.MethodPost)
	campaigns.HandleFunc("/{id}", campaignHandler.GetByID).Methods(http.MethodGet)
	campaigns.HandleFunc("/{id}/pause", campaignHandler.Pause).Methods(http.MethodPost)
	campaigns.HandleFunc("/{id}/resume", campaignHandler.Resume).Methods(http.MethodPost)
	campaigns.HandleFunc("/{id}/stats", campaignHandler.Stats).Methods(http.MethodGet)
	campaigns.HandleFunc("/{id}/logs", campaignHandler.Logs).Methods(http.MethodGet)

	spam := api.PathPrefix("/integrations/spam-filters/ig-connections/{id}").Subrouter()
	spam.Use(middleware.TenantContext)
	spam.HandleFunc("", spamHandler.Get).Methods(http.MethodGet)
	spam.HandleFunc("", spamHandler.Update).Methods(http.MethodPatch)
	spam.HandleFunc("/activate", spamHandler.Activate).Methods(http.MethodPost)
	spam.HandleFunc("/deactivate", spamHandler.Deactivate).Methods(http.MethodPost)
	spam.HandleFunc("/logs", spamHandler.Logs).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("api server starting", "addr", srv.Addr, "env", cfg.Env, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Infow("shutting down api server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	log.Infow("api server stopped")
}
