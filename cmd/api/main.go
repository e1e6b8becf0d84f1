package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/careroute/referral-engine/internal/apperr"
	"github.com/careroute/referral-engine/internal/config"
	gateway "github.com/careroute/referral-engine/internal/gateways"
	"github.com/careroute/referral-engine/internal/handlers"
	"github.com/careroute/referral-engine/internal/jobs"
	"github.com/careroute/referral-engine/internal/referral"
	"github.com/careroute/referral-engine/internal/repository"
	"github.com/careroute/referral-engine/internal/scheduler"
	"github.com/careroute/referral-engine/internal/services"
	"github.com/careroute/referral-engine/internal/tokens"
	xhttp "github.com/careroute/referral-engine/pkg/http"
	"github.com/careroute/referral-engine/pkg/logger"
	"github.com/careroute/referral-engine/pkg/pg"
	"github.com/careroute/referral-engine/pkg/prom"
	"github.com/careroute/referral-engine/pkg/redis"
)

func main() {
	if err := config.Load(argContainsEnvPath()); err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}
	cfg := config.Get()

	s := xhttp.NewServer(xhttp.DefaultServerOption)
	s.Server.ReadBufferSize = 1024 * 16
	s.Server.WriteBufferSize = 1024 * 16
	s.Use(xhttp.CompressMiddleware(6))
	s.Use(xhttp.TimeoutMiddleware(time.Second * 30))
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.RecoverMiddleware)
	s.Router = xhttp.CreateDefaultRouter()

	readConf := pg.Config{
		User:     cfg.PostgresReadUser,
		Host:     cfg.PostgresReadHost,
		Port:     cfg.PostgresReadPort,
		Password: cfg.PostgresReadPassword,
		Database: cfg.PostgresReadDatabase,
	}
	writeConf := pg.Config{
		User:     cfg.PostgresWriteUser,
		Host:     cfg.PostgresWriteHost,
		Port:     cfg.PostgresWritePort,
		Password: cfg.PostgresWritePassword,
		Database: cfg.PostgresWriteDatabase,
	}
	db, err := pg.CreateReadWrite(readConf, writeConf, cfg.AppEnv == "dev")
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}

	redisAdap, err := redis.NewRedisAdapter("default", cfg.RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{cfg.RedisAddr},
		ClientName: "default",
		DB:         cfg.RedisDatabase,
		Username:   cfg.RedisUsername,
		Password:   cfg.RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	host, _ := os.Hostname()
	if err := prom.Create(host, cfg.AppEnv, cfg.PromNamespace); err != nil {
		logger.Error("failed to register metrics", "error", err)
		return
	}
	go prom.ListenAndServer(cfg.PromAddr, "/metrics")

	notifyGateway, err := gateway.NewClient(&gateway.Config{
		BaseURL:    cfg.GatewayUrl,
		APIKey:     cfg.GatewayApiKey,
		SenderID:   cfg.GatewaySenderId,
		Timeout:    cfg.GatewayTimeout,
		MaxRetries: cfg.GatewayRetries,
	})
	if err != nil {
		logger.Error("failed to create notify gateway client", "error", err)
		return
	}

	referralRepo := repository.NewReferralRepository(db)
	messageRepo := repository.NewOutboundMessageRepository(db)
	tokenRepo := repository.NewLinkTokenRepository(db)
	leaseRepo := repository.NewJobLeaseRepository(db)

	machine := referral.NewMachine()
	registry := services.NewTemplateRegistry()
	allocator := tokens.NewAllocator(tokenRepo)
	guard := jobs.NewSingleFlightGuard(leaseRepo, cfg.JobLeaseTTL)

	referralService := services.NewReferralService(referralRepo, messageRepo, machine)
	queueService := services.NewQueueService(referralRepo, messageRepo, allocator, registry,
		cfg.AppBaseUrl, cfg.QueueBatchSize, cfg.TokenClaimRetries)
	dispatchService := services.NewDispatchService(referralRepo, messageRepo, machine, notifyGateway, registry,
		cfg.DispatchBatchSize, cfg.DispatchWorkers)
	reconcileService := services.NewReconcileService(referralRepo, messageRepo, machine, redisAdap)

	topUpTokens(allocator, cfg.TokenRefillCount)

	g := s.Router.Group("/api/v1")
	handlers.RegisterReferralRoutes(g, handlers.NewReferralHandler(referralService))
	handlers.RegisterAdminRoutes(g, handlers.NewAdminHandler(queueService, dispatchService, guard))
	handlers.RegisterCallbackRoutes(g, handlers.NewCallbackHandler(reconcileService))
	handlers.RegisterHealthRoutes(s.Router.Group(""), handlers.NewHealthHandler(nil))

	var cycle *scheduler.Scheduler
	if cfg.SchedulerEnable {
		cycle = scheduler.New(cfg.SchedulerInterval, func(ctx context.Context) error {
			return runCycle(ctx, guard, queueService, dispatchService, allocator, cfg.TokenRefillCount)
		})
		if err := cycle.Start(context.Background()); err != nil {
			logger.Error("failed to start scheduler", "error", err)
			return
		}
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := s.ListenAndServe(cfg.HttpListenAddr); err != nil {
			logger.Error("error in running http-server", "error", err)
		}
	}()

	<-c
	if cycle != nil && cycle.IsRunning() {
		_ = cycle.Stop()
	}
	s.Shutdown()
}

// runCycle is one scheduled pass: refill the token pool, queue due contacts,
// dispatch them. Losing a lease to a concurrent admin call is not a failure.
func runCycle(
	ctx context.Context,
	guard *jobs.SingleFlightGuard,
	queueService *services.QueueService,
	dispatchService *services.DispatchService,
	allocator *tokens.Allocator,
	refill int,
) error {
	topUpTokens(allocator, refill)

	err := guard.RunExclusive(ctx, handlers.JobQueueMessages, func(ctx context.Context) error {
		_, err := queueService.Enqueue(ctx)
		return err
	})
	if err != nil && apperr.CodeOf(err) != jobs.CodeProcessAlreadyRunning {
		return err
	}

	err = guard.RunExclusive(ctx, handlers.JobSendMessages, func(ctx context.Context) error {
		_, err := dispatchService.DispatchPending(ctx)
		return err
	})
	if err != nil && apperr.CodeOf(err) != jobs.CodeProcessAlreadyRunning {
		return err
	}
	return nil
}

func topUpTokens(allocator *tokens.Allocator, refill int) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	unused, err := allocator.Unused(ctx)
	if err != nil {
		logger.Error("failed to inspect token pool", "error", err)
		return
	}
	if unused >= int64(refill) {
		return
	}
	if err := allocator.GenerateBatch(ctx, refill); err != nil {
		logger.Error("failed to refill token pool", "error", err)
	}
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--env=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed env file, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	return ""
}
