package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"memotag-notifier/internal/api"
	"memotag-notifier/internal/common/camunda"
	"memotag-notifier/internal/common/config"
	"memotag-notifier/internal/common/database"
	"memotag-notifier/internal/common/logger"
	"memotag-notifier/internal/common/observability"
	"memotag-notifier/internal/common/validation"
	"memotag-notifier/internal/notification/dispatch"
	"memotag-notifier/internal/notification/gateway"
	"memotag-notifier/internal/realtime/broadcast"
	"memotag-notifier/internal/realtime/registry"
	"memotag-notifier/internal/realtime/ws"
	"memotag-notifier/internal/store/items"
	"memotag-notifier/internal/trigger"
	messagecreated "memotag-notifier/internal/workers/events/message-created"
	progresschanged "memotag-notifier/internal/workers/events/progress-changed"
	statuschanged "memotag-notifier/internal/workers/events/status-changed"
	taskregistry "memotag-notifier/pkg/registry"
)

const serviceName = "memotag-notifier"

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log logger.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(operationName+" failed, retrying", map[string]interface{}{
				"error":       err.Error(),
				"attempt":     i + 1,
				"maxRetries":  maxRetries,
				"nextRetryIn": delay.String(),
			})
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logger.New("info", "console")
		boot.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer func() { _ = zapLog.Sync() }()
	log := logger.NewZapAdapter(zapLog)

	log.Info("starting notifier", map[string]interface{}{
		"version":     cfg.App.Version,
		"environment": cfg.App.Environment,
	})

	obs := observability.New(serviceName)
	defer obs.Shutdown()

	stopTracing, err := observability.InitTracing(serviceName, cfg.Tracing.JaegerEndpoint, cfg.Tracing.SampleRatio)
	if err != nil {
		zapLog.Fatal("tracing init failed", zap.Error(err))
	}
	defer stopTracing()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var checks []api.Option

	// --- Item snapshot store ---
	var store items.Store
	var invalidator trigger.Invalidator

	var pg *database.PostgresClient
	if cfg.Database.Postgres.Enabled {
		err = retryWithBackoff(func() error {
			var err error
			pg, err = database.NewPostgres(cfg.Database.Postgres)
			if err != nil {
				return err
			}
			return pg.Ping(ctx)
		}, 15, 2*time.Second, log, "PostgreSQL connection")
		if err != nil {
			zapLog.Fatal("postgres failed after retries", zap.Error(err))
		}
		defer pg.Close()
		store = items.NewPostgresStore(pg.DB)
		checks = append(checks, api.WithReadinessCheck("postgres", pg.Ping))
		log.Info("PostgreSQL connected", nil)
	}

	var rdb *database.RedisClient
	if cfg.Database.Redis.Enabled {
		err = retryWithBackoff(func() error {
			var err error
			rdb, err = database.NewRedis(cfg.Database.Redis)
			if err != nil {
				return err
			}
			return rdb.Ping(ctx)
		}, 10, 2*time.Second, log, "Redis connection")
		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		defer rdb.Close()
		checks = append(checks, api.WithReadinessCheck("redis", rdb.Ping))
		log.Info("Redis connected", nil)

		if store != nil {
			cached := items.NewCachedStore(store, rdb.Client, config.GetDuration(cfg.Items.CacheTTL), log)
			store, invalidator = cached, cached
		}
	}

	// --- Notification dispatch ---
	sender, err := gateway.New(ctx, cfg.Notifications)
	if err != nil {
		zapLog.Fatal("delivery gateway init failed", zap.Error(err))
	}
	composer := gateway.NewComposer(cfg.Notifications.BoardURL, cfg.Notifications.Location())
	dispatcher := dispatch.NewService(dispatch.Config{
		MaxConcurrency: cfg.Notifications.MaxConcurrency,
		SendTimeout:    config.GetDuration(cfg.Notifications.SendTimeout),
		RatePerSec:     cfg.Notifications.RatePerSec,
	}, cfg.NotificationPolicy(), sender, composer, log)
	if !dispatcher.Configured() {
		log.Warn("no notification provider configured; dispatch is disabled", nil)
	}

	// --- Realtime ---
	subscribers := registry.New(log, obs)
	routerOpts := []broadcast.Option{}

	var relay *broadcast.Relay
	if cfg.Realtime.Relay.Enabled && rdb != nil {
		relay = broadcast.NewRelay(rdb.Client, cfg.Realtime.Relay.Channel, log)
		routerOpts = append(routerOpts, broadcast.WithPublisher(relay))
	}
	router := broadcast.NewRouter(subscribers, broadcast.Config{
		PushTimeout: config.GetDuration(cfg.Realtime.PushTimeout),
	}, log, routerOpts...)

	if relay != nil {
		go func() {
			deliver := func(ctx context.Context, itemID string, payload []byte) {
				router.Deliver(ctx, itemID, payload)
			}
			if err := relay.Run(ctx, deliver); err != nil {
				log.Error("broadcast relay stopped", map[string]interface{}{"error": err.Error()})
			}
		}()
	}

	wsServer := ws.NewServer(subscribers, ws.Config{
		SendBuffer:     cfg.Realtime.SendBuffer,
		PingInterval:   config.GetDuration(cfg.Realtime.PingInterval),
		AllowedOrigins: cfg.Realtime.AllowedOrigins,
	}, log)

	// --- Trigger boundary ---
	triggerOpts := []trigger.Option{trigger.WithObservability(obs)}
	if store != nil {
		triggerOpts = append(triggerOpts, trigger.WithItemStore(store))
	}
	if invalidator != nil {
		triggerOpts = append(triggerOpts, trigger.WithInvalidator(invalidator))
	}
	triggers := trigger.NewService(router, dispatcher, log, triggerOpts...)

	// --- Zeebe workers ---
	var zeebe *camunda.Client
	var workers *camunda.WorkerSet
	if cfg.Camunda.Enabled {
		tasks, err := taskregistry.LoadRegistry(cfg.Camunda.RegistryPath)
		if err != nil {
			zapLog.Fatal("task registry load failed", zap.Error(err))
		}
		validator, err := validation.NewValidator(tasks)
		if err != nil {
			zapLog.Fatal("task registry schemas invalid", zap.Error(err))
		}

		err = retryWithBackoff(func() error {
			var err error
			zeebe, err = camunda.NewClient(&camunda.ClientConfig{
				GatewayAddress:         cfg.Camunda.BrokerAddress,
				UsePlaintextConnection: true,
				ConnectionTimeout:      config.GetDuration(cfg.Camunda.RequestTimeout),
			})
			return err
		}, 10, 2*time.Second, log, "Zeebe client initialization")
		if err != nil {
			zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
		}
		checks = append(checks, api.WithReadinessCheck("zeebe", zeebe.HealthCheck))

		workers = camunda.NewWorkerSet(zeebe.GetClient(), log)

		mcCfg := config.GetWorkerConfig(cfg, messagecreated.WorkerName)
		workers.Start(messagecreated.TaskType, mcCfg,
			messagecreated.NewHandler(messagecreated.LoadConfig(mcCfg), triggers, validator, log).Handle)

		scCfg := config.GetWorkerConfig(cfg, statuschanged.WorkerName)
		workers.Start(statuschanged.TaskType, scCfg,
			statuschanged.NewHandler(statuschanged.LoadConfig(scCfg), triggers, validator, log).Handle)

		pcCfg := config.GetWorkerConfig(cfg, progresschanged.WorkerName)
		workers.Start(progresschanged.TaskType, pcCfg,
			progresschanged.NewHandler(progresschanged.LoadConfig(pcCfg), triggers, validator, log).Handle)

		log.Info("zeebe workers registered", map[string]interface{}{"taskTypes": workers.Running()})
	}

	// --- HTTP surface ---
	server := api.NewServer(api.Config{
		Address:       cfg.Server.Address,
		InternalToken: cfg.Server.InternalToken,
	}, triggers, wsServer, log, checks...)

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start() }()

	// --- Graceful shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
		log.Info("shutdown signal received", nil)
	case err := <-serverErr:
		if err != nil {
			log.Error("http server failed", map[string]interface{}{"error": err.Error()})
		}
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), config.GetDuration(cfg.Server.ShutdownTimeout))
	defer stop()

	if workers != nil {
		workers.Close()
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", map[string]interface{}{"error": err.Error()})
	}
	subscribers.CloseAll()
	cancel()
	if zeebe != nil {
		if err := zeebe.Close(); err != nil {
			log.Error("error closing zeebe client", map[string]interface{}{"error": err.Error()})
		}
	}

	log.Info("notifier stopped", nil)
}
