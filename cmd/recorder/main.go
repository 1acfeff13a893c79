package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rillrec/internal/core/ports"
	"rillrec/internal/core/services"
	httphandlers "rillrec/internal/handlers/http"
	"rillrec/internal/infrastructure/distributed"
	"rillrec/internal/infrastructure/encoder"
	"rillrec/internal/infrastructure/media"
	"rillrec/internal/infrastructure/middleware"
	"rillrec/internal/infrastructure/monitoring"
	repositories "rillrec/internal/infrastructure/repositories"
	"rillrec/internal/infrastructure/resources"
	signalhub "rillrec/internal/infrastructure/signal"
	webrtcinfra "rillrec/internal/infrastructure/webrtc"
	"rillrec/pkg/config"
	"rillrec/pkg/logger"
	"rillrec/pkg/tracing"
	"rillrec/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the yaml configuration")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "rillrec: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	startTime := time.Now()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	zapLogger, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "rillrec",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}

	metrics := monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)
	sampler, err := monitoring.NewProcessSampler(prometheus.DefaultRegisterer, log)
	if err != nil {
		return fmt.Errorf("failed to create process sampler: %w", err)
	}
	go sampler.Run(ctx, cfg.Monitoring.SampleInterval)

	portPool, err := resources.NewPortAllocator(cfg.Recording.PortRange.Min, cfg.Recording.PortRange.Max)
	if err != nil {
		return fmt.Errorf("failed to create port allocator: %w", err)
	}
	folders, err := resources.NewFolderManager(cfg.Recording.StagingPath, cfg.Recording.RecordingPath, log)
	if err != nil {
		return err
	}

	engineConfig := webrtcinfra.EngineConfig{}
	for _, s := range cfg.Engine.ICEServers {
		engineConfig.ICEServers = append(engineConfig.ICEServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	engineConfig.PortRange.Min = cfg.Engine.PortRange.Min
	engineConfig.PortRange.Max = cfg.Engine.PortRange.Max
	engine := webrtcinfra.NewEngine(engineConfig, sampler, log)

	workers := resources.NewWorkerPool(engine, log, metrics)
	if err := workers.Start(ctx, cfg.Engine.Workers); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	repoFactory := repositories.NewRepositoryFactory(ctx, cfg, log)
	defer repoFactory.Close()

	var publisher ports.RecordingPublisher = distributed.NewLogPublisher(log)
	watcherDone := make(chan struct{})
	if client := repoFactory.RedisClient(); client != nil {
		eventBus := distributed.NewEventBus(client, utils.GenerateID("rec"), cfg.Redis.EventChannel, log)
		publisher = eventBus
		go func() {
			defer close(watcherDone)
			watchPeerRecordings(ctx, eventBus, log)
		}()
	} else {
		close(watcherDone)
	}

	launcher := encoder.NewLauncher(encoder.Config{
		Binary:   cfg.Recording.EncoderBinary,
		ListenIP: cfg.Recording.RoutingIP,
	}, log, metrics)
	pipelines := media.NewFactory(media.Config{
		BindIP:    cfg.Recording.BindIP,
		RoutingIP: cfg.Recording.RoutingIP,
	}, portPool, launcher, log, metrics)

	channels := services.NewChannelService(services.ChannelServiceConfig{
		RecordingEnabled: cfg.Recording.Enabled,
		ForwardAddress:   cfg.Recording.ForwardAddress,
		PublishRetry:     cfg.Recording.PublishRetry,
	}, workers, repoFactory.CreateChannelRepository(), folders, pipelines, publisher, metrics, log)

	hub := signalhub.NewStatusHub(channels, log)
	hub.SetPingInterval(cfg.Signal.PingInterval)

	health := monitoring.NewHealthChecker()
	health.AddWorkerPoolCheck(workers.Size, time.Second)
	health.AddFolderCheck(time.Second, folders.StagingRoot(), folders.RecordingRoot())
	if client := repoFactory.RedisClient(); client != nil {
		health.AddRedisCheck(client, 2*time.Second)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.TracingMiddleware(),
		middleware.RequestLoggerMiddleware(logger.NewContextLogger(zapLogger)),
		middleware.NewHTTPRateLimitMiddleware(cfg.RateLimiting),
		middleware.ErrorHandlerMiddleware(log),
	)

	httphandlers.NewChannelHandler(channels, hub, log).SetupRoutes(router)
	httphandlers.NewHealthHandler(health, startTime).SetupRoutes(router)
	router.GET("/ws", gin.WrapF(hub.HandleWebSocket))
	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("prometheus metrics enabled")
	}

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("recorder listening",
			"address", cfg.Server.Address,
			"workers", workers.Size(),
			"recording_enabled", cfg.Recording.Enabled,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-serverErr:
		log.Errorw("http server failed", "error", err)
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warnw("http server shutdown", "error", err)
	}
	hub.Close()
	if err := channels.Shutdown(shutdownCtx); err != nil {
		log.Warnw("failed to close channels cleanly", "error", err)
	}
	if err := workers.Close(); err != nil {
		log.Warnw("failed to close workers", "error", err)
	}
	if err := folders.Close(); err != nil {
		log.Warnw("failed to remove leftover folders", "error", err)
	}
	<-watcherDone
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Warnw("failed to flush traces", "error", err)
	}

	log.Infow("recorder stopped", "uptime", utils.FormatDuration(time.Since(startTime)))
	return nil
}

// watchPeerRecordings logs recordings sealed by other recorder instances
// sharing the redis channel.
func watchPeerRecordings(ctx context.Context, bus *distributed.EventBus, log *zap.SugaredLogger) {
	err := bus.Subscribe(ctx, func(e *distributed.Event) error {
		rec, err := e.SealedRecording()
		if err != nil {
			return err
		}
		log.Infow("peer sealed recording",
			"instance_id", e.InstanceID,
			"channel_id", rec.ChannelID,
			"path", rec.Path,
		)
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Warnw("event subscription ended", "error", err)
	}
}
