package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"haccp-core/common/database"
	"haccp-core/common/logger"
	"haccp-core/common/mqtt"
	"haccp-core/common/redis"
	"haccp-core/internal/config"
	"haccp-core/internal/consumer"
	"haccp-core/internal/deviation"
	"haccp-core/internal/metrics"
	"haccp-core/internal/ncclient"
	"haccp-core/internal/notify"
	"haccp-core/internal/repository"
	"haccp-core/internal/schedule"
	"haccp-core/internal/service"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. 初始化日志
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "haccp-monitor")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. 连接数据库和 Redis
	db, err := database.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect database", zap.Error(err))
	}
	defer database.Close(db)

	redisClient := redis.NewRedisClient(&cfg.Redis)
	if err := redis.Ping(ctx, redisClient); err != nil {
		log.Fatal("Failed to connect redis", zap.Error(err))
	}
	defer redisClient.Close()

	// 4. Repository 层
	ccps := repository.NewPostgresCCPRepository(db)
	logs := repository.NewPostgresMonitoringRepository(db)
	batches := repository.NewPostgresBatchRepository(db)
	users := repository.NewPostgresUserRepository(db)

	// 5. 指标、通知、审计、NC
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	notifier := notify.NewStreamNotifier(redisClient, cfg.Streams.Notifications, cfg.Streams.MaxLen, log)
	audit := notify.NewStreamAuditSink(redisClient, cfg.Streams.Audit, cfg.Streams.MaxLen)
	nc := ncclient.NewClient(cfg.NC, log)

	coordinator := deviation.NewCoordinator(notifier, nc, batches, log,
		deviation.WithLogLinker(logs),
		deviation.WithAuditSink(audit),
		deviation.WithMetrics(m),
	)

	// 6. 服务层
	monitoring := service.NewMonitoringService(service.MonitoringDeps{
		CCPs:      ccps,
		Logs:      logs,
		Batches:   batches,
		Users:     users,
		Scheduler: schedule.NewScheduler(log),
		Deviation: coordinator,
	}, log, service.WithAuditSink(audit), service.WithMetrics(m))

	// 7. MQTT 探头与逾期扫描
	mqttClient, err := mqtt.NewClient(&cfg.MQTT, log)
	if err != nil {
		log.Fatal("Failed to connect MQTT", zap.Error(err))
	}
	defer mqttClient.Disconnect()

	probes := consumer.NewProbeConsumer(cfg.Probe, mqttClient, monitoring, log)
	defer probes.Stop()
	scanner := consumer.NewOverdueScanner(cfg.Monitor.OverdueScanInterval, monitoring, ccps, notifier, log)

	errChan := make(chan error, 3)
	go func() {
		if err := probes.Start(ctx); err != nil {
			errChan <- fmt.Errorf("probe consumer: %w", err)
		}
	}()
	go func() {
		if err := scanner.Start(ctx); err != nil {
			errChan <- fmt.Errorf("overdue scanner: %w", err)
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{Addr: cfg.Monitor.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	log.Info("HACCP monitor started",
		zap.String("probe_topic", cfg.Probe.Topic),
		zap.String("metrics_addr", cfg.Monitor.MetricsAddr),
	)

	// 8. 等待信号（优雅关闭）
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errChan:
		log.Error("Service error", zap.Error(err))
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("Failed to stop metrics server", zap.Error(err))
	}

	log.Info("HACCP monitor stopped")
}
