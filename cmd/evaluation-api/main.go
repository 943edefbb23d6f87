package main

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/AbuHishamTareq/Evaluation-sub002/internal/config"
	"github.com/AbuHishamTareq/Evaluation-sub002/internal/database"
	httpapi "github.com/AbuHishamTareq/Evaluation-sub002/internal/http"
	"github.com/AbuHishamTareq/Evaluation-sub002/internal/logger"
	"github.com/AbuHishamTareq/Evaluation-sub002/internal/metrics"
	"github.com/AbuHishamTareq/Evaluation-sub002/internal/mqtt"
	"github.com/AbuHishamTareq/Evaluation-sub002/internal/repository"
	"github.com/AbuHishamTareq/Evaluation-sub002/internal/security"
	"github.com/AbuHishamTareq/Evaluation-sub002/internal/service"
	"github.com/AbuHishamTareq/Evaluation-sub002/internal/store"
	"github.com/AbuHishamTareq/Evaluation-sub002/internal/stream"
)

func main() {
	cfg := config.Load()

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "evaluation-api")
	if err != nil {
		log, _ = zap.NewProduction()
		log.Warn("Invalid log config, using production defaults", zap.Error(err))
	}
	defer log.Sync()

	// 存储：DB 不可用时回退内存（仅联调用，重启即丢）
	var db *sql.DB
	if cfg.DBEnabled {
		if d, err := database.NewPostgresDB(&cfg.Database); err == nil {
			db = d
			log.Info("DB enabled for evaluation-api")
		} else {
			log.Warn("DB enabled but connection failed, falling back to memory store", zap.Error(err))
		}
	}

	var (
		surveyStore repository.SurveyStore
		schemas     repository.SurveySchemaRepository
	)
	if db != nil {
		surveyStore = repository.NewPostgresSurveyStore(db)
		schemas = repository.NewPostgresSurveySchemaRepository(db)
	} else {
		surveyStore = repository.NewMemorySurveyStore()
		schemas = repository.NewMemorySurveySchemaRepository()
	}
	if cfg.SchemaServiceURL != "" {
		schemas = service.NewSchemaClient(cfg.SchemaServiceURL, log)
		log.Info("Using remote survey schema service", zap.String("url", cfg.SchemaServiceURL))
	}

	// 限流计数器：多实例部署必须用 Redis
	var (
		redisClient *redis.Client
		counter     store.Counter
	)
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := store.Ping(pingCtx, redisClient)
		pingCancel()
		if err == nil {
			counter = store.NewRedisCounter(redisClient, cfg.Redis.Prefix)
		} else {
			log.Warn("Redis unreachable, falling back to in-process counters", zap.Error(err))
			_ = redisClient.Close()
			redisClient = nil
		}
	}
	if counter == nil {
		counter = store.NewMemoryCounter()
	}

	m := metrics.New()
	guard := security.NewGuard(counter, cfg.Guard, log, cfg.Debug, m)

	// 提交通知（可选）：MQTT / Redis Stream；都没有时传 nil 接口
	var (
		notifiers  service.Notifiers
		notifier   service.SubmissionNotifier
		mqttClient *mqtt.Client
	)
	if cfg.MQTT.Enabled {
		c, err := mqtt.NewClient(&cfg.MQTT, log)
		if err == nil {
			mqttClient = c
			notifiers = append(notifiers, mqtt.NewSubmissionPublisher(c, cfg.MQTT.Topic, cfg.MQTT.QoS, log))
		} else {
			log.Warn("MQTT enabled but connection failed, MQTT submission events disabled", zap.Error(err))
		}
	}
	if cfg.Redis.SubmissionStream != "" {
		if redisClient != nil {
			notifiers = append(notifiers, stream.NewSubmissionStreamPublisher(redisClient, cfg.Redis.SubmissionStream, cfg.Redis.StreamMaxLen, log))
		} else {
			log.Warn("SUBMISSION_STREAM set but Redis is unavailable, stream events disabled")
		}
	}
	if len(notifiers) > 0 {
		notifier = notifiers
	}

	machine := service.NewResponseStateMachine(surveyStore, guard, m, log)
	answers := service.NewAnswerStore(surveyStore, machine, guard, m, log)
	progress := service.NewProgressCalculator(surveyStore, schemas, log)
	submit := service.NewBulkSubmissionCoordinator(surveyStore, answers, progress, guard, m, notifier, log)

	router := httpapi.NewRouter(log)
	router.RegisterSurveyResponseRoutes(httpapi.NewSurveyResponseHandler(machine, answers, progress, submit, log, cfg.Debug))
	router.RegisterOpsRoutes(m.Handler())

	srv := service.NewServer(cfg.HTTP.Addr, router, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workerDone := make(chan struct{})
	if cfg.ExpiryInterval > 0 {
		worker := service.NewExpiryWorker(machine, cfg.ExpiryInterval, log)
		go func() {
			defer close(workerDone)
			_ = worker.Run(ctx)
		}()
	} else {
		close(workerDone)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			log.Error("HTTP server failed", zap.Error(err))
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("HTTP server shutdown error", zap.Error(err))
	}
	<-workerDone

	if mqttClient != nil {
		mqttClient.Disconnect()
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if err := database.Close(db); err != nil {
		log.Warn("Failed to close database", zap.Error(err))
	}
}
