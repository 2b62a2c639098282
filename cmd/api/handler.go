package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"talent-inbox/internal/ingestion/delivery"
	"talent-inbox/internal/ingestion/repository"
	"talent-inbox/internal/ingestion/usecase"
	"talent-inbox/internal/notification"
	"talent-inbox/internal/queue"
	"talent-inbox/internal/scheduler"
	"talent-inbox/internal/triage"
	"talent-inbox/pkg/ai"
	"talent-inbox/pkg/config"
	"talent-inbox/pkg/crypto"
	"talent-inbox/pkg/database"
	"talent-inbox/pkg/events"
	"talent-inbox/pkg/extractor"
	"talent-inbox/pkg/gmail"
	"talent-inbox/pkg/imap"
	redisclient "talent-inbox/pkg/redis"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const shutdownTimeout = 15 * time.Second

// Handler owns every long-lived component of the service and the HTTP server in front of them.
type Handler struct {
	config *config.Config
	logger *zap.Logger

	db          *gorm.DB
	redis       *redis.Client
	bus         *events.Bus
	pubsubSink  *events.PubSubSink
	queue       *queue.Queue
	scheduler   *scheduler.Scheduler
	notifier    *notification.Service
	syncUsecase usecase.SyncUsecase

	ingestionHandler *delivery.IngestionHandler
	settingsHandler  *SettingsHandler
}

func NewHandler(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Handler, error) {
	h := &Handler{config: cfg, logger: log}
	if err := h.init(ctx); err != nil {
		h.Close()
		return nil, err
	}
	return h, nil
}

func (h *Handler) init(ctx context.Context) error {
	cfg, log := h.config, h.logger

	db, err := database.NewConnection(cfg.Database, log)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	h.db = db
	if err := repository.Migrate(db); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	sealer := crypto.NewSealer(cfg.EncryptionKey)
	if !sealer.Enabled() {
		log.Warn("ENCRYPTION_KEY not set, mailbox credentials are stored in plain text")
	}

	connectionRepo := repository.NewConnectionRepository(db, sealer)
	messageRepo := repository.NewMessageRepository(db)
	candidateRepo := repository.NewCandidateRepository(db)
	scoreRepo := repository.NewScoreRepository(db)
	roleRepo := repository.NewRoleRepository(db)

	gmailProvider := gmail.NewProvider(gmail.Options{
		ClientID:          cfg.Google.ClientID,
		ClientSecret:      cfg.Google.ClientSecret,
		Endpoint:          cfg.Google.GmailEndpoint,
		UnreadQuery:       cfg.Google.UnreadQuery,
		HistoryTypes:      cfg.Google.HistoryTypes,
		RequestsPerSecond: cfg.Google.RequestsPerSecond,
	}, log)
	providers := usecase.NewProviders(gmailProvider, imap.NewProvider(log))

	engine := triage.NewEngine(triage.Settings{
		Enabled:             cfg.Triage.Enabled,
		AutoClassifyEnabled: cfg.Triage.AutoClassifyEnabled,
	})
	h.settingsHandler = NewSettingsHandler(cfg.AI.OllamaBaseURL, cfg.AI.OllamaModel, engine)

	oracle, err := ai.NewOracle(ctx, ai.Config{
		Provider:         ai.ProviderType(cfg.AI.Provider),
		GeminiAPIKey:     cfg.AI.GeminiAPIKey,
		GeminiModel:      cfg.AI.GeminiModel,
		GetOllamaBaseURL: h.settingsHandler.OllamaBaseURL,
		GetOllamaModel:   h.settingsHandler.OllamaModel,
		Timeout:          cfg.AI.Timeout,
	}, log)
	if err != nil {
		return fmt.Errorf("init AI oracle: %w", err)
	}
	log.Info("AI oracle initialized", zap.String("provider", cfg.AI.Provider))

	ext := extractor.NewService(cfg.Extractor.TikaURL, cfg.Extractor.Timeout, log)

	sinks := []events.Sink{events.NewLogSink(log)}
	if cfg.Google.ProjectID != "" && cfg.Google.EventsTopic != "" {
		sink, err := events.NewPubSubSink(ctx, cfg.Google.ProjectID, shortTopicName(cfg.Google.EventsTopic), cfg.Google.CredentialsFile)
		if err != nil {
			log.Warn("failed to initialize Pub/Sub event sink, events are only logged", zap.Error(err))
		} else {
			h.pubsubSink = sink
			sinks = append(sinks, sink)
		}
	}
	h.bus = events.NewBus(cfg.Events.Buffer, log, sinks...)

	broker, err := newBroker(cfg.Queue, log)
	if err != nil {
		return err
	}
	h.queue = queue.New(broker, queue.Config{
		Concurrency:   cfg.Queue.Concurrency,
		Attempts:      cfg.Queue.Attempts,
		Backoff:       cfg.Queue.Backoff,
		KeepCompleted: cfg.Queue.KeepCompleted,
		KeepFailed:    cfg.Queue.KeepFailed,
		JobTimeout:    cfg.Queue.JobTimeout,
	}, log)

	ingest := usecase.NewIngestUsecase(messageRepo, candidateRepo, engine, oracle, ext, h.queue, h.bus, usecase.IngestOptions{
		AutoImportThreshold:     cfg.Ingest.AutoImportThreshold,
		MinExtractionConfidence: cfg.Ingest.MinExtractionConfidence,
		StrictResumeParsing:     cfg.Ingest.StrictResumeParsing,
		DeferClassification:     cfg.Ingest.DeferClassification,
	}, log)
	h.syncUsecase = usecase.NewSyncUsecase(connectionRepo, providers, ingest, usecase.SyncOptions{
		FullScanLimit:         cfg.Ingest.FullScanLimit,
		ConnectionConcurrency: cfg.Scheduler.ConnectionConcurrency,
		MessageTimeout:        cfg.Ingest.MessageTimeout,
	}, log)
	tokens := usecase.NewTokenUsecase(connectionRepo, providers, cfg.Scheduler.RefreshWindow, log)

	jobs := usecase.NewJobHandlers(connectionRepo, messageRepo, candidateRepo, scoreRepo, roleRepo, providers, ingest, oracle, h.queue, h.bus, log)
	if err := jobs.Register(h.queue); err != nil {
		return fmt.Errorf("register job handlers: %w", err)
	}

	schedOpts := scheduler.Options{
		PollInterval:    cfg.Scheduler.PollInterval,
		RefreshInterval: cfg.Scheduler.TokenRefreshInterval,
		LeaseTTL:        cfg.Scheduler.LeaseTTL,
	}
	if cfg.Scheduler.UseLease {
		rdb, err := redisclient.NewClient(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		h.redis = rdb
		schedOpts.Lease = scheduler.NewRedisLease(rdb)
	}
	h.scheduler = scheduler.New(h.syncUsecase, tokens, schedOpts, log)

	if cfg.Google.ProjectID != "" && cfg.Google.PushTopic != "" {
		notifier, err := notification.NewService(ctx,
			cfg.Google.ProjectID,
			shortTopicName(cfg.Google.PushTopic),
			cfg.Google.PushSubscription,
			cfg.Google.CredentialsFile,
			h.syncUsecase, gmailProvider, connectionRepo, log,
		)
		if err != nil {
			log.Warn("failed to initialize push listener, relying on polling", zap.Error(err))
		} else {
			h.notifier = notifier
		}
	} else {
		log.Info("google.project_id or push_topic not configured, push listener disabled")
	}

	h.ingestionHandler = delivery.NewIngestionHandler(h.syncUsecase, jobs, h.queue, messageRepo, scoreRepo)
	return nil
}

func newBroker(cfg config.QueueConfig, log *zap.Logger) (queue.Broker, error) {
	if cfg.Backend == "amqp" {
		broker, err := queue.NewAMQPBroker(cfg.AMQPURL, cfg.Concurrency, log)
		if err != nil {
			return nil, fmt.Errorf("connect queue broker: %w", err)
		}
		return broker, nil
	}
	return queue.NewMemoryBroker(), nil
}

// shortTopicName accepts either "topic" or "projects/<p>/topics/<topic>".
func shortTopicName(name string) string {
	if parts := strings.Split(name, "/"); len(parts) > 1 {
		return parts[len(parts)-1]
	}
	return name
}

// StartWorkers starts event delivery and the job queue workers.
func (h *Handler) StartWorkers(ctx context.Context) error {
	go h.bus.Run(ctx)

	if err := h.queue.Start(ctx); err != nil {
		return fmt.Errorf("start queue: %w", err)
	}
	return nil
}

// StartBackground starts the workers plus the scheduler and push listener.
func (h *Handler) StartBackground(ctx context.Context) error {
	if err := h.StartWorkers(ctx); err != nil {
		return err
	}
	h.scheduler.Start(ctx)

	if h.notifier != nil {
		go func() {
			if err := h.notifier.Start(ctx); err != nil {
				h.logger.Error("push listener stopped", zap.Error(err))
			}
		}()
	}
	return nil
}

// SyncConnection runs a single sync outside the scheduler.
func (h *Handler) SyncConnection(ctx context.Context, connectionID string) (*usecase.SyncResult, error) {
	return h.syncUsecase.Sync(ctx, connectionID)
}

func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// CORS middleware
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		}

		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	SetupRoutes(r, h.ingestionHandler, h.settingsHandler)
	return r
}

// Start serves HTTP until ctx is cancelled, then shuts down gracefully.
func (h *Handler) Start(ctx context.Context, addr string) error {
	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:    addr,
		Handler: h.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	h.logger.Info("shutting down server")
	return srv.Shutdown(shutdownCtx)
}

// Close stops background work and releases connections. It is safe on a partially built Handler.
func (h *Handler) Close() {
	if h.scheduler != nil {
		h.scheduler.Stop()
	}
	if h.queue != nil {
		h.queue.Stop()
	}
	if h.bus != nil {
		h.bus.Close()
	}
	if h.notifier != nil {
		if err := h.notifier.Close(); err != nil {
			h.logger.Warn("failed to close push listener", zap.Error(err))
		}
	}
	if h.pubsubSink != nil {
		if err := h.pubsubSink.Close(); err != nil {
			h.logger.Warn("failed to close event sink", zap.Error(err))
		}
	}
	if h.redis != nil {
		_ = h.redis.Close()
	}
	if h.db != nil {
		if sqlDB, err := h.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
