package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ClareAI/astra-dialout-service/internal/adapters/livekit"
	twilioadapter "github.com/ClareAI/astra-dialout-service/internal/adapters/twilio"
	"github.com/ClareAI/astra-dialout-service/internal/campaign"
	"github.com/ClareAI/astra-dialout-service/internal/config"
	"github.com/ClareAI/astra-dialout-service/internal/core/event"
	"github.com/ClareAI/astra-dialout-service/internal/core/session"
	"github.com/ClareAI/astra-dialout-service/internal/handler"
	"github.com/ClareAI/astra-dialout-service/internal/repository"
	"github.com/ClareAI/astra-dialout-service/internal/services/orchestrator"
	"github.com/ClareAI/astra-dialout-service/pkg/logger"
	"github.com/ClareAI/astra-dialout-service/pkg/redis"
	"github.com/ClareAI/astra-dialout-service/pkg/storage"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Server is the dial-out orchestrator server
type Server struct {
	config      *config.Config
	router      *mux.Router
	service     *orchestrator.Service
	events      event.Bus
	repoManager repository.RepositoryManager
	redisSvc    *redis.RedisService
	sessions    *session.Manager
	roomManager *livekit.RoomManager
}

// NewServer wires every component from configuration. Optional dependencies
// (database, redis, recording archive) are skipped when unconfigured.
func NewServer(cfg *config.Config) (*Server, error) {
	if _, err := logger.Init(os.Getenv("LOG_ENV")); err != nil {
		logger.Base().Error("Failed to initialize zap logger, falling back to std log")
	}

	lkConfig := &livekit.Config{
		ServerURL: cfg.LiveKitServerURL,
		APIKey:    cfg.LiveKitAPIKey,
		APISecret: cfg.LiveKitAPISecret,
	}
	roomManager, err := livekit.NewRoomManager(lkConfig)
	if err != nil {
		return nil, fmt.Errorf("livekit: %w", err)
	}

	dialer, err := twilioadapter.NewDialer(twilioadapter.Config{
		AccountSID:       cfg.TwilioAccountSID,
		AuthToken:        cfg.TwilioAuthToken,
		PhoneNumber:      cfg.TwilioPhoneNumber,
		WebhookBaseURL:   cfg.WebhookBaseURL,
		Record:           cfg.RecordingEnabled,
		MachineDetection: true,
	}, roomManager)
	if err != nil {
		return nil, fmt.Errorf("twilio: %w", err)
	}

	var repoManager repository.RepositoryManager
	if cfg.DatabaseDSN != "" {
		gormManager, err := repository.Open(cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		repoManager = gormManager
	} else {
		logger.Base().Warn("No database configured, call audit persistence disabled")
	}

	var redisSvc *redis.RedisService
	var sessions *session.Manager
	if cfg.RedisHost != "" {
		redisSvc, err = redis.NewRedisService(&redis.RedisConfig{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		sessions = session.NewManager(redisSvc, cfg.InstanceID)
	} else {
		logger.Base().Warn("No redis configured, cross-pod call registry disabled")
	}

	var archive *storage.RecordingArchive
	if cfg.RecordingEnabled && cfg.RecordingBucket != "" {
		archive, err = storage.NewRecordingArchive(context.Background(), cfg.RecordingBucket, cfg.TwilioAccountSID, cfg.TwilioAuthToken)
		if err != nil {
			return nil, fmt.Errorf("recording archive: %w", err)
		}
	}

	events := event.NewBus()

	opts := orchestrator.Options{
		Dialer:           orchestrator.DialerFunc(dialer.OriginateWithRetry),
		Rooms:            roomManager,
		Events:           events,
		PodID:            cfg.InstanceID,
		DefaultRegion:    cfg.DefaultPhoneRegion,
		SweepInterval:    cfg.SweepInterval,
		StuckCallCeiling: cfg.StuckCallCeiling,
	}
	if sessions != nil {
		opts.Sessions = sessions
	}
	if repoManager != nil {
		opts.Audit = repoManager.CallRecord()
		opts.History = repoManager.CallRecord()
	}
	if archive != nil {
		opts.Archive = archive
	}
	service := orchestrator.NewService(opts)

	var redisIface redis.RedisServiceInterface
	if redisSvc != nil {
		redisIface = redisSvc
	}
	coordinator := campaign.NewCoordinator(service, redisIface)

	var recordingLinker handler.RecordingLinker
	if archive != nil {
		recordingLinker = archive
	}

	router := mux.NewRouter()
	handler.NewHandlerManager(cfg, service, coordinator, roomManager, recordingLinker, repoManager, events).SetupRoutes(router)

	return &Server{
		config:      cfg,
		router:      router,
		service:     service,
		events:      events,
		repoManager: repoManager,
		redisSvc:    redisSvc,
		sessions:    sessions,
		roomManager: roomManager,
	}, nil
}

// Start runs the HTTP server and the background sweeper until the process
// receives SIGINT or SIGTERM
func (s *Server) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Calls a previous run left mid-dial can never finish; fail them before
	// taking new traffic.
	if n := s.service.RecoverAbandonedCalls(ctx); n > 0 {
		logger.Base().Warn("Failed calls abandoned by a previous run", zap.Int("count", n))
	}

	go s.service.RunSweeper(ctx)
	go s.runRoomSweeper(ctx)

	// Another pod may own the media room of a call that terminated here, so
	// every pod answers cleanup broadcasts.
	if s.sessions != nil {
		err := s.sessions.SubscribeToCleanup(ctx, func(callID string) {
			cleanupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.roomManager.DeleteRoom(cleanupCtx, callID); err != nil {
				logger.Base().Debug("Cleanup broadcast for call without local room", zap.String("call_id", callID))
			}
		})
		if err != nil {
			logger.Base().Error("Failed to subscribe to cleanup channel", zap.Error(err))
		}
	}

	addr := fmt.Sprintf(":%s", s.config.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Base().Info("Starting server", zap.String("addr", addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Base().Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Base().Error("Graceful shutdown failed", zap.Error(err))
	}

	s.events.Close()
	if s.repoManager != nil {
		s.repoManager.Close()
	}
	if s.redisSvc != nil {
		s.redisSvc.Close()
	}
	logger.Sync()
	return nil
}

// runRoomSweeper deletes media rooms that outlived every plausible call, a
// safety net for terminal callbacks the carrier never delivered
func (s *Server) runRoomSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	maxAge := 2 * s.config.StuckCallCeiling
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.roomManager.CleanupExpiredRooms(ctx, maxAge); n > 0 {
				logger.Base().Info("Expired rooms cleaned", zap.Int("count", n))
			}
		}
	}
}

// LoadConfigFromEnv loads the service configuration from environment
func LoadConfigFromEnv() *config.Config {
	cfg := config.DefaultConfig

	cfg.Port = getEnvOrDefault("PORT", cfg.Port)
	cfg.InstanceID = getDynamicInstanceID()

	cfg.TwilioAccountSID = getEnvOrDefault("TWILIO_ACCOUNT_SID", "")
	cfg.TwilioAuthToken = getEnvOrDefault("TWILIO_AUTH_TOKEN", "")
	cfg.TwilioPhoneNumber = getEnvOrDefault("TWILIO_PHONE_NUMBER", "")
	cfg.WebhookBaseURL = getEnvOrDefault("WEBHOOK_BASE_URL", "")

	cfg.LiveKitServerURL = getEnvOrDefault("LIVEKIT_SERVER_URL", "")
	cfg.LiveKitAPIKey = getEnvOrDefault("LIVEKIT_API_KEY", "")
	cfg.LiveKitAPISecret = getEnvOrDefault("LIVEKIT_API_SECRET", "")

	cfg.RecordingEnabled = getEnvAsBoolOrDefault("RECORDING_ENABLED", false)
	cfg.RecordingBucket = getEnvOrDefault("RECORDING_GCS_BUCKET", "")

	cfg.DatabaseDSN = getEnvOrDefault("DATABASE_DSN", "")

	cfg.RedisHost = getEnvOrDefault("REDIS_HOST", "")
	cfg.RedisPort = getEnvOrDefault("REDIS_PORT", "6379")
	cfg.RedisPassword = getEnvOrDefault("REDIS_PASSWORD", "")
	cfg.RedisDB = getEnvAsIntOrDefault("REDIS_DB", 0)

	cfg.SweepInterval = time.Duration(getEnvAsIntOrDefault("SWEEP_INTERVAL_SECONDS", int(cfg.SweepInterval.Seconds()))) * time.Second
	cfg.StuckCallCeiling = time.Duration(getEnvAsIntOrDefault("STUCK_CALL_CEILING_SECONDS", int(cfg.StuckCallCeiling.Seconds()))) * time.Second
	cfg.DefaultCampaignDelay = time.Duration(getEnvAsIntOrDefault("CAMPAIGN_DELAY_SECONDS", int(cfg.DefaultCampaignDelay.Seconds()))) * time.Second
	cfg.DefaultPhoneRegion = getEnvOrDefault("DEFAULT_PHONE_REGION", cfg.DefaultPhoneRegion)
	cfg.EnableCORS = getEnvAsBoolOrDefault("ENABLE_CORS", cfg.EnableCORS)

	return &cfg
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsBoolOrDefault gets environment variable as bool or returns default
func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getDynamicInstanceID identifies this pod: hostname in Kubernetes, a
// timestamp-based ID otherwise
func getDynamicInstanceID() string {
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}
	return fmt.Sprintf("dialout-service-%d", time.Now().UnixNano())
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Info: .env file not found or skipped (expected in production): %v", err)
	}

	cfg := LoadConfigFromEnv()

	server, err := NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}
	logger.Base().Info("Server initialized",
		zap.String("port", cfg.Port),
		zap.String("instance_id", cfg.InstanceID))

	if err := server.Start(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed: %v", err)
	}
}
