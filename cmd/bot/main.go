package main

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nobat/internal/bot"
	"nobat/internal/clinic"
	"nobat/internal/config"
	"nobat/internal/events"
	"nobat/internal/logging"
	"nobat/internal/metrics"
	"nobat/internal/repository"
	"nobat/internal/service"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient, sessionService := initSessionService(ctx, cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	clinicClient := clinic.NewClient(cfg.Clinic)
	if redisClient != nil && cfg.Clinic.CacheTTLSeconds > 0 {
		clinicClient.UseRedisCache(redisClient, time.Duration(cfg.Clinic.CacheTTLSeconds)*time.Second)
	}

	eventBus := events.NewEventBus()
	subscribeBookingEvents(eventBus, &logger)

	startMonitoring(ctx, cfg, &logger)

	return startBot(ctx, cfg, sessionService, clinicClient, eventBus, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}
	logger := baseLogger.With().Str("component", "bot-main").Logger()

	return cfg, logger, closer, nil
}

func initSessionService(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*redis.Client, *service.SessionService) {
	var redisClient *redis.Client
	if cfg.Redis.Address != "" {
		redisClient = repository.NewRedisClient(cfg.Redis)
		if errPing := repository.Ping(ctx, redisClient); errPing != nil {
			logger.Warn().Err(errPing).Msg("Redis unavailable")
		}
	}

	ttl := time.Duration(cfg.Redis.SessionTTLMinutes) * time.Minute
	primaryRepo := repository.NewRedisSessionRepository(redisClient, ttl)
	fallbackRepo := repository.NewMemorySessionRepository(ttl)
	sessionRepo := repository.NewFailoverSessionRepository(primaryRepo, fallbackRepo, logger)
	return redisClient, service.NewSessionService(sessionRepo, logger)
}

func startMonitoring(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}

	srv := metrics.NewServer(port)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info().Int("port", port).Msg("metrics server started")
}

func startBot(
	ctx context.Context,
	cfg *config.Config,
	sessionService *service.SessionService,
	clinicClient *clinic.Client,
	eventBus *events.EventBus,
	logger *zerolog.Logger,
) error {
	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create bot API")
		return err
	}
	botAPI.Debug = cfg.Telegram.Debug

	tgService := service.NewTelegramService(botAPI, botAPI.Self)

	telegramBot, err := bot.NewBot(
		tgService, cfg, sessionService, clinicClient,
		eventBus, bot.NewMetrics(), logger,
	)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create bot")
		return err
	}

	logger.Info().Msg("Bot started...")
	telegramBot.Start(ctx)

	logger.Info().Msg("Shutdown complete.")
	return nil
}

// subscribeBookingEvents keeps an audit trail of the booking flow in the
// log: every hold, expiry, discount and submit with its payload.
func subscribeBookingEvents(bus *events.EventBus, logger *zerolog.Logger) {
	handler := func(ev *events.Event) error {
		var payload events.BookingEventPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			logger.Error().Err(err).Str("event", ev.Type).Msg("event bus: decode payload")
			return nil
		}

		logger.Info().
			Str("event", ev.Type).
			Int64("chat_id", payload.ChatID).
			Int64("group_id", payload.GroupID).
			Ints64("service_ids", payload.ServiceIDs).
			Str("date", payload.DateKey).
			Int64("final_price", payload.FinalPrice).
			Msg("booking event")
		return nil
	}

	bus.Subscribe(events.EventSlotHeld, handler)
	bus.Subscribe(events.EventHoldExpired, handler)
	bus.Subscribe(events.EventDiscountApplied, handler)
	bus.Subscribe(events.EventBookingSubmitted, handler)
}
