package bot

import (
	"context"
	"os"
	"time"

	"nobat/internal/booking"
	"nobat/internal/calendar"
	"nobat/internal/config"
	"nobat/internal/domain"
	"nobat/internal/events"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Bot is the controller of the booking dialog: it wires Telegram updates to
// session mutations, availability fetches and renders, and gates the final
// submit on a complete selection.
type Bot struct {
	tgService domain.TelegramService
	config    *config.Config
	sessions  domain.SessionManager
	clinic    domain.ClinicAPI
	eventBus  domain.EventPublisher
	metrics   *Metrics
	logger    *zerolog.Logger

	cal     *calendar.Calendar
	loc     *time.Location
	popular booking.PopularRule
	holds   *holdRegistry
}

func NewBot(
	tgService domain.TelegramService,
	cfg *config.Config,
	sessions domain.SessionManager,
	clinicAPI domain.ClinicAPI,
	eventBus domain.EventPublisher,
	metrics *Metrics,
	logger *zerolog.Logger,
) (*Bot, error) {
	if eventBus == nil {
		eventBus = events.NewEventBus()
	}

	if logger == nil {
		l := zerolog.New(os.Stdout).With().Timestamp().Logger()
		logger = &l
	}

	loc, err := time.LoadLocation(cfg.Booking.Timezone)
	if err != nil {
		return nil, err
	}

	return &Bot{
		tgService: tgService,
		config:    cfg,
		sessions:  sessions,
		clinic:    clinicAPI,
		eventBus:  eventBus,
		metrics:   metrics,
		logger:    logger,
		cal:       calendar.New(loc),
		loc:       loc,
		popular: booking.PopularRule{
			StartHour: cfg.Booking.Popular.StartHour,
			EndHour:   cfg.Booking.Popular.EndHour,
			Weekdays:  cfg.Booking.Popular.Weekdays,
		},
		holds: newHoldRegistry(),
	}, nil
}

func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.tgService.GetUpdatesChan(u)

	b.logger.Info().Str("username", b.tgService.GetSelf().UserName).Msg("Authorized on account")

	for {
		select {
		case <-ctx.Done():
			b.logger.Info().Msg("Bot stopping...")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.processUpdate(ctx, update)
		}
	}
}

func (b *Bot) processUpdate(ctx context.Context, update tgbotapi.Update) {
	start := time.Now()
	defer func() {
		if b.metrics != nil {
			b.metrics.UpdateProcessingTime.Observe(time.Since(start).Seconds())
		}
	}()

	updateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	requestID := uuid.New().String()
	l := b.logger.With().Str("request_id", requestID).Logger()
	updateCtx = l.WithContext(updateCtx)

	b.withRecovery(func() {
		var userID int64
		if update.Message != nil {
			userID = update.Message.From.ID
		} else if update.CallbackQuery != nil {
			userID = update.CallbackQuery.From.ID
		}

		if userID == 0 || b.isBlacklisted(userID) {
			return
		}

		allowed, err := b.sessions.CheckRateLimit(updateCtx, userID, b.config.Bot.RateLimitMessages, time.Duration(b.config.Bot.RateLimitWindow)*time.Second)
		if err != nil {
			b.logger.Error().Err(err).Int64("user_id", userID).Msg("Rate limit check failed")
		} else if !allowed {
			b.logger.Warn().Int64("user_id", userID).Msg("Rate limit exceeded")
			if update.Message != nil {
				b.sendMessage(update.Message.Chat.ID, "⚠️ پیام‌ها را خیلی سریع می‌فرستید. لطفاً کمی صبر کنید.")
			}
			return
		}

		if update.CallbackQuery != nil {
			b.handleCallbackQuery(updateCtx, update)
			return
		}

		if update.Message == nil {
			return
		}

		b.handleMessage(updateCtx, update)
	})
}

func (b *Bot) withRecovery(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			if b.metrics != nil {
				b.metrics.ErrorsTotal.Inc()
			}
			b.logger.Error().Interface("panic", r).Msg("Recovered from panic in update handler")
		}
	}()
	fn()
}

func (b *Bot) isBlacklisted(userID int64) bool {
	for _, id := range b.config.Bot.Blacklist {
		if id == userID {
			return true
		}
	}
	return false
}

func (b *Bot) sendMessage(chatID int64, text string) {
	if _, err := b.tgService.SendMessage(chatID, text); err != nil {
		b.logger.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to send message")
	}
}

func (b *Bot) getSession(ctx context.Context, chatID int64) *booking.Session {
	session, err := b.sessions.GetSession(ctx, chatID)
	if err != nil {
		return booking.NewSession(chatID)
	}
	return session
}

func (b *Bot) saveSession(ctx context.Context, session *booking.Session) {
	if err := b.sessions.SaveSession(ctx, session); err != nil {
		b.logger.Error().Err(err).Int64("chat_id", session.ChatID).Msg("Failed to save session")
	}
}
