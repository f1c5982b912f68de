package domain

import (
	"context"
	"time"

	"nobat/internal/booking"
	"nobat/internal/clinic"
	"nobat/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// SessionRepository stores booking sessions keyed by chat id.
type SessionRepository interface {
	GetSession(ctx context.Context, chatID int64) (*booking.Session, error)
	SetSession(ctx context.Context, session *booking.Session) error
	ClearSession(ctx context.Context, chatID int64) error
	CheckRateLimit(ctx context.Context, chatID int64, limit int, window time.Duration) (bool, error)
}

// SessionManager is the service-level view of session storage.
type SessionManager interface {
	GetSession(ctx context.Context, chatID int64) (*booking.Session, error)
	SaveSession(ctx context.Context, session *booking.Session) error
	ClearSession(ctx context.Context, chatID int64) error
	CheckRateLimit(ctx context.Context, chatID int64, limit int, window time.Duration) (bool, error)
}

// ClinicAPI is the remote scheduling server, the owner of availability,
// pricing and discount truth.
type ClinicAPI interface {
	ServicesForGroup(ctx context.Context, groupID int64) (*models.GroupInfo, error)
	AvailableSlots(ctx context.Context, serviceIDs []int64, deviceID int64) ([]models.Slot, error)
	ApplyDiscount(ctx context.Context, code string, totalPrice int64) (int64, error)
	SubmitBooking(ctx context.Context, form clinic.BookingForm) error
}

// EventPublisher publishes in-process domain events.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// TelegramService is the slice of the Telegram API the bot needs.
type TelegramService interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	SendMessage(chatID int64, text string) (tgbotapi.Message, error)
	SendWithInlineKeyboard(chatID int64, text string, keyboard tgbotapi.InlineKeyboardMarkup) (tgbotapi.Message, error)
	EditMessage(chatID int64, messageID int, text string, keyboard *tgbotapi.InlineKeyboardMarkup) (tgbotapi.Message, error)
	AnswerCallback(callbackID string, text string) error
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	GetSelf() tgbotapi.User
	StopReceivingUpdates()
}
