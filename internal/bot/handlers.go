package bot

import (
	"context"
	"errors"
	"strings"

	"nobat/internal/booking"
	"nobat/internal/clinic"
	"nobat/internal/events"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const helpText = `🏥 ربات رزرو نوبت کلینیک

/start - شروع رزرو نوبت
/cancel - لغو رزرو جاری
/help - راهنما

برای رزرو، ابتدا گروه خدمات را انتخاب کنید، سپس خدمات و در صورت نیاز دستگاه را مشخص کنید و از تقویم روز و ساعت دلخواه را بردارید.`

func (b *Bot) handleMessage(ctx context.Context, update tgbotapi.Update) {
	message := update.Message
	chatID := message.Chat.ID

	if message.IsCommand() {
		switch message.Command() {
		case "start":
			b.handleStart(ctx, chatID)
		case "cancel":
			b.handleCancel(ctx, chatID)
		case "help":
			b.sendMessage(chatID, helpText)
		default:
			b.sendMessage(chatID, "دستور ناشناخته است. /help")
		}
		return
	}

	session := b.getSession(ctx, chatID)
	if session.Step == booking.StepDiscount {
		b.handleDiscountCode(ctx, session, strings.TrimSpace(message.Text))
		return
	}

	b.sendMessage(chatID, "برای شروع رزرو از /start استفاده کنید.")
}

// handleStart drops any previous dialog and shows the service groups.
func (b *Bot) handleStart(ctx context.Context, chatID int64) {
	b.holds.cancel(chatID)
	if err := b.sessions.ClearSession(ctx, chatID); err != nil {
		b.logger.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to clear session")
	}

	session := booking.NewSession(chatID)
	b.saveSession(ctx, session)

	if _, err := b.tgService.SendWithInlineKeyboard(chatID, "سلام! 👋\nبرای رزرو نوبت، ابتدا گروه خدمات را انتخاب کنید:", b.groupKeyboard()); err != nil {
		b.logger.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to send group list")
	}
}

func (b *Bot) handleCancel(ctx context.Context, chatID int64) {
	b.holds.cancel(chatID)
	if err := b.sessions.ClearSession(ctx, chatID); err != nil {
		b.logger.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to clear session")
	}
	b.sendMessage(chatID, "رزرو جاری لغو شد. برای شروع دوباره: /start")
}

// handleDiscountCode validates a typed discount code against the server.
// The server answers 400/404 with a human-readable message for invalid or
// expired codes; that message is shown as-is and the stored discount stays
// cleared.
func (b *Bot) handleDiscountCode(ctx context.Context, session *booking.Session, code string) {
	chatID := session.ChatID

	if code == "" {
		b.sendMessage(chatID, "کد تخفیف را به صورت متن ارسال کنید.")
		return
	}

	amount, err := b.clinic.ApplyDiscount(ctx, code, session.Selection.BasePrice)
	if err != nil {
		session.Selection.ClearDiscount()
		session.Step = booking.StepCalendar
		b.saveSession(ctx, session)

		var apiErr *clinic.APIError
		if errors.As(err, &apiErr) && apiErr.Message != "" {
			b.sendMessage(chatID, "❌ "+apiErr.Message)
			return
		}
		b.logger.Error().Err(err).Int64("chat_id", chatID).Msg("Discount validation failed")
		b.sendMessage(chatID, "بررسی کد تخفیف ممکن نشد. کمی بعد دوباره تلاش کنید.")
		return
	}

	session.Selection.ApplyDiscount(code, amount)
	session.Step = booking.StepCalendar
	b.saveSession(ctx, session)

	if err := b.eventBus.PublishJSON(events.EventDiscountApplied, events.BookingEventPayload{
		ChatID:     chatID,
		GroupID:    session.GroupID,
		ServiceIDs: session.Selection.ServiceIDs(),
		FinalPrice: session.Selection.FinalPrice(b.config.Booking.PointsCap),
	}); err != nil {
		b.logger.Error().Err(err).Msg("Failed to publish discount event")
	}

	b.sendMessage(chatID, "✅ کد تخفیف اعمال شد: "+formatToman(amount))
	b.renderCalendar(ctx, session)
	b.saveSession(ctx, session)
}
