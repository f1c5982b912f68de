package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"nobat/internal/booking"
	"nobat/internal/calendar"
	"nobat/internal/clinic"
	"nobat/internal/events"
	"nobat/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func (b *Bot) handleCallbackQuery(ctx context.Context, update tgbotapi.Update) {
	query := update.CallbackQuery
	if query.Message == nil {
		b.answerCallback(query.ID, "")
		return
	}

	chatID := query.Message.Chat.ID
	session := b.getSession(ctx, chatID)

	action, arg, _ := strings.Cut(query.Data, ":")
	switch action {
	case "noop":
		b.answerCallback(query.ID, "")
	case "grp":
		b.handleGroupPick(ctx, query, session, parseID(arg))
	case "svc":
		b.handleServiceToggle(ctx, query, session, parseID(arg))
	case "dev":
		b.handleDeviceToggle(ctx, query, session, parseID(arg))
	case "cal":
		b.handleCalendarNav(ctx, query, session, arg)
	case "day":
		b.handleDayPick(ctx, query, session, arg)
	case "slot":
		b.handleSlotPick(ctx, query, session, int(parseID(arg)))
	case "first":
		b.handleFirstSlot(ctx, query, session)
	case "points":
		b.handlePointsToggle(ctx, query, session)
	case "disc":
		b.handleDiscountPrompt(ctx, query, session)
	case "confirm":
		b.handleConfirm(ctx, query, session)
	case "ack":
		b.handleAcknowledge(ctx, query, session)
	case "submit":
		b.handleSubmit(ctx, query, session)
	case "cancel":
		b.handleCancelCallback(ctx, query)
	default:
		b.answerCallback(query.ID, "")
	}
}

func parseID(s string) int64 {
	id, _ := strconv.ParseInt(s, 10, 64)
	return id
}

func (b *Bot) answerCallback(callbackID, text string) {
	if err := b.tgService.AnswerCallback(callbackID, text); err != nil {
		b.logger.Error().Err(err).Msg("Failed to answer callback")
	}
}

// handleGroupPick fetches the group's services from the clinic and opens the
// service checklist. A previous dialog for another group is discarded.
func (b *Bot) handleGroupPick(ctx context.Context, query *tgbotapi.CallbackQuery, session *booking.Session, groupID int64) {
	chatID := session.ChatID

	info, err := b.clinic.ServicesForGroup(ctx, groupID)
	if err != nil {
		b.logger.Error().Err(err).Int64("group_id", groupID).Msg("Failed to fetch group services")
		b.answerCallback(query.ID, "دریافت خدمات ممکن نشد. دوباره تلاش کنید.")
		return
	}

	b.holds.cancel(chatID)
	session.ResetForGroup(groupID, *info)
	b.saveSession(ctx, session)
	b.answerCallback(query.ID, "")

	if len(info.Services) == 0 {
		b.sendMessage(chatID, "در این گروه در حال حاضر خدمتی فعال نیست.")
		return
	}

	text := "خدمات مورد نظر را انتخاب کنید:"
	if info.AllowMultiple {
		text = "خدمات مورد نظر را انتخاب کنید (امکان انتخاب چند مورد):"
	}
	if _, err := b.tgService.SendWithInlineKeyboard(chatID, text, servicesKeyboard(session)); err != nil {
		b.logger.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to send services list")
	}
}

// handleServiceToggle adds or removes one service. In single-select groups
// the new choice replaces the old one. Any change invalidates the schedule,
// so an active hold is dropped and availability re-fetched.
func (b *Bot) handleServiceToggle(ctx context.Context, query *tgbotapi.CallbackQuery, session *booking.Session, serviceID int64) {
	svc, ok := session.Group.ServiceByID(serviceID)
	if !ok {
		b.answerCallback(query.ID, "")
		return
	}

	var services []models.Service
	switch {
	case session.Selection.HasService(serviceID):
		for _, s := range session.Selection.Services {
			if s.ID != serviceID {
				services = append(services, s)
			}
		}
	case session.Group.AllowMultiple:
		services = append(append(services, session.Selection.Services...), svc)
	default:
		services = []models.Service{svc}
	}

	b.holds.cancel(session.ChatID)
	session.Selection.SetServices(services)
	session.Confirmed = false
	b.answerCallback(query.ID, "")

	b.editKeyboard(query, servicesKeyboard(session))
	b.refreshSchedule(ctx, session)
	b.saveSession(ctx, session)
}

// handleDeviceToggle picks or unpicks the device for groups that need one.
func (b *Bot) handleDeviceToggle(ctx context.Context, query *tgbotapi.CallbackQuery, session *booking.Session, deviceID int64) {
	if _, ok := session.Group.DeviceByID(deviceID); !ok {
		b.answerCallback(query.ID, "")
		return
	}

	if session.Selection.DeviceID == deviceID {
		deviceID = 0
	}
	b.holds.cancel(session.ChatID)
	session.Selection.SetDevice(deviceID)
	session.Confirmed = false
	b.answerCallback(query.ID, "")

	b.editKeyboard(query, servicesKeyboard(session))
	b.refreshSchedule(ctx, session)
	b.saveSession(ctx, session)
}

// refreshSchedule re-fetches availability for the current selection and
// redraws the calendar. The fetch fires only once the selection is
// fetchable: at least one service, and the device too when the group
// requires one. When the selection stops being fetchable the old
// availability is dropped and the calendar redrawn empty, so no stale day
// stays tappable.
func (b *Bot) refreshSchedule(ctx context.Context, session *booking.Session) {
	sel := &session.Selection
	if len(sel.Services) == 0 || (sel.DeviceRequired && sel.DeviceID == 0) {
		session.Availability = nil
		if session.CalendarMessageID != 0 {
			b.renderCalendar(ctx, session)
		}
		return
	}

	// Persist the bumped generation before the request, so a mutation that
	// lands while the fetch is in flight shows up in the stored session.
	b.saveSession(ctx, session)

	if !b.fetchAvailability(ctx, session) {
		return
	}
	session.Step = booking.StepCalendar
	b.renderCalendar(ctx, session)
}

// fetchAvailability loads the slot list for the current services and device
// and rebuilds the availability map. The selection generation is captured
// before the request; if the stored session moved on while the request was
// in flight, the response is stale and discarded.
func (b *Bot) fetchAvailability(ctx context.Context, session *booking.Session) bool {
	gen := session.Selection.Generation

	slots, err := b.clinic.AvailableSlots(ctx, session.Selection.ServiceIDs(), session.Selection.DeviceID)
	if err != nil {
		if b.metrics != nil {
			b.metrics.SlotFetches.WithLabelValues("error").Inc()
		}
		b.logger.Error().Err(err).Int64("chat_id", session.ChatID).Msg("Failed to fetch availability")
		b.sendMessage(session.ChatID, "دریافت نوبت‌های خالی ممکن نشد. دوباره تلاش کنید.")
		return false
	}

	if stored, err := b.sessions.GetSession(ctx, session.ChatID); err == nil && stored != nil && stored.Selection.Generation != gen {
		if b.metrics != nil {
			b.metrics.SlotFetches.WithLabelValues("stale").Inc()
		}
		return false
	}

	session.Availability = booking.GroupByDay(slots, b.loc)
	if b.metrics != nil {
		b.metrics.SlotFetches.WithLabelValues("success").Inc()
	}
	return true
}

// renderCalendar draws the month grid for the session's cursor, creating the
// calendar message on first use and editing it in place afterwards.
func (b *Bot) renderCalendar(ctx context.Context, session *booking.Session) {
	today := b.cal.Today(time.Now())
	if session.CalendarYear == 0 {
		cursor := b.cal.CursorFor(today)
		session.CalendarYear = cursor.Year
		session.CalendarMonth = cursor.Month
	}

	grid := b.cal.BuildMonth(
		calendar.Cursor{Year: session.CalendarYear, Month: session.CalendarMonth},
		session.Availability,
		today,
	)
	text := b.summaryText(session)
	keyboard := calendarKeyboard(grid)

	if session.CalendarMessageID == 0 {
		msg, err := b.tgService.SendWithInlineKeyboard(session.ChatID, text, keyboard)
		if err != nil {
			b.logger.Error().Err(err).Int64("chat_id", session.ChatID).Msg("Failed to send calendar")
			return
		}
		session.CalendarMessageID = msg.MessageID
		return
	}

	if _, err := b.tgService.EditMessage(session.ChatID, session.CalendarMessageID, text, &keyboard); err != nil {
		b.logger.Error().Err(err).Int64("chat_id", session.ChatID).Msg("Failed to edit calendar")
	}
}

// handleCalendarNav moves the month cursor. Moving back past the month
// containing today is refused, matching the disabled control.
func (b *Bot) handleCalendarNav(ctx context.Context, query *tgbotapi.CallbackQuery, session *booking.Session, direction string) {
	cursor := calendar.Cursor{Year: session.CalendarYear, Month: session.CalendarMonth}
	today := b.cal.CursorFor(b.cal.Today(time.Now()))
	if cursor.Year == 0 {
		cursor = today
	}

	switch direction {
	case "next":
		cursor = cursor.Next()
	case "prev":
		if !cursor.After(today) {
			b.answerCallback(query.ID, "")
			return
		}
		cursor = cursor.Prev()
	default:
		b.answerCallback(query.ID, "")
		return
	}

	session.CalendarYear = cursor.Year
	session.CalendarMonth = cursor.Month
	b.answerCallback(query.ID, "")
	b.renderCalendar(ctx, session)
	b.saveSession(ctx, session)
}

// handleDayPick opens the time list of an available day. A held slot from
// another day is released.
func (b *Bot) handleDayPick(ctx context.Context, query *tgbotapi.CallbackQuery, session *booking.Session, key string) {
	slots := session.DaySlots(key)
	if len(slots) == 0 {
		b.answerCallback(query.ID, "این روز نوبت خالی ندارد.")
		return
	}

	sel := &session.Selection
	if !sel.SlotStart.IsZero() && booking.DateKey(sel.SlotStart, b.loc) != key {
		b.holds.cancel(session.ChatID)
		sel.ClearSlot()
		session.Confirmed = false
	}
	sel.SetDate(key)
	b.answerCallback(query.ID, "")

	b.renderSlots(ctx, session, fmt.Sprintf("⏰ ساعت‌های خالی روز %s:", key))
	b.saveSession(ctx, session)
}

// renderSlots draws the chosen day's time buttons, creating the slots
// message on first use and editing it afterwards.
func (b *Bot) renderSlots(ctx context.Context, session *booking.Session, text string) {
	slots := session.DaySlots(session.Selection.DateKey)
	keyboard := b.slotsKeyboard(session, slots)

	if session.SlotsMessageID == 0 {
		msg, err := b.tgService.SendWithInlineKeyboard(session.ChatID, text, keyboard)
		if err != nil {
			b.logger.Error().Err(err).Int64("chat_id", session.ChatID).Msg("Failed to send slots")
			return
		}
		session.SlotsMessageID = msg.MessageID
		return
	}

	if _, err := b.tgService.EditMessage(session.ChatID, session.SlotsMessageID, text, &keyboard); err != nil {
		b.logger.Error().Err(err).Int64("chat_id", session.ChatID).Msg("Failed to edit slots")
	}
}

// handleSlotPick tentatively reserves one time of the chosen day and starts
// the hold countdown.
func (b *Bot) handleSlotPick(ctx context.Context, query *tgbotapi.CallbackQuery, session *booking.Session, index int) {
	slots := session.DaySlots(session.Selection.DateKey)
	if index < 0 || index >= len(slots) {
		b.answerCallback(query.ID, "این نوبت دیگر در دسترس نیست.")
		return
	}

	session.Selection.SetSlot(slots[index].Start)
	session.Confirmed = false
	b.answerCallback(query.ID, "نوبت برای شما نگه داشته شد.")
	b.startHold(ctx, session)
	b.saveSession(ctx, session)
}

// handleFirstSlot is the shortcut that picks the earliest available time of
// the whole fetched window.
func (b *Bot) handleFirstSlot(ctx context.Context, query *tgbotapi.CallbackQuery, session *booking.Session) {
	var all []models.Slot
	for _, day := range session.Availability {
		all = append(all, day...)
	}
	first, ok := booking.FirstSlot(all)
	if !ok {
		b.answerCallback(query.ID, "نوبت خالی یافت نشد.")
		return
	}

	session.Selection.SetDate(booking.DateKey(first.Start, b.loc))
	session.Selection.SetSlot(first.Start)
	session.Confirmed = false
	b.answerCallback(query.ID, "اولین نوبت خالی برای شما نگه داشته شد.")
	b.startHold(ctx, session)
	b.saveSession(ctx, session)
}

// startHold begins the reservation countdown for the currently picked slot.
// The countdown line under the time buttons is refreshed once a minute and
// in the final seconds; on expiry the slot is released and the user asked to
// pick again.
func (b *Bot) startHold(ctx context.Context, session *booking.Session) {
	chatID := session.ChatID
	dateKey := session.Selection.DateKey
	duration := time.Duration(b.config.Booking.HoldMinutes) * time.Minute

	b.renderSlots(ctx, session, holdLine(dateKey, duration))

	if b.metrics != nil {
		b.metrics.HoldsStarted.Inc()
	}
	if err := b.eventBus.PublishJSON(events.EventSlotHeld, events.BookingEventPayload{
		ChatID:     chatID,
		GroupID:    session.GroupID,
		ServiceIDs: session.Selection.ServiceIDs(),
		DeviceID:   session.Selection.DeviceID,
		SlotStart:  session.Selection.SlotStart,
		DateKey:    dateKey,
	}); err != nil {
		b.logger.Error().Err(err).Msg("Failed to publish hold event")
	}

	messageID := session.SlotsMessageID
	keyboard := b.slotsKeyboard(session, session.DaySlots(dateKey))

	b.holds.get(chatID).Start(duration,
		func(remaining time.Duration) {
			sec := int(remaining.Seconds())
			if sec%60 != 0 && sec != 30 && sec > 10 {
				return
			}
			if _, err := b.tgService.EditMessage(chatID, messageID, holdLine(dateKey, remaining), &keyboard); err != nil {
				b.logger.Debug().Err(err).Int64("chat_id", chatID).Msg("Failed to update hold countdown")
			}
		},
		func() { b.expireHold(chatID) },
	)
}

func holdLine(dateKey string, remaining time.Duration) string {
	remaining = remaining.Round(time.Second)
	countdown := fmt.Sprintf("%02d:%02d", int(remaining.Minutes()), int(remaining.Seconds())%60)
	return fmt.Sprintf("⏰ ساعت‌های خالی روز %s:\n\n%s", dateKey, holdText(countdown))
}

// expireHold releases the tentative slot after the countdown runs out. It
// runs from the hold goroutine, so it works on a fresh context and the
// stored session.
func (b *Bot) expireHold(chatID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	session := b.getSession(ctx, chatID)
	if session.Selection.SlotStart.IsZero() {
		return
	}

	session.Selection.ClearSlot()
	session.Confirmed = false
	session.Step = booking.StepCalendar
	b.saveSession(ctx, session)

	if b.metrics != nil {
		b.metrics.HoldsExpired.Inc()
	}
	if err := b.eventBus.PublishJSON(events.EventHoldExpired, events.BookingEventPayload{
		ChatID:     chatID,
		GroupID:    session.GroupID,
		ServiceIDs: session.Selection.ServiceIDs(),
		DateKey:    session.Selection.DateKey,
	}); err != nil {
		b.logger.Error().Err(err).Msg("Failed to publish expiry event")
	}

	if session.SlotsMessageID != 0 {
		keyboard := b.slotsKeyboard(session, session.DaySlots(session.Selection.DateKey))
		text := "⌛️ مهلت نگه‌داری نوبت تمام شد. لطفاً دوباره ساعت را انتخاب کنید."
		if _, err := b.tgService.EditMessage(chatID, session.SlotsMessageID, text, &keyboard); err != nil {
			b.logger.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to edit expiry notice")
		}
	}
}

func (b *Bot) handlePointsToggle(ctx context.Context, query *tgbotapi.CallbackQuery, session *booking.Session) {
	if session.Selection.BasePrice == 0 {
		b.answerCallback(query.ID, "ابتدا خدمات را انتخاب کنید.")
		return
	}

	session.Selection.PointsEnabled = !session.Selection.PointsEnabled
	status := "تخفیف امتیاز غیرفعال شد."
	if session.Selection.PointsEnabled {
		status = "تخفیف امتیاز فعال شد."
	}
	b.answerCallback(query.ID, status)
	b.renderCalendar(ctx, session)
	b.saveSession(ctx, session)
}

func (b *Bot) handleDiscountPrompt(ctx context.Context, query *tgbotapi.CallbackQuery, session *booking.Session) {
	if session.Selection.BasePrice == 0 {
		b.answerCallback(query.ID, "ابتدا خدمات را انتخاب کنید.")
		return
	}

	session.Step = booking.StepDiscount
	b.saveSession(ctx, session)
	b.answerCallback(query.ID, "")
	b.sendMessage(session.ChatID, "کد تخفیف را به صورت متن ارسال کنید:")
}

// handleConfirm opens the final summary once the selection is complete.
func (b *Bot) handleConfirm(ctx context.Context, query *tgbotapi.CallbackQuery, session *booking.Session) {
	if msg := missingRequirement(session); msg != "" {
		b.answerCallback(query.ID, msg)
		return
	}

	session.Step = booking.StepConfirm
	session.Confirmed = false
	b.saveSession(ctx, session)
	b.answerCallback(query.ID, "")

	if _, err := b.tgService.SendWithInlineKeyboard(session.ChatID, b.confirmText(session), confirmKeyboard(false)); err != nil {
		b.logger.Error().Err(err).Int64("chat_id", session.ChatID).Msg("Failed to send confirmation")
	}
}

func missingRequirement(session *booking.Session) string {
	sel := &session.Selection
	switch {
	case len(sel.Services) == 0:
		return "ابتدا خدمات را انتخاب کنید."
	case sel.DeviceRequired && sel.DeviceID == 0:
		return "برای این گروه انتخاب دستگاه الزامی است."
	case sel.SlotStart.IsZero():
		return "ابتدا روز و ساعت نوبت را انتخاب کنید."
	}
	return ""
}

func (b *Bot) handleAcknowledge(ctx context.Context, query *tgbotapi.CallbackQuery, session *booking.Session) {
	if session.Step != booking.StepConfirm {
		b.answerCallback(query.ID, "")
		return
	}

	session.Confirmed = true
	b.saveSession(ctx, session)
	b.answerCallback(query.ID, "")

	keyboard := confirmKeyboard(true)
	if _, err := b.tgService.EditMessage(session.ChatID, query.Message.MessageID, b.confirmText(session), &keyboard); err != nil {
		b.logger.Error().Err(err).Int64("chat_id", session.ChatID).Msg("Failed to edit confirmation")
	}
}

// handleSubmit posts the booking form. The acknowledge gate and the
// completeness check both hold here, so an expired hold or a stray tap on a
// stale keyboard cannot submit.
func (b *Bot) handleSubmit(ctx context.Context, query *tgbotapi.CallbackQuery, session *booking.Session) {
	if !session.Confirmed {
		b.answerCallback(query.ID, "ابتدا اطلاعات را تایید کنید.")
		return
	}
	if msg := missingRequirement(session); msg != "" {
		b.answerCallback(query.ID, msg)
		return
	}
	// The hold goroutine clears the slot on expiry, but a handler that
	// loaded the session before the expiry landed can write the slot back.
	// The registry is authoritative: no live hold, no submit.
	if !b.holds.get(session.ChatID).Active() {
		b.answerCallback(query.ID, "مهلت نگه‌داری نوبت تمام شده است. لطفاً دوباره ساعت را انتخاب کنید.")
		return
	}

	sel := &session.Selection
	form := clinic.BookingForm{
		ServiceIDs:   sel.ServiceIDs(),
		DeviceID:     sel.DeviceID,
		SlotStart:    sel.SlotStart,
		DateKey:      sel.DateKey,
		ApplyPoints:  sel.PointsEnabled,
		DiscountCode: sel.DiscountCode,
	}

	if err := b.clinic.SubmitBooking(ctx, form); err != nil {
		b.logger.Error().Err(err).Int64("chat_id", session.ChatID).Msg("Booking submit failed")
		var apiErr *clinic.APIError
		if errors.As(err, &apiErr) && apiErr.Message != "" {
			b.answerCallback(query.ID, "")
			b.sendMessage(session.ChatID, "❌ "+apiErr.Message)
			return
		}
		b.answerCallback(query.ID, "ثبت نوبت ممکن نشد. دوباره تلاش کنید.")
		return
	}

	b.holds.cancel(session.ChatID)
	if b.metrics != nil {
		b.metrics.BookingsSubmitted.Inc()
	}

	finalPrice := sel.FinalPrice(b.config.Booking.PointsCap)
	if err := b.eventBus.PublishJSON(events.EventBookingSubmitted, events.BookingEventPayload{
		ChatID:     session.ChatID,
		GroupID:    session.GroupID,
		ServiceIDs: sel.ServiceIDs(),
		DeviceID:   sel.DeviceID,
		SlotStart:  sel.SlotStart,
		DateKey:    sel.DateKey,
		FinalPrice: finalPrice,
	}); err != nil {
		b.logger.Error().Err(err).Msg("Failed to publish booking event")
	}

	text := fmt.Sprintf("🎉 نوبت شما ثبت شد!\n\nروز: %s\nساعت: %s\nمبلغ: %s",
		sel.DateKey, sel.SlotStart.In(b.loc).Format("15:04"), formatToman(finalPrice))
	if earned := sel.EarnedPoints(b.config.Booking.PointsCap, b.config.Booking.PointsRate); earned > 0 {
		text += fmt.Sprintf("\n⭐️ امتیاز کسب‌شده: %d", earned)
	}

	b.answerCallback(query.ID, "")
	if _, err := b.tgService.EditMessage(session.ChatID, query.Message.MessageID, text, nil); err != nil {
		b.logger.Error().Err(err).Int64("chat_id", session.ChatID).Msg("Failed to edit submit notice")
	}

	if err := b.sessions.ClearSession(ctx, session.ChatID); err != nil {
		b.logger.Error().Err(err).Int64("chat_id", session.ChatID).Msg("Failed to clear session")
	}
}

func (b *Bot) handleCancelCallback(ctx context.Context, query *tgbotapi.CallbackQuery) {
	chatID := query.Message.Chat.ID
	b.holds.cancel(chatID)
	if err := b.sessions.ClearSession(ctx, chatID); err != nil {
		b.logger.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to clear session")
	}
	b.answerCallback(query.ID, "")

	if _, err := b.tgService.SendWithInlineKeyboard(chatID, "از ابتدا شروع می‌کنیم. گروه خدمات را انتخاب کنید:", b.groupKeyboard()); err != nil {
		b.logger.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to send group list")
	}
}

// editKeyboard swaps the inline keyboard of the message a callback came
// from, keeping its text.
func (b *Bot) editKeyboard(query *tgbotapi.CallbackQuery, keyboard tgbotapi.InlineKeyboardMarkup) {
	edit := tgbotapi.NewEditMessageReplyMarkup(query.Message.Chat.ID, query.Message.MessageID, keyboard)
	if _, err := b.tgService.Request(edit); err != nil {
		b.logger.Error().Err(err).Msg("Failed to edit keyboard")
	}
}
