package bot

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"nobat/internal/booking"
	"nobat/internal/clinic"
	"nobat/internal/config"
	"nobat/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMessage struct {
	chatID   int64
	text     string
	keyboard *tgbotapi.InlineKeyboardMarkup
}

type fakeTelegramService struct {
	mu        sync.Mutex
	nextID    int
	sent      []sentMessage
	edits     []sentMessage
	callbacks []string
}

func (f *fakeTelegramService) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return tgbotapi.Message{}, nil
}

func (f *fakeTelegramService) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeTelegramService) SendMessage(chatID int64, text string) (tgbotapi.Message, error) {
	return f.record(&f.sent, chatID, text, nil), nil
}

func (f *fakeTelegramService) SendWithInlineKeyboard(chatID int64, text string, keyboard tgbotapi.InlineKeyboardMarkup) (tgbotapi.Message, error) {
	return f.record(&f.sent, chatID, text, &keyboard), nil
}

func (f *fakeTelegramService) EditMessage(chatID int64, messageID int, text string, keyboard *tgbotapi.InlineKeyboardMarkup) (tgbotapi.Message, error) {
	return f.record(&f.edits, chatID, text, keyboard), nil
}

func (f *fakeTelegramService) AnswerCallback(callbackID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks = append(f.callbacks, text)
	return nil
}

func (f *fakeTelegramService) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(chan tgbotapi.Update)
}

func (f *fakeTelegramService) GetSelf() tgbotapi.User {
	return tgbotapi.User{UserName: "test_bot"}
}

func (f *fakeTelegramService) StopReceivingUpdates() {}

func (f *fakeTelegramService) record(into *[]sentMessage, chatID int64, text string, keyboard *tgbotapi.InlineKeyboardMarkup) tgbotapi.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	*into = append(*into, sentMessage{chatID: chatID, text: text, keyboard: keyboard})
	return tgbotapi.Message{MessageID: f.nextID}
}

func (f *fakeTelegramService) lastSent() sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

type fakeClinicAPI struct {
	group     models.GroupInfo
	slots     []models.Slot
	discount  int64
	submitErr error
	slotsHook func()

	slotCalls int
	submitted []clinic.BookingForm
}

func (f *fakeClinicAPI) ServicesForGroup(ctx context.Context, groupID int64) (*models.GroupInfo, error) {
	g := f.group
	return &g, nil
}

func (f *fakeClinicAPI) AvailableSlots(ctx context.Context, serviceIDs []int64, deviceID int64) ([]models.Slot, error) {
	f.slotCalls++
	if f.slotsHook != nil {
		f.slotsHook()
	}
	return f.slots, nil
}

func (f *fakeClinicAPI) ApplyDiscount(ctx context.Context, code string, totalPrice int64) (int64, error) {
	return f.discount, nil
}

func (f *fakeClinicAPI) SubmitBooking(ctx context.Context, form clinic.BookingForm) error {
	if f.submitErr != nil {
		return f.submitErr
	}
	f.submitted = append(f.submitted, form)
	return nil
}

// fakeSessionManager stores sessions serialized, like the real repositories:
// every load hands out an independent copy.
type fakeSessionManager struct {
	mu       sync.Mutex
	sessions map[int64][]byte
}

func newFakeSessionManager() *fakeSessionManager {
	return &fakeSessionManager{sessions: make(map[int64][]byte)}
}

func (f *fakeSessionManager) GetSession(ctx context.Context, chatID int64) (*booking.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if data, ok := f.sessions[chatID]; ok {
		var session booking.Session
		if err := json.Unmarshal(data, &session); err != nil {
			return nil, err
		}
		return &session, nil
	}
	return booking.NewSession(chatID), nil
}

func (f *fakeSessionManager) SaveSession(ctx context.Context, session *booking.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[session.ChatID] = data
	return nil
}

func (f *fakeSessionManager) ClearSession(ctx context.Context, chatID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, chatID)
	return nil
}

func (f *fakeSessionManager) CheckRateLimit(ctx context.Context, chatID int64, limit int, window time.Duration) (bool, error) {
	return true, nil
}

func testBotConfig() *config.Config {
	return &config.Config{
		Telegram: config.TelegramConfig{BotToken: "test"},
		Booking: config.BookingConfig{
			Timezone:    "UTC",
			PointsCap:   80,
			PointsRate:  0.1,
			HoldMinutes: 5,
			Popular:     config.PopularConfig{StartHour: 10, EndHour: 14, Weekdays: []int{4, 5}},
		},
		Bot: config.BotConfig{RateLimitMessages: 100, RateLimitWindow: 60},
		Groups: []models.ServiceGroup{
			{ID: 1, Name: "لیزر موهای زائد"},
			{ID: 2, Name: "خدمات پوست"},
		},
	}
}

func newTestBot(t *testing.T, clinicAPI *fakeClinicAPI) (*Bot, *fakeTelegramService, *fakeSessionManager) {
	t.Helper()
	tg := &fakeTelegramService{}
	sessions := newFakeSessionManager()
	logger := zerolog.New(io.Discard)

	b, err := NewBot(tg, testBotConfig(), sessions, clinicAPI, nil, nil, &logger)
	require.NoError(t, err)
	return b, tg, sessions
}

func messageUpdate(chatID int64, text string) tgbotapi.Update {
	entities := []tgbotapi.MessageEntity{}
	if strings.HasPrefix(text, "/") {
		entities = append(entities, tgbotapi.MessageEntity{Type: "bot_command", Offset: 0, Length: len(text)})
	}
	return tgbotapi.Update{Message: &tgbotapi.Message{
		From:     &tgbotapi.User{ID: chatID},
		Chat:     &tgbotapi.Chat{ID: chatID},
		Text:     text,
		Entities: entities,
	}}
}

func callbackUpdate(chatID int64, messageID int, data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:   "cb",
		From: &tgbotapi.User{ID: chatID},
		Data: data,
		Message: &tgbotapi.Message{
			MessageID: messageID,
			Chat:      &tgbotapi.Chat{ID: chatID},
		},
	}}
}

func TestStartCommandShowsGroups(t *testing.T) {
	b, tg, _ := newTestBot(t, &fakeClinicAPI{})

	b.processUpdate(context.Background(), messageUpdate(100, "/start"))

	require.NotEmpty(t, tg.sent)
	last := tg.lastSent()
	require.NotNil(t, last.keyboard)
	assert.Len(t, last.keyboard.InlineKeyboard, 2, "one row per configured group")
	assert.Equal(t, "grp:1", *last.keyboard.InlineKeyboard[0][0].CallbackData)
}

func TestBookingFlow(t *testing.T) {
	const chatID = int64(100)

	slotTime := time.Date(2024, 3, 24, 11, 0, 0, 0, time.UTC)
	clinicAPI := &fakeClinicAPI{
		group: models.GroupInfo{
			Services: []models.Service{
				{ID: 1, Name: "لیزر صورت", Price: 100, Duration: 10},
				{ID: 2, Name: "لیزر بدن", Price: 150, Duration: 20},
			},
			AllowMultiple: true,
		},
		slots: []models.Slot{
			{Start: slotTime},
			{Start: slotTime.Add(time.Hour)},
		},
	}
	b, tg, sessions := newTestBot(t, clinicAPI)
	ctx := context.Background()

	// Pick a group: services checklist appears.
	b.processUpdate(ctx, callbackUpdate(chatID, 1, "grp:1"))
	services := tg.lastSent()
	require.NotNil(t, services.keyboard)
	assert.Len(t, services.keyboard.InlineKeyboard, 2)

	// Pick both services: availability is fetched and the calendar drawn.
	b.processUpdate(ctx, callbackUpdate(chatID, 2, "svc:1"))
	b.processUpdate(ctx, callbackUpdate(chatID, 2, "svc:2"))
	assert.Equal(t, 2, clinicAPI.slotCalls)

	session, err := sessions.GetSession(ctx, chatID)
	require.NoError(t, err)
	assert.Equal(t, int64(250), session.Selection.BasePrice)
	assert.Equal(t, booking.StepCalendar, session.Step)
	require.NotZero(t, session.CalendarMessageID)

	dateKey := booking.DateKey(slotTime, time.UTC)
	require.Len(t, session.DaySlots(dateKey), 2)

	// Pick the day, then the first time of it.
	b.processUpdate(ctx, callbackUpdate(chatID, session.CalendarMessageID, "day:"+dateKey))
	b.processUpdate(ctx, callbackUpdate(chatID, session.CalendarMessageID, "slot:0"))

	session, _ = sessions.GetSession(ctx, chatID)
	assert.True(t, session.Selection.SlotStart.Equal(slotTime))
	assert.True(t, b.holds.get(chatID).Active(), "picking a slot starts the hold")

	// Confirm, acknowledge, submit.
	b.processUpdate(ctx, callbackUpdate(chatID, session.CalendarMessageID, "confirm"))
	session, _ = sessions.GetSession(ctx, chatID)
	assert.Equal(t, booking.StepConfirm, session.Step)

	b.processUpdate(ctx, callbackUpdate(chatID, 9, "ack"))
	session, _ = sessions.GetSession(ctx, chatID)
	assert.True(t, session.Confirmed)

	b.processUpdate(ctx, callbackUpdate(chatID, 9, "submit"))

	require.Len(t, clinicAPI.submitted, 1)
	form := clinicAPI.submitted[0]
	assert.Equal(t, []int64{1, 2}, form.ServiceIDs)
	assert.Equal(t, dateKey, form.DateKey)
	assert.True(t, form.SlotStart.Equal(slotTime))
	assert.False(t, b.holds.get(chatID).Active(), "submit releases the hold")
}

func TestServiceChangeInvalidatesSlot(t *testing.T) {
	const chatID = int64(200)

	slotTime := time.Date(2024, 3, 24, 11, 0, 0, 0, time.UTC)
	clinicAPI := &fakeClinicAPI{
		group: models.GroupInfo{
			Services:      []models.Service{{ID: 1, Price: 100}, {ID: 2, Price: 150}},
			AllowMultiple: true,
		},
		slots: []models.Slot{{Start: slotTime}},
	}
	b, _, sessions := newTestBot(t, clinicAPI)
	ctx := context.Background()

	b.processUpdate(ctx, callbackUpdate(chatID, 1, "grp:1"))
	b.processUpdate(ctx, callbackUpdate(chatID, 2, "svc:1"))

	session, _ := sessions.GetSession(ctx, chatID)
	dateKey := booking.DateKey(slotTime, time.UTC)
	b.processUpdate(ctx, callbackUpdate(chatID, session.CalendarMessageID, "day:"+dateKey))
	b.processUpdate(ctx, callbackUpdate(chatID, session.CalendarMessageID, "slot:0"))

	session, _ = sessions.GetSession(ctx, chatID)
	require.False(t, session.Selection.SlotStart.IsZero())
	gen := session.Selection.Generation

	b.processUpdate(ctx, callbackUpdate(chatID, 2, "svc:2"))

	session, _ = sessions.GetSession(ctx, chatID)
	assert.True(t, session.Selection.SlotStart.IsZero(), "service change drops the held slot")
	assert.Empty(t, session.Selection.DateKey)
	assert.Greater(t, session.Selection.Generation, gen)
}

func TestDeviceRequiredGatesAvailabilityFetch(t *testing.T) {
	const chatID = int64(250)

	clinicAPI := &fakeClinicAPI{
		group: models.GroupInfo{
			Services:   []models.Service{{ID: 1, Price: 100, Duration: 20}, {ID: 2, Price: 150, Duration: 10}},
			Devices:    []models.Device{{ID: 7, Name: "الکس"}},
			HasDevices: true,
		},
		slots: []models.Slot{{Start: time.Date(2024, 3, 24, 11, 0, 0, 0, time.UTC)}},
	}
	b, _, sessions := newTestBot(t, clinicAPI)
	ctx := context.Background()

	b.processUpdate(ctx, callbackUpdate(chatID, 1, "grp:1"))
	b.processUpdate(ctx, callbackUpdate(chatID, 2, "svc:1"))
	assert.Zero(t, clinicAPI.slotCalls, "no fetch until the required device is chosen")

	b.processUpdate(ctx, callbackUpdate(chatID, 2, "dev:7"))
	assert.Equal(t, 1, clinicAPI.slotCalls)

	session, _ := sessions.GetSession(ctx, chatID)
	assert.Equal(t, int64(100), session.Selection.BasePrice)
	assert.Equal(t, 20, session.Selection.TotalDuration)
}

func TestConfirmRequiresCompleteSelection(t *testing.T) {
	b, tg, _ := newTestBot(t, &fakeClinicAPI{})

	b.processUpdate(context.Background(), callbackUpdate(300, 1, "confirm"))

	assert.Empty(t, tg.sent, "incomplete selection never opens the summary")
	require.NotEmpty(t, tg.callbacks)
	assert.NotEmpty(t, tg.callbacks[len(tg.callbacks)-1], "user is told what is missing")
}

func TestSubmitRequiresAcknowledge(t *testing.T) {
	const chatID = int64(400)
	clinicAPI := &fakeClinicAPI{}
	b, _, sessions := newTestBot(t, clinicAPI)
	ctx := context.Background()

	session := booking.NewSession(chatID)
	session.Step = booking.StepConfirm
	session.Selection.SetServices([]models.Service{{ID: 1, Price: 100}})
	session.Selection.SetDate("1403-01-05")
	session.Selection.SetSlot(time.Now())
	require.NoError(t, sessions.SaveSession(ctx, session))
	b.holds.get(chatID).Start(time.Minute, nil, nil)
	t.Cleanup(func() { b.holds.cancel(chatID) })

	b.processUpdate(ctx, callbackUpdate(chatID, 1, "submit"))
	assert.Empty(t, clinicAPI.submitted, "unacknowledged summary must not submit")

	b.processUpdate(ctx, callbackUpdate(chatID, 1, "ack"))
	b.processUpdate(ctx, callbackUpdate(chatID, 1, "submit"))
	assert.Len(t, clinicAPI.submitted, 1)
}

func TestExpiredHoldCannotBeSubmitted(t *testing.T) {
	const chatID = int64(450)
	clinicAPI := &fakeClinicAPI{}
	b, tg, sessions := newTestBot(t, clinicAPI)
	ctx := context.Background()

	slotTime := time.Date(2024, 3, 24, 11, 0, 0, 0, time.UTC)
	session := booking.NewSession(chatID)
	session.Step = booking.StepConfirm
	session.Selection.SetServices([]models.Service{{ID: 1, Price: 100}})
	session.Selection.SetDate(booking.DateKey(slotTime, time.UTC))
	session.Selection.SetSlot(slotTime)
	session.Confirmed = true
	session.SlotsMessageID = 3
	require.NoError(t, sessions.SaveSession(ctx, session))

	// The countdown runs out, then a handler that loaded the session before
	// the expiry writes its stale copy back, resurrecting the slot.
	b.expireHold(chatID)
	require.NoError(t, sessions.SaveSession(ctx, session))

	b.processUpdate(ctx, callbackUpdate(chatID, 1, "submit"))

	assert.Empty(t, clinicAPI.submitted, "a slot whose hold expired must not be submittable")
	require.NotEmpty(t, tg.callbacks)
	assert.Contains(t, tg.callbacks[len(tg.callbacks)-1], "مهلت")
}

func TestStaleAvailabilityDiscarded(t *testing.T) {
	const chatID = int64(475)

	clinicAPI := &fakeClinicAPI{
		group: models.GroupInfo{
			Services:      []models.Service{{ID: 1, Price: 100}, {ID: 2, Price: 150}},
			AllowMultiple: true,
		},
		slots: []models.Slot{{Start: time.Date(2024, 3, 24, 11, 0, 0, 0, time.UTC)}},
	}
	b, _, sessions := newTestBot(t, clinicAPI)
	ctx := context.Background()

	b.processUpdate(ctx, callbackUpdate(chatID, 1, "grp:1"))

	// The selection changes again while the fetch is in flight: the stored
	// session moves to a newer generation before the response lands.
	clinicAPI.slotsHook = func() {
		stored, err := sessions.GetSession(ctx, chatID)
		require.NoError(t, err)
		stored.Selection.SetServices([]models.Service{{ID: 2, Price: 150}})
		require.NoError(t, sessions.SaveSession(ctx, stored))
	}

	b.processUpdate(ctx, callbackUpdate(chatID, 2, "svc:1"))

	session, err := sessions.GetSession(ctx, chatID)
	require.NoError(t, err)
	assert.Empty(t, session.Availability, "outdated response must be dropped")
	assert.Zero(t, session.CalendarMessageID, "no calendar is drawn from a dropped response")
}

func TestDeselectingLastServiceClearsCalendar(t *testing.T) {
	const chatID = int64(480)

	slotTime := time.Date(2024, 3, 24, 11, 0, 0, 0, time.UTC)
	clinicAPI := &fakeClinicAPI{
		group: models.GroupInfo{
			Services:      []models.Service{{ID: 1, Price: 100}},
			AllowMultiple: true,
		},
		slots: []models.Slot{{Start: slotTime}},
	}
	b, tg, sessions := newTestBot(t, clinicAPI)
	ctx := context.Background()

	b.processUpdate(ctx, callbackUpdate(chatID, 1, "grp:1"))
	b.processUpdate(ctx, callbackUpdate(chatID, 2, "svc:1"))

	session, _ := sessions.GetSession(ctx, chatID)
	require.NotEmpty(t, session.Availability)
	require.NotZero(t, session.CalendarMessageID)
	editsBefore := len(tg.edits)

	b.processUpdate(ctx, callbackUpdate(chatID, 2, "svc:1"))

	session, _ = sessions.GetSession(ctx, chatID)
	assert.Empty(t, session.Availability, "deselecting the last service drops the old days")
	assert.Greater(t, len(tg.edits), editsBefore, "the calendar is redrawn empty")

	dateKey := booking.DateKey(slotTime, time.UTC)
	b.processUpdate(ctx, callbackUpdate(chatID, session.CalendarMessageID, "day:"+dateKey))
	session, _ = sessions.GetSession(ctx, chatID)
	assert.Empty(t, session.Selection.DateKey, "a day from the dropped grid is no longer pickable")
}

func TestHoldExpiryClearsSlot(t *testing.T) {
	const chatID = int64(500)
	b, tg, sessions := newTestBot(t, &fakeClinicAPI{})
	ctx := context.Background()

	slotTime := time.Date(2024, 3, 24, 11, 0, 0, 0, time.UTC)
	session := booking.NewSession(chatID)
	session.Step = booking.StepConfirm
	session.Selection.SetServices([]models.Service{{ID: 1, Price: 100}})
	session.Selection.SetDate(booking.DateKey(slotTime, time.UTC))
	session.Selection.SetSlot(slotTime)
	session.Confirmed = true
	session.SlotsMessageID = 3
	require.NoError(t, sessions.SaveSession(ctx, session))

	b.expireHold(chatID)

	session, _ = sessions.GetSession(ctx, chatID)
	assert.True(t, session.Selection.SlotStart.IsZero())
	assert.False(t, session.Confirmed)
	assert.Equal(t, booking.StepCalendar, session.Step)
	require.NotEmpty(t, tg.edits, "the slots message announces the expiry")
}

func TestDiscountCodeMessage(t *testing.T) {
	const chatID = int64(600)
	clinicAPI := &fakeClinicAPI{discount: 50}
	b, tg, sessions := newTestBot(t, clinicAPI)
	ctx := context.Background()

	session := booking.NewSession(chatID)
	session.Step = booking.StepDiscount
	session.Selection.SetServices([]models.Service{{ID: 1, Price: 100}})
	require.NoError(t, sessions.SaveSession(ctx, session))

	b.processUpdate(ctx, messageUpdate(chatID, "SPRING"))

	session, _ = sessions.GetSession(ctx, chatID)
	assert.Equal(t, "SPRING", session.Selection.DiscountCode)
	assert.Equal(t, int64(50), session.Selection.CodeDiscount)
	assert.Equal(t, booking.StepCalendar, session.Step)

	var confirmedMsg bool
	for _, m := range tg.sent {
		if strings.Contains(m.text, "کد تخفیف اعمال شد") {
			confirmedMsg = true
		}
	}
	assert.True(t, confirmedMsg)
}

func TestBlacklistedUserIgnored(t *testing.T) {
	b, tg, _ := newTestBot(t, &fakeClinicAPI{})
	b.config.Bot.Blacklist = []int64{700}

	b.processUpdate(context.Background(), messageUpdate(700, "/start"))

	assert.Empty(t, tg.sent)
}
