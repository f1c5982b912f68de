package booking

import "nobat/internal/models"

// Step names the stage of the booking dialog a chat is in.
type Step string

const (
	StepGroup    Step = "group"
	StepServices Step = "services"
	StepCalendar Step = "calendar"
	StepDiscount Step = "discount"
	StepConfirm  Step = "confirm"
	StepDone     Step = "done"
)

// Session is one chat's booking-in-progress: the selection record, the
// group's offer the selection was made from, the fetched availability and
// the calendar cursor. It is serialized as a whole into the session store
// and rebuilt on every update, the way the page holds it between events.
type Session struct {
	ChatID int64 `json:"chat_id"`
	Step   Step  `json:"step"`

	GroupID int64            `json:"group_id"`
	Group   models.GroupInfo `json:"group"`

	Selection Selection `json:"selection"`

	// Availability is rebuilt wholesale on every successful slots fetch.
	Availability map[string][]models.Slot `json:"availability,omitempty"`

	// Calendar cursor, Jalali year and month of the displayed grid.
	CalendarYear  int `json:"calendar_year"`
	CalendarMonth int `json:"calendar_month"`

	// CalendarMessageID is the bot message edited in place as the user
	// navigates months; SlotsMessageID holds the day's time buttons and the
	// hold countdown.
	CalendarMessageID int `json:"calendar_message_id"`
	SlotsMessageID    int `json:"slots_message_id"`

	// Confirmed mirrors the final confirmation checkbox: the submit is
	// blocked until the user acknowledges the summary.
	Confirmed bool `json:"confirmed"`
}

// NewSession starts an empty dialog for a chat.
func NewSession(chatID int64) *Session {
	return &Session{ChatID: chatID, Step: StepGroup}
}

// DaySlots returns the fetched slots for a date key.
func (s *Session) DaySlots(key string) []models.Slot {
	if s.Availability == nil {
		return nil
	}
	return s.Availability[key]
}

// ResetForGroup clears everything dependent on the previous group choice.
func (s *Session) ResetForGroup(groupID int64, group models.GroupInfo) {
	s.GroupID = groupID
	s.Group = group
	s.Selection.Reset()
	s.Selection.DeviceRequired = group.HasDevices
	s.Availability = nil
	s.CalendarYear = 0
	s.CalendarMonth = 0
	s.CalendarMessageID = 0
	s.SlotsMessageID = 0
	s.Confirmed = false
	s.Step = StepServices
}
