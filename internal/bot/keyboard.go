package bot

import (
	"fmt"

	"nobat/internal/booking"
	"nobat/internal/calendar"
	"nobat/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const cbNoop = "noop"

// groupKeyboard lists the configured service groups, one per row.
func (b *Bot) groupKeyboard() tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(b.config.Groups))
	for _, group := range b.config.Groups {
		rows = append(rows, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData(group.Name, fmt.Sprintf("grp:%d", group.ID)),
		})
	}
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// servicesKeyboard renders the group's services as a checklist, and its
// devices below when the group needs one. Selected entries are marked.
func servicesKeyboard(session *booking.Session) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(session.Group.Services)+len(session.Group.Devices))

	for _, svc := range session.Group.Services {
		mark := "▫️"
		if session.Selection.HasService(svc.ID) {
			mark = "✅"
		}
		label := fmt.Sprintf("%s %s — %s", mark, svc.Name, formatToman(svc.Price))
		rows = append(rows, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData(label, fmt.Sprintf("svc:%d", svc.ID)),
		})
	}

	for _, dev := range session.Group.Devices {
		mark := "▫️"
		if session.Selection.DeviceID == dev.ID {
			mark = "✅"
		}
		rows = append(rows, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("%s دستگاه %s", mark, dev.Name), fmt.Sprintf("dev:%d", dev.ID)),
		})
	}

	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// calendarKeyboard renders a month grid as an inline keyboard:
// Saturday-first weekday header, leading blanks, then one button per day.
// Available days show a density marker; past and unavailable days are inert.
func calendarKeyboard(grid calendar.MonthGrid) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, 8)

	// Weekday header, Saturday through Friday.
	header := make([]tgbotapi.InlineKeyboardButton, 0, 7)
	for _, day := range []string{"ش", "ی", "د", "س", "چ", "پ", "ج"} {
		header = append(header, tgbotapi.NewInlineKeyboardButtonData(day, cbNoop))
	}
	rows = append(rows, header)

	row := make([]tgbotapi.InlineKeyboardButton, 0, 7)
	for i := 0; i < grid.Offset; i++ {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(" ", cbNoop))
	}

	for _, cell := range grid.Cells {
		if len(row) == 7 {
			rows = append(rows, row)
			row = make([]tgbotapi.InlineKeyboardButton, 0, 7)
		}
		row = append(row, dayButton(cell))
	}
	for len(row) < 7 {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(" ", cbNoop))
	}
	rows = append(rows, row)

	// Month navigation. The previous-month control disappears once the
	// cursor reaches the month containing today.
	prev := tgbotapi.NewInlineKeyboardButtonData(" ", cbNoop)
	if grid.AllowPrev {
		prev = tgbotapi.NewInlineKeyboardButtonData("ماه قبل ⬅️", "cal:prev")
	}
	rows = append(rows, []tgbotapi.InlineKeyboardButton{
		prev,
		tgbotapi.NewInlineKeyboardButtonData(grid.Label, cbNoop),
		tgbotapi.NewInlineKeyboardButtonData("➡️ ماه بعد", "cal:next"),
	})

	rows = append(rows,
		[]tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData("⚡️ اولین نوبت خالی", "first"),
		},
		[]tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData("⭐️ استفاده از امتیاز", "points:toggle"),
			tgbotapi.NewInlineKeyboardButtonData("🎟 کد تخفیف", "disc"),
		},
		[]tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData("✅ ادامه و تایید نوبت", "confirm"),
		},
	)

	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func dayButton(cell calendar.DayCell) tgbotapi.InlineKeyboardButton {
	switch cell.State {
	case calendar.DayPast:
		return tgbotapi.NewInlineKeyboardButtonData("·", cbNoop)
	case calendar.DayUnavailable:
		return tgbotapi.NewInlineKeyboardButtonData("✕", cbNoop)
	}

	label := fmt.Sprintf("%d", cell.Day)
	switch cell.State {
	case calendar.DayAvailableMedium:
		label += "•"
	case calendar.DayAvailableHigh:
		label += "••"
	}
	return tgbotapi.NewInlineKeyboardButtonData(label, "day:"+cell.Key)
}

// slotsKeyboard renders the chosen day's times, three per row, with the
// popular tag and the active mark on the held slot. A shortcut to the first
// available time of the whole window sits on top.
func (b *Bot) slotsKeyboard(session *booking.Session, slots []models.Slot) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0)

	row := make([]tgbotapi.InlineKeyboardButton, 0, 3)
	for i, slot := range slots {
		label := booking.SlotLabel(slot, b.loc)
		if b.popular.Popular(slot.Start, b.loc) {
			label = "🔥 " + label
		}
		if !session.Selection.SlotStart.IsZero() && slot.Start.Equal(session.Selection.SlotStart) {
			label = "✅ " + label
		}
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(label, fmt.Sprintf("slot:%d", i)))
		if len(row) == 3 {
			rows = append(rows, row)
			row = make([]tgbotapi.InlineKeyboardButton, 0, 3)
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}

	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// confirmKeyboard is the final confirmation step: acknowledge the summary,
// then submit. The submit button stays inert until acknowledged, so a
// double tap cannot post the form twice.
func confirmKeyboard(confirmed bool) tgbotapi.InlineKeyboardMarkup {
	ack := "☑️ اطلاعات را تایید می‌کنم"
	submitData := cbNoop
	if confirmed {
		ack = "✅ اطلاعات تایید شد"
		submitData = "submit"
	}
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{
		{tgbotapi.NewInlineKeyboardButtonData(ack, "ack")},
		{tgbotapi.NewInlineKeyboardButtonData("📝 ثبت نهایی نوبت", submitData)},
		{tgbotapi.NewInlineKeyboardButtonData("↩️ شروع مجدد", "cancel")},
	}}
}
