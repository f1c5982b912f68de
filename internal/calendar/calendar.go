package calendar

import (
	"fmt"
	"time"

	"nobat/internal/models"

	ptime "github.com/yaa110/go-persian-calendar"
)

// DayState classifies one cell of the month grid. Every day is exactly one
// of these.
type DayState string

const (
	DayPast            DayState = "past"
	DayUnavailable     DayState = "unavailable"
	DayAvailableLow    DayState = "available-low"
	DayAvailableMedium DayState = "available-medium"
	DayAvailableHigh   DayState = "available-high"
)

// Selectable reports whether a cell in this state reacts to a click.
func (s DayState) Selectable() bool {
	switch s {
	case DayAvailableLow, DayAvailableMedium, DayAvailableHigh:
		return true
	}
	return false
}

// DayCell is one rendered day. Available cells carry their slot list so a
// day click needs no second fetch.
type DayCell struct {
	Day   int
	Key   string
	State DayState
	Slots []models.Slot
}

// MonthGrid is the view model of one Jalali month: Saturday-first, Offset
// leading blanks before day 1, then one cell per day.
type MonthGrid struct {
	Year      int
	Month     int
	Label     string
	Offset    int
	Cells     []DayCell
	AllowPrev bool
}

// Cursor is the month currently displayed, in the Jalali calendar.
type Cursor struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

// Next moves the cursor one month forward.
func (c Cursor) Next() Cursor {
	if c.Month == 12 {
		return Cursor{Year: c.Year + 1, Month: 1}
	}
	return Cursor{Year: c.Year, Month: c.Month + 1}
}

// Prev moves the cursor one month back.
func (c Cursor) Prev() Cursor {
	if c.Month == 1 {
		return Cursor{Year: c.Year - 1, Month: 12}
	}
	return Cursor{Year: c.Year, Month: c.Month - 1}
}

// After reports whether c is strictly after other.
func (c Cursor) After(other Cursor) bool {
	if c.Year != other.Year {
		return c.Year > other.Year
	}
	return c.Month > other.Month
}

// Calendar renders Jalali month grids for a fixed location.
type Calendar struct {
	loc *time.Location
}

// New creates a renderer for the given location.
func New(loc *time.Location) *Calendar {
	return &Calendar{loc: loc}
}

// Today returns the current day in the Jalali calendar.
func (cal *Calendar) Today(now time.Time) ptime.Time {
	return ptime.New(now.In(cal.loc))
}

// CursorFor returns the cursor of the month containing the given day.
func (cal *Calendar) CursorFor(day ptime.Time) Cursor {
	return Cursor{Year: day.Year(), Month: int(day.Month())}
}

// BuildMonth renders the cursor month against the availability map.
//
// Classification per day, in order: strictly before today means past, with
// no availability lookup at all; a present date key means available with a
// density tier (1-3 low, 4-7 medium, 8 and up high); anything else is
// unavailable. Today itself is bookable when the map says so.
func (cal *Calendar) BuildMonth(cursor Cursor, availability map[string][]models.Slot, today ptime.Time) MonthGrid {
	first := ptime.Date(cursor.Year, ptime.Month(cursor.Month), 1, 0, 0, 0, 0, cal.loc)

	grid := MonthGrid{
		Year:      cursor.Year,
		Month:     cursor.Month,
		Label:     fmt.Sprintf("%s %d", first.Month().String(), cursor.Year),
		Offset:    int(first.Weekday()), // Saturday-indexed, 0..6
		AllowPrev: cursor.After(cal.CursorFor(today)),
	}

	days := daysInJalaliMonth(first)
	for day := 1; day <= days; day++ {
		cell := DayCell{
			Day: day,
			Key: fmt.Sprintf("%04d-%02d-%02d", cursor.Year, cursor.Month, day),
		}

		switch {
		case beforeToday(cursor, day, today):
			cell.State = DayPast
		default:
			slots := availability[cell.Key]
			switch n := len(slots); {
			case n == 0:
				cell.State = DayUnavailable
			case n <= 3:
				cell.State = DayAvailableLow
				cell.Slots = slots
			case n <= 7:
				cell.State = DayAvailableMedium
				cell.Slots = slots
			default:
				cell.State = DayAvailableHigh
				cell.Slots = slots
			}
		}

		grid.Cells = append(grid.Cells, cell)
	}

	return grid
}

func beforeToday(cursor Cursor, day int, today ptime.Time) bool {
	if cursor.Year != today.Year() {
		return cursor.Year < today.Year()
	}
	if cursor.Month != int(today.Month()) {
		return cursor.Month < int(today.Month())
	}
	return day < today.Day()
}

// daysInJalaliMonth: months 1-6 have 31 days, 7-11 have 30, Esfand 29
// (30 in leap years).
func daysInJalaliMonth(first ptime.Time) int {
	month := int(first.Month())
	switch {
	case month <= 6:
		return 31
	case month <= 11:
		return 30
	default:
		if first.IsLeap() {
			return 30
		}
		return 29
	}
}
