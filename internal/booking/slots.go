package booking

import (
	"fmt"
	"sort"
	"time"

	"nobat/internal/models"

	ptime "github.com/yaa110/go-persian-calendar"
)

// DateKey formats an absolute instant as the Jalali day key used to index
// the availability map, e.g. "1404-01-01".
func DateKey(t time.Time, loc *time.Location) string {
	pt := ptime.New(t.In(loc))
	return fmt.Sprintf("%04d-%02d-%02d", pt.Year(), int(pt.Month()), pt.Day())
}

// GroupByDay rebuilds the availability map from a flat slot list: date key
// to the day's slots, sorted by start time. Days without slots are simply
// absent, never present with an empty list.
func GroupByDay(slots []models.Slot, loc *time.Location) map[string][]models.Slot {
	grouped := make(map[string][]models.Slot)
	for _, slot := range slots {
		key := DateKey(slot.Start, loc)
		grouped[key] = append(grouped[key], slot)
	}
	for key := range grouped {
		day := grouped[key]
		sort.Slice(day, func(i, j int) bool { return day[i].Start.Before(day[j].Start) })
		grouped[key] = day
	}
	return grouped
}

// FirstSlot returns the earliest slot of the list, for the "book the first
// available time" shortcut.
func FirstSlot(slots []models.Slot) (models.Slot, bool) {
	if len(slots) == 0 {
		return models.Slot{}, false
	}
	first := slots[0]
	for _, slot := range slots[1:] {
		if slot.Start.Before(first.Start) {
			first = slot
		}
	}
	return first, true
}

// PopularRule tags slots the marketing team wants highlighted: start hour
// inside a band, or the slot's Jalali weekday (Saturday = 0) in a fixed
// set. The thresholds drifted between site revisions, so they come from
// configuration.
type PopularRule struct {
	StartHour int
	EndHour   int
	Weekdays  []int
}

// Popular reports whether the slot gets the popular tag.
func (r PopularRule) Popular(start time.Time, loc *time.Location) bool {
	local := start.In(loc)
	hour := local.Hour()
	if hour >= r.StartHour && hour < r.EndHour {
		return true
	}
	weekday := int(ptime.New(local).Weekday())
	for _, d := range r.Weekdays {
		if weekday == d {
			return true
		}
	}
	return false
}

// SlotLabel is the button label for a slot: the pre-formatted server label
// when present, otherwise the local wall-clock time.
func SlotLabel(slot models.Slot, loc *time.Location) string {
	if slot.ReadableStart != "" {
		return slot.ReadableStart
	}
	return slot.Start.In(loc).Format("15:04")
}
