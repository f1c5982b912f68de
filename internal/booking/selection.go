package booking

import (
	"time"

	"nobat/internal/models"
)

// Selection is the single mutable record of the booking flow: the user's
// current choices plus the values derived from them. The server stays the
// source of truth for availability and final pricing; this record only
// mirrors the arithmetic for instant feedback.
//
// Invariant: changing services or the device invalidates the chosen date and
// slot, because availability must be re-fetched for the new combination.
type Selection struct {
	Services       []models.Service `json:"services"`
	DeviceID       int64            `json:"device_id"`
	DeviceRequired bool             `json:"device_required"`
	DateKey        string           `json:"date_key"`
	SlotStart      time.Time        `json:"slot_start"`

	BasePrice     int64 `json:"base_price"`
	TotalDuration int   `json:"total_duration"`

	PointsEnabled bool   `json:"points_enabled"`
	DiscountCode  string `json:"discount_code"`
	CodeDiscount  int64  `json:"code_discount"`

	// Generation counts availability-invalidating mutations. A slots
	// response fetched for an older generation must be discarded: a later
	// user choice wins over an earlier, slower response.
	Generation uint64 `json:"generation"`
}

// SetServices replaces the selected services and recomputes price and
// duration from their attached metadata. The chosen date and slot are
// cleared, and any applied discount code is reset.
func (s *Selection) SetServices(services []models.Service) {
	s.Services = services

	s.BasePrice = 0
	s.TotalDuration = 0
	for _, svc := range services {
		s.BasePrice += svc.Price
		s.TotalDuration += svc.Duration
	}

	s.ClearDiscount()
	s.invalidateSchedule()
}

// SetDevice replaces the chosen device and invalidates date and slot.
func (s *Selection) SetDevice(id int64) {
	s.DeviceID = id
	s.invalidateSchedule()
}

// SetDate records the chosen day. The slot is chosen after the date in the
// same flow, so it is left untouched here.
func (s *Selection) SetDate(key string) {
	s.DateKey = key
}

// SetSlot records the final value that will be submitted.
func (s *Selection) SetSlot(start time.Time) {
	s.SlotStart = start
}

// ClearSlot drops the tentative slot, e.g. when the reservation hold
// expires or a new day is picked.
func (s *Selection) ClearSlot() {
	s.SlotStart = time.Time{}
}

// ApplyDiscount stores the server-validated discount amount for a code.
func (s *Selection) ApplyDiscount(code string, amount int64) {
	s.DiscountCode = code
	s.CodeDiscount = amount
}

// ClearDiscount resets the code discount, e.g. after a failed validation or
// when the services change.
func (s *Selection) ClearDiscount() {
	s.DiscountCode = ""
	s.CodeDiscount = 0
}

// Reset returns the record to its initial empty state. Used when the
// service group changes.
func (s *Selection) Reset() {
	*s = Selection{Generation: s.Generation + 1}
}

func (s *Selection) invalidateSchedule() {
	s.DateKey = ""
	s.SlotStart = time.Time{}
	s.Generation++
}

// ServiceIDs returns the ids of the selected services in order.
func (s *Selection) ServiceIDs() []int64 {
	ids := make([]int64, 0, len(s.Services))
	for _, svc := range s.Services {
		ids = append(ids, svc.ID)
	}
	return ids
}

// HasService reports whether a service id is currently selected.
func (s *Selection) HasService(id int64) bool {
	for _, svc := range s.Services {
		if svc.ID == id {
			return true
		}
	}
	return false
}

// PointsDiscount is the loyalty discount actually applicable: capped by the
// server-supplied maximum and never more than the base price.
func (s *Selection) PointsDiscount(pointsCap int64) int64 {
	if !s.PointsEnabled {
		return 0
	}
	return min(s.BasePrice, pointsCap)
}

// FinalPrice mirrors the server's formula: base minus both discounts,
// floored at zero.
func (s *Selection) FinalPrice(pointsCap int64) int64 {
	price := s.BasePrice - s.PointsDiscount(pointsCap) - s.CodeDiscount
	return max(0, price)
}

// EarnedPoints is the loyalty reward for the final price at the configured
// earning rate.
func (s *Selection) EarnedPoints(pointsCap int64, rate float64) int64 {
	if rate <= 0 {
		return 0
	}
	return int64(float64(s.FinalPrice(pointsCap)) * rate)
}

// RequiredComplete reports whether everything needed for the final submit is
// present: at least one service, a device when the group requires one, and
// a chosen slot.
func (s *Selection) RequiredComplete() bool {
	if len(s.Services) == 0 {
		return false
	}
	if s.DeviceRequired && s.DeviceID == 0 {
		return false
	}
	return !s.SlotStart.IsZero()
}
