package bot

import (
	"fmt"
	"strconv"
	"strings"

	"nobat/internal/booking"
)

// formatToman renders a price with thousands separators and the currency
// suffix, e.g. 1250000 -> "1,250,000 تومان".
func formatToman(amount int64) string {
	neg := amount < 0
	if neg {
		amount = -amount
	}

	digits := strconv.FormatInt(amount, 10)
	var sb strings.Builder
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			sb.WriteByte(',')
		}
		sb.WriteRune(d)
	}

	out := sb.String()
	if neg {
		out = "-" + out
	}
	return out + " تومان"
}

// summaryText is the running order summary shown above the calendar: chosen
// services, duration, the price breakdown and, once picked, the day and
// time.
func (b *Bot) summaryText(session *booking.Session) string {
	sel := &session.Selection

	var sb strings.Builder
	sb.WriteString("🗓 رزرو نوبت\n\n")

	if len(sel.Services) == 0 {
		sb.WriteString("هنوز خدمتی انتخاب نشده است.\n")
		return sb.String()
	}

	sb.WriteString("خدمات انتخابی:\n")
	for _, svc := range sel.Services {
		fmt.Fprintf(&sb, "• %s — %s\n", svc.Name, formatToman(svc.Price))
	}
	if sel.DeviceID != 0 {
		if dev, ok := session.Group.DeviceByID(sel.DeviceID); ok {
			fmt.Fprintf(&sb, "دستگاه: %s\n", dev.Name)
		}
	}
	fmt.Fprintf(&sb, "مدت زمان: %d دقیقه\n\n", sel.TotalDuration)

	pointsCap := b.config.Booking.PointsCap
	fmt.Fprintf(&sb, "جمع: %s\n", formatToman(sel.BasePrice))
	if d := sel.PointsDiscount(pointsCap); d > 0 {
		fmt.Fprintf(&sb, "تخفیف امتیاز: %s\n", formatToman(d))
	}
	if sel.CodeDiscount > 0 {
		fmt.Fprintf(&sb, "تخفیف کد %s: %s\n", sel.DiscountCode, formatToman(sel.CodeDiscount))
	}
	fmt.Fprintf(&sb, "مبلغ نهایی: %s\n", formatToman(sel.FinalPrice(pointsCap)))

	if sel.DateKey != "" {
		fmt.Fprintf(&sb, "\nروز: %s\n", sel.DateKey)
	}
	if !sel.SlotStart.IsZero() {
		fmt.Fprintf(&sb, "ساعت: %s\n", sel.SlotStart.In(b.loc).Format("15:04"))
	}

	return sb.String()
}

// confirmText is the final summary the user must acknowledge before the
// submit, including the loyalty points the booking will earn.
func (b *Bot) confirmText(session *booking.Session) string {
	sel := &session.Selection
	var sb strings.Builder
	sb.WriteString("لطفاً اطلاعات نوبت را بررسی و تایید کنید:\n\n")
	sb.WriteString(b.summaryText(session))

	if earned := sel.EarnedPoints(b.config.Booking.PointsCap, b.config.Booking.PointsRate); earned > 0 {
		fmt.Fprintf(&sb, "\n⭐️ امتیاز این رزرو: %d\n", earned)
	}
	return sb.String()
}

// holdText formats the countdown line shown under the day's time buttons.
func holdText(remaining string) string {
	return fmt.Sprintf("⏳ این نوبت به مدت %s برای شما نگه داشته شده است. برای قطعی شدن، رزرو را تایید کنید.", remaining)
}
