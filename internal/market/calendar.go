// Package market handles KRX market state awareness.
//
// Design rules (from spec.md §4):
//   - System must know if today is a trading day.
//   - System must know if the market is currently open.
//   - Do not rely only on time checks.
//   - Use exchange calendar data.
//   - One central Calendar module, explicitly constructed (no singleton).
//
// KRX also runs half days — the final session of the year closes at 15:20
// instead of the regular 15:30 — which a plain weekday+holiday check can't
// represent; HolidayEntry.EarlyClose and Calendar.earlyCloses carry that.
package market

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// KST is the Korea Standard Time location KRX sessions are quoted in.
var KST *time.Location

func init() {
	var err error
	KST, err = time.LoadLocation("Asia/Seoul")
	if err != nil {
		panic(fmt.Sprintf("market: failed to load KST timezone: %v", err))
	}
}

// KRX market hours (KST).
const (
	MarketOpenHour  = 9
	MarketOpenMin   = 0
	MarketCloseHour = 15
	MarketCloseMin  = 30
)

// Calendar provides exchange calendar and market state information.
type Calendar struct {
	// holidays is a set of dates (YYYY-MM-DD) when the exchange is closed.
	holidays map[string]string // date -> reason
	// earlyCloses holds the adjusted close time ("HH:MM") for KRX half
	// days — notably the final trading day of the year, which closes at
	// 15:20 rather than 15:30. Absent entries use the regular close.
	earlyCloses map[string]string // date -> "HH:MM"
}

// HolidayEntry represents a single exchange holiday, or a half trading day
// when EarlyClose is set.
type HolidayEntry struct {
	Date       string `json:"date"`                  // YYYY-MM-DD
	Reason     string `json:"reason"`                // e.g., "Seollal", "Chuseok"
	EarlyClose string `json:"early_close,omitempty"` // "HH:MM", e.g. the year's last session
}

// NewCalendar creates a Calendar from a JSON holiday file. The file should
// contain an array of HolidayEntry objects; an entry with EarlyClose set
// but an empty Reason marks a half day rather than a closure.
func NewCalendar(holidayFilePath string) (*Calendar, error) {
	data, err := os.ReadFile(holidayFilePath)
	if err != nil {
		return nil, fmt.Errorf("market calendar: read holidays file: %w", err)
	}

	var entries []HolidayEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("market calendar: parse holidays: %w", err)
	}

	holidays := make(map[string]string, len(entries))
	earlyCloses := make(map[string]string)
	for _, e := range entries {
		if e.EarlyClose != "" {
			earlyCloses[e.Date] = e.EarlyClose
			if e.Reason == "" {
				continue // half day, not a closure
			}
		}
		holidays[e.Date] = e.Reason
	}

	return &Calendar{holidays: holidays, earlyCloses: earlyCloses}, nil
}

// NewCalendarFromHolidays creates a Calendar directly from a holiday map,
// with no half days. Useful for tests.
func NewCalendarFromHolidays(holidays map[string]string) *Calendar {
	return &Calendar{holidays: holidays}
}

// NewCalendarFromHolidaysAndEarlyCloses is NewCalendarFromHolidays plus a
// date->"HH:MM" map of KRX half-day closes, for tests that exercise
// early-close behavior without a holiday file.
func NewCalendarFromHolidaysAndEarlyCloses(holidays, earlyCloses map[string]string) *Calendar {
	return &Calendar{holidays: holidays, earlyCloses: earlyCloses}
}

// IsTradingDay returns true if the given date is a valid trading day.
// A trading day is a weekday that is not an exchange holiday.
func (c *Calendar) IsTradingDay(date time.Time) bool {
	d := date.In(KST)

	// Weekends are not trading days.
	if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		return false
	}

	// Check exchange holidays.
	dateStr := d.Format("2006-01-02")
	if _, isHoliday := c.holidays[dateStr]; isHoliday {
		return false
	}

	return true
}

// HolidayReason returns the reason for a holiday, or empty string if not a holiday.
func (c *Calendar) HolidayReason(date time.Time) string {
	dateStr := date.In(KST).Format("2006-01-02")
	return c.holidays[dateStr]
}

// IsEarlyClose reports whether date is a KRX half day and, if so, the
// adjusted close time.
func (c *Calendar) IsEarlyClose(date time.Time) (hour, min int, ok bool) {
	dateStr := date.In(KST).Format("2006-01-02")
	raw, present := c.earlyCloses[dateStr]
	if !present {
		return 0, 0, false
	}
	h, m, err := parseHHMM(raw)
	if err != nil {
		return 0, 0, false
	}
	return h, m, true
}

// closeTimeFor returns the close hour/minute in effect for date: the
// regular 15:30 close, or an early-close override for a KRX half day.
func (c *Calendar) closeTimeFor(date time.Time) (hour, min int) {
	if h, m, ok := c.IsEarlyClose(date); ok {
		return h, m
	}
	return MarketCloseHour, MarketCloseMin
}

func parseHHMM(s string) (int, int, error) {
	var hour, min int
	if _, err := fmt.Sscanf(s, "%d:%d", &hour, &min); err != nil {
		return 0, 0, fmt.Errorf("market calendar: invalid early_close %q: %w", s, err)
	}
	return hour, min, nil
}

// IsMarketOpen returns true if the KRX is currently in trading hours,
// honoring a half-day's earlier close.
func (c *Calendar) IsMarketOpen(now time.Time) bool {
	t := now.In(KST)

	if !c.IsTradingDay(t) {
		return false
	}

	closeHour, closeMin := c.closeTimeFor(t)
	currentMinutes := t.Hour()*60 + t.Minute()
	openMinutes := MarketOpenHour*60 + MarketOpenMin
	closeMinutes := closeHour*60 + closeMin

	return currentMinutes >= openMinutes && currentMinutes < closeMinutes
}

// TimeUntilNextSession returns the duration until the next market open.
// If the market is currently open, returns 0.
func (c *Calendar) TimeUntilNextSession(now time.Time) time.Duration {
	t := now.In(KST)

	if c.IsMarketOpen(t) {
		return 0
	}

	// Find the next trading day.
	candidate := t
	for i := 0; i < 10; i++ { // Look ahead up to 10 days.
		// If we're before market open today and today is a trading day, next open is today.
		if i == 0 && c.IsTradingDay(candidate) {
			todayOpen := time.Date(candidate.Year(), candidate.Month(), candidate.Day(),
				MarketOpenHour, MarketOpenMin, 0, 0, KST)
			if t.Before(todayOpen) {
				return todayOpen.Sub(t)
			}
		}

		// Try next day.
		candidate = candidate.AddDate(0, 0, 1)
		if c.IsTradingDay(candidate) {
			nextOpen := time.Date(candidate.Year(), candidate.Month(), candidate.Day(),
				MarketOpenHour, MarketOpenMin, 0, 0, KST)
			return nextOpen.Sub(t)
		}
	}

	// Fallback: this shouldn't happen with reasonable holiday data.
	return 24 * time.Hour
}

// NextTradingDay returns the next trading day after the given date.
func (c *Calendar) NextTradingDay(date time.Time) time.Time {
	candidate := date.In(KST).AddDate(0, 0, 1)
	for i := 0; i < 10; i++ {
		if c.IsTradingDay(candidate) {
			return candidate
		}
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

// PreviousTradingDay returns the most recent trading day before the given date.
func (c *Calendar) PreviousTradingDay(date time.Time) time.Time {
	candidate := date.In(KST).AddDate(0, 0, -1)
	for i := 0; i < 10; i++ {
		if c.IsTradingDay(candidate) {
			return candidate
		}
		candidate = candidate.AddDate(0, 0, -1)
	}
	return candidate
}
