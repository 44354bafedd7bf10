package allocation

import (
	"fmt"
	"time"

	"github.com/warp/su-allocator/generic"
)

// =============================================================================
// CLOCK - Wall-clock date -> quarter / period / day offset
// =============================================================================

// Instant is the allocation calendar's view of one moment.
type Instant struct {
	Time         time.Time
	Quarter      QuarterKey
	QuarterStart generic.TimePoint
	DayOffset    int // days since QuarterStart
	PeriodIndex  int
	Period       generic.Period
}

// Clock maps dates onto the configured quarter epoch and period table.
// The time source is injected so tests can pin the date.
type Clock struct {
	cfg Config
	now func() time.Time
}

// NewClock creates a clock. A nil now uses time.Now.
func NewClock(cfg Config, now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{cfg: cfg, now: now}
}

// Now resolves the current time.
func (c *Clock) Now() (Instant, error) {
	return c.At(c.now())
}

// At resolves t. Quarters are calendar quarters starting on the first day
// of January, April, July and October.
func (c *Clock) At(t time.Time) (Instant, error) {
	day := generic.DayOf(t)
	key, start := c.quarterOf(day)
	offset := generic.DaysBetween(start, day)

	idx := -1
	for i, p := range c.cfg.Periods {
		if p.StartDay <= offset {
			idx = i
		}
	}
	if idx < 0 {
		return Instant{}, &generic.ConfigurationError{
			Field:  "periods",
			Reason: fmt.Sprintf("no period starts on or before day %d", offset),
		}
	}

	return Instant{
		Time:         t,
		Quarter:      key,
		QuarterStart: start,
		DayOffset:    offset,
		PeriodIndex:  idx,
		Period:       c.PeriodBounds(start, idx),
	}, nil
}

// PeriodBounds returns the dates of period i of the quarter starting at
// quarterStart. A period ends the day before the next one starts; the
// terminal period ends the day before the next quarter.
func (c *Clock) PeriodBounds(quarterStart generic.TimePoint, i int) generic.Period {
	start := quarterStart.AddDays(c.cfg.Periods[i].StartDay)
	var end generic.TimePoint
	if c.cfg.IsTerminal(i) {
		end = quarterStart.AddMonths(3).AddDays(-1)
	} else {
		end = quarterStart.AddDays(c.cfg.Periods[i+1].StartDay - 1)
	}
	return generic.Period{Start: start, End: end}
}

// QuarterStart returns the first day of the quarter with the given key.
func (c *Clock) QuarterStart(key QuarterKey) generic.TimePoint {
	return generic.StartOfMonth(key.Year, time.Month((key.QuarterOfYear-1)*3+1))
}

func (c *Clock) quarterOf(day generic.TimePoint) (QuarterKey, generic.TimePoint) {
	qoy := (int(day.Month())-1)/3 + 1
	key := QuarterKey{
		Index:         (day.Year()-c.cfg.BaseYear)*4 + (qoy - c.cfg.BaseQuarter),
		Year:          day.Year(),
		QuarterOfYear: qoy,
	}
	return key, c.QuarterStart(key)
}
