// Package session enforces the regular-trading-hours window: when new entries
// are allowed and when open positions must be flattened.
package session

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Config describes one trading session. Times are wall-clock "HH:MM" strings
// in Timezone. TradingDays uses Monday=0 .. Sunday=6.
type Config struct {
	Timezone    string `yaml:"timezone"`
	RTHStart    string `yaml:"rthStart"`
	RTHEnd      string `yaml:"rthEnd"`
	FlattenTime string `yaml:"flattenTime"`
	TradingDays []int  `yaml:"tradingDays"`
}

// minuteOfDay is a wall-clock time, minutes since midnight.
type minuteOfDay int

func parseClock(s string) (minuteOfDay, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("bad clock time %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("bad clock time %q", s)
	}
	return minuteOfDay(h*60 + m), nil
}

// Manager answers session questions in the configured exchange timezone.
// All methods evaluate against an injectable clock so tests can pin the time.
type Manager struct {
	loc         *time.Location
	rthStart    minuteOfDay
	rthEnd      minuteOfDay
	flattenAt   minuteOfDay
	tradingDays map[int]bool

	now func() time.Time
	log *zap.Logger
}

// NewManager parses the config and resolves the timezone.
func NewManager(cfg Config, log *zap.Logger) (*Manager, error) {
	if log == nil {
		log = zap.NewNop()
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("session timezone: %w", err)
	}
	start, err := parseClock(cfg.RTHStart)
	if err != nil {
		return nil, fmt.Errorf("session rthStart: %w", err)
	}
	end, err := parseClock(cfg.RTHEnd)
	if err != nil {
		return nil, fmt.Errorf("session rthEnd: %w", err)
	}
	flatten, err := parseClock(cfg.FlattenTime)
	if err != nil {
		return nil, fmt.Errorf("session flattenTime: %w", err)
	}

	days := make(map[int]bool, len(cfg.TradingDays))
	for _, d := range cfg.TradingDays {
		if d < 0 || d > 6 {
			return nil, fmt.Errorf("session trading day out of range: %d", d)
		}
		days[d] = true
	}

	return &Manager{
		loc:         loc,
		rthStart:    start,
		rthEnd:      end,
		flattenAt:   flatten,
		tradingDays: days,
		now:         time.Now,
		log:         log,
	}, nil
}

// Now returns the current time in the exchange timezone.
func (m *Manager) Now() time.Time {
	return m.now().In(m.loc)
}

// mondayWeekday maps Go's Sunday=0 convention to Monday=0.
func mondayWeekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

func clockOf(t time.Time) minuteOfDay {
	return minuteOfDay(t.Hour()*60 + t.Minute())
}

// IsTradingDay reports whether t falls on a configured trading day.
func (m *Manager) IsTradingDay(t time.Time) bool {
	return m.tradingDays[mondayWeekday(t.In(m.loc))]
}

// IsRTH reports whether t is inside regular trading hours, [rthStart, rthEnd).
func (m *Manager) IsRTH(t time.Time) bool {
	t = t.In(m.loc)
	if !m.IsTradingDay(t) {
		return false
	}
	c := clockOf(t)
	if m.rthStart <= m.rthEnd {
		return m.rthStart <= c && c < m.rthEnd
	}
	// Overnight session: start in the evening, end the next day.
	return c >= m.rthStart || c < m.rthEnd
}

// TradingAllowed reports whether new entries are allowed: inside RTH and
// before the flatten cutoff.
func (m *Manager) TradingAllowed() bool {
	return m.tradingAllowedAt(m.Now())
}

func (m *Manager) tradingAllowedAt(t time.Time) bool {
	t = t.In(m.loc)
	if !m.IsRTH(t) {
		return false
	}
	c := clockOf(t)
	if m.flattenAt <= m.rthEnd && c >= m.flattenAt {
		return false
	}
	return true
}

// ShouldFlatten reports whether open positions must be closed now: past the
// flatten cutoff, past RTH end, or on a non-trading day.
func (m *Manager) ShouldFlatten() bool {
	return m.shouldFlattenAt(m.Now())
}

func (m *Manager) shouldFlattenAt(t time.Time) bool {
	t = t.In(m.loc)
	if !m.IsTradingDay(t) {
		return true
	}
	c := clockOf(t)
	if m.rthStart <= c && c < m.rthEnd && c >= m.flattenAt {
		return true
	}
	return c >= m.rthEnd
}

// TimeUntilFlatten returns the remaining entry window, zero if entries are
// already disallowed.
func (m *Manager) TimeUntilFlatten() time.Duration {
	now := m.Now()
	if !m.tradingAllowedAt(now) {
		return 0
	}
	flatten := time.Date(now.Year(), now.Month(), now.Day(),
		int(m.flattenAt)/60, int(m.flattenAt)%60, 0, 0, m.loc)
	if !flatten.After(now) {
		return 0
	}
	return flatten.Sub(now)
}
