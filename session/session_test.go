package session

import (
	"testing"
	"time"
)

func rthConfig() Config {
	return Config{
		Timezone:    "America/New_York",
		RTHStart:    "09:30",
		RTHEnd:      "16:00",
		FlattenTime: "15:55",
		TradingDays: []int{0, 1, 2, 3, 4}, // Monday..Friday
	}
}

func managerAt(t *testing.T, clock string) *Manager {
	t.Helper()
	m, err := NewManager(rthConfig(), nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	loc, _ := time.LoadLocation("America/New_York")
	fixed, err := time.ParseInLocation("2006-01-02 15:04", clock, loc)
	if err != nil {
		t.Fatalf("parse clock: %v", err)
	}
	m.now = func() time.Time { return fixed }
	return m
}

// 2025-06-02 is a Monday.

func TestTradingAllowedInsideRTH(t *testing.T) {
	m := managerAt(t, "2025-06-02 10:00")
	if !m.TradingAllowed() {
		t.Fatal("expected entries allowed mid-session")
	}
	if m.ShouldFlatten() {
		t.Fatal("no flatten mid-session")
	}
}

func TestPreOpenAndPostClose(t *testing.T) {
	if m := managerAt(t, "2025-06-02 09:00"); m.TradingAllowed() {
		t.Fatal("no entries before the open")
	}
	if m := managerAt(t, "2025-06-02 16:30"); m.TradingAllowed() {
		t.Fatal("no entries after the close")
	}
	if m := managerAt(t, "2025-06-02 16:30"); !m.ShouldFlatten() {
		t.Fatal("must flatten after the close")
	}
}

func TestRTHBoundaries(t *testing.T) {
	if m := managerAt(t, "2025-06-02 09:30"); !m.TradingAllowed() {
		t.Fatal("open is inclusive")
	}
	if m := managerAt(t, "2025-06-02 16:00"); m.IsRTH(m.Now()) {
		t.Fatal("close is exclusive")
	}
}

func TestFlattenCutoff(t *testing.T) {
	m := managerAt(t, "2025-06-02 15:56")
	if m.TradingAllowed() {
		t.Fatal("no new entries after the flatten cutoff")
	}
	if !m.ShouldFlatten() {
		t.Fatal("positions must flatten after the cutoff")
	}
	if m.TimeUntilFlatten() != 0 {
		t.Fatal("no remaining entry window after the cutoff")
	}
}

func TestWeekend(t *testing.T) {
	// 2025-06-07 is a Saturday.
	m := managerAt(t, "2025-06-07 10:00")
	if m.TradingAllowed() {
		t.Fatal("no entries on a non-trading day")
	}
	if !m.ShouldFlatten() {
		t.Fatal("positions on a non-trading day must flatten immediately")
	}
}

func TestTimeUntilFlatten(t *testing.T) {
	m := managerAt(t, "2025-06-02 15:00")
	if got := m.TimeUntilFlatten(); got != 55*time.Minute {
		t.Fatalf("expected 55m until flatten, got %s", got)
	}
}

func TestConfigValidation(t *testing.T) {
	cfg := rthConfig()
	cfg.RTHStart = "25:00"
	if _, err := NewManager(cfg, nil); err == nil {
		t.Fatal("expected bad clock error")
	}

	cfg = rthConfig()
	cfg.Timezone = "Not/AZone"
	if _, err := NewManager(cfg, nil); err == nil {
		t.Fatal("expected bad timezone error")
	}

	cfg = rthConfig()
	cfg.TradingDays = []int{7}
	if _, err := NewManager(cfg, nil); err == nil {
		t.Fatal("expected bad trading day error")
	}
}
