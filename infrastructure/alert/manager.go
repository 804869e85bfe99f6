// Package alert fans urgent trading events out to notification channels,
// with per-message throttling so a flapping condition cannot flood them.
package alert

import (
	"fmt"
	"sync"
	"time"
)

// Alert is one notification.
type Alert struct {
	Level     string // "INFO", "WARNING", "ERROR", "CRITICAL"
	Message   string
	Timestamp time.Time
	Fields    map[string]interface{}
}

// Channel delivers alerts somewhere.
type Channel interface {
	Send(alert Alert) error
	Name() string
}

// Throttler rate-limits alerts by key.
type Throttler struct {
	lastSent map[string]time.Time
	interval time.Duration
	mu       sync.Mutex
}

func NewThrottler(interval time.Duration) *Throttler {
	return &Throttler{
		lastSent: make(map[string]time.Time),
		interval: interval,
	}
}

// Allow reports whether a message for key may be sent now, and records the
// send if so.
func (t *Throttler) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	last, exists := t.lastSent[key]
	if !exists || now.Sub(last) >= t.interval {
		t.lastSent[key] = now
		return true
	}
	return false
}

// Clear drops all throttle records.
func (t *Throttler) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSent = make(map[string]time.Time)
}

// Manager sends alerts to every registered channel.
type Manager struct {
	channels []Channel
	throttle *Throttler
	mu       sync.RWMutex
}

func NewManager(channels []Channel, throttleInterval time.Duration) *Manager {
	return &Manager{
		channels: channels,
		throttle: NewThrottler(throttleInterval),
	}
}

// SendAlert delivers the alert to all channels. Throttled duplicates are
// dropped silently. An error is returned only if every channel failed.
func (m *Manager) SendAlert(alert Alert) error {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}

	key := fmt.Sprintf("%s:%s", alert.Level, alert.Message)
	if !m.throttle.Allow(key) {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var lastErr error
	successCount := 0
	for _, ch := range m.channels {
		if err := ch.Send(alert); err != nil {
			lastErr = fmt.Errorf("channel %s failed: %w", ch.Name(), err)
		} else {
			successCount++
		}
	}
	if successCount == 0 && lastErr != nil {
		return lastErr
	}
	return nil
}

func (m *Manager) SendWarning(message string, fields map[string]interface{}) error {
	return m.SendAlert(Alert{Level: "WARNING", Message: message, Fields: fields})
}

func (m *Manager) SendError(message string, fields map[string]interface{}) error {
	return m.SendAlert(Alert{Level: "ERROR", Message: message, Fields: fields})
}

func (m *Manager) SendCritical(message string, fields map[string]interface{}) error {
	return m.SendAlert(Alert{Level: "CRITICAL", Message: message, Fields: fields})
}

// KillSwitchHandler adapts the manager to the risk governor's kill-switch
// callback: every trip becomes a CRITICAL alert.
func (m *Manager) KillSwitchHandler() func(reason string) {
	return func(reason string) {
		_ = m.SendCritical("kill switch tripped", map[string]interface{}{
			"reason": reason,
		})
	}
}

// AddChannel registers an additional channel.
func (m *Manager) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
}

// GetChannels returns the registered channel names.
func (m *Manager) GetChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.channels))
	for _, ch := range m.channels {
		names = append(names, ch.Name())
	}
	return names
}

// ResetThrottle clears the throttle so suppressed alerts may fire again.
func (m *Manager) ResetThrottle() {
	m.throttle.Clear()
}
