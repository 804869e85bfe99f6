package alert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"
)

// LogChannel writes alerts to a plain log.
type LogChannel struct {
	logger *log.Logger
	name   string
}

func NewLogChannel(name string, output *os.File) *LogChannel {
	if output == nil {
		output = os.Stdout
	}
	return &LogChannel{
		logger: log.New(output, "[ALERT] ", log.LstdFlags),
		name:   name,
	}
}

func (c *LogChannel) Send(alert Alert) error {
	msg := fmt.Sprintf("[%s] %s", alert.Level, alert.Message)
	if len(alert.Fields) > 0 {
		msg += " |"
		for k, v := range alert.Fields {
			msg += fmt.Sprintf(" %s=%v", k, v)
		}
	}
	c.logger.Println(msg)
	return nil
}

func (c *LogChannel) Name() string {
	return c.name
}

// WebhookChannel POSTs alerts as JSON to an HTTP endpoint.
type WebhookChannel struct {
	name   string
	url    string
	client *http.Client
}

func NewWebhookChannel(name, url string) *WebhookChannel {
	return &WebhookChannel{
		name:   name,
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *WebhookChannel) Send(alert Alert) error {
	payload, err := json.Marshal(map[string]interface{}{
		"level":   alert.Level,
		"message": alert.Message,
		"ts":      alert.Timestamp.Format(time.RFC3339),
		"fields":  alert.Fields,
	})
	if err != nil {
		return err
	}
	resp, err := c.client.Post(c.url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}

func (c *WebhookChannel) Name() string {
	return c.name
}

// MockChannel records alerts for test verification.
type MockChannel struct {
	name      string
	alerts    []Alert
	shouldErr bool
}

func NewMockChannel(name string) *MockChannel {
	return &MockChannel{name: name}
}

func (c *MockChannel) Send(alert Alert) error {
	if c.shouldErr {
		return fmt.Errorf("mock error")
	}
	c.alerts = append(c.alerts, alert)
	return nil
}

func (c *MockChannel) Name() string {
	return c.name
}

func (c *MockChannel) GetAlerts() []Alert {
	return c.alerts
}

func (c *MockChannel) SetShouldError(shouldErr bool) {
	c.shouldErr = shouldErr
}

func (c *MockChannel) Count() int {
	return len(c.alerts)
}
