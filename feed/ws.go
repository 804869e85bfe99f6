package feed

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"futures-exec-go/broker"
)

// tickMessage is the wire shape of one tick on the feed endpoint.
type tickMessage struct {
	Symbol    string `json:"symbol"`
	Price     string `json:"price"`
	Volume    int64  `json:"volume"`
	Timestamp int64  `json:"ts"` // unix milliseconds
}

func parseTick(data []byte) (broker.Tick, error) {
	var msg tickMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return broker.Tick{}, fmt.Errorf("tick message: %w", err)
	}
	if msg.Symbol == "" {
		return broker.Tick{}, fmt.Errorf("tick message: empty symbol")
	}
	price, err := decimal.NewFromString(msg.Price)
	if err != nil {
		return broker.Tick{}, fmt.Errorf("tick price %q: %w", msg.Price, err)
	}
	return broker.Tick{
		Symbol:    msg.Symbol,
		Price:     price,
		Volume:    msg.Volume,
		Timestamp: time.UnixMilli(msg.Timestamp),
	}, nil
}

// WSFeed streams JSON tick messages from a WebSocket endpoint into a sink,
// reconnecting with capped exponential backoff when the connection drops.
type WSFeed struct {
	URL    string
	Dialer *websocket.Dialer

	sink TickSink
	log  *zap.Logger

	stopChan chan struct{}
	doneChan chan struct{}
}

func NewWSFeed(url string, sink TickSink, log *zap.Logger) *WSFeed {
	if log == nil {
		log = zap.NewNop()
	}
	return &WSFeed{
		URL:      url,
		Dialer:   websocket.DefaultDialer,
		sink:     sink,
		log:      log,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start launches the read loop.
func (f *WSFeed) Start() {
	go f.run()
}

// Stop terminates the read loop and waits for it.
func (f *WSFeed) Stop() {
	close(f.stopChan)
	<-f.doneChan
}

func (f *WSFeed) run() {
	defer close(f.doneChan)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-f.stopChan:
			return
		default:
		}

		conn, _, err := f.Dialer.Dial(f.URL, nil)
		if err != nil {
			f.log.Warn("feed dial failed",
				zap.String("url", f.URL),
				zap.Duration("retry_in", backoff),
				zap.Error(err))
			select {
			case <-time.After(backoff):
			case <-f.stopChan:
				return
			}
			if backoff *= 2; backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		f.log.Info("feed connected", zap.String("url", f.URL))
		backoff = time.Second
		f.readLoop(conn)
		conn.Close()

		select {
		case <-f.stopChan:
			return
		default:
			f.log.Warn("feed disconnected, reconnecting")
		}
	}
}

func (f *WSFeed) readLoop(conn *websocket.Conn) {
	// Unblock ReadMessage when Stop is called.
	closed := make(chan struct{})
	defer close(closed)
	go func() {
		select {
		case <-f.stopChan:
			conn.Close()
		case <-closed:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		tick, err := parseTick(message)
		if err != nil {
			f.log.Warn("bad tick message", zap.Error(err))
			continue
		}
		f.sink.ProcessTick(tick)
	}
}
