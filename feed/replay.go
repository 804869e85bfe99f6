// Package feed delivers market data ticks to a sink: either replayed from a
// recorded series or streamed from a WebSocket endpoint.
package feed

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"futures-exec-go/broker"
)

// TickSink consumes ticks in order. The simulated broker is the usual sink.
type TickSink interface {
	ProcessTick(broker.Tick)
}

// ReadTickFile loads a recorded tick series: one JSON tick message per line,
// the same wire shape the WebSocket feed uses. Blank lines and # comments are
// skipped.
func ReadTickFile(path string) ([]broker.Tick, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open tick file: %w", err)
	}
	defer f.Close()

	var ticks []broker.Tick
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		tick, err := parseTick([]byte(line))
		if err != nil {
			return nil, fmt.Errorf("tick file line %d: %w", lineNo, err)
		}
		ticks = append(ticks, tick)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read tick file: %w", err)
	}
	return ticks, nil
}

// Replayer pushes a recorded tick series into a sink, optionally pacing
// playback by the recorded timestamps.
type Replayer struct {
	sink TickSink
	log  *zap.Logger

	// Speed scales playback: 0 replays as fast as possible, 1 replays in
	// real time, 2 at double speed.
	Speed float64
}

func NewReplayer(sink TickSink, log *zap.Logger) *Replayer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Replayer{sink: sink, log: log}
}

// Replay pushes every tick into the sink. It blocks until the series is
// exhausted or stop is closed.
func (r *Replayer) Replay(ticks []broker.Tick, stop <-chan struct{}) int {
	var prev time.Time
	sent := 0
	for _, t := range ticks {
		if r.Speed > 0 && !prev.IsZero() {
			gap := t.Timestamp.Sub(prev)
			if gap > 0 {
				wait := time.Duration(float64(gap) / r.Speed)
				select {
				case <-time.After(wait):
				case <-stop:
					r.log.Info("replay stopped", zap.Int("sent", sent))
					return sent
				}
			}
		}
		select {
		case <-stop:
			r.log.Info("replay stopped", zap.Int("sent", sent))
			return sent
		default:
		}
		r.sink.ProcessTick(t)
		prev = t.Timestamp
		sent++
	}
	r.log.Info("replay finished", zap.Int("sent", sent))
	return sent
}
