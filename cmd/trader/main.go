// Command trader wires the execution core together: simulated broker, risk
// governor, session window, journal, and a tick feed. Trade signals arrive as
// JSON lines on stdin, one Signal per line; the strategy layer that would
// normally produce them lives elsewhere.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"futures-exec-go/broker"
	"futures-exec-go/config"
	"futures-exec-go/execution"
	"futures-exec-go/feed"
	"futures-exec-go/infrastructure/alert"
	"futures-exec-go/infrastructure/logger"
	"futures-exec-go/journal"
	"futures-exec-go/metrics"
	"futures-exec-go/posttrade"
	"futures-exec-go/risk"
	"futures-exec-go/session"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "config file path")
	logLevel := flag.String("logLevel", "info", "log level: debug, info, warn, error")
	logFormat := flag.String("logFormat", "json", "log format: json or console")
	ignoreSession := flag.Bool("ignoreSession", false, "skip the trading-hours gate (replay runs)")
	flag.Parse()

	logCfg := logger.DefaultConfig()
	logCfg.Level = *logLevel
	logCfg.Format = *logFormat
	log, err := logger.New(logCfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatal("config load failed", zap.String("path", *cfgPath), zap.Error(err))
	}
	log.Info("config loaded", zap.String("env", cfg.Env), zap.Int("symbols", len(cfg.Symbols)))

	if cfg.Metrics.Enabled {
		metrics.StartMetricsServer(cfg.Metrics.Addr)
		log.Info("metrics server started", zap.String("addr", cfg.Metrics.Addr))
	}

	specs := cfg.SymbolSpecs()
	sim := broker.NewSimBroker(cfg.SimBrokerConfig(), specs, log.Logger)
	if err := sim.Connect(); err != nil {
		log.Fatal("broker connect failed", zap.Error(err))
	}
	defer sim.Disconnect()
	sim.AddFillCallback(func(f broker.Fill) {
		log.LogFill("fill", map[string]interface{}{
			"order_id": f.OrderID,
			"symbol":   f.Symbol,
			"side":     string(f.Side),
			"qty":      f.Qty,
			"price":    f.Price.String(),
		})
	})

	governor := risk.NewGovernor(cfg.RiskGovernorConfig(), cfg.SymbolLimits(), log.Logger)

	alerts := alert.NewManager([]alert.Channel{
		alert.NewLogChannel("log", os.Stderr),
	}, 5*time.Minute)
	killSwitchAlert := alerts.KillSwitchHandler()
	governor.SetKillSwitchCallback(func(reason string) {
		log.LogRisk("kill_switch_tripped", map[string]interface{}{"reason": reason})
		killSwitchAlert(reason)
	})

	var sessionGate execution.Session
	var sessions *session.Manager
	if !*ignoreSession {
		sessions, err = session.NewManager(cfg.Session, log.Logger)
		if err != nil {
			log.Fatal("session config invalid", zap.Error(err))
		}
		sessionGate = sessions
	}

	var engineJournal execution.Journal
	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.Journal.Path, log.Logger)
		if err != nil {
			log.Fatal("journal open failed", zap.String("path", cfg.Journal.Path), zap.Error(err))
		}
		if err := j.StartRun(cfg.Env, "v1"); err != nil {
			log.Fatal("journal run failed", zap.Error(err))
		}
		defer j.Close()
		engineJournal = j
	}

	engine := execution.NewEngine(sim, governor, sessionGate, engineJournal, specs, log.Logger)

	tracker := posttrade.NewTracker()
	engine.AddTradeListener(tracker.OnTradeClosed)

	engine.Start()
	defer engine.Stop()

	// Config hot reload updates risk limits in place. Everything else needs a
	// restart.
	watcher, err := config.NewWatcher(*cfgPath, log.Logger)
	if err != nil {
		log.Warn("config watcher unavailable", zap.Error(err))
	} else {
		watcher.Start(func(newCfg config.AppConfig) {
			governor.UpdateConfig(newCfg.RiskGovernorConfig(), newCfg.SymbolLimits())
		})
		defer watcher.Stop()
	}

	feedDone := startFeed(cfg, sim, log.WithFields(map[string]interface{}{"component": "feed"}))

	go readSignalTape(os.Stdin, engine, log)

	startOfDay := sim.GetAccountBalance()
	statusTicker := time.NewTicker(5 * time.Second)
	defer statusTicker.Stop()
	flattened := false

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-statusTicker.C:
			balance := sim.GetAccountBalance()
			dailyPnL := balance.Sub(startOfDay)
			governor.UpdateAccountStatus(balance, dailyPnL)

			bal, _ := balance.Float64()
			pnl, _ := dailyPnL.Float64()
			metrics.AccountBalance.Set(bal)
			metrics.DailyPnL.Set(pnl)
			for sym := range specs {
				metrics.PositionQty.WithLabelValues(sym).Set(float64(sim.GetPosition(sym).Qty))
			}

			if sessions != nil && sessions.ShouldFlatten() && !flattened {
				log.Info("session flatten time reached")
				engine.FlattenAll("session end")
				flattened = true
			}
			if sessions != nil && !sessions.ShouldFlatten() {
				flattened = false
			}

		case <-feedDone:
			log.Info("feed exhausted, shutting down")
			waitForSettle(sim)
			printSummary(tracker, sim, startOfDay, log)
			return

		case sig := <-quit:
			log.Info("shutting down", zap.String("signal", sig.String()))
			engine.FlattenAll("shutdown")
			waitForSettle(sim)
			printSummary(tracker, sim, startOfDay, log)
			return
		}
	}
}

// startFeed launches the configured tick source. The returned channel closes
// when a replay finishes; a ws feed runs until shutdown.
func startFeed(cfg config.AppConfig, sim *broker.SimBroker, log *logger.Logger) <-chan struct{} {
	done := make(chan struct{})

	switch cfg.Feed.Mode {
	case "ws":
		ws := feed.NewWSFeed(cfg.Feed.URL, sim, log.Logger)
		ws.Start()
		// Leave done open: a live feed has no natural end.
	case "replay", "":
		if cfg.Feed.File == "" {
			log.Warn("replay mode without feed.file, no ticks will flow")
			return done
		}
		ticks, err := feed.ReadTickFile(cfg.Feed.File)
		if err != nil {
			log.Fatal("tick file load failed", zap.String("path", cfg.Feed.File), zap.Error(err))
		}
		replayer := feed.NewReplayer(sim, log.Logger)
		replayer.Speed = cfg.Feed.Speed
		go func() {
			defer close(done)
			replayer.Replay(ticks, nil)
		}()
	}
	return done
}

// readSignalTape feeds stdin JSON lines into the engine.
func readSignalTape(f *os.File, engine *execution.Engine, log *logger.Logger) {
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var sig execution.Signal
		if err := json.Unmarshal(line, &sig); err != nil {
			log.Warn("bad signal line", zap.Error(err))
			continue
		}
		engine.ProcessSignal(sig)
	}
}

// waitForSettle gives in-flight fills a moment to drain before the summary.
func waitForSettle(sim *broker.SimBroker) {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(sim.GetOpenOrders()) == 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func printSummary(tracker *posttrade.Tracker, sim *broker.SimBroker, startOfDay decimal.Decimal, log *logger.Logger) {
	stats := tracker.Stats()
	log.Info("session summary",
		zap.Int("trades", stats.TotalTrades),
		zap.Int("wins", stats.Wins),
		zap.Int("losses", stats.Losses),
		zap.Float64("win_rate", stats.WinRate),
		zap.String("net_pnl_usd", stats.NetPnLUSD.String()),
		zap.Any("by_exit_reason", stats.ByExitReason),
		zap.String("start_balance", startOfDay.String()),
		zap.String("end_balance", sim.GetAccountBalance().String()))
}
