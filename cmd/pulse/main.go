package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nexus-trading/pulse/internal/adapters/deriv"
	"github.com/nexus-trading/pulse/internal/bus"
	"github.com/nexus-trading/pulse/internal/config"
	"github.com/nexus-trading/pulse/internal/engine"
	"github.com/nexus-trading/pulse/internal/execution"
	"github.com/nexus-trading/pulse/internal/features"
	"github.com/nexus-trading/pulse/internal/mlmodel"
	"github.com/nexus-trading/pulse/internal/observability"
	"github.com/nexus-trading/pulse/internal/quality"
	"github.com/nexus-trading/pulse/internal/regime"
	"github.com/nexus-trading/pulse/internal/risk"
	"github.com/nexus-trading/pulse/internal/selector"
	"github.com/nexus-trading/pulse/internal/strategy"
	"github.com/nexus-trading/pulse/internal/strategy/strategies/breakout"
	"github.com/nexus-trading/pulse/internal/strategy/strategies/htfpullback"
	"github.com/nexus-trading/pulse/internal/strategy/strategies/momentum"
	"github.com/nexus-trading/pulse/internal/strategy/strategies/priceaction"
	"github.com/nexus-trading/pulse/internal/strategy/strategies/rangetrading"
	"github.com/nexus-trading/pulse/internal/strategy/strategies/scalping"
	"github.com/nexus-trading/pulse/internal/strategy/strategies/smartmoney"
	"github.com/nexus-trading/pulse/internal/strategy/strategies/supplydemand"
	"github.com/nexus-trading/pulse/internal/tradelog"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	// 1. Parse flags.
	configPath := flag.String("config", "config/pulse.yaml", "Path to configuration file")
	flag.Parse()

	// 2. Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	// 3. Setup logging.
	setupLogging(cfg.General)

	log.Info().Msg("=============================================")
	log.Info().Msg("PULSE Tick Trading Engine - Starting")
	log.Info().Msg("SAFETY > PROFIT > SPEED")
	log.Info().Msg("=============================================")

	log.Info().
		Str("instance_id", cfg.General.InstanceID).
		Str("environment", cfg.General.Environment).
		Bool("paper", cfg.Paper.Enabled).
		Strs("symbols", cfg.Engine.Symbols).
		Str("active_symbol", cfg.Engine.ActiveSymbol).
		Bool("auto_rotate", cfg.Engine.AutoRotate).
		Bool("relaxed", cfg.Engine.RelaxEnvironmentForTesting).
		Msg("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("PULSE stopped with error")
	}
	log.Info().Msg("PULSE Tick Trading Engine - Shutdown complete")
}

func run(ctx context.Context, cfg *config.Config) error {
	recorder := observability.NewRecorder(cfg.Metrics.Namespace)

	// 4. Event bus.
	var producer bus.Producer = bus.NewStubProducer()
	if cfg.Kafka.Enabled {
		kp, err := bus.NewProducer(cfg.Kafka.Brokers,
			bus.WithInstanceID(cfg.General.InstanceID),
			bus.WithLinger(cfg.Kafka.Linger),
		)
		if err != nil {
			return err
		}
		producer = kp
	} else {
		log.Info().Msg("Kafka disabled, events stay in memory")
	}
	defer producer.Close()

	// 5. Trade data log.
	trail := tradelog.NewTrail(producer, cfg.Kafka.TrailSize)
	tradeLog := tradelog.Multi{trail}
	var chWriter *tradelog.ClickHouseWriter
	if cfg.ClickHouse.Enabled {
		conn, err := tradelog.OpenClickHouse(ctx, cfg.ClickHouse.DSN)
		if err != nil {
			return err
		}
		defer conn.Close()
		chWriter = tradelog.NewClickHouseWriter(conn, cfg.ClickHouse.Database, cfg.ClickHouse.BatchSize, cfg.ClickHouse.FlushInterval)
		if err := chWriter.EnsureSchema(ctx); err != nil {
			return err
		}
		defer chWriter.Close()
		tradeLog = append(tradeLog, chWriter)
	}

	// 6. Models, classifier and selectors.
	classifier, edge, err := loadModels(cfg.Models)
	if err != nil {
		return err
	}

	runtime, err := buildRuntime(cfg.Strategies)
	if err != nil {
		return err
	}
	rule := selector.NewRule(selector.DefaultRuleConfig(), runtime)
	var mlSelector selector.Selector
	if edge != nil {
		mlSelector = selector.WithFallback(selector.NewModel(rule, edge), rule)
	}

	// 7. Execution venue. Ticks always come from Deriv; orders go to the
	// paper broker unless it is disabled.
	feedCfg := cfg.Feed.Deriv
	if len(feedCfg.Symbols) == 0 {
		feedCfg.Symbols = cfg.Engine.Symbols
	}
	feed := deriv.New(feedCfg)

	var (
		dispatcher execution.Dispatcher = feed
		paper      *execution.PaperBroker
	)
	if cfg.Paper.Enabled {
		paper = execution.NewPaperBroker(execution.PaperConfig{
			PayoutRatio:    cfg.Paper.PayoutRatio,
			StartBalance:   cfg.Engine.StartBalance,
			OfferedSymbols: cfg.Paper.OfferedSymbols,
		})
		dispatcher = paper
		log.Info().Float64("payout", cfg.Paper.PayoutRatio).Msg("Execution: PAPER")
	} else {
		log.Warn().Msg("Execution: LIVE on Deriv")
	}

	// 8. Engine.
	ctrl, err := engine.NewController(cfg.Engine, engine.Deps{
		Runtime:      runtime,
		Classifier:   classifier,
		Extractor:    features.NewExtractor(features.DefaultWindow),
		RuleSelector: rule,
		MLSelector:   mlSelector,
		Risk:         risk.New(cfg.Risk),
		Dispatcher:   dispatcher,
		Producer:     producer,
		TradeLog:     tradeLog,
		Recorder:     recorder,
	})
	if err != nil {
		return err
	}
	if paper != nil {
		paper.SetSink(ctrl)
	} else {
		feed.SetSink(ctrl)
	}
	if cfg.General.AutoStart {
		if err := ctrl.Start(); err != nil {
			return err
		}
	}

	// 9. Feed quality and health.
	monitor := quality.NewMonitor(quality.Config{
		GapThreshold: cfg.Feed.GapThreshold,
		StaleTimeout: cfg.Feed.StaleTimeout,
		LagThreshold: cfg.Feed.LagThreshold,
	})
	health := observability.NewHealthMonitor()
	health.Register("feed", observability.FeedCheck(monitor, cfg.Feed.MaxSilence, nil))
	health.Register("engine", observability.RunStateCheck(ctrl.State))
	server := observability.NewServer(cfg.Metrics.Addr, recorder, health, ctrl)
	server.SetPerformance(trail)

	g, gctx := errgroup.WithContext(ctx)
	ticks := feed.Start(gctx)

	g.Go(func() error {
		return server.Start(gctx)
	})
	g.Go(func() error {
		health.Start(gctx, cfg.Metrics.HealthInterval)
		return nil
	})
	g.Go(func() error {
		monitor.Start(gctx, cfg.Feed.StaleTimeout/2)
		return nil
	})
	g.Go(func() error {
		forwardAlerts(gctx, monitor.Alerts(), producer)
		return nil
	})
	if chWriter != nil {
		g.Go(func() error {
			chWriter.Start(gctx)
			return nil
		})
	}
	g.Go(func() error {
		return pump(gctx, ticks, monitor, paper, ctrl)
	})

	log.Info().Str("metrics_addr", cfg.Metrics.Addr).Msg("All components initialized")

	err = g.Wait()
	snap := ctrl.Snapshot()
	log.Info().
		Str("run_state", string(snap.RunState)).
		Float64("balance", snap.Balance).
		Int("trades", snap.Global.Trades()).
		Int("open_trades", len(snap.OpenTrades)).
		Int("logged_entries", trail.Len()).
		Msg("final engine state")
	for _, p := range trail.Performance() {
		log.Info().
			Str("strategy", p.Strategy).
			Int("trades", p.Trades).
			Float64("win_rate", p.WinRate).
			Float64("net_profit", p.NetProfit).
			Float64("expectancy", p.Expectancy).
			Float64("max_drawdown", p.MaxDrawdown).
			Msg("session performance")
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// pump feeds accepted ticks to the paper broker first so its settlements
// land before the engine decides on the same tick.
func pump(ctx context.Context, ticks <-chan bus.Tick, monitor *quality.Monitor, paper *execution.PaperBroker, ctrl *engine.Controller) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case t, ok := <-ticks:
			if !ok {
				return nil
			}
			if !monitor.Accept(t) {
				continue
			}
			if paper != nil {
				paper.OnTick(t)
			}
			res := ctrl.HandleTick(ctx, t)
			if res.Dispatched {
				log.Debug().Str("client_trade_id", res.ClientTradeID).Msg("tick dispatched a trade")
			}
		}
	}
}

func forwardAlerts(ctx context.Context, alerts <-chan quality.Alert, producer bus.Producer) {
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-alerts:
			log.Warn().Str("symbol", a.Symbol).Str("level", a.Level).Str("message", a.Message).Msg("feed alert")
			pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := producer.PublishJSON(pubCtx, bus.TopicFeedAlert, a.Symbol, a); err != nil {
				log.Debug().Err(err).Msg("feed alert publish failed")
			}
			cancel()
		}
	}
}

func loadModels(cfg config.ModelsConfig) (regime.Classifier, *mlmodel.EdgeModel, error) {
	heuristic := regime.NewHeuristic(regime.DefaultHeuristicConfig())
	var classifier regime.Classifier = heuristic
	if cfg.RegimePath != "" {
		m, err := mlmodel.LoadRegimeModel(cfg.RegimePath)
		if err != nil {
			return nil, nil, fmt.Errorf("regime model: %w", err)
		}
		classifier = regime.WithFallback(regime.NewModelClassifier(m, cfg.ConfidenceFloor), heuristic)
		log.Info().Str("path", cfg.RegimePath).Msg("Regime model loaded")
	}

	var edge *mlmodel.EdgeModel
	if cfg.EdgePath != "" {
		m, err := mlmodel.LoadEdgeModel(cfg.EdgePath)
		if err != nil {
			return nil, nil, fmt.Errorf("edge model: %w", err)
		}
		edge = m
		log.Info().Str("path", cfg.EdgePath).Msg("Edge model loaded")
	}
	return classifier, edge, nil
}

func buildRuntime(cfg config.StrategiesConfig) (*strategy.Runtime, error) {
	constructors := []struct {
		key string
		new func(strategy.Config) strategy.Strategy
	}{
		{"breakout", func(c strategy.Config) strategy.Strategy { return breakout.New(c) }},
		{"htf_pullback", func(c strategy.Config) strategy.Strategy { return htfpullback.New(c) }},
		{"momentum", func(c strategy.Config) strategy.Strategy { return momentum.New(c) }},
		{"price_action", func(c strategy.Config) strategy.Strategy { return priceaction.New(c) }},
		{"range_trading", func(c strategy.Config) strategy.Strategy { return rangetrading.New(c) }},
		{"scalping", func(c strategy.Config) strategy.Strategy { return scalping.New(c) }},
		{"smart_money", func(c strategy.Config) strategy.Strategy { return smartmoney.New(c) }},
		{"supply_demand", func(c strategy.Config) strategy.Strategy { return supplydemand.New(c) }},
	}

	rt := strategy.NewRuntime()
	for _, ctor := range constructors {
		s := ctor.new(cfg.For(ctor.key))
		if err := rt.Register(s); err != nil {
			return nil, err
		}
		if cfg[ctor.key].Disabled {
			if err := rt.Disable(s.Name()); err != nil {
				return nil, err
			}
			log.Info().Str("strategy", s.Name()).Msg("Strategy disabled by config")
		}
	}
	log.Info().Int("strategies", len(rt.Strategies())).Msg("Strategy library registered")
	return rt, nil
}

func setupLogging(general config.GeneralConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	level, err := zerolog.ParseLevel(general.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if general.LogFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Str("service", "pulse").
			Str("instance", general.InstanceID).Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().Timestamp().Str("service", "pulse").
			Str("instance", general.InstanceID).Logger()
	}
}
