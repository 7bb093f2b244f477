// Package app wires the paper-trading session with fx.
package app

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/rustyeddy/sigtrader/config"
	"github.com/rustyeddy/sigtrader/journal"
	"github.com/rustyeddy/sigtrader/market"
	"github.com/rustyeddy/sigtrader/notify"
	"github.com/rustyeddy/sigtrader/pkg/logger"
	"github.com/rustyeddy/sigtrader/position"
	"github.com/rustyeddy/sigtrader/predict"
	"github.com/rustyeddy/sigtrader/risk"
	"github.com/rustyeddy/sigtrader/session"
	"github.com/rustyeddy/sigtrader/signal"
)

// ConfigPath is the config file handed to the config module. Empty means
// defaults and environment only.
type ConfigPath string

// Overrides adjusts the loaded config before anything else is built, so
// command line flags win over the file.
type Overrides func(*config.Config)

func ConfigModule() fx.Option {
	return fx.Module("config",
		fx.Provide(func(path ConfigPath, over Overrides) (*config.Config, error) {
			cfg, err := config.Load(string(path))
			if err != nil {
				return nil, err
			}
			if over != nil {
				over(cfg)
				if err := cfg.Validate(); err != nil {
					return nil, errors.Wrap(err, "invalid config")
				}
			}
			return cfg, nil
		}),
	)
}

func LoggerModule() fx.Option {
	return fx.Module("logger",
		fx.Provide(func(cfg *config.Config) (*zap.Logger, error) {
			return logger.Init(cfg.Log)
		}),
		fx.Invoke(func(lc fx.Lifecycle, l *zap.Logger) {
			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					_ = l.Sync()
					return nil
				},
			})
		}),
	)
}

func JournalModule() fx.Option {
	return fx.Module("journal",
		fx.Provide(func(lc fx.Lifecycle, ctx context.Context, cfg *config.Config) (journal.Journal, error) {
			j, err := OpenJournal(ctx, cfg.Journal)
			if err != nil {
				return nil, err
			}
			lc.Append(fx.Hook{
				OnStop: func(context.Context) error { return j.Close() },
			})
			return j, nil
		}),
	)
}

// OpenJournal builds the configured journal, fanned out to Kafka when a
// broker is set.
func OpenJournal(ctx context.Context, cfg config.JournalConfig) (journal.Journal, error) {
	var (
		j   journal.Journal
		err error
	)
	switch cfg.Type {
	case "", "none":
		j = journal.Discard{}
	case "csv":
		j, err = journal.NewCSV(cfg.TradesFile, cfg.EquityFile)
	case "sqlite":
		j, err = journal.NewSQLite(cfg.DBPath)
	case "postgres":
		j, err = journal.NewPostgres(ctx, cfg.DSN)
	default:
		return nil, errors.Errorf("unknown journal type %q", cfg.Type)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "open %s journal", cfg.Type)
	}

	if cfg.Kafka.Enabled() {
		k := journal.NewKafka(ctx, journal.NewKafkaWriter(cfg.Kafka.Broker, cfg.Kafka.Topic))
		j = journal.Multi{j, k}
	}
	return j, nil
}

func NotifyModule() fx.Option {
	return fx.Module("notify",
		fx.Provide(func(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (notify.Notifier, error) {
			n, err := NewNotifier(cfg.Notify, log)
			if err != nil {
				return nil, err
			}
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					n.Start(context.Background())
					return nil
				},
				OnStop: func(context.Context) error {
					if d := n.Dropped(); d > 0 {
						log.Warn("notifications dropped", zap.Int64("count", d))
					}
					return n.Close()
				},
			})
			return n, nil
		}),
	)
}

// NewNotifier always logs notifications and also sends them to Telegram
// when a token is configured. Delivery is asynchronous.
func NewNotifier(cfg config.NotifyConfig, log *zap.Logger) (*notify.Async, error) {
	targets := notify.Multi{notify.Log{L: log}}
	if cfg.Telegram.Enabled() {
		tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID)
		if err != nil {
			return nil, err
		}
		targets = append(targets, tg)
	}
	return notify.NewAsync(targets,
		notify.WithQueueSize(cfg.QueueSize),
		notify.WithRate(cfg.PerSecond, cfg.Burst),
		notify.WithAsyncLogger(log.Named("notify")),
	), nil
}

func SessionModule() fx.Option {
	return fx.Module("session",
		fx.Provide(
			func(cfg *config.Config) (*session.CSVSource, error) {
				if cfg.Session.DataPath == "" {
					return nil, errors.New("session.data_path is required for paper mode")
				}
				return session.LoadCSVSource(cfg.Session.DataPath, cfg.Session.MaxHistory)
			},
			func(ctx context.Context, cfg *config.Config, src *session.CSVSource, j journal.Journal, n notify.Notifier, log *zap.Logger) ([]*session.Trader, error) {
				return BuildTraders(ctx, cfg, src, src, j, n, log)
			},
			func(cfg *config.Config, traders []*session.Trader, log *zap.Logger) *session.Session {
				return session.New(traders,
					session.WithInterval(cfg.Session.Interval),
					session.WithCycleTimeout(cfg.Session.CycleTimeout),
					session.WithLogger(log.Named("session")),
				)
			},
		),
		fx.Invoke(runSession),
	)
}

// BuildTraders creates one trader per configured symbol. The account balance
// is split evenly between the symbols' managers.
func BuildTraders(ctx context.Context, cfg *config.Config, src market.SnapshotSource, model predict.Predictor, j journal.Journal, n notify.Notifier, log *zap.Logger) ([]*session.Trader, error) {
	if len(cfg.Symbols) == 0 {
		return nil, errors.New("no symbols configured")
	}
	share := cfg.Account.Balance / float64(len(cfg.Symbols))
	prices := market.NewStore()

	traders := make([]*session.Trader, 0, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		sc, err := cfg.ForSymbol(sym)
		if err != nil {
			return nil, err
		}
		symLog := log.With(zap.String("symbol", sym))

		sizer := risk.NewSizer(sc.Risk, risk.WithLogger(symLog))
		scorer := signal.NewScorer(sc.Thresholds,
			signal.WithLevels(sizer),
			signal.WithMinHistory(cfg.Session.MinHistory),
			signal.WithLogger(symLog),
		)
		mgr := position.NewManager(sc.Position, sizer, share,
			position.WithLogger(symLog),
			position.WithListener(notify.Listener(ctx, n, symLog)),
		)
		traders = append(traders, session.NewTrader(sym, src, model, scorer, sizer, mgr,
			session.WithJournal(j),
			session.WithRunID(cfg.Session.RunID),
			session.WithPrices(prices),
			session.WithMinHistory(cfg.Session.MinHistory),
			session.WithTraderLogger(log),
		))
	}
	return traders, nil
}

// runSession starts the session with the app and shuts the app down once the
// session ends on its own.
func runSession(lc fx.Lifecycle, sd fx.Shutdowner, s *session.Session, log *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				if err := s.Run(ctx); err != nil {
					log.Error("session failed", zap.Error(err))
				}
				_ = sd.Shutdown()
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			if err := s.Stop(); err != nil && !errors.Is(err, session.ErrNotRunning) {
				log.Warn("session stop", zap.Error(err))
			}
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}

// Paper assembles the paper-trading application.
func Paper(ctx context.Context, path ConfigPath, over Overrides, extra ...fx.Option) *fx.App {
	opts := []fx.Option{
		fx.Supply(path, over),
		fx.Provide(func() context.Context { return ctx }),
		fx.NopLogger,
		ConfigModule(),
		LoggerModule(),
		JournalModule(),
		NotifyModule(),
		SessionModule(),
	}
	return fx.New(append(opts, extra...)...)
}
