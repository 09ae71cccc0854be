package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"apartment_finder/internal/config"
	"apartment_finder/internal/digest"
	"apartment_finder/internal/fetch"
	"apartment_finder/internal/notify"
	"apartment_finder/internal/parser"
	"apartment_finder/internal/scheduler"
	"apartment_finder/internal/service"
	"apartment_finder/internal/storage/file"
	"apartment_finder/internal/storage/memory"
	"apartment_finder/internal/storage/postgres"
)

type seenStore interface {
	service.ListingStore
	Reset(ctx context.Context) error
	Close() error
}

type closingFetcher interface {
	service.Fetcher
	Close() error
}

// bookkeeping is only available with the postgres store.
type bookkeeping struct {
	alerts    service.AlertLog
	states    service.SearchStateStore
	txManager service.TransactionManager
}

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to config file")
	once := flag.Bool("once", false, "run the pipeline once and exit")
	listSeen := flag.Bool("list-seen", false, "print every seen listing id and exit")
	check := flag.String("check", "", "report whether a listing id has been seen and exit")
	reset := flag.Bool("reset", false, "forget every seen listing and exit")
	flag.Parse()

	logger := setupLogger("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return 1
	}

	logger = setupLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	store, books, cleanup, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open listing store", "driver", cfg.Store.Driver, "error", err)
		return 1
	}
	defer cleanup()

	switch {
	case *listSeen:
		return printSeen(ctx, store, logger)
	case *check != "":
		return checkSeen(ctx, store, *check, logger)
	case *reset:
		if err := store.Reset(ctx); err != nil {
			logger.Error("failed to reset listing store", "error", err)
			return 1
		}
		logger.Info("listing store reset", "driver", cfg.Store.Driver)
		return 0
	}

	fetcher := newFetcher(cfg.Fetch, logger)
	defer fetcher.Close()

	notifier, err := newNotifier(cfg.Notify, logger)
	if err != nil {
		logger.Error("failed to set up notifier", "transport", cfg.Notify.Transport, "error", err)
		return 1
	}
	defer notifier.Close()

	pipeline := service.NewPipeline(
		cfg.DomainSearches(),
		fetch.NewPaced(fetcher, cfg.Fetch.MinDelay),
		parser.New(logger),
		service.NewDedupEngine(store, logger),
		digest.New(cfg.Digest.Title, *cfg.Digest.MaxOthers),
		notifier,
		books.alerts,
		books.states,
		books.txManager,
		logger,
	)

	sched := scheduler.NewScheduler(pipeline, cfg.Schedule.Interval, cfg.Schedule.RunTimeout, logger)

	logger.Info("starting apartment finder",
		"searches", len(cfg.Searches),
		"store", cfg.Store.Driver,
		"fetch", cfg.Fetch.Driver,
		"notify", cfg.Notify.Transport,
		"interval", cfg.Schedule.Interval,
	)

	if *once || cfg.Schedule.Interval <= 0 {
		if err := sched.RunOnce(ctx); err != nil {
			return 1
		}
		return 0
	}

	if err := sched.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("scheduler error", "error", err)
		return 1
	}
	return 0
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (seenStore, bookkeeping, func(), error) {
	switch cfg.Store.Driver {
	case config.StorePostgres:
		db, err := sqlx.Connect("postgres", cfg.Database.DSN())
		if err != nil {
			return nil, bookkeeping{}, nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, bookkeeping{}, nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("connected to database")

		books := bookkeeping{
			alerts:    postgres.NewAlertStore(db),
			states:    postgres.NewSearchStateStore(db),
			txManager: postgres.NewTransactionManager(db),
		}
		return postgres.NewSeenStore(db), books, func() { db.Close() }, nil

	case config.StoreMemory:
		store := memory.New()
		return store, bookkeeping{}, func() { store.Close() }, nil

	default:
		store, err := file.Open(cfg.Store.Path, cfg.Store.LockTTL, logger)
		if err != nil {
			return nil, bookkeeping{}, nil, err
		}
		return store, bookkeeping{}, func() {
			if err := store.Close(); err != nil {
				logger.Warn("failed to release store lock", "error", err)
			}
		}, nil
	}
}

func newFetcher(cfg config.FetchConfig, logger *slog.Logger) closingFetcher {
	if cfg.Driver == config.FetchHTTP {
		return fetch.NewHTTP(cfg, logger)
	}
	return fetch.NewChrome(cfg, logger)
}

func newNotifier(cfg config.NotifyConfig, logger *slog.Logger) (service.Notifier, error) {
	switch cfg.Transport {
	case config.NotifySMTP:
		return notify.NewSMTP(cfg.SMTP, logger), nil
	case config.NotifyRabbitMQ:
		n, err := notify.NewRabbitMQ(cfg.RabbitMQ, logger)
		if err != nil {
			return nil, err
		}
		return n, nil
	default:
		return notify.NewLog(logger), nil
	}
}

func printSeen(ctx context.Context, store seenStore, logger *slog.Logger) int {
	ids, err := store.AllIDs(ctx)
	if err != nil {
		logger.Error("failed to read listing store", "error", err)
		return 1
	}

	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	for _, id := range sorted {
		fmt.Println(id)
	}
	logger.Info("listed seen listings", "count", len(sorted))
	return 0
}

func checkSeen(ctx context.Context, store seenStore, id string, logger *slog.Logger) int {
	seen, err := store.Contains(ctx, id)
	if err != nil {
		logger.Error("failed to read listing store", "error", err)
		return 1
	}
	if seen {
		fmt.Printf("%s: seen\n", id)
	} else {
		fmt.Printf("%s: not seen\n", id)
	}
	return 0
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
