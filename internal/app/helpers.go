package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/leverage/internal/cli"
	"horse.fit/leverage/internal/config"
	"horse.fit/leverage/internal/db"
	"horse.fit/leverage/internal/language"
	"horse.fit/leverage/internal/logging"
	"horse.fit/leverage/internal/tm"
)

const (
	outputFormatTable = "table"
	outputFormatJSON  = "json"
)

func parseOutputFormat(raw, defaultFormat string) (string, error) {
	format := strings.TrimSpace(strings.ToLower(raw))
	if format == "" {
		format = strings.TrimSpace(strings.ToLower(defaultFormat))
	}
	switch format {
	case outputFormatTable, outputFormatJSON:
		return format, nil
	default:
		return "", fmt.Errorf("--format must be table or json")
	}
}

func parseUTCDate(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("date is required")
	}
	day, err := time.Parse("2006-01-02", trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("must be YYYY-MM-DD")
	}
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC), nil
}

// parseUTCDateRange turns two calendar days into an inclusive timestamp
// range covering both days end to end.
func parseUTCDateRange(fromRaw, toRaw string) (time.Time, time.Time, error) {
	fromDay, err := parseUTCDate(fromRaw)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid from date: %w", err)
	}
	toDay, err := parseUTCDate(toRaw)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid to date: %w", err)
	}
	if toDay.Before(fromDay) {
		return time.Time{}, time.Time{}, fmt.Errorf("--from must be <= --to")
	}
	return fromDay, toDay.Add(24*time.Hour - time.Nanosecond), nil
}

func printJSON(value any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func writeTable(headers []string, rows [][]string) error {
	writer := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	if _, err := fmt.Fprintln(writer, strings.Join(headers, "\t")); err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := fmt.Fprintln(writer, strings.Join(row, "\t")); err != nil {
			return err
		}
	}
	return writer.Flush()
}

// runtime bundles everything a command needs after connecting: the pool,
// the storage layer, the locale registry and the memory manager.
type runtime struct {
	ctx      context.Context
	cancel   context.CancelFunc
	cfg      *config.Config
	pool     *db.Pool
	storage  *db.Storage
	registry *language.Registry
	factory  *language.Factory
	manager  *tm.Manager
	logger   zerolog.Logger
}

func connect(timeout time.Duration, envLoader *cli.EnvLoader) (*runtime, error) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	storage := db.NewStorage(pool, time.Duration(cfg.LockTimeoutMS)*time.Millisecond)
	registry := language.NewRegistry(storage)
	if err := registry.Preload(ctx); err != nil {
		pool.Close()
		cancel()
		return nil, fmt.Errorf("failed to load locales: %w", err)
	}

	return &runtime{
		ctx:      ctx,
		cancel:   cancel,
		cfg:      cfg,
		pool:     pool,
		storage:  storage,
		registry: registry,
		factory:  language.NewFactory(registry),
		manager:  tm.NewManager(storage, logger),
		logger:   logger,
	}, nil
}

func (r *runtime) Close() {
	r.pool.Close()
	r.cancel()
}

func (r *runtime) openTM(id int64) (*tm.TM, error) {
	return r.manager.GetTM(r.ctx, id, r.factory)
}
