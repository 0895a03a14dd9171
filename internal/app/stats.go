package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/leverage/internal/cli"
	"horse.fit/leverage/internal/tm"
)

type localeStats struct {
	Locale   string `json:"locale"`
	Segments int64  `json:"segments"`
	Variants int64  `json:"variants"`
}

type tmStats struct {
	TMID     int64         `json:"tm_id"`
	Name     string        `json:"name"`
	Segments int64         `json:"segments"`
	Variants int64         `json:"variants"`
	Locales  []localeStats `json:"locales"`
}

func runStats(args []string) int {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	tmID := fs.Int64("tm", 0, "Memory id (required)")
	format := fs.String("format", outputFormatTable, "Output format: table or json")
	from := fs.String("from", "", "Only count variants last touched on or after this day (YYYY-MM-DD)")
	to := fs.String("to", "", "Only count variants last touched on or before this day (YYYY-MM-DD)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *tmID <= 0 {
		fmt.Fprintln(os.Stderr, "--tm is required")
		return 2
	}
	outputFormat, err := parseOutputFormat(*format, outputFormatTable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
		return 2
	}
	dateRange, err := parseDateRangeFlags(*from, *to)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	rt, err := connect(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer rt.Close()

	memory, err := rt.openTM(*tmID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load memory: %v\n", err)
		return 1
	}

	stats := tmStats{TMID: memory.ID(), Name: memory.Name()}

	all := memory.AllData(dateRange)
	if stats.Segments, err = all.Count(rt.ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to count segments: %v\n", err)
		return 1
	}
	if stats.Variants, err = all.TUVCount(rt.ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to count variants: %v\n", err)
		return 1
	}

	locales, err := memory.Locales(rt.ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list locales: %v\n", err)
		return 1
	}
	for _, locale := range locales {
		handle := memory.DataByLocale(locale, dateRange)
		segments, err := handle.Count(rt.ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to count %s segments: %v\n", locale.Code(), err)
			return 1
		}
		variants, err := handle.TUVCount(rt.ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to count %s variants: %v\n", locale.Code(), err)
			return 1
		}
		stats.Locales = append(stats.Locales, localeStats{
			Locale:   locale.Code(),
			Segments: segments,
			Variants: variants,
		})
	}

	if outputFormat == outputFormatJSON {
		if err := printJSON(stats); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	rows := make([][]string, 0, len(stats.Locales)+1)
	for _, row := range stats.Locales {
		rows = append(rows, []string{
			row.Locale,
			fmt.Sprintf("%d", row.Segments),
			fmt.Sprintf("%d", row.Variants),
		})
	}
	rows = append(rows, []string{
		"TOTAL",
		fmt.Sprintf("%d", stats.Segments),
		fmt.Sprintf("%d", stats.Variants),
	})
	if err := writeTable([]string{"locale", "segments", "variants"}, rows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render table: %v\n", err)
		return 1
	}
	return 0
}

// parseDateRangeFlags turns optional --from/--to days into a DateRange.
// Both flags must be given together; neither given means no bound.
func parseDateRangeFlags(from, to string) (*tm.DateRange, error) {
	if from == "" && to == "" {
		return nil, nil
	}
	if from == "" || to == "" {
		return nil, fmt.Errorf("--from and --to must be used together")
	}
	start, end, err := parseUTCDateRange(from, to)
	if err != nil {
		return nil, err
	}
	return &tm.DateRange{Start: start, End: end}, nil
}
