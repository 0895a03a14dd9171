package app

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"horse.fit/leverage/internal/cli"
	"horse.fit/leverage/internal/tm"
)

func runPurge(args []string) int {
	fs := flag.NewFlagSet("purge", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 10*time.Minute, "Command timeout")
	tmID := fs.Int64("tm", 0, "Memory id (required)")
	locale := fs.String("locale", "", "Only purge segments whose source is this locale")
	ids := fs.String("ids", "", "Comma-separated segment ids to purge")
	from := fs.String("from", "", "Only purge variants last touched on or after this day (YYYY-MM-DD)")
	to := fs.String("to", "", "Only purge variants last touched on or before this day (YYYY-MM-DD)")
	dryRun := fs.Bool("dry-run", false, "Report how many segments would be purged without deleting")
	force := fs.Bool("force", false, "Skip confirmation prompt")

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
	if *ids != "" && *locale != "" {
		fmt.Fprintln(os.Stderr, "--ids cannot be combined with --locale")
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

	var handle *tm.DataHandle
	switch {
	case *ids != "":
		idList, err := parseIDList(*ids)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid --ids: %v\n", err)
			return 2
		}
		handle = memory.DataByID(idList, dateRange)
	case *locale != "":
		loc, err := rt.registry.Get(rt.ctx, *locale)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid --locale: %v\n", err)
			return 2
		}
		handle = memory.DataByLocale(loc, dateRange)
	default:
		handle = memory.AllData(dateRange)
	}

	count, err := handle.Count(rt.ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to count segments: %v\n", err)
		return 1
	}
	if *dryRun {
		fmt.Printf("would purge %d segments from memory %d\n", count, memory.ID())
		return 0
	}
	if count == 0 {
		fmt.Println("nothing to purge")
		return 0
	}

	if !*force {
		ok, err := confirmDangerousAction(fmt.Sprintf("Purge %d segments from memory %d?", count, memory.ID()))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read confirmation: %v\n", err)
			return 1
		}
		if !ok {
			fmt.Fprintln(os.Stderr, "Aborted")
			return 1
		}
	}

	if err := handle.Purge(rt.ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Purge failed: %v\n", err)
		return 1
	}

	rt.logger.Info().Int64("tm", memory.ID()).Int64("segments", count).Msg("purged segments")
	fmt.Printf("purged %d segments from memory %d\n", count, memory.ID())
	return 0
}

func parseIDList(raw string) ([]int64, error) {
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("%q is not a segment id", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func confirmDangerousAction(prompt string) (bool, error) {
	fmt.Fprintf(os.Stderr, "%s [y/N]: ", strings.TrimSpace(prompt))
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
