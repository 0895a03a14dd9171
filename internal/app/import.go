package app

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"horse.fit/leverage/internal/cli"
	"horse.fit/leverage/internal/tm"
)

const defaultImportBatchSize = 100

func runImport(args []string) int {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 10*time.Minute, "Command timeout")
	tmID := fs.Int64("tm", 0, "Memory id (required)")
	file := fs.String("file", "", "TSV file with source<TAB>target per line (required)")
	sourceLocale := fs.String("source-locale", "", "Locale of the first column (required)")
	targetLocale := fs.String("target-locale", "", "Locale of the second column (required)")
	mode := fs.String("mode", "merge", "Save mode: merge or overwrite")
	batchSize := fs.Int("batch", defaultImportBatchSize, "Segments per transaction")
	user := fs.String("user", "import", "Username recorded on the event log")

	var attrPairs []string
	fs.Func("attr", "Attribute value name=value applied to every segment, repeatable", func(raw string) error {
		attrPairs = append(attrPairs, raw)
		return nil
	})

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
	if strings.TrimSpace(*file) == "" {
		fmt.Fprintln(os.Stderr, "--file is required")
		return 2
	}
	if strings.TrimSpace(*sourceLocale) == "" || strings.TrimSpace(*targetLocale) == "" {
		fmt.Fprintln(os.Stderr, "--source-locale and --target-locale are required")
		return 2
	}
	if *batchSize <= 0 {
		fmt.Fprintln(os.Stderr, "--batch must be positive")
		return 2
	}

	var saveMode tm.SaveMode
	switch strings.ToLower(strings.TrimSpace(*mode)) {
	case "merge":
		saveMode = tm.SaveMerge
	case "overwrite":
		saveMode = tm.SaveOverwrite
	default:
		fmt.Fprintln(os.Stderr, "--mode must be merge or overwrite")
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

	srcLoc, err := rt.registry.Get(rt.ctx, *sourceLocale)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid --source-locale: %v\n", err)
		return 2
	}
	tgtLoc, err := rt.registry.Get(rt.ctx, *targetLocale)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid --target-locale: %v\n", err)
		return 2
	}

	attrs, err := parseAttrValues(memory, attrPairs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid --attr: %v\n", err)
		return 2
	}

	f, err := os.Open(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open file: %v\n", err)
		return 1
	}
	defer f.Close()

	event, err := memory.AddEvent(rt.ctx, *user, fmt.Sprintf("import %s", *file))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create event: %v\n", err)
		return 1
	}

	saver := memory.CreateSaver()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var (
		lineNo   int
		pending  int
		imported int
	)
	flush := func() error {
		if pending == 0 {
			return nil
		}
		if _, err := saver.Save(rt.ctx, saveMode); err != nil {
			return err
		}
		imported += pending
		pending = 0
		saver.Reset()
		return nil
	}

	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		source, target, ok := strings.Cut(line, "\t")
		if !ok || strings.TrimSpace(source) == "" || strings.TrimSpace(target) == "" {
			fmt.Fprintf(os.Stderr, "line %d: expected source<TAB>target\n", lineNo)
			return 1
		}

		saver.TU(tm.NewTextData(source), srcLoc, event).
			Attrs(attrs).
			Target(tm.NewTextData(target), tgtLoc, event)
		pending++

		if pending >= *batchSize {
			if err := flush(); err != nil {
				fmt.Fprintf(os.Stderr, "line %d: save failed: %v\n", lineNo, err)
				return 1
			}
		}
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read file: %v\n", err)
		return 1
	}
	if err := flush(); err != nil {
		fmt.Fprintf(os.Stderr, "final save failed: %v\n", err)
		return 1
	}

	rt.logger.Info().Int64("tm", memory.ID()).Int("segments", imported).
		Str("mode", strings.ToLower(*mode)).Msg("import finished")
	fmt.Printf("imported %d segments into memory %d\n", imported, memory.ID())
	return 0
}

// parseAttrValues resolves repeated name=value pairs against the memory's
// declared attributes and converts each value to the declared type.
func parseAttrValues(memory *tm.TM, pairs []string) (tm.AttributeSet, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	attrs := tm.AttributeSet{}
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("%q: expected name=value", pair)
		}
		name = strings.TrimSpace(name)
		attr, found := memory.AttributeByName(name)
		if !found {
			return nil, fmt.Errorf("%q: memory has no attribute %q", pair, name)
		}

		var value any
		switch attr.Type {
		case tm.ValueTypeString, tm.ValueTypeCustom:
			value = raw
		case tm.ValueTypeInt:
			n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%q: %q is not an integer", pair, raw)
			}
			value = n
		case tm.ValueTypeBool:
			b, err := strconv.ParseBool(strings.TrimSpace(raw))
			if err != nil {
				return nil, fmt.Errorf("%q: %q is not a bool", pair, raw)
			}
			value = b
		}
		attrs[attr] = value
	}
	return attrs, nil
}
