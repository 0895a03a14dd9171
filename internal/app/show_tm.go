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

type tmAttrView struct {
	Name            string `json:"name"`
	Type            string `json:"type"`
	AffectsIdentity bool   `json:"affects_identity"`
}

type tmView struct {
	ID           int64        `json:"id"`
	Name         string       `json:"name"`
	Multilingual bool         `json:"multilingual"`
	IndexTargets bool         `json:"index_targets"`
	SourceLocale string       `json:"source_locale,omitempty"`
	TargetLocale string       `json:"target_locale,omitempty"`
	Attributes   []tmAttrView `json:"attributes"`
	Locales      []string     `json:"locales"`
}

func runShowTM(args []string) int {
	fs := flag.NewFlagSet("show-tm", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	tmID := fs.Int64("tm", 0, "Memory id (required)")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

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

	view := tmView{
		ID:           memory.ID(),
		Name:         memory.Name(),
		Multilingual: memory.Multilingual(),
		IndexTargets: memory.IndexTargets(),
	}
	if !memory.Multilingual() {
		src, err := memory.SrcLocale()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to resolve source locale: %v\n", err)
			return 1
		}
		tgt, err := memory.TgtLocale()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to resolve target locale: %v\n", err)
			return 1
		}
		view.SourceLocale = src.Code()
		view.TargetLocale = tgt.Code()
	}
	for _, attr := range memory.Attributes() {
		view.Attributes = append(view.Attributes, tmAttrView{
			Name:            attr.Name,
			Type:            attrTypeName(attr.Type),
			AffectsIdentity: attr.AffectsIdentity,
		})
	}
	locales, err := memory.Locales(rt.ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list locales: %v\n", err)
		return 1
	}
	for _, locale := range locales {
		view.Locales = append(view.Locales, locale.Code())
	}

	if outputFormat == outputFormatJSON {
		if err := printJSON(view); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	kind := "bilingual"
	pair := fmt.Sprintf("%s -> %s", view.SourceLocale, view.TargetLocale)
	if view.Multilingual {
		kind = "multilingual"
		pair = "-"
	}
	rows := [][]string{
		{"id", fmt.Sprintf("%d", view.ID)},
		{"name", view.Name},
		{"kind", kind},
		{"pair", pair},
		{"index_targets", fmt.Sprintf("%t", view.IndexTargets)},
	}
	if err := writeTable([]string{"field", "value"}, rows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render table: %v\n", err)
		return 1
	}

	if len(view.Attributes) > 0 {
		fmt.Println()
		attrRows := make([][]string, 0, len(view.Attributes))
		for _, attr := range view.Attributes {
			attrRows = append(attrRows, []string{attr.Name, attr.Type, fmt.Sprintf("%t", attr.AffectsIdentity)})
		}
		if err := writeTable([]string{"attribute", "type", "identity"}, attrRows); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render attribute table: %v\n", err)
			return 1
		}
	}

	if len(view.Locales) > 0 {
		fmt.Println()
		localeRows := make([][]string, 0, len(view.Locales))
		for _, code := range view.Locales {
			localeRows = append(localeRows, []string{code})
		}
		if err := writeTable([]string{"locale"}, localeRows); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render locale table: %v\n", err)
			return 1
		}
	}

	return 0
}

func attrTypeName(t tm.ValueType) string {
	switch t {
	case tm.ValueTypeString:
		return "string"
	case tm.ValueTypeInt:
		return "int"
	case tm.ValueTypeBool:
		return "bool"
	case tm.ValueTypeCustom:
		return "custom"
	default:
		return "unknown"
	}
}
