package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"horse.fit/leverage/internal/cli"
	"horse.fit/leverage/internal/language"
	"horse.fit/leverage/internal/tm"
)

func runCreateTM(args []string) int {
	fs := flag.NewFlagSet("create-tm", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	name := fs.String("name", "", "Memory name (required)")
	source := fs.String("source", "", "Source locale, e.g. en-US (bilingual memories)")
	target := fs.String("target", "", "Target locale, e.g. fr-FR (bilingual memories)")
	multilingual := fs.Bool("multilingual", false, "Create a multilingual memory instead of a bilingual one")
	indexTargets := fs.Bool("index-targets", false, "Index target content for reverse lookup")

	var attrSpecs []string
	fs.Func("attr", "Attribute definition name:type[:identity], repeatable. Types: string, int, bool, custom", func(raw string) error {
		attrSpecs = append(attrSpecs, raw)
		return nil
	})

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if strings.TrimSpace(*name) == "" {
		fmt.Fprintln(os.Stderr, "--name is required")
		return 2
	}
	if *multilingual && (*source != "" || *target != "") {
		fmt.Fprintln(os.Stderr, "--multilingual does not take --source or --target")
		return 2
	}
	if !*multilingual && (strings.TrimSpace(*source) == "" || strings.TrimSpace(*target) == "") {
		fmt.Fprintln(os.Stderr, "bilingual memories need both --source and --target")
		return 2
	}

	attrs, err := parseAttrSpecs(attrSpecs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid --attr: %v\n", err)
		return 2
	}

	rt, err := connect(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer rt.Close()

	var memory *tm.TM
	if *multilingual {
		memory, err = rt.manager.CreateMultilingualTM(rt.ctx, strings.TrimSpace(*name), rt.factory, attrs, *indexTargets)
	} else {
		var srcLocale, tgtLocale *language.Locale
		srcLocale, err = rt.registry.Get(rt.ctx, *source)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid --source: %v\n", err)
			return 2
		}
		tgtLocale, err = rt.registry.Get(rt.ctx, *target)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid --target: %v\n", err)
			return 2
		}
		memory, err = rt.manager.CreateBilingualTM(rt.ctx, strings.TrimSpace(*name), rt.factory, attrs,
			srcLocale, tgtLocale, *indexTargets)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create memory: %v\n", err)
		return 1
	}

	fmt.Printf("created memory %d (%s)\n", memory.ID(), memory.Name())
	return 0
}

// parseAttrSpecs parses repeated name:type[:identity] definitions.
func parseAttrSpecs(specs []string) ([]*tm.Attribute, error) {
	attrs := make([]*tm.Attribute, 0, len(specs))
	seen := make(map[string]struct{}, len(specs))
	for _, spec := range specs {
		parts := strings.Split(strings.TrimSpace(spec), ":")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("%q: expected name:type[:identity]", spec)
		}
		name := strings.TrimSpace(parts[0])
		if name == "" {
			return nil, fmt.Errorf("%q: empty attribute name", spec)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("%q: duplicate attribute name", name)
		}
		seen[name] = struct{}{}

		var valueType tm.ValueType
		switch strings.ToLower(strings.TrimSpace(parts[1])) {
		case "string":
			valueType = tm.ValueTypeString
		case "int":
			valueType = tm.ValueTypeInt
		case "bool":
			valueType = tm.ValueTypeBool
		case "custom":
			valueType = tm.ValueTypeCustom
		default:
			return nil, fmt.Errorf("%q: unknown type %q", spec, parts[1])
		}

		identity := false
		if len(parts) == 3 {
			if strings.ToLower(strings.TrimSpace(parts[2])) != "identity" {
				return nil, fmt.Errorf("%q: trailing part must be \"identity\"", spec)
			}
			identity = true
		}

		attrs = append(attrs, &tm.Attribute{Name: name, Type: valueType, AffectsIdentity: identity})
	}
	return attrs, nil
}
