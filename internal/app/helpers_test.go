package app

import (
	"testing"
	"time"

	"horse.fit/leverage/internal/tm"
)

func TestParseOutputFormat(t *testing.T) {
	t.Parallel()

	if got, err := parseOutputFormat("", outputFormatTable); err != nil || got != outputFormatTable {
		t.Fatalf("expected default format, got %q (%v)", got, err)
	}
	if got, err := parseOutputFormat(" JSON ", outputFormatTable); err != nil || got != outputFormatJSON {
		t.Fatalf("expected json, got %q (%v)", got, err)
	}
	if _, err := parseOutputFormat("yaml", outputFormatTable); err == nil {
		t.Fatalf("expected yaml to be rejected")
	}
}

func TestParseUTCDateRange(t *testing.T) {
	t.Parallel()

	start, end, err := parseUTCDateRange("2026-03-01", "2026-03-05")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	wantStart := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if !start.Equal(wantStart) {
		t.Fatalf("unexpected start: %s", start)
	}
	if !end.After(time.Date(2026, 3, 5, 23, 59, 59, 0, time.UTC)) || !end.Before(time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected end just inside March 5, got %s", end)
	}

	if _, _, err := parseUTCDateRange("2026-03-05", "2026-03-01"); err == nil {
		t.Fatalf("expected inverted range to fail")
	}
	if _, _, err := parseUTCDateRange("03/01/2026", "2026-03-05"); err == nil {
		t.Fatalf("expected a non-ISO date to fail")
	}
}

func TestParseDateRangeFlags(t *testing.T) {
	t.Parallel()

	if r, err := parseDateRangeFlags("", ""); err != nil || r != nil {
		t.Fatalf("expected no range, got %v (%v)", r, err)
	}
	if _, err := parseDateRangeFlags("2026-03-01", ""); err == nil {
		t.Fatalf("expected a lone --from to fail")
	}
	r, err := parseDateRangeFlags("2026-03-01", "2026-03-02")
	if err != nil || r == nil {
		t.Fatalf("parse failed: %v", err)
	}
	if !r.Start.Before(r.End) {
		t.Fatalf("unexpected range: %+v", r)
	}
}

func TestParseAttrSpecs(t *testing.T) {
	t.Parallel()

	attrs, err := parseAttrSpecs([]string{"domain:string:identity", "project:int", "reviewed:bool", "notes:custom"})
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(attrs) != 4 {
		t.Fatalf("expected 4 attributes, got %d", len(attrs))
	}
	if attrs[0].Name != "domain" || attrs[0].Type != tm.ValueTypeString || !attrs[0].AffectsIdentity {
		t.Fatalf("unexpected first attribute: %+v", attrs[0])
	}
	if attrs[1].Type != tm.ValueTypeInt || attrs[1].AffectsIdentity {
		t.Fatalf("unexpected second attribute: %+v", attrs[1])
	}
	if attrs[3].Type != tm.ValueTypeCustom {
		t.Fatalf("unexpected fourth attribute: %+v", attrs[3])
	}

	bad := [][]string{
		{"domain"},
		{"domain:enum"},
		{"domain:string:primary"},
		{":string"},
		{"domain:string", "domain:int"},
	}
	for _, specs := range bad {
		if _, err := parseAttrSpecs(specs); err == nil {
			t.Fatalf("expected %v to be rejected", specs)
		}
	}
}

func TestParseIDList(t *testing.T) {
	t.Parallel()

	ids, err := parseIDList(" 3, 14 ,159")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(ids) != 3 || ids[0] != 3 || ids[1] != 14 || ids[2] != 159 {
		t.Fatalf("unexpected ids: %v", ids)
	}

	for _, raw := range []string{"", "a,b", "1,,2", "0", "-4"} {
		if _, err := parseIDList(raw); err == nil {
			t.Fatalf("expected %q to be rejected", raw)
		}
	}
}
