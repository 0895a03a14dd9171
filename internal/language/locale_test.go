package language

import (
	"context"
	"testing"
)

func TestCanonicalize(t *testing.T) {
	t.Parallel()

	if code, lang, err := Canonicalize(" EN_us "); err != nil || code != "en-US" || lang != "en" {
		t.Fatalf("unexpected canonical form: %q %q %v", code, lang, err)
	}
	if code, _, err := Canonicalize("zh-hans"); err != nil || code != "zh-Hans" {
		t.Fatalf("unexpected canonical form: %q %v", code, err)
	}
	if _, _, err := Canonicalize("  "); err == nil {
		t.Fatal("expected blank tag to fail")
	}
	if _, _, err := Canonicalize("not a tag!"); err == nil {
		t.Fatal("expected invalid tag to fail")
	}
}

type memStore struct {
	entries []Entry
	nextID  int64
}

func (s *memStore) UpsertLocale(_ context.Context, code, lang string) (int64, error) {
	for _, e := range s.entries {
		if e.Code == code {
			return e.ID, nil
		}
	}
	s.nextID++
	s.entries = append(s.entries, Entry{ID: s.nextID, Code: code, Lang: lang})
	return s.nextID, nil
}

func (s *memStore) ListLocales(_ context.Context) ([]Entry, error) {
	return s.entries, nil
}

func TestRegistry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := &memStore{}
	reg := NewRegistry(store)

	enUS, err := reg.Get(ctx, "en_US")
	if err != nil {
		t.Fatalf("register locale: %v", err)
	}
	if enUS.Code() != "en-US" || enUS.Language() != "en" {
		t.Fatalf("unexpected locale: %q %q", enUS.Code(), enUS.Language())
	}

	// Spelling variants collapse onto the same registration.
	again, err := reg.Get(ctx, "en-us")
	if err != nil {
		t.Fatalf("re-register locale: %v", err)
	}
	if again.ID() != enUS.ID() {
		t.Fatalf("expected stable id, got %d and %d", enUS.ID(), again.ID())
	}

	byID, err := reg.ByID(enUS.ID())
	if err != nil {
		t.Fatalf("lookup by id: %v", err)
	}
	if byID != enUS {
		t.Fatal("expected cached locale instance")
	}
	if _, err := reg.ByID(999); err == nil {
		t.Fatal("expected unknown id to fail")
	}
}

func TestRegistryPreload(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := &memStore{}
	if _, err := store.UpsertLocale(ctx, "fr-FR", "fr"); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	reg := NewRegistry(store)
	if err := reg.Preload(ctx); err != nil {
		t.Fatalf("preload: %v", err)
	}
	l, err := reg.ByID(1)
	if err != nil {
		t.Fatalf("lookup preloaded locale: %v", err)
	}
	if l.Code() != "fr-FR" {
		t.Fatalf("unexpected code %q", l.Code())
	}
}
