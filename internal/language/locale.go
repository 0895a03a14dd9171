package language

import (
	"context"
	"fmt"
	"strings"
	"sync"

	xlang "golang.org/x/text/language"
)

// Locale is one registered language/region pair. Ids come from the locale
// store and stay stable across processes.
type Locale struct {
	id   int64
	code string
	lang string
}

func (l *Locale) ID() int64        { return l.id }
func (l *Locale) Code() string     { return l.code }
func (l *Locale) Language() string { return l.lang }

func (l *Locale) String() string { return l.code }

// Canonicalize parses a raw tag into its canonical BCP 47 form and the
// primary language subtag. Underscore separators are tolerated.
func Canonicalize(raw string) (code, lang string, err error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(raw), "_", "-")
	if cleaned == "" {
		return "", "", fmt.Errorf("empty language tag")
	}
	tag, err := xlang.Parse(cleaned)
	if err != nil {
		return "", "", fmt.Errorf("parse language tag %q: %w", raw, err)
	}
	base, _ := tag.Base()
	return tag.String(), base.String(), nil
}

// Entry is a stored locale registration.
type Entry struct {
	ID   int64
	Code string
	Lang string
}

// Store persists locale registrations.
type Store interface {
	UpsertLocale(ctx context.Context, code, lang string) (int64, error)
	ListLocales(ctx context.Context) ([]Entry, error)
}

// Registry caches the locale table in memory. Lookups by id are served
// from cache only, so callers preload once at startup; Get registers
// unseen codes through the store.
type Registry struct {
	store Store

	mu     sync.RWMutex
	byID   map[int64]*Locale
	byCode map[string]*Locale
}

func NewRegistry(store Store) *Registry {
	return &Registry{
		store:  store,
		byID:   make(map[int64]*Locale),
		byCode: make(map[string]*Locale),
	}
}

// Preload loads every stored locale into the cache.
func (r *Registry) Preload(ctx context.Context) error {
	entries, err := r.store.ListLocales(ctx)
	if err != nil {
		return fmt.Errorf("list locales: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range entries {
		l := &Locale{id: e.ID, code: e.Code, lang: e.Lang}
		r.byID[l.id] = l
		r.byCode[l.code] = l
	}
	return nil
}

// Get resolves a raw tag to a registered locale, registering its canonical
// form on first sight.
func (r *Registry) Get(ctx context.Context, raw string) (*Locale, error) {
	code, lang, err := Canonicalize(raw)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	l, ok := r.byCode[code]
	r.mu.RUnlock()
	if ok {
		return l, nil
	}

	id, err := r.store.UpsertLocale(ctx, code, lang)
	if err != nil {
		return nil, fmt.Errorf("register locale %q: %w", code, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byCode[code]; ok {
		return existing, nil
	}
	l = &Locale{id: id, code: code, lang: lang}
	r.byID[id] = l
	r.byCode[code] = l
	return l, nil
}

// ByID returns a cached locale.
func (r *Registry) ByID(id int64) (*Locale, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("unknown locale id %d", id)
	}
	return l, nil
}
