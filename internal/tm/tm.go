package tm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TM is one translation memory. A bilingual memory has a fixed source and
// target locale; a multilingual memory accepts any known locale on either
// side. Reverse (target-side) lookup is available only when the memory was
// created with target indexing, since indexing targets doubles the fuzzy
// index write cost.
type TM struct {
	row     TMRow
	storage Storage
	factory DataFactory
	logger  zerolog.Logger

	attrs []*Attribute

	// Allocators dispense from in-memory blocks and are not themselves
	// goroutine-safe; the mutex serializes writers sharing this TM.
	allocMu    sync.Mutex
	allocators map[string]*IDAllocator
}

func newTM(row TMRow, storage Storage, factory DataFactory, attrs []*Attribute, logger zerolog.Logger) *TM {
	return &TM{
		row:        row,
		storage:    storage,
		factory:    factory,
		attrs:      attrs,
		logger:     logger.With().Int64("tm", row.ID).Logger(),
		allocators: make(map[string]*IDAllocator),
	}
}

func (t *TM) ID() int64          { return t.row.ID }
func (t *TM) Name() string       { return t.row.Name }
func (t *TM) Multilingual() bool { return t.row.Multilingual }
func (t *TM) IndexTargets() bool { return t.row.IndexTargets }

// SrcLocale returns a bilingual memory's declared source locale.
func (t *TM) SrcLocale() (Locale, error) {
	if t.row.Multilingual {
		return nil, fmt.Errorf("multilingual memory has no fixed source locale")
	}
	return t.factory.LocaleByID(t.row.SrcLocaleID)
}

// TgtLocale returns a bilingual memory's declared target locale.
func (t *TM) TgtLocale() (Locale, error) {
	if t.row.Multilingual {
		return nil, fmt.Errorf("multilingual memory has no fixed target locale")
	}
	return t.factory.LocaleByID(t.row.TgtLocaleID)
}

// Attributes returns the attribute definitions registered on this memory.
func (t *TM) Attributes() []*Attribute { return t.attrs }

// AttributeByName looks up a registered attribute definition.
func (t *TM) AttributeByName(name string) (*Attribute, bool) {
	for _, a := range t.attrs {
		if a.Name == name {
			return a, true
		}
	}
	return nil, false
}

func (t *TM) attributeByID(id int64) (*Attribute, bool) {
	for _, a := range t.attrs {
		if a.ID == id {
			return a, true
		}
	}
	return nil, false
}

// checkKeyLocale validates a lookup locale against the memory's topology.
// For a bilingual memory the only valid key locales are its declared source
// locale (forward) and its declared target locale (reverse). An invalid
// combination is an error, never an empty result.
func (t *TM) checkKeyLocale(locale Locale, lookupTarget bool) error {
	if lookupTarget && !t.row.IndexTargets {
		return &LocaleError{Code: locale.Code(), Reason: "memory does not index targets"}
	}
	if t.row.Multilingual {
		return nil
	}
	if !lookupTarget {
		if locale.ID() != t.row.SrcLocaleID {
			return &LocaleError{Code: locale.Code(), Reason: "not the source locale of this bilingual memory"}
		}
		return nil
	}
	if locale.ID() != t.row.TgtLocaleID {
		return &LocaleError{Code: locale.Code(), Reason: "not the target locale of this bilingual memory"}
	}
	return nil
}

// checkTargetLocale validates a saved target's locale. A multilingual
// memory takes targets in any locale; a bilingual one only in its
// declared target locale.
func (t *TM) checkTargetLocale(locale Locale) error {
	if t.row.Multilingual {
		return nil
	}
	if locale.ID() != t.row.TgtLocaleID {
		return &LocaleError{Code: locale.Code(), Reason: "not the target locale of this bilingual memory"}
	}
	return nil
}

func (t *TM) allocate(ctx context.Context, kind string) (int64, error) {
	t.allocMu.Lock()
	defer t.allocMu.Unlock()
	// One counter row per row kind, shared by every memory, so ids are
	// unique across the whole store.
	counter := kind
	alloc, ok := t.allocators[counter]
	if !ok {
		alloc = NewIDAllocator(t.storage, counter, DefaultIDBlockSize)
		t.allocators[counter] = alloc
	}
	return alloc.Next(ctx)
}

// AddEvent appends an event to the memory's log and returns it. The event
// row reaches storage the first time a save or modify references it, so
// events created for batches that never commit leave no trace.
func (t *TM) AddEvent(ctx context.Context, username, argument string) (*Event, error) {
	id, err := t.allocate(ctx, "events")
	if err != nil {
		return nil, err
	}
	return &Event{ID: id, Timestamp: time.Now().UTC(), Username: username, Argument: argument}, nil
}

// persistEvent writes the event row if this is its first use. The insert
// is idempotent, so concurrent transactions sharing one event are safe.
func (t *TM) persistEvent(ctx context.Context, tx Tx, ev *Event) error {
	if ev == nil {
		return ErrNoEvent
	}
	err := tx.InsertEvent(ctx, EventRow{
		ID:        ev.ID,
		TMID:      t.row.ID,
		Timestamp: ev.Timestamp,
		Username:  ev.Username,
		Argument:  ev.Argument,
	})
	if err != nil {
		return wrapStorage("insert", "event", ev.ID, err)
	}
	ev.markUsed()
	return nil
}

// GetEvent loads an event by id.
func (t *TM) GetEvent(ctx context.Context, id int64) (*Event, error) {
	var row EventRow
	err := t.storage.InTx(ctx, func(tx Tx) error {
		var err error
		row, err = tx.GetEvent(ctx, t.row.ID, id)
		return err
	})
	if err != nil {
		return nil, wrapStorage("get", "event", id, err)
	}
	return &Event{ID: row.ID, Timestamp: row.Timestamp, Username: row.Username, Argument: row.Argument}, nil
}

// Locales returns every locale that currently appears on a TUV in this
// memory, ordered by id.
func (t *TM) Locales(ctx context.Context) ([]Locale, error) {
	var ids []int64
	err := t.storage.InTx(ctx, func(tx Tx) error {
		var err error
		ids, err = tx.DistinctLocaleIDs(ctx, t.row.ID)
		return err
	})
	if err != nil {
		return nil, wrapStorage("list", "locales", t.row.ID, err)
	}
	locales := make([]Locale, 0, len(ids))
	for _, id := range ids {
		locale, err := t.factory.LocaleByID(id)
		if err != nil {
			return nil, err
		}
		locales = append(locales, locale)
	}
	return locales, nil
}

// recordToTU rebuilds an engine-level TU from its stored record.
func (t *TM) recordToTU(rec TURecord) (*TU, error) {
	attrs := AttributeSet{}
	for name, value := range rec.TU.Inline {
		attr, ok := t.AttributeByName(name)
		if !ok {
			return nil, fmt.Errorf("tu %d: unknown inline attribute %q", rec.TU.ID, name)
		}
		attrs[attr] = value
	}
	for _, av := range rec.Custom {
		attr, ok := t.attributeByID(av.AttrID)
		if !ok {
			return nil, fmt.Errorf("tu %d: unknown attribute id %d", rec.TU.ID, av.AttrID)
		}
		attrs[attr] = av.Value
	}

	tu := &TU{id: rec.TU.ID, attrs: attrs}
	for _, row := range rec.TUVs {
		locale, err := t.factory.LocaleByID(row.LocaleID)
		if err != nil {
			return nil, fmt.Errorf("tuv %d: %w", row.ID, err)
		}
		tuv := &TUV{
			id:            row.ID,
			locale:        locale,
			serialized:    row.Content,
			fp:            row.Fingerprint,
			fpSet:         true,
			firstEventID:  row.FirstEventID,
			latestEventID: row.LatestEventID,
			tu:            tu,
		}
		tuv.content = t.factory.FromSerializedForm(locale, row.Content)
		if row.LocaleID == rec.TU.SrcLocaleID && tu.sourceTUV == nil {
			tu.sourceTUV = tuv
		} else {
			tu.targetTUVs = append(tu.targetTUVs, tuv)
		}
	}
	if tu.sourceTUV == nil {
		return nil, fmt.Errorf("tu %d: no source tuv for locale %d", rec.TU.ID, rec.TU.SrcLocaleID)
	}
	return tu, nil
}

// getTUs loads and rebuilds full TUs by id, ordered by id.
func (t *TM) getTUs(ctx context.Context, tx Tx, ids []int64, lock bool) ([]*TU, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	recs, err := tx.GetTUs(ctx, t.row.ID, ids, lock)
	if err != nil {
		return nil, wrapStorage("get", "tu", 0, err)
	}
	tus := make([]*TU, 0, len(recs))
	for _, rec := range recs {
		tu, err := t.recordToTU(rec)
		if err != nil {
			return nil, err
		}
		tus = append(tus, tu)
	}
	return tus, nil
}

// GetTU loads a single TU by id, or nil if it does not exist.
func (t *TM) GetTU(ctx context.Context, id int64) (*TU, error) {
	var tu *TU
	err := t.storage.InTx(ctx, func(tx Tx) error {
		tus, err := t.getTUs(ctx, tx, []int64{id}, false)
		if err != nil {
			return err
		}
		if len(tus) > 0 {
			tu = tus[0]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tu, nil
}

// tuvRow projects a TUV into its storable form.
func (t *TM) tuvRow(tu *TU, tuv *TUV) TUVRow {
	return TUVRow{
		ID:            tuv.id,
		TUID:          tu.id,
		TMID:          t.row.ID,
		LocaleID:      tuv.locale.ID(),
		Fingerprint:   tuv.Fingerprint(),
		Content:       tuv.serialized,
		FirstEventID:  tuv.firstEventID,
		LatestEventID: tuv.latestEventID,
	}
}
