package tm

import (
	"context"
)

// SaveMode selects how proposed targets interact with existing ones.
type SaveMode int

const (
	// SaveMerge adds target values that are not already present and leaves
	// everything else alone.
	SaveMerge SaveMode = iota
	// SaveOverwrite removes every existing target value in each locale the
	// batch touches, then adds the proposed values for that locale.
	// Locales not present in the batch are untouched.
	SaveOverwrite
)

// Saver accumulates segments for one batched save. A typical invocation:
//
//	saver := tm.CreateSaver()
//	saver.TU(src, srcLocale, event).
//		Attr(attr, value).
//		Target(frContent, frLocale, event)
//	tus, err := saver.Save(ctx, tm.SaveMerge)
//
// Nothing is written until Save is called; the whole batch commits or rolls
// back as one transaction.
type Saver struct {
	tm  *TM
	tus []*saverTU
}

type saverTU struct {
	content Data
	locale  Locale
	event   *Event
	attrs   AttributeSet
	targets []saverTUV
}

type saverTUV struct {
	content Data
	locale  Locale
	event   *Event
}

// CreateSaver starts an empty batch.
func (t *TM) CreateSaver() *Saver {
	return &Saver{tm: t}
}

// Reset discards all accumulated segments.
func (s *Saver) Reset() { s.tus = nil }

// TU adds a segment identified by its source value. Calls on the returned
// builder attach targets and attribute values.
func (s *Saver) TU(content Data, locale Locale, event *Event) *SaverTU {
	tu := &saverTU{content: content, locale: locale, event: event, attrs: AttributeSet{}}
	s.tus = append(s.tus, tu)
	return &SaverTU{saver: s, tu: tu}
}

// SaverTU builds one pending segment inside a Saver batch.
type SaverTU struct {
	saver *Saver
	tu    *saverTU
}

// Attr sets a single attribute value on the pending segment.
func (b *SaverTU) Attr(attr *Attribute, value any) *SaverTU {
	b.tu.attrs[attr] = value
	return b
}

// Attrs sets multiple attribute values on the pending segment.
func (b *SaverTU) Attrs(pairs AttributeSet) *SaverTU {
	for attr, value := range pairs {
		b.tu.attrs[attr] = value
	}
	return b
}

// Target adds a proposed target value to the pending segment.
func (b *SaverTU) Target(content Data, locale Locale, event *Event) *SaverTU {
	b.tu.targets = append(b.tu.targets, saverTUV{content: content, locale: locale, event: event})
	return b
}

// Save flushes the whole batch.
func (b *SaverTU) Save(ctx context.Context, mode SaveMode) ([]*TU, error) {
	return b.saver.Save(ctx, mode)
}

// Save applies the batch in one transaction. Per segment it acquires the
// identity lock, then creates a new TU or merges/overwrites the existing
// one. On any error the transaction rolls back and nothing is persisted.
func (s *Saver) Save(ctx context.Context, mode SaveMode) ([]*TU, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	var saved []*TU
	err := s.tm.storage.InTx(ctx, func(tx Tx) error {
		saved = saved[:0]
		for _, pending := range s.tus {
			tu, err := s.saveOne(ctx, tx, pending, mode)
			if err != nil {
				return err
			}
			saved = append(saved, tu)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// validate runs every check that can fail without touching storage, so a
// bad batch is rejected before any write.
func (s *Saver) validate() error {
	for _, pending := range s.tus {
		if pending.event == nil {
			return ErrNoEvent
		}
		if err := s.tm.checkKeyLocale(pending.locale, false); err != nil {
			return err
		}
		if err := checkAttributes(pending.attrs); err != nil {
			return err
		}
		for _, target := range pending.targets {
			if target.event == nil {
				return ErrNoEvent
			}
			if err := s.tm.checkTargetLocale(target.locale); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Saver) saveOne(ctx context.Context, tx Tx, pending *saverTU, mode SaveMode) (*TU, error) {
	targets := dedupTargets(pending.targets)

	if err := s.tm.persistEvent(ctx, tx, pending.event); err != nil {
		return nil, err
	}
	for _, target := range targets {
		if err := s.tm.persistEvent(ctx, tx, target.event); err != nil {
			return nil, err
		}
	}

	tu, err := s.tm.findTUForSave(ctx, tx, pending.content, pending.locale, pending.attrs)
	if err != nil {
		return nil, err
	}
	if tu == nil {
		return s.createTU(ctx, tx, pending, targets)
	}

	if mode == SaveOverwrite {
		if err := s.removeTouchedLocales(ctx, tx, tu, targets); err != nil {
			return nil, err
		}
	}

	var added []*TUV
	for _, target := range targets {
		tuv, err := tu.AddTargetTUV(target.locale, target.content, target.event)
		if err != nil {
			return nil, err
		}
		if tuv != nil {
			added = append(added, tuv)
		}
	}
	if err := s.persistNewTUVs(ctx, tx, tu, added); err != nil {
		return nil, err
	}
	return tu, nil
}

// dedupTargets drops duplicate (locale, content) pairs proposed within the
// batch itself, keeping the first occurrence.
func dedupTargets(targets []saverTUV) []saverTUV {
	type key struct {
		localeID int64
		content  string
	}
	seen := make(map[key]struct{}, len(targets))
	out := make([]saverTUV, 0, len(targets))
	for _, target := range targets {
		k := key{target.locale.ID(), target.content.SerializedForm()}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, target)
	}
	return out
}

// removeTouchedLocales implements the overwrite half of OVERWRITE: every
// existing target value in a locale the batch proposes targets for is
// removed, fully, before the proposed values are added. A proposed target
// identical to a removed one is still re-added afterwards.
func (s *Saver) removeTouchedLocales(ctx context.Context, tx Tx, tu *TU, targets []saverTUV) error {
	touched := make(map[int64]Locale)
	for _, target := range targets {
		touched[target.locale.ID()] = target.locale
	}
	for _, locale := range touched {
		removed := tu.RemoveTargetTUVsByLocale(locale)
		if len(removed) == 0 {
			continue
		}
		ids := make([]int64, 0, len(removed))
		for _, tuv := range removed {
			ids = append(ids, tuv.ID())
			if err := unindexTUV(ctx, tx, tuv); err != nil {
				return err
			}
		}
		if err := tx.DeleteTUVs(ctx, ids); err != nil {
			return wrapStorage("delete", "tuv", tu.ID(), err)
		}
	}
	return nil
}

func (s *Saver) createTU(ctx context.Context, tx Tx, pending *saverTU, targets []saverTUV) (*TU, error) {
	tu, err := NewTU(pending.locale, pending.content, pending.attrs, pending.event)
	if err != nil {
		return nil, err
	}
	for _, target := range targets {
		if _, err := tu.AddTargetTUV(target.locale, target.content, target.event); err != nil {
			return nil, err
		}
	}

	tu.id, err = s.tm.allocate(ctx, "tus")
	if err != nil {
		return nil, err
	}
	inline, custom := SplitAttributes(tu.attrs)
	inlineCols := make(map[string]any, len(inline))
	for attr, value := range inline {
		inlineCols[attr.Name] = value
	}
	if err := tx.InsertTU(ctx, TURow{
		ID:          tu.id,
		TMID:        s.tm.row.ID,
		SrcLocaleID: pending.locale.ID(),
		Inline:      inlineCols,
	}); err != nil {
		return nil, wrapStorage("insert", "tu", tu.id, err)
	}
	if len(custom) > 0 {
		values := make([]AttrValue, 0, len(custom))
		for attr, value := range custom {
			values = append(values, AttrValue{AttrID: attr.ID, Value: value})
		}
		if err := tx.ReplaceCustomAttrs(ctx, tu.id, values); err != nil {
			return nil, wrapStorage("save attrs", "tu", tu.id, err)
		}
	}
	if err := s.persistNewTUVs(ctx, tx, tu, tu.AllTUVs()); err != nil {
		return nil, err
	}
	return tu, nil
}

// persistNewTUVs allocates ids for, inserts, and indexes freshly added
// TUVs.
func (s *Saver) persistNewTUVs(ctx context.Context, tx Tx, tu *TU, tuvs []*TUV) error {
	if len(tuvs) == 0 {
		return nil
	}
	rows := make([]TUVRow, 0, len(tuvs))
	for _, tuv := range tuvs {
		id, err := s.tm.allocate(ctx, "tuvs")
		if err != nil {
			return err
		}
		tuv.id = id
		rows = append(rows, s.tm.tuvRow(tu, tuv))
	}
	if err := tx.InsertTUVs(ctx, rows); err != nil {
		return wrapStorage("insert", "tuv", tu.ID(), err)
	}
	for _, tuv := range tuvs {
		if err := indexTUV(ctx, tx, s.tm.row.ID, tuv, tuv.IsSource(), s.tm.row.IndexTargets); err != nil {
			return err
		}
	}
	return nil
}

// Save is the single-segment convenience form of the batch saver.
func (t *TM) Save(ctx context.Context, srcLocale Locale, content Data, attrs AttributeSet,
	tgtLocale Locale, tgtContent Data, mode SaveMode, event *Event) (*TU, error) {

	saver := t.CreateSaver()
	builder := saver.TU(content, srcLocale, event).Attrs(attrs)
	if tgtContent != nil {
		builder.Target(tgtContent, tgtLocale, event)
	}
	tus, err := saver.Save(ctx, mode)
	if err != nil {
		return nil, err
	}
	return tus[0], nil
}

// ModifyTU persists in-place changes made to a loaded TU: changed TUV
// content, added or removed targets, and attribute changes. The TU's
// persisted row is re-read under lock so two concurrent modifications of
// the same TU cannot lose updates.
func (t *TM) ModifyTU(ctx context.Context, tu *TU, event *Event) error {
	if event == nil {
		return ErrNoEvent
	}
	if tu.ID() == 0 {
		return &ValidationError{Field: "tu", Reason: "not persisted"}
	}
	if err := checkAttributes(tu.attrs); err != nil {
		return err
	}
	for _, tuv := range tu.TargetTUVs() {
		if tuv.ID() != 0 {
			continue
		}
		if err := t.checkTargetLocale(tuv.Locale()); err != nil {
			return err
		}
	}

	return t.storage.InTx(ctx, func(tx Tx) error {
		if err := t.persistEvent(ctx, tx, event); err != nil {
			return err
		}
		recs, err := tx.GetTUs(ctx, t.row.ID, []int64{tu.ID()}, true)
		if err != nil {
			return wrapStorage("get", "tu", tu.ID(), err)
		}
		if len(recs) == 0 {
			return &ValidationError{Field: "tu", Reason: "no longer exists"}
		}
		persisted := recs[0]

		persistedByID := make(map[int64]TUVRow, len(persisted.TUVs))
		for _, row := range persisted.TUVs {
			persistedByID[row.ID] = row
		}

		var added []*TUV
		current := make(map[int64]struct{})
		for _, tuv := range tu.AllTUVs() {
			if tuv.ID() == 0 {
				added = append(added, tuv)
				continue
			}
			current[tuv.ID()] = struct{}{}
			prev, ok := persistedByID[tuv.ID()]
			if !ok {
				return &ValidationError{Field: "tuv", Reason: "does not belong to this tu"}
			}
			if prev.Content == tuv.SerializedForm() {
				continue
			}
			// Content changed: move latestEvent forward and rebuild the
			// TUV's index postings.
			tuv.latestEventID = event.ID
			if err := tx.UpdateTUV(ctx, t.tuvRow(tu, tuv)); err != nil {
				return wrapStorage("update", "tuv", tuv.ID(), err)
			}
			if err := unindexTUV(ctx, tx, tuv); err != nil {
				return err
			}
			if err := indexTUV(ctx, tx, t.row.ID, tuv, tuv.IsSource(), t.row.IndexTargets); err != nil {
				return err
			}
		}

		// TUVs removed from the in-memory TU are deleted outright.
		var removedIDs []int64
		for _, row := range persisted.TUVs {
			if _, keep := current[row.ID]; !keep {
				removedIDs = append(removedIDs, row.ID)
				if err := tx.DeleteIndexEntries(ctx, row.ID); err != nil {
					return wrapStorage("unindex", "tuv", row.ID, err)
				}
			}
		}
		if len(removedIDs) > 0 {
			if err := tx.DeleteTUVs(ctx, removedIDs); err != nil {
				return wrapStorage("delete", "tuv", tu.ID(), err)
			}
		}

		saver := &Saver{tm: t}
		if err := saver.persistNewTUVs(ctx, tx, tu, added); err != nil {
			return err
		}

		inline, custom := SplitAttributes(tu.attrs)
		inlineCols := make(map[string]any, len(inline))
		for attr, value := range inline {
			inlineCols[attr.Name] = value
		}
		if err := tx.UpdateInlineAttrs(ctx, tu.ID(), inlineCols); err != nil {
			return wrapStorage("update attrs", "tu", tu.ID(), err)
		}
		values := make([]AttrValue, 0, len(custom))
		for attr, value := range custom {
			values = append(values, AttrValue{AttrID: attr.ID, Value: value})
		}
		if err := tx.ReplaceCustomAttrs(ctx, tu.ID(), values); err != nil {
			return wrapStorage("save attrs", "tu", tu.ID(), err)
		}
		return nil
	})
}
