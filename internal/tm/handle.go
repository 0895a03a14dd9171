package tm

import (
	"context"
	"time"
)

// handlePageSize is how many TUs an iterator fetches per page.
const handlePageSize = 100

// DateRange bounds a handle to TUVs whose latest event falls inside
// [Start, End], inclusive.
type DateRange struct {
	Start time.Time
	End   time.Time
}

func (r *DateRange) apply(f *PageFilter) {
	if r == nil {
		return
	}
	start, end := r.Start, r.End
	f.Start = &start
	f.End = &end
}

// DataHandle is a cursor-based view over a filtered subset of a memory's
// TUs. The same filter backs Count, TUVCount, Iterator and Purge, so
// purging a handle and recounting it always yields zero.
type DataHandle struct {
	tm     *TM
	filter PageFilter
	// purgeSupported marks filter combinations whose bulk delete is
	// implemented. Others fail with ErrNotSupported instead of silently
	// doing nothing.
	purgeSupported bool
}

// AllData returns a handle over every TU in the memory.
func (t *TM) AllData(dateRange *DateRange) *DataHandle {
	f := PageFilter{TMID: t.row.ID}
	dateRange.apply(&f)
	return &DataHandle{tm: t, filter: f, purgeSupported: true}
}

// DataByLocale returns a handle over TUs carrying a TUV in the locale.
func (t *TM) DataByLocale(locale Locale, dateRange *DateRange) *DataHandle {
	f := PageFilter{TMID: t.row.ID, LocaleID: locale.ID()}
	dateRange.apply(&f)
	return &DataHandle{tm: t, filter: f, purgeSupported: true}
}

// DataByAttributes returns a handle over TUs whose attribute values match
// the filter. Purge is not implemented for attribute handles.
func (t *TM) DataByAttributes(attrs AttributeSet, dateRange *DateRange) *DataHandle {
	inline := make(map[string]any)
	var custom []AttrValue
	for attr, value := range attrs {
		if attr.Inline() {
			inline[attr.Name] = value
		} else {
			custom = append(custom, AttrValue{AttrID: attr.ID, Value: value.(string)})
		}
	}
	f := PageFilter{TMID: t.row.ID, Inline: inline, Custom: custom}
	dateRange.apply(&f)
	return &DataHandle{tm: t, filter: f}
}

// DataByID returns a handle over an explicit set of TU ids.
func (t *TM) DataByID(ids []int64, dateRange *DateRange) *DataHandle {
	f := PageFilter{TMID: t.row.ID, TUIDs: ids}
	dateRange.apply(&f)
	return &DataHandle{tm: t, filter: f, purgeSupported: true}
}

// Count returns the number of TUs the handle covers.
func (h *DataHandle) Count(ctx context.Context) (int64, error) {
	var n int64
	err := h.tm.storage.InTx(ctx, func(tx Tx) error {
		var err error
		n, err = tx.TUCount(ctx, h.filter)
		return err
	})
	if err != nil {
		return 0, wrapStorage("count", "tu", 0, err)
	}
	return n, nil
}

// TUVCount returns the number of TUVs the handle covers.
func (h *DataHandle) TUVCount(ctx context.Context) (int64, error) {
	var n int64
	err := h.tm.storage.InTx(ctx, func(tx Tx) error {
		var err error
		n, err = tx.TUVCount(ctx, h.filter)
		return err
	})
	if err != nil {
		return 0, wrapStorage("count", "tuv", 0, err)
	}
	return n, nil
}

// Purge bulk-deletes everything the handle covers.
func (h *DataHandle) Purge(ctx context.Context) error {
	if !h.purgeSupported {
		return ErrNotSupported
	}
	err := h.tm.storage.InTx(ctx, func(tx Tx) error {
		return tx.DeleteTUs(ctx, h.filter)
	})
	return wrapStorage("purge", "tu", 0, err)
}

// Iterator starts a forward-only pass over the handle's TUs in increasing
// id order. It is not restartable; re-iterating requires a new call.
func (h *DataHandle) Iterator(ctx context.Context) *TUIterator {
	return &TUIterator{
		fetch: func(afterID int64) ([]*TU, error) {
			var tus []*TU
			err := h.tm.storage.InTx(ctx, func(tx Tx) error {
				ids, err := tx.TUPage(ctx, h.filter, afterID, handlePageSize)
				if err != nil {
					return err
				}
				tus, err = h.tm.getTUs(ctx, tx, ids, false)
				return err
			})
			if err != nil {
				return nil, wrapStorage("page", "tu", afterID, err)
			}
			return tus, nil
		},
	}
}

// TUIterator walks TUs page by page using keyset pagination. The page
// fetch is injected by the handle that created the iterator, so one
// iterator type serves every filter variant.
type TUIterator struct {
	fetch func(afterID int64) ([]*TU, error)

	page    []*TU
	pos     int
	afterID int64
	done    bool
	err     error
}

// Next advances to the next TU, returning false at the end of the data or
// on error.
func (it *TUIterator) Next() bool {
	if it.err != nil {
		return false
	}
	it.pos++
	if it.pos < len(it.page) {
		return true
	}
	if it.done {
		return false
	}
	page, err := it.fetch(it.afterID)
	if err != nil {
		it.err = err
		return false
	}
	if len(page) < handlePageSize {
		// A short page means the data is exhausted.
		it.done = true
	}
	if len(page) == 0 {
		return false
	}
	it.page = page
	it.afterID = page[len(page)-1].ID()
	it.pos = 0
	return true
}

// TU returns the current element.
func (it *TUIterator) TU() *TU {
	if it.pos < 0 || it.pos >= len(it.page) {
		return nil
	}
	return it.page[it.pos]
}

// Err reports the first error encountered while paging.
func (it *TUIterator) Err() error { return it.err }
