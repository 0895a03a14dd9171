package tm

import (
	"context"
	"sort"
	"sync"
	"time"
)

// fakeStorage is an in-memory Storage used by the engine tests. It keeps
// the same observable contract as the SQL implementation: identity locks
// block concurrent transactions until the holder finishes, counter blocks
// are claimed atomically, and lookups apply the same filters.
type fakeStorage struct {
	mu sync.Mutex

	tms      map[int64]TMRow
	tmAttrs  map[int64][]*Attribute
	tus      map[int64]TURow
	tuvs     map[int64]TUVRow
	custom   map[int64][]AttrValue
	index    []IndexEntry
	events   map[int64]EventRow
	counters map[string]int64

	nextTMID   int64
	nextAttrID int64

	lockMu sync.Mutex
	locks  map[IdentityKey]chan struct{}

	// lockWait bounds how long LockIdentity blocks before failing with
	// ErrLockTimeout.
	lockWait time.Duration
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		tms:      make(map[int64]TMRow),
		tmAttrs:  make(map[int64][]*Attribute),
		tus:      make(map[int64]TURow),
		tuvs:     make(map[int64]TUVRow),
		custom:   make(map[int64][]AttrValue),
		events:   make(map[int64]EventRow),
		counters: make(map[string]int64),
		locks:    make(map[IdentityKey]chan struct{}),
		lockWait: 5 * time.Second,
	}
}

type fakeTx struct {
	s    *fakeStorage
	held []IdentityKey
}

func (s *fakeStorage) InTx(_ context.Context, fn func(Tx) error) error {
	tx := &fakeTx{s: s}
	err := fn(tx)
	tx.releaseLocks()
	return err
}

func (s *fakeStorage) ClaimIDBlock(_ context.Context, counter string, n int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	first := s.counters[counter] + 1
	s.counters[counter] += int64(n)
	return first, nil
}

func (s *fakeStorage) InsertTM(_ context.Context, row *TMRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTMID++
	row.ID = s.nextTMID
	s.tms[row.ID] = *row
	return nil
}

func (s *fakeStorage) GetTM(_ context.Context, id int64) (TMRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.tms[id]
	if !ok {
		return TMRow{}, ErrTMNotFound
	}
	return row, nil
}

func (s *fakeStorage) DeleteTM(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tms, id)
	delete(s.tmAttrs, id)
	return nil
}

func (s *fakeStorage) InsertAttribute(_ context.Context, tmID int64, attr *Attribute) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextAttrID++
	attr.ID = s.nextAttrID
	s.tmAttrs[tmID] = append(s.tmAttrs[tmID], attr)
	return nil
}

func (s *fakeStorage) GetAttributes(_ context.Context, tmID int64) ([]*Attribute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tmAttrs[tmID], nil
}

func (tx *fakeTx) LockIdentity(ctx context.Context, key IdentityKey) error {
	for _, held := range tx.held {
		if held == key {
			return nil
		}
	}
	deadline := time.Now().Add(tx.s.lockWait)
	for {
		tx.s.lockMu.Lock()
		ch, taken := tx.s.locks[key]
		if !taken {
			tx.s.locks[key] = make(chan struct{})
			tx.s.lockMu.Unlock()
			tx.held = append(tx.held, key)
			return nil
		}
		tx.s.lockMu.Unlock()
		select {
		case <-ch:
		case <-time.After(time.Until(deadline)):
			return ErrLockTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (tx *fakeTx) releaseLocks() {
	tx.s.lockMu.Lock()
	defer tx.s.lockMu.Unlock()
	for _, key := range tx.held {
		if ch, ok := tx.s.locks[key]; ok {
			delete(tx.s.locks, key)
			close(ch)
		}
	}
	tx.held = nil
}

func (tx *fakeTx) InsertTU(_ context.Context, row TURow) error {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	tx.s.tus[row.ID] = row
	return nil
}

func (tx *fakeTx) UpdateInlineAttrs(_ context.Context, tuID int64, inline map[string]any) error {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	row, ok := tx.s.tus[tuID]
	if !ok {
		return nil
	}
	row.Inline = inline
	tx.s.tus[tuID] = row
	return nil
}

func (tx *fakeTx) ReplaceCustomAttrs(_ context.Context, tuID int64, values []AttrValue) error {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	tx.s.custom[tuID] = values
	return nil
}

func (tx *fakeTx) InsertTUVs(_ context.Context, rows []TUVRow) error {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	for _, row := range rows {
		tx.s.tuvs[row.ID] = row
	}
	return nil
}

func (tx *fakeTx) UpdateTUV(_ context.Context, row TUVRow) error {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	tx.s.tuvs[row.ID] = row
	return nil
}

func (tx *fakeTx) DeleteTUVs(_ context.Context, ids []int64) error {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	for _, id := range ids {
		delete(tx.s.tuvs, id)
	}
	return nil
}

func (tx *fakeTx) GetTUs(_ context.Context, tmID int64, ids []int64, _ bool) ([]TURecord, error) {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	var recs []TURecord
	for _, id := range ids {
		row, ok := tx.s.tus[id]
		if !ok || row.TMID != tmID {
			continue
		}
		rec := TURecord{TU: row, Custom: tx.s.custom[id]}
		for _, tuv := range tx.s.tuvs {
			if tuv.TUID == id {
				rec.TUVs = append(rec.TUVs, tuv)
			}
		}
		sort.Slice(rec.TUVs, func(i, j int) bool { return rec.TUVs[i].ID < rec.TUVs[j].ID })
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].TU.ID < recs[j].TU.ID })
	return recs, nil
}

func (tx *fakeTx) tuMatchesAttrs(tuID int64, inline map[string]any, custom []AttrValue) bool {
	row := tx.s.tus[tuID]
	for name, want := range inline {
		if row.Inline[name] != want {
			return false
		}
	}
	for _, want := range custom {
		found := false
		for _, have := range tx.s.custom[tuID] {
			if have.AttrID == want.AttrID && have.Value == want.Value {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (tx *fakeTx) tuHasLocale(tuID int64, localeIDs []int64) bool {
	if localeIDs == nil {
		return true
	}
	for _, tuv := range tx.s.tuvs {
		if tuv.TUID != tuID {
			continue
		}
		for _, id := range localeIDs {
			if tuv.LocaleID == id {
				return true
			}
		}
	}
	return false
}

func (tx *fakeTx) ExactLookup(_ context.Context, q ExactQuery) ([]Candidate, error) {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	var out []Candidate
	for _, tuv := range tx.s.tuvs {
		if tuv.TMID != q.TMID || tuv.Fingerprint != q.Fingerprint || tuv.LocaleID != q.LocaleID {
			continue
		}
		if q.SourceOnly && tx.s.tus[tuv.TUID].SrcLocaleID != q.LocaleID {
			continue
		}
		if !tx.tuMatchesAttrs(tuv.TUID, q.Inline, q.Custom) {
			continue
		}
		if !tx.tuHasLocale(tuv.TUID, q.MatchLocaleIDs) {
			continue
		}
		out = append(out, Candidate{TUVID: tuv.ID, TUID: tuv.TUID})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TUVID < out[j].TUVID })
	return out, nil
}

func (tx *fakeTx) FuzzyLookup(_ context.Context, q FuzzyQuery) ([]Candidate, error) {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	wanted := make(map[uint64]struct{}, len(q.Fingerprints))
	for _, fp := range q.Fingerprints {
		wanted[fp] = struct{}{}
	}
	hits := make(map[int64]*Candidate)
	for _, e := range tx.s.index {
		if e.TMID != q.TMID || e.IsSource != q.IsSource || e.LocaleID != q.LocaleID {
			continue
		}
		if _, ok := wanted[e.Fingerprint]; !ok {
			continue
		}
		if q.MinTokens > 0 && e.TokenCount <= q.MinTokens {
			continue
		}
		if e.TokenCount >= q.MaxTokens {
			continue
		}
		if !tx.tuMatchesAttrs(e.TUID, q.Inline, q.Custom) {
			continue
		}
		if !tx.tuHasLocale(e.TUID, q.MatchLocaleIDs) {
			continue
		}
		if c, ok := hits[e.TUVID]; ok {
			c.Hits++
		} else {
			hits[e.TUVID] = &Candidate{TUVID: e.TUVID, TUID: e.TUID, Hits: 1}
		}
	}
	out := make([]Candidate, 0, len(hits))
	for _, c := range hits {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Hits != out[j].Hits {
			return out[i].Hits > out[j].Hits
		}
		return out[i].TUVID < out[j].TUVID
	})
	return out, nil
}

func (tx *fakeTx) InsertIndexEntries(_ context.Context, entries []IndexEntry) error {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	tx.s.index = append(tx.s.index, entries...)
	return nil
}

func (tx *fakeTx) DeleteIndexEntries(_ context.Context, tuvID int64) error {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	kept := tx.s.index[:0]
	for _, e := range tx.s.index {
		if e.TUVID != tuvID {
			kept = append(kept, e)
		}
	}
	tx.s.index = kept
	return nil
}

func (tx *fakeTx) InsertEvent(_ context.Context, row EventRow) error {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	// Mirrors an ON CONFLICT DO NOTHING upsert: the first writer wins.
	if _, ok := tx.s.events[row.ID]; !ok {
		tx.s.events[row.ID] = row
	}
	return nil
}

func (tx *fakeTx) GetEvent(_ context.Context, tmID, id int64) (EventRow, error) {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	row, ok := tx.s.events[id]
	if !ok || row.TMID != tmID {
		return EventRow{}, ErrTMNotFound
	}
	return row, nil
}

// tuInFilter applies a PageFilter to one TU. Date bounds compare the
// latest-event timestamps of the TU's TUVs, inclusively.
func (tx *fakeTx) tuInFilter(tuID int64, f PageFilter) bool {
	row, ok := tx.s.tus[tuID]
	if !ok || row.TMID != f.TMID {
		return false
	}
	if len(f.TUIDs) > 0 {
		found := false
		for _, id := range f.TUIDs {
			if id == tuID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !tx.tuMatchesAttrs(tuID, f.Inline, f.Custom) {
		return false
	}
	needLocale := f.LocaleID != 0
	needDate := f.Start != nil
	if !needLocale && !needDate {
		return true
	}
	for _, tuv := range tx.s.tuvs {
		if tuv.TUID != tuID {
			continue
		}
		if needLocale && tuv.LocaleID != f.LocaleID {
			continue
		}
		if needDate && !tx.eventInRange(tuv.LatestEventID, f) {
			continue
		}
		return true
	}
	return false
}

func (tx *fakeTx) eventInRange(eventID int64, f PageFilter) bool {
	ev, ok := tx.s.events[eventID]
	if !ok {
		return false
	}
	if ev.Timestamp.Before(*f.Start) || ev.Timestamp.After(*f.End) {
		return false
	}
	return true
}

func (tx *fakeTx) filteredTUIDs(f PageFilter) []int64 {
	var ids []int64
	for id := range tx.s.tus {
		if tx.tuInFilter(id, f) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (tx *fakeTx) TUCount(_ context.Context, f PageFilter) (int64, error) {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	return int64(len(tx.filteredTUIDs(f))), nil
}

func (tx *fakeTx) TUVCount(_ context.Context, f PageFilter) (int64, error) {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	var n int64
	for _, id := range tx.filteredTUIDs(f) {
		for _, tuv := range tx.s.tuvs {
			if tuv.TUID != id {
				continue
			}
			if f.LocaleID != 0 && tuv.LocaleID != f.LocaleID {
				continue
			}
			if f.Start != nil && !tx.eventInRange(tuv.LatestEventID, f) {
				continue
			}
			n++
		}
	}
	return n, nil
}

func (tx *fakeTx) TUPage(_ context.Context, f PageFilter, afterID int64, limit int) ([]int64, error) {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	var out []int64
	for _, id := range tx.filteredTUIDs(f) {
		if id <= afterID {
			continue
		}
		out = append(out, id)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (tx *fakeTx) DeleteTUs(_ context.Context, f PageFilter) error {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	for _, id := range tx.filteredTUIDs(f) {
		for tuvID, tuv := range tx.s.tuvs {
			if tuv.TUID != id {
				continue
			}
			delete(tx.s.tuvs, tuvID)
			kept := tx.s.index[:0]
			for _, e := range tx.s.index {
				if e.TUVID != tuvID {
					kept = append(kept, e)
				}
			}
			tx.s.index = kept
		}
		delete(tx.s.custom, id)
		delete(tx.s.tus, id)
	}
	return nil
}

func (tx *fakeTx) DistinctLocaleIDs(_ context.Context, tmID int64) ([]int64, error) {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	seen := make(map[int64]struct{})
	for _, tuv := range tx.s.tuvs {
		if tuv.TMID == tmID {
			seen[tuv.LocaleID] = struct{}{}
		}
	}
	ids := make([]int64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
