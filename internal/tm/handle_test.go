package tm

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHandleCounts(t *testing.T) {
	t.Parallel()
	env := newBilingualEnv(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		env.save(t, fmt.Sprintf("count source %d", i), fmt.Sprintf("count target %d", i))
	}

	all := env.tm.AllData(nil)
	n, err := all.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, n)
	n, err = all.TUVCount(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 6, n)

	byTarget := env.tm.DataByLocale(frFR, nil)
	n, err = byTarget.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, n)
	n, err = byTarget.TUVCount(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, n)
}

func TestIteratorWalksAllPagesInIDOrder(t *testing.T) {
	t.Parallel()
	env := newBilingualEnv(t)
	ctx := context.Background()

	// More than two iterator pages.
	const total = 230
	for i := 0; i < total; i++ {
		env.save(t, fmt.Sprintf("paged source %03d", i), fmt.Sprintf("paged target %03d", i))
	}

	it := env.tm.AllData(nil).Iterator(ctx)
	var lastID int64
	seen := 0
	for it.Next() {
		tu := it.TU()
		require.NotNil(t, tu)
		require.Greater(t, tu.ID(), lastID)
		lastID = tu.ID()
		seen++
	}
	require.NoError(t, it.Err())
	require.Equal(t, total, seen)
}

func TestIteratorEmptyHandle(t *testing.T) {
	t.Parallel()
	env := newBilingualEnv(t)

	it := env.tm.AllData(nil).Iterator(context.Background())
	require.False(t, it.Next())
	require.Nil(t, it.TU())
	require.NoError(t, it.Err())
}

func TestPurgeThenRecount(t *testing.T) {
	t.Parallel()
	env := newBilingualEnv(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		env.save(t, fmt.Sprintf("purged source %d", i), fmt.Sprintf("purged target %d", i))
	}
	all := env.tm.AllData(nil)
	n, err := all.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 5, n)

	require.NoError(t, all.Purge(ctx))

	n, err = all.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
	n, err = all.TUVCount(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	// Purge also drops the index postings.
	require.Empty(t, env.find(t, "purged source 0", MatchAll).Matches)
}

func TestPurgeByID(t *testing.T) {
	t.Parallel()
	env := newBilingualEnv(t)
	ctx := context.Background()

	kept := env.save(t, "kept source", "kept target")
	doomed := env.save(t, "doomed source", "doomed target")

	byID := env.tm.DataByID([]int64{doomed.ID()}, nil)
	n, err := byID.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	require.NoError(t, byID.Purge(ctx))

	n, err = env.tm.AllData(nil).Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	_, err = env.tm.GetTU(ctx, kept.ID())
	require.NoError(t, err)

	// The purged content is gone from the exact index; only fuzzy echoes
	// of the surviving segment may remain.
	require.Empty(t, env.find(t, "doomed source", MatchExact).Matches)
	for _, m := range env.find(t, "doomed source", MatchAll).Matches {
		require.NotEqual(t, "doomed source", m.TUV.SerializedForm())
	}
}

func TestDateRangeFilters(t *testing.T) {
	t.Parallel()
	env := newBilingualEnv(t)
	ctx := context.Background()

	day1 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	day2 := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)

	event1, err := env.tm.AddEvent(ctx, "tester", "first import")
	require.NoError(t, err)
	event1.SetTimestamp(day1)
	event2, err := env.tm.AddEvent(ctx, "tester", "second import")
	require.NoError(t, err)
	event2.SetTimestamp(day2)

	_, err = env.tm.Save(ctx, enUS, NewTextData("older source"), nil,
		frFR, NewTextData("older target"), SaveMerge, event1)
	require.NoError(t, err)
	_, err = env.tm.Save(ctx, enUS, NewTextData("newer source"), nil,
		frFR, NewTextData("newer target"), SaveMerge, event2)
	require.NoError(t, err)

	count := func(r *DateRange) int64 {
		t.Helper()
		n, err := env.tm.AllData(r).Count(ctx)
		require.NoError(t, err)
		return n
	}

	require.EqualValues(t, 2, count(nil))
	require.EqualValues(t, 2, count(&DateRange{Start: day1, End: day2}))
	require.EqualValues(t, 1, count(&DateRange{Start: day1, End: day1.Add(24 * time.Hour)}))
	require.EqualValues(t, 1, count(&DateRange{Start: day2, End: day2}))
	require.Zero(t, count(&DateRange{Start: day2.Add(time.Hour), End: day2.Add(48 * time.Hour)}))

	// Bounds are inclusive on both ends.
	require.EqualValues(t, 2, count(&DateRange{Start: day1, End: day2}))
}

func TestDataByIDHonorsDateRange(t *testing.T) {
	t.Parallel()
	env := newBilingualEnv(t)
	ctx := context.Background()

	day1 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	day2 := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)

	event1, err := env.tm.AddEvent(ctx, "tester", "first import")
	require.NoError(t, err)
	event1.SetTimestamp(day1)
	event2, err := env.tm.AddEvent(ctx, "tester", "second import")
	require.NoError(t, err)
	event2.SetTimestamp(day2)

	older, err := env.tm.Save(ctx, enUS, NewTextData("older source"), nil,
		frFR, NewTextData("older target"), SaveMerge, event1)
	require.NoError(t, err)
	newer, err := env.tm.Save(ctx, enUS, NewTextData("newer source"), nil,
		frFR, NewTextData("newer target"), SaveMerge, event2)
	require.NoError(t, err)

	ids := []int64{older.ID(), newer.ID()}

	n, err := env.tm.DataByID(ids, nil).Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	// The date range narrows the id set instead of replacing it.
	n, err = env.tm.DataByID(ids, &DateRange{Start: day2, End: day2}).Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	n, err = env.tm.DataByID([]int64{older.ID()}, &DateRange{Start: day2, End: day2}).Count(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestTimestampFrozenAfterFirstUse(t *testing.T) {
	t.Parallel()
	env := newBilingualEnv(t)
	ctx := context.Background()

	day := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	event, err := env.tm.AddEvent(ctx, "tester", "import")
	require.NoError(t, err)
	event.SetTimestamp(day)
	_, err = env.tm.Save(ctx, enUS, NewTextData("frozen source"), nil,
		frFR, NewTextData("frozen target"), SaveMerge, event)
	require.NoError(t, err)

	// Once referenced, the timestamp no longer moves.
	event.SetTimestamp(day.Add(240 * time.Hour))
	loaded, err := env.tm.GetEvent(ctx, event.ID)
	require.NoError(t, err)
	require.True(t, loaded.Timestamp.Equal(day))
	require.True(t, event.Timestamp.Equal(day))
}

func TestDataByAttributes(t *testing.T) {
	t.Parallel()
	domain := &Attribute{Name: "domain", Type: ValueTypeString, AffectsIdentity: true}
	reviewer := &Attribute{Name: "reviewer", Type: ValueTypeCustom}
	env := newBilingualEnv(t, domain, reviewer)
	ctx := context.Background()

	saver := env.tm.CreateSaver()
	saver.TU(NewTextData("legal source"), enUS, env.event).
		Attr(domain, "legal").
		Attr(reviewer, "alice").
		Target(NewTextData("legal target"), frFR, env.event)
	saver.TU(NewTextData("medical source"), enUS, env.event).
		Attr(domain, "medical").
		Target(NewTextData("medical target"), frFR, env.event)
	_, err := saver.Save(ctx, SaveMerge)
	require.NoError(t, err)

	byInline := env.tm.DataByAttributes(AttributeSet{domain: "legal"}, nil)
	n, err := byInline.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	byCustom := env.tm.DataByAttributes(AttributeSet{reviewer: "alice"}, nil)
	n, err = byCustom.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	it := byInline.Iterator(ctx)
	require.True(t, it.Next())
	require.Equal(t, "legal source", it.TU().SourceTUV().SerializedForm())
	require.False(t, it.Next())
	require.NoError(t, it.Err())

	// Bulk delete is not implemented for attribute filters.
	require.ErrorIs(t, byInline.Purge(ctx), ErrNotSupported)
}

func TestLocalesListsOnlyPresentLocales(t *testing.T) {
	t.Parallel()
	env := newBilingualEnv(t)
	ctx := context.Background()

	locales, err := env.tm.Locales(ctx)
	require.NoError(t, err)
	require.Empty(t, locales)

	env.save(t, "locale source", "locale target")

	locales, err = env.tm.Locales(ctx)
	require.NoError(t, err)
	require.Len(t, locales, 2)
	require.Equal(t, "en-US", locales[0].Code())
	require.Equal(t, "fr-FR", locales[1].Code())
}
