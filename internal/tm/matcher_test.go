package tm

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newMultilingualEnv(t *testing.T, attrs ...*Attribute) *testEnv {
	t.Helper()
	storage := newFakeStorage()
	factory := &testFactory{}
	manager := NewManager(storage, zerolog.Nop())
	mem, err := manager.CreateMultilingualTM(context.Background(), t.Name(), factory, attrs, false)
	require.NoError(t, err)
	event, err := mem.AddEvent(context.Background(), "tester", "setup")
	require.NoError(t, err)
	return &testEnv{storage: storage, manager: manager, factory: factory, tm: mem, event: event}
}

func TestExactMatch(t *testing.T) {
	t.Parallel()
	env := newBilingualEnv(t)

	env.save(t, "this is source 1", "this is target 1")
	env.save(t, "this is source 2", "this is target 2")

	results := env.find(t, "this is source 1", MatchExact)
	require.Len(t, results.Matches, 1)
	m := results.Matches[0]
	require.True(t, m.Exact)
	require.Equal(t, ExactScore, m.Score)
	require.Equal(t, "this is source 1", m.TUV.SerializedForm())
	require.Len(t, m.TU.TargetTUVs(), 1)
	require.Equal(t, "this is target 1", m.TU.TargetTUVs()[0].SerializedForm())

	require.Empty(t, env.find(t, "this is source 3", MatchExact).Matches)
}

func TestExactMatchUnicode(t *testing.T) {
	t.Parallel()
	env := newBilingualEnv(t)

	env.save(t, "voilà le café préféré", "here is the favorite coffee")

	expectMatches(t, env.find(t, "voilà le café préféré", MatchExact),
		expectedMatch{content: "voilà le café préféré", exact: true})
}

func TestExactMatchAttributeFilter(t *testing.T) {
	t.Parallel()
	domain := &Attribute{Name: "domain", Type: ValueTypeString, AffectsIdentity: true}
	env := newBilingualEnv(t, domain)
	ctx := context.Background()

	for _, val := range []string{"legal", "medical"} {
		saver := env.tm.CreateSaver()
		saver.TU(NewTextData("filtered source"), enUS, env.event).
			Attr(domain, val).
			Target(NewTextData("target "+val), frFR, env.event)
		_, err := saver.Save(ctx, SaveMerge)
		require.NoError(t, err)
	}

	// Without a filter both identity partitions hit.
	require.Len(t, env.find(t, "filtered source", MatchExact).Matches, 2)

	results, err := env.tm.FindMatches(ctx, MatchQuery{
		Key:        NewTextData("filtered source"),
		KeyLocale:  enUS,
		Attributes: AttributeSet{domain: "legal"},
		Type:       MatchExact,
		MaxResults: 10,
	})
	require.NoError(t, err)
	require.Len(t, results.Matches, 1)
	require.Equal(t, "target legal", results.Matches[0].TU.TargetTUVs()[0].SerializedForm())
}

func TestFuzzyMatch(t *testing.T) {
	t.Parallel()
	env := newBilingualEnv(t)

	env.save(t, "one two three four", "un deux trois quatre")

	results := env.find(t, "one two three five", MatchFuzzy)
	require.Len(t, results.Matches, 1)
	m := results.Matches[0]
	require.False(t, m.Exact)
	require.Equal(t, 75, m.Score)
	require.Equal(t, "one two three four", m.TUV.SerializedForm())
}

func TestMatchAllKeepsListsDisjoint(t *testing.T) {
	t.Parallel()
	env := newBilingualEnv(t)

	env.save(t, "alpha beta gamma delta", "target one")
	env.save(t, "alpha beta gamma epsilon", "target two")

	// The exact hit's content must not reappear in the fuzzy tail even
	// though its own tokens make it the best fuzzy candidate.
	expectMatches(t, env.find(t, "alpha beta gamma delta", MatchAll),
		expectedMatch{content: "alpha beta gamma delta", exact: true},
		expectedMatch{content: "alpha beta gamma epsilon", exact: false})
}

func TestMatchFallback(t *testing.T) {
	t.Parallel()
	env := newBilingualEnv(t)

	env.save(t, "alpha beta gamma delta", "target one")
	env.save(t, "alpha beta gamma epsilon", "target two")

	// An exact hit suppresses the fuzzy pass entirely.
	expectMatches(t, env.find(t, "alpha beta gamma delta", MatchFallback),
		expectedMatch{content: "alpha beta gamma delta", exact: true})

	// Without an exact hit, fallback degrades to fuzzy.
	results := env.find(t, "alpha beta gamma zeta", MatchFallback)
	require.Len(t, results.Matches, 2)
	require.False(t, results.Matches[0].Exact)
}

func TestFuzzyThresholdAndLimit(t *testing.T) {
	t.Parallel()
	env := newBilingualEnv(t)
	ctx := context.Background()

	// Ten-token candidates sharing 9, 8, 7, 6 and 5 tokens with the query,
	// scoring 90, 80, 70, 60 and 50.
	query := "w1 w2 w3 w4 w5 w6 w7 w8 w9 w10"
	for i := 1; i <= 5; i++ {
		src := ""
		for j := 1; j <= 10; j++ {
			if j > 10-i {
				src += fmt.Sprintf("x%d ", j)
			} else {
				src += fmt.Sprintf("w%d ", j)
			}
		}
		env.save(t, src[:len(src)-1], fmt.Sprintf("target %d", i))
	}

	results, err := env.tm.FindMatches(ctx, MatchQuery{
		Key:        NewTextData(query),
		KeyLocale:  enUS,
		Type:       MatchFuzzy,
		Threshold:  65,
		MaxResults: 10,
	})
	require.NoError(t, err)
	require.Len(t, results.Matches, 3)
	require.Equal(t, []int{90, 80, 70}, []int{
		results.Matches[0].Score, results.Matches[1].Score, results.Matches[2].Score,
	})

	results, err = env.tm.FindMatches(ctx, MatchQuery{
		Key:        NewTextData(query),
		KeyLocale:  enUS,
		Type:       MatchFuzzy,
		Threshold:  65,
		MaxResults: 2,
	})
	require.NoError(t, err)
	require.Len(t, results.Matches, 2)
	require.Equal(t, 90, results.Matches[0].Score)
	require.Equal(t, 80, results.Matches[1].Score)
}

func TestIdenticalScoresBreakTiesByTUVID(t *testing.T) {
	t.Parallel()
	storage := newFakeStorage()
	factory := &testFactory{scorer: scorerFunc(func(_, _ Data, _ Locale) float64 {
		return 0.78
	})}
	manager := NewManager(storage, zerolog.Nop())
	ctx := context.Background()
	mem, err := manager.CreateBilingualTM(ctx, t.Name(), factory, nil, enUS, frFR, false)
	require.NoError(t, err)
	event, err := mem.AddEvent(ctx, "tester", "setup")
	require.NoError(t, err)

	var firstID, secondID int64
	tu, err := mem.Save(ctx, enUS, NewTextData("tie one shared"), nil, frFR, NewTextData("t1"), SaveMerge, event)
	require.NoError(t, err)
	firstID = tu.SourceTUV().ID()
	tu, err = mem.Save(ctx, enUS, NewTextData("tie two shared"), nil, frFR, NewTextData("t2"), SaveMerge, event)
	require.NoError(t, err)
	secondID = tu.SourceTUV().ID()
	require.Less(t, firstID, secondID)

	results, err := mem.FindMatches(ctx, MatchQuery{
		Key:        NewTextData("tie query shared"),
		KeyLocale:  enUS,
		Type:       MatchFuzzy,
		MaxResults: 10,
	})
	require.NoError(t, err)
	require.Len(t, results.Matches, 2)
	// A fractional score truncates to its integer percent.
	require.Equal(t, 78, results.Matches[0].Score)
	require.Equal(t, 78, results.Matches[1].Score)
	require.Equal(t, firstID, results.Matches[0].TUV.ID())
	require.Equal(t, secondID, results.Matches[1].TUV.ID())
}

func TestEmptyFuzzyQueryIsRejected(t *testing.T) {
	t.Parallel()
	env := newBilingualEnv(t)
	ctx := context.Background()

	env.save(t, "real content here", "du vrai contenu")

	for _, key := range []string{"", "   "} {
		_, err := env.tm.FindMatches(ctx, MatchQuery{
			Key:        NewTextData(key),
			KeyLocale:  enUS,
			Type:       MatchFuzzy,
			MaxResults: 10,
		})
		var validation *ValidationError
		require.ErrorAs(t, err, &validation, "key %q", key)
	}

	// A combined query with a blank key is not malformed; its fuzzy stage
	// simply has nothing to contribute.
	require.Empty(t, env.find(t, "   ", MatchAll).Matches)
}

func TestReverseLookupIsolation(t *testing.T) {
	t.Parallel()
	env := newBilingualEnv(t)
	ctx := context.Background()

	// "alpha text" exists both as a source (segment 1) and as a target
	// (segment 2). Each direction must only see its own side.
	env.save(t, "alpha text", "beta text")
	env.save(t, "gamma text", "alpha text")

	forward := env.find(t, "alpha text", MatchExact)
	require.Len(t, forward.Matches, 1)
	require.True(t, forward.Matches[0].TUV.IsSource())
	require.Equal(t, "beta text", forward.Matches[0].TU.TargetTUVs()[0].SerializedForm())

	reverse, err := env.tm.FindMatches(ctx, MatchQuery{
		Key:          NewTextData("alpha text"),
		KeyLocale:    frFR,
		Type:         MatchExact,
		LookupTarget: true,
		MaxResults:   10,
	})
	require.NoError(t, err)
	require.Len(t, reverse.Matches, 1)
	require.False(t, reverse.Matches[0].TUV.IsSource())
	require.Equal(t, "gamma text", reverse.Matches[0].TU.SourceTUV().SerializedForm())
}

func TestMatchLocaleRestriction(t *testing.T) {
	t.Parallel()
	env := newMultilingualEnv(t)
	ctx := context.Background()

	saver := env.tm.CreateSaver()
	saver.TU(NewTextData("restricted source one"), enUS, env.event).
		Target(NewTextData("cible"), frFR, env.event)
	saver.TU(NewTextData("restricted source two"), enUS, env.event).
		Target(NewTextData("ziel"), deDE, env.event)
	_, err := saver.Save(ctx, SaveMerge)
	require.NoError(t, err)

	// Only segments carrying a German variant survive the restriction.
	results, err := env.tm.FindMatches(ctx, MatchQuery{
		Key:          NewTextData("restricted source one"),
		KeyLocale:    enUS,
		MatchLocales: []Locale{deDE},
		Type:         MatchAll,
		MaxResults:   10,
	})
	require.NoError(t, err)
	for _, m := range results.Matches {
		require.NotNil(t, localeTUV(m.TU, deDE))
	}
	require.Len(t, results.Matches, 1)
	require.Equal(t, "restricted source two", results.Matches[0].TUV.SerializedForm())
}

func TestFuzzyMatchStaysInKeyLocale(t *testing.T) {
	t.Parallel()
	env := newMultilingualEnv(t)
	ctx := context.Background()

	// The same source content lives in two locales; they are distinct
	// segments because the source locale is part of identity.
	_, err := env.tm.Save(ctx, enUS, NewTextData("hotel taxi bus"), nil,
		frFR, NewTextData("cible"), SaveMerge, env.event)
	require.NoError(t, err)
	_, err = env.tm.Save(ctx, deDE, NewTextData("hotel taxi bus"), nil,
		frFR, NewTextData("cible aussi"), SaveMerge, env.event)
	require.NoError(t, err)

	results, err := env.tm.FindMatches(ctx, MatchQuery{
		Key:        NewTextData("hotel taxi tram"),
		KeyLocale:  enUS,
		Type:       MatchFuzzy,
		MaxResults: 10,
	})
	require.NoError(t, err)
	require.Len(t, results.Matches, 1)
	require.EqualValues(t, enUS.ID(), results.Matches[0].TUV.Locale().ID())
}

// collidingData reports a caller-chosen fingerprint regardless of its text.
type collidingData struct {
	text string
	fp   uint64
}

func (d *collidingData) SerializedForm() string { return d.text }
func (d *collidingData) Fingerprint() uint64    { return d.fp }
func (d *collidingData) Tokenize() []uint64     { return NewTextData(d.text).Tokenize() }

func TestFingerprintCollisionTreatedAsEquality(t *testing.T) {
	t.Parallel()
	env := newBilingualEnv(t)
	ctx := context.Background()

	_, err := env.tm.Save(ctx, enUS, &collidingData{text: "stored value", fp: 42}, nil,
		frFR, NewTextData("cible"), SaveMerge, env.event)
	require.NoError(t, err)

	// Different text, same fingerprint: exact matching trusts the
	// fingerprint and reports a hit.
	results, err := env.tm.FindMatches(ctx, MatchQuery{
		Key:        &collidingData{text: "different value", fp: 42},
		KeyLocale:  enUS,
		Type:       MatchExact,
		MaxResults: 10,
	})
	require.NoError(t, err)
	require.Len(t, results.Matches, 1)
	require.Equal(t, "stored value", results.Matches[0].TUV.SerializedForm())
}

func TestMatchQueryValidation(t *testing.T) {
	t.Parallel()
	env := newBilingualEnv(t)
	ctx := context.Background()

	var verr *ValidationError
	_, err := env.tm.FindMatches(ctx, MatchQuery{KeyLocale: enUS, MaxResults: 1})
	require.ErrorAs(t, err, &verr)

	_, err = env.tm.FindMatches(ctx, MatchQuery{Key: NewTextData("x"), KeyLocale: enUS})
	require.ErrorAs(t, err, &verr)

	_, err = env.tm.FindMatches(ctx, MatchQuery{
		Key: NewTextData("x"), KeyLocale: enUS, MaxResults: 1, Threshold: 101,
	})
	require.ErrorAs(t, err, &verr)
}
