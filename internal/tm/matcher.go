package tm

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// MatchType selects which lookup stages FindMatches runs.
type MatchType int

const (
	// MatchExact returns identity-resolver hits only, scored 100.
	MatchExact MatchType = iota
	// MatchFuzzy returns fuzzy-index hits only.
	MatchFuzzy
	// MatchAll returns exact hits followed by fuzzy hits. Content returned
	// as an exact hit never reappears in the fuzzy list.
	MatchAll
	// MatchFallback returns fuzzy hits only when no exact hit exists.
	MatchFallback
)

// ExactScore is the fixed score of every exact match.
const ExactScore = 100

// scoreConcurrency bounds how many candidates are scored at once.
const scoreConcurrency = 8

// LeverageMatch is one ranked result: the matched TUV, its owning TU, and
// an integer score in [0, 100]. Exact matches always score exactly 100.
type LeverageMatch struct {
	TU    *TU
	TUV   *TUV
	Exact bool
	Score int
}

// LeverageResults is the ordered outcome of a FindMatches call.
type LeverageResults struct {
	Matches []LeverageMatch
}

// MatchQuery carries the parameters of one leverage lookup.
type MatchQuery struct {
	Key       Data
	KeyLocale Locale
	// MatchLocales, when non-nil, keeps only TUs that also carry a TUV in
	// one of these locales.
	MatchLocales []Locale
	Attributes   AttributeSet
	Type         MatchType
	// LookupTarget flips the direction: the key is matched against stored
	// target content and the hit's TU presents its source as context.
	LookupTarget bool
	MaxResults   int
	// Threshold is the minimum fuzzy score in percent. Fuzzy hits scoring
	// below it are discarded.
	Threshold int
}

// FindMatches runs exact and/or fuzzy leverage for a query and returns
// ranked results: exact hits first (score 100), then fuzzy hits in
// descending score order, ties broken by ascending TUV id, truncated to
// MaxResults.
func (t *TM) FindMatches(ctx context.Context, q MatchQuery) (*LeverageResults, error) {
	if q.Key == nil {
		return nil, &ValidationError{Field: "key", Reason: "missing content"}
	}
	if q.KeyLocale == nil {
		return nil, &ValidationError{Field: "keyLocale", Reason: "missing locale"}
	}
	if err := t.checkKeyLocale(q.KeyLocale, q.LookupTarget); err != nil {
		return nil, err
	}
	if q.MaxResults <= 0 {
		return nil, &ValidationError{Field: "maxResults", Reason: "must be positive"}
	}
	if q.Threshold < 0 || q.Threshold > 100 {
		return nil, &ValidationError{Field: "threshold", Reason: "must be in [0, 100]"}
	}
	if q.Type == MatchFuzzy && len(q.Key.Tokenize()) == 0 {
		return nil, &ValidationError{Field: "key", Reason: "fuzzy query has no tokens"}
	}

	results := &LeverageResults{}
	err := t.storage.InTx(ctx, func(tx Tx) error {
		exactContent := make(map[string]struct{})

		if q.Type != MatchFuzzy {
			exact, err := t.exactMatches(ctx, tx, q)
			if err != nil {
				return err
			}
			for _, m := range exact {
				exactContent[m.TUV.SerializedForm()] = struct{}{}
			}
			results.Matches = append(results.Matches, exact...)
		}

		runFuzzy := q.Type == MatchFuzzy || q.Type == MatchAll ||
			(q.Type == MatchFallback && len(results.Matches) == 0)
		if runFuzzy {
			fuzzy, err := t.fuzzyMatches(ctx, tx, q, exactContent)
			if err != nil {
				return err
			}
			results.Matches = append(results.Matches, fuzzy...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(results.Matches) > q.MaxResults {
		results.Matches = results.Matches[:q.MaxResults]
	}
	return results, nil
}

func (t *TM) exactMatches(ctx context.Context, tx Tx, q MatchQuery) ([]LeverageMatch, error) {
	candidates, err := t.exactLookup(ctx, tx, q.Key, q.KeyLocale, q.MatchLocales, q.Attributes, q.LookupTarget)
	if err != nil {
		return nil, err
	}
	matches, err := t.resolveCandidates(ctx, tx, candidates, nil)
	if err != nil {
		return nil, err
	}
	out := make([]LeverageMatch, 0, len(matches))
	for _, m := range matches {
		// The index is coarse: a fingerprint hit in the right locale can
		// still belong to the wrong side of the TU.
		if !q.LookupTarget && !m.tuv.IsSource() {
			continue
		}
		if q.LookupTarget && m.tuv.IsSource() {
			continue
		}
		out = append(out, LeverageMatch{TU: m.tu, TUV: m.tuv, Exact: true, Score: ExactScore})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TUV.ID() < out[j].TUV.ID() })
	return out, nil
}

func (t *TM) fuzzyMatches(ctx context.Context, tx Tx, q MatchQuery, excludeContent map[string]struct{}) ([]LeverageMatch, error) {
	fps := q.Key.Tokenize()
	if len(fps) == 0 {
		// Fuzzy-only queries reject a blank key up front; here it only
		// means the fuzzy stage of a combined query has nothing to do.
		return nil, nil
	}
	inline, custom := identityFilters(q.Attributes)
	var matchLocaleIDs []int64
	for _, l := range q.MatchLocales {
		matchLocaleIDs = append(matchLocaleIDs, l.ID())
	}
	candidates, err := fuzzyCandidates(ctx, tx, t.row.ID, fps, q.KeyLocale.ID(), !q.LookupTarget, inline, custom, matchLocaleIDs)
	if err != nil {
		return nil, err
	}

	resolved, err := t.resolveCandidates(ctx, tx, candidates, excludeContent)
	if err != nil {
		return nil, err
	}

	scorer := t.factory.Scorer()
	matches := make([]LeverageMatch, len(resolved))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(scoreConcurrency)
	for i, m := range resolved {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			score := int(scorer.Score(q.Key, m.tuv.Content(), q.KeyLocale) * 100)
			mu.Lock()
			matches[i] = LeverageMatch{TU: m.tu, TUV: m.tuv, Score: score}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := matches[:0]
	for _, m := range matches {
		if m.Score >= q.Threshold {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].TUV.ID() < out[j].TUV.ID()
	})
	return out, nil
}

type resolvedCandidate struct {
	tu  *TU
	tuv *TUV
}

// resolveCandidates loads the TUs behind a candidate list and pairs each
// candidate with its concrete TUV. Candidates whose rows vanished between
// lookup and load are skipped; candidates whose content was returned as an
// exact match are excluded so a match never appears on both lists.
func (t *TM) resolveCandidates(ctx context.Context, tx Tx, candidates []Candidate, excludeContent map[string]struct{}) ([]resolvedCandidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	ids := make([]int64, 0, len(candidates))
	seen := make(map[int64]struct{}, len(candidates))
	for _, c := range candidates {
		if _, dup := seen[c.TUID]; !dup {
			seen[c.TUID] = struct{}{}
			ids = append(ids, c.TUID)
		}
	}
	tus, err := t.getTUs(ctx, tx, ids, false)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]*TU, len(tus))
	for _, tu := range tus {
		byID[tu.ID()] = tu
	}

	var out []resolvedCandidate
	for _, c := range candidates {
		tu, ok := byID[c.TUID]
		if !ok {
			continue
		}
		var tuv *TUV
		for _, v := range tu.AllTUVs() {
			if v.ID() == c.TUVID {
				tuv = v
				break
			}
		}
		if tuv == nil {
			continue
		}
		if _, dup := excludeContent[tuv.SerializedForm()]; dup {
			continue
		}
		out = append(out, resolvedCandidate{tu: tu, tuv: tuv})
	}
	return out, nil
}
