package tm

import "context"

// buildIndexEntries decomposes a TUV into fuzzy-index postings: one entry
// per distinct token fingerprint, each carrying the TUV's total token count
// and the source/target flag.
func buildIndexEntries(tmID int64, tuv *TUV, isSource bool) []IndexEntry {
	fps := tuv.Content().Tokenize()
	seen := make(map[uint64]struct{}, len(fps))
	entries := make([]IndexEntry, 0, len(fps))
	for _, fp := range fps {
		if _, dup := seen[fp]; dup {
			continue
		}
		seen[fp] = struct{}{}
		entries = append(entries, IndexEntry{
			Fingerprint: fp,
			TUVID:       tuv.ID(),
			TUID:        tuv.TU().ID(),
			TMID:        tmID,
			LocaleID:    tuv.Locale().ID(),
			TokenCount:  len(fps),
			IsSource:    isSource,
		})
	}
	return entries
}

// indexTUV writes the postings for a TUV. Target TUVs are only indexed
// when the memory opted into target indexing.
func indexTUV(ctx context.Context, tx Tx, tmID int64, tuv *TUV, isSource, indexTargets bool) error {
	if !isSource && !indexTargets {
		return nil
	}
	entries := buildIndexEntries(tmID, tuv, isSource)
	if len(entries) == 0 {
		return nil
	}
	if err := tx.InsertIndexEntries(ctx, entries); err != nil {
		return wrapStorage("index", "tuv", tuv.ID(), err)
	}
	return nil
}

// unindexTUV removes every posting for a TUV. Used before re-indexing a
// changed TUV and when a TUV is deleted.
func unindexTUV(ctx context.Context, tx Tx, tuv *TUV) error {
	if err := tx.DeleteIndexEntries(ctx, tuv.ID()); err != nil {
		return wrapStorage("unindex", "tuv", tuv.ID(), err)
	}
	return nil
}

// fuzzyCandidates runs the coarse candidate retrieval for a query: index
// postings matching any query token, restricted to the right side of the
// memory, pruned by the token-count ratio bounds, grouped per TUV and
// ordered by shared-token count. The count orders SQL-side pruning only;
// precise relevance comes from the scorer.
func fuzzyCandidates(ctx context.Context, tx Tx, tmID int64, fps []uint64,
	localeID int64, isSource bool, inline map[string]any, custom []AttrValue,
	matchLocaleIDs []int64) ([]Candidate, error) {

	if len(fps) == 0 {
		return nil, nil
	}
	q := FuzzyQuery{
		TMID:           tmID,
		Fingerprints:   fps,
		LocaleID:       localeID,
		IsSource:       isSource,
		MinTokens:      len(fps) / 3,
		MaxTokens:      len(fps) * 3,
		Inline:         inline,
		Custom:         custom,
		MatchLocaleIDs: matchLocaleIDs,
	}
	candidates, err := tx.FuzzyLookup(ctx, q)
	if err != nil {
		return nil, wrapStorage("fuzzy lookup", "index", 0, err)
	}
	return candidates, nil
}
