package tm

import (
	"context"
	"strings"
)

// identityKey computes the lock key for a segment identity: the memory,
// the source content fingerprint, the source locale and the values of every
// identity-affecting attribute. Non-identity attributes never participate.
func (t *TM) identityKey(content Data, srcLocale Locale, attrs AttributeSet) IdentityKey {
	return IdentityKey{
		TMID:        t.row.ID,
		Fingerprint: content.Fingerprint(),
		LocaleID:    srcLocale.ID(),
		AttrValues:  strings.Join(identityValues(attrs), "\x1f"),
	}
}

// identityFilters splits an attribute set into the inline column values and
// custom side-table values used to constrain identity lookups. Only
// identity-affecting attributes apply.
func identityFilters(attrs AttributeSet) (map[string]any, []AttrValue) {
	inline := make(map[string]any)
	var custom []AttrValue
	for attr, value := range attrs {
		if !attr.AffectsIdentity {
			continue
		}
		if attr.Inline() {
			inline[attr.Name] = value
		} else {
			custom = append(custom, AttrValue{AttrID: attr.ID, Value: value.(string)})
		}
	}
	return inline, custom
}

// exactLookup finds TUVs whose content fingerprint, locale and identity
// attribute values all match. matchLocales, when non-nil, additionally
// requires the owning TU to carry a TUV in one of those locales.
func (t *TM) exactLookup(ctx context.Context, tx Tx, key Data, keyLocale Locale,
	matchLocales []Locale, attrs AttributeSet, lookupTarget bool) ([]Candidate, error) {

	if err := t.checkKeyLocale(keyLocale, lookupTarget); err != nil {
		return nil, err
	}
	inline, custom := identityFilters(attrs)
	q := ExactQuery{
		TMID:        t.row.ID,
		Fingerprint: key.Fingerprint(),
		LocaleID:    keyLocale.ID(),
		SourceOnly:  !lookupTarget,
		Inline:      inline,
		Custom:      custom,
	}
	for _, l := range matchLocales {
		q.MatchLocaleIDs = append(q.MatchLocaleIDs, l.ID())
	}
	candidates, err := tx.ExactLookup(ctx, q)
	if err != nil {
		return nil, wrapStorage("exact lookup", "tuv", 0, err)
	}
	return candidates, nil
}

// findTUForSave resolves the TU owning a segment identity, if one exists,
// after acquiring the identity lock. The lock is held until the enclosing
// transaction ends, so a concurrent writer racing on the same identity
// blocks here and re-reads once the winner commits.
func (t *TM) findTUForSave(ctx context.Context, tx Tx, content Data,
	srcLocale Locale, attrs AttributeSet) (*TU, error) {

	if err := tx.LockIdentity(ctx, t.identityKey(content, srcLocale, attrs)); err != nil {
		return nil, wrapStorage("lock identity", "tu", 0, err)
	}
	candidates, err := t.exactLookup(ctx, tx, content, srcLocale, nil, attrs, false)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	tus, err := t.getTUs(ctx, tx, []int64{candidates[0].TUID}, true)
	if err != nil {
		return nil, err
	}
	if len(tus) == 0 {
		return nil, nil
	}
	return tus[0], nil
}
