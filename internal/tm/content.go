package tm

import (
	"hash/fnv"
	"strings"
)

// Locale identifies a language/region pair known to the embedding
// application. Locales are referenced by id in storage; the engine never
// creates them.
type Locale interface {
	ID() int64
	Code() string
	Language() string
}

// Data is the capability contract a segment's content type must satisfy.
//
// SerializedForm must round-trip through storage unchanged. Fingerprint is
// used for exact-match equality: two values with equal fingerprints are
// treated as identical content, so implementations must use a hash of
// adequate quality. Tokenize yields one fingerprint per token; how a value
// is split into tokens is up to the implementation.
type Data interface {
	SerializedForm() string
	Fingerprint() uint64
	Tokenize() []uint64
}

// DataFactory reconstructs content values from their stored form and maps
// locale ids back to locales. Implementations are supplied by the embedding
// application.
type DataFactory interface {
	FromSerializedForm(locale Locale, value string) Data
	LocaleByID(id int64) (Locale, error)
	Scorer() FuzzyScorer
}

// FuzzyScorer computes the precise relevance of a fuzzy candidate against
// the query, in the range [0.0, 1.0]. The coarse shared-token count from
// the index is never used as a final score.
type FuzzyScorer interface {
	Score(key, candidate Data, locale Locale) float64
}

// FingerprintString hashes a string into the engine's 64-bit fingerprint
// space.
func FingerprintString(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// TextData is a plain-text Data implementation with whitespace
// tokenization. The fingerprint is memoized on first use and recomputed
// only when the text is replaced.
type TextData struct {
	text string

	fp    uint64
	fpSet bool
}

// NewTextData wraps a plain string.
func NewTextData(text string) *TextData {
	return &TextData{text: text}
}

func (d *TextData) SerializedForm() string { return d.text }

func (d *TextData) Fingerprint() uint64 {
	if !d.fpSet {
		d.fp = FingerprintString(d.text)
		d.fpSet = true
	}
	return d.fp
}

func (d *TextData) Tokenize() []uint64 {
	fields := strings.Fields(d.text)
	fps := make([]uint64, 0, len(fields))
	for _, f := range fields {
		fps = append(fps, FingerprintString(f))
	}
	return fps
}

// SetText replaces the content and invalidates the memoized fingerprint.
func (d *TextData) SetText(text string) {
	d.text = text
	d.fpSet = false
}

func (d *TextData) String() string { return d.text }

// DiceScorer scores candidates by token overlap: 2*shared / (len(a)+len(b)),
// counting duplicate tokens. It is the default scorer for TextData.
type DiceScorer struct{}

func (DiceScorer) Score(key, candidate Data, _ Locale) float64 {
	a := key.Tokenize()
	b := candidate.Tokenize()
	if len(a)+len(b) == 0 {
		return 0
	}
	remaining := make(map[uint64]int, len(b))
	for _, fp := range b {
		remaining[fp]++
	}
	shared := 0
	for _, fp := range a {
		if remaining[fp] > 0 {
			remaining[fp]--
			shared++
		}
	}
	return float64(2*shared) / float64(len(a)+len(b))
}
