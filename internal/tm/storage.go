package tm

import (
	"context"
	"time"
)

// TMRow is the persisted description of one memory.
type TMRow struct {
	ID           int64
	Name         string
	SrcLocaleID  int64
	TgtLocaleID  int64
	Multilingual bool
	IndexTargets bool
}

// TURow is the storable projection of a TU.
type TURow struct {
	ID          int64
	TMID        int64
	SrcLocaleID int64
	Inline      map[string]any
}

// TUVRow is the storable projection of a TUV.
type TUVRow struct {
	ID            int64
	TUID          int64
	TMID          int64
	LocaleID      int64
	Fingerprint   uint64
	Content       string
	FirstEventID  int64
	LatestEventID int64
}

// AttrValue is one custom (side-table) attribute value.
type AttrValue struct {
	AttrID int64
	Value  string
}

// TURecord is a fully loaded TU: its row, all TUV rows, and its custom
// attribute values.
type TURecord struct {
	TU     TURow
	TUVs   []TUVRow
	Custom []AttrValue
}

// IndexEntry is one fuzzy-index posting: a token fingerprint pointing back
// at the TUV it occurred in. Entries are derived data and may be rebuilt by
// re-tokenizing TUV content.
type IndexEntry struct {
	Fingerprint uint64
	TUVID       int64
	TUID        int64
	TMID        int64
	LocaleID    int64
	TokenCount  int
	IsSource    bool
}

// Candidate is a coarse lookup result: a TUV and its owning TU. For fuzzy
// lookups Hits carries the shared-token count used for SQL-side ordering
// only.
type Candidate struct {
	TUVID int64
	TUID  int64
	Hits  int
}

// ExactQuery selects TUVs by content fingerprint and locale, optionally
// restricted by attribute values and by the existence of companion-locale
// TUVs on the owning TU.
type ExactQuery struct {
	TMID        int64
	Fingerprint uint64
	LocaleID    int64
	// SourceOnly restricts hits to TUVs whose owning TU declares this
	// locale as its source. A reverse (target) exact lookup leaves it
	// false.
	SourceOnly bool
	Inline     map[string]any
	Custom     []AttrValue
	// MatchLocaleIDs, when non-nil, keeps only TUs that also carry a TUV
	// in one of these locales.
	MatchLocaleIDs []int64
}

// FuzzyQuery selects index postings matching any of the query's token
// fingerprints, pruned by the token-count ratio heuristic and grouped per
// TUV.
type FuzzyQuery struct {
	TMID         int64
	Fingerprints []uint64
	// LocaleID restricts candidates to TUVs in the key's locale, so a
	// multilingual memory never leverages across locales.
	LocaleID int64
	IsSource bool
	// MinTokens/MaxTokens are exclusive bounds on the candidate's indexed
	// token count. MinTokens <= 0 disables the lower bound.
	MinTokens      int
	MaxTokens      int
	Inline         map[string]any
	Custom         []AttrValue
	MatchLocaleIDs []int64
}

// PageFilter selects TUs for counting, paging and purging. The zero filter
// matches all of a memory's data. Start/End, when set, are inclusive bounds
// on the latest-event timestamp of the TU's TUVs.
type PageFilter struct {
	TMID     int64
	LocaleID int64
	Inline   map[string]any
	Custom   []AttrValue
	TUIDs    []int64
	Start    *time.Time
	End      *time.Time
}

// EventRow is the storable projection of an Event.
type EventRow struct {
	ID        int64
	TMID      int64
	Timestamp time.Time
	Username  string
	Argument  string
}

// IdentityKey names the lock taken while a single identity is being
// created or merged into.
type IdentityKey struct {
	TMID        int64
	Fingerprint uint64
	LocaleID    int64
	AttrValues  string
}

// Tx is the transaction-scoped view of the storage collaborator. All
// writes made through one Tx commit or roll back together; locks acquired
// through it are released at transaction end.
type Tx interface {
	// LockIdentity blocks until this transaction holds the lock for the
	// given identity, or fails with ErrLockTimeout after a bounded wait.
	LockIdentity(ctx context.Context, key IdentityKey) error

	InsertTU(ctx context.Context, row TURow) error
	UpdateInlineAttrs(ctx context.Context, tuID int64, inline map[string]any) error
	ReplaceCustomAttrs(ctx context.Context, tuID int64, values []AttrValue) error

	InsertTUVs(ctx context.Context, rows []TUVRow) error
	UpdateTUV(ctx context.Context, row TUVRow) error
	DeleteTUVs(ctx context.Context, ids []int64) error

	// GetTUs loads full records ordered by TU id. With lock set the TU
	// rows are read under a row lock held until transaction end.
	GetTUs(ctx context.Context, tmID int64, ids []int64, lock bool) ([]TURecord, error)

	ExactLookup(ctx context.Context, q ExactQuery) ([]Candidate, error)
	FuzzyLookup(ctx context.Context, q FuzzyQuery) ([]Candidate, error)

	InsertIndexEntries(ctx context.Context, entries []IndexEntry) error
	DeleteIndexEntries(ctx context.Context, tuvID int64) error

	// InsertEvent is an idempotent insert: a second call for the same id
	// must succeed without changing the stored row.
	InsertEvent(ctx context.Context, row EventRow) error
	GetEvent(ctx context.Context, tmID, id int64) (EventRow, error)

	TUCount(ctx context.Context, f PageFilter) (int64, error)
	TUVCount(ctx context.Context, f PageFilter) (int64, error)
	// TUPage returns up to limit TU ids greater than afterID, ascending.
	TUPage(ctx context.Context, f PageFilter, afterID int64, limit int) ([]int64, error)
	// DeleteTUs removes every TU matching the filter, along with its TUVs,
	// attribute values and index entries.
	DeleteTUs(ctx context.Context, f PageFilter) error

	DistinctLocaleIDs(ctx context.Context, tmID int64) ([]int64, error)
}

// Storage is the engine's only dependency on the outside world.
type Storage interface {
	// InTx runs fn inside one transaction. An error aborts the whole
	// transaction; nothing written in it survives.
	InTx(ctx context.Context, fn func(Tx) error) error

	// ClaimIDBlock atomically reserves n consecutive ids from the named
	// counter and returns the first. Runs in its own short transaction so
	// it never extends the caller's locks.
	ClaimIDBlock(ctx context.Context, counter string, n int) (int64, error)

	InsertTM(ctx context.Context, row *TMRow) error
	GetTM(ctx context.Context, id int64) (TMRow, error)
	DeleteTM(ctx context.Context, id int64) error

	InsertAttribute(ctx context.Context, tmID int64, attr *Attribute) error
	GetAttributes(ctx context.Context, tmID int64) ([]*Attribute, error)
}
