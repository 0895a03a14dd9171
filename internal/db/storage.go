package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"horse.fit/leverage/internal/tm"
)

// lockTimeoutCode is the Postgres SQLSTATE raised when lock_timeout
// expires while waiting on a lock.
const lockTimeoutCode = "55P03"

const defaultLockTimeout = 5 * time.Second

// Storage implements tm.Storage on top of the connection pool. Identity
// locking uses transaction-scoped advisory locks, so lock lifetime always
// matches transaction lifetime.
type Storage struct {
	pool        *Pool
	lockTimeout time.Duration
}

func NewStorage(pool *Pool, lockTimeout time.Duration) *Storage {
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}
	return &Storage{pool: pool, lockTimeout: lockTimeout}
}

func (s *Storage) InTx(ctx context.Context, fn func(tm.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(&storageTx{tx: tx, lockTimeout: s.lockTimeout}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ClaimIDBlock bumps the counter row in a single atomic statement outside
// any caller transaction, so the row lock is held only for the statement.
func (s *Storage) ClaimIDBlock(ctx context.Context, counter string, n int) (int64, error) {
	const q = `
INSERT INTO tm3.id_counters AS c (name, last_id)
VALUES ($1, $2)
ON CONFLICT (name) DO UPDATE
SET last_id = c.last_id + $2
RETURNING last_id
`

	var last int64
	if err := s.pool.QueryRow(ctx, q, counter, int64(n)).Scan(&last); err != nil {
		return 0, fmt.Errorf("claim id block %q: %w", counter, err)
	}
	return last - int64(n) + 1, nil
}

func (s *Storage) InsertTM(ctx context.Context, row *tm.TMRow) error {
	const q = `
INSERT INTO tm3.tms (name, src_locale_id, tgt_locale_id, multilingual, index_targets, created_at)
VALUES ($1, $2, $3, $4, $5, now())
RETURNING tm_id
`

	err := s.pool.QueryRow(ctx, q,
		row.Name,
		row.SrcLocaleID,
		row.TgtLocaleID,
		row.Multilingual,
		row.IndexTargets,
	).Scan(&row.ID)
	if err != nil {
		return fmt.Errorf("insert tm: %w", err)
	}
	return nil
}

func (s *Storage) GetTM(ctx context.Context, id int64) (tm.TMRow, error) {
	const q = `
SELECT tm_id, name, src_locale_id, tgt_locale_id, multilingual, index_targets
FROM tm3.tms
WHERE tm_id = $1
`

	var row tm.TMRow
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&row.ID,
		&row.Name,
		&row.SrcLocaleID,
		&row.TgtLocaleID,
		&row.Multilingual,
		&row.IndexTargets,
	)
	if err != nil {
		if IsNoRows(err) {
			return tm.TMRow{}, tm.ErrTMNotFound
		}
		return tm.TMRow{}, fmt.Errorf("query tm: %w", err)
	}
	return row, nil
}

func (s *Storage) DeleteTM(ctx context.Context, id int64) error {
	return s.InTx(ctx, func(t tm.Tx) error {
		stx := t.(*storageTx)
		for _, q := range []string{
			`DELETE FROM tm3.events WHERE tm_id = $1`,
			`DELETE FROM tm3.attrs WHERE tm_id = $1`,
			`DELETE FROM tm3.tms WHERE tm_id = $1`,
		} {
			if _, err := stx.tx.Exec(ctx, q, id); err != nil {
				return fmt.Errorf("delete tm: %w", err)
			}
		}
		return nil
	})
}

func (s *Storage) InsertAttribute(ctx context.Context, tmID int64, attr *tm.Attribute) error {
	const q = `
INSERT INTO tm3.attrs (tm_id, name, value_type, affects_identity, created_at)
VALUES ($1, $2, $3, $4, now())
RETURNING attr_id
`

	err := s.pool.QueryRow(ctx, q, tmID, attr.Name, int16(attr.Type), attr.AffectsIdentity).Scan(&attr.ID)
	if err != nil {
		return fmt.Errorf("insert attribute %q: %w", attr.Name, err)
	}
	return nil
}

func (s *Storage) GetAttributes(ctx context.Context, tmID int64) ([]*tm.Attribute, error) {
	const q = `
SELECT attr_id, name, value_type, affects_identity
FROM tm3.attrs
WHERE tm_id = $1
ORDER BY attr_id
`

	rows, err := s.pool.Query(ctx, q, tmID)
	if err != nil {
		return nil, fmt.Errorf("query attributes: %w", err)
	}
	defer rows.Close()

	var attrs []*tm.Attribute
	for rows.Next() {
		var (
			attr      tm.Attribute
			valueType int16
		)
		if err := rows.Scan(&attr.ID, &attr.Name, &valueType, &attr.AffectsIdentity); err != nil {
			return nil, fmt.Errorf("scan attribute: %w", err)
		}
		attr.Type = tm.ValueType(valueType)
		attrs = append(attrs, &attr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attributes: %w", err)
	}
	return attrs, nil
}

type storageTx struct {
	tx          Tx
	lockTimeout time.Duration
	timeoutSet  bool
}

func (t *storageTx) LockIdentity(ctx context.Context, key tm.IdentityKey) error {
	if !t.timeoutSet {
		set := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", t.lockTimeout.Milliseconds())
		if _, err := t.tx.Exec(ctx, set); err != nil {
			return fmt.Errorf("set lock timeout: %w", err)
		}
		t.timeoutSet = true
	}

	const q = `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`

	name := fmt.Sprintf("%d:%d:%d:%s", key.TMID, key.Fingerprint, key.LocaleID, key.AttrValues)
	var ignored any
	if err := t.tx.QueryRow(ctx, q, name).Scan(&ignored); err != nil {
		if isLockTimeout(err) {
			return tm.ErrLockTimeout
		}
		return fmt.Errorf("acquire identity lock: %w", err)
	}
	return nil
}

func (t *storageTx) InsertTU(ctx context.Context, row tm.TURow) error {
	const q = `
INSERT INTO tm3.tus (tu_id, tm_id, src_locale_id, inline_attrs)
VALUES ($1, $2, $3, $4::jsonb)
`

	inline, err := json.Marshal(row.Inline)
	if err != nil {
		return fmt.Errorf("encode inline attrs: %w", err)
	}
	if _, err := t.tx.Exec(ctx, q, row.ID, row.TMID, row.SrcLocaleID, string(inline)); err != nil {
		return fmt.Errorf("insert tu: %w", err)
	}
	return nil
}

func (t *storageTx) UpdateInlineAttrs(ctx context.Context, tuID int64, inline map[string]any) error {
	const q = `
UPDATE tm3.tus
SET inline_attrs = $2::jsonb
WHERE tu_id = $1
`

	payload, err := json.Marshal(inline)
	if err != nil {
		return fmt.Errorf("encode inline attrs: %w", err)
	}
	if _, err := t.tx.Exec(ctx, q, tuID, string(payload)); err != nil {
		return fmt.Errorf("update inline attrs: %w", err)
	}
	return nil
}

func (t *storageTx) ReplaceCustomAttrs(ctx context.Context, tuID int64, values []tm.AttrValue) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM tm3.attr_vals WHERE tu_id = $1`, tuID); err != nil {
		return fmt.Errorf("clear custom attrs: %w", err)
	}
	if len(values) == 0 {
		return nil
	}

	rows := make([]string, 0, len(values))
	args := make([]any, 0, 1+2*len(values))
	args = append(args, tuID)
	argPos := 2
	for _, v := range values {
		rows = append(rows, fmt.Sprintf("($1, $%d, $%d)", argPos, argPos+1))
		args = append(args, v.AttrID, v.Value)
		argPos += 2
	}

	q := fmt.Sprintf(`
INSERT INTO tm3.attr_vals (tu_id, attr_id, value)
VALUES %s
`, strings.Join(rows, ",\n\t"))

	if _, err := t.tx.Exec(ctx, q, args...); err != nil {
		return fmt.Errorf("insert custom attrs: %w", err)
	}
	return nil
}

func (t *storageTx) InsertTUVs(ctx context.Context, tuvs []tm.TUVRow) error {
	if len(tuvs) == 0 {
		return nil
	}

	rows := make([]string, 0, len(tuvs))
	args := make([]any, 0, 8*len(tuvs))
	argPos := 1
	for _, row := range tuvs {
		rows = append(rows, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			argPos, argPos+1, argPos+2, argPos+3, argPos+4, argPos+5, argPos+6, argPos+7))
		args = append(args,
			row.ID,
			row.TUID,
			row.TMID,
			row.LocaleID,
			int64(row.Fingerprint),
			row.Content,
			row.FirstEventID,
			row.LatestEventID,
		)
		argPos += 8
	}

	q := fmt.Sprintf(`
INSERT INTO tm3.tuvs (tuv_id, tu_id, tm_id, locale_id, fingerprint, content, first_event_id, latest_event_id)
VALUES %s
`, strings.Join(rows, ",\n\t"))

	if _, err := t.tx.Exec(ctx, q, args...); err != nil {
		return fmt.Errorf("insert tuvs: %w", err)
	}
	return nil
}

func (t *storageTx) UpdateTUV(ctx context.Context, row tm.TUVRow) error {
	const q = `
UPDATE tm3.tuvs
SET fingerprint = $2,
	content = $3,
	latest_event_id = $4
WHERE tuv_id = $1
`

	tag, err := t.tx.Exec(ctx, q, row.ID, int64(row.Fingerprint), row.Content, row.LatestEventID)
	if err != nil {
		return fmt.Errorf("update tuv: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoRows
	}
	return nil
}

func (t *storageTx) DeleteTUVs(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	in, args := int64InClause(ids, 1)
	q := fmt.Sprintf(`DELETE FROM tm3.tuvs WHERE tuv_id IN (%s)`, in)
	if _, err := t.tx.Exec(ctx, q, args...); err != nil {
		return fmt.Errorf("delete tuvs: %w", err)
	}
	return nil
}

func (t *storageTx) GetTUs(ctx context.Context, tmID int64, ids []int64, lock bool) ([]tm.TURecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	in, args := int64InClause(ids, 2)
	args = append([]any{tmID}, args...)

	suffix := ""
	if lock {
		suffix = "\nFOR UPDATE"
	}
	q := fmt.Sprintf(`
SELECT tu_id, src_locale_id, inline_attrs
FROM tm3.tus
WHERE tm_id = $1
  AND tu_id IN (%s)
ORDER BY tu_id%s
`, in, suffix)

	rows, err := t.tx.Query(ctx, q, args...)
	if err != nil {
		if isLockTimeout(err) {
			return nil, tm.ErrLockTimeout
		}
		return nil, fmt.Errorf("query tus: %w", err)
	}

	var records []tm.TURecord
	byID := make(map[int64]*tm.TURecord, len(ids))
	func() {
		defer rows.Close()
		for rows.Next() {
			var (
				row    tm.TURow
				inline []byte
			)
			if err = rows.Scan(&row.ID, &row.SrcLocaleID, &inline); err != nil {
				err = fmt.Errorf("scan tu: %w", err)
				return
			}
			row.TMID = tmID
			if row.Inline, err = decodeInlineAttrs(inline); err != nil {
				return
			}
			records = append(records, tm.TURecord{TU: row})
		}
		err = rows.Err()
	}()
	if err != nil {
		return nil, err
	}
	for i := range records {
		byID[records[i].TU.ID] = &records[i]
	}
	if len(records) == 0 {
		return nil, nil
	}

	loadedIn, loadedArgs := int64InClause(keysOf(byID), 1)

	tuvQ := fmt.Sprintf(`
SELECT tuv_id, tu_id, locale_id, fingerprint, content, first_event_id, latest_event_id
FROM tm3.tuvs
WHERE tu_id IN (%s)
ORDER BY tuv_id
`, loadedIn)

	rows, err = t.tx.Query(ctx, tuvQ, loadedArgs...)
	if err != nil {
		return nil, fmt.Errorf("query tuvs: %w", err)
	}
	func() {
		defer rows.Close()
		for rows.Next() {
			var (
				row tm.TUVRow
				fp  int64
			)
			if err = rows.Scan(&row.ID, &row.TUID, &row.LocaleID, &fp, &row.Content, &row.FirstEventID, &row.LatestEventID); err != nil {
				err = fmt.Errorf("scan tuv: %w", err)
				return
			}
			row.TMID = tmID
			row.Fingerprint = uint64(fp)
			if rec, ok := byID[row.TUID]; ok {
				rec.TUVs = append(rec.TUVs, row)
			}
		}
		err = rows.Err()
	}()
	if err != nil {
		return nil, err
	}

	attrQ := fmt.Sprintf(`
SELECT tu_id, attr_id, value
FROM tm3.attr_vals
WHERE tu_id IN (%s)
ORDER BY attr_id
`, loadedIn)

	rows, err = t.tx.Query(ctx, attrQ, loadedArgs...)
	if err != nil {
		return nil, fmt.Errorf("query custom attrs: %w", err)
	}
	func() {
		defer rows.Close()
		for rows.Next() {
			var (
				tuID int64
				av   tm.AttrValue
			)
			if err = rows.Scan(&tuID, &av.AttrID, &av.Value); err != nil {
				err = fmt.Errorf("scan custom attr: %w", err)
				return
			}
			if rec, ok := byID[tuID]; ok {
				rec.Custom = append(rec.Custom, av)
			}
		}
		err = rows.Err()
	}()
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (t *storageTx) ExactLookup(ctx context.Context, q tm.ExactQuery) ([]tm.Candidate, error) {
	args := []any{q.TMID, int64(q.Fingerprint), q.LocaleID}
	argPos := 4
	joins := []string{"JOIN tm3.tus u ON u.tu_id = v.tu_id"}
	conds := []string{"v.tm_id = $1", "v.fingerprint = $2", "v.locale_id = $3"}

	if q.SourceOnly {
		conds = append(conds, "u.src_locale_id = $3")
	}
	argPos = appendInlineCond(&conds, &args, argPos, "u", q.Inline)
	argPos = appendCustomJoins(&joins, &args, argPos, "v.tu_id", q.Custom)
	_ = appendMatchLocaleJoin(&joins, &args, argPos, "v.tu_id", q.MatchLocaleIDs)

	query := fmt.Sprintf(`
SELECT DISTINCT v.tuv_id, v.tu_id
FROM tm3.tuvs v
%s
WHERE %s
ORDER BY v.tuv_id
`, strings.Join(joins, "\n"), strings.Join(conds, "\n  AND "))

	return t.scanCandidates(ctx, query, args, false)
}

func (t *storageTx) FuzzyLookup(ctx context.Context, q tm.FuzzyQuery) ([]tm.Candidate, error) {
	if len(q.Fingerprints) == 0 {
		return nil, nil
	}

	args := []any{q.TMID, q.IsSource, q.LocaleID}
	argPos := 4
	fpPlaceholders := make([]string, 0, len(q.Fingerprints))
	for _, fp := range q.Fingerprints {
		fpPlaceholders = append(fpPlaceholders, fmt.Sprintf("$%d", argPos))
		args = append(args, int64(fp))
		argPos++
	}

	var joins []string
	conds := []string{
		"e.tm_id = $1",
		"e.is_source = $2",
		"e.locale_id = $3",
		fmt.Sprintf("e.fingerprint IN (%s)", strings.Join(fpPlaceholders, ", ")),
	}
	if q.MinTokens > 0 {
		conds = append(conds, fmt.Sprintf("e.token_count > $%d", argPos))
		args = append(args, q.MinTokens)
		argPos++
	}
	conds = append(conds, fmt.Sprintf("e.token_count < $%d", argPos))
	args = append(args, q.MaxTokens)
	argPos++

	if len(q.Inline) > 0 {
		joins = append(joins, "JOIN tm3.tus u ON u.tu_id = e.tu_id")
		argPos = appendInlineCond(&conds, &args, argPos, "u", q.Inline)
	}
	argPos = appendCustomJoins(&joins, &args, argPos, "e.tu_id", q.Custom)
	_ = appendMatchLocaleJoin(&joins, &args, argPos, "e.tu_id", q.MatchLocaleIDs)

	query := fmt.Sprintf(`
SELECT e.tuv_id, e.tu_id, COUNT(DISTINCT e.fingerprint) AS hits
FROM tm3.index_entries e
%s
WHERE %s
GROUP BY e.tuv_id, e.tu_id
ORDER BY hits DESC, e.tuv_id ASC
`, strings.Join(joins, "\n"), strings.Join(conds, "\n  AND "))

	return t.scanCandidates(ctx, query, args, true)
}

func (t *storageTx) scanCandidates(ctx context.Context, query string, args []any, withHits bool) ([]tm.Candidate, error) {
	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	var out []tm.Candidate
	for rows.Next() {
		var c tm.Candidate
		if withHits {
			err = rows.Scan(&c.TUVID, &c.TUID, &c.Hits)
		} else {
			err = rows.Scan(&c.TUVID, &c.TUID)
		}
		if err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}
	return out, nil
}

func (t *storageTx) InsertIndexEntries(ctx context.Context, entries []tm.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}

	rows := make([]string, 0, len(entries))
	args := make([]any, 0, 7*len(entries))
	argPos := 1
	for _, e := range entries {
		rows = append(rows, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			argPos, argPos+1, argPos+2, argPos+3, argPos+4, argPos+5, argPos+6))
		args = append(args, e.TUVID, int64(e.Fingerprint), e.TUID, e.TMID, e.LocaleID, e.TokenCount, e.IsSource)
		argPos += 7
	}

	q := fmt.Sprintf(`
INSERT INTO tm3.index_entries (tuv_id, fingerprint, tu_id, tm_id, locale_id, token_count, is_source)
VALUES %s
`, strings.Join(rows, ",\n\t"))

	if _, err := t.tx.Exec(ctx, q, args...); err != nil {
		return fmt.Errorf("insert index entries: %w", err)
	}
	return nil
}

func (t *storageTx) DeleteIndexEntries(ctx context.Context, tuvID int64) error {
	const q = `DELETE FROM tm3.index_entries WHERE tuv_id = $1`

	if _, err := t.tx.Exec(ctx, q, tuvID); err != nil {
		return fmt.Errorf("delete index entries: %w", err)
	}
	return nil
}

func (t *storageTx) InsertEvent(ctx context.Context, row tm.EventRow) error {
	const q = `
INSERT INTO tm3.events (event_id, tm_id, ts, username, argument)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (event_id) DO NOTHING
`

	if _, err := t.tx.Exec(ctx, q, row.ID, row.TMID, row.Timestamp.UTC(), row.Username, row.Argument); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (t *storageTx) GetEvent(ctx context.Context, tmID, id int64) (tm.EventRow, error) {
	const q = `
SELECT event_id, tm_id, ts, username, argument
FROM tm3.events
WHERE tm_id = $1
  AND event_id = $2
`

	var row tm.EventRow
	err := t.tx.QueryRow(ctx, q, tmID, id).Scan(&row.ID, &row.TMID, &row.Timestamp, &row.Username, &row.Argument)
	if err != nil {
		if IsNoRows(err) {
			return tm.EventRow{}, ErrNoRows
		}
		return tm.EventRow{}, fmt.Errorf("query event: %w", err)
	}
	return row, nil
}

func (t *storageTx) TUCount(ctx context.Context, f tm.PageFilter) (int64, error) {
	joins, conds, args := pageFilterSQL(f)
	query := fmt.Sprintf(`
SELECT COUNT(DISTINCT u.tu_id)
FROM tm3.tus u
%s
WHERE %s
`, strings.Join(joins, "\n"), strings.Join(conds, "\n  AND "))

	var n int64
	if err := t.tx.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count tus: %w", err)
	}
	return n, nil
}

func (t *storageTx) TUVCount(ctx context.Context, f tm.PageFilter) (int64, error) {
	joins, conds, args := pageFilterSQL(f)
	argPos := len(args) + 1

	inner := fmt.Sprintf(`
SELECT DISTINCT u.tu_id
FROM tm3.tus u
%s
WHERE %s
`, strings.Join(joins, "\n"), strings.Join(conds, "\n  AND "))

	tuvConds := []string{fmt.Sprintf("cv.tu_id IN (%s)", strings.TrimSpace(inner))}
	var tuvJoins []string
	if f.LocaleID != 0 {
		tuvConds = append(tuvConds, fmt.Sprintf("cv.locale_id = $%d", argPos))
		args = append(args, f.LocaleID)
		argPos++
	}
	if f.Start != nil && f.End != nil {
		tuvJoins = append(tuvJoins, fmt.Sprintf(
			"JOIN tm3.events cev ON cev.event_id = cv.latest_event_id AND cev.ts >= $%d AND cev.ts <= $%d",
			argPos, argPos+1))
		args = append(args, f.Start.UTC(), f.End.UTC())
	}

	query := fmt.Sprintf(`
SELECT COUNT(*)
FROM tm3.tuvs cv
%s
WHERE %s
`, strings.Join(tuvJoins, "\n"), strings.Join(tuvConds, "\n  AND "))

	var n int64
	if err := t.tx.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count tuvs: %w", err)
	}
	return n, nil
}

func (t *storageTx) TUPage(ctx context.Context, f tm.PageFilter, afterID int64, limit int) ([]int64, error) {
	joins, conds, args := pageFilterSQL(f)
	argPos := len(args) + 1
	conds = append(conds, fmt.Sprintf("u.tu_id > $%d", argPos))
	args = append(args, afterID)
	argPos++

	limitClause := ""
	if limit > 0 {
		limitClause = fmt.Sprintf("\nLIMIT $%d", argPos)
		args = append(args, limit)
	}
	query := fmt.Sprintf(`
SELECT DISTINCT u.tu_id
FROM tm3.tus u
%s
WHERE %s
ORDER BY u.tu_id%s
`, strings.Join(joins, "\n"), strings.Join(conds, "\n  AND "), limitClause)

	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tu page: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan tu id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tu page: %w", err)
	}
	return ids, nil
}

func (t *storageTx) DeleteTUs(ctx context.Context, f tm.PageFilter) error {
	// Resolve the matching set first: the filter may depend on TUV and
	// event rows that the cascade below removes.
	ids, err := t.TUPage(ctx, f, 0, 0)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	in, args := int64InClause(ids, 1)
	for _, target := range []string{
		fmt.Sprintf(`DELETE FROM tm3.index_entries WHERE tu_id IN (%s)`, in),
		fmt.Sprintf(`DELETE FROM tm3.attr_vals WHERE tu_id IN (%s)`, in),
		fmt.Sprintf(`DELETE FROM tm3.tuvs WHERE tu_id IN (%s)`, in),
		fmt.Sprintf(`DELETE FROM tm3.tus WHERE tu_id IN (%s)`, in),
	} {
		if _, err := t.tx.Exec(ctx, target, args...); err != nil {
			return fmt.Errorf("purge tus: %w", err)
		}
	}
	return nil
}

func (t *storageTx) DistinctLocaleIDs(ctx context.Context, tmID int64) ([]int64, error) {
	const q = `
SELECT DISTINCT locale_id
FROM tm3.tuvs
WHERE tm_id = $1
ORDER BY locale_id
`

	rows, err := t.tx.Query(ctx, q, tmID)
	if err != nil {
		return nil, fmt.Errorf("query locales: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan locale id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate locales: %w", err)
	}
	return ids, nil
}

// pageFilterSQL renders a PageFilter into joins and conditions over alias
// u (tm3.tus). Locale and date restrictions join the TUV and event tables,
// so callers selecting TU ids must de-duplicate.
func pageFilterSQL(f tm.PageFilter) (joins, conds []string, args []any) {
	args = append(args, f.TMID)
	conds = append(conds, "u.tm_id = $1")
	argPos := 2

	if len(f.TUIDs) > 0 {
		in, inArgs := int64InClause(f.TUIDs, argPos)
		conds = append(conds, fmt.Sprintf("u.tu_id IN (%s)", in))
		args = append(args, inArgs...)
		argPos += len(inArgs)
	}
	argPos = appendInlineCond(&conds, &args, argPos, "u", f.Inline)
	argPos = appendCustomJoins(&joins, &args, argPos, "u.tu_id", f.Custom)

	needLocale := f.LocaleID != 0
	needDate := f.Start != nil && f.End != nil
	if !needLocale && !needDate {
		return joins, conds, args
	}

	join := "JOIN tm3.tuvs fv ON fv.tu_id = u.tu_id"
	if needLocale {
		join += fmt.Sprintf(" AND fv.locale_id = $%d", argPos)
		args = append(args, f.LocaleID)
		argPos++
	}
	joins = append(joins, join)
	if needDate {
		joins = append(joins, fmt.Sprintf(
			"JOIN tm3.events fev ON fev.event_id = fv.latest_event_id AND fev.ts >= $%d AND fev.ts <= $%d",
			argPos, argPos+1))
		args = append(args, f.Start.UTC(), f.End.UTC())
	}
	return joins, conds, args
}

func appendInlineCond(conds *[]string, args *[]any, argPos int, alias string, inline map[string]any) int {
	if len(inline) == 0 {
		return argPos
	}
	payload, err := json.Marshal(inline)
	if err != nil {
		// Inline values are validated before reaching storage; a marshal
		// failure here would be a programming error. Degrade to an
		// impossible condition instead of panicking.
		*conds = append(*conds, "FALSE")
		return argPos
	}
	*conds = append(*conds, fmt.Sprintf("%s.inline_attrs @> $%d::jsonb", alias, argPos))
	*args = append(*args, string(payload))
	return argPos + 1
}

func appendCustomJoins(joins *[]string, args *[]any, argPos int, tuCol string, custom []tm.AttrValue) int {
	for i, av := range custom {
		alias := fmt.Sprintf("av%d", i)
		*joins = append(*joins, fmt.Sprintf(
			"JOIN tm3.attr_vals %s ON %s.tu_id = %s AND %s.attr_id = $%d AND %s.value = $%d",
			alias, alias, tuCol, alias, argPos, alias, argPos+1))
		*args = append(*args, av.AttrID, av.Value)
		argPos += 2
	}
	return argPos
}

// appendMatchLocaleJoin restricts hits to TUs that also carry a TUV in one
// of the given locales. Rendered as a join rather than a correlated
// subquery so the planner can drive it from the TUV primary key.
func appendMatchLocaleJoin(joins *[]string, args *[]any, argPos int, tuCol string, localeIDs []int64) int {
	if len(localeIDs) == 0 {
		return argPos
	}
	in, inArgs := int64InClause(localeIDs, argPos)
	*joins = append(*joins, fmt.Sprintf(
		"JOIN tm3.tuvs ml ON ml.tu_id = %s AND ml.locale_id IN (%s)", tuCol, in))
	*args = append(*args, inArgs...)
	return argPos + len(inArgs)
}

func int64InClause(ids []int64, argPos int) (string, []any) {
	placeholders := make([]string, 0, len(ids))
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		placeholders = append(placeholders, fmt.Sprintf("$%d", argPos))
		args = append(args, id)
		argPos++
	}
	return strings.Join(placeholders, ", "), args
}

func keysOf(m map[int64]*tm.TURecord) []int64 {
	out := make([]int64, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	return out
}

// decodeInlineAttrs rebuilds the inline attribute map. Integral JSON
// numbers come back as int64 so typed attribute checks keep passing after
// a round trip.
func decodeInlineAttrs(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode inline attrs: %w", err)
	}
	for k, v := range m {
		if f, ok := v.(float64); ok && f == float64(int64(f)) {
			m[k] = int64(f)
		}
	}
	return m, nil
}

func isLockTimeout(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == lockTimeoutCode
}
