package db

import (
	"context"
	"fmt"

	"horse.fit/leverage/internal/language"
)

// UpsertLocale registers a canonical locale code and returns its stable id.
func (s *Storage) UpsertLocale(ctx context.Context, code, lang string) (int64, error) {
	const q = `
INSERT INTO tm3.locales (code, lang)
VALUES ($1, $2)
ON CONFLICT (code) DO UPDATE
SET lang = EXCLUDED.lang
RETURNING locale_id
`

	var id int64
	if err := s.pool.QueryRow(ctx, q, code, lang).Scan(&id); err != nil {
		return 0, fmt.Errorf("upsert locale %q: %w", code, err)
	}
	return id, nil
}

// ListLocales returns every registered locale.
func (s *Storage) ListLocales(ctx context.Context) ([]language.Entry, error) {
	const q = `
SELECT locale_id, code, lang
FROM tm3.locales
ORDER BY locale_id
`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query locales: %w", err)
	}
	defer rows.Close()

	var entries []language.Entry
	for rows.Next() {
		var e language.Entry
		if err := rows.Scan(&e.ID, &e.Code, &e.Lang); err != nil {
			return nil, fmt.Errorf("scan locale: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate locales: %w", err)
	}
	return entries, nil
}
