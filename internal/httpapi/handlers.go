package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"horse.fit/leverage/internal/tm"
)

// maxRequestBody bounds how much of a request body is read before
// validation rejects it.
const maxRequestBody = 8 << 20

const defaultMaxResults = 5

type variantView struct {
	TUVID  int64  `json:"tuv_id"`
	Locale string `json:"locale"`
	Text   string `json:"text"`
}

type matchView struct {
	TUID    int64         `json:"tu_id"`
	Score   int           `json:"score"`
	Exact   bool          `json:"exact"`
	Matched variantView   `json:"matched"`
	Source  variantView   `json:"source"`
	Targets []variantView `json:"targets"`
}

type matchesData struct {
	Matches []matchView `json:"matches"`
}

type saveData struct {
	Saved int     `json:"saved"`
	TUIDs []int64 `json:"tu_ids"`
}

type localeStatsView struct {
	Locale   string `json:"locale"`
	Segments int64  `json:"segments"`
	Variants int64  `json:"variants"`
}

type statsData struct {
	TMID     int64             `json:"tm_id"`
	Name     string            `json:"name"`
	Segments int64             `json:"segments"`
	Variants int64             `json:"variants"`
	Locales  []localeStatsView `json:"locales"`
}

func (s *Server) handleHealth(c echo.Context) error {
	var one int
	if err := s.pool.QueryRow(c.Request().Context(), "SELECT 1").Scan(&one); err != nil {
		s.logger.Error().Err(err).Msg("health check failed")
		return internalError(c, "Database unreachable")
	}
	return success(c, map[string]any{"service": "leverage"})
}

func (s *Server) handleMatches(c echo.Context) error {
	memory, err := s.tmFromPath(c)
	if err != nil {
		return err
	}

	body, err := readBody(c)
	if err != nil {
		return failValidation(c, map[string]string{"body": err.Error()})
	}
	req, err := decodeMatchRequest(body)
	if err != nil {
		return failValidation(c, map[string]string{"body": err.Error()})
	}

	keyLocale, err := s.registry.Get(c.Request().Context(), req.Locale)
	if err != nil {
		return failValidation(c, map[string]string{"locale": err.Error()})
	}

	query := tm.MatchQuery{
		Key:          tm.NewTextData(req.Text),
		KeyLocale:    keyLocale,
		LookupTarget: req.LookupTarget,
		MaxResults:   req.MaxResults,
		Threshold:    req.Threshold,
	}
	if query.MaxResults <= 0 {
		query.MaxResults = defaultMaxResults
	}
	switch req.Type {
	case "", "all":
		query.Type = tm.MatchAll
	case "exact":
		query.Type = tm.MatchExact
	case "fuzzy":
		query.Type = tm.MatchFuzzy
	case "fallback":
		query.Type = tm.MatchFallback
	}
	for _, code := range req.MatchLocales {
		locale, err := s.registry.Get(c.Request().Context(), code)
		if err != nil {
			return failValidation(c, map[string]string{"match_locales": err.Error()})
		}
		query.MatchLocales = append(query.MatchLocales, locale)
	}
	if query.Attributes, err = resolveAttributes(memory, req.Attributes); err != nil {
		return failValidation(c, map[string]string{"attributes": err.Error()})
	}

	results, err := memory.FindMatches(c.Request().Context(), query)
	if err != nil {
		if isBadInput(err) {
			return failValidation(c, map[string]string{"query": err.Error()})
		}
		s.logger.Error().Err(err).Int64("tm", memory.ID()).Msg("match query failed")
		return internalError(c, "Match query failed")
	}

	data := matchesData{Matches: make([]matchView, 0, len(results.Matches))}
	for _, m := range results.Matches {
		view := matchView{
			TUID:    m.TU.ID(),
			Score:   m.Score,
			Exact:   m.Exact,
			Matched: viewOf(m.TUV),
			Source:  viewOf(m.TU.SourceTUV()),
		}
		for _, tuv := range m.TU.TargetTUVs() {
			view.Targets = append(view.Targets, viewOf(tuv))
		}
		data.Matches = append(data.Matches, view)
	}
	return success(c, data)
}

func (s *Server) handleSaveSegments(c echo.Context) error {
	memory, err := s.tmFromPath(c)
	if err != nil {
		return err
	}

	body, err := readBody(c)
	if err != nil {
		return failValidation(c, map[string]string{"body": err.Error()})
	}
	req, err := decodeSaveRequest(body)
	if err != nil {
		return failValidation(c, map[string]string{"body": err.Error()})
	}

	mode := tm.SaveMerge
	if req.Mode == "overwrite" {
		mode = tm.SaveOverwrite
	}
	username := req.Username
	if username == "" {
		username = "api"
	}

	ctx := c.Request().Context()
	event, err := memory.AddEvent(ctx, username, fmt.Sprintf("api save of %d segments", len(req.Segments)))
	if err != nil {
		s.logger.Error().Err(err).Int64("tm", memory.ID()).Msg("event allocation failed")
		return internalError(c, "Save failed")
	}

	saver := memory.CreateSaver()
	for i, seg := range req.Segments {
		srcLocale, err := s.registry.Get(ctx, seg.Source.Locale)
		if err != nil {
			return failValidation(c, map[string]string{fieldAt("segments", i, "source.locale"): err.Error()})
		}
		attrs, err := resolveAttributes(memory, seg.Attributes)
		if err != nil {
			return failValidation(c, map[string]string{fieldAt("segments", i, "attributes"): err.Error()})
		}

		builder := saver.TU(tm.NewTextData(seg.Source.Text), srcLocale, event).Attrs(attrs)
		for _, target := range seg.Targets {
			tgtLocale, err := s.registry.Get(ctx, target.Locale)
			if err != nil {
				return failValidation(c, map[string]string{fieldAt("segments", i, "targets.locale"): err.Error()})
			}
			builder.Target(tm.NewTextData(target.Text), tgtLocale, event)
		}
	}

	tus, err := saver.Save(ctx, mode)
	if err != nil {
		if isBadInput(err) {
			return failValidation(c, map[string]string{"segments": err.Error()})
		}
		if errors.Is(err, tm.ErrLockTimeout) {
			return fail(c, http.StatusConflict, "Save timed out on a contended segment, retry", nil)
		}
		s.logger.Error().Err(err).Int64("tm", memory.ID()).Msg("save failed")
		return internalError(c, "Save failed")
	}

	data := saveData{Saved: len(tus), TUIDs: make([]int64, 0, len(tus))}
	for _, tu := range tus {
		data.TUIDs = append(data.TUIDs, tu.ID())
	}
	return success(c, data)
}

func (s *Server) handleTMStats(c echo.Context) error {
	memory, err := s.tmFromPath(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	all := memory.AllData(nil)

	data := statsData{TMID: memory.ID(), Name: memory.Name()}
	if data.Segments, err = all.Count(ctx); err != nil {
		s.logger.Error().Err(err).Int64("tm", memory.ID()).Msg("segment count failed")
		return internalError(c, "Failed to load stats")
	}
	if data.Variants, err = all.TUVCount(ctx); err != nil {
		s.logger.Error().Err(err).Int64("tm", memory.ID()).Msg("variant count failed")
		return internalError(c, "Failed to load stats")
	}

	locales, err := memory.Locales(ctx)
	if err != nil {
		s.logger.Error().Err(err).Int64("tm", memory.ID()).Msg("locale listing failed")
		return internalError(c, "Failed to load stats")
	}
	for _, locale := range locales {
		handle := memory.DataByLocale(locale, nil)
		segments, err := handle.Count(ctx)
		if err != nil {
			s.logger.Error().Err(err).Int64("tm", memory.ID()).Msg("locale segment count failed")
			return internalError(c, "Failed to load stats")
		}
		variants, err := handle.TUVCount(ctx)
		if err != nil {
			s.logger.Error().Err(err).Int64("tm", memory.ID()).Msg("locale variant count failed")
			return internalError(c, "Failed to load stats")
		}
		data.Locales = append(data.Locales, localeStatsView{
			Locale:   locale.Code(),
			Segments: segments,
			Variants: variants,
		})
	}
	return success(c, data)
}

func readBody(c echo.Context) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxRequestBody+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) > maxRequestBody {
		return nil, fmt.Errorf("body exceeds %d bytes", maxRequestBody)
	}
	return body, nil
}

func viewOf(tuv *tm.TUV) variantView {
	return variantView{
		TUVID:  tuv.ID(),
		Locale: tuv.Locale().Code(),
		Text:   tuv.SerializedForm(),
	}
}

func fieldAt(field string, index int, sub string) string {
	return fmt.Sprintf("%s[%d].%s", field, index, sub)
}

// resolveAttributes maps request attribute values onto the memory's
// declared attributes. JSON numbers arrive as float64 and are narrowed to
// int64 for integer attributes.
func resolveAttributes(memory *tm.TM, values map[string]any) (tm.AttributeSet, error) {
	if len(values) == 0 {
		return nil, nil
	}
	attrs := tm.AttributeSet{}
	for name, value := range values {
		attr, found := memory.AttributeByName(name)
		if !found {
			return nil, fmt.Errorf("memory has no attribute %q", name)
		}
		if f, ok := value.(float64); ok && attr.Type == tm.ValueTypeInt && f == float64(int64(f)) {
			value = int64(f)
		}
		attrs[attr] = value
	}
	return attrs, nil
}

// isBadInput reports whether the engine rejected the caller's input rather
// than failing internally.
func isBadInput(err error) bool {
	var validation *tm.ValidationError
	var locale *tm.LocaleError
	return errors.As(err, &validation) || errors.As(err, &locale)
}
