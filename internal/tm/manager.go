package tm

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// ErrTMNotFound is returned when a memory id does not exist.
var ErrTMNotFound = errors.New("tm not found")

// Manager creates, loads and removes memories. A Manager is cheap and
// carries no state beyond its collaborators.
type Manager struct {
	storage Storage
	logger  zerolog.Logger
}

// NewManager wires a manager to its storage collaborator.
func NewManager(storage Storage, logger zerolog.Logger) *Manager {
	return &Manager{storage: storage, logger: logger}
}

// CreateBilingualTM creates a memory with a fixed source/target locale
// pair. indexTargets opts the memory into reverse lookup.
func (m *Manager) CreateBilingualTM(ctx context.Context, name string, factory DataFactory,
	attrs []*Attribute, srcLocale, tgtLocale Locale, indexTargets bool) (*TM, error) {

	if srcLocale == nil {
		return nil, &ValidationError{Field: "srcLocale", Reason: "missing"}
	}
	if tgtLocale == nil {
		return nil, &ValidationError{Field: "tgtLocale", Reason: "missing"}
	}
	row := TMRow{
		Name:         name,
		SrcLocaleID:  srcLocale.ID(),
		TgtLocaleID:  tgtLocale.ID(),
		IndexTargets: indexTargets,
	}
	return m.create(ctx, row, factory, attrs)
}

// CreateMultilingualTM creates a memory where any known locale may act as
// a segment's source.
func (m *Manager) CreateMultilingualTM(ctx context.Context, name string, factory DataFactory,
	attrs []*Attribute, indexTargets bool) (*TM, error) {

	row := TMRow{Name: name, Multilingual: true, IndexTargets: indexTargets}
	return m.create(ctx, row, factory, attrs)
}

func (m *Manager) create(ctx context.Context, row TMRow, factory DataFactory, attrs []*Attribute) (*TM, error) {
	if err := m.storage.InsertTM(ctx, &row); err != nil {
		return nil, wrapStorage("insert", "tm", 0, err)
	}
	for _, attr := range attrs {
		if err := m.storage.InsertAttribute(ctx, row.ID, attr); err != nil {
			return nil, wrapStorage("insert", "attribute", row.ID, err)
		}
	}
	m.logger.Info().Int64("tm", row.ID).Str("name", row.Name).
		Bool("multilingual", row.Multilingual).
		Bool("index_targets", row.IndexTargets).
		Msg("created tm")
	return newTM(row, m.storage, factory, attrs, m.logger), nil
}

// GetTM loads a memory and its attribute definitions.
func (m *Manager) GetTM(ctx context.Context, id int64, factory DataFactory) (*TM, error) {
	row, err := m.storage.GetTM(ctx, id)
	if err != nil {
		if errors.Is(err, ErrTMNotFound) {
			return nil, err
		}
		return nil, wrapStorage("get", "tm", id, err)
	}
	attrs, err := m.storage.GetAttributes(ctx, id)
	if err != nil {
		return nil, wrapStorage("get attrs", "tm", id, err)
	}
	return newTM(row, m.storage, factory, attrs, m.logger), nil
}

// RemoveTM deletes a memory and all of its data.
func (m *Manager) RemoveTM(ctx context.Context, t *TM) error {
	if err := t.AllData(nil).Purge(ctx); err != nil {
		return err
	}
	if err := m.storage.DeleteTM(ctx, t.ID()); err != nil {
		return wrapStorage("delete", "tm", t.ID(), err)
	}
	m.logger.Info().Int64("tm", t.ID()).Msg("removed tm")
	return nil
}
