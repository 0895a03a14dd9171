package db

import (
	"encoding/json"
	"time"
)

// Memory maps tm3.tms.
type Memory struct {
	TMID         int64     `gorm:"column:tm_id;primaryKey;autoIncrement"`
	Name         string    `gorm:"column:name;type:text;not null;unique"`
	SrcLocaleID  int64     `gorm:"column:src_locale_id;type:bigint;not null;default:0"`
	TgtLocaleID  int64     `gorm:"column:tgt_locale_id;type:bigint;not null;default:0"`
	Multilingual bool      `gorm:"column:multilingual;type:boolean;not null;default:false"`
	IndexTargets bool      `gorm:"column:index_targets;type:boolean;not null;default:false"`
	CreatedAt    time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (Memory) TableName() string { return "tm3.tms" }

// AttributeDef maps tm3.attrs.
type AttributeDef struct {
	AttrID          int64     `gorm:"column:attr_id;primaryKey;autoIncrement"`
	TMID            int64     `gorm:"column:tm_id;type:bigint;not null;uniqueIndex:uq_attrs_tm_name,priority:1"`
	Name            string    `gorm:"column:name;type:text;not null;uniqueIndex:uq_attrs_tm_name,priority:2"`
	ValueType       int16     `gorm:"column:value_type;type:smallint;not null"`
	AffectsIdentity bool      `gorm:"column:affects_identity;type:boolean;not null;default:false"`
	CreatedAt       time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (AttributeDef) TableName() string { return "tm3.attrs" }

// TranslationUnit maps tm3.tus. Ids are allocated by the engine, never by
// the database. Inline attribute values live in one jsonb column so the
// set of attributes stays per-memory instead of per-schema.
type TranslationUnit struct {
	TUID        int64           `gorm:"column:tu_id;primaryKey"`
	TMID        int64           `gorm:"column:tm_id;type:bigint;not null;index:idx_tus_tm"`
	SrcLocaleID int64           `gorm:"column:src_locale_id;type:bigint;not null"`
	InlineAttrs json.RawMessage `gorm:"column:inline_attrs;type:jsonb;not null;default:'{}'"`
}

func (TranslationUnit) TableName() string { return "tm3.tus" }

// TranslationUnitVariant maps tm3.tuvs. Fingerprints are stored in their
// two's-complement bigint form.
type TranslationUnitVariant struct {
	TUVID         int64  `gorm:"column:tuv_id;primaryKey"`
	TUID          int64  `gorm:"column:tu_id;type:bigint;not null;index:idx_tuvs_tu"`
	TMID          int64  `gorm:"column:tm_id;type:bigint;not null;index:idx_tuvs_exact,priority:1"`
	LocaleID      int64  `gorm:"column:locale_id;type:bigint;not null;index:idx_tuvs_exact,priority:2"`
	Fingerprint   int64  `gorm:"column:fingerprint;type:bigint;not null;index:idx_tuvs_exact,priority:3"`
	Content       string `gorm:"column:content;type:text;not null"`
	FirstEventID  int64  `gorm:"column:first_event_id;type:bigint;not null"`
	LatestEventID int64  `gorm:"column:latest_event_id;type:bigint;not null"`
}

func (TranslationUnitVariant) TableName() string { return "tm3.tuvs" }

// CustomAttrValue maps tm3.attr_vals, the side table for attribute types
// that do not inline into tm3.tus.
type CustomAttrValue struct {
	TUID   int64  `gorm:"column:tu_id;type:bigint;primaryKey"`
	AttrID int64  `gorm:"column:attr_id;type:bigint;primaryKey"`
	Value  string `gorm:"column:value;type:text;not null"`
}

func (CustomAttrValue) TableName() string { return "tm3.attr_vals" }

// FuzzyIndexEntry maps tm3.index_entries: one posting per distinct token
// fingerprint of a TUV's content. Derived data; rebuildable from tuvs.
type FuzzyIndexEntry struct {
	TUVID       int64 `gorm:"column:tuv_id;primaryKey"`
	Fingerprint int64 `gorm:"column:fingerprint;primaryKey"`
	TUID        int64 `gorm:"column:tu_id;type:bigint;not null"`
	TMID        int64 `gorm:"column:tm_id;type:bigint;not null;index:idx_index_lookup,priority:1"`
	LocaleID    int64 `gorm:"column:locale_id;type:bigint;not null;index:idx_index_lookup,priority:3"`
	TokenCount  int   `gorm:"column:token_count;type:integer;not null"`
	IsSource    bool  `gorm:"column:is_source;type:boolean;not null;index:idx_index_lookup,priority:2"`
}

func (FuzzyIndexEntry) TableName() string { return "tm3.index_entries" }

// EventLogEntry maps tm3.events.
type EventLogEntry struct {
	EventID   int64     `gorm:"column:event_id;primaryKey"`
	TMID      int64     `gorm:"column:tm_id;type:bigint;not null;index:idx_events_tm"`
	Timestamp time.Time `gorm:"column:ts;type:timestamptz;not null"`
	Username  string    `gorm:"column:username;type:text;not null"`
	Argument  string    `gorm:"column:argument;type:text;not null;default:''"`
}

func (EventLogEntry) TableName() string { return "tm3.events" }

// LocaleRef maps tm3.locales: the registered language/region pairs every
// other table references by id.
type LocaleRef struct {
	LocaleID int64  `gorm:"column:locale_id;primaryKey;autoIncrement"`
	Code     string `gorm:"column:code;type:text;not null;unique"`
	Lang     string `gorm:"column:lang;type:text;not null"`
}

func (LocaleRef) TableName() string { return "tm3.locales" }

// IDCounter maps tm3.id_counters. LastID is the highest id handed out for
// the counter; blocks are claimed by bumping it.
type IDCounter struct {
	Name   string `gorm:"column:name;type:text;primaryKey"`
	LastID int64  `gorm:"column:last_id;type:bigint;not null;default:0"`
}

func (IDCounter) TableName() string { return "tm3.id_counters" }

func autoMigrateModels() []any {
	return []any{
		&Memory{},
		&AttributeDef{},
		&TranslationUnit{},
		&TranslationUnitVariant{},
		&CustomAttrValue{},
		&FuzzyIndexEntry{},
		&EventLogEntry{},
		&LocaleRef{},
		&IDCounter{},
	}
}
