package language

import (
	"horse.fit/leverage/internal/tm"
)

// Factory is the plain-text content factory used by the CLI and HTTP
// surfaces: whitespace tokenization and Dice-coefficient fuzzy scoring.
type Factory struct {
	registry *Registry
}

func NewFactory(registry *Registry) *Factory {
	return &Factory{registry: registry}
}

func (f *Factory) FromSerializedForm(_ tm.Locale, value string) tm.Data {
	return tm.NewTextData(value)
}

func (f *Factory) LocaleByID(id int64) (tm.Locale, error) {
	return f.registry.ByID(id)
}

func (f *Factory) Scorer() tm.FuzzyScorer {
	return tm.DiceScorer{}
}
