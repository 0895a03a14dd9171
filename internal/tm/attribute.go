package tm

import (
	"fmt"
	"sort"
)

// ValueType describes the storage shape of an attribute value.
//
// Inline types live in a column on the TU row and may be strings, integers
// or booleans. Custom values live in a side table and are always strings.
type ValueType int

const (
	ValueTypeString ValueType = iota
	ValueTypeInt
	ValueTypeBool
	ValueTypeCustom
)

func (v ValueType) Inline() bool { return v != ValueTypeCustom }

// CheckValue validates a proposed value against the declared type. It is
// called before a value is attached to a TU, so bad values never reach
// storage.
func (v ValueType) CheckValue(value any, name string) error {
	switch v {
	case ValueTypeString, ValueTypeCustom:
		if _, ok := value.(string); !ok {
			return &ValidationError{Field: name, Reason: fmt.Sprintf("expected string, got %T", value)}
		}
	case ValueTypeInt:
		switch value.(type) {
		case int, int32, int64:
		default:
			return &ValidationError{Field: name, Reason: fmt.Sprintf("expected integer, got %T", value)}
		}
	case ValueTypeBool:
		if _, ok := value.(bool); !ok {
			return &ValidationError{Field: name, Reason: fmt.Sprintf("expected bool, got %T", value)}
		}
	default:
		return &ValidationError{Field: name, Reason: "unknown value type"}
	}
	return nil
}

// Attribute is a named, typed slot that may be set on a TU. Attributes
// flagged AffectsIdentity participate in deciding whether two segments are
// the same TU.
type Attribute struct {
	ID              int64
	Name            string
	Type            ValueType
	AffectsIdentity bool
}

func (a *Attribute) Inline() bool { return a.Type.Inline() }

// AttributeSet is a TU's attribute values, keyed by attribute name. Only
// attributes with a set value are present.
type AttributeSet map[*Attribute]any

// SplitAttributes partitions an attribute set into inline values (stored on
// the TU row) and custom values (stored in the side table).
func SplitAttributes(attrs AttributeSet) (inline map[*Attribute]any, custom map[*Attribute]string) {
	inline = make(map[*Attribute]any)
	custom = make(map[*Attribute]string)
	for attr, value := range attrs {
		if attr.Inline() {
			inline[attr] = value
		} else {
			custom[attr] = fmt.Sprint(value)
		}
	}
	return inline, custom
}

// identityValues renders the identity-affecting subset of an attribute set
// in a deterministic order, for use in identity keys.
func identityValues(attrs AttributeSet) []string {
	parts := make([]string, 0, len(attrs))
	for attr, value := range attrs {
		if attr.AffectsIdentity {
			parts = append(parts, fmt.Sprintf("%s=%v", attr.Name, value))
		}
	}
	sort.Strings(parts)
	return parts
}

// checkAttributes validates every value in the set against its declared
// type.
func checkAttributes(attrs AttributeSet) error {
	for attr, value := range attrs {
		if err := attr.Type.CheckValue(value, attr.Name); err != nil {
			return err
		}
	}
	return nil
}
