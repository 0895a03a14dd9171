package tm

// TUV is one (locale, content) pair belonging to a TU, plus its event
// metadata. FirstEventID is set once at creation and never changes;
// LatestEventID only moves forward as the TUV is modified.
type TUV struct {
	id         int64
	locale     Locale
	content    Data
	serialized string

	fp    uint64
	fpSet bool

	firstEventID  int64
	latestEventID int64

	tu *TU
}

func newTUV(locale Locale, content Data, event *Event) *TUV {
	tuv := &TUV{locale: locale, firstEventID: event.ID, latestEventID: event.ID}
	tuv.SetContent(content)
	return tuv
}

func (v *TUV) ID() int64      { return v.id }
func (v *TUV) Locale() Locale { return v.locale }

// TU returns the owning TU. This is a back-reference, not an ownership
// edge.
func (v *TUV) TU() *TU { return v.tu }

func (v *TUV) Content() Data { return v.content }

// SetContent replaces the TUV's content. The change is transient until the
// owning TU is passed to ModifyTU.
func (v *TUV) SetContent(content Data) {
	v.content = content
	v.serialized = content.SerializedForm()
	v.fpSet = false
}

// Fingerprint returns the content fingerprint, computing it on first use.
func (v *TUV) Fingerprint() uint64 {
	if !v.fpSet {
		v.fp = v.content.Fingerprint()
		v.fpSet = true
	}
	return v.fp
}

func (v *TUV) SerializedForm() string { return v.serialized }

func (v *TUV) FirstEventID() int64  { return v.firstEventID }
func (v *TUV) LatestEventID() int64 { return v.latestEventID }

// IsSource reports whether this TUV is its TU's source value. This is
// structural: the source TUV is the one carried in the TU's source slot.
func (v *TUV) IsSource() bool {
	return v.tu != nil && v.tu.sourceTUV == v
}

func (v *TUV) sameValue(locale Locale, content Data) bool {
	return v.locale.ID() == locale.ID() && v.serialized == content.SerializedForm()
}

// TU is one logical segment record: exactly one source TUV, zero or more
// target TUVs, and a set of attribute values. All changes made through its
// methods are transient until saved via a Saver or ModifyTU.
type TU struct {
	id         int64
	sourceTUV  *TUV
	targetTUVs []*TUV
	attrs      AttributeSet
}

// NewTU builds a transient TU around a source TUV. The attribute values are
// type-checked; a bad value is rejected before the TU can reach storage.
func NewTU(srcLocale Locale, content Data, attrs AttributeSet, event *Event) (*TU, error) {
	if err := checkAttributes(attrs); err != nil {
		return nil, err
	}
	if attrs == nil {
		attrs = AttributeSet{}
	}
	tu := &TU{attrs: attrs}
	tu.setSourceTUV(newTUV(srcLocale, content, event))
	return tu, nil
}

// ID returns the persisted identifier, or 0 for a transient TU. The id is
// assigned once at save time and never changes.
func (t *TU) ID() int64 { return t.id }

// Is reports whether two TU handles refer to the same logical record.
// Persisted TUs compare by id; transient TUs compare by handle identity.
func (t *TU) Is(other *TU) bool {
	if t == nil || other == nil {
		return t == other
	}
	if t.id == 0 && other.id == 0 {
		return t == other
	}
	return t.id != 0 && other.id != 0 && t.id == other.id
}

func (t *TU) SourceTUV() *TUV { return t.sourceTUV }

func (t *TU) setSourceTUV(tuv *TUV) {
	t.sourceTUV = tuv
	tuv.tu = t
}

// TargetTUVs returns the TU's target values.
func (t *TU) TargetTUVs() []*TUV { return t.targetTUVs }

// AllTUVs returns the source TUV followed by all targets.
func (t *TU) AllTUVs() []*TUV {
	all := make([]*TUV, 0, len(t.targetTUVs)+1)
	all = append(all, t.sourceTUV)
	all = append(all, t.targetTUVs...)
	return all
}

// LocaleTUVs returns the TUVs for a locale. For the source locale this is
// the source TUV itself.
func (t *TU) LocaleTUVs(locale Locale) []*TUV {
	if t.sourceTUV.locale.ID() == locale.ID() {
		return []*TUV{t.sourceTUV}
	}
	var tuvs []*TUV
	for _, tuv := range t.targetTUVs {
		if tuv.locale.ID() == locale.ID() {
			tuvs = append(tuvs, tuv)
		}
	}
	return tuvs
}

// AddTargetTUV appends a new target value unless an identical
// (locale, content) pair already exists on the TU. Returns the new TUV, or
// nil if the value was already present.
func (t *TU) AddTargetTUV(locale Locale, content Data, event *Event) (*TUV, error) {
	if event == nil {
		return nil, ErrNoEvent
	}
	for _, tuv := range t.targetTUVs {
		if tuv.sameValue(locale, content) {
			return nil, nil
		}
	}
	tuv := newTUV(locale, content, event)
	tuv.tu = t
	t.targetTUVs = append(t.targetTUVs, tuv)
	return tuv, nil
}

// RemoveTargetTUVsByLocale drops every target value in the given locale and
// returns the removed TUVs.
func (t *TU) RemoveTargetTUVsByLocale(locale Locale) []*TUV {
	var kept, removed []*TUV
	for _, tuv := range t.targetTUVs {
		if tuv.locale.ID() == locale.ID() {
			removed = append(removed, tuv)
		} else {
			kept = append(kept, tuv)
		}
	}
	t.targetTUVs = kept
	return removed
}

// RemoveTargetTUV drops the target matching (locale, content). Returns
// false if no such target exists.
func (t *TU) RemoveTargetTUV(locale Locale, content Data) bool {
	for i, tuv := range t.targetTUVs {
		if tuv.sameValue(locale, content) {
			t.targetTUVs = append(t.targetTUVs[:i], t.targetTUVs[i+1:]...)
			return true
		}
	}
	return false
}

// Attributes returns the TU's attribute values. Only attributes with a set
// value are present.
func (t *TU) Attributes() AttributeSet { return t.attrs }

// Attribute returns the value for a single attribute, or nil.
func (t *TU) Attribute(attr *Attribute) any { return t.attrs[attr] }

// SetAttribute sets or, with a nil value, removes an attribute value. The
// value is type-checked immediately.
func (t *TU) SetAttribute(attr *Attribute, value any) error {
	if value == nil {
		delete(t.attrs, attr)
		return nil
	}
	if err := attr.Type.CheckValue(value, attr.Name); err != nil {
		return err
	}
	t.attrs[attr] = value
	return nil
}
