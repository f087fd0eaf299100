package sync

import (
	"github.com/jwhitfield/trackbridge/pkg/models"
)

// ArtifactIndex is an immutable two-way lookup over a project's artifact
// mappings, built once per phase. Mappings with an empty external key are
// indexed by internal id only ("no external equivalent resolved").
type ArtifactIndex struct {
	byInternal map[int]models.ArtifactMapping
	byExternal map[string]models.ArtifactMapping
}

// NewArtifactIndex builds an index over the given mappings.
func NewArtifactIndex(mappings []models.ArtifactMapping) *ArtifactIndex {
	ix := &ArtifactIndex{
		byInternal: make(map[int]models.ArtifactMapping, len(mappings)),
		byExternal: make(map[string]models.ArtifactMapping, len(mappings)),
	}
	for _, m := range mappings {
		ix.byInternal[m.InternalID] = m
		if m.ExternalKey != "" {
			ix.byExternal[m.ExternalKey] = m
		}
	}
	return ix
}

// ByInternalID looks up the mapping for an internal artifact id.
func (ix *ArtifactIndex) ByInternalID(id int) (models.ArtifactMapping, bool) {
	m, ok := ix.byInternal[id]
	return m, ok
}

// ByExternalKey looks up the mapping for an external artifact key.
func (ix *ArtifactIndex) ByExternalKey(key string) (models.ArtifactMapping, bool) {
	if key == "" {
		return models.ArtifactMapping{}, false
	}
	m, ok := ix.byExternal[key]
	return m, ok
}

type fieldValueInternalKey struct {
	kind models.FieldKind
	id   int
}

type fieldValueExternalKey struct {
	kind models.FieldKind
	key  string
}

// FieldValueIndex translates enumerated field values (status, type, priority,
// severity) in both directions for one project.
type FieldValueIndex struct {
	toExternal map[fieldValueInternalKey]string
	toInternal map[fieldValueExternalKey]int
}

// NewFieldValueIndex builds a two-way index over the configured field value
// mappings. Entries with an empty external key are kept one-way: they resolve
// to "missing" on the export side by convention.
func NewFieldValueIndex(mappings []models.FieldValueMapping) *FieldValueIndex {
	ix := &FieldValueIndex{
		toExternal: make(map[fieldValueInternalKey]string, len(mappings)),
		toInternal: make(map[fieldValueExternalKey]int, len(mappings)),
	}
	for _, m := range mappings {
		if m.ExternalKey == "" {
			continue
		}
		ix.toExternal[fieldValueInternalKey{m.Kind, m.InternalID}] = m.ExternalKey
		ix.toInternal[fieldValueExternalKey{m.Kind, m.ExternalKey}] = m.InternalID
	}
	return ix
}

// ExternalKey returns the external value key for an internal field value id.
func (ix *FieldValueIndex) ExternalKey(kind models.FieldKind, internalID int) (string, bool) {
	key, ok := ix.toExternal[fieldValueInternalKey{kind, internalID}]
	return key, ok
}

// InternalID returns the internal field value id for an external value key.
func (ix *FieldValueIndex) InternalID(kind models.FieldKind, externalKey string) (int, bool) {
	id, ok := ix.toInternal[fieldValueExternalKey{kind, externalKey}]
	return id, ok
}

type propertyValueKey struct {
	propertyID int
	valueID    int
}

type propertyExternalValueKey struct {
	propertyID int
	key        string
}

// CustomPropertyIndex holds a project's custom property mappings plus, for
// List/MultiList properties, the value-level mappings.
type CustomPropertyIndex struct {
	byProperty map[int]models.CustomPropertyMapping
	byFieldKey map[string]models.CustomPropertyMapping

	valueToExternal map[propertyValueKey]string
	valueToInternal map[propertyExternalValueKey]int
}

// NewCustomPropertyIndex builds the index from the two mapping tables.
func NewCustomPropertyIndex(props []models.CustomPropertyMapping, values []models.CustomPropertyValueMapping) *CustomPropertyIndex {
	ix := &CustomPropertyIndex{
		byProperty:      make(map[int]models.CustomPropertyMapping, len(props)),
		byFieldKey:      make(map[string]models.CustomPropertyMapping, len(props)),
		valueToExternal: make(map[propertyValueKey]string, len(values)),
		valueToInternal: make(map[propertyExternalValueKey]int, len(values)),
	}
	for _, p := range props {
		ix.byProperty[p.PropertyID] = p
		if p.ExternalFieldKey != "" {
			ix.byFieldKey[p.ExternalFieldKey] = p
		}
	}
	for _, v := range values {
		if v.ExternalValueKey == "" {
			continue
		}
		ix.valueToExternal[propertyValueKey{v.PropertyID, v.InternalValueID}] = v.ExternalValueKey
		ix.valueToInternal[propertyExternalValueKey{v.PropertyID, v.ExternalValueKey}] = v.InternalValueID
	}
	return ix
}

// ByPropertyID looks up the field mapping for an internal custom property.
func (ix *CustomPropertyIndex) ByPropertyID(id int) (models.CustomPropertyMapping, bool) {
	m, ok := ix.byProperty[id]
	return m, ok
}

// ByFieldKey looks up the field mapping for an external custom field key.
func (ix *CustomPropertyIndex) ByFieldKey(key string) (models.CustomPropertyMapping, bool) {
	m, ok := ix.byFieldKey[key]
	return m, ok
}

// ExternalValue translates one list value internal id to its external key.
func (ix *CustomPropertyIndex) ExternalValue(propertyID, valueID int) (string, bool) {
	v, ok := ix.valueToExternal[propertyValueKey{propertyID, valueID}]
	return v, ok
}

// InternalValue translates one list value external key to its internal id.
func (ix *CustomPropertyIndex) InternalValue(propertyID int, externalKey string) (int, bool) {
	v, ok := ix.valueToInternal[propertyExternalValueKey{propertyID, externalKey}]
	return v, ok
}
