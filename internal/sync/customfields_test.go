package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwhitfield/trackbridge/pkg/models"
)

func testTranslator() *CustomFieldTranslator {
	props := []models.CustomPropertyMapping{
		{ProjectID: 1, ArtifactType: models.ArtifactTypeIncident, PropertyID: 1, ExternalFieldKey: "11"},
		{ProjectID: 1, ArtifactType: models.ArtifactTypeIncident, PropertyID: 2, ExternalFieldKey: "12"},
		{ProjectID: 1, ArtifactType: models.ArtifactTypeIncident, PropertyID: 3, ExternalFieldKey: "13"},
		{ProjectID: 1, ArtifactType: models.ArtifactTypeIncident, PropertyID: 4, ExternalFieldKey: "14"},
		{ProjectID: 1, ArtifactType: models.ArtifactTypeIncident, PropertyID: 5, ExternalFieldKey: "15"},
		{ProjectID: 1, ArtifactType: models.ArtifactTypeIncident, PropertyID: 6, ExternalFieldKey: "16"},
		{ProjectID: 1, ArtifactType: models.ArtifactTypeIncident, PropertyID: 7, ExternalFieldKey: "17"},
	}
	values := []models.CustomPropertyValueMapping{
		{ProjectID: 1, PropertyID: 6, InternalValueID: 101, ExternalValueKey: "Red"},
		{ProjectID: 1, PropertyID: 6, InternalValueID: 102, ExternalValueKey: "Blue"},
		{ProjectID: 1, PropertyID: 7, InternalValueID: 201, ExternalValueKey: "North"},
		{ProjectID: 1, PropertyID: 7, InternalValueID: 202, ExternalValueKey: "South"},
	}
	return NewCustomFieldTranslator(NewCustomPropertyIndex(props, values))
}

func testDefs() []models.CustomPropertyDefinition {
	return []models.CustomPropertyDefinition{
		{PropertyID: 1, Name: "Notes", Type: models.CustomPropertyText},
		{PropertyID: 2, Name: "Count", Type: models.CustomPropertyInteger},
		{PropertyID: 3, Name: "Ratio", Type: models.CustomPropertyDecimal},
		{PropertyID: 4, Name: "Flagged", Type: models.CustomPropertyBoolean},
		{PropertyID: 5, Name: "Reviewed On", Type: models.CustomPropertyDate},
		{PropertyID: 6, Name: "Color", Type: models.CustomPropertyList},
		{PropertyID: 7, Name: "Regions", Type: models.CustomPropertyMultiList},
	}
}

func TestToExternalScalars(t *testing.T) {
	tr := testTranslator()
	reviewed := time.Date(2026, 3, 15, 23, 30, 0, 0, time.FixedZone("east", 5*3600))

	fields := tr.ToExternal(1, []models.CustomPropertyValue{
		{PropertyID: 1, Type: models.CustomPropertyText, StringValue: strPtr("hello")},
		{PropertyID: 2, Type: models.CustomPropertyInteger, IntegerValue: intPtr(42)},
		{PropertyID: 3, Type: models.CustomPropertyDecimal, DecimalValue: floatPtr(2.5)},
		{PropertyID: 4, Type: models.CustomPropertyBoolean, BooleanValue: boolPtr(true)},
		{PropertyID: 5, Type: models.CustomPropertyDate, DateValue: &reviewed},
	})

	require.Len(t, fields, 5)
	assert.Equal(t, models.IssueCustomField{FieldID: 11, Value: "hello"}, fields[0])
	assert.Equal(t, models.IssueCustomField{FieldID: 12, Value: "42"}, fields[1])
	assert.Equal(t, models.IssueCustomField{FieldID: 13, Value: "2.5"}, fields[2])
	assert.Equal(t, models.IssueCustomField{FieldID: 14, Value: "1"}, fields[3])

	// The date is normalized to UTC before formatting: 23:30+05:00 is the 15th.
	assert.Equal(t, models.IssueCustomField{FieldID: 15, Value: "2026-03-15"}, fields[4])
}

func TestToExternalListValues(t *testing.T) {
	tr := testTranslator()

	fields := tr.ToExternal(1, []models.CustomPropertyValue{
		{PropertyID: 6, Type: models.CustomPropertyList, IntegerValue: intPtr(102)},
		{PropertyID: 7, Type: models.CustomPropertyMultiList, IntegerListValue: []int{201, 999, 202}},
	})

	require.Len(t, fields, 2)
	assert.Equal(t, models.IssueCustomField{FieldID: 16, Value: "Blue"}, fields[0])

	// The unmapped member 999 is dropped without failing the rest.
	assert.Equal(t, models.IssueCustomField{FieldID: 17, Multiple: true, Values: []string{"North", "South"}}, fields[1])
}

func TestToExternalSkipsUnmappedAndUnset(t *testing.T) {
	tr := testTranslator()

	fields := tr.ToExternal(1, []models.CustomPropertyValue{
		// No property mapping for id 99.
		{PropertyID: 99, Type: models.CustomPropertyText, StringValue: strPtr("lost")},
		// Unset values produce no field.
		{PropertyID: 1, Type: models.CustomPropertyText},
		{PropertyID: 6, Type: models.CustomPropertyList},
		// Unmapped list value produces no field.
		{PropertyID: 6, Type: models.CustomPropertyList, IntegerValue: intPtr(999)},
	})

	assert.Empty(t, fields)
}

func TestToInternalScalars(t *testing.T) {
	tr := testTranslator()

	values := tr.ToInternal(1, []models.IssueCustomField{
		{FieldID: 11, Value: "hello"},
		{FieldID: 12, Value: "42"},
		{FieldID: 13, Value: "2.5"},
		{FieldID: 14, Value: "1"},
		{FieldID: 15, Value: "2026-03-15"},
	}, testDefs()[:5])

	require.Len(t, values, 5)
	assert.Equal(t, "hello", *values[0].StringValue)
	assert.Equal(t, 42, *values[1].IntegerValue)
	assert.Equal(t, 2.5, *values[2].DecimalValue)
	assert.True(t, *values[3].BooleanValue)
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), *values[4].DateValue)
}

func TestToInternalListValues(t *testing.T) {
	tr := testTranslator()

	values := tr.ToInternal(1, []models.IssueCustomField{
		{FieldID: 16, Value: "Red"},
		{FieldID: 17, Multiple: true, Values: []string{"South", "Nowhere"}},
	}, testDefs()[5:])

	require.Len(t, values, 2)
	assert.Equal(t, 101, *values[0].IntegerValue)
	assert.Equal(t, []int{202}, values[1].IntegerListValue)
}

func TestToInternalEmptyListValueClears(t *testing.T) {
	tr := testTranslator()

	values := tr.ToInternal(1, []models.IssueCustomField{
		{FieldID: 16, Value: ""},
	}, testDefs()[5:6])

	require.Len(t, values, 1)
	assert.Equal(t, 6, values[0].PropertyID)
	assert.Nil(t, values[0].IntegerValue)
}

func TestToInternalSkipsUnparsable(t *testing.T) {
	tr := testTranslator()

	values := tr.ToInternal(1, []models.IssueCustomField{
		{FieldID: 12, Value: "not-a-number"},
		{FieldID: 13, Value: "two point five"},
		{FieldID: 14, Value: "maybe"},
		{FieldID: 15, Value: "someday"},
	}, testDefs()[1:5])

	assert.Empty(t, values)
}

func TestToInternalDateAcceptsTimestamp(t *testing.T) {
	tr := testTranslator()

	values := tr.ToInternal(1, []models.IssueCustomField{
		{FieldID: 15, Value: "2026-03-15T10:30:00+02:00"},
	}, testDefs()[4:5])

	require.Len(t, values, 1)
	assert.Equal(t, time.Date(2026, 3, 15, 8, 30, 0, 0, time.UTC), *values[0].DateValue)
}

func TestRoundTripPreservesValues(t *testing.T) {
	tr := testTranslator()
	reviewed := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	original := []models.CustomPropertyValue{
		{PropertyID: 1, Type: models.CustomPropertyText, StringValue: strPtr("note")},
		{PropertyID: 2, Type: models.CustomPropertyInteger, IntegerValue: intPtr(7)},
		{PropertyID: 4, Type: models.CustomPropertyBoolean, BooleanValue: boolPtr(false)},
		{PropertyID: 5, Type: models.CustomPropertyDate, DateValue: &reviewed},
		{PropertyID: 6, Type: models.CustomPropertyList, IntegerValue: intPtr(101)},
		{PropertyID: 7, Type: models.CustomPropertyMultiList, IntegerListValue: []int{201, 202}},
	}

	fields := tr.ToExternal(1, original)
	back := tr.ToInternal(1, fields, testDefs())

	require.Len(t, back, len(original))
	for i := range original {
		assert.Equal(t, original[i].PropertyID, back[i].PropertyID, "property %d", i)
	}
	assert.Equal(t, "note", *back[0].StringValue)
	assert.Equal(t, 7, *back[1].IntegerValue)
	assert.False(t, *back[2].BooleanValue)
	assert.Equal(t, reviewed, *back[3].DateValue)
	assert.Equal(t, 101, *back[4].IntegerValue)
	assert.Equal(t, []int{201, 202}, back[5].IntegerListValue)
}
