package sync

import (
	"strconv"
	"time"

	"github.com/jwhitfield/trackbridge/internal/logging"
	"github.com/jwhitfield/trackbridge/pkg/models"
)

// externalDateLayout is the external tracker's wire format for date-typed
// custom fields. Dates are normalized to UTC on both writes and reads.
const externalDateLayout = "2006-01-02"

// CustomFieldTranslator performs type-directed, bidirectional mapping of
// custom property values between the internal custom-property model and the
// external typed-custom-field model.
//
// A custom property with no configured mapping is skipped entirely. For
// List/MultiList properties the value-level mapping table translates each
// member; unmapped MultiList members are silently dropped.
type CustomFieldTranslator struct {
	index *CustomPropertyIndex
}

// NewCustomFieldTranslator builds a translator over a project's custom
// property mapping index.
func NewCustomFieldTranslator(index *CustomPropertyIndex) *CustomFieldTranslator {
	return &CustomFieldTranslator{index: index}
}

// ToExternal translates an incident's custom property values into external
// custom fields. Values whose property has no mapping, or which are unset,
// produce no field.
func (t *CustomFieldTranslator) ToExternal(projectID int, values []models.CustomPropertyValue) []models.IssueCustomField {
	var fields []models.IssueCustomField

	for _, value := range values {
		mapping, ok := t.index.ByPropertyID(value.PropertyID)
		if !ok {
			continue
		}

		fieldID, err := strconv.Atoi(mapping.ExternalFieldKey)
		if err != nil {
			logging.Warn("custom property mapping has non-numeric external field key",
				"project_id", projectID, "property_id", value.PropertyID, "field_key", mapping.ExternalFieldKey)
			continue
		}

		switch value.Type {
		case models.CustomPropertyList:
			if value.IntegerValue == nil {
				continue
			}
			external, ok := t.index.ExternalValue(value.PropertyID, *value.IntegerValue)
			if !ok {
				logging.Warn("no value mapping for list custom property value",
					"project_id", projectID, "property_id", value.PropertyID, "value_id", *value.IntegerValue)
				continue
			}
			fields = append(fields, models.IssueCustomField{FieldID: fieldID, Value: external})

		case models.CustomPropertyMultiList:
			var members []string
			for _, valueID := range value.IntegerListValue {
				external, ok := t.index.ExternalValue(value.PropertyID, valueID)
				if !ok {
					// Unmapped members are dropped, not an error.
					continue
				}
				members = append(members, external)
			}
			if len(members) == 0 {
				continue
			}
			fields = append(fields, models.IssueCustomField{FieldID: fieldID, Multiple: true, Values: members})

		case models.CustomPropertyBoolean:
			if value.BooleanValue == nil {
				continue
			}
			formatted := "0"
			if *value.BooleanValue {
				formatted = "1"
			}
			fields = append(fields, models.IssueCustomField{FieldID: fieldID, Value: formatted})

		case models.CustomPropertyDate:
			if value.DateValue == nil {
				continue
			}
			fields = append(fields, models.IssueCustomField{
				FieldID: fieldID,
				Value:   value.DateValue.UTC().Format(externalDateLayout),
			})

		case models.CustomPropertyDecimal:
			if value.DecimalValue == nil {
				continue
			}
			fields = append(fields, models.IssueCustomField{
				FieldID: fieldID,
				Value:   strconv.FormatFloat(*value.DecimalValue, 'f', -1, 64),
			})

		case models.CustomPropertyInteger:
			if value.IntegerValue == nil {
				continue
			}
			fields = append(fields, models.IssueCustomField{FieldID: fieldID, Value: strconv.Itoa(*value.IntegerValue)})

		case models.CustomPropertyText:
			if value.StringValue == nil {
				continue
			}
			fields = append(fields, models.IssueCustomField{FieldID: fieldID, Value: *value.StringValue})
		}
	}

	return fields
}

// ToInternal translates an external issue's custom fields into incident
// custom property values, driven by the project's property definitions. A
// mapped external field missing from the issue's field set produces a
// warning; unparsable scalar values are skipped with a warning.
func (t *CustomFieldTranslator) ToInternal(projectID int, fields []models.IssueCustomField, defs []models.CustomPropertyDefinition) []models.CustomPropertyValue {
	byFieldID := make(map[int]models.IssueCustomField, len(fields))
	for _, f := range fields {
		byFieldID[f.FieldID] = f
	}

	var values []models.CustomPropertyValue

	for _, def := range defs {
		mapping, ok := t.index.ByPropertyID(def.PropertyID)
		if !ok {
			continue
		}

		fieldID, err := strconv.Atoi(mapping.ExternalFieldKey)
		if err != nil {
			logging.Warn("custom property mapping has non-numeric external field key",
				"project_id", projectID, "property_id", def.PropertyID, "field_key", mapping.ExternalFieldKey)
			continue
		}

		field, present := byFieldID[fieldID]
		if !present {
			logging.Warn("mapped custom field absent from external issue",
				"project_id", projectID, "property_id", def.PropertyID, "field_id", fieldID)
			continue
		}

		value := models.CustomPropertyValue{PropertyID: def.PropertyID, Type: def.Type}

		switch def.Type {
		case models.CustomPropertyList:
			if field.Value == "" {
				// Empty external value clears the internal value.
				values = append(values, value)
				continue
			}
			internal, ok := t.index.InternalValue(def.PropertyID, field.Value)
			if !ok {
				logging.Warn("no value mapping for external list custom field value",
					"project_id", projectID, "property_id", def.PropertyID, "value", field.Value)
				continue
			}
			value.IntegerValue = &internal
			values = append(values, value)

		case models.CustomPropertyMultiList:
			for _, member := range field.Values {
				internal, ok := t.index.InternalValue(def.PropertyID, member)
				if !ok {
					continue
				}
				value.IntegerListValue = append(value.IntegerListValue, internal)
			}
			if len(value.IntegerListValue) == 0 && len(field.Values) > 0 {
				continue
			}
			values = append(values, value)

		case models.CustomPropertyBoolean:
			if field.Value == "" {
				continue
			}
			var parsed bool
			switch field.Value {
			case "1", "true":
				parsed = true
			case "0", "false":
				parsed = false
			default:
				logging.Warn("unparsable boolean custom field value",
					"project_id", projectID, "property_id", def.PropertyID, "value", field.Value)
				continue
			}
			value.BooleanValue = &parsed
			values = append(values, value)

		case models.CustomPropertyDate:
			if field.Value == "" {
				continue
			}
			parsed, err := time.ParseInLocation(externalDateLayout, field.Value, time.UTC)
			if err != nil {
				if parsed, err = time.Parse(time.RFC3339, field.Value); err != nil {
					logging.Warn("unparsable date custom field value",
						"project_id", projectID, "property_id", def.PropertyID, "value", field.Value)
					continue
				}
			}
			utc := parsed.UTC()
			value.DateValue = &utc
			values = append(values, value)

		case models.CustomPropertyDecimal:
			if field.Value == "" {
				continue
			}
			parsed, err := strconv.ParseFloat(field.Value, 64)
			if err != nil {
				logging.Warn("unparsable decimal custom field value",
					"project_id", projectID, "property_id", def.PropertyID, "value", field.Value)
				continue
			}
			value.DecimalValue = &parsed
			values = append(values, value)

		case models.CustomPropertyInteger:
			if field.Value == "" {
				continue
			}
			parsed, err := strconv.Atoi(field.Value)
			if err != nil {
				logging.Warn("unparsable integer custom field value",
					"project_id", projectID, "property_id", def.PropertyID, "value", field.Value)
				continue
			}
			value.IntegerValue = &parsed
			values = append(values, value)

		case models.CustomPropertyText:
			if field.Value == "" {
				continue
			}
			text := field.Value
			value.StringValue = &text
			values = append(values, value)
		}
	}

	return values
}
