package models

// FieldKind names an enumerated incident field that has a per-project
// translation table.
type FieldKind string

const (
	FieldKindSeverity FieldKind = "severity"
	FieldKindPriority FieldKind = "priority"
	FieldKindStatus   FieldKind = "status"
	FieldKindType     FieldKind = "type"
)

// ArtifactMapping is a persisted cross-system identity link. It is the single
// source of truth for "already synced": no artifact is ever created twice for
// the same (project, internal id) or (project, external key) pair.
//
// Convention: an empty ExternalKey means "no external equivalent resolved".
// It is never a valid key.
type ArtifactMapping struct {
	ProjectID    int          `db:"project_id"`
	ArtifactType ArtifactType `db:"artifact_type"`
	InternalID   int          `db:"internal_id"`
	ExternalKey  string       `db:"external_key"`
}

// ProjectMapping pairs an internal project with the external project it syncs
// against, identified by the external system's string identifier.
type ProjectMapping struct {
	InternalProjectID  int    `db:"internal_project_id"`
	ExternalIdentifier string `db:"external_identifier"`
}

// FieldValueMapping translates one value of an enumerated field between the
// two systems. Configured out-of-band; the engine only reads these.
type FieldValueMapping struct {
	ProjectID   int       `db:"project_id"`
	Kind        FieldKind `db:"kind"`
	InternalID  int       `db:"internal_id"`
	ExternalKey string    `db:"external_key"`
}

// CustomPropertyMapping pairs an internal custom property with the external
// custom field that carries its value.
type CustomPropertyMapping struct {
	ProjectID        int          `db:"project_id"`
	ArtifactType     ArtifactType `db:"artifact_type"`
	PropertyID       int          `db:"property_id"`
	ExternalFieldKey string       `db:"external_field_key"`
}

// CustomPropertyValueMapping translates one list value of a List/MultiList
// custom property.
type CustomPropertyValueMapping struct {
	ProjectID        int    `db:"project_id"`
	PropertyID       int    `db:"property_id"`
	InternalValueID  int    `db:"internal_value_id"`
	ExternalValueKey string `db:"external_value_key"`
}

// UserMapping pairs an internal user id with an external user key. Unused when
// auto-map mode resolves users by live username lookup.
type UserMapping struct {
	InternalUserID  int    `db:"internal_user_id"`
	ExternalUserKey string `db:"external_user_key"`
}
