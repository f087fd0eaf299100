// Package models defines data structures shared across the application.
package models

import (
	"time"
)

// ArtifactType identifies the kind of syncable record a mapping refers to.
// The numeric values follow the internal system's artifact type ids.
type ArtifactType int

const (
	// ArtifactTypeIncident is an incident record in the internal system.
	ArtifactTypeIncident ArtifactType = 3

	// ArtifactTypeRelease is a release/version record.
	ArtifactTypeRelease ArtifactType = 4
)

// CustomPropertyType enumerates the supported custom property value types.
type CustomPropertyType int

const (
	CustomPropertyText CustomPropertyType = iota + 1
	CustomPropertyInteger
	CustomPropertyDecimal
	CustomPropertyBoolean
	CustomPropertyDate
	CustomPropertyList
	CustomPropertyMultiList
)

// Incident represents an incident in the internal tracking system.
//
// Optional ids and dates are pointers: nil means the field is unset, which is
// distinct from a zero value. Effort fields are in minutes.
type Incident struct {
	// ID is the incident's id in the internal system (0 before creation)
	ID int

	// ProjectID is the internal project the incident belongs to
	ProjectID int

	// Name is the incident's title
	Name string

	// Description is the rich-text (HTML) body of the incident
	Description string

	// Classification ids; nil when unset
	StatusID   *int
	TypeID     *int
	PriorityID *int
	SeverityID *int

	// OpenerID is the user who detected/opened the incident
	OpenerID *int

	// OwnerID is the user the incident is assigned to
	OwnerID *int

	// DetectedReleaseID is the release the incident was found in
	DetectedReleaseID *int

	// ResolvedReleaseID is the release the incident was fixed in
	ResolvedReleaseID *int

	// Effort fields, in minutes
	EstimatedEffortMinutes *int
	ActualEffortMinutes    *int
	ProjectedEffortMinutes *int
	RemainingEffortMinutes *int

	// CompletionPercent is the percentage of work completed (0-100)
	CompletionPercent int

	// CreationDate is when the incident was opened; nil lets the server assign it
	CreationDate *time.Time

	// LastUpdateDate is the incident's concurrency/last-modified timestamp
	LastUpdateDate time.Time

	StartDate  *time.Time
	ClosedDate *time.Time

	// CustomProperties holds the incident's typed custom property values
	CustomProperties []CustomPropertyValue
}

// CustomPropertyValue is one typed custom property value on an incident.
// Exactly one of the value fields is meaningful, selected by Type.
type CustomPropertyValue struct {
	PropertyID int
	Type       CustomPropertyType

	StringValue      *string
	IntegerValue     *int
	DecimalValue     *float64
	BooleanValue     *bool
	DateValue        *time.Time
	IntegerListValue []int
}

// CustomPropertyDefinition describes a custom property configured on a project.
type CustomPropertyDefinition struct {
	PropertyID int
	Name       string
	Type       CustomPropertyType
}

// IncidentComment is a resolution/comment entry on an incident.
type IncidentComment struct {
	ID         int
	IncidentID int
	CreatorID  *int
	Text       string
	CreatedAt  time.Time
}

// Release represents a release/version in the internal system.
type Release struct {
	ID            int
	ProjectID     int
	Name          string
	VersionNumber string
	Active        bool
	StartDate     *time.Time
	EndDate       *time.Time
}

// Association links two incidents in the internal system.
type Association struct {
	ID            int
	SourceArtType ArtifactType
	SourceID      int
	DestArtType   ArtifactType
	DestID        int
	Comment       string
	CreatorID     *int
	CreationDate  *time.Time
}

// Attachment is a file or URL attached to an internal incident.
type Attachment struct {
	ID       int
	FileName string
	Size     int
	IsURL    bool
}

// User is a user account in the internal system.
type User struct {
	ID       int
	Login    string
	FullName string
	Email    string
}

// Issue represents an issue in the external tracker.
//
// The external system keys issues by integer id; mappings store it as a string
// external key. Optional fields are pointers, matching Incident.
type Issue struct {
	// ID is the issue's id in the external system (0 before creation)
	ID int

	// ProjectID is the external project id
	ProjectID int

	// Subject is the issue's one-line summary
	Subject string

	// Description is the plain-text body of the issue
	Description string

	// TrackerID is the issue type ("tracker") id
	TrackerID *int

	StatusID   *int
	PriorityID *int

	// AuthorID is the user who reported the issue
	AuthorID *int

	// AssignedToID is the user the issue is assigned to
	AssignedToID *int

	// FixedVersionID is the version the issue was fixed in
	FixedVersionID *int

	StartDate *time.Time
	DueDate   *time.Time

	// EstimatedHours is the effort estimate, in hours
	EstimatedHours *float64

	// DoneRatio is the percentage of work completed (0-100)
	DoneRatio int

	CreatedOn *time.Time
	UpdatedOn *time.Time

	// CustomFields holds the issue's typed custom field values
	CustomFields []IssueCustomField

	// Journals holds the issue's note/comment history (populated only when the
	// issue was fetched with journals included)
	Journals []Journal

	Relations   []IssueRelation
	Attachments []IssueAttachment

	// Uploads carries pending file-upload tokens on a create/update payload
	Uploads []Upload
}

// IssueCustomField is one custom field value on an external issue. Multi-valued
// fields use Values; single-valued fields use Value.
type IssueCustomField struct {
	FieldID  int
	Name     string
	Multiple bool
	Value    string
	Values   []string
}

// Journal is a timestamped note entry on an external issue.
type Journal struct {
	ID        int
	UserID    *int
	Notes     string
	CreatedOn time.Time
}

// IssueRelation links two external issues.
type IssueRelation struct {
	ID        int
	IssueID   int
	IssueToID int
	Type      string
}

// IssueAttachment is a file attached to an external issue.
type IssueAttachment struct {
	ID         int
	FileName   string
	FileSize   int
	ContentURL string
}

// Upload is a file-upload token to be attached to an external issue on
// create/update.
type Upload struct {
	Token       string
	FileName    string
	ContentType string
}

// Version represents a version in the external tracker.
type Version struct {
	ID        int
	ProjectID int
	Name      string
	Status    string
	DueDate   *time.Time
}

// ExternalProject is a project in the external tracker, resolved by its
// string identifier.
type ExternalProject struct {
	ID         int
	Identifier string
	Name       string
}

// ExternalUser is a user account in the external tracker.
type ExternalUser struct {
	ID        int
	Login     string
	FirstName string
	LastName  string
	Mail      string
}
