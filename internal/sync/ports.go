// Package sync implements the reconciliation engine that keeps incidents in
// the internal tracking system and issues in the external tracker consistent
// across periodic batch runs.
package sync

import (
	"context"
	"time"

	"github.com/jwhitfield/trackbridge/pkg/models"
)

// InternalClient is the operation contract consumed against the internal
// tracking system. Implemented by internal/spira and by test fakes.
type InternalClient interface {
	// Authenticate verifies credentials and refreshes session state. Called
	// again between phases so long batches tolerate session expiry.
	Authenticate(ctx context.Context) error

	// ConnectProject binds the session to a project before artifact calls.
	ConnectProject(ctx context.Context, projectID int) error

	IncidentCount(ctx context.Context, projectID int, createdAfter time.Time) (int, error)
	Incidents(ctx context.Context, projectID int, createdAfter time.Time, startRow, pageSize int) ([]models.Incident, error)
	IncidentByID(ctx context.Context, projectID, incidentID int) (*models.Incident, error)
	CreateIncident(ctx context.Context, incident *models.Incident) (*models.Incident, error)
	UpdateIncident(ctx context.Context, incident *models.Incident) error

	Comments(ctx context.Context, projectID, incidentID int) ([]models.IncidentComment, error)
	AddComment(ctx context.Context, projectID int, comment models.IncidentComment) error

	ReleaseByID(ctx context.Context, projectID, releaseID int) (*models.Release, error)
	CreateRelease(ctx context.Context, release *models.Release) (*models.Release, error)

	CustomProperties(ctx context.Context, projectID int, artifactType models.ArtifactType) ([]models.CustomPropertyDefinition, error)

	Attachments(ctx context.Context, projectID, incidentID int) ([]models.Attachment, error)
	OpenAttachment(ctx context.Context, projectID, attachmentID int) ([]byte, error)
	AddFileAttachment(ctx context.Context, projectID, incidentID int, fileName string, data []byte) error
	AddWebLink(ctx context.Context, projectID, incidentID int, url, description string) error

	Associations(ctx context.Context, projectID, incidentID int) ([]models.Association, error)
	CreateAssociation(ctx context.Context, projectID int, assoc models.Association) error

	UserByID(ctx context.Context, userID int) (*models.User, error)
	UserByLogin(ctx context.Context, login string) (*models.User, error)

	// ProductName and IncidentURL feed the back-link documents created on the
	// peer system.
	ProductName() string
	IncidentURL(projectID, incidentID int) string
}

// ExternalClient is the operation contract consumed against the external
// issue tracker. Implemented by internal/redmine and by test fakes.
type ExternalClient interface {
	Authenticate(ctx context.Context) error

	ProjectByIdentifier(ctx context.Context, identifier string) (*models.ExternalProject, error)

	// Issues lists issues for a project updated since the given time, any
	// status, one page at a time. Journals, relations and attachments are not
	// included here; IssueByID fetches the full detail.
	Issues(ctx context.Context, projectID int, updatedSince time.Time, offset, limit int) ([]models.Issue, error)
	IssueByID(ctx context.Context, issueID int) (*models.Issue, error)
	CreateIssue(ctx context.Context, issue *models.Issue) (*models.Issue, error)

	// AddIssueNote appends a single note to an issue. Each note is a separate
	// mutating call.
	AddIssueNote(ctx context.Context, issueID int, notes string) error

	VersionByID(ctx context.Context, versionID int) (*models.Version, error)
	CreateVersion(ctx context.Context, projectID int, version *models.Version) (*models.Version, error)

	CreateRelation(ctx context.Context, issueID, issueToID int, relationType string) error

	UploadFile(ctx context.Context, fileName string, data []byte) (models.Upload, error)
	AttachUploads(ctx context.Context, issueID int, uploads []models.Upload) error
	DownloadAttachment(ctx context.Context, contentURL string) ([]byte, error)

	UserByID(ctx context.Context, userID int) (*models.ExternalUser, error)
	UserByLogin(ctx context.Context, login string) (*models.ExternalUser, error)

	IssueURL(issueID int) string
}

// MappingRepository is read/write access to the persisted cross-system
// identity tables. Implemented by internal/mapping and by test fakes.
type MappingRepository interface {
	ProjectMappings(ctx context.Context) ([]models.ProjectMapping, error)
	ArtifactMappings(ctx context.Context, projectID int, artifactType models.ArtifactType) ([]models.ArtifactMapping, error)
	FieldValueMappings(ctx context.Context, projectID int) ([]models.FieldValueMapping, error)
	CustomPropertyMappings(ctx context.Context, projectID int, artifactType models.ArtifactType) ([]models.CustomPropertyMapping, error)
	CustomPropertyValueMappings(ctx context.Context, projectID int) ([]models.CustomPropertyValueMapping, error)
	UserMappings(ctx context.Context) ([]models.UserMapping, error)

	// AddArtifactMappings and RemoveArtifactMappings write in batches; the
	// orchestrator calls them once per phase with the merged deltas.
	AddArtifactMappings(ctx context.Context, mappings []models.ArtifactMapping) error
	RemoveArtifactMappings(ctx context.Context, mappings []models.ArtifactMapping) error
}
