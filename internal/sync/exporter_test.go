package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwhitfield/trackbridge/pkg/models"
)

const testProjectID = 1

func exportFieldMappings() []models.FieldValueMapping {
	return []models.FieldValueMapping{
		{ProjectID: testProjectID, Kind: models.FieldKindStatus, InternalID: 1, ExternalKey: "21"},
		{ProjectID: testProjectID, Kind: models.FieldKindStatus, InternalID: 2, ExternalKey: "22"},
		{ProjectID: testProjectID, Kind: models.FieldKindType, InternalID: 1, ExternalKey: "31"},
		{ProjectID: testProjectID, Kind: models.FieldKindPriority, InternalID: 1, ExternalKey: "41"},
		{ProjectID: testProjectID, Kind: models.FieldKindSeverity, InternalID: 1, ExternalKey: "41"},
	}
}

func newTestExporter(internal *fakeInternal, external *fakeExternal, mapped []models.ArtifactMapping) *Exporter {
	artifacts := NewArtifactIndex(mapped)
	fields := NewFieldValueIndex(exportFieldMappings())
	translator := NewCustomFieldTranslator(NewCustomPropertyIndex(nil, nil))
	users := NewTableResolver([]models.UserMapping{
		{InternalUserID: 5, ExternalUserKey: "55"},
	})
	releases := NewReleaseResolver(internal, external, NewArtifactIndex(nil))
	return NewExporter(internal, external, external.project, artifacts, fields, translator, users, releases)
}

func exportableIncident(id int) models.Incident {
	return models.Incident{
		ID:          id,
		ProjectID:   testProjectID,
		Name:        "Crash on save",
		Description: "<p>Steps &amp; details</p>",
		StatusID:    intPtr(1),
		TypeID:      intPtr(1),
		PriorityID:  intPtr(1),
		OpenerID:    intPtr(5),
		OwnerID:     intPtr(5),
	}
}

func TestProcessIncidentCreatesIssue(t *testing.T) {
	internal := newFakeInternal()
	external := newFakeExternal()
	exporter := newTestExporter(internal, external, nil)

	incident := exportableIncident(10)
	incident.EstimatedEffortMinutes = intPtr(90)
	incident.CompletionPercent = 25
	closed := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	incident.ClosedDate = &closed

	res := exporter.ProcessIncident(context.Background(), testProjectID, incident)

	assert.Equal(t, OutcomeCreated, res.Outcome)
	assert.Zero(t, res.Warnings)

	require.Len(t, external.createdIssues, 1)
	issue := external.createdIssues[0]
	assert.Equal(t, external.project.ID, issue.ProjectID)
	assert.Equal(t, "Crash on save", issue.Subject)
	assert.Equal(t, "Steps & details", issue.Description)
	assert.Equal(t, 21, *issue.StatusID)
	assert.Equal(t, 31, *issue.TrackerID)
	assert.Equal(t, 41, *issue.PriorityID)
	assert.Equal(t, 55, *issue.AuthorID)
	assert.Equal(t, 55, *issue.AssignedToID)
	assert.Equal(t, 1.5, *issue.EstimatedHours)
	assert.Equal(t, 25, issue.DoneRatio)
	assert.Equal(t, closed, *issue.DueDate)

	require.Len(t, res.NewMappings, 1)
	m := res.NewMappings[0]
	assert.Equal(t, models.ArtifactTypeIncident, m.ArtifactType)
	assert.Equal(t, 10, m.InternalID)
	assert.Equal(t, "9000", m.ExternalKey)

	// Back-links go both ways.
	require.Len(t, internal.webLinks, 1)
	assert.Contains(t, internal.webLinks[0], "external.example.com/issues/9000")
	require.Len(t, external.notes[issue.ID], 1)
	assert.Contains(t, external.notes[issue.ID][0], "Created from InternalTracker incident")
}

func TestProcessIncidentAlreadyMapped(t *testing.T) {
	internal := newFakeInternal()
	external := newFakeExternal()
	exporter := newTestExporter(internal, external, []models.ArtifactMapping{
		{ProjectID: testProjectID, ArtifactType: models.ArtifactTypeIncident, InternalID: 10, ExternalKey: "9000"},
	})

	res := exporter.ProcessIncident(context.Background(), testProjectID, exportableIncident(10))

	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Equal(t, "already mapped", res.Reason)
	assert.Empty(t, external.createdIssues)
	assert.Empty(t, res.NewMappings)
}

func TestProcessIncidentRequiredMappingMissing(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.Incident)
	}{
		{
			name:   "Unmapped status",
			mutate: func(inc *models.Incident) { inc.StatusID = intPtr(9) },
		},
		{
			name:   "Missing status",
			mutate: func(inc *models.Incident) { inc.StatusID = nil },
		},
		{
			name:   "Unmapped type",
			mutate: func(inc *models.Incident) { inc.TypeID = intPtr(9) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			internal := newFakeInternal()
			external := newFakeExternal()
			exporter := newTestExporter(internal, external, nil)

			incident := exportableIncident(10)
			tt.mutate(&incident)

			res := exporter.ProcessIncident(context.Background(), testProjectID, incident)

			// No partial artifact: the item fails cleanly before any create.
			assert.Equal(t, OutcomeFailed, res.Outcome)
			assert.Error(t, res.Err)
			assert.Empty(t, external.createdIssues)
			assert.Empty(t, res.NewMappings)
		})
	}
}

func TestProcessIncidentOptionalMisses(t *testing.T) {
	internal := newFakeInternal()
	external := newFakeExternal()
	exporter := newTestExporter(internal, external, nil)

	incident := exportableIncident(10)
	incident.PriorityID = intPtr(9) // unmapped
	incident.OwnerID = intPtr(99)   // unresolvable user

	res := exporter.ProcessIncident(context.Background(), testProjectID, incident)

	// Optional misses degrade the item, never fail it.
	assert.Equal(t, OutcomeCreated, res.Outcome)
	assert.Equal(t, 2, res.Warnings)

	require.Len(t, external.createdIssues, 1)
	issue := external.createdIssues[0]
	assert.Nil(t, issue.PriorityID)
	assert.Nil(t, issue.AssignedToID)
}

func TestProcessIncidentResolvedRelease(t *testing.T) {
	internal := newFakeInternal()
	external := newFakeExternal()
	internal.releases[17] = &models.Release{ID: 17, ProjectID: testProjectID, Name: "Hardening", VersionNumber: "2.1.0"}
	exporter := newTestExporter(internal, external, nil)

	incident := exportableIncident(10)
	incident.ResolvedReleaseID = intPtr(17)

	res := exporter.ProcessIncident(context.Background(), testProjectID, incident)
	require.Equal(t, OutcomeCreated, res.Outcome)

	require.Len(t, external.createdVersions, 1)
	version := external.createdVersions[0]
	assert.Equal(t, "2.1.0 - Hardening", version.Name)
	require.NotNil(t, external.createdIssues[0].FixedVersionID)
	assert.Equal(t, version.ID, *external.createdIssues[0].FixedVersionID)
}

func TestProcessIncidentDetectedReleaseNotApplied(t *testing.T) {
	internal := newFakeInternal()
	external := newFakeExternal()
	internal.releases[17] = &models.Release{ID: 17, ProjectID: testProjectID, Name: "Hardening", VersionNumber: "2.1.0"}
	exporter := newTestExporter(internal, external, nil)

	incident := exportableIncident(10)
	incident.DetectedReleaseID = intPtr(17)

	res := exporter.ProcessIncident(context.Background(), testProjectID, incident)
	require.Equal(t, OutcomeCreated, res.Outcome)

	// The version is ensured for future symmetry but the issue does not
	// reference it.
	require.Len(t, external.createdVersions, 1)
	assert.Nil(t, external.createdIssues[0].FixedVersionID)
}

func TestProcessIncidentReleaseCreatedOnce(t *testing.T) {
	internal := newFakeInternal()
	external := newFakeExternal()
	internal.releases[17] = &models.Release{ID: 17, ProjectID: testProjectID, Name: "Hardening", VersionNumber: "2.1.0"}
	exporter := newTestExporter(internal, external, nil)

	first := exportableIncident(10)
	first.ResolvedReleaseID = intPtr(17)
	second := exportableIncident(11)
	second.ResolvedReleaseID = intPtr(17)

	res1 := exporter.ProcessIncident(context.Background(), testProjectID, first)
	res2 := exporter.ProcessIncident(context.Background(), testProjectID, second)
	require.Equal(t, OutcomeCreated, res1.Outcome)
	require.Equal(t, OutcomeCreated, res2.Outcome)

	// Two incidents referencing the same release yield one version and one
	// mapping delta.
	assert.Len(t, external.createdVersions, 1)
	assert.Len(t, exporter.releases.NewMappings(), 1)
}

func TestProcessIncidentCreateFailure(t *testing.T) {
	internal := newFakeInternal()
	external := newFakeExternal()
	external.createErr = assert.AnError
	exporter := newTestExporter(internal, external, nil)

	res := exporter.ProcessIncident(context.Background(), testProjectID, exportableIncident(10))

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Empty(t, res.NewMappings)
	assert.Empty(t, internal.webLinks)
}

func TestProcessIncidentMigratesCommentsAndAttachments(t *testing.T) {
	internal := newFakeInternal()
	external := newFakeExternal()
	internal.comments[10] = []models.IncidentComment{
		{ID: 1, IncidentID: 10, Text: "<p>First comment</p>"},
		{ID: 2, IncidentID: 10, Text: "Second comment"},
	}
	internal.attachments[10] = []models.Attachment{
		{ID: 1, FileName: "trace.log"},
		{ID: 2, FileName: "https://example.com/doc", IsURL: true},
	}
	internal.fileContent[1] = []byte("stack trace")
	exporter := newTestExporter(internal, external, nil)

	res := exporter.ProcessIncident(context.Background(), testProjectID, exportableIncident(10))
	require.Equal(t, OutcomeCreated, res.Outcome)

	issueID := external.createdIssues[0].ID

	// Back-link note plus two migrated comments, HTML flattened.
	require.Len(t, external.notes[issueID], 3)
	assert.Equal(t, "First comment", external.notes[issueID][1])
	assert.Equal(t, "Second comment", external.notes[issueID][2])

	// URL attachments are skipped; the file travels via the upload token flow.
	require.Len(t, external.attached[issueID], 1)
	assert.Equal(t, "trace.log", external.attached[issueID][0].FileName)
}

func TestProcessIncidentRecreatesAssociations(t *testing.T) {
	internal := newFakeInternal()
	external := newFakeExternal()
	internal.assocs[10] = []models.Association{
		{SourceArtType: models.ArtifactTypeIncident, SourceID: 10, DestArtType: models.ArtifactTypeIncident, DestID: 11},
		{SourceArtType: models.ArtifactTypeIncident, SourceID: 10, DestArtType: models.ArtifactTypeIncident, DestID: 12}, // unmapped target
	}
	exporter := newTestExporter(internal, external, []models.ArtifactMapping{
		{ProjectID: testProjectID, ArtifactType: models.ArtifactTypeIncident, InternalID: 11, ExternalKey: "9100"},
	})

	res := exporter.ProcessIncident(context.Background(), testProjectID, exportableIncident(10))
	require.Equal(t, OutcomeCreated, res.Outcome)

	require.Len(t, external.relations, 1)
	assert.Equal(t, 9100, external.relations[0].IssueToID)
	assert.Equal(t, "relates", external.relations[0].Type)
}
