package sync

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jwhitfield/trackbridge/internal/logging"
	"github.com/jwhitfield/trackbridge/pkg/models"
)

// Exporter pushes new internal incidents to the external tracker (phase 1).
// One exporter lives for one phase of one project; all its lookup structures
// are read-only for that phase.
type Exporter struct {
	internal   InternalClient
	external   ExternalClient
	project    *models.ExternalProject
	artifacts  *ArtifactIndex
	fields     *FieldValueIndex
	translator *CustomFieldTranslator
	users      UserResolver
	releases   *ReleaseResolver
}

// NewExporter assembles an exporter for one project phase.
func NewExporter(internal InternalClient, external ExternalClient, project *models.ExternalProject,
	artifacts *ArtifactIndex, fields *FieldValueIndex, translator *CustomFieldTranslator,
	users UserResolver, releases *ReleaseResolver) *Exporter {
	return &Exporter{
		internal:   internal,
		external:   external,
		project:    project,
		artifacts:  artifacts,
		fields:     fields,
		translator: translator,
		users:      users,
		releases:   releases,
	}
}

// ProcessIncident reconciles a single internal incident with the external
// tracker. Already-mapped incidents are a no-op; the rest are created
// externally and the new identity mapping is returned in the result.
func (e *Exporter) ProcessIncident(ctx context.Context, projectID int, incident models.Incident) ItemResult {
	if _, ok := e.artifacts.ByInternalID(incident.ID); ok {
		return skipped("already mapped")
	}

	var res ItemResult

	// Status and type are required translations: without either, no partial
	// artifact is created.
	statusID, err := e.requiredField(models.FieldKindStatus, incident.StatusID)
	if err != nil {
		logging.Error("cannot export incident", "project_id", projectID, "incident_id", incident.ID, "error", err)
		return failed(err)
	}
	trackerID, err := e.requiredField(models.FieldKindType, incident.TypeID)
	if err != nil {
		logging.Error("cannot export incident", "project_id", projectID, "incident_id", incident.ID, "error", err)
		return failed(err)
	}

	priorityID := e.optionalField(models.FieldKindPriority, incident.PriorityID, projectID, incident.ID, &res)

	// The external tracker has no severity field; the lookup still surfaces
	// missing mappings so operators can complete the tables.
	e.optionalField(models.FieldKindSeverity, incident.SeverityID, projectID, incident.ID, &res)

	var authorID, assigneeID *int
	if incident.OpenerID != nil {
		// Unresolved opener falls back to the sync account's identity on the
		// external side (the API authenticates as that account).
		if authorID = e.users.ExternalUserID(ctx, *incident.OpenerID); authorID == nil {
			logging.Warn("opener has no external user, issue author defaults to sync account",
				"project_id", projectID, "incident_id", incident.ID, "opener_id", *incident.OpenerID)
			res.Warnings++
		}
	}
	if incident.OwnerID != nil {
		if assigneeID = e.users.ExternalUserID(ctx, *incident.OwnerID); assigneeID == nil {
			logging.Warn("owner has no external user, assignee left unset",
				"project_id", projectID, "incident_id", incident.ID, "owner_id", *incident.OwnerID)
			res.Warnings++
		}
	}

	// Detected release: the external tracker has no "detected in" concept, so
	// the version is ensured (auto-created and mapped for future symmetry)
	// but never applied to the created issue.
	if incident.DetectedReleaseID != nil {
		if _, err := e.releases.ResolveExternal(ctx, projectID, e.project.ID, *incident.DetectedReleaseID, false); err != nil {
			logging.Warn("could not ensure version for detected release",
				"project_id", projectID, "incident_id", incident.ID,
				"release_id", *incident.DetectedReleaseID, "error", err)
			res.Warnings++
		}
	}

	var fixedVersionID *int
	if incident.ResolvedReleaseID != nil {
		fixedVersionID, err = e.releases.ResolveExternal(ctx, projectID, e.project.ID, *incident.ResolvedReleaseID, true)
		if err != nil {
			logging.Warn("could not resolve version for resolved release, field left unset",
				"project_id", projectID, "incident_id", incident.ID,
				"release_id", *incident.ResolvedReleaseID, "error", err)
			res.Warnings++
			fixedVersionID = nil
		}
	}

	issue := &models.Issue{
		ProjectID:      e.project.ID,
		Subject:        incident.Name,
		Description:    plainText(incident.Description),
		TrackerID:      &trackerID,
		StatusID:       &statusID,
		PriorityID:     priorityID,
		AuthorID:       authorID,
		AssignedToID:   assigneeID,
		FixedVersionID: fixedVersionID,
		StartDate:      incident.StartDate,
		DueDate:        incident.ClosedDate,
		DoneRatio:      incident.CompletionPercent,
		CustomFields:   e.translator.ToExternal(projectID, incident.CustomProperties),
	}
	if incident.EstimatedEffortMinutes != nil {
		hours := float64(*incident.EstimatedEffortMinutes) / 60
		issue.EstimatedHours = &hours
	}

	createdIssue, err := e.external.CreateIssue(ctx, issue)
	if err != nil {
		logging.Error("failed to create external issue",
			"project_id", projectID, "incident_id", incident.ID, "error", err)
		return failed(fmt.Errorf("creating external issue for incident %d: %w", incident.ID, err))
	}

	res.Outcome = OutcomeCreated
	res.NewMappings = append(res.NewMappings, models.ArtifactMapping{
		ProjectID:    projectID,
		ArtifactType: models.ArtifactTypeIncident,
		InternalID:   incident.ID,
		ExternalKey:  strconv.Itoa(createdIssue.ID),
	})
	logging.Info("created external issue",
		"project_id", projectID, "incident_id", incident.ID, "issue_id", createdIssue.ID)

	// Everything below is best effort: a failure is logged and does not
	// invalidate the created issue or its mapping.
	e.addBackLinks(ctx, projectID, incident.ID, createdIssue.ID, &res)
	e.migrateComments(ctx, projectID, incident.ID, createdIssue.ID, &res)
	e.migrateAttachments(ctx, projectID, incident.ID, createdIssue.ID, &res)
	e.recreateAssociations(ctx, projectID, incident.ID, createdIssue.ID, &res)

	return res
}

func (e *Exporter) requiredField(kind models.FieldKind, internalID *int) (int, error) {
	if internalID == nil {
		return 0, fmt.Errorf("incident has no %s", kind)
	}
	key, ok := e.fields.ExternalKey(kind, *internalID)
	if !ok {
		return 0, fmt.Errorf("no %s mapping for internal id %d", kind, *internalID)
	}
	id, err := strconv.Atoi(key)
	if err != nil {
		return 0, fmt.Errorf("%s mapping for internal id %d has non-numeric external key %q", kind, *internalID, key)
	}
	return id, nil
}

func (e *Exporter) optionalField(kind models.FieldKind, internalID *int, projectID, incidentID int, res *ItemResult) *int {
	if internalID == nil {
		return nil
	}
	key, ok := e.fields.ExternalKey(kind, *internalID)
	if !ok {
		logging.Warn("no mapping for optional field, left unset",
			"project_id", projectID, "incident_id", incidentID, "field", string(kind), "internal_id", *internalID)
		res.Warnings++
		return nil
	}
	id, err := strconv.Atoi(key)
	if err != nil {
		logging.Warn("optional field mapping has non-numeric external key, left unset",
			"project_id", projectID, "incident_id", incidentID, "field", string(kind), "external_key", key)
		res.Warnings++
		return nil
	}
	return &id
}

func (e *Exporter) addBackLinks(ctx context.Context, projectID, incidentID, issueID int, res *ItemResult) {
	if err := e.internal.AddWebLink(ctx, projectID, incidentID, e.external.IssueURL(issueID), "Issue in external tracker"); err != nil {
		logging.Warn("failed to add back-link document to incident",
			"project_id", projectID, "incident_id", incidentID, "error", err)
		res.Warnings++
	}

	note := fmt.Sprintf("Created from %s incident: %s", e.internal.ProductName(), e.internal.IncidentURL(projectID, incidentID))
	if err := e.external.AddIssueNote(ctx, issueID, note); err != nil {
		logging.Warn("failed to add back-link note to issue",
			"project_id", projectID, "issue_id", issueID, "error", err)
		res.Warnings++
	}
}

func (e *Exporter) migrateComments(ctx context.Context, projectID, incidentID, issueID int, res *ItemResult) {
	comments, err := e.internal.Comments(ctx, projectID, incidentID)
	if err != nil {
		logging.Warn("failed to fetch incident comments",
			"project_id", projectID, "incident_id", incidentID, "error", err)
		res.Warnings++
		return
	}

	// One mutating call per comment; a failed append does not stop the rest.
	for _, comment := range comments {
		if err := e.external.AddIssueNote(ctx, issueID, plainText(comment.Text)); err != nil {
			logging.Warn("failed to migrate comment",
				"project_id", projectID, "incident_id", incidentID,
				"comment_id", comment.ID, "issue_id", issueID, "error", err)
			res.Warnings++
		}
	}
}

func (e *Exporter) migrateAttachments(ctx context.Context, projectID, incidentID, issueID int, res *ItemResult) {
	attachments, err := e.internal.Attachments(ctx, projectID, incidentID)
	if err != nil {
		logging.Warn("failed to list incident attachments",
			"project_id", projectID, "incident_id", incidentID, "error", err)
		res.Warnings++
		return
	}

	for _, att := range attachments {
		if att.IsURL {
			continue
		}

		data, err := e.internal.OpenAttachment(ctx, projectID, att.ID)
		if err != nil {
			logging.Warn("failed to download attachment, skipped",
				"project_id", projectID, "incident_id", incidentID,
				"attachment_id", att.ID, "filename", att.FileName, "error", err)
			res.Warnings++
			continue
		}

		upload, err := e.external.UploadFile(ctx, att.FileName, data)
		if err != nil {
			logging.Warn("failed to upload attachment, skipped",
				"project_id", projectID, "incident_id", incidentID,
				"attachment_id", att.ID, "filename", att.FileName, "error", err)
			res.Warnings++
			continue
		}

		if err := e.external.AttachUploads(ctx, issueID, []models.Upload{upload}); err != nil {
			logging.Warn("failed to attach upload to issue, skipped",
				"project_id", projectID, "issue_id", issueID,
				"filename", att.FileName, "error", err)
			res.Warnings++
		}
	}
}

func (e *Exporter) recreateAssociations(ctx context.Context, projectID, incidentID, issueID int, res *ItemResult) {
	assocs, err := e.internal.Associations(ctx, projectID, incidentID)
	if err != nil {
		logging.Warn("failed to list incident associations",
			"project_id", projectID, "incident_id", incidentID, "error", err)
		res.Warnings++
		return
	}

	for _, assoc := range assocs {
		if assoc.DestArtType != models.ArtifactTypeIncident {
			continue
		}
		// Only targets already mapped can be related on the external side.
		mapping, ok := e.artifacts.ByInternalID(assoc.DestID)
		if !ok {
			continue
		}
		targetID, err := strconv.Atoi(mapping.ExternalKey)
		if err != nil {
			continue
		}
		if err := e.external.CreateRelation(ctx, issueID, targetID, "relates"); err != nil {
			logging.Warn("failed to recreate association as relation",
				"project_id", projectID, "incident_id", incidentID,
				"issue_id", issueID, "target_issue_id", targetID, "error", err)
			res.Warnings++
		}
	}
}
