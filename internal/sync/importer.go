package sync

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jwhitfield/trackbridge/internal/logging"
	"github.com/jwhitfield/trackbridge/pkg/models"
)

// Placeholder text for external issues with a blank subject or description;
// the internal system rejects empty values for either.
const (
	placeholderSubject     = "Untitled issue"
	placeholderDescription = "No description provided."
)

// Importer pulls new and changed external issues into the internal system
// (phase 2). One importer lives for one phase of one project.
type Importer struct {
	internal   InternalClient
	external   ExternalClient
	artifacts  *ArtifactIndex
	fields     *FieldValueIndex
	translator *CustomFieldTranslator
	users      UserResolver
	releases   *ReleaseResolver
	defs       []models.CustomPropertyDefinition

	// createNew gates creation of new incidents; updates to mapped incidents
	// happen regardless.
	createNew bool
}

// NewImporter assembles an importer for one project phase.
func NewImporter(internal InternalClient, external ExternalClient,
	artifacts *ArtifactIndex, fields *FieldValueIndex, translator *CustomFieldTranslator,
	users UserResolver, releases *ReleaseResolver,
	defs []models.CustomPropertyDefinition, createNew bool) *Importer {
	return &Importer{
		internal:   internal,
		external:   external,
		artifacts:  artifacts,
		fields:     fields,
		translator: translator,
		users:      users,
		releases:   releases,
		defs:       defs,
		createNew:  createNew,
	}
}

// ProcessExternalIssue reconciles a single external issue with the internal
// system: unmapped issues become new incidents, mapped ones are updated in
// place. The issue must carry its full detail (journals, relations,
// attachments).
func (i *Importer) ProcessExternalIssue(ctx context.Context, projectID int, issue models.Issue) ItemResult {
	key := strconv.Itoa(issue.ID)
	mapping, mapped := i.artifacts.ByExternalKey(key)
	isNew := !mapped

	var res ItemResult
	var incident *models.Incident

	if mapped {
		existing, err := i.internal.IncidentByID(ctx, projectID, mapping.InternalID)
		if err != nil {
			logging.Error("failed to fetch mapped incident, issue not applied",
				"project_id", projectID, "issue_id", issue.ID, "incident_id", mapping.InternalID, "error", err)
			return failed(fmt.Errorf("fetching incident %d for issue %d: %w", mapping.InternalID, issue.ID, err))
		}
		incident = existing
	} else {
		if !i.createNew {
			return skipped("incident creation disabled")
		}
		incident = i.newIncidentSkeleton(ctx, projectID, issue, &res)
	}

	// Tracker/type gate: external issues of an unmapped type are intentionally
	// excluded from import, so a new issue is dropped without noise. On an
	// already-mapped incident the miss only blocks the type field.
	typeID, typeOK := 0, false
	if issue.TrackerID != nil {
		typeID, typeOK = i.fields.InternalID(models.FieldKindType, strconv.Itoa(*issue.TrackerID))
	}
	if !typeOK {
		if isNew {
			logging.Debug("skipping external issue with unmapped tracker",
				"project_id", projectID, "issue_id", issue.ID, "tracker_id", issue.TrackerID)
			return skipped("unmapped tracker type")
		}
		logging.Warn("no type mapping for tracker, incident type not updated",
			"project_id", projectID, "issue_id", issue.ID, "tracker_id", issue.TrackerID)
		res.Warnings++
	} else {
		incident.TypeID = &typeID
	}

	// Status is a required translation.
	statusOK := false
	if issue.StatusID != nil {
		if statusID, ok := i.fields.InternalID(models.FieldKindStatus, strconv.Itoa(*issue.StatusID)); ok {
			incident.StatusID = &statusID
			statusOK = true
		}
	}
	if !statusOK {
		err := fmt.Errorf("no status mapping for external status %v on issue %d", issue.StatusID, issue.ID)
		logging.Error("cannot import issue", "project_id", projectID, "issue_id", issue.ID, "error", err)
		return failed(err)
	}

	// The external tracker's single priority feeds both priority and severity
	// through their own per-project tables.
	if issue.PriorityID != nil {
		externalKey := strconv.Itoa(*issue.PriorityID)
		if id, ok := i.fields.InternalID(models.FieldKindPriority, externalKey); ok {
			incident.PriorityID = &id
		} else {
			logging.Warn("no priority mapping, field left unset",
				"project_id", projectID, "issue_id", issue.ID, "priority_id", *issue.PriorityID)
			res.Warnings++
		}
		if id, ok := i.fields.InternalID(models.FieldKindSeverity, externalKey); ok {
			incident.SeverityID = &id
		} else {
			logging.Warn("no severity mapping, field left unset",
				"project_id", projectID, "issue_id", issue.ID, "priority_id", *issue.PriorityID)
			res.Warnings++
		}
	}

	if issue.AssignedToID != nil {
		if id := i.users.InternalUserID(ctx, *issue.AssignedToID); id != nil {
			incident.OwnerID = id
		} else {
			logging.Warn("assignee has no internal user, owner left unset",
				"project_id", projectID, "issue_id", issue.ID, "assigned_to_id", *issue.AssignedToID)
			res.Warnings++
		}
	}

	incident.Name = issue.Subject
	if incident.Name == "" {
		incident.Name = placeholderSubject
	}
	incident.Description = issue.Description
	if incident.Description == "" {
		incident.Description = placeholderDescription
	}

	if issue.StartDate != nil {
		incident.StartDate = issue.StartDate
	}
	if issue.DueDate != nil {
		incident.ClosedDate = issue.DueDate
	}
	if issue.EstimatedHours != nil {
		estimated := int(*issue.EstimatedHours * 60)
		incident.EstimatedEffortMinutes = &estimated

		remaining := int((*issue.EstimatedHours - *issue.EstimatedHours*float64(issue.DoneRatio)/100) * 60)
		if remaining > 0 {
			incident.RemainingEffortMinutes = &remaining
		}
	}
	incident.CompletionPercent = issue.DoneRatio

	if issue.FixedVersionID != nil {
		releaseID, err := i.releases.ResolveInternal(ctx, projectID, *issue.FixedVersionID)
		if err != nil {
			logging.Warn("could not resolve release for fixed version, field left unset",
				"project_id", projectID, "issue_id", issue.ID,
				"version_id", *issue.FixedVersionID, "error", err)
			res.Warnings++
		} else {
			incident.ResolvedReleaseID = releaseID
		}
	}

	incident.CustomProperties = i.translator.ToInternal(projectID, issue.CustomFields, i.defs)

	staged := i.stageComments(ctx, projectID, incident, issue, isNew, &res)

	if isNew {
		created, err := i.internal.CreateIncident(ctx, incident)
		if err != nil {
			logging.Error("failed to create incident from external issue",
				"project_id", projectID, "issue_id", issue.ID, "error", err)
			return failed(fmt.Errorf("creating incident for issue %d: %w", issue.ID, err))
		}

		res.Outcome = OutcomeCreated
		res.NewMappings = append(res.NewMappings, models.ArtifactMapping{
			ProjectID:    projectID,
			ArtifactType: models.ArtifactTypeIncident,
			InternalID:   created.ID,
			ExternalKey:  key,
		})
		logging.Info("created incident from external issue",
			"project_id", projectID, "issue_id", issue.ID, "incident_id", created.ID)

		i.appendComments(ctx, projectID, created.ID, staged, &res)
		i.addBackLink(ctx, projectID, created.ID, issue.ID, &res)
		i.migrateAttachments(ctx, projectID, created.ID, issue, &res)
		i.recreateRelations(ctx, projectID, created.ID, issue, &res)
		return res
	}

	if err := i.internal.UpdateIncident(ctx, incident); err != nil {
		logging.Error("failed to update incident from external issue",
			"project_id", projectID, "issue_id", issue.ID, "incident_id", incident.ID, "error", err)
		return failed(fmt.Errorf("updating incident %d for issue %d: %w", incident.ID, issue.ID, err))
	}

	res.Outcome = OutcomeUpdated
	i.appendComments(ctx, projectID, incident.ID, staged, &res)
	return res
}

// newIncidentSkeleton builds the shell of a new incident from an external
// issue. The creation timestamp comes from the external issue when present;
// an unresolvable author leaves the opener unset, which the internal system
// fills with the sync account.
func (i *Importer) newIncidentSkeleton(ctx context.Context, projectID int, issue models.Issue, res *ItemResult) *models.Incident {
	incident := &models.Incident{ProjectID: projectID}

	if issue.CreatedOn != nil {
		incident.CreationDate = issue.CreatedOn
	}
	if issue.AuthorID != nil {
		if id := i.users.InternalUserID(ctx, *issue.AuthorID); id != nil {
			incident.OpenerID = id
		} else {
			logging.Warn("issue author has no internal user, opener defaults to sync account",
				"project_id", projectID, "issue_id", issue.ID, "author_id", *issue.AuthorID)
			res.Warnings++
		}
	}

	return incident
}

// stageComments collects the journal entries that need to become incident
// comments. A journal whose trimmed notes exactly match an existing comment's
// trimmed text is skipped, so reprocessing the same issue appends nothing.
func (i *Importer) stageComments(ctx context.Context, projectID int, incident *models.Incident, issue models.Issue, isNew bool, res *ItemResult) []models.IncidentComment {
	var existing []models.IncidentComment
	if !isNew {
		var err error
		existing, err = i.internal.Comments(ctx, projectID, incident.ID)
		if err != nil {
			logging.Warn("failed to fetch incident comments for dedup",
				"project_id", projectID, "incident_id", incident.ID, "error", err)
			res.Warnings++
			existing = nil
		}
	}

	var staged []models.IncidentComment
	for _, journal := range issue.Journals {
		notes := strings.TrimSpace(journal.Notes)
		if notes == "" {
			continue
		}
		if commentExists(existing, notes) {
			continue
		}

		var creator *int
		if journal.UserID != nil {
			creator = i.users.InternalUserID(ctx, *journal.UserID)
			if creator == nil {
				logging.Warn("journal author has no internal user, comment creator defaults to sync account",
					"project_id", projectID, "issue_id", issue.ID, "journal_id", journal.ID)
				res.Warnings++
			}
		}

		staged = append(staged, models.IncidentComment{
			CreatorID: creator,
			Text:      notes,
			CreatedAt: journal.CreatedOn,
		})
	}
	return staged
}

func commentExists(comments []models.IncidentComment, trimmedText string) bool {
	for _, c := range comments {
		if strings.TrimSpace(c.Text) == trimmedText {
			return true
		}
	}
	return false
}

func (i *Importer) appendComments(ctx context.Context, projectID, incidentID int, staged []models.IncidentComment, res *ItemResult) {
	for _, comment := range staged {
		comment.IncidentID = incidentID
		if err := i.internal.AddComment(ctx, projectID, comment); err != nil {
			logging.Warn("failed to append comment to incident",
				"project_id", projectID, "incident_id", incidentID, "error", err)
			res.Warnings++
		}
	}
}

func (i *Importer) addBackLink(ctx context.Context, projectID, incidentID, issueID int, res *ItemResult) {
	if err := i.internal.AddWebLink(ctx, projectID, incidentID, i.external.IssueURL(issueID), "Issue in external tracker"); err != nil {
		logging.Warn("failed to add back-link document to incident",
			"project_id", projectID, "incident_id", incidentID, "issue_id", issueID, "error", err)
		res.Warnings++
	}
}

func (i *Importer) migrateAttachments(ctx context.Context, projectID, incidentID int, issue models.Issue, res *ItemResult) {
	for _, att := range issue.Attachments {
		data, err := i.external.DownloadAttachment(ctx, att.ContentURL)
		if err != nil {
			logging.Warn("failed to download issue attachment, skipped",
				"project_id", projectID, "issue_id", issue.ID,
				"attachment_id", att.ID, "filename", att.FileName, "error", err)
			res.Warnings++
			continue
		}
		if err := i.internal.AddFileAttachment(ctx, projectID, incidentID, att.FileName, data); err != nil {
			logging.Warn("failed to attach file to incident, skipped",
				"project_id", projectID, "incident_id", incidentID,
				"filename", att.FileName, "error", err)
			res.Warnings++
		}
	}
}

func (i *Importer) recreateRelations(ctx context.Context, projectID, incidentID int, issue models.Issue, res *ItemResult) {
	for _, rel := range issue.Relations {
		otherID := rel.IssueToID
		if otherID == issue.ID {
			otherID = rel.IssueID
		}
		mapping, ok := i.artifacts.ByExternalKey(strconv.Itoa(otherID))
		if !ok {
			continue
		}
		assoc := models.Association{
			SourceArtType: models.ArtifactTypeIncident,
			SourceID:      incidentID,
			DestArtType:   models.ArtifactTypeIncident,
			DestID:        mapping.InternalID,
			Comment:       "Relation synchronized from external tracker",
		}
		if err := i.internal.CreateAssociation(ctx, projectID, assoc); err != nil {
			logging.Warn("failed to recreate relation as association",
				"project_id", projectID, "incident_id", incidentID,
				"target_incident_id", mapping.InternalID, "error", err)
			res.Warnings++
		}
	}
}
