package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwhitfield/trackbridge/internal/config"
	"github.com/jwhitfield/trackbridge/internal/logging"
	"github.com/jwhitfield/trackbridge/pkg/models"
)

// minimumEpoch is the floor for every "created after" / "updated since"
// filter; a missing or offset-shifted last-sync date never moves before it.
var minimumEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// errSkipProject marks a project-level failure: the project is logged and
// skipped and the run continues with the next project mapping.
var errSkipProject = errors.New("project skipped")

// Orchestrator drives one reconciliation run: per project, the export phase,
// a mapping checkpoint, the import phase, another checkpoint. Execution is
// strictly sequential; the only mutable shared state is the mapping
// repository, written once per phase.
type Orchestrator struct {
	internal InternalClient
	external ExternalClient
	repo     MappingRepository
	options  config.SyncConfig
	pageSize int
}

// NewOrchestrator assembles an orchestrator over the two clients and the
// mapping repository.
func NewOrchestrator(internal InternalClient, external ExternalClient, repo MappingRepository, options config.SyncConfig) *Orchestrator {
	return &Orchestrator{
		internal: internal,
		external: external,
		repo:     repo,
		options:  options,
		pageSize: config.DefaultPageSize,
	}
}

// Execute runs one full reconciliation pass. lastSync is the host scheduler's
// last successful sync timestamp (nil on the first run). A returned error
// means the run aborted on an authentication/connectivity fault and the
// scheduler must not advance its last-sync date; per-project and per-item
// failures only downgrade the report status to warning.
func (o *Orchestrator) Execute(ctx context.Context, lastSync *time.Time, now time.Time) (*Report, error) {
	report := &Report{RunID: uuid.NewString(), StartedAt: now}

	logging.Info("starting sync run", "run_id", report.RunID, "last_sync", lastSync)

	if err := o.internal.Authenticate(ctx); err != nil {
		return report, fmt.Errorf("authenticating to internal system: %w", err)
	}
	if err := o.external.Authenticate(ctx); err != nil {
		return report, fmt.Errorf("authenticating to external tracker: %w", err)
	}

	projects, err := o.repo.ProjectMappings(ctx)
	if err != nil {
		return report, fmt.Errorf("loading project mappings: %w", err)
	}
	report.Projects = len(projects)

	for _, pm := range projects {
		err := o.syncProject(ctx, pm, lastSync, report)
		if errors.Is(err, errSkipProject) {
			report.ProjectsSkipped++
			continue
		}
		if err != nil {
			report.FinishedAt = time.Now().UTC()
			return report, err
		}
	}

	report.FinishedAt = time.Now().UTC()
	logging.Info("sync run finished",
		"run_id", report.RunID,
		"status", report.Status().String(),
		"projects", report.Projects,
		"projects_skipped", report.ProjectsSkipped,
		"exported", report.Export.Created,
		"imported_new", report.Import.Created,
		"imported_updated", report.Import.Updated,
		"failed", report.Export.Failed+report.Import.Failed,
		"warnings", report.Warnings)
	return report, nil
}

func (o *Orchestrator) syncProject(ctx context.Context, pm models.ProjectMapping, lastSync *time.Time, report *Report) error {
	projectID := pm.InternalProjectID

	if err := o.internal.ConnectProject(ctx, projectID); err != nil {
		logging.Error("cannot connect to internal project, skipping project",
			"project_id", projectID, "error", err)
		return errSkipProject
	}

	project, err := o.external.ProjectByIdentifier(ctx, pm.ExternalIdentifier)
	if err != nil || project == nil {
		// The most common operator misconfiguration: the identifier in the
		// project mapping does not name a project on the external tracker.
		logging.Error("cannot resolve external project, skipping project; check the project mapping's external identifier against the external tracker",
			"project_id", projectID, "external_identifier", pm.ExternalIdentifier, "error", err)
		return errSkipProject
	}

	if o.options.CreateNewItemsInRedmine {
		state, err := o.loadPhaseState(ctx, projectID)
		if err != nil {
			logging.Error("failed to load mappings for export phase, skipping project",
				"project_id", projectID, "error", err)
			return errSkipProject
		}
		if err := o.exportPhase(ctx, projectID, project, state, lastSync, report); err != nil {
			return err
		}
	} else {
		logging.Info("export phase disabled by configuration", "project_id", projectID)
	}

	// Re-authenticate and reconnect between phases: long batches must
	// tolerate session/token expiry. Failures here are run-fatal, the same
	// as the initial authentication.
	if err := o.internal.Authenticate(ctx); err != nil {
		return fmt.Errorf("re-authenticating to internal system: %w", err)
	}
	if err := o.external.Authenticate(ctx); err != nil {
		return fmt.Errorf("re-authenticating to external tracker: %w", err)
	}
	if err := o.internal.ConnectProject(ctx, projectID); err != nil {
		logging.Error("cannot reconnect to internal project, skipping import phase",
			"project_id", projectID, "error", err)
		return errSkipProject
	}

	// Mapping state is re-read here so the import phase observes every
	// mapping the export phase flushed.
	state, err := o.loadPhaseState(ctx, projectID)
	if err != nil {
		logging.Error("failed to load mappings for import phase, skipping project",
			"project_id", projectID, "error", err)
		return errSkipProject
	}
	return o.importPhase(ctx, projectID, project, state, lastSync, report)
}

// phaseState bundles the read-only lookup structures built once per phase.
type phaseState struct {
	artifacts  *ArtifactIndex
	fields     *FieldValueIndex
	translator *CustomFieldTranslator
	users      UserResolver
	releases   *ReleaseResolver
	defs       []models.CustomPropertyDefinition
}

func (o *Orchestrator) loadPhaseState(ctx context.Context, projectID int) (*phaseState, error) {
	artifactMappings, err := o.repo.ArtifactMappings(ctx, projectID, models.ArtifactTypeIncident)
	if err != nil {
		return nil, fmt.Errorf("loading artifact mappings: %w", err)
	}
	releaseMappings, err := o.repo.ArtifactMappings(ctx, projectID, models.ArtifactTypeRelease)
	if err != nil {
		return nil, fmt.Errorf("loading release mappings: %w", err)
	}
	fieldValues, err := o.repo.FieldValueMappings(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("loading field value mappings: %w", err)
	}
	props, err := o.repo.CustomPropertyMappings(ctx, projectID, models.ArtifactTypeIncident)
	if err != nil {
		return nil, fmt.Errorf("loading custom property mappings: %w", err)
	}
	propValues, err := o.repo.CustomPropertyValueMappings(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("loading custom property value mappings: %w", err)
	}

	defs, err := o.internal.CustomProperties(ctx, projectID, models.ArtifactTypeIncident)
	if err != nil {
		return nil, fmt.Errorf("loading custom property definitions: %w", err)
	}

	// The resolver variant is fixed by configuration for the whole run.
	var users UserResolver
	if o.options.AutoMapUsers {
		users = NewLiveResolver(o.internal, o.external)
	} else {
		userMappings, err := o.repo.UserMappings(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading user mappings: %w", err)
		}
		users = NewTableResolver(userMappings)
	}

	return &phaseState{
		artifacts:  NewArtifactIndex(artifactMappings),
		fields:     NewFieldValueIndex(fieldValues),
		translator: NewCustomFieldTranslator(NewCustomPropertyIndex(props, propValues)),
		users:      users,
		releases:   NewReleaseResolver(o.internal, o.external, NewArtifactIndex(releaseMappings)),
		defs:       defs,
	}, nil
}

func (o *Orchestrator) exportPhase(ctx context.Context, projectID int, project *models.ExternalProject, state *phaseState, lastSync *time.Time, report *Report) error {
	createdAfter := minimumEpoch
	if lastSync != nil && lastSync.After(minimumEpoch) {
		createdAfter = *lastSync
	}

	total, err := o.internal.IncidentCount(ctx, projectID, createdAfter)
	if err != nil {
		logging.Error("failed to count incidents, skipping project",
			"project_id", projectID, "error", err)
		return errSkipProject
	}

	incidents, err := FetchAllCounted(total, o.pageSize, func(startRow, count int) ([]models.Incident, error) {
		return o.internal.Incidents(ctx, projectID, createdAfter, startRow, count)
	})
	if err != nil {
		logging.Error("failed to list incidents, skipping project",
			"project_id", projectID, "error", err)
		return errSkipProject
	}

	logging.Info("export phase", "project_id", projectID, "incidents", len(incidents), "created_after", createdAfter)

	exporter := NewExporter(o.internal, o.external, project,
		state.artifacts, state.fields, state.translator, state.users, state.releases)

	var added, removed []models.ArtifactMapping
	for _, incident := range incidents {
		res := exporter.ProcessIncident(ctx, projectID, incident)
		report.Export.Add(res)
		report.Warnings += res.Warnings
		added = append(added, res.NewMappings...)
		removed = append(removed, res.RemovedMappings...)
	}
	added = append(added, state.releases.NewMappings()...)
	removed = append(removed, state.releases.RemovedMappings()...)

	return o.checkpoint(ctx, projectID, "export", added, removed)
}

func (o *Orchestrator) importPhase(ctx context.Context, projectID int, project *models.ExternalProject, state *phaseState, lastSync *time.Time, report *Report) error {
	since := importFloor(lastSync, o.options.TimeOffsetHours)

	issues, err := FetchAllUntilEmpty(o.pageSize, func(offset, limit int) ([]models.Issue, error) {
		return o.external.Issues(ctx, project.ID, since, offset, limit)
	})
	if err != nil {
		logging.Error("failed to list external issues, skipping project",
			"project_id", projectID, "error", err)
		return errSkipProject
	}

	logging.Info("import phase", "project_id", projectID, "issues", len(issues), "updated_since", since)

	importer := NewImporter(o.internal, o.external,
		state.artifacts, state.fields, state.translator, state.users, state.releases,
		state.defs, o.options.CreateNewItemsInSpira)

	var added, removed []models.ArtifactMapping
	for _, issue := range issues {
		// The list endpoint omits journals, relations and attachments; fetch
		// the full detail per issue.
		detail, err := o.external.IssueByID(ctx, issue.ID)
		if err != nil {
			logging.Error("failed to fetch issue detail",
				"project_id", projectID, "issue_id", issue.ID, "error", err)
			report.Import.Add(failed(err))
			continue
		}

		res := importer.ProcessExternalIssue(ctx, projectID, *detail)
		report.Import.Add(res)
		report.Warnings += res.Warnings
		added = append(added, res.NewMappings...)
		removed = append(removed, res.RemovedMappings...)
	}
	added = append(added, state.releases.NewMappings()...)
	removed = append(removed, state.releases.RemovedMappings()...)

	return o.checkpoint(ctx, projectID, "import", added, removed)
}

// checkpoint persists a phase's accumulated mapping deltas in one batched
// write. A failed checkpoint is run-fatal: losing these mappings would
// duplicate artifacts on the next run.
func (o *Orchestrator) checkpoint(ctx context.Context, projectID int, phase string, added, removed []models.ArtifactMapping) error {
	if len(added) > 0 {
		if err := o.repo.AddArtifactMappings(ctx, added); err != nil {
			return fmt.Errorf("persisting %s phase mappings for project %d: %w", phase, projectID, err)
		}
	}
	if len(removed) > 0 {
		if err := o.repo.RemoveArtifactMappings(ctx, removed); err != nil {
			return fmt.Errorf("removing stale mappings after %s phase for project %d: %w", phase, projectID, err)
		}
	}
	logging.Debug("mapping checkpoint", "project_id", projectID, "phase", phase,
		"added", len(added), "removed", len(removed))
	return nil
}

// importFloor shifts the last-sync date back by the configured hour offset
// (compensating for clock skew between the two servers) and clamps it to the
// minimum epoch.
func importFloor(lastSync *time.Time, offsetHours int) time.Time {
	if lastSync == nil {
		return minimumEpoch
	}
	shifted := lastSync.Add(-time.Duration(offsetHours) * time.Hour)
	if shifted.Before(minimumEpoch) {
		return minimumEpoch
	}
	return shifted
}
