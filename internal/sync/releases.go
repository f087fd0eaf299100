package sync

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jwhitfield/trackbridge/internal/logging"
	"github.com/jwhitfield/trackbridge/pkg/models"
)

// versionNumberMaxLen is the length constraint of the internal system's
// version-number column; imported version names are truncated to fit.
const versionNumberMaxLen = 16

// ReleaseResolver resolves release/version identity across the two systems,
// creating the missing counterpart and recording the mapping the first time a
// release is seen. One resolver lives for one phase of one project so a
// release referenced by several artifacts in the same run is created exactly
// once; the accumulated mapping deltas are flushed by the orchestrator at
// phase end.
type ReleaseResolver struct {
	internal InternalClient
	external ExternalClient
	index    *ArtifactIndex

	createdByInternal map[int]models.ArtifactMapping
	createdByExternal map[string]models.ArtifactMapping
	cleared           map[int]bool
	removed           []models.ArtifactMapping
}

// NewReleaseResolver builds a resolver over the release mappings loaded at
// phase start.
func NewReleaseResolver(internal InternalClient, external ExternalClient, index *ArtifactIndex) *ReleaseResolver {
	return &ReleaseResolver{
		internal:          internal,
		external:          external,
		index:             index,
		createdByInternal: make(map[int]models.ArtifactMapping),
		createdByExternal: make(map[string]models.ArtifactMapping),
		cleared:           make(map[int]bool),
	}
}

// ResolveExternal returns the external version id for an internal release,
// creating the external version and a new mapping when none exists yet.
//
// When verify is true and a mapping already exists, the mapped version is
// checked for existence on the external side; a vanished version clears the
// mapping (recorded as a removal) and resolves to nil so the referencing
// field is left unset rather than dangling.
func (r *ReleaseResolver) ResolveExternal(ctx context.Context, projectID, externalProjectID, releaseID int, verify bool) (*int, error) {
	// The immutable phase index still holds mappings cleared earlier in the
	// same phase; resolve those to nil without re-verifying.
	if r.cleared[releaseID] {
		return nil, nil
	}

	mapping, ok := r.index.ByInternalID(releaseID)
	if !ok {
		mapping, ok = r.createdByInternal[releaseID]
	}

	if ok {
		versionID, err := strconv.Atoi(mapping.ExternalKey)
		if err != nil {
			return nil, fmt.Errorf("release mapping for release %d has non-numeric external key %q", releaseID, mapping.ExternalKey)
		}
		if !verify {
			return &versionID, nil
		}

		version, err := r.external.VersionByID(ctx, versionID)
		if err != nil {
			return nil, fmt.Errorf("verifying external version %d: %w", versionID, err)
		}
		if version == nil {
			logging.Warn("mapped external version no longer exists, clearing release mapping",
				"project_id", projectID, "release_id", releaseID, "version_id", versionID)
			r.removed = append(r.removed, mapping)
			r.cleared[releaseID] = true
			delete(r.createdByInternal, releaseID)
			delete(r.createdByExternal, mapping.ExternalKey)
			return nil, nil
		}
		return &versionID, nil
	}

	release, err := r.internal.ReleaseByID(ctx, projectID, releaseID)
	if err != nil {
		return nil, fmt.Errorf("fetching release %d: %w", releaseID, err)
	}

	version, err := r.external.CreateVersion(ctx, externalProjectID, &models.Version{
		Name:    release.VersionNumber + " - " + release.Name,
		DueDate: release.EndDate,
	})
	if err != nil {
		return nil, fmt.Errorf("creating external version for release %d: %w", releaseID, err)
	}

	mapping = models.ArtifactMapping{
		ProjectID:    projectID,
		ArtifactType: models.ArtifactTypeRelease,
		InternalID:   releaseID,
		ExternalKey:  strconv.Itoa(version.ID),
	}
	r.createdByInternal[releaseID] = mapping
	r.createdByExternal[mapping.ExternalKey] = mapping
	logging.Info("created external version for unmapped release",
		"project_id", projectID, "release_id", releaseID, "version_id", version.ID)
	return &version.ID, nil
}

// ResolveInternal returns the internal release id for an external version,
// creating an internal release and a new mapping when none exists yet. The
// version number is the external version's name truncated to the internal
// column length.
func (r *ReleaseResolver) ResolveInternal(ctx context.Context, projectID, versionID int) (*int, error) {
	key := strconv.Itoa(versionID)

	mapping, ok := r.index.ByExternalKey(key)
	if !ok {
		mapping, ok = r.createdByExternal[key]
	}
	if ok {
		id := mapping.InternalID
		return &id, nil
	}

	version, err := r.external.VersionByID(ctx, versionID)
	if err != nil {
		return nil, fmt.Errorf("fetching external version %d: %w", versionID, err)
	}
	if version == nil {
		return nil, fmt.Errorf("external version %d not found", versionID)
	}

	versionNumber := version.Name
	if len(versionNumber) > versionNumberMaxLen {
		versionNumber = versionNumber[:versionNumberMaxLen]
	}

	release, err := r.internal.CreateRelease(ctx, &models.Release{
		ProjectID:     projectID,
		Name:          version.Name,
		VersionNumber: versionNumber,
		Active:        true,
		StartDate:     version.DueDate,
		EndDate:       version.DueDate,
	})
	if err != nil {
		return nil, fmt.Errorf("creating release for external version %d: %w", versionID, err)
	}

	mapping = models.ArtifactMapping{
		ProjectID:    projectID,
		ArtifactType: models.ArtifactTypeRelease,
		InternalID:   release.ID,
		ExternalKey:  key,
	}
	r.createdByInternal[release.ID] = mapping
	r.createdByExternal[key] = mapping
	logging.Info("created internal release for unmapped external version",
		"project_id", projectID, "release_id", release.ID, "version_id", versionID)
	return &release.ID, nil
}

// NewMappings returns the release mappings created during the phase.
func (r *ReleaseResolver) NewMappings() []models.ArtifactMapping {
	out := make([]models.ArtifactMapping, 0, len(r.createdByInternal))
	for _, m := range r.createdByInternal {
		out = append(out, m)
	}
	return out
}

// RemovedMappings returns the stale release mappings cleared during the phase.
func (r *ReleaseResolver) RemovedMappings() []models.ArtifactMapping {
	return r.removed
}
