// Package mapping persists the cross-system identity tables in a local
// SQLite database.
package mapping

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/jwhitfield/trackbridge/pkg/models"
)

// Store implements the mapping repository over a SQLite database. The unique
// indexes on artifact_mappings enforce the "never created twice" invariant at
// the storage layer.
type Store struct {
	db *sqlx.DB
}

// NewStore opens (or creates) the mapping database at dbPath, enables WAL
// mode, and runs any pending schema migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening mapping db: %w", err)
	}

	// WAL keeps the db readable while a checkpoint write is in flight.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any outstanding
// migrations in order.
func (s *Store) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		if err := s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

// ProjectMappings lists every configured project pair.
func (s *Store) ProjectMappings(ctx context.Context) ([]models.ProjectMapping, error) {
	var out []models.ProjectMapping
	err := s.db.SelectContext(ctx, &out,
		"SELECT internal_project_id, external_identifier FROM project_mappings ORDER BY internal_project_id")
	if err != nil {
		return nil, fmt.Errorf("querying project mappings: %w", err)
	}
	return out, nil
}

// ArtifactMappings lists a project's identity links for one artifact type.
func (s *Store) ArtifactMappings(ctx context.Context, projectID int, artifactType models.ArtifactType) ([]models.ArtifactMapping, error) {
	var out []models.ArtifactMapping
	err := s.db.SelectContext(ctx, &out, `
		SELECT project_id, artifact_type, internal_id, external_key
		FROM artifact_mappings
		WHERE project_id = ? AND artifact_type = ?
		ORDER BY internal_id`, projectID, int(artifactType))
	if err != nil {
		return nil, fmt.Errorf("querying artifact mappings for project %d: %w", projectID, err)
	}
	return out, nil
}

// FieldValueMappings lists a project's enumerated-field translation tables.
func (s *Store) FieldValueMappings(ctx context.Context, projectID int) ([]models.FieldValueMapping, error) {
	var out []models.FieldValueMapping
	err := s.db.SelectContext(ctx, &out, `
		SELECT project_id, kind, internal_id, external_key
		FROM field_value_mappings
		WHERE project_id = ?
		ORDER BY kind, internal_id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("querying field value mappings for project %d: %w", projectID, err)
	}
	return out, nil
}

// CustomPropertyMappings lists a project's custom property pairings.
func (s *Store) CustomPropertyMappings(ctx context.Context, projectID int, artifactType models.ArtifactType) ([]models.CustomPropertyMapping, error) {
	var out []models.CustomPropertyMapping
	err := s.db.SelectContext(ctx, &out, `
		SELECT project_id, artifact_type, property_id, external_field_key
		FROM custom_property_mappings
		WHERE project_id = ? AND artifact_type = ?
		ORDER BY property_id`, projectID, int(artifactType))
	if err != nil {
		return nil, fmt.Errorf("querying custom property mappings for project %d: %w", projectID, err)
	}
	return out, nil
}

// CustomPropertyValueMappings lists a project's list-value translations.
func (s *Store) CustomPropertyValueMappings(ctx context.Context, projectID int) ([]models.CustomPropertyValueMapping, error) {
	var out []models.CustomPropertyValueMapping
	err := s.db.SelectContext(ctx, &out, `
		SELECT project_id, property_id, internal_value_id, external_value_key
		FROM custom_property_value_mappings
		WHERE project_id = ?
		ORDER BY property_id, internal_value_id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("querying custom property value mappings for project %d: %w", projectID, err)
	}
	return out, nil
}

// UserMappings lists the persisted user identity links.
func (s *Store) UserMappings(ctx context.Context) ([]models.UserMapping, error) {
	var out []models.UserMapping
	err := s.db.SelectContext(ctx, &out,
		"SELECT internal_user_id, external_user_key FROM user_mappings ORDER BY internal_user_id")
	if err != nil {
		return nil, fmt.Errorf("querying user mappings: %w", err)
	}
	return out, nil
}

// AddArtifactMappings inserts a batch of identity links inside one
// transaction. Re-inserting an existing link is a no-op, which keeps
// checkpoint writes idempotent across re-runs.
func (s *Store) AddArtifactMappings(ctx context.Context, mappings []models.ArtifactMapping) error {
	if len(mappings) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT OR IGNORE INTO artifact_mappings (project_id, artifact_type, internal_id, external_key)
		VALUES (?, ?, ?, ?)`

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for _, m := range mappings {
		if _, err := stmt.ExecContext(ctx, m.ProjectID, int(m.ArtifactType), m.InternalID, m.ExternalKey); err != nil {
			return fmt.Errorf("inserting mapping (project %d, internal %d): %w", m.ProjectID, m.InternalID, err)
		}
	}
	return tx.Commit()
}

// RemoveArtifactMappings deletes a batch of identity links inside one
// transaction. Used only for stale release un-mapping.
func (s *Store) RemoveArtifactMappings(ctx context.Context, mappings []models.ArtifactMapping) error {
	if len(mappings) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	const query = `
		DELETE FROM artifact_mappings
		WHERE project_id = ? AND artifact_type = ? AND internal_id = ?`

	for _, m := range mappings {
		if _, err := tx.ExecContext(ctx, query, m.ProjectID, int(m.ArtifactType), m.InternalID); err != nil {
			return fmt.Errorf("deleting mapping (project %d, internal %d): %w", m.ProjectID, m.InternalID, err)
		}
	}
	return tx.Commit()
}

// AddProjectMapping registers a project pair. Operator tooling seeds these.
func (s *Store) AddProjectMapping(ctx context.Context, m models.ProjectMapping) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO project_mappings (internal_project_id, external_identifier)
		VALUES (?, ?)`, m.InternalProjectID, m.ExternalIdentifier)
	if err != nil {
		return fmt.Errorf("inserting project mapping: %w", err)
	}
	return nil
}

// AddFieldValueMappings seeds enumerated-field translations for a project.
func (s *Store) AddFieldValueMappings(ctx context.Context, mappings []models.FieldValueMapping) error {
	if len(mappings) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, m := range mappings {
		_, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO field_value_mappings (project_id, kind, internal_id, external_key)
			VALUES (?, ?, ?, ?)`, m.ProjectID, string(m.Kind), m.InternalID, m.ExternalKey)
		if err != nil {
			return fmt.Errorf("inserting field value mapping: %w", err)
		}
	}
	return tx.Commit()
}

// AddCustomPropertyMappings seeds custom property pairings for a project.
func (s *Store) AddCustomPropertyMappings(ctx context.Context, mappings []models.CustomPropertyMapping) error {
	if len(mappings) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, m := range mappings {
		_, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO custom_property_mappings (project_id, artifact_type, property_id, external_field_key)
			VALUES (?, ?, ?, ?)`, m.ProjectID, int(m.ArtifactType), m.PropertyID, m.ExternalFieldKey)
		if err != nil {
			return fmt.Errorf("inserting custom property mapping: %w", err)
		}
	}
	return tx.Commit()
}

// AddCustomPropertyValueMappings seeds list-value translations for a project.
func (s *Store) AddCustomPropertyValueMappings(ctx context.Context, mappings []models.CustomPropertyValueMapping) error {
	if len(mappings) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, m := range mappings {
		_, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO custom_property_value_mappings (project_id, property_id, internal_value_id, external_value_key)
			VALUES (?, ?, ?, ?)`, m.ProjectID, m.PropertyID, m.InternalValueID, m.ExternalValueKey)
		if err != nil {
			return fmt.Errorf("inserting custom property value mapping: %w", err)
		}
	}
	return tx.Commit()
}

// AddUserMappings seeds user identity links.
func (s *Store) AddUserMappings(ctx context.Context, mappings []models.UserMapping) error {
	if len(mappings) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, m := range mappings {
		_, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO user_mappings (internal_user_id, external_user_key)
			VALUES (?, ?)`, m.InternalUserID, m.ExternalUserKey)
		if err != nil {
			return fmt.Errorf("inserting user mapping: %w", err)
		}
	}
	return tx.Commit()
}
