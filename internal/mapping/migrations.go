package mapping

// migration is one versioned schema step. Steps run in order inside
// runMigrations; each records its own version row.
type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY,
	applied_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS project_mappings (
	internal_project_id INTEGER PRIMARY KEY,
	external_identifier TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS artifact_mappings (
	project_id INTEGER NOT NULL,
	artifact_type INTEGER NOT NULL,
	internal_id INTEGER NOT NULL,
	external_key TEXT NOT NULL,
	PRIMARY KEY (project_id, artifact_type, internal_id)
);

-- One external artifact maps to at most one internal artifact. Mappings with
-- an empty external key ("no external equivalent resolved") are exempt.
CREATE UNIQUE INDEX IF NOT EXISTS idx_artifact_mappings_external
	ON artifact_mappings (project_id, artifact_type, external_key)
	WHERE external_key <> '';

CREATE TABLE IF NOT EXISTS field_value_mappings (
	project_id INTEGER NOT NULL,
	kind TEXT NOT NULL,
	internal_id INTEGER NOT NULL,
	external_key TEXT NOT NULL,
	PRIMARY KEY (project_id, kind, internal_id)
);

CREATE TABLE IF NOT EXISTS custom_property_mappings (
	project_id INTEGER NOT NULL,
	artifact_type INTEGER NOT NULL,
	property_id INTEGER NOT NULL,
	external_field_key TEXT NOT NULL,
	PRIMARY KEY (project_id, artifact_type, property_id)
);

CREATE TABLE IF NOT EXISTS custom_property_value_mappings (
	project_id INTEGER NOT NULL,
	property_id INTEGER NOT NULL,
	internal_value_id INTEGER NOT NULL,
	external_value_key TEXT NOT NULL,
	PRIMARY KEY (project_id, property_id, internal_value_id)
);

CREATE TABLE IF NOT EXISTS user_mappings (
	internal_user_id INTEGER PRIMARY KEY,
	external_user_key TEXT NOT NULL
);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
