package store

// Schema shared by the sqlite and postgres drivers. Timestamps are stored
// as millisecond epoch integers so the two backends and the sync protocol
// agree on representation; zero-vs-null distinctions matter only for the
// sync state row.
var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS locations (
		uuid TEXT PRIMARY KEY,
		parent_uuid TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS patients (
		uuid TEXT PRIMARY KEY,
		id TEXT NOT NULL DEFAULT '',
		given_name TEXT NOT NULL DEFAULT '',
		family_name TEXT NOT NULL DEFAULT '',
		sex TEXT NOT NULL DEFAULT '',
		birthdate_millis BIGINT,
		location_uuid TEXT NOT NULL DEFAULT '',
		updated_millis BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_patients_location ON patients (location_uuid)`,
	`CREATE TABLE IF NOT EXISTS orders (
		uuid TEXT PRIMARY KEY,
		patient_uuid TEXT NOT NULL,
		instructions TEXT NOT NULL DEFAULT '',
		start_millis BIGINT NOT NULL DEFAULT 0,
		stop_millis BIGINT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_patient ON orders (patient_uuid)`,
	`CREATE TABLE IF NOT EXISTS encounters (
		uuid TEXT PRIMARY KEY,
		patient_uuid TEXT NOT NULL,
		provider_uuid TEXT NOT NULL DEFAULT '',
		time_millis BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS observations (
		uuid TEXT PRIMARY KEY,
		patient_uuid TEXT NOT NULL,
		encounter_uuid TEXT NOT NULL DEFAULT '',
		concept_uuid TEXT NOT NULL,
		obs_type TEXT NOT NULL DEFAULT '',
		value TEXT NOT NULL DEFAULT '',
		time_millis BIGINT NOT NULL DEFAULT 0,
		voided INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_observations_patient ON observations (patient_uuid)`,
	`CREATE TABLE IF NOT EXISTS obs_latest (
		patient_uuid TEXT NOT NULL,
		concept_uuid TEXT NOT NULL,
		obs_uuid TEXT NOT NULL,
		obs_type TEXT NOT NULL DEFAULT '',
		value TEXT NOT NULL DEFAULT '',
		time_millis BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (patient_uuid, concept_uuid)
	)`,
	`CREATE TABLE IF NOT EXISTS sync_state (
		id INTEGER PRIMARY KEY,
		full_sync_start_millis BIGINT,
		full_sync_end_millis BIGINT,
		sync_token TEXT NOT NULL DEFAULT ''
	)`,
	`INSERT INTO sync_state (id) VALUES (1) ON CONFLICT (id) DO NOTHING`,
}

var dataTables = []string{"locations", "patients", "orders", "encounters", "observations", "obs_latest"}
