// Package store implements the local relational store the client runs
// against while offline. Three drivers share one interface: an embedded
// sqlite file (the on-device default), postgres for shared deployments, and
// an in-memory store for tests and ephemeral runs.
package store

import (
	"context"
	"fmt"
	"os"

	"cliniccore/internal/cursor"
	"cliniccore/internal/logging"
	"cliniccore/pkg/domain"
)

// Store is the local persistence surface consumed by the application model
// and the sync engine. Replace* methods swap a whole resource set (full
// sync); Upsert*/Delete* apply incremental deltas.
type Store interface {
	// Locations. Patient counts are derived from the local patients table,
	// never stored on the location rows.
	LocationRecords(ctx context.Context) ([]domain.LocationRecord, error)
	PatientCountsByLocation(ctx context.Context) (map[string]int, error)
	UpsertLocations(ctx context.Context, recs []domain.LocationRecord) error
	DeleteLocations(ctx context.Context, uuids []string) error
	ReplaceLocations(ctx context.Context, recs []domain.LocationRecord) error

	// Patients. QueryPatients returns a lazy cursor ordered by family
	// name, given name, then chart id; ownership passes to the caller.
	QueryPatients(ctx context.Context, filter domain.PatientFilter) (cursor.TypedCursor[*domain.Patient], error)
	GetPatient(ctx context.Context, uuid string) (*domain.Patient, error)
	UpsertPatients(ctx context.Context, ps []domain.Patient) error
	DeletePatients(ctx context.Context, uuids []string) error
	ReplacePatients(ctx context.Context, ps []domain.Patient) error

	// Orders.
	OrdersForPatient(ctx context.Context, patientUUID string) ([]domain.Order, error)
	UpsertOrders(ctx context.Context, os []domain.Order) error
	DeleteOrders(ctx context.Context, uuids []string) error
	ReplaceOrders(ctx context.Context, os []domain.Order) error

	// Encounters and observations. AddEncounters stores the encounters and
	// their observations; LatestObs reads the denormalized latest value per
	// concept maintained by DenormalizeObservations.
	AddEncounters(ctx context.Context, encs []domain.Encounter) error
	ReplaceEncounters(ctx context.Context, encs []domain.Encounter) error
	DeleteObs(ctx context.Context, obsUUID string) error
	LatestObs(ctx context.Context, patientUUID string) ([]domain.Obs, error)
	DenormalizeObservations(ctx context.Context, patientUUID string) error
	PatientUUIDsWithObs(ctx context.Context) ([]string, error)

	// Sync bookkeeping: a single persisted row read to compute readiness,
	// written only by the sync subsystem.
	SyncState(ctx context.Context) (domain.SyncState, error)
	SetSyncState(ctx context.Context, s domain.SyncState) error

	// Clear wipes all local data including the sync state, leaving the
	// store looking never synced. Used on logout and account switch.
	Clear(ctx context.Context) error
	Close() error
}

// Driver identifies a concrete store implementation.
type Driver string

const (
	DriverMemory   Driver = "memory"   // in-memory only (tests / ephemeral)
	DriverSQLite   Driver = "sqlite"   // embedded sqlite file
	DriverPostgres Driver = "postgres" // PostgreSQL server
)

// Open selects a backend using environment variables. Defaults to sqlite
// when unset.
//
//	CLINICCORE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	CLINICCORE_SQLITE_PATH: path to sqlite file (default ./cliniccore.db)
//	CLINICCORE_POSTGRES_DSN: postgres DSN when driver=postgres
func Open(log logging.Logger) (Store, error) {
	driver := os.Getenv("CLINICCORE_STORAGE_DRIVER")
	if driver == "" {
		driver = string(DriverSQLite)
	}
	switch Driver(driver) {
	case DriverMemory:
		return NewMemory(), nil
	case DriverSQLite:
		return OpenSQLite(os.Getenv("CLINICCORE_SQLITE_PATH"), log)
	case DriverPostgres:
		return OpenPostgres(os.Getenv("CLINICCORE_POSTGRES_DSN"), log)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
