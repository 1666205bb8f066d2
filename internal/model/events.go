package model

import (
	"io"

	"cliniccore/internal/cursor"
	"cliniccore/pkg/domain"
)

// Every model event names the operation that produced it, so the
// per-operation cleanup subscriber can tell its own events from another
// operation's.

// PatientsLoadedEvent carries the cursor for a completed patient query.
// Ownership of the cursor passes to the subscriber; if no subscriber
// exists, the cleanup subscriber closes it.
type PatientsLoadedEvent struct {
	Op     uint64
	Cursor cursor.TypedCursor[*domain.Patient]
}

func (e PatientsLoadedEvent) OperationID() uint64 { return e.Op }

func (e PatientsLoadedEvent) Resource() io.Closer { return e.Cursor }

// SinglePatientLoadedEvent reports a single-patient load. A missing patient
// is an empty result (nil Patient), not an error.
type SinglePatientLoadedEvent struct {
	Op      uint64
	Patient *domain.Patient
}

func (e SinglePatientLoadedEvent) OperationID() uint64 { return e.Op }

// PatientCreatedEvent reports a successful local patient creation.
type PatientCreatedEvent struct {
	Op      uint64
	Patient domain.Patient
}

func (e PatientCreatedEvent) OperationID() uint64 { return e.Op }

// PatientUpdatedEvent reports a successful local patient update.
type PatientUpdatedEvent struct {
	Op      uint64
	Patient domain.Patient
}

func (e PatientUpdatedEvent) OperationID() uint64 { return e.Op }

// OrderAddedEvent reports a successful order write.
type OrderAddedEvent struct {
	Op    uint64
	Order domain.Order
}

func (e OrderAddedEvent) OperationID() uint64 { return e.Op }

// OrderDeletedEvent reports a successful order deletion.
type OrderDeletedEvent struct {
	Op   uint64
	UUID string
}

func (e OrderDeletedEvent) OperationID() uint64 { return e.Op }

// EncounterAddedEvent reports a stored encounter with its observations.
type EncounterAddedEvent struct {
	Op        uint64
	Encounter domain.Encounter
}

func (e EncounterAddedEvent) OperationID() uint64 { return e.Op }

// ObsDeletedEvent reports a voided observation.
type ObsDeletedEvent struct {
	Op   uint64
	UUID string
}

func (e ObsDeletedEvent) OperationID() uint64 { return e.Op }

// ObsDenormalizedEvent reports a refreshed latest-observation table for one
// patient.
type ObsDenormalizedEvent struct {
	Op          uint64
	PatientUUID string
}

func (e ObsDenormalizedEvent) OperationID() uint64 { return e.Op }

// CrudFailedEvent is the terminal event of a failed operation. Failures are
// reported through the bus, never swallowed.
type CrudFailedEvent struct {
	Op        uint64
	Operation string
	Err       error
}

func (e CrudFailedEvent) OperationID() uint64 { return e.Op }
