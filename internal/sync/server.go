package sync

import (
	"context"

	"cliniccore/pkg/domain"
)

// Server is the remote record server as the sync engine sees it. A since
// token of "" requests a full snapshot; otherwise the server returns only
// changes after the token. Each delta carries the token to resume from
// next time. Tokens are global, not per-resource: the engine persists one
// token for the whole sync and replays it as since for every resource, so
// implementations must hand back tokens valid across all four delta
// endpoints (e.g. a server-side change sequence number).
type Server interface {
	LocationDelta(ctx context.Context, since string) (LocationDelta, error)
	PatientDelta(ctx context.Context, since string) (PatientDelta, error)
	OrderDelta(ctx context.Context, since string) (OrderDelta, error)
	EncounterDelta(ctx context.Context, since string) (EncounterDelta, error)
}

// LocationDelta is the server's answer for the locations resource.
type LocationDelta struct {
	Upserts []domain.LocationRecord `json:"upserts"`
	Deleted []string                `json:"deleted,omitempty"`
	Token   string                  `json:"token"`
}

// PatientDelta is the server's answer for the patients resource.
type PatientDelta struct {
	Upserts []domain.Patient `json:"upserts"`
	Deleted []string         `json:"deleted,omitempty"`
	Token   string           `json:"token"`
}

// OrderDelta is the server's answer for the orders resource.
type OrderDelta struct {
	Upserts []domain.Order `json:"upserts"`
	Deleted []string       `json:"deleted,omitempty"`
	Token   string         `json:"token"`
}

// EncounterDelta is the server's answer for the encounters resource.
// Encounters are append-only on the server, so there is no deleted list.
type EncounterDelta struct {
	Upserts []domain.Encounter `json:"upserts"`
	Token   string             `json:"token"`
}
