// Package domain defines the entity types and selection filters shared by
// the local store, the application model and the sync engine. Types here are
// plain values with no I/O dependencies.
package domain

import "time"

// Patient is a person under care at the site.
type Patient struct {
	UUID         string     `json:"uuid"`
	ID           string     `json:"id"` // human-readable chart identifier, e.g. "MSF.1234"
	GivenName    string     `json:"given_name"`
	FamilyName   string     `json:"family_name"`
	Sex          string     `json:"sex,omitempty"`
	Birthdate    *time.Time `json:"birthdate,omitempty"`
	LocationUUID string     `json:"location_uuid,omitempty"` // current assigned location
	UpdatedAt    time.Time  `json:"updated_at"`
}

// LocationRecord is the raw shape of a location row as stored locally and as
// delivered by the server. Name may carry bracketed annotations (locale
// overrides, the default-location marker) which are interpreted by the
// forest builder, not here.
type LocationRecord struct {
	UUID        string `json:"uuid"`
	ParentUUID  string `json:"parent_uuid,omitempty"` // empty denotes a root
	Name        string `json:"name"`
	NumPatients int    `json:"num_patients"`
}

// Obs is a single observation: one value for one concept at one time.
type Obs struct {
	UUID          string    `json:"uuid"`
	PatientUUID   string    `json:"patient_uuid"`
	EncounterUUID string    `json:"encounter_uuid"`
	ConceptUUID   string    `json:"concept_uuid"`
	Type          string    `json:"type"` // coded|numeric|text|date
	Value         string    `json:"value"`
	Time          time.Time `json:"time"`
	Voided        bool      `json:"voided,omitempty"`
}

// Encounter groups the observations captured in one patient interaction.
type Encounter struct {
	UUID         string    `json:"uuid"`
	PatientUUID  string    `json:"patient_uuid"`
	ProviderUUID string    `json:"provider_uuid,omitempty"`
	Time         time.Time `json:"time"`
	Observations []Obs     `json:"observations,omitempty"`
}

// Order is a treatment instruction for a patient, active between Start and
// Stop (nil Stop means open-ended).
type Order struct {
	UUID         string     `json:"uuid"`
	PatientUUID  string     `json:"patient_uuid"`
	Instructions string     `json:"instructions"`
	Start        time.Time  `json:"start"`
	Stop         *time.Time `json:"stop,omitempty"`
}

// SyncState holds the persisted synchronization bookkeeping. The start/end
// pair is deliberately two timestamps rather than a boolean: a data wipe in
// the middle of a full sync must leave the system looking "never synced".
type SyncState struct {
	FullSyncStart *time.Time `json:"full_sync_start,omitempty"`
	FullSyncEnd   *time.Time `json:"full_sync_end,omitempty"`
	SyncToken     string     `json:"sync_token,omitempty"` // server token for incremental pulls
}

// Ready reports whether a complete, uninterrupted full sync has ever
// finished: both timestamps set and end not before start.
func (s SyncState) Ready() bool {
	return s.FullSyncStart != nil && s.FullSyncEnd != nil && !s.FullSyncEnd.Before(*s.FullSyncStart)
}
