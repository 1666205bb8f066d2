// Package attach stores raw encounter form payloads outside the relational
// store: the bytes a clinician actually submitted, kept for audit and
// re-upload. Three drivers share one interface: local filesystem (the
// on-device default), S3/MinIO for sites with an uplink, and memory for
// tests.
package attach

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// Driver identifies a concrete attachment backend.
type Driver string

const (
	DriverFilesystem Driver = "fs"     // local filesystem (default)
	DriverS3         Driver = "s3"     // S3 / MinIO compatible
	DriverMemory     Driver = "memory" // in-memory (tests)
)

// Info describes a stored attachment.
type Info struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size_bytes"`
	ContentType  string    `json:"content_type,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// Store is the attachment storage surface.
type Store interface {
	// Put stores a new attachment; it fails if the key already exists.
	Put(ctx context.Context, key string, data []byte, contentType string) (Info, error)
	// Get returns metadata and content.
	Get(ctx context.Context, key string) (Info, []byte, error)
	// Delete removes the attachment, reporting whether it existed.
	Delete(ctx context.Context, key string) (bool, error)
	// List returns attachments whose keys start with prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]Info, error)
	Driver() Driver
}

// ErrNotFound is returned when no attachment exists for a key.
var ErrNotFound = errors.New("attach: not found")

// ErrExists is returned by Put when the key is already stored.
var ErrExists = errors.New("attach: already exists")

// Open selects a Store implementation using environment variables.
//
//	CLINICCORE_ATTACH_DRIVER: fs|s3|memory (default fs)
//	CLINICCORE_ATTACH_FS_ROOT: directory root when driver=fs (default ./attachments)
//	(S3 specific variables documented in s3.go)
func Open(ctx context.Context) (Store, error) {
	driver := os.Getenv("CLINICCORE_ATTACH_DRIVER")
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverFilesystem:
		return NewFilesystem(os.Getenv("CLINICCORE_ATTACH_FS_ROOT"))
	case DriverS3:
		return OpenS3FromEnv(ctx)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown attach driver %s", driver)
	}
}

// EncounterPayloadKey maps an encounter uuid to its archived payload key.
func EncounterPayloadKey(encounterUUID string) string {
	return "encounters/" + encounterUUID + ".xml"
}

// ArchiveEncounterPayload stores the raw submitted form payload for an
// encounter. Re-archiving the same encounter is a no-op.
func ArchiveEncounterPayload(ctx context.Context, s Store, encounterUUID string, payload []byte) error {
	_, err := s.Put(ctx, EncounterPayloadKey(encounterUUID), payload, "application/xml")
	if err != nil && errors.Is(err, ErrExists) {
		return nil
	}
	return err
}
