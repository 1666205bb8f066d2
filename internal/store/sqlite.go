package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"cliniccore/internal/logging"
)

// OpenSQLite opens (creating if needed) the embedded sqlite store at path.
// An empty path defaults to ./cliniccore.db.
func OpenSQLite(path string, log logging.Logger) (Store, error) {
	if path == "" {
		path = "cliniccore.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// database/sql pooling plus sqlite's single-writer model interact
	// badly under concurrent writes; one connection keeps writes serial.
	db.SetMaxOpenConns(1)
	return newSQLStore(db, DriverSQLite, log)
}
