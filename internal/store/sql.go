package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cliniccore/internal/cursor"
	"cliniccore/internal/logging"
	"cliniccore/pkg/domain"
)

// sqlStore implements Store over database/sql. The sqlite and postgres
// drivers share it; the only dialect difference that matters here is the
// placeholder style, handled by rebind.
type sqlStore struct {
	db     *sql.DB
	driver Driver
	log    logging.Logger
}

var _ Store = (*sqlStore)(nil)

func newSQLStore(db *sql.DB, driver Driver, log logging.Logger) (*sqlStore, error) {
	if log == nil {
		log = logging.Nop()
	}
	s := &sqlStore{db: db, driver: driver, log: log}
	for _, ddl := range schemaDDL {
		if _, err := db.Exec(s.rebind(ddl)); err != nil {
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return s, nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *sqlStore) rebind(q string) string {
	if s.driver != DriverPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func millisPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func fromMillis(m int64) time.Time { return time.UnixMilli(m).UTC() }

func fromMillisNull(m sql.NullInt64) *time.Time {
	if !m.Valid {
		return nil
	}
	t := fromMillis(m.Int64)
	return &t
}

// --- Locations ---

func (s *sqlStore) LocationRecords(ctx context.Context) ([]domain.LocationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT l.uuid, l.parent_uuid, l.name, COUNT(p.uuid)
		FROM locations l LEFT JOIN patients p ON p.location_uuid = l.uuid
		GROUP BY l.uuid, l.parent_uuid, l.name`)
	if err != nil {
		return nil, fmt.Errorf("query locations: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var recs []domain.LocationRecord
	for rows.Next() {
		var r domain.LocationRecord
		if err := rows.Scan(&r.UUID, &r.ParentUUID, &r.Name, &r.NumPatients); err != nil {
			return nil, fmt.Errorf("scan location: %w", err)
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

func (s *sqlStore) PatientCountsByLocation(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT location_uuid, COUNT(*) FROM patients WHERE location_uuid <> '' GROUP BY location_uuid`)
	if err != nil {
		return nil, fmt.Errorf("query patient counts: %w", err)
	}
	defer func() { _ = rows.Close() }()
	counts := make(map[string]int)
	for rows.Next() {
		var uuid string
		var n int
		if err := rows.Scan(&uuid, &n); err != nil {
			return nil, fmt.Errorf("scan patient count: %w", err)
		}
		counts[uuid] = n
	}
	return counts, rows.Err()
}

func (s *sqlStore) UpsertLocations(ctx context.Context, recs []domain.LocationRecord) error {
	q := s.rebind(`INSERT INTO locations (uuid, parent_uuid, name) VALUES (?, ?, ?)
		ON CONFLICT (uuid) DO UPDATE SET parent_uuid = excluded.parent_uuid, name = excluded.name`)
	for _, r := range recs {
		if _, err := s.db.ExecContext(ctx, q, r.UUID, r.ParentUUID, r.Name); err != nil {
			return fmt.Errorf("upsert location %s: %w", r.UUID, err)
		}
	}
	return nil
}

func (s *sqlStore) DeleteLocations(ctx context.Context, uuids []string) error {
	return s.deleteByUUID(ctx, "locations", "uuid", uuids)
}

func (s *sqlStore) ReplaceLocations(ctx context.Context, recs []domain.LocationRecord) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM locations`); err != nil {
		return fmt.Errorf("clear locations: %w", err)
	}
	return s.UpsertLocations(ctx, recs)
}

// --- Patients ---

const patientCols = `uuid, id, given_name, family_name, sex, birthdate_millis, location_uuid, updated_millis`

func (s *sqlStore) QueryPatients(ctx context.Context, filter domain.PatientFilter) (cursor.TypedCursor[*domain.Patient], error) {
	if filter == nil {
		filter = domain.AllFilter{}
	}
	q := s.rebind(`SELECT ` + patientCols + ` FROM patients WHERE ` + filter.Selection() +
		` ORDER BY LOWER(family_name), LOWER(given_name), id, uuid`)
	rows, err := s.db.QueryContext(ctx, q, filter.Args()...)
	if err != nil {
		return nil, fmt.Errorf("query patients: %w", err)
	}
	fetch := func() (*domain.Patient, bool, error) {
		if !rows.Next() {
			return nil, false, rows.Err()
		}
		p, err := scanPatient(rows)
		if err != nil {
			return nil, false, err
		}
		return p, true, nil
	}
	return cursor.NewLazy(fetch, rows.Close), nil
}

func (s *sqlStore) GetPatient(ctx context.Context, uuid string) (*domain.Patient, error) {
	q := s.rebind(`SELECT ` + patientCols + ` FROM patients WHERE uuid = ?`)
	row := s.db.QueryRowContext(ctx, q, uuid)
	p, err := scanPatient(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get patient %s: %w", uuid, err)
	}
	return p, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPatient(r rowScanner) (*domain.Patient, error) {
	var p domain.Patient
	var birth, updated sql.NullInt64
	if err := r.Scan(&p.UUID, &p.ID, &p.GivenName, &p.FamilyName, &p.Sex, &birth, &p.LocationUUID, &updated); err != nil {
		return nil, err
	}
	p.Birthdate = fromMillisNull(birth)
	if updated.Valid {
		p.UpdatedAt = fromMillis(updated.Int64)
	}
	return &p, nil
}

func (s *sqlStore) UpsertPatients(ctx context.Context, ps []domain.Patient) error {
	q := s.rebind(`INSERT INTO patients (` + patientCols + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (uuid) DO UPDATE SET id = excluded.id, given_name = excluded.given_name,
		family_name = excluded.family_name, sex = excluded.sex,
		birthdate_millis = excluded.birthdate_millis, location_uuid = excluded.location_uuid,
		updated_millis = excluded.updated_millis`)
	for _, p := range ps {
		if _, err := s.db.ExecContext(ctx, q, p.UUID, p.ID, p.GivenName, p.FamilyName, p.Sex,
			millisPtr(p.Birthdate), p.LocationUUID, millis(p.UpdatedAt)); err != nil {
			return fmt.Errorf("upsert patient %s: %w", p.UUID, err)
		}
	}
	return nil
}

func (s *sqlStore) DeletePatients(ctx context.Context, uuids []string) error {
	return s.deleteByUUID(ctx, "patients", "uuid", uuids)
}

func (s *sqlStore) ReplacePatients(ctx context.Context, ps []domain.Patient) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM patients`); err != nil {
		return fmt.Errorf("clear patients: %w", err)
	}
	return s.UpsertPatients(ctx, ps)
}

// --- Orders ---

func (s *sqlStore) OrdersForPatient(ctx context.Context, patientUUID string) ([]domain.Order, error) {
	q := s.rebind(`SELECT uuid, patient_uuid, instructions, start_millis, stop_millis
		FROM orders WHERE patient_uuid = ? ORDER BY start_millis, uuid`)
	rows, err := s.db.QueryContext(ctx, q, patientUUID)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Order
	for rows.Next() {
		var o domain.Order
		var start int64
		var stop sql.NullInt64
		if err := rows.Scan(&o.UUID, &o.PatientUUID, &o.Instructions, &start, &stop); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Start = fromMillis(start)
		o.Stop = fromMillisNull(stop)
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *sqlStore) UpsertOrders(ctx context.Context, os []domain.Order) error {
	q := s.rebind(`INSERT INTO orders (uuid, patient_uuid, instructions, start_millis, stop_millis)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (uuid) DO UPDATE SET patient_uuid = excluded.patient_uuid,
		instructions = excluded.instructions, start_millis = excluded.start_millis,
		stop_millis = excluded.stop_millis`)
	for _, o := range os {
		if _, err := s.db.ExecContext(ctx, q, o.UUID, o.PatientUUID, o.Instructions,
			millis(o.Start), millisPtr(o.Stop)); err != nil {
			return fmt.Errorf("upsert order %s: %w", o.UUID, err)
		}
	}
	return nil
}

func (s *sqlStore) DeleteOrders(ctx context.Context, uuids []string) error {
	return s.deleteByUUID(ctx, "orders", "uuid", uuids)
}

func (s *sqlStore) ReplaceOrders(ctx context.Context, os []domain.Order) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM orders`); err != nil {
		return fmt.Errorf("clear orders: %w", err)
	}
	return s.UpsertOrders(ctx, os)
}

// --- Encounters and observations ---

func (s *sqlStore) AddEncounters(ctx context.Context, encs []domain.Encounter) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	encQ := s.rebind(`INSERT INTO encounters (uuid, patient_uuid, provider_uuid, time_millis)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (uuid) DO UPDATE SET patient_uuid = excluded.patient_uuid,
		provider_uuid = excluded.provider_uuid, time_millis = excluded.time_millis`)
	obsQ := s.rebind(`INSERT INTO observations (uuid, patient_uuid, encounter_uuid, concept_uuid, obs_type, value, time_millis, voided)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (uuid) DO UPDATE SET value = excluded.value, obs_type = excluded.obs_type,
		time_millis = excluded.time_millis, voided = excluded.voided`)
	for _, enc := range encs {
		if _, err := tx.ExecContext(ctx, encQ, enc.UUID, enc.PatientUUID, enc.ProviderUUID, millis(enc.Time)); err != nil {
			return fmt.Errorf("insert encounter %s: %w", enc.UUID, err)
		}
		for _, obs := range enc.Observations {
			voided := 0
			if obs.Voided {
				voided = 1
			}
			if _, err := tx.ExecContext(ctx, obsQ, obs.UUID, enc.PatientUUID, enc.UUID,
				obs.ConceptUUID, obs.Type, obs.Value, millis(obs.Time), voided); err != nil {
				return fmt.Errorf("insert obs %s: %w", obs.UUID, err)
			}
		}
	}
	return tx.Commit()
}

func (s *sqlStore) ReplaceEncounters(ctx context.Context, encs []domain.Encounter) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM observations`); err != nil {
		return fmt.Errorf("clear observations: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM encounters`); err != nil {
		return fmt.Errorf("clear encounters: %w", err)
	}
	return s.AddEncounters(ctx, encs)
}

func (s *sqlStore) DeleteObs(ctx context.Context, obsUUID string) error {
	q := s.rebind(`UPDATE observations SET voided = 1 WHERE uuid = ?`)
	if _, err := s.db.ExecContext(ctx, q, obsUUID); err != nil {
		return fmt.Errorf("void obs %s: %w", obsUUID, err)
	}
	return nil
}

func (s *sqlStore) LatestObs(ctx context.Context, patientUUID string) ([]domain.Obs, error) {
	q := s.rebind(`SELECT obs_uuid, concept_uuid, obs_type, value, time_millis
		FROM obs_latest WHERE patient_uuid = ? ORDER BY concept_uuid`)
	rows, err := s.db.QueryContext(ctx, q, patientUUID)
	if err != nil {
		return nil, fmt.Errorf("query latest obs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Obs
	for rows.Next() {
		var o domain.Obs
		var t int64
		if err := rows.Scan(&o.UUID, &o.ConceptUUID, &o.Type, &o.Value, &t); err != nil {
			return nil, fmt.Errorf("scan latest obs: %w", err)
		}
		o.PatientUUID = patientUUID
		o.Time = fromMillis(t)
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *sqlStore) DenormalizeObservations(ctx context.Context, patientUUID string) error {
	q := s.rebind(`SELECT uuid, encounter_uuid, concept_uuid, obs_type, value, time_millis
		FROM observations WHERE patient_uuid = ? AND voided = 0 ORDER BY time_millis, uuid`)
	rows, err := s.db.QueryContext(ctx, q, patientUUID)
	if err != nil {
		return fmt.Errorf("query obs: %w", err)
	}
	latest := make(map[string]domain.Obs)
	for rows.Next() {
		var o domain.Obs
		var t int64
		if err := rows.Scan(&o.UUID, &o.EncounterUUID, &o.ConceptUUID, &o.Type, &o.Value, &t); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan obs: %w", err)
		}
		o.Time = fromMillis(t)
		// Rows arrive in time order, so the last write per concept wins.
		latest[o.ConceptUUID] = o
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM obs_latest WHERE patient_uuid = ?`), patientUUID); err != nil {
		return fmt.Errorf("clear obs_latest: %w", err)
	}
	ins := s.rebind(`INSERT INTO obs_latest (patient_uuid, concept_uuid, obs_uuid, obs_type, value, time_millis)
		VALUES (?, ?, ?, ?, ?, ?)`)
	for _, o := range latest {
		if _, err := tx.ExecContext(ctx, ins, patientUUID, o.ConceptUUID, o.UUID, o.Type, o.Value, millis(o.Time)); err != nil {
			return fmt.Errorf("insert obs_latest: %w", err)
		}
	}
	return tx.Commit()
}

func (s *sqlStore) PatientUUIDsWithObs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT patient_uuid FROM observations`)
	if err != nil {
		return nil, fmt.Errorf("query obs patients: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var uuid string
		if err := rows.Scan(&uuid); err != nil {
			return nil, err
		}
		out = append(out, uuid)
	}
	return out, rows.Err()
}

// --- Sync state and lifecycle ---

func (s *sqlStore) SyncState(ctx context.Context) (domain.SyncState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT full_sync_start_millis, full_sync_end_millis, sync_token FROM sync_state WHERE id = 1`)
	var start, end sql.NullInt64
	var state domain.SyncState
	if err := row.Scan(&start, &end, &state.SyncToken); err != nil {
		if err == sql.ErrNoRows {
			return domain.SyncState{}, nil
		}
		return domain.SyncState{}, fmt.Errorf("read sync state: %w", err)
	}
	state.FullSyncStart = fromMillisNull(start)
	state.FullSyncEnd = fromMillisNull(end)
	return state, nil
}

func (s *sqlStore) SetSyncState(ctx context.Context, state domain.SyncState) error {
	q := s.rebind(`UPDATE sync_state SET full_sync_start_millis = ?, full_sync_end_millis = ?, sync_token = ? WHERE id = 1`)
	if _, err := s.db.ExecContext(ctx, q,
		millisPtr(state.FullSyncStart), millisPtr(state.FullSyncEnd), state.SyncToken); err != nil {
		return fmt.Errorf("write sync state: %w", err)
	}
	return nil
}

func (s *sqlStore) Clear(ctx context.Context) error {
	for _, table := range dataTables {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return s.SetSyncState(ctx, domain.SyncState{})
}

func (s *sqlStore) Close() error { return s.db.Close() }

// deleteByUUID removes rows whose key column matches any of the uuids.
func (s *sqlStore) deleteByUUID(ctx context.Context, table, col string, uuids []string) error {
	if len(uuids) == 0 {
		return nil
	}
	q := s.rebind(`DELETE FROM ` + table + ` WHERE ` + col + ` = ?`)
	for _, uuid := range uuids {
		if _, err := s.db.ExecContext(ctx, q, uuid); err != nil {
			return fmt.Errorf("delete from %s: %w", table, err)
		}
	}
	return nil
}
