/*
Package sqlite provides a SQLite-backed implementation of the ledger storage
interfaces.

PURPOSE:
  Implements ledger.RecordStore and ledger.TxRecordStore using SQLite. In
  production the same patterns apply to PostgreSQL - only minor SQL dialect
  differences.

KEY TABLES:
  overtime_records: One row per ledger entry (earning or redemption)
  redemption_links: Which earning funded which redemption, with exact draws
  employees:        Directory rows for name/department resolution

VERSION CHECKS:
  Every UPDATE on overtime_records is guarded by "AND version = ?". A write
  that affects zero rows against an existing record means the row moved and
  surfaces ledger.ErrConcurrentModification.

ATOMICITY:
  WithTx wraps a sql.Tx in a transaction-scoped store view. Redemption
  approval (consumed updates + links + status) and deletion rollback
  (restores + link removal + row removal) each commit or roll back as one.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

NUMERIC STORAGE:
  Hours are stored as decimal strings (TEXT), never floats. Dates are stored
  as ISO strings (2006-01-02).

USAGE:
  st, err := sqlite.New("./data/timebank.db")
  if err != nil {
      ...
  }
  defer st.Close()
  svc := ledger.NewService(st)

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/timebank/ledger"
)

// Store implements ledger.TxRecordStore plus the employee directory.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (or creates) the database at dbPath. Use ":memory:" for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS overtime_records (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		date TEXT NOT NULL,
		hours TEXT NOT NULL,
		status TEXT NOT NULL,
		consumed TEXT NOT NULL DEFAULT '0',
		redemption_type TEXT,
		candidate_ids_json TEXT,
		is_adjustment BOOLEAN NOT NULL DEFAULT FALSE,
		description TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_records_user
		ON overtime_records(user_id);
	-- Balance calculation and FIFO candidate listing (hot path)
	CREATE INDEX IF NOT EXISTS idx_records_user_status_date
		ON overtime_records(user_id, status, date, created_at);

	CREATE TABLE IF NOT EXISTS redemption_links (
		redemption_id TEXT NOT NULL,
		source_id TEXT NOT NULL,
		hours_drawn TEXT NOT NULL,
		position INTEGER NOT NULL,
		UNIQUE(redemption_id, position)
	);

	CREATE INDEX IF NOT EXISTS idx_links_redemption
		ON redemption_links(redemption_id);
	CREATE INDEX IF NOT EXISTS idx_links_source
		ON redemption_links(source_id);

	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		department TEXT,
		created_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// RECORD STORE (ledger.RecordStore interface)
// =============================================================================

const recordColumns = `id, user_id, date, hours, status, consumed, redemption_type,
	candidate_ids_json, is_adjustment, description, version, created_at`

func (s *Store) CreateRecord(ctx context.Context, r *ledger.OvertimeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createRecord(ctx, s.db, r)
}

func createRecord(ctx context.Context, db dbtx, r *ledger.OvertimeRecord) error {
	candidatesJSON, err := marshalCandidates(r.CandidateIDs)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO overtime_records
		(` + recordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	r.Version = 1
	_, err = db.ExecContext(ctx, query,
		r.ID,
		r.UserID,
		r.Date.String(),
		r.Hours.String(),
		r.Status,
		r.Consumed.String(),
		nullString(string(r.RedemptionType)),
		candidatesJSON,
		r.IsAdjustment,
		nullString(r.Description),
		r.Version,
		r.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

func (s *Store) GetRecord(ctx context.Context, id ledger.RecordID) (*ledger.OvertimeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getRecord(ctx, s.db, id)
}

func getRecord(ctx context.Context, db dbtx, id ledger.RecordID) (*ledger.OvertimeRecord, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM overtime_records WHERE id = ?`, id)

	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Store) UpdateRecord(ctx context.Context, r *ledger.OvertimeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateRecord(ctx, s.db, r)
}

func updateRecord(ctx context.Context, db dbtx, r *ledger.OvertimeRecord) error {
	candidatesJSON, err := marshalCandidates(r.CandidateIDs)
	if err != nil {
		return err
	}

	query := `
		UPDATE overtime_records
		SET status = ?, consumed = ?, candidate_ids_json = ?, description = ?,
		    version = version + 1
		WHERE id = ? AND version = ?
	`

	res, err := db.ExecContext(ctx, query,
		r.Status,
		r.Consumed.String(),
		candidatesJSON,
		nullString(r.Description),
		r.ID,
		r.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Either the record is gone, or the version moved underneath us.
		var exists int
		if err := db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM overtime_records WHERE id = ?", r.ID,
		).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return ledger.ErrRecordNotFound
		}
		return ledger.ErrConcurrentModification
	}

	r.Version++
	return nil
}

func (s *Store) DeleteRecord(ctx context.Context, id ledger.RecordID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteRecord(ctx, s.db, id)
}

func deleteRecord(ctx context.Context, db dbtx, id ledger.RecordID) error {
	res, err := db.ExecContext(ctx, "DELETE FROM overtime_records WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ledger.ErrRecordNotFound
	}
	return nil
}

func (s *Store) ListByUser(ctx context.Context, userID ledger.UserID) ([]*ledger.OvertimeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listByUser(ctx, s.db, userID)
}

func listByUser(ctx context.Context, db dbtx, userID ledger.UserID) ([]*ledger.OvertimeRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM overtime_records
		WHERE user_id = ?
		ORDER BY date ASC, created_at ASC
	`
	return queryRecords(ctx, db, query, userID)
}

func (s *Store) ListApprovedEarnings(ctx context.Context, userID ledger.UserID) ([]*ledger.OvertimeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listApprovedEarnings(ctx, s.db, userID)
}

func listApprovedEarnings(ctx context.Context, db dbtx, userID ledger.UserID) ([]*ledger.OvertimeRecord, error) {
	// Hours are decimal strings; the sign filter uses a CAST (safe, since
	// redemptions are strictly negative) and the available > 0 filter is
	// applied in Go where decimal arithmetic is exact.
	query := `
		SELECT ` + recordColumns + `
		FROM overtime_records
		WHERE user_id = ? AND status = ? AND CAST(hours AS REAL) > 0
		ORDER BY date ASC, created_at ASC
	`
	records, err := queryRecords(ctx, db, query, userID, ledger.StatusApproved)
	if err != nil {
		return nil, err
	}

	available := records[:0]
	for _, r := range records {
		if r.Available().IsPositive() {
			available = append(available, r)
		}
	}
	return available, nil
}

func queryRecords(ctx context.Context, db dbtx, query string, args ...any) ([]*ledger.OvertimeRecord, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []*ledger.OvertimeRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*ledger.OvertimeRecord, error) {
	var (
		r              ledger.OvertimeRecord
		date           string
		hours          string
		consumed       string
		redemptionType sql.NullString
		candidatesJSON sql.NullString
		description    sql.NullString
		createdAt      string
	)

	err := row.Scan(
		&r.ID, &r.UserID, &date, &hours, &r.Status, &consumed,
		&redemptionType, &candidatesJSON, &r.IsAdjustment, &description,
		&r.Version, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan record: %w", err)
	}

	if r.Date, err = ledger.ParseDate(date); err != nil {
		return nil, fmt.Errorf("corrupt date on record %s: %w", r.ID, err)
	}
	if r.Hours, err = ledger.ParseHours(hours); err != nil {
		return nil, fmt.Errorf("corrupt hours on record %s: %w", r.ID, err)
	}
	if r.Consumed, err = ledger.ParseHours(consumed); err != nil {
		return nil, fmt.Errorf("corrupt consumed on record %s: %w", r.ID, err)
	}
	r.RedemptionType = ledger.RedemptionType(redemptionType.String)
	r.Description = description.String
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	if candidatesJSON.Valid && candidatesJSON.String != "" {
		if err := json.Unmarshal([]byte(candidatesJSON.String), &r.CandidateIDs); err != nil {
			return nil, fmt.Errorf("corrupt candidate list on record %s: %w", r.ID, err)
		}
	}

	return &r, nil
}

func marshalCandidates(ids []ledger.RecordID) (any, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal candidate ids: %w", err)
	}
	return string(b), nil
}

func nullString(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

// =============================================================================
// REDEMPTION LINKS
// =============================================================================

func (s *Store) CreateLinks(ctx context.Context, links []ledger.RedemptionLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createLinks(ctx, s.db, links)
}

func createLinks(ctx context.Context, db dbtx, links []ledger.RedemptionLink) error {
	for _, l := range links {
		_, err := db.ExecContext(ctx, `
			INSERT INTO redemption_links (redemption_id, source_id, hours_drawn, position)
			VALUES (?, ?, ?, ?)`,
			l.RedemptionID, l.SourceID, l.HoursDrawn.String(), l.Position,
		)
		if err != nil {
			return fmt.Errorf("failed to insert redemption link: %w", err)
		}
	}
	return nil
}

func (s *Store) LinksByRedemption(ctx context.Context, redemptionID ledger.RecordID) ([]ledger.RedemptionLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return linksByRedemption(ctx, s.db, redemptionID)
}

func linksByRedemption(ctx context.Context, db dbtx, redemptionID ledger.RecordID) ([]ledger.RedemptionLink, error) {
	return queryLinks(ctx, db, `
		SELECT redemption_id, source_id, hours_drawn, position
		FROM redemption_links WHERE redemption_id = ?
		ORDER BY position ASC`, redemptionID)
}

func (s *Store) LinksBySource(ctx context.Context, sourceID ledger.RecordID) ([]ledger.RedemptionLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return linksBySource(ctx, s.db, sourceID)
}

func linksBySource(ctx context.Context, db dbtx, sourceID ledger.RecordID) ([]ledger.RedemptionLink, error) {
	return queryLinks(ctx, db, `
		SELECT redemption_id, source_id, hours_drawn, position
		FROM redemption_links WHERE source_id = ?
		ORDER BY position ASC`, sourceID)
}

func queryLinks(ctx context.Context, db dbtx, query string, args ...any) ([]ledger.RedemptionLink, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query links: %w", err)
	}
	defer rows.Close()

	var links []ledger.RedemptionLink
	for rows.Next() {
		var (
			l     ledger.RedemptionLink
			drawn string
		)
		if err := rows.Scan(&l.RedemptionID, &l.SourceID, &drawn, &l.Position); err != nil {
			return nil, fmt.Errorf("failed to scan link: %w", err)
		}
		if l.HoursDrawn, err = ledger.ParseHours(drawn); err != nil {
			return nil, fmt.Errorf("corrupt drawn amount on link %s->%s: %w", l.RedemptionID, l.SourceID, err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

func (s *Store) DeleteLinksByRedemption(ctx context.Context, redemptionID ledger.RecordID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteLinksByRedemption(ctx, s.db, redemptionID)
}

func deleteLinksByRedemption(ctx context.Context, db dbtx, redemptionID ledger.RecordID) error {
	_, err := db.ExecContext(ctx,
		"DELETE FROM redemption_links WHERE redemption_id = ?", redemptionID)
	if err != nil {
		return fmt.Errorf("failed to delete links: %w", err)
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxRecordStore interface)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.RecordStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore is the transaction-scoped view. It operates on the sql.Tx without
// touching the parent mutex, which WithTx already holds.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) CreateRecord(ctx context.Context, r *ledger.OvertimeRecord) error {
	return createRecord(ctx, ts.tx, r)
}

func (ts *txStore) GetRecord(ctx context.Context, id ledger.RecordID) (*ledger.OvertimeRecord, error) {
	return getRecord(ctx, ts.tx, id)
}

func (ts *txStore) UpdateRecord(ctx context.Context, r *ledger.OvertimeRecord) error {
	return updateRecord(ctx, ts.tx, r)
}

func (ts *txStore) DeleteRecord(ctx context.Context, id ledger.RecordID) error {
	return deleteRecord(ctx, ts.tx, id)
}

func (ts *txStore) ListByUser(ctx context.Context, userID ledger.UserID) ([]*ledger.OvertimeRecord, error) {
	return listByUser(ctx, ts.tx, userID)
}

func (ts *txStore) ListApprovedEarnings(ctx context.Context, userID ledger.UserID) ([]*ledger.OvertimeRecord, error) {
	return listApprovedEarnings(ctx, ts.tx, userID)
}

func (ts *txStore) CreateLinks(ctx context.Context, links []ledger.RedemptionLink) error {
	return createLinks(ctx, ts.tx, links)
}

func (ts *txStore) LinksByRedemption(ctx context.Context, redemptionID ledger.RecordID) ([]ledger.RedemptionLink, error) {
	return linksByRedemption(ctx, ts.tx, redemptionID)
}

func (ts *txStore) LinksBySource(ctx context.Context, sourceID ledger.RecordID) ([]ledger.RedemptionLink, error) {
	return linksBySource(ctx, ts.tx, sourceID)
}

func (ts *txStore) DeleteLinksByRedemption(ctx context.Context, redemptionID ledger.RecordID) error {
	return deleteLinksByRedemption(ctx, ts.tx, redemptionID)
}

// =============================================================================
// EMPLOYEE DIRECTORY
// =============================================================================

// Employee is a directory row; the ledger itself only needs the id, but the
// API resolves names and departments for display.
type Employee struct {
	ID         string
	Name       string
	Email      string
	Department string
	CreatedAt  time.Time
}

// SaveEmployee inserts or updates an employee.
func (s *Store) SaveEmployee(ctx context.Context, emp Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO employees (id, name, email, department, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			department = excluded.department
	`
	_, err := s.db.ExecContext(ctx, query,
		emp.ID, emp.Name, nullString(emp.Email), nullString(emp.Department),
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// GetEmployee returns an employee by id, or nil when absent.
func (s *Store) GetEmployee(ctx context.Context, id string) (*Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		emp        Employee
		email      sql.NullString
		department sql.NullString
		createdAt  string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, email, department, created_at FROM employees WHERE id = ?", id,
	).Scan(&emp.ID, &emp.Name, &email, &department, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	emp.Email = email.String
	emp.Department = department.String
	emp.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &emp, nil
}

// ListEmployees returns all employees ordered by name.
func (s *Store) ListEmployees(ctx context.Context) ([]Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, email, department, created_at FROM employees ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var employees []Employee
	for rows.Next() {
		var (
			emp        Employee
			email      sql.NullString
			department sql.NullString
			createdAt  string
		)
		if err := rows.Scan(&emp.ID, &emp.Name, &email, &department, &createdAt); err != nil {
			return nil, err
		}
		emp.Email = email.String
		emp.Department = department.String
		emp.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		employees = append(employees, emp)
	}
	return employees, rows.Err()
}
