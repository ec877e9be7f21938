package db

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/anstrom/loadout/internal/errors"
	"github.com/anstrom/loadout/internal/logging"
	"github.com/anstrom/loadout/internal/store"
)

func closeRows(rows interface{ Close() error }) {
	if err := rows.Close(); err != nil {
		logging.Warn("Failed to close rows", "error", err)
	}
}

// scanReturning reads the single row produced by an INSERT ... RETURNING.
func scanReturning(operation string, rows *sqlx.Rows, dest ...interface{}) error {
	defer closeRows(rows)

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return sanitizeDBError(operation, err)
		}
		return sanitizeDBError(operation, sql.ErrNoRows)
	}
	if err := rows.Scan(dest...); err != nil {
		return sanitizeDBError(operation, err)
	}
	return nil
}

// selectError sanitizes a failed read. Generic query failures keep their SQL
// for debugging.
func selectError(operation, query string, err error) error {
	sanitized := sanitizeDBError(operation, err)
	if !errors.IsCode(sanitized, errors.CodeDatabaseQuery) {
		return sanitized
	}
	dbErr := errors.ErrDatabaseQuery(query, err)
	dbErr.Operation = operation
	return dbErr
}

// ScanRepository handles scan operations.
type ScanRepository struct {
	db *DB
}

// NewScanRepository creates a new scan repository.
func NewScanRepository(db *DB) *ScanRepository {
	return &ScanRepository{db: db}
}

// Create inserts a scan and fills in its id and creation time.
func (r *ScanRepository) Create(ctx context.Context, scan *store.Scan) error {
	query := `
		INSERT INTO scans (target, mass_id, profile)
		VALUES (:target, :mass_id, :profile)
		RETURNING id, created_at`

	rows, err := r.db.NamedQueryContext(ctx, query, scan)
	if err != nil {
		return sanitizeDBError("create scan", err)
	}
	return scanReturning("create scan", rows, &scan.ID, &scan.CreatedAt)
}

// Complete stores the run time of a finished scan.
func (r *ScanRepository) Complete(ctx context.Context, scanID, execSeconds int64) error {
	query := `UPDATE scans SET exec_seconds = $1 WHERE id = $2`

	result, err := r.db.ExecContext(ctx, query, execSeconds, scanID)
	if err != nil {
		return sanitizeDBError("complete scan", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return sanitizeDBError("complete scan", err)
	}
	if affected == 0 {
		return errors.NewDatabaseError(errors.CodeNotFound, "Resource not found")
	}
	return nil
}

// GetByID retrieves a scan by ID.
func (r *ScanRepository) GetByID(ctx context.Context, scanID int64) (*store.Scan, error) {
	var scan store.Scan
	query := `SELECT id, target, mass_id, profile, exec_seconds, created_at FROM scans WHERE id = $1`

	if err := r.db.GetContext(ctx, &scan, query, scanID); err != nil {
		return nil, sanitizeDBError("get scan", err)
	}
	return &scan, nil
}

// ListByTarget retrieves scans whose target contains fragment.
func (r *ScanRepository) ListByTarget(ctx context.Context, fragment string) ([]store.Scan, error) {
	var scans []store.Scan
	query := `
		SELECT id, target, mass_id, profile, exec_seconds, created_at
		FROM scans
		WHERE target LIKE '%' || $1 || '%'
		ORDER BY id`

	if err := r.db.SelectContext(ctx, &scans, query, fragment); err != nil {
		return nil, selectError("list scans by target", query, err)
	}
	return scans, nil
}

// ExecutionRecordRepository handles execution record operations.
type ExecutionRecordRepository struct {
	db *DB
}

// NewExecutionRecordRepository creates a new execution record repository.
func NewExecutionRecordRepository(db *DB) *ExecutionRecordRepository {
	return &ExecutionRecordRepository{db: db}
}

// Create inserts an execution record and fills in its id and creation time.
func (r *ExecutionRecordRepository) Create(ctx context.Context, rec *store.ExecutionRecord) error {
	query := `
		INSERT INTO execution_records (scan_id, command, token, elapsed_seconds, output)
		VALUES (:scan_id, :command, :token, :elapsed_seconds, :output)
		RETURNING id, created_at`

	rows, err := r.db.NamedQueryContext(ctx, query, rec)
	if err != nil {
		return sanitizeDBError("create execution record", err)
	}
	return scanReturning("create execution record", rows, &rec.ID, &rec.CreatedAt)
}

// Fetch returns the records of a scan for one command text, narrowed to one
// dispatch token when token is non-empty, ordered by id.
func (r *ExecutionRecordRepository) Fetch(ctx context.Context, scanID int64, command, token string) ([]store.ExecutionRecord, error) {
	var records []store.ExecutionRecord
	query := `
		SELECT id, scan_id, command, token, elapsed_seconds, output, created_at
		FROM execution_records
		WHERE scan_id = $1 AND command = $2 AND ($3 = '' OR token = $3)
		ORDER BY id`

	if err := r.db.SelectContext(ctx, &records, query, scanID, command, token); err != nil {
		return nil, selectError("fetch execution records", query, err)
	}
	return records, nil
}

// FindingRepository handles finding operations.
type FindingRepository struct {
	db *DB
}

// NewFindingRepository creates a new finding repository.
func NewFindingRepository(db *DB) *FindingRepository {
	return &FindingRepository{db: db}
}

// Create inserts a finding and returns its id.
func (r *FindingRepository) Create(ctx context.Context, scanID, recordID int64, templateID int, match string) (int64, error) {
	var id int64
	query := `
		INSERT INTO findings (scan_id, record_id, template_id, match_text)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	if err := r.db.QueryRowxContext(ctx, query, scanID, recordID, templateID, match).Scan(&id); err != nil {
		return 0, sanitizeDBError("create finding", err)
	}
	return id, nil
}

const findingDetailColumns = `
		SELECT f.id, f.scan_id, f.record_id, f.template_id, f.match_text, f.created_at,
		       s.target, e.command
		FROM findings f
		JOIN scans s ON s.id = f.scan_id
		JOIN execution_records e ON e.id = f.record_id`

// ListByScan returns the findings of one scan ordered by id.
func (r *FindingRepository) ListByScan(ctx context.Context, scanID int64) ([]store.FindingDetail, error) {
	var findings []store.FindingDetail
	query := findingDetailColumns + `
		WHERE f.scan_id = $1
		ORDER BY f.id`

	if err := r.db.SelectContext(ctx, &findings, query, scanID); err != nil {
		return nil, selectError("list findings", query, err)
	}
	return findings, nil
}

// ListByMass returns the findings of every scan of a mass run ordered by target.
func (r *FindingRepository) ListByMass(ctx context.Context, massID int64) ([]store.FindingDetail, error) {
	var findings []store.FindingDetail
	query := findingDetailColumns + `
		WHERE s.mass_id = $1
		ORDER BY s.target, f.id`

	if err := r.db.SelectContext(ctx, &findings, query, massID); err != nil {
		return nil, selectError("list mass findings", query, err)
	}
	return findings, nil
}

// MassRepository handles mass run and mass target operations.
type MassRepository struct {
	db *DB
}

// NewMassRepository creates a new mass repository.
func NewMassRepository(db *DB) *MassRepository {
	return &MassRepository{db: db}
}

// CreateRun inserts a mass run and returns its id.
func (r *MassRepository) CreateRun(ctx context.Context, massType string) (int64, error) {
	var id int64
	query := `INSERT INTO mass_runs (type) VALUES ($1) RETURNING id`

	if err := r.db.QueryRowxContext(ctx, query, massType).Scan(&id); err != nil {
		return 0, sanitizeDBError("create mass run", err)
	}
	return id, nil
}

// CompleteRun marks a mass run finished.
func (r *MassRepository) CompleteRun(ctx context.Context, massID int64) error {
	query := `UPDATE mass_runs SET finished_at = NOW() WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, massID)
	if err != nil {
		return sanitizeDBError("complete mass run", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return sanitizeDBError("complete mass run", err)
	}
	if affected == 0 {
		return errors.NewDatabaseError(errors.CodeNotFound, "Resource not found")
	}
	return nil
}

// AddTarget inserts a mass target and returns its id.
func (r *MassRepository) AddTarget(ctx context.Context, target string) (int64, error) {
	var id int64
	query := `INSERT INTO mass_targets (target) VALUES ($1) RETURNING id`

	if err := r.db.QueryRowxContext(ctx, query, target).Scan(&id); err != nil {
		return 0, sanitizeDBError("add mass target", err)
	}
	return id, nil
}

// ListTargets returns all mass targets ordered by id.
func (r *MassRepository) ListTargets(ctx context.Context) ([]store.MassTarget, error) {
	var targets []store.MassTarget
	query := `SELECT id, target, created_at FROM mass_targets ORDER BY id`

	if err := r.db.SelectContext(ctx, &targets, query); err != nil {
		return nil, selectError("list mass targets", query, err)
	}
	return targets, nil
}
