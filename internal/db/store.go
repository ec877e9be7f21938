package db

import (
	"context"
	"time"

	"github.com/anstrom/loadout/internal/metrics"
	"github.com/anstrom/loadout/internal/store"
)

// Store is the PostgreSQL implementation of store.Store.
type Store struct {
	scans    *ScanRepository
	records  *ExecutionRecordRepository
	findings *FindingRepository
	mass     *MassRepository
	metrics  metrics.Recorder
}

// Ensure that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// NewStore creates a Store over db. Query timings are reported to rec.
func NewStore(db *DB, rec metrics.Recorder) *Store {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Store{
		scans:    NewScanRepository(db),
		records:  NewExecutionRecordRepository(db),
		findings: NewFindingRepository(db),
		mass:     NewMassRepository(db),
		metrics:  rec,
	}
}

func (s *Store) observe(operation string, start time.Time, err error) {
	s.metrics.RecordDatabaseQuery(operation, time.Since(start), err)
}

// CreateScan stores a new scan and returns its id.
func (s *Store) CreateScan(ctx context.Context, scan *store.Scan) (id int64, err error) {
	defer func(start time.Time) { s.observe("create_scan", start, err) }(time.Now())
	if err = s.scans.Create(ctx, scan); err != nil {
		return 0, err
	}
	return scan.ID, nil
}

// CompleteScan records the scan run time.
func (s *Store) CompleteScan(ctx context.Context, scanID, execSeconds int64) (err error) {
	defer func(start time.Time) { s.observe("complete_scan", start, err) }(time.Now())
	return s.scans.Complete(ctx, scanID, execSeconds)
}

// GetScan returns one scan.
func (s *Store) GetScan(ctx context.Context, scanID int64) (scan *store.Scan, err error) {
	defer func(start time.Time) { s.observe("get_scan", start, err) }(time.Now())
	return s.scans.GetByID(ctx, scanID)
}

// ListScansByTarget returns the scans whose target contains fragment.
func (s *Store) ListScansByTarget(ctx context.Context, fragment string) (scans []store.Scan, err error) {
	defer func(start time.Time) { s.observe("list_scans", start, err) }(time.Now())
	return s.scans.ListByTarget(ctx, fragment)
}

// CreateExecutionRecord stores the output of one command run.
func (s *Store) CreateExecutionRecord(ctx context.Context, rec *store.ExecutionRecord) (id int64, err error) {
	defer func(start time.Time) { s.observe("create_execution_record", start, err) }(time.Now())
	if err = s.records.Create(ctx, rec); err != nil {
		return 0, err
	}
	return rec.ID, nil
}

// FetchExecutionRecords returns the records for one command of a scan.
func (s *Store) FetchExecutionRecords(ctx context.Context, scanID int64, command, token string) (
	records []store.ExecutionRecord, err error,
) {
	defer func(start time.Time) { s.observe("fetch_execution_records", start, err) }(time.Now())
	return s.records.Fetch(ctx, scanID, command, token)
}

// CreateFinding stores one finding.
func (s *Store) CreateFinding(ctx context.Context, scanID, recordID int64, templateID int, match string) (id int64, err error) {
	defer func(start time.Time) { s.observe("create_finding", start, err) }(time.Now())
	return s.findings.Create(ctx, scanID, recordID, templateID, match)
}

// ListFindings returns the findings of a scan.
func (s *Store) ListFindings(ctx context.Context, scanID int64) (findings []store.FindingDetail, err error) {
	defer func(start time.Time) { s.observe("list_findings", start, err) }(time.Now())
	return s.findings.ListByScan(ctx, scanID)
}

// CreateMassRun starts a mass run of the given type.
func (s *Store) CreateMassRun(ctx context.Context, massType string) (id int64, err error) {
	defer func(start time.Time) { s.observe("create_mass_run", start, err) }(time.Now())
	return s.mass.CreateRun(ctx, massType)
}

// CompleteMassRun marks a mass run finished.
func (s *Store) CompleteMassRun(ctx context.Context, massID int64) (err error) {
	defer func(start time.Time) { s.observe("complete_mass_run", start, err) }(time.Now())
	return s.mass.CompleteRun(ctx, massID)
}

// AddMassTarget registers a target for mass runs.
func (s *Store) AddMassTarget(ctx context.Context, target string) (id int64, err error) {
	defer func(start time.Time) { s.observe("add_mass_target", start, err) }(time.Now())
	return s.mass.AddTarget(ctx, target)
}

// ListMassTargets returns every mass target.
func (s *Store) ListMassTargets(ctx context.Context) (targets []store.MassTarget, err error) {
	defer func(start time.Time) { s.observe("list_mass_targets", start, err) }(time.Now())
	return s.mass.ListTargets(ctx)
}

// ListMassFindings returns the findings of a mass run grouped by target.
func (s *Store) ListMassFindings(ctx context.Context, massID int64) (findings []store.FindingDetail, err error) {
	defer func(start time.Time) { s.observe("list_mass_findings", start, err) }(time.Now())
	return s.findings.ListByMass(ctx, massID)
}
