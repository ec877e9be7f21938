package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/anstrom/loadout/internal/errors"
)

// Store persists scans, execution records, findings and mass runs.
// Implementations must be safe for concurrent use: command runners write
// execution records from many goroutines.
type Store interface {
	CreateScan(ctx context.Context, scan *Scan) (int64, error)
	CompleteScan(ctx context.Context, scanID, execSeconds int64) error
	GetScan(ctx context.Context, scanID int64) (*Scan, error)
	ListScansByTarget(ctx context.Context, fragment string) ([]Scan, error)

	CreateExecutionRecord(ctx context.Context, rec *ExecutionRecord) (int64, error)
	FetchExecutionRecords(ctx context.Context, scanID int64, command, token string) ([]ExecutionRecord, error)

	CreateFinding(ctx context.Context, scanID, recordID int64, templateID int, match string) (int64, error)
	ListFindings(ctx context.Context, scanID int64) ([]FindingDetail, error)

	CreateMassRun(ctx context.Context, massType string) (int64, error)
	CompleteMassRun(ctx context.Context, massID int64) error
	AddMassTarget(ctx context.Context, target string) (int64, error)
	ListMassTargets(ctx context.Context) ([]MassTarget, error)
	ListMassFindings(ctx context.Context, massID int64) ([]FindingDetail, error)
}

// Memory is an in-process Store. Nothing survives the process; it backs
// ephemeral scans and tests.
type Memory struct {
	mu       sync.RWMutex
	now      func() time.Time
	scans    []Scan
	records  []ExecutionRecord
	findings []Finding
	massRuns []MassRun
	targets  []MassTarget
}

// Ensure that Memory implements Store.
var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{now: time.Now}
}

func notFound(what string) error {
	return errors.NewDatabaseError(errors.CodeNotFound, what+" not found")
}

// CreateScan stores a new scan and returns its id.
func (m *Memory) CreateScan(ctx context.Context, scan *Scan) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	row := *scan
	row.ID = int64(len(m.scans) + 1)
	row.CreatedAt = m.now()
	m.scans = append(m.scans, row)

	scan.ID, scan.CreatedAt = row.ID, row.CreatedAt
	return row.ID, nil
}

// CompleteScan records the scan run time.
func (m *Memory) CompleteScan(ctx context.Context, scanID, execSeconds int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if scanID < 1 || scanID > int64(len(m.scans)) {
		return notFound("scan")
	}
	secs := execSeconds
	m.scans[scanID-1].ExecSeconds = &secs
	return nil
}

// GetScan returns one scan.
func (m *Memory) GetScan(ctx context.Context, scanID int64) (*Scan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if scanID < 1 || scanID > int64(len(m.scans)) {
		return nil, notFound("scan")
	}
	scan := m.scans[scanID-1]
	return &scan, nil
}

// ListScansByTarget returns scans whose target contains fragment.
func (m *Memory) ListScansByTarget(ctx context.Context, fragment string) ([]Scan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Scan
	for _, scan := range m.scans {
		if strings.Contains(scan.Target, fragment) {
			out = append(out, scan)
		}
	}
	return out, nil
}

// CreateExecutionRecord stores an execution record and returns its id.
func (m *Memory) CreateExecutionRecord(ctx context.Context, rec *ExecutionRecord) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	row := *rec
	row.ID = int64(len(m.records) + 1)
	row.CreatedAt = m.now()
	m.records = append(m.records, row)

	rec.ID, rec.CreatedAt = row.ID, row.CreatedAt
	return row.ID, nil
}

// FetchExecutionRecords returns the records of a scan for one command text,
// narrowed to one dispatch when token is non-empty, ordered by id.
func (m *Memory) FetchExecutionRecords(ctx context.Context, scanID int64, command, token string) ([]ExecutionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ExecutionRecord
	for _, rec := range m.records {
		if rec.ScanID != scanID || rec.Command != command {
			continue
		}
		if token != "" && rec.Token != token {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// CreateFinding stores a finding and returns its id.
func (m *Memory) CreateFinding(ctx context.Context, scanID, recordID int64, templateID int, match string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if scanID < 1 || scanID > int64(len(m.scans)) || recordID < 1 || recordID > int64(len(m.records)) {
		return 0, errors.NewDatabaseError(errors.CodeValidation, "Referenced resource does not exist")
	}

	row := Finding{
		ID:         int64(len(m.findings) + 1),
		ScanID:     scanID,
		RecordID:   recordID,
		TemplateID: templateID,
		Match:      match,
		CreatedAt:  m.now(),
	}
	m.findings = append(m.findings, row)
	return row.ID, nil
}

// ListFindings returns the findings of a scan ordered by id.
func (m *Memory) ListFindings(ctx context.Context, scanID int64) ([]FindingDetail, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []FindingDetail
	for _, f := range m.findings {
		if f.ScanID == scanID {
			out = append(out, m.detail(f))
		}
	}
	return out, nil
}

func (m *Memory) detail(f Finding) FindingDetail {
	d := FindingDetail{Finding: f}
	if f.ScanID >= 1 && f.ScanID <= int64(len(m.scans)) {
		d.Target = m.scans[f.ScanID-1].Target
	}
	d.Command = m.records[f.RecordID-1].Command
	return d
}

// CreateMassRun stores a new mass run and returns its id.
func (m *Memory) CreateMassRun(ctx context.Context, massType string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	row := MassRun{ID: int64(len(m.massRuns) + 1), Type: massType, CreatedAt: m.now()}
	m.massRuns = append(m.massRuns, row)
	return row.ID, nil
}

// CompleteMassRun marks a mass run finished.
func (m *Memory) CompleteMassRun(ctx context.Context, massID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if massID < 1 || massID > int64(len(m.massRuns)) {
		return notFound("mass run")
	}
	finished := m.now()
	m.massRuns[massID-1].FinishedAt = &finished
	return nil
}

// AddMassTarget adds a target to future mass runs.
func (m *Memory) AddMassTarget(ctx context.Context, target string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.targets {
		if existing.Target == target {
			return 0, errors.NewDatabaseError(errors.CodeConflict, "Resource already exists")
		}
	}
	row := MassTarget{ID: int64(len(m.targets) + 1), Target: target, CreatedAt: m.now()}
	m.targets = append(m.targets, row)
	return row.ID, nil
}

// ListMassTargets returns all mass targets ordered by id.
func (m *Memory) ListMassTargets(ctx context.Context) ([]MassTarget, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]MassTarget, len(m.targets))
	copy(out, m.targets)
	return out, nil
}

// ListMassFindings returns the findings of every scan of a mass run,
// ordered by target.
func (m *Memory) ListMassFindings(ctx context.Context, massID int64) ([]FindingDetail, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []FindingDetail
	for _, f := range m.findings {
		scan := m.scans[f.ScanID-1]
		if scan.MassID != nil && *scan.MassID == massID {
			out = append(out, m.detail(f))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Target < out[j].Target })
	return out, nil
}
