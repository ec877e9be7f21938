// Package report turns finding tables into persisted findings and renders
// stored scans for people (text) and tools (JSON).
package report

import (
	"context"

	"github.com/anstrom/loadout/internal/engine"
	"github.com/anstrom/loadout/internal/errors"
	"github.com/anstrom/loadout/internal/store"
)

// Writer persists findings.
type Writer interface {
	CreateFinding(ctx context.Context, scanID, recordID int64, templateID int, match string) (int64, error)
}

// Reader loads a stored scan and its findings.
type Reader interface {
	GetScan(ctx context.Context, scanID int64) (*store.Scan, error)
	ListFindings(ctx context.Context, scanID int64) ([]store.FindingDetail, error)
}

// Entry is one finding of a report.
type Entry struct {
	ID       int    `json:"id"`
	RecordID int64  `json:"record_id"`
	Match    string `json:"match"`
	// Tool is the command whose output produced the finding.
	Tool        string  `json:"tool"`
	Description *string `json:"description"`
}

// DescriptionText returns the description, or "" when none was declared.
func (e Entry) DescriptionText() string {
	if e.Description == nil {
		return ""
	}
	return *e.Description
}

// Report is the rendered view of one scan.
type Report struct {
	ScanID   int64   `json:"scan_id"`
	Target   string  `json:"target"`
	Profile  string  `json:"profile"`
	Duration string  `json:"duration"`
	Entries  []Entry `json:"findings"`
}

// Merge flattens tables into one list of findings. Within a table the
// position of an entry is its finding id.
func Merge(tables []*engine.FindingTable) []engine.Finding {
	var merged []engine.Finding
	for _, table := range tables {
		for id, entry := range table.Entries {
			if entry == nil {
				continue
			}
			f := *entry
			f.ID = id
			merged = append(merged, f)
		}
	}
	return merged
}

// Descriptions maps a stored finding id to the loot description declared
// for it. Each entry belongs to exactly one merged finding.
type Descriptions map[int64]string

// Persist stores every finding of scanID and returns the descriptions of the
// stored rows.
func Persist(ctx context.Context, w Writer, scanID int64, findings []engine.Finding) (Descriptions, error) {
	descriptions := make(Descriptions)
	for i := range findings {
		f := &findings[i]
		rowID, err := w.CreateFinding(ctx, scanID, f.RecordID, f.ID, f.Match)
		if err != nil {
			return nil, errors.WrapScanError(errors.CodeStoreWrite, "failed to store finding", err).
				WithContext("finding_id", f.ID)
		}
		if f.Description != nil {
			descriptions[rowID] = *f.Description
		}
	}
	return descriptions, nil
}

// Load builds the report of a stored scan. Descriptions are only known while
// the scan runs; pass nil when re-rendering.
func Load(ctx context.Context, r Reader, scanID int64, descriptions Descriptions) (*Report, error) {
	scan, err := r.GetScan(ctx, scanID)
	if err != nil {
		return nil, err
	}
	findings, err := r.ListFindings(ctx, scanID)
	if err != nil {
		return nil, err
	}

	rep := &Report{
		ScanID:   scan.ID,
		Target:   scan.Target,
		Profile:  scan.Profile,
		Duration: scan.Duration(),
		Entries:  make([]Entry, 0, len(findings)),
	}
	for i := range findings {
		f := &findings[i]
		entry := Entry{ID: f.TemplateID, RecordID: f.RecordID, Match: f.Match, Tool: f.Command}
		if desc, ok := descriptions[f.ID]; ok {
			entry.Description = &desc
		}
		rep.Entries = append(rep.Entries, entry)
	}
	return rep, nil
}
