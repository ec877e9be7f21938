// Package store defines the records loadout persists about a scan and the
// Store contract shared by the PostgreSQL implementation in internal/db and
// the in-memory implementation in this package.
package store

import (
	"fmt"
	"time"
)

// Scan is one assessment of one target.
type Scan struct {
	ID      int64  `db:"id" json:"id"`
	Target  string `db:"target" json:"target"`
	MassID  *int64 `db:"mass_id" json:"mass_id,omitempty"`
	Profile string `db:"profile" json:"profile"`
	// ExecSeconds is nil while the scan is running.
	ExecSeconds *int64    `db:"exec_seconds" json:"exec_seconds,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Duration renders the scan run time as HH:MM:SS, or "running".
func (s Scan) Duration() string {
	if s.ExecSeconds == nil {
		return "running"
	}
	return FormatElapsed(*s.ExecSeconds)
}

// ExecutionRecord is the persisted result of running one command.
type ExecutionRecord struct {
	ID     int64  `db:"id" json:"id"`
	ScanID int64  `db:"scan_id" json:"scan_id"`
	// Command is the resolved command text.
	Command string `db:"command" json:"command"`
	// Token identifies one dispatch of the command.
	Token          string    `db:"token" json:"token"`
	ElapsedSeconds int64     `db:"elapsed_seconds" json:"elapsed_seconds"`
	Output         string    `db:"output" json:"output"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Elapsed renders the run time as HH:MM:SS.
func (r ExecutionRecord) Elapsed() string {
	return FormatElapsed(r.ElapsedSeconds)
}

// Finding is a persisted finding of a scan.
type Finding struct {
	ID         int64     `db:"id" json:"id"`
	ScanID     int64     `db:"scan_id" json:"scan_id"`
	RecordID   int64     `db:"record_id" json:"record_id"`
	TemplateID int       `db:"template_id" json:"template_id"`
	Match      string    `db:"match_text" json:"match"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// FindingDetail is a finding joined with its scan target and the command
// whose output produced it.
type FindingDetail struct {
	Finding
	Target  string `db:"target" json:"target"`
	Command string `db:"command" json:"command"`
}

// MassRun is one recurring multi-target run.
type MassRun struct {
	ID         int64      `db:"id" json:"id"`
	Type       string     `db:"type" json:"type"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	FinishedAt *time.Time `db:"finished_at" json:"finished_at,omitempty"`
}

// MassTarget is a target included in every mass run.
type MassTarget struct {
	ID        int64     `db:"id" json:"id"`
	Target    string    `db:"target" json:"target"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// FormatElapsed renders whole seconds as HH:MM:SS.
func FormatElapsed(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, seconds%3600/60, seconds%60)
}
