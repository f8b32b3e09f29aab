package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Mode selects how a file is reconciled with data already loaded from it.
type Mode string

const (
	ModeAppend  Mode = "append"  // ingest unconditionally
	ModeNew     Mode = "new"     // skip files already referenced by a scrape
	ModeReplace Mode = "replace" // drop facts and scrapes from the file, then append
)

// ParseMode converts a user supplied mode name into a Mode. An empty string
// is ModeAppend.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "append":
		return ModeAppend, nil
	case "new":
		return ModeNew, nil
	case "replace":
		return ModeReplace, nil
	default:
		return "", eris.Errorf("unknown load mode: %q (valid: append, new, replace)", s)
	}
}

// LoadStatus is the lifecycle state of a load run.
type LoadStatus string

const (
	LoadStatusRunning  LoadStatus = "running"
	LoadStatusComplete LoadStatus = "complete"
	LoadStatusFailed   LoadStatus = "failed"
)

// LoadRun is a persisted load log entry.
type LoadRun struct {
	ID          string       `json:"id"`
	File        string       `json:"file"`
	Mode        Mode         `json:"mode"`
	Status      LoadStatus   `json:"status"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Summary     *LoadSummary `json:"summary,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// LoadSummary is the per-file report returned to the caller of a load.
type LoadSummary struct {
	File           string    `json:"file" yaml:"file"`
	Mode           Mode      `json:"mode" yaml:"mode"`
	StartedAt      time.Time `json:"started_at" yaml:"started_at"`
	CompletedAt    time.Time `json:"completed_at" yaml:"completed_at"`
	RowsRead       int       `json:"rows_read" yaml:"rows_read"`
	RowsLoaded     int       `json:"rows_loaded" yaml:"rows_loaded"`
	RowsSkipped    int       `json:"rows_skipped" yaml:"rows_skipped"`
	FactsWritten   int       `json:"facts_written" yaml:"facts_written"`
	Mismatches     int       `json:"mismatches" yaml:"mismatches"`
	Warnings       int       `json:"warnings" yaml:"warnings"`
	MissingColumns []string  `json:"missing_columns,omitempty" yaml:"missing_columns,omitempty"`
	FactsDeleted   int64     `json:"facts_deleted,omitempty" yaml:"facts_deleted,omitempty"`
	ScrapesDeleted int64     `json:"scrapes_deleted,omitempty" yaml:"scrapes_deleted,omitempty"`
	AlreadyLoaded  bool      `json:"already_loaded,omitempty" yaml:"already_loaded,omitempty"`
	DryRun         bool      `json:"dry_run,omitempty" yaml:"dry_run,omitempty"`
	Error          string    `json:"error,omitempty" yaml:"error,omitempty"`
}

// Elapsed returns the wall time of the load, or zero if it never completed.
func (s *LoadSummary) Elapsed() time.Duration {
	if s.CompletedAt.IsZero() {
		return 0
	}
	return s.CompletedAt.Sub(s.StartedAt)
}

// Outcome classifies the load for display and metrics: failed,
// already-loaded, dry-run or ok.
func (s *LoadSummary) Outcome() string {
	switch {
	case s.Error != "":
		return "failed"
	case s.AlreadyLoaded:
		return "already-loaded"
	case s.DryRun:
		return "dry-run"
	default:
		return "ok"
	}
}
