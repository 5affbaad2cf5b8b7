package models

import "time"

type DRResult string

const (
	DRSuccess DRResult = "SUCCESS"
	DRWarning DRResult = "WARNING"
	DRFailure DRResult = "FAILURE"
)

func (r DRResult) ExitCode() int {
	switch r {
	case DRSuccess:
		return ExitOK
	case DRWarning:
		return ExitWarning
	default:
		return ExitFailure
	}
}

type BackupInfo struct {
	Path     string  `json:"path"`
	Size     int64   `json:"size"`
	AgeHours float64 `json:"age_hours"`
	Format   string  `json:"format"`
}

type DatabaseStats struct {
	TablesFound             int              `json:"tables_found"`
	EssentialTablesExpected int              `json:"essential_tables_expected"`
	EssentialTablesFound    int              `json:"essential_tables_found"`
	MissingTables           []string         `json:"missing_tables,omitempty"`
	Integrity               string           `json:"integrity"`
	RowCounts               map[string]int64 `json:"row_counts"`
}

type Performance struct {
	RestorationSeconds float64 `json:"restoration_seconds"`
	QueriesPassed      int     `json:"queries_passed"`
	QueriesTotal       int     `json:"queries_total"`
}

// DRTestReport is the persisted record of one rehearsal run.
type DRTestReport struct {
	TestDate      time.Time     `json:"test_date"`
	TestID        string        `json:"test_id"`
	TestResult    DRResult      `json:"test_result"`
	BackupInfo    BackupInfo    `json:"backup_info"`
	DatabaseStats DatabaseStats `json:"database_stats"`
	Performance   Performance   `json:"performance"`
	Warnings      []string      `json:"warnings,omitempty"`
	Errors        []string      `json:"errors,omitempty"`
}
