package entities

import (
	"time"
)

// Row is one untyped candidate record as produced by the generator
type Row map[string]interface{}

// RecordBatch holds one generation cycle's candidate rows per entity type.
// Sequences are ordered; entity types are never interleaved.
type RecordBatch struct {
	Rows map[EntityType][]Row
}

// NewRecordBatch creates an empty record batch
func NewRecordBatch() *RecordBatch {
	return &RecordBatch{Rows: make(map[EntityType][]Row)}
}

// Append adds candidate rows for an entity type, preserving order
func (b *RecordBatch) Append(entity EntityType, rows ...Row) {
	b.Rows[entity] = append(b.Rows[entity], rows...)
}

// Len returns the total number of candidate rows across all entity types
func (b *RecordBatch) Len() int {
	total := 0
	for _, rows := range b.Rows {
		total += len(rows)
	}
	return total
}

// IssueCategory classifies why a row was rejected
type IssueCategory string

const (
	IssueMissingField    IssueCategory = "missing-field"
	IssueBadFormat       IssueCategory = "bad-format"
	IssueDuplicate       IssueCategory = "duplicate"
	IssueOrphanReference IssueCategory = "orphan-reference"
	IssueBusinessRule    IssueCategory = "business-rule"
)

// ValidationIssue is one recorded check failure. Issues are transient: they
// feed the run log and the rejected-records artifact, never the main tables.
type ValidationIssue struct {
	Entity   EntityType    `json:"entity"`
	Key      string        `json:"key"`
	Category IssueCategory `json:"category"`
	Detail   string        `json:"detail"`
}

// AcceptedBatch is the typed subset of a record batch that passed every check,
// in the original batch order per entity type.
type AcceptedBatch struct {
	Customers    []Customer
	Devices      []Device
	Accounts     []Account
	Transactions []Transaction
	AuthLogs     []AuthenticationLog
}

// Len returns the total number of accepted rows
func (a *AcceptedBatch) Len() int {
	return len(a.Customers) + len(a.Devices) + len(a.Accounts) +
		len(a.Transactions) + len(a.AuthLogs)
}

// RunStatus is the single terminal status the core exposes per run
type RunStatus string

const (
	RunStatusRunning             RunStatus = "RUNNING"
	RunStatusSuccess             RunStatus = "SUCCESS"
	RunStatusSuccessWithWarnings RunStatus = "SUCCESS_WITH_WARNINGS"
	RunStatusFailed              RunStatus = "FAILED"
)

// Stage names the pipeline stages in execution order
type Stage string

const (
	StageIngest   Stage = "ingest"
	StageValidate Stage = "validate"
	StagePersist  Stage = "persist"
	StageRisk     Stage = "risk"
)

// RunEvent is one structured event emitted to the run logger
type RunEvent struct {
	ID         int64     `json:"id" db:"id"`
	RunID      string    `json:"run_id" db:"run_id"`
	Stage      Stage     `json:"stage" db:"stage"`
	Status     string    `json:"status" db:"status"`
	IssueCount int       `json:"issue_count" db:"issue_count"`
	Details    string    `json:"details" db:"details"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// PipelineRun is the durable record of one pipeline invocation
type PipelineRun struct {
	RunID           string     `json:"run_id" db:"run_id"`
	Status          RunStatus  `json:"status" db:"status"`
	RecordsTotal    int        `json:"records_total" db:"records_total"`
	RecordsAccepted int        `json:"records_accepted" db:"records_accepted"`
	RecordsRejected int        `json:"records_rejected" db:"records_rejected"`
	AlertCount      int        `json:"alert_count" db:"alert_count"`
	WarningCount    int        `json:"warning_count" db:"warning_count"`
	StartedAt       time.Time  `json:"started_at" db:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty" db:"finished_at"`
}

// RunReport is the in-memory outcome of one run, returned to the caller
type RunReport struct {
	RunID         string
	Status        RunStatus
	Accepted      *AcceptedBatch
	Issues        []ValidationIssue
	Alerts        []RiskAlert
	Warnings      []string
	ArtifactPath  string
	AlertsPerRule map[AlertType]int
}
