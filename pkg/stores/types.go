package stores

import (
	"context"
	"time"
)

// RunStatus represents the status of a provisioning run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether no further updates are expected.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// Run represents one provisioning run against a distribution
type Run struct {
	ID          string     `json:"id" yaml:"id"`
	Distro      string     `json:"distro" yaml:"distro"`
	Mode        string     `json:"mode" yaml:"mode"` // fresh, converge
	Status      RunStatus  `json:"status" yaml:"status"`
	Stage       string     `json:"stage" yaml:"stage"` // last stage reached
	Image       string     `json:"image" yaml:"image"`
	Username    string     `json:"username" yaml:"username"`
	Warnings    int        `json:"warnings" yaml:"warnings"`
	Error       *string    `json:"error,omitempty" yaml:"error,omitempty"`
	Config      string     `json:"-" yaml:"-"` // YAML blob
	StartedAt   time.Time  `json:"started_at" yaml:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time  `json:"updated_at" yaml:"-"`
}

// RunUpdate changes the mutable fields of a run
type RunUpdate struct {
	Status   RunStatus
	Stage    string
	Warnings int
	Error    *string
}

// Event represents an append-only journal entry of a run
type Event struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Type      string    `json:"type"`
	Level     string    `json:"level"`
	Stage     string    `json:"stage,omitempty"`
	Message   string    `json:"message"`
	Data      *string   `json:"data,omitempty"` // JSON blob
	Timestamp time.Time `json:"timestamp"`
}

// Fact is the last observed value of something about a distribution, such
// as its network access configuration
type Fact struct {
	Distro    string    `json:"distro"`
	Namespace string    `json:"namespace"` // e.g., "network", "account"
	Key       string    `json:"key"`
	Value     string    `json:"value"` // JSON blob
	RunID     *string   `json:"run_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AuditEntry represents an audit trail entry
type AuditEntry struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"` // e.g., "distro.installed", "distro.removed"
	Actor     string    `json:"actor"`  // operator or system identifier
	Target    *string   `json:"target,omitempty"`
	Details   *string   `json:"details,omitempty"` // JSON blob
	Timestamp time.Time `json:"timestamp"`
}

// Store defines the interface for the run journal
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRun(ctx context.Context, id string, update RunUpdate) error
	ListRuns(ctx context.Context, distro string, limit, offset int) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID string, level *string, limit, offset int) ([]*Event, error)

	// Fact operations
	UpsertFact(ctx context.Context, fact *Fact) error
	GetFact(ctx context.Context, distro, namespace, key string) (*Fact, error)
	DeleteFacts(ctx context.Context, distro string) (int64, error)

	// Audit operations
	CreateAuditEntry(ctx context.Context, entry *AuditEntry) error
	ListAuditEntries(ctx context.Context, action *string, limit, offset int) ([]*AuditEntry, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
