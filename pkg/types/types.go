package types

import (
	"time"
)

// Module represents a registered service module under coordination
type Module struct {
	ID                   string        `json:"id"`
	Name                 string        `json:"name"`
	URL                  string        `json:"url"`
	HealthEndpoint       string        `json:"health_endpoint"`
	SyncEndpoint         string        `json:"sync_endpoint"`
	Critical             bool          `json:"critical"`
	ExpectedResponseTime time.Duration `json:"expected_response_time"`
	State                ModuleState   `json:"state"`
	// PermanentlyIsolated marks a module that exhausted recovery and
	// requires manual intervention before it can be recovered again.
	PermanentlyIsolated bool      `json:"permanently_isolated"`
	LastHeartbeat       time.Time `json:"last_heartbeat"`
	LastCycleAcked      uint64    `json:"last_cycle_acked"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	RecoveryAttempts    int       `json:"recovery_attempts"`
	// DependsOn lists modules this module requires; the registry derives
	// the reverse edges used for cascade handling.
	DependsOn []string  `json:"depends_on,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ModuleState represents the current state of a module
type ModuleState string

const (
	ModuleStateHealthy    ModuleState = "healthy"
	ModuleStateDegraded   ModuleState = "degraded"
	ModuleStateIsolated   ModuleState = "isolated"
	ModuleStateRecovering ModuleState = "recovering"
)

// SyncPulse is a single cycle broadcast to every registered module.
// One pulse exists per tick; the next pulse supersedes it entirely.
type SyncPulse struct {
	Cycle     uint64               `json:"cycle"`
	EmittedAt time.Time            `json:"emitted_at"`
	Targets   map[string]bool      `json:"targets"`
	Acked     map[string]time.Time `json:"acked"`
}

// NewSyncPulse creates a pulse targeting the given module IDs
func NewSyncPulse(cycle uint64, targets []string) *SyncPulse {
	p := &SyncPulse{
		Cycle:     cycle,
		EmittedAt: time.Now(),
		Targets:   make(map[string]bool, len(targets)),
		Acked:     make(map[string]time.Time),
	}
	for _, id := range targets {
		p.Targets[id] = true
	}
	return p
}

// Missed returns the targets that never acknowledged the pulse
func (p *SyncPulse) Missed() []string {
	var missed []string
	for id := range p.Targets {
		if _, ok := p.Acked[id]; !ok {
			missed = append(missed, id)
		}
	}
	return missed
}

// AlertSeverity classifies an alert
type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "warning"
	SeverityError    AlertSeverity = "error"
	SeverityCritical AlertSeverity = "critical"
)

// Alert is an append-only log entry; never mutated after creation
type Alert struct {
	ID       string        `json:"id"`
	ModuleID string        `json:"module_id"`
	Severity AlertSeverity `json:"severity"`
	Reason   string        `json:"reason"`
	RaisedAt time.Time     `json:"raised_at"`
}

// DriftRecord is the rolling drift state for a module or worker.
// The latest record for a subject supersedes the previous one.
type DriftRecord struct {
	ModuleID      string    `json:"module_id,omitempty"`
	WorkerDSN     string    `json:"worker_dsn,omitempty"`
	ExpectedCycle uint64    `json:"expected_cycle"`
	ObservedCycle uint64    `json:"observed_cycle"`
	Magnitude     uint64    `json:"magnitude"`
	DriftScore    float64   `json:"drift_score"`
	ComputedAt    time.Time `json:"computed_at"`
}

// Worker represents one incarnation of a fleet specialist
type Worker struct {
	// DSN is the unique identifier for this incarnation; never reused
	// after retirement.
	DSN            string         `json:"dsn"`
	TemplateID     string         `json:"template_id"`
	Name           string         `json:"name"`
	URL            string         `json:"url"`
	DriftScore     float64        `json:"drift_score"`
	PatchesApplied []string       `json:"patches_applied"`
	LifecycleState LifecycleState `json:"lifecycle_state"`
	CreatedAt      time.Time      `json:"created_at"`
	RetiredAt      time.Time      `json:"retired_at,omitzero"`
}

// HasPatch reports whether the predicate ID is already applied
func (w *Worker) HasPatch(predicateID string) bool {
	for _, id := range w.PatchesApplied {
		if id == predicateID {
			return true
		}
	}
	return false
}

// LifecycleState represents the lifecycle stage of a worker
type LifecycleState string

const (
	LifecycleActive        LifecycleState = "active"
	LifecycleDrifting      LifecycleState = "drifting"
	LifecycleSunsetPending LifecycleState = "sunset_pending"
	LifecycleRetired       LifecycleState = "retired"
)

// Predicate is an approved behavioral patch distributed to the fleet.
// Immutable once created; identity is the UUID, so redelivery of the
// same ID must be a no-op at the receiver.
type Predicate struct {
	ID         string    `json:"id"`
	Pattern    string    `json:"pattern"`
	Response   string    `json:"response"`
	Confidence float64   `json:"confidence"`
	ApprovedBy string    `json:"approved_by"`
	CreatedAt  time.Time `json:"created_at"`
}

// BroadcastAttempt records one predicate fan-out. Retries increment
// Attempts; they never create a new predicate identity.
type BroadcastAttempt struct {
	PredicateID string               `json:"predicate_id"`
	Recipients  map[string]bool      `json:"recipients"`
	Acked       map[string]time.Time `json:"acked"`
	Attempts    int                  `json:"attempts"`
	StartedAt   time.Time            `json:"started_at"`
}

// Unacked returns the recipients that never acknowledged delivery
func (a *BroadcastAttempt) Unacked() []string {
	var pending []string
	for dsn := range a.Recipients {
		if _, ok := a.Acked[dsn]; !ok {
			pending = append(pending, dsn)
		}
	}
	return pending
}

// Heartbeat is the engine's own pulse, exposed on the heartbeat surface
type Heartbeat struct {
	Module           string    `json:"module"`
	Timestamp        time.Time `json:"timestamp"`
	Cycle            uint64    `json:"cycle"`
	SystemHealth     float64   `json:"system_health"`
	ModulesMonitored int       `json:"modules_monitored"`
	IsolatedCount    int       `json:"isolated_count"`
}
