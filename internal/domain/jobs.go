package domain

import "time"

// JobLock is a persistent lease enforcing single-leader job execution.
// It is expired once now - LockedAt exceeds its TTL.
type JobLock struct {
	Key      string    `json:"key" db:"key"`
	LockedBy string    `json:"locked_by" db:"locked_by"`
	LockedAt time.Time `json:"locked_at" db:"locked_at"`
	TTLSec   int       `json:"ttl_sec" db:"ttl_sec"`
}

func (l JobLock) ExpiresAt() time.Time {
	return l.LockedAt.Add(time.Duration(l.TTLSec) * time.Second)
}

func (l JobLock) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt())
}

// Heartbeat is a worker liveness row.
type Heartbeat struct {
	Worker   string    `json:"worker" db:"worker"`
	Host     string    `json:"host" db:"host"`
	PID      int       `json:"pid" db:"pid"`
	Jobs     []string  `json:"jobs" db:"jobs"`
	LastSeen time.Time `json:"last_seen" db:"last_seen"`
}

// System event levels.
const (
	EventInfo     = "INFO"
	EventWarn     = "WARN"
	EventError    = "ERROR"
	EventCritical = "CRITICAL"
)

// SystemEvent is an operator-facing audit row. CRITICAL events carry a
// correlation id and require an ack before the affected component
// produces output again.
type SystemEvent struct {
	ID            string                 `json:"id" db:"id"`
	Level         string                 `json:"level" db:"level"`
	Component     string                 `json:"component" db:"component"`
	Message       string                 `json:"message" db:"message"`
	CorrelationID string                 `json:"correlation_id" db:"correlation_id"`
	Details       map[string]interface{} `json:"details,omitempty"`
	Acked         bool                   `json:"acked" db:"acked"`
	CreatedAt     time.Time              `json:"created_at" db:"created_at"`
}
