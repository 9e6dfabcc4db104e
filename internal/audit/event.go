package audit

import (
	"time"
)

// EventType represents the type of audit event
type EventType string

const (
	EventTypeAuthzCheck    EventType = "authz_check"
	EventTypePolicyChange  EventType = "policy_change"
	EventTypeSystemStartup EventType = "system_startup"
	EventTypeSystemShutdown EventType = "system_shutdown"
)

// Decision represents authorization decision
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
)

// Event represents a generic audit event
type Event struct {
	Timestamp time.Time              `json:"timestamp"`
	EventType EventType              `json:"event_type"`
	EventID   string                 `json:"event_id"`
	RequestID string                 `json:"request_id,omitempty"`
	TraceID   string                 `json:"trace_id,omitempty"`
	SpanID    string                 `json:"span_id,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// AuthzCheckEvent represents authorization check event
type AuthzCheckEvent struct {
	Timestamp   time.Time              `json:"timestamp"`
	EventType   EventType              `json:"event_type"`
	EventID     string                 `json:"event_id"`
	RequestID   string                 `json:"request_id,omitempty"`
	TraceID     string                 `json:"trace_id,omitempty"`
	SpanID      string                 `json:"span_id,omitempty"`
	Principal   Principal              `json:"principal"`
	Resource    Resource               `json:"resource"`
	Action      string                 `json:"action"`
	Decision    Decision               `json:"decision"`
	Policies    []PolicyMatch          `json:"policies,omitempty"`
	Performance Performance            `json:"performance"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Hash        string                 `json:"hash,omitempty"`
	PrevHash    string                 `json:"prev_hash,omitempty"`
}

// Principal represents the entity making the request
type Principal struct {
	ID         string                 `json:"id"`
	Roles      []string               `json:"roles,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// Resource represents the resource being accessed
type Resource struct {
	Kind       string                 `json:"kind"`
	ID         string                 `json:"id"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// PolicyMatch represents a matched policy
type PolicyMatch struct {
	ID      string `json:"id"`
	Version string `json:"version"`
	Matched bool   `json:"matched"`
}

// Performance contains performance metrics
type Performance struct {
	DurationUs int64 `json:"duration_us"`
	CacheHit   bool  `json:"cache_hit"`
}

// PolicyChangeEvent represents policy change event
type PolicyChangeEvent struct {
	Timestamp     time.Time              `json:"timestamp"`
	EventType     EventType              `json:"event_type"`
	EventID       string                 `json:"event_id"`
	RequestID     string                 `json:"request_id,omitempty"`
	Operation     string                 `json:"operation"` // reload_success, reload_failure
	PolicyID      string                 `json:"policy_id"`
	PolicyVersion string                 `json:"policy_version"`
	Actor         Actor                  `json:"actor"`
	Changes       interface{}            `json:"changes,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// Actor represents the entity performing an action
type Actor struct {
	ID    string   `json:"id"`
	Roles []string `json:"roles,omitempty"`
}

// PolicyChange represents one Reloader attempt to publish a snapshot and
// whether it succeeded.
type PolicyChange struct {
	Operation     string // "reload_success" | "reload_failure"
	PolicyVersion string // snapshot version marker
	ActorID       string // reload trigger: "startup", "scheduled", "manual" or "fs_event"
	ActorRoles    []string
	Changes       interface{} // error text of a failed reload; unset on success
	SourceIP      string
	UserAgent     string
}
