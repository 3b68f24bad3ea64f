package flow

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a flow.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Key is the composite identity of a flow. Uniqueness per key is
// load-bearing: a second caller creating the same key joins the in-flight
// flow instead of starting another one.
type Key struct {
	Namespace string
	Type      string
	ID        string
}

// String renders the key for log and error messages.
func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Namespace, k.Type, k.ID)
}

// State is one tracked asynchronous flow. Exactly one of the three legs
// holds at any time: PENDING; COMPLETED with Result; FAILED with Err.
type State[T any] struct {
	// Type mirrors the key's flow type for callers holding only the state.
	Type string `json:"type"`

	// Status is PENDING until the flow reaches a terminal state.
	Status Status `json:"status"`

	// Metadata is caller-supplied context attached at creation.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// CreatedAt is when the flow entered PENDING.
	CreatedAt time.Time `json:"created_at"`

	// Result holds the outcome, valid only when Status is COMPLETED.
	Result T `json:"result,omitempty"`

	// Err holds the failure reason, set only when Status is FAILED.
	Err string `json:"error,omitempty"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`

	// TTL bounds both the cache lifetime of this state and how long a
	// monitor waits before giving up.
	TTL time.Duration `json:"-"`
}
