package stores

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a cache or history lookup matches nothing.
var ErrNotFound = errors.New("not found")

// Artifact is one cached algorithm artifact.
type Artifact struct {
	ID          string    `json:"id"`
	Archetype   string    `json:"archetype"`
	WorldSize   int       `json:"world_size"`
	Collective  string    `json:"collective"`
	Content     []byte    `json:"content"`
	ContentHash string    `json:"content_hash"`
	CreatedAt   time.Time `json:"created_at"`
}

// RunStatus represents the lifecycle state of an init run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run records one autosynth init attempt.
type Run struct {
	ID          string     `json:"id"`
	Tier        string     `json:"tier"`
	Rank        int        `json:"rank"`
	WorldSize   int        `json:"world_size"`
	Archetype   string     `json:"archetype"`
	Status      RunStatus  `json:"status"`
	CacheHit    bool       `json:"cache_hit"`
	Error       *string    `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
