package model

import "time"

// JobType selects which entity kind a research job targets.
type JobType string

const (
	JobTypePort     JobType = "port"
	JobTypeTerminal JobType = "terminal"
)

// JobStatus represents the current state of a research job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is a terminal state.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// ResearchJob is one unit of background research work against a single
// port or terminal operator. The persisted job row is the single source of
// truth for job state; nothing about a job's business result is held only
// in memory.
type ResearchJob struct {
	ID            string     `json:"id"`
	Type          JobType    `json:"type"`
	EntityID      string     `json:"entity_id"`
	ClusterID     string     `json:"cluster_id,omitempty"`
	Status        JobStatus  `json:"status"`
	Progress      int        `json:"progress"`
	Error         string     `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
}
