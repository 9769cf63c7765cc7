package types

import "time"

// DailyAllowanceSeconds is the per-key daily transcription allowance
// (8 hours of audio).
const DailyAllowanceSeconds = 28800

// JobStatus is the lifecycle state of a transcription job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobActive    JobStatus = "active"
	JobDone      JobStatus = "done"
	JobError     JobStatus = "error"
	JobCancelled JobStatus = "cancelled"
)

// KeyAssignment identifies the credential a job is currently using. VisualID
// is the key's 1-based position within its owner's list and exists for
// display and log correlation only.
type KeyAssignment struct {
	Key      string `json:"key"`
	VisualID int    `json:"id"`
	Owner    string `json:"owner,omitempty"`
}

// Job is the persisted record of one transcription job. Runtime controls
// (cancellation, resume signalling) live in the scheduler's RunState and are
// never serialized.
type Job struct {
	ID           string         `json:"id"`
	FileName     string         `json:"fileName"`
	FileSize     int64          `json:"fileSize,omitempty"`
	SourcePath   string         `json:"sourcePath,omitempty"`
	Model        string         `json:"model,omitempty"`
	Agent        string         `json:"agent"`
	AgentID      string         `json:"agentId"`
	CreatedAt    time.Time      `json:"createdAt"`
	Status       JobStatus      `json:"status"`
	Paused       bool           `json:"paused"`
	Progress     int            `json:"progress"`
	ProgressStep string         `json:"progressStep,omitempty"`
	StatusText   string         `json:"statusText,omitempty"`
	AssignedKey  *KeyAssignment `json:"assignedKey,omitempty"`
	DocPath      string         `json:"docPath,omitempty"`
	Downloaded   bool           `json:"downloaded"`
	Duration     float64        `json:"duration,omitempty"`
}

// Segment is one transcribed span of audio in seconds.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
	Role  string  `json:"role,omitempty"`
}

// HistoryRecord is one append-only completion entry.
type HistoryRecord struct {
	Agent     string    `json:"agent"`
	Filename  string    `json:"filename"`
	Duration  float64   `json:"duration"`
	Timestamp time.Time `json:"timestamp"`
}
