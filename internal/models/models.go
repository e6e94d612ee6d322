// Package models defines the records shared between the API handlers and the
// job stores.
package models

import "time"

// Job lifecycle states. A job moves pending -> processing -> ready|failed and
// never leaves a terminal state.
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusReady      = "ready"
	JobStatusFailed     = "failed"
)

// Job correlates one uploaded source file with its HLS conversion output.
// The ID doubles as the storage key: the stored upload is named after it and
// the output directory is v/<id> under the uploads root.
type Job struct {
	ID           string     `json:"id"`
	OriginalName string     `json:"originalName"`
	ContentType  string     `json:"contentType"`
	StoredName   string     `json:"storedName,omitempty"`
	SizeBytes    int64      `json:"sizeBytes"`
	Status       string     `json:"status"`
	PlaybackPath string     `json:"playbackPath,omitempty"`
	Error        string     `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

// Terminal reports whether the job has finished, successfully or not.
func (j Job) Terminal() bool {
	return j.Status == JobStatusReady || j.Status == JobStatusFailed
}
