// Package protocol defines the bus payloads and subjects shared between the
// narration service and edge playback devices.
package protocol

import "time"

// JobRequest asks the service to narrate a text.
type JobRequest struct {
	JobID  string `json:"job_id,omitempty"`
	Text   string `json:"text"`
	Voice  string `json:"voice,omitempty"`
	Stream bool   `json:"stream"`
}

// SegmentReady carries one synthesized segment as soon as it exists.
type SegmentReady struct {
	JobID      string `json:"job_id"`
	Index      int    `json:"index"`
	Audio      []byte `json:"audio"`
	DurationMS int64  `json:"duration_ms"`
}

// JobStatus is a progress snapshot broadcast after every segment.
type JobStatus struct {
	JobID          string    `json:"job_id"`
	Status         string    `json:"status"`
	CurrentIndex   int       `json:"current_index"`
	TotalChunks    int       `json:"total_chunks"`
	CompletedCount int       `json:"completed_count"`
	Error          string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// JobComplete carries the final combined container, emitted once.
type JobComplete struct {
	JobID     string    `json:"job_id"`
	Audio     []byte    `json:"audio"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectJobSubmit    = "narrate.job.submit"
	SubjectSegmentReady = "narrate.job.segment"
	SubjectJobStatus    = "narrate.job.status"
	SubjectJobComplete  = "narrate.job.complete"
	SubjectJobFailed    = "narrate.job.failed"
)
