package models

import "gorm.io/gorm"

// TranscodeJobState is the lifecycle state of a transcode job record.
// The in-memory job drives the transitions; the record mirrors them.
type TranscodeJobState string

const (
	// JobStateQueued indicates the job is waiting for an encode slot.
	JobStateQueued TranscodeJobState = "queued"
	// JobStateStarting indicates the encoder process is being launched.
	JobStateStarting TranscodeJobState = "starting"
	// JobStateRunning indicates the encoder is producing segments.
	JobStateRunning TranscodeJobState = "running"
	// JobStateCompleted indicates the encoder finished the whole input.
	JobStateCompleted TranscodeJobState = "completed"
	// JobStateFailed indicates the job failed after exhausting retries.
	JobStateFailed TranscodeJobState = "failed"
	// JobStateCancelled indicates the job was cancelled.
	JobStateCancelled TranscodeJobState = "cancelled"
)

// Terminal returns true for states a job never leaves.
func (s TranscodeJobState) Terminal() bool {
	switch s {
	case JobStateCompleted, JobStateFailed, JobStateCancelled:
		return true
	}
	return false
}

// TranscodeJobRecord is the persisted history of a transcode job.
type TranscodeJobRecord struct {
	BaseModel

	// SessionID is the playback session this job serves.
	SessionID ULID `gorm:"not null;type:varchar(26);index" json:"session_id"`

	// MediaPath is the source file being transcoded.
	MediaPath string `gorm:"not null;size:1024" json:"media_path"`

	// Profile is the quality profile the job encodes to.
	Profile string `gorm:"not null;size:50" json:"profile"`

	// State is the current lifecycle state.
	State TranscodeJobState `gorm:"not null;default:'queued';size:20;index" json:"state"`

	// StartedAt is when the encoder process launched.
	StartedAt *Time `json:"started_at,omitempty"`

	// FinishedAt is when the job reached a terminal state.
	FinishedAt *Time `json:"finished_at,omitempty"`

	// SegmentsProduced counts segments emitted by the encoder.
	SegmentsProduced int `gorm:"default:0" json:"segments_produced"`

	// AttemptCount is how many encoder launches this job has made.
	AttemptCount int `gorm:"default:0" json:"attempt_count"`

	// MaxAttempts bounds automatic retries with profile degradation.
	MaxAttempts int `gorm:"default:2" json:"max_attempts"`

	// LastError is the error message from the most recent failure.
	LastError string `gorm:"size:4096" json:"last_error,omitempty"`

	// ExitCode is the encoder process exit code, when it exited.
	ExitCode *int `json:"exit_code,omitempty"`
}

// TableName returns the table name for TranscodeJobRecord.
func (TranscodeJobRecord) TableName() string {
	return "transcode_jobs"
}

// IsFinished returns true once the job reached a terminal state.
func (j *TranscodeJobRecord) IsFinished() bool {
	return j.State.Terminal()
}

// MarkStarting records an encoder launch attempt.
func (j *TranscodeJobRecord) MarkStarting() {
	j.State = JobStateStarting
	now := Now()
	j.StartedAt = &now
	j.AttemptCount++
}

// MarkRunning records the first segment or heartbeat from the encoder.
func (j *TranscodeJobRecord) MarkRunning() {
	j.State = JobStateRunning
}

// MarkCompleted records a clean encoder exit after the final segment.
func (j *TranscodeJobRecord) MarkCompleted() {
	j.State = JobStateCompleted
	now := Now()
	j.FinishedAt = &now
	j.LastError = ""
}

// MarkFailed records a terminal failure.
func (j *TranscodeJobRecord) MarkFailed(err error) {
	j.State = JobStateFailed
	now := Now()
	j.FinishedAt = &now
	if err != nil {
		j.LastError = err.Error()
	}
}

// MarkCancelled records a cancellation.
func (j *TranscodeJobRecord) MarkCancelled() {
	j.State = JobStateCancelled
	now := Now()
	j.FinishedAt = &now
}

// Validate performs basic validation on the job record.
func (j *TranscodeJobRecord) Validate() error {
	if j.SessionID.IsZero() {
		return ErrSessionIDRequired
	}
	if j.MediaPath == "" {
		return ErrMediaPathRequired
	}
	if j.Profile == "" {
		return ErrProfileRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the record and generates a ULID.
func (j *TranscodeJobRecord) BeforeCreate(tx *gorm.DB) error {
	if err := j.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return j.Validate()
}

// BeforeUpdate is a GORM hook that validates the record before update.
func (j *TranscodeJobRecord) BeforeUpdate(tx *gorm.DB) error {
	return j.Validate()
}
