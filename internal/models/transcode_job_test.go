package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscodeJobStateTerminal(t *testing.T) {
	assert.False(t, JobStateQueued.Terminal())
	assert.False(t, JobStateStarting.Terminal())
	assert.False(t, JobStateRunning.Terminal())
	assert.True(t, JobStateCompleted.Terminal())
	assert.True(t, JobStateFailed.Terminal())
	assert.True(t, JobStateCancelled.Terminal())
}

func TestTranscodeJobRecordLifecycle(t *testing.T) {
	j := TranscodeJobRecord{
		SessionID: NewULID(),
		MediaPath: "/media/movie.mkv",
		Profile:   "1080p",
		State:     JobStateQueued,
	}

	j.MarkStarting()
	assert.Equal(t, JobStateStarting, j.State)
	assert.Equal(t, 1, j.AttemptCount)
	require.NotNil(t, j.StartedAt)

	j.MarkRunning()
	assert.Equal(t, JobStateRunning, j.State)
	assert.False(t, j.IsFinished())

	j.MarkCompleted()
	assert.Equal(t, JobStateCompleted, j.State)
	assert.True(t, j.IsFinished())
	require.NotNil(t, j.FinishedAt)
	assert.Empty(t, j.LastError)
}

func TestTranscodeJobRecordFailure(t *testing.T) {
	j := TranscodeJobRecord{SessionID: NewULID(), MediaPath: "/media/movie.mkv", Profile: "720p"}

	j.MarkStarting()
	j.MarkFailed(errors.New("encoder exited with code 1"))

	assert.Equal(t, JobStateFailed, j.State)
	assert.True(t, j.IsFinished())
	assert.Equal(t, "encoder exited with code 1", j.LastError)
}

func TestTranscodeJobRecordCancelled(t *testing.T) {
	j := TranscodeJobRecord{SessionID: NewULID(), MediaPath: "/media/movie.mkv", Profile: "720p"}

	j.MarkStarting()
	j.MarkCancelled()

	assert.Equal(t, JobStateCancelled, j.State)
	assert.True(t, j.IsFinished())
}

func TestTranscodeJobRecordValidate(t *testing.T) {
	valid := TranscodeJobRecord{SessionID: NewULID(), MediaPath: "/media/movie.mkv", Profile: "480p"}
	assert.NoError(t, valid.Validate())

	missing := valid
	missing.SessionID = ULID{}
	assert.ErrorIs(t, missing.Validate(), ErrSessionIDRequired)

	missing = valid
	missing.MediaPath = ""
	assert.ErrorIs(t, missing.Validate(), ErrMediaPathRequired)

	missing = valid
	missing.Profile = ""
	assert.ErrorIs(t, missing.Validate(), ErrProfileRequired)
}
