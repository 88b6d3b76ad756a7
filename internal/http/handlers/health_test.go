package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playout-media/playout/internal/streaming"
)

func TestHealthHandlerGetHealth(t *testing.T) {
	handler := NewHealthHandler("1.0.0")

	out, err := handler.GetHealth(context.Background(), &HealthInput{})
	require.NoError(t, err)
	require.NotNil(t, out)

	assert.Equal(t, "healthy", out.Body.Status)
	assert.Equal(t, "1.0.0", out.Body.Version)
	assert.NotEmpty(t, out.Body.Uptime)
	assert.NotZero(t, out.Body.CPUInfo.Cores)

	// Without wiring, component health is unknown rather than failed.
	assert.Equal(t, "unknown", out.Body.Components.Database.Status)
	assert.Equal(t, "unknown", out.Body.Components.Transcoder.Status)
}

func TestHealthHandlerReportsPool(t *testing.T) {
	pool := streaming.NewWorkerPool(3, 4, nil)
	pool.Start(context.Background())
	t.Cleanup(func() { pool.Shutdown(context.Background()) })

	handler := NewHealthHandler("1.0.0").
		WithPool(pool).
		WithSessionCounter(func() int { return 2 })

	out, err := handler.GetHealth(context.Background(), &HealthInput{})
	require.NoError(t, err)

	assert.Equal(t, "ok", out.Body.Components.Transcoder.Status)
	assert.Equal(t, 3, out.Body.Components.Transcoder.Capacity)
	assert.Equal(t, 2, out.Body.Components.Sessions)
	assert.Equal(t, "ok", out.Body.Checks["transcoder"])
}
