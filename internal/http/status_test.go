package http

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tvshift/tvshift/internal/timeshift"
)

type fakeSessions struct {
	stats []timeshift.Stats
}

func (f *fakeSessions) Stats() []timeshift.Stats { return f.stats }
func (f *fakeSessions) Len() int                 { return len(f.stats) }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHealthz(t *testing.T) {
	_, api := humatest.New(t)
	NewStatusHandler(&fakeSessions{}, t.TempDir(), testLogger()).Register(api)

	resp := api.Get("/healthz")
	require.Equal(t, http.StatusOK, resp.Code)

	var body HealthResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
}

func TestStatusReportsSessions(t *testing.T) {
	sessions := &fakeSessions{
		stats: []timeshift.Stats{
			{
				SessionID:      "abc",
				Paused:         true,
				QueueCap:       400,
				PacketsWritten: 42,
				PacketsEvicted: 3,
				WrapGeneration: 2,
			},
		},
	}

	_, api := humatest.New(t)
	NewStatusHandler(sessions, t.TempDir(), testLogger()).Register(api)

	resp := api.Get("/api/v1/status")
	require.Equal(t, http.StatusOK, resp.Code)

	var body StatusResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))

	assert.Equal(t, 1, body.SessionCount)
	require.Len(t, body.Sessions, 1)
	assert.Equal(t, "abc", body.Sessions[0].SessionID)
	assert.True(t, body.Sessions[0].Paused)
	assert.Equal(t, uint64(3), body.Sessions[0].PacketsEvicted)
	assert.NotEmpty(t, body.Version.GoVersion)

	// t.TempDir lives on a real filesystem, so disk stats are present.
	require.NotNil(t, body.Disk)
	assert.Greater(t, body.Disk.TotalBytes, uint64(0))
}

func TestStatusEmptySessions(t *testing.T) {
	_, api := humatest.New(t)
	NewStatusHandler(&fakeSessions{}, t.TempDir(), testLogger()).Register(api)

	resp := api.Get("/api/v1/status")
	require.Equal(t, http.StatusOK, resp.Code)

	var body StatusResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, 0, body.SessionCount)
	assert.NotNil(t, body.Sessions)
}
