package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apis-edge-go/internal/config"
	"apis-edge-go/internal/models"
	"apis-edge-go/internal/services"
)

func apiFixture(t *testing.T) (*Server, *services.ServiceContainer) {
	t.Helper()

	dir := t.TempDir()
	cfg := config.Load()
	cfg.UnitID = "test-unit"
	cfg.Port = 0
	cfg.NatsEnabled = false
	cfg.ActuatorPort = ""
	cfg.SyntheticCamera = true
	cfg.ServerURL = ""
	cfg.DataDir = dir
	cfg.ClipDir = filepath.Join(dir, "clips")
	cfg.DBPath = filepath.Join(dir, "events.db")
	cfg.CalibrationPath = filepath.Join(dir, "calibration.json")

	container, err := services.NewServiceContainer(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { container.Shutdown(context.Background()) })

	srv := NewServer(cfg, container)
	require.NoError(t, srv.Setup())
	return srv, container
}

func doRequest(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.GetServer().Handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndStatus(t *testing.T) {
	srv, _ := apiFixture(t)

	rec := doRequest(t, srv, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var health map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, "test-unit", health["unit_id"])

	rec = doRequest(t, srv, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status services.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "test-unit", status.UnitID)
	assert.False(t, status.Armed)
	assert.Equal(t, "idle", status.GateState)
	assert.Equal(t, "disabled", status.ServerStatus)
}

func TestArmDisarmRoundTrip(t *testing.T) {
	srv, container := apiFixture(t)

	rec := doRequest(t, srv, http.MethodPost, "/arm", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, container.Gate.Armed())

	rec = doRequest(t, srv, http.MethodPost, "/disarm", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, container.Gate.Armed())
}

func TestArmRefusedWhileLocked(t *testing.T) {
	srv, container := apiFixture(t)
	container.Gate.ForceLock(models.LockKillSwitch)

	rec := doRequest(t, srv, http.MethodPost, "/arm", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "kill_switch")
}

func TestSafetyResetLeavesUnitDisarmed(t *testing.T) {
	srv, container := apiFixture(t)
	container.Gate.ForceLock(models.LockBrownout)

	rec := doRequest(t, srv, http.MethodPost, "/safety/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "idle", resp["gate_state"])
	assert.Equal(t, false, resp["armed"])
}

func TestRecentEvents(t *testing.T) {
	srv, container := apiFixture(t)

	for i := 0; i < 3; i++ {
		event := models.DetectionEvent{
			ID:         uuid.New().String(),
			Timestamp:  time.Now().Add(time.Duration(i) * time.Second),
			Confidence: models.ConfidenceHigh,
			W:          30, H: 28, Area: 640,
			LaserFired: i%2 == 0,
		}
		require.NoError(t, container.Store.InsertEvent(event))
	}

	rec := doRequest(t, srv, http.MethodGet, "/events?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Events []models.DetectionEvent `json:"events"`
		Count  int                     `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	require.Len(t, resp.Events, 2)
	// Newest first.
	assert.True(t, resp.Events[0].Timestamp.After(resp.Events[1].Timestamp))

	rec = doRequest(t, srv, http.MethodGet, "/events?limit=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConfigEndpointOmitsCredentials(t *testing.T) {
	srv, container := apiFixture(t)
	container.Config.APIKey = "secret-key"

	rec := doRequest(t, srv, http.MethodGet, "/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret-key")

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.EqualValues(t, 25, resp["diff_threshold"])
	assert.EqualValues(t, 10000, resp["max_fire_ms"])
}

func TestCalibrationEndpoints(t *testing.T) {
	srv, container := apiFixture(t)
	require.NoError(t, container.Start(context.Background()))

	rec := doRequest(t, srv, http.MethodGet, "/calibration", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var profile models.CalibrationProfile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &profile))
	assert.Equal(t, 640, profile.FrameWidth)

	body := map[string]any{
		"points": []models.CalibrationPoint{
			{
				Pixel: models.PixelCoord{X: 320, Y: 240},
				Angle: models.ServoPosition{PanDeg: 3, TiltDeg: -4},
			},
		},
	}
	rec = doRequest(t, srv, http.MethodPost, "/calibration", body)
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &profile))
	assert.InDelta(t, 3, profile.OffsetPan, 1e-9)
	assert.InDelta(t, -4, profile.OffsetTilt, 1e-9)

	rec = doRequest(t, srv, http.MethodPost, "/calibration", map[string]any{"points": []any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
