package link

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apis-edge-go/internal/config"
	"apis-edge-go/internal/models"
)

func linkConfig(serverURL string) *config.Config {
	return &config.Config{
		UnitID:            "test-unit",
		FirmwareVersion:   "0.9.0",
		ServerURL:         serverURL,
		APIKey:            "test-key",
		HeartbeatInterval: time.Minute,
		HeartbeatTimeout:  2 * time.Second,
		BootRetryCount:    3,
		BootRetryDelay:    10 * time.Millisecond,
	}
}

func staticStatus() models.HeartbeatRequest {
	return models.HeartbeatRequest{
		FirmwareVersion: "0.9.0",
		UptimeSeconds:   120,
		SpoolDepth:      3,
		Armed:           true,
	}
}

func TestHeartbeatSendsStatusAndAppliesConfig(t *testing.T) {
	var received models.HeartbeatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, heartbeatEndpoint, r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		armed := false
		radius := 60
		json.NewEncoder(w).Encode(models.HeartbeatResponse{
			ServerTime: time.Now().UTC().Format(time.RFC3339),
			Config: &models.HeartbeatConfig{
				Armed:         &armed,
				HoverRadiusPx: &radius,
			},
		})
	}))
	defer server.Close()

	var applied atomic.Pointer[models.HeartbeatConfig]
	s := New(linkConfig(server.URL), staticStatus, func(c models.HeartbeatConfig) {
		applied.Store(&c)
	})

	require.NoError(t, s.beat(context.Background()))

	assert.Equal(t, "0.9.0", received.FirmwareVersion)
	assert.Equal(t, 3, received.SpoolDepth)
	assert.True(t, received.Armed)

	delta := applied.Load()
	require.NotNil(t, delta)
	require.NotNil(t, delta.Armed)
	assert.False(t, *delta.Armed)
	require.NotNil(t, delta.HoverRadiusPx)
	assert.Equal(t, 60, *delta.HoverRadiusPx)

	state, lastSuccess := s.Status()
	assert.Equal(t, StatusOnline, state)
	assert.WithinDuration(t, time.Now(), lastSuccess, time.Second)
}

func TestHeartbeatFailureIsNonFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	s := New(linkConfig(server.URL), staticStatus, func(models.HeartbeatConfig) {
		t.Fatal("no config should be applied on failure")
	})

	assert.Error(t, s.beat(context.Background()))
	state, _ := s.Status()
	assert.Equal(t, StatusOffline, state)
}

func TestHeartbeatAuthFailureIsDistinct(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	s := New(linkConfig(server.URL), staticStatus, func(models.HeartbeatConfig) {})
	assert.Error(t, s.beat(context.Background()))
	state, _ := s.Status()
	assert.Equal(t, StatusAuthFailed, state)
}

func TestBootHeartbeatRetriesThenGivesUp(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	s := New(linkConfig(server.URL), staticStatus, func(models.HeartbeatConfig) {})
	s.Start(context.Background())

	// Three boot attempts, then the unit settles into interval mode.
	assert.Eventually(t, func() bool {
		return calls.Load() == 3
	}, 2*time.Second, 10*time.Millisecond)
	s.Stop()
	assert.Equal(t, int32(3), calls.Load())
}

func TestOfflineModeNeverCalls(t *testing.T) {
	s := New(linkConfig(""), staticStatus, func(models.HeartbeatConfig) {})
	s.Start(context.Background())
	s.Stop()

	state, _ := s.Status()
	assert.Equal(t, StatusDisabled, state)
}
