package link

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"apis-edge-go/internal/config"
	"apis-edge-go/internal/logging"
	"apis-edge-go/internal/models"
)

const heartbeatEndpoint = "/api/units/heartbeat"

// ServerStatus summarizes the last heartbeat outcome.
type ServerStatus string

const (
	StatusDisabled   ServerStatus = "disabled"
	StatusUnknown    ServerStatus = "unknown"
	StatusOnline     ServerStatus = "online"
	StatusOffline    ServerStatus = "offline"
	StatusAuthFailed ServerStatus = "auth_failed"
)

// StatusFunc assembles the current heartbeat request body.
type StatusFunc func() models.HeartbeatRequest

// ApplyFunc hands validated configuration deltas to the processing context,
// which applies them between cycles.
type ApplyFunc func(models.HeartbeatConfig)

// Service is the link supervisor: a heartbeat on a fixed interval, fully
// decoupled from detection and safety. A dead server costs nothing but log
// lines.
type Service struct {
	client *http.Client
	logger zerolog.Logger

	baseURL   string
	apiKey    string
	interval  time.Duration
	bootTries int
	bootDelay time.Duration

	status StatusFunc
	apply  ApplyFunc

	mu          sync.Mutex
	serverState ServerStatus
	lastSuccess time.Time

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func New(cfg *config.Config, status StatusFunc, apply ApplyFunc) *Service {
	state := StatusUnknown
	if cfg.ServerURL == "" {
		state = StatusDisabled
	}
	return &Service{
		client:      &http.Client{Timeout: cfg.HeartbeatTimeout},
		logger:      logging.NewServiceLogger(cfg, "link"),
		baseURL:     cfg.ServerURL,
		apiKey:      cfg.APIKey,
		interval:    cfg.HeartbeatInterval,
		bootTries:   cfg.BootRetryCount,
		bootDelay:   cfg.BootRetryDelay,
		status:      status,
		apply:       apply,
		serverState: state,
	}
}

// Start launches the heartbeat loop. With no server configured the unit
// runs in permanent offline mode.
func (s *Service) Start(ctx context.Context) {
	if s.baseURL == "" {
		s.logger.Info().Msg("No server configured, heartbeats disabled (offline mode)")
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx)
}

func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Status reports the link state for the status endpoint.
func (s *Service) Status() (ServerStatus, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverState, s.lastSuccess
}

func (s *Service) run(ctx context.Context) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("Heartbeat loop panicked")
		}
	}()

	// The boot heartbeat gets a few quick retries so a slow router after a
	// power cut does not cost a full interval.
	for attempt := 1; ; attempt++ {
		if err := s.beat(ctx); err == nil {
			break
		} else if attempt >= s.bootTries {
			s.logger.Warn().Err(err).
				Int("attempts", attempt).
				Msg("Boot heartbeat failed, continuing offline")
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.bootDelay):
		}
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.beat(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("Heartbeat failed, retrying next interval")
			}
		}
	}
}

func (s *Service) beat(ctx context.Context) error {
	resp, err := s.sendHeartbeat(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.serverState = StatusOnline
	s.lastSuccess = time.Now()
	s.mu.Unlock()

	if resp.TimeDriftMS > 2000 || resp.TimeDriftMS < -2000 {
		s.logger.Warn().
			Int64("drift_ms", resp.TimeDriftMS).
			Str("server_time", resp.ServerTime).
			Msg("Local clock drifting from server")
	}
	if resp.UpdateAvailable {
		s.logger.Info().Str("url", resp.UpdateURL).Msg("Firmware update available")
	}
	if resp.Config != nil {
		s.logger.Info().Msg("Configuration delta received, applying next cycle")
		s.apply(*resp.Config)
	}
	return nil
}

func (s *Service) sendHeartbeat(ctx context.Context) (*models.HeartbeatResponse, error) {
	body, err := json.Marshal(s.status())
	if err != nil {
		return nil, fmt.Errorf("encoding heartbeat: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+heartbeatEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building heartbeat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", s.apiKey)

	httpResp, err := s.client.Do(req)
	if err != nil {
		s.markDown(StatusOffline)
		return nil, fmt.Errorf("sending heartbeat: %w", err)
	}
	defer httpResp.Body.Close()

	switch {
	case httpResp.StatusCode == http.StatusUnauthorized:
		s.markDown(StatusAuthFailed)
		io.Copy(io.Discard, httpResp.Body)
		return nil, fmt.Errorf("heartbeat rejected: api key invalid")
	case httpResp.StatusCode < 200 || httpResp.StatusCode >= 300:
		s.markDown(StatusOffline)
		io.Copy(io.Discard, httpResp.Body)
		return nil, fmt.Errorf("heartbeat rejected: status %d", httpResp.StatusCode)
	}

	var resp models.HeartbeatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		s.markDown(StatusOffline)
		return nil, fmt.Errorf("decoding heartbeat response: %w", err)
	}
	return &resp, nil
}

func (s *Service) markDown(state ServerStatus) {
	s.mu.Lock()
	s.serverState = state
	s.mu.Unlock()
}
