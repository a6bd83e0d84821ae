package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"apis-edge-go/internal/config"
	"apis-edge-go/internal/logging"
	"apis-edge-go/internal/models"
	"apis-edge-go/internal/services/spool"
)

const (
	clipEndpoint  = "/api/units/clips"
	eventEndpoint = "/api/units/events"
)

// Service drains the upload spool toward the companion server. One upload
// is in flight at a time, and nothing here ever blocks or fails the
// processing cycle: an unreachable server just means the spool sits.
type Service struct {
	spool  *spool.Service
	client *http.Client
	logger zerolog.Logger

	baseURL string
	apiKey  string

	retryMin  time.Duration
	retryMax  time.Duration
	slowMin   time.Duration
	slowMax   time.Duration
	jitterPct int

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func New(cfg *config.Config, sp *spool.Service) *Service {
	return &Service{
		spool:     sp,
		client:    &http.Client{Timeout: cfg.UploadTimeout},
		logger:    logging.NewServiceLogger(cfg, "uploader"),
		baseURL:   cfg.ServerURL,
		apiKey:    cfg.APIKey,
		retryMin:  cfg.EventRetryMin,
		retryMax:  cfg.EventRetryMax,
		slowMin:   cfg.ClipRetryMin,
		slowMax:   cfg.ClipRetryMax,
		jitterPct: cfg.RetryJitterPct,
	}
}

// Start launches the drain loop. With no server configured the unit is in
// permanent offline mode and the loop never starts; the spool still logs
// and bounds itself.
func (s *Service) Start(ctx context.Context) {
	if s.baseURL == "" {
		s.logger.Info().Msg("No server configured, uploads disabled (offline mode)")
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.drainLoop(ctx)
}

func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Service) drainLoop(ctx context.Context) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("Upload loop panicked")
		}
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			entry := s.spool.Next(time.Now())
			if entry == nil {
				continue
			}
			s.uploadEntry(ctx, entry)
		}
	}
}

// uploadEntry attempts one entry and interprets the server response rather
// than collapsing it to success or failure.
func (s *Service) uploadEntry(ctx context.Context, entry *models.UploadSpoolEntry) {
	status, err := s.post(ctx, entry)
	now := time.Now()

	switch {
	case err != nil:
		retry := s.backoff(entry.Attempts + 1)
		s.logger.Warn().Err(err).
			Str("event_id", entry.Event.ID).
			Int("attempts", entry.Attempts+1).
			Dur("retry_in", retry).
			Msg("Upload attempt failed")
		s.spool.Defer(entry.Event.ID, now.Add(retry), true)

	case status >= 200 && status < 300:
		s.logger.Info().
			Str("event_id", entry.Event.ID).
			Bool("with_clip", entry.ClipPath != "").
			Msg("Upload acknowledged")
		s.spool.Ack(entry.Event.ID)

	case status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable:
		// Server pushback is not a failure of this entry.
		retry := s.backoff(entry.Attempts + 1)
		s.logger.Debug().
			Int("status", status).
			Dur("retry_in", retry).
			Msg("Server busy, backing off")
		s.spool.Defer(entry.Event.ID, now.Add(retry), false)

	case status == http.StatusRequestEntityTooLarge && entry.ClipPath != "":
		// Retrying the same oversized clip can never succeed.
		s.logger.Warn().
			Str("event_id", entry.Event.ID).
			Str("clip", entry.ClipPath).
			Msg("Clip rejected as too large, dropping clip permanently")
		s.spool.DropClip(entry.Event.ID)

	default:
		retry := s.backoff(entry.Attempts + 1)
		s.logger.Warn().
			Int("status", status).
			Str("event_id", entry.Event.ID).
			Dur("retry_in", retry).
			Msg("Upload rejected")
		s.spool.Defer(entry.Event.ID, now.Add(retry), true)
	}
}

func (s *Service) post(ctx context.Context, entry *models.UploadSpoolEntry) (int, error) {
	if entry.ClipPath != "" {
		return s.postClip(ctx, entry)
	}
	return s.postEvent(ctx, entry.Event)
}

func (s *Service) postEvent(ctx context.Context, event models.DetectionEvent) (int, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("encoding event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+eventEndpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("building event request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("posting event: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func (s *Service) postClip(ctx context.Context, entry *models.UploadSpoolEntry) (int, error) {
	clip, err := os.Open(entry.ClipPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Clip vanished underneath us (eviction race); fall back to
			// metadata only.
			s.spool.DropClip(entry.Event.ID)
		}
		return 0, fmt.Errorf("opening clip: %w", err)
	}
	defer clip.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("detection_id", entry.Event.ID); err != nil {
		return 0, fmt.Errorf("writing detection_id field: %w", err)
	}
	meta, err := json.Marshal(entry.Event)
	if err != nil {
		return 0, fmt.Errorf("encoding event metadata: %w", err)
	}
	if err := writer.WriteField("metadata", string(meta)); err != nil {
		return 0, fmt.Errorf("writing metadata field: %w", err)
	}

	part, err := writer.CreateFormFile("clip", filepath.Base(entry.ClipPath))
	if err != nil {
		return 0, fmt.Errorf("creating clip part: %w", err)
	}
	if _, err := io.Copy(part, clip); err != nil {
		return 0, fmt.Errorf("reading clip: %w", err)
	}
	if err := writer.Close(); err != nil {
		return 0, fmt.Errorf("finishing multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+clipEndpoint, &body)
	if err != nil {
		return 0, fmt.Errorf("building clip request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-API-Key", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("posting clip: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// backoff doubles per attempt on the fast schedule, then moves to the slow
// schedule once the fast one saturates, with jitter so a fleet coming back
// online does not retry in lockstep.
func (s *Service) backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}

	d := s.retryMin
	for i := 1; i < attempts && d < s.retryMax; i++ {
		d *= 2
	}
	if d >= s.retryMax {
		// Long-lived entries retry on the slow schedule.
		d = s.slowMin
		for i := 7; i < attempts && d < s.slowMax; i++ {
			d *= 2
		}
		if d > s.slowMax {
			d = s.slowMax
		}
	}

	if s.jitterPct > 0 {
		span := int64(d) * int64(s.jitterPct) / 100
		if span > 0 {
			d += time.Duration(rand.Int63n(2*span) - span)
		}
	}
	return d
}
