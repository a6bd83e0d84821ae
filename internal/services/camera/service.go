package camera

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"apis-edge-go/internal/config"
	"apis-edge-go/internal/models"
)

// Service owns the capture context: it polls the FrameSource at the target
// cadence and publishes each frame to a single-slot handoff where the newest
// frame overwrites an unconsumed older one. The pipeline is intentionally
// lossy under load instead of building a backlog.
type Service struct {
	cfg    *config.Config
	logger zerolog.Logger
	source FrameSource

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Frame buffer ring. Three buffers cover the writer, the slot and the
	// consumer without copies.
	ring    [3]models.Frame
	ringIdx int

	slotMu sync.Mutex
	slot   *models.Frame

	healthy   atomic.Bool
	captured  atomic.Uint64
	overwrote atomic.Uint64
}

func NewService(cfg *config.Config, logger zerolog.Logger, source FrameSource) *Service {
	s := &Service{
		cfg:    cfg,
		logger: logger,
		source: source,
	}
	for i := range s.ring {
		s.ring[i].BGR = make([]byte, cfg.FrameWidth*cfg.FrameHeight*3)
	}
	return s
}

func (s *Service) Start() {
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.wg.Add(1)
	go s.captureLoop()
}

func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	if err := s.source.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("Error closing frame source")
	}
}

// TakeLatest removes and returns the newest unconsumed frame, or nil when no
// new frame arrived since the last call. The returned buffer belongs to the
// caller until the ring cycles; it must be consumed within one cycle.
func (s *Service) TakeLatest() *models.Frame {
	s.slotMu.Lock()
	defer s.slotMu.Unlock()
	f := s.slot
	s.slot = nil
	return f
}

// Healthy reports whether the last capture attempt succeeded.
func (s *Service) Healthy() bool {
	return s.healthy.Load()
}

// Stats returns captured and overwritten frame counts.
func (s *Service) Stats() (captured, overwritten uint64) {
	return s.captured.Load(), s.overwrote.Load()
}

func (s *Service) captureLoop() {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("Capture loop panic recovered")
		}
	}()

	interval := time.Second / time.Duration(s.cfg.TargetFPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info().
		Int("width", s.cfg.FrameWidth).
		Int("height", s.cfg.FrameHeight).
		Int("fps", s.cfg.TargetFPS).
		Msg("Capture loop started")

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Info().Msg("Capture loop stopping")
			return
		case <-ticker.C:
			if !s.captureOne() {
				// Hardware failure: retry on a slow backoff so a dead
				// camera does not spin the loop. Detection is suppressed
				// meanwhile; the rest of the system keeps running.
				if !s.sleepOrDone(s.cfg.CameraRetry) {
					return
				}
			}
		}
	}
}

func (s *Service) captureOne() bool {
	frame := &s.ring[s.ringIdx]
	err := s.source.NextFrame(frame)
	if err != nil {
		if s.healthy.Swap(false) {
			s.logger.Error().Err(err).
				Dur("retry_in", s.cfg.CameraRetry).
				Msg("Frame source unavailable")
		}
		return false
	}

	if !s.healthy.Swap(true) {
		s.logger.Info().Msg("Frame source recovered")
	}
	s.captured.Add(1)
	s.ringIdx = (s.ringIdx + 1) % len(s.ring)

	s.slotMu.Lock()
	if s.slot != nil {
		s.overwrote.Add(1)
	}
	s.slot = frame
	s.slotMu.Unlock()
	return true
}

func (s *Service) sleepOrDone(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
