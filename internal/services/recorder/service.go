package recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"apis-edge-go/internal/config"
	"apis-edge-go/internal/logging"
	"apis-edge-go/internal/models"
)

// Service records short MJPEG clips around detections. A small ring of
// recent frames provides pre-trigger context, so a clip shows the hornet
// arriving, not just the moment the gate fired.
//
// Frames are copied onto a channel and encoded by a background worker; a
// slow SD card drops clip frames, never control cycles.
type Service struct {
	mu      sync.Mutex
	ring    []ringFrame
	ringPos int
	active  bool
	pending int

	clipDir   string
	preroll   int
	maxFrames int
	fps       float64
	width     int
	height    int
	logger    zerolog.Logger

	frames chan ringFrame
	done   chan struct{}
	wg     sync.WaitGroup
}

type ringFrame struct {
	bgr []byte
}

func New(cfg *config.Config) *Service {
	return &Service{
		ring:      make([]ringFrame, 0, cfg.ClipPreroll),
		clipDir:   cfg.ClipDir,
		preroll:   cfg.ClipPreroll,
		maxFrames: cfg.ClipMaxFrames,
		fps:       float64(cfg.TargetFPS),
		width:     cfg.FrameWidth,
		height:    cfg.FrameHeight,
		logger:    logging.NewServiceLogger(cfg, "recorder"),
	}
}

// Push records a frame into the pre-trigger ring and, while a clip is
// active, appends it to the clip.
func (s *Service) Push(frame *models.Frame) {
	cp := ringFrame{bgr: append([]byte(nil), frame.BGR...)}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.ring) < s.preroll {
		s.ring = append(s.ring, cp)
	} else if s.preroll > 0 {
		s.ring[s.ringPos] = cp
		s.ringPos = (s.ringPos + 1) % s.preroll
	}

	if !s.active {
		return
	}
	s.enqueue(cp)
	s.pending--
	if s.pending <= 0 {
		s.finishLocked("length limit")
	}
}

// Begin starts a clip for a detection and returns its destination path. The
// pre-trigger ring is flushed into the clip first.
func (s *Service) Begin(eventID string, at time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return "", fmt.Errorf("clip already recording")
	}
	if err := os.MkdirAll(s.clipDir, 0o755); err != nil {
		return "", fmt.Errorf("creating clip dir: %w", err)
	}

	path := filepath.Join(s.clipDir,
		fmt.Sprintf("clip_%s_%s.avi", at.UTC().Format("20060102T150405"), eventID[:8]))

	s.frames = make(chan ringFrame, s.maxFrames+s.preroll)
	s.done = make(chan struct{})
	s.wg.Add(1)
	go s.writeClip(path, s.frames, s.done)

	// Oldest first out of the ring.
	if len(s.ring) == s.preroll {
		for i := 0; i < s.preroll; i++ {
			s.enqueue(s.ring[(s.ringPos+i)%s.preroll])
		}
	} else {
		for _, f := range s.ring {
			s.enqueue(f)
		}
	}

	s.active = true
	s.pending = s.maxFrames
	s.logger.Info().Str("clip", path).Msg("Clip recording started")
	return path, nil
}

// End stops the active clip, if any, and waits briefly for the writer to
// flush.
func (s *Service) End() {
	s.mu.Lock()
	if s.active {
		s.finishLocked("detection ended")
	}
	done := s.done
	s.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			s.logger.Warn().Msg("Clip writer slow to flush")
		}
	}
}

// Close stops any active clip and waits for the writer.
func (s *Service) Close() {
	s.End()
	s.wg.Wait()
}

// enqueue must be called with s.mu held.
func (s *Service) enqueue(f ringFrame) {
	select {
	case s.frames <- f:
	default:
		// Writer behind; drop rather than stall the cycle.
	}
}

// finishLocked must be called with s.mu held.
func (s *Service) finishLocked(why string) {
	s.active = false
	close(s.frames)
	s.logger.Debug().Str("reason", why).Msg("Clip recording stopped")
}

func (s *Service) writeClip(path string, frames <-chan ringFrame, done chan struct{}) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("Clip writer panicked")
		}
	}()
	defer close(done)

	writer, err := gocv.VideoWriterFile(path, "MJPG", s.fps, s.width, s.height, true)
	if err != nil {
		s.logger.Error().Err(err).Str("clip", path).Msg("Failed to open clip writer")
		for range frames {
		}
		return
	}
	defer writer.Close()

	count := 0
	for f := range frames {
		mat, err := gocv.NewMatFromBytes(s.height, s.width, gocv.MatTypeCV8UC3, f.bgr)
		if err != nil {
			continue
		}
		if err := writer.Write(mat); err != nil {
			s.logger.Error().Err(err).Msg("Clip frame write failed")
		} else {
			count++
		}
		mat.Close()
	}

	s.logger.Info().Str("clip", path).Int("frames", count).Msg("Clip finished")
}

// Recording reports whether a clip is currently active.
func (s *Service) Recording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}
