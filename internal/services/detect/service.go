package detect

import (
	"sync/atomic"

	"github.com/rs/zerolog"

	"apis-edge-go/internal/config"
	"apis-edge-go/internal/logging"
	"apis-edge-go/internal/models"
)

// Service runs the full per-frame pipeline: background subtraction, target
// tracking and hover classification, then selects at most one target for
// the gate. It is driven by the processing context and is not safe for
// concurrent use.
type Service struct {
	detector   *Detector
	tracker    *Tracker
	classifier *Classifier
	logger     zerolog.Logger

	framesProcessed atomic.Uint64
	regionsTotal    atomic.Uint64
	confirmedTotal  atomic.Uint64
}

func New(cfg *config.Config) *Service {
	return &Service{
		detector:   NewDetector(cfg),
		tracker:    NewTracker(cfg),
		classifier: NewClassifier(cfg),
		logger:     logging.NewServiceLogger(cfg, "detect"),
	}
}

// Process runs one detection cycle against a frame.
func (s *Service) Process(frame *models.Frame) models.CycleResult {
	now := frame.Timestamp
	s.framesProcessed.Add(1)

	regions, lighting := s.detector.Detect(frame)
	if lighting {
		s.logger.Debug().
			Uint64("seq", frame.Seq).
			Msg("Lighting transition detected, skipping cycle")
		return models.CycleResult{LightingTransition: true}
	}
	s.regionsTotal.Add(uint64(len(regions)))

	endedTargets := s.tracker.Update(regions, now)
	active := s.tracker.Active()

	prevState := make(map[uint32]models.TargetState, len(active))
	for _, target := range active {
		prevState[target.ID] = target.State
	}
	s.classifier.Evaluate(active, now)
	for _, target := range active {
		if target.State == models.TargetConfirmedHover && prevState[target.ID] != models.TargetConfirmedHover {
			s.confirmedTotal.Add(1)
			s.logger.Info().
				Uint32("target_id", target.ID).
				Int("size_px", target.Region.MaxDimension()).
				Dur("hover", target.HoverDuration).
				Msg("Hover confirmed")
		}
	}

	result := models.CycleResult{}
	for _, target := range endedTargets {
		result.Ended = append(result.Ended, models.Detection{
			Target:     target,
			Confidence: s.classifier.Grade(target),
		})
	}

	selected := selectTarget(active)
	for _, target := range active {
		det := models.Detection{
			Target:     target,
			Confidence: s.classifier.Grade(target),
		}
		if target == selected {
			result.Selected = &det
		} else {
			result.Others = append(result.Others, det)
		}
	}
	return result
}

// selectTarget picks the single target the gate is allowed to engage:
// a confirmed hovering hornet-sized object, largest area first, oldest
// track on a tie.
func selectTarget(targets []*models.TrackedTarget) *models.TrackedTarget {
	var best *models.TrackedTarget
	for _, target := range targets {
		if target.State != models.TargetConfirmedHover || target.Size != models.SizeHornet {
			continue
		}
		if best == nil ||
			target.Region.Area > best.Region.Area ||
			(target.Region.Area == best.Region.Area && target.FirstSeen.Before(best.FirstSeen)) {
			best = target
		}
	}
	return best
}

// SetMotionParams swaps detector tunables between cycles.
func (s *Service) SetMotionParams(p MotionParams) {
	s.detector.SetParams(p)
}

// MotionParams returns the current detector tunables.
func (s *Service) MotionParams() MotionParams {
	return s.detector.Params()
}

// SetClassParams swaps classifier tunables between cycles.
func (s *Service) SetClassParams(p ClassParams) {
	s.classifier.SetParams(p)
}

// ClassParams returns the current classifier tunables.
func (s *Service) ClassParams() ClassParams {
	return s.classifier.Params()
}

// ResetBackground forces the background model to relearn, for example after
// the camera recovers from a fault.
func (s *Service) ResetBackground() {
	s.detector.ResetBackground()
	s.tracker.Reset()
	s.logger.Info().Msg("Background model reset")
}

// Stats reports pipeline counters for the status endpoint.
func (s *Service) Stats() (frames, regions, confirmed uint64) {
	return s.framesProcessed.Load(), s.regionsTotal.Load(), s.confirmedTotal.Load()
}
