package detect

import (
	"time"

	"apis-edge-go/internal/config"
	"apis-edge-go/internal/models"
)

// ClassParams are the runtime-tunable classification thresholds.
type ClassParams struct {
	HornetMinPx  int
	HornetMaxPx  int
	MaxObjectPx  int
	HoverRadius  int
	HoverConfirm time.Duration
}

// Classifier grades tracked targets by size and advances their hover state
// machine. Confirmation is continuous: a target must hold the hover
// condition across consecutive evaluations, so a single flickery cycle can
// never confirm.
type Classifier struct {
	params   ClassParams
	lastEval time.Time
}

func NewClassifier(cfg *config.Config) *Classifier {
	return &Classifier{
		params: ClassParams{
			HornetMinPx:  cfg.HornetMinPx,
			HornetMaxPx:  cfg.HornetMaxPx,
			MaxObjectPx:  cfg.MaxObjectPx,
			HoverRadius:  cfg.HoverRadiusPx,
			HoverConfirm: cfg.HoverConfirm,
		},
	}
}

// SetParams swaps thresholds. Called only between cycles.
func (c *Classifier) SetParams(p ClassParams) {
	c.params = p
}

// Params returns the current thresholds.
func (c *Classifier) Params() ClassParams {
	return c.params
}

// Evaluate updates size class and hover state for every active target.
func (c *Classifier) Evaluate(targets []*models.TrackedTarget, now time.Time) {
	var dt time.Duration
	if !c.lastEval.IsZero() {
		dt = now.Sub(c.lastEval)
	}
	c.lastEval = now

	for _, target := range targets {
		target.Size = c.classifySize(target.Region)

		hold := c.hoverHolds(target, now)
		if hold {
			target.HoverDuration += dt
		}

		switch target.State {
		case models.TargetTransient:
			if hold && target.Size == models.SizeHornet {
				target.State = models.TargetHoveringCandidate
			}
		case models.TargetHoveringCandidate:
			if !hold || target.Size != models.SizeHornet {
				target.State = models.TargetTransient
			} else {
				// Condition held across two evaluations: confirmed.
				target.State = models.TargetConfirmedHover
			}
		case models.TargetConfirmedHover:
			if !hold {
				// Left the hover radius: back to transient. Identity and
				// accumulated hover time are kept.
				target.State = models.TargetTransient
			}
		}
	}
}

// Grade maps a target's state and size to an event confidence.
func (c *Classifier) Grade(target *models.TrackedTarget) models.Confidence {
	if target.Size != models.SizeHornet {
		return models.ConfidenceLow
	}
	if target.State == models.TargetConfirmedHover {
		return models.ConfidenceHigh
	}
	return models.ConfidenceMedium
}

func (c *Classifier) classifySize(region models.MotionRegion) models.SizeClass {
	size := region.MaxDimension()
	switch {
	case size < c.params.HornetMinPx:
		return models.SizeTooSmall
	case size > c.params.MaxObjectPx:
		return models.SizeTooLarge
	case size <= c.params.HornetMaxPx:
		return models.SizeHornet
	default:
		return models.SizeUnknown
	}
}

// hoverHolds reports whether the target has stayed within the hover radius
// for the full rolling window ending now. It walks the history backwards,
// growing the bounding box of recent positions until it exceeds the radius;
// the time spanned by the stable suffix is the current stable duration.
// Movement is measured per axis (Chebyshev), which is slightly lenient on
// diagonals and avoids a sqrt per sample.
func (c *Classifier) hoverHolds(target *models.TrackedTarget, now time.Time) bool {
	history := target.History
	if len(history) < 2 {
		return false
	}

	last := history[len(history)-1]
	minX, maxX := last.X, last.X
	minY, maxY := last.Y, last.Y
	stableFrom := last.At

	for i := len(history) - 2; i >= 0; i-- {
		p := history[i]
		if p.X < minX {
			minX = p.X
		}
		if p.X > maxX {
			maxX = p.X
		}
		if p.Y < minY {
			minY = p.Y
		}
		if p.Y > maxY {
			maxY = p.Y
		}
		if maxX-minX > c.params.HoverRadius || maxY-minY > c.params.HoverRadius {
			break
		}
		stableFrom = p.At
	}

	return now.Sub(stableFrom) >= c.params.HoverConfirm
}
