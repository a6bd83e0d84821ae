package detect

import (
	"time"

	"apis-edge-go/internal/config"
	"apis-edge-go/internal/models"
)

// Tracker associates motion regions to tracked targets across frames using
// nearest-centroid matching. This is deliberately not full multi-object
// tracking: near a hive entrance there is one dominant insect-sized object
// at a time, and the simplification holds up.
type Tracker struct {
	matchRadius int
	historyLen  int
	graceFrames int

	nextID  uint32
	targets []*models.TrackedTarget
}

func NewTracker(cfg *config.Config) *Tracker {
	return &Tracker{
		matchRadius: cfg.MatchRadiusPx,
		historyLen:  cfg.HistoryLength,
		graceFrames: cfg.GraceFrames,
	}
}

// Update matches this cycle's regions to existing targets, creates targets
// for unmatched regions, and expires targets unseen past the grace period.
// It returns the targets destroyed this cycle.
func (t *Tracker) Update(regions []models.MotionRegion, now time.Time) []*models.TrackedTarget {
	matched := make(map[*models.TrackedTarget]bool, len(t.targets))

	for _, region := range regions {
		target := t.nearest(region, matched)
		if target == nil {
			target = &models.TrackedTarget{
				ID:        t.nextID,
				State:     models.TargetTransient,
				FirstSeen: now,
			}
			t.nextID++
			t.targets = append(t.targets, target)
		}
		matched[target] = true

		target.Region = region
		target.LastSeen = now
		target.MissedFrames = 0
		target.History = append(target.History, models.TrackPosition{
			X: region.CentroidX, Y: region.CentroidY, At: now,
		})
		if len(target.History) > t.historyLen {
			target.History = target.History[len(target.History)-t.historyLen:]
		}
	}

	// Age out targets that missed too many consecutive frames.
	var ended []*models.TrackedTarget
	kept := t.targets[:0]
	for _, target := range t.targets {
		if !matched[target] {
			target.MissedFrames++
		}
		if target.MissedFrames > t.graceFrames {
			ended = append(ended, target)
			continue
		}
		kept = append(kept, target)
	}
	t.targets = kept
	return ended
}

// Active returns all live targets.
func (t *Tracker) Active() []*models.TrackedTarget {
	return t.targets
}

// Reset destroys all targets.
func (t *Tracker) Reset() {
	t.targets = nil
}

// nearest finds the closest unmatched target within the match radius.
func (t *Tracker) nearest(region models.MotionRegion, matched map[*models.TrackedTarget]bool) *models.TrackedTarget {
	var best *models.TrackedTarget
	bestDist := int64(t.matchRadius) * int64(t.matchRadius)

	for _, target := range t.targets {
		if matched[target] {
			continue
		}
		dx := int64(region.CentroidX - target.Region.CentroidX)
		dy := int64(region.CentroidY - target.Region.CentroidY)
		dist := dx*dx + dy*dy
		if dist <= bestDist {
			bestDist = dist
			best = target
		}
	}
	return best
}
