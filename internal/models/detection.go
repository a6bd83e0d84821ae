package models

import "time"

// MotionRegion is a candidate object extracted from a single frame by
// background subtraction. Regions are ephemeral: created and discarded every
// cycle, never persisted.
type MotionRegion struct {
	X, Y, W, H int
	Area       int
	CentroidX  int
	CentroidY  int
	Timestamp  time.Time
}

// MaxDimension returns the larger of width and height, used for size
// classification.
func (r MotionRegion) MaxDimension() int {
	if r.W > r.H {
		return r.W
	}
	return r.H
}

// TargetState is the hover classification state of a tracked target.
type TargetState int

const (
	// TargetTransient is an object moving through the frame.
	TargetTransient TargetState = iota
	// TargetHoveringCandidate has stayed within the hover radius for the
	// rolling window but is not yet confirmed.
	TargetHoveringCandidate
	// TargetConfirmedHover is sustained low-displacement motion: the
	// behavior that distinguishes a hornet investigating the entrance from
	// a passer-by.
	TargetConfirmedHover
)

func (s TargetState) String() string {
	switch s {
	case TargetTransient:
		return "transient"
	case TargetHoveringCandidate:
		return "hovering_candidate"
	case TargetConfirmedHover:
		return "confirmed_hover"
	default:
		return "unknown"
	}
}

// SizeClass is the size-heuristic classification of a region.
type SizeClass int

const (
	SizeTooSmall SizeClass = iota // below minimum, likely a bee
	SizeHornet                    // in the hornet band
	SizeUnknown                   // plausible insect but outside hornet band
	SizeTooLarge                  // above maximum, likely not an insect
)

func (c SizeClass) String() string {
	switch c {
	case SizeTooSmall:
		return "too_small"
	case SizeHornet:
		return "hornet"
	case SizeUnknown:
		return "unknown"
	case SizeTooLarge:
		return "too_large"
	}
	return "invalid"
}

// Confidence grades a detection for event logging.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"    // wrong size or too brief
	ConfidenceMedium Confidence = "medium" // hornet-sized, transient
	ConfidenceHigh   Confidence = "high"   // hornet-sized and hovering
)

// TrackPosition is one centroid sample in a target's history ring.
type TrackPosition struct {
	X, Y int
	At   time.Time
}

// TrackedTarget is a candidate object followed across frames.
// Owned exclusively by the detection service.
type TrackedTarget struct {
	ID           uint32
	State        TargetState
	Size         SizeClass
	Region       MotionRegion // most recent matched region
	History      []TrackPosition
	FirstSeen    time.Time
	LastSeen     time.Time
	MissedFrames int
	// HoverDuration is how long the target has satisfied the hover
	// condition, accumulated across demotions without resetting identity.
	HoverDuration time.Duration
	// Logged marks that a detection event was already persisted for this
	// target (set on fire), so its end-of-track summary is not duplicated.
	Logged bool
}

// Centroid returns the target's last known centroid.
func (t *TrackedTarget) Centroid() PixelCoord {
	return PixelCoord{X: t.Region.CentroidX, Y: t.Region.CentroidY}
}

// Detection is the per-cycle output of the detection service for one target:
// the tracked target plus the confidence grade derived from its state.
type Detection struct {
	Target     *TrackedTarget
	Confidence Confidence
}

// CycleResult is what the detection service emits each processing cycle:
// zero or one selected confirmed-hover target, plus everything else seen
// this cycle for logging.
type CycleResult struct {
	// Selected is the single confirmed-hover target chosen for actuation
	// (largest area, earliest first-seen on ties). Nil when none confirmed.
	Selected *Detection
	// Others are all remaining detections this cycle, logged but never
	// actuated.
	Others []Detection
	// Ended are targets destroyed this cycle (left frame past the grace
	// period); the engine turns hornet-sized ones into detection events.
	Ended []Detection
	// LightingTransition is set when foreground coverage was implausibly
	// large and detection was suppressed for the cycle.
	LightingTransition bool
}
