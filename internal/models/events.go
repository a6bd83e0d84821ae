package models

import "time"

// DetectionEvent is a persisted detection record. Immutable after creation.
type DetectionEvent struct {
	ID            string     `json:"id"`
	Timestamp     time.Time  `json:"detected_at"`
	Confidence    Confidence `json:"confidence"`
	X             int        `json:"x"`
	Y             int        `json:"y"`
	W             int        `json:"w"`
	H             int        `json:"h"`
	Area          int        `json:"size_pixels"`
	CentroidX     int        `json:"centroid_x"`
	CentroidY     int        `json:"centroid_y"`
	HoverDuration int64      `json:"hover_duration_ms"`
	LaserFired    bool       `json:"laser_activated"`
	ClipFile      string     `json:"clip_file,omitempty"`
	ClipPruned    bool       `json:"clip_pruned,omitempty"`
	Synced        bool       `json:"-"`
}

// UploadSpoolEntry wraps a DetectionEvent pending upload, with retry
// bookkeeping. Removed on server acknowledgment or evicted (clip dropped,
// metadata kept) when the spool is over capacity.
type UploadSpoolEntry struct {
	Event     DetectionEvent
	ClipPath  string
	Attempts  int
	NextRetry time.Time
	QueuedAt  time.Time
}

// GateState is the targeting gate's actuation state.
type GateState int

const (
	GateIdle GateState = iota
	GateTracking
	GateFiring
	GateCooldown
	// GateLocked is terminal until an explicit user reset. Laser output is
	// forced off at the driver, not just at the command layer.
	GateLocked
)

func (s GateState) String() string {
	switch s {
	case GateIdle:
		return "idle"
	case GateTracking:
		return "tracking"
	case GateFiring:
		return "firing"
	case GateCooldown:
		return "cooldown"
	case GateLocked:
		return "locked"
	}
	return "unknown"
}

// LockReason records why the gate entered GateLocked.
type LockReason string

const (
	LockNone        LockReason = ""
	LockKillSwitch  LockReason = "kill_switch"
	LockWatchdog    LockReason = "watchdog_timeout"
	LockBrownout    LockReason = "brownout"
	LockTiltCeiling LockReason = "tilt_ceiling"
	LockUserRequest LockReason = "user_request"
)

// SafetySnapshot is a read-only copy of the safety state for diagnostics,
// the LED indicator and the status endpoint. Only the targeting gate mutates
// the underlying state.
type SafetySnapshot struct {
	Armed             bool          `json:"armed"`
	State             GateState     `json:"-"`
	StateName         string        `json:"state"`
	LockReason        LockReason    `json:"lock_reason,omitempty"`
	CurrentPan        float64       `json:"pan_deg"`
	CurrentTilt       float64       `json:"tilt_deg"`
	LaserOn           bool          `json:"laser_on"`
	ContinuousFire    time.Duration `json:"-"`
	ContinuousFireMS  int64         `json:"continuous_fire_ms"`
	CooldownRemaining time.Duration `json:"-"`
	CooldownMS        int64         `json:"cooldown_remaining_ms"`
	WatchdogRemaining time.Duration `json:"-"`
	WatchdogMS        int64         `json:"watchdog_remaining_ms"`
	KillSwitch        bool          `json:"kill_switch"`
	Brownout          bool          `json:"brownout"`
	VoltageMV         int           `json:"voltage_mv,omitempty"`
}
