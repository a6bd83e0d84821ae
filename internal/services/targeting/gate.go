package targeting

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"apis-edge-go/internal/config"
	"apis-edge-go/internal/logging"
	"apis-edge-go/internal/models"
)

// Gate is the single choke point for every servo and laser command. All
// actuation flows through Tick, driven once per processing cycle; the kill
// switch and watchdog paths can force GateLocked from outside the cycle,
// which is why the state lives behind a mutex instead of being confined to
// one goroutine.
type Gate struct {
	mu     sync.Mutex
	driver Driver
	mapper *Mapper
	logger zerolog.Logger

	panMin, panMax       float64
	tiltMin, tiltCeiling float64
	clampTol             float64
	maxRate              float64 // deg/s
	sweepAmp             float64
	sweepFreq            float64
	maxFire              time.Duration
	cooldown             time.Duration
	targetLost           time.Duration
	watchdogTimeout      time.Duration
	brownoutMV           int

	armed         bool
	state         models.GateState
	lockReason    models.LockReason
	current       models.ServoPosition
	laserOn       bool
	fireStart     time.Time
	cooldownUntil time.Time
	lastDetection time.Time
	lastCentroid  models.PixelCoord
	lastFeed      time.Time
	lastTick      time.Time
	voltageMV     int
}

// TickResult reports what one gate cycle did.
type TickResult struct {
	State         models.GateState
	EnteredFiring bool
	LaserOn       bool
}

func NewGate(cfg *config.Config, driver Driver, mapper *Mapper) *Gate {
	return &Gate{
		driver: driver,
		mapper: mapper,
		logger: logging.NewServiceLogger(cfg, "gate"),

		panMin:          cfg.PanMinDeg,
		panMax:          cfg.PanMaxDeg,
		tiltMin:         cfg.TiltMinDeg,
		tiltCeiling:     cfg.TiltCeilingDeg,
		clampTol:        cfg.ClampTolerance,
		maxRate:         cfg.MaxServoRate,
		sweepAmp:        cfg.SweepAmplitude,
		sweepFreq:       cfg.SweepFrequencyHz,
		maxFire:         cfg.MaxFireTime,
		cooldown:        cfg.Cooldown,
		targetLost:      cfg.TargetLostAfter,
		watchdogTimeout: cfg.WatchdogTimeout,
		brownoutMV:      cfg.BrownoutMV,

		state: models.GateIdle,
	}
}

// Arm enables engagement. Refused while locked: a lock always requires an
// explicit reset first.
func (g *Gate) Arm() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == models.GateLocked {
		return fmt.Errorf("unit is locked (%s): reset required before arming", g.lockReason)
	}
	if !g.armed {
		g.armed = true
		g.logger.Info().Msg("Unit armed")
	}
	return nil
}

// Disarm disables engagement. If the gate is firing, the laser goes out on
// the next Tick through the normal Firing to Cooldown transition, so
// actuator bookkeeping stays defined.
func (g *Gate) Disarm() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.armed {
		g.armed = false
		g.logger.Info().Msg("Unit disarmed")
	}
}

// Armed reports whether the unit is armed.
func (g *Gate) Armed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.armed
}

// State returns the current gate state.
func (g *Gate) State() models.GateState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// SetSweep updates the firing oscillation. Bounds keep the pattern inside
// what the servos can follow.
func (g *Gate) SetSweep(amplitudeDeg, frequencyHz float64) error {
	if amplitudeDeg < 0 || amplitudeDeg > 45 {
		return fmt.Errorf("sweep amplitude %.1f out of range [0, 45]", amplitudeDeg)
	}
	if frequencyHz < 0.5 || frequencyHz > 5 {
		return fmt.Errorf("sweep frequency %.1f out of range [0.5, 5]", frequencyHz)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sweepAmp = amplitudeDeg
	g.sweepFreq = frequencyHz
	return nil
}

// ForceLock drives the gate to GateLocked and kills the laser at the driver
// immediately. Safe to call from the kill switch interrupt path or the
// watchdog monitor, independent of cycle timing.
func (g *Gate) ForceLock(reason models.LockReason) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lock(reason)
}

// lock must be called with g.mu held.
func (g *Gate) lock(reason models.LockReason) {
	if g.state == models.GateLocked {
		return
	}
	prev := g.state
	g.state = models.GateLocked
	g.lockReason = reason
	g.laserOn = false
	if err := g.driver.SetLaser(false); err != nil {
		g.logger.Error().Err(err).Msg("Failed to drop laser line while locking")
	}
	g.logger.Error().
		Str("from", prev.String()).
		Str("reason", string(reason)).
		Msg("Safety lock engaged")
}

// Reset clears a lock after an explicit user request. The unit comes back
// disarmed; arming is a separate deliberate step.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != models.GateLocked {
		return
	}
	g.state = models.GateIdle
	g.lockReason = models.LockNone
	g.armed = false
	g.laserOn = false
	g.fireStart = time.Time{}
	g.logger.Info().Msg("Safety lock reset, unit disarmed")
}

// Tick runs one gate cycle: feeds the watchdog, samples the interlocks and
// advances the state machine for the cycle's selected detection (nil when
// there is none).
func (g *Gate) Tick(det *models.Detection, now time.Time) TickResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	dt := 100 * time.Millisecond
	if !g.lastTick.IsZero() {
		dt = now.Sub(g.lastTick)
	}
	g.lastTick = now
	g.lastFeed = now
	g.voltageMV = g.driver.SupplyVoltageMV()

	// Interlock conditions lock from any state.
	if g.driver.KillSwitchEngaged() {
		g.lock(models.LockKillSwitch)
	} else if g.voltageMV > 0 && g.voltageMV < g.brownoutMV {
		g.lock(models.LockBrownout)
	}
	if g.state == models.GateLocked {
		return TickResult{State: g.state}
	}

	if det != nil {
		g.lastDetection = now
		g.lastCentroid = det.Target.Centroid()
	}

	entered := false
	switch g.state {
	case models.GateIdle:
		g.setLaser(false)
		if det != nil && g.armed {
			g.transition(models.GateTracking)
		}

	case models.GateTracking:
		g.setLaser(false)
		if det == nil || !g.armed {
			g.transition(models.GateIdle)
			break
		}
		if g.tryFire(det.Target.Centroid(), now, dt, true) {
			g.fireStart = now
			g.transition(models.GateFiring)
			entered = true
		}

	case models.GateFiring:
		switch {
		case !g.armed:
			g.enterCooldown(now, "disarmed")
		case now.Sub(g.fireStart) >= g.maxFire:
			g.enterCooldown(now, "continuous fire limit")
		case now.Sub(g.lastDetection) > g.targetLost:
			g.enterCooldown(now, "target lost")
		default:
			// Within the lost-target grace the sweep continues around the
			// last known centroid.
			g.tryFire(g.lastCentroid, now, dt, false)
		}

	case models.GateCooldown:
		g.setLaser(false)
		if !now.Before(g.cooldownUntil) {
			g.transition(models.GateIdle)
		}
	}

	return TickResult{State: g.state, EnteredFiring: entered, LaserOn: g.laserOn}
}

// tryFire runs the ordered safety checks for the aim point and actuates when
// they pass. Returns true when the laser may be (or stay) enabled. The
// probe flag marks the Tracking-state evaluation, which reports failure
// silently instead of logging every cycle.
func (g *Gate) tryFire(centroid models.PixelCoord, now time.Time, dt time.Duration, probe bool) bool {
	// 1. armed, 2. detection present: guaranteed by the callers this tick.
	desired := g.mapper.Map(centroid)
	if g.state == models.GateFiring {
		elapsed := now.Sub(g.fireStart).Seconds()
		desired.PanDeg += g.sweepAmp * math.Sin(2*math.Pi*g.sweepFreq*elapsed)
	}

	// 3. tilt never above the ceiling. Aiming upward is a geometry fault,
	// not a transient, so it locks rather than waits.
	if desired.TiltDeg > g.tiltCeiling+g.clampTol {
		g.lock(models.LockTiltCeiling)
		return false
	}

	clamped := models.ServoPosition{
		PanDeg:  clampF(desired.PanDeg, g.panMin, g.panMax),
		TiltDeg: clampF(desired.TiltDeg, g.tiltMin, g.tiltCeiling),
	}

	// 4. continuous-fire budget.
	if g.state == models.GateFiring && now.Sub(g.fireStart) >= g.maxFire {
		g.setLaser(false)
		return false
	}
	// 5. kill switch, 7. brownout: sampled at the top of Tick; reaching
	// here means both passed. 6. watchdog: fed by this very cycle.
	if now.Sub(g.lastFeed) > g.watchdogTimeout {
		g.lock(models.LockWatchdog)
		return false
	}

	// A clamp that moves the command beyond tolerance means the true aim
	// point is outside the safe envelope: hold fire rather than fire at a
	// wrong position.
	suppressed := math.Abs(clamped.PanDeg-desired.PanDeg) > g.clampTol ||
		math.Abs(clamped.TiltDeg-desired.TiltDeg) > g.clampTol

	g.moveToward(clamped, dt)
	if suppressed {
		g.setLaser(false)
		if !probe {
			g.logger.Warn().
				Float64("pan", desired.PanDeg).
				Float64("tilt", desired.TiltDeg).
				Msg("Aim outside safe envelope, laser suppressed")
		}
		return false
	}

	g.setLaser(true)
	return true
}

// moveToward slews the servos to the target position, bounded by the
// maximum angular velocity so the sweep never commands an instantaneous
// large jump.
func (g *Gate) moveToward(target models.ServoPosition, dt time.Duration) {
	maxStep := g.maxRate * dt.Seconds()
	g.current.PanDeg = stepToward(g.current.PanDeg, target.PanDeg, maxStep)
	g.current.TiltDeg = stepToward(g.current.TiltDeg, target.TiltDeg, maxStep)
	if err := g.driver.Move(g.current); err != nil {
		g.logger.Error().Err(err).Msg("Servo command failed")
	}
}

func (g *Gate) enterCooldown(now time.Time, why string) {
	g.setLaser(false)
	g.cooldownUntil = now.Add(g.cooldown)
	g.fireStart = time.Time{}
	g.logger.Info().Str("reason", why).Msg("Fire ended, cooling down")
	g.transition(models.GateCooldown)
}

func (g *Gate) transition(to models.GateState) {
	if g.state == to {
		return
	}
	g.logger.Debug().
		Str("from", g.state.String()).
		Str("to", to.String()).
		Msg("Gate state change")
	g.state = to
}

func (g *Gate) setLaser(on bool) {
	if g.laserOn == on {
		return
	}
	if err := g.driver.SetLaser(on); err != nil {
		g.logger.Error().Err(err).Bool("on", on).Msg("Laser command failed")
		if on {
			return
		}
	}
	g.laserOn = on
}

// Snapshot returns a read-only copy of the safety state for the status
// endpoint, telemetry and the LED indicator.
func (g *Gate) Snapshot(now time.Time) models.SafetySnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	snap := models.SafetySnapshot{
		Armed:       g.armed,
		State:       g.state,
		StateName:   g.state.String(),
		LockReason:  g.lockReason,
		CurrentPan:  g.current.PanDeg,
		CurrentTilt: g.current.TiltDeg,
		LaserOn:     g.laserOn,
		KillSwitch:  g.driver.KillSwitchEngaged(),
		VoltageMV:   g.voltageMV,
	}
	snap.Brownout = g.voltageMV > 0 && g.voltageMV < g.brownoutMV
	if g.state == models.GateFiring && !g.fireStart.IsZero() {
		snap.ContinuousFire = now.Sub(g.fireStart)
	}
	if g.state == models.GateCooldown && now.Before(g.cooldownUntil) {
		snap.CooldownRemaining = g.cooldownUntil.Sub(now)
	}
	if !g.lastFeed.IsZero() {
		if left := g.watchdogTimeout - now.Sub(g.lastFeed); left > 0 {
			snap.WatchdogRemaining = left
		}
	}
	snap.ContinuousFireMS = snap.ContinuousFire.Milliseconds()
	snap.CooldownMS = snap.CooldownRemaining.Milliseconds()
	snap.WatchdogMS = snap.WatchdogRemaining.Milliseconds()
	return snap
}

// StartWatchdog runs the monitor that locks the gate if the control cycle
// stops feeding it, covering a hung processing loop that would otherwise
// leave the laser state undefined.
func (g *Gate) StartWatchdog(ctx context.Context) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				g.logger.Error().Interface("panic", r).Msg("Watchdog monitor panicked")
			}
		}()

		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				g.mu.Lock()
				stale := !g.lastFeed.IsZero() && time.Since(g.lastFeed) > g.watchdogTimeout
				if stale && g.state != models.GateLocked {
					g.lock(models.LockWatchdog)
				}
				g.mu.Unlock()
			}
		}
	}()
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func stepToward(cur, target, maxStep float64) float64 {
	delta := target - cur
	if delta > maxStep {
		return cur + maxStep
	}
	if delta < -maxStep {
		return cur - maxStep
	}
	return target
}
