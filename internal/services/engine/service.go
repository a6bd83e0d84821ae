package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"apis-edge-go/internal/config"
	"apis-edge-go/internal/logging"
	"apis-edge-go/internal/models"
	"apis-edge-go/internal/services/camera"
	"apis-edge-go/internal/services/detect"
	"apis-edge-go/internal/services/led"
	"apis-edge-go/internal/services/mjpeg"
	"apis-edge-go/internal/services/recorder"
	"apis-edge-go/internal/services/spool"
	"apis-edge-go/internal/services/targeting"
	"apis-edge-go/internal/services/telemetry"
)

// Engine is the processing context: the single control cycle that consumes
// frames, runs detection, drives the safety gate, feeds the watchdog and
// emits events. It is the only writer of gate state and calibration, which
// is why external requests (config deltas, calibration) queue here instead
// of touching those directly.
type Engine struct {
	cfg       *config.Config
	camera    *camera.Service
	detect    *detect.Service
	gate      *targeting.Gate
	mapper    *targeting.Mapper
	recorder  *recorder.Service
	spool     *spool.Service
	telemetry *telemetry.Service
	stream    *mjpeg.Publisher
	leds      *led.Service
	logger    zerolog.Logger

	pendingMu  sync.Mutex
	pending    []models.HeartbeatConfig
	requests   chan func()
	serverDown func() bool

	detectionCount atomic.Int64
	cycles         atomic.Uint64
	startTime      time.Time

	fireEvent  *models.DetectionEvent
	fireClip   string
	fireTarget *models.TrackedTarget
	lastState  models.GateState
	camWasUp   bool

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

type Deps struct {
	Camera    *camera.Service
	Detect    *detect.Service
	Gate      *targeting.Gate
	Mapper    *targeting.Mapper
	Recorder  *recorder.Service
	Spool     *spool.Service
	Telemetry *telemetry.Service
	Stream    *mjpeg.Publisher
	LEDs      *led.Service
}

func New(cfg *config.Config, deps Deps) *Engine {
	return &Engine{
		cfg:       cfg,
		camera:    deps.Camera,
		detect:    deps.Detect,
		gate:      deps.Gate,
		mapper:    deps.Mapper,
		recorder:  deps.Recorder,
		spool:     deps.Spool,
		telemetry: deps.Telemetry,
		stream:    deps.Stream,
		leds:      deps.LEDs,
		logger:    logging.NewServiceLogger(cfg, "engine"),
		requests:  make(chan func(), 8),
		startTime: time.Now(),
		camWasUp:  true,
	}
}

// Start launches the control loop and the gate watchdog.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.gate.StartWatchdog(ctx)
	e.wg.Add(1)
	go e.run(ctx)
}

func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			// A crashed control loop stops feeding the watchdog; the
			// monitor will lock the gate shortly after.
			e.logger.Error().Interface("panic", r).Msg("Control loop panicked")
		}
	}()

	interval := time.Second / time.Duration(e.cfg.TargetFPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info().Dur("interval", interval).Msg("Control loop started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.cycle(time.Now())
		}
	}
}

// cycle runs one full control iteration.
func (e *Engine) cycle(now time.Time) {
	e.cycles.Add(1)
	e.applyPending()
	e.drainRequests()

	camUp := e.camera.Healthy()
	e.leds.Set(led.StateCameraFail, !camUp)
	if camUp && !e.camWasUp {
		// Fresh frames after an outage: the old background model is stale.
		e.detect.ResetBackground()
		e.logger.Info().Msg("Camera recovered, background model reset")
	}
	e.camWasUp = camUp

	frame := e.camera.TakeLatest()

	var result models.CycleResult
	var selected *models.Detection
	if frame != nil {
		result = e.detect.Process(frame)
		selected = result.Selected
	}

	// The gate ticks every cycle even without a frame: safety checks and
	// the watchdog feed must never depend on camera health.
	tick := e.gate.Tick(selected, now)

	if frame != nil {
		e.recorder.Push(frame)
		if err := e.stream.PublishFrame(frame, result, tick.State); err != nil {
			e.logger.Debug().Err(err).Msg("Stream publish failed")
		}
	}

	if tick.EnteredFiring && selected != nil {
		e.beginFireEvent(selected, now)
	}
	if e.lastState == models.GateFiring && tick.State != models.GateFiring {
		e.finishFireEvent()
	}
	for _, ended := range result.Ended {
		e.logEndedTarget(ended)
	}

	if tick.State != e.lastState {
		e.telemetry.PublishSafety(e.gate.Snapshot(now))
	}
	e.lastState = tick.State

	e.leds.Set(led.StateDetection, tick.State == models.GateTracking)
	e.leds.Set(led.StateFiring, tick.State == models.GateFiring)
	e.leds.Set(led.StateError, tick.State == models.GateLocked)
	if e.serverDown != nil {
		e.leds.Set(led.StateOffline, e.serverDown())
	}
	armed := e.gate.Armed()
	e.leds.Set(led.StateArmed, armed)
	e.leds.Set(led.StateDisarmed, !armed)
}

// beginFireEvent opens the clip and builds the event that will be spooled
// when the engagement ends.
func (e *Engine) beginFireEvent(det *models.Detection, now time.Time) {
	event := newDetectionEvent(det, now)
	event.LaserFired = true

	clip, err := e.recorder.Begin(event.ID, now)
	if err != nil {
		e.logger.Error().Err(err).Msg("Failed to start clip, event will be metadata-only")
		clip = ""
	}

	e.fireEvent = &event
	e.fireClip = clip
	e.fireTarget = det.Target
	det.Target.Logged = true
	e.detectionCount.Add(1)

	e.logger.Info().
		Str("event_id", event.ID).
		Uint32("target_id", det.Target.ID).
		Str("confidence", string(event.Confidence)).
		Msg("Engagement started")
}

// finishFireEvent closes the clip and hands the completed event to the
// spool. The recorder flush happens off-cycle so a slow card cannot stall
// the safety cadence.
func (e *Engine) finishFireEvent() {
	if e.fireEvent == nil {
		return
	}
	event := *e.fireEvent
	clip := e.fireClip
	if target := e.fireTarget; target != nil {
		event.HoverDuration = target.HoverDuration.Milliseconds()
	}
	event.ClipFile = clip
	e.fireEvent = nil
	e.fireClip = ""
	e.fireTarget = nil

	rec, sp, tel := e.recorder, e.spool, e.telemetry
	go func() {
		rec.End()
		sp.Enqueue(event, clip)
		tel.PublishDetection(event)
	}()
}

// logEndedTarget spools metadata for hornet-sized targets that hovered but
// were never engaged, so the colony log is complete even when disarmed.
func (e *Engine) logEndedTarget(det models.Detection) {
	target := det.Target
	if target.Logged || target.Size != models.SizeHornet || target.HoverDuration <= 0 {
		return
	}
	target.Logged = true

	event := newDetectionEvent(&det, target.LastSeen)
	e.detectionCount.Add(1)
	e.spool.Enqueue(event, "")
	e.telemetry.PublishDetection(event)
}

func newDetectionEvent(det *models.Detection, now time.Time) models.DetectionEvent {
	target := det.Target
	r := target.Region
	return models.DetectionEvent{
		ID:            uuid.New().String(),
		Timestamp:     now,
		Confidence:    det.Confidence,
		X:             r.X,
		Y:             r.Y,
		W:             r.W,
		H:             r.H,
		Area:          r.Area,
		CentroidX:     r.CentroidX,
		CentroidY:     r.CentroidY,
		HoverDuration: target.HoverDuration.Milliseconds(),
	}
}

// SetServerDown installs the probe behind the offline indicator. Called
// once during wiring, before Start.
func (e *Engine) SetServerDown(probe func() bool) {
	e.serverDown = probe
}

// ApplyConfig queues a heartbeat configuration delta; it takes effect at
// the start of the next cycle, never mid-action.
func (e *Engine) ApplyConfig(delta models.HeartbeatConfig) {
	e.pendingMu.Lock()
	e.pending = append(e.pending, delta)
	e.pendingMu.Unlock()
}

func (e *Engine) applyPending() {
	e.pendingMu.Lock()
	deltas := e.pending
	e.pending = nil
	e.pendingMu.Unlock()

	for _, delta := range deltas {
		if delta.Armed != nil {
			if *delta.Armed {
				if err := e.gate.Arm(); err != nil {
					e.logger.Warn().Err(err).Msg("Server arm request refused")
				}
			} else {
				e.gate.Disarm()
			}
		}

		if delta.DiffThreshold != nil || delta.MinRegionArea != nil {
			p := e.detect.MotionParams()
			if delta.DiffThreshold != nil {
				p.DiffThreshold = *delta.DiffThreshold
			}
			if delta.MinRegionArea != nil {
				p.MinRegionArea = *delta.MinRegionArea
			}
			e.detect.SetMotionParams(p)
		}

		if delta.HoverRadiusPx != nil || delta.HoverConfirmMS != nil {
			p := e.detect.ClassParams()
			if delta.HoverRadiusPx != nil {
				p.HoverRadius = *delta.HoverRadiusPx
			}
			if delta.HoverConfirmMS != nil {
				p.HoverConfirm = time.Duration(*delta.HoverConfirmMS) * time.Millisecond
			}
			e.detect.SetClassParams(p)
		}

		if delta.SweepAmplitude != nil || delta.SweepFrequencyHz != nil {
			amp, freq := e.cfg.SweepAmplitude, e.cfg.SweepFrequencyHz
			if delta.SweepAmplitude != nil {
				amp = *delta.SweepAmplitude
			}
			if delta.SweepFrequencyHz != nil {
				freq = *delta.SweepFrequencyHz
			}
			if err := e.gate.SetSweep(amp, freq); err != nil {
				e.logger.Warn().Err(err).Msg("Sweep delta rejected")
			}
		}

		e.logger.Info().Msg("Configuration delta applied")
	}
}

func (e *Engine) drainRequests() {
	for {
		select {
		case req := <-e.requests:
			req()
		default:
			return
		}
	}
}

// Calibrate runs the calibration procedure on the processing context and
// returns the updated profile.
func (e *Engine) Calibrate(points []models.CalibrationPoint) (models.CalibrationProfile, error) {
	type outcome struct {
		profile models.CalibrationProfile
		err     error
	}
	done := make(chan outcome, 1)

	req := func() {
		profile, err := e.mapper.Calibrate(points)
		done <- outcome{profile, err}
	}
	select {
	case e.requests <- req:
	case <-time.After(2 * time.Second):
		return models.CalibrationProfile{}, fmt.Errorf("processing context busy, try again")
	}

	select {
	case res := <-done:
		return res.profile, res.err
	case <-time.After(5 * time.Second):
		return models.CalibrationProfile{}, fmt.Errorf("calibration timed out")
	}
}

// HeartbeatStatus assembles the heartbeat body. The detection counter
// resets on each read, making it a count since the previous heartbeat.
func (e *Engine) HeartbeatStatus() models.HeartbeatRequest {
	return models.HeartbeatRequest{
		FirmwareVersion: e.cfg.FirmwareVersion,
		UptimeSeconds:   int64(time.Since(e.startTime).Seconds()),
		DetectionCount:  e.detectionCount.Swap(0),
		SpoolDepth:      e.spool.Depth(),
		Armed:           e.gate.Armed(),
		LocalTime:       time.Now().UTC().Format(time.RFC3339),
		FreeStorageMB:   e.spool.FreeStorageMB(),
	}
}

// Cycles reports how many control iterations have run.
func (e *Engine) Cycles() uint64 {
	return e.cycles.Load()
}

// Uptime reports time since the engine was created.
func (e *Engine) Uptime() time.Duration {
	return time.Since(e.startTime)
}
