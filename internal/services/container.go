package services

import (
	"context"
	"time"

	"apis-edge-go/internal/config"
	"apis-edge-go/internal/logging"
	"apis-edge-go/internal/models"
	"apis-edge-go/internal/services/camera"
	"apis-edge-go/internal/services/detect"
	"apis-edge-go/internal/services/engine"
	"apis-edge-go/internal/services/led"
	"apis-edge-go/internal/services/link"
	"apis-edge-go/internal/services/mjpeg"
	"apis-edge-go/internal/services/recorder"
	"apis-edge-go/internal/services/spool"
	"apis-edge-go/internal/services/targeting"
	"apis-edge-go/internal/services/telemetry"
	"apis-edge-go/internal/services/uploader"
)

// ServiceContainer holds all services
type ServiceContainer struct {
	Config    *config.Config
	Camera    *camera.Service
	Detect    *detect.Service
	Mapper    *targeting.Mapper
	Gate      *targeting.Gate
	Store     *spool.Store
	Spool     *spool.Service
	Recorder  *recorder.Service
	Uploader  *uploader.Service
	Link      *link.Service
	Stream    *mjpeg.Publisher
	LEDs      *led.Service
	Telemetry *telemetry.Service
	Engine    *engine.Engine

	driver targeting.Driver
	cancel context.CancelFunc
}

// NewServiceContainer creates a new service container
func NewServiceContainer(cfg *config.Config) (*ServiceContainer, error) {
	logger := logging.NewServiceLogger(cfg, "container")

	var source camera.FrameSource
	if cfg.SyntheticCamera {
		source = camera.NewSyntheticSource(cfg.FrameWidth, cfg.FrameHeight)
		logger.Warn().Msg("Using synthetic camera source")
	} else {
		source = camera.NewRetryingSource(cfg.CameraDevice, cfg.FrameWidth, cfg.FrameHeight, cfg.TargetFPS)
	}
	cam := camera.NewService(cfg, logging.NewServiceLogger(cfg, "camera"), source)

	var driver targeting.Driver
	if cfg.ActuatorPort != "" {
		d, err := targeting.NewSerialDriver(cfg.ActuatorPort, logging.NewServiceLogger(cfg, "actuator"))
		if err != nil {
			return nil, err
		}
		driver = d
	} else {
		logger.Warn().Msg("No actuator port configured, using simulated driver")
		driver = targeting.NewSimDriver()
	}

	store, err := spool.NewStore(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.NewService(cfg)
	if err != nil {
		return nil, err
	}

	mapper := targeting.NewMapper(cfg)
	gate := targeting.NewGate(cfg, driver, mapper)
	det := detect.New(cfg)
	sp := spool.New(cfg, store)
	rec := recorder.New(cfg)
	stream := mjpeg.NewPublisher(cfg)
	leds := led.New(cfg, nil)

	eng := engine.New(cfg, engine.Deps{
		Camera:    cam,
		Detect:    det,
		Gate:      gate,
		Mapper:    mapper,
		Recorder:  rec,
		Spool:     sp,
		Telemetry: tel,
		Stream:    stream,
		LEDs:      leds,
	})

	lnk := link.New(cfg, eng.HeartbeatStatus, eng.ApplyConfig)
	eng.SetServerDown(func() bool {
		state, _ := lnk.Status()
		return state == link.StatusOffline || state == link.StatusAuthFailed
	})

	return &ServiceContainer{
		Config:    cfg,
		Camera:    cam,
		Detect:    det,
		Mapper:    mapper,
		Gate:      gate,
		Store:     store,
		Spool:     sp,
		Recorder:  rec,
		Uploader:  uploader.New(cfg, sp),
		Link:      lnk,
		Stream:    stream,
		LEDs:      leds,
		Telemetry: tel,
		Engine:    eng,
		driver:    driver,
	}, nil
}

// Start brings services up in dependency order: storage first, then the
// capture and control loops, then the network side.
func (sc *ServiceContainer) Start(ctx context.Context) error {
	ctx, sc.cancel = context.WithCancel(ctx)

	sc.LEDs.Raise(led.StateBoot)
	if err := sc.Spool.Start(ctx); err != nil {
		return err
	}
	sc.Camera.Start()
	sc.Engine.Start(ctx)
	sc.Uploader.Start(ctx)
	sc.Link.Start(ctx)
	sc.LEDs.Clear(led.StateBoot)
	sc.LEDs.Raise(led.StateDisarmed)
	return nil
}

// Shutdown gracefully shuts down all services
func (sc *ServiceContainer) Shutdown(ctx context.Context) error {
	if sc.cancel != nil {
		sc.cancel()
	}

	// The engine stops first so nothing drives the gate while the laser is
	// being forced off below.
	if sc.Engine != nil {
		sc.Engine.Stop()
	}
	if sc.Camera != nil {
		sc.Camera.Stop()
	}
	if sc.Recorder != nil {
		sc.Recorder.Close()
	}
	if sc.Link != nil {
		sc.Link.Stop()
	}
	if sc.Uploader != nil {
		sc.Uploader.Stop()
	}
	if sc.Spool != nil {
		sc.Spool.Stop()
	}
	if sc.Telemetry != nil {
		sc.Telemetry.Shutdown()
	}
	if sc.driver != nil {
		if err := sc.driver.Close(); err != nil {
			return err
		}
	}
	if sc.Store != nil {
		return sc.Store.Close()
	}
	return nil
}

// Status summarizes the unit for the local API.
type Status struct {
	UnitID        string                `json:"unit_id"`
	Firmware      string                `json:"firmware_version"`
	UptimeSeconds int64                 `json:"uptime_seconds"`
	Armed         bool                  `json:"armed"`
	GateState     string                `json:"gate_state"`
	CameraHealthy bool                  `json:"camera_healthy"`
	SpoolDepth    int                   `json:"spool_depth"`
	FreeStorageMB int                   `json:"free_storage_mb"`
	ServerStatus  string                `json:"server_status"`
	LastHeartbeat *time.Time            `json:"last_heartbeat,omitempty"`
	Safety        models.SafetySnapshot `json:"safety"`
}

func (sc *ServiceContainer) Status() Status {
	now := time.Now()
	serverStatus, lastBeat := sc.Link.Status()
	st := Status{
		UnitID:        sc.Config.UnitID,
		Firmware:      sc.Config.FirmwareVersion,
		UptimeSeconds: int64(sc.Engine.Uptime().Seconds()),
		Armed:         sc.Gate.Armed(),
		GateState:     sc.Gate.State().String(),
		CameraHealthy: sc.Camera.Healthy(),
		SpoolDepth:    sc.Spool.Depth(),
		FreeStorageMB: sc.Spool.FreeStorageMB(),
		ServerStatus:  string(serverStatus),
		Safety:        sc.Gate.Snapshot(now),
	}
	if !lastBeat.IsZero() {
		st.LastHeartbeat = &lastBeat
	}
	return st
}
