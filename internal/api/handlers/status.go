package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"apis-edge-go/internal/services"
)

type StatusHandler struct {
	container *services.ServiceContainer
}

func NewStatusHandler(container *services.ServiceContainer) *StatusHandler {
	return &StatusHandler{container: container}
}

type HealthResponse struct {
	Status string `json:"status"`
	UnitID string `json:"unit_id"`
}

type UnitInfoResponse struct {
	UnitID       string   `json:"unit_id"`
	Status       string   `json:"status"`
	Version      string   `json:"version"`
	Capabilities []string `json:"capabilities"`
}

// HealthCheck reports liveness only; a degraded camera or offline server
// still answers healthy here. Status carries the detail.
func (h *StatusHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status: "healthy",
		UnitID: h.container.Config.UnitID,
	})
}

func (h *StatusHandler) UnitInfo(c *gin.Context) {
	c.JSON(http.StatusOK, UnitInfoResponse{
		UnitID:  h.container.Config.UnitID,
		Status:  "running",
		Version: h.container.Config.FirmwareVersion,
		Capabilities: []string{
			"motion_detection",
			"laser_deterrent",
			"mjpeg_streaming",
			"event_spooling",
		},
	})
}

func (h *StatusHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.container.Status())
}

type ConfigResponse struct {
	DiffThreshold    int     `json:"diff_threshold"`
	MinRegionArea    int     `json:"min_region_area"`
	HoverRadiusPx    int     `json:"hover_radius_px"`
	HoverConfirmMS   int64   `json:"hover_confirm_ms"`
	SweepAmplitude   float64 `json:"sweep_amplitude_deg"`
	SweepFrequencyHz float64 `json:"sweep_frequency_hz"`
	MaxFireMS        int64   `json:"max_fire_ms"`
	CooldownMS       int64   `json:"cooldown_ms"`
	TiltCeilingDeg   float64 `json:"tilt_ceiling_deg"`
	SpoolCapacity    int     `json:"spool_capacity"`
	ServerConfigured bool    `json:"server_configured"`
}

// Config exposes the effective tunables, including server-pushed deltas.
// Credentials never appear here.
func (h *StatusHandler) Config(c *gin.Context) {
	cfg := h.container.Config
	mp := h.container.Detect.MotionParams()
	cp := h.container.Detect.ClassParams()

	c.JSON(http.StatusOK, ConfigResponse{
		DiffThreshold:    mp.DiffThreshold,
		MinRegionArea:    mp.MinRegionArea,
		HoverRadiusPx:    cp.HoverRadius,
		HoverConfirmMS:   cp.HoverConfirm.Milliseconds(),
		SweepAmplitude:   cfg.SweepAmplitude,
		SweepFrequencyHz: cfg.SweepFrequencyHz,
		MaxFireMS:        cfg.MaxFireTime.Milliseconds(),
		CooldownMS:       cfg.Cooldown.Milliseconds(),
		TiltCeilingDeg:   cfg.TiltCeilingDeg,
		SpoolCapacity:    cfg.SpoolCapacity,
		ServerConfigured: cfg.ServerURL != "",
	})
}
