package models

// HeartbeatRequest is the body sent to the companion server every interval.
type HeartbeatRequest struct {
	FirmwareVersion string `json:"firmware_version"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
	DetectionCount  int64  `json:"detection_count_since_last"`
	SpoolDepth      int    `json:"spool_depth"`
	Armed           bool   `json:"armed"`
	LocalTime       string `json:"local_time"`
	FreeStorageMB   int    `json:"free_storage_mb"`
}

// HeartbeatConfig carries optional configuration deltas from the server.
// Pointer fields are absent when the server did not set them.
type HeartbeatConfig struct {
	Armed            *bool    `json:"armed,omitempty"`
	HoverRadiusPx    *int     `json:"hover_radius_px,omitempty"`
	HoverConfirmMS   *int     `json:"hover_confirm_ms,omitempty"`
	MinRegionArea    *int     `json:"min_region_area,omitempty"`
	DiffThreshold    *int     `json:"diff_threshold,omitempty"`
	SweepAmplitude   *float64 `json:"sweep_amplitude_deg,omitempty"`
	SweepFrequencyHz *float64 `json:"sweep_frequency_hz,omitempty"`
}

// HeartbeatResponse is the companion server's reply.
type HeartbeatResponse struct {
	ServerTime      string           `json:"server_time"`
	TimeDriftMS     int64            `json:"time_drift_ms"`
	UpdateAvailable bool             `json:"update_available"`
	UpdateURL       string           `json:"update_url,omitempty"`
	Config          *HeartbeatConfig `json:"config,omitempty"`
}

// CalibrationProfile maps pixel coordinates to servo angles: a linear
// field-of-view projection adjusted by per-axis offset and scale. Loaded at
// boot, mutated only by the explicit calibration procedure, persisted on
// change.
type CalibrationProfile struct {
	FrameWidth  int     `json:"frame_width"`
	FrameHeight int     `json:"frame_height"`
	FOVHDeg     float64 `json:"fov_h_deg"`
	FOVVDeg     float64 `json:"fov_v_deg"`
	OffsetPan   float64 `json:"offset_pan_deg"`
	OffsetTilt  float64 `json:"offset_tilt_deg"`
	ScalePan    float64 `json:"scale_pan"`
	ScaleTilt   float64 `json:"scale_tilt"`
	// Reference points recorded during calibration; offsets are computed
	// from these.
	Points    []CalibrationPoint `json:"points,omitempty"`
	UpdatedAt int64              `json:"updated_at"`
}

// CalibrationPoint pairs a known pixel with the servo angles that hit it.
type CalibrationPoint struct {
	Pixel PixelCoord    `json:"pixel"`
	Angle ServoPosition `json:"angle"`
}

// DefaultCalibration returns the uncalibrated VGA profile.
func DefaultCalibration() CalibrationProfile {
	return CalibrationProfile{
		FrameWidth:  640,
		FrameHeight: 480,
		FOVHDeg:     60.0,
		FOVVDeg:     45.0,
		ScalePan:    1.0,
		ScaleTilt:   1.0,
	}
}
