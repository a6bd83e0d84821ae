package targeting

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"apis-edge-go/internal/config"
	"apis-edge-go/internal/logging"
	"apis-edge-go/internal/models"
)

// Mapper converts pixel centroids to servo angles through the persisted
// calibration profile. The profile is mutated only through the explicit
// calibration procedure; it is never adjusted from detection data.
type Mapper struct {
	mu      sync.RWMutex
	profile models.CalibrationProfile
	path    string
	logger  zerolog.Logger
}

func NewMapper(cfg *config.Config) *Mapper {
	m := &Mapper{
		path:   cfg.CalibrationPath,
		logger: logging.NewServiceLogger(cfg, "targeting"),
	}

	profile, err := loadProfile(cfg.CalibrationPath)
	if err != nil {
		m.logger.Warn().Err(err).
			Str("path", cfg.CalibrationPath).
			Msg("No usable calibration profile, using defaults")
		profile = models.DefaultCalibration()
		profile.FrameWidth = cfg.FrameWidth
		profile.FrameHeight = cfg.FrameHeight
	}
	m.profile = profile
	return m
}

func loadProfile(path string) (models.CalibrationProfile, error) {
	var profile models.CalibrationProfile
	data, err := os.ReadFile(path)
	if err != nil {
		return profile, fmt.Errorf("reading calibration file: %w", err)
	}
	if err := json.Unmarshal(data, &profile); err != nil {
		return profile, fmt.Errorf("parsing calibration file: %w", err)
	}
	if profile.FrameWidth <= 0 || profile.FrameHeight <= 0 ||
		profile.FOVHDeg <= 0 || profile.FOVVDeg <= 0 {
		return profile, fmt.Errorf("calibration profile has invalid geometry")
	}
	return profile, nil
}

// Map projects a pixel to servo angles: linear field-of-view projection
// adjusted by the per-axis scale and offset. Positive tilt is upward, so a
// pixel above frame center maps to a positive raw tilt.
func (m *Mapper) Map(p models.PixelCoord) models.ServoPosition {
	m.mu.RLock()
	pr := m.profile
	m.mu.RUnlock()

	rawPan := (float64(p.X)/float64(pr.FrameWidth) - 0.5) * pr.FOVHDeg
	rawTilt := (0.5 - float64(p.Y)/float64(pr.FrameHeight)) * pr.FOVVDeg

	return models.ServoPosition{
		PanDeg:  rawPan*pr.ScalePan + pr.OffsetPan,
		TiltDeg: rawTilt*pr.ScaleTilt + pr.OffsetTilt,
	}
}

// Profile returns a copy of the current calibration profile.
func (m *Mapper) Profile() models.CalibrationProfile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	profile := m.profile
	profile.Points = append([]models.CalibrationPoint(nil), m.profile.Points...)
	return profile
}

// Calibrate recomputes offsets and scales from reference points and persists
// the result. With a single point only the offsets move; with two or more a
// per-axis least-squares fit sets scale and offset together.
func (m *Mapper) Calibrate(points []models.CalibrationPoint) (models.CalibrationProfile, error) {
	if len(points) == 0 {
		return models.CalibrationProfile{}, fmt.Errorf("calibration requires at least one reference point")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	pr := m.profile
	fw, fh := float64(pr.FrameWidth), float64(pr.FrameHeight)

	raws := make([]models.ServoPosition, len(points))
	for i, pt := range points {
		if pt.Pixel.X < 0 || pt.Pixel.X >= pr.FrameWidth ||
			pt.Pixel.Y < 0 || pt.Pixel.Y >= pr.FrameHeight {
			return models.CalibrationProfile{}, fmt.Errorf("calibration point %d outside frame", i)
		}
		raws[i] = models.ServoPosition{
			PanDeg:  (float64(pt.Pixel.X)/fw - 0.5) * pr.FOVHDeg,
			TiltDeg: (0.5 - float64(pt.Pixel.Y)/fh) * pr.FOVVDeg,
		}
	}

	if len(points) == 1 {
		pr.OffsetPan = points[0].Angle.PanDeg - raws[0].PanDeg*pr.ScalePan
		pr.OffsetTilt = points[0].Angle.TiltDeg - raws[0].TiltDeg*pr.ScaleTilt
	} else {
		var ok bool
		if pr.ScalePan, pr.OffsetPan, ok = fitAxis(raws, points, true); !ok {
			return models.CalibrationProfile{}, fmt.Errorf("calibration points are pan-degenerate")
		}
		if pr.ScaleTilt, pr.OffsetTilt, ok = fitAxis(raws, points, false); !ok {
			return models.CalibrationProfile{}, fmt.Errorf("calibration points are tilt-degenerate")
		}
	}

	pr.Points = append([]models.CalibrationPoint(nil), points...)
	pr.UpdatedAt = time.Now().Unix()

	if err := saveProfile(m.path, pr); err != nil {
		return models.CalibrationProfile{}, err
	}
	m.profile = pr

	m.logger.Info().
		Int("points", len(points)).
		Float64("offset_pan", pr.OffsetPan).
		Float64("offset_tilt", pr.OffsetTilt).
		Msg("Calibration profile updated")
	return pr, nil
}

// fitAxis runs a least-squares fit of measured angle against raw projection
// for one axis. Returns ok=false when the raw values are too close together
// to determine a slope.
func fitAxis(raws []models.ServoPosition, points []models.CalibrationPoint, pan bool) (scale, offset float64, ok bool) {
	n := float64(len(points))
	var sumX, sumY, sumXY, sumXX float64
	for i := range points {
		var x, y float64
		if pan {
			x, y = raws[i].PanDeg, points[i].Angle.PanDeg
		} else {
			x, y = raws[i].TiltDeg, points[i].Angle.TiltDeg
		}
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom < 1e-9 && denom > -1e-9 {
		return 0, 0, false
	}
	scale = (n*sumXY - sumX*sumY) / denom
	offset = (sumY - scale*sumX) / n
	return scale, offset, true
}

func saveProfile(path string, profile models.CalibrationProfile) error {
	data, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding calibration profile: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating calibration dir: %w", err)
	}

	// Write-then-rename so a power cut mid-save never corrupts the profile.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing calibration profile: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing calibration profile: %w", err)
	}
	return nil
}
