package targeting

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apis-edge-go/internal/config"
	"apis-edge-go/internal/models"
)

func mapperConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		UnitID:          "test-unit",
		FrameWidth:      640,
		FrameHeight:     480,
		CalibrationPath: filepath.Join(t.TempDir(), "calibration.json"),
	}
}

func TestMapCenterPixel(t *testing.T) {
	t.Parallel()
	m := NewMapper(mapperConfig(t))

	pos := m.Map(models.PixelCoord{X: 320, Y: 240})
	assert.InDelta(t, 0, pos.PanDeg, 0.01)
	assert.InDelta(t, 0, pos.TiltDeg, 0.01)
}

func TestMapFrameEdges(t *testing.T) {
	t.Parallel()
	m := NewMapper(mapperConfig(t)) // default 60x45 degree FOV

	left := m.Map(models.PixelCoord{X: 0, Y: 240})
	assert.InDelta(t, -30, left.PanDeg, 0.01)

	right := m.Map(models.PixelCoord{X: 640, Y: 240})
	assert.InDelta(t, 30, right.PanDeg, 0.01)

	top := m.Map(models.PixelCoord{X: 320, Y: 0})
	assert.InDelta(t, 22.5, top.TiltDeg, 0.01)

	bottom := m.Map(models.PixelCoord{X: 320, Y: 480})
	assert.InDelta(t, -22.5, bottom.TiltDeg, 0.01)
}

func TestCalibrateSinglePointShiftsOffsets(t *testing.T) {
	t.Parallel()
	m := NewMapper(mapperConfig(t))

	// The center pixel is known to sit at pan 2, tilt -3.
	_, err := m.Calibrate([]models.CalibrationPoint{{
		Pixel: models.PixelCoord{X: 320, Y: 240},
		Angle: models.ServoPosition{PanDeg: 2, TiltDeg: -3},
	}})
	require.NoError(t, err)

	pos := m.Map(models.PixelCoord{X: 320, Y: 240})
	assert.InDelta(t, 2, pos.PanDeg, 0.01)
	assert.InDelta(t, -3, pos.TiltDeg, 0.01)
}

func TestCalibrateTwoPointsFitsScale(t *testing.T) {
	t.Parallel()
	m := NewMapper(mapperConfig(t))

	// Measured angles are the ideal projection halved: the fit should land
	// on scale 0.5 with zero offset.
	points := []models.CalibrationPoint{
		{Pixel: models.PixelCoord{X: 160, Y: 120}, Angle: models.ServoPosition{PanDeg: -7.5, TiltDeg: 5.625}},
		{Pixel: models.PixelCoord{X: 480, Y: 360}, Angle: models.ServoPosition{PanDeg: 7.5, TiltDeg: -5.625}},
	}
	profile, err := m.Calibrate(points)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, profile.ScalePan, 0.01)
	assert.InDelta(t, 0.5, profile.ScaleTilt, 0.01)
	assert.InDelta(t, 0, profile.OffsetPan, 0.01)

	pos := m.Map(models.PixelCoord{X: 160, Y: 120})
	assert.InDelta(t, -7.5, pos.PanDeg, 0.01)
	assert.InDelta(t, 5.625, pos.TiltDeg, 0.01)
}

func TestCalibrateRejectsOutOfFramePoint(t *testing.T) {
	t.Parallel()
	m := NewMapper(mapperConfig(t))

	_, err := m.Calibrate([]models.CalibrationPoint{{
		Pixel: models.PixelCoord{X: 900, Y: 240},
		Angle: models.ServoPosition{},
	}})
	assert.Error(t, err)
}

func TestCalibrateRejectsDegeneratePoints(t *testing.T) {
	t.Parallel()
	m := NewMapper(mapperConfig(t))

	// Two points at the same pixel cannot determine a slope.
	points := []models.CalibrationPoint{
		{Pixel: models.PixelCoord{X: 320, Y: 240}, Angle: models.ServoPosition{PanDeg: 1}},
		{Pixel: models.PixelCoord{X: 320, Y: 240}, Angle: models.ServoPosition{PanDeg: 2}},
	}
	_, err := m.Calibrate(points)
	assert.Error(t, err)
}

func TestCalibrationPersistsAcrossRestart(t *testing.T) {
	t.Parallel()
	cfg := mapperConfig(t)

	m := NewMapper(cfg)
	_, err := m.Calibrate([]models.CalibrationPoint{{
		Pixel: models.PixelCoord{X: 320, Y: 240},
		Angle: models.ServoPosition{PanDeg: 4, TiltDeg: -1},
	}})
	require.NoError(t, err)

	// A fresh mapper over the same path loads the saved profile.
	reloaded := NewMapper(cfg)
	pos := reloaded.Map(models.PixelCoord{X: 320, Y: 240})
	assert.InDelta(t, 4, pos.PanDeg, 0.01)
	assert.InDelta(t, -1, pos.TiltDeg, 0.01)

	profile := reloaded.Profile()
	assert.Len(t, profile.Points, 1)
	assert.NotZero(t, profile.UpdatedAt)
	assert.WithinDuration(t, time.Now(), time.Unix(profile.UpdatedAt, 0), time.Minute)
}
