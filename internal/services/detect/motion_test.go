package detect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apis-edge-go/internal/config"
	"apis-edge-go/internal/models"
)

const (
	testWidth  = 160
	testHeight = 120
)

func testConfig() *config.Config {
	return &config.Config{
		UnitID:      "test-unit",
		FrameWidth:  testWidth,
		FrameHeight: testHeight,
		TargetFPS:   10,

		LearningRate:          0.001,
		InitLearningRate:      0.05,
		InitLearnFrames:       100,
		DiffThreshold:         25,
		MinRegionArea:         100,
		MaxRegionArea:         5000,
		MinAspectRatio:        0.3,
		MaxAspectRatio:        3.0,
		MaxForegroundFraction: 0.5,

		MatchRadiusPx: 100,
		HistoryLength: 30,
		GraceFrames:   3,
		HornetMinPx:   18,
		HornetMaxPx:   50,
		MaxObjectPx:   100,
		HoverRadiusPx: 50,
		HoverConfirm:  time.Second,
	}
}

// flatFrame returns a frame filled with one gray level.
func flatFrame(seq uint64, ts time.Time, level uint8) *models.Frame {
	f := &models.Frame{
		Seq:       seq,
		Timestamp: ts,
		Width:     testWidth,
		Height:    testHeight,
		BGR:       make([]byte, testWidth*testHeight*3),
	}
	for i := range f.BGR {
		f.BGR[i] = level
	}
	return f
}

// drawBlob paints a bright square centered at (cx, cy).
func drawBlob(f *models.Frame, cx, cy, size int, level uint8) {
	half := size / 2
	for y := cy - half; y < cy-half+size; y++ {
		if y < 0 || y >= f.Height {
			continue
		}
		for x := cx - half; x < cx-half+size; x++ {
			if x < 0 || x >= f.Width {
				continue
			}
			idx := (y*f.Width + x) * 3
			f.BGR[idx] = level
			f.BGR[idx+1] = level
			f.BGR[idx+2] = level
		}
	}
}

func TestDetectorFindsMovingBlob(t *testing.T) {
	t.Parallel()
	d := NewDetector(testConfig())
	t0 := time.Now()

	// First frame seeds the background model.
	regions, lighting := d.Detect(flatFrame(1, t0, 96))
	assert.False(t, lighting)
	assert.Empty(t, regions)

	blob := flatFrame(2, t0.Add(100*time.Millisecond), 96)
	drawBlob(blob, 80, 60, 24, 220)
	regions, lighting = d.Detect(blob)
	assert.False(t, lighting)
	require.Len(t, regions, 1)

	r := regions[0]
	assert.InDelta(t, 80, r.CentroidX, 3)
	assert.InDelta(t, 60, r.CentroidY, 3)
	assert.GreaterOrEqual(t, r.Area, 100)
	assert.InDelta(t, 24, r.MaxDimension(), 4)
}

func TestDetectorIgnoresStaticScene(t *testing.T) {
	t.Parallel()
	d := NewDetector(testConfig())
	t0 := time.Now()

	for i := 0; i < 5; i++ {
		regions, lighting := d.Detect(flatFrame(uint64(i+1), t0.Add(time.Duration(i)*100*time.Millisecond), 96))
		assert.False(t, lighting)
		assert.Empty(t, regions)
	}
}

func TestDetectorTreatsGlobalChangeAsLighting(t *testing.T) {
	t.Parallel()
	d := NewDetector(testConfig())
	t0 := time.Now()

	d.Detect(flatFrame(1, t0, 96))

	// The whole frame jumps in brightness: suppress detections instead of
	// reporting a frame-sized region.
	regions, lighting := d.Detect(flatFrame(2, t0.Add(100*time.Millisecond), 170))
	assert.True(t, lighting)
	assert.Empty(t, regions)
}

func TestDetectorFiltersSmallRegions(t *testing.T) {
	t.Parallel()
	d := NewDetector(testConfig())
	t0 := time.Now()

	d.Detect(flatFrame(1, t0, 96))

	blob := flatFrame(2, t0.Add(100*time.Millisecond), 96)
	drawBlob(blob, 80, 60, 6, 220) // well under the minimum area
	regions, lighting := d.Detect(blob)
	assert.False(t, lighting)
	assert.Empty(t, regions)
}

func TestDetectorFiltersExtremeAspect(t *testing.T) {
	t.Parallel()
	d := NewDetector(testConfig())
	t0 := time.Now()

	d.Detect(flatFrame(1, t0, 96))

	// A thin horizontal bar: large enough by area, rejected by aspect.
	bar := flatFrame(2, t0.Add(100*time.Millisecond), 96)
	for y := 58; y < 62; y++ {
		for x := 20; x < 140; x++ {
			idx := (y*testWidth + x) * 3
			bar.BGR[idx] = 220
			bar.BGR[idx+1] = 220
			bar.BGR[idx+2] = 220
		}
	}
	regions, lighting := d.Detect(bar)
	assert.False(t, lighting)
	assert.Empty(t, regions)
}

func TestDetectorResetRelearnsBackground(t *testing.T) {
	t.Parallel()
	d := NewDetector(testConfig())
	t0 := time.Now()

	d.Detect(flatFrame(1, t0, 96))
	d.ResetBackground()

	// After a reset the next frame seeds the model again, so even a very
	// different scene produces no regions.
	regions, lighting := d.Detect(flatFrame(2, t0.Add(100*time.Millisecond), 200))
	assert.False(t, lighting)
	assert.Empty(t, regions)
}
