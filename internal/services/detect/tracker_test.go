package detect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apis-edge-go/internal/models"
)

func region(cx, cy, size int) models.MotionRegion {
	return models.MotionRegion{
		X: cx - size/2, Y: cy - size/2,
		W: size, H: size,
		Area:      size * size,
		CentroidX: cx, CentroidY: cy,
	}
}

func TestTrackerAssociatesNearbyRegions(t *testing.T) {
	t.Parallel()
	tr := NewTracker(testConfig())
	t0 := time.Now()

	tr.Update([]models.MotionRegion{region(80, 60, 24)}, t0)
	require.Len(t, tr.Active(), 1)
	id := tr.Active()[0].ID

	// Moved 15px: well within the match radius, same identity.
	tr.Update([]models.MotionRegion{region(95, 60, 24)}, t0.Add(100*time.Millisecond))
	require.Len(t, tr.Active(), 1)
	target := tr.Active()[0]
	assert.Equal(t, id, target.ID)
	assert.Equal(t, 95, target.Region.CentroidX)
	assert.Len(t, target.History, 2)
}

func TestTrackerCreatesTargetForDistantRegion(t *testing.T) {
	t.Parallel()
	tr := NewTracker(testConfig())
	t0 := time.Now()

	tr.Update([]models.MotionRegion{region(20, 20, 24)}, t0)
	tr.Update([]models.MotionRegion{
		region(20, 20, 24),
		region(150, 110, 24), // beyond the match radius of the first
	}, t0.Add(100*time.Millisecond))

	assert.Len(t, tr.Active(), 2)
}

func TestTrackerGracePeriodExpiry(t *testing.T) {
	t.Parallel()
	cfg := testConfig() // GraceFrames = 3
	tr := NewTracker(cfg)
	t0 := time.Now()

	tr.Update([]models.MotionRegion{region(80, 60, 24)}, t0)
	require.Len(t, tr.Active(), 1)

	// Misses within the grace period keep the target alive.
	now := t0
	for i := 0; i < cfg.GraceFrames; i++ {
		now = now.Add(100 * time.Millisecond)
		ended := tr.Update(nil, now)
		assert.Empty(t, ended)
		assert.Len(t, tr.Active(), 1)
	}

	// One more miss destroys it.
	ended := tr.Update(nil, now.Add(100*time.Millisecond))
	require.Len(t, ended, 1)
	assert.Empty(t, tr.Active())
}

func TestTrackerReappearanceWithinGraceKeepsIdentity(t *testing.T) {
	t.Parallel()
	tr := NewTracker(testConfig())
	t0 := time.Now()

	tr.Update([]models.MotionRegion{region(80, 60, 24)}, t0)
	id := tr.Active()[0].ID

	tr.Update(nil, t0.Add(100*time.Millisecond))
	tr.Update(nil, t0.Add(200*time.Millisecond))
	tr.Update([]models.MotionRegion{region(84, 62, 24)}, t0.Add(300*time.Millisecond))

	require.Len(t, tr.Active(), 1)
	target := tr.Active()[0]
	assert.Equal(t, id, target.ID)
	assert.Equal(t, 0, target.MissedFrames)
}

func TestTrackerHistoryIsBounded(t *testing.T) {
	t.Parallel()
	cfg := testConfig() // HistoryLength = 30
	tr := NewTracker(cfg)
	now := time.Now()

	for i := 0; i < cfg.HistoryLength+10; i++ {
		tr.Update([]models.MotionRegion{region(80, 60, 24)}, now)
		now = now.Add(100 * time.Millisecond)
	}

	require.Len(t, tr.Active(), 1)
	assert.Len(t, tr.Active()[0].History, cfg.HistoryLength)
}
