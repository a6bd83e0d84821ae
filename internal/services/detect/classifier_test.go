package detect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apis-edge-go/internal/models"
)

// driveHover feeds the tracker and classifier a sequence of centroids at
// 10 FPS and returns the single tracked target.
func driveHover(t *testing.T, tr *Tracker, c *Classifier, positions [][2]int, start time.Time) *models.TrackedTarget {
	t.Helper()
	now := start
	for _, p := range positions {
		tr.Update([]models.MotionRegion{region(p[0], p[1], 24)}, now)
		c.Evaluate(tr.Active(), now)
		now = now.Add(100 * time.Millisecond)
	}
	require.Len(t, tr.Active(), 1)
	return tr.Active()[0]
}

func stationary(n, cx, cy int) [][2]int {
	positions := make([][2]int, n)
	for i := range positions {
		positions[i] = [2]int{cx, cy}
	}
	return positions
}

func TestHoverConfirmedAfterStationaryWindow(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	tr := NewTracker(cfg)
	c := NewClassifier(cfg)

	// A 24px object holding position for 1.2s: candidate at the 1s mark,
	// confirmed on the next evaluation.
	target := driveHover(t, tr, c, stationary(13, 80, 60), time.Now())
	assert.Equal(t, models.TargetConfirmedHover, target.State)
	assert.Equal(t, models.SizeHornet, target.Size)
}

func TestHoverWithinRadiusStillConfirms(t *testing.T) {
	t.Parallel()
	cfg := testConfig() // HoverRadiusPx = 50
	tr := NewTracker(cfg)
	c := NewClassifier(cfg)

	// Wanders inside a 40px envelope, like the real thing does.
	positions := [][2]int{
		{80, 60}, {95, 65}, {70, 55}, {85, 75}, {100, 60},
		{75, 50}, {90, 70}, {80, 60}, {95, 55}, {70, 65},
		{85, 60}, {80, 70}, {90, 60},
	}
	target := driveHover(t, tr, c, positions, time.Now())
	assert.Equal(t, models.TargetConfirmedHover, target.State)
}

func TestFastMoverNeverConfirms(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	tr := NewTracker(cfg)
	c := NewClassifier(cfg)

	// Crosses the frame at ~80px per step: never inside a stable window.
	positions := make([][2]int, 15)
	for i := range positions {
		positions[i] = [2]int{20 + i*80, 60}
	}
	now := time.Now()
	for _, p := range positions {
		tr.Update([]models.MotionRegion{region(p[0], p[1], 24)}, now)
		c.Evaluate(tr.Active(), now)
		for _, target := range tr.Active() {
			assert.Equal(t, models.TargetTransient, target.State)
		}
		now = now.Add(100 * time.Millisecond)
	}
}

func TestConfirmedDemotesOnLeavingRadius(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	tr := NewTracker(cfg)
	c := NewClassifier(cfg)
	t0 := time.Now()

	target := driveHover(t, tr, c, stationary(13, 80, 60), t0)
	require.Equal(t, models.TargetConfirmedHover, target.State)
	accumulated := target.HoverDuration
	assert.Greater(t, accumulated, time.Duration(0))

	// Darts away within the same track: demoted, hover time kept.
	now := t0.Add(1300 * time.Millisecond)
	tr.Update([]models.MotionRegion{region(160, 60, 24)}, now)
	c.Evaluate(tr.Active(), now)

	require.Len(t, tr.Active(), 1)
	demoted := tr.Active()[0]
	assert.Equal(t, target.ID, demoted.ID)
	assert.Equal(t, models.TargetTransient, demoted.State)
	assert.GreaterOrEqual(t, demoted.HoverDuration, accumulated)
}

func TestSingleStableEvaluationCannotConfirm(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	tr := NewTracker(cfg)
	c := NewClassifier(cfg)
	t0 := time.Now()

	// Stationary just long enough to become a candidate, then jumps. The
	// flicker must not confirm.
	target := driveHover(t, tr, c, stationary(11, 80, 60), t0)
	require.Equal(t, models.TargetHoveringCandidate, target.State)

	now := t0.Add(1100 * time.Millisecond)
	tr.Update([]models.MotionRegion{region(170, 60, 24)}, now)
	c.Evaluate(tr.Active(), now)
	assert.Equal(t, models.TargetTransient, tr.Active()[0].State)
}

func TestSizeBands(t *testing.T) {
	t.Parallel()
	c := NewClassifier(testConfig())

	cases := []struct {
		name string
		size int
		want models.SizeClass
	}{
		{"bee sized", 10, models.SizeTooSmall},
		{"hornet lower bound", 18, models.SizeHornet},
		{"hornet typical", 35, models.SizeHornet},
		{"hornet upper bound", 50, models.SizeHornet},
		{"bird sized", 75, models.SizeUnknown},
		{"too large", 120, models.SizeTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, c.classifySize(region(80, 60, tc.size)))
		})
	}
}

func TestGradeConfidence(t *testing.T) {
	t.Parallel()
	c := NewClassifier(testConfig())

	hornetConfirmed := &models.TrackedTarget{Size: models.SizeHornet, State: models.TargetConfirmedHover}
	hornetTransient := &models.TrackedTarget{Size: models.SizeHornet, State: models.TargetTransient}
	smallThing := &models.TrackedTarget{Size: models.SizeTooSmall, State: models.TargetConfirmedHover}

	assert.Equal(t, models.ConfidenceHigh, c.Grade(hornetConfirmed))
	assert.Equal(t, models.ConfidenceMedium, c.Grade(hornetTransient))
	assert.Equal(t, models.ConfidenceLow, c.Grade(smallThing))
}
