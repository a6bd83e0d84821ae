package spool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apis-edge-go/internal/config"
	"apis-edge-go/internal/models"
)

func spoolFixture(t *testing.T) (*Service, *Store, *config.Config) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		UnitID:        "test-unit",
		DataDir:       dir,
		DBPath:        filepath.Join(dir, "events.db"),
		SpoolCapacity: 50,
		PruneAfter:    30 * 24 * time.Hour,
		MinFreeMB:     1,
	}
	store, err := NewStore(cfg.DBPath)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(cfg, store), store, cfg
}

func testEvent(seq int, at time.Time) models.DetectionEvent {
	return models.DetectionEvent{
		ID:         uuid.New().String(),
		Timestamp:  at.Add(time.Duration(seq) * time.Second),
		Confidence: models.ConfidenceHigh,
		X:          100, Y: 100, W: 24, H: 24,
		Area:          576,
		CentroidX:     112,
		CentroidY:     112,
		HoverDuration: 1200,
		LaserFired:    true,
	}
}

func writeClip(t *testing.T, dir string, seq int) string {
	t.Helper()
	path := filepath.Join(dir, fmt.Sprintf("clip_%03d.avi", seq))
	require.NoError(t, os.WriteFile(path, []byte("clip"), 0o644))
	return path
}

func TestSpoolBoundedEviction(t *testing.T) {
	s, store, cfg := spoolFixture(t)
	t0 := time.Now().Add(-time.Hour)

	// 60 detections against a capacity of 50: the spool keeps the 50 most
	// recent, the 10 oldest lose their clips but keep their rows.
	var ids []string
	for i := 0; i < 60; i++ {
		e := testEvent(i, t0)
		ids = append(ids, e.ID)
		s.Enqueue(e, writeClip(t, cfg.DataDir, i))
	}

	assert.Equal(t, 50, s.Depth())

	total, err := store.CountTotal()
	require.NoError(t, err)
	assert.Equal(t, 60, total, "evicted events keep their metadata")

	unsynced, err := store.Unsynced(100)
	require.NoError(t, err)
	require.Len(t, unsynced, 60)
	for i, e := range unsynced {
		assert.Equal(t, ids[i], e.ID)
		if i < 10 {
			assert.True(t, e.ClipPruned, "event %d should be pruned", i)
		} else {
			assert.False(t, e.ClipPruned, "event %d should keep its clip", i)
		}
	}

	// Evicted clip files are actually gone.
	for i := 0; i < 10; i++ {
		_, err := os.Stat(filepath.Join(cfg.DataDir, fmt.Sprintf("clip_%03d.avi", i)))
		assert.True(t, os.IsNotExist(err))
	}
}

func TestSpoolNextIsFIFO(t *testing.T) {
	s, _, _ := spoolFixture(t)
	t0 := time.Now().Add(-time.Hour)

	first := testEvent(0, t0)
	second := testEvent(1, t0)
	s.Enqueue(first, "")
	s.Enqueue(second, "")

	entry := s.Next(time.Now())
	require.NotNil(t, entry)
	assert.Equal(t, first.ID, entry.Event.ID)
}

func TestSpoolAckRemovesAndSyncs(t *testing.T) {
	s, store, _ := spoolFixture(t)
	e := testEvent(0, time.Now().Add(-time.Hour))
	s.Enqueue(e, "")

	s.Ack(e.ID)
	assert.Equal(t, 0, s.Depth())

	n, err := store.CountUnsynced()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSpoolDeferSkipsUntilRetryTime(t *testing.T) {
	s, _, _ := spoolFixture(t)
	e := testEvent(0, time.Now().Add(-time.Hour))
	s.Enqueue(e, "")
	now := time.Now()

	s.Defer(e.ID, now.Add(30*time.Second), true)
	assert.Nil(t, s.Next(now))

	entry := s.Next(now.Add(31 * time.Second))
	require.NotNil(t, entry)
	assert.Equal(t, 1, entry.Attempts)
}

func TestSpoolDeferWithoutAttemptPenalty(t *testing.T) {
	s, _, _ := spoolFixture(t)
	e := testEvent(0, time.Now().Add(-time.Hour))
	s.Enqueue(e, "")

	s.Defer(e.ID, time.Now().Add(time.Second), false)
	entry := s.Next(time.Now().Add(2 * time.Second))
	require.NotNil(t, entry)
	assert.Zero(t, entry.Attempts, "rate-limit responses must not count as failures")
}

func TestSpoolDropClipKeepsMetadataQueued(t *testing.T) {
	s, store, cfg := spoolFixture(t)
	e := testEvent(0, time.Now().Add(-time.Hour))
	clip := writeClip(t, cfg.DataDir, 0)
	s.Enqueue(e, clip)

	s.DropClip(e.ID)

	assert.Equal(t, 1, s.Depth(), "metadata stays queued for upload")
	entry := s.Next(time.Now())
	require.NotNil(t, entry)
	assert.Empty(t, entry.ClipPath)
	assert.True(t, entry.Event.ClipPruned)

	_, err := os.Stat(clip)
	assert.True(t, os.IsNotExist(err))

	events, err := store.Unsynced(10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].ClipPruned)
}

func TestSpoolReloadsPendingAcrossRestart(t *testing.T) {
	s, store, cfg := spoolFixture(t)
	t0 := time.Now().Add(-time.Hour)

	for i := 0; i < 5; i++ {
		s.Enqueue(testEvent(i, t0), "")
	}
	acked := s.Next(time.Now())
	require.NotNil(t, acked)
	s.Ack(acked.Event.ID)

	// A fresh service over the same store picks up the remaining backlog.
	restarted := New(cfg, store)
	require.NoError(t, restarted.Start(context.Background()))
	defer restarted.Stop()

	assert.Equal(t, 4, restarted.Depth())
}

func TestStoreRecentOrdering(t *testing.T) {
	_, store, _ := spoolFixture(t)
	t0 := time.Now().Add(-time.Hour)

	var last string
	for i := 0; i < 5; i++ {
		e := testEvent(i, t0)
		last = e.ID
		require.NoError(t, store.InsertEvent(e))
	}

	recent, err := store.Recent(3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, last, recent[0].ID)
}

func TestStoreRetentionKeepsUnsynced(t *testing.T) {
	_, store, _ := spoolFixture(t)
	old := time.Now().Add(-60 * 24 * time.Hour)

	synced := testEvent(0, old)
	synced.Synced = true
	require.NoError(t, store.InsertEvent(synced))
	require.NoError(t, store.InsertEvent(testEvent(1, old)))

	n, err := store.DeleteOlderThan(time.Now().Add(-30 * 24 * time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n, "only synced events age out")

	total, err := store.CountTotal()
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}
