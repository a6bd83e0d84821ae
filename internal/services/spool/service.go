package spool

import (
	"context"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"apis-edge-go/internal/config"
	"apis-edge-go/internal/logging"
	"apis-edge-go/internal/models"
)

// Service is the bounded upload spool. Detections are always accepted: when
// the spool is over capacity, the oldest unacknowledged entry loses its clip
// (file deleted, row marked pruned) and leaves the queue, so logging never
// stops under upload starvation. Offline forever is a supported mode.
type Service struct {
	mu      sync.Mutex
	entries []*models.UploadSpoolEntry

	store    *Store
	logger   zerolog.Logger
	capacity int
	dataDir  string
	prune    time.Duration
	minFree  int

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func New(cfg *config.Config, store *Store) *Service {
	return &Service{
		store:    store,
		logger:   logging.NewServiceLogger(cfg, "spool"),
		capacity: cfg.SpoolCapacity,
		dataDir:  cfg.DataDir,
		prune:    cfg.PruneAfter,
		minFree:  cfg.MinFreeMB,
	}
}

// Start reloads pending entries from the database and begins the retention
// sweep.
func (s *Service) Start(ctx context.Context) error {
	pending, err := s.store.Unsynced(s.capacity * 2)
	if err != nil {
		return err
	}

	s.mu.Lock()
	for i := range pending {
		e := pending[i]
		clipPath := ""
		if e.ClipFile != "" && !e.ClipPruned {
			clipPath = e.ClipFile
		}
		s.entries = append(s.entries, &models.UploadSpoolEntry{
			Event:    e,
			ClipPath: clipPath,
			QueuedAt: e.Timestamp,
		})
	}
	s.evictOverCapacity()
	depth := len(s.entries)
	s.mu.Unlock()

	if depth > 0 {
		s.logger.Info().Int("pending", depth).Msg("Reloaded upload spool from disk")
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.retentionLoop(ctx)
	return nil
}

func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Enqueue accepts a new detection event, persisting it and queueing it for
// upload. Never fails the caller for capacity reasons.
func (s *Service) Enqueue(event models.DetectionEvent, clipPath string) {
	if err := s.store.InsertEvent(event); err != nil {
		s.logger.Error().Err(err).Str("event_id", event.ID).Msg("Failed to persist event")
	}

	s.mu.Lock()
	s.entries = append(s.entries, &models.UploadSpoolEntry{
		Event:    event,
		ClipPath: clipPath,
		QueuedAt: time.Now(),
	})
	s.evictOverCapacity()
	s.mu.Unlock()
}

// evictOverCapacity must be called with s.mu held.
func (s *Service) evictOverCapacity() {
	for len(s.entries) > s.capacity {
		oldest := s.entries[0]
		s.entries = s.entries[1:]
		s.dropClip(oldest)
		s.logger.Warn().
			Str("event_id", oldest.Event.ID).
			Int("capacity", s.capacity).
			Msg("Spool full, oldest entry evicted (metadata retained)")
	}
}

func (s *Service) dropClip(entry *models.UploadSpoolEntry) {
	if entry.ClipPath != "" {
		if err := os.Remove(entry.ClipPath); err != nil && !os.IsNotExist(err) {
			s.logger.Error().Err(err).Str("clip", entry.ClipPath).Msg("Failed to delete evicted clip")
		}
		entry.ClipPath = ""
	}
	if err := s.store.MarkClipPruned(entry.Event.ID); err != nil {
		s.logger.Error().Err(err).Str("event_id", entry.Event.ID).Msg("Failed to mark clip pruned")
	}
}

// Next returns the oldest entry due for an upload attempt, or nil.
func (s *Service) Next(now time.Time) *models.UploadSpoolEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.entries {
		if entry.NextRetry.Before(now) || entry.NextRetry.Equal(now) {
			return entry
		}
	}
	return nil
}

// Ack removes an acknowledged entry and records the sync in the store.
func (s *Service) Ack(id string) {
	if err := s.store.MarkSynced(id); err != nil {
		s.logger.Error().Err(err).Str("event_id", id).Msg("Failed to mark event synced")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, entry := range s.entries {
		if entry.Event.ID == id {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return
		}
	}
}

// Defer reschedules an entry after a failed attempt. Attempts counts only
// real failures; rate-limit style responses pass countAttempt=false.
func (s *Service) Defer(id string, retryAt time.Time, countAttempt bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.entries {
		if entry.Event.ID == id {
			if countAttempt {
				entry.Attempts++
			}
			entry.NextRetry = retryAt
			return
		}
	}
}

// DropClip permanently discards an entry's clip while keeping the metadata
// queued, for payloads the server will never accept.
func (s *Service) DropClip(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.entries {
		if entry.Event.ID == id {
			s.dropClip(entry)
			entry.Event.ClipPruned = true
			entry.Event.ClipFile = ""
			return
		}
	}
}

// Depth reports the queue length for heartbeats and the status endpoint.
func (s *Service) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// FreeStorageMB reports free space on the data volume, or 0 when the
// statfs call fails.
func (s *Service) FreeStorageMB() int {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(s.dataDir, &stat); err != nil {
		return 0
	}
	return int(uint64(stat.Bsize) * stat.Bavail / (1024 * 1024))
}

func (s *Service) retentionLoop(ctx context.Context) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("Retention loop panicked")
		}
	}()

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.store.DeleteOlderThan(time.Now().Add(-s.prune)); err != nil {
				s.logger.Error().Err(err).Msg("Event retention sweep failed")
			} else if n > 0 {
				s.logger.Info().Int64("deleted", n).Msg("Pruned aged-out events")
			}
			if free := s.FreeStorageMB(); free > 0 && free < s.minFree {
				s.logger.Warn().
					Int("free_mb", free).
					Int("min_mb", s.minFree).
					Msg("Data volume low on space")
			}
		}
	}
}
