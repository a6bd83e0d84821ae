package camera

import (
	"time"

	"apis-edge-go/internal/models"
)

// SyntheticSource generates frames in memory: a flat background with an
// optional moving square blob. Used when no camera hardware is present and
// by the pipeline tests.
type SyntheticSource struct {
	width    int
	height   int
	seq      uint64
	clock    func() time.Time

	// Blob state; controlled by tests or the dev loop.
	BlobX, BlobY   int
	BlobSize       int
	BlobEnabled    bool
	Background     byte
	BlobBrightness byte
}

func NewSyntheticSource(width, height int) *SyntheticSource {
	return &SyntheticSource{
		width:          width,
		height:         height,
		clock:          time.Now,
		Background:     96,
		BlobBrightness: 220,
	}
}

// SetClock overrides the timestamp source, letting tests drive time.
func (s *SyntheticSource) SetClock(clock func() time.Time) {
	s.clock = clock
}

func (s *SyntheticSource) NextFrame(f *models.Frame) error {
	n := s.width * s.height * 3
	if len(f.BGR) != n {
		f.BGR = make([]byte, n)
	}

	for i := range f.BGR {
		f.BGR[i] = s.Background
	}

	if s.BlobEnabled && s.BlobSize > 0 {
		for dy := 0; dy < s.BlobSize; dy++ {
			y := s.BlobY + dy
			if y < 0 || y >= s.height {
				continue
			}
			for dx := 0; dx < s.BlobSize; dx++ {
				x := s.BlobX + dx
				if x < 0 || x >= s.width {
					continue
				}
				idx := (y*s.width + x) * 3
				f.BGR[idx] = s.BlobBrightness
				f.BGR[idx+1] = s.BlobBrightness
				f.BGR[idx+2] = s.BlobBrightness
			}
		}
	}

	s.seq++
	f.Seq = s.seq
	f.Width = s.width
	f.Height = s.height
	f.Timestamp = s.clock()
	return nil
}

func (s *SyntheticSource) Close() error { return nil }
