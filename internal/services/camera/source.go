package camera

import (
	"errors"

	"apis-edge-go/internal/models"
)

// ErrUnavailable is returned by a FrameSource when no frame can be acquired
// this poll. It is a normal condition, not a failure: the caller logs and
// retries with backoff.
var ErrUnavailable = errors.New("frame source unavailable")

// FrameSource abstracts the physical camera. Implementations fill the
// provided frame's pixel buffer in place and stamp it; they perform no image
// processing. NextFrame must never deliver frames out of timestamp order.
type FrameSource interface {
	// NextFrame fills f with the next capture. Returns ErrUnavailable when
	// the hardware cannot deliver a frame right now.
	NextFrame(f *models.Frame) error
	Close() error
}
