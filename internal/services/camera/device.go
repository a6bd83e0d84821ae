package camera

import (
	"fmt"
	"image"
	"time"

	"gocv.io/x/gocv"

	"apis-edge-go/internal/models"
)

// DeviceSource reads frames from a physical camera via OpenCV.
type DeviceSource struct {
	capture *gocv.VideoCapture
	mat     gocv.Mat
	width   int
	height  int
	seq     uint64
}

// OpenDevice opens the camera at the given index and fixes its resolution.
// Resolution is set once at boot and never renegotiated.
func OpenDevice(device, width, height, fps int) (*DeviceSource, error) {
	capture, err := gocv.VideoCaptureDevice(device)
	if err != nil {
		return nil, fmt.Errorf("open camera %d: %w", device, err)
	}

	capture.Set(gocv.VideoCaptureFrameWidth, float64(width))
	capture.Set(gocv.VideoCaptureFrameHeight, float64(height))
	capture.Set(gocv.VideoCaptureFPS, float64(fps))

	return &DeviceSource{
		capture: capture,
		mat:     gocv.NewMat(),
		width:   width,
		height:  height,
	}, nil
}

func (d *DeviceSource) NextFrame(f *models.Frame) error {
	if d.capture == nil || !d.capture.IsOpened() {
		return ErrUnavailable
	}

	if ok := d.capture.Read(&d.mat); !ok || d.mat.Empty() {
		return ErrUnavailable
	}

	// The capture may ignore the requested resolution; resize if needed so
	// downstream buffers keep their fixed geometry.
	if d.mat.Cols() != d.width || d.mat.Rows() != d.height {
		gocv.Resize(d.mat, &d.mat, image.Pt(d.width, d.height), 0, 0, gocv.InterpolationLinear)
	}

	data := d.mat.ToBytes()
	if len(f.BGR) != len(data) {
		f.BGR = make([]byte, len(data))
	}
	copy(f.BGR, data)

	d.seq++
	f.Seq = d.seq
	f.Width = d.width
	f.Height = d.height
	f.Timestamp = time.Now()
	return nil
}

func (d *DeviceSource) Close() error {
	d.mat.Close()
	if d.capture != nil {
		return d.capture.Close()
	}
	return nil
}

// RetryingSource defers opening the device to the first capture and reopens
// after a read failure, so a camera that enumerates late at boot or drops
// off the bus mid-run comes back without a restart.
type RetryingSource struct {
	device int
	width  int
	height int
	fps    int
	src    *DeviceSource
}

func NewRetryingSource(device, width, height, fps int) *RetryingSource {
	return &RetryingSource{device: device, width: width, height: height, fps: fps}
}

func (r *RetryingSource) NextFrame(f *models.Frame) error {
	if r.src == nil {
		src, err := OpenDevice(r.device, r.width, r.height, r.fps)
		if err != nil {
			return ErrUnavailable
		}
		r.src = src
	}
	if err := r.src.NextFrame(f); err != nil {
		r.src.Close()
		r.src = nil
		return err
	}
	return nil
}

func (r *RetryingSource) Close() error {
	if r.src == nil {
		return nil
	}
	err := r.src.Close()
	r.src = nil
	return err
}
