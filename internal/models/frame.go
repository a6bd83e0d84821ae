package models

import "time"

// Frame is a single timestamped capture from the camera.
//
// The pixel buffer is owned by the pipeline stage currently holding the
// frame. Buffers come from a small reusable ring in the camera service, so a
// frame must be fully consumed (or copied) within one processing cycle.
type Frame struct {
	Seq       uint64
	Timestamp time.Time // monotonic capture time
	Width     int
	Height    int
	// BGR is the raw pixel buffer, 3 bytes per pixel, row-major.
	BGR []byte
}

// Pixels returns the pixel count of the frame.
func (f *Frame) Pixels() int {
	return f.Width * f.Height
}

// PixelCoord is a position in the camera frame. Origin is top-left.
type PixelCoord struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// ServoPosition is a pan/tilt angle pair in degrees.
// Tilt 0 is horizontal; negative tilt points downward.
type ServoPosition struct {
	PanDeg  float64 `json:"pan_deg"`
	TiltDeg float64 `json:"tilt_deg"`
}
