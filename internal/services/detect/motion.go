package detect

import (
	"time"

	"apis-edge-go/internal/config"
	"apis-edge-go/internal/models"
)

// MotionParams are the per-cycle tunables of the detector. The engine swaps
// them atomically between cycles when the server pushes detection deltas.
type MotionParams struct {
	DiffThreshold int
	MinRegionArea int
	MaxRegionArea int
}

// Detector maintains a slowly-adapting per-pixel background model and
// extracts connected foreground regions from each frame.
//
// Not safe for concurrent use: all buffers are reused across calls and the
// detector is owned by the single processing context.
type Detector struct {
	width  int
	height int
	params MotionParams

	learningRate     float64
	initLearningRate float64
	initLearnFrames  int
	minAspect        float64
	maxAspect        float64
	maxFgFraction    float64

	bgFloat    []float32
	background []uint8
	gray       []uint8
	fgMask     []uint8
	visited    []uint8
	stack      []int32

	bgReady    bool
	frameCount int
}

func NewDetector(cfg *config.Config) *Detector {
	pixels := cfg.FrameWidth * cfg.FrameHeight
	return &Detector{
		width:  cfg.FrameWidth,
		height: cfg.FrameHeight,
		params: MotionParams{
			DiffThreshold: cfg.DiffThreshold,
			MinRegionArea: cfg.MinRegionArea,
			MaxRegionArea: cfg.MaxRegionArea,
		},
		learningRate:     cfg.LearningRate,
		initLearningRate: cfg.InitLearningRate,
		initLearnFrames:  cfg.InitLearnFrames,
		minAspect:        cfg.MinAspectRatio,
		maxAspect:        cfg.MaxAspectRatio,
		maxFgFraction:    cfg.MaxForegroundFraction,

		bgFloat:    make([]float32, pixels),
		background: make([]uint8, pixels),
		gray:       make([]uint8, pixels),
		fgMask:     make([]uint8, pixels),
		visited:    make([]uint8, pixels),
		stack:      make([]int32, 16384),
	}
}

// SetParams swaps the runtime tunables. Called only between cycles.
func (d *Detector) SetParams(p MotionParams) {
	d.params = p
}

// Params returns the current tunables.
func (d *Detector) Params() MotionParams {
	return d.params
}

// ResetBackground discards the background model; it rebuilds from the next
// frame.
func (d *Detector) ResetBackground() {
	d.bgReady = false
	d.frameCount = 0
}

// Detect extracts motion regions from the frame. The second return value is
// true when foreground coverage was implausibly large: the frame is treated
// as a lighting transition, the background update is skipped and no regions
// are reported, so a scene-wide change can never look like a target.
func (d *Detector) Detect(frame *models.Frame) ([]models.MotionRegion, bool) {
	d.toGray(frame.BGR)

	if !d.bgReady {
		for i, v := range d.gray {
			d.bgFloat[i] = float32(v)
			d.background[i] = v
		}
		d.bgReady = true
		d.frameCount = 1
		return nil, false
	}

	fgCount := d.computeForegroundMask()
	if float64(fgCount) > d.maxFgFraction*float64(d.width*d.height) {
		// Lighting transition: do not absorb it into the model this frame,
		// the slow EMA will catch up over the following frames.
		return nil, true
	}

	d.updateBackground()
	d.frameCount++

	d.erode()
	d.dilate()
	d.dilate()
	d.erode()

	return d.connectedComponents(frame.Timestamp), false
}

// toGray converts BGR to grayscale with the integer luminance approximation
// (77R + 150G + 29B) >> 8.
func (d *Detector) toGray(bgr []byte) {
	for i := range d.gray {
		b := int(bgr[i*3])
		g := int(bgr[i*3+1])
		r := int(bgr[i*3+2])
		d.gray[i] = uint8((77*r + 150*g + 29*b) >> 8)
	}
}

func (d *Detector) updateBackground() {
	alpha := float32(d.learningRate)
	if d.frameCount < d.initLearnFrames {
		// Faster learning while the model is young.
		alpha = float32(d.initLearningRate)
	}
	inv := 1 - alpha
	for i, v := range d.gray {
		d.bgFloat[i] = alpha*float32(v) + inv*d.bgFloat[i]
		d.background[i] = uint8(d.bgFloat[i] + 0.5)
	}
}

// computeForegroundMask thresholds |frame - background| and returns the
// number of foreground pixels. Border pixels are forced to zero since the
// morphological kernels skip them.
func (d *Detector) computeForegroundMask() int {
	thresh := d.params.DiffThreshold
	count := 0
	for i, v := range d.gray {
		diff := int(v) - int(d.background[i])
		if diff < 0 {
			diff = -diff
		}
		if diff > thresh {
			d.fgMask[i] = 255
			count++
		} else {
			d.fgMask[i] = 0
		}
	}

	w, h := d.width, d.height
	for x := 0; x < w; x++ {
		d.fgMask[x] = 0
		d.fgMask[(h-1)*w+x] = 0
	}
	for y := 1; y < h-1; y++ {
		d.fgMask[y*w] = 0
		d.fgMask[y*w+w-1] = 0
	}
	return count
}

// erode applies 3x3 erosion with a cross kernel.
func (d *Detector) erode() {
	w, h := d.width, d.height
	copy(d.visited, d.fgMask)
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			idx := y*w + x
			if d.visited[idx-w] == 0 || d.visited[idx-1] == 0 ||
				d.visited[idx] == 0 || d.visited[idx+1] == 0 ||
				d.visited[idx+w] == 0 {
				d.fgMask[idx] = 0
			}
		}
	}
}

// dilate applies 3x3 dilation with a cross kernel.
func (d *Detector) dilate() {
	w, h := d.width, d.height
	copy(d.visited, d.fgMask)
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			idx := y*w + x
			if d.visited[idx-w] == 255 || d.visited[idx-1] == 255 ||
				d.visited[idx] == 255 || d.visited[idx+1] == 255 ||
				d.visited[idx+w] == 255 {
				d.fgMask[idx] = 255
			}
		}
	}
}

// connectedComponents flood-fills the foreground mask and returns regions
// passing the area and aspect filters.
func (d *Detector) connectedComponents(ts time.Time) []models.MotionRegion {
	w, h := d.width, d.height
	for i := range d.visited {
		d.visited[i] = 0
	}

	var regions []models.MotionRegion

	for sy := 0; sy < h; sy++ {
		for sx := 0; sx < w; sx++ {
			start := sy*w + sx
			if d.fgMask[start] == 0 || d.visited[start] != 0 {
				continue
			}

			minX, maxX := sx, sx
			minY, maxY := sy, sy
			area := 0
			var sumX, sumY int64
			truncated := false

			sp := 0
			d.visited[start] = 1
			d.stack[sp] = int32(sx)
			d.stack[sp+1] = int32(sy)
			sp += 2

			for sp > 0 {
				sp -= 2
				x := int(d.stack[sp])
				y := int(d.stack[sp+1])

				area++
				sumX += int64(x)
				sumY += int64(y)
				if x < minX {
					minX = x
				}
				if x > maxX {
					maxX = x
				}
				if y < minY {
					minY = y
				}
				if y > maxY {
					maxY = y
				}

				for _, n := range [4][2]int{{x + 1, y}, {x - 1, y}, {x, y + 1}, {x, y - 1}} {
					nx, ny := n[0], n[1]
					if nx < 0 || nx >= w || ny < 0 || ny >= h {
						continue
					}
					nidx := ny*w + nx
					if d.fgMask[nidx] == 0 || d.visited[nidx] != 0 {
						continue
					}
					if sp+2 > len(d.stack)-2 {
						// Region bigger than the fill stack; its bounds
						// would be unreliable, drop it.
						truncated = true
						continue
					}
					d.visited[nidx] = 1
					d.stack[sp] = int32(nx)
					d.stack[sp+1] = int32(ny)
					sp += 2
				}
			}

			if truncated {
				continue
			}
			if area < d.params.MinRegionArea || area > d.params.MaxRegionArea {
				continue
			}

			bw := maxX - minX + 1
			bh := maxY - minY + 1
			aspect := float64(bw) / float64(bh)
			if aspect < d.minAspect || aspect > d.maxAspect {
				continue
			}

			regions = append(regions, models.MotionRegion{
				X: minX, Y: minY, W: bw, H: bh,
				Area:      area,
				CentroidX: int(sumX / int64(area)),
				CentroidY: int(sumY / int64(area)),
				Timestamp: ts,
			})
		}
	}

	return regions
}
