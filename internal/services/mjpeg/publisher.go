package mjpeg

import (
	"fmt"
	"image"
	"image/color"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"apis-edge-go/internal/config"
	"apis-edge-go/internal/logging"
	"apis-edge-go/internal/models"
)

// Publisher serves the live entrance view as multipart MJPEG for LAN
// dashboards. It keeps only the latest encoded JPEG; viewers that fall
// behind simply skip frames.
type Publisher struct {
	jpegMutex  sync.RWMutex
	latestJPEG []byte

	notifyMutex sync.Mutex
	notify      map[chan struct{}]struct{}

	overlay bool
	logger  zerolog.Logger
}

func NewPublisher(cfg *config.Config) *Publisher {
	return &Publisher{
		notify:  make(map[chan struct{}]struct{}),
		overlay: true,
		logger:  logging.NewServiceLogger(cfg, "mjpeg"),
	}
}

// PublishFrame encodes a frame and wakes the streamers. The detection boxes
// and gate state are burned into the image so the dashboard needs no
// overlay logic.
func (p *Publisher) PublishFrame(frame *models.Frame, result models.CycleResult, state models.GateState) error {
	mat, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.BGR)
	if err != nil {
		return fmt.Errorf("creating mat from frame: %w", err)
	}
	defer mat.Close()

	if p.overlay {
		drawOverlay(&mat, result, state)
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, mat, []int{gocv.IMWriteJpegQuality, 80})
	if err != nil {
		return fmt.Errorf("encoding jpeg: %w", err)
	}
	b := buf.GetBytes()
	jpegCopy := make([]byte, len(b))
	copy(jpegCopy, b)
	buf.Close()

	p.jpegMutex.Lock()
	p.latestJPEG = jpegCopy
	p.jpegMutex.Unlock()

	p.notifyMutex.Lock()
	for ch := range p.notify {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	p.notifyMutex.Unlock()
	return nil
}

func drawOverlay(mat *gocv.Mat, result models.CycleResult, state models.GateState) {
	selectedColor := color.RGBA{R: 255, A: 255}
	otherColor := color.RGBA{R: 255, G: 255, A: 255}

	drawBox := func(d models.Detection, c color.RGBA) {
		r := d.Target.Region
		gocv.Rectangle(mat, image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H), c, 2)
		gocv.PutText(mat, string(d.Confidence),
			image.Pt(r.X, r.Y-4), gocv.FontHersheyPlain, 1.0, c, 1)
	}
	if result.Selected != nil {
		drawBox(*result.Selected, selectedColor)
	}
	for _, d := range result.Others {
		drawBox(d, otherColor)
	}

	gocv.PutText(mat, state.String(),
		image.Pt(8, 20), gocv.FontHersheySimplex, 0.6, color.RGBA{G: 255, A: 255}, 2)
}

func (p *Publisher) subscribe() chan struct{} {
	ch := make(chan struct{}, 2)
	p.notifyMutex.Lock()
	p.notify[ch] = struct{}{}
	p.notifyMutex.Unlock()
	return ch
}

func (p *Publisher) unsubscribe(ch chan struct{}) {
	p.notifyMutex.Lock()
	delete(p.notify, ch)
	p.notifyMutex.Unlock()
}

func (p *Publisher) latest() []byte {
	p.jpegMutex.RLock()
	defer p.jpegMutex.RUnlock()
	return p.latestJPEG
}

// StreamHTTP writes a multipart/x-mixed-replace MJPEG stream until the
// client disconnects.
func (p *Publisher) StreamHTTP(w http.ResponseWriter, r *http.Request) {
	const boundary = "frame"
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	writePart := func(jpeg []byte) bool {
		if _, err := io.WriteString(w, "--"+boundary+"\r\n"); err != nil {
			return false
		}
		if _, err := io.WriteString(w, "Content-Type: image/jpeg\r\n"); err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(jpeg)); err != nil {
			return false
		}
		if _, err := w.Write(jpeg); err != nil {
			return false
		}
		if _, err := io.WriteString(w, "\r\n"); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	first := p.latest()
	if len(first) == 0 {
		first = placeholderJPEG()
	}
	if len(first) > 0 && !writePart(first) {
		return
	}

	notify := p.subscribe()
	defer p.unsubscribe(notify)

	keepalive := time.NewTicker(2 * time.Second)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-notify:
			if buf := p.latest(); len(buf) > 0 && !writePart(buf) {
				return
			}
		case <-keepalive.C:
			if buf := p.latest(); len(buf) > 0 && !writePart(buf) {
				return
			}
		}
	}
}

func placeholderJPEG() []byte {
	mat := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer mat.Close()
	mat.SetTo(gocv.Scalar{Val1: 32, Val2: 32, Val3: 32, Val4: 0})

	gocv.PutText(&mat, "Camera initializing...",
		image.Pt(140, 240), gocv.FontHersheySimplex, 1.0,
		color.RGBA{R: 255, G: 255, B: 255, A: 255}, 2)

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, mat, []int{gocv.IMWriteJpegQuality, 80})
	if err != nil {
		return nil
	}
	defer buf.Close()
	b := buf.GetBytes()
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
