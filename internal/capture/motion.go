package capture

import (
	"image"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// MotionDetector reports whether the scene changed since the previous
// frame. Frames are reduced to a small blurred grayscale sample before they
// are compared, so the cost does not depend on the camera resolution.
type MotionDetector struct {
	threshold float64
	baseline  gocv.Mat
	primed    bool
	mu        sync.Mutex
}

const (
	sampleWidth = 160
	blurKernel  = 11
	// diffLevel is the per-pixel intensity change that counts as changed.
	diffLevel = 25
)

// NewMotionDetector creates a MotionDetector. threshold is the percentage of
// sample pixels that must change; 1.0 means 1%.
func NewMotionDetector(threshold float64) *MotionDetector {
	return &MotionDetector{
		threshold: threshold,
		baseline:  gocv.NewMat(),
	}
}

// Detect compares frame with the previous one and returns whether more than
// threshold percent of the pixels changed, along with that percentage. The
// first frame after construction or Reset only sets the baseline.
func (m *MotionDetector) Detect(frame *gocv.Mat) (moved bool, changed float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if frame == nil || frame.Empty() {
		return false, 0
	}

	sample := m.sample(frame)
	defer sample.Close()

	if !m.primed || m.baseline.Rows() != sample.Rows() || m.baseline.Cols() != sample.Cols() {
		sample.CopyTo(&m.baseline)
		m.primed = true
		return false, 0
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(sample, m.baseline, &diff)
	gocv.Threshold(diff, &diff, diffLevel, 255, gocv.ThresholdBinary)

	changed = float64(gocv.CountNonZero(diff)) / float64(diff.Rows()*diff.Cols()) * 100
	sample.CopyTo(&m.baseline)

	return changed > m.threshold, changed
}

// sample converts frame to a blurred grayscale image at most sampleWidth wide.
func (m *MotionDetector) sample(frame *gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	if frame.Channels() > 1 {
		gocv.CvtColor(*frame, &gray, gocv.ColorBGRToGray)
	} else {
		frame.CopyTo(&gray)
	}

	if gray.Cols() > sampleWidth {
		h := gray.Rows() * sampleWidth / gray.Cols()
		if h < 1 {
			h = 1
		}
		small := gocv.NewMat()
		gocv.Resize(gray, &small, image.Point{X: sampleWidth, Y: h}, 0, 0, gocv.InterpolationArea)
		gray.Close()
		gray = small
	}

	gocv.GaussianBlur(gray, &gray, image.Point{X: blurKernel, Y: blurKernel}, 0, 0, gocv.BorderDefault)
	return gray
}

// Reset drops the baseline; the next frame starts a new comparison.
func (m *MotionDetector) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clear()
}

// Close releases the baseline frame.
func (m *MotionDetector) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clear()
}

func (m *MotionDetector) clear() {
	if !m.baseline.Empty() {
		m.baseline.Close()
		m.baseline = gocv.NewMat()
	}
	m.primed = false
}

// SetThreshold sets the motion detection threshold.
// The threshold is the percentage of pixels that must change to detect motion.
// Values less than or equal to 0 are ignored.
func (m *MotionDetector) SetThreshold(threshold float64) {
	if threshold <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.threshold = threshold
}

// Pacer chooses the loop interval: active FPS while motion was seen within
// IdleAfter, idle FPS otherwise.
type Pacer struct {
	activeFPS  int
	idleFPS    int
	idleAfter  time.Duration
	active     bool
	lastMotion time.Time
	now        func() time.Time
}

// DefaultIdleAfter is how long the pacer stays active after the last motion.
const DefaultIdleAfter = 2 * time.Second

// NewPacer creates a pacer that starts in idle mode. A non-positive idleFPS
// pins the pacer to activeFPS.
func NewPacer(activeFPS, idleFPS int, idleAfter time.Duration) *Pacer {
	if activeFPS <= 0 {
		activeFPS = DefaultFPS
	}
	if idleFPS <= 0 || idleFPS > activeFPS {
		idleFPS = activeFPS
	}
	if idleAfter <= 0 {
		idleAfter = DefaultIdleAfter
	}
	return &Pacer{
		activeFPS: activeFPS,
		idleFPS:   idleFPS,
		idleAfter: idleAfter,
		now:       time.Now,
	}
}

// Observe records one motion result and reports whether the mode changed.
func (p *Pacer) Observe(motion bool) (changed bool) {
	now := p.now()
	if motion {
		p.lastMotion = now
		if !p.active {
			p.active = true
			return true
		}
		return false
	}
	if p.active && now.Sub(p.lastMotion) > p.idleAfter {
		p.active = false
		return true
	}
	return false
}

// Active reports whether the pacer is in active mode.
func (p *Pacer) Active() bool {
	return p.active
}

// FPS returns the frame rate for the current mode.
func (p *Pacer) FPS() int {
	if p.active {
		return p.activeFPS
	}
	return p.idleFPS
}

// Interval returns the tick interval for the current mode.
func (p *Pacer) Interval() time.Duration {
	return time.Second / time.Duration(p.FPS())
}
