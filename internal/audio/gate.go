package audio

import (
	"context"
	"math"
	"time"
)

// Clip is mono float32 PCM in [-1, 1].
type Clip struct {
	Samples    []float32
	SampleRate int
}

func (c Clip) Empty() bool { return len(c.Samples) == 0 }

func (c Clip) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.SampleRate)
}

// Source yields fixed-size frames from a capture device.
// Next blocks until a full frame is available; the returned slice
// is only valid until the following call.
type Source interface {
	Next() ([]float32, error)
	SampleRate() int
	FrameSize() int
}

// Gate decides which frames of a Source carry speech.
type Gate struct {
	src        Source
	threshold  float64
	floor      float64
	multiplier float64
}

type GateConfig struct {
	Threshold  float64 // initial RMS threshold
	Floor      float64 // calibration never goes below this
	Multiplier float64 // threshold = ambient * Multiplier
}

func NewGate(src Source, cfg GateConfig) *Gate {
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2
	}
	if cfg.Threshold < cfg.Floor {
		cfg.Threshold = cfg.Floor
	}
	return &Gate{
		src:        src,
		threshold:  cfg.Threshold,
		floor:      cfg.Floor,
		multiplier: cfg.Multiplier,
	}
}

func (g *Gate) Source() Source { return g.src }

func (g *Gate) Threshold() float64 { return g.threshold }

func (g *Gate) FrameDuration() time.Duration {
	return time.Duration(g.src.FrameSize()) * time.Second / time.Duration(g.src.SampleRate())
}

func (g *Gate) IsSpeech(frame []float32) bool {
	return frameRMS(frame) > g.threshold
}

// Calibrate listens to the room for d and raises or lowers the speech
// threshold to the ambient level times the multiplier.
func (g *Gate) Calibrate(ctx context.Context, d time.Duration) (float64, error) {
	frames := g.framesFor(d)

	var sum float64
	for i := 0; i < frames; i++ {
		if err := ctx.Err(); err != nil {
			return g.threshold, err
		}
		frame, err := g.src.Next()
		if err != nil {
			return g.threshold, err
		}
		sum += frameRMS(frame)
	}

	ambient := sum / float64(frames)
	g.threshold = math.Max(ambient*g.multiplier, g.floor)

	return g.threshold, nil
}

// Window pulls frames covering d and reports whether any of them held speech.
func (g *Gate) Window(ctx context.Context, d time.Duration) (Clip, bool, error) {
	frames := g.framesFor(d)
	out := make([]float32, 0, frames*g.src.FrameSize())

	var voiced bool
	for i := 0; i < frames; i++ {
		if err := ctx.Err(); err != nil {
			return Clip{}, false, err
		}
		frame, err := g.src.Next()
		if err != nil {
			return Clip{}, false, err
		}
		if g.IsSpeech(frame) {
			voiced = true
		}
		out = append(out, frame...)
	}

	return Clip{Samples: out, SampleRate: g.src.SampleRate()}, voiced, nil
}

func (g *Gate) framesFor(d time.Duration) int {
	fd := g.FrameDuration()
	if fd <= 0 {
		return 1
	}
	n := int((d + fd - 1) / fd)
	if n < 1 {
		n = 1
	}
	return n
}

func frameRMS(f []float32) float64 {
	if len(f) == 0 {
		return 0
	}
	var s float64
	for _, x := range f {
		s += float64(x * x)
	}
	return math.Sqrt(s / float64(len(f)))
}
