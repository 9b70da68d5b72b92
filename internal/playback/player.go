// Package playback plays PCM on the default output device.
package playback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"

	"xiaoma/pkg/audioconv"
)

const resampleQuality = 4

// Player owns the process-wide speaker. Play calls are serialised.
type Player struct {
	mu      sync.Mutex
	once    sync.Once
	initErr error
	rate    beep.SampleRate
}

func New(sampleRate int) *Player {
	if sampleRate <= 0 {
		sampleRate = 24000
	}
	return &Player{rate: beep.SampleRate(sampleRate)}
}

func (p *Player) init() error {
	p.once.Do(func() {
		p.initErr = speaker.Init(p.rate, p.rate.N(time.Second/10))
	})
	return p.initErr
}

// Play blocks until pcm has been played or ctx is done.
func (p *Player) Play(ctx context.Context, pcm audioconv.PCM) error {
	if len(pcm.Samples) == 0 {
		return nil
	}
	if err := p.init(); err != nil {
		return fmt.Errorf("speaker init: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var s beep.Streamer = monoStreamer(pcm.Samples)
	if src := beep.SampleRate(pcm.SampleRate); src > 0 && src != p.rate {
		s = beep.Resample(resampleQuality, src, p.rate, s)
	}

	done := make(chan struct{})
	speaker.Play(beep.Seq(s, beep.Callback(func() {
		close(done)
	})))

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		speaker.Clear()
		return ctx.Err()
	}
}

// PlayFile decodes and plays a wav/mp3/ogg file, e.g. the wake chime.
func (p *Player) PlayFile(ctx context.Context, path string) error {
	pcm, err := audioconv.ConvertFile(ctx, path, audioconv.Options{})
	if err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return p.Play(ctx, pcm)
}

func monoStreamer(samples []float32) beep.Streamer {
	pos := 0
	return beep.StreamerFunc(func(out [][2]float64) (int, bool) {
		if pos >= len(samples) {
			return 0, false
		}
		n := copy2(out, samples[pos:])
		pos += n
		return n, true
	})
}

func copy2(out [][2]float64, in []float32) int {
	n := min(len(out), len(in))
	for i := 0; i < n; i++ {
		v := float64(in[i])
		out[i][0], out[i][1] = v, v
	}
	return n
}
