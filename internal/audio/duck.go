package audio

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	percentRe = regexp.MustCompile(`(\d+)\s*%`)
)

const maxVolume = 150

type streamInfo struct {
	ID      int
	Volume  int
	AppName string
}

type fadeTarget struct {
	id   int
	from int
	to   int
}

// Mixer is the sound server surface the Ducker drives.
type Mixer interface {
	Streams(ctx context.Context) ([]streamInfo, error)
	SetVolume(ctx context.Context, id int, percent int) error
}

// Ducker lowers every playback stream except our own while the
// assistant speaks, then restores them.
type Ducker struct {
	mu          sync.Mutex
	mixer       Mixer
	active      bool
	selfNames   []string    // application.name values left untouched
	originalVol map[int]int // stream id -> volume before ducking
	minVolume   int
	factor      float64
	fade        time.Duration
}

type DuckConfig struct {
	SelfNames []string
	MinVolume int
	Factor    float64
	Fade      time.Duration
}

func NewDucker(mixer Mixer, cfg DuckConfig) *Ducker {
	if mixer == nil {
		mixer = Pactl{}
	}
	minVolume := max(cfg.MinVolume, 0)
	minVolume = min(minVolume, maxVolume)
	if cfg.Factor <= 0 || cfg.Factor > 1 {
		cfg.Factor = 0.3
	}

	return &Ducker{
		mixer:       mixer,
		selfNames:   append([]string(nil), cfg.SelfNames...),
		originalVol: make(map[int]int),
		minVolume:   minVolume,
		factor:      cfg.Factor,
		fade:        cfg.Fade,
	}
}

// Duck fades foreign streams to current*factor, not below minVolume.
func (d *Ducker) Duck(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active {
		return nil
	}

	streams, err := d.mixer.Streams(ctx)
	if err != nil {
		return fmt.Errorf("list streams: %w", err)
	}

	d.originalVol = make(map[int]int)

	var targets []fadeTarget

	for _, s := range streams {
		if d.isSelfStream(s) {
			continue
		}

		from := s.Volume
		to := int(math.Round(math.Min(math.Max(float64(from)*d.factor, float64(d.minVolume)), maxVolume)))

		d.originalVol[s.ID] = from
		targets = append(targets, fadeTarget{id: s.ID, from: from, to: to})
	}

	if err := d.fadeInputs(ctx, targets); err != nil {
		return err
	}

	d.active = true

	return nil
}

// Restore fades ducked streams back to where they were.
// Streams that appeared after Duck are left alone.
func (d *Ducker) Restore(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.active {
		return nil
	}

	streams, err := d.mixer.Streams(ctx)
	if err != nil {
		return fmt.Errorf("list streams: %w", err)
	}

	var targets []fadeTarget

	for _, s := range streams {
		if d.isSelfStream(s) {
			continue
		}
		orig, ok := d.originalVol[s.ID]
		if !ok {
			continue
		}
		targets = append(targets, fadeTarget{id: s.ID, from: s.Volume, to: orig})
	}

	if err := d.fadeInputs(ctx, targets); err != nil {
		return err
	}

	d.originalVol = make(map[int]int)
	d.active = false

	return nil
}

func (d *Ducker) isSelfStream(s streamInfo) bool {
	for _, name := range d.selfNames {
		if s.AppName == name {
			return true
		}
	}

	return false
}

// fadeInputs steps every target from its start to its end volume.
func (d *Ducker) fadeInputs(ctx context.Context, targets []fadeTarget) error {
	if len(targets) == 0 {
		return nil
	}

	if d.fade <= 0 {
		for _, t := range targets {
			if err := d.mixer.SetVolume(ctx, t.id, t.to); err != nil {
				return fmt.Errorf("set volume id=%d: %w", t.id, err)
			}
		}

		return nil
	}

	const minStepDuration = 10 * time.Millisecond

	steps := max(int(d.fade/minStepDuration), 1)
	stepDuration := d.fade / time.Duration(steps)

	for i := 0; i <= steps; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		frac := float64(i) / float64(steps)

		for _, t := range targets {
			v := int(math.Round(float64(t.from) + float64(t.to-t.from)*frac))
			if err := d.mixer.SetVolume(ctx, t.id, v); err != nil {
				return fmt.Errorf("set volume id=%d: %w", t.id, err)
			}
		}

		if i < steps {
			time.Sleep(stepDuration)
		}
	}

	return nil
}

// Pactl drives PulseAudio/PipeWire through the pactl binary.
type Pactl struct{}

func (Pactl) Streams(ctx context.Context) ([]streamInfo, error) {
	out, err := exec.CommandContext(ctx, "pactl", "list", "sink-inputs").Output()
	if err != nil {
		return nil, fmt.Errorf("pactl list sink-inputs: %w", err)
	}
	return parseSinkInputs(string(out)), nil
}

func (Pactl) SetVolume(ctx context.Context, id int, percent int) error {
	percent = min(max(percent, 0), maxVolume)
	arg := fmt.Sprintf("%d%%", percent)
	return exec.CommandContext(ctx, "pactl", "set-sink-input-volume", strconv.Itoa(id), arg).Run()
}

func parseSinkInputs(text string) []streamInfo {
	parts := strings.Split(text, "Sink Input #")
	if len(parts) <= 1 {
		return nil
	}

	var res []streamInfo

	for _, block := range parts[1:] {
		newline := strings.IndexByte(block, '\n')
		if newline <= 0 {
			continue
		}

		id, err := strconv.Atoi(strings.TrimSpace(block[:newline]))
		if err != nil {
			continue
		}

		s := streamInfo{ID: id}

		for _, line := range strings.Split(block[newline+1:], "\n") {
			line = strings.TrimSpace(line)

			if strings.HasPrefix(line, "Volume:") && s.Volume == 0 {
				if m := percentRe.FindStringSubmatch(line); len(m) >= 2 {
					if v, err := strconv.Atoi(m[1]); err == nil {
						s.Volume = v
					}
				}
			}

			// application.name = "Firefox"
			if strings.HasPrefix(line, "application.name =") && s.AppName == "" {
				if i := strings.Index(line, "\""); i >= 0 {
					rest := line[i+1:]
					if j := strings.Index(rest, "\""); j >= 0 {
						s.AppName = rest[:j]
					}
				}
			}
		}

		if s.Volume == 0 && s.AppName == "" {
			continue
		}

		res = append(res, s)
	}

	return res
}
