package mic

import (
	"fmt"

	"github.com/gordonklaus/portaudio"
)

// Mic is the default input device, opened once for the life of the process.
// It satisfies audio.Source. Not safe for concurrent use.
type Mic struct {
	sampleRate int
	buf        []float32
	stream     *portaudio.Stream
}

func Open(sampleRate, frameSize int) (*Mic, error) {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if frameSize <= 0 {
		frameSize = 320 // 20ms @ 16k
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}

	m := &Mic{
		sampleRate: sampleRate,
		buf:        make([]float32, frameSize),
	}

	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), len(m.buf), m.buf)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("open stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("start stream: %w", err)
	}

	m.stream = stream

	return m, nil
}

func (m *Mic) Next() ([]float32, error) {
	if err := m.stream.Read(); err != nil {
		// an overflow only means frames were dropped while we were busy
		if err == portaudio.InputOverflowed {
			return m.buf, nil
		}
		return nil, err
	}
	return m.buf, nil
}

func (m *Mic) SampleRate() int { return m.sampleRate }

func (m *Mic) FrameSize() int { return len(m.buf) }

func (m *Mic) Close() {
	if m.stream != nil {
		m.stream.Stop()
		m.stream.Close()
	}
	portaudio.Terminate()
}
