//go:build !noopus

package audioconv

import (
	"io"

	popus "github.com/pekim/opus"
)

// decodeOggOpus always produces 48 kHz, the only rate libopusfile decodes to.
func decodeOggOpus(r io.ReadSeeker) (PCM, error) {
	dec, err := popus.NewDecoder(r)
	if err != nil {
		return PCM{}, err
	}
	defer dec.Destroy()

	ch := dec.ChannelCount()
	if ch <= 0 {
		ch = 1
	}

	var (
		pcm48 []float32
		buf   = make([]int16, 48_000*ch/2) // ~0.5s of audio
	)
	for {
		n, err := dec.Read(buf) // n = samples per channel
		if n > 0 {
			pcm48 = append(pcm48, int16SliceToFloat32(buf[:n*ch])...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return PCM{}, err
		}
	}

	return PCM{Samples: downmixInterleaved(pcm48, ch), SampleRate: 48000}, nil
}
