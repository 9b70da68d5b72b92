package audioconv

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
)

// PCM is mono float32 audio in [-1, 1].
type PCM struct {
	Samples    []float32
	SampleRate int
}

type Options struct {
	SampleRate int // resample to this rate; 0 keeps the source rate
	MaxSamples int // 0 = no limit
}

var ErrUnsupported = errors.New("unsupported audio format")

// ConvertFile decodes a wav/mp3/ogg file into mono PCM.
func ConvertFile(_ context.Context, path string, opt Options) (PCM, error) {
	f, err := os.Open(path)
	if err != nil {
		return PCM{}, err
	}
	defer f.Close()

	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if format == "" {
		format = sniff(f)
	}

	return Decode(f, format, opt)
}

// Decode reads an encoded stream. format is a file extension or
// media subtype: wav, mp3, mpeg, ogg, oga, vorbis, opus.
func Decode(r io.ReadSeeker, format string, opt Options) (PCM, error) {
	var (
		pcm PCM
		err error
	)

	switch strings.ToLower(format) {
	case "wav", "wave", "x-wav":
		pcm, err = decodeWAV(r)
	case "mp3", "mpeg":
		pcm, err = decodeMP3(r)
	case "opus":
		pcm, err = decodeOggOpus(r)
	case "ogg", "oga", "vorbis":
		pcm, err = decodeOgg(r)
	default:
		return PCM{}, fmt.Errorf("%w: %s", ErrUnsupported, format)
	}
	if err != nil {
		return PCM{}, err
	}

	if opt.SampleRate > 0 && pcm.SampleRate != opt.SampleRate {
		pcm.Samples = Resample(pcm.Samples, pcm.SampleRate, opt.SampleRate)
		pcm.SampleRate = opt.SampleRate
	}
	if opt.MaxSamples > 0 && len(pcm.Samples) > opt.MaxSamples {
		pcm.Samples = pcm.Samples[:opt.MaxSamples]
	}

	return pcm, nil
}

func sniff(f io.ReadSeeker) string {
	br := bufio.NewReader(f)
	magic, _ := br.Peek(4)
	_, _ = f.Seek(0, io.SeekStart)

	switch {
	case string(magic) == "RIFF":
		return "wav"
	case string(magic) == "OggS":
		return "ogg"
	case len(magic) >= 3 && string(magic[:3]) == "ID3":
		return "mp3"
	default:
		return ""
	}
}

// decodeOgg tries Vorbis first and falls back to Opus.
func decodeOgg(r io.ReadSeeker) (PCM, error) {
	if pcm, err := decodeOggVorbis(r); err == nil {
		return pcm, nil
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return PCM{}, err
	}
	pcm, err := decodeOggOpus(r)
	if err != nil {
		return PCM{}, fmt.Errorf("cannot decode ogg as vorbis or opus: %w", err)
	}
	return pcm, nil
}

func decodeWAV(r io.ReadSeeker) (PCM, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return PCM{}, errors.New("invalid wav")
	}
	pb, err := dec.FullPCMBuffer()
	if err != nil || pb == nil || pb.Data == nil {
		if err == nil {
			err = errors.New("empty wav")
		}
		return PCM{}, err
	}

	bd := int(dec.BitDepth)
	if bd == 0 {
		bd = 16
	}
	x := intSliceToFloat32(pb.Data, bd)

	ch := 1
	sr := 44100
	if pb.Format != nil {
		if pb.Format.NumChannels > 0 {
			ch = pb.Format.NumChannels
		}
		if pb.Format.SampleRate > 0 {
			sr = pb.Format.SampleRate
		}
	}

	return PCM{Samples: downmixInterleaved(x, ch), SampleRate: sr}, nil
}

func decodeMP3(r io.Reader) (PCM, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return PCM{}, err
	}
	var raw bytes.Buffer
	if _, err := io.Copy(&raw, dec); err != nil {
		return PCM{}, err
	}
	ints := make([]int16, raw.Len()/2)
	if err := binary.Read(bytes.NewReader(raw.Bytes()), binary.LittleEndian, &ints); err != nil {
		return PCM{}, err
	}
	// go-mp3 always yields interleaved stereo
	x := downmixInterleaved(int16SliceToFloat32(ints), 2)

	sr := dec.SampleRate()
	if sr <= 0 {
		sr = 44100
	}

	return PCM{Samples: x, SampleRate: sr}, nil
}

func decodeOggVorbis(r io.Reader) (PCM, error) {
	pcm, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return PCM{}, err
	}
	if format == nil || format.Channels <= 0 || format.SampleRate <= 0 {
		return PCM{}, errors.New("invalid ogg/vorbis stream")
	}

	return PCM{Samples: downmixInterleaved(pcm, format.Channels), SampleRate: format.SampleRate}, nil
}

// helpers

func intSliceToFloat32(data []int, bitDepth int) []float32 {
	out := make([]float32, len(data))
	scale := 1.0 / float64(int64(1)<<(bitDepth-1))
	for i, v := range data {
		out[i] = float32(clamp(float64(v)*scale, -1.0, 1.0))
	}
	return out
}

func int16SliceToFloat32(data []int16) []float32 {
	out := make([]float32, len(data))
	const scale = 1.0 / 32768.0
	for i, v := range data {
		out[i] = float32(float64(v) * scale)
	}
	return out
}

func downmixInterleaved(in []float32, channels int) []float32 {
	if channels <= 1 {
		return in
	}
	nFrames := len(in) / channels
	out := make([]float32, nFrames)
	for i := 0; i < nFrames; i++ {
		sum := 0.0
		base := i * channels
		for c := 0; c < channels; c++ {
			sum += float64(in[base+c])
		}
		out[i] = float32(sum / float64(channels))
	}
	return out
}

// Resample converts between rates with linear interpolation.
func Resample(in []float32, inSR, outSR int) []float32 {
	if inSR == outSR || len(in) == 0 || inSR <= 0 || outSR <= 0 {
		return in
	}
	ratio := float64(outSR) / float64(inSR)
	outN := int(math.Ceil(float64(len(in)) * ratio))
	out := make([]float32, outN)
	for i := 0; i < outN; i++ {
		src := float64(i) / ratio
		i0 := int(math.Floor(src))
		i1 := i0 + 1
		if i0 >= len(in) {
			out[i] = in[len(in)-1]
			continue
		}
		if i1 >= len(in) {
			out[i] = in[i0]
			continue
		}
		a := float32(src - float64(i0))
		out[i] = in[i0]*(1-a) + in[i1]*a
	}
	return out
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
