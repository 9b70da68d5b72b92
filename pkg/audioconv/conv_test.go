package audioconv

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func sine(n, rate int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
	}
	return out
}

func TestEncodeDecodeWAV(t *testing.T) {
	t.Parallel()

	in := PCM{Samples: sine(1600, 16000), SampleRate: 16000}
	data, err := EncodeWAV(in)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if string(data[:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Fatalf("missing wav header: %q", data[:12])
	}

	out, err := Decode(bytes.NewReader(data), "wav", Options{})
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if out.SampleRate != 16000 || len(out.Samples) != len(in.Samples) {
		t.Fatalf("unexpected pcm: rate=%d n=%d", out.SampleRate, len(out.Samples))
	}
	for i := range in.Samples {
		if math.Abs(float64(in.Samples[i]-out.Samples[i])) > 1e-3 {
			t.Fatalf("sample %d drifted: %v vs %v", i, in.Samples[i], out.Samples[i])
		}
	}
}

func TestConvertFileResamples(t *testing.T) {
	t.Parallel()

	data, err := EncodeWAV(PCM{Samples: sine(4800, 48000), SampleRate: 48000})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	path := filepath.Join(t.TempDir(), "question")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	pcm, err := ConvertFile(context.Background(), path, Options{SampleRate: 16000})
	if err != nil {
		t.Fatalf("convert failed: %v", err)
	}
	if pcm.SampleRate != 16000 || len(pcm.Samples) != 1600 {
		t.Fatalf("unexpected pcm: rate=%d n=%d", pcm.SampleRate, len(pcm.Samples))
	}
}

func TestDecodeUnsupported(t *testing.T) {
	t.Parallel()

	_, err := Decode(bytes.NewReader([]byte("nope")), "flac", Options{})
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestResampleLength(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, out int
		n, want int
	}{
		{24000, 16000, 2400, 1600},
		{16000, 48000, 100, 300},
		{16000, 16000, 10, 10},
	}
	for _, tt := range tests {
		got := Resample(make([]float32, tt.n), tt.in, tt.out)
		if len(got) != tt.want {
			t.Fatalf("%d->%d: expected %d samples, got %d", tt.in, tt.out, tt.want, len(got))
		}
	}
}
