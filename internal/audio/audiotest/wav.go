// Package audiotest writes small WAV fixtures for tests.
package audiotest

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WriteWAV writes mono 16-bit PCM samples to path.
func WriteWAV(t testing.TB, path string, sampleRate int, samples []int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	defer f.Close()

	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	if err := enc.Write(buf); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close wav encoder: %v", err)
	}
}

// Tone returns a 440 Hz sine wave at half scale.
func Tone(sampleRate int, d float64) []int {
	n := int(float64(sampleRate) * d)
	samples := make([]int, n)
	for i := range samples {
		samples[i] = int(16383 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
	}
	return samples
}

// Silence returns d seconds of zero samples.
func Silence(sampleRate int, d float64) []int {
	return make([]int, int(float64(sampleRate)*d))
}

// WriteTone writes d seconds of tone to path.
func WriteTone(t testing.TB, path string, d float64) {
	t.Helper()
	WriteWAV(t, path, 8000, Tone(8000, d))
}

// WriteSilence writes d seconds of silence to path.
func WriteSilence(t testing.TB, path string, d float64) {
	t.Helper()
	WriteWAV(t, path, 8000, Silence(8000, d))
}
