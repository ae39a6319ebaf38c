package audio

import (
	"testing"
	"time"
)

func TestSampleConversionRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 12345, -12345}

	pcm := BytesFromSamples(samples)
	if len(pcm) != len(samples)*2 {
		t.Fatalf("Expected %d bytes, got %d", len(samples)*2, len(pcm))
	}

	back := SamplesFromBytes(pcm)
	if len(back) != len(samples) {
		t.Fatalf("Expected %d samples, got %d", len(samples), len(back))
	}

	for i, s := range samples {
		if back[i] != s {
			t.Errorf("Sample %d: expected %d, got %d", i, s, back[i])
		}
	}
}

func TestResamplePCM(t *testing.T) {
	// 100ms of audio at 48kHz
	src := sineWavePCM(48000, 0.1, 440.0)

	out := ResamplePCM(src, 48000, 16000)

	// Downsampling by 3 should roughly third the sample count
	srcSamples := len(src) / 2
	outSamples := len(out) / 2
	want := srcSamples / 3
	if outSamples < want-2 || outSamples > want+2 {
		t.Errorf("Expected about %d samples after 48k->16k resample, got %d", want, outSamples)
	}
}

func TestResamplePCMSameRate(t *testing.T) {
	src := sineWavePCM(16000, 0.05, 440.0)

	out := ResamplePCM(src, 16000, 16000)
	if len(out) != len(src) {
		t.Errorf("Expected unchanged length for same-rate resample, got %d want %d", len(out), len(src))
	}
}

func TestResamplePCMInvalidRates(t *testing.T) {
	src := sineWavePCM(16000, 0.05, 440.0)

	if out := ResamplePCM(src, 0, 16000); len(out) != len(src) {
		t.Error("Expected input returned unchanged for zero source rate")
	}
	if out := ResamplePCM(src, 16000, 0); len(out) != len(src) {
		t.Error("Expected input returned unchanged for zero target rate")
	}
}

func TestResampleSegment(t *testing.T) {
	base := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	seg := Segment{
		Speaker:    42,
		Start:      base,
		End:        base.Add(100 * time.Millisecond),
		SampleRate: 48000,
		PCM:        sineWavePCM(48000, 0.1, 440.0),
	}

	out := ResampleSegment(seg, 16000)

	if out.SampleRate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", out.SampleRate)
	}
	if out.Speaker != seg.Speaker {
		t.Errorf("Expected speaker preserved, got %d", out.Speaker)
	}
	if !out.Start.Equal(seg.Start) || !out.End.Equal(seg.End) {
		t.Error("Expected timing fields preserved across resample")
	}
	if len(out.PCM) >= len(seg.PCM) {
		t.Errorf("Expected fewer PCM bytes after downsampling, got %d want < %d", len(out.PCM), len(seg.PCM))
	}

	// Duration derived from samples should stay close to the original
	diff := out.Duration() - seg.Duration()
	if diff < -5*time.Millisecond || diff > 5*time.Millisecond {
		t.Errorf("Expected duration within 5ms of original, diff %v", diff)
	}
}
