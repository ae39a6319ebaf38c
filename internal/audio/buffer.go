package audio

import (
	"fmt"
	"sync"
	"time"
)

// Frame is a single decoded PCM frame captured from one speaker.
// PCM holds 16-bit little-endian mono samples.
type Frame struct {
	Speaker   uint64
	Sequence  uint32
	Timestamp time.Time // Capture time assigned at the gateway
	PCM       []byte
}

// Duration returns the playback duration of the frame at the given sample rate.
func (f Frame) Duration(sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := len(f.PCM) / 2
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// Segment is a contiguous run of one speaker's audio drained from a buffer.
type Segment struct {
	Speaker    uint64
	Start      time.Time // Capture time of the first frame
	End        time.Time // Capture time of the last frame plus its duration
	SampleRate int
	PCM        []byte
}

// Empty reports whether the segment carries no audio.
func (s Segment) Empty() bool {
	return len(s.PCM) == 0
}

// Duration returns the playback duration of the segment's audio.
func (s Segment) Duration() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	samples := len(s.PCM) / 2
	return time.Duration(samples) * time.Second / time.Duration(s.SampleRate)
}

// SpeakerBuffer accumulates one speaker's PCM frames for the current
// utterance, ordered by capture time. Frames may arrive slightly out of
// order from the gateway; the buffer inserts them at the right position
// instead of rejecting them. Exact duplicates are dropped.
type SpeakerBuffer struct {
	speaker    uint64
	sampleRate int

	// Pending frames, ordered by Timestamp ascending
	frames []Frame

	// Timing and metadata
	lastActivity time.Time // Highest capture time seen so far
	totalFrames  uint64    // Total frames accepted
	reordered    uint64    // Frames inserted before the tail
	duplicates   uint64    // Frames dropped as duplicates

	mu sync.RWMutex
}

// SpeakerBufferStats represents buffer statistics for monitoring
type SpeakerBufferStats struct {
	Speaker         uint64    `json:"speaker"`
	PendingFrames   int       `json:"pending_frames"`
	PendingDuration float64   `json:"pending_duration_seconds"`
	TotalFrames     uint64    `json:"total_frames"`
	Reordered       uint64    `json:"reordered_frames"`
	Duplicates      uint64    `json:"duplicate_frames"`
	LastActivity    time.Time `json:"last_activity"`
}

// NewSpeakerBuffer creates a buffer for one speaker's frames.
func NewSpeakerBuffer(speaker uint64, sampleRate int) *SpeakerBuffer {
	return &SpeakerBuffer{
		speaker:    speaker,
		sampleRate: sampleRate,
		frames:     make([]Frame, 0, 64),
	}
}

// Append adds a frame to the buffer, inserting by capture time.
// Frames with an odd PCM length are rejected; a frame matching the
// timestamp and sequence of an already buffered frame is dropped.
func (b *SpeakerBuffer) Append(f Frame) error {
	if len(f.PCM)%2 != 0 {
		return fmt.Errorf("frame PCM length must be even (got %d bytes)", len(f.PCM))
	}
	if len(f.PCM) == 0 {
		return fmt.Errorf("frame carries no PCM data")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if f.Timestamp.After(b.lastActivity) {
		b.lastActivity = f.Timestamp
	}

	// Common case: frame is newer than everything buffered
	n := len(b.frames)
	if n == 0 || b.frames[n-1].Timestamp.Before(f.Timestamp) {
		b.frames = append(b.frames, f)
		b.totalFrames++
		return nil
	}

	// Late frame: walk back to its slot, checking for duplicates
	i := n
	for i > 0 && !b.frames[i-1].Timestamp.Before(f.Timestamp) {
		prev := b.frames[i-1]
		if prev.Timestamp.Equal(f.Timestamp) && prev.Sequence == f.Sequence {
			b.duplicates++
			return nil
		}
		i--
	}

	b.frames = append(b.frames, Frame{})
	copy(b.frames[i+1:], b.frames[i:])
	b.frames[i] = f
	b.totalFrames++
	b.reordered++
	return nil
}

// ShouldFlush reports whether the buffered utterance is ready to hand to
// transcription: the buffer holds audio and the speaker has been silent
// for at least the given threshold.
func (b *SpeakerBuffer) ShouldFlush(now time.Time, silenceThreshold time.Duration) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.frames) == 0 {
		return false
	}
	return now.Sub(b.lastActivity) >= silenceThreshold
}

// Flush drains all buffered frames into a single segment and resets the
// buffer. Returns an empty segment when nothing is buffered.
func (b *SpeakerBuffer) Flush() Segment {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.frames) == 0 {
		return Segment{Speaker: b.speaker, SampleRate: b.sampleRate}
	}

	total := 0
	for _, f := range b.frames {
		total += len(f.PCM)
	}

	pcm := make([]byte, 0, total)
	for _, f := range b.frames {
		pcm = append(pcm, f.PCM...)
	}

	first := b.frames[0]
	last := b.frames[len(b.frames)-1]
	seg := Segment{
		Speaker:    b.speaker,
		Start:      first.Timestamp,
		End:        last.Timestamp.Add(last.Duration(b.sampleRate)),
		SampleRate: b.sampleRate,
		PCM:        pcm,
	}

	b.frames = b.frames[:0]
	return seg
}

// GetStats returns current buffer statistics
func (b *SpeakerBuffer) GetStats() SpeakerBufferStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	pendingBytes := 0
	for _, f := range b.frames {
		pendingBytes += len(f.PCM)
	}
	pendingSeconds := float64(0)
	if b.sampleRate > 0 {
		pendingSeconds = float64(pendingBytes/2) / float64(b.sampleRate)
	}

	return SpeakerBufferStats{
		Speaker:         b.speaker,
		PendingFrames:   len(b.frames),
		PendingDuration: pendingSeconds,
		TotalFrames:     b.totalFrames,
		Reordered:       b.reordered,
		Duplicates:      b.duplicates,
		LastActivity:    b.lastActivity,
	}
}

// Speaker returns the speaker this buffer belongs to
func (b *SpeakerBuffer) Speaker() uint64 {
	return b.speaker
}

// Len returns the number of frames currently buffered
func (b *SpeakerBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.frames)
}

// LastActivity returns the highest capture time seen so far
func (b *SpeakerBuffer) LastActivity() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastActivity
}

// TotalFrames returns the total number of frames accepted
func (b *SpeakerBuffer) TotalFrames() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.totalFrames
}
