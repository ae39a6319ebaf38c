package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/olehkv/voice-notes-service/internal/audio"
	"github.com/olehkv/voice-notes-service/internal/notes"
	"github.com/olehkv/voice-notes-service/internal/summary"
	"github.com/olehkv/voice-notes-service/internal/transcription"
)

// fakeTranscriber returns fragmentsPerSegment fragments per segment, or
// fails every call when failAll is set
type fakeTranscriber struct {
	fragmentsPerSegment int
	failAll             bool
	calls               int32
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, segment audio.Segment) ([]transcription.Fragment, error) {
	atomic.AddInt32(&f.calls, 1)

	if f.failAll {
		return nil, &transcription.TranscriptionError{
			Speaker:  segment.Speaker,
			Duration: segment.Duration(),
			Err:      errors.New("engine crashed"),
		}
	}

	n := f.fragmentsPerSegment
	if n <= 0 {
		n = 1
	}

	fragments := make([]transcription.Fragment, 0, n)
	step := segment.Duration() / time.Duration(n)
	for i := 0; i < n; i++ {
		start := segment.Start.Add(time.Duration(i) * step)
		fragments = append(fragments, transcription.Fragment{
			Speaker: segment.Speaker,
			Start:   start,
			End:     start.Add(step),
			Text:    fmt.Sprintf("utterance %d from speaker %d", i, segment.Speaker),
		})
	}

	return fragments, nil
}

type fakeSummarizer struct {
	unavailable  bool
	configError  bool
	calls        int32
	speakerCalls int32
}

func (f *fakeSummarizer) Summarize(ctx context.Context, transcript, channelName string) (summary.Result, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.configError {
		return summary.Result{}, &summary.ConfigError{Status: 404, Message: "model not found"}
	}
	if f.unavailable {
		return summary.Result{Unavailable: true}, nil
	}
	return summary.Result{Summary: "The speakers exchanged brief updates."}, nil
}

func (f *fakeSummarizer) SummarizeSpeaker(ctx context.Context, text, speakerName string) (summary.Result, error) {
	atomic.AddInt32(&f.speakerCalls, 1)
	return summary.Result{Summary: "Gave a brief update."}, nil
}

type fakeStore struct {
	failAppend bool
	nextID     int64
	notes      []notes.Note
	mu         sync.Mutex
}

func (f *fakeStore) Append(note notes.Note) (notes.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failAppend {
		return notes.Note{}, errors.New("disk full")
	}

	f.nextID++
	note.ID = f.nextID
	f.notes = append(f.notes, note)
	return note, nil
}

type fakeArchive struct {
	sessions  []notes.ArchivedSession
	summaries []string
	mu        sync.Mutex
}

func (f *fakeArchive) RecordSession(session notes.ArchivedSession) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, session)
	return int64(len(f.sessions)), nil
}

func (f *fakeArchive) RecordFragments(sessionID int64, fragments []notes.ArchivedFragment) error {
	return nil
}

func (f *fakeArchive) RecordSummary(sessionID int64, kind string, speaker uint64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = append(f.summaries, kind)
	return nil
}

type testEnv struct {
	manager     *Manager
	transcriber *fakeTranscriber
	summarizer  *fakeSummarizer
	store       *fakeStore
	archive     *fakeArchive
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		transcriber: &fakeTranscriber{fragmentsPerSegment: 3},
		summarizer:  &fakeSummarizer{},
		store:       &fakeStore{},
		archive:     &fakeArchive{},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	manager, err := NewManager(logger, Config{
		SampleRate:       48000,
		SilenceThreshold: 100 * time.Millisecond,
		FlushInterval:    10 * time.Millisecond,
		FeedTimeout:      time.Hour,
	}, Dependencies{
		Transcriber: env.transcriber,
		Summarizer:  env.summarizer,
		Store:       env.store,
		Archive:     env.archive,
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	env.manager = manager
	t.Cleanup(manager.Shutdown)
	return env
}

func speakerFrame(speaker uint64, seq uint32, ts time.Time) audio.Frame {
	// 20ms of 48kHz mono
	return audio.Frame{
		Speaker:   speaker,
		Sequence:  seq,
		Timestamp: ts,
		PCM:       make([]byte, 960*2),
	}
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t)

	started := time.Now()
	if _, err := env.manager.Start(7, "planning", 42, started); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	base := time.Now()
	for i := 0; i < 5; i++ {
		env.manager.HandleFrame(7, speakerFrame(100, uint32(i), base.Add(time.Duration(i)*20*time.Millisecond)))
		env.manager.HandleFrame(7, speakerFrame(200, uint32(i), base.Add(time.Duration(i)*20*time.Millisecond+10*time.Millisecond)))
	}

	result, err := env.manager.Stop(7)
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	// One segment per speaker, three fragments per segment
	if result.FragmentCount != 6 {
		t.Errorf("Expected 6 fragments, got %d", result.FragmentCount)
	}
	if result.Note.MessageCount != 6 {
		t.Errorf("Expected message count 6, got %d", result.Note.MessageCount)
	}
	if result.SummaryState != notes.SummaryOK {
		t.Errorf("Expected summary state ok, got %q", result.SummaryState)
	}
	if result.Note.Summary == "" {
		t.Error("Expected non-empty summary")
	}
	if result.Note.ChannelID != 7 {
		t.Errorf("Expected channel 7, got %d", result.Note.ChannelID)
	}
	if result.Note.ChannelName != "planning" {
		t.Errorf("Expected channel name planning, got %q", result.Note.ChannelName)
	}
	if !strings.Contains(result.Transcript, "speaker 100") || !strings.Contains(result.Transcript, "speaker 200") {
		t.Error("Expected both speakers in transcript")
	}

	// Finished sessions are removed from tracking
	if _, err := env.manager.Status(7); !errors.Is(err, ErrNotRecording) {
		t.Errorf("Expected ErrNotRecording after stop, got %v", err)
	}
}

func TestEmptySession(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.manager.Start(3, "quiet", 1, time.Time{}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	result, err := env.manager.Stop(3)
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if result.SummaryState != notes.SummaryEmpty {
		t.Errorf("Expected summary state empty, got %q", result.SummaryState)
	}
	if result.Note.Summary != emptySessionSummary {
		t.Errorf("Expected empty-session placeholder, got %q", result.Note.Summary)
	}
	if result.Note.MessageCount != 0 {
		t.Errorf("Expected message count 0, got %d", result.Note.MessageCount)
	}

	// Neither engine is invoked for an empty session
	if atomic.LoadInt32(&env.transcriber.calls) != 0 {
		t.Errorf("Expected 0 transcription calls, got %d", env.transcriber.calls)
	}
	if atomic.LoadInt32(&env.summarizer.calls) != 0 {
		t.Errorf("Expected 0 summarization calls, got %d", env.summarizer.calls)
	}
}

func TestStartWhileRecording(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.manager.Start(7, "a", 1, time.Time{}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if _, err := env.manager.Start(7, "b", 2, time.Time{}); !errors.Is(err, ErrAlreadyRecording) {
		t.Errorf("Expected ErrAlreadyRecording, got %v", err)
	}

	// A finished session gives way to a new recording
	if _, err := env.manager.Stop(7); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if _, err := env.manager.Start(7, "c", 3, time.Time{}); err != nil {
		t.Errorf("Expected restart after stop to succeed, got %v", err)
	}
}

func TestStopNotRecording(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.manager.Stop(99); !errors.Is(err, ErrNotRecording) {
		t.Errorf("Expected ErrNotRecording, got %v", err)
	}

	env.manager.Start(7, "a", 1, time.Time{})
	env.manager.Stop(7)

	if _, err := env.manager.Stop(7); !errors.Is(err, ErrNotRecording) {
		t.Errorf("Expected ErrNotRecording on second stop, got %v", err)
	}
}

func TestFrameForUnknownChannelDropped(t *testing.T) {
	env := newTestEnv(t)

	// Must not panic or create a session
	env.manager.HandleFrame(55, speakerFrame(1, 0, time.Now()))

	if _, err := env.manager.Status(55); !errors.Is(err, ErrNotRecording) {
		t.Errorf("Expected no session for channel 55, got %v", err)
	}
}

func TestSummarizerUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.summarizer.unavailable = true

	env.manager.Start(7, "degraded", 1, time.Time{})
	env.manager.HandleFrame(7, speakerFrame(100, 0, time.Now()))

	result, err := env.manager.Stop(7)
	if err != nil {
		t.Fatalf("Expected degraded stop to succeed, got: %v", err)
	}

	if result.SummaryState != notes.SummaryUnavailable {
		t.Errorf("Expected summary state unavailable, got %q", result.SummaryState)
	}
	if result.Note.Summary != "" {
		t.Errorf("Expected empty summary, got %q", result.Note.Summary)
	}

	// The transcript still made it into the note
	if result.Note.Transcript == "" {
		t.Error("Expected transcript in degraded note")
	}
}

func TestSummarizerConfigError(t *testing.T) {
	env := newTestEnv(t)
	env.summarizer.configError = true

	env.manager.Start(7, "misconfigured", 1, time.Time{})
	env.manager.HandleFrame(7, speakerFrame(100, 0, time.Now()))

	result, err := env.manager.Stop(7)
	if err != nil {
		t.Fatalf("Expected config-error stop to still write a note, got: %v", err)
	}

	if result.SummaryState != notes.SummaryConfigError {
		t.Errorf("Expected summary state config_error, got %q", result.SummaryState)
	}
	if result.Note.ID == 0 {
		t.Error("Expected note to be persisted")
	}
}

func TestTranscriptionFailurePlaceholder(t *testing.T) {
	env := newTestEnv(t)
	env.transcriber.failAll = true

	env.manager.Start(7, "noisy", 1, time.Time{})
	env.manager.HandleFrame(7, speakerFrame(100, 0, time.Now()))

	result, err := env.manager.Stop(7)
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if result.FragmentCount != 1 {
		t.Errorf("Expected 1 placeholder fragment, got %d", result.FragmentCount)
	}
	if !strings.Contains(result.Transcript, placeholderFragmentText) {
		t.Errorf("Expected placeholder in transcript, got %q", result.Transcript)
	}

	// A placeholder-only transcript still goes through summarization
	if atomic.LoadInt32(&env.summarizer.calls) != 1 {
		t.Errorf("Expected 1 summarization call, got %d", env.summarizer.calls)
	}
}

func TestStoreWriteFailure(t *testing.T) {
	env := newTestEnv(t)
	env.store.failAppend = true

	env.manager.Start(7, "doomed", 1, time.Time{})
	env.manager.HandleFrame(7, speakerFrame(100, 0, time.Now()))

	result, err := env.manager.Stop(7)
	if err == nil {
		t.Fatal("Expected error when note write fails")
	}

	// The transcript survives in the result for the caller
	if result.Transcript == "" {
		t.Error("Expected transcript in failed result")
	}

	// The session stays in error state for inspection
	status, statusErr := env.manager.Status(7)
	if statusErr != nil {
		t.Fatalf("Expected session to remain tracked, got %v", statusErr)
	}
	if status.State != StateError {
		t.Errorf("Expected error state, got %q", status.State)
	}

	// A new recording can replace the failed session
	env.store.failAppend = false
	if _, err := env.manager.Start(7, "retry", 1, time.Time{}); err != nil {
		t.Errorf("Expected start to replace errored session, got %v", err)
	}
}

func TestTranscriptMergeOrder(t *testing.T) {
	env := newTestEnv(t)
	env.transcriber.fragmentsPerSegment = 1

	env.manager.Start(7, "ordered", 1, time.Time{})

	base := time.Now()
	// Speaker 200 spoke first but its frames arrive second
	env.manager.HandleFrame(7, speakerFrame(100, 0, base.Add(5*time.Second)))
	env.manager.HandleFrame(7, speakerFrame(200, 0, base))

	result, err := env.manager.Stop(7)
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	lines := strings.Split(result.Transcript, "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 transcript lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "speaker 200") {
		t.Errorf("Expected speaker 200 first, got %q", lines[0])
	}
	if !strings.Contains(lines[1], "speaker 100") {
		t.Errorf("Expected speaker 100 second, got %q", lines[1])
	}
}

func TestConcurrentChannels(t *testing.T) {
	env := newTestEnv(t)

	const channels = 8
	var wg sync.WaitGroup
	for i := 0; i < channels; i++ {
		wg.Add(1)
		go func(channel uint64) {
			defer wg.Done()
			if _, err := env.manager.Start(channel, "parallel", 1, time.Time{}); err != nil {
				t.Errorf("Start channel %d failed: %v", channel, err)
				return
			}
			env.manager.HandleFrame(channel, speakerFrame(channel*10, 0, time.Now()))
			if _, err := env.manager.Stop(channel); err != nil {
				t.Errorf("Stop channel %d failed: %v", channel, err)
			}
		}(uint64(i + 1))
	}
	wg.Wait()

	env.store.mu.Lock()
	defer env.store.mu.Unlock()
	if len(env.store.notes) != channels {
		t.Fatalf("Expected %d notes, got %d", channels, len(env.store.notes))
	}
	seen := make(map[int64]bool)
	for _, note := range env.store.notes {
		if seen[note.ID] {
			t.Errorf("Duplicate note id %d", note.ID)
		}
		seen[note.ID] = true
	}
}

func TestMaxConcurrentSessions(t *testing.T) {
	env := newTestEnv(t)
	env.manager.config.MaxConcurrentSessions = 2

	env.manager.Start(1, "a", 1, time.Time{})
	env.manager.Start(2, "b", 1, time.Time{})

	if _, err := env.manager.Start(3, "c", 1, time.Time{}); !errors.Is(err, ErrTooManySessions) {
		t.Errorf("Expected ErrTooManySessions, got %v", err)
	}

	env.manager.Stop(1)
	if _, err := env.manager.Start(3, "c", 1, time.Time{}); err != nil {
		t.Errorf("Expected start after stop to succeed, got %v", err)
	}
}

func TestHandleDisconnect(t *testing.T) {
	env := newTestEnv(t)

	env.manager.Start(7, "dropped", 1, time.Time{})
	env.manager.HandleFrame(7, speakerFrame(100, 0, time.Now()))

	env.manager.HandleDisconnect(7)

	env.store.mu.Lock()
	noteCount := len(env.store.notes)
	env.store.mu.Unlock()
	if noteCount != 1 {
		t.Fatalf("Expected disconnect to write a note, got %d notes", noteCount)
	}

	env.archive.mu.Lock()
	defer env.archive.mu.Unlock()
	if len(env.archive.sessions) != 1 {
		t.Fatalf("Expected 1 archived session, got %d", len(env.archive.sessions))
	}
	if env.archive.sessions[0].EndReason != EndReasonDisconnected {
		t.Errorf("Expected end reason disconnected, got %q", env.archive.sessions[0].EndReason)
	}

	// A second disconnect for the same channel is a no-op
	env.manager.HandleDisconnect(7)
}

func TestSpeakerSummariesArchived(t *testing.T) {
	env := newTestEnv(t)
	env.transcriber.fragmentsPerSegment = 1

	env.manager.Start(7, "multi", 1, time.Time{})
	base := time.Now()
	env.manager.HandleFrame(7, speakerFrame(100, 0, base))
	env.manager.HandleFrame(7, speakerFrame(200, 0, base.Add(time.Second)))

	if _, err := env.manager.Stop(7); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if atomic.LoadInt32(&env.summarizer.speakerCalls) != 2 {
		t.Errorf("Expected 2 speaker summary calls, got %d", env.summarizer.speakerCalls)
	}

	env.archive.mu.Lock()
	defer env.archive.mu.Unlock()
	general, speaker := 0, 0
	for _, kind := range env.archive.summaries {
		switch kind {
		case notes.SummaryKindGeneral:
			general++
		case notes.SummaryKindSpeaker:
			speaker++
		}
	}
	if general != 1 {
		t.Errorf("Expected 1 general summary, got %d", general)
	}
	if speaker != 2 {
		t.Errorf("Expected 2 speaker summaries, got %d", speaker)
	}
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t)

	started := time.Now().Add(-time.Minute)
	env.manager.Start(7, "status", 42, started)
	env.manager.HandleFrame(7, speakerFrame(100, 0, time.Now()))
	env.manager.HandleFrame(7, speakerFrame(200, 0, time.Now()))

	status, err := env.manager.Status(7)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}

	if status.State != StateRecording {
		t.Errorf("Expected recording state, got %q", status.State)
	}
	if status.Channel != 7 {
		t.Errorf("Expected channel 7, got %d", status.Channel)
	}
	if status.StartedBy != 42 {
		t.Errorf("Expected started by 42, got %d", status.StartedBy)
	}
	if status.Speakers != 2 {
		t.Errorf("Expected 2 speakers, got %d", status.Speakers)
	}
	if status.Elapsed < time.Minute {
		t.Errorf("Expected at least 1m elapsed, got %v", status.Elapsed)
	}
	if status.FramesAccepted != 2 {
		t.Errorf("Expected 2 accepted frames, got %d", status.FramesAccepted)
	}
}
