package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/olehkv/voice-notes-service/internal/audio"
	"github.com/olehkv/voice-notes-service/internal/notes"
	"github.com/olehkv/voice-notes-service/internal/summary"
	"github.com/olehkv/voice-notes-service/internal/transcription"
)

// State is the lifecycle state of a recording session
type State string

const (
	// StateRecording means frames are being accepted and buffered
	StateRecording State = "recording"
	// StateStopping means the session is draining in-flight transcriptions
	StateStopping State = "stopping"
	// StateSummarizing means the transcript is being summarized
	StateSummarizing State = "summarizing"
	// StateDone means the note was written
	StateDone State = "done"
	// StateError means finalization failed; the session stays inspectable
	StateError State = "error"
)

// End reasons recorded with finished sessions
const (
	EndReasonStopped      = "stopped"
	EndReasonDisconnected = "disconnected"
	EndReasonShutdown     = "shutdown"
)

// placeholderFragmentText replaces segments the engine could not transcribe
const placeholderFragmentText = "[unintelligible segment]"

// emptySessionSummary is written when a session ends without any speech
const emptySessionSummary = "No speech was captured during this session."

// Session is one recording on a voice channel
type Session struct {
	ID          string
	Channel     uint64
	ChannelName string
	StartedBy   uint64
	StartTime   time.Time

	state        State
	lastActivity time.Time
	buffers      map[uint64]*audio.SpeakerBuffer
	fragments    []transcription.Fragment

	framesAccepted uint64
	framesDropped  uint64

	flushCtx    context.Context
	flushCancel context.CancelFunc
	loopDone    chan struct{}
	inflight    sync.WaitGroup

	manager *Manager
	mu      sync.RWMutex
}

// StopResult is what finishing a session produced
type StopResult struct {
	Note          notes.Note
	Transcript    string
	FragmentCount int
	SummaryState  notes.SummaryState
	Duration      time.Duration
}

// Status is a point-in-time snapshot of a session for monitoring and APIs
type Status struct {
	ID             string        `json:"id"`
	Channel        uint64        `json:"channel"`
	ChannelName    string        `json:"channel_name"`
	State          State         `json:"state"`
	StartedBy      uint64        `json:"started_by"`
	StartTime      time.Time     `json:"start_time"`
	LastActivity   time.Time     `json:"last_activity"`
	Elapsed        time.Duration `json:"elapsed"`
	Speakers       int           `json:"speakers"`
	FragmentCount  int           `json:"fragment_count"`
	FramesAccepted uint64        `json:"frames_accepted"`
	FramesDropped  uint64        `json:"frames_dropped"`
}

func newSession(m *Manager, channel uint64, channelName string, startedBy uint64, startedAt time.Time) *Session {
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	flushCtx, flushCancel := context.WithCancel(m.ctx)

	return &Session{
		ID:           uuid.New().String(),
		Channel:      channel,
		ChannelName:  channelName,
		StartedBy:    startedBy,
		StartTime:    startedAt,
		state:        StateRecording,
		lastActivity: startedAt,
		buffers:      make(map[uint64]*audio.SpeakerBuffer),
		flushCtx:     flushCtx,
		flushCancel:  flushCancel,
		loopDone:     make(chan struct{}),
		manager:      m,
	}
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Finished reports whether the session reached a terminal state
func (s *Session) Finished() bool {
	state := s.State()
	return state == StateDone || state == StateError
}

// LastActivity returns the time of the most recent accepted frame
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// Status returns a snapshot of the session
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Status{
		ID:             s.ID,
		Channel:        s.Channel,
		ChannelName:    s.ChannelName,
		State:          s.state,
		StartedBy:      s.StartedBy,
		StartTime:      s.StartTime,
		LastActivity:   s.lastActivity,
		Elapsed:        time.Since(s.StartTime),
		Speakers:       len(s.buffers),
		FragmentCount:  len(s.fragments),
		FramesAccepted: s.framesAccepted,
		FramesDropped:  s.framesDropped,
	}
}

// addFrame buffers a speaker frame. Frames arriving outside the recording
// state are counted and dropped.
func (s *Session) addFrame(frame audio.Frame) {
	s.mu.Lock()

	if s.state != StateRecording {
		s.framesDropped++
		s.mu.Unlock()
		if s.manager.deps.Metrics != nil {
			s.manager.deps.Metrics.RecordFrameDropped()
		}
		return
	}

	buffer, exists := s.buffers[frame.Speaker]
	if !exists {
		buffer = audio.NewSpeakerBuffer(frame.Speaker, s.manager.config.SampleRate)
		s.buffers[frame.Speaker] = buffer
	}
	s.lastActivity = time.Now()
	s.framesAccepted++
	s.mu.Unlock()

	if err := buffer.Append(frame); err != nil {
		s.manager.logger.Debug("Frame rejected by speaker buffer",
			slog.Uint64("channel", s.Channel),
			slog.Uint64("speaker", frame.Speaker),
			slog.String("error", err.Error()),
		)
	}
}

// startFlushLoop runs the periodic silence check for the session
func (s *Session) startFlushLoop() {
	go func() {
		defer close(s.loopDone)

		ticker := time.NewTicker(s.manager.config.FlushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-s.flushCtx.Done():
				return
			case <-ticker.C:
				s.flushSilentBuffers()
			}
		}
	}()
}

// flushSilentBuffers flushes every speaker buffer whose silence gap
// exceeds the configured threshold
func (s *Session) flushSilentBuffers() {
	now := time.Now()
	threshold := s.manager.config.SilenceThreshold

	s.mu.RLock()
	ready := make([]*audio.SpeakerBuffer, 0, len(s.buffers))
	for _, buffer := range s.buffers {
		if buffer.ShouldFlush(now, threshold) {
			ready = append(ready, buffer)
		}
	}
	s.mu.RUnlock()

	for _, buffer := range ready {
		s.flushBuffer(buffer)
	}
}

// flushBuffer flushes one speaker buffer and submits the segment for
// transcription
func (s *Session) flushBuffer(buffer *audio.SpeakerBuffer) {
	segment := buffer.Flush()
	if segment.Empty() {
		return
	}

	if s.manager.deps.Metrics != nil {
		s.manager.deps.Metrics.RecordSegmentFlushed(segment.Duration().Seconds(), len(segment.PCM))
	}

	s.manager.logger.Debug("Segment flushed",
		slog.Uint64("channel", s.Channel),
		slog.Uint64("speaker", segment.Speaker),
		slog.Float64("duration", segment.Duration().Seconds()),
		slog.Int("bytes", len(segment.PCM)),
	)

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.transcribeSegment(segment)
	}()
}

// transcribeSegment runs one segment through the transcription stage and
// appends the resulting fragments. Failed segments become a placeholder
// fragment so the speaker's slot in the transcript is preserved.
func (s *Session) transcribeSegment(segment audio.Segment) {
	// Deliberately not derived from the session context: stopping a
	// session must drain these calls, not cancel them.
	ctx, cancel := context.WithTimeout(context.Background(), s.manager.config.TranscriptionTimeout)
	defer cancel()

	if s.manager.deps.Metrics != nil {
		s.manager.deps.Metrics.RecordTranscriptionRequest()
	}

	started := time.Now()
	fragments, err := s.manager.deps.Transcriber.Transcribe(ctx, segment)
	elapsed := time.Since(started).Seconds()
	if err != nil {
		if s.manager.deps.Metrics != nil {
			s.manager.deps.Metrics.RecordTranscriptionFailure(elapsed)
		}
		var trErr *transcription.TranscriptionError
		if errors.As(err, &trErr) {
			s.manager.logger.Warn("Transcription failed, inserting placeholder",
				slog.Uint64("channel", s.Channel),
				slog.Uint64("speaker", trErr.Speaker),
				slog.Float64("duration", trErr.Duration.Seconds()),
				slog.String("error", trErr.Err.Error()),
			)
		} else {
			s.manager.logger.Warn("Transcription failed, inserting placeholder",
				slog.Uint64("channel", s.Channel),
				slog.Uint64("speaker", segment.Speaker),
				slog.String("error", err.Error()),
			)
		}

		fragments = []transcription.Fragment{{
			Speaker: segment.Speaker,
			Start:   segment.Start,
			End:     segment.End,
			Text:    placeholderFragmentText,
		}}
	} else if s.manager.deps.Metrics != nil {
		s.manager.deps.Metrics.RecordTranscriptionSuccess(elapsed)
	}

	if len(fragments) == 0 {
		return
	}

	s.mu.Lock()
	s.fragments = append(s.fragments, fragments...)
	s.mu.Unlock()
}

// finish drives the session through stopping, summarizing and note
// persistence. Safe to call once; later calls return ErrNotRecording.
func (s *Session) finish(reason string) (StopResult, error) {
	s.mu.Lock()
	if s.state != StateRecording {
		s.mu.Unlock()
		return StopResult{}, ErrNotRecording
	}
	s.state = StateStopping
	s.mu.Unlock()

	// Stop the flush loop, flush what remains and drain transcriptions
	s.flushCancel()
	<-s.loopDone

	s.mu.RLock()
	remaining := make([]*audio.SpeakerBuffer, 0, len(s.buffers))
	for _, buffer := range s.buffers {
		remaining = append(remaining, buffer)
	}
	s.mu.RUnlock()

	for _, buffer := range remaining {
		s.flushBuffer(buffer)
	}
	s.inflight.Wait()

	s.mu.Lock()
	s.state = StateSummarizing
	sort.SliceStable(s.fragments, func(i, j int) bool {
		return s.fragments[i].Start.Before(s.fragments[j].Start)
	})
	fragments := make([]transcription.Fragment, len(s.fragments))
	copy(fragments, s.fragments)
	s.mu.Unlock()

	transcript := formatTranscript(fragments)
	duration := time.Since(s.StartTime)

	note, summaryState, err := s.summarizeAndStore(transcript, fragments)
	if err != nil {
		s.mu.Lock()
		s.state = StateError
		s.mu.Unlock()

		if s.manager.deps.Metrics != nil {
			s.manager.deps.Metrics.RecordNoteWriteError()
			s.manager.deps.Metrics.RecordSessionFinalized("error", duration.Seconds())
		}

		return StopResult{
			Transcript:    transcript,
			FragmentCount: len(fragments),
			SummaryState:  summaryState,
			Duration:      duration,
		}, err
	}

	s.archiveSession(note, fragments, reason, duration)

	s.mu.Lock()
	s.state = StateDone
	s.mu.Unlock()

	if s.manager.deps.Metrics != nil {
		s.manager.deps.Metrics.RecordNoteWritten()
		s.manager.deps.Metrics.RecordSessionFinalized(reason, duration.Seconds())
	}

	s.manager.logger.Info("Session finished",
		slog.Uint64("channel", s.Channel),
		slog.String("session_id", s.ID),
		slog.String("reason", reason),
		slog.Int64("note_id", note.ID),
		slog.Int("fragments", len(fragments)),
		slog.String("summary_state", string(summaryState)),
		slog.Duration("duration", duration),
	)

	return StopResult{
		Note:          note,
		Transcript:    transcript,
		FragmentCount: len(fragments),
		SummaryState:  summaryState,
		Duration:      duration,
	}, nil
}

// summarizeAndStore produces the summary for the transcript and writes
// the note. Summarization failures degrade the note; only a store write
// failure is returned as an error.
func (s *Session) summarizeAndStore(transcript string, fragments []transcription.Fragment) (notes.Note, notes.SummaryState, error) {
	summaryText := emptySessionSummary
	summaryState := notes.SummaryEmpty

	if len(fragments) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), s.manager.config.SummarizationTimeout)
		defer cancel()

		if s.manager.deps.Metrics != nil {
			start := time.Now()
			defer func() {
				s.manager.deps.Metrics.RecordSummaryRequest(time.Since(start).Seconds())
			}()
		}

		result, err := s.manager.deps.Summarizer.Summarize(ctx, transcript, s.ChannelName)
		switch {
		case err != nil:
			var cfgErr *summary.ConfigError
			if errors.As(err, &cfgErr) {
				s.manager.logger.Error("Summarization rejected by engine",
					slog.Uint64("channel", s.Channel),
					slog.Int("status", cfgErr.Status),
					slog.String("message", cfgErr.Message),
				)
				summaryState = notes.SummaryConfigError
			} else {
				s.manager.logger.Error("Summarization failed",
					slog.Uint64("channel", s.Channel),
					slog.String("error", err.Error()),
				)
				summaryState = notes.SummaryUnavailable
			}
			summaryText = ""
			if s.manager.deps.Metrics != nil {
				s.manager.deps.Metrics.RecordSummaryFailure()
			}

		case result.Unavailable:
			s.manager.logger.Warn("Summarization unavailable, writing transcript-only note",
				slog.Uint64("channel", s.Channel),
			)
			summaryState = notes.SummaryUnavailable
			summaryText = ""
			if s.manager.deps.Metrics != nil {
				s.manager.deps.Metrics.RecordSummaryDegraded()
			}

		default:
			summaryState = notes.SummaryOK
			summaryText = result.Summary
		}
	}

	note, err := s.manager.deps.Store.Append(notes.Note{
		ChannelID:    s.Channel,
		ChannelName:  s.ChannelName,
		MessageCount: len(fragments),
		Summary:      summaryText,
		SummaryState: summaryState,
		Transcript:   transcript,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return notes.Note{}, summaryState, fmt.Errorf("failed to write note for channel %d: %w", s.Channel, err)
	}

	return note, summaryState, nil
}

// archiveSession records the session history in the archive. Failures are
// logged, never surfaced.
func (s *Session) archiveSession(note notes.Note, fragments []transcription.Fragment, reason string, duration time.Duration) {
	archive := s.manager.deps.Archive
	if archive == nil {
		return
	}

	sessionID, err := archive.RecordSession(notes.ArchivedSession{
		ChannelID: s.Channel,
		Channel:   s.ChannelName,
		StartedBy: s.StartedBy,
		StartedAt: s.StartTime,
		EndedAt:   s.StartTime.Add(duration),
		Duration:  duration,
		EndReason: reason,
		NoteID:    note.ID,
	})
	if err != nil {
		s.manager.logger.Warn("Failed to archive session",
			slog.Uint64("channel", s.Channel),
			slog.String("error", err.Error()),
		)
		return
	}

	archived := make([]notes.ArchivedFragment, 0, len(fragments))
	for _, frag := range fragments {
		archived = append(archived, notes.ArchivedFragment{
			Speaker: frag.Speaker,
			Start:   frag.Start,
			End:     frag.End,
			Text:    frag.Text,
		})
	}
	if err := archive.RecordFragments(sessionID, archived); err != nil {
		s.manager.logger.Warn("Failed to archive fragments",
			slog.Uint64("channel", s.Channel),
			slog.String("error", err.Error()),
		)
	}

	if note.SummaryState == notes.SummaryOK && note.Summary != "" {
		if err := archive.RecordSummary(sessionID, notes.SummaryKindGeneral, 0, note.Summary); err != nil {
			s.manager.logger.Warn("Failed to archive summary",
				slog.Uint64("channel", s.Channel),
				slog.String("error", err.Error()),
			)
		}
	}

	s.archiveSpeakerSummaries(sessionID, fragments, note.SummaryState)
}

// archiveSpeakerSummaries generates per-speaker digests for sessions with
// more than one speaker. Entirely best-effort.
func (s *Session) archiveSpeakerSummaries(sessionID int64, fragments []transcription.Fragment, state notes.SummaryState) {
	if state != notes.SummaryOK {
		return
	}

	bySpeaker := make(map[uint64][]string)
	for _, frag := range fragments {
		if frag.Text == placeholderFragmentText {
			continue
		}
		bySpeaker[frag.Speaker] = append(bySpeaker[frag.Speaker], frag.Text)
	}
	if len(bySpeaker) < 2 {
		return
	}

	for speaker, lines := range bySpeaker {
		ctx, cancel := context.WithTimeout(context.Background(), s.manager.config.SummarizationTimeout)
		result, err := s.manager.deps.Summarizer.SummarizeSpeaker(ctx, strings.Join(lines, "\n"), speakerName(speaker))
		cancel()

		if err != nil || result.Unavailable || result.Summary == "" {
			s.manager.logger.Debug("Skipping speaker summary",
				slog.Uint64("channel", s.Channel),
				slog.Uint64("speaker", speaker),
			)
			continue
		}

		if err := s.manager.deps.Archive.RecordSummary(sessionID, notes.SummaryKindSpeaker, speaker, result.Summary); err != nil {
			s.manager.logger.Warn("Failed to archive speaker summary",
				slog.Uint64("channel", s.Channel),
				slog.Uint64("speaker", speaker),
				slog.String("error", err.Error()),
			)
		}
	}
}

// formatTranscript renders merged fragments as one line per utterance
func formatTranscript(fragments []transcription.Fragment) string {
	if len(fragments) == 0 {
		return ""
	}

	var b strings.Builder
	for i, frag := range fragments {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[%s] %s: %s", frag.Start.Format("15:04:05"), speakerName(frag.Speaker), frag.Text)
	}

	return b.String()
}

func speakerName(speaker uint64) string {
	return fmt.Sprintf("speaker %d", speaker)
}
