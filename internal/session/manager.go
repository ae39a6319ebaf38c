package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/olehkv/voice-notes-service/internal/audio"
	"github.com/olehkv/voice-notes-service/internal/metrics"
	"github.com/olehkv/voice-notes-service/internal/notes"
	"github.com/olehkv/voice-notes-service/internal/summary"
	"github.com/olehkv/voice-notes-service/internal/transcription"
)

var (
	// ErrAlreadyRecording is returned when start hits a channel that is recording
	ErrAlreadyRecording = errors.New("channel is already recording")
	// ErrNotRecording is returned when stop hits a channel with no active recording
	ErrNotRecording = errors.New("channel is not recording")
	// ErrTooManySessions is returned when the concurrent session limit is reached
	ErrTooManySessions = errors.New("too many concurrent sessions")
)

// Transcriber turns a flushed audio segment into transcript fragments
type Transcriber interface {
	Transcribe(ctx context.Context, segment audio.Segment) ([]transcription.Fragment, error)
}

// Summarizer produces meeting and per-speaker summaries from transcripts
type Summarizer interface {
	Summarize(ctx context.Context, transcript, channelName string) (summary.Result, error)
	SummarizeSpeaker(ctx context.Context, text, speakerName string) (summary.Result, error)
}

// NoteStore persists finished sessions as notes
type NoteStore interface {
	Append(note notes.Note) (notes.Note, error)
}

// Archiver records full session history. Archive writes are best-effort.
type Archiver interface {
	RecordSession(session notes.ArchivedSession) (int64, error)
	RecordFragments(sessionID int64, fragments []notes.ArchivedFragment) error
	RecordSummary(sessionID int64, kind string, speaker uint64, text string) error
}

// Config contains session manager configuration
type Config struct {
	SampleRate            int
	SilenceThreshold      time.Duration
	FlushInterval         time.Duration
	FeedTimeout           time.Duration
	TranscriptionTimeout  time.Duration
	SummarizationTimeout  time.Duration
	MaxConcurrentSessions int
}

// Dependencies bundles the stages and stores a manager drives.
// Archive and Metrics may be nil.
type Dependencies struct {
	Transcriber Transcriber
	Summarizer  Summarizer
	Store       NoteStore
	Archive     Archiver
	Metrics     *metrics.Metrics
}

// Manager manages all recording sessions, one per voice channel
type Manager struct {
	sessions map[uint64]*Session
	mu       sync.RWMutex
	logger   *slog.Logger
	config   Config
	deps     Dependencies

	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// NewManager creates a session manager and starts its feed-timeout watchdog
func NewManager(logger *slog.Logger, config Config, deps Dependencies) (*Manager, error) {
	if deps.Transcriber == nil {
		return nil, errors.New("transcriber is required")
	}
	if deps.Summarizer == nil {
		return nil, errors.New("summarizer is required")
	}
	if deps.Store == nil {
		return nil, errors.New("note store is required")
	}

	if config.SampleRate <= 0 {
		config.SampleRate = 48000
	}
	if config.SilenceThreshold <= 0 {
		config.SilenceThreshold = 2 * time.Second
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 500 * time.Millisecond
	}
	if config.FeedTimeout <= 0 {
		config.FeedTimeout = 5 * time.Minute
	}
	if config.TranscriptionTimeout <= 0 {
		config.TranscriptionTimeout = 30 * time.Second
	}
	if config.SummarizationTimeout <= 0 {
		config.SummarizationTimeout = 2 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())

	mgr := &Manager{
		sessions: make(map[uint64]*Session),
		logger:   logger,
		config:   config,
		deps:     deps,
		ctx:      ctx,
		cancel:   cancel,
		cleanup:  make(chan struct{}),
	}

	go mgr.startWatchdogRoutine()

	return mgr, nil
}

// Start begins recording a channel. A channel that already has an active
// recording returns ErrAlreadyRecording; a finished session is replaced.
func (m *Manager) Start(channel uint64, channelName string, startedBy uint64, startedAt time.Time) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, exists := m.sessions[channel]; exists {
		if !existing.Finished() {
			return nil, ErrAlreadyRecording
		}
		// Terminal sessions give way to a fresh recording
		delete(m.sessions, channel)
	}

	if m.config.MaxConcurrentSessions > 0 {
		active := 0
		for _, s := range m.sessions {
			if !s.Finished() {
				active++
			}
		}
		if active >= m.config.MaxConcurrentSessions {
			return nil, ErrTooManySessions
		}
	}

	session := newSession(m, channel, channelName, startedBy, startedAt)
	m.sessions[channel] = session
	session.startFlushLoop()

	if m.deps.Metrics != nil {
		m.deps.Metrics.RecordSessionStarted()
		m.deps.Metrics.SetActiveSessions(m.activeCountLocked())
	}

	m.logger.Info("Recording started",
		slog.Uint64("channel", channel),
		slog.String("channel_name", channelName),
		slog.Uint64("started_by", startedBy),
	)

	return session, nil
}

// HandleFrame routes a speaker frame to the channel's session. Frames for
// unknown channels or finished sessions are counted and dropped.
func (m *Manager) HandleFrame(channel uint64, frame audio.Frame) {
	m.mu.RLock()
	session, exists := m.sessions[channel]
	m.mu.RUnlock()

	if !exists {
		if m.deps.Metrics != nil {
			m.deps.Metrics.RecordFrameDropped()
		}
		m.logger.Debug("Frame for unknown channel dropped",
			slog.Uint64("channel", channel),
			slog.Uint64("speaker", frame.Speaker),
		)
		return
	}

	session.addFrame(frame)
}

// Stop finishes the recording on a channel: flushes the buffers, waits for
// in-flight transcriptions, summarizes and writes the note
func (m *Manager) Stop(channel uint64) (StopResult, error) {
	return m.finishSession(channel, EndReasonStopped)
}

// HandleDisconnect finalizes a channel whose feed went away. Channels
// without an active recording are a no-op.
func (m *Manager) HandleDisconnect(channel uint64) {
	if _, err := m.finishSession(channel, EndReasonDisconnected); err != nil && !errors.Is(err, ErrNotRecording) {
		m.logger.Error("Failed to finalize disconnected channel",
			slog.Uint64("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

func (m *Manager) finishSession(channel uint64, reason string) (StopResult, error) {
	m.mu.RLock()
	session, exists := m.sessions[channel]
	m.mu.RUnlock()

	if !exists {
		return StopResult{}, ErrNotRecording
	}

	result, err := session.finish(reason)

	if err == nil || !errors.Is(err, ErrNotRecording) {
		m.mu.Lock()
		// Error state stays visible for inspection, done sessions are removed
		if session.State() == StateDone && m.sessions[channel] == session {
			delete(m.sessions, channel)
		}
		if m.deps.Metrics != nil {
			m.deps.Metrics.SetActiveSessions(m.activeCountLocked())
		}
		m.mu.Unlock()
	}

	return result, err
}

// Status returns a snapshot of the session on a channel
func (m *Manager) Status(channel uint64) (Status, error) {
	m.mu.RLock()
	session, exists := m.sessions[channel]
	m.mu.RUnlock()

	if !exists {
		return Status{}, ErrNotRecording
	}

	return session.Status(), nil
}

// GetAllStatuses returns a snapshot of every tracked session
func (m *Manager) GetAllStatuses() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make([]Status, 0, len(m.sessions))
	for _, session := range m.sessions {
		statuses = append(statuses, session.Status())
	}

	return statuses
}

// GetActiveSessionCount returns the number of sessions that are not finished
func (m *Manager) GetActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeCountLocked()
}

func (m *Manager) activeCountLocked() int {
	active := 0
	for _, s := range m.sessions {
		if !s.Finished() {
			active++
		}
	}
	return active
}

// Shutdown gracefully stops the manager, finalizing every active recording
func (m *Manager) Shutdown() {
	m.logger.Info("Stopping session manager...")

	m.mu.RLock()
	channels := make([]uint64, 0, len(m.sessions))
	for channel, session := range m.sessions {
		if !session.Finished() {
			channels = append(channels, channel)
		}
	}
	m.mu.RUnlock()

	for _, channel := range channels {
		if _, err := m.finishSession(channel, EndReasonShutdown); err != nil && !errors.Is(err, ErrNotRecording) {
			m.logger.Error("Failed to finalize session on shutdown",
				slog.Uint64("channel", channel),
				slog.String("error", err.Error()),
			)
		}
	}

	m.cancel()
	<-m.cleanup

	m.logger.Info("Session manager stopped",
		slog.Int("remaining_sessions", m.GetActiveSessionCount()),
	)
}

// startWatchdogRoutine finalizes sessions whose frame feed went silent
// past the configured feed timeout
func (m *Manager) startWatchdogRoutine() {
	defer close(m.cleanup)

	interval := m.config.FeedTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info("Session watchdog started",
		slog.Duration("feed_timeout", m.config.FeedTimeout),
		slog.Duration("check_interval", interval),
	)

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Info("Session watchdog stopping")
			return

		case <-ticker.C:
			m.disconnectStaleSessions()
		}
	}
}

func (m *Manager) disconnectStaleSessions() {
	now := time.Now()
	stale := make([]uint64, 0)

	m.mu.RLock()
	for channel, session := range m.sessions {
		if session.State() != StateRecording {
			continue
		}
		if now.Sub(session.LastActivity()) > m.config.FeedTimeout {
			stale = append(stale, channel)
		}
	}
	m.mu.RUnlock()

	for _, channel := range stale {
		m.logger.Warn("Channel feed timed out, finalizing session",
			slog.Uint64("channel", channel),
			slog.Duration("feed_timeout", m.config.FeedTimeout),
		)
		m.HandleDisconnect(channel)
	}
}
