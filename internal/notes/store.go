package notes

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// SummaryState describes how the summary of a note was produced
type SummaryState string

const (
	// SummaryOK means the summarization engine produced a summary
	SummaryOK SummaryState = "ok"
	// SummaryEmpty means the session ended without any transcribed speech
	SummaryEmpty SummaryState = "empty"
	// SummaryUnavailable means the engine could not be reached and the
	// note carries the raw transcript only
	SummaryUnavailable SummaryState = "unavailable"
	// SummaryConfigError means the engine rejected the request (bad model
	// or endpoint configuration)
	SummaryConfigError SummaryState = "config_error"
)

// ErrNoteNotFound is returned when a note id does not exist
var ErrNoteNotFound = errors.New("note not found")

// Note is one finished recording session
type Note struct {
	ID           int64        `json:"id"`
	ChannelID    uint64       `json:"channel_id"`
	ChannelName  string       `json:"channel_name"`
	MessageCount int          `json:"message_count"`
	Summary      string       `json:"summary"`
	SummaryState SummaryState `json:"summary_state"`
	Transcript   string       `json:"transcript"`
	CreatedAt    time.Time    `json:"created_at"`
}

// storeFile is the on-disk layout of notes.json
type storeFile struct {
	NextID int64  `json:"next_id"`
	Notes  []Note `json:"notes"`
}

// Store keeps notes in a single JSON file. Appends assign ids and rewrite
// the file atomically, so a crash leaves either the old or the new complete
// file on disk.
type Store struct {
	path   string
	nextID int64
	notes  []Note
	mutex  sync.RWMutex
}

// StoreStats represents store statistics
type StoreStats struct {
	TotalNotes      int            `json:"total_notes"`
	NotesPerChannel map[uint64]int `json:"notes_per_channel"`
	NextID          int64          `json:"next_id"`
}

// Open loads the store from path, creating an empty store if the file does
// not exist yet
func Open(path string) (*Store, error) {
	store := &Store{
		path:   path,
		nextID: 1,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return store, nil
		}
		return nil, fmt.Errorf("failed to read notes file: %w", err)
	}

	var file storeFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse notes file: %w", err)
	}

	store.notes = file.Notes
	store.nextID = file.NextID

	// Repair the counter if the file predates it or was hand-edited
	for _, note := range store.notes {
		if note.ID >= store.nextID {
			store.nextID = note.ID + 1
		}
	}
	if store.nextID < 1 {
		store.nextID = 1
	}

	return store, nil
}

// Append assigns an id to the note, persists the store and returns the
// stored note. The store is unchanged if persisting fails.
func (s *Store) Append(note Note) (Note, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	note.ID = s.nextID
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now().UTC()
	}

	s.notes = append(s.notes, note)
	s.nextID++

	if err := s.persist(); err != nil {
		s.notes = s.notes[:len(s.notes)-1]
		s.nextID--
		return Note{}, fmt.Errorf("failed to persist note: %w", err)
	}

	return note, nil
}

// Get returns the note with the given id
func (s *Store) Get(id int64) (Note, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	for _, note := range s.notes {
		if note.ID == id {
			return note, nil
		}
	}

	return Note{}, ErrNoteNotFound
}

// List returns notes most-recent-first. A channel of 0 matches all
// channels; a limit <= 0 defaults to 10.
func (s *Store) List(channel uint64, limit int) []Note {
	if limit <= 0 {
		limit = 10
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	matched := make([]Note, 0, limit)
	for _, note := range s.notes {
		if channel != 0 && note.ChannelID != channel {
			continue
		}
		matched = append(matched, note)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].ID > matched[j].ID
	})

	if len(matched) > limit {
		matched = matched[:limit]
	}

	return matched
}

// All returns every stored note in append order
func (s *Store) All() []Note {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	notes := make([]Note, len(s.notes))
	copy(notes, s.notes)
	return notes
}

// Count returns the number of stored notes
func (s *Store) Count() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.notes)
}

// GetStats returns current store statistics
func (s *Store) GetStats() StoreStats {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	perChannel := make(map[uint64]int)
	for _, note := range s.notes {
		perChannel[note.ChannelID]++
	}

	return StoreStats{
		TotalNotes:      len(s.notes),
		NotesPerChannel: perChannel,
		NextID:          s.nextID,
	}
}

// persist rewrites the store file. Callers must hold the write lock.
// The new content goes to a temp file first and replaces the old file
// with a rename, so readers never observe a partial write.
func (s *Store) persist() error {
	data, err := json.MarshalIndent(storeFile{NextID: s.nextID, Notes: s.notes}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal notes: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".notes-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace notes file: %w", err)
	}

	return nil
}
