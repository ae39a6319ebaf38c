package notes

import (
	"path/filepath"
	"testing"
	"time"
)

func testArchive(t *testing.T) *Archive {
	t.Helper()
	archive, err := OpenArchive(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("OpenArchive failed: %v", err)
	}
	t.Cleanup(func() { archive.Close() })
	return archive
}

func testSession(channel uint64, noteID int64) ArchivedSession {
	start := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	return ArchivedSession{
		ChannelID: channel,
		Channel:   "standup",
		StartedBy: 7,
		StartedAt: start,
		EndedAt:   start.Add(25 * time.Minute),
		Duration:  25 * time.Minute,
		EndReason: "stopped",
		NoteID:    noteID,
	}
}

func TestArchiveRecordSession(t *testing.T) {
	archive := testArchive(t)

	id, err := archive.RecordSession(testSession(100, 1))
	if err != nil {
		t.Fatalf("RecordSession failed: %v", err)
	}
	if id == 0 {
		t.Error("Expected non-zero session id")
	}

	count, err := archive.SessionCount()
	if err != nil {
		t.Fatalf("SessionCount failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 session, got %d", count)
	}

	sessions, err := archive.RecentSessions(100, 10)
	if err != nil {
		t.Fatalf("RecentSessions failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("Expected 1 session, got %d", len(sessions))
	}

	got := sessions[0]
	if got.ChannelID != 100 {
		t.Errorf("Expected channel 100, got %d", got.ChannelID)
	}
	if got.Duration != 25*time.Minute {
		t.Errorf("Expected 25m duration, got %v", got.Duration)
	}
	if got.EndReason != "stopped" {
		t.Errorf("Expected end reason stopped, got %q", got.EndReason)
	}
	if got.NoteID != 1 {
		t.Errorf("Expected note id 1, got %d", got.NoteID)
	}
}

func TestArchiveRecentSessionsOrdering(t *testing.T) {
	archive := testArchive(t)

	for i := int64(1); i <= 5; i++ {
		channel := uint64(100)
		if i%2 == 0 {
			channel = 200
		}
		if _, err := archive.RecordSession(testSession(channel, i)); err != nil {
			t.Fatalf("RecordSession failed: %v", err)
		}
	}

	all, err := archive.RecentSessions(0, 3)
	if err != nil {
		t.Fatalf("RecentSessions failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Expected 3 sessions, got %d", len(all))
	}
	if all[0].NoteID != 5 || all[1].NoteID != 4 || all[2].NoteID != 3 {
		t.Errorf("Expected newest first, got note ids %d, %d, %d", all[0].NoteID, all[1].NoteID, all[2].NoteID)
	}

	filtered, err := archive.RecentSessions(200, 10)
	if err != nil {
		t.Fatalf("RecentSessions failed: %v", err)
	}
	if len(filtered) != 2 {
		t.Errorf("Expected 2 sessions for channel 200, got %d", len(filtered))
	}
}

func TestArchiveFragmentsAndSummaries(t *testing.T) {
	archive := testArchive(t)

	sessionID, err := archive.RecordSession(testSession(100, 1))
	if err != nil {
		t.Fatalf("RecordSession failed: %v", err)
	}

	start := time.Date(2025, 6, 1, 10, 1, 0, 0, time.UTC)
	fragments := []ArchivedFragment{
		{Speaker: 42, Start: start, End: start.Add(3 * time.Second), Text: "hello everyone"},
		{Speaker: 43, Start: start.Add(5 * time.Second), End: start.Add(8 * time.Second), Text: "hi there"},
	}
	if err := archive.RecordFragments(sessionID, fragments); err != nil {
		t.Fatalf("RecordFragments failed: %v", err)
	}

	if err := archive.RecordFragments(sessionID, nil); err != nil {
		t.Errorf("Empty fragment list should be a no-op, got: %v", err)
	}

	if err := archive.RecordSummary(sessionID, SummaryKindGeneral, 0, "Short greeting round."); err != nil {
		t.Fatalf("RecordSummary failed: %v", err)
	}
	if err := archive.RecordSummary(sessionID, SummaryKindSpeaker, 42, "Opened the meeting."); err != nil {
		t.Fatalf("RecordSummary failed: %v", err)
	}

	if err := archive.RecordSummary(sessionID, "weekly", 0, "x"); err == nil {
		t.Error("Expected error for invalid summary kind")
	}
}

func TestArchiveImportNotes(t *testing.T) {
	archive := testArchive(t)

	store, err := Open(filepath.Join(t.TempDir(), "notes.json"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := store.Append(testNote(100, "legacy")); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	imported, err := archive.ImportNotes(store)
	if err != nil {
		t.Fatalf("ImportNotes failed: %v", err)
	}
	if imported != 3 {
		t.Errorf("Expected 3 imported notes, got %d", imported)
	}

	// A second run finds everything already archived
	imported, err = archive.ImportNotes(store)
	if err != nil {
		t.Fatalf("ImportNotes failed: %v", err)
	}
	if imported != 0 {
		t.Errorf("Expected idempotent import, got %d new rows", imported)
	}

	count, err := archive.SessionCount()
	if err != nil {
		t.Fatalf("SessionCount failed: %v", err)
	}
	if count != 3 {
		t.Errorf("Expected 3 archived sessions, got %d", count)
	}

	sessions, err := archive.RecentSessions(100, 10)
	if err != nil {
		t.Fatalf("RecentSessions failed: %v", err)
	}
	for _, s := range sessions {
		if s.EndReason != "imported" {
			t.Errorf("Expected end reason imported, got %q", s.EndReason)
		}
	}
}
