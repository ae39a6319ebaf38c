// Package session drives the recording lifecycle of voice channels.
// A Manager keeps one Session per channel; frames feed per-speaker
// buffers, silence gaps trigger transcription, and stopping a session
// merges the fragments, summarizes the transcript and writes a note.
package session
