// Package notes persists finished recording sessions as meeting notes.
// The primary store is a single JSON file rewritten atomically on every
// append; a SQLite archive keeps the full session history for reporting.
package notes
