// Command notes-migrate imports an existing notes.json file into the
// SQLite session archive. Run it once when enabling the archive on a
// deployment that already has notes.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/olehkv/voice-notes-service/internal/notes"
)

func main() {
	dataDir := flag.String("data-dir", "data", "Directory containing notes.json and archive.db")
	notesPath := flag.String("notes", "", "Path to notes.json (overrides -data-dir)")
	archivePath := flag.String("archive", "", "Path to archive.db (overrides -data-dir)")
	flag.Parse()

	if *notesPath == "" {
		*notesPath = filepath.Join(*dataDir, "notes.json")
	}
	if *archivePath == "" {
		*archivePath = filepath.Join(*dataDir, "archive.db")
	}

	if _, err := os.Stat(*notesPath); os.IsNotExist(err) {
		fmt.Printf("No notes file found at %s, nothing to migrate.\n", *notesPath)
		return
	}

	store, err := notes.Open(*notesPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open notes file: %v\n", err)
		os.Exit(1)
	}

	if store.Count() == 0 {
		fmt.Println("No notes found, nothing to migrate.")
		return
	}

	fmt.Printf("Found %d notes in %s\n", store.Count(), *notesPath)

	archive, err := notes.OpenArchive(*archivePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open archive: %v\n", err)
		os.Exit(1)
	}
	defer archive.Close()

	imported, err := archive.ImportNotes(store)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed after %d notes: %v\n", imported, err)
		os.Exit(1)
	}

	skipped := store.Count() - imported
	fmt.Println("Migration complete.")
	fmt.Printf("  Imported: %d\n", imported)
	fmt.Printf("  Already archived: %d\n", skipped)
	fmt.Printf("\nThe notes file at %s is untouched and remains the primary store.\n", *notesPath)
}
