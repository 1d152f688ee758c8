// Package vault enumerates and reads the notes of a vault directory.
package vault

import "github.com/starford/vaultlog/internal/models"

// Provider is the interface for vault file operations.
type Provider interface {
	// Scan returns every non-hidden note under the vault root, ordered by
	// relative path.
	Scan() ([]models.NoteFile, error)
	// Read returns the raw text of the note at path (relative to vault root).
	Read(path string) (string, error)
	// Root returns the absolute vault root.
	Root() string
}
