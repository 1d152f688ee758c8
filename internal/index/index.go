package index

// NoteIndex defines the interface for note catalog operations.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with mocks.
type NoteIndex interface {
	UpsertNote(n NoteRow, links []string) error
	DeleteNote(path string) error
	AllChecksums() (map[string]string, error)
	Backlinks(target string) ([]string, error)
	Close() error
}

// Verify *DB satisfies NoteIndex at compile time.
var _ NoteIndex = (*DB)(nil)
