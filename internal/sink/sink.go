// Package sink appends log entries to a JSON-lines file that is rotated by
// size.
package sink

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/starford/vaultlog/internal/apperr"
	"github.com/starford/vaultlog/internal/models"
)

// backupTimeFormat matches the naming lumberjack uses for rotated files.
const backupTimeFormat = "2006-01-02T15-04-05.000"

// File is an append-only, size-rotated event log. It is not safe for
// concurrent use; one run owns it at a time.
type File struct {
	path     string
	maxBytes int64
	now      func() time.Time
	write    func(*os.File, []byte) (int, error)

	file *os.File
	size int64
}

// Option configures a File.
type Option func(*File)

// WithClock overrides the clock used for archive names.
func WithClock(now func() time.Time) Option {
	return func(f *File) {
		f.now = now
	}
}

// New returns a sink writing to path. A maxBytes of zero or less disables
// rotation. Nothing is opened until the first Append.
func New(path string, maxBytes int64, opts ...Option) *File {
	f := &File{path: path, maxBytes: maxBytes, now: time.Now, write: (*os.File).Write}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Path returns the active file path.
func (f *File) Path() string {
	return f.path
}

// Append writes entry as one line, rotating first when the active file has
// reached the size threshold.
func (f *File) Append(entry models.LogEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return apperr.IO("sink: encode entry", err)
	}
	line = append(line, '\n')

	if f.file == nil {
		if err := f.open(); err != nil {
			return err
		}
	}
	if f.maxBytes > 0 && f.size >= f.maxBytes {
		if err := f.rotate(); err != nil {
			return err
		}
	}

	// One Write call on an O_APPEND descriptor keeps the line contiguous.
	prev := f.size
	n, err := f.write(f.file, line)
	if err != nil {
		if n > 0 {
			// Drop the fragment so the next line does not get glued onto it.
			if terr := f.file.Truncate(prev); terr != nil {
				err = errors.Join(err, terr)
			}
		}
		return apperr.IO("sink: append", err)
	}
	f.size = prev + int64(n)
	return nil
}

// Close releases the active file.
func (f *File) Close() error {
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	if err != nil {
		return apperr.IO("sink: close", err)
	}
	return nil
}

func (f *File) open() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return apperr.IO("sink: mkdir", err)
	}
	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return apperr.IO("sink: open", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return apperr.IO("sink: stat", err)
	}
	f.file = file
	f.size = info.Size()
	return nil
}

// rotate renames the active file to a timestamped archive and opens a fresh
// one in its place.
func (f *File) rotate() error {
	if err := f.Close(); err != nil {
		return err
	}
	archive, err := f.archiveName()
	if err != nil {
		return err
	}
	if err := os.Rename(f.path, archive); err != nil {
		return apperr.IO("sink: rotate", err)
	}
	return f.open()
}

// archiveName returns <name>-<timestamp><ext> next to the active file, adding
// a counter when a rotation in the same millisecond already took the name.
func (f *File) archiveName() (string, error) {
	dir := filepath.Dir(f.path)
	base := filepath.Base(f.path)
	ext := filepath.Ext(base)
	prefix := strings.TrimSuffix(base, ext)
	stamp := f.now().UTC().Format(backupTimeFormat)

	name := filepath.Join(dir, fmt.Sprintf("%s-%s%s", prefix, stamp, ext))
	for i := 1; ; i++ {
		_, err := os.Lstat(name)
		if errors.Is(err, fs.ErrNotExist) {
			return name, nil
		}
		if err != nil {
			return "", apperr.IO("sink: stat archive", err)
		}
		name = filepath.Join(dir, fmt.Sprintf("%s-%s.%d%s", prefix, stamp, i, ext))
	}
}
