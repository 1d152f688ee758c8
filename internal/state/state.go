// Package state persists the watermark that separates processed notes from
// pending ones between runs.
package state

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/starford/vaultlog/internal/apperr"
	"github.com/starford/vaultlog/internal/models"
)

// Epoch is the watermark of a vault that has never been processed.
var Epoch = time.Unix(0, 0).UTC()

// RunState is the state carried between invocations.
type RunState struct {
	Watermark time.Time
}

// Tracker loads and commits the watermark file.
type Tracker struct {
	path   string
	logger *slog.Logger
}

// NewTracker returns a Tracker persisting to path.
func NewTracker(path string, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{path: path, logger: logger}
}

// Path returns the watermark file path.
func (t *Tracker) Path() string {
	return t.path
}

// Load returns the persisted watermark. A missing or unparsable file yields
// the epoch so that every note is processed.
func (t *Tracker) Load() RunState {
	data, err := os.ReadFile(t.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			t.logger.Warn("state: read watermark failed, processing everything",
				slog.String("path", t.path), slog.String("error", err.Error()))
		}
		return RunState{Watermark: Epoch}
	}
	ts, err := ParseWatermark(string(data))
	if err != nil {
		t.logger.Warn("state: corrupt watermark, processing everything",
			slog.String("path", t.path), slog.String("error", err.Error()))
		return RunState{Watermark: Epoch}
	}
	return RunState{Watermark: ts}
}

// ParseWatermark accepts an RFC3339 timestamp or Unix epoch seconds.
func ParseWatermark(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, errors.New("empty watermark")
	}
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts, nil
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognised watermark %q", s)
	}
	whole := int64(secs)
	frac := int64((secs - float64(whole)) * float64(time.Second))
	return time.Unix(whole, frac).UTC(), nil
}

// Partition splits files into those modified strictly after the watermark and
// the rest. Input order is preserved in both halves.
func Partition(files []models.NoteFile, rs RunState) (toProcess, unchanged []models.NoteFile) {
	for _, f := range files {
		if f.ModifiedAt.After(rs.Watermark) {
			toProcess = append(toProcess, f)
		} else {
			unchanged = append(unchanged, f)
		}
	}
	return toProcess, unchanged
}

// Commit atomically replaces the watermark: tmp file → fsync → rename.
func (t *Tracker) Commit(watermark time.Time) error {
	dir := filepath.Dir(t.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperr.IO("state: mkdir", err)
	}

	tmp, err := os.CreateTemp(dir, ".watermark-tmp-*")
	if err != nil {
		return apperr.IO("state: create temp", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.WriteString(watermark.UTC().Format(time.RFC3339Nano) + "\n"); err != nil {
		return apperr.IO("state: write temp", err)
	}
	if err := tmp.Sync(); err != nil {
		return apperr.IO("state: fsync", err)
	}
	if err := tmp.Close(); err != nil {
		return apperr.IO("state: close temp", err)
	}
	if err := os.Rename(tmpName, t.path); err != nil {
		return apperr.IO("state: rename", err)
	}
	success = true
	return nil
}
