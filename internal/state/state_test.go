package state

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/vaultlog/internal/apperr"
	"github.com/starford/vaultlog/internal/models"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestLoad_MissingIsEpoch(t *testing.T) {
	tr := NewTracker(filepath.Join(t.TempDir(), "wm"), quietLogger())
	if rs := tr.Load(); !rs.Watermark.Equal(Epoch) {
		t.Errorf("watermark = %v, want epoch", rs.Watermark)
	}
}

func TestLoad_CorruptIsEpoch(t *testing.T) {
	p := filepath.Join(t.TempDir(), "wm")
	if err := os.WriteFile(p, []byte("not a time"), 0o644); err != nil {
		t.Fatal(err)
	}
	if rs := NewTracker(p, quietLogger()).Load(); !rs.Watermark.Equal(Epoch) {
		t.Errorf("watermark = %v, want epoch", rs.Watermark)
	}
}

func TestCommitAndLoad(t *testing.T) {
	tr := NewTracker(filepath.Join(t.TempDir(), "sub", "wm"), quietLogger())
	ts := time.Date(2024, 3, 1, 10, 30, 0, 123456789, time.UTC)
	if err := tr.Commit(ts); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if rs := tr.Load(); !rs.Watermark.Equal(ts) {
		t.Errorf("watermark = %v, want %v", rs.Watermark, ts)
	}

	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(tr.Path()), ".watermark-tmp-*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestCommit_Overwrites(t *testing.T) {
	tr := NewTracker(filepath.Join(t.TempDir(), "wm"), quietLogger())
	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)
	if err := tr.Commit(first); err != nil {
		t.Fatal(err)
	}
	if err := tr.Commit(second); err != nil {
		t.Fatal(err)
	}
	if rs := tr.Load(); !rs.Watermark.Equal(second) {
		t.Errorf("watermark = %v, want %v", rs.Watermark, second)
	}
}

func TestCommit_UnwritableDir(t *testing.T) {
	parent := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(parent, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	err := NewTracker(filepath.Join(parent, "wm"), quietLogger()).Commit(time.Now())
	if !errors.Is(err, apperr.ErrIO) {
		t.Errorf("err = %v, want io error", err)
	}
}

func TestParseWatermark(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
	}{
		{"2024-03-01T10:30:00Z\n", time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)},
		{"2024-03-01T12:30:00+02:00", time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)},
		{"1700000000", time.Unix(1700000000, 0)},
		{"1700000000.5", time.Unix(1700000000, 500000000)},
	}
	for _, tc := range cases {
		got, err := ParseWatermark(tc.in)
		if err != nil {
			t.Errorf("ParseWatermark(%q): %v", tc.in, err)
			continue
		}
		if !got.Equal(tc.want) {
			t.Errorf("ParseWatermark(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
	for _, bad := range []string{"", "  ", "yesterday"} {
		if _, err := ParseWatermark(bad); err == nil {
			t.Errorf("ParseWatermark(%q) should fail", bad)
		}
	}
}

func TestPartition_StrictlyAfter(t *testing.T) {
	wm := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	files := []models.NoteFile{
		{Path: "old.md", ModifiedAt: wm.Add(-time.Second)},
		{Path: "same.md", ModifiedAt: wm},
		{Path: "new.md", ModifiedAt: wm.Add(time.Nanosecond)},
	}
	toProcess, unchanged := Partition(files, RunState{Watermark: wm})
	if len(toProcess) != 1 || toProcess[0].Path != "new.md" {
		t.Errorf("toProcess = %+v, want [new.md]", toProcess)
	}
	if len(unchanged) != 2 || unchanged[0].Path != "old.md" || unchanged[1].Path != "same.md" {
		t.Errorf("unchanged = %+v", unchanged)
	}
}

func TestPartition_EpochTakesEverything(t *testing.T) {
	files := []models.NoteFile{{Path: "a.md", ModifiedAt: time.Now()}}
	toProcess, _ := Partition(files, RunState{Watermark: Epoch})
	if len(toProcess) != 1 {
		t.Errorf("toProcess = %d, want 1", len(toProcess))
	}
}
