package index

import (
	"log/slog"

	"github.com/starford/vaultlog/internal/models"
)

// SyncStats counts the changes applied by Sync.
type SyncStats struct {
	Upserted int
	Removed  int
}

// Sync brings the index up to date with a full scan:
//   - notes whose checksum changed (or that are new) are upserted
//   - indexed notes no longer present on disk are deleted
//
// present holds the path of every scanned note, including ones that failed
// to parse, so a temporarily broken note keeps its last good row.
func Sync(db NoteIndex, records []*models.Record, present map[string]struct{}, logger *slog.Logger) (SyncStats, error) {
	var stats SyncStats

	checksums, err := db.AllChecksums()
	if err != nil {
		return stats, err
	}

	for _, r := range records {
		if checksums[r.File.Path] == r.Checksum {
			continue
		}
		row := NoteRow{
			Path:       r.File.Path,
			Vault:      r.File.Vault,
			Checksum:   r.Checksum,
			WordCount:  r.WordCount,
			Tags:       mergeTags(r.Tags, r.InlineTags),
			ModifiedAt: r.File.ModifiedAt,
		}
		if err := db.UpsertNote(row, r.Links); err != nil {
			return stats, err
		}
		stats.Upserted++
		logger.Debug("index: upserted", slog.String("path", r.File.Path))
	}

	// Remove stale entries.
	for p := range checksums {
		if _, ok := present[p]; ok {
			continue
		}
		if err := db.DeleteNote(p); err != nil {
			return stats, err
		}
		stats.Removed++
		logger.Debug("index: removed stale", slog.String("path", p))
	}

	return stats, nil
}

func mergeTags(declared, inline []string) []string {
	seen := make(map[string]struct{}, len(declared)+len(inline))
	out := make([]string, 0, len(declared)+len(inline))
	for _, list := range [][]string{declared, inline} {
		for _, t := range list {
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}
