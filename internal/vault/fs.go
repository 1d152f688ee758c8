package vault

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/starford/vaultlog/internal/apperr"
	"github.com/starford/vaultlog/internal/models"
)

// DefaultExtension is the note file suffix used when none is configured.
const DefaultExtension = ".md"

// FS implements Provider backed by the local file system.
type FS struct {
	root string // absolute path to vault directory
	name string
	ext  string
}

// NewFS creates a new FS provider rooted at the given directory.
// The directory must already exist; otherwise a configuration error is returned.
func NewFS(root, ext string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, apperr.Configuration("resolve vault root %q: %v", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, apperr.Configuration("vault root %q: %v", abs, err)
	}
	if !info.IsDir() {
		return nil, apperr.Configuration("vault root is not a directory: %s", abs)
	}
	if ext == "" {
		ext = DefaultExtension
	}
	return &FS{root: abs, name: filepath.Base(abs), ext: ext}, nil
}

// Root returns the absolute vault root.
func (f *FS) Root() string {
	return f.root
}

// Name returns the vault name, the base name of the root.
func (f *FS) Name() string {
	return f.name
}

// Scan walks the vault and returns every note file. Hidden directories are
// skipped without being descended into.
func (f *FS) Scan() ([]models.NoteFile, error) {
	var out []models.NoteFile
	err := filepath.WalkDir(f.root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if p == f.root {
			return nil
		}
		if isHidden(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !strings.HasSuffix(d.Name(), f.ext) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(f.root, p)
		if err != nil {
			return err
		}
		out = append(out, models.NoteFile{
			AbsPath:    p,
			Path:       filepath.ToSlash(rel),
			Vault:      f.name,
			Size:       info.Size(),
			ModifiedAt: info.ModTime(),
			CreatedAt:  birthTime(p, info),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("vault: scan: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Read returns the text of a vault file.
func (f *FS) Read(path string) (string, error) {
	abs, err := f.safePath(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("vault: read %s: %w", path, err)
	}
	return string(data), nil
}

// safePath resolves a relative path against the vault root and rejects
// any result that escapes it (directory traversal).
func (f *FS) safePath(rel string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("vault: absolute paths not allowed: %s", rel)
	}
	abs := filepath.Join(f.root, cleaned)
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("vault: path escapes vault root: %s", rel)
	}
	return abs, nil
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
