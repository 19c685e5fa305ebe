// Package cache persists model artifacts on local disk under
// <root>/<dataset>/<version>/<file>. Presence of a file is the only validity
// signal; nothing is checksummed or versioned.
package cache

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/kennethnrk/edgernetes-inference/internal/common/errdefs"
	"github.com/kennethnrk/edgernetes-inference/internal/common/modelid"
)

// Store is a filesystem cache of model artifacts.
//
// Writes go to a temporary file in the destination directory, are fsynced,
// and are then renamed into place, so readers never observe a partial file.
// Concurrent writers of the same file are last-writer-wins.
type Store struct {
	root string
}

// New creates a Store rooted at root, creating the directory if needed.
func New(root string) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("cache root cannot be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve cache root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create cache root: %w", err)
	}
	return &Store{root: abs}, nil
}

func (s *Store) Root() string {
	return s.root
}

// Dir returns the absolute directory holding id's artifacts.
func (s *Store) Dir(id modelid.ID) string {
	return filepath.Join(s.root, id.DatasetID, id.VersionID)
}

// Path returns the absolute path of file within id's directory.
func (s *Store) Path(id modelid.ID, file string) string {
	return filepath.Join(s.Dir(id), file)
}

// Exists reports whether every named file is present for id.
func (s *Store) Exists(id modelid.ID, files []string) bool {
	for _, f := range files {
		info, err := os.Stat(s.Path(id, f))
		if err != nil || info.IsDir() {
			return false
		}
	}
	return true
}

// Initialise creates id's directory.
func (s *Store) Initialise(id modelid.ID) error {
	if err := os.MkdirAll(s.Dir(id), 0o755); err != nil {
		return fmt.Errorf("create cache dir for %s: %w", id, err)
	}
	return nil
}

// Clear removes id's whole directory.
func (s *Store) Clear(id modelid.ID) error {
	if err := os.RemoveAll(s.Dir(id)); err != nil {
		return fmt.Errorf("clear cache for %s: %w", id, err)
	}
	return nil
}

// SaveBytes persists content as file.
func (s *Store) SaveBytes(id modelid.ID, file string, content []byte) error {
	_, err := s.SaveFrom(id, file, bytes.NewReader(content))
	return err
}

// SaveJSON persists v encoded as JSON.
func (s *Store) SaveJSON(id modelid.ID, file string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", file, err)
	}
	return s.SaveBytes(id, file, b)
}

// SaveTextLines persists lines separated by newlines.
func (s *Store) SaveTextLines(id modelid.ID, file string, lines []string) error {
	return s.SaveBytes(id, file, []byte(strings.Join(lines, "\n")))
}

// SaveFrom streams r into file and returns the number of bytes written.
func (s *Store) SaveFrom(id modelid.ID, file string, r io.Reader) (int64, error) {
	final := s.Path(id, file)
	dir := filepath.Dir(final)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create cache dir: %w", err)
	}

	tmpPath := filepath.Join(dir, "."+filepath.Base(final)+"."+uuid.NewString()+".tmp")
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}

	n, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return n, fmt.Errorf("write %s: %w", file, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return n, fmt.Errorf("sync %s: %w", file, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return n, fmt.Errorf("close %s: %w", file, err)
	}
	if err := os.Rename(tmpPath, final); err != nil {
		os.Remove(tmpPath)
		return n, fmt.Errorf("rename %s into place: %w", file, err)
	}
	return n, nil
}

// LoadBytes reads file. A missing file means the manifest was not checked
// first and is reported as cache corruption.
func (s *Store) LoadBytes(id modelid.ID, file string) ([]byte, error) {
	b, err := os.ReadFile(s.Path(id, file))
	if err != nil {
		return nil, s.readError(id, file, err)
	}
	return b, nil
}

// LoadJSON decodes file into v.
func (s *Store) LoadJSON(id modelid.ID, file string, v any) error {
	b, err := s.LoadBytes(id, file)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return errdefs.Wrap(errdefs.KindCacheCorruption, err, "decode cached %s for %s", file, id)
	}
	return nil
}

// LoadTextLines returns the lines of file without line terminators. A
// trailing empty line is dropped.
func (s *Store) LoadTextLines(id modelid.ID, file string) ([]string, error) {
	f, err := os.Open(s.Path(id, file))
	if err != nil {
		return nil, s.readError(id, file, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, errdefs.Wrap(errdefs.KindCacheCorruption, err, "read cached %s for %s", file, id)
	}
	return lines, nil
}

// Digest returns the hex BLAKE3 digest of file.
func (s *Store) Digest(id modelid.ID, file string) (string, error) {
	f, err := os.Open(s.Path(id, file))
	if err != nil {
		return "", s.readError(id, file, err)
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", file, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Entry describes a cached file.
type Entry struct {
	Name string
	Size int64
}

// List returns the regular files cached for id, skipping in-flight temp files.
func (s *Store) List(id modelid.ID) ([]Entry, error) {
	var entries []Entry
	dir := s.Dir(id)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(d.Name(), ".tmp") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		entries = append(entries, Entry{Name: filepath.ToSlash(rel), Size: info.Size()})
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list cache for %s: %w", id, err)
	}
	return entries, nil
}

func (s *Store) readError(id modelid.ID, file string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return errdefs.Wrap(errdefs.KindCacheCorruption, err, "cached %s missing for %s", file, id)
	}
	return fmt.Errorf("read cached %s for %s: %w", file, id, err)
}
