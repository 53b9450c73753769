// Package artifact implements the run-scoped stash store: files captured by
// one stage and restored by a later stage of the same run. Keys are
// namespaced by run id, so concurrent runs never see each other's stashes.
package artifact

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/stagehand-ci/stagehand/internal/config"
)

// Manifest records what a stash captured.
type Manifest struct {
	Key       string `json:"key"`
	RunID     string `json:"run_id"`
	Files     []File `json:"files"`
	CreatedAt string `json:"created_at"`
}

// File is one captured file, identified by its workdir-relative path.
type File struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// NotFoundError reports an unstash of a key that was never stashed in this
// run — either a configuration mistake or a stash skipped by a guard.
type NotFoundError struct {
	Key string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("artifact stash %q not found in this run", e.Key)
}

// Store manages stashed artifacts on disk.
type Store struct {
	baseDir string
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// DefaultStore returns a Store under the stagehand home directory, creating
// it if needed.
func DefaultStore() (*Store, error) {
	dir := filepath.Join(config.HomeDir(), "artifacts")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &Store{baseDir: dir}, nil
}

// BaseDir returns the store's root directory.
func (s *Store) BaseDir() string {
	return s.baseDir
}

func (s *Store) keyDir(runID, key string) string {
	return filepath.Join(s.baseDir, runID, key)
}

// Stash expands the glob patterns relative to workdir and copies every match
// into the store under the run and key. Matching directories are captured
// recursively. Re-stashing an existing key replaces it. A stash that matches
// nothing is an error: it always indicates a pipeline bug.
func (s *Store) Stash(runID, key, workdir string, patterns []string) (*Manifest, error) {
	var rels []string
	for _, pattern := range patterns {
		if strings.Contains(pattern, "..") {
			return nil, fmt.Errorf("stash pattern %q escapes the workdir", pattern)
		}
		matches, err := filepath.Glob(filepath.Join(workdir, pattern))
		if err != nil {
			return nil, fmt.Errorf("bad stash pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			files, err := collectFiles(workdir, m)
			if err != nil {
				return nil, err
			}
			rels = append(rels, files...)
		}
	}
	if len(rels) == 0 {
		return nil, fmt.Errorf("stash %q matched no files (patterns: %v)", key, patterns)
	}
	sort.Strings(rels)
	rels = dedupeSorted(rels)

	dir := s.keyDir(runID, key)
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("clear previous stash %q: %w", key, err)
	}

	m := &Manifest{
		Key:       key,
		RunID:     runID,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	for _, rel := range rels {
		src := filepath.Join(workdir, rel)
		dst := filepath.Join(dir, "files", rel)
		size, err := copyFile(src, dst)
		if err != nil {
			return nil, fmt.Errorf("stash %q: %w", key, err)
		}
		m.Files = append(m.Files, File{Path: rel, Size: size})
	}

	if err := writeJSON(filepath.Join(dir, "manifest.json"), m); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	return m, nil
}

// Unstash restores exactly the path set recorded by Stash into destDir,
// preserving workdir-relative paths. An unknown key yields NotFoundError.
func (s *Store) Unstash(runID, key, destDir string) (*Manifest, error) {
	m, err := s.Manifest(runID, key)
	if err != nil {
		return nil, err
	}

	dir := s.keyDir(runID, key)
	for _, f := range m.Files {
		src := filepath.Join(dir, "files", f.Path)
		dst := filepath.Join(destDir, f.Path)
		if _, err := copyFile(src, dst); err != nil {
			return nil, fmt.Errorf("unstash %q: %w", key, err)
		}
	}
	return m, nil
}

// Manifest reads the manifest for a stashed key without restoring anything.
func (s *Store) Manifest(runID, key string) (*Manifest, error) {
	var m Manifest
	path := filepath.Join(s.keyDir(runID, key), "manifest.json")
	if err := readJSON(path, &m); err != nil {
		if os.IsNotExist(err) {
			return nil, NotFoundError{Key: key}
		}
		return nil, err
	}
	return &m, nil
}

// Keys lists the stash keys present for a run, sorted.
func (s *Store) Keys(runID string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.baseDir, runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() {
			keys = append(keys, e.Name())
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Purge removes all stashes for a run.
func (s *Store) Purge(runID string) error {
	return os.RemoveAll(filepath.Join(s.baseDir, runID))
}

// collectFiles returns the workdir-relative paths of path itself (when a
// regular file) or every regular file under it (when a directory), rejecting
// anything that resolves outside the workdir.
func collectFiles(workdir, path string) ([]string, error) {
	var rels []string
	err := filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(workdir, p)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", p, err)
		}
		if strings.HasPrefix(rel, "..") {
			return fmt.Errorf("path %q is outside the workdir", p)
		}
		rels = append(rels, rel)
		return nil
	})
	return rels, err
}

func copyFile(src, dst string) (int64, error) {
	info, err := os.Stat(src)
	if err != nil {
		return 0, err
	}
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, err
	}
	// Preserve the source mode so stashed scripts stay executable.
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return n, err
}

func dedupeSorted(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}
