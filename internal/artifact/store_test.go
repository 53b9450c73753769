package artifact

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

// writeTree creates files under dir with the given relative paths.
func writeTree(t *testing.T, dir string, paths map[string]string) {
	t.Helper()
	for rel, content := range paths {
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestStashUnstashRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())
	work := t.TempDir()
	writeTree(t, work, map[string]string{
		"target/app.jar":   "jar-bytes",
		"target/app.txt":   "notes",
		"target/other.jar": "more-jar-bytes",
		"README.md":        "readme",
	})

	m, err := store.Stash("run-1", "jars", work, []string{"target/*.jar"})
	if err != nil {
		t.Fatalf("Stash() error: %v", err)
	}
	if len(m.Files) != 2 {
		t.Fatalf("Stash captured %d files, want 2: %+v", len(m.Files), m.Files)
	}

	dest := t.TempDir()
	got, err := store.Unstash("run-1", "jars", dest)
	if err != nil {
		t.Fatalf("Unstash() error: %v", err)
	}

	var paths []string
	for _, f := range got.Files {
		paths = append(paths, f.Path)
	}
	sort.Strings(paths)
	want := []string{"target/app.jar", "target/other.jar"}
	if len(paths) != len(want) {
		t.Fatalf("restored paths = %v, want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("restored paths[%d] = %q, want %q", i, paths[i], want[i])
		}
	}

	data, err := os.ReadFile(filepath.Join(dest, "target/app.jar"))
	if err != nil {
		t.Fatalf("restored file missing: %v", err)
	}
	if string(data) != "jar-bytes" {
		t.Errorf("restored content = %q, want jar-bytes", data)
	}
	if _, err := os.Stat(filepath.Join(dest, "README.md")); !os.IsNotExist(err) {
		t.Error("README.md restored but was never stashed")
	}
}

func TestUnstashUnknownKey(t *testing.T) {
	store := NewStore(t.TempDir())

	_, err := store.Unstash("run-1", "never-stashed", t.TempDir())
	var nf NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("error = %v, want NotFoundError", err)
	}
	if nf.Key != "never-stashed" {
		t.Errorf("NotFoundError.Key = %q, want never-stashed", nf.Key)
	}
}

func TestStashDirectoryRecurses(t *testing.T) {
	store := NewStore(t.TempDir())
	work := t.TempDir()
	writeTree(t, work, map[string]string{
		"dist/a/one.txt": "1",
		"dist/b/two.txt": "2",
	})

	m, err := store.Stash("run-1", "dist", work, []string{"dist"})
	if err != nil {
		t.Fatalf("Stash() error: %v", err)
	}
	if len(m.Files) != 2 {
		t.Errorf("captured %d files, want 2", len(m.Files))
	}
}

func TestStashEmptyMatchIsError(t *testing.T) {
	store := NewStore(t.TempDir())
	work := t.TempDir()

	if _, err := store.Stash("run-1", "jars", work, []string{"*.jar"}); err == nil {
		t.Error("expected error for stash matching no files")
	}
}

func TestStashRejectsEscapingPattern(t *testing.T) {
	store := NewStore(t.TempDir())
	work := t.TempDir()

	if _, err := store.Stash("run-1", "esc", work, []string{"../*"}); err == nil {
		t.Error("expected error for pattern escaping the workdir")
	}
}

func TestRunsAreIsolated(t *testing.T) {
	store := NewStore(t.TempDir())
	work := t.TempDir()
	writeTree(t, work, map[string]string{"out.bin": "a"})

	if _, err := store.Stash("run-a", "out", work, []string{"out.bin"}); err != nil {
		t.Fatalf("Stash() error: %v", err)
	}

	_, err := store.Unstash("run-b", "out", t.TempDir())
	var nf NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("run-b must not see run-a's stash, got %v", err)
	}
}

func TestRestashReplaces(t *testing.T) {
	store := NewStore(t.TempDir())
	work := t.TempDir()
	writeTree(t, work, map[string]string{"v1.txt": "1", "v2.txt": "2"})

	if _, err := store.Stash("run-1", "k", work, []string{"v1.txt"}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Stash("run-1", "k", work, []string{"v2.txt"}); err != nil {
		t.Fatal(err)
	}

	dest := t.TempDir()
	m, err := store.Unstash("run-1", "k", dest)
	if err != nil {
		t.Fatalf("Unstash() error: %v", err)
	}
	if len(m.Files) != 1 || m.Files[0].Path != "v2.txt" {
		t.Errorf("restash should replace: files = %+v", m.Files)
	}
	if _, err := os.Stat(filepath.Join(dest, "v1.txt")); !os.IsNotExist(err) {
		t.Error("v1.txt restored but the key was re-stashed without it")
	}
}

func TestStashPreservesFileMode(t *testing.T) {
	store := NewStore(t.TempDir())
	work := t.TempDir()
	script := filepath.Join(work, "run.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	if _, err := store.Stash("run-1", "bin", work, []string{"run.sh"}); err != nil {
		t.Fatalf("Stash() error: %v", err)
	}
	dest := t.TempDir()
	if _, err := store.Unstash("run-1", "bin", dest); err != nil {
		t.Fatalf("Unstash() error: %v", err)
	}

	info, err := os.Stat(filepath.Join(dest, "run.sh"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm()&0o100 == 0 {
		t.Errorf("mode = %v, want executable bit preserved", info.Mode())
	}
}

func TestPurge(t *testing.T) {
	store := NewStore(t.TempDir())
	work := t.TempDir()
	writeTree(t, work, map[string]string{"f.txt": "x"})

	if _, err := store.Stash("run-1", "k", work, []string{"f.txt"}); err != nil {
		t.Fatal(err)
	}
	keys, err := store.Keys("run-1")
	if err != nil || len(keys) != 1 {
		t.Fatalf("Keys() = %v, %v; want [k]", keys, err)
	}

	if err := store.Purge("run-1"); err != nil {
		t.Fatalf("Purge() error: %v", err)
	}
	keys, err = store.Keys("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Errorf("Keys() after purge = %v, want empty", keys)
	}
}
