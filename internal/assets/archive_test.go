package assets

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
}

func TestZipPathIsDeterministic(t *testing.T) {
	first := filepath.Join(t.TempDir(), "src")
	writeFile(t, filepath.Join(first, "b.txt"), "beta")
	writeFile(t, filepath.Join(first, "a.txt"), "alpha")
	writeFile(t, filepath.Join(first, "lib", "c.txt"), "gamma")

	// Same content written in a different order into a different location.
	second := filepath.Join(t.TempDir(), "src")
	writeFile(t, filepath.Join(second, "lib", "c.txt"), "gamma")
	writeFile(t, filepath.Join(second, "a.txt"), "alpha")
	writeFile(t, filepath.Join(second, "b.txt"), "beta")

	one, err := ZipPath(first)
	if err != nil {
		t.Fatalf("zip first: %v", err)
	}
	two, err := ZipPath(second)
	if err != nil {
		t.Fatalf("zip second: %v", err)
	}
	if !bytes.Equal(one, two) {
		t.Fatalf("identical content should produce identical archives")
	}
	if Digest(one) != Digest(two) {
		t.Fatalf("identical archives should share a digest")
	}
}

func TestZipPathNormalizesEntries(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "src")
	writeFile(t, filepath.Join(dir, "z.txt"), "z")
	writeFile(t, filepath.Join(dir, "nested", "a.txt"), "a")
	if err := os.Chmod(filepath.Join(dir, "z.txt"), 0o755); err != nil {
		t.Fatalf("chmod: %v", err)
	}

	raw, err := ZipPath(dir)
	if err != nil {
		t.Fatalf("zip: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	if len(zr.File) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(zr.File))
	}
	if zr.File[0].Name != "nested/a.txt" || zr.File[1].Name != "z.txt" {
		t.Fatalf("entries should be sorted slash paths, got %s then %s", zr.File[0].Name, zr.File[1].Name)
	}
	for _, f := range zr.File {
		if f.Mode().Perm() != 0o644 {
			t.Fatalf("entry %s mode should be normalized to 0644, got %v", f.Name, f.Mode().Perm())
		}
		if f.Modified.UTC().Year() != 1980 {
			t.Fatalf("entry %s timestamp should be pinned to the zip epoch, got %v", f.Name, f.Modified)
		}
	}
}

func TestZipPathSingleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "handler.js")
	writeFile(t, path, "exports.handler = async () => {};")
	raw, err := ZipPath(path)
	if err != nil {
		t.Fatalf("zip: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	if len(zr.File) != 1 || zr.File[0].Name != "handler.js" {
		t.Fatalf("expected single entry named handler.js, got %v", zr.File)
	}
}

func TestZipPathMissing(t *testing.T) {
	if _, err := ZipPath(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatalf("expected error for missing path")
	}
}
