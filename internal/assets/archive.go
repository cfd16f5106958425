package assets

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// zipEpoch pins entry timestamps so identical content always produces
// identical archive bytes.
var zipEpoch = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// ZipPath archives the file or directory at root into a deterministic zip:
// entries named by sorted slash-relative paths, modes normalized to 0644,
// timestamps pinned to the zip epoch. A single file becomes a one-entry
// archive named after its base name.
func ZipPath(root string) ([]byte, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	type entry struct {
		name string
		path string
	}
	var entries []entry
	if info.IsDir() {
		walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}
			entries = append(entries, entry{name: filepath.ToSlash(rel), path: p})
			return nil
		})
		if walkErr != nil {
			return nil, walkErr
		}
	} else {
		entries = append(entries, entry{name: filepath.Base(root), path: root})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		if e.name == "" {
			return nil, fmt.Errorf("empty zip entry name for %s", e.path)
		}
		hdr := &zip.FileHeader{
			Name:     e.name,
			Method:   zip.Deflate,
			Modified: zipEpoch,
		}
		hdr.SetMode(0o644)
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return nil, err
		}
		src, err := os.Open(e.path)
		if err != nil {
			return nil, err
		}
		_, copyErr := io.Copy(w, src)
		_ = src.Close()
		if copyErr != nil {
			return nil, copyErr
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Digest returns the hex SHA-256 of the payload bytes. It names the object
// in the content-addressed store, so two identical payloads always share a
// key.
func Digest(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
