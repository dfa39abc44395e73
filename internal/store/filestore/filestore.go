// Package filestore implements the file-based persistence variant: one
// embedding file per enrolled student under a faces directory, and an
// append-only CSV attendance log.
package filestore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"face-attendance-go/internal/core/embedding"
	"face-attendance-go/internal/core/gallery"

	log "github.com/sirupsen/logrus"
)

const embeddingExt = ".emb"

// GalleryBackend stores one encoded embedding per student as
// <faces_dir>/<name>.emb. File names carry the display name with spaces
// replaced by underscores, mirroring how the enrollment images are named.
type GalleryBackend struct {
	dir string
}

// NewGalleryBackend creates a file-backed gallery store rooted at dir.
func NewGalleryBackend(dir string) (*GalleryBackend, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create faces directory: %w", err)
	}
	return &GalleryBackend{dir: dir}, nil
}

func fileName(name string) string {
	return strings.ReplaceAll(name, " ", "_") + embeddingExt
}

func displayName(file string) string {
	base := strings.TrimSuffix(file, embeddingExt)
	return strings.ReplaceAll(base, "_", " ")
}

func (b *GalleryBackend) path(name string) string {
	return filepath.Join(b.dir, fileName(name))
}

// Load reads every embedding file, sorted by file name for a stable
// snapshot order. Files that fail to decode are skipped with a warning.
func (b *GalleryBackend) Load() ([]gallery.Entry, error) {
	dirEntries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read faces directory: %w", err)
	}

	var files []string
	for _, de := range dirEntries {
		if !de.IsDir() && strings.HasSuffix(de.Name(), embeddingExt) {
			files = append(files, de.Name())
		}
	}
	sort.Strings(files)

	entries := make([]gallery.Entry, 0, len(files))
	for _, file := range files {
		blob, err := os.ReadFile(filepath.Join(b.dir, file))
		if err != nil {
			return nil, fmt.Errorf("failed to read embedding file %s: %w", file, err)
		}
		vec, err := embedding.Decode(blob)
		if err != nil {
			log.WithError(err).Warnf("Skipping invalid embedding file %s", file)
			continue
		}
		entries = append(entries, gallery.Entry{Name: displayName(file), Embedding: vec})
	}
	return entries, nil
}

// Insert writes the encoded embedding to a new file.
func (b *GalleryBackend) Insert(name string, vec embedding.Vector) error {
	path := b.path(name)
	if _, err := os.Stat(path); err == nil {
		return gallery.ErrDuplicateName
	}

	blob, err := embedding.Encode(vec)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, blob, 0644); err != nil {
		return fmt.Errorf("failed to write embedding file: %w", err)
	}
	return nil
}

// Delete removes the student's embedding file.
func (b *GalleryBackend) Delete(name string) error {
	path := b.path(name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return gallery.ErrIdentityNotFound
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to delete embedding file: %w", err)
	}
	return nil
}

// Rename moves the embedding file; its contents are untouched.
func (b *GalleryBackend) Rename(oldName, newName string) error {
	oldPath := b.path(oldName)
	newPath := b.path(newName)

	if _, err := os.Stat(oldPath); os.IsNotExist(err) {
		return gallery.ErrIdentityNotFound
	}
	if _, err := os.Stat(newPath); err == nil {
		return gallery.ErrDuplicateName
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("failed to rename embedding file: %w", err)
	}
	return nil
}
