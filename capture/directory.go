package capture

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/nvr-ai/sentinel/images"
)

// ImageFile represents an image file.
type ImageFile struct {
	// Path is the path to the image file.
	Path string
	// Frame is the frame number parsed from a "frame-N" name, or the position in name order.
	Frame int
}

// ListDirectoryImageFiles lists the image files in a directory in playback order.
//
// Files named "frame-N.ext" are ordered by N and come before any other images, which follow in
// name order.
//
// Arguments:
// - dir: Directory path containing image files.
//
// Returns:
// - []ImageFile: The files in playback order.
// - error: Error if the directory cannot be read.
func ListDirectoryImageFiles(dir string) ([]ImageFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var numbered, named []ImageFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		ext := strings.ToLower(filepath.Ext(entry.Name()))
		switch ext {
		case ".jpg", ".jpeg", ".png", ".bmp", ".webp":
		default:
			continue
		}

		file := ImageFile{Path: filepath.Join(dir, entry.Name())}
		stem := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		if n, err := strconv.Atoi(strings.TrimPrefix(stem, "frame-")); err == nil && strings.HasPrefix(stem, "frame-") {
			file.Frame = n
			numbered = append(numbered, file)
			continue
		}
		named = append(named, file)
	}

	sort.Slice(numbered, func(i, j int) bool {
		return numbered[i].Frame < numbered[j].Frame
	})
	// os.ReadDir returns entries sorted by name.
	for i := range named {
		named[i].Frame = len(numbered) + i
	}

	return append(numbered, named...), nil
}

// Directory plays back a directory of still frames in a loop.
type Directory struct {
	mu    sync.Mutex
	dir   string
	files []ImageFile
	next  int
}

// OpenDirectory lists the frames of dir.
func OpenDirectory(dir string) (*Directory, error) {
	files, err := ListDirectoryImageFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no image files in %s", dir)
	}
	return &Directory{dir: dir, files: files}, nil
}

// Len returns the number of frames.
func (d *Directory) Len() int {
	return len(d.files)
}

// Read decodes the next frame, wrapping around after the last one.
func (d *Directory) Read(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	file := d.files[d.next]
	d.next = (d.next + 1) % len(d.files)
	d.mu.Unlock()

	data, err := os.ReadFile(file.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame %s: %w", file.Path, err)
	}
	img, _, err := images.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame %s: %w", file.Path, err)
	}
	return img, nil
}

// Close is a no-op.
func (d *Directory) Close() error {
	return nil
}
