package slides

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // register decoders for pre-rendered slide folders
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DirSource reads pre-rendered slide images from a directory, ordered by
// filename. Useful when slides were exported by another tool.
type DirSource struct {
	dir  string
	name string
}

// NewDirSource validates the directory and derives the lecture name from
// its base name.
func NewDirSource(dir string) (*DirSource, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot read slide folder %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}
	return &DirSource{dir: dir, name: filepath.Base(filepath.Clean(dir))}, nil
}

// Name returns the lecture name derived from the directory name.
func (s *DirSource) Name() string { return s.name }

// Slides loads every .png/.jpg/.jpeg file in filename order and re-encodes
// it as a downscaled PNG.
func (s *DirSource) Slides(ctx context.Context) ([]Slide, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("cannot read slide folder %s: %w", s.dir, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".png", ".jpg", ".jpeg":
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	if len(names) == 0 {
		return nil, fmt.Errorf("slide folder %s contains no images", s.dir)
	}

	out := make([]Slide, 0, len(names))
	for i, name := range names {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		f, err := os.Open(filepath.Join(s.dir, name))
		if err != nil {
			return nil, fmt.Errorf("cannot open slide %s: %w", name, err)
		}
		img, _, err := image.Decode(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("cannot decode slide %s: %w", name, err)
		}

		data, err := encodePNG(img)
		if err != nil {
			return nil, err
		}

		out = append(out, Slide{
			Index:    i + 1,
			PNG:      data,
			Filename: slideFilename(s.name, i+1),
		})
	}

	return out, nil
}
