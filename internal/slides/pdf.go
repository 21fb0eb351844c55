package slides

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
)

// PDFSource rasterizes a lecture PDF into one slide image per page using
// MuPDF.
type PDFSource struct {
	path string
	name string
}

// NewPDFSource validates the path and derives the lecture name from the
// file stem.
func NewPDFSource(path string) (*PDFSource, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read PDF %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory, not a PDF", path)
	}

	base := filepath.Base(path)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return &PDFSource{path: path, name: name}, nil
}

// Name returns the lecture name derived from the PDF filename.
func (s *PDFSource) Name() string { return s.name }

// Slides converts every page to a downscaled PNG, in page order.
func (s *PDFSource) Slides(ctx context.Context) ([]Slide, error) {
	doc, err := fitz.New(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF %s: %w", s.path, err)
	}
	defer doc.Close()

	pageCount := doc.NumPage()
	if pageCount == 0 {
		return nil, fmt.Errorf("PDF %s has no pages", s.path)
	}

	out := make([]Slide, 0, pageCount)
	for pageNum := 0; pageNum < pageCount; pageNum++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		img, err := doc.Image(pageNum)
		if err != nil {
			return nil, fmt.Errorf("failed to rasterize page %d of %s: %w", pageNum+1, s.path, err)
		}

		data, err := encodePNG(img)
		if err != nil {
			return nil, err
		}

		out = append(out, Slide{
			Index:    pageNum + 1,
			PNG:      data,
			Filename: slideFilename(s.name, pageNum+1),
		})
	}

	return out, nil
}

// FindPDFs lists the PDF files directly inside dir, sorted by name.
func FindPDFs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot read folder %s: %w", dir, err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), ".pdf") {
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	return paths, nil
}
