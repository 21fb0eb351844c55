// Package slides produces the ordered slide images a generation job
// consumes. Sources are finite and deterministic: the same input documents
// always yield the same sequence.
package slides

import (
	"context"
	"fmt"
)

// Slide is one rasterized page of the input document.
type Slide struct {
	Index    int    // 1-based page number
	PNG      []byte // encoded image, already downscaled for upload
	Filename string // stable media filename, e.g. slide_cardiology_003.png
}

// Source yields the ordered slide sequence for one input document.
type Source interface {
	// Name is the lecture name derived from the input (used for tags,
	// filenames, and the deck title).
	Name() string
	// Slides rasterizes the document. Called once per job.
	Slides(ctx context.Context) ([]Slide, error)
}

// slideFilename builds the stable media filename for a page.
func slideFilename(lecture string, page int) string {
	return fmt.Sprintf("slide_%s_%03d.png", lecture, page)
}
