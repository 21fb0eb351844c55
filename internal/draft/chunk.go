// Package draft produces the first-pass card set directly from slide
// content, honoring the progress store's resume semantics.
package draft

import (
	"fmt"

	"github.com/mbecker/ankigen/internal/slides"
)

// Chunk is one unit of work: a single slide, or a batch of consecutive
// slides when batch mode is active. The first slide's index keys the
// chunk's progress record.
type Chunk struct {
	Start  int // first slide index (1-based)
	End    int // last slide index
	Slides []slides.Slide
}

// Label renders the chunk's slide range for prompts and logs.
func (c Chunk) Label() string {
	if c.Start == c.End {
		return fmt.Sprintf("%d", c.Start)
	}
	return fmt.Sprintf("%d-%d", c.Start, c.End)
}

// Images returns the chunk's encoded slide images in order.
func (c Chunk) Images() [][]byte {
	out := make([][]byte, len(c.Slides))
	for i, s := range c.Slides {
		out[i] = s.PNG
	}
	return out
}

// Partition splits the slide sequence into chunks of at most batchSize
// slides. A batchSize below 2 yields one chunk per slide.
func Partition(all []slides.Slide, batchSize int) []Chunk {
	if batchSize < 1 {
		batchSize = 1
	}

	var chunks []Chunk
	for start := 0; start < len(all); start += batchSize {
		end := start + batchSize
		if end > len(all) {
			end = len(all)
		}
		group := all[start:end]
		chunks = append(chunks, Chunk{
			Start:  group[0].Index,
			End:    group[len(group)-1].Index,
			Slides: group,
		})
	}
	return chunks
}
