package progress

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// identityNamespace seeds the v5 UUID derivation. Fixed so that the same
// job descriptor always yields the same identity across machines.
var identityNamespace = uuid.MustParse("7c9a1f6e-42d3-5b8a-9c01-e3f8a2d64b17")

// JobDescriptor captures everything that distinguishes one logical job.
// Two runs with equal descriptors share progress.
type JobDescriptor struct {
	Sources    []string // slide source identifiers (e.g. PDF paths)
	SingleCard bool     // single-card vs multi-card cloze mode
	BatchSize  int      // 1 when batching is off
	Refine     bool     // whether the critique pass is configured
	Model      string   // provider model parameter
}

// Identity derives the stable job identity for the descriptor.
func Identity(d JobDescriptor) string {
	sources := append([]string(nil), d.Sources...)
	sort.Strings(sources)

	batch := d.BatchSize
	if batch < 1 {
		batch = 1
	}

	canonical := fmt.Sprintf("sources=%s|single=%t|batch=%d|refine=%t|model=%s",
		strings.Join(sources, ","), d.SingleCard, batch, d.Refine, d.Model)

	return uuid.NewSHA1(identityNamespace, []byte(canonical)).String()
}
