// Package deck turns a finished card set into an importable bundle on disk:
// the card JSON, the slide images the cards reference, a card stylesheet,
// and a plain-text reference file for eyeballing the deck.
package deck

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mbecker/ankigen/internal/slides"
	"github.com/mbecker/ankigen/internal/types"
)

// DefaultStyling mirrors the cloze note styling the exported cards are
// written for.
var DefaultStyling = map[string]string{
	"font-family": "Arial",
	"font-size":   "20px",
	"text-align":  "center",
	"color":       "black",
	"background":  "white",
}

// Bundle is one packaging request: a named card set plus the slide images
// its cards may reference.
type Bundle struct {
	Set     *types.CardSet
	Media   []slides.Slide
	Styling map[string]string // nil uses DefaultStyling
}

// Packager writes a bundle somewhere durable and returns its location.
type Packager interface {
	Package(bundle Bundle, outDir string) (string, error)
}

// DirPackager writes bundles as plain directories, one per set.
type DirPackager struct{}

// NewDirPackager returns the directory-based packager.
func NewDirPackager() *DirPackager {
	return &DirPackager{}
}

// Package writes outDir/<set-name>/ containing cards.json, card.css, a
// media/ directory with every referenced slide image, and reference.txt.
// Returns the bundle directory path.
func (p *DirPackager) Package(bundle Bundle, outDir string) (string, error) {
	set := bundle.Set
	if set == nil || len(set.Cards) == 0 {
		name := ""
		if set != nil {
			name = set.Name
		}
		return "", &EmptySetError{Name: name}
	}

	dir := filepath.Join(outDir, sanitizeName(set.Name))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &WriteError{Path: dir, Cause: err}
	}

	cardsPath := filepath.Join(dir, "cards.json")
	encoded, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return "", &WriteError{Path: cardsPath, Cause: err}
	}
	if err := os.WriteFile(cardsPath, encoded, 0o644); err != nil {
		return "", &WriteError{Path: cardsPath, Cause: err}
	}

	cssPath := filepath.Join(dir, "card.css")
	if err := os.WriteFile(cssPath, []byte(renderStylesheet(bundle.Styling)), 0o644); err != nil {
		return "", &WriteError{Path: cssPath, Cause: err}
	}

	if err := writeMedia(dir, set, bundle.Media); err != nil {
		return "", err
	}

	refPath := filepath.Join(dir, "reference.txt")
	if err := os.WriteFile(refPath, []byte(renderReference(set)), 0o644); err != nil {
		return "", &WriteError{Path: refPath, Cause: err}
	}

	return dir, nil
}

// writeMedia copies each slide image at least one card references into
// media/. Unreferenced slides are skipped.
func writeMedia(dir string, set *types.CardSet, media []slides.Slide) error {
	referenced := make(map[string]bool)
	for _, c := range set.Cards {
		if c.Image != "" {
			referenced[c.Image] = true
		}
	}
	if len(referenced) == 0 {
		return nil
	}

	mediaDir := filepath.Join(dir, "media")
	if err := os.MkdirAll(mediaDir, 0o755); err != nil {
		return &WriteError{Path: mediaDir, Cause: err}
	}

	for _, s := range media {
		if !referenced[s.Filename] {
			continue
		}
		path := filepath.Join(mediaDir, s.Filename)
		if err := os.WriteFile(path, s.PNG, 0o644); err != nil {
			return &WriteError{Path: path, Cause: err}
		}
	}
	return nil
}

// renderStylesheet emits the `.card` rule from the styling key-values in
// deterministic key order.
func renderStylesheet(styling map[string]string) string {
	if len(styling) == 0 {
		styling = DefaultStyling
	}
	keys := make([]string, 0, len(styling))
	for k := range styling {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(".card {\n")
	for _, k := range keys {
		fmt.Fprintf(&sb, "  %s: %s;\n", k, styling[k])
	}
	sb.WriteString("}\n")
	return sb.String()
}

// renderReference writes the human-readable listing of every card.
func renderReference(set *types.CardSet) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Deck: %s\n", set.Name)
	fmt.Fprintf(&sb, "Cards: %d\n", len(set.Cards))
	sb.WriteString(strings.Repeat("=", 60) + "\n")

	for _, c := range set.Cards {
		fmt.Fprintf(&sb, "\n[%s] slide %d (%s)\n", c.ID, c.Unit, c.Lineage)
		sb.WriteString(c.Text + "\n")
		if c.Context != "" {
			fmt.Fprintf(&sb, "Context: %s\n", c.Context)
		}
		for _, f := range c.Facts {
			fmt.Fprintf(&sb, "  - %s\n", f)
		}
		if len(c.Tags) > 0 {
			fmt.Fprintf(&sb, "Tags: %s\n", strings.Join(c.Tags, " "))
		}
		if c.Image != "" {
			fmt.Fprintf(&sb, "Image: %s\n", c.Image)
		}
	}
	return sb.String()
}

// sanitizeName maps a set name to a safe directory name.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "deck"
	}
	var sb strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	return sb.String()
}
