package local

import (
	"context"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

// Ensure Normaliser implements the interface.
var _ driven.Normaliser = (*Normaliser)(nil)

// Normaliser strips formatting and extracts headings and declarations.
type Normaliser struct{}

// NewNormaliser creates a local normaliser.
func NewNormaliser() *Normaliser {
	return &Normaliser{}
}

// Normalise picks the format from the path extension. Unknown formats are
// passed through with whitespace tidied.
func (n *Normaliser) Normalise(ctx context.Context, req driven.NormaliseRequest) (*driven.NormaliseResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(req.Path)) {
	case ".md", ".markdown", ".mdx":
		return &driven.NormaliseResult{
			Entities:       markdownHeadings(req.Content),
			NormalizedText: stripMarkdown(req.Content),
		}, nil
	case ".html", ".htm", ".xhtml":
		var entities []driven.Entity
		if title := htmlTitle(req.Content); title != "" {
			entities = append(entities, driven.Entity{Name: title, Kind: "title"})
		}
		return &driven.NormaliseResult{
			Entities:       entities,
			NormalizedText: stripHTML(req.Content),
		}, nil
	}

	return &driven.NormaliseResult{
		Entities:       declarations(req.Content, req.Language),
		NormalizedText: tidy(req.Content),
	}, nil
}

var (
	trailingSpace = regexp.MustCompile(`(?m)[ \t]+$`)
	blankRuns     = regexp.MustCompile(`\n{3,}`)
)

// tidy normalises line endings and collapses runs of blank lines.
func tidy(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = trailingSpace.ReplaceAllString(s, "")
	s = blankRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// declarationPatterns match top-level declarations per language. The first
// group is the kind and the second the name.
var declarationPatterns = map[string]*regexp.Regexp{
	"go":         regexp.MustCompile(`(?m)^(func|type)\s+(?:\([^)]*\)\s*)?([A-Za-z_]\w*)`),
	"python":     regexp.MustCompile(`(?m)^[ \t]*(def|class)\s+([A-Za-z_]\w*)`),
	"ruby":       regexp.MustCompile(`(?m)^[ \t]*(def|class|module)\s+([A-Za-z_][\w.]*)`),
	"rust":       regexp.MustCompile(`(?m)^[ \t]*(?:pub(?:\([^)]*\))?\s+)?(fn|struct|enum|trait)\s+([A-Za-z_]\w*)`),
	"javascript": regexp.MustCompile(`(?m)^[ \t]*(?:export\s+)?(?:default\s+)?(?:async\s+)?(function|class)\s+([A-Za-z_$][\w$]*)`),
	"typescript": regexp.MustCompile(`(?m)^[ \t]*(?:export\s+)?(?:default\s+)?(?:async\s+)?(function|class|interface)\s+([A-Za-z_$][\w$]*)`),
	"java":       regexp.MustCompile(`(?m)^[ \t]*(?:public\s+|private\s+|protected\s+)?(?:abstract\s+|final\s+)?(class|interface|enum)\s+([A-Za-z_]\w*)`),
}

// declarations extracts named declarations with their line numbers.
func declarations(content, language string) []driven.Entity {
	re, ok := declarationPatterns[strings.ToLower(language)]
	if !ok {
		return nil
	}

	var entities []driven.Entity
	for _, m := range re.FindAllStringSubmatchIndex(content, -1) {
		line := strings.Count(content[:m[0]], "\n") + 1
		entities = append(entities, driven.Entity{
			Kind:      content[m[2]:m[3]],
			Name:      content[m[4]:m[5]],
			StartLine: line,
		})
	}
	return entities
}
