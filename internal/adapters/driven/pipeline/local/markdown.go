package local

import (
	"regexp"
	"strings"

	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

var (
	mdFence      = regexp.MustCompile("(?s)```[^\n]*\n(.*?)```")
	mdInlineCode = regexp.MustCompile("`([^`]+)`")
	mdImage      = regexp.MustCompile(`!\[([^\]]*)\]\([^)]+\)`)
	mdLink       = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	mdHeading    = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	mdEmphasis   = regexp.MustCompile(`(\*\*|__|\*|_)([^*_\n]+)(\*\*|__|\*|_)`)
	mdQuote      = regexp.MustCompile(`(?m)^>\s?`)
	mdRule       = regexp.MustCompile(`(?m)^[-*_]{3,}\s*$`)
	mdBullet     = regexp.MustCompile(`(?m)^(\s*)[-*+]\s+`)
	mdNumbered   = regexp.MustCompile(`(?m)^(\s*)\d+\.\s+`)
	mdHeadingRow = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*#*\s*$`)
)

// stripMarkdown removes Markdown syntax. Code in fences and inline spans is
// kept as text since it is often the part worth indexing.
func stripMarkdown(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = mdFence.ReplaceAllString(content, "$1")
	content = mdInlineCode.ReplaceAllString(content, "$1")
	content = mdImage.ReplaceAllString(content, "$1")
	content = mdLink.ReplaceAllString(content, "$1")
	content = mdHeading.ReplaceAllString(content, "")
	content = mdEmphasis.ReplaceAllString(content, "$2")
	content = mdQuote.ReplaceAllString(content, "")
	content = mdRule.ReplaceAllString(content, "")
	content = mdBullet.ReplaceAllString(content, "$1")
	content = mdNumbered.ReplaceAllString(content, "$1")
	return tidy(content)
}

// markdownHeadings lists ATX headings outside code fences.
func markdownHeadings(content string) []driven.Entity {
	var entities []driven.Entity
	inFence := false
	for i, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if m := mdHeadingRow.FindStringSubmatch(trimmed); m != nil {
			entities = append(entities, driven.Entity{
				Name:      m[2],
				Kind:      "h" + string(rune('0'+len(m[1]))),
				StartLine: i + 1,
			})
		}
	}
	return entities
}
