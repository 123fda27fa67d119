package local

import (
	"html"
	"regexp"
	"strings"
)

var (
	htmlTitleTag   = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	htmlDropBlocks = []*regexp.Regexp{
		regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`),
		regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`),
		regexp.MustCompile(`(?is)<noscript[^>]*>.*?</noscript>`),
		regexp.MustCompile(`(?is)<head[^>]*>.*?</head>`),
		regexp.MustCompile(`(?is)<svg[^>]*>.*?</svg>`),
		regexp.MustCompile(`(?s)<!--.*?-->`),
	}
	htmlBlockOpen  = regexp.MustCompile(`(?i)<(p|div|h[1-6]|li|tr|blockquote|pre|table|section|article)[^>]*>`)
	htmlBlockClose = regexp.MustCompile(`(?i)</(p|div|h[1-6]|li|tr|blockquote|pre|table|section|article)>`)
	htmlBreak      = regexp.MustCompile(`(?i)<(br|hr)\s*/?>`)
	htmlTag        = regexp.MustCompile(`<[^>]+>`)
	htmlSpaces     = regexp.MustCompile(`[ \t]+`)
)

// htmlTitle returns the decoded <title>, or "".
func htmlTitle(content string) string {
	m := htmlTitleTag.FindStringSubmatch(content)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(m[1]))
}

// stripHTML extracts readable text, one block element per line.
func stripHTML(content string) string {
	for _, re := range htmlDropBlocks {
		content = re.ReplaceAllString(content, "")
	}
	content = htmlBlockOpen.ReplaceAllString(content, "\n")
	content = htmlBlockClose.ReplaceAllString(content, "\n")
	content = htmlBreak.ReplaceAllString(content, "\n")
	content = htmlTag.ReplaceAllString(content, "")
	content = html.UnescapeString(content)
	content = htmlSpaces.ReplaceAllString(content, " ")

	lines := strings.Split(content, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
