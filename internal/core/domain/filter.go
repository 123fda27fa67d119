package domain

import (
	"fmt"
	"path"
	"strings"
)

// FileFilter applies a source's include, exclude, language and size rules.
// Connectors filter while listing and the orchestrator re-checks before
// processing.
type FileFilter struct {
	include   []string
	exclude   []string
	languages map[string]bool
	maxSize   int64
}

// NewFileFilter builds a filter from a source configuration.
func NewFileFilter(cfg SourceConfig) *FileFilter {
	f := &FileFilter{
		include: cleanPatterns(cfg.IncludePaths),
		exclude: cleanPatterns(cfg.ExcludePaths),
		maxSize: cfg.EffectiveMaxFileSize(),
	}
	if len(cfg.Languages) > 0 {
		f.languages = make(map[string]bool, len(cfg.Languages))
		for _, l := range cfg.Languages {
			f.languages[strings.ToLower(strings.TrimSpace(l))] = true
		}
	}
	return f
}

// Check returns nil when the file should be indexed, ErrFilteredOut when a
// path rule rejects it and ErrTooLarge when it exceeds the size cap.
// A size of zero or less is treated as unknown.
func (f *FileFilter) Check(p string, size int64) error {
	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	if IsBinaryPath(p) {
		return fmt.Errorf("%w: %s is binary", ErrFilteredOut, p)
	}
	if len(f.include) > 0 && !matchAny(f.include, p) {
		return fmt.Errorf("%w: %s not included", ErrFilteredOut, p)
	}
	if matchAny(f.exclude, p) {
		return fmt.Errorf("%w: %s excluded", ErrFilteredOut, p)
	}
	if f.languages != nil && !f.languages[LanguageForPath(p)] {
		return fmt.Errorf("%w: %s language not selected", ErrFilteredOut, p)
	}
	if size > 0 && size > f.maxSize {
		return fmt.Errorf("%w: %s is %d bytes", ErrTooLarge, p, size)
	}
	return nil
}

// Allows reports whether Check passes.
func (f *FileFilter) Allows(p string, size int64) bool {
	return f.Check(p, size) == nil
}

// MaxSize returns the size cap in bytes.
func (f *FileFilter) MaxSize() int64 {
	return f.maxSize
}

func cleanPatterns(patterns []string) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, strings.TrimPrefix(p, "/"))
		}
	}
	return out
}

func matchAny(patterns []string, p string) bool {
	for _, pattern := range patterns {
		if MatchGlob(pattern, p) {
			return true
		}
	}
	return false
}

// MatchGlob matches a slash-separated path against a glob.
// Patterns without a slash match the base name at any depth. A trailing
// "/" or "/**" matches everything below a directory, and a "**/" prefix
// matches at any depth.
func MatchGlob(pattern, p string) bool {
	switch {
	case strings.HasSuffix(pattern, "/**"):
		dir := strings.TrimSuffix(pattern, "/**")
		return matchDir(dir, p)
	case strings.HasSuffix(pattern, "/"):
		return matchDir(strings.TrimSuffix(pattern, "/"), p)
	case strings.HasPrefix(pattern, "**/"):
		rest := strings.TrimPrefix(pattern, "**/")
		parts := strings.Split(p, "/")
		for i := range parts {
			if MatchGlob(rest, strings.Join(parts[i:], "/")) {
				return true
			}
		}
		return false
	case !strings.Contains(pattern, "/"):
		ok, _ := path.Match(pattern, path.Base(p))
		return ok
	default:
		ok, _ := path.Match(pattern, p)
		return ok
	}
}

// matchDir reports whether p lies below a directory matching dir.
func matchDir(dir, p string) bool {
	parts := strings.Split(p, "/")
	depth := strings.Count(dir, "/") + 1
	if len(parts) <= depth {
		return false
	}
	if strings.HasPrefix(dir, "**/") || !strings.Contains(dir, "/") {
		name := strings.TrimPrefix(dir, "**/")
		for _, part := range parts[:len(parts)-1] {
			if ok, _ := path.Match(name, part); ok {
				return true
			}
		}
		return false
	}
	ok, _ := path.Match(dir, strings.Join(parts[:depth], "/"))
	return ok
}
