package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFileFilter_ExcludeMarkdown(t *testing.T) {
	f := NewFileFilter(SourceConfig{ExcludePaths: []string{"*.md"}})

	var kept []string
	for _, p := range []string{"a.py", "b.py", "c.md"} {
		if f.Allows(p, 10) {
			kept = append(kept, p)
		}
	}
	assert.Equal(t, []string{"a.py", "b.py"}, kept)
}

func TestFileFilter_Check(t *testing.T) {
	tests := []struct {
		name string
		cfg  SourceConfig
		path string
		size int64
		want error
	}{
		{"plain file", SourceConfig{}, "src/main.go", 100, nil},
		{"binary", SourceConfig{}, "assets/logo.png", 100, ErrFilteredOut},
		{"include miss", SourceConfig{IncludePaths: []string{"src/**"}}, "docs/a.go", 1, ErrFilteredOut},
		{"include hit", SourceConfig{IncludePaths: []string{"src/**"}}, "src/pkg/a.go", 1, nil},
		{"exclude dir", SourceConfig{ExcludePaths: []string{"vendor/"}}, "vendor/x/y.go", 1, ErrFilteredOut},
		{"exclude nested dir", SourceConfig{ExcludePaths: []string{"node_modules"}}, "web/node_modules/a.js", 1, nil},
		{"exclude any depth", SourceConfig{ExcludePaths: []string{"**/testdata/**"}}, "a/testdata/b.txt", 1, ErrFilteredOut},
		{"language miss", SourceConfig{Languages: []string{"go"}}, "a.py", 1, ErrFilteredOut},
		{"language hit", SourceConfig{Languages: []string{"Go"}}, "a.go", 1, nil},
		{"too large", SourceConfig{MaxFileSizeBytes: 10}, "a.go", 11, ErrTooLarge},
		{"unknown size", SourceConfig{MaxFileSizeBytes: 10}, "a.go", 0, nil},
		{"leading slash", SourceConfig{ExcludePaths: []string{"/docs/*.md"}}, "/docs/x.md", 1, ErrFilteredOut},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewFileFilter(tt.cfg).Check(tt.path, tt.size)
			if tt.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestMatchGlob(t *testing.T) {
	assert.True(t, MatchGlob("*.go", "a/b/c.go"))
	assert.True(t, MatchGlob("cmd/*/main.go", "cmd/app/main.go"))
	assert.False(t, MatchGlob("cmd/*/main.go", "cmd/app/x/main.go"))
	assert.True(t, MatchGlob("**/*.md", "docs/a/b.md"))
	assert.True(t, MatchGlob("build/", "build/out.js"))
	assert.False(t, MatchGlob("build/", "build"))
}
