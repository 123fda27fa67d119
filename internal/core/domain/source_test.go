package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProviderType(t *testing.T) {
	tests := []struct {
		in   string
		want ProviderType
	}{
		{"github", ProviderGitHub},
		{"GitLab", ProviderGitLab},
		{"google-drive", ProviderGDrive},
		{"filesystem", ProviderLocal},
		{" dropbox ", ProviderDropbox},
		{"onedrive", ProviderOneDrive},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseProviderType(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseProviderType("svn")
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to SourceStatus
		want     bool
	}{
		{SourceStatusPending, SourceStatusSyncing, true},
		{SourceStatusSyncing, SourceStatusSynced, true},
		{SourceStatusSyncing, SourceStatusError, true},
		{SourceStatusSynced, SourceStatusSyncing, true},
		{SourceStatusError, SourceStatusSyncing, true},
		{SourceStatusPending, SourceStatusSynced, false},
		{SourceStatusSynced, SourceStatusError, false},
		{SourceStatusSyncing, SourceStatusSyncing, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestSource_SettingAndDeleted(t *testing.T) {
	src := Source{
		ID:     "src-1",
		Config: SourceConfig{Settings: map[string]string{"repository": "acme/api"}},
	}

	assert.Equal(t, "acme/api", src.Setting("repository", ""))
	assert.Equal(t, "main", src.Setting("branch", "main"))
	assert.False(t, src.IsDeleted())

	now := time.Now()
	src.DeletedAt = &now
	assert.True(t, src.IsDeleted())
}

func TestSourceConfig_EffectiveMaxFileSize(t *testing.T) {
	assert.Equal(t, DefaultMaxFileSize, SourceConfig{}.EffectiveMaxFileSize())
	assert.Equal(t, int64(1024), SourceConfig{MaxFileSizeBytes: 1024}.EffectiveMaxFileSize())
}
