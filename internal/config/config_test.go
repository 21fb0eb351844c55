package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `{
		"pdf": "lecture.pdf",
		"single_card": true,
		"batch_size": 3,
		"refine": true,
		"tags": ["medical", "cardio"],
		"store": "sqlite",
		"database_url": "progress.db",
		"styling": {"font-size": "24px"}
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "lecture.pdf", cfg.PDF)
	assert.True(t, cfg.SingleCard)
	assert.Equal(t, 3, cfg.BatchSize)
	assert.True(t, cfg.Refine)
	assert.Equal(t, []string{"medical", "cardio"}, cfg.Tags)
	assert.Equal(t, "sqlite", cfg.Store)
	assert.Equal(t, "24px", cfg.Styling["font-size"])
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig("")
	assert.Error(t, err)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "{not json"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	pdf := filepath.Join(dir, "lecture.pdf")
	require.NoError(t, os.WriteFile(pdf, []byte("%PDF-1.4"), 0o644))

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "empty config ok", cfg: Config{}},
		{name: "existing pdf ok", cfg: Config{PDF: pdf}},
		{name: "existing folder ok", cfg: Config{Folder: dir}},
		{
			name:    "pdf and folder exclusive",
			cfg:     Config{PDF: pdf, Folder: dir},
			wantErr: "mutually exclusive",
		},
		{
			name:    "negative batch size",
			cfg:     Config{BatchSize: -1},
			wantErr: "BatchSize",
		},
		{
			name:    "unknown store",
			cfg:     Config{Store: "redis"},
			wantErr: "Store",
		},
		{
			name:    "sqlite without url",
			cfg:     Config{Store: "sqlite"},
			wantErr: "database_url",
		},
		{
			name:    "missing pdf",
			cfg:     Config{PDF: filepath.Join(dir, "missing.pdf")},
			wantErr: "not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMergeWithDefaults(t *testing.T) {
	cfg := Config{PDF: "mine.pdf", BatchSize: 2}
	defaults := Config{
		PDF:       "default.pdf",
		Output:    "out",
		BatchSize: 5,
		RateLimit: 10,
		Model:     "gemini-2.5-flash",
		Tags:      []string{"medical"},
		Styling:   map[string]string{"color": "black"},
	}

	merged := cfg.MergeWithDefaults(defaults)

	assert.Equal(t, "mine.pdf", merged.PDF, "explicit value wins")
	assert.Equal(t, 2, merged.BatchSize)
	assert.Equal(t, "out", merged.Output)
	assert.Equal(t, 10, merged.RateLimit)
	assert.Equal(t, "gemini-2.5-flash", merged.Model)
	assert.Equal(t, []string{"medical"}, merged.Tags)
	assert.Equal(t, "black", merged.Styling["color"])
}
