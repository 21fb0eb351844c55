// Package config provides configuration loading and validation for the CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
)

// Config represents the CLI configuration that can be loaded from a JSON file.
// All fields are optional; missing values use defaults or must be provided via CLI flags.
type Config struct {
	// Input
	PDF    string `json:"pdf,omitempty"`    // Path to a single lecture PDF
	Folder string `json:"folder,omitempty"` // Directory of lecture PDFs, one job per file

	// Output
	Output      string `json:"output,omitempty"`       // Bundle output directory
	ProgressDir string `json:"progress_dir,omitempty"` // Directory for file-based progress records

	// Generation
	SingleCard  bool     `json:"single_card,omitempty"` // Collapse all cloze markers into c1
	BatchSize   int      `json:"batch_size,omitempty" validate:"gte=0"`
	Refine      bool     `json:"refine,omitempty"` // Run the critique pass after drafting
	Concurrency int      `json:"concurrency,omitempty" validate:"gte=0"`
	Tags        []string `json:"tags,omitempty"`

	// Provider
	APIKey      string `json:"api_key,omitempty"`      // Gemini API key
	Model       string `json:"model,omitempty"`        // Model for the draft pass
	RefineModel string `json:"refine_model,omitempty"` // Model for the critique pass
	RateLimit   int    `json:"rate_limit,omitempty" validate:"gte=0"` // Requests per minute, 0 disables throttling

	// Progress store
	Store       string `json:"store,omitempty" validate:"omitempty,oneof=file sqlite postgres"`
	DatabaseURL string `json:"database_url,omitempty"` // Connection URL for sqlite/postgres stores

	// Presentation
	Styling map[string]string `json:"styling,omitempty"` // Card stylesheet key-values
	Verbose bool              `json:"verbose,omitempty"`
}

// LoadConfig loads configuration from a JSON file.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// Validate checks that the configuration has valid values.
// Note: This doesn't check for required fields since those are handled
// by CLI flag validation after merging.
func (c *Config) Validate() error {
	if c.PDF != "" && c.Folder != "" {
		return fmt.Errorf("config error: 'pdf' and 'folder' are mutually exclusive")
	}

	if err := validator.New().Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			return fmt.Errorf("config error: field '%s' failed '%s' validation", verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("config error: %w", err)
	}

	if (c.Store == "sqlite" || c.Store == "postgres") && c.DatabaseURL == "" {
		return fmt.Errorf("config error: 'database_url' is required for the %s store", c.Store)
	}

	if c.PDF != "" {
		if _, err := os.Stat(c.PDF); os.IsNotExist(err) {
			return fmt.Errorf("config error: pdf file not found: %s", c.PDF)
		}
	}
	if c.Folder != "" {
		if _, err := os.Stat(c.Folder); os.IsNotExist(err) {
			return fmt.Errorf("config error: folder not found: %s", c.Folder)
		}
	}

	return nil
}

// MergeWithDefaults returns a new Config with empty fields filled from defaults.
// This is used to apply config file values as defaults for CLI flags.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	// String fields: use default if empty
	if result.PDF == "" {
		result.PDF = defaults.PDF
	}
	if result.Folder == "" {
		result.Folder = defaults.Folder
	}
	if result.Output == "" {
		result.Output = defaults.Output
	}
	if result.ProgressDir == "" {
		result.ProgressDir = defaults.ProgressDir
	}
	if result.APIKey == "" {
		result.APIKey = defaults.APIKey
	}
	if result.Model == "" {
		result.Model = defaults.Model
	}
	if result.RefineModel == "" {
		result.RefineModel = defaults.RefineModel
	}
	if result.Store == "" {
		result.Store = defaults.Store
	}
	if result.DatabaseURL == "" {
		result.DatabaseURL = defaults.DatabaseURL
	}

	// Int fields: use default if zero
	if result.BatchSize == 0 {
		result.BatchSize = defaults.BatchSize
	}
	if result.Concurrency == 0 {
		result.Concurrency = defaults.Concurrency
	}
	if result.RateLimit == 0 {
		result.RateLimit = defaults.RateLimit
	}

	// Collection fields: use default if unset
	if len(result.Tags) == 0 {
		result.Tags = defaults.Tags
	}
	if len(result.Styling) == 0 {
		result.Styling = defaults.Styling
	}

	// Bool fields: cannot distinguish unset from false, so we don't merge
	// (CLI flags should always win for bools)

	return result
}
