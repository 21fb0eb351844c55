package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mbecker/ankigen/internal/config"
	"github.com/mbecker/ankigen/internal/llm"
	"github.com/mbecker/ankigen/internal/observability"
	"github.com/mbecker/ankigen/internal/progress"
	"github.com/mbecker/ankigen/internal/slides"
)

// defaultProgressDir is where the file store keeps its records when no
// directory is configured.
func defaultProgressDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ankigen/progress"
	}
	return filepath.Join(home, ".ankigen", "progress")
}

// openStore builds the progress store the config selects. The file store is
// the default; sqlite and postgres need a database_url.
func openStore(ctx context.Context, cfg config.Config, log *observability.Logger) (progress.Store, error) {
	switch cfg.Store {
	case "", "file":
		dir := cfg.ProgressDir
		if dir == "" {
			dir = defaultProgressDir()
		}
		return progress.NewFileStore(dir, log)
	case "sqlite":
		return progress.NewSQLiteStore(cfg.DatabaseURL)
	case "postgres":
		return progress.NewPostgresStore(ctx, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown store %q (expected file, sqlite, or postgres)", cfg.Store)
	}
}

// jobSources lists the slide source identifiers the config addresses, one
// identity per source.
func jobSources(cfg config.Config) ([]string, error) {
	if cfg.PDF != "" {
		return []string{sourceName(cfg.PDF)}, nil
	}
	if cfg.Folder != "" {
		paths, err := slides.FindPDFs(cfg.Folder)
		if err != nil {
			return nil, err
		}
		names := make([]string, len(paths))
		for i, p := range paths {
			names[i] = sourceName(p)
		}
		return names, nil
	}
	return nil, fmt.Errorf("either --pdf or --folder must be provided (via flag or config)")
}

// sourceName mirrors how slide sources name themselves: the file stem.
func sourceName(path string) string {
	base := filepath.Base(path)
	return base[:len(base)-len(filepath.Ext(base))]
}

// descriptorFor builds the identity descriptor for one source under the
// given config.
func descriptorFor(cfg config.Config, source string) progress.JobDescriptor {
	return progress.JobDescriptor{
		Sources:    []string{source},
		SingleCard: cfg.SingleCard,
		BatchSize:  cfg.BatchSize,
		Refine:     cfg.Refine,
		Model:      cfg.Model,
	}
}

// defaultModel is the draft-pass model used when none is configured. It
// participates in the job identity, so status and reset fall back to the
// same value generate does.
func defaultModel() string {
	return llm.DefaultConfig().GetModel(llm.TierStandard)
}

// newLogger builds the CLI logger; verbose runs use the development
// encoder at debug level, everything else logs JSON.
func newLogger(verbose bool) (*observability.Logger, error) {
	if verbose {
		return observability.NewLogger("dev")
	}
	return observability.NewLogger("prod")
}
