package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/mbecker/ankigen/internal/config"
	"github.com/mbecker/ankigen/internal/observability"
	"github.com/mbecker/ankigen/internal/progress"
)

var statusCommand = &cobra.Command{
	Use:   "status",
	Short: "Show stored progress for a lecture",
	Long: `Shows the per-slide progress records for the job a lecture and its generation options identify.

The options must match the generate invocation exactly; a different batch size, model, or cloze mode addresses a different job.`,
	RunE: runStatusCmd,
}

var (
	statusConfigPath  string
	statusPDF         string
	statusFolder      string
	statusProgressDir string
	statusSingleCard  bool
	statusBatchSize   int
	statusRefine      bool
	statusModel       string
	statusStore       string
	statusDatabaseURL string
)

func init() {
	statusCommand.Flags().StringVar(&statusConfigPath, "config", "", "Path to config.json file (values can be overridden by other flags)")
	statusCommand.Flags().StringVarP(&statusPDF, "pdf", "p", "", "Path to the lecture PDF")
	statusCommand.Flags().StringVarP(&statusFolder, "folder", "f", "", "Directory of lecture PDFs")
	statusCommand.Flags().StringVar(&statusProgressDir, "progress-dir", "", "Directory for file-based progress records")
	statusCommand.Flags().BoolVar(&statusSingleCard, "single-card", false, "Single-card cloze mode used at generation time")
	statusCommand.Flags().IntVar(&statusBatchSize, "batch-size", 0, "Batch size used at generation time")
	statusCommand.Flags().BoolVar(&statusRefine, "refine", false, "Whether the critique pass was configured")
	statusCommand.Flags().StringVar(&statusModel, "model", "", "Model used at generation time")
	statusCommand.Flags().StringVar(&statusStore, "store", "", "Progress store backend: file, sqlite, or postgres")
	statusCommand.Flags().StringVar(&statusDatabaseURL, "db-url", "", "Connection URL for the sqlite/postgres store")

	rootCmd.AddCommand(statusCommand)
}

func runStatusCmd(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	cfg, err := statusConfig(cmd)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg, observability.NewNopLogger())
	if err != nil {
		return fmt.Errorf("failed to open progress store: %w", err)
	}
	defer store.Close()

	sources, err := jobSources(cfg)
	if err != nil {
		return err
	}

	for _, source := range sources {
		jobID := progress.Identity(descriptorFor(cfg, source))
		records, err := store.Load(ctx, jobID)
		if err != nil {
			return fmt.Errorf("loading progress for %s: %w", source, err)
		}
		printJobStatus(source, jobID, records)
	}
	return nil
}

// statusConfig merges the config file with explicitly set flags, mirroring
// the generate command so both address the same job identity.
func statusConfig(cmd *cobra.Command) (config.Config, error) {
	var cfg config.Config
	if statusConfigPath != "" {
		loadedCfg, err := config.LoadConfig(statusConfigPath)
		if err != nil {
			return cfg, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = *loadedCfg
	}

	if cmd.Flags().Changed("pdf") {
		cfg.PDF = statusPDF
	}
	if cmd.Flags().Changed("folder") {
		cfg.Folder = statusFolder
	}
	if cmd.Flags().Changed("progress-dir") {
		cfg.ProgressDir = statusProgressDir
	}
	if cmd.Flags().Changed("single-card") {
		cfg.SingleCard = statusSingleCard
	}
	if cmd.Flags().Changed("batch-size") {
		cfg.BatchSize = statusBatchSize
	}
	if cmd.Flags().Changed("refine") {
		cfg.Refine = statusRefine
	}
	if cmd.Flags().Changed("model") {
		cfg.Model = statusModel
	}
	if cmd.Flags().Changed("store") {
		cfg.Store = statusStore
	}
	if cmd.Flags().Changed("db-url") {
		cfg.DatabaseURL = statusDatabaseURL
	}

	if cfg.Model == "" {
		cfg.Model = defaultModel()
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 1
	}
	return cfg, nil
}

func printJobStatus(source, jobID string, records map[progress.UnitKey]progress.Record) {
	fmt.Printf("%s (job %s)\n", source, jobID)
	if len(records) == 0 {
		fmt.Println("  no stored progress")
		return
	}

	keys := make([]progress.UnitKey, 0, len(records))
	for k := range records {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Stage != keys[j].Stage {
			return keys[i].Stage < keys[j].Stage
		}
		return keys[i].Unit < keys[j].Unit
	})

	counts := make(map[progress.Stage]map[progress.Status]int)
	for _, k := range keys {
		rec := records[k]
		if counts[k.Stage] == nil {
			counts[k.Stage] = make(map[progress.Status]int)
		}
		counts[k.Stage][rec.Status]++
		if rec.Status == progress.StatusFailed {
			fmt.Printf("  %-7s unit %-4d FAILED after %d attempts: %s\n",
				k.Stage, k.Unit, rec.Retries, rec.Failure)
		}
	}
	for stage, byStatus := range counts {
		fmt.Printf("  %-7s complete=%d pending=%d failed=%d\n", stage,
			byStatus[progress.StatusComplete],
			byStatus[progress.StatusPending],
			byStatus[progress.StatusFailed])
	}
}
