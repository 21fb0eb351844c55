package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mbecker/ankigen/internal/config"
	"github.com/mbecker/ankigen/internal/observability"
	"github.com/mbecker/ankigen/internal/progress"
)

var resetCommand = &cobra.Command{
	Use:   "reset",
	Short: "Discard stored progress for a lecture",
	Long: `Deletes every progress record, both draft and critique, for the job a lecture and its generation options identify. The next generate run starts from scratch.

The options must match the generate invocation exactly; a different batch size, model, or cloze mode addresses a different job.`,
	RunE: runResetCmd,
}

var (
	resetConfigPath  string
	resetPDF         string
	resetFolder      string
	resetProgressDir string
	resetSingleCard  bool
	resetBatchSize   int
	resetRefine      bool
	resetModel       string
	resetStore       string
	resetDatabaseURL string
)

func init() {
	resetCommand.Flags().StringVar(&resetConfigPath, "config", "", "Path to config.json file (values can be overridden by other flags)")
	resetCommand.Flags().StringVarP(&resetPDF, "pdf", "p", "", "Path to the lecture PDF")
	resetCommand.Flags().StringVarP(&resetFolder, "folder", "f", "", "Directory of lecture PDFs")
	resetCommand.Flags().StringVar(&resetProgressDir, "progress-dir", "", "Directory for file-based progress records")
	resetCommand.Flags().BoolVar(&resetSingleCard, "single-card", false, "Single-card cloze mode used at generation time")
	resetCommand.Flags().IntVar(&resetBatchSize, "batch-size", 0, "Batch size used at generation time")
	resetCommand.Flags().BoolVar(&resetRefine, "refine", false, "Whether the critique pass was configured")
	resetCommand.Flags().StringVar(&resetModel, "model", "", "Model used at generation time")
	resetCommand.Flags().StringVar(&resetStore, "store", "", "Progress store backend: file, sqlite, or postgres")
	resetCommand.Flags().StringVar(&resetDatabaseURL, "db-url", "", "Connection URL for the sqlite/postgres store")

	rootCmd.AddCommand(resetCommand)
}

func runResetCmd(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	var cfg config.Config
	if resetConfigPath != "" {
		loadedCfg, err := config.LoadConfig(resetConfigPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = *loadedCfg
	}

	if cmd.Flags().Changed("pdf") {
		cfg.PDF = resetPDF
	}
	if cmd.Flags().Changed("folder") {
		cfg.Folder = resetFolder
	}
	if cmd.Flags().Changed("progress-dir") {
		cfg.ProgressDir = resetProgressDir
	}
	if cmd.Flags().Changed("single-card") {
		cfg.SingleCard = resetSingleCard
	}
	if cmd.Flags().Changed("batch-size") {
		cfg.BatchSize = resetBatchSize
	}
	if cmd.Flags().Changed("refine") {
		cfg.Refine = resetRefine
	}
	if cmd.Flags().Changed("model") {
		cfg.Model = resetModel
	}
	if cmd.Flags().Changed("store") {
		cfg.Store = resetStore
	}
	if cmd.Flags().Changed("db-url") {
		cfg.DatabaseURL = resetDatabaseURL
	}

	if cfg.Model == "" {
		cfg.Model = defaultModel()
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 1
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
		if err := store.Clear(ctx, jobID); err != nil {
			return fmt.Errorf("clearing progress for %s: %w", source, err)
		}
		fmt.Printf("Cleared progress for %s (job %s)\n", source, jobID)
	}
	return nil
}
