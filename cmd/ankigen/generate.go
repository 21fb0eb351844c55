package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mbecker/ankigen/internal/config"
	"github.com/mbecker/ankigen/internal/deck"
	"github.com/mbecker/ankigen/internal/gateway"
	"github.com/mbecker/ankigen/internal/llm"
	"github.com/mbecker/ankigen/internal/pipeline"
	"github.com/mbecker/ankigen/internal/slides"
)

var generateCommand = &cobra.Command{
	Use:   "generate",
	Short: "Generate a flashcard deck from a lecture PDF or a folder of PDFs",
	Long: `Renders each slide to an image, asks the vision model for cloze cards, and writes an importable bundle per lecture.

Interrupted runs resume automatically: slides that already produced cards are not sent again. Use --no-resume to start over.

Configuration can be loaded from a JSON file using --config. Command-line arguments override config file values.`,
	RunE: runGenerateCmd,
}

var (
	genConfigPath  string
	genPDF         string
	genFolder      string
	genOutput      string
	genProgressDir string
	genSingleCard  bool
	genBatchSize   int
	genRefine      bool
	genNoResume    bool
	genConcurrency int
	genRateLimit   int
	genTags        []string
	genModel       string
	genRefineModel string
	genStore       string
	genDatabaseURL string
	genAPIKey      string
	genConfirm     bool
	genVerbose     bool
)

func init() {
	// Config file flag (processed first)
	generateCommand.Flags().StringVar(&genConfigPath, "config", "", "Path to config.json file (values can be overridden by other flags)")

	generateCommand.Flags().StringVarP(&genPDF, "pdf", "p", "", "Path to a lecture PDF (mutually exclusive with --folder)")
	generateCommand.Flags().StringVarP(&genFolder, "folder", "f", "", "Directory of lecture PDFs, one deck per file (mutually exclusive with --pdf)")
	generateCommand.Flags().StringVarP(&genOutput, "output", "o", "", "Bundle output directory")
	generateCommand.Flags().StringVar(&genProgressDir, "progress-dir", "", "Directory for file-based progress records")
	generateCommand.Flags().BoolVar(&genSingleCard, "single-card", false, "Collapse all cloze markers into c1 (one card, all blanks at once)")
	generateCommand.Flags().IntVar(&genBatchSize, "batch-size", 0, "Slides per model call (default 1)")
	generateCommand.Flags().BoolVar(&genRefine, "refine", false, "Run the critique pass over the drafted cards")
	generateCommand.Flags().BoolVar(&genNoResume, "no-resume", false, "Discard stored progress and start over")
	generateCommand.Flags().IntVar(&genConcurrency, "concurrency", 0, "Concurrent model calls (default 1)")
	generateCommand.Flags().IntVar(&genRateLimit, "rate-limit", 0, "Maximum model calls per minute (0 disables throttling)")
	generateCommand.Flags().StringSliceVar(&genTags, "tags", nil, "Extra tags applied to every card")
	generateCommand.Flags().StringVar(&genModel, "model", "", "Model for the draft pass")
	generateCommand.Flags().StringVar(&genRefineModel, "refine-model", "", "Model for the critique pass")
	generateCommand.Flags().StringVar(&genStore, "store", "", "Progress store backend: file, sqlite, or postgres")
	generateCommand.Flags().StringVar(&genDatabaseURL, "db-url", "", "Connection URL for the sqlite/postgres store (optional, defaults to DATABASE_URL env var)")
	generateCommand.Flags().BoolVar(&genConfirm, "confirm", false, "Ask before every model call")
	generateCommand.Flags().BoolVarP(&genVerbose, "verbose", "v", false, "Print detailed debug information")

	// API key can be passed as a flag, or read from env var GEMINI_API_KEY
	generateCommand.Flags().StringVar(&genAPIKey, "api-key", "", "Gemini API Key (optional, defaults to GEMINI_API_KEY env var)")

	rootCmd.AddCommand(generateCommand)
}

func runGenerateCmd(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	// Step 1: Load config file if provided
	var cfg config.Config
	if genConfigPath != "" {
		loadedCfg, err := config.LoadConfig(genConfigPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := loadedCfg.Validate(); err != nil {
			return err
		}
		cfg = *loadedCfg
		if genVerbose {
			_, _ = fmt.Fprintf(os.Stdout, "Loaded config from: %s\n", genConfigPath)
		}
	}

	// Step 2: Apply CLI overrides (command-line args take priority)
	// Only override if the flag was explicitly set
	if cmd.Flags().Changed("pdf") {
		cfg.PDF = genPDF
	}
	if cmd.Flags().Changed("folder") {
		cfg.Folder = genFolder
	}
	if cmd.Flags().Changed("output") {
		cfg.Output = genOutput
	}
	if cmd.Flags().Changed("progress-dir") {
		cfg.ProgressDir = genProgressDir
	}
	if cmd.Flags().Changed("single-card") {
		cfg.SingleCard = genSingleCard
	}
	if cmd.Flags().Changed("batch-size") {
		cfg.BatchSize = genBatchSize
	}
	if cmd.Flags().Changed("refine") {
		cfg.Refine = genRefine
	}
	if cmd.Flags().Changed("concurrency") {
		cfg.Concurrency = genConcurrency
	}
	if cmd.Flags().Changed("rate-limit") {
		cfg.RateLimit = genRateLimit
	}
	if cmd.Flags().Changed("tags") {
		cfg.Tags = genTags
	}
	if cmd.Flags().Changed("model") {
		cfg.Model = genModel
	}
	if cmd.Flags().Changed("refine-model") {
		cfg.RefineModel = genRefineModel
	}
	if cmd.Flags().Changed("store") {
		cfg.Store = genStore
	}
	if cmd.Flags().Changed("db-url") {
		cfg.DatabaseURL = genDatabaseURL
	}
	if cmd.Flags().Changed("api-key") {
		cfg.APIKey = genAPIKey
	}
	if cmd.Flags().Changed("verbose") {
		cfg.Verbose = genVerbose
	}

	// Step 3: Apply defaults for unset values
	modelCfg := llm.DefaultConfig()
	defaults := config.Config{
		Output:      "decks",
		BatchSize:   1,
		Concurrency: 1,
		Model:       modelCfg.GetModel(llm.TierStandard),
		RefineModel: modelCfg.GetModel(llm.TierAdvanced),
	}
	cfg = cfg.MergeWithDefaults(defaults)

	// Step 4: Validate required fields
	if cfg.PDF == "" && cfg.Folder == "" {
		return fmt.Errorf("either --pdf or --folder must be provided (via flag or config)")
	}
	if cfg.PDF != "" && cfg.Folder != "" {
		return fmt.Errorf("--pdf and --folder are mutually exclusive; provide only one")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Step 5: API Key handling
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.APIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY environment variable or --api-key flag is required")
	}
	if (cfg.Store == "sqlite" || cfg.Store == "postgres") && cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}

	log, err := newLogger(cfg.Verbose)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer log.Sync()

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to open progress store: %w", err)
	}
	defer store.Close()

	client, err := llm.NewClient(ctx, modelCfg.
		WithModel(llm.TierStandard, cfg.Model).
		WithModel(llm.TierAdvanced, cfg.RefineModel), cfg.APIKey)
	if err != nil {
		return fmt.Errorf("failed to create model client: %w", err)
	}
	defer client.Close()

	gwOpts := gateway.Options{
		RequestsPerMinute: cfg.RateLimit,
		Logger:            log,
	}
	if genConfirm {
		gwOpts.Confirm = confirmOnStdin
	}
	gw := gateway.New(client, gateway.DefaultPolicy(), gwOpts)

	orch := pipeline.New(gw, store, deck.NewDirPackager(), log)
	opts := pipeline.RunOptions{
		OutputDir:   cfg.Output,
		SingleCard:  cfg.SingleCard,
		BatchSize:   cfg.BatchSize,
		Refine:      cfg.Refine,
		Resume:      !genNoResume,
		Concurrency: cfg.Concurrency,
		Tags:        cfg.Tags,
		Styling:     cfg.Styling,
		Model:       cfg.Model,
		DraftTier:   llm.TierStandard,
		RefineTier:  llm.TierAdvanced,
		Verbose:     cfg.Verbose,
	}

	if cfg.Folder != "" {
		results, err := orch.RunFolder(ctx, cfg.Folder, opts)
		if err != nil {
			return err
		}
		for _, res := range results {
			fmt.Printf("Deck written: %s (%d cards)\n", res.BundleDir, len(res.Final.Cards))
		}
		return nil
	}

	source, err := slides.NewPDFSource(cfg.PDF)
	if err != nil {
		return err
	}
	res, err := orch.Run(ctx, source, opts)
	if err != nil {
		return err
	}
	fmt.Printf("Deck written: %s (%d cards)\n", res.BundleDir, len(res.Final.Cards))
	if res.DraftStats.FailedUnits > 0 {
		fmt.Printf("%d slides failed; rerun the same command to retry them.\n", res.DraftStats.FailedUnits)
	}
	return nil
}

// confirmOnStdin pauses before each model call until the user presses
// Enter. Anything starting with "n" cancels the run.
func confirmOnStdin(_ context.Context, call gateway.CallContext) error {
	fmt.Printf("Dispatch %s call for %s? [Y/n] ", call.Stage, describeUnits(call))
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("reading confirmation: %w", err)
	}
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), "n") {
		return fmt.Errorf("call rejected by user")
	}
	return nil
}

// describeUnits renders the slide coverage of a call, collapsing
// single-slide chunks to "slide N".
func describeUnits(call gateway.CallContext) string {
	if call.UnitEnd > call.Unit {
		return fmt.Sprintf("slides %d-%d", call.Unit, call.UnitEnd)
	}
	return fmt.Sprintf("slide %d", call.Unit)
}
