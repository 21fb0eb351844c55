// Package main provides the ankigen CLI entry point.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ankigen",
	Short: "Generate Anki cloze flashcards from lecture slides",
	Long:  "ankigen renders lecture PDFs to slide images, sends each slide to a vision model, and assembles the returned facts into a cloze flashcard deck. Interrupted runs resume where they left off.",
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
