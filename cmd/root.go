package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"lodestone/internal/config"
	"lodestone/internal/logging"
)

var (
	flagConfig string
	flagOllama string
	flagModel  string
	flagDB     string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "lodestone",
	Short: "Index GitOps platform repos into a local vector store and serve retrieval tools",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(flagConfig)
		if err != nil {
			return err
		}
		// Flags win over config file and environment.
		flags := cmd.Root().PersistentFlags()
		if flags.Changed("ollama") {
			cfg.Ollama.URL = flagOllama
		}
		if flags.Changed("model") {
			cfg.Ollama.Model = flagModel
		}
		if flags.Changed("db") {
			cfg.DBPath = flagDB
		}
		logging.Init(cfg.Logging.Level)
		return nil
	},
}

// Execute runs the CLI with a context cancelled on shutdown signals, so
// long-running commands (scheduled indexing, the MCP server) can stop
// cleanly.
func Execute(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "lodestone.toml", "config file path")
	rootCmd.PersistentFlags().StringVar(&flagOllama, "ollama", "http://localhost:11434", "ollama base URL")
	rootCmd.PersistentFlags().StringVar(&flagModel, "model", "nomic-embed-text", "embedding model")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "database path (default .lodestone/index.db)")
}
