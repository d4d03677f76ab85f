package cmd

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"lodestone/internal/embedder"
	"lodestone/internal/index"
	"lodestone/internal/rag"
	"lodestone/internal/store"
)

var (
	flagTopK      int
	flagKind      string
	flagNamespace string
	flagChunkType string
	flagPlain     bool
)

var headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the indexed documents",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")

		idx, err := index.New(index.Config{
			DBPath: cfg.DBPath,
			Ollama: embedder.Config{
				BaseURL:           cfg.Ollama.URL,
				Model:             cfg.Ollama.Model,
				Dim:               cfg.Ollama.Dim,
				RequestsPerSecond: cfg.Ollama.RequestsPerSecond,
			},
			MaxTokens: cfg.Index.MaxTokens,
		})
		if err != nil {
			return err
		}
		defer idx.Close()

		topK := cfg.Search.TopK
		if cmd.Flags().Changed("top-k") {
			topK = flagTopK
		}

		results, err := rag.Retrieve(cmd.Context(), query, idx.Store(), idx.Embedder(), rag.Options{
			TopK:           topK,
			ScoreThreshold: cfg.Search.ScoreThreshold,
			Filter: store.Filter{
				Kind:      flagKind,
				Namespace: flagNamespace,
				ChunkType: flagChunkType,
			},
		})
		if err != nil {
			return err
		}

		out := rag.FormatResults(results)
		if flagPlain {
			fmt.Println(out)
			return nil
		}

		fmt.Println(headerStyle.Render(fmt.Sprintf("%d result(s) for %q", len(results), query)))
		rendered, err := glamour.Render(out, "dark")
		if err != nil {
			// Fall back to the raw markdown if rendering fails.
			fmt.Println(out)
			return nil
		}
		fmt.Print(rendered)
		return nil
	},
}

func init() {
	searchCmd.Flags().IntVarP(&flagTopK, "top-k", "k", 0, "number of results (default from config)")
	searchCmd.Flags().StringVar(&flagKind, "kind", "", "filter by Kubernetes kind")
	searchCmd.Flags().StringVar(&flagNamespace, "namespace", "", "filter by namespace")
	searchCmd.Flags().StringVar(&flagChunkType, "type", "", "filter by chunk type (manifest, code, markdown, ...)")
	searchCmd.Flags().BoolVar(&flagPlain, "plain", false, "print raw markdown without terminal rendering")
	rootCmd.AddCommand(searchCmd)
}
