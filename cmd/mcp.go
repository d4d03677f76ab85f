package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"lodestone/internal/embedder"
	"lodestone/internal/index"
	"lodestone/internal/rag"
	"lodestone/internal/store"
	"lodestone/internal/telemetry"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start an MCP server exposing platform search and cluster telemetry tools",
	RunE:  runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(cfg.DBPath); os.IsNotExist(err) {
		return fmt.Errorf("index not found at %s\nRun 'lodestone index <path>' first to build the index", cfg.DBPath)
	}

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
		return fmt.Errorf("open index: %w", err)
	}
	defer idx.Close()

	tel := telemetry.New(telemetry.Config{
		PrometheusURL:   cfg.Telemetry.PrometheusURL,
		AlertmanagerURL: cfg.Telemetry.AlertmanagerURL,
		LokiURL:         cfg.Telemetry.LokiURL,
		CacheTTL:        cfg.Telemetry.CacheTTLDuration(),
	})

	s := mcpserver.NewMCPServer("lodestone", "1.0.0", mcpserver.WithToolCapabilities(false))

	s.AddTool(searchPlatformDocsTool(), makeSearchHandler(idx, store.Filter{}))
	s.AddTool(searchDocsByKindTool(), makeFilteredSearchHandler(idx, "kind"))
	s.AddTool(searchDocsByNamespaceTool(), makeFilteredSearchHandler(idx, "namespace"))
	s.AddTool(listIndexedFilesTool(), makeListFilesHandler(idx.Store()))
	if cfg.Telemetry.AlertmanagerURL != "" {
		s.AddTool(clusterAlertsTool(), makeAlertsHandler(tel))
	}
	if cfg.Telemetry.PrometheusURL != "" {
		s.AddTool(queryMetricsTool(), makeMetricsHandler(tel))
	}
	if cfg.Telemetry.LokiURL != "" {
		s.AddTool(queryLogsTool(), makeLogsHandler(tel))
	}

	return mcpserver.ServeStdio(s)
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

// --- Tool schema builders ---

var readOnlyAnnotation = mcp.ToolAnnotation{
	ReadOnlyHint:    mcp.ToBoolPtr(true),
	DestructiveHint: mcp.ToBoolPtr(false),
	IdempotentHint:  mcp.ToBoolPtr(true),
	OpenWorldHint:   mcp.ToBoolPtr(false),
}

func searchPlatformDocsTool() mcp.Tool {
	return mcp.NewTool("search_platform_docs",
		mcp.WithDescription("Semantically search the indexed platform repos (manifests, Helm values, docs, source) and return the most relevant chunks with file paths and metadata."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Natural language question or keywords about the platform"),
		),
		mcp.WithNumber("k",
			mcp.Description("Maximum number of chunks to return (default from config)"),
		),
	)
}

func searchDocsByKindTool() mcp.Tool {
	return mcp.NewTool("search_docs_by_kind",
		mcp.WithDescription("Search indexed documents restricted to a Kubernetes resource kind (e.g. Deployment, HelmRelease, Ingress)."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query")),
		mcp.WithString("kind", mcp.Required(), mcp.Description("Kubernetes kind to filter on, exact match (e.g. Deployment)")),
		mcp.WithNumber("k", mcp.Description("Maximum number of chunks to return")),
	)
}

func searchDocsByNamespaceTool() mcp.Tool {
	return mcp.NewTool("search_docs_by_namespace",
		mcp.WithDescription("Search indexed documents restricted to a Kubernetes namespace."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query")),
		mcp.WithString("namespace", mcp.Required(), mcp.Description("Namespace to filter on")),
		mcp.WithNumber("k", mcp.Description("Maximum number of chunks to return")),
	)
}

func listIndexedFilesTool() mcp.Tool {
	return mcp.NewTool("list_indexed_files",
		mcp.WithDescription("List all indexed files with their repo, document kind, and chunk count."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("repo",
			mcp.Description("Optional repo name filter. Case-insensitive."),
		),
	)
}

func clusterAlertsTool() mcp.Tool {
	return mcp.NewTool("cluster_alerts",
		mcp.WithDescription("List currently firing, unsilenced alerts from Alertmanager."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
	)
}

func queryMetricsTool() mcp.Tool {
	return mcp.NewTool("query_metrics",
		mcp.WithDescription("Run an instant PromQL query against Prometheus and return the current values."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("PromQL expression, e.g. sum(rate(container_cpu_usage_seconds_total[5m])) by (namespace)"),
		),
	)
}

func queryLogsTool() mcp.Tool {
	return mcp.NewTool("query_logs",
		mcp.WithDescription("Run a LogQL query against Loki over a recent time window and return matching log lines."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("LogQL expression, e.g. {namespace=\"media\"} |= \"error\""),
		),
		mcp.WithString("since",
			mcp.Description("Lookback window as a Go duration (default 1h)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum log lines to return (default 100)"),
		),
	)
}

// --- Handler factories ---

func makeSearchHandler(idx *index.Indexer, base store.Filter) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query := req.GetString("query", "")
		if query == "" {
			return mcp.NewToolResultError("query is required"), nil
		}
		k := req.GetInt("k", cfg.Search.TopK)

		results, err := rag.Retrieve(ctx, query, idx.Store(), idx.Embedder(), rag.Options{
			TopK:           k,
			ScoreThreshold: cfg.Search.ScoreThreshold,
			Filter:         base,
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
		}
		return mcp.NewToolResultText(rag.FormatResults(results)), nil
	}
}

// makeFilteredSearchHandler builds a handler whose named argument becomes the
// corresponding store filter field.
func makeFilteredSearchHandler(idx *index.Indexer, field string) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query := req.GetString("query", "")
		if query == "" {
			return mcp.NewToolResultError("query is required"), nil
		}
		value := req.GetString(field, "")
		if value == "" {
			return mcp.NewToolResultError(field + " is required"), nil
		}
		k := req.GetInt("k", cfg.Search.TopK)

		var filter store.Filter
		switch field {
		case "kind":
			filter.Kind = value
		case "namespace":
			filter.Namespace = value
		}

		results, err := rag.Retrieve(ctx, query, idx.Store(), idx.Embedder(), rag.Options{
			TopK:           k,
			ScoreThreshold: cfg.Search.ScoreThreshold,
			Filter:         filter,
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(results) == 0 {
			return mcp.NewToolResultText(fmt.Sprintf("No documents matched %s=%q for query %q.", field, value, query)), nil
		}
		return mcp.NewToolResultText(rag.FormatResults(results)), nil
	}
}

func makeListFilesHandler(st store.Store) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		repoFilter := strings.ToLower(req.GetString("repo", ""))

		files, err := st.ListFiles()
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list files failed: %v", err)), nil
		}

		var filtered []store.FileSummary
		for _, f := range files {
			if repoFilter == "" || strings.ToLower(f.Repo) == repoFilter {
				filtered = append(filtered, f)
			}
		}

		var sb strings.Builder
		if repoFilter != "" {
			fmt.Fprintf(&sb, "## Indexed files (%d, repo: %s)\n\n", len(filtered), repoFilter)
		} else {
			fmt.Fprintf(&sb, "## Indexed files (%d)\n\n", len(filtered))
		}
		for _, f := range filtered {
			fmt.Fprintf(&sb, "- **%s/%s** (%s, %d chunks)\n", f.Repo, f.Path, f.Kind, f.Chunks)
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

func makeAlertsHandler(tel *telemetry.Client) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		out, err := tel.ActiveAlerts(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("alertmanager query failed: %v", err)), nil
		}
		return mcp.NewToolResultText(out), nil
	}
}

func makeMetricsHandler(tel *telemetry.Client) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		promql := req.GetString("query", "")
		if promql == "" {
			return mcp.NewToolResultError("query is required"), nil
		}
		out, err := tel.QueryMetrics(ctx, promql)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("prometheus query failed: %v", err)), nil
		}
		return mcp.NewToolResultText(out), nil
	}
}

func makeLogsHandler(tel *telemetry.Client) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		logql := req.GetString("query", "")
		if logql == "" {
			return mcp.NewToolResultError("query is required"), nil
		}
		var since time.Duration
		if raw := req.GetString("since", ""); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("invalid since %q: %v", raw, err)), nil
			}
			since = d
		}
		limit := req.GetInt("limit", 0)

		out, err := tel.QueryLogs(ctx, logql, since, limit)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("loki query failed: %v", err)), nil
		}
		return mcp.NewToolResultText(out), nil
	}
}
