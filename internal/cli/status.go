package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/soyeahso/veil/internal/config"
	"github.com/soyeahso/veil/internal/version"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show veil status and configuration summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "veil %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Fprintf(out, "Config:  %s\n", paths.Config)
			fmt.Fprintf(out, "Data:    %s\n", paths.Data)
			fmt.Fprintf(out, "Logs:    %s\n", paths.Logs)
			fmt.Fprintln(out)

			if _, err := os.Stat(paths.Config); os.IsNotExist(err) {
				fmt.Fprintln(out, "Config file not found (using defaults and environment)")
			}
			cfg, err := config.Load(paths.Config)
			if err != nil {
				fmt.Fprintf(out, "Config:  error loading: %v\n", err)
				return nil
			}

			fmt.Fprintf(out, "Server:  port=%d bind=%s origins=%s\n",
				cfg.Server.Port, cfg.Server.Bind, orNone(strings.Join(cfg.Server.AllowedOrigins, ",")))

			key := "unset"
			if cfg.Models.APIKey != "" {
				key = "set"
			}
			fmt.Fprintf(out, "Models:  provider=%s apiKey=%s\n", cfg.Models.Provider, key)
			fmt.Fprintf(out, "  cheap: %s (max %d tokens)\n", cfg.Models.Tiers.Cheap.Model, cfg.Models.Tiers.Cheap.MaxTokens)
			fmt.Fprintf(out, "  full:  %s (max %d tokens)\n", cfg.Models.Tiers.Full.Model, cfg.Models.Tiers.Full.MaxTokens)

			fmt.Fprintf(out, "Cache:   backend=%s ttl=%s\n", cfg.Cache.Backend, cfg.CacheTTL())
			switch cfg.History.Backend {
			case "sqlite":
				fmt.Fprintf(out, "History: sqlite %s\n", paths.HistoryDB(cfg))
			case "postgres":
				fmt.Fprintln(out, "History: postgres")
			default:
				fmt.Fprintln(out, "History: memory (not persisted)")
			}
			fmt.Fprintf(out, "Agent:   maxToolRounds=%d window=%d turns/%d tokens\n",
				cfg.Agent.MaxToolRounds, cfg.History.WindowTurns, cfg.History.WindowTokens)

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s\n", issue)
				}
			}

			return nil
		},
	}

	return cmd
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
