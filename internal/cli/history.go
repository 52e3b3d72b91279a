package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/veil/internal/config"
	"github.com/soyeahso/veil/internal/domain"
	"github.com/soyeahso/veil/internal/store"
	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "history [session]",
		Short: "Print a session's turns, or list recent sessions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}
			if cfg.History.Backend == "memory" {
				return fmt.Errorf("history backend %q keeps nothing between runs", cfg.History.Backend)
			}

			ctx := cmd.Context()
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			history, closer, err := openHistory(ctx, cfg, db)
			if err != nil {
				return err
			}
			if closer != nil {
				defer closer.Close()
			}

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				lister, ok := history.(*store.SQLiteHistoryStore)
				if !ok {
					return fmt.Errorf("listing sessions needs the sqlite backend; pass a session id")
				}
				ids, err := lister.SessionIDs(ctx, limit)
				if err != nil {
					return err
				}
				for _, id := range ids {
					fmt.Fprintln(out, id)
				}
				return nil
			}

			turns, err := history.RecentTurns(ctx, args[0], limit)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(turns)
			}
			if len(turns) == 0 {
				fmt.Fprintf(out, "no turns for session %s\n", args[0])
				return nil
			}
			for _, t := range turns {
				fmt.Fprintln(out, formatTurn(t))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of most recent turns or sessions (0 = all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print turns as JSON")

	return cmd
}

// formatTurn renders one turn as a single readable line.
func formatTurn(t domain.Turn) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-9s ", t.Timestamp.Local().Format(time.DateTime), t.Role)
	switch {
	case t.ToolCall != nil:
		status := "ok"
		if t.ToolCall.IsError {
			status = "error"
		}
		fmt.Fprintf(&b, "%s [%s] %s", t.ToolCall.Name, status, t.ToolCall.Text())
	case len(t.ToolCalls) > 0:
		names := make([]string, len(t.ToolCalls))
		for i, c := range t.ToolCalls {
			names[i] = c.Name
		}
		if t.Content != "" {
			b.WriteString(t.Content + " ")
		}
		fmt.Fprintf(&b, "-> %s", strings.Join(names, ", "))
	default:
		b.WriteString(t.Content)
	}
	if t.Model != "" {
		fmt.Fprintf(&b, "  (%s, %d tokens)", t.Model, t.Usage.Total())
	}
	return b.String()
}
