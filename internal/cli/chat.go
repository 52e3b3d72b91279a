package cli

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/soyeahso/veil/internal/domain"
	"github.com/spf13/cobra"
)

func newChatCmd() *cobra.Command {
	var (
		sessionID string
		stream    bool
	)

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Send one message through the engine and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			eng, err := openEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer eng.Close()

			req := domain.ChatRequest{
				SessionID: sessionID,
				Message:   strings.Join(args, " "),
				Stream:    stream,
			}
			out := cmd.OutOrStdout()

			var resp *domain.ChatResponse
			if stream {
				s, err := eng.orch.ChatStream(ctx, req)
				if err != nil {
					return err
				}
				for c := range s.Chunks() {
					switch c.Type {
					case domain.ChunkContent:
						fmt.Fprint(out, c.Content)
					case domain.ChunkTool:
						fmt.Fprintf(cmd.ErrOrStderr(), "[tool %s]\n", c.Content)
					}
				}
				fmt.Fprintln(out)
				if resp, err = s.Wait(); err != nil {
					return err
				}
			} else {
				if resp, err = eng.orch.Chat(ctx, req); err != nil {
					return err
				}
				fmt.Fprintln(out, resp.Response)
			}

			printSummary(cmd, resp)
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "session id (a new one is generated when empty)")
	cmd.Flags().BoolVar(&stream, "stream", false, "stream the response")

	return cmd
}

func printSummary(cmd *cobra.Command, resp *domain.ChatResponse) {
	flags := ""
	if resp.Cached {
		flags += " cached"
	}
	if resp.Incomplete {
		flags += " incomplete"
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "\n[session=%s model=%s tier=%s tokens=%d cost=$%.6f%s]\n",
		resp.SessionID, resp.Model, resp.Tier, resp.TokensUsed, resp.CostUSD, flags)
}
