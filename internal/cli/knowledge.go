package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/soyeahso/veil/internal/config"
	"github.com/soyeahso/veil/internal/store"
	"github.com/spf13/cobra"
)

func newKnowledgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "knowledge",
		Short: "Manage the passages used as retrieved context",
	}

	cmd.AddCommand(newKnowledgeAddCmd())
	cmd.AddCommand(newKnowledgeSearchCmd())
	cmd.AddCommand(newKnowledgeRemoveCmd())
	return cmd
}

// withPassages opens the passage store for the duration of fn.
func withPassages(fn func(*store.PassageStore) error) error {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return err
	}
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(store.NewPassageStore(db))
}

func newKnowledgeAddCmd() *cobra.Command {
	var split bool

	cmd := &cobra.Command{
		Use:   "add <source> <file|->",
		Short: "Add a document as a passage (use - to read stdin)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if args[1] != "-" {
				f, err := os.Open(args[1])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			data, err := io.ReadAll(r)
			if err != nil {
				return fmt.Errorf("reading document: %w", err)
			}

			chunks := []string{string(data)}
			if split {
				chunks = splitParagraphs(string(data))
			}

			return withPassages(func(ps *store.PassageStore) error {
				added := 0
				for _, c := range chunks {
					if strings.TrimSpace(c) == "" {
						continue
					}
					if _, err := ps.Add(cmd.Context(), args[0], c); err != nil {
						return err
					}
					added++
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added %d passage(s) from %s\n", added, args[0])
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&split, "split", false, "store each blank-line separated paragraph as its own passage")
	return cmd
}

func newKnowledgeSearchCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Show the passages a message would retrieve",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPassages(func(ps *store.PassageStore) error {
				hits, err := ps.Retrieve(cmd.Context(), strings.Join(args, " "), limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(hits) == 0 {
					fmt.Fprintln(out, "No matching passages.")
					return nil
				}
				for i, h := range hits {
					fmt.Fprintf(out, "[%d] (%s, score %.3f) %s\n", i+1, h.Source, h.Score, h.Text)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 4, "maximum number of passages")
	return cmd
}

func newKnowledgeRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <source>",
		Short: "Delete every passage from a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPassages(func(ps *store.PassageStore) error {
				n, err := ps.DeleteSource(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d passage(s)\n", n)
				return nil
			})
		},
	}
}

// splitParagraphs splits text on blank lines.
func splitParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
