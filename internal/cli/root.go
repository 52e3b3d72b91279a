// Package cli implements the veil command line.
package cli

import (
	"os"
	"path/filepath"

	"github.com/soyeahso/veil/internal/config"
	"github.com/soyeahso/veil/internal/logging"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string

	// loaded at init time
	paths config.Paths
	log   *logging.Logger
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "veil",
		Short: "LLM chat orchestration and caching engine",
		Long: "Veil answers chat messages through a tiered LLM backend with response caching,\n" +
			"retrieved context, tool calls and persistent conversation history.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			paths, err = config.ResolvePaths()
			if err != nil {
				return err
			}
			if cfgFile != "" {
				paths.Config = cfgFile
			}

			// .env in the working directory wins over the one under VEIL_HOME;
			// neither overrides variables already set.
			for _, f := range []string{".env", paths.EnvFile} {
				if err := config.LoadDotEnv(f); err != nil {
					return err
				}
			}

			level := logLevel
			if level == "" {
				level = os.Getenv("VEIL_LOG_LEVEL")
			}
			if level == "" {
				level = "warn"
			}
			log = logging.New(nil, level)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default "+filepath.Join("~", ".veil", "config.yaml")+")")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, fatal, silent)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newChatCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newKnowledgeCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}
