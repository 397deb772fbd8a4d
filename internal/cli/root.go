// Package cli wires configuration, question generation and transports into the
// geotrivia command.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "v0.1.0-dev"

// Execute runs the CLI.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "geotrivia",
		Short:         "Real-time multiplayer geography quiz server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_FILE"), "path to a YAML, TOML or JSON config file")
	cmd.AddCommand(newServeCmd(&configPath))
	cmd.AddCommand(newQuestionsCmd(&configPath))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("geotrivia %s\n", version)
		},
	}
}
