// Command relaybot runs the Telegram relay and its maintenance tools.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stupiduntilnot/relaybot/internal/logging"
)

var version = "dev"

// cli holds the flags and logger shared by every subcommand.
type cli struct {
	configPath string
	verbose    bool
	logFormat  string
	logger     *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{logger: zap.NewNop()}
	root := &cobra.Command{
		Use:   "relaybot",
		Short: "Relay Telegram messages to language model providers",
		Long: `relaybot long-polls Telegram, classifies each message, forwards it to the
selected model provider and sends the reply back in Telegram-sized parts.

Run without a subcommand to start the bot.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(c.verbose, c.logFormat)
			if err != nil {
				return err
			}
			c.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = c.logger.Sync()
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "YAML config file (default ./"+"relaybot.yaml if present)")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().StringVar(&c.logFormat, "log-format", "json", "log encoding: json or console")

	run := newRunCmd(c)
	root.RunE = run.RunE
	root.AddCommand(
		run,
		newEventsCmd(),
		newSplitCmd(),
		newClassifyCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), "relaybot", version)
			},
		},
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
