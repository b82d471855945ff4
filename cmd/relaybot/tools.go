package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stupiduntilnot/relaybot/internal/chunk"
	"github.com/stupiduntilnot/relaybot/internal/classify"
	"github.com/stupiduntilnot/relaybot/internal/telegram"
	"github.com/stupiduntilnot/relaybot/internal/textnorm"
)

func newSplitCmd() *cobra.Command {
	var (
		maxLength int
		raw       bool
	)
	cmd := &cobra.Command{
		Use:   "split",
		Short: "Split stdin into Telegram-sized parts",
		Long: `Reads text from stdin and prints the parts the bot would send, separated
by a line of dashes. Part markers are included unless --raw is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			text := strings.TrimRight(string(in), "\n")
			var parts []string
			if raw {
				parts = chunk.Split(text, maxLength)
			} else {
				parts = chunk.Annotate(chunk.Plan(text, chunk.DefaultOptions(maxLength)))
			}
			out := cmd.OutOrStdout()
			for i, p := range parts {
				if i > 0 {
					fmt.Fprintln(out, "----")
				}
				fmt.Fprintln(out, p)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&maxLength, "max-length", "n", telegram.MaxMessageLength, "maximum part length in characters")
	cmd.Flags().BoolVar(&raw, "raw", false, "omit part markers")
	return cmd
}

func newClassifyCmd() *cobra.Command {
	var showPrompt bool
	cmd := &cobra.Command{
		Use:   "classify <text>",
		Short: "Show the task category and prompt for a message",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := textnorm.Normalize(strings.Join(args, " "))
			category, prompt := classify.Classify(text)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\t%s\n", category, category.Label())
			if showPrompt {
				fmt.Fprintln(out, prompt)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&showPrompt, "prompt", "p", false, "also print the enriched prompt")
	return cmd
}
