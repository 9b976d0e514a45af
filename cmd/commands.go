package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/luciancaetano/ddpbot/internal/config"
	"github.com/luciancaetano/ddpbot/internal/logging"
)

func newCommandsCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "commands",
		Short: "List the registered chat commands without connecting",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Read(configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			b, err := wireBot(cfg, logging.Discard())
			if err != nil {
				return fmt.Errorf("register commands: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "COMMAND\tARGS\tROOMS\tHELP")
			for _, spec := range b.Commands() {
				args := make([]string, len(spec.Args))
				for i, a := range spec.Args {
					args[i] = fmt.Sprintf("<%s:%s>", a.Name, a.Type)
				}
				rooms := "*"
				if len(spec.Rooms) > 0 {
					rooms = strings.Join(spec.Rooms, ",")
				}
				fmt.Fprintf(w, "%s%s\t%s\t%s\t%s\n", cfg.Bot.Prefix, spec.Name, strings.Join(args, " "), rooms, spec.Help)
			}
			fmt.Fprintf(w, "\npatterns: %d\n", b.Patterns())
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "config file (yaml, toml or json)")
	return cmd
}
