package cmd

import "github.com/spf13/cobra"

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "ddpbot",
		Short:         "Rocket.Chat realtime bot",
		Long:          "ddpbot connects to a Rocket.Chat server over the DDP realtime API, answers prefixed commands and reacts to message patterns.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newCommandsCmd(),
	)

	return rootCmd
}
