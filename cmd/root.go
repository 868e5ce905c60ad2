package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/screencontrol/sc-console/internal/util"
	"github.com/screencontrol/sc-console/internal/version"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "sc-console",
	Short: "Remote desktop console",
	Long: `sc-console connects to a screen sharing session and streams the remote
desktop: video decode, adaptive quality, input relay and clipboard sync.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		util.InitLogger(verbose)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flag("version").Changed {
			fmt.Println(version.ClientInfo().Short())
			return nil
		}
		return cmd.Help()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable debug logging")
	rootCmd.Flags().BoolP("version", "v", false, "Print version information and exit")

	rootCmd.AddCommand(NewConnectCommand())
	rootCmd.AddCommand(NewVersionCommand())
	rootCmd.AddCommand(NewConfigCommand())
}
