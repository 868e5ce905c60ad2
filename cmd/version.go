package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/screencontrol/sc-console/internal/version"
)

// NewVersionCommand creates the version command.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			info := version.ClientInfo()
			fmt.Printf("Version:    %s\n", info.Version)
			fmt.Printf("Commit:     %s\n", info.GitCommit)
			fmt.Printf("Built:      %s\n", info.BuildTime)
			fmt.Printf("Go version: %s\n", info.GoVersion)
			fmt.Printf("OS/Arch:    %s/%s\n", info.OS, info.Arch)
		},
	}
}
