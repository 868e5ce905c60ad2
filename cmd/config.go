package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/screencontrol/sc-console/config"
)

// NewConfigCommand creates the config command, which prints the effective
// configuration after defaults, config file and environment are merged.
func NewConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		Run: func(cmd *cobra.Command, args []string) {
			token := config.GetAuthToken()
			if token != "" {
				token = "(set)"
			} else {
				token = "(unset)"
			}
			fmt.Printf("server.url:      %s\n", config.GetServerURL())
			fmt.Printf("auth.token:      %s\n", token)
			fmt.Printf("console.home:    %s\n", config.GetConsoleHome())
			fmt.Printf("quality.auto:    %t\n", config.GetQualityAuto())
			fmt.Printf("quality.tier:    %s\n", config.GetQualityTier())
			fmt.Printf("decoder.backend: %s\n", config.GetDecoderBackend())
		},
	}
}
