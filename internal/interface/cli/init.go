package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/neilberkman/pcswitcher/internal/core/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	Long: `Write a commented default configuration to --config
(~/.config/pcswitcher/config.yaml unless given).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.WriteDefault(configPath, initForce); err != nil {
			return err
		}
		fmt.Printf("Wrote default config to %s\n", configPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config")
}
