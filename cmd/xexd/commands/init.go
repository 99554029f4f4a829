package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/xexd/xexd/pkg/config"
)

// NewInitCmd returns a command that writes a default configuration file to
// the home directory.
func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: fmt.Sprintf("Initialize a new %s file", config.ConfigFileName),
		Long:  fmt.Sprintf("This command writes a default %s file to the home directory (or the current directory if --home is empty).", config.ConfigFileName),
		RunE: func(cmd *cobra.Command, args []string) error {
			homePath, err := cmd.Flags().GetString(config.FlagRootDir)
			if err != nil {
				return fmt.Errorf("error reading home flag: %w", err)
			}
			if homePath == "" {
				homePath, err = os.Getwd()
				if err != nil {
					return fmt.Errorf("error getting current directory: %w", err)
				}
			}

			configFilePath := filepath.Join(homePath, config.ConfigFileName)
			if _, err := os.Stat(configFilePath); err == nil {
				return fmt.Errorf("%s already exists in %s", config.ConfigFileName, homePath)
			}

			cfg := config.DefaultConfig
			cfg.RootDir = homePath
			if err := cfg.WriteYaml(); err != nil {
				return err
			}

			fmt.Printf("Initialized %s\n", configFilePath)
			return nil
		},
	}
	return cmd
}
