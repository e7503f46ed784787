package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/anthropics/midstream/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Writes the default configuration to the resolved config path so it
can be edited before the first start. An existing file is kept unless
--force is given.

Example:
  midstream init
  midstream init --config /etc/midstream/midstream.yaml --force`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	path := cfgPath
	if path == "" {
		path = defaultConfigName
	}
	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
	}
	if err := config.DefaultConfig().Save(path); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}
