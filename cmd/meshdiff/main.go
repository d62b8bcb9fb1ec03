package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/chazu/meshdiff/pkg/config"
	"github.com/chazu/meshdiff/pkg/logging"
)

var (
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *log.Logger
)

var rootCmd = &cobra.Command{
	Use:   "meshdiff",
	Short: "Compare two 3D meshes from the command line",
	Long: `meshdiff loads two meshes (STL or OBJ), optionally aligns the second
onto the first, and reports point-wise distance and matching statistics.
Comparison scripts can drive the same steps and assert on the results.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return err
		}
		level := c.Log.Level
		if logLevel != "" {
			level = logLevel
		}
		l, err := logging.New(cmd.ErrOrStderr(), level)
		if err != nil {
			return err
		}
		cfg, logger = c, l
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a TOML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
