package sqlagent

import (
	"fmt"

	"github.com/igorsilveira/sqlagent/pkg/config"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "sqlagent",
	Short: "SQL Agent - an A2A server and chat client for SQL generation",
	Long: "sqlagent serves a SQL-writing agent over the A2A protocol and ships a terminal chat " +
		"client that streams task updates from any A2A server.",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.sqlagent/sqlagent.toml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(cardCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(doctorCmd)
}

func loadConfig(cmd *cobra.Command, args []string) error {
	path := cfgFile
	if path == "" {
		path = config.DefaultConfigPath()
	}
	if _, err := config.Load(path); err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of sqlagent",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("sqlagent v%s\n", version)
	},
}
