package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "watchbridge",
	Short: "Configuration bridge between a watchface and its settings page",
	Long: `watchbridge opens the watchface settings page with the stored options,
receives the page's response, stores it and forwards it to the watch.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		noColor = true
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(closeCmd)
	rootCmd.AddCommand(optionsCmd)
	rootCmd.AddCommand(messagesCmd)
	rootCmd.AddCommand(variantsCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
