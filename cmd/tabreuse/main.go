package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const (
	appName    = "tabreuse"
	appVersion = "0.1.0"
)

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "Focus existing browser tabs instead of opening duplicates",
	Long: `tabreuse attaches to a Chromium browser over the DevTools protocol and
reuses tabs for URLs that carry __reuse_tab, __run_js or __close_tabs.

  serve     run the daemon: tab watcher plus HTTP API
  canon     print the comparison key of a URL
  flags     print the control flags carried by a URL
  resolve   dry-run tab matching against a list of tab URLs
  match     test a URL against wildcard patterns`,
	Version:       appVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(canonCmd)
	rootCmd.AddCommand(flagsCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(matchCmd)

	rootCmd.SetVersionTemplate(fmt.Sprintf("%s v%s\n", appName, appVersion))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
