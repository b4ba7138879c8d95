package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dgnsrekt/tabreuse/internal/config"
	"github.com/dgnsrekt/tabreuse/internal/controller"
	"github.com/dgnsrekt/tabreuse/internal/reuse"
	"github.com/dgnsrekt/tabreuse/internal/types"
	"github.com/dgnsrekt/tabreuse/internal/wildcard"
)

var canonCmd = &cobra.Command{
	Use:   "canon URL...",
	Short: "Print the comparison key of each URL",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := offlineService(nil)
		for _, raw := range args {
			res, err := svc.Canonicalize(raw)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Canonical)
		}
		return nil
	},
}

var flagsCmd = &cobra.Command{
	Use:   "flags URL",
	Short: "Show the control flags, cleaned URL and key of a URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := offlineService(nil).Canonicalize(args[0])
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), res)
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve URL",
	Short: "Dry-run tab matching against the given tab URLs",
	Long: `resolve runs the matching tiers for URL against the tabs named with
--tab, in order. Tabs get ids 1, 2, 3... in the order given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		urls, _ := cmd.Flags().GetStringArray("tab")
		tabs := make([]types.Tab, 0, len(urls))
		for i, u := range urls {
			tabs = append(tabs, types.Tab{ID: strconv.Itoa(i + 1), URL: u, Index: i})
		}
		return writeJSON(cmd.OutOrStdout(), reuse.Plan(args[0], tabs))
	},
}

var matchCmd = &cobra.Command{
	Use:   "match URL",
	Short: "Test a URL against wildcard patterns",
	Long: `match checks URL against --pattern values, or the lines of --file, or
the block patterns of the options file when neither is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runMatch,
}

func init() {
	resolveCmd.Flags().StringArray("tab", nil, "URL of an open tab (repeatable)")

	matchCmd.Flags().StringArrayP("pattern", "p", nil, "Wildcard pattern (repeatable)")
	matchCmd.Flags().StringP("file", "f", "", "File with one pattern per line")
	matchCmd.Flags().String("options", "", "Options file (defaults to TABREUSE_OPTIONS_FILE)")
	matchCmd.Flags().Bool("meta", false, "Treat the meta key as held")
	matchCmd.Flags().Bool("editable", false, "Treat focus as inside an editable element")
}

func runMatch(cmd *cobra.Command, args []string) error {
	patterns, _ := cmd.Flags().GetStringArray("pattern")
	if file, _ := cmd.Flags().GetString("file"); file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		patterns = append(patterns, wildcard.LinesToPatterns(string(data))...)
	}

	var opts *config.Options
	if len(patterns) == 0 {
		path, _ := cmd.Flags().GetString("options")
		if path == "" {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			path = cfg.OptionsFile
		}
		loaded, err := config.LoadOptions(path)
		if err != nil {
			return err
		}
		opts = loaded
	}

	meta, _ := cmd.Flags().GetBool("meta")
	editable, _ := cmd.Flags().GetBool("editable")
	res, err := offlineService(opts).Match(args[0], patterns, config.KeyEvent{Meta: meta, Editable: editable})
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), res)
}

// offlineService backs the commands that never talk to a browser.
func offlineService(opts *config.Options) *controller.Service {
	return controller.NewService(nil, nil, nil, opts, controller.Settings{})
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
