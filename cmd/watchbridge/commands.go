package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jnoelg/watchbridge/internal/bridge"
	"github.com/jnoelg/watchbridge/internal/config"
	"github.com/jnoelg/watchbridge/internal/device"
	"github.com/jnoelg/watchbridge/internal/logging"
	"github.com/jnoelg/watchbridge/internal/options"
	"github.com/jnoelg/watchbridge/internal/storage"
	"github.com/jnoelg/watchbridge/internal/watch"
)

// --- show / close ---

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Open the settings page (show-configuration event)",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runShow(cmd.Context(), client, os.Stdout)
	},
}

func runShow(ctx context.Context, client *apiClient, w io.Writer) error {
	resp, err := client.post(ctx, "/events/show-configuration", nil)
	if err != nil {
		return err
	}
	var res bridge.ShowResult
	if err := decodeJSON(resp, &res); err != nil {
		return err
	}
	printSuccess("Opened settings page (flow %s, %s options)", res.FlowID, res.Source)
	fmt.Fprintln(w, res.URL)
	return nil
}

var closeCmd = &cobra.Command{
	Use:   "close <response>",
	Short: "Close the settings page with a response (webviewclosed event)",
	Long: `Close the settings page with a response, as the page itself would.

The response is the raw string the page returns, normally a
percent-encoded JSON object. Anything that does not look like one cancels
the flow.

Examples:
  watchbridge close '{"hh-in-bold":"0","mm-in-bold":"1","locale":"en_US"}'
  watchbridge close CANCELLED`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runClose(cmd.Context(), client, args[0])
	},
}

func runClose(ctx context.Context, client *apiClient, response string) error {
	resp, err := client.post(ctx, "/events/webview-closed", map[string]string{"response": response})
	if err != nil {
		return err
	}
	var res bridge.CloseResult
	if err := decodeJSON(resp, &res); err != nil {
		return err
	}
	if res.Outcome == bridge.OutcomeCancelled {
		printWarning("Configuration cancelled; nothing stored or sent")
		return nil
	}
	printSuccess("Options stored; message %s sent to watch", res.MessageID)
	if len(res.Missing) > 0 {
		printWarning("Not in response: %s", strings.Join(res.Missing, ", "))
	}
	return nil
}

// --- options ---

var optionsCmd = &cobra.Command{
	Use:   "options",
	Short: "Inspect stored options",
}

var optionsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the options the settings page would open with",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/options")
		if err != nil {
			return err
		}
		var snap options.Snapshot
		if err := decodeJSON(resp, &snap); err != nil {
			return err
		}
		printStatus("Source", "%s", snap.Source)
		return writeJSONIndent(os.Stdout, snap.Doc)
	},
}

func init() {
	optionsCmd.AddCommand(optionsShowCmd)
}

// --- messages ---

var messagesCmd = &cobra.Command{
	Use:   "messages",
	Short: "Inspect messages sent to the watch",
}

var messagesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent messages, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runMessagesList(cmd.Context(), client, os.Stdout, limit, offset)
	},
}

func runMessagesList(ctx context.Context, client *apiClient, w io.Writer, limit, offset int) error {
	resp, err := client.get(ctx, fmt.Sprintf("/messages?limit=%d&offset=%d", limit, offset))
	if err != nil {
		return err
	}
	var msgs []storage.MessageRecord
	if err := decodeJSON(resp, &msgs); err != nil {
		return err
	}
	if len(msgs) == 0 {
		fmt.Fprintln(w, "No messages.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tSTATUS\tPAYLOAD")
	for _, m := range msgs {
		status := messageStatus(m.Status)
		if m.Error != "" {
			status += " (" + m.Error + ")"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.ID, m.CreatedAt.Local().Format(time.DateTime), status, m.Payload)
	}
	return tw.Flush()
}

var messagesShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/messages/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var m storage.MessageRecord
		if err := decodeJSON(resp, &m); err != nil {
			return err
		}
		return writeJSONIndent(os.Stdout, m)
	},
}

func init() {
	messagesListCmd.Flags().Int("limit", 20, "maximum number of messages")
	messagesListCmd.Flags().Int("offset", 0, "number of messages to skip")
	messagesCmd.AddCommand(messagesListCmd)
	messagesCmd.AddCommand(messagesShowCmd)
}

// --- variants ---

var variantsCmd = &cobra.Command{
	Use:   "variants",
	Short: "Inspect bridge variants",
}

var variantsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known variants and their message keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		_, reg, err := loadVariant(cfg)
		if err != nil {
			return err
		}
		return printVariants(os.Stdout, reg.All(), cfg.Bridge.Variant)
	},
}

func printVariants(w io.Writer, variants []options.Variant, active string) error {
	for _, v := range variants {
		marker := " "
		if v.Name == active {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %s  %s\n", marker, colorize(colorBold, v.Name), v.PageURL)

		defaults := make([]string, 0, len(v.Defaults))
		for k, val := range v.Defaults {
			defaults = append(defaults, k+"="+val)
		}
		sort.Strings(defaults)
		fmt.Fprintf(w, "    defaults: %s\n", strings.Join(defaults, " "))
		for _, f := range v.Fields {
			fmt.Fprintf(w, "    %-14s -> %s\n", f.Option, f.Key)
		}
	}
	return nil
}

func init() {
	variantsCmd.AddCommand(variantsListCmd)
}

// --- watch ---

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Emulate the watch: receive configuration messages and apply them",
	Long: `Connect to the running bridge as the watch. Each configuration message is
applied to local watch settings the way the watchface does and acknowledged.

Use --reject to answer every message with a failure instead, for example
--reject timeout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		reject, _ := cmd.Flags().GetString("reject")
		locale, _ := cmd.Flags().GetString("locale")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		return runWatch(cmd.Context(), reject, locale, dataDir)
	},
}

func init() {
	watchCmd.Flags().String("reject", "", "nack every message with this error text")
	watchCmd.Flags().String("locale", os.Getenv("LANG"), "system locale used when none is configured")
	watchCmd.Flags().String("data-dir", "", "watch settings directory (default <storage.data_dir>/watch)")
}

func runWatch(ctx context.Context, reject, locale, dataDir string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, logOut, err := logging.New(logging.Options{Level: cfg.Log.Level})
	if err != nil {
		return err
	}
	defer logOut.Close()

	if dataDir == "" {
		dataDir = filepath.Join(cfg.Storage.DataDir, "watch")
	}
	store, err := storage.Open(dataDir)
	if err != nil {
		return fmt.Errorf("opening watch storage: %w", err)
	}
	defer store.Close()

	inbox := watch.NewInbox(store, locale).WithLogger(logger)
	if s, err := inbox.Load(); err == nil {
		printSettings(os.Stdout, s)
	}

	wsURL := fmt.Sprintf("ws://127.0.0.1:%d/device", cfg.Server.Port)
	client := watch.NewClient(wsURL, cfg.Server.APIToken, inbox).WithLogger(logger)
	client.Reject = reject
	client.OnApplied = func(env device.Envelope, err error) {
		if err != nil {
			printWarning("Message %s rejected: %v", env.ID, err)
			return
		}
		printSuccess("Message %s applied", env.ID)
		if s, err := inbox.Load(); err == nil {
			printSettings(os.Stdout, s)
		}
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	printStep("Connecting to %s", wsURL)
	return client.Run(ctx)
}

func printSettings(w io.Writer, s watch.Settings) {
	locale := s.Locale.String()
	if !s.LocaleSet {
		locale += " (system)"
	}
	fmt.Fprintf(w, "hours bold=%t minutes bold=%t locale=%s strip zero=%t separator=%s repeat vibe=%t\n",
		s.HHInBold, s.MMInBold, locale, s.HHStripZero, s.TimeSep, s.RepeatVib)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value so its default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
