package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/airlookjs/mediainfo/internal"
	"github.com/airlookjs/mediainfo/internal/format"
	"github.com/airlookjs/mediainfo/internal/resolver"
	"github.com/airlookjs/mediainfo/pkg/logger"
	"github.com/spf13/cobra"
)

var (
	configPath   string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "mediainfo",
	Short: "HTTP service exposing mediainfo analysis of files on network shares",
	Long: `Locates media files across the configured shares (or accepts an http(s)
URL), runs mediainfo against them, caches default format results beside
the source file and serves the result as JSON, XML or HTML.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          serve,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP service (default)",
	Args:  cobra.NoArgs,
	RunE:  serve,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <path>",
	Short: "Resolve and analyse a single logical path or URL, printing the result",
	Args:  cobra.ExactArgs(1),
	RunE:  inspect,
}

var formatsCmd = &cobra.Command{
	Use:   "formats",
	Short: "List the supported output formats",
	Args:  cobra.NoArgs,
	RunE:  listFormats,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CONFIG_PATH"), "Path to a YAML configuration file (or set CONFIG_PATH env)")
	inspectCmd.Flags().StringVarP(&outputFormat, "format", "f", "", "Output format (default: the configured default format)")

	rootCmd.AddCommand(serveCmd, inspectCmd, formatsCmd)
}

// main is the entry point to the program. Configuration is loaded from the
// file given by --config and from the environment before the command runs.
func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Fatalf("Main", "%s\n", err)
	}
}

func serve(cmd *cobra.Command, args []string) error {
	config, err := internal.LoadConfig(configPath)
	if err != nil {
		return err
	}

	service, err := internal.New(config)
	if err != nil {
		return fmt.Errorf("failed to initialise service: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return service.Run(ctx)
}

func inspect(cmd *cobra.Command, args []string) error {
	logger.SetOutput(cmd.ErrOrStderr())
	config, err := internal.LoadConfig(configPath)
	if err != nil {
		return err
	}

	service, err := internal.New(config)
	if err != nil {
		return fmt.Errorf("failed to initialise service: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resp, err := service.Resolver().Resolve(ctx, resolver.Request{Path: args[0], OutputFormat: outputFormat})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if resp.Format.Kind != format.JSON {
		_, err = fmt.Fprintln(out, resp.Text)
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(resp.Document)
}

func listFormats(cmd *cobra.Command, args []string) error {
	for _, f := range format.Default().All() {
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%-14s %-14s %s\n", f.Name, f.WireValue, f.Kind); err != nil {
			return err
		}
	}

	return nil
}
