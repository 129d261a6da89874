// Package main provides the boxbridge entry point.
// boxbridge enriches Box files with metadata when Box webhooks fire.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/boxbridge/cmd"
	"github.com/otherjamesbrown/boxbridge/config"
	"github.com/otherjamesbrown/boxbridge/pkg/buildinfo"
)

// Global flags.
var (
	cfgFile      string
	outputFormat string
	logLevel     string
)

// loadConfig applies the global flags on top of the loaded configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := cmd.LoadConfig(cfgFile, outputFormat)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "boxbridge",
	Short: "Box metadata enrichment bridge",
	Long: `boxbridge fills Box metadata templates from Box AI extraction.

When a file is uploaded or previewed, Box calls the webhook receiver. The
bridge picks the metadata templates whose fields the AI can fill, writes the
values to the file and posts an analytics record to Salesforce Data Cloud.

COMMON WORKFLOWS:
  Run the service:   boxbridge serve
  Try one file:      boxbridge process <file-id>
  Check templates:   boxbridge templates list  ->  boxbridge templates schema <key>
  Store tokens:      boxbridge auth set box  ->  boxbridge auth status

CONFIGURATION:
  ~/.boxbridge/config.yaml, then .env, then environment variables.
  Run 'boxbridge <command> --help' for flags and examples.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(c *cobra.Command, args []string) error {
		if outputFormat != "" && !config.OutputFormat(outputFormat).IsValid() {
			return fmt.Errorf("invalid output format %q (use text, json or yaml)", outputFormat)
		}
		return nil
	},
}

// Version command flags.
var versionServer string

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long: `Print the version, commit hash, and build time of boxbridge.

Use --server to also ask a running bridge for its version.

Examples:
  boxbridge version
  boxbridge version --server http://localhost:5000 --output json`,
	Args: cobra.NoArgs,
	RunE: func(c *cobra.Command, args []string) error {
		infos := []buildinfo.Info{buildinfo.Get()}

		if versionServer != "" {
			remote, err := fetchServerVersion(c.Context(), versionServer)
			if err != nil {
				remote = buildinfo.Info{ServiceName: versionServer, Version: "unreachable"}
				fmt.Fprintf(c.ErrOrStderr(), "Warning: %v\n", err)
			}
			infos = append(infos, remote)
		}

		var v any = infos
		if len(infos) == 1 {
			v = infos[0]
		}
		return cmd.WriteOutput(c.OutOrStdout(), config.OutputFormat(outputFormat), v, func(w io.Writer) error {
			for i, info := range infos {
				if i > 0 {
					fmt.Fprintln(w)
				}
				fmt.Fprintf(w, "%s version %s\n", info.ServiceName, info.Version)
				fmt.Fprintf(w, "  commit:     %s\n", info.Commit)
				fmt.Fprintf(w, "  built:      %s\n", info.BuildTime)
				if info.GoVersion != "" {
					fmt.Fprintf(w, "  go:         %s\n", info.GoVersion)
				}
			}
			return nil
		})
	},
}

// fetchServerVersion reads GET /version from a running bridge.
func fetchServerVersion(ctx context.Context, server string) (buildinfo.Info, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var info buildinfo.Info
	resp, err := resty.New().
		SetTimeout(5*time.Second).
		SetHeader("User-Agent", buildinfo.UserAgent()).
		R().
		SetContext(ctx).
		SetResult(&info).
		Get(strings.TrimRight(server, "/") + "/version")
	if err != nil {
		return info, fmt.Errorf("querying %s: %w", server, err)
	}
	if resp.IsError() {
		return info, fmt.Errorf("querying %s: HTTP %d", server, resp.StatusCode())
	}
	return info, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default ~/.boxbridge/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "", "Output format: text, json, yaml")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")

	versionCmd.Flags().StringVar(&versionServer, "server", "", "Base URL of a running bridge to query")

	deps := cmd.DefaultDeps(loadConfig)

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(cmd.NewServeCommand(deps))
	rootCmd.AddCommand(cmd.NewProcessCommand(deps))
	rootCmd.AddCommand(cmd.NewTemplatesCommand(deps))
	rootCmd.AddCommand(cmd.NewAuthCommand(deps))
	rootCmd.AddCommand(cmd.NewQueueCommand(deps))
	rootCmd.AddCommand(cmd.NewHistoryCommand(deps))
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
