package cmd

import (
	"fmt"
	"os"

	"github.com/factline/cli/pkg/client"
	"github.com/factline/cli/pkg/config"
	"github.com/factline/cli/pkg/credentials"
	cerrors "github.com/factline/cli/pkg/errors"
	"github.com/factline/cli/pkg/logger"
	"github.com/factline/cli/pkg/output"
	"github.com/spf13/cobra"
)

var (
	verbose     bool
	configPath  string
	outputFmt   string
	metricsAddr string

	// authToken authenticates live status streams.
	authToken string
)

var rootCmd = &cobra.Command{
	Use:   "factline",
	Short: "Factline CLI - publish posts and reels and follow their processing",
	Long: `Factline CLI uploads images and videos to Factline, runs early
content analysis before submission and follows moderation and
fact-checking progress live until each item is published.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Init(configPath); err != nil {
			return fmt.Errorf("initializing config: %w", err)
		}

		logger.Init(verbose)

		if cmd.Flags().Changed("output") {
			if !output.ValidateOutputFormat(outputFmt) {
				return cerrors.ValidationError("output", fmt.Sprintf("unknown format %q (use text, json or table)", outputFmt))
			}
			config.Set("output.format", outputFmt)
		}
		if metricsAddr != "" {
			config.Set("metrics.addr", metricsAddr)
		}

		client.Init()

		creds, err := credentials.Load()
		if err != nil {
			logger.Warn("Could not load credentials", "error", err)
			return nil
		}
		if creds != nil && creds.AccessToken != "" {
			authToken = creds.AccessToken
			client.SetAuthToken(authToken)
			if creds.IsExpired() {
				logger.Warn("Stored access token has expired", "expired_at", creds.ExpiresAt)
			}
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Close()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprint(os.Stderr, cerrors.FormatError(err))
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: ~/.config/factline/cli/config.toml)")
	rootCmd.PersistentFlags().StringVar(&outputFmt, "output", "text", "Output format: text, json, table")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while the command runs")

	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(trackCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(pendingCmd)
	rootCmd.AddCommand(versionCmd)
}
