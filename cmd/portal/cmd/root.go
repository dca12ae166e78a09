package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmcleod/patientportal/clinic"
	"github.com/jmcleod/patientportal/config"
	"github.com/jmcleod/patientportal/internal/logging"
	"github.com/jmcleod/patientportal/session"
)

// Version is set at build time with -ldflags.
var Version = "dev"

var (
	configPath string
	apiURL     string
	dataDir    string
	logLevel   string

	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "portal",
	Short: "Patient portal client for the clinic API",
	Long: `Register, log in, keep your patient record up to date and view your
clinic appointments from the command line.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if apiURL != "" {
			c.API.BaseURL = apiURL
		}
		if dataDir != "" {
			c.Storage.DataDir = dataDir
		}
		if logLevel != "" {
			c.Logging.Level = logLevel
		}
		if err := c.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		cfg = c
		logger = logging.New(cfg.Logging, Version)
		return nil
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", describe(err))
		os.Exit(1)
	}
}

// describe turns err into the message shown to the user.
func describe(err error) string {
	var apiErr *clinic.APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr.UserMessage()
	case errors.Is(err, session.ErrNotAuthenticated):
		return "You are not logged in. Run 'portal login' first."
	case errors.Is(err, clinic.ErrRefreshCooldown), errors.Is(err, clinic.ErrRefreshExhausted):
		return clinic.UserMessage(err)
	default:
		return err.Error()
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("PORTAL_CONFIG"), "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "Clinic API base URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Directory for session state (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
}
