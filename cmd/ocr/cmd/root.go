package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/MeKo-Tech/ticketocr/internal/config"
	"github.com/MeKo-Tech/ticketocr/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Global configuration loader.
	configLoader *config.Loader
	// Global configuration.
	globalConfig *config.Config
	// Configuration file path.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "ticketocr",
	Short: "Extract structured fields from scanned delivery tickets",
	Long: `ticketocr recognizes scanned delivery tickets and extracts their fields
(ticket number, date, truck registration, driver, commodity, weight,
loading location, destination, dispatcher) with a confidence per field.

Pattern matching and template-based location run side by side; their
results are fused and low-confidence tickets are flagged for verification.

Examples:
  ticketocr image ticket.jpg
  ticketocr batch scans/ --recursive --format json --output tickets.json
  ticketocr text recognized.txt
  ticketocr evaluate annotations.yaml
  ticketocr serve --port 8080`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := initConfig(cmd); err != nil {
			return err
		}
		setupLogging(cmd.ErrOrStderr(), globalConfig)
		return nil
	},
	RunE: func(cmd *cobra.Command, _ []string) error {
		if v, _ := cmd.Flags().GetBool("version"); v {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Get().String())
			return nil
		}
		return cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// GetRootCommand returns the root command for testing purposes.
func GetRootCommand() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is search in ., $HOME, $HOME/.config/ticketocr, /etc/ticketocr)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output (equivalent to --log-level=debug)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("tessdata", os.Getenv("TESSDATA_PREFIX"), "tessdata directory for the recognizer")
	rootCmd.Flags().Bool("version", false, "print version information and exit")
}

// initConfig reads the config file and environment. Each invocation uses a
// fresh viper instance so repeated executions do not share state.
func initConfig(cmd *cobra.Command) error {
	v := viper.New()
	_ = v.BindPFlag("verbose", cmd.Root().PersistentFlags().Lookup("verbose"))
	_ = v.BindPFlag("log_level", cmd.Root().PersistentFlags().Lookup("log-level"))
	configLoader = config.NewLoaderWithViper(v)

	var err error
	if cfgFile != "" {
		globalConfig, err = configLoader.LoadWithFile(cfgFile)
	} else {
		globalConfig, err = configLoader.Load()
	}
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}
	return nil
}

func setupLogging(w io.Writer, cfg *config.Config) {
	var level slog.Level
	switch {
	case cfg.Verbose:
		level = slog.LevelDebug
	case cfg.LogLevel == "debug":
		level = slog.LevelDebug
	case cfg.LogLevel == "warn":
		level = slog.LevelWarn
	case cfg.LogLevel == "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Logs go to stderr; stdout carries results.
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// GetConfig returns a copy of the loaded configuration.
func GetConfig() *config.Config {
	if globalConfig == nil {
		cfg := config.DefaultConfig()
		return &cfg
	}
	cfg := *globalConfig
	return &cfg
}

// GetConfigLoader returns the configuration loader of the current invocation.
func GetConfigLoader() *config.Loader {
	if configLoader == nil {
		configLoader = config.NewLoaderWithViper(viper.New())
	}
	return configLoader
}
