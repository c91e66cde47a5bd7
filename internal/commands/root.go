// internal/commands/root.go
package mcpdispatch

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/mwiater/mcpdispatch/internal/appconfig"
	"github.com/mwiater/mcpdispatch/internal/bootstrap"
	"github.com/mwiater/mcpdispatch/internal/logging"
)

var (
	cfgFile       string
	currentConfig *appconfig.Config
	appVersion    = "dev"
	appCommit     = "none"
	appDate       = "unknown"
)

// flagKeys maps command-line flags to configuration keys. Only flags that were
// set explicitly override the config file and environment.
var flagKeys = map[string]string{
	"debug":     "debug",
	"logLevel":  "logLevel",
	"logFile":   "logFile",
	"transport": "transport",
	"timeout":   "handlerTimeout",
	"host":      "http.host",
	"port":      "http.port",
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mcpdispatch",
	Short: "mcpdispatch: a tool-dispatch server speaking JSON-RPC over stdio and HTTP",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		v := appconfig.NewViper()
		for name, key := range flagKeys {
			if f := lookupFlag(cmd, name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}

		cfg, err := appconfig.Load(v, cfgFile)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		currentConfig = &cfg

		if _, err := logging.Init(cfg.LogFile, cfg.EffectiveLogLevel()); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", appVersion, appCommit, appDate)

	err := rootCmd.Execute()
	_ = logging.Close()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default "+appconfig.DefaultConfigPath+")")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().String("logLevel", "", "log level: debug, info, warn or error")
	rootCmd.PersistentFlags().String("logFile", "", "also write JSON logs to this file")
	rootCmd.PersistentFlags().Int("timeout", 0, "per-call handler timeout in seconds")
}

func lookupFlag(cmd *cobra.Command, name string) *pflag.Flag {
	if f := cmd.Flags().Lookup(name); f != nil {
		return f
	}
	return cmd.Root().PersistentFlags().Lookup(name)
}

// GetConfig returns the loaded application configuration for other packages.
func GetConfig() *appconfig.Config {
	return currentConfig
}

// buildApp wires the server from the loaded configuration.
func buildApp() (*bootstrap.App, error) {
	if currentConfig == nil {
		return nil, fmt.Errorf("configuration is not loaded")
	}
	return bootstrap.Build(*currentConfig, appVersion, logging.L())
}

// SetVersionInfo allows the main package to inject build-time variables.
func SetVersionInfo(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}
