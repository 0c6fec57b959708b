package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/vegasq/deltagate/tracing"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "deltagate",
	Short: "Query and maintain catalog-governed Delta tables",
	Long: `deltagate resolves tables through a governance catalog (Unity Catalog or a
local warehouse directory), caches the short-lived storage credentials it is
issued, and runs SQL across the tables a query references. It also appends,
merges, compacts and vacuums tables, either from the command line or behind
its HTTP API.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogger(cmd)
	},
	SilenceUsage: true,
}

// Execute is called by main.go and is the entry point for the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: ./deltagate.yaml)")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("log-format", "text", "log format: text, json")
	pf.String("catalog-type", "unity", "catalog backend: unity, local")
	pf.String("catalog-endpoint", "", "Unity Catalog endpoint URL")
	pf.String("catalog-token", "", "Unity Catalog token used when no caller identity is given")
	pf.String("warehouse", "", "warehouse directory for the local catalog")

	mustBindPFlag("log_level", pf.Lookup("log-level"))
	mustBindPFlag("log_format", pf.Lookup("log-format"))
	mustBindPFlag("catalog.type", pf.Lookup("catalog-type"))
	mustBindPFlag("catalog.endpoint", pf.Lookup("catalog-endpoint"))
	mustBindPFlag("catalog.token", pf.Lookup("catalog-token"))
	mustBindPFlag("catalog.warehouse", pf.Lookup("warehouse"))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(catalogsCmd, schemasCmd, tablesCmd, tableCmd, historyCmd, createCmd)
	rootCmd.AddCommand(appendCmd, compactCmd, vacuumCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("deltagate")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("DELTAGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Only warn if a config file was explicitly specified but could not be read.
			if cfgFile != "" {
				fmt.Fprintf(os.Stderr, "Warning: could not read config file: %v\n", err)
			}
		}
	}
}

func setupLogger(cmd *cobra.Command) error {
	level := viper.GetString("log_level")
	format := viper.GetString("log_format")

	var slogLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		slogLevel = slog.LevelDebug
	case "info":
		slogLevel = slog.LevelInfo
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		return fmt.Errorf("unknown log level: %q (expected debug, info, warn, error)", level)
	}

	opts := &slog.HandlerOptions{Level: slogLevel}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(cmd.ErrOrStderr(), opts)
	case "json":
		handler = slog.NewJSONHandler(cmd.ErrOrStderr(), opts)
	default:
		return fmt.Errorf("unknown log format: %q (expected text, json)", format)
	}

	slog.SetDefault(slog.New(tracing.NewTracingHandler(handler)))
	return nil
}

func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("viper.BindPFlag(%q): %v", key, err))
	}
}
