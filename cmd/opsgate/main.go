package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/quailyquaily/opsgate/internal/pathutil"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	flagConfig  string
	flagVerbose bool
)

func main() {
	root := &cobra.Command{
		Use:           "opsgate",
		Short:         "Approval-gated execution of infrastructure operations",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default ~/.opsgate/config.yaml)")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newPlanCmd(),
		newApplyCmd(),
		newDestroyCmd(),
		newMigrateCmd(),
		newHistoryCmd(),
		newOpsCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() error {
	setDefaults()

	if strings.TrimSpace(flagConfig) != "" {
		viper.SetConfigFile(pathutil.ExpandHomePath(flagConfig))
	} else {
		home, err := os.UserHomeDir()
		if err == nil && strings.TrimSpace(home) != "" {
			viper.AddConfigPath(filepath.Join(home, ".opsgate"))
		}
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("OPSGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("read config: %w", err)
		}
	}

	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)
	return nil
}
