package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/quailyquaily/opsgate/executors"
	"github.com/quailyquaily/opsgate/executors/builtin"
	"github.com/quailyquaily/opsgate/gate"
	"github.com/quailyquaily/opsgate/internal/pathutil"
	"github.com/quailyquaily/opsgate/procrun"
	"github.com/spf13/viper"
)

func setDefaults() {
	viper.SetDefault("approval.ttl", 30*time.Minute)
	viper.SetDefault("exec.timeout", 30*time.Minute)

	viper.SetDefault("history.driver", "sqlite")
	viper.SetDefault("history.dsn", "~/.opsgate/history.db")

	viper.SetDefault("audit.enabled", true)
	viper.SetDefault("audit.jsonl_path", "~/.opsgate/audit.jsonl")
	viper.SetDefault("audit.rotate_max_bytes", int64(100*1024*1024))

	viper.SetDefault("redaction.enabled", true)
}

func gatewayFromViper(log *slog.Logger) (*gate.Gateway, error) {
	if log == nil {
		log = slog.Default()
	}

	var patterns []gate.RegexPattern
	_ = viper.UnmarshalKey("redaction.patterns", &patterns)

	cfg := gate.Config{
		ApprovalTTL:   viper.GetDuration("approval.ttl"),
		ExecTimeout:   viper.GetDuration("exec.timeout"),
		RiskTablePath: pathutil.ExpandHomePath(viper.GetString("risk_table")),
		History: gate.HistoryConfig{
			Driver: strings.TrimSpace(viper.GetString("history.driver")),
			DSN:    pathutil.ExpandHomePath(viper.GetString("history.dsn")),
		},
		Redaction: gate.RedactionConfig{
			Enabled:  viper.GetBool("redaction.enabled"),
			Patterns: patterns,
		},
	}

	if viper.GetBool("audit.enabled") {
		jsonlPath := strings.TrimSpace(viper.GetString("audit.jsonl_path"))
		if jsonlPath == "" {
			home, err := os.UserHomeDir()
			if err == nil && strings.TrimSpace(home) != "" {
				jsonlPath = filepath.Join(home, ".opsgate", "audit.jsonl")
			}
		}
		cfg.Audit = gate.AuditConfig{
			JSONLPath:      pathutil.ExpandHomePath(jsonlPath),
			RotateMaxBytes: viper.GetInt64("audit.rotate_max_bytes"),
		}
	}

	gw, err := gate.NewFromConfig(cfg, executorsFromViper(log), log)
	if err != nil {
		return nil, err
	}

	log.Debug("gateway_ready",
		"history_driver", cfg.History.Driver,
		"audit_jsonl", cfg.Audit.JSONLPath,
		"approval_ttl", cfg.ApprovalTTL.String(),
	)
	return gw, nil
}

// Registration order is the detection priority; more specific markers
// come first.
func executorsFromViper(log *slog.Logger) *executors.Registry {
	r := executors.NewRegistry(log)
	runner := procrun.New()
	r.Register(builtin.NewTerraformExecutor(runner))
	r.Register(builtin.NewKubectlExecutor(runner))
	r.Register(builtin.NewHelmExecutor(runner))
	r.Register(builtin.NewCloudFormationExecutor(runner))
	r.Register(builtin.NewMigrationExecutor(runner))
	return r
}
