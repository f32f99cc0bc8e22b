package gate

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Config assembles a complete gateway from plain values; the cmd layer
// fills it from viper.
type Config struct {
	// ApprovalTTL bounds the unapproved window; zero means the default
	// 30 minutes.
	ApprovalTTL time.Duration
	// ExecTimeout bounds each backend invocation.
	ExecTimeout time.Duration
	// RiskTablePath overrides the embedded risk table when set.
	RiskTablePath string

	History   HistoryConfig
	Audit     AuditConfig
	Redaction RedactionConfig
}

type HistoryConfig struct {
	// Driver is "memory" (default) or "sqlite".
	Driver string
	DSN    string
}

type AuditConfig struct {
	JSONLPath      string
	RotateMaxBytes int64
}

// NewFromConfig builds the classifier, registry, history and audit sink
// described by cfg and wires them into a Gateway.
func NewFromConfig(cfg Config, resolver BackendResolver, log *slog.Logger) (*Gateway, error) {
	if log == nil {
		log = slog.Default()
	}

	table, err := riskTableFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	classifier, err := NewClassifier(table)
	if err != nil {
		return nil, err
	}

	history, err := historyFromConfig(cfg.History)
	if err != nil {
		return nil, err
	}

	regOpts := []RegistryOption{WithLogger(log)}
	if cfg.ApprovalTTL > 0 {
		regOpts = append(regOpts, WithTTL(cfg.ApprovalTTL))
	}
	registry, err := NewRegistry(classifier, history, regOpts...)
	if err != nil {
		return nil, err
	}

	gwOpts := []GatewayOption{
		WithGatewayLogger(log),
		WithRedactor(NewRedactor(cfg.Redaction)),
	}
	if cfg.ExecTimeout > 0 {
		gwOpts = append(gwOpts, WithExecTimeout(cfg.ExecTimeout))
	}
	if strings.TrimSpace(cfg.Audit.JSONLPath) != "" {
		sink, err := NewJSONLAuditSink(cfg.Audit.JSONLPath, cfg.Audit.RotateMaxBytes)
		if err != nil {
			log.Warn("audit_sink_error", "error", err.Error())
		} else {
			gwOpts = append(gwOpts, WithAuditSink(sink))
		}
	}

	return NewGateway(registry, resolver, gwOpts...)
}

func riskTableFromConfig(cfg Config) (*RiskTable, error) {
	if strings.TrimSpace(cfg.RiskTablePath) != "" {
		return LoadRiskTable(cfg.RiskTablePath)
	}
	return DefaultRiskTable()
}

func historyFromConfig(cfg HistoryConfig) (History, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return NewMemoryHistory(), nil
	case "sqlite":
		return NewSQLiteHistory(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported history.driver: %s", cfg.Driver)
	}
}
