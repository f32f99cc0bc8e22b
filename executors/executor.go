// Package executors adapts families of external tooling (terraform,
// kubectl, helm, cloudformation, schema migrators) to the gateway's
// uniform detect/plan/apply/destroy contract.
package executors

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/quailyquaily/opsgate/gate"
)

// Executor is one backend family. Detect is best-effort marker-file
// sniffing; the registry's registration order resolves overlaps.
type Executor interface {
	gate.Backend
	Detect(workspace string) bool
}

var (
	// ErrNoBackend: the workspace matched no registered executor.
	ErrNoBackend = errors.New("no executor matched the workspace")
	// ErrToolMissing: the underlying CLI is not installed.
	ErrToolMissing = errors.New("required tool is not installed")
)

// Registry holds executors in a fixed, documented priority order: the
// first registered executor whose Detect matches wins. Detection is
// deterministic, never ambiguous.
type Registry struct {
	order []Executor
	log   *slog.Logger
}

func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{log: log}
}

func (r *Registry) Register(e Executor) {
	if e == nil {
		return
	}
	r.order = append(r.order, e)
}

// Resolve returns the first executor claiming the workspace.
func (r *Registry) Resolve(workspace string) (gate.Backend, error) {
	workspace = strings.TrimSpace(workspace)
	if workspace == "" {
		return nil, fmt.Errorf("missing workspace")
	}
	for _, e := range r.order {
		if e.Detect(workspace) {
			r.log.Debug("executor_detected", "workspace", workspace, "executor", e.Name())
			return e, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoBackend, workspace)
}

func (r *Registry) Executors() []Executor {
	return append([]Executor(nil), r.order...)
}

var _ gate.BackendResolver = (*Registry)(nil)
