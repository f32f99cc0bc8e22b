package builtin

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/quailyquaily/opsgate/executors"
	"github.com/quailyquaily/opsgate/gate"
	"github.com/quailyquaily/opsgate/procrun"
)

const helmInstallHint = "https://helm.sh/docs/intro/install/"

// HelmExecutor installs and upgrades chart releases. It has no plan
// capability, which it reports explicitly instead of returning an empty
// plan; rollback uses helm's own release history.
type HelmExecutor struct {
	runner procrun.Runner
}

func NewHelmExecutor(runner procrun.Runner) *HelmExecutor {
	if runner == nil {
		runner = procrun.New()
	}
	return &HelmExecutor{runner: runner}
}

func (e *HelmExecutor) Name() string { return "helm" }

func (e *HelmExecutor) Detect(workspace string) bool {
	return fileExists(filepath.Join(workspace, "Chart.yaml"))
}

func (e *HelmExecutor) Plan(ctx context.Context, p gate.BackendParams) (*gate.Plan, error) {
	return nil, gate.ErrPlanUnsupported
}

func (e *HelmExecutor) Apply(ctx context.Context, p gate.BackendParams) (*gate.ExecutionResult, error) {
	if err := requireTool("helm", helmInstallHint); err != nil {
		return nil, err
	}
	release := e.release(p)
	ns := stringArg(p.Args, "namespace", "default")

	args := []string{"upgrade", "--install", release, ".", "-n", ns}
	if values := stringArg(p.Args, "values", ""); values != "" {
		args = append(args, "-f", values)
	}

	res, err := e.runner.RunStreaming(ctx, e.spec(p, args...), p.OnLine)
	if err != nil {
		return launchFailureResult(err, "helm upgrade"), nil
	}

	out := resultFromRun(res, "helm upgrade")
	out.AffectedResources = []string{"release/" + release}
	out.RollbackCommand = fmt.Sprintf("helm rollback %s -n %s", release, ns)
	return out, nil
}

func (e *HelmExecutor) Destroy(ctx context.Context, p gate.BackendParams) (*gate.ExecutionResult, error) {
	if err := requireTool("helm", helmInstallHint); err != nil {
		return nil, err
	}
	release := e.release(p)
	ns := stringArg(p.Args, "namespace", "default")

	res, err := e.runner.RunStreaming(ctx, e.spec(p, "uninstall", release, "-n", ns), p.OnLine)
	if err != nil {
		return launchFailureResult(err, "helm uninstall"), nil
	}
	out := resultFromRun(res, "helm uninstall")
	out.AffectedResources = []string{"release/" + release}
	return out, nil
}

func (e *HelmExecutor) release(p gate.BackendParams) string {
	return stringArg(p.Args, "release", workspaceBase(p.Workspace))
}

func (e *HelmExecutor) spec(p gate.BackendParams, args ...string) procrun.Spec {
	return procrun.Spec{
		Name:    "helm",
		Args:    args,
		Dir:     p.Workspace,
		Env:     p.Env,
		Timeout: p.Timeout,
	}
}

var _ executors.Executor = (*HelmExecutor)(nil)
