package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/quailyquaily/opsgate/executors"
	"github.com/quailyquaily/opsgate/gate"
	"github.com/quailyquaily/opsgate/procrun"
)

const kubectlInstallHint = "https://kubernetes.io/docs/tasks/tools/"

// KubectlExecutor applies Kubernetes manifests from a workspace. There is
// no local state artifact; rollback is the tool's native inverse
// (rollout undo for deployments, delete otherwise).
type KubectlExecutor struct {
	runner procrun.Runner
}

func NewKubectlExecutor(runner procrun.Runner) *KubectlExecutor {
	if runner == nil {
		runner = procrun.New()
	}
	return &KubectlExecutor{runner: runner}
}

func (e *KubectlExecutor) Name() string { return "kubectl" }

// Detect looks for at least one YAML document with apiVersion and kind.
func (e *KubectlExecutor) Detect(workspace string) bool {
	entries, err := os.ReadDir(workspace)
	if err != nil {
		return false
	}
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		name := ent.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		if isKubernetesManifest(filepath.Join(workspace, name)) {
			return true
		}
	}
	return false
}

func isKubernetesManifest(path string) bool {
	b, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	var doc struct {
		APIVersion string `yaml:"apiVersion"`
		Kind       string `yaml:"kind"`
	}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return false
	}
	return strings.TrimSpace(doc.APIVersion) != "" && strings.TrimSpace(doc.Kind) != ""
}

// Lines like "deployment.apps/web created (dry run)" or
// "service/web configured".
var kubectlResultRe = regexp.MustCompile(`^(\S+)/(\S+) (created|configured|unchanged|deleted)`)

func (e *KubectlExecutor) Plan(ctx context.Context, p gate.BackendParams) (*gate.Plan, error) {
	if err := requireTool("kubectl", kubectlInstallHint); err != nil {
		return nil, err
	}
	res, err := e.runner.RunStreaming(ctx, e.spec(p, "apply", "-f", ".", "--dry-run=client", "-n", e.namespace(p)), p.OnLine)
	if err != nil {
		return nil, fmt.Errorf("kubectl dry-run: %w", err)
	}
	if res.TimedOut {
		return nil, fmt.Errorf("kubectl dry-run timed out after %s", res.Duration.Round(0))
	}
	if res.Canceled {
		return nil, fmt.Errorf("kubectl dry-run canceled after %s", res.Duration.Round(0))
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("kubectl dry-run failed: %s", res.StderrTail(stderrTailBytes))
	}

	plan := &gate.Plan{Backend: e.Name()}
	for _, line := range strings.Split(res.Stdout, "\n") {
		m := kubectlResultRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		change := gate.Change{
			ResourceType: m[1],
			ResourceName: m[2],
			Address:      m[1] + "/" + m[2],
		}
		switch m[3] {
		case "created":
			change.Action = gate.ActionCreate
		case "configured":
			change.Action = gate.ActionUpdate
		case "deleted":
			change.Action = gate.ActionDelete
		default:
			change.Action = gate.ActionNoop
		}
		plan.Add(change)
	}
	return plan, nil
}

func (e *KubectlExecutor) Apply(ctx context.Context, p gate.BackendParams) (*gate.ExecutionResult, error) {
	if err := requireTool("kubectl", kubectlInstallHint); err != nil {
		return nil, err
	}
	ns := e.namespace(p)
	res, err := e.runner.RunStreaming(ctx, e.spec(p, "apply", "-f", ".", "-n", ns), p.OnLine)
	if err != nil {
		return launchFailureResult(err, "kubectl apply"), nil
	}

	out := resultFromRun(res, "kubectl apply")
	out.AffectedResources = kubectlAffectedResources(res.Stdout)
	if deployment := stringArg(p.Args, "deployment", ""); deployment != "" {
		out.RollbackCommand = fmt.Sprintf("kubectl rollout undo deployment/%s -n %s", deployment, ns)
	} else {
		out.RollbackCommand = fmt.Sprintf("kubectl delete -f . -n %s", ns)
	}
	return out, nil
}

func (e *KubectlExecutor) Destroy(ctx context.Context, p gate.BackendParams) (*gate.ExecutionResult, error) {
	if err := requireTool("kubectl", kubectlInstallHint); err != nil {
		return nil, err
	}
	res, err := e.runner.RunStreaming(ctx, e.spec(p, "delete", "-f", ".", "-n", e.namespace(p)), p.OnLine)
	if err != nil {
		return launchFailureResult(err, "kubectl delete"), nil
	}
	out := resultFromRun(res, "kubectl delete")
	out.AffectedResources = kubectlAffectedResources(res.Stdout)
	return out, nil
}

func (e *KubectlExecutor) namespace(p gate.BackendParams) string {
	return stringArg(p.Args, "namespace", "default")
}

func (e *KubectlExecutor) spec(p gate.BackendParams, args ...string) procrun.Spec {
	return procrun.Spec{
		Name:    "kubectl",
		Args:    args,
		Dir:     p.Workspace,
		Env:     p.Env,
		Timeout: p.Timeout,
	}
}

func kubectlAffectedResources(stdout string) []string {
	var out []string
	for _, line := range strings.Split(stdout, "\n") {
		if m := kubectlResultRe.FindStringSubmatch(line); m != nil && m[3] != "unchanged" {
			out = append(out, m[1]+"/"+m[2])
		}
	}
	return out
}

var _ executors.Executor = (*KubectlExecutor)(nil)
