// Package builtin holds the concrete backend executors shipped with the
// gateway. Each one adapts a single external tool family.
package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/quailyquaily/opsgate/executors"
	"github.com/quailyquaily/opsgate/gate"
	"github.com/quailyquaily/opsgate/procrun"
)

const terraformInstallHint = "https://developer.hashicorp.com/terraform/install"

// TerraformExecutor drives an infra-as-code workspace through
// plan/apply/destroy. A local terraform.tfstate is snapshotted before any
// mutating command, and the rollback command names that exact snapshot.
type TerraformExecutor struct {
	runner procrun.Runner
}

func NewTerraformExecutor(runner procrun.Runner) *TerraformExecutor {
	if runner == nil {
		runner = procrun.New()
	}
	return &TerraformExecutor{runner: runner}
}

func (e *TerraformExecutor) Name() string { return "terraform" }

func (e *TerraformExecutor) Detect(workspace string) bool {
	if hasFileWithSuffix(workspace, ".tf") {
		return true
	}
	if _, err := os.Stat(filepath.Join(workspace, ".terraform")); err == nil {
		return true
	}
	_, err := os.Stat(filepath.Join(workspace, "terraform.tfstate"))
	return err == nil
}

var (
	tfChangeRe  = regexp.MustCompile(`^\s*# (\S+) (?:will be|must be) (created|updated in-place|destroyed|replaced)`)
	tfSummaryRe = regexp.MustCompile(`Plan: (\d+) to add, (\d+) to change, (\d+) to destroy`)
	tfDoneRe    = regexp.MustCompile(`^(\S+): (Creation complete|Modifications complete|Destruction complete)`)
)

func (e *TerraformExecutor) Plan(ctx context.Context, p gate.BackendParams) (*gate.Plan, error) {
	if err := e.requireTool(); err != nil {
		return nil, err
	}
	res, err := e.runner.RunStreaming(ctx, e.spec(p, "plan", "-no-color", "-input=false"), p.OnLine)
	if err != nil {
		return nil, fmt.Errorf("terraform plan: %w", err)
	}
	if res.TimedOut {
		return nil, fmt.Errorf("terraform plan timed out after %s", res.Duration.Round(0))
	}
	if res.Canceled {
		return nil, fmt.Errorf("terraform plan canceled after %s", res.Duration.Round(0))
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("terraform plan failed: %s", res.StderrTail(2048))
	}

	plan := &gate.Plan{Backend: e.Name()}
	for _, line := range strings.Split(res.Stdout, "\n") {
		m := tfChangeRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		addr := m[1]
		change := gate.Change{
			Address:      addr,
			ResourceType: resourceTypeFromAddress(addr),
			ResourceName: resourceNameFromAddress(addr),
		}
		switch m[2] {
		case "created":
			change.Action = gate.ActionCreate
		case "updated in-place":
			change.Action = gate.ActionUpdate
		case "destroyed":
			change.Action = gate.ActionDelete
		case "replaced":
			change.Action = gate.ActionUpdate
			change.Details = map[string]any{"replace": true}
		}
		plan.Add(change)
	}
	if len(plan.Changes) == 0 && !tfSummaryRe.MatchString(res.Stdout) && !strings.Contains(res.Stdout, "No changes") {
		// Output did not look like a plan at all; surface it rather than
		// pretending nothing would change.
		return nil, fmt.Errorf("terraform plan output not recognized: %s", firstLine(res.Stdout))
	}
	return plan, nil
}

func (e *TerraformExecutor) Apply(ctx context.Context, p gate.BackendParams) (*gate.ExecutionResult, error) {
	if err := e.requireTool(); err != nil {
		return nil, err
	}

	statePath := filepath.Join(p.Workspace, "terraform.tfstate")
	var backup *gate.Backup
	if _, err := os.Stat(statePath); err == nil {
		b, err := executors.SnapshotState(statePath)
		if err != nil {
			return nil, fmt.Errorf("snapshot terraform state: %w", err)
		}
		backup = b
	}

	res, err := e.runner.RunStreaming(ctx, e.spec(p, "apply", "-auto-approve", "-input=false", "-no-color"), p.OnLine)
	if err != nil {
		return launchFailureResult(err, "terraform apply"), nil
	}

	out := resultFromRun(res, "terraform apply")
	out.AffectedResources = tfAffectedResources(res.Stdout)
	if backup != nil {
		out.RollbackID = backup.ID
		out.RollbackCommand = fmt.Sprintf("cp %s %s && terraform apply -auto-approve", backup.Path, statePath)
	} else {
		out.RollbackCommand = "terraform destroy -auto-approve"
	}
	return out, nil
}

func (e *TerraformExecutor) Destroy(ctx context.Context, p gate.BackendParams) (*gate.ExecutionResult, error) {
	if err := e.requireTool(); err != nil {
		return nil, err
	}
	res, err := e.runner.RunStreaming(ctx, e.spec(p, "destroy", "-auto-approve", "-input=false", "-no-color"), p.OnLine)
	if err != nil {
		return launchFailureResult(err, "terraform destroy"), nil
	}
	out := resultFromRun(res, "terraform destroy")
	out.AffectedResources = tfAffectedResources(res.Stdout)
	return out, nil
}

func (e *TerraformExecutor) requireTool() error {
	return requireTool("terraform", terraformInstallHint)
}

func (e *TerraformExecutor) spec(p gate.BackendParams, args ...string) procrun.Spec {
	return procrun.Spec{
		Name:    "terraform",
		Args:    args,
		Dir:     p.Workspace,
		Env:     p.Env,
		Timeout: p.Timeout,
	}
}

func tfAffectedResources(stdout string) []string {
	var out []string
	for _, line := range strings.Split(stdout, "\n") {
		if m := tfDoneRe.FindStringSubmatch(line); m != nil {
			out = append(out, m[1])
		}
	}
	return out
}

func resourceTypeFromAddress(addr string) string {
	parts := strings.Split(addr, ".")
	if len(parts) >= 2 {
		return parts[len(parts)-2]
	}
	return addr
}

func resourceNameFromAddress(addr string) string {
	parts := strings.Split(addr, ".")
	return parts[len(parts)-1]
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

var _ executors.Executor = (*TerraformExecutor)(nil)
