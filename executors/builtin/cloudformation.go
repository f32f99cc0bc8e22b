package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quailyquaily/opsgate/executors"
	"github.com/quailyquaily/opsgate/gate"
	"github.com/quailyquaily/opsgate/procrun"
)

const awsInstallHint = "https://docs.aws.amazon.com/cli/latest/userguide/getting-started-install.html"

var cfnTemplateNames = []string{"template.yaml", "template.yml", "template.json"}

// CloudFormationExecutor deploys a stack template. Previews go through a
// change set; the native inverse of a deploy is delete-stack.
type CloudFormationExecutor struct {
	runner procrun.Runner
}

func NewCloudFormationExecutor(runner procrun.Runner) *CloudFormationExecutor {
	if runner == nil {
		runner = procrun.New()
	}
	return &CloudFormationExecutor{runner: runner}
}

func (e *CloudFormationExecutor) Name() string { return "cloudformation" }

func (e *CloudFormationExecutor) Detect(workspace string) bool {
	_, ok := e.templatePath(workspace)
	return ok
}

func (e *CloudFormationExecutor) templatePath(workspace string) (string, bool) {
	for _, name := range cfnTemplateNames {
		path := filepath.Join(workspace, name)
		if !fileExists(path) {
			continue
		}
		if isCloudFormationTemplate(path) {
			return path, true
		}
	}
	return "", false
}

func isCloudFormationTemplate(path string) bool {
	b, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	var doc struct {
		FormatVersion string         `yaml:"AWSTemplateFormatVersion" json:"AWSTemplateFormatVersion"`
		Resources     map[string]any `yaml:"Resources" json:"Resources"`
	}
	if strings.HasSuffix(path, ".json") {
		if err := json.Unmarshal(b, &doc); err != nil {
			return false
		}
	} else {
		if err := yaml.Unmarshal(b, &doc); err != nil {
			return false
		}
	}
	return doc.FormatVersion != "" || len(doc.Resources) > 0
}

type cfnChangeSet struct {
	Changes []struct {
		ResourceChange struct {
			Action            string `json:"Action"`
			LogicalResourceID string `json:"LogicalResourceId"`
			ResourceType      string `json:"ResourceType"`
		} `json:"ResourceChange"`
	} `json:"Changes"`
}

func (e *CloudFormationExecutor) Plan(ctx context.Context, p gate.BackendParams) (*gate.Plan, error) {
	if err := requireTool("aws", awsInstallHint); err != nil {
		return nil, err
	}
	template, ok := e.templatePath(p.Workspace)
	if !ok {
		return nil, fmt.Errorf("no cloudformation template in %s", p.Workspace)
	}
	stack := e.stackName(p)
	changeSet := "opsgate-" + time.Now().UTC().Format("20060102t150405z")

	create := e.spec(p, "cloudformation", "create-change-set",
		"--stack-name", stack,
		"--change-set-name", changeSet,
		"--template-body", "file://"+template,
		"--capabilities", "CAPABILITY_IAM", "CAPABILITY_NAMED_IAM",
		"--change-set-type", e.changeSetType(ctx, p, stack),
	)
	if res, err := e.runner.Run(ctx, create); err != nil {
		return nil, fmt.Errorf("create change set: %w", err)
	} else if res.ExitCode != 0 {
		return nil, fmt.Errorf("create change set failed: %s", res.StderrTail(stderrTailBytes))
	}

	wait := e.spec(p, "cloudformation", "wait", "change-set-create-complete",
		"--stack-name", stack, "--change-set-name", changeSet)
	_, _ = e.runner.Run(ctx, wait)

	describe := e.spec(p, "cloudformation", "describe-change-set",
		"--stack-name", stack, "--change-set-name", changeSet, "--output", "json")
	res, err := e.runner.Run(ctx, describe)
	if err != nil {
		return nil, fmt.Errorf("describe change set: %w", err)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("describe change set failed: %s", res.StderrTail(stderrTailBytes))
	}

	// Best-effort cleanup; the preview itself must not mutate anything.
	cleanup := e.spec(p, "cloudformation", "delete-change-set",
		"--stack-name", stack, "--change-set-name", changeSet)
	defer func() { _, _ = e.runner.Run(context.WithoutCancel(ctx), cleanup) }()

	var cs cfnChangeSet
	if err := json.Unmarshal([]byte(res.Stdout), &cs); err != nil {
		return nil, fmt.Errorf("parse change set: %w", err)
	}

	plan := &gate.Plan{Backend: e.Name()}
	for _, c := range cs.Changes {
		rc := c.ResourceChange
		change := gate.Change{
			ResourceType: rc.ResourceType,
			ResourceName: rc.LogicalResourceID,
			Address:      stack + "/" + rc.LogicalResourceID,
		}
		switch rc.Action {
		case "Add":
			change.Action = gate.ActionCreate
		case "Modify":
			change.Action = gate.ActionUpdate
		case "Remove":
			change.Action = gate.ActionDelete
		default:
			change.Action = gate.ActionNoop
		}
		plan.Add(change)
	}
	return plan, nil
}

func (e *CloudFormationExecutor) Apply(ctx context.Context, p gate.BackendParams) (*gate.ExecutionResult, error) {
	if err := requireTool("aws", awsInstallHint); err != nil {
		return nil, err
	}
	template, ok := e.templatePath(p.Workspace)
	if !ok {
		return nil, fmt.Errorf("no cloudformation template in %s", p.Workspace)
	}
	stack := e.stackName(p)

	args := []string{"cloudformation", "deploy",
		"--stack-name", stack,
		"--template-file", template,
		"--capabilities", "CAPABILITY_IAM", "CAPABILITY_NAMED_IAM",
		"--no-fail-on-empty-changeset",
	}
	if overrides := parameterOverrides(p.Args); len(overrides) > 0 {
		args = append(args, "--parameter-overrides")
		args = append(args, overrides...)
	}

	res, err := e.runner.RunStreaming(ctx, e.spec(p, args...), p.OnLine)
	if err != nil {
		return launchFailureResult(err, "aws cloudformation deploy"), nil
	}

	out := resultFromRun(res, "aws cloudformation deploy")
	out.AffectedResources = []string{"stack/" + stack}
	out.RollbackCommand = fmt.Sprintf("aws cloudformation delete-stack --stack-name %s", stack)
	return out, nil
}

func (e *CloudFormationExecutor) Destroy(ctx context.Context, p gate.BackendParams) (*gate.ExecutionResult, error) {
	if err := requireTool("aws", awsInstallHint); err != nil {
		return nil, err
	}
	stack := e.stackName(p)

	res, err := e.runner.RunStreaming(ctx, e.spec(p, "cloudformation", "delete-stack", "--stack-name", stack), p.OnLine)
	if err != nil {
		return launchFailureResult(err, "aws cloudformation delete-stack"), nil
	}
	out := resultFromRun(res, "aws cloudformation delete-stack")
	out.AffectedResources = []string{"stack/" + stack}
	return out, nil
}

// changeSetType is CREATE for a stack that does not exist yet, UPDATE
// otherwise.
func (e *CloudFormationExecutor) changeSetType(ctx context.Context, p gate.BackendParams, stack string) string {
	res, err := e.runner.Run(ctx, e.spec(p, "cloudformation", "describe-stacks", "--stack-name", stack))
	if err != nil || res.ExitCode != 0 {
		return "CREATE"
	}
	return "UPDATE"
}

func (e *CloudFormationExecutor) stackName(p gate.BackendParams) string {
	return stringArg(p.Args, "stack_name", workspaceBase(p.Workspace))
}

func (e *CloudFormationExecutor) spec(p gate.BackendParams, args ...string) procrun.Spec {
	return procrun.Spec{
		Name:    "aws",
		Args:    args,
		Dir:     p.Workspace,
		Env:     p.Env,
		Timeout: p.Timeout,
	}
}

// parameterOverrides renders args["parameters"] (a map) as sorted
// Key=Value pairs.
func parameterOverrides(args map[string]any) []string {
	params, ok := args["parameters"].(map[string]any)
	if !ok || len(params) == 0 {
		return nil
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s=%v", k, params[k]))
	}
	return out
}

var _ executors.Executor = (*CloudFormationExecutor)(nil)
