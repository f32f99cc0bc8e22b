package builtin

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/quailyquaily/opsgate/gate"
	"github.com/quailyquaily/opsgate/procrun"
)

const cfnTemplate = `AWSTemplateFormatVersion: "2010-09-09"
Resources:
  WebServer:
    Type: AWS::EC2::Instance
`

func TestCloudFormationDetect(t *testing.T) {
	e := NewCloudFormationExecutor(&fakeRunner{})

	t.Run("yaml_template", func(t *testing.T) {
		dir := t.TempDir()
		mustWriteFile(t, filepath.Join(dir, "template.yaml"), cfnTemplate)
		if !e.Detect(dir) {
			t.Fatal("expected detection")
		}
	})

	t.Run("json_template", func(t *testing.T) {
		dir := t.TempDir()
		mustWriteFile(t, filepath.Join(dir, "template.json"), `{"Resources": {"WebServer": {"Type": "AWS::EC2::Instance"}}}`)
		if !e.Detect(dir) {
			t.Fatal("expected detection")
		}
	})

	t.Run("unrelated_template_file", func(t *testing.T) {
		dir := t.TempDir()
		mustWriteFile(t, filepath.Join(dir, "template.yaml"), "just: yaml\n")
		if e.Detect(dir) {
			t.Fatal("unexpected detection for non-cfn yaml")
		}
	})

	t.Run("empty_dir", func(t *testing.T) {
		if e.Detect(t.TempDir()) {
			t.Fatal("unexpected detection")
		}
	})
}

const cfnDescribeOutput = `{
  "Changes": [
    {"ResourceChange": {"Action": "Add", "LogicalResourceId": "WebServer", "ResourceType": "AWS::EC2::Instance"}},
    {"ResourceChange": {"Action": "Modify", "LogicalResourceId": "AppRole", "ResourceType": "AWS::IAM::Role"}},
    {"ResourceChange": {"Action": "Remove", "LogicalResourceId": "OldBucket", "ResourceType": "AWS::S3::Bucket"}}
  ]
}`

func TestCloudFormationPlan(t *testing.T) {
	stubTools(t)
	dir := t.TempDir()
	mustWriteFile(t, filepath.Join(dir, "template.yaml"), cfnTemplate)

	// Call order: describe-stacks (type probe), create-change-set, wait,
	// describe-change-set, delete-change-set cleanup.
	runner := &fakeRunner{results: []procrun.Result{
		{ExitCode: 255, Stderr: "Stack with id app does not exist"},
		{ExitCode: 0},
		{ExitCode: 0},
		{ExitCode: 0, Stdout: cfnDescribeOutput},
		{ExitCode: 0},
	}}
	e := NewCloudFormationExecutor(runner)

	plan, err := e.Plan(context.Background(), gate.BackendParams{
		Workspace: dir,
		Args:      map[string]any{"stack_name": "app"},
	})
	if err != nil {
		t.Fatalf("Plan error: %v", err)
	}
	if plan.Creates != 1 || plan.Updates != 1 || plan.Deletes != 1 {
		t.Fatalf("tallies: %+v", plan)
	}
	if plan.Changes[0].Address != "app/WebServer" {
		t.Fatalf("address = %q", plan.Changes[0].Address)
	}

	// Stack did not exist, so the change set must be CREATE-typed.
	createArgs := strings.Join(runner.specs[1].Args, " ")
	if !strings.Contains(createArgs, "create-change-set") || !strings.Contains(createArgs, "--change-set-type CREATE") {
		t.Fatalf("create args: %v", runner.specs[1].Args)
	}

	// The preview cleans up its change set.
	last := runner.lastSpec(t)
	if !strings.Contains(strings.Join(last.Args, " "), "delete-change-set") {
		t.Fatalf("cleanup not issued, last args: %v", last.Args)
	}
}

func TestCloudFormationApply(t *testing.T) {
	stubTools(t)
	dir := t.TempDir()
	mustWriteFile(t, filepath.Join(dir, "template.yaml"), cfnTemplate)

	runner := &fakeRunner{results: []procrun.Result{{ExitCode: 0, Stdout: "Successfully created/updated stack - app\n"}}}
	e := NewCloudFormationExecutor(runner)

	res, err := e.Apply(context.Background(), gate.BackendParams{
		Workspace: dir,
		Args: map[string]any{
			"stack_name": "app",
			"parameters": map[string]any{"InstanceType": "t3.micro", "Env": "staging"},
		},
	})
	if err != nil {
		t.Fatalf("Apply error: %v", err)
	}
	if !res.Success {
		t.Fatalf("result: %+v", res)
	}
	if res.RollbackCommand != "aws cloudformation delete-stack --stack-name app" {
		t.Fatalf("rollback = %q", res.RollbackCommand)
	}

	joined := strings.Join(runner.lastSpec(t).Args, " ")
	if !strings.Contains(joined, "cloudformation deploy") {
		t.Fatalf("args: %q", joined)
	}
	// Overrides are sorted for deterministic command lines.
	if !strings.Contains(joined, "--parameter-overrides Env=staging InstanceType=t3.micro") {
		t.Fatalf("parameter overrides: %q", joined)
	}
}

func TestCloudFormationApply_NoTemplate(t *testing.T) {
	stubTools(t)
	e := NewCloudFormationExecutor(&fakeRunner{})
	if _, err := e.Apply(context.Background(), gate.BackendParams{Workspace: t.TempDir()}); err == nil {
		t.Fatal("expected error without a template")
	}
}

func TestCloudFormationDestroy(t *testing.T) {
	stubTools(t)
	runner := &fakeRunner{results: []procrun.Result{{ExitCode: 0}}}
	e := NewCloudFormationExecutor(runner)

	res, err := e.Destroy(context.Background(), gate.BackendParams{
		Workspace: t.TempDir(),
		Args:      map[string]any{"stack_name": "app"},
	})
	if err != nil {
		t.Fatalf("Destroy error: %v", err)
	}
	if !res.Success || res.AffectedResources[0] != "stack/app" {
		t.Fatalf("result: %+v", res)
	}
	joined := strings.Join(runner.lastSpec(t).Args, " ")
	if !strings.Contains(joined, "delete-stack --stack-name app") {
		t.Fatalf("args: %q", joined)
	}
}

func TestParameterOverrides(t *testing.T) {
	if got := parameterOverrides(nil); got != nil {
		t.Fatalf("nil args: %v", got)
	}
	if got := parameterOverrides(map[string]any{"parameters": "not-a-map"}); got != nil {
		t.Fatalf("wrong type: %v", got)
	}
}
