package builtin

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/quailyquaily/opsgate/gate"
	"github.com/quailyquaily/opsgate/procrun"
)

const sampleManifest = `apiVersion: apps/v1
kind: Deployment
metadata:
  name: web
`

func TestKubectlDetect(t *testing.T) {
	e := NewKubectlExecutor(&fakeRunner{})

	t.Run("manifest", func(t *testing.T) {
		dir := t.TempDir()
		mustWriteFile(t, filepath.Join(dir, "deploy.yaml"), sampleManifest)
		if !e.Detect(dir) {
			t.Fatal("expected detection")
		}
	})

	t.Run("plain_yaml_without_kind", func(t *testing.T) {
		dir := t.TempDir()
		mustWriteFile(t, filepath.Join(dir, "values.yaml"), "replicas: 3\nimage: app:v2\n")
		if e.Detect(dir) {
			t.Fatal("unexpected detection for non-manifest yaml")
		}
	})

	t.Run("empty_dir", func(t *testing.T) {
		if e.Detect(t.TempDir()) {
			t.Fatal("unexpected detection")
		}
	})
}

func TestKubectlPlan(t *testing.T) {
	stubTools(t)
	stdout := strings.Join([]string{
		"deployment.apps/web created (dry run)",
		"service/web configured (dry run)",
		"configmap/web unchanged (dry run)",
	}, "\n")
	runner := &fakeRunner{results: []procrun.Result{{ExitCode: 0, Stdout: stdout}}}
	e := NewKubectlExecutor(runner)

	plan, err := e.Plan(context.Background(), gate.BackendParams{
		Workspace: t.TempDir(),
		Args:      map[string]any{"namespace": "staging"},
	})
	if err != nil {
		t.Fatalf("Plan error: %v", err)
	}
	if plan.Creates != 1 || plan.Updates != 1 || plan.Noops != 1 {
		t.Fatalf("tallies: %+v", plan)
	}
	if plan.Changes[0].Address != "deployment.apps/web" {
		t.Fatalf("address = %q", plan.Changes[0].Address)
	}

	spec := runner.lastSpec(t)
	joined := strings.Join(spec.Args, " ")
	if !strings.Contains(joined, "--dry-run=client") || !strings.Contains(joined, "-n staging") {
		t.Fatalf("spec args: %v", spec.Args)
	}
}

func TestKubectlApply_DeploymentRollback(t *testing.T) {
	stubTools(t)
	stdout := "deployment.apps/web configured\n"
	runner := &fakeRunner{results: []procrun.Result{{ExitCode: 0, Stdout: stdout}}}
	e := NewKubectlExecutor(runner)

	res, err := e.Apply(context.Background(), gate.BackendParams{
		Workspace: t.TempDir(),
		Args:      map[string]any{"deployment": "web", "namespace": "staging"},
	})
	if err != nil {
		t.Fatalf("Apply error: %v", err)
	}
	if res.RollbackCommand != "kubectl rollout undo deployment/web -n staging" {
		t.Fatalf("rollback = %q", res.RollbackCommand)
	}
	if len(res.AffectedResources) != 1 || res.AffectedResources[0] != "deployment.apps/web" {
		t.Fatalf("affected = %v", res.AffectedResources)
	}
}

func TestKubectlApply_DefaultRollback(t *testing.T) {
	stubTools(t)
	runner := &fakeRunner{results: []procrun.Result{{ExitCode: 0}}}
	e := NewKubectlExecutor(runner)

	res, err := e.Apply(context.Background(), gate.BackendParams{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("Apply error: %v", err)
	}
	if res.RollbackCommand != "kubectl delete -f . -n default" {
		t.Fatalf("rollback = %q", res.RollbackCommand)
	}
}

func TestKubectlDestroy(t *testing.T) {
	stubTools(t)
	stdout := "deployment.apps/web deleted\nservice/web deleted\n"
	runner := &fakeRunner{results: []procrun.Result{{ExitCode: 0, Stdout: stdout}}}
	e := NewKubectlExecutor(runner)

	res, err := e.Destroy(context.Background(), gate.BackendParams{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("Destroy error: %v", err)
	}
	if !res.Success || len(res.AffectedResources) != 2 {
		t.Fatalf("result: %+v", res)
	}
	if spec := runner.lastSpec(t); spec.Args[0] != "delete" {
		t.Fatalf("spec args: %v", spec.Args)
	}
}
