package builtin

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/quailyquaily/opsgate/executors"
	"github.com/quailyquaily/opsgate/gate"
	"github.com/quailyquaily/opsgate/procrun"
)

const stderrTailBytes = 2048

// lookPath is swappable so tests can pretend a tool is installed.
var lookPath = exec.LookPath

// requireTool resolves a CLI on PATH; the error carries the install
// remediation so callers can surface it verbatim.
func requireTool(name, installHint string) error {
	if _, err := lookPath(name); err != nil {
		return fmt.Errorf("%w: %s (install: %s)", executors.ErrToolMissing, name, installHint)
	}
	return nil
}

// resultFromRun converts a runner result into the gateway's uniform shape:
// a non-zero exit becomes success=false with the stderr tail as the error,
// a timeout or operator abort stays a distinct failure.
func resultFromRun(res procrun.Result, cmdline string) *gate.ExecutionResult {
	out := &gate.ExecutionResult{
		Success:  res.Success(),
		Output:   res.Stdout,
		TimedOut: res.TimedOut,
		Duration: res.Duration,
		Logs:     splitLines(res.Stdout),
	}
	switch {
	case res.TimedOut:
		out.Error = fmt.Sprintf("%s timed out after %s; the process tree was terminated, check partial progress before retrying", cmdline, res.Duration.Round(0))
	case res.Canceled:
		out.Error = fmt.Sprintf("%s was canceled after %s; the process tree was terminated", cmdline, res.Duration.Round(0))
	case res.ExitCode != 0:
		tail := res.StderrTail(stderrTailBytes)
		if tail == "" {
			tail = fmt.Sprintf("exit code %d", res.ExitCode)
		}
		out.Error = tail
	}
	return out
}

// launchFailureResult folds a process-spawning error into a failed result;
// backends never propagate a raw launch fault.
func launchFailureResult(err error, cmdline string) *gate.ExecutionResult {
	return &gate.ExecutionResult{
		Success: false,
		Error:   fmt.Sprintf("failed to launch %s: %v (check the tool is installed and on PATH)", cmdline, err),
	}
}

func splitLines(s string) []string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func stringArg(args map[string]any, key, fallback string) string {
	if args != nil {
		if v, ok := args[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return fallback
}

func hasFileWithSuffix(dir, suffix string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, ent := range entries {
		if !ent.IsDir() && strings.HasSuffix(ent.Name(), suffix) {
			return true
		}
	}
	return false
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}

func dirExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.IsDir()
}

func workspaceBase(workspace string) string {
	base := filepath.Base(filepath.Clean(workspace))
	if base == "." || base == string(filepath.Separator) {
		return "workspace"
	}
	return base
}
