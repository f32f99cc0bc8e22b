package builtin

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/quailyquaily/opsgate/executors"
	"github.com/quailyquaily/opsgate/gate"
	"github.com/quailyquaily/opsgate/procrun"
)

// migrationTool describes one member of the schema-migration family.
type migrationTool struct {
	name        string
	installHint string
	// markers relative to the workspace root; first tool with any marker
	// present wins.
	markers  []string
	upArgs   []string
	downArgs []string
	// statusArgs is empty for tools whose status output we do not parse.
	statusArgs []string
}

// Fixed detection priority: alembic, then flyway, then dbmate. Documented
// here so overlapping workspaces resolve deterministically.
var migrationTools = []migrationTool{
	{
		name:        "alembic",
		installHint: "pip install alembic",
		markers:     []string{"alembic.ini"},
		upArgs:      []string{"upgrade", "head"},
		downArgs:    []string{"downgrade", "-1"},
	},
	{
		name:        "flyway",
		installHint: "https://documentation.red-gate.com/fd/command-line-184127404.html",
		markers:     []string{"flyway.conf"},
		upArgs:      []string{"migrate"},
		downArgs:    []string{"undo"},
	},
	{
		name:        "dbmate",
		installHint: "https://github.com/amacneil/dbmate#installation",
		markers:     []string{"dbmate.yml", "db/migrations"},
		upArgs:      []string{"up"},
		downArgs:    []string{"rollback"},
		statusArgs:  []string{"status"},
	},
}

// MigrationExecutor delegates to whichever migration tool's marker file is
// present. Apply runs "up", Destroy runs one "down" step. When the
// parameters name a local database file it is snapshotted before "up" and
// the rollback command restores that snapshot; otherwise rollback is the
// tool's native down command.
type MigrationExecutor struct {
	runner procrun.Runner
}

func NewMigrationExecutor(runner procrun.Runner) *MigrationExecutor {
	if runner == nil {
		runner = procrun.New()
	}
	return &MigrationExecutor{runner: runner}
}

func (e *MigrationExecutor) Name() string { return "migrations" }

func (e *MigrationExecutor) Detect(workspace string) bool {
	_, ok := e.tool(workspace)
	return ok
}

func (e *MigrationExecutor) tool(workspace string) (migrationTool, bool) {
	for _, t := range migrationTools {
		for _, m := range t.markers {
			marker := filepath.Join(workspace, filepath.FromSlash(m))
			if fileExists(marker) || dirExists(marker) {
				return t, true
			}
		}
	}
	return migrationTool{}, false
}

// dbmate status lines: "[X] 20240101120000_add_users.sql" applied,
// "[ ] ..." pending.
var dbmateStatusRe = regexp.MustCompile(`^\[(X| )\]\s+(\S+)`)

func (e *MigrationExecutor) Plan(ctx context.Context, p gate.BackendParams) (*gate.Plan, error) {
	t, ok := e.tool(p.Workspace)
	if !ok {
		return nil, fmt.Errorf("no migration tool marker in %s", p.Workspace)
	}
	if len(t.statusArgs) == 0 {
		return nil, gate.ErrPlanUnsupported
	}
	if err := requireTool(t.name, t.installHint); err != nil {
		return nil, err
	}

	res, err := e.runner.Run(ctx, e.spec(t, p, t.statusArgs...))
	if err != nil {
		return nil, fmt.Errorf("%s status: %w", t.name, err)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("%s status failed: %s", t.name, res.StderrTail(stderrTailBytes))
	}

	plan := &gate.Plan{Backend: e.Name()}
	for _, info := range parseDbmateStatus(res.Stdout) {
		action := gate.ActionNoop
		if !info.Applied {
			action = gate.ActionCreate
		}
		plan.Add(gate.Change{
			Action:       action,
			ResourceType: "migration",
			ResourceName: info.Name,
			Address:      "migration/" + info.ID,
		})
	}
	return plan, nil
}

// Status lists the workspace's migrations when the active tool reports
// them in a parseable form.
func (e *MigrationExecutor) Status(ctx context.Context, p gate.BackendParams) ([]gate.MigrationInfo, error) {
	t, ok := e.tool(p.Workspace)
	if !ok {
		return nil, fmt.Errorf("no migration tool marker in %s", p.Workspace)
	}
	if len(t.statusArgs) == 0 {
		return nil, fmt.Errorf("%s does not report migration status in a parseable form", t.name)
	}
	if err := requireTool(t.name, t.installHint); err != nil {
		return nil, err
	}
	res, err := e.runner.Run(ctx, e.spec(t, p, t.statusArgs...))
	if err != nil {
		return nil, fmt.Errorf("%s status: %w", t.name, err)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("%s status failed: %s", t.name, res.StderrTail(stderrTailBytes))
	}
	return parseDbmateStatus(res.Stdout), nil
}

func parseDbmateStatus(stdout string) []gate.MigrationInfo {
	var out []gate.MigrationInfo
	for _, line := range strings.Split(stdout, "\n") {
		m := dbmateStatusRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		name := m[2]
		id := name
		if i := strings.IndexByte(name, '_'); i > 0 {
			id = name[:i]
		}
		out = append(out, gate.MigrationInfo{
			ID:      id,
			Name:    name,
			Applied: m[1] == "X",
		})
	}
	return out
}

func (e *MigrationExecutor) Apply(ctx context.Context, p gate.BackendParams) (*gate.ExecutionResult, error) {
	t, ok := e.tool(p.Workspace)
	if !ok {
		return nil, fmt.Errorf("no migration tool marker in %s", p.Workspace)
	}
	if err := requireTool(t.name, t.installHint); err != nil {
		return nil, err
	}

	var backup *gate.Backup
	var dbPath string
	if dbFile := stringArg(p.Args, "database_file", ""); dbFile != "" {
		dbPath = dbFile
		if !filepath.IsAbs(dbPath) {
			dbPath = filepath.Join(p.Workspace, dbPath)
		}
		if fileExists(dbPath) {
			b, err := executors.SnapshotState(dbPath)
			if err != nil {
				return nil, fmt.Errorf("snapshot database file: %w", err)
			}
			backup = b
		}
	}

	res, err := e.runner.RunStreaming(ctx, e.spec(t, p, t.upArgs...), p.OnLine)
	if err != nil {
		return launchFailureResult(err, t.name+" "+strings.Join(t.upArgs, " ")), nil
	}

	out := resultFromRun(res, t.name+" "+strings.Join(t.upArgs, " "))
	if backup != nil {
		out.RollbackID = backup.ID
		out.RollbackCommand = fmt.Sprintf("cp %s %s", backup.Path, dbPath)
	} else {
		out.RollbackCommand = t.name + " " + strings.Join(t.downArgs, " ")
	}
	return out, nil
}

func (e *MigrationExecutor) Destroy(ctx context.Context, p gate.BackendParams) (*gate.ExecutionResult, error) {
	t, ok := e.tool(p.Workspace)
	if !ok {
		return nil, fmt.Errorf("no migration tool marker in %s", p.Workspace)
	}
	if err := requireTool(t.name, t.installHint); err != nil {
		return nil, err
	}
	res, err := e.runner.RunStreaming(ctx, e.spec(t, p, t.downArgs...), p.OnLine)
	if err != nil {
		return launchFailureResult(err, t.name+" "+strings.Join(t.downArgs, " ")), nil
	}
	return resultFromRun(res, t.name+" "+strings.Join(t.downArgs, " ")), nil
}

func (e *MigrationExecutor) spec(t migrationTool, p gate.BackendParams, args ...string) procrun.Spec {
	var env []string
	env = append(env, p.Env...)
	if url := stringArg(p.Args, "database_url", ""); url != "" {
		env = append(env, "DATABASE_URL="+url)
	}
	return procrun.Spec{
		Name:    t.name,
		Args:    args,
		Dir:     p.Workspace,
		Env:     env,
		Timeout: p.Timeout,
	}
}

var _ executors.Executor = (*MigrationExecutor)(nil)
