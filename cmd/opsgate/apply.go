package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/quailyquaily/opsgate/gate"
	"github.com/quailyquaily/opsgate/internal/clifmt"
	"github.com/quailyquaily/opsgate/internal/strutil"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

type cycleFlags struct {
	operation   string
	environment string
	description string
	params      []string
	approver    string
	yes         bool
	confirm     string
}

func (f *cycleFlags) register(cmd *cobra.Command, defaultOp string) {
	cmd.Flags().StringVar(&f.operation, "operation", defaultOp, "operation name from the risk table")
	cmd.Flags().StringVar(&f.environment, "env", "dev", "target environment")
	cmd.Flags().StringVar(&f.description, "description", "", "human description recorded with the request")
	cmd.Flags().StringArrayVar(&f.params, "param", nil, "operation parameter, key=value (repeatable)")
	cmd.Flags().StringVar(&f.approver, "approver", defaultApprover(), "identity recorded as approver")
	cmd.Flags().BoolVarP(&f.yes, "yes", "y", false, "approve without an interactive prompt")
	cmd.Flags().StringVar(&f.confirm, "confirm", "", "confirmation phrase for critical operations")
}

func newApplyCmd() *cobra.Command {
	var flags cycleFlags
	cmd := &cobra.Command{
		Use:   "apply [workspace]",
		Short: "Request, approve and execute a change in a workspace",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCycle(cmd.Context(), workspaceArg(args), flags)
		},
	}
	flags.register(cmd, "deploy_application")
	return cmd
}

func newDestroyCmd() *cobra.Command {
	var flags cycleFlags
	cmd := &cobra.Command{
		Use:   "destroy [workspace]",
		Short: "Request, approve and execute a teardown in a workspace",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCycle(cmd.Context(), workspaceArg(args), flags)
		},
	}
	flags.register(cmd, "destroy_infrastructure")
	return cmd
}

func runCycle(ctx context.Context, workspace string, flags cycleFlags) error {
	gw, err := gatewayFromViper(nil)
	if err != nil {
		return err
	}

	params, err := parseParams(flags.params)
	if err != nil {
		return err
	}

	req, err := gw.Request(ctx, gate.CreateParams{
		Operation:   flags.operation,
		Description: strings.TrimSpace(flags.description),
		Parameters:  params,
		Environment: flags.environment,
	})
	if err != nil {
		return err
	}

	view, err := gw.View(req.ID)
	if err != nil {
		return err
	}
	renderView(view)

	phrase, err := gatherConsent(view, flags)
	if err != nil {
		if rejectErr := gw.Reject(ctx, req.ID, flags.approver, err.Error()); rejectErr != nil {
			return rejectErr
		}
		fmt.Println(clifmt.Warn("rejected: " + err.Error()))
		return nil
	}

	if err := gw.Approve(ctx, req.ID, flags.approver, phrase); err != nil {
		return err
	}

	res, err := gw.Execute(ctx, req.ID, workspace, func(line string) {
		fmt.Println(clifmt.Dim(strutil.TruncateUTF8(line, outputLineMax)))
	})
	if err != nil {
		return err
	}
	renderResult(res)
	if !res.Success {
		os.Exit(1)
	}
	return nil
}

// gatherConsent collects the approver's decision. A returned error means
// the request should be rejected with that reason, not that the command
// failed.
func gatherConsent(view *gate.RequestView, flags cycleFlags) (string, error) {
	if flags.yes {
		if view.RequiresConfirmation && strings.TrimSpace(flags.confirm) == "" {
			return "", fmt.Errorf("critical operation requires --confirm %q", view.ConfirmationPhrase)
		}
		return flags.confirm, nil
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("stdin is not a terminal; pass --yes (and --confirm for critical operations)")
	}

	if view.Presentation.RequireDelay && view.Presentation.DelaySeconds > 0 {
		fmt.Println(clifmt.Dim(fmt.Sprintf("pausing %ds before accepting input", view.Presentation.DelaySeconds)))
		time.Sleep(time.Duration(view.Presentation.DelaySeconds) * time.Second)
	}

	reader := bufio.NewReader(os.Stdin)
	if view.RequiresConfirmation {
		fmt.Printf("type %s to proceed: ", clifmt.Key(view.ConfirmationPhrase))
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("read confirmation: %v", err)
		}
		return strings.TrimSpace(line), nil
	}

	fmt.Print("proceed? [y/N]: ")
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read confirmation: %v", err)
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	if answer != "y" && answer != "yes" {
		return "", fmt.Errorf("declined at prompt")
	}
	return "", nil
}

func workspaceArg(args []string) string {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return args[0]
	}
	return "."
}

func parseParams(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid --param %q, want key=value", p)
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out, nil
}

func defaultApprover() string {
	if u := strings.TrimSpace(os.Getenv("USER")); u != "" {
		return u
	}
	return "operator"
}
