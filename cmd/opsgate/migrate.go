package main

import (
	"fmt"

	"github.com/quailyquaily/opsgate/executors/builtin"
	"github.com/quailyquaily/opsgate/gate"
	"github.com/quailyquaily/opsgate/internal/clifmt"
	"github.com/quailyquaily/opsgate/procrun"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run schema migrations through the approval gate",
	}
	cmd.AddCommand(newMigrateUpCmd(), newMigrateDownCmd(), newMigrateStatusCmd())
	return cmd
}

func newMigrateUpCmd() *cobra.Command {
	var flags cycleFlags
	cmd := &cobra.Command{
		Use:   "up [workspace]",
		Short: "Apply pending migrations",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCycle(cmd.Context(), workspaceArg(args), flags)
		},
	}
	flags.register(cmd, "run_migration")
	return cmd
}

func newMigrateDownCmd() *cobra.Command {
	var flags cycleFlags
	cmd := &cobra.Command{
		Use:   "down [workspace]",
		Short: "Roll back the most recent migration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCycle(cmd.Context(), workspaceArg(args), flags)
		},
	}
	flags.register(cmd, "rollback_migration")
	return cmd
}

// Status is read-only so it talks to the migration executor directly,
// without an approval cycle.
func newMigrateStatusCmd() *cobra.Command {
	var params []string
	cmd := &cobra.Command{
		Use:   "status [workspace]",
		Short: "List migrations and whether each is applied",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseParams(params)
			if err != nil {
				return err
			}
			exec := builtin.NewMigrationExecutor(procrun.New())
			infos, err := exec.Status(cmd.Context(), gate.BackendParams{
				Workspace: workspaceArg(args),
				Args:      parsed,
				Timeout:   viper.GetDuration("exec.timeout"),
			})
			if err != nil {
				return err
			}
			if len(infos) == 0 {
				fmt.Println(clifmt.Dim("no migrations found"))
				return nil
			}
			for _, m := range infos {
				mark := clifmt.Warn("[ ]")
				if m.Applied {
					mark = clifmt.Success("[x]")
				}
				fmt.Printf("%s %s\n", mark, m.Name)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&params, "param", nil, "migration parameter, key=value (repeatable)")
	return cmd
}
