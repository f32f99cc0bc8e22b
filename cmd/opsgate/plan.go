package main

import (
	"errors"
	"fmt"

	"github.com/quailyquaily/opsgate/gate"
	"github.com/quailyquaily/opsgate/internal/clifmt"
	"github.com/spf13/cobra"
)

func newPlanCmd() *cobra.Command {
	var params []string
	cmd := &cobra.Command{
		Use:   "plan [workspace]",
		Short: "Preview the changes the detected backend would make",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, err := gatewayFromViper(nil)
			if err != nil {
				return err
			}
			parsed, err := parseParams(params)
			if err != nil {
				return err
			}
			plan, err := gw.Plan(cmd.Context(), workspaceArg(args), parsed, nil)
			if errors.Is(err, gate.ErrPlanUnsupported) {
				fmt.Println(clifmt.Warn("the detected backend cannot preview changes"))
				return nil
			}
			if err != nil {
				return err
			}
			renderPlan(plan)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&params, "param", nil, "backend parameter, key=value (repeatable)")
	return cmd
}
