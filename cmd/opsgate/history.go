package main

import (
	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	var (
		limit     int
		operation string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded operations, most recent last",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, err := gatewayFromViper(nil)
			if err != nil {
				return err
			}
			items, err := gw.History(cmd.Context(), limit, operation)
			if err != nil {
				return err
			}
			renderHistory(items)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries to show")
	cmd.Flags().StringVar(&operation, "operation", "", "filter by operation name")
	return cmd
}
