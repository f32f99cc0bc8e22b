package main

import (
	"fmt"
	"strings"

	"github.com/quailyquaily/opsgate/gate"
	"github.com/quailyquaily/opsgate/internal/clifmt"
	"github.com/quailyquaily/opsgate/internal/pathutil"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newOpsCmd() *cobra.Command {
	var environment string
	cmd := &cobra.Command{
		Use:   "ops",
		Short: "List known operations and their classified risk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := riskTableFromViper()
			if err != nil {
				return err
			}
			classifier, err := gate.NewClassifier(table)
			if err != nil {
				return err
			}

			fmt.Println(clifmt.Headerf("operations (environment: %s)", environment))
			for _, op := range classifier.Operations() {
				level := classifier.Classify(op, nil, environment)
				line := fmt.Sprintf("  %-24s %-10s %s",
					op,
					clifmt.Riskf(level.String(), level.String()),
					classifier.Category(op),
				)
				if phrase, required := classifier.ConfirmationPhrase(op, environment); required {
					line += clifmt.Dim("  confirm: " + phrase)
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&environment, "env", "dev", "environment to classify against")
	return cmd
}

func riskTableFromViper() (*gate.RiskTable, error) {
	if path := strings.TrimSpace(viper.GetString("risk_table")); path != "" {
		return gate.LoadRiskTable(pathutil.ExpandHomePath(path))
	}
	return gate.DefaultRiskTable()
}
