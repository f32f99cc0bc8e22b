package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/quailyquaily/opsgate/gate"
	"github.com/quailyquaily/opsgate/internal/clifmt"
	"github.com/quailyquaily/opsgate/internal/strutil"
)

const outputLineMax = 2048

func renderView(v *gate.RequestView) {
	level := v.Risk.String()
	fmt.Println(clifmt.Headerf("%s %s", v.Presentation.Icon, strings.ToUpper(v.Operation)))
	fmt.Printf("  %s %s\n", clifmt.Key("risk:"), clifmt.Riskf(level, strings.ToUpper(level)))
	fmt.Printf("  %s %s\n", clifmt.Key("category:"), v.Category)
	if v.Environment != "" {
		fmt.Printf("  %s %s\n", clifmt.Key("environment:"), v.Environment)
	}
	if v.Description != "" {
		fmt.Printf("  %s %s\n", clifmt.Key("description:"), v.Description)
	}
	if v.DurationEstimate > 0 {
		fmt.Printf("  %s %s\n", clifmt.Key("estimated:"), v.DurationEstimate)
	}
	if len(v.AffectedResources) > 0 {
		fmt.Printf("  %s %s\n", clifmt.Key("resources:"), strings.Join(v.AffectedResources, ", "))
	}
	if v.RollbackPlan != "" {
		fmt.Printf("  %s %s\n", clifmt.Key("rollback:"), v.RollbackPlan)
	}
	if len(v.Parameters) > 0 {
		keys := make([]string, 0, len(v.Parameters))
		for k := range v.Parameters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Printf("  %s\n", clifmt.Key("parameters:"))
		for _, k := range keys {
			fmt.Printf("    %s: %v\n", k, v.Parameters[k])
		}
	}
	fmt.Printf("  %s %s\n", clifmt.Key("expires:"), v.ExpiresAt.Local().Format(time.RFC3339))

	for _, w := range v.Warnings {
		fmt.Println()
		fmt.Printf("  %s %s\n", clifmt.Riskf(w.Level.String(), "["+strings.ToUpper(w.Level.String())+"]"), w.Title)
		if w.Message != "" {
			fmt.Printf("    %s\n", w.Message)
		}
		for _, d := range w.Details {
			fmt.Printf("    - %s\n", d)
		}
		if w.Mitigation != "" {
			fmt.Printf("    %s %s\n", clifmt.Dim("mitigation:"), w.Mitigation)
		}
		if w.RollbackAvailable && w.RollbackInstructions != "" {
			fmt.Printf("    %s %s\n", clifmt.Dim("rollback:"), w.RollbackInstructions)
		}
	}
	fmt.Println()
}

func renderPlan(p *gate.Plan) {
	fmt.Println(clifmt.Headerf("plan (%s)", p.Backend))
	for _, c := range p.Changes {
		marker := "~"
		switch c.Action {
		case gate.ActionCreate:
			marker = clifmt.Success("+")
		case gate.ActionDelete:
			marker = clifmt.Error("-")
		case gate.ActionNoop:
			marker = clifmt.Dim("=")
		}
		addr := c.Address
		if addr == "" {
			addr = c.ResourceType + "/" + c.ResourceName
		}
		fmt.Printf("  %s %s\n", marker, addr)
	}
	fmt.Println(clifmt.Dim("  " + p.Summary()))
}

func renderResult(res *gate.ExecutionResult) {
	fmt.Println()
	if res.Success {
		fmt.Println(clifmt.Success("✔ execution succeeded") + clifmt.Dim(" ("+res.Duration.Round(time.Millisecond).String()+")"))
	} else if res.TimedOut {
		fmt.Println(clifmt.Error("✘ execution timed out") + clifmt.Dim(" ("+res.Duration.Round(time.Millisecond).String()+")"))
	} else {
		fmt.Println(clifmt.Error("✘ execution failed") + clifmt.Dim(" ("+res.Duration.Round(time.Millisecond).String()+")"))
	}
	if res.Error != "" {
		fmt.Println("  " + strutil.TailUTF8(strings.TrimSpace(res.Error), outputLineMax))
	}
	if len(res.AffectedResources) > 0 {
		fmt.Printf("  %s %s\n", clifmt.Key("affected:"), strings.Join(res.AffectedResources, ", "))
	}
	if res.RollbackCommand != "" {
		fmt.Printf("  %s %s\n", clifmt.Key("rollback:"), res.RollbackCommand)
	}
}

func renderHistory(items []gate.ExecutionRequest) {
	if len(items) == 0 {
		fmt.Println(clifmt.Dim("no recorded operations"))
		return
	}
	for _, it := range items {
		status := it.Status
		if status == "" {
			status = "pending"
		}
		line := fmt.Sprintf("%s  %-22s %-11s %-8s %s",
			it.CreatedAt.Local().Format("2006-01-02 15:04"),
			it.Operation,
			it.Environment,
			clifmt.Riskf(it.Risk.String(), it.Risk.String()),
			status,
		)
		if it.Result != nil && !it.Result.Success {
			line += clifmt.Error(" (failed)")
		}
		fmt.Println(line)
	}
}
