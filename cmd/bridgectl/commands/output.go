package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ticketbridge/ticketbridge/pkg/engine"
)

// printJSON writes v as indented JSON to stdout.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printPlan renders a plan summary, or the full plan as JSON.
func printPlan(plan *engine.Plan) error {
	if jsonOutput {
		return printJSON(plan)
	}

	fmt.Printf("Plan %s (%s", plan.ID, plan.Environment)
	if plan.Phase != "" {
		fmt.Printf(", phase %s", plan.Phase)
	}
	fmt.Println(")")

	for _, unit := range plan.Units {
		marker := map[engine.OperationType]string{
			engine.OperationCreate: "+",
			engine.OperationUpdate: "~",
			engine.OperationDelete: "-",
			engine.OperationNoop:   " ",
			engine.OperationWait:   "*",
		}[unit.Operation]
		fmt.Printf("  %s %-32s %s\n", marker, unit.ResourceID, unit.Operation)
		for _, change := range unit.Changes {
			fmt.Printf("      %s: %v -> %v\n", change.Path, change.Before, change.After)
		}
	}

	s := plan.Summary
	fmt.Printf("\n%d to create, %d to update, %d to delete, %d unchanged\n",
		s.ToCreate, s.ToUpdate, s.ToDelete, s.NoChange)
	return nil
}

// printRun renders a run result.
func printRun(run *engine.Run) error {
	if jsonOutput {
		return printJSON(run)
	}

	fmt.Printf("Run %s: %s (%s)\n", run.ID, run.Status, run.Duration.Round(time.Millisecond))
	s := run.Summary
	fmt.Printf("  %d succeeded, %d failed, %d skipped\n", s.Succeeded, s.Failed, s.Skipped)
	return nil
}

// printPolicyResult renders violations and warnings; returns an error
// when the result denies the operation.
func printPolicyResult(result *engine.PolicyResult) error {
	for _, warning := range result.Warnings {
		fmt.Printf("  policy warning: %s\n", warning)
	}
	for _, v := range result.Violations {
		fmt.Printf("  policy %s [%s] %s: %s\n", v.Policy, v.Severity, v.ResourceID, v.Message)
	}
	if !result.Allowed {
		return fmt.Errorf("plan denied by policy (%d violations)", len(result.Violations))
	}
	return nil
}
