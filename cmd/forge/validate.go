package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"forgemind/internal/types"
)

// validateCmd checks a PRD without executing it
var validateCmd = &cobra.Command{
	Use:   "validate [prd-file]",
	Short: "Validate a PRD file",
	Long: `Parses the PRD and enforces its load-time invariants: unique task ids,
resolvable dependencies, non-negative phases, and an agent on every task.

Example:
  forge validate ./prd.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: validatePRD,
}

func validatePRD(cmd *cobra.Command, args []string) error {
	prd, err := types.LoadPRD(args[0])
	if err != nil {
		return err
	}

	agents := make(map[string]int)
	phases := make(map[int]int)
	for i := range prd.Tasks {
		agents[prd.Tasks[i].Agent]++
		phases[prd.Tasks[i].Phase]++
	}

	fmt.Printf("PRD %q is valid\n", prd.Meta.Name)
	fmt.Printf("  Tasks:  %d across %d phase(s)\n", len(prd.Tasks), len(phases))
	fmt.Printf("  Agents: %d distinct\n", len(agents))
	return nil
}
