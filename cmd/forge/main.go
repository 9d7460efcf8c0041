// forge is the multi-agent build orchestrator CLI. It loads a PRD task
// list, routes tasks to agents phase by phase, and carries the playbook
// learning loop and shared memory across the build.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"forgemind/internal/config"
	"forgemind/internal/logging"
)

var (
	// Global flags
	verbose   bool
	workspace string

	// Loaded configuration, available to every subcommand.
	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "forge",
	Short: "forgemind - multi-agent build orchestrator",
	Long: `forgemind drives a PRD task list through a roster of specialist agents.

Tasks run phase by phase in dependency order. Each agent carries a playbook
of learned rules that grows from reflection on completed work, a shared
memory indexed by embeddings, and a handoff bus that moves context between
agents at transition points.

State lives under .forge/ in the workspace: config.yaml, playbooks/,
memory.db, and logs/.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if workspace == "" {
			cwd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("resolve workspace: %w", err)
			}
			workspace = cwd
		}

		if err := logging.Initialize(workspace); err != nil {
			return fmt.Errorf("initialize logging: %w", err)
		}
		if verbose {
			logging.ForceDebug()
		}

		var err error
		cfg, err = config.Load(workspace)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "workspace directory (default: cwd)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(memoryCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
