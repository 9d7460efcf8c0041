package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"forgemind/internal/build"
)

// classifyCmd routes free text to an agent
var classifyCmd = &cobra.Command{
	Use:   "classify [text...]",
	Short: "Route a task description to an agent",
	Long: `Scores the text against the agent roster by weighted keyword overlap
and prints the best match with its confidence.

Example:
  forge classify "write unit tests for the session store"`,
	Args: cobra.MinimumNArgs(1),
	RunE: classifyText,
}

func classifyText(cmd *cobra.Command, args []string) error {
	text := strings.Join(args, " ")
	result := build.NewClassifier(nil).Classify(text)

	fmt.Printf("Agent:      %s\n", result.Agent)
	fmt.Printf("Confidence: %.2f\n", result.Confidence)
	if result.Confidence == 0 {
		fmt.Println("(no keyword overlap; defaulted)")
	}
	return nil
}
