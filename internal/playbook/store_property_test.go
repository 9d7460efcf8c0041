package playbook

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Version advances by exactly one per update, regardless of delta shape.
func TestPlaybookVersionMonotonicityProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("version after k updates equals k", prop.ForAll(
		func(k int, emptyRatio int) bool {
			s := NewStore()
			for i := 0; i < k; i++ {
				var deltas []Delta
				if i%3 != emptyRatio%3 {
					deltas = []Delta{{
						Action:     DeltaAdd,
						Content:    fmt.Sprintf("generated rule %d with unique token %d", i, i*31),
						Type:       RuleStrategy,
						Confidence: 0.5,
					}}
				}
				pb, err := s.UpdatePlaybook("agent", deltas)
				if err != nil {
					return false
				}
				if pb.Version != i+1 {
					return false
				}
			}
			return s.GetPlaybook("agent").Version == k
		},
		gen.IntRange(0, 20),
		gen.IntRange(0, 2),
	))

	properties.TestingRun(t)
}
