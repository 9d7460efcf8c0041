package ace

import (
	"context"
	"sort"

	"forgemind/internal/logging"
	"forgemind/internal/playbook"
	"forgemind/internal/types"
)

const (
	// minCurationScore rejects weakly supported deltas.
	minCurationScore = 0.4
	// maxAppliedPerCycle bounds how many deltas one curation may apply.
	maxAppliedPerCycle = 3
)

// Rejection pairs a rejected delta with the gate that stopped it.
type Rejection struct {
	Delta  playbook.Delta `json:"delta"`
	Reason string         `json:"reason"`
}

// CurationResult reports what one curation cycle did.
type CurationResult struct {
	Applied     []playbook.Delta `json:"applied"`
	Rejected    []Rejection      `json:"rejected"`
	NewPlaybook *playbook.Playbook
}

// Curator applies reflected deltas to the playbook behind three gates:
// a support-score floor, fuzzy dedup against existing rules, and a per-cycle
// application cap.
type Curator struct {
	store *playbook.Store
	vault types.TasteVault // nil disables global promotion
}

// NewCurator creates a Curator. vault may be nil.
func NewCurator(store *playbook.Store, vault types.TasteVault) *Curator {
	return &Curator{store: store, vault: vault}
}

// curationScore weighs observed helpfulness against confidence and harm.
func curationScore(d playbook.Delta) float64 {
	score := float64(d.HelpfulDelta)*0.6 + d.Confidence*0.4 - float64(d.HarmfulDelta)*0.3
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// Curate evaluates deltas in descending score order and applies the
// survivors through the playbook store in a single versioned update.
func (c *Curator) Curate(ctx context.Context, deltas []playbook.Delta, agent string) (*CurationResult, error) {
	ordered := make([]playbook.Delta, len(deltas))
	copy(ordered, deltas)
	sort.SliceStable(ordered, func(i, j int) bool {
		return curationScore(ordered[i]) > curationScore(ordered[j])
	})

	existing := c.store.GetPlaybook(agent).Rules
	acceptedAdds := make([]playbook.Rule, 0, maxAppliedPerCycle)

	result := &CurationResult{}
	for _, d := range ordered {
		if len(result.Applied) == maxAppliedPerCycle {
			result.Rejected = append(result.Rejected, Rejection{Delta: d, Reason: "Cap reached"})
			continue
		}
		if curationScore(d) < minCurationScore {
			result.Rejected = append(result.Rejected, Rejection{Delta: d, Reason: "Score too low"})
			continue
		}
		if d.Action == playbook.DeltaAdd {
			pool := append(append([]playbook.Rule(nil), existing...), acceptedAdds...)
			if playbook.IsDuplicate(d.Content, pool, playbook.DefaultDedupThreshold) {
				result.Rejected = append(result.Rejected, Rejection{Delta: d, Reason: "Duplicate"})
				continue
			}
			acceptedAdds = append(acceptedAdds, playbook.Rule{Content: d.Content})
		}
		result.Applied = append(result.Applied, d)
	}

	pb, err := c.store.UpdatePlaybook(agent, result.Applied)
	if err != nil {
		return nil, err
	}
	result.NewPlaybook = pb

	c.promoteGlobalCandidates(ctx, agent, result.Applied)

	logging.ACE("Curate: agent=%s applied=%d rejected=%d version=%d",
		agent, len(result.Applied), len(result.Rejected), pb.Version)
	return result, nil
}

// promoteGlobalCandidates mirrors applied global-candidate deltas into the
// Taste Vault. Vault faults are logged, never propagated.
func (c *Curator) promoteGlobalCandidates(ctx context.Context, agent string, applied []playbook.Delta) {
	if c.vault == nil {
		return
	}
	for _, d := range applied {
		if !d.IsGlobalCandidate || d.Action == playbook.DeltaRemove {
			continue
		}
		node := types.TasteVaultNode{
			Agent:        agent,
			Content:      d.Content,
			Type:         string(d.Type),
			Confidence:   d.Confidence,
			HelpfulCount: d.HelpfulDelta,
		}
		if _, err := c.vault.AddNode(ctx, node); err != nil {
			logging.ACEWarn("Curate: taste vault injection failed for agent %s: %v", agent, err)
		}
	}
}
