package playbook

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"forgemind/internal/logging"
)

// Store owns all Playbook and Rule lifecycles. Single-writer per agent:
// UpdatePlaybook takes the agent's lock, readers see consistent snapshots.
type Store struct {
	mu        sync.Mutex
	playbooks map[string]*Playbook
	agentMu   map[string]*sync.Mutex

	persister *Persister // nil disables persistence
	maxRules  int

	// onEvict is notified when the rule cap forces an eviction.
	onEvict func(agent string, ruleID string)
}

// Option configures a Store.
type Option func(*Store)

// WithPersistence enables JSON persistence through the given persister.
func WithPersistence(p *Persister) Option {
	return func(s *Store) { s.persister = p }
}

// WithMaxRules bounds the per-playbook rule count. When an add would exceed
// the cap, the lowest-scoring oldest rule is evicted.
func WithMaxRules(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxRules = n
		}
	}
}

// WithEvictionObserver installs a callback fired on every rule eviction.
func WithEvictionObserver(fn func(agent, ruleID string)) Option {
	return func(s *Store) { s.onEvict = fn }
}

// NewStore creates a playbook store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		playbooks: make(map[string]*Playbook),
		agentMu:   make(map[string]*sync.Mutex),
		maxRules:  50,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// lockAgent returns the per-agent mutex, creating it on first use.
func (s *Store) lockAgent(agent string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	mu, ok := s.agentMu[agent]
	if !ok {
		mu = &sync.Mutex{}
		s.agentMu[agent] = mu
	}
	return mu
}

// GetPlaybook returns the cached playbook for an agent, loading it from
// persistence or creating an empty version-0 one on first access.
func (s *Store) GetPlaybook(agent string) *Playbook {
	mu := s.lockAgent(agent)
	mu.Lock()
	defer mu.Unlock()
	return s.getLocked(agent)
}

// getLocked must be called with the agent lock held.
func (s *Store) getLocked(agent string) *Playbook {
	s.mu.Lock()
	pb, ok := s.playbooks[agent]
	s.mu.Unlock()
	if ok {
		return pb
	}

	if s.persister != nil {
		if loaded := s.persister.Load(agent); loaded != nil {
			logging.Playbook("Loaded playbook for %s: version=%d rules=%d", agent, loaded.Version, len(loaded.Rules))
			s.mu.Lock()
			s.playbooks[agent] = loaded
			s.mu.Unlock()
			return loaded
		}
	}

	pb = &Playbook{
		ID:          uuid.NewString(),
		AgentName:   agent,
		Version:     0,
		LastUpdated: time.Now(),
	}
	s.mu.Lock()
	s.playbooks[agent] = pb
	s.mu.Unlock()
	logging.PlaybookDebug("Created empty playbook for agent %s", agent)
	return pb
}

// Invalidate drops the cached playbook for an agent so the next access
// reloads from persistence. Used by the directory watcher.
func (s *Store) Invalidate(agent string) {
	mu := s.lockAgent(agent)
	mu.Lock()
	defer mu.Unlock()
	s.mu.Lock()
	delete(s.playbooks, agent)
	s.mu.Unlock()
	logging.PlaybookDebug("Cache invalidated for agent %s", agent)
}

// UpdatePlaybook applies adds/updates/removes atomically and increments the
// playbook version by exactly one - even when the delta list is empty.
func (s *Store) UpdatePlaybook(agent string, deltas []Delta) (*Playbook, error) {
	mu := s.lockAgent(agent)
	mu.Lock()
	defer mu.Unlock()

	pb := s.getLocked(agent)
	now := time.Now()

	for _, d := range deltas {
		switch d.Action {
		case DeltaAdd:
			s.applyAdd(agent, pb, d, now)
		case DeltaUpdate:
			if err := applyUpdate(pb, d, now); err != nil {
				logging.PlaybookWarn("Update delta skipped for %s: %v", agent, err)
			}
		case DeltaRemove:
			applyRemove(pb, d)
		default:
			logging.PlaybookWarn("Unknown delta action %q for agent %s, skipped", d.Action, agent)
		}
	}

	pb.Version++
	pb.LastUpdated = now
	logging.PlaybookDebug("Playbook updated: agent=%s version=%d rules=%d deltas=%d",
		agent, pb.Version, len(pb.Rules), len(deltas))

	if s.persister != nil {
		if err := s.persister.Save(pb); err != nil {
			// Persistence faults never abort the update.
			logging.PlaybookWarn("Persist failed for %s: %v", agent, err)
		}
	}
	return pb, nil
}

func (s *Store) applyAdd(agent string, pb *Playbook, d Delta, now time.Time) {
	if strings.TrimSpace(d.Content) == "" {
		return
	}
	if IsDuplicate(d.Content, pb.Rules, DefaultDedupThreshold) {
		logging.PlaybookDebug("Add skipped as duplicate: %.60s", d.Content)
		return
	}

	rule := Rule{
		ID:                uuid.NewString(),
		Content:           d.Content,
		Type:              d.Type,
		Confidence:        clamp01(d.Confidence),
		Source:            SourceLearned,
		HelpfulCount:      d.HelpfulDelta,
		HarmfulCount:      d.HarmfulDelta,
		CreatedAt:         now,
		UpdatedAt:         now,
		IsGlobalCandidate: d.IsGlobalCandidate,
	}
	if rule.Type == "" {
		rule.Type = RuleStrategy
	}
	pb.Rules = append(pb.Rules, rule)

	// Enforce the rule cap: evict the lowest-scoring oldest rule.
	for s.maxRules > 0 && len(pb.Rules) > s.maxRules {
		idx := lowestValueRuleIndex(pb.Rules)
		evicted := pb.Rules[idx]
		pb.Rules = append(pb.Rules[:idx], pb.Rules[idx+1:]...)
		logging.Playbook("Rule cap reached for %s: evicted %s", agent, evicted.ID)
		if s.onEvict != nil {
			s.onEvict(agent, evicted.ID)
		}
	}
}

func applyUpdate(pb *Playbook, d Delta, now time.Time) error {
	if d.RuleID == "" {
		return fmt.Errorf("update delta missing rule_id")
	}
	rule := pb.RuleByID(d.RuleID)
	if rule == nil {
		return fmt.Errorf("rule %s not found", d.RuleID)
	}

	if d.Content != "" {
		rule.Content = d.Content
	}
	rule.HelpfulCount += d.HelpfulDelta
	rule.HarmfulCount += d.HarmfulDelta
	if d.Confidence > 0 {
		rule.Confidence = clamp01(d.Confidence)
	}
	// Tags merge as a set union; existing order is preserved.
	rule.Tags = unionTags(rule.Tags, tagsFromReason(d))
	rule.UpdatedAt = now
	return nil
}

func applyRemove(pb *Playbook, d Delta) {
	if d.RuleID == "" {
		return
	}
	for i := range pb.Rules {
		if pb.Rules[i].ID == d.RuleID {
			pb.Rules = append(pb.Rules[:i], pb.Rules[i+1:]...)
			return
		}
	}
}

// tagsFromReason extracts comma-separated tags a Reflect delta may carry in
// its reason field ("tags: a, b").
func tagsFromReason(d Delta) []string {
	const prefix = "tags:"
	reason := strings.TrimSpace(d.Reason)
	if !strings.HasPrefix(strings.ToLower(reason), prefix) {
		return nil
	}
	var tags []string
	for _, t := range strings.Split(reason[len(prefix):], ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func unionTags(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	out := existing
	for _, t := range existing {
		seen[t] = true
	}
	for _, t := range incoming {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// lowestValueRuleIndex picks the eviction victim: lowest combined value,
// ties broken by oldest UpdatedAt.
func lowestValueRuleIndex(rules []Rule) int {
	best := 0
	bestScore := ruleValue(&rules[0])
	for i := 1; i < len(rules); i++ {
		score := ruleValue(&rules[i])
		if score < bestScore || (score == bestScore && rules[i].UpdatedAt.Before(rules[best].UpdatedAt)) {
			best = i
			bestScore = score
		}
	}
	return best
}

func ruleValue(r *Rule) float64 {
	return r.Confidence + r.SuccessRate() + 0.1*float64(r.HelpfulCount-r.HarmfulCount)
}

// =============================================================================
// RELEVANCE-RANKED RETRIEVAL
// =============================================================================

// relevance weights: keyword overlap with the task context dominates, then
// tag overlap, confidence, and empirical success rate contribute equally.
const (
	weightKeyword    = 0.4
	weightTag        = 0.2
	weightConfidence = 0.2
	weightSuccess    = 0.2
)

// GetActiveRules returns up to limit rules ordered by relevance to the task
// context. Ties break by UpdatedAt descending.
func (s *Store) GetActiveRules(agent, taskContext string, limit int) []Rule {
	mu := s.lockAgent(agent)
	mu.Lock()
	pb := s.getLocked(agent)
	rules := make([]Rule, len(pb.Rules))
	copy(rules, pb.Rules)
	mu.Unlock()

	if limit <= 0 || len(rules) == 0 {
		return nil
	}

	ctxTokens := tokenSet(taskContext)

	type scored struct {
		rule  Rule
		score float64
	}
	candidates := make([]scored, 0, len(rules))
	for i := range rules {
		candidates = append(candidates, scored{
			rule:  rules[i],
			score: relevanceScore(&rules[i], ctxTokens),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].rule.UpdatedAt.After(candidates[j].rule.UpdatedAt)
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]Rule, len(candidates))
	for i, c := range candidates {
		out[i] = c.rule
	}
	return out
}

func relevanceScore(r *Rule, ctxTokens map[string]bool) float64 {
	kw := overlapRatio(tokenSet(r.Content), ctxTokens)

	tagTokens := make(map[string]bool, len(r.Tags))
	for _, t := range r.Tags {
		tagTokens[strings.ToLower(t)] = true
	}
	tag := overlapRatio(tagTokens, ctxTokens)

	return kw*weightKeyword + tag*weightTag + r.Confidence*weightConfidence + r.SuccessRate()*weightSuccess
}

// overlapRatio is |a ∩ b| / |a| (fraction of a's tokens present in b).
func overlapRatio(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	hit := 0
	for tok := range a {
		if b[tok] {
			hit++
		}
	}
	return float64(hit) / float64(len(a))
}

// =============================================================================
// COUNTERS
// =============================================================================

// IncrementApplied bumps appliedCount for each known rule id. Unknown ids
// are ignored.
func (s *Store) IncrementApplied(agent string, ruleIDs []string) {
	s.mutateRules(agent, ruleIDs, func(r *Rule) {
		r.AppliedCount++
	})
}

// RecordSuccess bumps successCount for each known rule id, clamped so
// successCount never exceeds appliedCount.
func (s *Store) RecordSuccess(agent string, ruleIDs []string) {
	s.mutateRules(agent, ruleIDs, func(r *Rule) {
		if r.SuccessCount < r.AppliedCount {
			r.SuccessCount++
		}
	})
}

// RecordTaskApplied notes that the agent's playbook informed one more task
// and refreshes the aggregate success rate.
func (s *Store) RecordTaskApplied(agent string) {
	mu := s.lockAgent(agent)
	mu.Lock()
	defer mu.Unlock()

	pb := s.getLocked(agent)
	pb.TotalTasksApplied++

	applied, succeeded := 0, 0
	for i := range pb.Rules {
		applied += pb.Rules[i].AppliedCount
		succeeded += pb.Rules[i].SuccessCount
	}
	if applied > 0 {
		pb.SuccessRate = float64(succeeded) / float64(applied)
	}
	s.persistBestEffort(pb)
}

func (s *Store) mutateRules(agent string, ruleIDs []string, fn func(*Rule)) {
	if len(ruleIDs) == 0 {
		return
	}
	mu := s.lockAgent(agent)
	mu.Lock()
	defer mu.Unlock()

	pb := s.getLocked(agent)
	now := time.Now()
	touched := false
	for _, id := range ruleIDs {
		if rule := pb.RuleByID(id); rule != nil {
			fn(rule)
			rule.UpdatedAt = now
			touched = true
		}
	}
	if touched {
		s.persistBestEffort(pb)
	}
}

func (s *Store) persistBestEffort(pb *Playbook) {
	if s.persister == nil {
		return
	}
	if err := s.persister.Save(pb); err != nil {
		logging.PlaybookWarn("Persist failed for %s: %v", pb.AgentName, err)
	}
}

// GetGlobalCandidates returns rules eligible for promotion into the Taste
// Vault: non-global source, high confidence, proven application record.
func (s *Store) GetGlobalCandidates(agent string) []Rule {
	mu := s.lockAgent(agent)
	mu.Lock()
	defer mu.Unlock()

	pb := s.getLocked(agent)
	var out []Rule
	for i := range pb.Rules {
		r := &pb.Rules[i]
		if r.Source == SourceGlobal {
			continue
		}
		if r.Confidence < 0.85 || r.AppliedCount < 5 {
			continue
		}
		if float64(r.SuccessCount)/float64(r.AppliedCount) < 0.6 {
			continue
		}
		out = append(out, *r)
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
