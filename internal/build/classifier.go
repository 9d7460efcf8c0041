package build

import (
	"sort"
	"strings"
	"unicode"

	"forgemind/internal/logging"
)

// Keyword overlap weights by profile field.
const (
	specialtyWeight   = 3.0
	exampleWeight     = 2.0
	descriptionWeight = 1.0
)

// AgentProfile describes one agent for free-text task routing.
type AgentProfile struct {
	Name        string
	Specialty   []string // high-signal keywords
	Examples    []string // example task phrasings
	Description string
}

// DefaultProfiles covers the built-in agent roster.
func DefaultProfiles() []AgentProfile {
	return []AgentProfile{
		{
			Name:        "architect",
			Specialty:   []string{"architecture", "design", "schema", "plan", "structure", "interface", "api"},
			Examples:    []string{"design the service layout", "plan the data model", "define module boundaries"},
			Description: "High-level system design, module decomposition, and interface contracts",
		},
		{
			Name:        "backend",
			Specialty:   []string{"server", "endpoint", "database", "handler", "service", "queue", "storage"},
			Examples:    []string{"implement the rest endpoint", "add the persistence layer", "wire the job queue"},
			Description: "Server-side implementation, persistence, and integration work",
		},
		{
			Name:        "frontend",
			Specialty:   []string{"ui", "component", "page", "css", "layout", "render", "form"},
			Examples:    []string{"build the settings page", "style the dashboard", "add form validation"},
			Description: "User interface components, styling, and client-side behavior",
		},
		{
			Name:        "tester",
			Specialty:   []string{"test", "coverage", "regression", "assert", "fixture", "mock"},
			Examples:    []string{"write unit tests", "add regression coverage", "test the edge cases"},
			Description: "Test design and coverage for new and existing behavior",
		},
		{
			Name:        "reviewer",
			Specialty:   []string{"review", "audit", "refactor", "lint", "cleanup", "quality"},
			Examples:    []string{"review the diff", "audit error handling", "clean up dead code"},
			Description: "Code review, quality audits, and refactoring passes",
		},
	}
}

// Classification is the routing decision for one task description.
type Classification struct {
	Agent      string  `json:"agent"`
	Confidence float64 `json:"confidence"`
	Score      float64 `json:"score"`
}

// Classifier routes free-text task descriptions to agents by weighted
// keyword overlap against the profile roster.
type Classifier struct {
	profiles []AgentProfile
}

// NewClassifier creates a classifier. An empty roster falls back to the
// built-in profiles.
func NewClassifier(profiles []AgentProfile) *Classifier {
	if len(profiles) == 0 {
		profiles = DefaultProfiles()
	}
	sorted := make([]AgentProfile, len(profiles))
	copy(sorted, profiles)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	return &Classifier{profiles: sorted}
}

// Classify scores every profile against the text and returns the best match.
// Ties go to the lexicographically smaller agent name. Confidence is the
// winner's share of the total score across all profiles; a text that matches
// nothing routes to the first profile with confidence 0.
func (c *Classifier) Classify(text string) Classification {
	tokens := tokenize(text)

	best := Classification{Agent: c.profiles[0].Name}
	var total float64
	for _, p := range c.profiles {
		score := profileScore(p, tokens)
		total += score
		if score > best.Score {
			best = Classification{Agent: p.Name, Score: score}
		}
	}

	if total > 0 {
		best.Confidence = best.Score / total
	}
	logging.ClassifyDebug("Classified %q -> %s (score=%.1f confidence=%.2f)",
		truncateText(text, 60), best.Agent, best.Score, best.Confidence)
	return best
}

func profileScore(p AgentProfile, tokens map[string]bool) float64 {
	var score float64
	for _, kw := range p.Specialty {
		if tokens[strings.ToLower(kw)] {
			score += specialtyWeight
		}
	}
	for _, ex := range p.Examples {
		for tok := range tokenize(ex) {
			if tokens[tok] {
				score += exampleWeight
			}
		}
	}
	for tok := range tokenize(p.Description) {
		if tokens[tok] {
			score += descriptionWeight
		}
	}
	return score
}

// stopwords carry no routing signal and are excluded from overlap.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "of": true,
	"to": true, "in": true, "for": true, "with": true, "on": true, "is": true,
	"add": true, "new": true,
}

func tokenize(text string) map[string]bool {
	tokens := make(map[string]bool)
	for _, word := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(word) < 2 || stopwords[word] {
			continue
		}
		tokens[word] = true
	}
	return tokens
}

func truncateText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
