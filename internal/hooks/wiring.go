package hooks

import (
	"context"
	"sort"

	"forgemind/internal/logging"
)

// FeatureEntry declares how one feature module participates in the build
// lifecycle. Priorities are globally unique across the catalog so the
// invocation order within any phase is total.
type FeatureEntry struct {
	ModuleName string
	Priority   int // 1-200, unique across the catalog
	Phases     map[Phase]bool
}

// featureCatalog is the closed catalog of wireable features. Exactly 24
// entries; priorities ascend in wiring-sensitivity order (state restoration
// before observation, observation before reporting).
var featureCatalog = []FeatureEntry{
	{"portfolio", 10, phaseSet(PhaseBeforeBuild, PhaseBuildComplete)},
	{"agentMemory", 15, phaseSet(PhaseBeforeTask, PhaseAfterTask, PhaseHandoff)},
	{"wellbeing", 20, phaseSet(PhaseBeforeTask, PhaseTaskError)},
	{"advancedRecovery", 25, phaseSet(PhaseTaskError, PhaseBuildComplete)},
	{"advancedInit", 30, phaseSet(PhaseBeforeBuild)},
	{"orchestration", 35, phaseSet(PhaseBeforeBuild, PhaseBeforeTask, PhaseAfterTask, PhaseBuildComplete)},
	{"autonomousTesting", 40, phaseSet(PhaseAfterTask)},
	{"health", 45, phaseSet(PhaseBeforeBuild, PhaseBuildComplete)},
	{"environment", 50, phaseSet(PhaseBeforeBuild)},
	{"debug", 55, phaseSet(PhaseBeforeTask, PhaseAfterTask, PhaseTaskError)},
	{"codeReview", 60, phaseSet(PhaseAfterTask)},
	{"migration", 65, phaseSet(PhaseBeforeBuild, PhaseBuildComplete)},
	{"debt", 70, phaseSet(PhaseAfterTask, PhaseBuildComplete)},
	{"dependencyManagement", 75, phaseSet(PhaseBeforeBuild, PhaseAfterTask)},
	{"productionFeedback", 80, phaseSet(PhaseBuildComplete)},
	{"healthDashboard", 85, phaseSet(PhaseAfterTask, PhaseBuildComplete)},
	{"accessibility", 90, phaseSet(PhaseAfterTask)},
	{"generativeUI", 95, phaseSet(PhaseAfterTask)},
	{"modelRouting", 100, phaseSet(PhaseBeforeTask)},
	{"workflowEngine", 110, phaseSet(PhaseBeforeBuild, PhaseBeforeTask, PhaseAfterTask, PhaseBuildComplete)},
	{"infiniteMemory", 120, phaseSet(PhaseBeforeTask, PhaseAfterTask, PhaseHandoff, PhaseBuildComplete)},
	{"cinematicObservability", 130, phaseSet(PhaseBeforeBuild, PhaseBeforeTask, PhaseAfterTask, PhaseTaskError, PhaseHandoff, PhaseBuildComplete)},
	{"aiModelDatabase", 140, phaseSet(PhaseBeforeBuild)},
	{"crdtCollaboration", 150, phaseSet(PhaseBeforeTask, PhaseAfterTask, PhaseHandoff)},
}

func phaseSet(phases ...Phase) map[Phase]bool {
	m := make(map[Phase]bool, len(phases))
	for _, p := range phases {
		m[p] = true
	}
	return m
}

// Catalog returns a copy of the feature catalog.
func Catalog() []FeatureEntry {
	out := make([]FeatureEntry, len(featureCatalog))
	copy(out, featureCatalog)
	return out
}

// WiringOptions selects which features to wire and how to build their
// handlers. A nil HandlerFor wires observation-only handlers that log the
// phase transition.
type WiringOptions struct {
	Enabled    map[string]bool
	HandlerFor func(feature string, phase Phase) Handler
}

// WireReport summarizes a wiring pass.
type WireReport struct {
	WiredCount    int      `json:"wired_count"`
	SkippedCount  int      `json:"skipped_count"`
	TotalHooks    int      `json:"total_hooks"`
	FeaturesWired []string `json:"features_wired"`
}

// WiringSummary is the dry-run counterpart of WireReport.
type WiringSummary struct {
	WouldWire []string `json:"would_wire"`
	WouldSkip []string `json:"would_skip"`
}

// WireFeatureHooks consults the catalog and registers one hook per enabled
// feature per true phase. Disabled or unspecified features contribute
// nothing.
func WireFeatureHooks(registry *Registry, opts WiringOptions) WireReport {
	report := WireReport{}

	for _, entry := range featureCatalog {
		if opts.Enabled == nil || !opts.Enabled[entry.ModuleName] {
			report.SkippedCount++
			continue
		}

		hooked := 0
		for _, phase := range AllPhases {
			if !entry.Phases[phase] {
				continue
			}
			handler := defaultFeatureHandler(entry.ModuleName, phase)
			if opts.HandlerFor != nil {
				if h := opts.HandlerFor(entry.ModuleName, phase); h != nil {
					handler = h
				}
			}
			registry.Register(phase, entry.ModuleName, entry.Priority, handler)
			hooked++
		}

		report.WiredCount++
		report.TotalHooks += hooked
		report.FeaturesWired = append(report.FeaturesWired, entry.ModuleName)
	}

	sort.Strings(report.FeaturesWired)
	logging.Hooks("Feature wiring: wired=%d skipped=%d hooks=%d",
		report.WiredCount, report.SkippedCount, report.TotalHooks)
	return report
}

// GetWiringSummary returns the wire/skip decision split without mutating
// the registry.
func GetWiringSummary(opts WiringOptions) WiringSummary {
	summary := WiringSummary{}
	for _, entry := range featureCatalog {
		if opts.Enabled != nil && opts.Enabled[entry.ModuleName] {
			summary.WouldWire = append(summary.WouldWire, entry.ModuleName)
		} else {
			summary.WouldSkip = append(summary.WouldSkip, entry.ModuleName)
		}
	}
	sort.Strings(summary.WouldWire)
	sort.Strings(summary.WouldSkip)
	return summary
}

// defaultFeatureHandler observes the phase transition for a feature whose
// real module lives outside the core.
func defaultFeatureHandler(feature string, phase Phase) Handler {
	return func(ctx context.Context, hookCtx any) error {
		logging.HooksDebug("feature %s observed %s", feature, phase)
		return nil
	}
}
