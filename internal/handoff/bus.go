// Package handoff implements the inter-agent context bus: collectors gather
// module state into a payload before an agent-to-agent transition, restorers
// rehydrate that state on the receiving side. Collector and restorer faults
// are captured, never propagated.
package handoff

import (
	"fmt"
	"sync"
	"time"

	"forgemind/internal/logging"
	"forgemind/internal/types"
)

// CollectorFunc produces module state for a handoff, or nil when the module
// has nothing to carry across.
type CollectorFunc func(fromAgent, toAgent, taskID string) (any, error)

// RestorerFunc rehydrates module state from a received payload slot.
type RestorerFunc func(state any) error

type collector struct {
	module string
	slot   string
	fn     CollectorFunc
}

type restorer struct {
	module string
	slot   string
	fn     RestorerFunc
}

// Bus is the handoff context bus. Registrations are made at wiring time;
// steady-state additions are legal and atomic.
type Bus struct {
	mu         sync.RWMutex
	collectors []collector
	restorers  []restorer
}

// NewBus creates an empty handoff bus.
func NewBus() *Bus {
	return &Bus{}
}

// RegisterCollector adds a collector for the named slot. Collectors run in
// registration order when building a payload.
func (b *Bus) RegisterCollector(module, slot string, fn CollectorFunc) {
	if fn == nil {
		logging.HandoffWarn("nil collector for module %s slot %s, ignored", module, slot)
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.collectors = append(b.collectors, collector{module: module, slot: slot, fn: fn})
	logging.HandoffDebug("Collector registered: module=%s slot=%s", module, slot)
}

// RegisterRestorer adds a restorer for the named slot.
func (b *Bus) RegisterRestorer(module, slot string, fn RestorerFunc) {
	if fn == nil {
		logging.HandoffWarn("nil restorer for module %s slot %s, ignored", module, slot)
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.restorers = append(b.restorers, restorer{module: module, slot: slot, fn: fn})
	logging.HandoffDebug("Restorer registered: module=%s slot=%s", module, slot)
}

// PayloadParams describes the handoff being built.
type PayloadParams struct {
	FromAgent      string
	ToAgent        string
	TaskID         string
	BuildID        string
	Metadata       map[string]any
	TaskOutput     string
	TaskDurationMs int64
	AceScore       float64
}

// BuildPayload runs every collector and assembles the handoff envelope.
// A collector that returns nil or errors simply leaves its slot absent;
// the remaining collectors still run.
func (b *Bus) BuildPayload(params PayloadParams) *types.HandoffPayload {
	b.mu.RLock()
	collectors := make([]collector, len(b.collectors))
	copy(collectors, b.collectors)
	b.mu.RUnlock()

	payload := &types.HandoffPayload{
		FromAgent:      params.FromAgent,
		ToAgent:        params.ToAgent,
		TaskID:         params.TaskID,
		BuildID:        params.BuildID,
		Timestamp:      time.Now(),
		Metadata:       params.Metadata,
		TaskOutput:     params.TaskOutput,
		TaskDurationMs: params.TaskDurationMs,
		AceScore:       params.AceScore,
	}

	for _, c := range collectors {
		state, err := safeCollect(c, params)
		if err != nil {
			logging.HandoffWarn("Collector fault: module=%s slot=%s err=%v", c.module, c.slot, err)
			continue
		}
		if state == nil {
			logging.HandoffDebug("Collector %s/%s returned nil, slot absent", c.module, c.slot)
			continue
		}
		if payload.ModuleState == nil {
			payload.ModuleState = make(map[string]any)
		}
		payload.ModuleState[c.slot] = state
	}

	logging.HandoffDebug("Payload built: %s -> %s task=%s slots=%d",
		params.FromAgent, params.ToAgent, params.TaskID, len(payload.ModuleState))
	return payload
}

func safeCollect(c collector, params PayloadParams) (state any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			state, err = nil, fmt.Errorf("collector panic: %v", rec)
		}
	}()
	return c.fn(params.FromAgent, params.ToAgent, params.TaskID)
}

// ReceiveResult reports which modules restored state and which failed.
type ReceiveResult struct {
	RestoredModules []string
	Errors          []error
}

// Receive runs every restorer whose slot is populated in the payload.
// Restorer errors are captured into the result without aborting the rest.
func (b *Bus) Receive(payload *types.HandoffPayload) ReceiveResult {
	result := ReceiveResult{}
	if payload == nil {
		return result
	}

	b.mu.RLock()
	restorers := make([]restorer, len(b.restorers))
	copy(restorers, b.restorers)
	b.mu.RUnlock()

	for _, r := range restorers {
		state, ok := payload.ModuleState[r.slot]
		if !ok {
			continue
		}
		if err := safeRestore(r, state); err != nil {
			logging.HandoffWarn("Restorer fault: module=%s slot=%s err=%v", r.module, r.slot, err)
			result.Errors = append(result.Errors, fmt.Errorf("%s/%s: %w", r.module, r.slot, err))
			continue
		}
		result.RestoredModules = append(result.RestoredModules, r.module)
	}

	logging.HandoffDebug("Payload received: restored=%d errors=%d",
		len(result.RestoredModules), len(result.Errors))
	return result
}

func safeRestore(r restorer, state any) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("restorer panic: %v", rec)
		}
	}()
	return r.fn(state)
}
