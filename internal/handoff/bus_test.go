package handoff

import (
	"errors"
	"testing"
)

func TestBuildPayloadCollectsSlots(t *testing.T) {
	b := NewBus()
	b.RegisterCollector("memory", "memory.snapshot", func(from, to, taskID string) (any, error) {
		return map[string]string{"from": from, "to": to, "task": taskID}, nil
	})
	b.RegisterCollector("playbook", "playbook.rules", func(from, to, taskID string) (any, error) {
		return []string{"rule-1"}, nil
	})

	payload := b.BuildPayload(PayloadParams{
		FromAgent: "backend", ToAgent: "frontend", TaskID: "t1", BuildID: "b1",
	})

	if payload.FromAgent != "backend" || payload.ToAgent != "frontend" {
		t.Errorf("agents not carried: %+v", payload)
	}
	if len(payload.ModuleState) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(payload.ModuleState))
	}
	if _, ok := payload.ModuleState["memory.snapshot"]; !ok {
		t.Error("memory.snapshot slot missing")
	}
}

func TestBuildPayloadNilAndFaultySlotsAbsent(t *testing.T) {
	b := NewBus()
	b.RegisterCollector("empty", "empty.slot", func(from, to, taskID string) (any, error) {
		return nil, nil
	})
	b.RegisterCollector("broken", "broken.slot", func(from, to, taskID string) (any, error) {
		return nil, errors.New("collector failed")
	})
	b.RegisterCollector("panicky", "panicky.slot", func(from, to, taskID string) (any, error) {
		panic("collector panic")
	})
	b.RegisterCollector("good", "good.slot", func(from, to, taskID string) (any, error) {
		return "state", nil
	})

	payload := b.BuildPayload(PayloadParams{FromAgent: "a", ToAgent: "b", TaskID: "t"})

	if len(payload.ModuleState) != 1 {
		t.Fatalf("expected only the good slot, got %v", payload.ModuleState)
	}
	if payload.ModuleState["good.slot"] != "state" {
		t.Error("good collector did not run after faulty ones")
	}
}

func TestReceiveRestoresPopulatedSlots(t *testing.T) {
	b := NewBus()

	var restored any
	b.RegisterRestorer("memory", "memory.snapshot", func(state any) error {
		restored = state
		return nil
	})
	b.RegisterRestorer("playbook", "playbook.rules", func(state any) error {
		t.Error("restorer for absent slot must not run")
		return nil
	})
	b.RegisterCollector("memory", "memory.snapshot", func(from, to, taskID string) (any, error) {
		return "snapshot-state", nil
	})

	payload := b.BuildPayload(PayloadParams{FromAgent: "a", ToAgent: "b", TaskID: "t"})
	result := b.Receive(payload)

	if len(result.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}
	if len(result.RestoredModules) != 1 || result.RestoredModules[0] != "memory" {
		t.Errorf("RestoredModules = %v, want [memory]", result.RestoredModules)
	}
	if restored != "snapshot-state" {
		t.Errorf("restored = %v, want snapshot-state", restored)
	}
}

func TestReceiveCapturesRestorerErrors(t *testing.T) {
	b := NewBus()
	b.RegisterRestorer("broken", "slot", func(state any) error {
		return errors.New("restore failed")
	})
	b.RegisterRestorer("good", "slot", func(state any) error {
		return nil
	})

	payload := b.BuildPayload(PayloadParams{FromAgent: "a", ToAgent: "b", TaskID: "t"})
	payload.ModuleState = map[string]any{"slot": 42}

	result := b.Receive(payload)
	if len(result.Errors) != 1 {
		t.Fatalf("expected 1 captured error, got %v", result.Errors)
	}
	if len(result.RestoredModules) != 1 || result.RestoredModules[0] != "good" {
		t.Errorf("good restorer should still run: %v", result.RestoredModules)
	}
}

func TestReceiveNilPayload(t *testing.T) {
	b := NewBus()
	result := b.Receive(nil)
	if len(result.RestoredModules) != 0 || len(result.Errors) != 0 {
		t.Errorf("nil payload should restore nothing: %+v", result)
	}
}
