// Package telemetry records build lifecycle events and operational counters.
// Events go to a structured JSON log per session; counters are Prometheus
// metrics the host process may expose.
package telemetry

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"forgemind/internal/logging"
)

// Metrics are the process-wide operational counters.
var (
	TasksCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "forge_tasks_completed_total",
		Help: "Tasks finished, labeled by terminal status.",
	}, []string{"status"})

	TaskRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "forge_task_retries_total",
		Help: "Task attempts beyond the first.",
	})

	HookFaults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "forge_hook_faults_total",
		Help: "Hook handler faults, labeled by module.",
	}, []string{"module"})

	MemoryEvictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "forge_memory_evictions_total",
		Help: "Fragments evicted by capacity pressure, labeled by namespace.",
	}, []string{"namespace"})

	RuleEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "forge_playbook_rule_evictions_total",
		Help: "Playbook rules evicted by the per-agent rule cap.",
	})
)

var registerOnce sync.Once

// Register installs the counters into a Prometheus registry. Safe to call
// once per process; the default registry is used when reg is nil.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		reg.MustRegister(TasksCompleted, TaskRetries, HookFaults, MemoryEvictions, RuleEvictions)
	})
}

// EventStore writes one structured JSON event stream per session.
type EventStore struct {
	sessionID string
	logger    *zap.Logger

	mu     sync.Mutex
	events int
}

// NewEventStore creates a session-scoped event store writing to
// dir/events-<session>.jsonl. An unwritable directory degrades to a no-op
// store; events must never block a build.
func NewEventStore(dir string) *EventStore {
	sessionID := uuid.NewString()
	store := &EventStore{sessionID: sessionID}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		logging.Telemetry("Event store disabled, cannot create %s: %v", dir, err)
		return store
	}
	path := filepath.Join(dir, "events-"+sessionID+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logging.Telemetry("Event store disabled, cannot open %s: %v", path, err)
		return store
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(f), zapcore.InfoLevel)
	store.logger = zap.New(core).With(zap.String("session_id", sessionID))

	logging.Telemetry("Event store ready: session=%s path=%s", sessionID, path)
	return store
}

// Emit records one event with an arbitrary payload.
func (s *EventStore) Emit(event string, payload map[string]any) {
	s.mu.Lock()
	s.events++
	s.mu.Unlock()

	if s.logger == nil {
		return
	}
	fields := make([]zap.Field, 0, len(payload)+1)
	fields = append(fields, zap.String("event", event))
	for k, v := range payload {
		fields = append(fields, zap.Any(k, v))
	}
	s.logger.Info(event, fields...)
}

// SessionID returns this store's session identifier.
func (s *EventStore) SessionID() string { return s.sessionID }

// EventCount reports how many events were emitted this session.
func (s *EventStore) EventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events
}

// Close flushes the underlying log.
func (s *EventStore) Close() error {
	if s.logger == nil {
		return nil
	}
	return s.logger.Sync()
}
