// Package logging provides config-driven categorized file-based logging for
// forgemind. Logs are written to .forge/logs/ with separate files per
// category. Logging is controlled by debug_mode in .forge/config.json - when
// false, no logs are written.
package logging

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category represents a log category/system
type Category string

const (
	// Core system categories
	CategoryBoot Category = "boot" // Boot/initialization
	CategoryAPI  Category = "api"  // LLM API calls

	// Build lifecycle categories
	CategoryBuild     Category = "build"     // Build driver and scheduler
	CategoryHooks     Category = "hooks"     // Hook registry and wiring
	CategoryHandoff   Category = "handoff"   // Handoff context bus
	CategoryPrompt    Category = "prompt"    // Prompt assembly
	CategoryClassify  Category = "classify"  // Task-to-agent classification
	CategoryTelemetry Category = "telemetry" // Event store, metrics

	// Learning and memory categories
	CategoryPlaybook  Category = "playbook"  // Playbook store operations
	CategoryACE       Category = "ace"       // Generate/Reflect/Curate cycle
	CategoryMemory    Category = "memory"    // Hindsight memory store
	CategoryEmbedding Category = "embedding" // Embedding engine
	CategoryCRDT      Category = "crdt"      // CRDT collaboration core
)

// loggingConfig mirrors the relevant parts of config.LoggingConfig
// to avoid circular imports
type loggingConfig struct {
	DebugMode  bool            `json:"debug_mode"`
	Categories map[string]bool `json:"categories"`
	Level      string          `json:"level"`
	JSONFormat bool            `json:"json_format"` // Output structured JSON entries
}

// configFile structure for reading .forge/config.json
type configFile struct {
	Logging loggingConfig `json:"logging"`
}

// StructuredLogEntry represents a JSON log entry
type StructuredLogEntry struct {
	Timestamp int64          `json:"ts"`  // Unix milliseconds
	Category  string         `json:"cat"` // Log category
	Level     string         `json:"lvl"` // debug/info/warn/error
	Message   string         `json:"msg"` // Log message
	Fields    map[string]any `json:"fields,omitempty"`
}

// Logger wraps a standard logger with category and file output
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers      = make(map[Category]*Logger)
	loggersMu    sync.RWMutex
	logsDir      string
	workspace    string
	config       loggingConfig
	configLoaded bool
	configMu     sync.RWMutex
	logLevel     int // 0=debug, 1=info, 2=warn, 3=error
)

// Log levels
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Initialize sets up the logging directory and loads config.
// Should be called once at startup with the workspace path.
func Initialize(ws string) error {
	if ws == "" {
		return fmt.Errorf("workspace path required")
	}

	workspace = ws
	logsDir = filepath.Join(workspace, ".forge", "logs")

	// Load config first to check if debug mode is enabled
	if err := loadConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not load config: %v\n", err)
		// Default to disabled (production mode)
		config.DebugMode = false
	}

	// Only create logs directory if debug mode is enabled
	if !config.DebugMode {
		return nil // Silent no-op in production mode
	}

	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	bootLogger := Get(CategoryBoot)
	bootLogger.Info("=== forgemind Logging System Initialized ===")
	bootLogger.Info("Workspace: %s", workspace)
	bootLogger.Info("Logs directory: %s", logsDir)
	bootLogger.Info("Log level: %s", config.Level)

	return nil
}

// loadConfig reads the logging config from .forge/config.json
func loadConfig() error {
	configMu.Lock()
	defer configMu.Unlock()

	configPath := filepath.Join(workspace, ".forge", "config.json")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// No config = production mode (no logging)
			config.DebugMode = false
			configLoaded = true
			return nil
		}
		return err
	}

	var cf configFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	config = cf.Logging
	configLoaded = true

	switch config.Level {
	case "debug":
		logLevel = LevelDebug
	case "info":
		logLevel = LevelInfo
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}

	return nil
}

// ReloadConfig reloads the config from disk.
func ReloadConfig() error {
	return loadConfig()
}

// ForceDebug enables debug-mode logging regardless of config.json. Used by
// the CLI's --verbose flag.
func ForceDebug() {
	configMu.Lock()
	config.DebugMode = true
	logLevel = LevelDebug
	configMu.Unlock()

	if logsDir != "" {
		_ = os.MkdirAll(logsDir, 0755)
	}
}

// IsDebugMode returns whether debug logging is enabled
func IsDebugMode() bool {
	configMu.RLock()
	defer configMu.RUnlock()
	return config.DebugMode
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	configMu.RLock()
	defer configMu.RUnlock()

	if !config.DebugMode {
		return false
	}

	if config.Categories == nil {
		return true // All enabled by default in debug mode
	}

	enabled, exists := config.Categories[string(category)]
	if !exists {
		return true // Enable by default if not specified
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if debug mode is disabled or category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category}
	}

	if logsDir == "" {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()

	// Double-check after acquiring write lock
	if l, ok := loggers[category]; ok {
		return l
	}

	// Create log file with date prefix for easy rotation
	date := time.Now().Format("2006-01-02")
	filename := fmt.Sprintf("%s_%s.log", date, category)
	logPath := filepath.Join(logsDir, filename)

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		logger:   log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[category] = l

	return l
}

// logJSON writes a structured JSON log entry
func (l *Logger) logJSON(level, msg string) {
	entry := StructuredLogEntry{
		Timestamp: time.Now().UnixMilli(),
		Category:  string(l.category),
		Level:     level,
		Message:   msg,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		l.logger.Printf("[%s] %s", level, msg) // Fallback to text
		return
	}
	l.logger.Printf("%s", data)
}

// Debug logs a debug message (only if level <= debug)
func (l *Logger) Debug(format string, args ...any) {
	if l.logger == nil || logLevel > LevelDebug {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if config.JSONFormat {
		l.logJSON("debug", msg)
	} else {
		l.logger.Printf("[DEBUG] %s", msg)
	}
}

// Info logs an informational message (only if level <= info)
func (l *Logger) Info(format string, args ...any) {
	if l.logger == nil || logLevel > LevelInfo {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if config.JSONFormat {
		l.logJSON("info", msg)
	} else {
		l.logger.Printf("[INFO] %s", msg)
	}
}

// Warn logs a warning message (only if level <= warn)
func (l *Logger) Warn(format string, args ...any) {
	if l.logger == nil || logLevel > LevelWarn {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if config.JSONFormat {
		l.logJSON("warn", msg)
	} else {
		l.logger.Printf("[WARN] %s", msg)
	}
}

// Error logs an error message (always logged if logger exists)
func (l *Logger) Error(format string, args ...any) {
	if l.logger == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if config.JSONFormat {
		l.logJSON("error", msg)
	} else {
		l.logger.Printf("[ERROR] %s", msg)
	}
}

// StructuredLog writes a fully structured log entry with custom fields
func (l *Logger) StructuredLog(level string, msg string, fields map[string]any) {
	if l.logger == nil {
		return
	}
	entry := StructuredLogEntry{
		Timestamp: time.Now().UnixMilli(),
		Category:  string(l.category),
		Level:     level,
		Message:   msg,
		Fields:    fields,
	}
	if config.JSONFormat {
		data, err := json.Marshal(entry)
		if err == nil {
			l.logger.Printf("%s", data)
			return
		}
	}
	l.logger.Printf("[%s] %s | fields=%v", level, msg, fields)
}

// CloseAll closes all open log files (call at shutdown)
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	for _, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// These are no-ops if the category is disabled
// =============================================================================

// Boot logs to the boot category
func Boot(format string, args ...any) { Get(CategoryBoot).Info(format, args...) }

// BootDebug logs debug to the boot category
func BootDebug(format string, args ...any) { Get(CategoryBoot).Debug(format, args...) }

// BootError logs error to the boot category
func BootError(format string, args ...any) { Get(CategoryBoot).Error(format, args...) }

// API logs to the api category
func API(format string, args ...any) { Get(CategoryAPI).Info(format, args...) }

// APIDebug logs debug to the api category
func APIDebug(format string, args ...any) { Get(CategoryAPI).Debug(format, args...) }

// APIWarn logs warning to the api category
func APIWarn(format string, args ...any) { Get(CategoryAPI).Warn(format, args...) }

// Build logs to the build category
func Build(format string, args ...any) { Get(CategoryBuild).Info(format, args...) }

// BuildDebug logs debug to the build category
func BuildDebug(format string, args ...any) { Get(CategoryBuild).Debug(format, args...) }

// BuildWarn logs warning to the build category
func BuildWarn(format string, args ...any) { Get(CategoryBuild).Warn(format, args...) }

// BuildError logs error to the build category
func BuildError(format string, args ...any) { Get(CategoryBuild).Error(format, args...) }

// Hooks logs to the hooks category
func Hooks(format string, args ...any) { Get(CategoryHooks).Info(format, args...) }

// HooksDebug logs debug to the hooks category
func HooksDebug(format string, args ...any) { Get(CategoryHooks).Debug(format, args...) }

// HooksWarn logs warning to the hooks category
func HooksWarn(format string, args ...any) { Get(CategoryHooks).Warn(format, args...) }

// Handoff logs to the handoff category
func Handoff(format string, args ...any) { Get(CategoryHandoff).Info(format, args...) }

// HandoffDebug logs debug to the handoff category
func HandoffDebug(format string, args ...any) { Get(CategoryHandoff).Debug(format, args...) }

// HandoffWarn logs warning to the handoff category
func HandoffWarn(format string, args ...any) { Get(CategoryHandoff).Warn(format, args...) }

// Prompt logs to the prompt category
func Prompt(format string, args ...any) { Get(CategoryPrompt).Info(format, args...) }

// PromptDebug logs debug to the prompt category
func PromptDebug(format string, args ...any) { Get(CategoryPrompt).Debug(format, args...) }

// PromptWarn logs a warning to the prompt category
func PromptWarn(format string, args ...any) { Get(CategoryPrompt).Warn(format, args...) }

// Telemetry logs to the telemetry category
func Telemetry(format string, args ...any) { Get(CategoryTelemetry).Info(format, args...) }

// Classify logs to the classify category
func Classify(format string, args ...any) { Get(CategoryClassify).Info(format, args...) }

// ClassifyDebug logs debug to the classify category
func ClassifyDebug(format string, args ...any) { Get(CategoryClassify).Debug(format, args...) }

// Playbook logs to the playbook category
func Playbook(format string, args ...any) { Get(CategoryPlaybook).Info(format, args...) }

// PlaybookDebug logs debug to the playbook category
func PlaybookDebug(format string, args ...any) { Get(CategoryPlaybook).Debug(format, args...) }

// PlaybookWarn logs warning to the playbook category
func PlaybookWarn(format string, args ...any) { Get(CategoryPlaybook).Warn(format, args...) }

// ACE logs to the ace category
func ACE(format string, args ...any) { Get(CategoryACE).Info(format, args...) }

// ACEDebug logs debug to the ace category
func ACEDebug(format string, args ...any) { Get(CategoryACE).Debug(format, args...) }

// ACEWarn logs warning to the ace category
func ACEWarn(format string, args ...any) { Get(CategoryACE).Warn(format, args...) }

// Memory logs to the memory category
func Memory(format string, args ...any) { Get(CategoryMemory).Info(format, args...) }

// MemoryDebug logs debug to the memory category
func MemoryDebug(format string, args ...any) { Get(CategoryMemory).Debug(format, args...) }

// MemoryWarn logs warning to the memory category
func MemoryWarn(format string, args ...any) { Get(CategoryMemory).Warn(format, args...) }

// MemoryError logs error to the memory category
func MemoryError(format string, args ...any) { Get(CategoryMemory).Error(format, args...) }

// Embedding logs to the embedding category
func Embedding(format string, args ...any) { Get(CategoryEmbedding).Info(format, args...) }

// EmbeddingDebug logs debug to the embedding category
func EmbeddingDebug(format string, args ...any) { Get(CategoryEmbedding).Debug(format, args...) }

// CRDT logs to the crdt category
func CRDT(format string, args ...any) { Get(CategoryCRDT).Info(format, args...) }

// CRDTDebug logs debug to the crdt category
func CRDTDebug(format string, args ...any) { Get(CategoryCRDT).Debug(format, args...) }

// CRDTWarn logs warning to the crdt category
func CRDTWarn(format string, args ...any) { Get(CategoryCRDT).Warn(format, args...) }

// =============================================================================
// TIMING HELPERS - For performance logging
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{
		category: category,
		op:       operation,
		start:    time.Now(),
	}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithInfo ends the timer and logs at info level
func (t *Timer) StopWithInfo() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Info("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
