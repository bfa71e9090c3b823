package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// EventLog is an append-only JSON-lines sink: one record per line,
// O_APPEND-opened, matching spec §6's run.jsonl. Grounded on
// internal/attractor/runstate's append-only checkpoint log and
// engine.go's Warn()-under-mutex idiom, generalized from a single
// warnings slice into a structured event stream that doubles as the
// evidence pack's run.jsonl artifact.
type EventLog struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// NewEventLog opens (creating if needed) dir/run.jsonl for appending.
func NewEventLog(dir string) (*EventLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("engine: create log dir: %w", err)
	}
	path := filepath.Join(dir, "run.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("engine: open run.jsonl: %w", err)
	}
	return &EventLog{file: f, path: path}, nil
}

// Record appends one JSON object, stamped with ts (the Clock's
// fractional POSIX seconds, per spec §5's log-ordering guarantee).
func (l *EventLog) Record(ts float64, event string, fields map[string]any) error {
	rec := map[string]any{"ts": ts, "event": event}
	for k, v := range fields {
		rec[k] = v
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("engine: marshal event log record: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("engine: write event log record: %w", err)
	}
	return nil
}

// RecordPhaseTransition logs a {from, to, reason} record before any
// state changes, per spec §5: "Phase transitions are logged before any
// state is changed; the first log entry after PhaseTransition(X→Y)
// belongs to Y."
func (l *EventLog) RecordPhaseTransition(ts float64, from, to, reason string) error {
	return l.Record(ts, "phase_transition", map[string]any{"from": from, "to": to, "reason": reason})
}

// Close closes the underlying file.
func (l *EventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// Path returns the run.jsonl path, used by internal/evidence's best
// effort copy step.
func (l *EventLog) Path() string { return l.path }
