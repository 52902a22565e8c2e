package jobstate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// LogEntry is one line of the activity log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Job       Kind      `json:"job"`
	Message   string    `json:"message"`
}

// Logf appends a line to the activity log and mirrors it to the logger.
// Failing to persist a line is logged, never returned: the activity log
// must not be able to break a run.
func (s *State) Logf(ctx context.Context, level slog.Level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	s.logger.Log(ctx, level, msg, "job", string(s.kind))

	entry := LogEntry{
		Timestamp: s.now(),
		Level:     level.String(),
		Job:       s.kind,
		Message:   msg,
	}

	err := s.store.Update(ctx, keyLog, func(cur []byte, exists bool) ([]byte, error) {
		var entries []LogEntry
		if exists {
			if err := json.Unmarshal(cur, &entries); err != nil {
				entries = nil
			}
		}
		entries = append(entries, entry)
		if over := len(entries) - s.logCapacity; over > 0 {
			entries = entries[over:]
		}
		return json.Marshal(entries)
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to persist activity log", "error", err)
	}
}

// Logs returns up to limit of the most recent entries, oldest first.
// A limit of zero or less returns them all.
func (s *State) Logs(ctx context.Context, limit int) ([]LogEntry, error) {
	var entries []LogEntry
	if _, err := s.get(ctx, keyLog, &entries); err != nil {
		return nil, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}
