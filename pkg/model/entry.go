package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Level is a syslog-compatible severity. Lower values are more severe.
type Level int8

const (
	LevelEmergency Level = iota
	LevelAlert
	LevelCritical
	LevelError
	LevelWarning
	LevelNotice
	LevelInfo
	LevelDebug
)

var levelWireNames = [...]string{
	"Emergency", "Alert", "Critical", "Error", "Warning", "Notice", "Info", "Debug",
}

var levelDisplayNames = [...]string{
	"EMERG", "ALERT", "CRIT", "ERROR", "WARN", "NOTICE", "INFO", "DEBUG",
}

// String returns the short display name used by the human-readable format.
func (l Level) String() string {
	if l < LevelEmergency || l > LevelDebug {
		return fmt.Sprintf("Level(%d)", int8(l))
	}
	return levelDisplayNames[l]
}

// WireName returns the level name used in the JSON wire format.
func (l Level) WireName() string {
	if l < LevelEmergency || l > LevelDebug {
		return fmt.Sprintf("Level(%d)", int8(l))
	}
	return levelWireNames[l]
}

// ParseLevel maps a wire name back to its Level.
func ParseLevel(name string) (Level, error) {
	for i, n := range levelWireNames {
		if n == name {
			return Level(i), nil
		}
	}
	return 0, fmt.Errorf("model: unknown log level %q", name)
}

func (l Level) MarshalJSON() ([]byte, error) {
	if l < LevelEmergency || l > LevelDebug {
		return nil, fmt.Errorf("model: cannot marshal log level %d", int8(l))
	}
	return json.Marshal(l.WireName())
}

func (l *Level) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("model: log level must be a string: %w", err)
	}
	parsed, err := ParseLevel(name)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// LogEntry is one structured log record. It is immutable once handed to the
// storage engine; the producing side may fill Fields/PID/Hostname between
// construction and submission.
type LogEntry struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Level     Level             `json:"level"`
	Daemon    string            `json:"daemon"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields"`
	PID       *int32            `json:"pid"`
	Hostname  *string           `json:"hostname"`
}

// New creates a log entry with a fresh random id, the current UTC time and an
// empty (non-nil) fields map. Ids are never reused across entries.
func New(level Level, daemon, message string) *LogEntry {
	return &LogEntry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Level:     level,
		Daemon:    daemon,
		Message:   message,
		Fields:    map[string]string{},
	}
}

// ToJSON renders the entry as a single-line JSON object. Every field is
// always present; a nil fields map renders as {} rather than null.
// Control characters in any string are escaped, never rejected.
func (e *LogEntry) ToJSON() (string, error) {
	entry := *e
	if entry.Fields == nil {
		entry.Fields = map[string]string{}
	}
	data, err := json.Marshal(&entry)
	if err != nil {
		return "", fmt.Errorf("model: marshal log entry: %w", err)
	}
	return string(data), nil
}

// ToHuman renders the entry as "2006-01-02 15:04:05.000 LEVEL daemon: message".
func (e *LogEntry) ToHuman() string {
	return fmt.Sprintf("%s %s %s: %s",
		e.Timestamp.Format("2006-01-02 15:04:05.000"), e.Level, e.Daemon, e.Message)
}

// wireEntry is the strict parse target. Required fields are pointers so a
// missing key is distinguishable from a zero value.
type wireEntry struct {
	ID        *string           `json:"id"`
	Timestamp *time.Time        `json:"timestamp"`
	Level     *Level            `json:"level"`
	Daemon    *string           `json:"daemon"`
	Message   *string           `json:"message"`
	Fields    map[string]string `json:"fields"`
	PID       *int32            `json:"pid"`
	Hostname  *string           `json:"hostname"`
}

// FromJSON parses one wire line into a LogEntry. Unknown extra keys are
// accepted and ignored; a missing required field is an error, not a panic.
func FromJSON(line string) (*LogEntry, error) {
	var w wireEntry
	if err := json.Unmarshal([]byte(line), &w); err != nil {
		return nil, fmt.Errorf("model: parse log entry: %w", err)
	}
	switch {
	case w.ID == nil || *w.ID == "":
		return nil, fmt.Errorf("model: parse log entry: missing id")
	case w.Timestamp == nil:
		return nil, fmt.Errorf("model: parse log entry: missing timestamp")
	case w.Level == nil:
		return nil, fmt.Errorf("model: parse log entry: missing level")
	case w.Daemon == nil || *w.Daemon == "":
		return nil, fmt.Errorf("model: parse log entry: missing daemon")
	case w.Message == nil:
		return nil, fmt.Errorf("model: parse log entry: missing message")
	}
	fields := w.Fields
	if fields == nil {
		fields = map[string]string{}
	}
	return &LogEntry{
		ID:        *w.ID,
		Timestamp: *w.Timestamp,
		Level:     *w.Level,
		Daemon:    *w.Daemon,
		Message:   *w.Message,
		Fields:    fields,
		PID:       w.PID,
		Hostname:  w.Hostname,
	}, nil
}
