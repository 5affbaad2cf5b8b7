// Package notify delivers alert-worthy events. Only the backup
// orchestrator and the rehearsal harness send events; everything below
// them returns structured results instead.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
)

type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

type Event struct {
	Source  string         `json:"source"`
	Level   Level          `json:"level"`
	Title   string         `json:"title"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
	Time    time.Time      `json:"time"`
}

type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// LogNotifier records events in the process log.
type LogNotifier struct {
	logger *log.Logger
}

func NewLogNotifier(logger *log.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, event Event) error {
	kv := []any{"source", event.Source, "title", event.Title}
	for k, v := range event.Fields {
		kv = append(kv, k, v)
	}
	switch event.Level {
	case LevelCritical:
		n.logger.Error(event.Message, kv...)
	case LevelWarning:
		n.logger.Warn(event.Message, kv...)
	default:
		n.logger.Info(event.Message, kv...)
	}
	return nil
}

// Multi fans an event out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, event Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }
