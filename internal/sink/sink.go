// Package sink holds the auxiliary delivery backends a stored entry fans out
// to. The per-daemon file store is not a sink; it is the storage engine's own
// concern. Sinks are best-effort forwarders configured at startup.
package sink

import (
	"context"
	"errors"
	"fmt"

	"logstream-server/config"
	"logstream-server/pkg/model"
)

// FromConfig builds every enabled auxiliary sink. A sink whose construction
// fails is a startup error: a backend the operator asked for must not be
// silently absent.
func FromConfig(cfg *config.Config) ([]Sink, error) {
	var sinks []Sink
	if cfg.Backends.Syslog.Enabled {
		s, err := NewSyslogSink(&cfg.Backends.Syslog)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if cfg.Backends.Journald.Enabled {
		s, err := NewJournaldSink(&cfg.Backends.Journald)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if cfg.Backends.Kafka.Enabled {
		s, err := NewKafkaSink(&cfg.Backends.Kafka)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

// Sink delivers one log entry to a configured backend.
type Sink interface {
	Name() string
	StoreEntry(ctx context.Context, entry *model.LogEntry) error
	Close() error
}

// FanOut delivers the entry to every sink. A failing sink never prevents the
// remaining sinks from receiving the entry; failures are aggregated.
func FanOut(ctx context.Context, sinks []Sink, entry *model.LogEntry) error {
	var errs []error
	for _, s := range sinks {
		if err := s.StoreEntry(ctx, entry); err != nil {
			errs = append(errs, fmt.Errorf("sink %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// CloseAll closes every sink, aggregating failures.
func CloseAll(sinks []Sink) error {
	var errs []error
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("sink %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
