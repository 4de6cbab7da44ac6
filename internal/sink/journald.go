package sink

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/coreos/go-systemd/v22/journal"
	"github.com/rs/zerolog/log"

	"logstream-server/config"
	"logstream-server/pkg/model"
)

type journaldSink struct {
	identifier string
}

// NewJournaldSink forwards entries to the systemd journal. Entry fields are
// attached as uppercased journal variables alongside the standard ones.
func NewJournaldSink(cfg *config.JournaldBackendConfig) (Sink, error) {
	if !journal.Enabled() {
		log.Error().Msg("journald socket is not available")
		return nil, errors.New("journald is not available on this system")
	}
	log.Info().Str("identifier", cfg.SyslogIdentifier).Msg("Journald sink initialized")
	return &journaldSink{identifier: cfg.SyslogIdentifier}, nil
}

func (s *journaldSink) Name() string { return "journald" }

func (s *journaldSink) StoreEntry(_ context.Context, entry *model.LogEntry) error {
	vars := map[string]string{
		"SYSLOG_IDENTIFIER": s.identifier,
		"DAEMON":            entry.Daemon,
		"ENTRY_ID":          entry.ID,
	}
	if entry.PID != nil {
		vars["DAEMON_PID"] = strconv.Itoa(int(*entry.PID))
	}
	if entry.Hostname != nil {
		vars["DAEMON_HOSTNAME"] = *entry.Hostname
	}
	for k, v := range entry.Fields {
		vars[sanitizeJournalKey(k)] = v
	}
	// Journal priorities share the entry's severity numbering.
	return journal.Send(entry.Message, journal.Priority(entry.Level), vars)
}

func (s *journaldSink) Close() error { return nil }

// sanitizeJournalKey maps an arbitrary field key onto the journal's variable
// grammar: uppercase ASCII, digits and underscores, not starting with a digit.
func sanitizeJournalKey(key string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(key) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "" || out[0] >= '0' && out[0] <= '9' {
		out = "F_" + out
	}
	return out
}
