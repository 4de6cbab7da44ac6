package sink

import (
	"context"
	"fmt"
	"log/syslog"

	"github.com/rs/zerolog/log"

	"logstream-server/config"
	"logstream-server/pkg/model"
)

var syslogFacilities = map[string]syslog.Priority{
	"kern":   syslog.LOG_KERN,
	"user":   syslog.LOG_USER,
	"mail":   syslog.LOG_MAIL,
	"daemon": syslog.LOG_DAEMON,
	"auth":   syslog.LOG_AUTH,
	"syslog": syslog.LOG_SYSLOG,
	"local0": syslog.LOG_LOCAL0,
	"local1": syslog.LOG_LOCAL1,
	"local2": syslog.LOG_LOCAL2,
	"local3": syslog.LOG_LOCAL3,
	"local4": syslog.LOG_LOCAL4,
	"local5": syslog.LOG_LOCAL5,
	"local6": syslog.LOG_LOCAL6,
	"local7": syslog.LOG_LOCAL7,
}

type syslogSink struct {
	writer *syslog.Writer
}

// NewSyslogSink forwards entries to the local syslog daemon, or to a remote
// server over UDP when one is configured.
func NewSyslogSink(cfg *config.SyslogBackendConfig) (Sink, error) {
	facility, ok := syslogFacilities[cfg.Facility]
	if !ok {
		return nil, fmt.Errorf("unknown syslog facility %q", cfg.Facility)
	}
	network := ""
	if cfg.Server != "" {
		network = "udp"
	}
	writer, err := syslog.Dial(network, cfg.Server, facility|syslog.LOG_INFO, "logstream")
	if err != nil {
		log.Error().Err(err).Str("server", cfg.Server).Msg("Failed to connect to syslog")
		return nil, err
	}
	log.Info().Str("facility", cfg.Facility).Str("server", cfg.Server).Msg("Syslog sink initialized")
	return &syslogSink{writer: writer}, nil
}

func (s *syslogSink) Name() string { return "syslog" }

func (s *syslogSink) StoreEntry(_ context.Context, entry *model.LogEntry) error {
	// Entry severity ranks match syslog severity numbering exactly.
	msg := fmt.Sprintf("%s: %s", entry.Daemon, entry.Message)
	switch entry.Level {
	case model.LevelEmergency:
		return s.writer.Emerg(msg)
	case model.LevelAlert:
		return s.writer.Alert(msg)
	case model.LevelCritical:
		return s.writer.Crit(msg)
	case model.LevelError:
		return s.writer.Err(msg)
	case model.LevelWarning:
		return s.writer.Warning(msg)
	case model.LevelNotice:
		return s.writer.Notice(msg)
	case model.LevelInfo:
		return s.writer.Info(msg)
	default:
		return s.writer.Debug(msg)
	}
}

func (s *syslogSink) Close() error {
	return s.writer.Close()
}
