package storage

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"logstream-server/config"
)

// Rotator drives the periodic rotation scan. Rotation never happens inline on
// the write path; a cron schedule (hourly by default) walks the tracked
// daemons and lets the engine swap any file over its size or age threshold.
type Rotator struct {
	engine *Engine
	cfg    config.RotationConfig
	maxAge time.Duration
	cron   *cron.Cron
}

func NewRotator(cfg *config.Config, engine *Engine) *Rotator {
	return &Rotator{
		engine: engine,
		cfg:    cfg.Rotation,
		maxAge: time.Duration(cfg.Rotation.MaxAgeHours) * time.Hour,
	}
}

// Start schedules the rotation scan. When rotation is disabled no cron runner
// is created and the rotator consumes nothing.
func (r *Rotator) Start() error {
	if !r.cfg.Enabled {
		log.Info().Msg("Log rotation is disabled")
		return nil
	}

	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.DowOptional | cron.Descriptor)
	c := cron.New(cron.WithParser(parser))
	if _, err := c.AddFunc(r.cfg.Schedule, r.Scan); err != nil {
		log.Error().Err(err).Str("schedule", r.cfg.Schedule).Msg("Failed to add rotation cron job")
		return err
	}
	c.Start()
	r.cron = c
	log.Info().Str("schedule", r.cfg.Schedule).Msg("Scheduled log rotation scan")
	return nil
}

// Stop halts the schedule and waits for an in-flight scan to finish.
func (r *Rotator) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
	log.Info().Msg("Rotation scheduler stopped")
}

// Scan checks every tracked daemon against the rotation thresholds. A failed
// rotation leaves the active file untouched and is retried on the next scan;
// it is never surfaced to producers.
func (r *Rotator) Scan() {
	for _, daemon := range r.engine.Keys() {
		rotated, err := r.engine.RotateIfNeeded(daemon, r.engine.storageCfg.MaxFileSize, r.maxAge)
		if err != nil {
			log.Error().Err(err).Str("daemon", daemon).Msg("Rotation failed, will retry on next scan")
			continue
		}
		if !rotated {
			continue
		}
		if err := r.engine.PruneArchives(daemon, r.cfg.KeepFiles); err != nil {
			log.Error().Err(err).Str("daemon", daemon).Msg("Failed to prune archives")
		}
	}
}
