// Package storage owns the per-daemon append-only log files. Appends to one
// daemon are serialized behind that daemon's lock; appends to different
// daemons never contend with each other.
package storage

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"logstream-server/config"
	"logstream-server/internal/sink"
	"logstream-server/pkg/model"
)

// ErrSerialize marks a rendering failure. The entry model's renderers are
// total over string content, so seeing this in practice is a bug, but the
// path is modeled so a future backend format can fail without panicking.
var ErrSerialize = errors.New("storage: render log entry")

// archiveTimeLayout is the suffix appended to rotated files. Nanosecond
// precision keeps two rotations of the same key from colliding, and the
// fixed width keeps lexicographic order equal to chronological order.
const archiveTimeLayout = "20060102T150405.000000000"

type Engine struct {
	storageCfg config.StorageConfig
	fileCfg    config.FileBackendConfig
	sinks      []sink.Sink

	mu    sync.RWMutex
	files map[string]*logFile

	countStored    uint64
	countFailed    uint64
	countRotations uint64
}

// logFile is one daemon's active file. All appends and the rotation swap for
// that daemon take mu, so an entry lands entirely in the pre-rotation file or
// entirely in the post-rotation file, never split.
type logFile struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	writer   *bufio.Writer
	size     int64
	openedAt time.Time
}

// NewEngine creates the storage engine. Sinks are the auxiliary backends the
// engine fans out to after (and independently of) the file store.
func NewEngine(cfg *config.Config, sinks []sink.Sink) *Engine {
	return &Engine{
		storageCfg: cfg.Storage,
		fileCfg:    cfg.Backends.File,
		sinks:      sinks,
		files:      make(map[string]*logFile),
	}
}

// Store durably appends the entry to its daemon's file and forwards it to
// every configured sink. On return the bytes have been handed to the OS; they
// are not necessarily fsynced. With the file backend disabled and no sinks
// configured this is a successful no-op.
func (e *Engine) Store(ctx context.Context, entry *model.LogEntry) error {
	var errs []error
	if e.fileCfg.Enabled {
		if err := e.storeToFile(entry); err != nil {
			errs = append(errs, err)
		}
	}
	if len(e.sinks) > 0 {
		if err := sink.FanOut(ctx, e.sinks, entry); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		atomic.AddUint64(&e.countFailed, 1)
		return errors.Join(errs...)
	}
	// With every backend disabled the entry went nowhere; a success no-op
	// must not count as stored.
	if e.fileCfg.Enabled || len(e.sinks) > 0 {
		atomic.AddUint64(&e.countStored, 1)
	}
	return nil
}

func (e *Engine) storeToFile(entry *model.LogEntry) error {
	lf, err := e.handle(entry.Daemon)
	if err != nil {
		return err
	}

	var line string
	switch e.fileCfg.Format {
	case "json":
		line, err = entry.ToJSON()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSerialize, err)
		}
	default:
		line = entry.ToHuman()
	}

	lf.mu.Lock()
	defer lf.mu.Unlock()

	n, err := lf.writer.WriteString(line)
	if err == nil {
		err = lf.writer.WriteByte('\n')
	}
	if err == nil {
		err = lf.writer.Flush()
	}
	if err != nil {
		return fmt.Errorf("storage: append %s: %w", entry.Daemon, err)
	}
	lf.size += int64(n) + 1
	return nil
}

// handle returns the daemon's active file, lazily opening it on first use.
// The lookup is read-mostly; the insert path re-checks under the write lock.
func (e *Engine) handle(daemon string) (*logFile, error) {
	e.mu.RLock()
	lf, ok := e.files[daemon]
	e.mu.RUnlock()
	if ok {
		return lf, nil
	}

	if strings.ContainsAny(daemon, `/\`) || daemon == "." || daemon == ".." {
		return nil, fmt.Errorf("storage: invalid daemon name %q", daemon)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if lf, ok = e.files[daemon]; ok {
		return lf, nil
	}

	path := filepath.Join(e.storageCfg.OutputDirectory, daemon+".log")
	lf, err := openLogFile(path)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", daemon, err)
	}
	e.files[daemon] = lf
	log.Debug().Str("daemon", daemon).Str("path", path).Msg("Opened log file")
	return lf, nil
}

func openLogFile(path string) (*logFile, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	lf := &logFile{
		path:     path,
		file:     file,
		writer:   bufio.NewWriter(file),
		openedAt: time.Now(),
	}
	if info, err := file.Stat(); err == nil && info.Size() > 0 {
		// Adopted an existing file: age from its last write, the closest
		// available approximation of its creation time.
		lf.size = info.Size()
		lf.openedAt = info.ModTime()
	}
	return lf, nil
}

// Keys returns the daemon names with an active file handle.
func (e *Engine) Keys() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	keys := make([]string, 0, len(e.files))
	for k := range e.files {
		keys = append(keys, k)
	}
	return keys
}

// RotateIfNeeded swaps the daemon's active file when it exceeds maxSize bytes
// or maxAge, under the same lock Store takes for that daemon. The active file
// is renamed to a timestamp-suffixed archive before anything is closed, so a
// failed rename leaves it fully intact for the next scan.
func (e *Engine) RotateIfNeeded(daemon string, maxSize int64, maxAge time.Duration) (bool, error) {
	e.mu.RLock()
	lf := e.files[daemon]
	e.mu.RUnlock()
	if lf == nil {
		return false, nil
	}

	lf.mu.Lock()
	defer lf.mu.Unlock()

	oversize := maxSize > 0 && lf.size >= maxSize
	overage := maxAge > 0 && time.Since(lf.openedAt) >= maxAge
	if !oversize && !overage {
		return false, nil
	}

	if err := lf.writer.Flush(); err != nil {
		return false, fmt.Errorf("storage: flush %s before rotation: %w", daemon, err)
	}
	archive := lf.path + "." + time.Now().UTC().Format(archiveTimeLayout)
	if err := os.Rename(lf.path, archive); err != nil {
		return false, fmt.Errorf("storage: archive %s: %w", daemon, err)
	}
	if err := lf.file.Close(); err != nil {
		log.Warn().Err(err).Str("daemon", daemon).Msg("Failed to close archived log file")
	}

	file, err := os.OpenFile(lf.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		// The old handle is gone; drop the cache entry so the next store
		// reopens the file from scratch.
		e.mu.Lock()
		delete(e.files, daemon)
		e.mu.Unlock()
		return false, fmt.Errorf("storage: reopen %s after rotation: %w", daemon, err)
	}
	lf.file = file
	lf.writer = bufio.NewWriter(file)
	lf.size = 0
	lf.openedAt = time.Now()
	atomic.AddUint64(&e.countRotations, 1)
	log.Info().Str("daemon", daemon).Str("archive", archive).Msg("Rotated log file")
	return true, nil
}

// PruneArchives deletes the oldest archives of the daemon beyond keep. Only
// names of the exact form <daemon>.log.<archive timestamp> are considered:
// another daemon whose name extends this one (say "svc.log" next to "svc")
// shares the prefix, and its files must never be touched by this daemon's
// retention pass.
func (e *Engine) PruneArchives(daemon string, keep int) error {
	dirEntries, err := os.ReadDir(e.storageCfg.OutputDirectory)
	if err != nil {
		return fmt.Errorf("storage: list archives for %s: %w", daemon, err)
	}
	prefix := daemon + ".log."
	var archives []string
	for _, de := range dirEntries {
		name := de.Name()
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		if _, err := time.Parse(archiveTimeLayout, name[len(prefix):]); err != nil {
			continue
		}
		archives = append(archives, name)
	}
	if len(archives) <= keep {
		return nil
	}
	// Newest first; the timestamp suffix sorts lexicographically.
	sort.Sort(sort.Reverse(sort.StringSlice(archives)))
	var errs []error
	for _, old := range archives[keep:] {
		path := filepath.Join(e.storageCfg.OutputDirectory, old)
		if err := os.Remove(path); err != nil {
			errs = append(errs, err)
			continue
		}
		log.Debug().Str("daemon", daemon).Str("archive", path).Msg("Pruned expired archive")
	}
	return errors.Join(errs...)
}

// Stats is a point-in-time snapshot of the engine's counters.
type Stats struct {
	EntriesStored uint64 `json:"entries_stored"`
	EntriesFailed uint64 `json:"entries_failed"`
	Rotations     uint64 `json:"rotations"`
	ActiveDaemons int    `json:"active_daemons"`
}

func (e *Engine) Stats() Stats {
	e.mu.RLock()
	active := len(e.files)
	e.mu.RUnlock()
	return Stats{
		EntriesStored: atomic.LoadUint64(&e.countStored),
		EntriesFailed: atomic.LoadUint64(&e.countFailed),
		Rotations:     atomic.LoadUint64(&e.countRotations),
		ActiveDaemons: active,
	}
}

// Close flushes and closes every per-daemon file and shuts down the sinks.
func (e *Engine) Close() error {
	e.mu.Lock()
	files := e.files
	e.files = make(map[string]*logFile)
	e.mu.Unlock()

	var errs []error
	for daemon, lf := range files {
		lf.mu.Lock()
		if err := lf.writer.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("storage: flush %s: %w", daemon, err))
		}
		if err := lf.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: close %s: %w", daemon, err))
		}
		lf.mu.Unlock()
	}
	if err := sink.CloseAll(e.sinks); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
