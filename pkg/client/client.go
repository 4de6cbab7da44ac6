// Package client is the producer-side library: it serializes log entries to
// the collector's wire format and writes them over a persistent unix socket
// connection, reconnecting transparently on transient drops.
package client

import (
	"errors"
	"net"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"logstream-server/pkg/model"
)

type Config struct {
	SocketPath    string
	DaemonName    string
	MinLevel      model.Level // least severe level still sent
	Timeout       time.Duration
	AutoReconnect bool
}

func DefaultConfig() Config {
	return Config{
		MinLevel:      model.LevelInfo,
		Timeout:       5 * time.Second,
		AutoReconnect: true,
	}
}

func (c *Config) validate() error {
	if c.SocketPath == "" {
		return errors.New("client: socket path cannot be empty")
	}
	if c.DaemonName == "" {
		return errors.New("client: daemon name cannot be empty")
	}
	return nil
}

// Client sends log entries to the collector. Safe for concurrent use; sends
// are serialized over the single connection.
type Client struct {
	cfg      Config
	hostname string
	pid      int32

	mu   sync.Mutex
	conn net.Conn
}

// Connect creates a client with default settings and dials the collector.
func Connect(socketPath, daemonName string) (*Client, error) {
	cfg := DefaultConfig()
	cfg.SocketPath = socketPath
	cfg.DaemonName = daemonName
	return WithConfig(cfg)
}

// WithConfig creates a client from explicit settings and dials the collector.
func WithConfig(cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	hostname, _ := os.Hostname()
	c := &Client{
		cfg:      cfg,
		hostname: hostname,
		pid:      int32(os.Getpid()),
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureConnected(); err != nil {
		return nil, err
	}
	return c, nil
}

// ensureConnected dials with exponential backoff bounded by the configured
// timeout. Caller must hold mu.
func (c *Client) ensureConnected() error {
	if c.conn != nil {
		return nil
	}
	operation := func() error {
		conn, err := net.DialTimeout("unix", c.cfg.SocketPath, c.cfg.Timeout)
		if err != nil {
			return err
		}
		c.conn = conn
		return nil
	}
	connectBackoff := backoff.NewExponentialBackOff()
	connectBackoff.InitialInterval = 100 * time.Millisecond
	connectBackoff.MaxInterval = time.Second
	connectBackoff.MaxElapsedTime = c.cfg.Timeout
	if err := backoff.Retry(operation, connectBackoff); err != nil {
		return errors.Join(errors.New("client: failed to connect"), err)
	}
	return nil
}

// Log sends one entry at the given level. Entries less severe than MinLevel
// are dropped locally. The protocol is fire-and-forget: a nil return means
// the bytes were written, not that the collector stored them.
func (c *Client) Log(level model.Level, message string, fields map[string]string) error {
	if level > c.cfg.MinLevel {
		return nil
	}
	entry := model.New(level, c.cfg.DaemonName, message)
	if fields != nil {
		entry.Fields = fields
	}
	entry.PID = &c.pid
	if c.hostname != "" {
		entry.Hostname = &c.hostname
	}
	payload, err := entry.ToJSON()
	if err != nil {
		return err
	}
	line := append([]byte(payload), '\n')

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureConnected(); err != nil {
		return err
	}
	if _, err := c.conn.Write(line); err != nil {
		if !c.cfg.AutoReconnect {
			return err
		}
		// Transient drop: reconnect once and retry the write.
		c.conn.Close()
		c.conn = nil
		if err := c.ensureConnected(); err != nil {
			return err
		}
		if _, err := c.conn.Write(line); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) Emergency(message string) error {
	return c.Log(model.LevelEmergency, message, nil)
}

func (c *Client) Alert(message string) error {
	return c.Log(model.LevelAlert, message, nil)
}

func (c *Client) Critical(message string) error {
	return c.Log(model.LevelCritical, message, nil)
}

func (c *Client) CriticalWithFields(message string, fields map[string]string) error {
	return c.Log(model.LevelCritical, message, fields)
}

func (c *Client) Error(message string) error {
	return c.Log(model.LevelError, message, nil)
}

func (c *Client) ErrorWithFields(message string, fields map[string]string) error {
	return c.Log(model.LevelError, message, fields)
}

func (c *Client) Warning(message string) error {
	return c.Log(model.LevelWarning, message, nil)
}

func (c *Client) WarningWithFields(message string, fields map[string]string) error {
	return c.Log(model.LevelWarning, message, fields)
}

func (c *Client) Notice(message string) error {
	return c.Log(model.LevelNotice, message, nil)
}

func (c *Client) Info(message string) error {
	return c.Log(model.LevelInfo, message, nil)
}

func (c *Client) InfoWithFields(message string, fields map[string]string) error {
	return c.Log(model.LevelInfo, message, fields)
}

func (c *Client) Debug(message string) error {
	return c.Log(model.LevelDebug, message, nil)
}

// Close half-closes the stream so the collector sees a clean end-of-stream,
// then releases the connection. A later Log reconnects.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	if uc, ok := c.conn.(*net.UnixConn); ok {
		uc.CloseWrite()
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
