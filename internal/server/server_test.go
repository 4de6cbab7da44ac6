package server_test

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logstream-server/config"
	"logstream-server/internal/server"
	"logstream-server/internal/storage"
	"logstream-server/pkg/model"
)

func testConfig(dir string) *config.Config {
	cfg := &config.Config{}
	cfg.Server.SocketPath = filepath.Join(dir, "logstream.sock")
	cfg.Server.MaxConnections = 1000
	cfg.Server.BufferSize = 8192
	cfg.Storage.OutputDirectory = filepath.Join(dir, "logs")
	cfg.Storage.MaxFileSize = 100 * 1024 * 1024
	cfg.Rotation.Enabled = false
	cfg.Backends.File.Enabled = true
	cfg.Backends.File.Format = "json"
	return cfg
}

// startServer runs the full coordinator and returns a cancel func that also
// waits for it to wind down.
func startServer(t *testing.T, cfg *config.Config) (stop func()) {
	t.Helper()
	engine := storage.NewEngine(cfg, nil)
	rotator := storage.NewRotator(cfg, engine)
	listener := server.NewListener(cfg, engine)
	srv, err := server.New(cfg, engine, rotator, listener)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx)
	}()
	waitForSocket(t, cfg.Server.SocketPath)

	return func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("server did not stop in time")
		}
	}
}

func waitForSocket(t *testing.T, path string) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond, "socket was not created")
}

func sendLines(t *testing.T, socketPath string, lines ...string) {
	t.Helper()
	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()
	for _, line := range lines {
		_, err := conn.Write([]byte(line + "\n"))
		require.NoError(t, err)
	}
}

func logLines(t *testing.T, cfg *config.Config, daemon string) []string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(cfg.Storage.OutputDirectory, daemon+".log"))
	if err != nil {
		return nil
	}
	content := strings.TrimRight(string(data), "\n")
	if content == "" {
		return nil
	}
	return strings.Split(content, "\n")
}

func wireLine(t *testing.T, daemon, message string) string {
	t.Helper()
	entry := model.New(model.LevelInfo, daemon, message)
	line, err := entry.ToJSON()
	require.NoError(t, err)
	return line
}

func TestIngestSingleConnection(t *testing.T) {
	const n = 100
	cfg := testConfig(t.TempDir())
	stop := startServer(t, cfg)
	defer stop()

	lines := make([]string, n)
	for i := range lines {
		lines[i] = wireLine(t, "daemon-a", fmt.Sprintf("message %d", i))
	}
	sendLines(t, cfg.Server.SocketPath, lines...)

	require.Eventually(t, func() bool {
		return len(logLines(t, cfg, "daemon-a")) == n
	}, 5*time.Second, 20*time.Millisecond)

	// Stored in the order sent.
	for i, line := range logLines(t, cfg, "daemon-a") {
		restored, err := model.FromJSON(line)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("message %d", i), restored.Message)
	}
}

func TestMalformedLineDoesNotKillConnection(t *testing.T) {
	cfg := testConfig(t.TempDir())
	stop := startServer(t, cfg)
	defer stop()

	conn, err := net.Dial("unix", cfg.Server.SocketPath)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("this is not json\n"))
	require.NoError(t, err)
	_, err = conn.Write([]byte(wireLine(t, "daemon-b", "valid after garbage") + "\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(logLines(t, cfg, "daemon-b")) == 1
	}, 5*time.Second, 20*time.Millisecond)

	// The connection stays open and keeps accepting records.
	_, err = conn.Write([]byte(wireLine(t, "daemon-b", "still alive") + "\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(logLines(t, cfg, "daemon-b")) == 2
	}, 5*time.Second, 20*time.Millisecond)

	lines := logLines(t, cfg, "daemon-b")
	assert.Contains(t, lines[0], "valid after garbage")
	assert.Contains(t, lines[1], "still alive")
}

func TestConcurrentConnectionsSameDaemon(t *testing.T) {
	const producers = 10
	const perProducer = 200

	cfg := testConfig(t.TempDir())
	stop := startServer(t, cfg)
	defer stop()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			lines := make([]string, perProducer)
			for i := range lines {
				lines[i] = wireLine(t, "shared-daemon", fmt.Sprintf("producer %d message %d", p, i))
			}
			sendLines(t, cfg.Server.SocketPath, lines...)
		}(p)
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return len(logLines(t, cfg, "shared-daemon")) == producers*perProducer
	}, 10*time.Second, 50*time.Millisecond)

	seen := make(map[string]bool)
	for _, line := range logLines(t, cfg, "shared-daemon") {
		restored, err := model.FromJSON(line)
		require.NoError(t, err, "corrupted line: %q", line)
		seen[restored.Message] = true
	}
	for p := 0; p < producers; p++ {
		for i := 0; i < perProducer; i++ {
			assert.True(t, seen[fmt.Sprintf("producer %d message %d", p, i)])
		}
	}
}

func TestIndependentDaemonFiles(t *testing.T) {
	cfg := testConfig(t.TempDir())
	stop := startServer(t, cfg)
	defer stop()

	sendLines(t, cfg.Server.SocketPath,
		wireLine(t, "svc-one", "from one"),
		wireLine(t, "svc-two", "from two"),
	)

	require.Eventually(t, func() bool {
		return len(logLines(t, cfg, "svc-one")) == 1 && len(logLines(t, cfg, "svc-two")) == 1
	}, 5*time.Second, 20*time.Millisecond)
}

func TestStaleSocketIsReplaced(t *testing.T) {
	cfg := testConfig(t.TempDir())

	// Leave a stale socket artifact behind, as a crashed previous run would.
	stale, err := net.Listen("unix", cfg.Server.SocketPath)
	require.NoError(t, err)
	stale.Close() // net removes the file on Close; recreate the artifact
	require.NoError(t, os.WriteFile(cfg.Server.SocketPath, nil, 0o600))

	stop := startServer(t, cfg)
	defer stop()

	sendLines(t, cfg.Server.SocketPath, wireLine(t, "daemon-c", "after stale socket"))
	require.Eventually(t, func() bool {
		return len(logLines(t, cfg, "daemon-c")) == 1
	}, 5*time.Second, 20*time.Millisecond)
}

func TestServerValidatesConfig(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Server.SocketPath = ""
	engine := storage.NewEngine(cfg, nil)
	rotator := storage.NewRotator(cfg, engine)
	listener := server.NewListener(cfg, engine)

	_, err := server.New(cfg, engine, rotator, listener)
	assert.Error(t, err)
}

func TestShutdownStopsAccepting(t *testing.T) {
	cfg := testConfig(t.TempDir())
	stop := startServer(t, cfg)
	stop()

	_, err := net.Dial("unix", cfg.Server.SocketPath)
	assert.Error(t, err)
}

func TestListenerRestartsOnSameSocket(t *testing.T) {
	cfg := testConfig(t.TempDir())

	stop := startServer(t, cfg)
	sendLines(t, cfg.Server.SocketPath, wireLine(t, "daemon-r", "before restart"))
	require.Eventually(t, func() bool {
		return len(logLines(t, cfg, "daemon-r")) == 1
	}, 5*time.Second, 20*time.Millisecond)
	stop()

	// A stopped run must release the socket and its file descriptor so a
	// fresh run can bind the same path and keep appending.
	stop = startServer(t, cfg)
	defer stop()
	sendLines(t, cfg.Server.SocketPath, wireLine(t, "daemon-r", "after restart"))
	require.Eventually(t, func() bool {
		return len(logLines(t, cfg, "daemon-r")) == 2
	}, 5*time.Second, 20*time.Millisecond)
}
