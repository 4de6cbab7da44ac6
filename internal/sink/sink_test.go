package sink

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logstream-server/config"
	"logstream-server/pkg/model"
)

type fakeSink struct {
	name     string
	storeErr error
	closeErr error

	stored []*model.LogEntry
	closed bool
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) StoreEntry(_ context.Context, entry *model.LogEntry) error {
	if f.storeErr != nil {
		return f.storeErr
	}
	f.stored = append(f.stored, entry)
	return nil
}

func (f *fakeSink) Close() error {
	f.closed = true
	return f.closeErr
}

func TestFanOutDeliversToAll(t *testing.T) {
	first := &fakeSink{name: "first"}
	second := &fakeSink{name: "second"}
	entry := model.New(model.LevelInfo, "test-daemon", "hello")

	err := FanOut(context.Background(), []Sink{first, second}, entry)
	require.NoError(t, err)
	require.Len(t, first.stored, 1)
	require.Len(t, second.stored, 1)
	assert.Equal(t, entry, first.stored[0])
}

func TestFanOutFailureDoesNotBlockOthers(t *testing.T) {
	broken := &fakeSink{name: "broken", storeErr: errors.New("backend unavailable")}
	healthy := &fakeSink{name: "healthy"}
	entry := model.New(model.LevelError, "test-daemon", "still delivered")

	err := FanOut(context.Background(), []Sink{broken, healthy}, entry)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.Contains(t, err.Error(), "backend unavailable")
	require.Len(t, healthy.stored, 1, "healthy sink must still receive the entry")
}

func TestFanOutAggregatesAllFailures(t *testing.T) {
	first := &fakeSink{name: "first", storeErr: errors.New("first failure")}
	second := &fakeSink{name: "second", storeErr: errors.New("second failure")}
	entry := model.New(model.LevelWarning, "test-daemon", "nobody home")

	err := FanOut(context.Background(), []Sink{first, second}, entry)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "first failure")
	assert.Contains(t, err.Error(), "second failure")
}

func TestFanOutEmpty(t *testing.T) {
	entry := model.New(model.LevelDebug, "test-daemon", "no sinks configured")
	assert.NoError(t, FanOut(context.Background(), nil, entry))
}

func TestCloseAll(t *testing.T) {
	first := &fakeSink{name: "first"}
	second := &fakeSink{name: "second", closeErr: errors.New("flush failed")}
	third := &fakeSink{name: "third"}

	err := CloseAll([]Sink{first, second, third})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flush failed")
	assert.True(t, first.closed)
	assert.True(t, second.closed)
	assert.True(t, third.closed)
}

func TestFromConfigNoneEnabled(t *testing.T) {
	cfg := &config.Config{}
	sinks, err := FromConfig(cfg)
	require.NoError(t, err)
	assert.Empty(t, sinks)
}
