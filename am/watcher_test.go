package am

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "[autoscaler]\nmax_workers = 5\n")
	SetConfigFile(path)
	t.Cleanup(func() { SetConfigFile("") })

	_, err := Load()
	require.NoError(t, err)

	cw, err := NewConfigWatcher(path)
	require.NoError(t, err)
	cw.debouncePeriod = 20 * time.Millisecond

	reloaded := make(chan *Config, 4)
	cw.OnReload(func(cfg *Config) error {
		reloaded <- cfg
		return nil
	})
	cw.Start()
	defer cw.Stop()

	writeConfig(t, dir, "[autoscaler]\nmax_workers = 9\n")

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 9, cfg.Autoscaler.MaxWorkers)
	case <-time.After(3 * time.Second):
		t.Fatal("config watcher did not reload")
	}
}

func TestConfigWatcherSkipsInvalidReload(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "[autoscaler]\nmax_workers = 5\n")
	SetConfigFile(path)
	t.Cleanup(func() { SetConfigFile("") })

	cw, err := NewConfigWatcher(path)
	require.NoError(t, err)
	defer cw.Stop()

	called := false
	cw.OnReload(func(*Config) error {
		called = true
		return nil
	})

	writeConfig(t, dir, "[autoscaler]\nmin_workers = 4\nmax_workers = 2\n")
	err = cw.reload()
	require.Error(t, err)
	assert.False(t, called)
}
