package cmd

import (
	"bytes"
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listing-watcher/services"
	"listing-watcher/storage"
	"listing-watcher/utils"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func useDataDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DATA_DIR", dir)
	t.Setenv("LOG_LEVEL", "error")
	return dir
}

func TestExcludeAddAndList(t *testing.T) {
	useDataDir(t)

	out, err := execute(t, "exclude", "add-address", "פנקס", "67", "--reason", "noisy")
	require.NoError(t, err)
	assert.Contains(t, out, `Added address rule "פנקס 67"`)

	_, err = execute(t, "exclude", "add-street", "ויסוצקי")
	require.NoError(t, err)
	_, err = execute(t, "exclude", "add-id", "58830121")
	require.NoError(t, err)

	out, err = execute(t, "exclude", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "פנקס 67")
	assert.Contains(t, out, "noisy")
	assert.Contains(t, out, "ויסוצקי")
	assert.Contains(t, out, "58830121")
	assert.Contains(t, out, "Total: 3")
}

func TestExcludeDuplicateAndRemove(t *testing.T) {
	useDataDir(t)

	_, err := execute(t, "exclude", "add-street", "הירקון")
	require.NoError(t, err)

	_, err = execute(t, "exclude", "add-street", "הירקון")
	assert.ErrorIs(t, err, storage.ErrDuplicateRule)

	out, err := execute(t, "exclude", "remove", "הירקון")
	require.NoError(t, err)
	assert.Contains(t, out, `Removed street rule "הירקון"`)

	_, err = execute(t, "exclude", "remove", "הירקון")
	assert.ErrorIs(t, err, storage.ErrRuleNotFound)

	out, err = execute(t, "exclude", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No exclusion rules.")
}

func TestRunRequiresTelegram(t *testing.T) {
	useDataDir(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("TELEGRAM_CHAT_ID", "")

	_, err := execute(t, "run", "--mode", "changes")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TELEGRAM_BOT_TOKEN")
}

type countingRunner struct {
	calls atomic.Int32
	modes chan string
}

func (c *countingRunner) Run(_ context.Context, mode string) (services.RunSummary, error) {
	c.calls.Add(1)
	c.modes <- mode
	return services.RunSummary{Mode: mode}, nil
}

func TestWatcherRunsImmediately(t *testing.T) {
	r := &countingRunner{modes: make(chan string, 4)}
	w := newWatcher(r, "@every 1h", services.ModeChanges, utils.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	select {
	case mode := <-r.modes:
		assert.Equal(t, services.ModeChanges, mode)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not run on start")
	}
	w.Stop()
	assert.EqualValues(t, 1, r.calls.Load())
}

func TestWatcherRejectsBadSchedule(t *testing.T) {
	w := newWatcher(&countingRunner{modes: make(chan string, 1)}, "every now and then", services.ModeAuto, utils.NewNopLogger())
	assert.Error(t, w.Start(context.Background()))
}

type blockingRunner struct {
	started  chan struct{}
	release  chan struct{}
	finished atomic.Bool
}

func (b *blockingRunner) Run(context.Context, string) (services.RunSummary, error) {
	close(b.started)
	<-b.release
	b.finished.Store(true)
	return services.RunSummary{}, nil
}

func TestWatcherStopWaitsForFirstRun(t *testing.T) {
	r := &blockingRunner{started: make(chan struct{}), release: make(chan struct{})}
	w := newWatcher(r, "@every 1h", services.ModeAuto, utils.NewNopLogger())
	require.NoError(t, w.Start(context.Background()))

	select {
	case <-r.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first run did not start")
	}

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while the first run was still going")
	case <-time.After(50 * time.Millisecond):
	}

	close(r.release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the run finished")
	}
	assert.True(t, r.finished.Load())
}
