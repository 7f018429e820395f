package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// killFile is the signal file that stops a running crew.
const killFile = "kill"

// pollInterval is how often the kill file is checked when no watcher is
// available.
const pollInterval = time.Second

// KillWatcher cancels a run when the kill signal file appears under
// <stateDir>/signals.
type KillWatcher struct {
	signalsDir string

	mu     sync.Mutex
	killed bool
	cancel context.CancelFunc

	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once
}

// NewKillWatcher creates the signals directory and starts watching it.
// A stale kill file from an earlier run is removed.
func NewKillWatcher(stateDir string) (*KillWatcher, error) {
	signalsDir := filepath.Join(stateDir, "signals")
	if err := os.MkdirAll(signalsDir, 0755); err != nil {
		return nil, err
	}
	os.Remove(filepath.Join(signalsDir, killFile))

	kw := &KillWatcher{
		signalsDir: signalsDir,
		done:       make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		// Polling fallback
		go kw.poll()
		return kw, nil
	}
	if err := watcher.Add(signalsDir); err != nil {
		watcher.Close()
		go kw.poll()
		return kw, nil
	}
	kw.watcher = watcher
	go kw.watch()
	return kw, nil
}

// Watch returns a context that is cancelled when the kill signal arrives.
func (kw *KillWatcher) Watch(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	kw.mu.Lock()
	kw.cancel = cancel
	killed := kw.killed
	kw.mu.Unlock()
	if killed {
		cancel()
	}
	return ctx, cancel
}

func (kw *KillWatcher) watch() {
	for {
		select {
		case <-kw.done:
			return
		case event, ok := <-kw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) == killFile && event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				kw.trigger()
			}
		case _, ok := <-kw.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (kw *KillWatcher) poll() {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-kw.done:
			return
		case <-ticker.C:
			if kw.Killed() {
				return
			}
		}
	}
}

func (kw *KillWatcher) trigger() {
	kw.mu.Lock()
	kw.killed = true
	cancel := kw.cancel
	kw.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Killed reports whether the kill signal has been seen. It also checks the
// file directly in case the watcher missed it.
func (kw *KillWatcher) Killed() bool {
	if _, err := os.Stat(filepath.Join(kw.signalsDir, killFile)); err == nil {
		kw.trigger()
	}
	kw.mu.Lock()
	defer kw.mu.Unlock()
	return kw.killed
}

// ClearSignals removes the kill file and resets the signal state.
func (kw *KillWatcher) ClearSignals() {
	kw.mu.Lock()
	defer kw.mu.Unlock()
	kw.killed = false
	os.Remove(filepath.Join(kw.signalsDir, killFile))
}

// Close stops watching.
func (kw *KillWatcher) Close() {
	kw.once.Do(func() {
		close(kw.done)
		if kw.watcher != nil {
			kw.watcher.Close()
		}
	})
}

// SendKill writes the kill signal for the crew running under stateDir.
func SendKill(stateDir string) error {
	signalsDir := filepath.Join(stateDir, "signals")
	if err := os.MkdirAll(signalsDir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(signalsDir, killFile), []byte(time.Now().Format(time.RFC3339)), 0644)
}
