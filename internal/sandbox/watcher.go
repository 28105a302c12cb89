package sandbox

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReturnWatcher observes a sandbox's return directory and, for each file
// that appears, moves it to a host-only destination and invokes a callback
// with its final path and contents (spec §4.4). fsnotify drives the common
// case; a poll fallback covers filesystems or container runtimes where
// inotify events don't cross the bind mount reliably.
type ReturnWatcher struct {
	sandboxDir string
	hostDir    string
	onFile     func(path string, data []byte)
	pollEvery  time.Duration

	stop chan struct{}
	done chan struct{}
}

// NewReturnWatcher watches sandboxDir, moving each file it sees into
// hostDir and calling onFile with the moved file's new path and contents.
// onFile errors are not possible by construction (it has no return value);
// any I/O error while moving a file is logged by the caller via onFile
// being skipped for that file, and the watcher continues.
func NewReturnWatcher(sandboxDir, hostDir string, pollEvery time.Duration, onFile func(path string, data []byte)) *ReturnWatcher {
	if pollEvery <= 0 {
		pollEvery = 2 * time.Second
	}
	return &ReturnWatcher{
		sandboxDir: sandboxDir,
		hostDir:    hostDir,
		onFile:     onFile,
		pollEvery:  pollEvery,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start begins watching in a background goroutine. Call Stop to halt it.
func (w *ReturnWatcher) Start() {
	go w.run()
}

// Stop halts the watcher and blocks until its goroutine has exited.
func (w *ReturnWatcher) Stop() {
	close(w.stop)
	<-w.done
}

func (w *ReturnWatcher) run() {
	defer close(w.done)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		// Fall back entirely to polling; fsnotify setup failures (e.g. the
		// inotify instance limit) are environment issues, not bugs.
		w.pollLoop()
		return
	}
	defer watcher.Close()

	if err := watcher.Add(w.sandboxDir); err != nil {
		w.pollLoop()
		return
	}

	// A just-arrived file may still be mid-write; drain once up front to
	// catch anything that landed before Add, then react to events plus a
	// slow poll as a backstop against missed or coalesced events.
	w.drain()
	ticker := time.NewTicker(w.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case _, ok := <-watcher.Events:
			if !ok {
				return
			}
			w.drain()
		case _, ok := <-watcher.Errors:
			if !ok {
				return
			}
		case <-ticker.C:
			w.drain()
		}
	}
}

func (w *ReturnWatcher) pollLoop() {
	ticker := time.NewTicker(w.pollEvery)
	defer ticker.Stop()
	w.drain()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.drain()
		}
	}
}

// drain moves every regular file currently in sandboxDir into hostDir and
// invokes onFile for each. Files that vanish mid-drain (already claimed by
// a prior tick) are skipped.
func (w *ReturnWatcher) drain() {
	entries, err := os.ReadDir(w.sandboxDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		src := filepath.Join(w.sandboxDir, e.Name())
		dst := filepath.Join(w.hostDir, e.Name())

		if err := os.MkdirAll(w.hostDir, 0o755); err != nil {
			continue
		}
		if err := os.Rename(src, dst); err != nil {
			continue
		}
		data, err := os.ReadFile(dst)
		if err != nil {
			continue
		}
		if w.onFile != nil {
			w.onFile(dst, data)
		}
	}
}
