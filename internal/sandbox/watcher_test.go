package sandbox

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestReturnWatcher_MovesAndDeliversFile(t *testing.T) {
	sandboxDir := t.TempDir()
	hostDir := filepath.Join(t.TempDir(), "nested", "host")

	var mu sync.Mutex
	var delivered []string

	w := NewReturnWatcher(sandboxDir, hostDir, 50*time.Millisecond, func(path string, data []byte) {
		mu.Lock()
		defer mu.Unlock()
		delivered = append(delivered, string(data))
	})
	w.Start()
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(sandboxDir, "report.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(delivered)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(delivered) != 1 || delivered[0] != "hello" {
		t.Fatalf("delivered = %v, want [hello]", delivered)
	}
	if _, err := os.Stat(filepath.Join(sandboxDir, "report.txt")); !os.IsNotExist(err) {
		t.Fatalf("expected source file removed, stat err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(hostDir, "report.txt")); err != nil {
		t.Fatalf("expected file present in host dir: %v", err)
	}
}
