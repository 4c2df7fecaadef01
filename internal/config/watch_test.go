package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := Default()
	cfg.Identity.Username = "alice"
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Config, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := Watch(ctx, path, func(c Config) { got <- c }); err != nil {
			t.Errorf("watch: %v", err)
		}
	}()

	// give the watcher a moment to attach before writing
	time.Sleep(100 * time.Millisecond)

	cfg.Identity.Username = "bob"
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-got:
		if c.Identity.Username != "bob" {
			t.Fatalf("reloaded username = %q", c.Identity.Username)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after write")
	}

	// an invalid edit is skipped, not delivered
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-got:
		t.Fatalf("invalid config delivered: %+v", c)
	case <-time.After(500 * time.Millisecond):
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop on context cancel")
	}
}
