package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/petervdpas/parla/internal/app"
	"github.com/petervdpas/parla/internal/config"
)

func main() {
	dir := flag.String("dir", defaultDataDir(), "data directory (contacts, logs)")
	cfgPath := flag.String("config", "", "config file path (default <dir>/config.json)")
	server := flag.String("server", "", "override signaling relay URL")
	user := flag.String("user", "", "override username")
	flag.Parse()

	if *cfgPath == "" {
		*cfgPath = filepath.Join(*dir, "config.json")
	}

	cfg, created, err := config.Ensure(*cfgPath)
	if err != nil {
		log.Fatalf("APP: config: %v", err)
	}
	if created {
		log.Printf("APP: wrote default config to %s", *cfgPath)
	}

	if *server != "" {
		cfg.Signaling.ServerURL = *server
	}
	if *user != "" {
		cfg.Identity.Username = *user
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, app.Options{
		DataDir: *dir,
		CfgPath: *cfgPath,
		Cfg:     cfg,
	}); err != nil {
		log.Fatalf("APP: %v", err)
	}
}

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".parla")
	}
	return ".parla"
}
