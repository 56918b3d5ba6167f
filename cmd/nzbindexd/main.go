// go-nzbindex daemon: periodically refreshes the group list and the
// watched groups of the configured news servers into the local index.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	prof "github.com/go-while/go-cpu-mem-profiler"
	"golang.org/x/term"

	"github.com/go-while/go-nzbindex/internal/config"
	"github.com/go-while/go-nzbindex/internal/database"
	"github.com/go-while/go-nzbindex/internal/indexer"
	"github.com/go-while/go-nzbindex/internal/matcher"
)

var appVersion = "-unset-"

var Prof *prof.Profiler

func main() {
	config.AppVersion = appVersion
	log.Printf("Starting go-nzbindex daemon (version %s)", config.AppVersion)

	var (
		configFile   = flag.String("config", "config.yaml", "Path to the YAML configuration file")
		topUpGroup   = flag.String("topup", "", "Run a one-shot initial sweep for this group and exit")
		topUpCount   = flag.Int64("count", 0, "Article count for -topup (default: backfill from config)")
		refreshOnly  = flag.Bool("refresh-groups", false, "Refresh the group list once and exit")
		shutdownWait = flag.Duration("shutdown-wait", 30*time.Second, "How long to drain the task queue on shutdown")
	)
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if cfg.PprofAddr != "" {
		Prof = prof.NewProf()
		go Prof.PprofWeb(cfg.PprofAddr)
	}

	promptMissingPasswords(cfg)

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to open index database: %v", err)
	}
	defer db.Close()

	registry, err := matcher.LoadFile(cfg.RegexpFile)
	if err != nil {
		log.Fatalf("Failed to load matcher templates: %v", err)
	}
	log.Printf("[MAIN] loaded %d matchers from '%s'", registry.Len(), cfg.RegexpFile)

	ix := indexer.New(cfg, db, registry)

	// initial watch set from the config file
	for _, group := range cfg.Groups {
		if err := ix.Watch(group); err != nil {
			log.Printf("[MAIN] failed to watch '%s': %v", group, err)
		}
	}

	if *topUpGroup != "" {
		if err := ix.Watch(*topUpGroup); err != nil {
			log.Fatalf("Failed to watch '%s': %v", *topUpGroup, err)
		}
		if err := ix.TopUp(*topUpGroup, *topUpCount); err != nil {
			log.Fatalf("Top-up of '%s' failed: %v", *topUpGroup, err)
		}
		waitAndShutdown(ix, *shutdownWait)
		return
	}

	if err := ix.RefreshGroups(); err != nil {
		log.Fatalf("Group list refresh failed: %v", err)
	}
	if *refreshOnly {
		waitAndShutdown(ix, *shutdownWait)
		return
	}

	if err := ix.RefreshWatched(0); err != nil {
		log.Printf("[MAIN] refresh of watched groups failed: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if cfg.RefreshSeconds > 0 {
		ticker := time.NewTicker(time.Duration(cfg.RefreshSeconds) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case sig := <-sigChan:
				log.Printf("[MAIN] received %v, shutting down", sig)
				waitAndShutdown(ix, *shutdownWait)
				return
			case <-ticker.C:
				if err := ix.RefreshWatched(0); err != nil {
					log.Printf("[MAIN] refresh of watched groups failed: %v", err)
				}
			}
		}
	}

	// one-shot mode: drain and exit
	waitAndShutdown(ix, *shutdownWait)
}

func waitAndShutdown(ix *indexer.Indexer, wait time.Duration) {
	if err := ix.Shutdown(wait); err != nil {
		log.Printf("[MAIN] shutdown: %v", err)
	}
}

// promptMissingPasswords asks on the terminal for the password of any
// server entry that configures a username without one. Non-interactive
// runs fall through to .netrc or anonymous access.
func promptMissingPasswords(cfg *config.MainConfig) {
	for i := range cfg.Servers {
		srv := &cfg.Servers[i]
		if srv.Username == "" || srv.Password != "" {
			continue
		}
		if !term.IsTerminal(int(syscall.Stdin)) {
			continue
		}
		fmt.Printf("Password for %s@%s: ", srv.Username, srv.Addr())
		password, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			log.Printf("[MAIN] failed to read password for %s: %v", srv.Addr(), err)
			continue
		}
		srv.Password = string(password)
	}
}
