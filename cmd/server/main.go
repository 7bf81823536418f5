// Copyright 2026 The omniAgentLocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package main provides the entry point for the omniAgentLocal server.
// The server hosts an approval-gated self-edit pipeline: callers propose a
// change to the agent source, a pool of model backends generates and reviews
// a patch, and an approved patch is validated and committed through a
// version control gateway.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/skratchdot/open-golang/open"

	"github.com/traylinx/omniAgentLocal/internal/api"
	"github.com/traylinx/omniAgentLocal/internal/buildinfo"
	"github.com/traylinx/omniAgentLocal/internal/config"
	"github.com/traylinx/omniAgentLocal/internal/events"
	"github.com/traylinx/omniAgentLocal/internal/ledger"
	"github.com/traylinx/omniAgentLocal/internal/lock"
	"github.com/traylinx/omniAgentLocal/internal/logging"
	"github.com/traylinx/omniAgentLocal/internal/orchestrator"
	"github.com/traylinx/omniAgentLocal/internal/provider"
	"github.com/traylinx/omniAgentLocal/internal/safety"
	"github.com/traylinx/omniAgentLocal/internal/store"
	"github.com/traylinx/omniAgentLocal/internal/swarm"
	"github.com/traylinx/omniAgentLocal/internal/trim"
	"github.com/traylinx/omniAgentLocal/internal/vcs"
	"github.com/traylinx/omniAgentLocal/internal/watcher"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// init initializes the shared logger setup.
func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	openBrowser := flag.Bool("open", false, "open the status page in the default browser after startup")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("omni-agent-local %s (commit %s, built %s)\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)
		return
	}

	// Backend credentials usually live in a local .env during development.
	if err := godotenv.Load(); err == nil {
		log.Debug("loaded environment from .env")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config %s: %v", *configPath, err)
	}

	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	if err := logging.ConfigureLogOutput(cfg.LoggingToFile, cfg.LogsMaxTotalSizeMB); err != nil {
		log.Fatalf("failed to configure log output: %v", err)
	}

	st := buildStore(cfg)
	defer func() { _ = st.Close() }()

	led := ledger.New(st)
	archiver := startArchiver(cfg, led)
	if archiver != nil {
		defer archiver.Stop()
	}

	client := provider.NewClient(0)
	registry, err := provider.BuildRegistry(cfg.Providers, client)
	if err != nil {
		log.Fatalf("failed to build provider registry: %v", err)
	}
	if len(cfg.Providers) == 0 {
		log.Warn("no providers configured; every edit proposal will fail")
	}

	validator, policyWatcher := buildValidator(cfg)
	if policyWatcher != nil {
		defer func() { _ = policyWatcher.Stop() }()
	}

	gateway := buildGateway(cfg)
	bus := events.NewBus()

	swarmSize := 0
	if cfg.Swarm.Enabled {
		swarmSize = cfg.Swarm.Size
	}
	orch := orchestrator.New(orchestrator.Options{
		Config: orchestrator.Config{
			TargetPath:  cfg.Edit.TargetPath,
			BaseBranch:  cfg.Edit.BaseBranch,
			PendingTTL:  cfg.Edit.PendingTTL(),
			SwarmSize:   swarmSize,
			TokenBudget: cfg.Edit.TokenBudget,
		},
		Store:     st,
		Providers: cfg.Providers,
		Rotator:   provider.NewRotator(registry, led),
		Selector:  provider.NewSelector(led),
		Registry:  registry,
		Ledger:    led,
		Swarm: swarm.New(swarm.Config{
			MinSize:     cfg.Swarm.MinSize,
			MaxSize:     cfg.Swarm.MaxSize,
			Timeout:     cfg.Swarm.Timeout(),
			ScoreScript: cfg.Swarm.ScoreScript,
		}),
		Validator: validator,
		Lock:      lock.New(st, cfg.Edit.LockTimeout()),
		Gateway:   gateway,
		Bus:       bus,
		Estimator: trim.NewEstimator(),
	})

	server := api.NewServer(api.Options{
		Config:       cfg,
		Orchestrator: orch,
		Ledger:       led,
		Bus:          bus,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	log.Infof("omni-agent-local %s listening on %s (target %s, vcs %s)",
		buildinfo.Version, addr, cfg.Edit.TargetPath, cfg.VCS.Mode)

	if *openBrowser {
		go func() {
			time.Sleep(500 * time.Millisecond)
			host := cfg.Host
			if host == "" {
				host = "127.0.0.1"
			}
			if err := open.Run(fmt.Sprintf("http://%s:%d/health", host, cfg.Port)); err != nil {
				log.Warnf("failed to open status page: %v", err)
			}
		}()
	}

	go handleSignals()

	if err := server.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}

// buildStore constructs the configured shared store backend.
func buildStore(cfg *config.Config) store.Store {
	switch cfg.Store.Backend {
	case "memory":
		log.Warn("using in-memory store; pending edits and usage do not survive restarts")
		return store.NewMemoryStore()
	case "postgres":
		st, err := store.NewPostgresStore(store.PostgresStoreConfig{DSN: cfg.Store.PostgresDSN})
		if err != nil {
			log.Fatalf("failed to open postgres store: %v", err)
		}
		return st
	default:
		st, err := store.NewSQLiteStore(cfg.Store.SQLitePath)
		if err != nil {
			log.Fatalf("failed to open sqlite store at %s: %v", cfg.Store.SQLitePath, err)
		}
		return st
	}
}

// startArchiver launches the usage sweep loop when archival is enabled.
func startArchiver(cfg *config.Config, led *ledger.Ledger) *ledger.Archiver {
	if !cfg.Archive.Enabled {
		return nil
	}
	archiver, err := ledger.NewArchiver(led, ledger.ArchiveConfig{
		Endpoint:  cfg.Archive.Endpoint,
		AccessKey: os.Getenv(cfg.Archive.AccessKeyEnv),
		SecretKey: os.Getenv(cfg.Archive.SecretKeyEnv),
		Bucket:    cfg.Archive.Bucket,
		UseSSL:    cfg.Archive.UseSSL,
		Interval:  cfg.Archive.Interval(),
	})
	if err != nil {
		log.Fatalf("failed to start usage archiver: %v", err)
	}
	archiver.Start()
	return archiver
}

// buildValidator loads the policy rules and, when a policy file is
// configured, watches it for changes.
func buildValidator(cfg *config.Config) (*safety.Validator, *watcher.Watcher) {
	rules, err := safety.LoadRules(cfg.Validator.PolicyFile)
	if err != nil {
		log.Fatalf("failed to load policy rules: %v", err)
	}
	validator := safety.New(safety.Config{
		MaxBytes:        cfg.Validator.MaxBytes,
		RequiredMarkers: cfg.Validator.RequiredMarkers,
	}, rules)

	if cfg.Validator.PolicyFile == "" {
		return validator, nil
	}
	w, err := watcher.New(cfg.Validator.PolicyFile, func() {
		reloaded, err := safety.LoadRules(cfg.Validator.PolicyFile)
		if err != nil {
			log.Warnf("policy reload failed, keeping previous rules: %v", err)
			return
		}
		validator.SetRules(reloaded)
		log.Infof("reloaded %d policy rules from %s", len(reloaded), cfg.Validator.PolicyFile)
	})
	if err != nil {
		log.Warnf("policy file %s not watchable, hot reload disabled: %v", cfg.Validator.PolicyFile, err)
		return validator, nil
	}
	return validator, w
}

// buildGateway constructs the configured version control gateway.
func buildGateway(cfg *config.Config) vcs.Gateway {
	if cfg.VCS.Mode == "github" {
		token := strings.TrimSpace(os.Getenv(cfg.VCS.TokenEnv))
		if token == "" {
			log.Fatalf("vcs mode github requires a token in $%s", cfg.VCS.TokenEnv)
		}
		return vcs.NewGitHubGateway(cfg.VCS.Owner, cfg.VCS.Repo, token)
	}
	gateway, err := vcs.OpenLocalGateway(cfg.VCS.LocalPath)
	if err != nil {
		log.Fatalf("failed to open local repository at %s: %v", cfg.VCS.LocalPath, err)
	}
	return gateway
}

// handleSignals exits cleanly on SIGINT/SIGTERM so exit handlers (log file
// close) run.
func handleSignals() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	sig := <-ch
	log.Infof("received %s, shutting down", sig)
	log.Exit(0)
}
