// slotd is the clipboard-slot agent. It intercepts the global keyboard
// stream, runs the selection-session state machine, and exchanges chooser
// messages with the overlay process.
//
// Run it in the foreground; slotctl spawns and supervises it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"slotd/internal/agent"
	"slotd/internal/clipboard"
	"slotd/internal/config"
	"slotd/internal/logging"
	"slotd/internal/overlay"
	"slotd/internal/session"
	"slotd/internal/store"
	"slotd/internal/tap"
)

const version = "0.3.0"

var (
	configPath  = flag.String("config", "", "path to config file")
	showVersion = flag.Bool("version", false, "print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println("slotd", version)
		return
	}

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "slotd:", err)
		os.Exit(1)
	}
}

func run() error {
	path := *configPath
	if path == "" {
		path = config.DefaultPath()
	}
	loader := config.NewLoader(path)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer log.Close()
	logging.SetDefault(log)

	mgr := agent.NewManager(agent.DefaultDir())
	if mgr.IsRunning() {
		pid, _ := mgr.ReadPID()
		return fmt.Errorf("agent already running (pid %d)", pid)
	}
	if err := mgr.WritePID(); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer mgr.Cleanup()
	if err := mgr.WriteState(&agent.State{PID: os.Getpid(), StartedAt: time.Now(), Version: version}); err != nil {
		log.Warn("failed to write state file", "error", err)
	}

	// Slots keep working in memory when the database cannot be opened;
	// saves just will not survive a restart.
	var db *store.Store
	if db, err = store.Open(cfg.Storage.Path); err != nil {
		log.Warn("slot database unavailable, slots will not persist", "path", cfg.Storage.Path, "error", err)
		db = nil
	} else {
		defer db.Close()
	}
	slots := session.NewSlots(db, log)

	sender := overlay.NewSender(cfg.Overlay.OverlayPort)
	listener, err := overlay.Listen(cfg.Overlay.AgentPort)
	var notices <-chan overlay.Notice
	if err != nil {
		log.Warn("overlay listener unavailable, mouse selection disabled", "port", cfg.Overlay.AgentPort, "error", err)
	} else {
		defer listener.Close()
		notices = listener.Notices()
	}

	machine := session.New(timing(cfg), slots, clipboard.New(), sender, session.NewInjector(), log)

	t := tap.New(machine.Decide)
	if ok, detail := t.Available(); !ok {
		if granted, _ := tap.CheckPermission(); !granted {
			return fmt.Errorf("keyboard interception not authorized (%s); run 'slotctl doctor'", detail)
		}
		return fmt.Errorf("keyboard interception unavailable: %s", detail)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := t.Start(ctx); err != nil {
		return fmt.Errorf("start keyboard tap: %w", err)
	}
	defer t.Stop()

	loader.OnChange(func(next *config.Config) {
		machine.UpdateTiming(timing(next))
		log.Info("configuration reloaded", "path", path)
	})
	if err := loader.Watch(); err != nil {
		log.Debug("config watch unavailable", "error", err)
	}
	defer loader.Close()

	go machine.Run(ctx, t.Events(), notices)
	go drainResults(machine, log)

	log.Info("slotd started", "version", version, "db", cfg.Storage.Path,
		"overlay_port", cfg.Overlay.OverlayPort, "agent_port", cfg.Overlay.AgentPort)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	log.Info("shutting down", "signal", sig.String())
	cancel()
	return nil
}

func timing(cfg *config.Config) session.Config {
	return session.Config{
		SelectWindow: cfg.Timing.SelectWindow(),
		RetryBudget:  cfg.Timing.ClipboardRetry(),
		RestoreDelay: cfg.Timing.RestoreDelay(),
	}
}

func newLogger(lc config.LoggingConfig) (*logging.Logger, error) {
	cfg := logging.DefaultConfig()
	if lc.Level != "" {
		level, err := logging.ParseLevel(lc.Level)
		if err != nil {
			return nil, err
		}
		cfg.Level = level
	}
	if lc.Format != "" {
		format, err := logging.ParseFormat(lc.Format)
		if err != nil {
			return nil, err
		}
		cfg.Format = format
	}
	if lc.Output != "" {
		cfg.Output = lc.Output
	}
	if lc.FilePath != "" {
		cfg.FilePath = lc.FilePath
	}
	return logging.New(cfg)
}

// drainResults keeps the results channel moving; outcomes are already
// logged by the machine, so this only tracks a small counter for status.
func drainResults(m *session.Machine, log *logging.Logger) {
	var sessions int
	for r := range m.Results() {
		sessions++
		log.Debug("session resolved", "count", sessions, "outcome", int(r.Outcome))
	}
}
