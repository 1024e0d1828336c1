package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"wg-tunnels/internal/core"
	"wg-tunnels/internal/defaults"
	"wg-tunnels/internal/jobs"
	"wg-tunnels/internal/manager"
	"wg-tunnels/internal/netwatch"
	"wg-tunnels/internal/ondemand"
	"wg-tunnels/internal/recents"
	"wg-tunnels/internal/service"
	"wg-tunnels/internal/store"
	"wg-tunnels/internal/vpn"
)

// serve runs the daemon until SIGINT or SIGTERM.
func serve(configPath string, ephemeral, verbose bool) error {
	bus := core.NewEventBus()

	// === 1. Config + logging ===
	cfgManager := core.NewConfigManager(configPath, bus)
	if err := cfgManager.Load(); err != nil {
		return err
	}
	cfg := cfgManager.Get()
	if verbose {
		cfg.Logging.Level = "debug"
	}
	core.SetLogger(core.NewLogger(cfg.Logging))
	if ephemeral {
		cfg.Store.Driver = "memory"
		cfg.VPN.Driver = "memory"
		cfg.Defaults.Driver = "memory"
	}
	core.Log.Infof("Core", "wg-tunnels %s (commit=%s, built=%s) config=%s", version, commit, buildDate, configPath)

	// === 2. Store + VPN backend + recents ===
	st, err := store.Open(cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	backend, err := vpn.Open(cfg.VPN)
	if err != nil {
		return err
	}
	defer backend.Close()

	tracker := recents.Open(defaults.Options{
		Driver:    cfg.Defaults.Driver,
		Dir:       cfg.Defaults.Dir,
		Namespace: cfg.Defaults.Namespace,
	})
	defer tracker.Close()

	// === 3. Tunnel manager ===
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	mgr, err := manager.Create(ctx, manager.Options{
		Store:   st,
		Backend: backend,
		Recents: tracker,
		Bus:     bus,
	})
	cancel()
	if err != nil {
		var loadErr *manager.LoadError
		if errors.As(err, &loadErr) {
			return fmt.Errorf("cannot start without the tunnel list: %w", err)
		}
		return err
	}
	core.Log.Infof("Core", "Loaded %d tunnels", mgr.NumberOfTunnels())

	// === 4. On-demand + network monitor ===
	engine := ondemand.New(cfg.OnDemand, mgr, netwatch.System{SSIDs: cfg.OnDemand.CurrentSSIDs})
	engine.Start()

	monitor := netwatch.NewMonitor(func() { engine.Evaluate() })
	if err := monitor.Start(); err != nil {
		core.Log.Warnf("Core", "Network monitor unavailable, relying on periodic evaluation: %v", err)
	}

	// === 5. Periodic jobs ===
	sched, err := jobs.New(cfg, mgr, engine)
	if err != nil {
		monitor.Stop()
		engine.Stop()
		mgr.Close()
		return err
	}
	sched.Start()

	// === 6. HTTP API ===
	if !core.Log.Enabled("API", core.LevelDebug) {
		gin.SetMode(gin.ReleaseMode)
	}
	api := service.New(service.Config{
		Manager:  mgr,
		OnDemand: engine,
		Version:  version,
	})
	if err := api.Start(cfg.API.Listen); err != nil {
		sched.Stop()
		monitor.Stop()
		engine.Stop()
		mgr.Close()
		return err
	}
	core.Log.Infof("Core", "API listening on %s", api.Addr())

	if cfg.OnDemand.IsEnabled() {
		if name := engine.Evaluate(); name != "" {
			core.Log.Infof("Core", "On-demand activating %q at startup", name)
		}
	}

	// --- Wait for shutdown signal ---
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	core.Log.Infof("Core", "Running. Press Ctrl+C to stop.")
	<-sig

	// === Graceful shutdown (reverse order) ===
	core.Log.Infof("Core", "Shutting down...")

	done := make(chan struct{})
	go func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		if err := api.Stop(stopCtx); err != nil {
			core.Log.Warnf("Core", "API shutdown: %v", err)
		}
		sched.Stop()
		monitor.Stop()
		engine.Stop()
		// Tunnels stay up; the OS keeps running them without the daemon.
		if err := mgr.Close(); err != nil {
			core.Log.Warnf("Core", "Manager close: %v", err)
		}
		close(done)
	}()

	select {
	case <-done:
		core.Log.Infof("Core", "Shutdown complete.")
	case <-time.After(10 * time.Second):
		core.Log.Errorf("Core", "Shutdown timed out, forcing exit.")
		os.Exit(1)
	}
	return nil
}

// resolveRelativeToExe resolves a relative path against the directory containing
// the running executable.
func resolveRelativeToExe(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	exe, err := os.Executable()
	if err != nil {
		core.Log.Warnf("Core", "Cannot determine executable path, using %q as-is: %v", path, err)
		return path
	}
	return filepath.Join(filepath.Dir(exe), path)
}
