//go:build !no_automation

package main

import (
	"log/slog"

	"matter-bridge/internal/automation"
	"matter-bridge/internal/bridge"
	"matter-bridge/internal/web"
)

// startAutomation runs enabled scripts from cfg.ScriptsDir and exposes them
// through the web API.
func startAutomation(br *bridge.Bridge, cfg *Config, logger *slog.Logger) (func(), []web.ServerOption) {
	mgr, err := automation.NewManager(cfg.ScriptsDir, logger)
	if err != nil {
		logger.Error("automation disabled", "err", err)
		return func() {}, nil
	}
	engine := automation.NewEngine(br, mgr, logger)
	engine.Start()
	return engine.Stop, []web.ServerOption{web.WithAutomation(engine, mgr)}
}
