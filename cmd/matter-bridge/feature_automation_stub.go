//go:build no_automation

package main

import (
	"log/slog"

	"matter-bridge/internal/bridge"
	"matter-bridge/internal/web"
)

func startAutomation(*bridge.Bridge, *Config, *slog.Logger) (func(), []web.ServerOption) {
	return func() {}, nil
}
