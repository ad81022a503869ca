//go:build no_mqtt

package main

import (
	"log/slog"

	"matter-bridge/internal/bridge"
)

func startMQTT(*bridge.Bridge, *Config, *slog.Logger) func() {
	return func() {}
}
