//go:build !no_mqtt

package main

import (
	"log/slog"

	"matter-bridge/internal/bridge"
	mqttbridge "matter-bridge/internal/mqtt"
)

// startMQTT mirrors the bridge onto the configured broker. The returned
// function stops it.
func startMQTT(br *bridge.Bridge, cfg *Config, logger *slog.Logger) func() {
	if !cfg.MQTT.Enabled {
		return func() {}
	}
	mb, err := mqttbridge.NewBridge(br, mqttbridge.Config{
		Broker:      cfg.MQTT.Broker,
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		ClientID:    cfg.MQTT.ClientID,
		TopicPrefix: cfg.MQTT.TopicPrefix,
	}, logger)
	if err != nil {
		logger.Error("mqtt disabled", "err", err)
		return func() {}
	}
	mb.Start()
	return mb.Stop
}
