package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shirodhara-backend/internal/archive"
	"shirodhara-backend/internal/bridge"
	"shirodhara-backend/internal/store"
	"shirodhara-backend/pkg/config"
)

func main() {
	log.Println("Starting Shirodhara Backend Service...")

	// Load configuration
	cfg := config.Load()

	// === Shared document store ===
	log.Println("Connecting to shared store...")
	st, err := store.NewRedisStore(store.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer st.Close()

	// === ClickHouse archive ===
	log.Println("Connecting to ClickHouse archive...")
	arch, err := archive.NewClickHouseArchive(
		cfg.ClickHouseAddr,
		cfg.ClickHouseDB,
		cfg.ClickHouseUser,
		cfg.ClickHousePass,
	)
	if err != nil {
		log.Fatalf("Failed to initialize archive: %v", err)
	}
	defer arch.Close()

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// === MQTT client ===
	log.Println("Connecting to MQTT broker...")
	mqttClient, err := bridge.NewClient(bridge.ClientConfig{
		Broker:   cfg.MQTTBroker,
		ClientID: cfg.MQTTClientID,
		Username: cfg.MQTTUsername,
		Password: cfg.MQTTPassword,
	})
	if err != nil {
		log.Fatalf("Failed to initialize MQTT client: %v", err)
	}
	defer mqttClient.Close()

	// === Device-to-store subscriber ===
	log.Println("Setting up device subscriber...")
	subscriber := bridge.NewSubscriber(mqttClient.Native(), st, arch, bridge.SubscriberConfig{
		TelemetryTopic: cfg.MQTTTopicTelemetry,
		HeartbeatTopic: cfg.MQTTTopicHeartbeat,
		StatusTopic:    cfg.MQTTTopicStatus,
	})
	if err := subscriber.SubscribeAll(); err != nil {
		log.Fatalf("Failed to subscribe to device topics: %v", err)
	}

	// === Store-to-device command relay ===
	log.Println("Setting up command relay...")
	relay := bridge.NewCommandRelay(mqttClient.Native(), st, bridge.RelayConfig{
		CommandTopic: cfg.MQTTTopicCommands,
		DeviceIDs:    cfg.DeviceIDs,
	})
	if err := relay.Start(ctx); err != nil {
		log.Fatalf("Failed to start command relay: %v", err)
	}
	defer relay.Stop()

	// === Log startup info ===
	log.Println("=== Shirodhara Backend Service is running ===")
	log.Printf("Devices: %v", cfg.DeviceIDs)
	log.Printf("MQTT Topics:")
	log.Printf("  - Telemetry: %s", cfg.MQTTTopicTelemetry)
	log.Printf("  - Heartbeat: %s", cfg.MQTTTopicHeartbeat)
	log.Printf("  - Status:    %s", cfg.MQTTTopicStatus)
	log.Printf("  - Commands:  %s", cfg.MQTTTopicCommands)
	log.Println("Press Ctrl+C to exit...")

	// === Wait for interrupt signal ===
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	// === Graceful shutdown ===
	log.Println("Shutdown signal received, stopping services...")
	cancel()

	// Give in-flight handlers time to finish
	time.Sleep(2 * time.Second)

	log.Println("Shutdown complete. Goodbye!")
}
