package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"shirodhara-backend/internal/devicesim"
	"shirodhara-backend/internal/store"
	"shirodhara-backend/pkg/config"
)

func main() {
	log.Println("Starting Shirodhara device simulator...")

	cfg := config.Load()

	st, err := store.NewRedisStore(store.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, deviceID := range cfg.DeviceIDs {
		dev := devicesim.New(st, devicesim.Config{DeviceID: deviceID})
		if err := dev.Start(ctx); err != nil {
			log.Fatalf("Failed to start device %s: %v", deviceID, err)
		}
		defer dev.Stop()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutdown signal received, stopping simulator...")
	cancel()
}
