package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"spotbot/internal/api"
	"spotbot/internal/engine"
	"spotbot/internal/events"
	"spotbot/internal/exchange/binance"
	"spotbot/pkg/config"
	"spotbot/pkg/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	log.Printf("config loaded: %+v", cfg.Redacted())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "data/spotbot.db"
	}
	database, err := db.New(dbPath)
	if err != nil {
		log.Fatalf("db init failed: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("db migrations failed: %v", err)
	}
	log.Printf("using db path %s", dbPath)

	bus := events.NewBus()

	var gateway *binance.Client
	switch cfg.ExchangeID {
	case "binance":
		gateway = binance.New(binance.Config{
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
			Sandbox:   cfg.IsSandbox,
		})
	default:
		log.Fatalf("unsupported exchange %q", cfg.ExchangeID)
	}

	eng := engine.New(gateway, database, bus)
	if err := eng.Initialize(ctx); err != nil {
		log.Fatalf("engine initialize failed: %v", err)
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Println("⚠️ JWT_SECRET not set; mutating commands will be rejected until configured")
	}

	server := api.NewServer(bus, eng, jwtSecret)
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("api server error: %v", err)
		}
	}()
	log.Printf("listening on :%s", cfg.Port)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("shutting down")

	if err := eng.Stop(false); err != nil {
		log.Printf("engine stop error: %v", err)
	}
}
