// Package main is the entry point for the hydra-pay daemon (hpd).
// It wires the persistent store, the proxy key registry, the node
// supervisor, and the lifecycle API together.
package main

import (
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"hydrapay.dev/hpd/internal/api"
	"hydrapay.dev/hpd/internal/config"
	"hydrapay.dev/hpd/internal/head"
	"hydrapay.dev/hpd/internal/journal"
	"hydrapay.dev/hpd/internal/keys"
	"hydrapay.dev/hpd/internal/node"
	"hydrapay.dev/hpd/internal/state"
	"hydrapay.dev/hpd/internal/store"
	"hydrapay.dev/hpd/internal/tx"
)

func main() {
	log.Println("hpd starting...")

	cfg, err := config.LoadConfig(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := store.NewStore(cfg.DBFile)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer db.Close()
	log.Println("Persistent store initialized")

	st := state.NewStore()
	jrn := journal.New(500)

	registry := keys.NewRegistry(cfg, st, db)
	supervisor := node.NewSupervisor(cfg, registry)
	builder := tx.NewBuilder(cfg, registry)
	heads := head.NewService(st, db, registry, supervisor, builder, jrn, tx.FuelMarkerDatumHash)

	if err := ensurePortAvailable(cfg.Port); err != nil {
		log.Fatalf("Port %d unavailable: %v", cfg.Port, err)
	}

	server := api.NewServer(api.NewService(heads, builder, jrn), cfg.Port)
	serverErrors := server.Start()
	go func() {
		if err := <-serverErrors; err != nil {
			log.Fatalf("API server exited: %v", err)
		}
	}()
	log.Printf("Lifecycle API available at http://localhost:%d", cfg.Port)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")
	for _, name := range st.NetworkNames() {
		if err := heads.StopNetwork(name); err != nil {
			log.Printf("Warning: stop network %s: %v", name, err)
		}
	}
	server.Close()
}

func ensurePortAvailable(port int) error {
	addr := fmt.Sprintf(":%d", port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return listener.Close()
}
