// Command hyperspace-sub000 is the control-plane server for commissioning,
// placing and deploying a fleet of LiDAR sensors behind edge gateways.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/lnesto74/hyperspace-sub000/internal/api"
	"github.com/lnesto74/hyperspace-sub000/internal/commission"
	"github.com/lnesto74/hyperspace-sub000/internal/config"
	"github.com/lnesto74/hyperspace-sub000/internal/deploy"
	"github.com/lnesto74/hyperspace-sub000/internal/edge"
	"github.com/lnesto74/hyperspace-sub000/internal/mesh"
	"github.com/lnesto74/hyperspace-sub000/internal/place"
	"github.com/lnesto74/hyperspace-sub000/internal/relay"
	"github.com/lnesto74/hyperspace-sub000/internal/store"
)

var (
	devMode = flag.Bool("dev", false, "Run in dev mode (mock mesh directory)")
	listen  = flag.String("listen", ":8080", "Listen address")
	dbFile  = flag.String("db", "commissioning.db", "SQLite database file")
)

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if *devMode {
		cfg.Features.MockMesh = true
	}

	st, err := store.Open(*dbFile)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer st.Close()

	directory := mesh.New(st, cfg.HostnamePatterns, cfg.GatewayTag, cfg.Features.MockMesh)
	edgeClient := edge.NewClient(nil, cfg.EdgePort)
	pclRelay := relay.New(nil, cfg.EdgePort, cfg.EdgeWSPort)
	coordinator := commission.New(st, edgeClient, cfg.AddressPoolBase, cfg.FactoryAddress)
	engine := deploy.New(st, directory, edgeClient, cfg)
	facade := place.New(st, nil, cfg.SolverURL)

	server := api.NewServer(st, cfg, directory, edgeClient, pclRelay, coordinator, engine, facade)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wg.Add(1)
	go func() {
		defer wg.Done()

		httpServer := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(server.ServeMux()),
		}

		go func() {
			log.Printf("listening on %s", *listen)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}()

	wg.Wait()
	log.Println("shutdown complete")
}
