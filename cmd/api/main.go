package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"escrowflow/auth"
	"escrowflow/config"
	"escrowflow/db"
	"escrowflow/dispute"
	"escrowflow/escrow"
	"escrowflow/stats"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(os.Getenv("ESCROW_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	escrowRepo := escrow.NewRepository(pool)
	escrowService := escrow.NewService(pool, escrowRepo, cfg.FeeBps)
	disputeService := dispute.NewService(pool, dispute.NewRepository(pool), escrowRepo)
	statsService := stats.NewService(stats.NewRepository(pool))
	authService := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret)

	server := &Server{
		authService:    authService,
		escrowService:  escrowService,
		disputeService: disputeService,
		statsService:   statsService,
		releaseWindow:  cfg.ReleaseWindow(),
	}

	log.Printf("escrow api listening on %s (release window %s)", cfg.ListenAddress, cfg.ReleaseWindow())
	if err := http.ListenAndServe(cfg.ListenAddress, server.routes()); err != nil {
		log.Fatalf("http server: %v", err)
	}
}
