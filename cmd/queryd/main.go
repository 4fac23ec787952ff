package main

import (
	"context"
	"log"

	"github.com/marketbrief/marketbrief/internal/app"
)

// queryd serves the read-only lookup API and accepts on-demand refresh
// requests. It never performs synthesis itself.
func main() {
	ctx := context.Background()

	a, err := app.New(ctx)
	if err != nil {
		log.Fatalf("queryd: %v", err)
	}
	defer a.Log.Sync()

	server, err := a.QueryServer(ctx)
	if err != nil {
		a.Log.Fatal("Failed to assemble query server.", "error", err)
	}

	addr := a.Config.Query.ListenAddr
	a.Log.Info("Query service listening.", "addr", addr)
	if err := server.Router().Run(addr); err != nil {
		a.Log.Fatal("Query service stopped.", "error", err)
	}
}
