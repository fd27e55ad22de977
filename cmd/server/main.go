// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/jonboulle/clockwork"
	"github.com/jumprush/server/internal/auth"
	"github.com/jumprush/server/internal/config"
	"github.com/jumprush/server/internal/coordinator"
	"github.com/jumprush/server/internal/gateway"
	"github.com/jumprush/server/internal/journal"
	"github.com/jumprush/server/internal/keeper"
	"github.com/jumprush/server/internal/middleware"
	"github.com/jumprush/server/internal/store"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)

	cfg := config.Load()
	clock := clockwork.NewRealClock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	rdb, err := journal.Connect(cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.Fatalf("failed to connect to redis: %v", err)
	}
	defer rdb.Close()

	tokens, err := auth.New()
	if err != nil {
		logger.Fatalf("failed to init token service: %v", err)
	}

	coord := coordinator.New(db, clock, logger)
	defer coord.Stop()

	gw := gateway.New(coord, tokens, logger)
	coord.Subscribe(gw)
	coord.Subscribe(journal.New(rdb, cfg.JournalQueue, logger))

	// Rehydrate countdowns for lobbies left mid-start by a previous process,
	// before any traffic can mutate them.
	if err := coord.RecoverCountdowns(ctx); err != nil {
		logger.Fatalf("failed to recover countdowns: %v", err)
	}

	go keeper.New(coord, db, clock, logger, cfg.BaselineBets, cfg.KeeperInterval).Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.Handle("/ws", middleware.LogMiddleware(logger)(gw.Handler()))

	server := &http.Server{
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}

	l, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.Port))
	if err != nil {
		logger.Fatalf("failed to listen: %v", err)
	}
	logger.Infof("listening on %s", l.Addr())

	errc := make(chan error, 1)
	go func() {
		errc <- server.Serve(l)
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	select {
	case err := <-errc:
		logger.Errorf("failed to serve: %v", err)
	case sig := <-sigs:
		logger.Infof("terminating: %v", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
}
