// cmd/server/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/inhouseleague/ihl/internal/auth"
	"github.com/inhouseleague/ihl/internal/botpool"
	"github.com/inhouseleague/ihl/internal/cache"
	"github.com/inhouseleague/ihl/internal/config"
	"github.com/inhouseleague/ihl/internal/database"
	"github.com/inhouseleague/ihl/internal/handlers"
	"github.com/inhouseleague/ihl/internal/middleware"
	"github.com/inhouseleague/ihl/internal/orchestrator"
)

func main() {
	auth.Init()
	database.ConnectDB()

	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	cfg := config.FromEnv()
	ctx := context.Background()

	// Seed the bot pool from the registry.
	bots, err := database.ListBots(ctx)
	if err != nil {
		log.Fatalf("failed to list bots: %v", err)
	}
	pool := botpool.New(bots, database.BotRegistry{}, logger)

	// The game-session driver reports via /lobby/session-result, so no
	// in-process driver is wired here.
	orc := orchestrator.New(database.LobbyStore{}, pool, nil, database.ChallengeStore{}, cfg, logger)

	// Re-adopt lobbies that were mid-flight at the last shutdown.
	activeIDs, err := database.ActiveLobbyIDs(ctx)
	if err != nil {
		log.Fatalf("failed to query active lobbies: %v", err)
	}
	for _, id := range activeIDs {
		ls, err := database.LoadLobby(ctx, id)
		if err != nil {
			logger.Warnf("failed to load lobby %s: %v", id, err)
			continue
		}
		ls.Config = cfg
		orc.AdoptLobby(ls)
	}
	logger.Infof("adopted %d active lobbies", len(activeIDs))

	srv := handlers.NewServer(orc, logger)
	if err := cache.ConnectRedis(); err != nil {
		logger.Warnf("redis unavailable, lifecycle announce queue disabled: %v", err)
	} else {
		srv.Publish = cache.PublishLifecycleEvent
	}

	go orc.Run(ctx, tickInterval())
	go srv.Run(ctx)

	mux := http.NewServeMux()

	// player endpoints
	mux.HandleFunc("/player/create", handlers.CreatePlayerHandler)
	mux.HandleFunc("/player/login", handlers.LoginHandler)

	// lobby command endpoints
	mux.Handle("/lobby/create", middleware.LogMiddleware(logger)(handlers.CreateLobbyHandler(srv)))
	mux.Handle("/lobby/list", middleware.LogMiddleware(logger)(handlers.ListLobbiesHandler(srv)))
	mux.Handle("/lobby/join", middleware.LogMiddleware(logger)(handlers.JoinLobbyHandler(srv)))
	mux.Handle("/lobby/leave", middleware.LogMiddleware(logger)(handlers.LeaveLobbyHandler(srv)))
	mux.Handle("/lobby/ready", middleware.LogMiddleware(logger)(handlers.ReadyHandler(srv)))
	mux.Handle("/lobby/pick", middleware.LogMiddleware(logger)(handlers.PickHandler(srv)))
	mux.Handle("/lobby/kill", middleware.LogMiddleware(logger)(handlers.KillLobbyHandler(srv)))
	mux.Handle("/lobby/requeue", middleware.LogMiddleware(logger)(handlers.RequeueBotHandler(srv)))
	mux.Handle("/lobby/session-result", middleware.LogMiddleware(logger)(handlers.SessionResultHandler(srv)))
	mux.Handle("/lobby/match-ended", middleware.LogMiddleware(logger)(handlers.MatchEndedHandler(srv)))

	// lifecycle event feed
	mux.Handle("/events/ws", middleware.LogMiddleware(logger)(handlers.EventsWSHandler(logger, srv)))

	addr := ":8080"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}
	logger.Infof("Running on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}

func tickInterval() time.Duration {
	if s := os.Getenv("TICK_INTERVAL_SEC"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			return time.Duration(v) * time.Second
		}
	}
	return 5 * time.Second
}
