package main

import (
	"log"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/open-hours/timebank/internal/auth"
	"github.com/open-hours/timebank/internal/chat"
	"github.com/open-hours/timebank/internal/config"
	"github.com/open-hours/timebank/internal/db"
	"github.com/open-hours/timebank/internal/handshake"
	"github.com/open-hours/timebank/internal/market"
	appmw "github.com/open-hours/timebank/internal/middleware"
	"github.com/open-hours/timebank/internal/ranking"
	"github.com/open-hours/timebank/internal/reputation"
	"github.com/open-hours/timebank/internal/store"
	"github.com/open-hours/timebank/internal/timebank"
)

func main() {
	cfg := config.Load()

	// Postgres when configured, in-memory store otherwise (local dev).
	var st store.Store
	if os.Getenv("DATABASE_URL") != "" || os.Getenv("DB_HOST") != "" {
		db.Init()
		st = store.NewPGStore(db.Conn)
	} else {
		log.Println("No database configured, using in-memory store")
		st = store.NewMemStore()
	}

	ranker := ranking.New(st)
	ranker.Start()
	defer ranker.Close()

	ledger := timebank.NewLedger(st)
	engine := handshake.NewEngine(st, ranker, cfg.MaxProvisionHours)
	gate := reputation.NewGate(st, ranker)
	hub := chat.NewHub(st, ranker, chat.DefaultPostPolicy, cfg.MaxMessageBytes)

	tokens := auth.NewVerifier(cfg.JWTSecret, cfg.TokenTTL)
	guard := auth.NewLockoutGuard(st, cfg.LockoutThreshold, cfg.LockoutWindow)

	authHandler := &auth.Handler{Store: st, Tokens: tokens, Guard: guard, StartingHours: cfg.StartingHours}
	marketHandler := &market.Handler{Store: st}
	handshakeHandler := &handshake.Handler{Engine: engine, Store: st}
	reputationHandler := &reputation.Handler{Gate: gate, Store: st}
	timebankHandler := &timebank.Handler{Store: st, Ledger: ledger}
	chatHandler := &chat.Handler{Hub: hub, Store: st}
	wsHandler := &chat.WSHandler{Hub: hub, Store: st, Tokens: tokens}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	// Health
	e.GET("/health", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/ready", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"status": "ready"})
	})

	// Auth routes with per-IP rate limiting to protect signup/login from abuse
	authGroup := e.Group("/auth")
	authGroup.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(20)))
	authGroup.POST("/signup", authHandler.Signup)
	authGroup.POST("/login", authHandler.Login)

	// Public discovery
	e.GET("/services", marketHandler.ListServices)
	e.GET("/services/:id", marketHandler.GetService)
	e.GET("/users/:id/reputation", reputationHandler.ListForUser)

	// Streaming chat: token rides in the query, not a header
	e.GET("/ws/services/:id", wsHandler.ServiceRoomWS)

	// Authenticated group
	g := e.Group("")
	g.Use(appmw.JWT(tokens))

	g.GET("/me", authHandler.Me)

	g.POST("/services", marketHandler.CreateService)
	g.GET("/services/:id/messages", chatHandler.ListMessages)
	g.POST("/services/:id/messages", chatHandler.SendMessage)

	g.POST("/handshakes", handshakeHandler.Propose)
	g.GET("/handshakes", handshakeHandler.List)
	g.POST("/handshakes/:id/terms", handshakeHandler.ConfirmTerms)
	g.POST("/handshakes/:id/accept", handshakeHandler.Accept)
	g.POST("/handshakes/:id/complete", handshakeHandler.Complete)
	g.POST("/handshakes/:id/cancel", handshakeHandler.Cancel)
	g.POST("/handshakes/:id/deny", handshakeHandler.Deny)
	g.POST("/handshakes/:id/reputation", reputationHandler.Submit)

	g.GET("/timebank/balance", timebankHandler.Balance)
	g.GET("/timebank/history", timebankHandler.History)

	log.Printf("API server listening on :%s", cfg.Port)
	if err := e.Start(":" + cfg.Port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
