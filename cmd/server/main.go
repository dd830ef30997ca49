package main

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"updown-game/internal/api"
	"updown-game/internal/auth"
	"updown-game/internal/config"
	"updown-game/internal/db"
	"updown-game/internal/engine"
	"updown-game/internal/market"
	"updown-game/internal/tgbot"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Mini App is served from the Telegram webview origin
	},
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

var (
	clients   = make(map[*wsClient]bool)
	clientsMu sync.RWMutex
)

func broadcastPrice(sim *market.Simulator, logger *zap.Logger) {
	price, history := sim.Snapshot()
	data, err := json.Marshal(map[string]interface{}{
		"price":   price,
		"history": history,
	})
	if err != nil {
		logger.Error("failed to marshal price snapshot", zap.Error(err))
		return
	}

	clientsMu.RLock()
	stale := []*wsClient{}
	for client := range clients {
		client.mu.Lock()
		err := client.conn.WriteMessage(websocket.TextMessage, data)
		client.mu.Unlock()
		if err != nil {
			stale = append(stale, client)
		}
	}
	clientsMu.RUnlock()

	if len(stale) > 0 {
		clientsMu.Lock()
		for _, client := range stale {
			delete(clients, client)
		}
		clientsMu.Unlock()
	}
}

func handlePriceStream(sim *market.Simulator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("failed to upgrade connection", zap.Error(err))
			return
		}

		client := &wsClient{conn: conn}
		clientsMu.Lock()
		clients[client] = true
		clientsMu.Unlock()

		// Send the current snapshot right away
		broadcastPrice(sim, logger)

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				clientsMu.Lock()
				delete(clients, client)
				clientsMu.Unlock()
				break
			}
		}
	}
}

// Main entry point: sets up database, market simulator, trade engine and
// HTTP server
func main() {
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database connection
	database, err := db.NewDB(ctx, cfg.DatabaseURL, cfg.StartingBalance)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	// Initialize the price feed (single writer; everything else reads)
	sim := market.New(market.Config{
		Interval:     cfg.MarketTickInterval,
		StartPrice:   100.0,
		FloorPrice:   1.0,
		Drift:        0.1,
		Volatility:   0.5,
		HistoryLimit: 100,
	}, rand.New(rand.NewSource(time.Now().UnixNano())), logger)
	go sim.Run(ctx)

	// Initialize trade engine
	eng := engine.New(database, sim, engine.Config{
		ResolveDelay: cfg.TradeResolveDelay,
		PayoutRate:   cfg.PayoutRate,
	}, logger)
	defer eng.Stop()

	// Initialize auth service
	authService := auth.NewAuthService(cfg.BotToken)

	// Initialize API handlers
	handler := api.NewHandler(database, eng, sim, authService, logger)

	// Set up HTTP router
	r := chi.NewRouter()

	// Enable CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Serve the Mini App frontend
	r.Handle("/*", http.FileServer(http.Dir("frontend")))

	// Live price stream
	r.Get("/ws/price", handlePriceStream(sim, logger))

	// Public endpoints
	r.Get("/api/price", handler.GetPrice)

	// Protected endpoints (require signed Telegram init data)
	r.Group(func(r chi.Router) {
		r.Use(handler.InitDataAuthMiddleware)
		r.Get("/api/balance", handler.GetBalance)
		r.Post("/api/add-balance", handler.AddBalance)
		r.Post("/api/deduct-balance", handler.DeductBalance)
		r.Post("/api/trade", handler.PlaceTrade)
		r.Get("/api/open-trades", handler.GetOpenTrades)
		r.Get("/api/history", handler.GetHistory)
	})

	// Start periodic price broadcast to websocket clients
	go func() {
		ticker := time.NewTicker(cfg.MarketTickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				broadcastPrice(sim, logger)
			}
		}
	}()

	// Optional Telegram bot entry point
	if cfg.RunBot {
		bot, err := tgbot.New(cfg.BotToken, cfg.WebAppURL, logger)
		if err != nil {
			logger.Fatal("failed to init telegram bot", zap.Error(err))
		}
		go bot.Run(ctx)
	}

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: r}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("starting server", zap.String("addr", cfg.ListenAddr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server failed", zap.Error(err))
	}
}
