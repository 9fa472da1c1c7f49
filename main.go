// main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"pizzapalace/internal/cart"
	"pizzapalace/internal/catalog"
	"pizzapalace/internal/checkout"
	"pizzapalace/internal/cleanup"
	"pizzapalace/internal/config"
	"pizzapalace/internal/data"
	"pizzapalace/internal/logger"
	"pizzapalace/internal/payment"
	"pizzapalace/internal/security"
	"pizzapalace/internal/session"
	"pizzapalace/internal/storefront"
)

const (
	catalogRefreshInterval = 30 * time.Minute
	csrfSweepInterval      = 5 * time.Minute
	requestTimeout         = 30 * time.Second
)

type App struct {
	addr          string
	allowedOrigin string
	mux           *http.ServeMux
	connections   sync.WaitGroup
	totalRequests int64
}

func main() {
	// Step 1: Setup configuration first
	config.LoadEnv(".env")
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Step 2: Setup logging
	if err := logger.SetupLogger(cfg.Logger); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Only NOW is logging safe to use!
	logger.LogInfo("Environment and paths loaded. Logging to %s", logger.GetLogFilePath())
	cfg.LogCurrentEnvironment()

	// Step 3: Open the database
	if err := os.MkdirAll(cfg.DataDirectory, 0o755); err != nil {
		logger.LogFatal("Failed to create data directory %s: %v", cfg.DataDirectory, err)
	}
	db, err := data.Open(cfg.DatabasePath)
	if err != nil {
		logger.LogFatal("Failed to open database: %v", err)
	}
	defer db.Close()
	if err := db.CreateTables(); err != nil {
		logger.LogFatal("Failed to create tables: %v", err)
	}
	logger.LogInfo("Database ready at %s", db.Path())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Step 4: Load the catalog
	menu := catalog.NewService(catalogSource(cfg))
	if err := menu.Load(ctx); err != nil {
		logger.LogFatal("Failed to load catalog: %v", err)
	}

	// Step 5: Wire the services
	rules := cart.DefaultRules()
	rules.TaxRate = cfg.TaxRate
	rules.DeliveryFee = cfg.DeliveryFee
	rules.FreeDeliveryThreshold = cfg.FreeDeliveryThreshold

	kv := data.NewKVStore(db)
	orders := data.NewOrderStore(db)
	sessions := session.NewManager(kv,
		session.WithRules(rules),
		session.WithMaxAge(cfg.CartMaxAge),
		session.WithObserver(func(sessionID string, c cart.Change) {
			logger.LogDebug("Cart %s: %s %s", sessionID, c.Kind, c.LineID)
		}),
	)
	provider := payment.NewPayPalClient(cfg.Payment)
	co := checkout.NewService(sessions, orders, provider, cfg.Payment.Currency, checkout.WithBrand(cfg.Payment.BrandName))
	tokens := security.NewTokenStore(security.DefaultCSRFTokenTTL)

	app := &App{
		addr:          cfg.Address(),
		allowedOrigin: cfg.AllowedOrigin,
		mux:           storefront.NewHandler(menu, sessions, co, tokens, db).Routes(),
	}

	// Step 6: Start background tasks
	go tokens.CleanExpiredTokens(ctx, csrfSweepInterval)
	cleanup.NewCleaner(kv, orders, sessions, cfg.CartMaxAge, cfg.OrderRetention).StartCleanupRoutine(ctx)
	if cfg.CatalogURL != "" {
		go refreshCatalog(ctx, menu)
	}

	// Step 7: Run server
	app.Run()
}

// catalogSource reads the local menu file, adding the remote menu when one
// is configured.
func catalogSource(cfg *config.Config) catalog.Source {
	local := catalog.FileSource{Path: cfg.CatalogFile}
	if cfg.CatalogURL == "" {
		return local
	}
	return catalog.MultiSource{catalog.NewHTTPSource(cfg.CatalogURL), local}
}

func refreshCatalog(ctx context.Context, menu *catalog.Service) {
	ticker := time.NewTicker(catalogRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !menu.IsStale(catalogRefreshInterval) {
				continue
			}
			if err := menu.Load(ctx); err != nil {
				logger.LogWarn("Catalog refresh failed, serving cached menu (age %v): %v", menu.CacheAge(), err)
			}
		}
	}
}

// Run starts the HTTP server

func (a *App) Run() {
	server := &http.Server{
		Addr:         a.addr,
		Handler:      a.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Channel to listen for shutdown signals
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// Start server in a separate goroutine
	go func() {
		logger.LogInfo("Starting server on %s", a.addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.LogFatal("Server failed: %v", err)
		}
	}()

	// Wait for a shutdown signal
	<-stop
	logger.LogInfo("Shutdown signal received")

	// Create context with timeout for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Shutdown the server gracefully
	if err := server.Shutdown(ctx); err != nil {
		logger.LogError("Server shutdown error: %v", err)
	}

	logger.LogInfo("Waiting for active connections to finish...")
	a.connections.Wait()
	logger.LogInfo("All connections closed. Total requests handled: %d", atomic.LoadInt64(&a.totalRequests))
	logger.LogInfo("Server shut down gracefully")
}

// Handler assembles all middleware around the main mux
func (a *App) Handler() http.Handler {
	var handler http.Handler = a.mux

	handler = security.AddCORSHeaders(a.allowedOrigin, handler)
	handler = a.trackConnections(handler)
	handler = logRequests(handler)
	handler = withTimeout(handler, requestTimeout)

	return handler
}

// Middleware: timeout handler
func withTimeout(h http.Handler, timeout time.Duration) http.Handler {
	return http.TimeoutHandler(h, timeout, `{"code":"timeout","message":"Request timed out"}`)
}

// Middleware: log requests
func logRequests(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		h.ServeHTTP(w, r)

		logger.LogDebug("%s %s took %v", r.Method, r.URL.Path, time.Since(start))
	})
}

// Middleware: track active connections and total requests
func (a *App) trackConnections(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.connections.Add(1)
		atomic.AddInt64(&a.totalRequests, 1)
		defer a.connections.Done()

		h.ServeHTTP(w, r)
	})
}
