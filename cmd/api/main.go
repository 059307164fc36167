package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/georgemunganga/marketplace/internal/config"
	"github.com/georgemunganga/marketplace/internal/database"
	"github.com/georgemunganga/marketplace/internal/logging"
	"github.com/georgemunganga/marketplace/internal/metrics"
	"github.com/georgemunganga/marketplace/internal/middleware"
	"github.com/georgemunganga/marketplace/internal/modules/auth"
	"github.com/georgemunganga/marketplace/internal/modules/bid"
	"github.com/georgemunganga/marketplace/internal/modules/inventory"
	"github.com/georgemunganga/marketplace/internal/modules/notification"
	"github.com/georgemunganga/marketplace/internal/modules/order"
	"github.com/georgemunganga/marketplace/internal/modules/payment"
	"github.com/georgemunganga/marketplace/internal/modules/policy"
	"github.com/georgemunganga/marketplace/internal/modules/roles"
	"github.com/georgemunganga/marketplace/internal/modules/store"
	"github.com/georgemunganga/marketplace/internal/modules/user"
)

// repositories is every storage dependency, backed by postgres or memory.
type repositories struct {
	users         user.Repository
	stores        store.Repository
	assignments   roles.Repository
	policies      policy.Repository
	ledger        inventory.Ledger
	purchases     order.Repository
	notifications notification.Repository
	bids          bid.Repository
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repos, db := openRepositories(ctx, cfg, log)
	if db != nil {
		defer db.Close()
	}

	// ── Core: roles, policies, inventory ────────────────────
	hub := notification.NewHub(repos.notifications, log.WithField("component", "notifications"))
	listings := inventory.NewService(repos.ledger, log.WithField("component", "inventory"))
	registry := roles.NewRegistry(repos.assignments, log.WithField("component", "roles"))
	stores := store.NewService(store.Deps{
		Stores:      repos.stores,
		Roles:       registry,
		Assignments: repos.assignments,
		Policies:    repos.policies,
		Listings:    listings,
		Notifier:    hub,
		Log:         log.WithField("component", "stores"),
	})
	if err := stores.Load(ctx); err != nil {
		log.WithError(err).Fatal("restore stores")
	}

	// ── Checkout ────────────────────────────────────────────
	payments, shipments := gateways(cfg, log)
	checkout := order.NewService(order.Deps{
		Stores:    stores,
		Stock:     repos.ledger,
		Payments:  payments,
		Shipments: shipments,
		Purchases: repos.purchases,
		Notifier:  hub,
		Log:       log.WithField("component", "checkout"),
	})

	// ── Bids and auctions ───────────────────────────────────
	negotiations := bid.NewService(bid.Deps{
		Roles:    registry,
		Listings: listings,
		Orders:   checkout,
		Repo:     repos.bids,
		Notifier: hub,
		Log:      log.WithField("component", "bids"),
	})
	if _, err := bid.StartSweeper(ctx, negotiations, cfg.AuctionSweepInterval, log.WithField("component", "auctions")); err != nil {
		log.WithError(err).Fatal("start auction sweeper")
	}

	// ── Identity ────────────────────────────────────────────
	tokens := auth.NewTokens(cfg.JWTSecret, cfg.JWTTTL)
	userService := user.NewService(repos.users, log.WithField("component", "users"))
	authService := auth.NewService(repos.users, tokens, log.WithField("component", "auth"))

	// ── Router ──────────────────────────────────────────────
	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(chimw.Logger)
	router.Use(chimw.Recoverer)
	router.Use(metrics.InstrumentHandler)
	router.Use(middleware.NewAuthenticator(tokens, log).Handler)

	limiter := middleware.NewRateLimiter(float64(cfg.CheckoutRatePerSec), cfg.CheckoutBurst, log)
	go limiter.StartCleanup(time.Minute, ctx.Done())

	user.NewHandler(userService).RegisterRoutes(router)
	auth.NewHandler(authService).RegisterRoutes(router)
	store.NewHandler(stores).RegisterRoutes(router)
	inventory.NewHandler(listings).RegisterRoutes(router)
	order.NewHandler(checkout, limiter.Handler).RegisterRoutes(router)
	notification.NewHandler(hub).RegisterRoutes(router)
	bid.NewHandler(negotiations).RegisterRoutes(router)
	router.Handle("/metrics", metrics.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			if err := db.PingContext(r.Context()); err != nil {
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("shutdown")
		}
	}()

	log.WithFields(logrus.Fields{"port": cfg.Port, "postgres": cfg.UsesPostgres(), "gateways": cfg.GatewayMode}).
		Info("marketplace API listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Fatal("serve")
	}
}

func openRepositories(ctx context.Context, cfg *config.Config, log *logrus.Logger) (repositories, *sql.DB) {
	if !cfg.UsesPostgres() {
		log.Warn("DATABASE_URL not set, using in-memory storage")
		return repositories{
			users:         user.NewMemoryRepository(),
			stores:        store.NewMemoryRepository(),
			assignments:   roles.NewMemoryRepository(),
			policies:      policy.NewMemoryRepository(),
			ledger:        inventory.NewMemoryLedger(log.WithField("component", "ledger")),
			purchases:     order.NewMemoryRepository(),
			notifications: notification.NewMemoryRepository(),
			bids:          bid.NewMemoryRepository(),
		}, nil
	}

	db, err := database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("connect database")
	}
	if err := database.Migrate(ctx, db); err != nil {
		log.WithError(err).Fatal("migrate database")
	}
	log.Info("connected to the database")
	return repositories{
		users:         user.NewPostgresRepository(db),
		stores:        store.NewPostgresRepository(db),
		assignments:   roles.NewPostgresRepository(db),
		policies:      policy.NewPostgresRepository(db),
		ledger:        inventory.NewPostgresLedger(db, log.WithField("component", "ledger")),
		purchases:     order.NewPostgresRepository(db),
		notifications: notification.NewPostgresRepository(db),
		bids:          bid.NewPostgresRepository(db),
	}, db
}

func gateways(cfg *config.Config, log *logrus.Logger) (payment.PaymentGateway, payment.ShipmentGateway) {
	if cfg.GatewayMode == config.GatewayExternal {
		return payment.NewExternalPayment(cfg.PaymentURL, cfg.GatewayTimeout, log),
			payment.NewExternalShipment(cfg.ShipmentURL, cfg.GatewayTimeout, log)
	}
	return payment.NewSandboxPayment(log.WithField("gateway", "payment")),
		payment.NewSandboxShipment(log.WithField("gateway", "shipment"))
}
