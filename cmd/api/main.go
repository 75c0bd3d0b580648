package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"paperstack.io/internal/entitlement"
	"paperstack.io/internal/httpapi"
	"paperstack.io/internal/identity"
	"paperstack.io/internal/obs"
	"paperstack.io/internal/token"
	"paperstack.io/internal/usage"
)

var version = "0.3.1"

const purgeInterval = time.Hour

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("PAPERSTACK_COMMIT"))

	secret := os.Getenv("PAPERSTACK_AUTH_SECRET")
	if secret == "" {
		log.Fatal("PAPERSTACK_AUTH_SECRET is required")
	}
	addr := os.Getenv("PAPERSTACK_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Without a DSN everything runs in memory. Useful for local work,
	// useless in production.
	var (
		db        *sql.DB
		dirStore  identity.Store
		tokStore  token.Store
		subStore  entitlement.SubscriptionStore
		meterStor usage.Store
		catalog   *entitlement.Catalog
	)
	if dsn := os.Getenv("PAPERSTACK_PG_DSN"); dsn != "" {
		var err error
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)

		loadCtx, loadCancel := context.WithTimeout(ctx, 10*time.Second)
		catalog, err = entitlement.LoadCatalog(loadCtx, db)
		loadCancel()
		if err != nil {
			log.Fatalf("load plan catalog: %v", err)
		}

		dirStore = identity.NewPGStore(db)
		tokStore = token.NewPGStore(db)
		subStore = entitlement.NewPGSubscriptionStore(db)
		meterStor = usage.NewPGStore(db)
	} else {
		log.Print("PAPERSTACK_PG_DSN not set, using in-memory stores")
		var err error
		catalog, err = devCatalog()
		if err != nil {
			log.Fatalf("build dev catalog: %v", err)
		}
		dirStore = identity.NewMemStore()
		tokStore = token.NewMemStore()
		subStore = entitlement.NewMemSubscriptionStore()
		meterStor = usage.NewMemStore()
	}

	directory := identity.NewDirectory(dirStore)
	tokens, err := token.NewService(tokStore, secret, token.WithIssuer("paperstack-api"))
	if err != nil {
		log.Fatalf("token service: %v", err)
	}
	meter := usage.NewMeter(meterStor)
	resolver := entitlement.NewResolver(catalog, subStore, meter)

	api := httpapi.New(httpapi.Config{
		Version:       version,
		SecureCookies: os.Getenv("PAPERSTACK_INSECURE_COOKIES") == "",
		ReadyProbe:    httpapi.ReadyProbe{DB: db},
	}, directory, tokens, resolver, subStore, meter)

	// Expired refresh tokens get swept in the background. A day of grace
	// keeps recently expired rows around for incident forensics.
	go func() {
		t := time.NewTicker(purgeInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				n, err := tokens.PurgeExpired(ctx, 24*time.Hour)
				if err != nil {
					log.Printf("purge refresh tokens: %v", err)
				} else if n > 0 {
					log.Printf("purged %d expired refresh tokens", n)
				}
			}
		}
	}()

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting paperstack-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}

// devCatalog mirrors ops/migrations/seeds/0001_plans.sql for DSN-less runs.
func devCatalog() (*entitlement.Catalog, error) {
	aiLimit := int64(100)
	return entitlement.NewCatalog(
		[]entitlement.Plan{
			{Key: "normal", Name: "Normal"},
			{Key: "pro", Name: "Pro"},
			{Key: "premium", Name: "Premium"},
		},
		[]entitlement.Entitlement{
			{PlanKey: "normal", Key: "doc_upload", Enabled: true},
			{PlanKey: "normal", Key: "ai_extract", Enabled: false},
			{PlanKey: "pro", Key: "doc_upload", Enabled: true},
			{PlanKey: "pro", Key: "ai_extract", Enabled: true, Limit: &aiLimit},
			{PlanKey: "pro", Key: "export_pdf", Enabled: true},
			{PlanKey: "premium", Key: "doc_upload", Enabled: true},
			{PlanKey: "premium", Key: "ai_extract", Enabled: true},
			{PlanKey: "premium", Key: "export_pdf", Enabled: true},
		},
	)
}
