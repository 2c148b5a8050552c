package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pagegrid.org/internal/config"
	"pagegrid.org/internal/httpapi"
	"pagegrid.org/internal/identity"
	"pagegrid.org/internal/invite"
	"pagegrid.org/internal/obs"
	"pagegrid.org/internal/store/pg"
	"pagegrid.org/internal/tenant"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.DatabaseDSN == "" {
		log.Fatal("missing DSN: set PAGEGRID_PG_DSN")
	}
	if cfg.AuthSecret == "" {
		log.Fatal("missing auth secret: set PAGEGRID_AUTH_SECRET")
	}

	store, err := pg.Open(cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	idsvc, err := identity.NewService(store.Users(), store.Sessions(), store.Tokens(),
		identity.WithSessionTTL(cfg.SessionTTL))
	if err != nil {
		log.Fatalf("identity service: %v", err)
	}
	authz, err := tenant.NewAuthorizer(store.Tenants())
	if err != nil {
		log.Fatalf("authorizer: %v", err)
	}
	tenants, err := tenant.NewService(store.Tenants(), authz)
	if err != nil {
		log.Fatalf("tenant service: %v", err)
	}
	invites, err := invite.NewService(store.Invites(), store.Users(), store.Tenants(), authz, cfg.BaseURL)
	if err != nil {
		log.Fatalf("invite service: %v", err)
	}

	api := httpapi.New(httpapi.ReadyProbe{DB: store.DB()}, version, idsvc, tenants, invites, httpapi.Options{
		AuthSecret:    cfg.AuthSecret,
		SecureCookies: cfg.SecureCookies,
		RateBurst:     cfg.RateBurst,
		RatePerSec:    cfg.RatePerSec,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting pagegrid-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}
