package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tabguard/tabguard/internal/config"
	"github.com/tabguard/tabguard/internal/db"
	"github.com/tabguard/tabguard/internal/engine"
	"github.com/tabguard/tabguard/internal/gateway"
	"github.com/tabguard/tabguard/internal/httpapi"
	"github.com/tabguard/tabguard/internal/logging"
	"github.com/tabguard/tabguard/internal/scheduler"
	"github.com/tabguard/tabguard/internal/security"
	"github.com/tabguard/tabguard/internal/settings"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// shutdownTimeout bounds the graceful HTTP shutdown on exit.
const shutdownTimeout = 10 * time.Second

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.Config) error {
	conn, errOpen := db.Open(cfg.Database)
	if errOpen != nil {
		return errOpen
	}
	return db.Migrate(conn)
}

// Setup provisions the pairing credentials. It rotates the extension access
// key on every run and prints the new key once; the key is never stored in
// plaintext, so a lost key means running setup again.
func Setup(ctx context.Context, cfg config.Config) error {
	conn, errOpen := db.Open(cfg.Database)
	if errOpen != nil {
		return errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}

	accessKey, errKey := security.GenerateAccessKey()
	if errKey != nil {
		return errKey
	}
	hash, errHash := security.HashAccessKey(accessKey)
	if errHash != nil {
		return errHash
	}
	if errUpsert := settings.Upsert(ctx, conn, settings.PairingKeyHashKey, hash); errUpsert != nil {
		return errUpsert
	}
	if errSecret := ensureSessionSecret(ctx, conn); errSecret != nil {
		return errSecret
	}

	fmt.Println("Pairing access key (shown once, paste it into the extension):")
	fmt.Println("  " + accessKey)
	return nil
}

// RunServer boots the agent: database, scheduler, and the loopback HTTP API.
func RunServer(ctx context.Context, cfg config.Config) error {
	logging.Setup(cfg.Log)

	conn, errOpen := db.Open(cfg.Database)
	if errOpen != nil {
		return errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	log.Infof("database ready (dialect=%s)", db.DialectName(conn))
	if errRefresh := settings.RefreshSnapshot(ctx, conn); errRefresh != nil {
		return errRefresh
	}

	client := gateway.NewClient(
		cfg.Upstream.BaseURL,
		&http.Client{Timeout: time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second},
		settings.PolicyAPISource{},
	)

	sched := scheduler.New(conn, client)
	if sched == nil {
		return errors.New("app: scheduler init failed")
	}
	sched.Start(ctx)

	eng := engine.New(client, sched)
	if eng == nil {
		return errors.New("app: engine init failed")
	}

	if cfg.Log.Level != "debug" && cfg.Log.Level != "trace" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	httpapi.RegisterAgentRoutes(router, conn, eng, sched, client)

	server := &http.Server{
		Addr:    cfg.Listen,
		Handler: router,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Infof("agent listening on %s", cfg.Listen)
		serveErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
			return errShutdown
		}
		return nil
	case errServe := <-serveErr:
		if errors.Is(errServe, http.ErrServerClosed) {
			return nil
		}
		return errServe
	}
}

// ensureSessionSecret generates the JWT secret once; rotating it would
// invalidate live extension sessions for no gain.
func ensureSessionSecret(ctx context.Context, conn *gorm.DB) error {
	if errRefresh := settings.RefreshSnapshot(ctx, conn); errRefresh != nil {
		return errRefresh
	}
	if secret, ok := settings.StringValue(settings.SessionSecretKey); ok && secret != "" {
		return nil
	}
	secret, errGen := security.GenerateRandomString(48)
	if errGen != nil {
		return errGen
	}
	return settings.Upsert(ctx, conn, settings.SessionSecretKey, secret)
}
