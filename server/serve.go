package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rexlx/marconilink/config"
	"github.com/rexlx/marconilink/forum"
	"github.com/rexlx/marconilink/kv"
	"github.com/rexlx/marconilink/notify"
	"github.com/rexlx/marconilink/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the notification listener",
	RunE:  runServe,
}

func newBucket() *storage.DirBucket {
	return storage.NewDirBucket(cfg.Storage.Root, cfg.Storage.Bucket)
}

func newSessionManager(sc config.SessionConfig) *scs.SessionManager {
	session := scs.New()
	session.Lifetime = config.Duration(sc.Lifetime, 365*24*time.Hour)
	if sc.CookieName != "" {
		session.Cookie.Name = sc.CookieName
	}
	session.Cookie.HttpOnly = true
	session.Cookie.SameSite = http.SameSiteLaxMode
	session.Cookie.Persist = true
	return session
}

// publicBase is the externally visible prefix of the API, used in signed
// attachment links.
func publicBase(hc config.HTTPConfig) string {
	base := strings.TrimRight(hc.PublicURL, "/")
	if base == "" {
		host := hc.Addr
		if strings.HasPrefix(host, ":") {
			host = "localhost" + host
		}
		base = "http://" + host
	}
	return base + strings.TrimRight(hc.BasePath, "/")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize the key-value store.
	store, err := kv.Open(ctx, cfg.Store.Driver, cfg.Store.DSN, kv.Options{MaxConns: cfg.Store.MaxConns})
	if err != nil {
		return fmt.Errorf("could not open store: %w", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("could not migrate store: %w", err)
	}
	logger.Info("store ready", zap.String("driver", cfg.Store.Driver))

	bucket := newBucket()
	if _, err := bucket.Ensure(ctx); err != nil {
		return fmt.Errorf("could not create bucket: %w", err)
	}
	signer := storage.NewSigner(
		[]byte(cfg.Storage.SigningKey),
		publicBase(cfg.HTTP)+"/files",
		config.Duration(cfg.Storage.URLTTL, storage.DefaultURLTTL),
	)

	forumDB := forum.NewDatabase(store, forum.Options{
		AdminCode:      cfg.Admin.AdminCode,
		SuperAdminCode: cfg.Admin.SuperAdminCode,
	})
	inbox := notify.NewInbox(store, cfg.Notifications.InboxSize)
	forumHandler := forum.NewHandlers(forumDB, inbox, bucket, signer, newSessionManager(cfg.Session), logger, forum.HandlerOptions{
		MaxUploadBytes: cfg.HTTP.MaxUploadBytes,
		AdminKeyHash:   cfg.Admin.APIKeyHash,
	})

	var handler http.Handler = forumHandler.Handler()
	if base := strings.TrimRight(cfg.HTTP.BasePath, "/"); base != "" {
		mux := http.NewServeMux()
		mux.Handle(base+"/", http.StripPrefix(base, handler))
		handler = mux
	}
	handler = forum.RequestLogger(logger, forum.CORS(cfg.HTTP.CORSOrigins, handler))

	svr := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      handler,
		ReadTimeout:  config.Duration(cfg.HTTP.ReadTimeout, 30*time.Second),
		WriteTimeout: config.Duration(cfg.HTTP.WriteTimeout, 60*time.Second),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting forum server", zap.String("addr", svr.Addr), zap.String("base_path", cfg.HTTP.BasePath))
		if err := svr.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return svr.Shutdown(shutdownCtx)
	})
	if cfg.Notifications.Enabled {
		listener := notify.NewListener(inbox, forumDB, config.Duration(cfg.Notifications.Interval, 30*time.Second), logger)
		g.Go(func() error {
			return listener.Run(gctx)
		})
	}
	return g.Wait()
}
