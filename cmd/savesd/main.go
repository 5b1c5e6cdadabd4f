package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"savesync/auth"
	"savesync/core"
	"savesync/handlers/api/saves"
	authHandlers "savesync/handlers/auth"
	authMiddleware "savesync/middleware"
	"savesync/stores"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		w.Write([]byte("ok"))
	}
}

func setupRouter(store core.SaveRowStore, issuer *auth.Issuer, login *authHandlers.Handlers) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length", "X-CSRF-Token", "Origin", "Accept-Encoding", "Accept-Language", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))

	r.Get("/healthz", handleHealth)
	r.Head("/healthz", handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.AuthJWT(issuer))
			r.Route("/saves", saves.Routes(store))
		})
	})

	r.Route("/auth", func(r chi.Router) {
		r.Get("/login", login.HandleLogin)
		r.Get("/callback", login.HandleCallback)
		r.Post("/token", login.HandleDevToken)
	})

	return r
}

func closeStore(store core.SaveRowStore) {
	switch s := store.(type) {
	case interface{ Close() error }:
		if err := s.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close storage")
		}
	case interface{ Close() }:
		s.Close()
	}
}

func waitForShutdown(srv *http.Server, store core.SaveRowStore) {
	signalC := make(chan os.Signal, 1)
	signal.Notify(signalC, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	s := <-signalC
	logrus.WithField("signal", s.String()).Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logrus.WithError(err).Warn("Server did not shut down cleanly")
	}
	closeStore(store)
}

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found")
	}

	listenAddress := flag.String("listen", ":3002", "The address to listen on.")
	logLevel := flag.String("loglevel", "info", "The log level (debug, info, warn, error).")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	ctx := context.Background()
	issuer := auth.NewIssuer([]byte(os.Getenv("JWT_SECRET")), auth.DefaultTTL)
	login := authHandlers.New(ctx, issuer)
	store := stores.GetRowStore(ctx)

	srv := &http.Server{
		Addr:    *listenAddress,
		Handler: setupRouter(store, issuer, login),
	}

	logrus.WithField("addr", *listenAddress).Info("starting server")
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	logrus.Debug("Server is running in the background")
	waitForShutdown(srv, store)
}
