package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"codocs/collab"
	"codocs/config"
	"codocs/core"
	"codocs/handlers/api/documents"
	"codocs/handlers/auth"
	"codocs/handlers/websocket"
	authMiddleware "codocs/middleware"
	"codocs/permissions"
	"codocs/stores"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func setupRouter(store core.DocumentStore, cache *collab.Cache, gate *permissions.Resolver, sessions *websocket.Sessions) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length", "X-CSRF-Token", "Token", "session", "Origin", "Host", "Connection", "Accept-Encoding", "Accept-Language", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))

	r.Route("/api/documents", func(r chi.Router) {
		r.Use(authMiddleware.AuthJWT)

		r.Post("/", documents.HandleCreate(store))
		r.Get("/owned", documents.HandleListOwned(store))
		r.Get("/collaborations", documents.HandleListCollaborations(store))
		r.Route("/{docID}", func(r chi.Router) {
			r.Get("/", documents.HandleGet(store, cache, gate))
			r.Put("/", documents.HandleUpdate(sessions))
			r.Post("/collaborators", documents.HandleSetCollaborators(store, gate))
			r.Get("/versions", documents.HandleListVersions(store, gate))
		})
	})

	r.Route("/auth", func(r chi.Router) {
		r.Get("/login", auth.HandleLogin)
		r.Get("/callback", auth.HandleCallback)
	})

	return r
}

func waitForShutdown(shutdown func()) {
	exit := make(chan struct{})
	signalC := make(chan os.Signal, 1)

	signal.Notify(signalC, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		for s := range signalC {
			switch s {
			case os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT:
				close(exit)
				return
			}
		}
	}()

	<-exit
	logrus.Info("Shutting down...")
	shutdown()
	os.Exit(0)
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

	auth.InitAuth()
	store := stores.GetStore()
	syncCfg := config.LoadSync()

	cache := collab.NewCache(store)
	gate := permissions.NewResolver(store)
	sessions := websocket.NewSessions(websocket.SessionsConfig{
		Cache:       cache,
		Gate:        gate,
		JoinTimeout: syncCfg.JoinTimeout,
	})

	scheduler := collab.NewScheduler(cache, store, collab.SchedulerConfig{
		QuietPeriod:   syncCfg.FlushQuietPeriod,
		MaxWindow:     syncCfg.FlushMaxWindow,
		IdleThreshold: syncCfg.IdleThreshold,
		SweepInterval: syncCfg.SweepInterval,
	}, sessions.RoomCount)
	scheduler.Start()

	srv := websocket.SetupSocketIO(sessions)

	r := setupRouter(store, cache, gate, sessions)
	r.Mount("/socket.io/", srv.ServeHandler(nil))

	logrus.WithField("addr", *listenAddress).Info("starting server")
	go func() {
		if err := http.ListenAndServe(*listenAddress, r); err != nil {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	logrus.Debug("Server is running in the background")
	waitForShutdown(func() {
		// Flush dirty documents before the process exits.
		scheduler.Close()
		srv.Close(nil)
	})
}
