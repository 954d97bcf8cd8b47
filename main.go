package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"collab-server/collab"
	"collab-server/handlers/api/documents"
	"collab-server/handlers/auth"
	authMiddleware "collab-server/middleware"
	"collab-server/stores"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func setupRouter(store stores.Store, hub *collab.Hub) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length", "Origin", "Host", "Connection", "Accept-Encoding", "Accept-Language", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))

	// The collaboration surface: one room per document id.
	r.Get("/collab/{documentID}", collab.Handle(hub))

	r.Get("/api/rooms", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, hub.Snapshot())
	})

	r.Route("/api/v2", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if auth.Enabled() {
				r.Use(authMiddleware.AuthJWT)
			}
			r.Route("/documents/{id}", func(r chi.Router) {
				r.Get("/", documents.HandleGet(store))
			})
		})
	})

	if auth.Enabled() {
		r.Post("/auth/token", auth.HandleMintToken())
	}

	return r
}

func waitForShutdown(hub *collab.Hub) {
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
	// Every room flushes its content before the process exits.
	hub.Shutdown()
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

	auth.Init()
	store := stores.GetStore()
	hub := collab.NewHub(store, store, collab.DefaultConfig())

	r := setupRouter(store, hub)

	logrus.WithField("addr", *listenAddress).Info("starting server")
	go func() {
		if err := http.ListenAndServe(*listenAddress, r); err != nil {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	logrus.Debug("Server is running in the background")
	waitForShutdown(hub)
}
