package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"

	"github.com/gorilla/handlers"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/rtc-signal/internal/config"
	"github.com/npezzotti/rtc-signal/internal/database"
	"github.com/npezzotti/rtc-signal/internal/notify"
	"github.com/npezzotti/rtc-signal/internal/server"
)

type SignalApp struct {
	log            *slog.Logger
	db             database.RoomRepository
	srv            *http.Server
	ss             *server.SignalServer
	broker         *notify.Broker
	signingKey     []byte
	allowedOrigins []string
	upgrader       websocket.Upgrader
}

func NewSignalApp(mux *http.ServeMux, logger *slog.Logger, ss *server.SignalServer, db database.RoomRepository, broker *notify.Broker, cfg *config.Config) *SignalApp {
	s := &SignalApp{
		log:            logger,
		db:             db,
		ss:             ss,
		broker:         broker,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			return slices.Contains(s.allowedOrigins, origin)
		},
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("POST /api/session", s.authMiddleware(s.refreshSession))
	mux.HandleFunc("POST /api/rooms", s.authMiddleware(s.createRoom))
	mux.HandleFunc("GET /api/rooms", s.getRoom)
	mux.HandleFunc("POST /api/rooms/enter", s.authMiddleware(s.enterRoom))
	mux.HandleFunc("GET /api/events", s.authMiddleware(s.events))
	mux.HandleFunc("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(s.requestLogger(h))

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *SignalApp) Start() error {
	s.log.Info("starting server", "addr", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *SignalApp) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
