package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-chatrelay/internal/auth"
	"github.com/npezzotti/go-chatrelay/internal/config"
	"github.com/npezzotti/go-chatrelay/internal/database"
	"github.com/npezzotti/go-chatrelay/internal/receipts"
	"github.com/npezzotti/go-chatrelay/internal/server"
)

type GoChatApp struct {
	log             *log.Logger
	db              database.ChatRepository
	mux             *http.Server
	cs              *server.ChatServer
	auth            *auth.Authenticator
	receipts        *receipts.Tracker
	allowedOrigins  []string
	tokenExpiration time.Duration
}

// NewGoChatApp registers the REST and WebSocket routes on mux. mux may
// already carry other handlers, such as /metrics.
func NewGoChatApp(mux *http.ServeMux, logger *log.Logger, cs *server.ChatServer, db database.ChatRepository, cfg *config.Config) *GoChatApp {
	s := &GoChatApp{
		log:             logger,
		db:              db,
		cs:              cs,
		auth:            auth.NewAuthenticator(cfg.SigningKey, db),
		receipts:        receipts.NewTracker(logger, db),
		allowedOrigins:  cfg.AllowedOrigins,
		tokenExpiration: cfg.TokenExpiration,
	}
	if s.tokenExpiration <= 0 {
		s.tokenExpiration = config.DefaultTokenExpiration
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.HandleFunc("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.HandleFunc("GET /api/users", s.authMiddleware(s.listUsers))
	mux.HandleFunc("GET /api/groups", s.authMiddleware(s.listGroups))
	mux.HandleFunc("POST /api/groups", s.authMiddleware(s.createGroup))
	mux.HandleFunc("GET /api/groups/{groupId}/members", s.authMiddleware(s.listGroupMembers))
	mux.HandleFunc("POST /api/groups/{groupId}/join", s.authMiddleware(s.joinGroup))
	mux.HandleFunc("GET /api/chats/{chatId}/messages", s.authMiddleware(s.getMessages))
	mux.HandleFunc("POST /api/chats/{chatId}/read", s.authMiddleware(s.markRead))
	mux.HandleFunc("GET /api/unread/counts", s.authMiddleware(s.unreadCounts))
	mux.HandleFunc("GET /ws", s.serveWs)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.requestId(h)
	h = handlers.CombinedLoggingHandler(logger.Writer(), h)
	h = s.errorHandler(h)

	s.mux = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *GoChatApp) Handler() http.Handler {
	return s.mux.Handler
}

func (s *GoChatApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *GoChatApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
