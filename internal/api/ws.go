package api

import (
	"errors"
	"net/http"
	"slices"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatrelay/internal/auth"
	"github.com/npezzotti/go-chatrelay/internal/server"
)

func (s *GoChatApp) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				// non-browser clients
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
}

// serveWs authenticates the handshake before upgrading it. A rejected
// handshake never reaches the presence registry.
func (s *GoChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	user, err := s.auth.Authenticate(r.Context(), auth.TokenFromRequest(r))
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, auth.ErrUnauthenticated) {
			errResp = NewUnauthorizedError()
		} else {
			errResp = NewServiceUnavailableError(err)
		}
		s.log.Printf("ws handshake rejected: %v", err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(user, conn, s.cs, s.log)
	s.cs.RegisterClient(r.Context(), client)
	go client.Write()
	go client.Read()
}
