package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/npezzotti/go-chatrelay/internal/config"
	"github.com/npezzotti/go-chatrelay/internal/database"
	"github.com/npezzotti/go-chatrelay/internal/server"
	"github.com/npezzotti/go-chatrelay/internal/stats"
	"github.com/npezzotti/go-chatrelay/internal/testutil"
	"github.com/npezzotti/go-chatrelay/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testSigningKey = []byte("test-signing-key")

// newTestChatServer starts a chat server over db and stops it when the
// test ends.
func newTestChatServer(t *testing.T, db database.ChatRepository) *server.ChatServer {
	t.Helper()

	su := &stats.MockStatsUpdater{}
	su.ExpectRegistration()
	su.On("Incr", mock.Anything).Return().Maybe()
	su.On("Decr", mock.Anything).Return().Maybe()

	cs, err := server.NewChatServer(testutil.TestLogger(t), db, su)
	require.NoError(t, err)

	go cs.Run()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		cs.Shutdown(ctx)
	})

	return cs
}

func newTestApp(t *testing.T, db database.ChatRepository) *GoChatApp {
	t.Helper()

	return NewGoChatApp(
		http.NewServeMux(),
		testutil.TestLogger(t),
		newTestChatServer(t, db),
		db,
		&config.Config{
			SigningKey:     testSigningKey,
			AllowedOrigins: []string{"http://localhost:3000"},
		},
	)
}

func tokenFor(t *testing.T, app *GoChatApp, userId int) string {
	t.Helper()

	token, err := app.auth.IssueToken(types.User{Id: userId}, time.Hour)
	require.NoError(t, err)
	return token
}

// doRequest sends a request through the full middleware chain.
func doRequest(t *testing.T, app *GoChatApp, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	buf := &bytes.Buffer{}
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rr := httptest.NewRecorder()
	app.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeApiError(t *testing.T, rr *httptest.ResponseRecorder) ApiError {
	t.Helper()

	var apiErr ApiError
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&apiErr), "failed to decode ApiError response")
	return apiErr
}

func TestNewGoChatApp(t *testing.T) {
	mux := http.NewServeMux()
	logger := testutil.TestLogger(t)
	cs := &server.ChatServer{}
	db := &database.MockChatRepository{}
	cfg := &config.Config{
		ServerAddr:      "localhost:8080",
		DatabaseDSN:     "dsn",
		SigningKey:      []byte("secret"),
		AllowedOrigins:  []string{"http://localhost:3000"},
		TokenExpiration: time.Hour,
	}

	app := NewGoChatApp(mux, logger, cs, db, cfg)

	assert.NotNil(t, app, "expected app to be initialized")
	assert.NotNil(t, app.mux, "expected mux to be initialized")
	assert.NotNil(t, app.auth, "expected authenticator to be set")
	assert.NotNil(t, app.receipts, "expected read tracker to be set")
	assert.Equal(t, logger, app.log, "expected logger to be set")
	assert.Equal(t, db, app.db, "expected db to be set")
	assert.Equal(t, cs, app.cs, "expected chat server to be set")
	assert.Equal(t, cfg.AllowedOrigins, app.allowedOrigins)
	assert.Equal(t, time.Hour, app.tokenExpiration)
	assert.Equal(t, cfg.ServerAddr, app.mux.Addr, "expected server address to match config")
}

func TestNewGoChatApp_DefaultTokenExpiration(t *testing.T) {
	app := NewGoChatApp(http.NewServeMux(), testutil.TestLogger(t), nil, &database.MockChatRepository{}, &config.Config{})

	assert.Equal(t, config.DefaultTokenExpiration, app.tokenExpiration)
}

func TestGoChatApp_CORS(t *testing.T) {
	app := newTestApp(t, database.NewMemoryChatRepository())

	req := httptest.NewRequest(http.MethodOptions, "/api/users", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	req.Header.Set("Access-Control-Request-Headers", "Authorization")

	rr := httptest.NewRecorder()
	app.Handler().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "http://localhost:3000", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))
}
