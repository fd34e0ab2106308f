package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/npezzotti/go-chatrelay/internal/auth"
	"github.com/npezzotti/go-chatrelay/internal/config"
	"github.com/npezzotti/go-chatrelay/internal/database"
	"github.com/npezzotti/go-chatrelay/internal/testutil"
	"github.com/npezzotti/go-chatrelay/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// findCookie returns the named cookie set on the response, or nil.
func findCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, cookie := range rr.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

func TestUserId(t *testing.T) {
	tcases := []struct {
		name     string
		ctx      context.Context
		userId   int
		expected bool
	}{
		{
			name:     "no user ID",
			ctx:      context.Background(),
			expected: false,
		},
		{
			name:     "user ID set",
			ctx:      WithUserId(context.Background(), 42),
			userId:   42,
			expected: true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			userId, ok := UserId(tc.ctx)
			assert.Equal(t, tc.expected, ok, "expected UserId to return %v", tc.expected)
			assert.Equal(t, tc.userId, userId, "expected UserId to return %d", tc.userId)
		})
	}
}

func TestRequestId(t *testing.T) {
	assert.Empty(t, RequestId(context.Background()))
	assert.Equal(t, "req-1", RequestId(WithRequestId(context.Background(), "req-1")))
}

func Test_createAccount(t *testing.T) {
	tcases := []struct {
		name           string
		body           any
		expectedStatus int
	}{
		{
			name: "creates a new account",
			body: RegisterRequest{
				Username: "newuser",
				Email:    "newuser@example.com",
				Password: "password",
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "invalid json body",
			body:           "invalid json",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "missing username",
			body: RegisterRequest{
				Email:    "newuser@example.com",
				Password: "password",
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "blank email",
			body: RegisterRequest{
				Username: "newuser",
				Email:    "   ",
				Password: "password",
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "missing password",
			body: RegisterRequest{
				Username: "newuser",
				Email:    "newuser@example.com",
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "email already registered",
			body: RegisterRequest{
				Username: "other",
				Email:    "alice@example.com",
				Password: "password",
			},
			expectedStatus: http.StatusConflict,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			db := database.NewMemoryChatRepository()
			testutil.SeedAccounts(t, db, "alice")
			app := newTestApp(t, db)

			rr := doRequest(t, app, http.MethodPost, "/api/auth/register", "", tc.body)
			assert.Equal(t, tc.expectedStatus, rr.Code)

			if tc.expectedStatus != http.StatusCreated {
				apiErr := decodeApiError(t, rr)
				assert.Equal(t, tc.expectedStatus, apiErr.StatusCode)
				return
			}

			var user types.User
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&user))
			assert.Positive(t, user.Id)
			assert.Equal(t, "newuser", user.Username)
			assert.Equal(t, "newuser@example.com", user.EmailAddress)
			assert.False(t, user.IsOnline)

			acc, err := db.GetAccountByEmail(context.Background(), "newuser@example.com")
			require.NoError(t, err)
			assert.True(t, auth.VerifyPassword(acc.PasswordHash, "password"), "expected password to be hashed with bcrypt")
		})
	}
}

func Test_createAccount_StoreError(t *testing.T) {
	db := &database.MockChatRepository{}
	defer db.AssertExpectations(t)
	db.On("CreateAccount", mock.Anything, mock.Anything).Return(database.User{}, errors.New("db error")).Once()

	app := NewGoChatApp(http.NewServeMux(), testutil.TestLogger(t), nil, db, &config.Config{SigningKey: testSigningKey})

	rr := doRequest(t, app, http.MethodPost, "/api/auth/register", "", RegisterRequest{
		Username: "newuser",
		Email:    "newuser@example.com",
		Password: "password",
	})

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func Test_login(t *testing.T) {
	tcases := []struct {
		name           string
		body           any
		expectedStatus int
	}{
		{
			name:           "valid credentials",
			body:           LoginRequest{Email: "alice@example.com", Password: testutil.TestPassword},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "wrong password",
			body:           LoginRequest{Email: "alice@example.com", Password: "nope"},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "unknown email",
			body:           LoginRequest{Email: "nobody@example.com", Password: testutil.TestPassword},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "invalid json body",
			body:           "{",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			db := database.NewMemoryChatRepository()
			users := testutil.SeedAccounts(t, db, "alice")
			app := newTestApp(t, db)

			rr := doRequest(t, app, http.MethodPost, "/api/auth/login", "", tc.body)
			assert.Equal(t, tc.expectedStatus, rr.Code)

			if tc.expectedStatus != http.StatusOK {
				assert.Nil(t, findCookie(rr, auth.TokenCookieKey), "expected no token cookie")
				return
			}

			var resp LoginResponse
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
			assert.Equal(t, users[0].Id, resp.User.Id)
			assert.Equal(t, "alice", resp.User.Username)
			assert.NotEmpty(t, resp.Token)

			cookie := findCookie(rr, auth.TokenCookieKey)
			require.NotNil(t, cookie, "expected token cookie")
			assert.Equal(t, resp.Token, cookie.Value)
			assert.True(t, cookie.HttpOnly)

			userId, err := app.auth.UserIdFromToken(resp.Token)
			require.NoError(t, err)
			assert.Equal(t, users[0].Id, userId)
		})
	}
}

func Test_session(t *testing.T) {
	db := database.NewMemoryChatRepository()
	users := testutil.SeedAccounts(t, db, "alice")
	app := newTestApp(t, db)

	t.Run("returns the caller", func(t *testing.T) {
		rr := doRequest(t, app, http.MethodGet, "/api/auth/session", tokenFor(t, app, users[0].Id), nil)
		assert.Equal(t, http.StatusOK, rr.Code)

		var user types.User
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&user))
		assert.Equal(t, users[0].Id, user.Id)
		assert.Equal(t, "alice@example.com", user.EmailAddress)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		rr := doRequest(t, app, http.MethodGet, "/api/auth/session", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func Test_logout(t *testing.T) {
	db := database.NewMemoryChatRepository()
	users := testutil.SeedAccounts(t, db, "alice")
	app := newTestApp(t, db)

	rr := doRequest(t, app, http.MethodGet, "/api/auth/logout", tokenFor(t, app, users[0].Id), nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	cookie := findCookie(rr, auth.TokenCookieKey)
	require.NotNil(t, cookie, "expected token cookie to be overwritten")
	assert.Empty(t, cookie.Value)
	assert.Negative(t, cookie.MaxAge)
}
