// Package auth authenticates connections with signed bearer tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/go-chatrelay/internal/database"
	"github.com/npezzotti/go-chatrelay/internal/types"
)

const (
	userIdClaim = "user-id"
	expClaim    = "exp"

	TokenCookieKey = "token"
	tokenQueryKey  = "token"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// IdentityStore resolves the account behind a verified token.
type IdentityStore interface {
	GetAccountById(ctx context.Context, accountId int) (database.User, error)
}

type Authenticator struct {
	signingKey []byte
	store      IdentityStore
	now        func() time.Time
}

func NewAuthenticator(signingKey []byte, store IdentityStore) *Authenticator {
	return &Authenticator{
		signingKey: signingKey,
		store:      store,
		now:        time.Now,
	}
}

func (a *Authenticator) IssueToken(user types.User, exp time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userIdClaim: user.Id,
		expClaim:    a.now().Add(exp).Unix(),
	})

	return token.SignedString(a.signingKey)
}

// UserIdFromToken verifies the token and returns the user id claim.
func (a *Authenticator) UserIdFromToken(tokenString string) (int, error) {
	if tokenString == "" {
		return 0, fmt.Errorf("%w: missing token", ErrUnauthenticated)
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.signingKey, nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: parse token: %w", ErrUnauthenticated, err)
	}

	if !token.Valid {
		return 0, fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, fmt.Errorf("%w: invalid token claims", ErrUnauthenticated)
	}

	// exp is optional for jwt.MapClaims.Valid, but required here
	if _, ok := claims[expClaim]; !ok {
		return 0, fmt.Errorf("%w: missing exp claim", ErrUnauthenticated)
	}

	userId, ok := claims[userIdClaim].(float64)
	if !ok || userId <= 0 {
		return 0, fmt.Errorf("%w: invalid user id claim", ErrUnauthenticated)
	}

	return int(userId), nil
}

// Authenticate resolves a token to a user. Credential problems are reported
// as ErrUnauthenticated; store failures are returned unchanged.
func (a *Authenticator) Authenticate(ctx context.Context, tokenString string) (types.User, error) {
	userId, err := a.UserIdFromToken(tokenString)
	if err != nil {
		return types.User{}, err
	}

	acc, err := a.store.GetAccountById(ctx, userId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return types.User{}, fmt.Errorf("%w: unknown user %d", ErrUnauthenticated, userId)
		}
		return types.User{}, fmt.Errorf("resolve user: %w", err)
	}

	return types.User{
		Id:           acc.Id,
		Username:     acc.Username,
		EmailAddress: acc.EmailAddress,
		IsOnline:     acc.IsOnline,
		CreatedAt:    acc.CreatedAt,
		UpdatedAt:    acc.UpdatedAt,
	}, nil
}

// TokenFromRequest looks for a credential in the Authorization header, the
// token query parameter and the token cookie, in that order.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}

	if token := r.URL.Query().Get(tokenQueryKey); token != "" {
		return token
	}

	if c, err := r.Cookie(TokenCookieKey); err == nil {
		return c.Value
	}

	return ""
}

func TokenCookie(tokenString string, exp time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     TokenCookieKey,
		Value:    tokenString,
		Path:     "/",
		Expires:  time.Now().Add(exp),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}
