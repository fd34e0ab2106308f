package testutil

import (
	"context"
	"log"
	"os"
	"strings"
	"testing"

	"github.com/npezzotti/go-chatrelay/internal/auth"
	"github.com/npezzotti/go-chatrelay/internal/database"
	"github.com/stretchr/testify/require"
)

// TestPassword is the password of every account created by SeedAccounts.
const TestPassword = "password"

func TestLogger(t *testing.T) *log.Logger {
	logger := log.New(os.Stdout, "["+t.Name()+"] ", log.LstdFlags|log.Lmicroseconds)
	t.Cleanup(func() {
		logger.SetOutput(os.Stderr)
	})
	return logger
}

// SeedAccounts creates one account per name, with email <name>@example.com
// and TestPassword, and returns them in order.
func SeedAccounts(t *testing.T, db database.ChatRepository, names ...string) []database.User {
	t.Helper()

	hash, err := auth.HashPassword(TestPassword)
	require.NoError(t, err)

	users := make([]database.User, 0, len(names))
	for _, name := range names {
		u, err := db.CreateAccount(context.Background(), database.CreateAccountParams{
			Username:     name,
			EmailAddress: strings.ToLower(name) + "@example.com",
			PasswordHash: hash,
		})
		require.NoError(t, err, "seed account %q", name)
		users = append(users, u)
	}

	return users
}
