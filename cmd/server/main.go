package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/npezzotti/go-chatrelay/internal/api"
	"github.com/npezzotti/go-chatrelay/internal/config"
	"github.com/npezzotti/go-chatrelay/internal/database"
	"github.com/npezzotti/go-chatrelay/internal/server"
	"github.com/npezzotti/go-chatrelay/internal/stats"
)

const (
	defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="
	memoryDSN         = "memory://"
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

type repository interface {
	database.ChatRepository
	Close() error
}

var (
	addr            string
	dsn             string
	signingKey      string
	redisURL        string
	tokenExpiration time.Duration
	allowedOrigins  stringSliceFlag
)

func openRepository(ctx context.Context, logger *log.Logger, dsn string) (repository, error) {
	if dsn == memoryDSN {
		logger.Println("using in-memory repository; data is lost on exit")
		return database.NewMemoryChatRepository(), nil
	}

	repo, err := database.NewPgChatRepository(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := database.Migrate(repo.DB()); err != nil {
		repo.Close()
		return nil, err
	}

	return repo, nil
}

func main() {
	// a missing .env file is fine
	_ = godotenv.Load()

	flag.StringVar(&addr, "addr", config.EnvString("CHATRELAY_ADDR", "localhost:8000"), "server address")
	flag.StringVar(&dsn, "dsn", config.EnvString("CHATRELAY_DSN", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"), "database connection string, or memory:// for an in-memory store")
	flag.StringVar(&signingKey, "signing-key", config.EnvString("CHATRELAY_SIGNING_KEY", defaultSigningKey), "base64 encoded signing key")
	flag.StringVar(&redisURL, "redis-url", config.EnvString("CHATRELAY_REDIS_URL", ""), "optional redis url used to mirror presence")
	flag.DurationVar(&tokenExpiration, "token-ttl", config.EnvDuration("CHATRELAY_TOKEN_TTL", config.DefaultTokenExpiration), "lifetime of issued tokens")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	if len(allowedOrigins) == 0 {
		if v := config.EnvString("CHATRELAY_ALLOWED_ORIGINS", ""); v != "" {
			allowedOrigins.Set(v)
		}
	}

	logger := log.New(os.Stderr, "[go-chatrelay] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, dsn, signingKey, redisURL, allowedOrigins, tokenExpiration)
	if err != nil {
		logger.Fatal("config:", err)
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelStart()

	repo, err := openRepository(startCtx, logger, cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			logger.Println("db close:", err)
		}
	}()

	var mirrors []server.StatusWriter
	if cfg.RedisURL != "" {
		rdb, err := database.NewRedisClient(startCtx, cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis:", err)
		}
		defer rdb.Close()
		mirrors = append(mirrors, database.NewRedisPresenceMirror(rdb))
		logger.Println("mirroring presence to redis")
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	chatServer, err := server.NewChatServer(logger, repo, statsUpdater, mirrors...)
	if err != nil {
		logger.Fatal("new chat server:", err)
	}

	if err := chatServer.ResetPresence(startCtx); err != nil {
		logger.Fatal("reset presence:", err)
	}

	srv := api.NewGoChatApp(mux, logger, chatServer, repo, cfg)

	statsUpdater.Run()

	go chatServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Println("HTTP server shutdown:", err)
	}

	logger.Println("shutting down chat server...")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Println("chat server shutdown:", err)
	}
	// every connection has been unregistered; the repository and redis
	// are closed by the deferred calls after this
	statsUpdater.Stop()

	logger.Println("shutdown complete")
}
