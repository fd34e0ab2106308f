package database

import (
	"context"
	"database/sql"
	"fmt"

)

type PgChatRepository struct {
	conn *sql.DB
}

func NewPgChatRepository(ctx context.Context, dsn string) (*PgChatRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PgChatRepository{conn: db}, nil
}

func (db *PgChatRepository) DB() *sql.DB {
	return db.conn
}

func (db *PgChatRepository) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *PgChatRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
