package db

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
)

var Conn *pgxpool.Pool

// Init connects to Postgres and bootstraps the schema.
func Init() {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s",
			os.Getenv("DB_USER"),
			os.Getenv("DB_PASSWORD"),
			os.Getenv("DB_HOST"),
			os.Getenv("DB_PORT"),
			os.Getenv("DB_NAME"),
		)
	}

	var err error
	Conn, err = pgxpool.New(context.Background(), dsn)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v\n", err)
	}

	if err = Conn.Ping(context.Background()); err != nil {
		log.Fatalf("Unable to ping database: %v\n", err)
	}

	log.Println("Connected to Postgres successfully")

	ensureSchema()
}

// ensureSchema creates the tables and constraints the engines rely on. The
// storage-level checks (non-negative balance, positive hours, reputation
// uniqueness) are a backstop for engine-level validation, not a substitute.
func ensureSchema() {
	ctx := context.Background()
	_, err := Conn.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS users (
            id UUID PRIMARY KEY,
            name TEXT NOT NULL,
            email TEXT NOT NULL UNIQUE,
            password_hash TEXT NOT NULL,
            balance DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (balance >= 0),
            karma INTEGER NOT NULL DEFAULT 0,
            failed_logins INTEGER NOT NULL DEFAULT 0,
            locked_until TIMESTAMP WITH TIME ZONE NULL,
            created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
        );

        CREATE TABLE IF NOT EXISTS services (
            id UUID PRIMARY KEY,
            owner_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
            title TEXT NOT NULL,
            description TEXT,
            kind TEXT NOT NULL CHECK (kind IN ('offer', 'need')),
            duration_hours DOUBLE PRECISION NOT NULL CHECK (duration_hours > 0),
            max_participants INTEGER NOT NULL CHECK (max_participants > 0),
            location TEXT,
            hot_score DOUBLE PRECISION NOT NULL DEFAULT 0,
            created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
        );
        CREATE INDEX IF NOT EXISTS idx_services_hot ON services(hot_score DESC, created_at DESC);

        CREATE TABLE IF NOT EXISTS handshakes (
            id UUID PRIMARY KEY,
            service_id UUID NOT NULL REFERENCES services(id) ON DELETE CASCADE,
            requester_id UUID NOT NULL REFERENCES users(id),
            provider_id UUID NOT NULL REFERENCES users(id),
            status TEXT NOT NULL CHECK (status IN ('pending', 'accepted', 'completed', 'cancelled', 'denied')),
            provisioned_hours DOUBLE PRECISION NOT NULL CHECK (provisioned_hours > 0),
            exact_location TEXT NOT NULL DEFAULT '',
            exact_duration DOUBLE PRECISION NOT NULL DEFAULT 0,
            scheduled_time TIMESTAMP WITH TIME ZONE NULL,
            provider_initiated BOOLEAN NOT NULL DEFAULT FALSE,
            requester_initiated BOOLEAN NOT NULL DEFAULT FALSE,
            created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
            updated_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
        );
        CREATE INDEX IF NOT EXISTS idx_handshakes_service ON handshakes(service_id);
        CREATE INDEX IF NOT EXISTS idx_handshakes_requester ON handshakes(requester_id);
        CREATE INDEX IF NOT EXISTS idx_handshakes_provider ON handshakes(provider_id);

        CREATE TABLE IF NOT EXISTS reputation (
            id UUID PRIMARY KEY,
            handshake_id UUID NOT NULL REFERENCES handshakes(id) ON DELETE CASCADE,
            giver_id UUID NOT NULL REFERENCES users(id),
            receiver_id UUID NOT NULL REFERENCES users(id),
            on_time BOOLEAN NOT NULL DEFAULT FALSE,
            kind BOOLEAN NOT NULL DEFAULT FALSE,
            satisfied BOOLEAN NOT NULL DEFAULT FALSE,
            comment TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
            UNIQUE (handshake_id, giver_id)
        );
        CREATE INDEX IF NOT EXISTS idx_reputation_receiver ON reputation(receiver_id);

        CREATE TABLE IF NOT EXISTS messages (
            id UUID PRIMARY KEY,
            service_id UUID NOT NULL REFERENCES services(id) ON DELETE CASCADE,
            sender_id UUID NOT NULL REFERENCES users(id),
            body TEXT NOT NULL,
            created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
        );
        CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(service_id, created_at);

        CREATE TABLE IF NOT EXISTS transfers (
            id UUID PRIMARY KEY,
            user_id UUID NOT NULL REFERENCES users(id),
            change DOUBLE PRECISION NOT NULL,
            balance_after DOUBLE PRECISION NOT NULL,
            kind TEXT NOT NULL CHECK (kind IN ('debit', 'credit')),
            reference UUID NULL,
            created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
        );
        CREATE INDEX IF NOT EXISTS idx_transfers_user ON transfers(user_id, created_at);
    `)
	if err != nil {
		log.Fatalf("failed to ensure schema: %v", err)
	}
}
