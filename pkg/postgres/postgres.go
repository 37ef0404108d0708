package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ds124wfegd/roombooker/config"

	_ "github.com/lib/pq"
)

func NewPostgresDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logrus.WithFields(logrus.Fields{"host": cfg.Host, "dbname": cfg.DBName}).Info("Successfully connected to PostgreSQL")
	return db, nil
}

// Migrations are applied in order and are safe to re-run.
var Migrations = []string{
	`CREATE EXTENSION IF NOT EXISTS btree_gist`,

	`CREATE TABLE IF NOT EXISTS rooms (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(255) UNIQUE NOT NULL,
		capacity INTEGER NOT NULL CHECK (capacity > 0),
		price_per_hour NUMERIC(12, 2) NOT NULL CHECK (price_per_hour >= 0),
		open_time TIME NOT NULL,
		close_time TIME NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'available'
			CHECK (status IN ('available', 'occupied', 'maintenance')),
		amenities TEXT[] NOT NULL DEFAULT '{}',
		location JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS bookings (
		id BIGSERIAL PRIMARY KEY,
		room_id BIGINT NOT NULL REFERENCES rooms(id),
		requester_id BIGINT NOT NULL,
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ NOT NULL,
		duration_hours INTEGER NOT NULL CHECK (duration_hours BETWEEN 1 AND 24),
		status VARCHAR(20) NOT NULL DEFAULT 'active'
			CHECK (status IN ('active', 'cancelled', 'completed')),
		total_price NUMERIC(12, 2) NOT NULL,
		payment_status VARCHAR(20) NOT NULL DEFAULT 'pending'
			CHECK (payment_status IN ('pending', 'paid', 'failed', 'refunded')),
		notes JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CHECK (start_time < end_time)
	)`,

	// Backstop for the room row lock taken by TryReserve
	`DO $$
	BEGIN
		IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'bookings_no_overlap') THEN
			ALTER TABLE bookings ADD CONSTRAINT bookings_no_overlap
				EXCLUDE USING gist (room_id WITH =, tstzrange(start_time, end_time, '[)') WITH &&)
				WHERE (status = 'active');
		END IF;
	END $$`,

	`CREATE TABLE IF NOT EXISTS payments (
		id BIGSERIAL PRIMARY KEY,
		booking_id BIGINT NOT NULL REFERENCES bookings(id),
		amount NUMERIC(12, 2) NOT NULL CHECK (amount >= 0),
		method VARCHAR(32) NOT NULL,
		status VARCHAR(20) NOT NULL
			CHECK (status IN ('pending', 'paid', 'failed', 'refunded')),
		transaction_id VARCHAR(255),
		intent_id VARCHAR(255) UNIQUE,
		proof_ref VARCHAR(1024),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS processed_events (
		event_id VARCHAR(255) PRIMARY KEY,
		processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	// Indexes
	`CREATE INDEX IF NOT EXISTS idx_bookings_room_status ON bookings(room_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_requester ON bookings(requester_id)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_active_end ON bookings(end_time) WHERE status = 'active'`,
	`CREATE INDEX IF NOT EXISTS idx_payments_booking ON payments(booking_id)`,
	`CREATE INDEX IF NOT EXISTS idx_payments_pending ON payments(created_at) WHERE status = 'pending'`,
}

func RunMigrations(db *sql.DB) error {
	for i, migration := range Migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("failed to execute migration %d: %w", i, err)
		}
	}

	logrus.Info("Database migrations completed successfully")
	return nil
}
