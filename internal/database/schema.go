package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema lists the tables the service needs.  Every statement is
// idempotent so EnsureSchema can run on each start.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id         VARCHAR(64)  NOT NULL PRIMARY KEY,
		email      VARCHAR(320) NOT NULL,
		name       VARCHAR(255) NOT NULL DEFAULT '',
		image_url  VARCHAR(1024) NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS movies (
		id            VARCHAR(64)  NOT NULL PRIMARY KEY,
		title         VARCHAR(255) NOT NULL,
		overview      TEXT NULL,
		poster_path   VARCHAR(255) NOT NULL DEFAULT '',
		backdrop_path VARCHAR(255) NOT NULL DEFAULT '',
		release_date  VARCHAR(32)  NOT NULL DEFAULT '',
		runtime       INT UNSIGNED NOT NULL DEFAULT 0,
		created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS shows (
		id               CHAR(36)     NOT NULL PRIMARY KEY,
		movie_id         VARCHAR(64)  NOT NULL,
		show_datetime    DATETIME     NOT NULL,
		show_price_cents INT UNSIGNED NOT NULL,
		occupied_seats   JSON         NOT NULL,
		version          INT UNSIGNED NOT NULL DEFAULT 0,
		created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		KEY idx_shows_datetime (show_datetime)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS bookings (
		id           CHAR(36)     NOT NULL PRIMARY KEY,
		user_id      VARCHAR(64)  NOT NULL,
		show_id      CHAR(36)     NOT NULL,
		amount_cents INT UNSIGNED NOT NULL,
		booked_seats JSON         NOT NULL,
		is_paid      TINYINT(1)   NOT NULL DEFAULT 0,
		payment_link VARCHAR(1024) NULL,
		paid_at      DATETIME NULL,
		created_at   DATETIME NOT NULL,
		updated_at   DATETIME NOT NULL,
		KEY idx_bookings_unpaid (is_paid, created_at),
		KEY idx_bookings_user (user_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS reminder_deliveries (
		show_id CHAR(36)    NOT NULL,
		user_id VARCHAR(64) NOT NULL,
		sent_at DATETIME    NOT NULL,
		PRIMARY KEY (show_id, user_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// EnsureSchema creates any missing tables.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
